package trace

import (
	"slices"
	"sync"
)

// Sink receives stage events as an evaluation moves through the pipeline.
// An evaluation's outcome never depends on a sink: implementations must not
// block, and callers go through SafeRecord.
type Sink interface {
	Record(event Event)
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Record(Event) {}

// SafeRecord hands event to s. A nil sink is skipped and a panicking sink
// is ignored.
func SafeRecord(s Sink, event Event) {
	if s == nil {
		return
	}
	defer func() { _ = recover() }()
	s.Record(event)
}

// Recorder keeps the events of one evaluation in memory. Events are
// numbered 1, 2, ... in the order Record sees them; any Seq set by the
// caller is replaced.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	event.Seq = len(r.events) + 1
	event.Artifacts = slices.Clone(event.Artifacts)
	r.events = append(r.events, event)
}

// Snapshot copies the events recorded so far.
func (r *Recorder) Snapshot() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Trace returns the canonical trace of iterationID. Later calls to Record
// do not change it.
func (r *Recorder) Trace(iterationID string) EvaluationTrace {
	tr := EvaluationTrace{IterationID: iterationID, Events: r.Snapshot()}
	tr.Canonicalize()
	return tr
}
