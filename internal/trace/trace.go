package trace

import (
	"errors"
	"fmt"
	"sort"

	"evolver/internal/canonical"
)

// EvaluationTrace is the deterministic record of one pipeline evaluation.
//
// Invariants:
//   - Events carry logical transitions only: no timestamps, no error text,
//     no absolute paths.
//   - Canonical order is Seq order; Seq is assigned by the Recorder.
//   - Two evaluations of the same submission against the same schema set
//     produce byte-identical canonical traces.
//
// The trace is observational only and never affects evaluation behavior.
type EvaluationTrace struct {
	IterationID string
	Events      []Event
}

// EventKind is the stable discriminator of an Event. The string values are
// part of the canonical bytes; do not rename.
type EventKind string

const (
	EventStageEntered   EventKind = "StageEntered"
	EventStageCompleted EventKind = "StageCompleted"
	EventStageFailed    EventKind = "StageFailed"
	EventArtifactsSaved EventKind = "ArtifactsSaved"
	EventOutcome        EventKind = "OutcomeRecorded"
)

// Event is a single logical transition.
type Event struct {
	Seq  int
	Kind EventKind
	// Stage is the pipeline state the event refers to.
	Stage string
	// Reason is a stable reason code (an error class or an outcome status).
	Reason string
	// Artifacts lists artifact file names, never paths.
	Artifacts []string
}

// Validate checks basic invariants and returns a descriptive error.
func (t *EvaluationTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	seen := make(map[int]bool, len(t.Events))
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.Seq <= 0 {
			return fmt.Errorf("events[%d].seq must be positive", i)
		}
		if seen[e.Seq] {
			return fmt.Errorf("events[%d].seq %d is duplicated", i, e.Seq)
		}
		seen[e.Seq] = true
		if isStageEvent(e.Kind) && e.Stage == "" {
			return fmt.Errorf("events[%d].stage is required for kind %q", i, e.Kind)
		}
		for j, a := range e.Artifacts {
			if a == "" {
				return fmt.Errorf("events[%d].artifacts[%d] is empty", i, j)
			}
		}
	}
	return nil
}

func isStageEvent(kind EventKind) bool {
	switch kind {
	case EventStageEntered, EventStageCompleted, EventStageFailed:
		return true
	default:
		return false
	}
}

// Canonicalize sorts events by Seq, sorts artifact lists and normalizes
// empty lists to nil.
func (t *EvaluationTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Artifacts) == 0 {
			t.Events[i].Artifacts = nil
			continue
		}
		art := make([]string, len(t.Events[i].Artifacts))
		copy(art, t.Events[i].Artifacts)
		sort.Strings(art)
		t.Events[i].Artifacts = art
	}
	sort.SliceStable(t.Events, func(i, j int) bool {
		return t.Events[i].Seq < t.Events[j].Seq
	})
}

// CanonicalJSON returns the canonical JSON encoding of the trace. It works
// on a copy, so the caller's slices are not mutated.
func (t EvaluationTrace) CanonicalJSON() ([]byte, error) {
	c := EvaluationTrace{IterationID: t.IterationID}
	c.Events = make([]Event, len(t.Events))
	copy(c.Events, t.Events)
	c.Canonicalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return canonical.JSON(c.tree())
}

// Hash returns the sha256 hex digest of the canonical JSON bytes.
func (t EvaluationTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// tree maps the trace onto plain JSON values, omitting empty optional fields.
func (t EvaluationTrace) tree() map[string]any {
	events := make([]any, 0, len(t.Events))
	for _, e := range t.Events {
		m := map[string]any{"seq": e.Seq, "kind": string(e.Kind)}
		if e.Stage != "" {
			m["stage"] = e.Stage
		}
		if e.Reason != "" {
			m["reason"] = e.Reason
		}
		if len(e.Artifacts) > 0 {
			arts := make([]any, len(e.Artifacts))
			for i, a := range e.Artifacts {
				arts[i] = a
			}
			m["artifacts"] = arts
		}
		events = append(events, m)
	}
	out := map[string]any{"events": events}
	if t.IterationID != "" {
		out["iteration_id"] = t.IterationID
	}
	return out
}
