// Package pipeline evaluates L1 output submissions: parse, type check,
// signatures, schema validation and persistence, in that order, with every
// outcome recorded in the iteration registry.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"evolver/internal/canonical"
	"evolver/internal/dsl"
	"evolver/internal/metrics"
	"evolver/internal/registry"
	"evolver/internal/schema"
	"evolver/internal/signature"
	"evolver/internal/trace"
)

// Submission is one untrusted L1 output. It is not modified by Evaluate.
type Submission struct {
	Raw []byte
	// IterationID is optional; iteration.id from the document is used when
	// it is empty.
	IterationID string
	ReceivedAt  time.Time
}

// Result describes a finished evaluation. On failure only IterationID,
// Status, Stage, Dir, Artifacts and Trace are meaningful.
type Result struct {
	EvaluationID string
	IterationID  string
	Status       registry.Status
	Stage        string

	// Document is the validated document with signatures attached.
	Document  map[string]any
	Envelope  *dsl.Envelope
	Report    dsl.SignatureReport
	Dir       string
	Artifacts map[string]string
	Summary   *registry.Summary
	Trace     trace.EvaluationTrace
}

type Options struct {
	// Validator is required.
	Validator *schema.Validator
	// SchemaDir is reported in validation.report.json.
	SchemaDir string
	// Registry enables iteration directories and the audit trail. When nil
	// the pipeline only validates.
	Registry *registry.Registry
	Hasher   *signature.Hasher
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	// Sink receives every trace event in addition to Result.Trace.
	Sink trace.Sink
}

type Pipeline struct {
	validator *schema.Validator
	schemaDir string
	registry  *registry.Registry
	hasher    *signature.Hasher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	sink      trace.Sink
}

func New(opts Options) (*Pipeline, error) {
	if opts.Validator == nil {
		return nil, errors.New("pipeline: schema validator is required")
	}
	p := &Pipeline{
		validator: opts.Validator,
		schemaDir: opts.SchemaDir,
		registry:  opts.Registry,
		hasher:    opts.Hasher,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		sink:      opts.Sink,
	}
	if p.hasher == nil {
		p.hasher = signature.NewHasher()
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p, nil
}

// evaluation is the per-call state of Evaluate.
type evaluation struct {
	p       *Pipeline
	ctx     context.Context
	m       machine
	rec     *trace.Recorder
	logger  *zap.Logger
	res     Result
	dir     *registry.IterationDir
	stamp   *string
	entered time.Time
}

// Evaluate runs sub through the pipeline. On failure the error is a
// *FailedError, except for *MissingIdentifierError and
// *InvalidIdentifierError which are returned as is and never recorded.
//
// ctx is only consulted by the optional SQLite index.
func (p *Pipeline) Evaluate(ctx context.Context, sub Submission) (Result, error) {
	ev := &evaluation{
		p:   p,
		ctx: ctx,
		m:   machine{state: StateReceived},
		rec: trace.NewRecorder(),
	}
	ev.res.EvaluationID = uuid.NewString()
	ev.logger = p.logger.With(zap.String("evaluation_id", ev.res.EvaluationID))
	if !sub.ReceivedAt.IsZero() {
		ev.logger = ev.logger.With(zap.Time("received_at", sub.ReceivedAt))
	}
	ev.res.IterationID = sub.IterationID

	res, err := ev.run(sub)
	res.Trace = ev.rec.Trace(res.IterationID)
	return res, err
}

func (ev *evaluation) run(sub Submission) (Result, error) {
	if sub.IterationID != "" {
		if err := registry.ValidateIterationID(sub.IterationID); err != nil {
			return ev.res, &InvalidIdentifierError{ID: sub.IterationID, Cause: err}
		}
		if err := ev.allocate(sub.IterationID); err != nil {
			return ev.failAt(StagePersist, err)
		}
	}

	if err := ev.enter(StateParseJSON); err != nil {
		return ev.res, err
	}
	parsed, err := canonical.ParseJSON(sub.Raw)
	if err != nil {
		return ev.fail(fmt.Errorf("Final output is not valid JSON: %w", err))
	}

	if err := ev.enter(StateTypeCheck); err != nil {
		return ev.res, err
	}
	doc, ok := parsed.(map[string]any)
	if !ok {
		return ev.fail(&TypeError{Got: fmt.Sprintf("%T", parsed)})
	}

	iterationObj, _ := doc["iteration"].(map[string]any)
	if ev.res.IterationID == "" {
		id, _ := iterationObj["id"].(string)
		if id == "" {
			ev.logger.Warn("evaluation rejected: no iteration id")
			return ev.res, &MissingIdentifierError{}
		}
		if err := registry.ValidateIterationID(id); err != nil {
			return ev.res, &InvalidIdentifierError{ID: id, Cause: err}
		}
		ev.res.IterationID = id
		if err := ev.allocate(id); err != nil {
			return ev.failAt(StagePersist, err)
		}
	}
	if ts, ok := iterationObj["timestamp_utc"].(string); ok {
		ev.stamp = &ts
	}
	if ev.dir != nil {
		if err := ev.dir.WriteJSON(registry.RawFile, doc); err != nil {
			return ev.failAt(StagePersist, err)
		}
		ev.saved(registry.RawFile)
	}

	if err := ev.enter(StateComputeSignatures); err != nil {
		return ev.res, err
	}
	signed, err := ev.p.hasher.Compute(doc)
	if err != nil {
		return ev.fail(err)
	}
	ev.res.Report = signed.Report
	ev.p.metrics.AddSignatures(signature.KindHypothesis, len(signed.Report.Signatures.Hypotheses))
	ev.p.metrics.AddSignatures(signature.KindGroup, len(signed.Report.Signatures.Groups))
	ev.p.metrics.AddSignatures(signature.KindTheory, len(signed.Report.Signatures.Theories))

	if err := ev.enter(StateSchemaValidate); err != nil {
		return ev.res, err
	}
	if err := ev.p.validator.Validate(signed.Document); err != nil {
		return ev.fail(err)
	}
	encoded, err := json.Marshal(signed.Document)
	if err != nil {
		return ev.fail(&EnvelopeError{Cause: err})
	}
	env, err := dsl.DecodeEnvelope(encoded)
	if err != nil {
		return ev.fail(&EnvelopeError{Cause: err})
	}
	ev.res.Document = signed.Document
	ev.res.Envelope = env

	if err := ev.enter(StatePersist); err != nil {
		return ev.res, err
	}
	if ev.dir != nil {
		report := registry.ValidatedReport(ev.res.IterationID, ev.p.validator.Root(), ev.p.schemaDir)
		if err := ev.dir.WriteJSON(registry.ValidatedFile, signed.Document); err != nil {
			return ev.fail(err)
		}
		if err := ev.dir.WriteJSON(registry.ReportFile, report); err != nil {
			return ev.fail(err)
		}
		ev.saved(registry.ValidatedFile, registry.ReportFile)

		ev.res.Artifacts = ev.dir.ValidatedArtifacts()
		sum, err := ev.p.registry.Record(ev.ctx, registry.Entry{
			IterID:       ev.res.IterationID,
			TimestampUTC: ev.stamp,
			Status:       registry.StatusValidated,
			Artifacts:    ev.res.Artifacts,
		})
		if err != nil {
			return ev.fail(err)
		}
		ev.res.Summary = &sum
	}

	if err := ev.enter(StateRegistered); err != nil {
		return ev.res, err
	}
	ev.res.Status = registry.StatusValidated
	trace.SafeRecord(ev, trace.Event{Kind: trace.EventOutcome, Reason: string(registry.StatusValidated)})
	ev.p.metrics.ObserveEvaluation(string(registry.StatusValidated), "")
	ev.logger.Info("evaluation validated",
		zap.String("iteration_id", ev.res.IterationID),
		zap.Int("hypothesis_signatures", len(signed.Report.Signatures.Hypotheses)),
		zap.Int("group_signatures", len(signed.Report.Signatures.Groups)),
		zap.Int("theory_signatures", len(signed.Report.Signatures.Theories)))
	return ev.res, nil
}

// Record forwards to the per-evaluation recorder and the configured sink.
func (ev *evaluation) Record(e trace.Event) {
	ev.rec.Record(e)
	trace.SafeRecord(ev.p.sink, e)
}

func (ev *evaluation) allocate(iterID string) error {
	if ev.p.registry == nil {
		return nil
	}
	dir, err := ev.p.registry.Artifacts.Allocate(iterID)
	if err != nil {
		return err
	}
	ev.dir = dir
	ev.res.Dir = dir.Path
	return nil
}

// enter completes the current state and moves to next.
func (ev *evaluation) enter(next State) error {
	prev := ev.m.state
	if err := ev.m.transition(prev, next); err != nil {
		return err
	}
	now := time.Now()
	if prev != StateReceived {
		ev.p.metrics.ObserveStage(string(prev), now.Sub(ev.entered))
		trace.SafeRecord(ev, trace.Event{Kind: trace.EventStageCompleted, Stage: string(prev)})
	}
	ev.entered = now
	if !IsTerminal(next) {
		trace.SafeRecord(ev, trace.Event{Kind: trace.EventStageEntered, Stage: string(next)})
	}
	ev.logger.Debug("stage transition", zap.String("from", string(prev)), zap.String("to", string(next)))
	return nil
}

func (ev *evaluation) saved(names ...string) {
	trace.SafeRecord(ev, trace.Event{Kind: trace.EventArtifactsSaved, Artifacts: names})
}

// fail moves the evaluation to FAILED and records the failure when an
// iteration directory exists.
func (ev *evaluation) fail(cause error) (Result, error) {
	return ev.failAt(stageOf(ev.m.state), cause)
}

func (ev *evaluation) failAt(stage string, cause error) (Result, error) {
	from := ev.m.state
	_ = ev.m.transition(from, StateFailed)

	reason := reasonCode(cause)
	trace.SafeRecord(ev, trace.Event{Kind: trace.EventStageFailed, Stage: string(from), Reason: reason})
	ev.p.metrics.ObserveEvaluation(string(registry.StatusFailed), stage)

	ev.res.Status = registry.StatusFailed
	ev.res.Stage = stage
	ev.res.Document = nil
	ev.res.Envelope = nil
	failed := &FailedError{IterationID: ev.res.IterationID, Stage: stage, Err: cause}

	fields := []zap.Field{
		zap.String("iteration_id", ev.res.IterationID),
		zap.String("stage", stage),
		zap.String("reason", reason),
		zap.Error(cause),
	}
	if ev.dir == nil {
		ev.logger.Warn("evaluation failed", fields...)
		return ev.res, failed
	}
	// The log already holds this iteration; a second entry would contradict it.
	var appended *registry.AppendedError
	if errors.As(cause, &appended) {
		failed.Recorded = true
		ev.logger.Error("evaluation failed after its registry entry was appended",
			append(fields, zap.Int("registry_seq", appended.Seq))...)
		return ev.res, failed
	}

	// A stamp is only known once the document is an object.
	stamp := ev.stamp
	if stage == StageJSONParse || stage == StageTypeCheck {
		stamp = nil
	}
	message := cause.Error()
	if err := ev.dir.WriteText(registry.ErrorFile, message); err != nil {
		ev.logger.Error("failed to write error artifact", zap.Error(err))
	}
	if err := ev.dir.WriteJSON(registry.ReportFile, registry.FailedReport(ev.res.IterationID, stage, message)); err != nil {
		ev.logger.Error("failed to write validation report", zap.Error(err))
	}
	ev.res.Artifacts = ev.dir.FailedArtifacts()

	sum, err := ev.p.registry.Record(ev.ctx, registry.Entry{
		IterID:       ev.res.IterationID,
		TimestampUTC: stamp,
		Status:       registry.StatusFailed,
		Stage:        stage,
		Error:        message,
		Artifacts:    ev.res.Artifacts,
	})
	if err != nil {
		ev.logger.Error("failed to record evaluation failure", append(fields, zap.NamedError("record_error", err))...)
		return ev.res, failed
	}
	failed.Recorded = true
	ev.res.Summary = &sum
	trace.SafeRecord(ev, trace.Event{Kind: trace.EventOutcome, Reason: string(registry.StatusFailed)})
	ev.logger.Warn("evaluation failed", fields...)
	return ev.res, failed
}
