package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evolver/internal/metrics"
	"evolver/internal/registry"
	"evolver/internal/schema"
	"evolver/internal/trace"
	"evolver/schemas"
)

type fixture struct {
	base     string
	registry *registry.Registry
	pipeline *Pipeline
}

func newFixture(t *testing.T, withArtifacts bool, opts ...func(*Options)) *fixture {
	t.Helper()
	v, err := schema.Load(schemas.L1(), schemas.RootL1, schema.Options{})
	require.NoError(t, err)

	f := &fixture{base: t.TempDir()}
	o := Options{Validator: v, SchemaDir: "embedded"}
	if withArtifacts {
		f.registry, err = registry.Open(registry.Options{
			IterationsDir: filepath.Join(f.base, "iterations"),
			LogPath:       filepath.Join(f.base, "iterations", "index.json"),
			SummaryPath:   filepath.Join(f.base, "state", "summary.json"),
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = f.registry.Close() })
		o.Registry = f.registry
	}
	for _, fn := range opts {
		fn(&o)
	}
	f.pipeline, err = New(o)
	require.NoError(t, err)
	return f
}

func validEnvelope(t *testing.T) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", "valid_envelope.json"))
	require.NoError(t, err)
	return b
}

// mutate decodes the valid fixture, applies fn and re-encodes it.
func mutate(t *testing.T, fn func(doc map[string]any)) []byte {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(validEnvelope(t), &doc))
	fn(doc)
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	return b
}

func (f *fixture) entries(t *testing.T) []registry.Entry {
	t.Helper()
	entries, err := f.registry.Log.Entries()
	require.NoError(t, err)
	return entries
}

func TestEvaluate_InvalidJSONWithCallerIDIsRecorded(t *testing.T) {
	f := newFixture(t, true)

	res, err := f.pipeline.Evaluate(context.Background(), Submission{Raw: []byte("not json"), IterationID: "iter-bad"})
	var fe *FailedError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, StageJSONParse, fe.Stage)
	assert.True(t, fe.Recorded)
	assert.True(t, strings.HasPrefix(err.Error(), "Final output is not valid JSON: "), err.Error())
	assert.Equal(t, registry.StatusFailed, res.Status)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "iter-bad", e.IterID)
	assert.Nil(t, e.TimestampUTC)
	assert.Equal(t, StageJSONParse, e.Stage)
	assert.Equal(t, err.Error(), e.Error)
	assert.Equal(t, res.Dir, e.Artifacts["iteration_dir"])
	assert.Contains(t, e.Artifacts, registry.ErrorFile)
	assert.Contains(t, e.Artifacts, registry.ReportFile)
	assert.NotContains(t, e.Artifacts, registry.RawFile)

	msg, err := os.ReadFile(filepath.Join(res.Dir, registry.ErrorFile))
	require.NoError(t, err)
	assert.Equal(t, e.Error, string(msg))

	var report registry.Report
	raw, err := os.ReadFile(filepath.Join(res.Dir, registry.ReportFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, registry.FailedReport("iter-bad", StageJSONParse, e.Error), report)

	sum, err := f.registry.Summary.Load()
	require.NoError(t, err)
	assert.EqualValues(t, 1, sum.TotalIterations)
	assert.Equal(t, registry.StatusFailed, sum.LastStatus)
}

func TestEvaluate_InvalidJSONWithoutIDIsNotRecorded(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.pipeline.Evaluate(context.Background(), Submission{Raw: []byte("{")})
	var fe *FailedError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, StageJSONParse, fe.Stage)
	assert.False(t, fe.Recorded)
	assert.NoFileExists(t, f.registry.Log.Path())
	assert.NoDirExists(t, filepath.Join(f.base, "iterations"))
}

func TestEvaluate_NonObjectIsTypeCheckFailure(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.pipeline.Evaluate(context.Background(), Submission{Raw: []byte(`[1, 2]`), IterationID: "iter-arr"})
	var fe *FailedError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, StageTypeCheck, fe.Stage)
	var te *TypeError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, "Final output must be a JSON object", err.Error())

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].TimestampUTC)
	assert.Equal(t, StageTypeCheck, entries[0].Stage)
}

func TestEvaluate_MissingIdentifier(t *testing.T) {
	f := newFixture(t, true)
	raw := mutate(t, func(doc map[string]any) {
		delete(doc["iteration"].(map[string]any), "id")
	})

	_, err := f.pipeline.Evaluate(context.Background(), Submission{Raw: raw})
	var me *MissingIdentifierError
	require.True(t, errors.As(err, &me), "got %v", err)
	assert.Equal(t, "iteration_id is required (either argument or iteration.id in JSON)", err.Error())
	assert.NoFileExists(t, f.registry.Log.Path())
}

func TestEvaluate_InvalidCallerIdentifier(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.pipeline.Evaluate(context.Background(), Submission{Raw: validEnvelope(t), IterationID: "../escape"})
	var ie *InvalidIdentifierError
	require.True(t, errors.As(err, &ie), "got %v", err)
	assert.ErrorIs(t, err, registry.ErrInvalidIterationID)
	assert.NoFileExists(t, f.registry.Log.Path())
}

func TestEvaluate_ValidEnvelope(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	res, err := f.pipeline.Evaluate(ctx, Submission{Raw: validEnvelope(t)})
	require.NoError(t, err)
	assert.Equal(t, registry.StatusValidated, res.Status)
	assert.Equal(t, "iter-0001", res.IterationID)
	assert.NotEmpty(t, res.EvaluationID)
	require.NotNil(t, res.Envelope)
	assert.Equal(t, "iter-0001", res.Envelope.Iteration.ID)

	sigs := res.Report.Signatures
	require.Len(t, sigs.Hypotheses, 1)
	require.Len(t, sigs.Groups, 1)
	require.Len(t, sigs.Theories, 1)
	assert.Equal(t, "berlin", sigs.Groups[0].Name)
	assert.Len(t, sigs.Groups[0].GroupSignature, 64)

	for _, name := range []string{registry.RawFile, registry.ValidatedFile, registry.ReportFile} {
		assert.FileExists(t, filepath.Join(res.Dir, name))
	}
	assert.NoFileExists(t, filepath.Join(res.Dir, registry.ErrorFile))

	// The raw artifact is the document as submitted, without signatures.
	raw, err := os.ReadFile(filepath.Join(res.Dir, registry.RawFile))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "signature_report")
	validated, err := os.ReadFile(filepath.Join(res.Dir, registry.ValidatedFile))
	require.NoError(t, err)
	assert.Contains(t, string(validated), sigs.Groups[0].GroupSignature)

	var report registry.Report
	b, err := os.ReadFile(filepath.Join(res.Dir, registry.ReportFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &report))
	assert.Equal(t, registry.ValidatedReport("iter-0001", schemas.RootL1, "embedded"), report)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	e := entries[0]
	require.NotNil(t, e.TimestampUTC)
	assert.Equal(t, "2026-03-14T09:26:53Z", *e.TimestampUTC)
	assert.Equal(t, registry.StatusValidated, e.Status)
	assert.Empty(t, e.Stage)
	for _, k := range []string{"iteration_dir", "raw", "validated", "validation_report"} {
		assert.Contains(t, e.Artifacts, k)
	}
	require.NotNil(t, res.Summary)
	assert.EqualValues(t, 1, res.Summary.TotalIterations)

	again, err := f.pipeline.Evaluate(ctx, Submission{Raw: validEnvelope(t)})
	require.NoError(t, err)
	assert.EqualValues(t, 2, again.Summary.TotalIterations)
	assert.Equal(t, res.Report, again.Report)
	assert.Len(t, f.entries(t), 2)
}

func TestEvaluate_TimestampWithoutZoneIsAccepted(t *testing.T) {
	f := newFixture(t, true)
	raw := mutate(t, func(doc map[string]any) {
		doc["iteration"].(map[string]any)["timestamp_utc"] = "2026-03-14T09:26:53"
	})

	res, err := f.pipeline.Evaluate(context.Background(), Submission{Raw: raw})
	require.NoError(t, err)
	assert.Equal(t, registry.StatusValidated, res.Status)
	require.NotNil(t, res.Envelope)
	assert.Equal(t, "2026-03-14T09:26:53", res.Envelope.Iteration.TimestampUTC)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].TimestampUTC)
	assert.Equal(t, "2026-03-14T09:26:53", *entries[0].TimestampUTC)
}

func TestEvaluate_SummaryFailureLeavesOneRegistryEntry(t *testing.T) {
	f := newFixture(t, true)
	// A directory where the summary file belongs makes every update fail.
	summary := f.registry.Summary.Path()
	require.NoError(t, os.MkdirAll(filepath.Join(summary, "blocked"), 0o755))

	res, err := f.pipeline.Evaluate(context.Background(), Submission{Raw: validEnvelope(t)})
	var fe *FailedError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, StagePersist, fe.Stage)
	assert.True(t, fe.Recorded)
	var appended *registry.AppendedError
	require.True(t, errors.As(err, &appended))
	assert.Equal(t, 1, appended.Seq)
	assert.Equal(t, registry.StatusFailed, res.Status)
	assert.Nil(t, res.Summary)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, registry.StatusValidated, entries[0].Status)
	assert.NoFileExists(t, filepath.Join(res.Dir, registry.ErrorFile))
}

func TestEvaluate_DetectsCollaboratorFiles(t *testing.T) {
	f := newFixture(t, true)
	dir, err := f.registry.Artifacts.Allocate("iter-0001")
	require.NoError(t, err)
	require.NoError(t, dir.WriteText("codex.final_text.txt", "done"))

	res, err := f.pipeline.Evaluate(context.Background(), Submission{Raw: validEnvelope(t), IterationID: "iter-0001"})
	require.NoError(t, err)
	assert.Equal(t, dir.File("codex.final_text.txt"), res.Artifacts["codex.final_text.txt"])
}

func TestEvaluate_UnsafeSQLFailsValidation(t *testing.T) {
	f := newFixture(t, true)
	raw := mutate(t, func(doc map[string]any) {
		catalog := doc["experiment"].(map[string]any)["group_catalog"].([]any)
		catalog[0].(map[string]any)["group_sql"] = "a.city_id = 1; DROP TABLE addresses"
	})

	res, err := f.pipeline.Evaluate(context.Background(), Submission{Raw: raw})
	var fe *FailedError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, StageValidation, fe.Stage)
	assert.Nil(t, res.Document)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].TimestampUTC)
	assert.Equal(t, "2026-03-14T09:26:53Z", *entries[0].TimestampUTC)
	assert.Contains(t, entries[0].Artifacts, registry.RawFile)
	assert.NotContains(t, entries[0].Artifacts, registry.ValidatedFile)

	var last trace.Event
	for _, e := range res.Trace.Events {
		if e.Kind == trace.EventStageFailed {
			last = e
		}
	}
	assert.Equal(t, string(StateComputeSignatures), last.Stage)
	assert.Equal(t, "UnsafeFragment", last.Reason)
}

func TestEvaluate_SchemaViolationFailsValidation(t *testing.T) {
	f := newFixture(t, true)
	raw := mutate(t, func(doc map[string]any) {
		doc["unexpected"] = true
	})

	_, err := f.pipeline.Evaluate(context.Background(), Submission{Raw: raw})
	var fe *FailedError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, StageValidation, fe.Stage)
	var ve *schema.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, err.Error(), "schema validation failed")
}

func TestEvaluate_WithoutArtifacts(t *testing.T) {
	f := newFixture(t, false)

	res, err := f.pipeline.Evaluate(context.Background(), Submission{Raw: validEnvelope(t)})
	require.NoError(t, err)
	assert.Equal(t, registry.StatusValidated, res.Status)
	assert.Empty(t, res.Dir)
	assert.Nil(t, res.Summary)
	assert.NotNil(t, res.Document["signature_report"])

	entries, err := os.ReadDir(f.base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEvaluate_TraceAndSink(t *testing.T) {
	sink := trace.NewRecorder()
	f := newFixture(t, false, func(o *Options) { o.Sink = sink })

	res, err := f.pipeline.Evaluate(context.Background(), Submission{Raw: validEnvelope(t)})
	require.NoError(t, err)

	var stages []string
	for _, e := range res.Trace.Events {
		if e.Kind == trace.EventStageEntered {
			stages = append(stages, e.Stage)
		}
	}
	assert.Equal(t, []string{"PARSE_JSON", "TYPE_CHECK", "COMPUTE_SIGNATURES", "SCHEMA_VALIDATE", "PERSIST"}, stages)
	assert.Len(t, sink.Snapshot(), len(res.Trace.Events))

	// The trace of a repeated evaluation is byte-identical.
	again, err := f.pipeline.Evaluate(context.Background(), Submission{Raw: validEnvelope(t)})
	require.NoError(t, err)
	h1, err := res.Trace.Hash()
	require.NoError(t, err)
	h2, err := again.Trace.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestEvaluate_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	f := newFixture(t, false, func(o *Options) { o.Metrics = m })

	_, err := f.pipeline.Evaluate(context.Background(), Submission{Raw: validEnvelope(t)})
	require.NoError(t, err)
	_, err = f.pipeline.Evaluate(context.Background(), Submission{Raw: []byte("nope")})
	require.Error(t, err)

	expected := `
# HELP evolver_evaluations_total Finished evaluations by outcome
# TYPE evolver_evaluations_total counter
evolver_evaluations_total{stage="",status="validated"} 1
evolver_evaluations_total{stage="json_parse",status="failed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "evolver_evaluations_total"))
}

func TestStateMachine_RejectsSkippingStates(t *testing.T) {
	m := machine{state: StateReceived}
	require.Error(t, m.transition(StateReceived, StateSchemaValidate))
	require.NoError(t, m.transition(StateReceived, StateParseJSON))
	require.Error(t, m.transition(StateReceived, StateParseJSON))
	require.NoError(t, m.transition(StateParseJSON, StateFailed))
	require.Error(t, m.transition(StateFailed, StateTypeCheck))
}
