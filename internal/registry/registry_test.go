package registry

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func newTestRegistry(t *testing.T, withIndex bool) (*Registry, string) {
	t.Helper()
	base := t.TempDir()
	opts := Options{
		IterationsDir: filepath.Join(base, "iterations"),
		LogPath:       filepath.Join(base, "iterations", "index.json"),
		SummaryPath:   filepath.Join(base, "state", "summary.json"),
	}
	if withIndex {
		opts.IndexPath = filepath.Join(base, "state", "registry.db")
	}
	r, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, base
}

func TestValidateIterationID(t *testing.T) {
	good := []string{"iter-0001", "2026_03_14", "a.b"}
	for _, id := range good {
		if err := ValidateIterationID(id); err != nil {
			t.Fatalf("ValidateIterationID(%q): %v", id, err)
		}
	}
	bad := []string{"", ".", "..", "a/b", `a\b`, "a\x00b", " pad", strings.Repeat("x", 129)}
	for _, id := range bad {
		if err := ValidateIterationID(id); !errors.Is(err, ErrInvalidIterationID) {
			t.Fatalf("ValidateIterationID(%q) = %v; want ErrInvalidIterationID", id, err)
		}
	}
}

func TestEntry_TimestampIsNullableButPresent(t *testing.T) {
	e := Entry{IterID: "i1", Status: StatusFailed, Stage: "json_parse", Error: "boom", Artifacts: map[string]string{}}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"timestamp_utc":null`) {
		t.Fatalf("expected timestamp_utc null; got %s", b)
	}

	ok := Entry{IterID: "i1", Status: StatusValidated, Artifacts: map[string]string{}}
	b, err = json.Marshal(ok)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(b), "stage") || strings.Contains(string(b), `"error"`) {
		t.Fatalf("validated entry must not carry stage/error: %s", b)
	}
}

func TestEntry_Validate(t *testing.T) {
	cases := []struct {
		name string
		e    Entry
	}{
		{"missing id", Entry{Status: StatusValidated, Artifacts: map[string]string{}}},
		{"bad status", Entry{IterID: "x", Status: "done", Artifacts: map[string]string{}}},
		{"failed without stage", Entry{IterID: "x", Status: StatusFailed, Artifacts: map[string]string{}}},
		{"nil artifacts", Entry{IterID: "x", Status: StatusValidated}},
	}
	for _, tc := range cases {
		if err := tc.e.Validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestIterationDir_ArtifactDetection(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	dir, err := store.Allocate("iter-1")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := dir.WriteText("codex.jsonl", "{}\n"); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	if err := dir.WriteText(ErrorFile, "bad"); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	failed := dir.FailedArtifacts()
	want := map[string]string{
		"iteration_dir":        dir.Path,
		"codex.jsonl":          dir.File("codex.jsonl"),
		"evaluation.error.txt": dir.File(ErrorFile),
	}
	if len(failed) != len(want) {
		t.Fatalf("FailedArtifacts = %v; want %v", failed, want)
	}
	for k, v := range want {
		if failed[k] != v {
			t.Fatalf("FailedArtifacts[%q] = %q; want %q", k, failed[k], v)
		}
	}

	ok := dir.ValidatedArtifacts()
	for _, k := range []string{"iteration_dir", "raw", "validated", "validation_report", "codex.jsonl"} {
		if _, found := ok[k]; !found {
			t.Fatalf("ValidatedArtifacts missing %q: %v", k, ok)
		}
	}
	if _, found := ok["prompt.messages.json"]; found {
		t.Fatalf("absent collaborator file must not be listed: %v", ok)
	}
}

func TestArtifactStore_RejectsTraversal(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	if _, err := store.Allocate("../escape"); !errors.Is(err, ErrInvalidIterationID) {
		t.Fatalf("Allocate: expected ErrInvalidIterationID, got %v", err)
	}
}

func TestLog_AppendOnlyPreservesExistingElements(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	// An element with a field this version does not know must survive verbatim.
	seed := `[{"iter_id":"old","timestamp_utc":null,"status":"validated","artifacts":{},"legacy":1}]`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	log, err := NewLog(path)
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	seq, q, err := log.Append(Entry{IterID: "new", TimestampUTC: strPtr("2026-01-01T00:00:00Z"), Status: StatusValidated, Artifacts: map[string]string{}})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if seq != 1 || q != "" {
		t.Fatalf("Append = (%d, %q); want (1, \"\")", seq, q)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"legacy": 1`) {
		t.Fatalf("existing element altered: %s", data)
	}
	entries, err := log.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 || entries[0].IterID != "old" || entries[1].IterID != "new" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestLog_QuarantinesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")
	if err := os.WriteFile(path, []byte(`{"not":"an array"}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	log, err := NewLog(path)
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	log.now = func() time.Time { return time.Unix(0, 42) }

	seq, q, err := log.Append(Entry{IterID: "i", Status: StatusFailed, Stage: "persist", Artifacts: map[string]string{}})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if seq != 0 {
		t.Fatalf("seq = %d; want 0", seq)
	}
	if q != path+".corrupt-42" {
		t.Fatalf("quarantined = %q", q)
	}
	kept, err := os.ReadFile(q)
	if err != nil {
		t.Fatalf("ReadFile quarantined: %v", err)
	}
	if string(kept) != `{"not":"an array"}` {
		t.Fatalf("quarantined content changed: %s", kept)
	}
}

func TestSummary_CountsAndPreservesUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	if err := os.WriteFile(path, []byte(`{"total_iterations": 4, "owner": "ops"}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s, err := NewSummaryStore(path)
	if err != nil {
		t.Fatalf("NewSummaryStore: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) }

	sum, err := s.Update("iter-9", StatusFailed)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if sum.TotalIterations != 5 || sum.LastIterationID != "iter-9" || sum.LastStatus != StatusFailed {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.LastUpdatedUTC != "2026-03-14T09:26:53Z" {
		t.Fatalf("LastUpdatedUTC = %q", sum.LastUpdatedUTC)
	}

	var fields map[string]any
	data, _ := os.ReadFile(path)
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if fields["owner"] != "ops" {
		t.Fatalf("unknown field dropped: %s", data)
	}
}

func TestSummary_UnreadableStartsFromZero(t *testing.T) {
	cases := map[string]string{
		"garbage":    `not json`,
		"array":      `[1,2]`,
		"fractional": `{"total_iterations": 2.5}`,
		"negative":   `{"total_iterations": -3}`,
		"string":     `{"total_iterations": "7"}`,
	}
	for name, content := range cases {
		path := filepath.Join(t.TempDir(), "summary.json")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("%s: WriteFile: %v", name, err)
		}
		s, _ := NewSummaryStore(path)
		sum, err := s.Update("x", StatusValidated)
		if err != nil {
			t.Fatalf("%s: Update: %v", name, err)
		}
		if sum.TotalIterations != 1 {
			t.Fatalf("%s: total = %d; want 1", name, sum.TotalIterations)
		}
	}
}

func TestRegistry_RecordAndHistoryWithoutIndex(t *testing.T) {
	r, _ := newTestRegistry(t, false)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		status := StatusValidated
		stage := ""
		if i == 1 {
			status, stage = StatusFailed, "validation"
		}
		if _, err := r.Record(ctx, Entry{IterID: id, Status: status, Stage: stage, Artifacts: map[string]string{}}); err != nil {
			t.Fatalf("Record(%s): %v", id, err)
		}
	}
	sum, err := r.Summary.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sum.TotalIterations != 3 || sum.LastIterationID != "c" {
		t.Fatalf("unexpected summary %+v", sum)
	}

	hist, err := r.History(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[0].IterID != "c" || hist[1].IterID != "b" {
		t.Fatalf("unexpected history %+v", hist)
	}
	failed, err := r.History(ctx, Filter{Status: StatusFailed})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(failed) != 1 || failed[0].IterID != "b" {
		t.Fatalf("unexpected failed history %+v", failed)
	}
}

func TestRegistry_SQLiteMirror(t *testing.T) {
	r, _ := newTestRegistry(t, true)
	ctx := context.Background()

	ts := strPtr("2026-03-14T09:26:53Z")
	if _, err := r.Record(ctx, Entry{IterID: "a", TimestampUTC: ts, Status: StatusValidated, Artifacts: map[string]string{"raw": "/x"}}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := r.Record(ctx, Entry{IterID: "b", Status: StatusFailed, Stage: "json_parse", Error: "bad", Artifacts: map[string]string{}}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	n, err := r.Index.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("Count = %d; want 2", n)
	}
	rows, err := r.Index.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 2 || rows[0].IterID != "b" || rows[1].IterID != "a" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if rows[0].TimestampUTC != nil || rows[0].Stage != "json_parse" {
		t.Fatalf("failed row mismatch %+v", rows[0])
	}
	if rows[1].TimestampUTC == nil || *rows[1].TimestampUTC != *ts || rows[1].Artifacts["raw"] != "/x" {
		t.Fatalf("validated row mismatch %+v", rows[1])
	}
}

func TestRegistry_HistoryResyncsStaleMirror(t *testing.T) {
	r, _ := newTestRegistry(t, true)
	ctx := context.Background()

	// Entries appended behind the index's back.
	for _, id := range []string{"x", "y"} {
		if _, _, err := r.Log.Append(Entry{IterID: id, Status: StatusValidated, Artifacts: map[string]string{}}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	hist, err := r.History(ctx, Filter{IterID: "x"})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 || hist[0].IterID != "x" {
		t.Fatalf("unexpected history %+v", hist)
	}
}

func TestRegistry_RecordReportsFailureAfterAppend(t *testing.T) {
	r, _ := newTestRegistry(t, false)
	if err := os.MkdirAll(filepath.Join(r.Summary.Path(), "blocked"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	_, err := r.Record(context.Background(), Entry{IterID: "a", Status: StatusValidated, Artifacts: map[string]string{}})
	var appended *AppendedError
	if !errors.As(err, &appended) {
		t.Fatalf("expected *AppendedError; got %v", err)
	}
	if appended.Seq != 1 {
		t.Fatalf("seq = %d; want 1", appended.Seq)
	}
	var pe *PersistenceError
	if !errors.As(err, &pe) || pe.Op != "write summary" {
		t.Fatalf("expected summary PersistenceError in chain; got %v", err)
	}
	entries, err := r.Log.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].IterID != "a" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
