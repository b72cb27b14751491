package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"evolver/internal/fsutil"
)

// File names inside an iteration directory. They are consumed by external
// tooling and must not change.
const (
	RawFile       = "l1_output.raw.json"
	ValidatedFile = "l1_output.validated.json"
	ReportFile    = "validation.report.json"
	ErrorFile     = "evaluation.error.txt"
)

// CollaboratorFiles are written into an iteration directory by the
// processes that produce the L1 output. They are only detected, never written.
var CollaboratorFiles = []string{
	"prompt.messages.json",
	"optillm.response.json",
	"optillm.assistant_text.txt",
	"codex.jsonl",
	"codex.stderr.txt",
	"codex.final_text.txt",
}

// OutputFiles are the files the pipeline itself may write.
var OutputFiles = []string{RawFile, ValidatedFile, ReportFile, ErrorFile}

const maxIterationIDLen = 128

// ErrInvalidIterationID is returned for identifiers that cannot name a
// single directory below the iterations root.
var ErrInvalidIterationID = errors.New("invalid iteration id")

// ValidateIterationID checks that id is usable as one path element.
func ValidateIterationID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidIterationID)
	case len(id) > maxIterationIDLen:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidIterationID, maxIterationIDLen)
	case id == "." || id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidIterationID, id)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidIterationID, id)
	case strings.TrimSpace(id) != id:
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidIterationID, id)
	}
	return nil
}

// ArtifactStore owns the iterations root directory.
type ArtifactStore struct {
	root string
}

func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root}
}

func (s *ArtifactStore) Root() string { return s.root }

// Allocate creates (or reuses) the directory of iterID.
func (s *ArtifactStore) Allocate(iterID string) (*IterationDir, error) {
	if err := ValidateIterationID(iterID); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, iterID)
	if err := fsutil.EnsureDirDurable(dir, 0o755); err != nil {
		return nil, &PersistenceError{Op: "create iteration dir", Path: dir, Cause: err}
	}
	return &IterationDir{ID: iterID, Path: dir}, nil
}

// IterationDir is the artifact directory of one iteration.
type IterationDir struct {
	ID   string
	Path string
}

func (d *IterationDir) File(name string) string { return filepath.Join(d.Path, name) }

// WriteJSON atomically writes v as indented JSON to the named file.
func (d *IterationDir) WriteJSON(name string, v any) error {
	path := d.File(name)
	if err := fsutil.WriteJSON(path, v); err != nil {
		return &PersistenceError{Op: "write", Path: path, Cause: err}
	}
	return nil
}

// WriteText atomically writes text to the named file.
func (d *IterationDir) WriteText(name, text string) error {
	path := d.File(name)
	if err := fsutil.WriteFileAtomic(path, []byte(text), 0o644); err != nil {
		return &PersistenceError{Op: "write", Path: path, Cause: err}
	}
	return nil
}

// Detect maps each of names that exists in the directory to its path.
func (d *IterationDir) Detect(names ...string) map[string]string {
	out := map[string]string{}
	for _, name := range names {
		p := d.File(name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			out[name] = p
		}
	}
	return out
}

// ValidatedArtifacts is the artifact map of a successful evaluation.
func (d *IterationDir) ValidatedArtifacts() map[string]string {
	out := d.Detect(CollaboratorFiles...)
	out["iteration_dir"] = d.Path
	out["raw"] = d.File(RawFile)
	out["validated"] = d.File(ValidatedFile)
	out["validation_report"] = d.File(ReportFile)
	return out
}

// FailedArtifacts is the artifact map of a failed evaluation: every known
// file that exists, keyed by file name.
func (d *IterationDir) FailedArtifacts() map[string]string {
	names := append(append([]string{}, CollaboratorFiles...), OutputFiles...)
	out := d.Detect(names...)
	out["iteration_dir"] = d.Path
	return out
}
