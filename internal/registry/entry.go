// Package registry persists evaluation outcomes: per-iteration artifact
// directories, the append-only registry log, the state summary record and
// an optional SQLite mirror of the log.
//
// The registry log file is the only source of historical truth. The summary
// is a convenience record overwritten on every completion, and the SQLite
// index can always be rebuilt from the log.
package registry

import (
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	StatusValidated Status = "validated"
	StatusFailed    Status = "failed"
)

// Entry is one immutable audit record describing the outcome of one evaluation.
//
// Schema constraints (frozen): must include iter_id, timestamp_utc (nullable),
// status and artifacts; stage and error are present on failures only.
type Entry struct {
	IterID       string            `json:"iter_id"`
	TimestampUTC *string           `json:"timestamp_utc"`
	Status       Status            `json:"status"`
	Stage        string            `json:"stage,omitempty"`
	Error        string            `json:"error,omitempty"`
	Artifacts    map[string]string `json:"artifacts"`
}

func (e Entry) Validate() error {
	var errs []error
	if strings.TrimSpace(e.IterID) == "" {
		errs = append(errs, errors.New("iter_id is required"))
	}
	switch e.Status {
	case StatusValidated:
		if e.Stage != "" || e.Error != "" {
			errs = append(errs, errors.New("validated entries carry no stage or error"))
		}
	case StatusFailed:
		if strings.TrimSpace(e.Stage) == "" {
			errs = append(errs, errors.New("stage is required for failed entries"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", e.Status))
	}
	if e.Artifacts == nil {
		errs = append(errs, errors.New("artifacts must be an object (not null)"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// PersistenceError reports an I/O failure while writing artifacts or
// registry files.
type PersistenceError struct {
	Op    string
	Path  string
	Cause error
}

func (e *PersistenceError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// AppendedError reports a Record call that appended its entry at Seq but
// could not finish the steps after it.
type AppendedError struct {
	Seq int
	Err error
}

func (e *AppendedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("registry entry %d appended: %v", e.Seq, e.Err)
}

func (e *AppendedError) Unwrap() error { return e.Err }
