package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"evolver/internal/fsutil"
)

// Log is the append-only registry file: a single JSON array of entries.
//
// Append rewrites the whole file atomically. Existing elements are carried
// over as raw JSON, so entries written by older versions are never altered.
type Log struct {
	path string
	now  func() time.Time
}

func NewLog(path string) (*Log, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("registry path is required")
	}
	return &Log{path: path, now: time.Now}, nil
}

func (l *Log) Path() string { return l.path }

// Append adds e at the end of the registry file and returns its zero-based
// position.
//
// A registry file that does not hold a JSON array is moved aside to
// <path>.corrupt-<unix-nanos> before a fresh array is started; the moved
// path is returned so callers can report it.
func (l *Log) Append(e Entry) (seq int, quarantined string, err error) {
	if err := e.Validate(); err != nil {
		return 0, "", fmt.Errorf("invalid registry entry: %w", err)
	}
	encoded, err := json.Marshal(e)
	if err != nil {
		return 0, "", fmt.Errorf("marshal registry entry: %w", err)
	}

	existing, err := l.readRaw()
	if err != nil {
		if !errors.Is(err, errCorrupt) {
			return 0, "", &PersistenceError{Op: "read registry", Path: l.path, Cause: err}
		}
		quarantined = fmt.Sprintf("%s.corrupt-%d", l.path, l.now().UnixNano())
		if rerr := os.Rename(l.path, quarantined); rerr != nil {
			return 0, "", &PersistenceError{Op: "quarantine registry", Path: l.path, Cause: rerr}
		}
		existing = nil
	}

	entries := append(existing, json.RawMessage(encoded))
	if err := fsutil.WriteJSON(l.path, entries); err != nil {
		return 0, quarantined, &PersistenceError{Op: "write registry", Path: l.path, Cause: err}
	}
	return len(entries) - 1, quarantined, nil
}

// Entries decodes every element of the registry file in append order. A
// missing file is an empty registry.
func (l *Log) Entries() ([]Entry, error) {
	raw, err := l.readRaw()
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", l.path, err)
	}
	out := make([]Entry, 0, len(raw))
	for i, r := range raw {
		var e Entry
		if err := json.Unmarshal(r, &e); err != nil {
			return nil, fmt.Errorf("registry element %d: %w", i, err)
		}
		if e.Artifacts == nil {
			e.Artifacts = map[string]string{}
		}
		out = append(out, e)
	}
	return out, nil
}

var errCorrupt = errors.New("registry file is not a JSON array")

func (l *Log) readRaw() ([]json.RawMessage, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	if raw == nil {
		return nil, errCorrupt
	}
	return raw, nil
}
