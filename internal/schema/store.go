// Package schema validates documents against a multi-file JSON schema set.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"sort"
	"strings"
)

// ErrRootNotFound is returned when the configured root schema is not part of the set.
var ErrRootNotFound = errors.New("root schema not found")

// DefaultBaseURL is the base URL for schema documents that do not declare an $id.
const DefaultBaseURL = "https://evolver.dev/schemas/"

// Document is one schema file of a set.
type Document struct {
	// Name is the file name within the set.
	Name string
	// ID is the declared $id, or empty.
	ID string
	// Dialect is the declared $schema, or empty.
	Dialect string
	Raw     []byte
}

// URL is the location the document is compiled under: its $id when
// declared, else the file name below DefaultBaseURL.
func (d Document) URL() string {
	if d.ID != "" {
		return d.ID
	}
	return DefaultBaseURL + d.Name
}

// Store indexes schema documents by declared $id and by file name so that
// cross-document references resolve either way.
type Store struct {
	docs   []Document
	byKey  map[string]int
	byName map[string]int
}

// LoadStore reads every file in fsys matching pattern (for example
// "*.schema.json"). Files whose top-level value is not an object are skipped.
func LoadStore(fsys fs.FS, pattern string) (*Store, error) {
	names, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("glob schemas %q: %w", pattern, err)
	}
	sort.Strings(names)

	s := &Store{byKey: map[string]int{}, byName: map[string]int{}}
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		var top any
		if err := json.Unmarshal(raw, &top); err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		obj, ok := top.(map[string]any)
		if !ok {
			continue
		}
		doc := Document{Name: path.Base(name), Raw: raw}
		if id, ok := obj["$id"].(string); ok {
			doc.ID = id
		}
		if dialect, ok := obj["$schema"].(string); ok {
			doc.Dialect = dialect
		}

		idx := len(s.docs)
		s.docs = append(s.docs, doc)
		if doc.ID != "" {
			s.byKey[doc.ID] = idx
		}
		s.byKey[doc.Name] = idx
		s.byName[doc.Name] = idx
	}
	return s, nil
}

// Documents returns the loaded documents sorted by file name.
func (s *Store) Documents() []Document {
	out := make([]Document, len(s.docs))
	copy(out, s.docs)
	return out
}

// ByName returns the document with the given file name.
func (s *Store) ByName(name string) (Document, bool) {
	idx, ok := s.byName[name]
	if !ok {
		return Document{}, false
	}
	return s.docs[idx], true
}

// Resolve finds the document for an absolute reference URL: an exact $id
// or file-name match first, then the last path element as a file name.
func (s *Store) Resolve(ref string) (Document, bool) {
	ref, _, _ = strings.Cut(ref, "#")
	if idx, ok := s.byKey[ref]; ok {
		return s.docs[idx], true
	}
	u, err := url.Parse(ref)
	if err != nil {
		return Document{}, false
	}
	return s.ByName(path.Base(u.Path))
}
