package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Options configures Load.
type Options struct {
	// Pattern selects the schema files of the set. Defaults to "*.schema.json".
	Pattern string
	// AssertFormat makes "format" keywords (date-time, uri, ...) assertions
	// instead of annotations.
	AssertFormat bool
}

// Validator validates documents against the root schema of a set.
type Validator struct {
	store  *Store
	root   Document
	schema *jsonschema.Schema
}

// Load builds a Validator from the schema files in fsys. root is the file
// name of the root schema.
func Load(fsys fs.FS, root string, opts Options) (*Validator, error) {
	pattern := opts.Pattern
	if pattern == "" {
		pattern = "*.schema.json"
	}
	store, err := LoadStore(fsys, pattern)
	if err != nil {
		return nil, err
	}
	rootDoc, ok := store.ByName(root)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = opts.AssertFormat
	c.LoadURL = func(u string) (io.ReadCloser, error) {
		doc, ok := store.Resolve(u)
		if !ok {
			return nil, fmt.Errorf("schema %q is not part of the schema set", u)
		}
		src, err := compileSource(doc)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(src)), nil
	}
	for _, d := range store.Documents() {
		src, err := compileSource(d)
		if err != nil {
			return nil, fmt.Errorf("add schema %s: %w", d.Name, err)
		}
		if err := c.AddResource(d.URL(), bytes.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", d.Name, err)
		}
	}
	compiled, err := c.Compile(rootDoc.URL())
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", rootDoc.Name, err)
	}
	return &Validator{store: store, root: rootDoc, schema: compiled}, nil
}

// DefaultDialect is assumed for schema documents without "$schema".
const DefaultDialect = "https://json-schema.org/draft/2020-12/schema"

// compileSource returns the bytes handed to the compiler for d. The compiler
// asserts "format" in every document that declares no dialect, so one is
// filled in to keep Options.AssertFormat in charge.
func compileSource(d Document) ([]byte, error) {
	if d.Dialect != "" {
		return d.Raw, nil
	}
	dec := json.NewDecoder(bytes.NewReader(d.Raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	obj["$schema"] = DefaultDialect
	return json.Marshal(obj)
}

// LoadDir is Load over a directory on disk.
func LoadDir(dir, root string, opts Options) (*Validator, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema dir %s is not a directory", dir)
	}
	return Load(os.DirFS(dir), root, opts)
}

// Root returns the file name of the root schema.
func (v *Validator) Root() string { return v.root.Name }

// Documents returns the schema documents of the set.
func (v *Validator) Documents() []Document { return v.store.Documents() }

// Validate checks doc, a value decoded by encoding/json (json.Number is
// accepted), against the root schema. Schema violations are reported as
// *ValidationError.
func (v *Validator) Validate(doc any) error {
	err := v.schema.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("validate: %w", err)
	}

	violations := leafViolations(ve, nil)
	if len(violations) == 0 {
		violations = []Violation{{Path: ve.InstanceLocation, Message: ve.Message, KeywordLocation: ve.KeywordLocation}}
	}
	sortViolations(violations)
	first := violations[0]
	return &ValidationError{Path: first.Path, Message: first.Message, Violations: violations}
}

// Violation is one failed schema assertion.
type Violation struct {
	// Path is a JSON pointer into the validated document.
	Path            string
	Message         string
	KeywordLocation string
}

// ValidationError reports schema violations. Error shows the violation with
// the earliest document path; Violations holds all of them in path order.
type ValidationError struct {
	Path       string
	Message    string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("schema validation failed at %s: %s", displayPath(e.Path), e.Message)
}

func displayPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func leafViolations(e *jsonschema.ValidationError, out []Violation) []Violation {
	if len(e.Causes) == 0 {
		return append(out, Violation{Path: e.InstanceLocation, Message: e.Message, KeywordLocation: e.KeywordLocation})
	}
	for _, c := range e.Causes {
		out = leafViolations(c, out)
	}
	return out
}

// sortViolations orders by document path segment by segment. Array indices
// compare numerically and sort before member names; a path sorts before its
// extensions. Ties break on keyword location, then message.
func sortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		if c := comparePaths(splitPointer(vs[i].Path), splitPointer(vs[j].Path)); c != 0 {
			return c < 0
		}
		if vs[i].KeywordLocation != vs[j].KeywordLocation {
			return vs[i].KeywordLocation < vs[j].KeywordLocation
		}
		return vs[i].Message < vs[j].Message
	})
}

func splitPointer(p string) []string {
	if p == "" || p == "/" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, s := range parts {
		s = strings.ReplaceAll(s, "~1", "/")
		parts[i] = strings.ReplaceAll(s, "~0", "~")
	}
	return parts
}

func comparePaths(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareSegment(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func compareSegment(a, b string) int {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	return strings.Compare(a, b)
}
