package signature

import (
	"sort"

	"evolver/internal/canonical"
	"evolver/internal/dsl"
)

const (
	ReportSchemaVersion     = "1.0"
	CanonicalizationVersion = "v1"
)

// Entity kinds, as used in EntityError and metrics labels.
const (
	KindHypothesis = "hypothesis"
	KindGroup      = "group"
	KindTheory     = "theory"
)

// Result is the outcome of Compute.
type Result struct {
	// Document is a deep copy of the input with signatures filled in and the
	// signature report attached.
	Document map[string]any
	Report   dsl.SignatureReport
	// Attached is false when the document has no experiment or theory
	// object to sign; Document is then an unmodified copy.
	Attached bool
}

// Compute fills every absent hypothesis, group and theory signature in a
// copy of doc and attaches the signature report.
//
// The computation is all-or-nothing: doc itself is never modified, and on
// error no partially signed copy is returned.
//
// Order of operations:
//  1. Hypotheses are hashed (without their signatures member) before any
//     group signature is filled, so a hypothesis digest never depends on
//     the group digests nested in it.
//  2. Groups of kind where_sql anywhere below experiment are hashed from
//     their canonical fragment. A name bound to two different fragments is
//     a GroupConflictError.
//  3. Theory payloads are hashed like hypotheses.
//
// Per-entity signature fields are set only when absent. The report is
// always replaced.
func Compute(doc map[string]any) (Result, error) {
	return NewHasher().Compute(doc)
}

// Compute is like the package-level Compute but hashes with h.
func (h *Hasher) Compute(doc map[string]any) (Result, error) {
	out, _ := canonical.Clone(doc).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}

	experiment, okExp := out["experiment"].(map[string]any)
	theory, okTheory := out["theory"].(map[string]any)
	if !okExp || !okTheory {
		return Result{Document: out}, nil
	}

	hypotheses := map[string]Digest{}
	for _, n := range dsl.Hypotheses(experiment) {
		d, err := h.JSON(n.Content())
		if err != nil {
			return Result{}, &EntityError{Kind: KindHypothesis, ID: n.ID, Cause: err}
		}
		hypotheses[n.ID] = d
		n.SetSignature(string(d))
	}

	groups := map[string]Digest{}
	groupPaths := map[string]string{}
	err := dsl.WalkGroups(experiment, func(path string, g dsl.Group) error {
		sg, ok := g.(*dsl.SQLGroup)
		if !ok {
			return nil
		}
		loc := "experiment." + path
		d, err := h.SQL(sg.SQL)
		if err != nil {
			return &GroupError{Name: sg.Name, Path: loc, Cause: err}
		}
		if prev, seen := groups[sg.Name]; seen && prev != d {
			return &GroupConflictError{
				Name:        sg.Name,
				FirstPath:   groupPaths[sg.Name],
				SecondPath:  loc,
				FirstDigest: prev,
				OtherDigest: d,
			}
		}
		if _, seen := groups[sg.Name]; !seen {
			groups[sg.Name] = d
			groupPaths[sg.Name] = loc
		}
		sg.SetSignature(string(d))
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	theories := map[string]Digest{}
	for _, n := range dsl.Theories(theory) {
		d, err := h.JSON(n.Content())
		if err != nil {
			return Result{}, &EntityError{Kind: KindTheory, ID: n.ID, Cause: err}
		}
		theories[n.ID] = d
		n.SetSignature(string(d))
	}

	report := buildReport(hypotheses, groups, theories)
	out["signature_report"] = reportTree(report)
	return Result{Document: out, Report: report, Attached: true}, nil
}

func buildReport(hypotheses, groups, theories map[string]Digest) dsl.SignatureReport {
	r := dsl.SignatureReport{
		SchemaVersion:           ReportSchemaVersion,
		CanonicalizationVersion: CanonicalizationVersion,
		Signatures: dsl.SignatureLists{
			Hypotheses: []dsl.HypothesisSignatureEntry{},
			Groups:     []dsl.GroupSignatureEntry{},
			Theories:   []dsl.TheorySignatureEntry{},
		},
	}
	for _, id := range sortedKeys(hypotheses) {
		r.Signatures.Hypotheses = append(r.Signatures.Hypotheses, dsl.HypothesisSignatureEntry{
			HypothesisID:        id,
			HypothesisSignature: string(hypotheses[id]),
		})
	}
	for _, name := range sortedKeys(groups) {
		r.Signatures.Groups = append(r.Signatures.Groups, dsl.GroupSignatureEntry{
			Name:           name,
			GroupSignature: string(groups[name]),
		})
	}
	for _, id := range sortedKeys(theories) {
		r.Signatures.Theories = append(r.Signatures.Theories, dsl.TheorySignatureEntry{
			TheoryID:        id,
			TheorySignature: string(theories[id]),
		})
	}
	return r
}

// reportTree renders r as a generic JSON tree so it can live inside the
// decoded document next to the other entities.
func reportTree(r dsl.SignatureReport) map[string]any {
	hyps := make([]any, 0, len(r.Signatures.Hypotheses))
	for _, e := range r.Signatures.Hypotheses {
		hyps = append(hyps, map[string]any{"hypothesis_id": e.HypothesisID, "hypothesis_signature": e.HypothesisSignature})
	}
	groups := make([]any, 0, len(r.Signatures.Groups))
	for _, e := range r.Signatures.Groups {
		groups = append(groups, map[string]any{"name": e.Name, "group_signature": e.GroupSignature})
	}
	theories := make([]any, 0, len(r.Signatures.Theories))
	for _, e := range r.Signatures.Theories {
		theories = append(theories, map[string]any{"theory_id": e.TheoryID, "theory_signature": e.TheorySignature})
	}
	return map[string]any{
		"schema_version":           r.SchemaVersion,
		"canonicalization_version": r.CanonicalizationVersion,
		"signatures": map[string]any{
			"hypotheses": hyps,
			"groups":     groups,
			"theories":   theories,
		},
	}
}

func sortedKeys(m map[string]Digest) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
