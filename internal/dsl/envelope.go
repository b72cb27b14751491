// Package dsl models the L1 output envelope and the DSL entities nested in it.
//
// Two views are provided. Envelope and its members are a closed-world decode
// of a document that already passed schema validation. The node views (Group,
// HypothesisNode, TheoryNode) work on the generic decoded tree and are what
// signature computation walks.
package dsl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Envelope is the top-level L1 output document.
type Envelope struct {
	SchemaVersion   string          `json:"schema_version"`
	Iteration       IterationInfo   `json:"iteration"`
	Experiment      ExperimentInfo  `json:"experiment"`
	Theory          TheoryInfo      `json:"theory"`
	SignatureReport SignatureReport `json:"signature_report"`
	EvaluatorRuns   []EvaluatorRun  `json:"evaluator_runs"`
	CIReport        json.RawMessage `json:"ci_report"`
	DBManifest      json.RawMessage `json:"db_manifest"`
}

type IterationInfo struct {
	ID string `json:"id"`
	// TimestampUTC is kept as written; its format is only checked when the
	// schema set asserts formats.
	TimestampUTC string  `json:"timestamp_utc"`
	Locale       string  `json:"locale"`
	PromptRef    *string `json:"prompt_ref,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

type ExperimentInfo struct {
	Hypotheses     []Hypothesis      `json:"hypotheses"`
	GroupCatalog   []GroupDefinition `json:"group_catalog"`
	TracingSession json.RawMessage   `json:"tracing_session"`
}

type TheoryInfo struct {
	Theories []Theory `json:"theories"`
}

// HypothesisType is the discriminant of a hypothesis.
type HypothesisType string

const (
	HypothesisDiffRate       HypothesisType = "DIFF_RATE"
	HypothesisRateThreshold  HypothesisType = "RATE_THRESHOLD"
	HypothesisRatio          HypothesisType = "RATIO"
	HypothesisMonotonicTrend HypothesisType = "MONOTONIC_TREND"
	HypothesisRankOrder      HypothesisType = "RANK_ORDER"
	HypothesisMultiGroup     HypothesisType = "MULTI_GROUP"
)

func (t HypothesisType) Valid() bool {
	switch t {
	case HypothesisDiffRate, HypothesisRateThreshold, HypothesisRatio,
		HypothesisMonotonicTrend, HypothesisRankOrder, HypothesisMultiGroup:
		return true
	}
	return false
}

type Hypothesis struct {
	SchemaVersion  string               `json:"schema_version"`
	HypothesisID   string               `json:"hypothesis_id"`
	Type           HypothesisType       `json:"type"`
	Axioms         []string             `json:"axioms"`
	Metric         string               `json:"metric"`
	Groups         []GroupDefinition    `json:"groups"`
	Stratification json.RawMessage      `json:"stratification"`
	Claim          json.RawMessage      `json:"claim"`
	Evaluation     json.RawMessage      `json:"evaluation"`
	Scope          json.RawMessage      `json:"scope,omitempty"`
	FeatureFamily  *string              `json:"feature_family,omitempty"`
	GroupRoles     json.RawMessage      `json:"group_roles,omitempty"`
	ExpectedEffect json.RawMessage      `json:"expected_effect,omitempty"`
	Signatures     *HypothesisSignature `json:"signatures,omitempty"`
}

type HypothesisSignature struct {
	HypothesisSignature *string `json:"hypothesis_signature,omitempty"`
}

// GroupKind is the discriminant of a group definition.
type GroupKind string

const (
	GroupWhereSQL               GroupKind = "where_sql"
	GroupStratifiedRandomSample GroupKind = "stratified_random_sample"
	GroupFixedHoldoutControl    GroupKind = "fixed_holdout_control"
	GroupFixedFeatureBin        GroupKind = "fixed_feature_bin"
)

// IsProtocol reports whether the kind is defined by a sampling protocol
// rather than an executable SQL fragment.
func (k GroupKind) IsProtocol() bool {
	switch k {
	case GroupStratifiedRandomSample, GroupFixedHoldoutControl, GroupFixedFeatureBin:
		return true
	}
	return false
}

type GroupDefinition struct {
	Name             string                 `json:"name"`
	Definition       GroupKind              `json:"definition"`
	GroupSQL         *string                `json:"group_sql,omitempty"`
	Params           map[string]any         `json:"params,omitempty"`
	GroupSignature   *string                `json:"group_signature,omitempty"`
	Implies          []string               `json:"implies,omitempty"`
	SafetyAssertions *GroupSafetyAssertions `json:"safety_assertions,omitempty"`
	Notes            *string                `json:"notes,omitempty"`
}

type GroupSafetyAssertions struct {
	NoSemicolons      *bool `json:"no_semicolons,omitempty"`
	NoComments        *bool `json:"no_comments,omitempty"`
	NoDDLDML          *bool `json:"no_ddl_dml,omitempty"`
	DeterministicOnly *bool `json:"deterministic_only,omitempty"`
}

func (g GroupDefinition) Validate() error {
	var errs []error
	if strings.TrimSpace(g.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	switch {
	case g.Definition == GroupWhereSQL:
		if g.GroupSQL == nil || *g.GroupSQL == "" {
			errs = append(errs, fmt.Errorf("group %q: group_sql is required when definition is %q", g.Name, GroupWhereSQL))
		}
	case g.Definition.IsProtocol():
		// ok
	default:
		errs = append(errs, fmt.Errorf("group %q: invalid definition %q", g.Name, g.Definition))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

type Theory struct {
	TheoryDSL         TheoryDSL       `json:"theory_dsl"`
	CodeEvidence      json.RawMessage `json:"code_evidence,omitempty"`
	SurrogateIndex    json.RawMessage `json:"surrogate_index,omitempty"`
	DBMaterialization json.RawMessage `json:"db_materialization,omitempty"`
	TracingLinks      json.RawMessage `json:"tracing_links,omitempty"`
}

// TheoryType is the discriminant of a theory payload.
type TheoryType string

const (
	TheoryRuleModel     TheoryType = "RULE_MODEL"
	TheoryScoringModel  TheoryType = "SCORING_MODEL"
	TheorySQLRules      TheoryType = "SQL_RULES"
	TheoryPipelineModel TheoryType = "PIPELINE_MODEL"
)

func (t TheoryType) Valid() bool {
	switch t {
	case TheoryRuleModel, TheoryScoringModel, TheorySQLRules, TheoryPipelineModel:
		return true
	}
	return false
}

type TheoryDSL struct {
	SchemaVersion string           `json:"schema_version"`
	TheoryID      string           `json:"theory_id"`
	TheoryName    string           `json:"theory_name"`
	TheoryType    TheoryType       `json:"theory_type"`
	Axioms        []string         `json:"axioms"`
	Scope         json.RawMessage  `json:"scope"`
	Inputs        json.RawMessage  `json:"inputs"`
	Features      json.RawMessage  `json:"features"`
	Model         json.RawMessage  `json:"model"`
	Validation    json.RawMessage  `json:"validation"`
	Signatures    *TheorySignature `json:"signatures,omitempty"`
}

type TheorySignature struct {
	TheorySignature *string `json:"theory_signature,omitempty"`
}

// SignatureReport lists every signature computed for an envelope.
type SignatureReport struct {
	SchemaVersion           string         `json:"schema_version"`
	CanonicalizationVersion string         `json:"canonicalization_version"`
	Signatures              SignatureLists `json:"signatures"`
}

type SignatureLists struct {
	Hypotheses []HypothesisSignatureEntry `json:"hypotheses"`
	Groups     []GroupSignatureEntry      `json:"groups"`
	Theories   []TheorySignatureEntry     `json:"theories"`
}

type HypothesisSignatureEntry struct {
	HypothesisID        string `json:"hypothesis_id"`
	HypothesisSignature string `json:"hypothesis_signature"`
}

type GroupSignatureEntry struct {
	Name           string `json:"name"`
	GroupSignature string `json:"group_signature"`
}

type TheorySignatureEntry struct {
	TheoryID        string `json:"theory_id"`
	TheorySignature string `json:"theory_signature"`
}

type EvaluatorRun struct {
	RunID              json.RawMessage `json:"run_id"`
	GroupName          string          `json:"group_name"`
	Request            json.RawMessage `json:"request"`
	ResponseAggregates json.RawMessage `json:"response_aggregates"`
	Derived            json.RawMessage `json:"derived"`
}

// DecodeEnvelope decodes data into an Envelope, rejecting unknown fields at
// every typed level and trailing content, then checks cross-field rules the
// JSON schema cannot express.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errors.New("decode envelope: trailing content")
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *Envelope) Validate() error {
	var errs []error
	if strings.TrimSpace(e.Iteration.ID) == "" {
		errs = append(errs, errors.New("iteration.id is required"))
	}
	if strings.TrimSpace(e.Iteration.TimestampUTC) == "" {
		errs = append(errs, errors.New("iteration.timestamp_utc is required"))
	}
	for i, h := range e.Experiment.Hypotheses {
		if !h.Type.Valid() {
			errs = append(errs, fmt.Errorf("experiment.hypotheses[%d]: invalid type %q", i, h.Type))
		}
		for j, g := range h.Groups {
			if err := g.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("experiment.hypotheses[%d].groups[%d]: %w", i, j, err))
			}
		}
	}
	for i, g := range e.Experiment.GroupCatalog {
		if err := g.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("experiment.group_catalog[%d]: %w", i, err))
		}
	}
	for i, t := range e.Theory.Theories {
		if !t.TheoryDSL.TheoryType.Valid() {
			errs = append(errs, fmt.Errorf("theory.theories[%d].theory_dsl: invalid theory_type %q", i, t.TheoryDSL.TheoryType))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
