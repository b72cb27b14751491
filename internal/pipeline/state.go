package pipeline

import "fmt"

// State is a pipeline state. The string values appear in traces and logs.
type State string

const (
	StateReceived          State = "RECEIVED"
	StateParseJSON         State = "PARSE_JSON"
	StateTypeCheck         State = "TYPE_CHECK"
	StateComputeSignatures State = "COMPUTE_SIGNATURES"
	StateSchemaValidate    State = "SCHEMA_VALIDATE"
	StatePersist           State = "PERSIST"
	StateRegistered        State = "REGISTERED"
	StateFailed            State = "FAILED"
)

// Stage names recorded in the audit trail for failures. They are consumed
// by external tooling and must not change.
const (
	StageJSONParse  = "json_parse"
	StageTypeCheck  = "type_check"
	StageValidation = "validation"
	StagePersist    = "persist"
)

// IsTerminal reports whether s ends an evaluation.
func IsTerminal(s State) bool {
	switch s {
	case StateRegistered, StateFailed:
		return true
	default:
		return false
	}
}

// stageOf maps the state a failure happened in to its audit stage name.
func stageOf(s State) string {
	switch s {
	case StateParseJSON:
		return StageJSONParse
	case StateTypeCheck:
		return StageTypeCheck
	case StateComputeSignatures, StateSchemaValidate:
		return StageValidation
	default:
		return StagePersist
	}
}

// machine tracks the state of one evaluation.
type machine struct {
	state State
}

// transition performs a validated transition. from is the expected prior
// state, which makes ordering bugs observable.
func (m *machine) transition(from, to State) error {
	if m.state != from {
		return fmt.Errorf("invalid transition: expected %s, got %s", from, m.state)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", from, to)
	}
	m.state = to
	return nil
}

func isAllowedTransition(from, to State) bool {
	if IsTerminal(from) {
		return false
	}
	if to == StateFailed {
		return true
	}
	switch from {
	case StateReceived:
		return to == StateParseJSON
	case StateParseJSON:
		return to == StateTypeCheck
	case StateTypeCheck:
		return to == StateComputeSignatures
	case StateComputeSignatures:
		return to == StateSchemaValidate
	case StateSchemaValidate:
		return to == StatePersist
	case StatePersist:
		return to == StateRegistered
	default:
		return false
	}
}
