package pipeline

import (
	"errors"
	"fmt"

	"evolver/internal/canonical"
	"evolver/internal/registry"
	"evolver/internal/schema"
	"evolver/internal/signature"
)

// FailedError is returned by Evaluate when an evaluation ends in FAILED.
// Stage is the audit stage name (json_parse, type_check, validation,
// persist); Recorded tells whether a registry entry was written.
type FailedError struct {
	IterationID string
	Stage       string
	Recorded    bool
	Err         error
}

func (e *FailedError) Error() string {
	if e == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *FailedError) Unwrap() error { return e.Err }

// TypeError reports a submission that parsed but is not a JSON object.
type TypeError struct {
	Got string
}

func (e *TypeError) Error() string { return "Final output must be a JSON object" }

// MissingIdentifierError reports that neither the caller nor the document
// supplied an iteration id. Nothing is recorded for it.
type MissingIdentifierError struct{}

func (e *MissingIdentifierError) Error() string {
	return "iteration_id is required (either argument or iteration.id in JSON)"
}

// InvalidIdentifierError reports an iteration id that cannot name an
// iteration directory. Nothing is recorded for it.
type InvalidIdentifierError struct {
	ID    string
	Cause error
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid iteration_id %q: %v", e.ID, e.Cause)
}

func (e *InvalidIdentifierError) Unwrap() error { return e.Cause }

// EnvelopeError reports a schema-valid document rejected by the typed
// envelope decode.
type EnvelopeError struct {
	Cause error
}

func (e *EnvelopeError) Error() string { return e.Cause.Error() }

func (e *EnvelopeError) Unwrap() error { return e.Cause }

// reasonCode classifies err into a stable code for traces and metrics.
func reasonCode(err error) string {
	var (
		pe  *canonical.ParseError
		te  *TypeError
		ue  *canonical.UnsafeFragmentError
		me  *canonical.MalformedFragmentError
		gc  *signature.GroupConflictError
		ve  *schema.ValidationError
		ee  *EnvelopeError
		per *registry.PersistenceError
	)
	switch {
	case errors.As(err, &pe):
		return "ParseError"
	case errors.As(err, &te):
		return "TypeError"
	case errors.As(err, &ue):
		return "UnsafeFragment"
	case errors.As(err, &me):
		return "MalformedFragment"
	case errors.As(err, &gc):
		return "GroupConflict"
	case errors.As(err, &ve):
		return "SchemaViolation"
	case errors.As(err, &ee):
		return "EnvelopeRejected"
	case errors.As(err, &per):
		return "PersistenceFailure"
	default:
		return "InternalError"
	}
}
