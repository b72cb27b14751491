package canonical

import (
	"errors"
	"fmt"
)

var (
	// ErrNonFinite is returned when a NaN or infinite number reaches the JSON encoder.
	ErrNonFinite = errors.New("non-finite number is not representable in canonical JSON")

	// ErrKeyCollision is returned when two object keys become equal after newline normalization.
	ErrKeyCollision = errors.New("object keys collide after newline normalization")
)

// ParseError reports malformed JSON text.
//
// Offset is the byte offset reported by the decoder (0 when unknown).
type ParseError struct {
	Offset int64
	Msg    string
	Cause  error
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	if e.Offset > 0 {
		return fmt.Sprintf("invalid JSON at offset %d: %s", e.Offset, e.Msg)
	}
	return fmt.Sprintf("invalid JSON: %s", e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Fragment guard rules. The values are stable and surface in error messages.
const (
	RuleStatementTerminator = "statement_terminator"
	RuleComment             = "comment"
	RuleMutatingKeyword     = "mutating_keyword"
)

// UnsafeFragmentError reports a SQL fragment rejected by the safety guard.
type UnsafeFragmentError struct {
	Rule  string
	Token string
}

func (e *UnsafeFragmentError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Rule {
	case RuleStatementTerminator:
		return fmt.Sprintf("unsafe SQL fragment: must not contain %q", e.Token)
	case RuleComment:
		return fmt.Sprintf("unsafe SQL fragment: must not contain SQL comments (found %q)", e.Token)
	case RuleMutatingKeyword:
		return fmt.Sprintf("unsafe SQL fragment: must not contain DDL/DML keyword %s", e.Token)
	default:
		return fmt.Sprintf("unsafe SQL fragment (%s): %s", e.Rule, e.Token)
	}
}

// MalformedFragmentError reports a SQL fragment the tokenizer cannot scan,
// such as an unterminated quoted literal.
type MalformedFragmentError struct {
	Pos int
	Msg string
}

func (e *MalformedFragmentError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("malformed SQL fragment at byte %d: %s", e.Pos, e.Msg)
}
