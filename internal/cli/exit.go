package cli

import (
	"errors"
	"fmt"
)

const (
	ExitSuccess           = 0
	ExitEvaluationFailed  = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// ExitError carries the semantic exit code of a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func invalidInvocationf(format string, args ...any) error {
	return &ExitError{Code: ExitInvalidInvocation, Err: fmt.Errorf(format, args...)}
}

func configError(err error) error {
	return &ExitError{Code: ExitConfigError, Err: err}
}

func internalError(err error) error {
	return &ExitError{Code: ExitInternalError, Err: err}
}

// ExitCode extracts the semantic exit code from err. Errors without one
// are treated as invalid invocations, which is what cobra returns for
// unknown flags and bad arguments.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *ExitError
	if errors.As(err, &ee) && ee != nil {
		if ee.Code != 0 {
			return ee.Code
		}
		return ExitInternalError
	}
	return ExitInvalidInvocation
}
