package signature

import "fmt"

// GroupError reports a group whose fragment could not be signed.
type GroupError struct {
	Name  string
	Path  string
	Cause error
}

func (e *GroupError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("group %q at %s: %v", e.Name, e.Path, e.Cause)
}

func (e *GroupError) Unwrap() error { return e.Cause }

// GroupConflictError reports one group name bound to two different
// fragments within the same document.
type GroupConflictError struct {
	Name        string
	FirstPath   string
	SecondPath  string
	FirstDigest Digest
	OtherDigest Digest
}

func (e *GroupConflictError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("group %q is defined with different SQL at %s and %s", e.Name, e.FirstPath, e.SecondPath)
}

// EntityError reports a hypothesis or theory whose content could not be
// canonicalized.
type EntityError struct {
	Kind  string
	ID    string
	Cause error
}

func (e *EntityError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s %q: %v", e.Kind, e.ID, e.Cause)
}

func (e *EntityError) Unwrap() error { return e.Cause }
