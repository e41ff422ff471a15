package jobs

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a rejected request; nothing was written.
	ErrValidation = errors.New("validation failed")
	// ErrPrecondition indicates a job cannot run because required data is missing.
	ErrPrecondition = errors.New("precondition failed")
	// ErrInvalidTransition indicates a conditional update matched no row in the expected state.
	ErrInvalidTransition = errors.New("invalid job transition")
)

// ValidationError names the rejected field. It matches ErrValidation under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return "validation failed"
	}
	if e.Reason == "" {
		return e.Field + ": invalid"
	}
	return e.Field + ": " + e.Reason
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
