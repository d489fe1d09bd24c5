// Package apperrors defines the error taxonomy shared by the review engine,
// its repositories and its callers.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAccessDenied      = errors.New("access denied")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrApplyFailure      = errors.New("apply failure")
	ErrValidation        = errors.New("validation failed")
)

// ConflictError reports an optimistic-concurrency version mismatch.
type ConflictError struct {
	Expected int64
	Current  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: expected version %d, current version %d", e.Expected, e.Current)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TransitionError reports an operation that is not allowed from the
// proposal's current status.
type TransitionError struct {
	From   string
	Action string
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid transition: cannot %s proposal in status %q: %s", e.Action, e.From, e.Reason)
	}
	return fmt.Sprintf("invalid transition: cannot %s proposal in status %q", e.Action, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ApplyError wraps a write rejected by the underlying record store.
// The cause is recorded verbatim on the failed proposal.
type ApplyError struct {
	Op         string
	Collection string
	Cause      error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s on %s: %v", e.Op, e.Collection, e.Cause)
}

func (e *ApplyError) Is(target error) bool {
	return target == ErrApplyFailure
}

func (e *ApplyError) Unwrap() error {
	return e.Cause
}

// Kind returns the taxonomy name of err for metric and audit labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrApplyFailure):
		return "apply_failure"
	default:
		return "internal"
	}
}
