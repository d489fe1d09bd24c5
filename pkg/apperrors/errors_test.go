package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	storeErr := errors.New("duplicate key value violates unique constraint")

	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, ""},
		{"not found", fmt.Errorf("load proposal: %w", ErrNotFound), "not_found"},
		{"access denied", ErrAccessDenied, "access_denied"},
		{"typed conflict", &ConflictError{Expected: 1, Current: 2}, "conflict"},
		{"typed transition", &TransitionError{From: "applied", Action: "approve"}, "invalid_transition"},
		{"apply failure", &ApplyError{Op: "insert", Collection: "risks", Cause: storeErr}, "apply_failure"},
		{"unknown", storeErr, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Kind(tt.err))
		})
	}
}

func TestApplyError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("approve: %w", &ApplyError{Op: "update", Collection: "actions", Cause: cause})

	assert.ErrorIs(t, err, ErrApplyFailure)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestConflictError_As(t *testing.T) {
	err := fmt.Errorf("update: %w", &ConflictError{Expected: 3, Current: 5})

	var conflict *ConflictError
	if assert.ErrorAs(t, err, &conflict) {
		assert.Equal(t, int64(3), conflict.Expected)
		assert.Equal(t, int64(5), conflict.Current)
	}
}
