package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-review/pkg/apperrors"
)

func TestWriteError_MapsKindToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"not found", fmt.Errorf("load proposal: %w", apperrors.ErrNotFound), http.StatusNotFound, "not_found"},
		{"access denied", apperrors.ErrAccessDenied, http.StatusForbidden, "access_denied"},
		{"conflict", &apperrors.ConflictError{Expected: 2, Current: 3}, http.StatusConflict, "conflict"},
		{"transition", &apperrors.TransitionError{From: "applied", Action: "approve"}, http.StatusConflict, "invalid_transition"},
		{"validation", fmt.Errorf("%w: target_id is required", apperrors.ErrValidation), http.StatusBadRequest, "validation"},
		{"apply failure", &apperrors.ApplyError{Op: "insert", Collection: "risks", Cause: errors.New("boom")}, http.StatusUnprocessableEntity, "apply_failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, WriteError(w, tt.err))

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body ErrorBody
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.kind, body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestWriteError_InternalHidesDetail(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteError(w, errors.New("dial postgres://review:s3cret@db:5432")))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	raw := w.Body.String()
	assert.NotContains(t, raw, "s3cret")
	var body ErrorBody
	require.NoError(t, json.Unmarshal([]byte(raw), &body))
	assert.Equal(t, ErrorBody{Error: "internal", Message: "internal error"}, body)
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteJSON(w, http.StatusCreated, map[string]int{"count": 5}))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"count":5}`, w.Body.String())

	// channels cannot be encoded
	assert.Error(t, WriteJSON(httptest.NewRecorder(), http.StatusOK, make(chan int)))
}
