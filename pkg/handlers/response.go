package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ekaya-inc/ekaya-review/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-review/pkg/logging"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var statusByKind = map[string]int{
	"not_found":          http.StatusNotFound,
	"access_denied":      http.StatusForbidden,
	"conflict":           http.StatusConflict,
	"invalid_transition": http.StatusConflict,
	"validation":         http.StatusBadRequest,
	"apply_failure":      http.StatusUnprocessableEntity,
}

// StatusFor maps err to an HTTP status by its error kind.
func StatusFor(err error) int {
	if status, ok := statusByKind[apperrors.Kind(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteError writes err as a JSON error response. Internal errors carry no
// detail; the rest carry the sanitized error text.
func WriteError(w http.ResponseWriter, err error) error {
	status := StatusFor(err)
	body := ErrorBody{Error: apperrors.Kind(err), Message: logging.SanitizeError(err)}
	if status == http.StatusInternalServerError {
		body.Error = "internal"
		body.Message = "internal error"
	}
	return WriteJSON(w, status, body)
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}
