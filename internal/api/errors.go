package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/kwikset-bridge/internal/cloud"
	"github.com/nerrad567/kwikset-bridge/internal/coordinator"
	"github.com/nerrad567/kwikset-bridge/internal/retry"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeValidation   = "validation_error"
	ErrCodeNotSupported = "not_supported"
	ErrCodeNotReady     = "not_ready"
	ErrCodeCloud        = "cloud_error"
	ErrCodeInternal     = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeCommandError maps coordinator and cloud errors onto HTTP
// responses. Cloud failures are the upstream's fault, not the caller's,
// so they surface as 502 rather than 500.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrDeleteAllNotSupported):
		writeError(w, http.StatusBadRequest, ErrCodeNotSupported, err.Error())
	case errors.Is(err, coordinator.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotReady, err.Error())
	case errors.Is(err, cloud.ErrInvalidCode), errors.Is(err, cloud.ErrInvalidSchedule):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	case cloud.IsAuthError(err):
		writeError(w, http.StatusBadGateway, ErrCodeCloud, "cloud authentication failed")
	case retry.IsUpdateFailed(err) || cloud.IsTransientError(err):
		writeError(w, http.StatusBadGateway, ErrCodeCloud, "cloud request failed")
	default:
		writeInternalError(w, "internal error")
	}
}
