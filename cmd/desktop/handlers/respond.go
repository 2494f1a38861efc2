package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/noorsync/backend/internal/errors"
	"github.com/kimhsiao/noorsync/backend/internal/logging"
)

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

// writeError maps an application error code to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case errors.ErrInvalid:
		status = http.StatusBadRequest
	case errors.ErrNotFound:
		status = http.StatusNotFound
	case errors.ErrSyncInProgress, errors.ErrSyncConflict:
		status = http.StatusConflict
	case errors.ErrRemoteUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		logging.ErrorWithCode("Request failed", string(code), err)
	}

	writeJSON(w, status, map[string]interface{}{
		"error":     string(code),
		"message":   err.Error(),
		"retryable": errors.Retryable(err),
	})
}
