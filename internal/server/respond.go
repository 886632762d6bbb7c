package server

import (
	"encoding/json"
	"net/http"

	"github.com/kindled-app/kindled/internal/apperr"
	"github.com/kindled-app/kindled/internal/logger"
)

// writeJSON serializes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "err", err)
	}
}

// writeError maps the engine error taxonomy onto HTTP statuses in one
// place, keeping handlers clean. Conflicts never reach here: engines
// absorb them as idempotent success.
func writeError(w http.ResponseWriter, err error) {
	type body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}

	switch {
	case apperr.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, body{Error: err.Error(), Kind: "validation"})
	case apperr.IsQuotaExceeded(err):
		writeJSON(w, http.StatusTooManyRequests, body{Error: err.Error(), Kind: "quota_exceeded"})
	case apperr.IsTransient(err):
		writeJSON(w, http.StatusServiceUnavailable, body{Error: "temporarily unavailable", Kind: "transient"})
	default:
		logger.Error("internal error", "err", err)
		writeJSON(w, http.StatusInternalServerError, body{Error: "internal error", Kind: "internal"})
	}
}
