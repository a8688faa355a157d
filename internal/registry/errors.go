// SPDX-License-Identifier: MIT

package registry

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/distvote/internal/log"
	"github.com/ManuGH/distvote/internal/session"
)

// APIError is the JSON body of every non-2xx response.
type APIError struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Error codes.
const (
	codeBadRequest  = "bad_request"
	codeInvalidID   = "invalid_session_id"
	codeNotFound    = "session_not_found"
	codeEmptyPatch  = "nothing_to_update"
	codeInternal    = "internal_error"
	codeUnsupported = "unsupported_media_type"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(r.Context()).Warn().Err(err).Str(log.FieldEvent, "response.encode_failed").Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	writeJSON(w, r, status, APIError{
		Error:     code,
		Detail:    detail,
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

// writeStoreError maps store and validation errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, r *http.Request, op string, err error) string {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, err.Error())
		return "not_found"
	case errors.Is(err, session.ErrEmptyPatch):
		writeError(w, r, http.StatusBadRequest, codeEmptyPatch, err.Error())
		return "invalid"
	case errors.Is(err, session.ErrInvalidSession), errors.Is(err, session.ErrInvalidID):
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return "invalid"
	default:
		log.FromContext(r.Context()).Error().
			Err(err).
			Str(log.FieldEvent, "store.failed").
			Str("op", op).
			Msg("session store operation failed")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "session store unavailable")
		return "error"
	}
}
