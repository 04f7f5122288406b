package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/weavemesh/weave/internal/session"
	"github.com/weavemesh/weave/pkg/wire"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, wire.ErrorResponse{
		Error: wire.ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeSessionError maps session package errors to the wire error codes.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrUnknownAgent):
		writeError(w, http.StatusNotFound, wire.ErrCodeUnknownAgent, err.Error())
	case errors.Is(err, session.ErrThreadNotFound):
		writeError(w, http.StatusNotFound, wire.ErrCodeThreadNotFound, err.Error())
	case errors.Is(err, session.ErrThreadClosed):
		writeError(w, http.StatusConflict, wire.ErrCodeThreadClosed, err.Error())
	case errors.Is(err, session.ErrNotParticipant):
		writeError(w, http.StatusForbidden, wire.ErrCodeNotParticipant, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, wire.ErrCodeInternalError, err.Error())
	}
}
