package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/tailnet-monitor/internal/entity"
	"github.com/nerrad567/tailnet-monitor/internal/pairing"
	"github.com/nerrad567/tailnet-monitor/internal/supervisor"
	"github.com/nerrad567/tailnet-monitor/internal/tailscale"
	"github.com/nerrad567/tailnet-monitor/internal/tracker"
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
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUpstream     = "upstream_error"
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

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps an error from the domain packages to a response.
// Anything unrecognised is treated as an upstream (Tailscale API) failure,
// since every remaining call path ends at the API client.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, entity.ErrEntityNotFound),
		errors.Is(err, supervisor.ErrNotManaged),
		errors.Is(err, tailscale.ErrNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, entity.ErrInvalidEntity),
		errors.Is(err, pairing.ErrInvalidRequest),
		errors.Is(err, tailscale.ErrInvalidArgument):
		writeBadRequest(w, err.Error())
	case errors.Is(err, entity.ErrEntityExists),
		errors.Is(err, supervisor.ErrAlreadyManaged),
		errors.Is(err, tracker.ErrPollInProgress),
		errors.Is(err, tracker.ErrStopped):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, pairing.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	default:
		s.logger.Warn("request failed upstream",
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	}
}
