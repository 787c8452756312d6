package server

import (
	"encoding/json"
	"net/http"

	"github.com/gantryci/gantry/api"
	"github.com/gantryci/gantry/internal/gantry/archive"
	"github.com/gantryci/gantry/pkg/errors"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeError translates a domain error into its HTTP form. Server-side
// failures are logged with their full classification before the answer
// goes out; caller-fault errors are the caller's to log.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		errors.LogError(s.logger, err, "request failed")
	}
	s.writeJSON(w, status, api.Error{Error: err.Error()})
}

// badRequest covers transport-level failures (unreadable bodies, bad
// query values) that never reach the domain
func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, api.Error{Error: msg})
}

// statusFor maps an error's category onto a status code: rejected
// definitions and bad configuration are the caller's fault, unknown
// names are 404, and refused state changes or mismatched leases are
// conflicts. Anything unclassified is a server-side failure.
func statusFor(err error) int {
	// The archive's sentinels live outside the shared taxonomy
	if errors.Is(err, archive.ErrRecordNotFound) {
		return http.StatusNotFound
	}

	switch errors.GetCategory(err) {
	case errors.CategoryValidation, errors.CategoryConfiguration:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
