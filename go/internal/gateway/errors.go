package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcdev12/courtside/go/internal/live"
	"github.com/rs/zerolog/log"
)

// Error codes sent to clients
const (
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeInvalidCommand = "invalid_command"
	CodeForbidden      = "forbidden"
	CodeInternal       = "internal"
)

// classify maps a live core error to an HTTP status and client code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, live.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, live.ErrSessionEnded), errors.Is(err, live.ErrGameFinal):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, live.ErrInvalidCommand):
		return http.StatusBadRequest, CodeInvalidCommand
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// ErrorResponse is the body of every failed REST call
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Code: code, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
