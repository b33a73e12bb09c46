package gateway

import (
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/courtside/go/internal/live"
	"github.com/rs/zerolog/log"
)

const maxCommandBody = 4096

// CommandHandler applies one-shot operator commands over REST
type CommandHandler struct {
	controller *live.Controller
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(controller *live.Controller) *CommandHandler {
	return &CommandHandler{controller: controller}
}

// HandleCommand handles POST /api/games/{id}/commands
func (h *CommandHandler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	gameID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid game ID format", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	cmd, err := live.ParseCommand(body)
	if err != nil {
		writeError(w, err)
		return
	}

	snap, err := h.controller.Execute(r.Context(), gameID, cmd)
	if err != nil {
		if status, _ := classify(err); status == http.StatusInternalServerError {
			log.Error().Err(err).Str("game_id", gameID.String()).Str("command", string(cmd.Type)).Msg("command failed")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// RegisterRoutes registers command routes with an HTTP mux
func (h *CommandHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/games/{id}/commands", h.HandleCommand)
}
