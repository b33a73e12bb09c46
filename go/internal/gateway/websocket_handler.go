package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/courtside/go/internal/broadcast"
	"github.com/mcdev12/courtside/go/internal/live"
	"github.com/rs/zerolog/log"
)

// CommandReply answers a command sent by a console connection
type CommandReply struct {
	Type      string `json:"type"` // "ack" or "error"
	RequestID string `json:"request_id,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// snapshotSource resolves the latest known state of a game whose session
// may be held by another instance
type snapshotSource interface {
	Snapshot(ctx context.Context, gameID uuid.UUID) (live.Snapshot, string, error)
}

// WebSocketHandler handles WebSocket upgrade requests for game connections
type WebSocketHandler struct {
	upgrader       websocket.Upgrader
	config         ConnectionConfig
	controller     *live.Controller
	hub            *broadcast.Hub
	remote         snapshotSource // set when viewers may follow sessions held elsewhere
	commandTimeout time.Duration
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(config ConnectionConfig, controller *live.Controller, hub *broadcast.Hub) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:         config,
		controller:     controller,
		hub:            hub,
		commandTimeout: 10 * time.Second,
	}
}

// HandleGameConnection handles GET /ws/games?game_id=...&role=viewer|console
func (h *WebSocketHandler) HandleGameConnection(w http.ResponseWriter, r *http.Request) {
	gameIDStr := r.URL.Query().Get("game_id")
	if gameIDStr == "" {
		http.Error(w, "game_id is required", http.StatusBadRequest)
		return
	}
	gameID, err := uuid.Parse(gameIDStr)
	if err != nil {
		http.Error(w, "invalid game_id format", http.StatusBadRequest)
		return
	}

	role := Role(r.URL.Query().Get("role"))
	switch role {
	case "":
		role = RoleViewer
	case RoleViewer, RoleConsole:
	default:
		http.Error(w, "role must be viewer or console", http.StatusBadRequest)
		return
	}

	if role == RoleViewer && h.remote != nil {
		if _, ok := h.controller.Registry().Get(gameID); !ok {
			h.watchRemote(w, r, gameID)
			return
		}
	}

	session, err := h.controller.Join(r.Context(), gameID)
	if err != nil {
		status, _ := classify(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("game_id", gameID.String()).Msg("failed to join game")
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		log.Error().Err(err).Str("game_id", gameID.String()).Msg("failed to upgrade WebSocket connection")
		return
	}

	c := newConnection(conn, gameID, role, h.config)
	if role == RoleConsole {
		c.onMessage = h.handleConsoleMessage
	} else {
		c.onMessage = h.handleViewerMessage
	}

	// Catch-up and subscription happen under the session lock so no event
	// falls between them.
	session.Observe(func(snap live.Snapshot) {
		h.sendSnapshot(c, snap)
		c.setUnsubscribe(h.hub.Subscribe(gameID, c))
	})

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.id).
		Str("game_id", gameID.String()).
		Str("role", string(role)).
		Msg("WebSocket connection established")
}

// watchRemote connects a viewer to a game with no session on this instance.
// The viewer is subscribed before the catch-up is sent, so a live event may
// arrive ahead of it; clients drop the older of the two by epoch and seq.
func (h *WebSocketHandler) watchRemote(w http.ResponseWriter, r *http.Request, gameID uuid.UUID) {
	snap, source, err := h.remote.Snapshot(r.Context(), gameID)
	if err != nil {
		status, _ := classify(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("game_id", gameID.String()).Msg("failed to load remote game state")
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID.String()).Msg("failed to upgrade WebSocket connection")
		return
	}

	c := newConnection(conn, gameID, RoleViewer, h.config)
	c.onMessage = h.handleViewerMessage
	c.setUnsubscribe(h.hub.Subscribe(gameID, c))
	h.sendSnapshot(c, snap)

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.id).
		Str("game_id", gameID.String()).
		Str("source", source).
		Msg("WebSocket viewer following relayed game")
}

func (h *WebSocketHandler) sendSnapshot(c *Connection, snap live.Snapshot) {
	for _, ev := range snap.Events() {
		ev.Timestamp = time.Now().UTC()
		data, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal snapshot event")
			continue
		}
		c.Send(data)
	}
}

func (h *WebSocketHandler) handleViewerMessage(c *Connection, message []byte) {
	log.Debug().
		Str("connection_id", c.id).
		Int("bytes", len(message)).
		Msg("ignoring message from viewer")
	h.reply(c, CommandReply{Type: "error", Code: CodeForbidden, Error: "viewers cannot send commands"})
}

func (h *WebSocketHandler) handleConsoleMessage(c *Connection, message []byte) {
	var envelope struct {
		RequestID string `json:"request_id"`
	}
	_ = json.Unmarshal(message, &envelope)

	cmd, err := live.ParseCommand(message)
	if err != nil {
		_, code := classify(err)
		h.reply(c, CommandReply{Type: "error", RequestID: envelope.RequestID, Code: code, Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.commandTimeout)
	defer cancel()

	snap, err := h.controller.Execute(ctx, c.gameID, cmd)
	if err != nil {
		status, code := classify(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("game_id", c.gameID.String()).Str("command", string(cmd.Type)).Msg("command failed")
			msg = "internal error"
		}
		h.reply(c, CommandReply{Type: "error", RequestID: envelope.RequestID, Code: code, Error: msg})
		return
	}

	log.Debug().
		Str("connection_id", c.id).
		Str("game_id", c.gameID.String()).
		Str("command", string(cmd.Type)).
		Msg("console command applied")
	h.reply(c, CommandReply{Type: "ack", RequestID: envelope.RequestID, Seq: snap.Seq})
}

func (h *WebSocketHandler) reply(c *Connection, reply CommandReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal command reply")
		return
	}
	if !c.Send(data) {
		log.Warn().Str("connection_id", c.id).Msg("reply dropped, send buffer full")
	}
}

// HandleConnectionStats handles GET /ws/stats
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		broadcast.Stats
		LiveSessions int `json:"live_sessions"`
	}{
		Stats:        h.hub.Stats(),
		LiveSessions: h.controller.Registry().Len(),
	})
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/games", h.HandleGameConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}
