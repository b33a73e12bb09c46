package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Role decides what a connection may do
type Role string

const (
	RoleViewer  Role = "viewer"
	RoleConsole Role = "console" // scorer's table, may send commands
)

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// Connection is one subscribed WebSocket client. It satisfies
// broadcast.Subscriber: the hub queues onto send and the write pump drains it.
type Connection struct {
	id          string
	gameID      uuid.UUID
	role        Role
	conn        *websocket.Conn
	config      ConnectionConfig
	connectedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	unsubscribe func()

	onMessage func(c *Connection, message []byte)
}

func newConnection(conn *websocket.Conn, gameID uuid.UUID, role Role, config ConnectionConfig) *Connection {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}
	return &Connection{
		id:          uuid.New().String(),
		gameID:      gameID,
		role:        role,
		conn:        conn,
		config:      config,
		connectedAt: time.Now(),
		send:        make(chan []byte, config.SendBufferSize),
		done:        make(chan struct{}),
	}
}

func (c *Connection) ID() string {
	return c.id
}

// Send queues data for the write pump without blocking.
func (c *Connection) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close stops both pumps. Safe to call more than once and from any goroutine.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Connection) setUnsubscribe(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribe = fn
}

func (c *Connection) release() {
	c.mu.Lock()
	fn := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.release()
		c.conn.Close()

		log.Info().
			Str("connection_id", c.id).
			Str("game_id", c.gameID.String()).
			Dur("connected_for", time.Since(c.connectedAt)).
			Msg("connection closed")
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to write message to WebSocket")
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to send ping")
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		if c.onMessage != nil {
			c.onMessage(c, message)
		}
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
}
