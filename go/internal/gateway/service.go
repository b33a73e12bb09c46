package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/mcdev12/courtside/go/internal/broadcast"
	"github.com/mcdev12/courtside/go/internal/live"
	"github.com/rs/zerolog/log"
)

// Service is the live game gateway: WebSocket subscriptions, operator
// commands and state reads over one controller and hub.
type Service struct {
	controller     *live.Controller
	hub            *broadcast.Hub
	wsHandler      *WebSocketHandler
	commandHandler *CommandHandler
	stateHandler   *StateHandler
	background     []func(context.Context)
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	// RemoteViewers makes viewer joins for games with no session on this
	// instance subscribe to the relayed stream and catch up from the
	// cache or store instead of creating a session.
	RemoteViewers bool
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// Dependencies are the collaborators the gateway serves from. Lister and
// Cache are optional.
type Dependencies struct {
	Controller *live.Controller
	Hub        *broadcast.Hub
	Games      live.GameStore
	Roster     live.RosterStore
	Lister     GameLister
	Cache      StateCache
}

// NewService creates a new gateway service
func NewService(config Config, deps Dependencies) *Service {
	stateHandler := NewStateHandler(deps.Controller, deps.Games, deps.Roster, deps.Lister, deps.Cache)
	wsHandler := NewWebSocketHandler(config.ConnectionConfig, deps.Controller, deps.Hub)
	if config.RemoteViewers {
		wsHandler.remote = stateHandler
	}
	return &Service{
		controller:     deps.Controller,
		hub:            deps.Hub,
		wsHandler:      wsHandler,
		commandHandler: NewCommandHandler(deps.Controller),
		stateHandler:   stateHandler,
	}
}

// Go registers a background loop to run for the lifetime of Start.
func (s *Service) Go(fn func(context.Context)) {
	s.background = append(s.background, fn)
}

// Start runs the session sweeper and any registered loops until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting live gateway service")

	go s.controller.Registry().Run(ctx)

	var wg sync.WaitGroup
	for _, fn := range s.background {
		wg.Add(1)
		go func(fn func(context.Context)) {
			defer wg.Done()
			fn(ctx)
		}(fn)
	}

	<-ctx.Done()

	log.Info().Msg("live gateway service shutting down")
	err := s.Stop()
	// let background loops finish before their clients are closed
	wg.Wait()
	return err
}

// Stop closes every subscriber and checkpoints live sessions
func (s *Service) Stop() error {
	s.hub.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	s.controller.Registry().Shutdown(ctx)

	log.Info().Msg("live gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket and REST routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.commandHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("live gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.hub.Stats()
	return map[string]interface{}{
		"service":           "live_gateway",
		"status":            "running",
		"total_connections": stats.TotalSubscribers,
		"active_games":      stats.ActiveGames,
		"live_sessions":     s.controller.Registry().Len(),
	}
}

const defaultShutdownTimeout = 5 * time.Second
