package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// RegistryConfig tunes session creation and idle eviction.
type RegistryConfig struct {
	Rules         Rules
	TickInterval  time.Duration
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	Clock         clockwork.Clock
	// Roster, when set, is read once per session so stat commands only
	// name players of the two teams.
	Roster RosterStore
}

// Registry maps game ids to their single live session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	group    singleflight.Group

	store GameStore
	pub   Publisher
	subs  SubscriberCounter
	cfg   RegistryConfig
}

// NewRegistry creates a registry. subs may be nil, in which case every idle
// session is an eviction candidate.
func NewRegistry(store GameStore, pub Publisher, subs SubscriberCounter, cfg RegistryConfig) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
		store:    store,
		pub:      pub,
		subs:     subs,
		cfg:      cfg,
	}
}

// Rules returns the rules sessions are created with.
func (r *Registry) Rules() Rules {
	return r.cfg.Rules
}

// Get returns the live session for a game without creating one.
func (r *Registry) Get(gameID uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[gameID]
	if !ok || s.isRetired() {
		return nil, false
	}
	return s, true
}

// GetOrCreate returns the session for a game, loading the persisted record
// on first use. Concurrent first requests for the same game share a single
// load and observe the same session; the load is detached from the first
// caller's cancellation. Unknown and already-final games create nothing.
func (r *Registry) GetOrCreate(ctx context.Context, gameID uuid.UUID) (*Session, error) {
	if s, ok := r.Get(gameID); ok {
		return s, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(gameID.String(), func() (interface{}, error) {
		if s, ok := r.Get(gameID); ok {
			return s, nil
		}

		game, err := r.store.GetGame(loadCtx, gameID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("load game %s: %w", gameID, err)
		}
		if game.IsFinal() {
			return nil, ErrGameFinal
		}

		var roster map[uuid.UUID]Side
		if r.cfg.Roster != nil {
			players, err := r.cfg.Roster.ListPlayersByTeams(loadCtx, game.HomeTeamID, game.AwayTeamID)
			if err != nil {
				return nil, fmt.Errorf("load rosters for game %s: %w", gameID, err)
			}
			roster = RosterSides(game, players)
		}

		s := NewSession(game, SessionConfig{
			Rules:        r.cfg.Rules,
			Clock:        r.cfg.Clock,
			TickInterval: r.cfg.TickInterval,
			Publisher:    r.pub,
			Roster:       roster,
		})

		r.mu.Lock()
		r.sessions[gameID] = s
		r.mu.Unlock()

		log.Info().
			Str("game_id", gameID.String()).
			Str("home_team", game.HomeTeamName).
			Str("away_team", game.AwayTeamName).
			Str("epoch", s.Epoch().String()).
			Int("roster_size", len(roster)).
			Msg("Live session created")
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Evict removes a game's session and stops its driver. Evicting an absent
// game is a no-op.
func (r *Registry) Evict(gameID uuid.UUID) {
	r.mu.Lock()
	s, ok := r.sessions[gameID]
	delete(r.sessions, gameID)
	r.mu.Unlock()

	if !ok {
		return
	}
	s.Close()
	log.Info().Str("game_id", gameID.String()).Msg("Live session evicted")
}

// Len returns the number of sessions held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep evicts sessions that are stopped, have no subscribers and have seen
// no command for IdleTimeout. Each score is checkpointed before eviction;
// a session whose checkpoint fails is kept.
func (r *Registry) Sweep(ctx context.Context) int {
	r.mu.RLock()
	candidates := make(map[uuid.UUID]*Session, len(r.sessions))
	for id, s := range r.sessions {
		candidates[id] = s
	}
	r.mu.RUnlock()

	now := r.cfg.Clock.Now()
	evicted := 0
	for id, s := range candidates {
		if r.subs != nil && r.subs.SubscriberCount(id) > 0 {
			continue
		}

		retired, err := s.retireIfIdle(ctx, now, r.cfg.IdleTimeout, r.checkpoint)
		if err != nil {
			log.Error().Err(err).Str("game_id", id.String()).Msg("Failed to checkpoint idle session")
			continue
		}
		if !retired {
			continue
		}

		r.mu.Lock()
		if r.sessions[id] == s {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
		evicted++

		log.Info().Str("game_id", id.String()).Msg("Idle live session evicted")
	}
	return evicted
}

func (r *Registry) checkpoint(ctx context.Context, snap Snapshot) error {
	return r.store.SaveScore(ctx, snap.GameID, snap.HomeScore, snap.AwayScore)
}

// Run sweeps on every SweepInterval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := r.cfg.Clock.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	log.Info().
		Dur("idle_timeout", r.cfg.IdleTimeout).
		Dur("sweep_interval", r.cfg.SweepInterval).
		Msg("Session sweeper started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Session sweeper stopped")
			return
		case <-ticker.Chan():
			if n := r.Sweep(ctx); n > 0 {
				log.Debug().Int("evicted", n).Msg("Session sweep complete")
			}
		}
	}
}

// Shutdown stops every session's driver and checkpoints its score.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[uuid.UUID]*Session)
	r.mu.Unlock()

	for id, s := range sessions {
		s.Close()
		snap := s.Snapshot()
		if snap.Status == StatusEnded {
			continue
		}
		if err := r.checkpoint(ctx, snap); err != nil {
			log.Error().Err(err).Str("game_id", id.String()).Msg("Failed to checkpoint session on shutdown")
		}
	}
}
