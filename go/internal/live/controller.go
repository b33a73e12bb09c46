package live

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Controller is the entry point transports use: it resolves the session for
// a game through the registry and applies commands to it.
type Controller struct {
	registry *Registry
	store    GameStore
	notifier FinalNotifier
}

// NewController creates a controller. notifier may be nil.
func NewController(registry *Registry, store GameStore, notifier FinalNotifier) *Controller {
	return &Controller{
		registry: registry,
		store:    store,
		notifier: notifier,
	}
}

// Registry returns the registry the controller resolves sessions through.
func (c *Controller) Registry() *Registry {
	return c.registry
}

// Join returns the session for a game, creating it if needed.
func (c *Controller) Join(ctx context.Context, gameID uuid.UUID) (*Session, error) {
	return c.registry.GetOrCreate(ctx, gameID)
}

// Lookup returns the snapshot of a live session without creating one.
func (c *Controller) Lookup(gameID uuid.UUID) (Snapshot, bool) {
	s, ok := c.registry.Get(gameID)
	if !ok {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

// Execute validates cmd, applies it to the game's session and returns the
// resulting snapshot.
func (c *Controller) Execute(ctx context.Context, gameID uuid.UUID, cmd Command) (Snapshot, error) {
	if err := cmd.Validate(); err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	err := c.withSession(ctx, gameID, func(s *Session) error {
		if err := c.apply(ctx, s, cmd); err != nil {
			return err
		}
		snap = s.Snapshot()
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (c *Controller) Start(ctx context.Context, gameID uuid.UUID) error {
	return c.withSession(ctx, gameID, (*Session).Start)
}

func (c *Controller) Stop(ctx context.Context, gameID uuid.UUID) error {
	return c.withSession(ctx, gameID, (*Session).Stop)
}

func (c *Controller) AddPoints(ctx context.Context, gameID uuid.UUID, side Side, amount int, playerID *uuid.UUID) error {
	return c.withSession(ctx, gameID, func(s *Session) error {
		return s.AddPoints(side, amount, playerID)
	})
}

func (c *Controller) AddFoul(ctx context.Context, gameID, playerID uuid.UUID) error {
	return c.withSession(ctx, gameID, func(s *Session) error {
		return s.AddFoul(playerID)
	})
}

func (c *Controller) ResetShotClock(ctx context.Context, gameID uuid.UUID, seconds int) error {
	return c.withSession(ctx, gameID, func(s *Session) error {
		return s.ResetShotClock(seconds)
	})
}

func (c *Controller) SetPeriod(ctx context.Context, gameID uuid.UUID, period int) error {
	return c.withSession(ctx, gameID, func(s *Session) error {
		return s.SetPeriod(period)
	})
}

func (c *Controller) SetClock(ctx context.Context, gameID uuid.UUID, minutes, seconds int) error {
	return c.withSession(ctx, gameID, func(s *Session) error {
		return s.SetClock(minutes, seconds)
	})
}

// End finalizes the game, persists the result and evicts the session.
func (c *Controller) End(ctx context.Context, gameID uuid.UUID) error {
	return c.withSession(ctx, gameID, func(s *Session) error {
		return c.end(ctx, s)
	})
}

func (c *Controller) apply(ctx context.Context, s *Session, cmd Command) error {
	switch cmd.Type {
	case CommandStart:
		return s.Start()
	case CommandStop:
		return s.Stop()
	case CommandAddPoints:
		amount, err := cmd.amount()
		if err != nil {
			return err
		}
		return s.AddPoints(cmd.Side, amount, cmd.PlayerID)
	case CommandAddFoul:
		return s.AddFoul(*cmd.PlayerID)
	case CommandResetShotClock:
		return s.ResetShotClock(*cmd.Seconds)
	case CommandSetPeriod:
		return s.SetPeriod(*cmd.Period)
	case CommandSetClock:
		return s.SetClock(*cmd.Minutes, *cmd.Seconds)
	case CommandEnd:
		return c.end(ctx, s)
	default:
		return invalidf("unknown command type %q", cmd.Type)
	}
}

func (c *Controller) end(ctx context.Context, s *Session) error {
	result, err := s.End(ctx, c.finalize)
	if err != nil {
		return err
	}
	c.registry.Evict(s.GameID())

	if c.notifier != nil {
		if err := c.notifier.GameFinalized(ctx, result); err != nil {
			log.Error().Err(err).Str("game_id", s.GameID().String()).Msg("Failed to announce final result")
		}
	}
	return nil
}

func (c *Controller) finalize(ctx context.Context, result FinalResult) error {
	if err := c.store.FinalizeGame(ctx, result); err != nil {
		return fmt.Errorf("finalize game %s: %w", result.GameID, err)
	}
	return nil
}

// withSession runs fn against the game's session. If the session was
// retired by the sweeper between lookup and use, the lookup is retried once
// against the reloaded session.
func (c *Controller) withSession(ctx context.Context, gameID uuid.UUID, fn func(*Session) error) error {
	for attempt := 0; ; attempt++ {
		s, err := c.registry.GetOrCreate(ctx, gameID)
		if err != nil {
			return err
		}
		err = fn(s)
		if errors.Is(err, errSessionRetired) && attempt == 0 {
			continue
		}
		return err
	}
}
