package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/courtside/go/internal/live"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// TTL constants
const (
	LiveStateTTL  = 2 * time.Hour
	FinalStateTTL = 6 * time.Hour
)

// ErrMiss is returned by Get when no state is cached for a game.
var ErrMiss = errors.New("snapshot not cached")

// State is the last known scoreboard of a game as cached in Redis.
type State struct {
	GameID       uuid.UUID   `json:"game_id"`
	Epoch        uuid.UUID   `json:"epoch"`
	Seq          uint64      `json:"seq"`
	HomeScore    int         `json:"home_score"`
	AwayScore    int         `json:"away_score"`
	ClockMinutes int         `json:"clock_minutes"`
	ClockSeconds int         `json:"clock_seconds"`
	ShotClock    int         `json:"shot_clock"`
	Period       int         `json:"period"`
	Running      bool        `json:"running"`
	Status       live.Status `json:"status"`
	Final        bool        `json:"final"`
	UpdatedAt    time.Time   `json:"updated_at"`

	touched time.Time
}

// apply folds an event into the state. Events older than the state within
// the same session epoch are ignored.
func (s *State) apply(ev live.Event) {
	guard := live.SeqGuard{Epoch: s.Epoch, Seq: s.Seq}
	if !guard.Admit(ev, false) {
		return
	}
	s.Epoch = guard.Epoch
	s.Seq = guard.Seq
	s.UpdatedAt = ev.Timestamp
	if ev.TimerUpdate != nil {
		s.ClockMinutes = ev.ClockMinutes
		s.ClockSeconds = ev.ClockSeconds
		s.ShotClock = ev.ShotClock
		s.Period = ev.TimerUpdate.Period
		s.Running = ev.Running
		s.Status = ev.Status
		if ev.Status == live.StatusEnded {
			s.Final = true
		}
	}
	if ev.StatUpdate != nil {
		s.HomeScore = ev.HomeScore
		s.AwayScore = ev.AwayScore
		if ev.Final {
			s.Final = true
		}
	}
}

// Key returns the Redis key a game's state is stored under.
func Key(gameID uuid.UUID) string {
	return fmt.Sprintf("game:%s:live", gameID)
}

// RedisCache keeps the latest scoreboard of every live game in Redis so
// read endpoints can serve games whose session lives on another instance.
// Publish only records the state in memory; Run flushes changed games on
// an interval with one pipeline. States of final games, and of games
// with no event for LiveStateTTL, are released after their flush.
type RedisCache struct {
	client   *redis.Client
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	states map[uuid.UUID]*State
	dirty  map[uuid.UUID]struct{}
}

// NewRedisCache creates a cache writing through client every interval.
func NewRedisCache(client *redis.Client, interval time.Duration) *RedisCache {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &RedisCache{
		client:   client,
		interval: interval,
		now:      time.Now,
		states:   make(map[uuid.UUID]*State),
		dirty:    make(map[uuid.UUID]struct{}),
	}
}

// Publish records ev against the game's cached state.
func (c *RedisCache) Publish(gameID uuid.UUID, ev live.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[gameID]
	if !ok {
		st = &State{GameID: gameID}
		c.states[gameID] = st
	}
	st.apply(ev)
	st.touched = c.now()
	c.dirty[gameID] = struct{}{}
}

// pending returns copies of the states changed since the last flush and
// clears the dirty set. Final games and games idle past LiveStateTTL are
// released from memory.
func (c *RedisCache) pending() []State {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]State, 0, len(c.dirty))
	for id := range c.dirty {
		st := c.states[id]
		out = append(out, *st)
		if st.Final {
			delete(c.states, id)
		}
	}
	c.dirty = make(map[uuid.UUID]struct{})

	cutoff := c.now().Add(-LiveStateTTL)
	for id, st := range c.states {
		if st.touched.Before(cutoff) {
			delete(c.states, id)
		}
	}
	return out
}

// Len returns the number of games held in memory.
func (c *RedisCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

// Flush writes every changed state to Redis.
func (c *RedisCache) Flush(ctx context.Context) error {
	states := c.pending()
	if len(states) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for _, st := range states {
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("marshaling state: %w", err)
		}
		ttl := LiveStateTTL
		if st.Final {
			ttl = FinalStateTTL
		}
		pipe.Set(ctx, Key(st.GameID), data, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing %d states: %w", len(states), err)
	}
	return nil
}

// Get reads a game's cached state.
func (c *RedisCache) Get(ctx context.Context, gameID uuid.UUID) (*State, error) {
	data, err := c.client.Get(ctx, Key(gameID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshaling state: %w", err)
	}
	return &st, nil
}

// Run flushes on every interval until ctx is done, then flushes once more.
func (c *RedisCache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.Flush(flushCtx); err != nil {
				log.Error().Err(err).Msg("Failed final snapshot flush")
			}
			cancel()
			return
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to flush snapshots to Redis")
			}
		}
	}
}
