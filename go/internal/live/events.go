package live

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType tags the two facets a session broadcasts
type EventType string

const (
	EventTypeTimerUpdate EventType = "timer_update"
	EventTypeStatUpdate  EventType = "stat_update"
)

// Event is the wire record fanned out to subscribers. Exactly one of the
// embedded facets is set and its fields are flattened into the JSON object.
// Every event carries the full state of its facet, never a delta of it.
// Seq orders events within one Epoch; a session reloaded for the same game
// starts a new epoch and numbers from 1 again.
type Event struct {
	Type      EventType `json:"type"`
	GameID    uuid.UUID `json:"game_id"`
	Epoch     uuid.UUID `json:"epoch"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	*TimerUpdate
	*StatUpdate
}

// TimerUpdate is the clock facet: game clock, shot clock and period.
type TimerUpdate struct {
	ClockMinutes int    `json:"clock_minutes"`
	ClockSeconds int    `json:"clock_seconds"`
	ShotClock    int    `json:"shot_clock"`
	Period       int    `json:"period"`
	Running      bool   `json:"running"`
	Status       Status `json:"status"`
	Expired      bool   `json:"expired,omitempty"` // clock reached 0:00 on this tick
}

// StatUpdate is the score facet plus an optional per-player increment for
// box-score accumulation.
type StatUpdate struct {
	HomeScore   int        `json:"home_score"`
	AwayScore   int        `json:"away_score"`
	PlayerID    *uuid.UUID `json:"player_id,omitempty"`
	PointsAdded int        `json:"points_added,omitempty"`
	FoulsAdded  int        `json:"fouls_added,omitempty"`
	Final       bool       `json:"final,omitempty"`
}

func (e Event) hasIncrement() bool {
	return e.StatUpdate != nil && e.PlayerID != nil
}

// SeqGuard orders events for one game across session epochs.
type SeqGuard struct {
	Epoch uuid.UUID
	Seq   uint64
}

// Admit reports whether ev is newer than what the guard has seen and, if
// so, advances the guard. An event from a different epoch restarts the
// count. Once any sequenced event was admitted, unsequenced events are
// stale. A repeated seq is admitted only when strict is false.
func (g *SeqGuard) Admit(ev Event, strict bool) bool {
	if ev.Epoch != uuid.Nil && ev.Epoch != g.Epoch {
		g.Epoch = ev.Epoch
		g.Seq = 0
	}
	switch {
	case ev.Seq == 0:
		return g.Seq == 0
	case ev.Seq < g.Seq:
		return false
	case ev.Seq == g.Seq && strict:
		return false
	}
	g.Seq = ev.Seq
	return true
}

// DecodeEvent parses a wire event and checks that its facet matches its type.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	switch ev.Type {
	case EventTypeTimerUpdate:
		if ev.TimerUpdate == nil {
			return Event{}, fmt.Errorf("timer_update without clock fields")
		}
	case EventTypeStatUpdate:
		if ev.StatUpdate == nil {
			return Event{}, fmt.Errorf("stat_update without score fields")
		}
	default:
		return Event{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return ev, nil
}
