package live

import "github.com/google/uuid"

// Snapshot is a point-in-time copy of a session's state.
type Snapshot struct {
	GameID       uuid.UUID              `json:"game_id"`
	Epoch        uuid.UUID              `json:"epoch"`
	Status       Status                 `json:"status"`
	Seq          uint64                 `json:"seq"`
	HomeScore    int                    `json:"home_score"`
	AwayScore    int                    `json:"away_score"`
	ClockMinutes int                    `json:"clock_minutes"`
	ClockSeconds int                    `json:"clock_seconds"`
	ShotClock    int                    `json:"shot_clock"`
	Period       int                    `json:"period"`
	Running      bool                   `json:"running"`
	Tallies      map[uuid.UUID]StatLine `json:"tallies"`
}

// Timer returns the clock facet of the snapshot.
func (s Snapshot) Timer() *TimerUpdate {
	return &TimerUpdate{
		ClockMinutes: s.ClockMinutes,
		ClockSeconds: s.ClockSeconds,
		ShotClock:    s.ShotClock,
		Period:       s.Period,
		Running:      s.Running,
		Status:       s.Status,
	}
}

// Events renders the snapshot as the timer and stat events a new
// subscriber needs to catch up. Both carry the snapshot's epoch and seq.
func (s Snapshot) Events() []Event {
	final := s.Status == StatusEnded
	return []Event{
		{Type: EventTypeTimerUpdate, GameID: s.GameID, Epoch: s.Epoch, Seq: s.Seq, TimerUpdate: s.Timer()},
		{Type: EventTypeStatUpdate, GameID: s.GameID, Epoch: s.Epoch, Seq: s.Seq, StatUpdate: &StatUpdate{
			HomeScore: s.HomeScore,
			AwayScore: s.AwayScore,
			Final:     final,
		}},
	}
}
