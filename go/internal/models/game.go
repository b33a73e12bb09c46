package models

import (
	"time"

	"github.com/google/uuid"
)

// GameStatus mirrors the lifecycle column of the games table
type GameStatus string

const (
	GameStatusScheduled  GameStatus = "SCHEDULED"
	GameStatusInProgress GameStatus = "IN_PROGRESS"
	GameStatusFinal      GameStatus = "FINAL"
)

// Game is the persisted record for a scheduled or played game.
// The live session reads it once on creation and writes it back on end.
type Game struct {
	ID           uuid.UUID  `json:"id"`
	HomeTeamID   uuid.UUID  `json:"home_team_id"`
	AwayTeamID   uuid.UUID  `json:"away_team_id"`
	HomeTeamName string     `json:"home_team_name"`
	AwayTeamName string     `json:"away_team_name"`
	HomeScore    int        `json:"home_score"`
	AwayScore    int        `json:"away_score"`
	Status       GameStatus `json:"status"`
	StartsAt     time.Time  `json:"starts_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// IsFinal reports whether the game has already been closed out
func (g *Game) IsFinal() bool {
	return g.Status == GameStatusFinal
}
