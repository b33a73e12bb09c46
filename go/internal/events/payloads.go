package events

import (
	"time"
)

// Event types published to JetStream
const (
	EventTypeGameFinalized = "GameFinalized"
)

// PlayerLinePayload is one player's final tally
type PlayerLinePayload struct {
	PlayerID string `json:"player_id"`
	Points   int    `json:"points"`
	Fouls    int    `json:"fouls"`
}

// GameFinalizedPayload is the payload for a GameFinalized event
type GameFinalizedPayload struct {
	GameID     string              `json:"game_id"`
	HomeScore  int                 `json:"home_score"`
	AwayScore  int                 `json:"away_score"`
	Periods    int                 `json:"periods"`
	FinishedAt time.Time           `json:"finished_at"`
	Players    []PlayerLinePayload `json:"players"`
}
