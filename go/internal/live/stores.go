package live

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/courtside/go/internal/models"
)

// GameStore is the persisted Game record the live core reads on session
// creation and writes on checkpoint and end. GetGame must return an error
// wrapping ErrNotFound for unknown ids.
type GameStore interface {
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	SaveScore(ctx context.Context, id uuid.UUID, homeScore, awayScore int) error
	FinalizeGame(ctx context.Context, result FinalResult) error
}

// RosterStore resolves the players shown in a box score.
type RosterStore interface {
	ListPlayersByTeams(ctx context.Context, teamIDs ...uuid.UUID) ([]models.Player, error)
}

// Publisher fans an event out to the subscribers of one game. Implementations
// must not block: sessions publish while holding their lock.
type Publisher interface {
	Publish(gameID uuid.UUID, ev Event)
}

// SubscriberCounter reports how many subscribers a game currently has.
type SubscriberCounter interface {
	SubscriberCount(gameID uuid.UUID) int
}

// FinalNotifier is told about every game closed out by End.
type FinalNotifier interface {
	GameFinalized(ctx context.Context, result FinalResult) error
}

// FinalResult is what End persists and announces.
type FinalResult struct {
	GameID     uuid.UUID              `json:"game_id"`
	HomeScore  int                    `json:"home_score"`
	AwayScore  int                    `json:"away_score"`
	Period     int                    `json:"period"`
	Tallies    map[uuid.UUID]StatLine `json:"tallies"`
	FinishedAt time.Time              `json:"finished_at"`
}
