package games

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/courtside/go/internal/events"
	"github.com/mcdev12/courtside/go/internal/live"
	"github.com/mcdev12/courtside/go/internal/models"
	"github.com/mcdev12/courtside/go/internal/outbox"
	"github.com/sqlc-dev/pqtype"
)

var (
	// ErrGameNotFound wraps live.ErrNotFound so callers of the live core can
	// classify it without importing this package.
	ErrGameNotFound = fmt.Errorf("games: %w", live.ErrNotFound)
	// ErrAlreadyFinal is returned when writing to a game that has been
	// finalized, possibly by another instance. It wraps live.ErrGameFinal.
	ErrAlreadyFinal = fmt.Errorf("games: %w", live.ErrGameFinal)
)

// Repository handles all game-related database operations
type Repository struct {
	pool          *pgxpool.Pool
	outboxChannel string
}

// NewRepository creates a new game repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithOutbox makes FinalizeGame record a GameFinalized outbox row and
// NOTIFY channel with its id, in the finalize transaction.
func (r *Repository) WithOutbox(channel string) *Repository {
	r.outboxChannel = channel
	return r
}

const getGameSQL = `
	SELECT g.id, g.home_team_id, g.away_team_id, ht.name, at.name,
	       g.home_score, g.away_score, g.status, g.starts_at, g.finished_at
	FROM games g
	JOIN teams ht ON ht.id = g.home_team_id
	JOIN teams at ON at.id = g.away_team_id
	WHERE g.id = $1`

// GetGame retrieves a game with both team names
func (r *Repository) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	var (
		game   models.Game
		status string
	)
	err := r.pool.QueryRow(ctx, getGameSQL, id).Scan(
		&game.ID, &game.HomeTeamID, &game.AwayTeamID, &game.HomeTeamName, &game.AwayTeamName,
		&game.HomeScore, &game.AwayScore, &status, &game.StartsAt, &game.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("game %s: %w", id, ErrGameNotFound)
		}
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	game.Status = models.GameStatus(status)
	return &game, nil
}

// SaveScore checkpoints the running score of a game and marks a scheduled
// game as in progress.
func (r *Repository) SaveScore(ctx context.Context, id uuid.UUID, homeScore, awayScore int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE games
		SET home_score = $2,
		    away_score = $3,
		    status = CASE WHEN status = $4 THEN $5 ELSE status END,
		    updated_at = now()
		WHERE id = $1 AND status <> $6`,
		id, homeScore, awayScore,
		string(models.GameStatusScheduled), string(models.GameStatusInProgress), string(models.GameStatusFinal),
	)
	if err != nil {
		return fmt.Errorf("failed to save score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrFinal(ctx, id)
	}
	return nil
}

// FinalizeGame writes the final score and box score and records every
// player's line, in one transaction.
func (r *Repository) FinalizeGame(ctx context.Context, result live.FinalResult) error {
	boxScore, err := boxScoreJSON(result)
	if err != nil {
		return err
	}
	var outboxRow *outbox.Event
	if r.outboxChannel != "" {
		if outboxRow, err = finalizedOutboxEvent(result); err != nil {
			return err
		}
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE games
			SET home_score = $2,
			    away_score = $3,
			    status = $4,
			    finished_at = $5,
			    box_score = $6,
			    updated_at = now()
			WHERE id = $1 AND status <> $4`,
			result.GameID, result.HomeScore, result.AwayScore,
			string(models.GameStatusFinal), result.FinishedAt, boxScore,
		)
		if err != nil {
			return fmt.Errorf("failed to finalize game: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return r.missingOrFinal(ctx, result.GameID)
		}

		for playerID, line := range result.Tallies {
			if _, err := tx.Exec(ctx, `
				INSERT INTO player_game_stats (game_id, player_id, points, fouls)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (game_id, player_id)
				DO UPDATE SET points = EXCLUDED.points, fouls = EXCLUDED.fouls`,
				result.GameID, playerID, line.Points, line.Fouls,
			); err != nil {
				return fmt.Errorf("failed to record player line %s: %w", playerID, err)
			}
		}

		if outboxRow != nil {
			if _, err := tx.Exec(ctx, `
				INSERT INTO game_outbox (id, game_id, event_type, payload)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO NOTHING`,
				outboxRow.ID, outboxRow.GameID, outboxRow.EventType, []byte(outboxRow.Payload),
			); err != nil {
				return fmt.Errorf("failed to write outbox event: %w", err)
			}
			if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, r.outboxChannel, outboxRow.ID.String()); err != nil {
				return fmt.Errorf("failed to notify outbox: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

// ListLiveGames returns games that are scheduled to start before until
// and are not yet final.
func (r *Repository) ListLiveGames(ctx context.Context, until time.Time) ([]models.Game, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT g.id, g.home_team_id, g.away_team_id, ht.name, at.name,
		       g.home_score, g.away_score, g.status, g.starts_at, g.finished_at
		FROM games g
		JOIN teams ht ON ht.id = g.home_team_id
		JOIN teams at ON at.id = g.away_team_id
		WHERE g.status <> $1 AND g.starts_at <= $2
		ORDER BY g.starts_at`,
		string(models.GameStatusFinal), until,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	defer rows.Close()

	var games []models.Game
	for rows.Next() {
		var (
			game   models.Game
			status string
		)
		if err := rows.Scan(
			&game.ID, &game.HomeTeamID, &game.AwayTeamID, &game.HomeTeamName, &game.AwayTeamName,
			&game.HomeScore, &game.AwayScore, &status, &game.StartsAt, &game.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		game.Status = models.GameStatus(status)
		games = append(games, game)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate games: %w", err)
	}
	return games, nil
}

func (r *Repository) missingOrFinal(ctx context.Context, id uuid.UUID) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM games WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("game %s: %w", id, ErrGameNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check game: %w", err)
	}
	return fmt.Errorf("game %s: %w", id, ErrAlreadyFinal)
}

// finalizedOutboxEvent wraps the GameFinalized envelope as an outbox row.
// The row id is the envelope's event id, so a repeated finalize writes
// nothing new.
func finalizedOutboxEvent(result live.FinalResult) (*outbox.Event, error) {
	env, err := events.NewGameFinalizedEnvelope(result)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outbox event: %w", err)
	}
	return &outbox.Event{
		ID:        events.GameFinalizedEventID(result.GameID),
		GameID:    result.GameID,
		EventType: env.EventType,
		Payload:   payload,
	}, nil
}

// boxScore is the JSONB document stored on a finalized game
type boxScore struct {
	HomeScore int                      `json:"home_score"`
	AwayScore int                      `json:"away_score"`
	Periods   int                      `json:"periods"`
	Players   map[string]live.StatLine `json:"players"`
}

func boxScoreJSON(result live.FinalResult) (pqtype.NullRawMessage, error) {
	doc := boxScore{
		HomeScore: result.HomeScore,
		AwayScore: result.AwayScore,
		Periods:   result.Period,
		Players:   make(map[string]live.StatLine, len(result.Tallies)),
	}
	for id, line := range result.Tallies {
		doc.Players[id.String()] = line
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("failed to marshal box score: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: data, Valid: true}, nil
}
