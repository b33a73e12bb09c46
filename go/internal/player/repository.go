package player

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mcdev12/courtside/go/internal/models"
	"github.com/mcdev12/courtside/go/internal/sqlutil"
)

// Repository handles all player-related database operations
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new player repository
func NewRepository(database *sql.DB) *Repository {
	return &Repository{db: database}
}

// UpsertPlayerRequest contains all data needed to create or update a player
type UpsertPlayerRequest struct {
	ID           uuid.UUID
	FullName     string
	TeamID       *uuid.UUID
	JerseyNumber *int
	Position     string
}

// UpsertPlayer inserts a player or updates it in place, returning true when
// a new row was created.
func (r *Repository) UpsertPlayer(ctx context.Context, req UpsertPlayerRequest) (bool, error) {
	var inserted bool
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO players (id, full_name, team_id, jersey_number, position)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		ON CONFLICT (id) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    team_id = EXCLUDED.team_id,
		    jersey_number = EXCLUDED.jersey_number,
		    position = EXCLUDED.position
		RETURNING (xmax = 0)`,
		req.ID, req.FullName, sqlutil.ToNullUUID(req.TeamID), sqlutil.ToSqlInt32(req.JerseyNumber), req.Position,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert player: %w", err)
	}
	return inserted, nil
}

// ListPlayersByTeams returns the rosters of the given teams ordered by team
// and jersey number.
func (r *Repository) ListPlayersByTeams(ctx context.Context, teamIDs ...uuid.UUID) ([]models.Player, error) {
	if len(teamIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(teamIDs))
	for i, id := range teamIDs {
		ids[i] = id.String()
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, full_name, team_id, jersey_number, position, created_at
		FROM players
		WHERE team_id = ANY($1::uuid[])
		ORDER BY team_id, jersey_number NULLS LAST, full_name`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		var (
			p        models.Player
			teamID   uuid.NullUUID
			jersey   sql.NullInt32
			position sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.FullName, &teamID, &jersey, &position, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		p.TeamID = sqlutil.FromNullUUID(teamID)
		p.JerseyNumber = sqlutil.FromSqlInt32(jersey)
		p.Position = sqlutil.FromSqlString(position, "")
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate players: %w", err)
	}
	return players, nil
}
