package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrEventNotFound is returned when an outbox id has no row.
var ErrEventNotFound = errors.New("outbox event not found")

// Repository reads and acknowledges rows of the game_outbox table. Rows are
// written by the games repository inside the finalize transaction.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new outbox repository
func NewRepository(database *sql.DB) *Repository {
	return &Repository{db: database}
}

// FetchUnsent returns up to limit unsent events, oldest first.
func (r *Repository) FetchUnsent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, game_id, event_type, payload, created_at, sent_at
		FROM game_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox: %w", err)
	}
	return events, nil
}

// FetchByID returns one event.
func (r *Repository) FetchByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, game_id, event_type, payload, created_at, sent_at
		FROM game_outbox
		WHERE id = $1`, id)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("outbox %s: %w", id, ErrEventNotFound)
	}
	return event, err
}

// MarkSent stamps the events as delivered.
func (r *Repository) MarkSent(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	if _, err := r.db.ExecContext(ctx, `
		UPDATE game_outbox
		SET sent_at = now()
		WHERE id = ANY($1::uuid[]) AND sent_at IS NULL`, pq.Array(strs)); err != nil {
		return fmt.Errorf("failed to mark outbox sent: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (*Event, error) {
	var (
		event   Event
		payload []byte
		sentAt  sql.NullTime
	)
	if err := s.Scan(&event.ID, &event.GameID, &event.EventType, &payload, &event.CreatedAt, &sentAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan outbox event: %w", err)
	}
	event.Payload = payload
	if sentAt.Valid {
		event.SentAt = &sentAt.Time
	}
	return &event, nil
}
