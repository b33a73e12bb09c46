package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultChannel is the Postgres NOTIFY channel carrying new outbox ids.
const DefaultChannel = "game_outbox_events"

// Event is a row of the game outbox. Payload is published as-is.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	GameID    uuid.UUID       `json:"game_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// Publisher delivers an outbox event to the broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Store is what the relay needs from the outbox table.
type Store interface {
	FetchUnsent(ctx context.Context, limit int) ([]Event, error)
	FetchByID(ctx context.Context, id uuid.UUID) (*Event, error)
	MarkSent(ctx context.Context, ids ...uuid.UUID) error
}
