package models

import (
	"time"

	"github.com/google/uuid"
)

// Team represents a league team in the system
type Team struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	City      string    `json:"city"`
	Coach     *string   `json:"coach,omitempty"`
	Arena     *string   `json:"arena,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
