package models

import (
	"time"

	"github.com/google/uuid"
)

// Player represents a league player as stored in the roster tables
type Player struct {
	ID           uuid.UUID  `json:"id"`
	FullName     string     `json:"full_name"`
	TeamID       *uuid.UUID `json:"team_id,omitempty"`
	JerseyNumber *int       `json:"jersey_number,omitempty"` // Optional - unassigned until the roster is finalised
	Position     string     `json:"position"`                // 'PG', 'SG', 'SF', 'PF', 'C'
	CreatedAt    time.Time  `json:"created_at"`
}

// OnTeam reports whether the player is rostered on the given team
func (p *Player) OnTeam(teamID uuid.UUID) bool {
	return p.TeamID != nil && *p.TeamID == teamID
}
