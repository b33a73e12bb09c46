package broadcast

import (
	"github.com/google/uuid"
	"github.com/mcdev12/courtside/go/internal/live"
)

// Tee publishes every event to each of its publishers in order.
type Tee []live.Publisher

func (t Tee) Publish(gameID uuid.UUID, ev live.Event) {
	for _, p := range t {
		if p != nil {
			p.Publish(gameID, ev)
		}
	}
}
