package broadcast

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/courtside/go/internal/live"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSRelay carries session events between gateway instances. Sessions
// publish to <prefix>.<game_id> on core NATS and every instance relays what
// it receives on <prefix>.* into its local hub, so viewers connected to any
// instance see every event.
type NATSRelay struct {
	nc     *nats.Conn
	hub    *Hub
	prefix string
	sub    *nats.Subscription
}

// NewNATSRelay creates a relay over an established connection.
func NewNATSRelay(nc *nats.Conn, hub *Hub, prefix string) *NATSRelay {
	return &NATSRelay{
		nc:     nc,
		hub:    hub,
		prefix: strings.TrimSuffix(prefix, "."),
	}
}

// Subject returns the subject events for a game are published on.
func (r *NATSRelay) Subject(gameID uuid.UUID) string {
	return fmt.Sprintf("%s.%s", r.prefix, gameID)
}

// Publish sends ev to NATS. Core NATS publishes are buffered by the client,
// so this does not wait on the network.
func (r *NATSRelay) Publish(gameID uuid.UUID, ev live.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID.String()).Msg("Failed to marshal event for relay")
		return
	}
	if err := r.nc.Publish(r.Subject(gameID), data); err != nil {
		log.Error().Err(err).Str("game_id", gameID.String()).Msg("Failed to relay event")
	}
}

// Start subscribes to every game subject.
func (r *NATSRelay) Start() error {
	sub, err := r.nc.Subscribe(r.prefix+".*", r.handle)
	if err != nil {
		return fmt.Errorf("subscribe to %s.*: %w", r.prefix, err)
	}
	r.sub = sub

	log.Info().Str("subject", r.prefix+".*").Msg("NATS relay started")
	return nil
}

func (r *NATSRelay) handle(msg *nats.Msg) {
	token := strings.TrimPrefix(msg.Subject, r.prefix+".")
	gameID, err := uuid.Parse(token)
	if err != nil {
		log.Warn().Str("subject", msg.Subject).Msg("Ignoring relay message with invalid game id")
		return
	}
	r.hub.PublishRaw(gameID, msg.Data)
}

// Stop removes the subscription.
func (r *NATSRelay) Stop() error {
	if r.sub == nil {
		return nil
	}
	if err := r.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe relay: %w", err)
	}
	r.sub = nil
	return nil
}
