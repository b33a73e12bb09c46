package broadcast

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mcdev12/courtside/go/internal/live"
	"github.com/rs/zerolog/log"
)

// Subscriber receives encoded events for one game.
type Subscriber interface {
	ID() string
	// Send queues data without blocking and reports whether it was accepted.
	Send(data []byte) bool
	// Close releases the subscriber after the hub has dropped it.
	Close()
}

// Hub fans session events out to the subscribers of each game. Publish
// never blocks: a subscriber that cannot take a message is dropped.
type Hub struct {
	mu    sync.RWMutex
	games map[uuid.UUID]map[Subscriber]struct{}

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	TotalSubscribers int            `json:"total_subscribers"`
	ActiveGames      int            `json:"active_games"`
	GameSubscribers  map[string]int `json:"game_subscribers"`
	Published        uint64         `json:"published"`
	Delivered        uint64         `json:"delivered"`
	Dropped          uint64         `json:"dropped"`
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		games: make(map[uuid.UUID]map[Subscriber]struct{}),
	}
}

// Subscribe registers sub for a game and returns a function that removes
// it. The returned function is safe to call more than once.
func (h *Hub) Subscribe(gameID uuid.UUID, sub Subscriber) func() {
	h.mu.Lock()
	subs, ok := h.games[gameID]
	if !ok {
		subs = make(map[Subscriber]struct{})
		h.games[gameID] = subs
	}
	subs[sub] = struct{}{}
	count := len(subs)
	h.mu.Unlock()

	log.Debug().
		Str("subscriber_id", sub.ID()).
		Str("game_id", gameID.String()).
		Int("total_subscribers", count).
		Msg("Subscriber registered")

	var once sync.Once
	return func() {
		once.Do(func() {
			h.Unsubscribe(gameID, sub)
		})
	}
}

// Unsubscribe removes sub from a game and reports whether it was present.
func (h *Hub) Unsubscribe(gameID uuid.UUID, sub Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.games[gameID]
	if !ok {
		return false
	}
	if _, ok := subs[sub]; !ok {
		return false
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.games, gameID)
	}

	log.Debug().
		Str("subscriber_id", sub.ID()).
		Str("game_id", gameID.String()).
		Msg("Subscriber unregistered")
	return true
}

// Publish encodes ev once and delivers it to every subscriber of the game.
func (h *Hub) Publish(gameID uuid.UUID, ev live.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID.String()).Msg("Failed to marshal event for broadcast")
		return
	}
	h.PublishRaw(gameID, data)
}

// PublishRaw delivers pre-encoded data to every subscriber of the game and
// returns how many accepted it.
func (h *Hub) PublishRaw(gameID uuid.UUID, data []byte) int {
	h.published.Add(1)

	h.mu.RLock()
	subs := h.games[gameID]
	targets := make([]Subscriber, 0, len(subs))
	for sub := range subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	sent := 0
	for _, sub := range targets {
		if sub.Send(data) {
			sent++
			continue
		}
		if h.Unsubscribe(gameID, sub) {
			h.dropped.Add(1)
			log.Warn().
				Str("subscriber_id", sub.ID()).
				Str("game_id", gameID.String()).
				Msg("Subscriber buffer full, dropping subscriber")
			sub.Close()
		}
	}
	h.delivered.Add(uint64(sent))
	return sent
}

// SubscriberCount returns the number of subscribers for a game.
func (h *Hub) SubscriberCount(gameID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.games[gameID])
}

// Stats returns subscriber and delivery counts.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		ActiveGames:     len(h.games),
		GameSubscribers: make(map[string]int, len(h.games)),
		Published:       h.published.Load(),
		Delivered:       h.delivered.Load(),
		Dropped:         h.dropped.Load(),
	}
	for gameID, subs := range h.games {
		stats.TotalSubscribers += len(subs)
		stats.GameSubscribers[gameID.String()] = len(subs)
	}
	return stats
}

// CloseAll drops and closes every subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	games := h.games
	h.games = make(map[uuid.UUID]map[Subscriber]struct{})
	h.mu.Unlock()

	for _, subs := range games {
		for sub := range subs {
			sub.Close()
		}
	}
}
