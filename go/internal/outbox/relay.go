package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type RelayConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to poll for missed events
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int // Max events to fetch per batch
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		NotifyChannel:    DefaultChannel,
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}

// RelayStats counts relay outcomes since start.
type RelayStats struct {
	Published     uint64    `json:"published"`
	Failed        uint64    `json:"failed"`
	LastPublished time.Time `json:"last_published,omitempty"`
}

// Relay moves committed outbox rows to the broker. A NOTIFY carrying the
// row id triggers an immediate publish; a fallback poll picks up anything
// missed while the listener was disconnected.
type Relay struct {
	store     Store
	listener  *pq.Listener
	publisher Publisher
	cfg       RelayConfig

	mu    sync.Mutex
	stats RelayStats
}

// NewRelay starts listening on the notify channel.
func NewRelay(store Store, publisher Publisher, cfg RelayConfig) (*Relay, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("outbox listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for outbox notifications")

	return newRelay(store, publisher, cfg, l), nil
}

func newRelay(store Store, publisher Publisher, cfg RelayConfig, l *pq.Listener) *Relay {
	return &Relay{
		store:     store,
		listener:  l,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Run relays events until ctx is done, then closes the listener.
func (r *Relay) Run(ctx context.Context) {
	log.Info().
		Str("channel", r.cfg.NotifyChannel).
		Dur("ping_interval", r.cfg.PingInterval).
		Dur("fallback_interval", r.cfg.FallbackInterval).
		Msg("outbox relay started")

	pingTicker := time.NewTicker(r.cfg.PingInterval)
	fallbackTicker := time.NewTicker(r.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	// Drain anything left from a previous run
	if err := r.processUnsent(ctx); err != nil {
		log.Error().Err(err).Msg("failed to process unsent outbox events")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox relay shutting down")
			if err := r.listener.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close outbox listener")
			}
			return
		case note := <-r.listener.Notify:
			if note == nil {
				// nil notification means the connection was re-established; poll
				// for anything sent while it was down
				if err := r.processUnsent(ctx); err != nil {
					log.Error().Err(err).Msg("failed to process unsent outbox events")
				}
				continue
			}
			if err := r.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle outbox notification")
			}
		case <-fallbackTicker.C:
			if err := r.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent outbox events")
			}
		case <-pingTicker.C:
			if err := r.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping outbox listener")
			}
		}
	}
}

// Stats returns a copy of the relay counters.
func (r *Relay) Stats() RelayStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// handleNotification publishes the event whose id arrived as the NOTIFY payload.
func (r *Relay) handleNotification(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid event ID in notification: %w", err)
	}

	event, err := r.store.FetchByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to fetch outbox event: %w", err)
	}
	if event.SentAt != nil {
		// already relayed by the fallback poll
		return nil
	}

	return r.deliver(ctx, *event)
}

// processUnsent relays one batch of unsent events.
func (r *Relay) processUnsent(ctx context.Context) error {
	unsent, err := r.store.FetchUnsent(ctx, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}

	for _, event := range unsent {
		if err := r.deliver(ctx, event); err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to relay outbox event")
		}
	}
	return nil
}

func (r *Relay) deliver(ctx context.Context, event Event) error {
	if err := r.publishWithRetry(ctx, event); err != nil {
		r.record(false)
		return err
	}
	r.record(true)

	if err := r.store.MarkSent(ctx, event.ID); err != nil {
		// the broker dedups on the event id, so a republish is harmless
		return fmt.Errorf("failed to mark outbox event %s sent: %w", event.ID, err)
	}

	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Str("game_id", event.GameID.String()).
		Msg("published and marked outbox event as sent")
	return nil
}

// publishWithRetry attempts to publish an event with a linear backoff.
func (r *Relay) publishWithRetry(ctx context.Context, event Event) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := r.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("failed to publish outbox event, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}

func (r *Relay) record(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.stats.Published++
		r.stats.LastPublished = time.Now().UTC()
	} else {
		r.stats.Failed++
	}
}
