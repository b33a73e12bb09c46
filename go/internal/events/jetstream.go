package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/courtside/go/internal/live"
	"github.com/mcdev12/courtside/go/internal/outbox"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type JetStreamConfig struct {
	StreamName      string
	SubjectPrefix   string
	MaxAge          time.Duration // How long to keep messages
	MaxMsgs         int64         // Max number of messages to keep
	Replicas        int
	DuplicateWindow time.Duration // Window for duplicate detection
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		StreamName:      "GAME_EVENTS",
		SubjectPrefix:   "games.events",
		MaxAge:          30 * 24 * time.Hour,
		MaxMsgs:         -1, // No limit
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
	}
}

// Envelope wraps every payload published to the stream
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	GameID    string          `json:"gameId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// JetStreamPublisher announces durable game events such as a final result.
type JetStreamPublisher struct {
	js     jetstream.JetStream
	config JetStreamConfig
}

func NewJetStreamPublisher(ctx context.Context, nc *nats.Conn, cfg JetStreamConfig) (*JetStreamPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{js: js, config: cfg}
	if err := p.ensureStream(ctx); err != nil {
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return p, nil
}

func (p *JetStreamPublisher) streamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Game results and lifecycle events",
		Subjects:    []string{fmt.Sprintf("%s.>", p.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		MaxMsgs:     p.config.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    p.config.Replicas,
		Duplicates:  p.config.DuplicateWindow,
	}
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	sc := p.streamConfig()

	stream, err := p.js.Stream(ctx, p.config.StreamName)
	if err != nil {
		if _, err = p.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", p.config.StreamName).Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = p.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", p.config.StreamName).Msg("updated JetStream stream")
	}
	return nil
}

// GameFinalized publishes the final result of a game. The message id is
// derived from the game so a retried announcement is deduplicated.
func (p *JetStreamPublisher) GameFinalized(ctx context.Context, result live.FinalResult) error {
	env, err := NewGameFinalizedEnvelope(result)
	if err != nil {
		return err
	}
	return p.PublishEnvelope(ctx, env)
}

// Publish relays an event written to the game outbox. The outbox payload is
// the envelope itself.
func (p *JetStreamPublisher) Publish(ctx context.Context, event outbox.Event) error {
	var env Envelope
	if err := json.Unmarshal(event.Payload, &env); err != nil {
		return fmt.Errorf("decode outbox event %s: %w", event.ID, err)
	}
	return p.PublishEnvelope(ctx, env)
}

// PublishEnvelope publishes env with its EventID as the dedup id.
func (p *JetStreamPublisher) PublishEnvelope(ctx context.Context, env Envelope) error {
	msg, err := p.msgFor(env)
	if err != nil {
		return err
	}

	ack, err := p.js.PublishMsg(ctx, msg,
		jetstream.WithMsgID(env.EventID),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Info().
		Str("subject", msg.Subject).
		Str("event_type", env.EventType).
		Str("game_id", env.GameID).
		Uint64("sequence", ack.Sequence).
		Str("stream", ack.Stream).
		Msg("published to JetStream")
	return nil
}

func (p *JetStreamPublisher) msgFor(env Envelope) (*nats.Msg, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	return &nats.Msg{
		Subject: fmt.Sprintf("%s.%s.%s", p.config.SubjectPrefix, env.EventType, env.GameID),
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{env.EventType},
			"Game-ID":    []string{env.GameID},
			"Event-ID":   []string{env.EventID},
		},
	}, nil
}

// NewGameFinalizedEnvelope builds the GameFinalized event for a result.
// Players are sorted by id so equal results encode identically.
func NewGameFinalizedEnvelope(result live.FinalResult) (Envelope, error) {
	payload := GameFinalizedPayload{
		GameID:     result.GameID.String(),
		HomeScore:  result.HomeScore,
		AwayScore:  result.AwayScore,
		Periods:    result.Period,
		FinishedAt: result.FinishedAt,
		Players:    make([]PlayerLinePayload, 0, len(result.Tallies)),
	}
	for id, line := range result.Tallies {
		payload.Players = append(payload.Players, PlayerLinePayload{
			PlayerID: id.String(),
			Points:   line.Points,
			Fouls:    line.Fouls,
		})
	}
	sort.Slice(payload.Players, func(i, j int) bool {
		return payload.Players[i].PlayerID < payload.Players[j].PlayerID
	})

	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}

	return Envelope{
		EventID:   GameFinalizedEventID(result.GameID).String(),
		EventType: EventTypeGameFinalized,
		GameID:    result.GameID.String(),
		Timestamp: result.FinishedAt,
		Payload:   raw,
	}, nil
}

// GameFinalizedEventID is the stable event id of a game's final result.
func GameFinalizedEventID(gameID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(gameID, []byte(EventTypeGameFinalized))
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgs == b.MaxMsgs &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}
