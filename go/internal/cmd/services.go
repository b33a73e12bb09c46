package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/courtside/go/internal/broadcast"
	"github.com/mcdev12/courtside/go/internal/dbconfig"
	"github.com/mcdev12/courtside/go/internal/events"
	"github.com/mcdev12/courtside/go/internal/games"
	"github.com/mcdev12/courtside/go/internal/gateway"
	"github.com/mcdev12/courtside/go/internal/live"
	"github.com/mcdev12/courtside/go/internal/outbox"
	"github.com/mcdev12/courtside/go/internal/player"
	"github.com/mcdev12/courtside/go/internal/snapshot"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Gateway *gateway.Service
	Hub     *broadcast.Hub

	nc          *nats.Conn
	relay       *broadcast.NATSRelay
	redis       *redis.Client
	outboxRelay *outbox.Relay
}

func setupServices(ctx context.Context, config *Config, dbConfig dbconfig.Config, database *sql.DB, pool *pgxpool.Pool) (*Services, error) {
	// Wire up dependency injection chain
	// Stores → Publishers → Registry → Controller → Gateway
	services := &Services{Hub: broadcast.NewHub()}

	gamesRepo := games.NewRepository(pool)
	playerRepo := player.NewRepository(database)

	// Live events reach the hub directly, or through NATS when several
	// instances share viewers.
	var fanout live.Publisher = services.Hub
	var notifier live.FinalNotifier
	if url := getEnv("NATS_URL", ""); url != "" {
		natsConfig := broadcast.DefaultNATSConfig()
		natsConfig.URL = url
		nc, err := broadcast.ConnectNATS(natsConfig)
		if err != nil {
			return nil, err
		}
		services.nc = nc

		relay := broadcast.NewNATSRelay(nc, services.Hub, getEnv("NATS_LIVE_PREFIX", "games.live"))
		if err := relay.Start(); err != nil {
			services.Close()
			return nil, fmt.Errorf("failed to start relay: %w", err)
		}
		services.relay = relay
		fanout = relay

		if getEnvAsBool("JETSTREAM_ENABLED", true) {
			js, err := events.NewJetStreamPublisher(ctx, nc, events.DefaultJetStreamConfig())
			if err != nil {
				services.Close()
				return nil, err
			}

			// Final results go through the outbox unless it is disabled, in
			// which case they are announced directly after the commit.
			if getEnvAsBool("OUTBOX_ENABLED", true) {
				relayConfig := outbox.DefaultRelayConfig()
				relayConfig.DatabaseURL = dbConfig.DSN()
				relayConfig.NotifyChannel = getEnv("OUTBOX_CHANNEL", outbox.DefaultChannel)
				outboxRelay, err := outbox.NewRelay(outbox.NewRepository(database), js, relayConfig)
				if err != nil {
					services.Close()
					return nil, err
				}
				services.outboxRelay = outboxRelay
				gamesRepo.WithOutbox(relayConfig.NotifyChannel)
			} else {
				notifier = js
			}
		}
	}

	var cache *snapshot.RedisCache
	if addr := getEnv("REDIS_ADDR", ""); addr != "" {
		services.redis = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		})
		if err := services.redis.Ping(ctx).Err(); err != nil {
			services.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		cache = snapshot.NewRedisCache(services.redis, config.Live.SnapshotFlushInterval)
		log.Info().Str("addr", addr).Msg("Snapshot cache enabled")
	}

	publisher := broadcast.Tee{fanout}
	if cache != nil {
		publisher = append(publisher, cache)
	}

	registry := live.NewRegistry(gamesRepo, publisher, services.Hub, live.RegistryConfig{
		Rules:         config.League.Rules,
		TickInterval:  config.Live.TickInterval,
		IdleTimeout:   config.Live.IdleTimeout,
		SweepInterval: config.Live.SweepInterval,
		Roster:        playerRepo,
	})
	controller := live.NewController(registry, gamesRepo, notifier)

	gatewayConfig := gateway.DefaultConfig()
	// With the relay on, the session of a game may live on another
	// instance, so viewers here must not load a second one.
	gatewayConfig.RemoteViewers = services.relay != nil
	if config.Live.SendBufferSize > 0 {
		gatewayConfig.ConnectionConfig.SendBufferSize = config.Live.SendBufferSize
	}
	deps := gateway.Dependencies{
		Controller: controller,
		Hub:        services.Hub,
		Games:      gamesRepo,
		Roster:     playerRepo,
		Lister:     gamesRepo,
	}
	if cache != nil {
		deps.Cache = cache
	}
	services.Gateway = gateway.NewService(gatewayConfig, deps)
	if cache != nil {
		services.Gateway.Go(cache.Run)
	}
	if services.outboxRelay != nil {
		services.Gateway.Go(services.outboxRelay.Run)
	}

	return services, nil
}

// Close releases the broker and cache connections.
func (s *Services) Close() {
	if s.relay != nil {
		if err := s.relay.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop relay")
		}
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("failed to drain NATS connection")
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
}
