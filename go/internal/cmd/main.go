package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/courtside/go/internal/dbconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("Could not load .env file")
	}

	if getEnvAsBool("LOG_PRETTY", true) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	if level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	config, err := loadConfig(getEnv("LEAGUE_CONFIG", "config/league.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConfig := dbconfig.NewConfigFromEnv()
	database, err := setupDatabase(dbConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up database")
	}
	defer database.Close()

	pool, err := setupPool(ctx, dbConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up game store")
	}
	defer pool.Close()

	services, err := setupServices(ctx, config, dbConfig, database, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up services")
	}
	defer services.Close()

	server := setupServer(config, services)

	gatewayDone := make(chan error, 1)
	go func() {
		gatewayDone <- services.Gateway.Start(ctx)
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Str("league", config.League.Name).Msg("Courtside server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	if err := <-gatewayDone; err != nil {
		log.Error().Err(err).Msg("Gateway shutdown failed")
	}
}
