package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ai-call-triage-service/internal/app"
	"ai-call-triage-service/internal/config"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	application := app.New(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	if err := application.Start(context.Background()); err != nil {
		application.Logger.Error().Err(err).Msg("Failed to start")
		_ = application.Shutdown(context.Background())
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	application.Logger.Info().Str("signal", s.String()).Msg("Shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		application.Logger.Error().Err(err).Msg("Shutdown incomplete")
		os.Exit(1)
	}
}
