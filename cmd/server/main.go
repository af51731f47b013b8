// Plinth — the application platform core behind our LLM products.
//
// This is the main entry point for the Plinth server. It provides:
//   - Document ingestion and embedding pipeline (queued, multi-stage)
//   - Vector search over embedded chunks
//   - Prompt versioning with traffic splits and promotion gates
//   - Generation logging, feedback, and few-shot curation
//   - Per-user token and cost budgets with request-time enforcement
//   - Output guardrails and bot verification
//   - External provider adapters (memory, tools, fine-tuning, transcription)

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/plinthworks/plinth/internal/config"
	"github.com/plinthworks/plinth/pkg/server"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize server")
		os.Exit(1)
	}

	log.Info().Str("env", cfg.Env).Msg("plinth starting")

	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("shutdown complete")
}
