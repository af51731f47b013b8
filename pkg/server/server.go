// Package server is the composition root: it wires configuration into
// stores, providers, services, workers, and the HTTP router, and owns
// graceful shutdown. Everything behind the wiring depends on interfaces, so
// a missing DATABASE_URL or REDIS_URL degrades to in-memory/no-op
// implementations instead of refusing to start (outside production).
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/plinthworks/plinth/internal/api"
	"github.com/plinthworks/plinth/internal/api/middleware"
	"github.com/plinthworks/plinth/internal/auth"
	"github.com/plinthworks/plinth/internal/budget"
	"github.com/plinthworks/plinth/internal/config"
	"github.com/plinthworks/plinth/internal/genlog"
	"github.com/plinthworks/plinth/internal/guardrails"
	"github.com/plinthworks/plinth/internal/ingest"
	"github.com/plinthworks/plinth/internal/jobs"
	"github.com/plinthworks/plinth/internal/llm"
	"github.com/plinthworks/plinth/internal/prefs"
	"github.com/plinthworks/plinth/internal/prompts"
	"github.com/plinthworks/plinth/internal/providers"
	"github.com/plinthworks/plinth/internal/retention"
	"github.com/plinthworks/plinth/internal/store"
	"github.com/plinthworks/plinth/internal/telemetry"
	"github.com/plinthworks/plinth/internal/vectorsearch"
	"github.com/plinthworks/plinth/pkg/contracts"
)

// embeddingDimensions is the width of the pgvector column.
const embeddingDimensions = 1536

// Server is the assembled platform process.
type Server struct {
	cfg     *config.Config
	handler http.Handler
	httpSrv *http.Server

	store     store.Store
	rdb       *redis.Client
	pool      *jobs.Pool
	janitor   *retention.Janitor
	startedAt time.Time

	telemetryShutdown func(context.Context) error
}

// noFlags is the default flag provider: no explicit variant assignments.
type noFlags struct{}

func (noFlags) Variant(ctx context.Context, userID, promptName string) (string, bool) {
	return "", false
}

// New wires the full platform from configuration.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	telemetryShutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}
	emitter := telemetry.NewEmitter()

	// Primary store: Postgres when configured, in-memory otherwise.
	var st store.Store
	var pgStore *store.PostgresStore
	if cfg.DatabaseURL != "" {
		pgStore, err = store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("primary store: %w", err)
		}
		st = pgStore
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
		st = store.NewMemoryStore()
	}

	// Redis backs the token counters and the job queue.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable at startup")
		}
	}

	// Budgets. Token budget fails open in development, closed in production.
	ledger := budget.NewCostLedger(cfg.MaxCostUSD)
	var counters contracts.CounterStore
	if rdb != nil {
		counters = budget.NewRedisCounter(rdb)
	}
	tokens := budget.NewTokenBudget(counters, cfg.DailyTokenLimit, !cfg.IsProduction())

	// Vector store: pgvector over the shared pool, else embedded in-memory.
	var vectors contracts.VectorStore
	if pgStore != nil {
		vectors, err = vectorsearch.NewPgvectorStore(ctx, pgStore.Pool(), embeddingDimensions)
		if err != nil {
			return nil, fmt.Errorf("vector store: %w", err)
		}
	} else {
		vectors = vectorsearch.NewEmbeddedStore()
	}

	llmClient := llm.NewClient(cfg.LiteLLMProxyURL, cfg.LiteLLMAPIKey)

	// Provider adapters behind the availability gate.
	gate := providers.NewGate(providers.Mode(cfg.ProviderModeEffective()))
	scraper := providers.NewCrawl4AI(cfg.Crawl4AIURL)
	parser := providers.NewZerox(cfg.ZeroxURL, cfg.ZeroxModel)
	ocr := providers.NewTieredOCR(providers.NewVisionOCR(parser), providers.NewTesseractOCR(cfg.TesseractEnabled))
	transcriber := providers.NewDeepgram(cfg.DeepgramAPIKey, "")

	var memory contracts.MemoryProvider = providers.NewMem0(cfg.Mem0APIKey, "")
	if cfg.Mem0APIKey == "" && cfg.ZepAPIKey != "" {
		memory = providers.NewZep(cfg.ZepAPIKey, "")
	}

	// Ingestion pipeline and job plumbing.
	registry := ingest.DefaultRegistry(parser, ocr, transcriber, scraper)
	embedder := ingest.NewEmbedder(llmClient, ledger, cfg.RouteLLMEnabled)
	chunker := ingest.ChunkerConfig{ChunkSize: cfg.ChunkSizeChars, ChunkOverlap: cfg.ChunkOverlapChars}

	var queue jobs.Queue = jobs.NoopQueue{}
	if rdb != nil {
		queue = jobs.NewRedisQueue(rdb)
	}

	pipeline := ingest.NewPipeline(st, vectors, embedder, tokens, ledger, queue, registry, chunker)

	pool := jobs.NewPool(queue, emitter, jobs.Options{Concurrency: cfg.WorkerConcurrency})
	jobs.NewProcessors(st, vectors, embedder, llmClient, pipeline, chunker).RegisterAll(pool)

	// Guardrails honor the configured failure mode. The LLM-judge scanner
	// is only attached when a judge model is named.
	guardOpts := []guardrails.Option{}
	if cfg.LlamaGuardFailureMode == config.FailureModeOpen {
		guardOpts = append(guardOpts, guardrails.WithFailureMode(guardrails.FailOpen))
	}
	if cfg.LlamaGuardModel != "" && cfg.LiteLLMProxyURL != "" {
		guardOpts = append(guardOpts, guardrails.WithSemanticScanner(llmClient, cfg.LlamaGuardModel))
	}
	guard := guardrails.NewService(guardOpts...)

	authn := auth.NewAuthenticator(cfg.ClerkSecretKey, cfg.AdminAPIKey, cfg.APIKeys)
	if authn.FailOpen() {
		log.Warn().Msg("no credential source configured, auth running fail-open")
	}

	governor := &middleware.Governor{
		Tiers:      auth.DefaultTierTable(),
		Auth:       authn,
		Bot:        providers.NewTurnstile(cfg.TurnstileSecretKey, ""),
		Tokens:     tokens,
		Ledger:     ledger,
		Emitter:    emitter,
		Production: cfg.IsProduction(),
	}

	var janitor *retention.Janitor
	if cfg.RetentionEnabled {
		janitor = retention.NewJanitor(st, vectors, cfg.RetentionInterval)
		janitor.RegisterArchiver(retention.NewLocalFileArchiver(cfg.ArchivePath, cfg.ArchiveCompress))
	}

	s := &Server{
		cfg:               cfg,
		store:             st,
		rdb:               rdb,
		pool:              pool,
		janitor:           janitor,
		startedAt:         time.Now(),
		telemetryShutdown: telemetryShutdown,
	}

	a := &api.API{
		Store:     st,
		Pipeline:  pipeline,
		Search:    vectorsearch.NewService(vectors, llmClient, ledger),
		Prompts:   prompts.NewService(st, noFlags{}),
		Genlog:    genlog.NewService(st),
		Prefs:     prefs.NewService(st),
		Guard:     guard,
		Queue:     queue,
		Ledger:    ledger,
		Governor:  governor,
		Gate:      gate,
		StartedAt: func() float64 { return time.Since(s.startedAt).Seconds() },
		Probes: api.HealthProbes{
			Database: st.Ping,
			Redis:    s.redisProbe(),
			LiteLLM:  s.litellmProbe(),
		},

		Memory:      memory,
		Tools:       providers.NewComposio(cfg.ComposioAPIKey, ""),
		FineTune:    providers.NewOpenPipe(cfg.OpenPipeAPIKey, ""),
		Transcriber: transcriber,

		ReloadAPIKeys: func() int {
			fresh := config.Load()
			return authn.ReloadKeys(fresh.APIKeys)
		},
	}

	s.handler = a.Router(cfg.AllowedOrigins, cfg.IsProduction())
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves HTTP and the worker pool until ctx is cancelled, then shuts
// both down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.cfg.Port).Str("env", s.cfg.Env).Msg("http server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	workerDone := make(chan error, 1)
	go func() { workerDone <- s.pool.Run(ctx) }()

	if s.janitor != nil {
		go s.janitor.Start(ctx)
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var firstErr error
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		firstErr = fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-workerDone; err != nil && firstErr == nil {
		firstErr = fmt.Errorf("worker drain: %w", err)
	}

	if s.telemetryShutdown != nil {
		if err := s.telemetryShutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown")
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close")
		}
	}
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("store close")
	}
	return firstErr
}

func (s *Server) redisProbe() func(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	return func(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }
}

func (s *Server) litellmProbe() func(ctx context.Context) error {
	if s.cfg.LiteLLMProxyURL == "" {
		return nil
	}
	url := s.cfg.LiteLLMProxyURL + "/health/liveliness"
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("litellm status %d", resp.StatusCode)
		}
		return nil
	}
}
