// Package config loads platform configuration from environment variables.
// Development reads an optional .env file; production relies on the real
// environment and fails startup when strict-mode requirements are missing.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environments recognized via NODE_ENV.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Provider availability modes (see internal/providers).
const (
	ProviderModeOpen   = "open"
	ProviderModeStrict = "strict"
)

// Guardrail failure modes for the optional semantic scanner.
const (
	FailureModeOpen   = "open"
	FailureModeClosed = "closed"
)

// Config holds all configuration for the platform core.
type Config struct {
	Port           int
	Env            string
	AllowedOrigins []string

	// Credentials
	APIKeys        []string
	AdminAPIKey    string
	ClerkSecretKey string

	// Stores
	RedisURL    string
	DatabaseURL string

	// LLM proxy
	LiteLLMProxyURL string
	LiteLLMAPIKey   string

	// Bot protection
	TurnstileSecretKey string

	// Budgets
	MaxCostUSD      float64
	DailyTokenLimit int64

	// Ingestion
	ChunkSizeChars    int
	ChunkOverlapChars int
	RouteLLMEnabled   bool

	// Guardrails
	LlamaGuardFailureMode string
	LlamaGuardModel       string

	// Provider adapters
	ProviderMode            string
	ProviderAllowOpenInProd bool
	DeepgramAPIKey          string
	ZeroxURL                string
	ZeroxModel              string
	TesseractEnabled        bool
	Crawl4AIURL             string
	Mem0APIKey              string
	ZepAPIKey               string
	OpenPipeAPIKey          string
	ComposioAPIKey          string

	// Workers
	WorkerConcurrency int

	// Retention
	RetentionEnabled  bool
	RetentionInterval time.Duration
	ArchivePath       string
	ArchiveCompress   bool

	Telemetry TelemetryConfig
}

// TelemetryConfig configures OTLP tracing.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with defaults.
// A .env file is honored outside production.
func Load() *Config {
	env := envStr("NODE_ENV", EnvDevelopment)
	if env != EnvProduction {
		_ = godotenv.Load()
	}

	providerMode := envStr("STRATEGY_PROVIDER_MODE", "")
	if providerMode == "" {
		if env == EnvProduction {
			providerMode = ProviderModeStrict
		} else {
			providerMode = ProviderModeOpen
		}
	}

	return &Config{
		Port:           envInt("PORT", 8080),
		Env:            env,
		AllowedOrigins: envCSV("ALLOWED_ORIGINS"),

		APIKeys:        envCSV("API_KEYS"),
		AdminAPIKey:    envStr("ADMIN_API_KEY", ""),
		ClerkSecretKey: envStr("CLERK_SECRET_KEY", ""),

		RedisURL:    envStr("REDIS_URL", ""),
		DatabaseURL: envStr("DATABASE_URL", ""),

		LiteLLMProxyURL: envStr("LITELLM_PROXY_URL", ""),
		LiteLLMAPIKey:   envStr("LITELLM_API_KEY", ""),

		TurnstileSecretKey: envStr("TURNSTILE_SECRET_KEY", ""),

		MaxCostUSD:      envFloat("MAX_COST", 10.0),
		DailyTokenLimit: int64(envInt("DAILY_TOKEN_LIMIT", 100_000)),

		ChunkSizeChars:    envInt("CHUNK_SIZE_CHARS", 1000),
		ChunkOverlapChars: envInt("CHUNK_OVERLAP_CHARS", 100),
		RouteLLMEnabled:   envBool("ROUTELLM_ENABLED", true),

		LlamaGuardFailureMode: envStr("LLAMAGUARD_FAILURE_MODE", FailureModeClosed),
		LlamaGuardModel:       envStr("LLAMAGUARD_MODEL", ""),

		ProviderMode:            providerMode,
		ProviderAllowOpenInProd: envBool("STRATEGY_PROVIDER_ALLOW_OPEN_IN_PRODUCTION", false),
		DeepgramAPIKey:          envStr("DEEPGRAM_API_KEY", ""),
		ZeroxURL:                envStr("ZEROX_URL", ""),
		ZeroxModel:              envStr("ZEROX_MODEL", ""),
		TesseractEnabled:        envBool("TESSERACT_ENABLED", false),
		Crawl4AIURL:             envStr("CRAWL4AI_URL", ""),
		Mem0APIKey:              envStr("MEM0_API_KEY", ""),
		ZepAPIKey:               envStr("ZEP_API_KEY", ""),
		OpenPipeAPIKey:          envStr("OPENPIPE_API_KEY", ""),
		ComposioAPIKey:          envStr("COMPOSIO_API_KEY", ""),

		WorkerConcurrency: envInt("WORKER_CONCURRENCY", 5),

		RetentionEnabled:  envBool("RETENTION_ENABLED", true),
		RetentionInterval: envDuration("RETENTION_INTERVAL", time.Hour),
		ArchivePath:       envStr("ARCHIVE_PATH", ""),
		ArchiveCompress:   envBool("ARCHIVE_COMPRESS", true),

		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "plinth-core"),
		},
	}
}

// IsProduction reports whether the process runs with production fail-closed
// defaults.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// FailOpenAuth reports whether the auth layer runs in fail-open mode: neither
// credential source is configured. IDOR scoping is skipped in this mode.
func (c *Config) FailOpenAuth() bool {
	return c.ClerkSecretKey == "" && len(c.APIKeys) == 0
}

// ProviderModeEffective resolves the adapter availability policy, honoring
// the break-glass flag that permits open mode in production.
func (c *Config) ProviderModeEffective() string {
	if c.ProviderMode == ProviderModeOpen && c.IsProduction() && !c.ProviderAllowOpenInProd {
		return ProviderModeStrict
	}
	return c.ProviderMode
}

// Validate enforces strict-mode requirements. In production the primary
// store and LLM proxy must be configured; a violation is a fatal startup
// error (exit 1).
func (c *Config) Validate() error {
	if !c.IsProduction() {
		return nil
	}
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.LiteLLMProxyURL == "" {
		missing = append(missing, "LITELLM_PROXY_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config in production: %s", strings.Join(missing, ", "))
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envCSV(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
