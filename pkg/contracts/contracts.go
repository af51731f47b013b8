// Package contracts defines the capability interfaces the platform core
// depends on. External collaborators — the LLM proxy, the vector store, the
// distributed counter store, scrape/OCR/transcription services, and the
// memory/tool/fine-tune providers — are reached only through these
// interfaces, so the wiring code can swap real clients for in-memory
// implementations in tests.
package contracts

import (
	"context"

	"github.com/plinthworks/plinth/pkg/models"
)

// ── LLM Client ───────────────────────────────────────────────

// ChatMessage is one turn of a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest asks the LLM proxy for a completion.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// ChatResponse is the completion plus token accounting.
type ChatResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
	LatencyMs    int64  `json:"latencyMs"`
}

// EmbedResponse carries the vectors for one batched embedding call.
type EmbedResponse struct {
	Vectors     [][]float32 `json:"vectors"`
	Model       string      `json:"model"`
	InputTokens int         `json:"inputTokens"`
	LatencyMs   int64       `json:"latencyMs"`
}

// LLMClient is the single capability through which the core reaches the
// embedding/chat provider endpoints.
type LLMClient interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Embed(ctx context.Context, model string, texts []string) (*EmbedResponse, error)
}

// ── Vector Store ─────────────────────────────────────────────

// VectorStore is the narrow interface over the external vector index.
// Every query is scoped by modelID; mixing vectors from different embedding
// models in one similarity query is a bug, not a failure mode.
type VectorStore interface {
	// Upsert replaces the rows for (modelID, docID) with the given rows.
	Upsert(ctx context.Context, modelID, docID string, rows []models.EmbeddingRow) error

	// KNN returns the top-limit rows by cosine similarity for modelID.
	// When includeExpired is false, rows whose document validity has lapsed
	// are excluded.
	KNN(ctx context.Context, modelID string, query []float32, limit int, includeExpired bool) ([]models.SearchResult, error)

	// RowsBySource returns the stored rows for one document, chunk order
	// preserved. Used by the near-duplicate check.
	RowsBySource(ctx context.Context, sourceID string) ([]models.EmbeddingRow, error)

	// DeleteBySource removes all rows owned by a document.
	DeleteBySource(ctx context.Context, sourceID string) error
}

// ── Counter Store ────────────────────────────────────────────

// CounterStore is the distributed counter used for per-user token budgets.
// IncrBy sets ttl only when the key is first created.
type CounterStore interface {
	IncrBy(ctx context.Context, key string, delta int64, ttlSeconds int64) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}

// ── Feature Flags ────────────────────────────────────────────

// FlagProvider resolves explicit prompt variant assignments. Variant returns
// ("", false) when no explicit assignment exists.
type FlagProvider interface {
	Variant(ctx context.Context, userID, promptName string) (string, bool)
}

// ── Bot Verification ─────────────────────────────────────────

// BotVerifier checks an anti-bot challenge token (Turnstile-style).
type BotVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// ── Ingestion collaborators ──────────────────────────────────

// Scraper fetches a URL through the external web-scrape service and returns
// markdown.
type Scraper interface {
	Scrape(ctx context.Context, url string) (markdown string, err error)
}

// DocParser extracts plain text from binary documents (PDF, DOCX) via the
// external parse service.
type DocParser interface {
	Parse(ctx context.Context, mimeType string, data []byte) (text string, err error)
}

// OCRProvider extracts text from images. Implementations are tiered:
// semantic vision models preferred, local OCR as fallback.
type OCRProvider interface {
	ExtractText(ctx context.Context, mimeType string, data []byte) (text string, err error)
}

// ── Provider adapters (availability-gated) ───────────────────

// Availability reports whether a provider adapter is configured. Unconfigured
// adapters either no-op (open mode) or refuse (strict mode); the policy lives
// in the adapter, callers only observe the error.
type Availability interface {
	Configured() bool
	Name() string
}

// MemoryEntry is one long-term memory record held by the memory provider.
type MemoryEntry struct {
	ID       string         `json:"id"`
	UserID   string         `json:"userId"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score,omitempty"`
}

// MemoryProvider is the third-party long-term memory capability.
type MemoryProvider interface {
	Availability
	Add(ctx context.Context, userID, content string, metadata map[string]any) (*MemoryEntry, error)
	Search(ctx context.Context, userID, query string, limit int) ([]MemoryEntry, error)
	GetAll(ctx context.Context, userID string) ([]MemoryEntry, error)
	Delete(ctx context.Context, id string) error
}

// ToolAction describes one executable action exposed by the tool provider.
type ToolAction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	AppName     string `json:"appName,omitempty"`
}

// ToolProvider is the third-party tool-execution capability.
type ToolProvider interface {
	Availability
	ListActions(ctx context.Context) ([]ToolAction, error)
	Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error)
}

// FineTuneJob is the status of one fine-tune run at the provider.
type FineTuneJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Model  string `json:"model,omitempty"`
}

// FineTuneProvider is the third-party fine-tune capability.
type FineTuneProvider interface {
	Availability
	LogCompletion(ctx context.Context, payload map[string]any) error
	Trigger(ctx context.Context, baseModel string, params map[string]any) (*FineTuneJob, error)
	Status(ctx context.Context, jobID string) (*FineTuneJob, error)
}

// Transcript is the result of one audio transcription.
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	DurationMs int64   `json:"durationMs,omitempty"`
}

// TranscriptionProvider is the external speech-to-text capability.
type TranscriptionProvider interface {
	Availability
	Transcribe(ctx context.Context, mimeType string, audio []byte) (*Transcript, error)
}

// ── Telemetry ────────────────────────────────────────────────

// EventEmitter records platform events (dead letters, guardrail blocks,
// budget denials) into the telemetry sink. Implementations must be safe for
// concurrent use and must never block the caller on sink latency.
type EventEmitter interface {
	Emit(event string, fields map[string]any)
}
