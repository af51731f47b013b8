// Package models defines the persisted entities and wire payloads for the
// Plinth platform core: documents, embeddings, prompt versions, generation
// records, preferences, jobs, and the request/response shapes the API serves.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ── Semantic Versioning Helpers ──────────────────────────────

// InitialPromptVersion is assigned to the first version of a prompt.
const InitialPromptVersion = "v1.0.0"

// ParseSemver splits a "vX.Y.Z" (or "X.Y.Z") string. Returns (1,0,0) on error.
func ParseSemver(v string) (major, minor, patch int) {
	v = strings.TrimPrefix(v, "v")
	parts := strings.SplitN(v, ".", 3)
	if len(parts) != 3 {
		return 1, 0, 0
	}
	major, _ = strconv.Atoi(parts[0])
	minor, _ = strconv.Atoi(parts[1])
	patch, _ = strconv.Atoi(parts[2])
	return
}

// FormatSemver formats major.minor.patch into a v-prefixed version string.
func FormatSemver(major, minor, patch int) string {
	return fmt.Sprintf("v%d.%d.%d", major, minor, patch)
}

// BumpMinor increments the minor component and resets patch: v1.2.3 → v1.3.0
func BumpMinor(v string) string {
	major, minor, _ := ParseSemver(v)
	return FormatSemver(major, minor+1, 0)
}

// CompareSemver returns -1, 0, or 1 comparing a to b component-wise.
func CompareSemver(a, b string) int {
	am, an, ap := ParseSemver(a)
	bm, bn, bp := ParseSemver(b)
	for _, pair := range [][2]int{{am, bm}, {an, bn}, {ap, bp}} {
		if pair[0] < pair[1] {
			return -1
		}
		if pair[0] > pair[1] {
			return 1
		}
	}
	return 0
}

// ── Documents ────────────────────────────────────────────────

// SourceType classifies where a document came from.
type SourceType string

const (
	SourceDocument SourceType = "document"
	SourceWeb      SourceType = "web"
	SourceCSV      SourceType = "csv"
	SourceImage    SourceType = "image"
	SourceAudio    SourceType = "audio"
	SourceAPI      SourceType = "api"
)

// ChunkStrategy selects how document text is split before embedding.
type ChunkStrategy string

const (
	ChunkFixed         ChunkStrategy = "fixed"
	ChunkSlidingWindow ChunkStrategy = "sliding-window"
	ChunkPerEntity     ChunkStrategy = "per-entity"
	ChunkSemantic      ChunkStrategy = "semantic"
)

// EnrichmentStatus tracks the post-ingest enrichment lifecycle of a document.
type EnrichmentStatus string

const (
	EnrichmentPending       EnrichmentStatus = "pending"
	EnrichmentComplete      EnrichmentStatus = "complete"
	EnrichmentFailed        EnrichmentStatus = "failed"
	EnrichmentNearDuplicate EnrichmentStatus = "near-duplicate"
)

// Document is an ingested piece of content. Invariant: after a successful
// embed, ChunkCount > 0 exactly when EmbeddingModelID is non-empty.
// ContentHash is unique by policy; duplicate ingests short-circuit to the
// existing document id.
type Document struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	SourceType       SourceType       `json:"sourceType"`
	SourceURL        string           `json:"sourceUrl,omitempty"`
	MimeType         string           `json:"mimeType"`
	ContentHash      string           `json:"contentHash"` // hex SHA-256 of canonical text
	ChunkCount       int              `json:"chunkCount"`
	EmbeddingModelID string           `json:"embeddingModelId,omitempty"`
	RawContent       string           `json:"rawContent,omitempty"`
	ChunkStrategy    ChunkStrategy    `json:"chunkStrategy"`
	IngestedAt       time.Time        `json:"ingestedAt"`
	SourceUpdatedAt  *time.Time       `json:"sourceUpdatedAt,omitempty"`
	ValidUntil       *time.Time       `json:"validUntil,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
	EnrichmentStatus EnrichmentStatus `json:"enrichmentStatus"`
	PartialFailure   bool             `json:"partialFailure,omitempty"`
	FreshnessStatus  string           `json:"freshnessStatus,omitempty"`
	DedupStatus      string           `json:"dedupStatus,omitempty"`
}

// EmbeddingRow is one embedded chunk. Rows for the same similarity query must
// never mix ModelIDs.
type EmbeddingRow struct {
	ID          string         `json:"id"`
	SourceType  SourceType     `json:"sourceType"`
	SourceID    string         `json:"sourceId"`
	ContentHash string         `json:"contentHash"` // hash of the chunk text
	Vector      []float32      `json:"vector"`
	ModelID     string         `json:"modelId"`
	Metadata    map[string]any `json:"metadata,omitempty"` // chunkIndex, text, validUntil, ...
	CreatedAt   time.Time      `json:"createdAt"`
}

// SearchResult is one knn hit, ordered by descending similarity.
type SearchResult struct {
	EmbeddingID string         `json:"embeddingId"`
	SourceType  SourceType     `json:"sourceType"`
	SourceID    string         `json:"sourceId"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Similarity  float64        `json:"similarity"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// ── Prompt Versions ──────────────────────────────────────────

// PromptVersion is one version of a named prompt. Append-only; ActivePct and
// EvalScore are the only mutable fields. For a given PromptName the sum of
// ActivePct across versions never exceeds 100.
type PromptVersion struct {
	ID          string    `json:"id"`
	PromptName  string    `json:"promptName"`
	Version     string    `json:"version"`
	Content     string    `json:"content"`
	ContentHash string    `json:"contentHash"`
	EvalScore   *float64  `json:"evalScore,omitempty"`
	ActivePct   int       `json:"activePct"`
	Author      string    `json:"author"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PromotionLadder is the fixed set of allowed ActivePct values when promoting.
var PromotionLadder = []int{0, 10, 50, 100}

// PromotionQualityGate is the minimum EvalScore required to advance above 10%.
const PromotionQualityGate = 0.70

// SelectionSource reports how an active prompt version was chosen.
type SelectionSource string

const (
	SelectionFlag   SelectionSource = "flag"
	SelectionSticky SelectionSource = "sticky"
)

// ActivePrompt is the payload returned by GET /api/prompts/{name}/active.
type ActivePrompt struct {
	PromptVersion
	Source SelectionSource `json:"source"`
}

// PromotionResult reports the outcome of a manual ladder promotion.
type PromotionResult struct {
	PreviousPct int `json:"previousPct"`
	NewPct      int `json:"newPct"`
	NextStep    int `json:"nextStep"` // next ladder rung above NewPct, or -1 at top
}

// DecisionAction is the verdict of the automated promotion engine.
type DecisionAction string

const (
	DecisionHold     DecisionAction = "hold"
	DecisionPromote  DecisionAction = "promote"
	DecisionRollback DecisionAction = "rollback"
)

// PromotionDecision is the result of evaluating live quality signals for a
// candidate prompt version.
type PromotionDecision struct {
	Action         DecisionAction `json:"action"`
	Reason         string         `json:"reason"`
	AcceptanceRate float64        `json:"acceptanceRate"`
	ConversionRate float64        `json:"conversionRate"`
	NextPct        int            `json:"nextPct"`
}

// PromotionMetrics are the live signals the decision engine consumes.
type PromotionMetrics struct {
	Samples        int     `json:"samples"`
	AcceptanceRate float64 `json:"acceptanceRate"`
	ConversionRate float64 `json:"conversionRate"`
}

// PromotionThresholds configure the automated decision.
type PromotionThresholds struct {
	MinSamples   int     `json:"minSamples"`
	PromoteAcc   float64 `json:"promoteAcc"`
	PromoteConv  float64 `json:"promoteConv"`
	RollbackAcc  float64 `json:"rollbackAcc"`
	RollbackConv float64 `json:"rollbackConv"`
}

// ── Generations & Feedback ───────────────────────────────────

// UserFeedback is the user's disposition toward a generation.
type UserFeedback string

const (
	FeedbackAccepted    UserFeedback = "accepted"
	FeedbackRejected    UserFeedback = "rejected"
	FeedbackEdited      UserFeedback = "edited"
	FeedbackRegenerated UserFeedback = "regenerated"
	FeedbackIgnored     UserFeedback = "ignored"
)

// ValidUserFeedback reports whether v is a recognized feedback enum value.
func ValidUserFeedback(v UserFeedback) bool {
	switch v {
	case FeedbackAccepted, FeedbackRejected, FeedbackEdited, FeedbackRegenerated, FeedbackIgnored:
		return true
	}
	return false
}

// AIGeneration is an immutable record of one LLM call. Only the feedback
// block mutates, and FeedbackAt is stamped exactly once.
type AIGeneration struct {
	ID                 string        `json:"id"`
	CreatedAt          time.Time     `json:"createdAt"`
	UserID             string        `json:"userId"`
	SessionID          string        `json:"sessionId,omitempty"`
	PromptHash         string        `json:"promptHash"`
	PromptVersion      string        `json:"promptVersion,omitempty"`
	TaskType           string        `json:"taskType"`
	InputTokens        int           `json:"inputTokens"`
	ResponseHash       string        `json:"responseHash"`
	OutputTokens       int           `json:"outputTokens"`
	Model              string        `json:"model"`
	ModelVersion       string        `json:"modelVersion,omitempty"`
	LatencyMs          int64         `json:"latencyMs"`
	CostUSD            float64       `json:"costUsd"`
	UserFeedback       *UserFeedback `json:"userFeedback,omitempty"`
	FeedbackAt         *time.Time    `json:"feedbackAt,omitempty"`
	Thumbs             *int          `json:"thumbs,omitempty"` // -1, 0, 1
	UserEditDiff       string        `json:"userEditDiff,omitempty"`
	QualityScore       *float64      `json:"qualityScore,omitempty"`
	Hallucination      bool          `json:"hallucination"`
	GuardrailTriggered []string      `json:"guardrailTriggered,omitempty"`
}

// OutcomeType classifies the downstream business result of a generation.
type OutcomeType string

const (
	OutcomeConversion    OutcomeType = "conversion"
	OutcomeTaskCompleted OutcomeType = "task_completed"
	OutcomeAbandoned     OutcomeType = "abandoned"
)

// ValidOutcomeType reports whether v is a recognized outcome enum value.
func ValidOutcomeType(v OutcomeType) bool {
	switch v {
	case OutcomeConversion, OutcomeTaskCompleted, OutcomeAbandoned:
		return true
	}
	return false
}

// Outcome links a business result back to the generation that produced it.
type Outcome struct {
	ID           string      `json:"id"`
	GenerationID string      `json:"generationId"`
	UserID       string      `json:"userId"`
	OutcomeType  OutcomeType `json:"outcomeType"`
	OutcomeValue float64     `json:"outcomeValue"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// FeedbackUpdate is the mutable feedback block of an AIGeneration. At least
// one field must be set.
type FeedbackUpdate struct {
	UserFeedback *UserFeedback `json:"userFeedback,omitempty"`
	Thumbs       *int          `json:"thumbs,omitempty"`
	UserEditDiff *string       `json:"userEditDiff,omitempty"`
}

// Empty reports whether the update carries no fields.
func (f FeedbackUpdate) Empty() bool {
	return f.UserFeedback == nil && f.Thumbs == nil && f.UserEditDiff == nil
}

// GenerationStats aggregates a user's generations over a window.
type GenerationStats struct {
	UserID            string  `json:"userId"`
	Days              int     `json:"days"`
	TotalCalls        int     `json:"totalCalls"`
	TotalInputTokens  int     `json:"totalInputTokens"`
	TotalOutputTokens int     `json:"totalOutputTokens"`
	TotalCostUSD      float64 `json:"totalCostUsd"`
	AvgLatencyMs      float64 `json:"avgLatencyMs"`
	AcceptanceRate    float64 `json:"acceptanceRate"`
}

// FeedbackSignal is the per-generation slice of data the preference
// inference rules consume.
type FeedbackSignal struct {
	UserFeedback UserFeedback `json:"userFeedback,omitempty"`
	Thumbs       *int         `json:"thumbs,omitempty"`
	Model        string       `json:"model"`
	TaskType     string       `json:"taskType"`
	LatencyMs    int64        `json:"latencyMs"`
	QualityScore *float64     `json:"qualityScore,omitempty"`
	UserEditDiff string       `json:"userEditDiff,omitempty"`
}

// ── Preferences ──────────────────────────────────────────────

// PreferenceSource records how a preference row came to exist. Inference must
// never overwrite an explicit row.
type PreferenceSource string

const (
	PreferenceExplicit PreferenceSource = "explicit"
	PreferenceInferred PreferenceSource = "inferred"
	PreferenceDefault  PreferenceSource = "default"
)

// UserPreference is one (userId, preferenceKey) row.
type UserPreference struct {
	ID              string           `json:"id"`
	UserID          string           `json:"userId"`
	PreferenceKey   string           `json:"preferenceKey"`
	PreferenceValue json.RawMessage  `json:"preferenceValue"`
	Source          PreferenceSource `json:"source"`
	Confidence      float64          `json:"confidence"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// InferenceReport summarizes one inference batch run.
type InferenceReport struct {
	UserID          string   `json:"userId"`
	SignalsSeen     int      `json:"signalsSeen"`
	Written         []string `json:"written"`
	SkippedExplicit int      `json:"skippedExplicit"`
}

// ── Few-Shot Curation ────────────────────────────────────────

// FewShotEntry is a curated input/output example used to steer generations.
type FewShotEntry struct {
	ID                 string         `json:"id"`
	TaskType           string         `json:"taskType"`
	InputText          string         `json:"inputText"`
	OutputText         string         `json:"outputText"`
	QualityScore       float64        `json:"qualityScore"`
	SourceGenerationID string         `json:"sourceGenerationId,omitempty"`
	CuratedBy          string         `json:"curatedBy"` // auto | manual
	IsActive           bool           `json:"isActive"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
}

// ── Jobs ─────────────────────────────────────────────────────

// JobType is the closed set of background job kinds.
type JobType string

const (
	JobEmbed      JobType = "embed"
	JobEnrich     JobType = "enrich"
	JobDedupCheck JobType = "dedup-check"
	JobReEmbed    JobType = "re-embed"
	JobFreshness  JobType = "freshness"
	JobScrape     JobType = "scrape"
)

// JobState is the lifecycle state of a queued job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobDelayed   JobState = "delayed"
)

// Job is a durable typed background task. Delivery is at-least-once; every
// processor must be idempotent.
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	DocumentID  string          `json:"documentId,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	State       JobState        `json:"state"`
	DelayUntil  *time.Time      `json:"delayUntil,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
}

// ── Budgets ──────────────────────────────────────────────────

// BudgetSnapshot is the result of a token budget check, returned with 429s.
type BudgetSnapshot struct {
	Allowed   bool  `json:"allowed"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

// ── Guardrails ───────────────────────────────────────────────

// Severity ranks guardrail findings.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for filtering; unknown ranks lowest.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// SeverityAtLeast reports whether s is at or above min.
func SeverityAtLeast(s, min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// Finding is one guardrail hit.
type Finding struct {
	Scanner  string   `json:"scanner"`
	Kind     string   `json:"kind"` // pii_leakage, prompt_injection, ...
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail,omitempty"`
}

// ScanResult is the outcome of composing all configured scanners.
type ScanResult struct {
	Passed      bool      `json:"passed"`
	Findings    []Finding `json:"findings"`
	ScanTimeMs  int64     `json:"scanTimeMs"`
	ScannersRun []string  `json:"scannersRun"`
}

// ── Ingestion payloads ───────────────────────────────────────

// IngestRequest is the body of POST /api/documents and /api/ingest.
type IngestRequest struct {
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	SourceURL     string         `json:"sourceUrl,omitempty"`
	MimeType      string         `json:"mimeType,omitempty"`
	ChunkStrategy ChunkStrategy  `json:"chunkStrategy,omitempty"`
	ModelID       string         `json:"modelId,omitempty"` // caller override
	TaskType      string         `json:"taskType,omitempty"`
	ValidUntil    *time.Time     `json:"validUntil,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// IngestResult is the synchronous response of the ingestion pipeline.
type IngestResult struct {
	DocumentID          string `json:"documentId"`
	Duplicate           bool   `json:"duplicate,omitempty"`
	ChunksCreated       int    `json:"chunksCreated"`
	EmbeddingsGenerated bool   `json:"embeddingsGenerated"`
	EmbeddingModelID    string `json:"embeddingModelId,omitempty"`
	ContentHash         string `json:"contentHash"`
	Queued              bool   `json:"queued"`
	PartialFailure      bool   `json:"partialFailure,omitempty"`
}
