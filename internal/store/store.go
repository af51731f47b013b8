// Package store provides typed entity access over the relational store.
// Handler and service code depends on the Store interface, so the in-memory
// implementation can stand in for PostgreSQL in tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/plinthworks/plinth/pkg/models"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a uniqueness policy is violated.
var ErrDuplicate = errors.New("duplicate")

// Store is the primary typed-entity interface for the platform core.
type Store interface {
	DocumentStore
	PromptStore
	GenerationStore
	PreferenceStore
	FewShotStore

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Documents ────────────────────────────────────────────────

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)

	// GetDocumentByHash finds a document by content hash; used by the exact
	// dedup short-circuit.
	GetDocumentByHash(ctx context.Context, contentHash string) (*models.Document, error)

	// UpdateDocumentEmbedding sets (chunkCount, embeddingModelId) together so
	// the pair invariant holds at every observable point.
	UpdateDocumentEmbedding(ctx context.Context, id string, chunkCount int, modelID string) error

	UpdateEnrichmentStatus(ctx context.Context, id string, status models.EnrichmentStatus) error
	UpdateDedupStatus(ctx context.Context, id, status string) error
	UpdateFreshnessStatus(ctx context.Context, id, status string) error
	SetPartialFailure(ctx context.Context, id string, partial bool) error
	ListDocuments(ctx context.Context, limit, offset int) ([]models.Document, error)
}

// ── Prompt Versions ──────────────────────────────────────────

type PromptStore interface {
	CreatePromptVersion(ctx context.Context, v *models.PromptVersion) error
	GetPromptVersion(ctx context.Context, id string) (*models.PromptVersion, error)

	// ListPromptVersions returns all versions of a prompt sorted by version
	// ascending.
	ListPromptVersions(ctx context.Context, promptName string) ([]models.PromptVersion, error)

	UpdateActivePct(ctx context.Context, id string, pct int) error
	SetEvalScore(ctx context.Context, id string, score float64) error

	// PromoteFull atomically sets the version to 100% and all sibling
	// versions of the same prompt to 0. Readers never observe an
	// intermediate state with an allocation sum above 100.
	PromoteFull(ctx context.Context, id string) error
}

// ── Generations ──────────────────────────────────────────────

type GenerationStore interface {
	InsertGeneration(ctx context.Context, g *models.AIGeneration) error
	GetGeneration(ctx context.Context, id string) (*models.AIGeneration, error)
	ListGenerations(ctx context.Context, userID string, limit, offset int) ([]models.AIGeneration, error)
	ListGenerationsSince(ctx context.Context, userID string, since time.Time) ([]models.AIGeneration, error)

	// AttachFeedback applies the feedback block last-writer-wins and stamps
	// FeedbackAt only on the first write. Returns the updated row.
	AttachFeedback(ctx context.Context, id string, fb models.FeedbackUpdate) (*models.AIGeneration, error)

	InsertOutcome(ctx context.Context, o *models.Outcome) error

	// ListFeedbackUserIDs returns the distinct users with at least one
	// feedback-bearing generation; used by infer-all.
	ListFeedbackUserIDs(ctx context.Context) ([]string, error)
}

// ── Preferences ──────────────────────────────────────────────

type PreferenceStore interface {
	GetPreference(ctx context.Context, userID, key string) (*models.UserPreference, error)
	ListPreferences(ctx context.Context, userID string) ([]models.UserPreference, error)

	// UpsertPreference inserts or updates the (userId, preferenceKey) row,
	// preserving CreatedAt on update.
	UpsertPreference(ctx context.Context, p *models.UserPreference) error

	DeletePreference(ctx context.Context, userID, key string) error
}

// ── Few-Shot Entries ─────────────────────────────────────────

type FewShotStore interface {
	InsertFewShot(ctx context.Context, e *models.FewShotEntry) error
	ListFewShot(ctx context.Context, taskType string, activeOnly bool) ([]models.FewShotEntry, error)
}
