// Package retention sweeps lapsed documents out of the hot stores. A
// document whose ValidUntil has passed the grace window has its embedding
// rows removed from the vector store, its embedding state cleared, and its
// freshness status set to expired. When an archiver is registered the rows
// are written to durable storage first; archive failures are fail-safe and
// leave the rows in place for the next cycle.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/plinthworks/plinth/internal/ingest"
	"github.com/plinthworks/plinth/internal/store"
	"github.com/plinthworks/plinth/pkg/contracts"
	"github.com/plinthworks/plinth/pkg/models"
)

// DefaultGrace is how long past ValidUntil a document stays queryable via
// includeExpired before its rows are swept.
const DefaultGrace = 24 * time.Hour

// listPageSize bounds each document page during a sweep.
const listPageSize = 500

// Archiver writes purged embedding rows to durable storage.
type Archiver interface {
	Kind() string
	ArchiveRows(ctx context.Context, docID string, rows []models.EmbeddingRow) (string, error)
	HealthCheck(ctx context.Context) error
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	DocumentsExpired int
	RowsArchived     int
	RowsPurged       int
	Errors           []error
}

// Janitor periodically expires documents whose validity window has lapsed.
type Janitor struct {
	store    store.Store
	vectors  contracts.VectorStore
	interval time.Duration
	grace    time.Duration
	archiver Archiver
}

// NewJanitor creates a retention janitor that runs on the given interval.
func NewJanitor(s store.Store, vectors contracts.VectorStore, interval time.Duration) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	return &Janitor{
		store:    s,
		vectors:  vectors,
		interval: interval,
		grace:    DefaultGrace,
	}
}

// SetGrace overrides the post-expiry grace window. Negative values keep the
// default.
func (j *Janitor) SetGrace(grace time.Duration) {
	if grace >= 0 {
		j.grace = grace
	}
}

// RegisterArchiver attaches an archive backend. Without one, expired rows
// are purged directly.
func (j *Janitor) RegisterArchiver(a Archiver) {
	j.archiver = a
	log.Info().Str("kind", a.Kind()).Msg("archive driver registered")
}

// Start runs the janitor until ctx is cancelled. One sweep runs immediately
// on startup.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().Dur("interval", j.interval).Dur("grace", j.grace).Msg("retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one retention sweep over all documents.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	cutoff := start.UTC().Add(-j.grace)

	var stats CycleStats
	for offset := 0; ; offset += listPageSize {
		docs, err := j.store.ListDocuments(ctx, listPageSize, offset)
		if err != nil {
			log.Warn().Err(err).Msg("retention sweep: list documents")
			stats.Errors = append(stats.Errors, err)
			return stats
		}
		for _, doc := range docs {
			if !expired(doc, cutoff) {
				continue
			}
			j.expireDocument(ctx, doc, &stats)
		}
		if len(docs) < listPageSize {
			break
		}
	}

	if stats.DocumentsExpired > 0 || len(stats.Errors) > 0 {
		log.Info().
			Int("documents", stats.DocumentsExpired).
			Int("rowsPurged", stats.RowsPurged).
			Int("rowsArchived", stats.RowsArchived).
			Int("errors", len(stats.Errors)).
			Dur("elapsed", time.Since(start)).
			Msg("retention cycle complete")
	}
	return stats
}

// expired reports whether the document's validity lapsed before cutoff and
// it still holds embedding state worth sweeping.
func expired(doc models.Document, cutoff time.Time) bool {
	if doc.ValidUntil == nil || !doc.ValidUntil.Before(cutoff) {
		return false
	}
	return doc.FreshnessStatus != ingest.FreshnessExpired || doc.ChunkCount > 0
}

// expireDocument archives and purges one document's rows, then clears its
// embedding state. Rows are only deleted once the archive write succeeded.
func (j *Janitor) expireDocument(ctx context.Context, doc models.Document, stats *CycleStats) {
	rows, err := j.vectors.RowsBySource(ctx, doc.ID)
	if err != nil {
		log.Warn().Err(err).Str("documentId", doc.ID).Msg("retention: load rows")
		stats.Errors = append(stats.Errors, err)
		return
	}

	if j.archiver != nil && len(rows) > 0 {
		uri, err := j.archiver.ArchiveRows(ctx, doc.ID, rows)
		if err != nil {
			log.Warn().Err(err).
				Str("documentId", doc.ID).
				Str("backend", j.archiver.Kind()).
				Msg("retention: archive failed, skipping purge")
			stats.Errors = append(stats.Errors, err)
			return
		}
		stats.RowsArchived += len(rows)
		log.Debug().Str("documentId", doc.ID).Str("uri", uri).Msg("retention: rows archived")
	}

	if len(rows) > 0 {
		if err := j.vectors.DeleteBySource(ctx, doc.ID); err != nil {
			log.Warn().Err(err).Str("documentId", doc.ID).Msg("retention: purge rows")
			stats.Errors = append(stats.Errors, err)
			return
		}
		stats.RowsPurged += len(rows)
	}

	// ChunkCount and EmbeddingModelID move together: no rows, no model id.
	if err := j.store.UpdateDocumentEmbedding(ctx, doc.ID, 0, ""); err != nil {
		stats.Errors = append(stats.Errors, err)
	}
	if err := j.store.UpdateFreshnessStatus(ctx, doc.ID, ingest.FreshnessExpired); err != nil {
		stats.Errors = append(stats.Errors, err)
	}
	stats.DocumentsExpired++
}
