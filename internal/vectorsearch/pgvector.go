package vectorsearch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"

	"github.com/plinthworks/plinth/pkg/models"
)

// PgvectorStore is the production vector index: PostgreSQL with the pgvector
// extension. Rows are partitioned by embedding model id so a similarity query
// never compares vectors from different models.
type PgvectorStore struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPgvectorStore creates the pgvector-backed index on an existing pool and
// runs its migration.
func NewPgvectorStore(ctx context.Context, pool *pgxpool.Pool, dimensions int) (*PgvectorStore, error) {
	s := &PgvectorStore{pool: pool, dimensions: dimensions}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("pgvector migrate: %w", err)
	}
	log.Info().Int("dims", dimensions).Msg("pgvector store initialized")
	return s, nil
}

func (s *PgvectorStore) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS embeddings (
			id           TEXT PRIMARY KEY,
			source_type  TEXT NOT NULL,
			source_id    TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			model_id     TEXT NOT NULL,
			metadata     JSONB NOT NULL DEFAULT '{}',
			vector       vector(%d) NOT NULL,
			valid_until  TIMESTAMPTZ,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings (model_id);
		CREATE INDEX IF NOT EXISTS idx_embeddings_source ON embeddings (source_id);
	`, s.dimensions)

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// Upsert replaces all rows for docID in one transaction. The clear covers
// every model partition so a re-embed under a new model leaves no stale rows
// behind.
func (s *PgvectorStore) Upsert(ctx context.Context, modelID, docID string, rows []models.EmbeddingRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgvector upsert begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM embeddings WHERE source_id = $1`, docID); err != nil {
		return fmt.Errorf("pgvector upsert clear: %w", err)
	}

	for _, row := range rows {
		created := row.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO embeddings (id, source_type, source_id, content_hash, model_id, metadata, vector, valid_until, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			row.ID, row.SourceType, row.SourceID, row.ContentHash, modelID,
			row.Metadata, pgvector.NewVector(row.Vector), validUntilOf(row), created); err != nil {
			return fmt.Errorf("pgvector upsert insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// KNN returns the top-limit rows for modelID by cosine similarity, excluding
// lapsed rows unless includeExpired is set.
func (s *PgvectorStore) KNN(ctx context.Context, modelID string, query []float32, limit int, includeExpired bool) ([]models.SearchResult, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, source_type, source_id, metadata, created_at,
		1 - (vector <=> $1) AS similarity
		FROM embeddings
		WHERE model_id = $2`)
	if !includeExpired {
		sb.WriteString(` AND (valid_until IS NULL OR valid_until >= NOW())`)
	}
	sb.WriteString(` ORDER BY vector <=> $1 LIMIT $3`)

	rows, err := s.pool.Query(ctx, sb.String(), pgvector.NewVector(query), modelID, limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector knn: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.EmbeddingID, &r.SourceType, &r.SourceID, &r.Metadata, &r.CreatedAt, &r.Similarity); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// RowsBySource returns the stored rows for one document, chunk order
// preserved via the chunkIndex metadata written at upsert time.
func (s *PgvectorStore) RowsBySource(ctx context.Context, sourceID string) ([]models.EmbeddingRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_type, source_id, content_hash, model_id, metadata, vector, created_at
		FROM embeddings
		WHERE source_id = $1
		ORDER BY (metadata->>'chunkIndex')::int`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("pgvector rows by source: %w", err)
	}
	defer rows.Close()

	var out []models.EmbeddingRow
	for rows.Next() {
		var r models.EmbeddingRow
		var vec pgvector.Vector
		if err := rows.Scan(&r.ID, &r.SourceType, &r.SourceID, &r.ContentHash, &r.ModelID, &r.Metadata, &vec, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		r.Vector = vec.Slice()
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteBySource removes every row belonging to a document.
func (s *PgvectorStore) DeleteBySource(ctx context.Context, sourceID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM embeddings WHERE source_id = $1`, sourceID)
	return err
}

// validUntilOf pulls the optional expiry out of the row metadata so the KNN
// query can filter lapsed rows in SQL.
func validUntilOf(row models.EmbeddingRow) *time.Time {
	raw, ok := row.Metadata["validUntil"].(string)
	if !ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}
