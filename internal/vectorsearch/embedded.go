package vectorsearch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/plinthworks/plinth/pkg/models"
)

// EmbeddedStore is a brute-force in-memory vector index, partitioned by
// model id. It backs development and tests; production uses pgvector.
type EmbeddedStore struct {
	mu sync.RWMutex
	// byModel maps modelID → docID → rows.
	byModel map[string]map[string][]models.EmbeddingRow
}

// NewEmbeddedStore creates an empty in-memory index.
func NewEmbeddedStore() *EmbeddedStore {
	return &EmbeddedStore{byModel: make(map[string]map[string][]models.EmbeddingRow)}
}

// Upsert replaces all rows for docID. Rows the document left under other
// models are cleared too, so a re-embed under a new model fully supersedes
// the old one.
func (s *EmbeddedStore) Upsert(ctx context.Context, modelID, docID string, rows []models.EmbeddingRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, docs := range s.byModel {
		delete(docs, docID)
	}
	docs := s.byModel[modelID]
	if docs == nil {
		docs = make(map[string][]models.EmbeddingRow)
		s.byModel[modelID] = docs
	}
	copied := make([]models.EmbeddingRow, len(rows))
	copy(copied, rows)
	docs[docID] = copied
	return nil
}

// KNN scans the modelID partition and returns the top-limit rows by cosine
// similarity. Ties resolve to the more recently created row.
func (s *EmbeddedStore) KNN(ctx context.Context, modelID string, query []float32, limit int, includeExpired bool) ([]models.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var results []models.SearchResult
	for _, rows := range s.byModel[modelID] {
		for _, row := range rows {
			if !includeExpired && rowExpired(row, now) {
				continue
			}
			results = append(results, models.SearchResult{
				EmbeddingID: row.ID,
				SourceType:  row.SourceType,
				SourceID:    row.SourceID,
				Metadata:    row.Metadata,
				Similarity:  CosineSimilarity(query, row.Vector),
				CreatedAt:   row.CreatedAt,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// RowsBySource returns the stored rows for one document across all model
// partitions, chunk order preserved.
func (s *EmbeddedStore) RowsBySource(ctx context.Context, sourceID string) ([]models.EmbeddingRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, docs := range s.byModel {
		if rows, ok := docs[sourceID]; ok {
			out := make([]models.EmbeddingRow, len(rows))
			copy(out, rows)
			return out, nil
		}
	}
	return nil, nil
}

// DeleteBySource removes every row belonging to a document.
func (s *EmbeddedStore) DeleteBySource(ctx context.Context, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, docs := range s.byModel {
		delete(docs, sourceID)
	}
	return nil
}

// rowExpired reports whether the row's validUntil metadata has passed.
func rowExpired(row models.EmbeddingRow, now time.Time) bool {
	raw, ok := row.Metadata["validUntil"].(string)
	if !ok {
		return false
	}
	validUntil, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return validUntil.Before(now)
}
