package ingest

import (
	"context"
	"strings"

	"github.com/plinthworks/plinth/pkg/contracts"
)

// NearDuplicateThreshold is the cosine similarity above which two documents
// are considered near-duplicates. Near-duplicates are marked, not rejected.
const NearDuplicateThreshold = 0.92

// Dedup status labels written to documents.
const (
	DedupUnique        = "unique"
	DedupNearDuplicate = "near-duplicate"
)

// DedupEntities drops rows whose identifier tuple was already seen. Order is
// preserved; the first occurrence wins.
func DedupEntities(rows []map[string]string, idColumns []string) []map[string]string {
	if len(idColumns) == 0 {
		return rows
	}
	seen := make(map[string]bool, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		parts := make([]string, len(idColumns))
		for i, col := range idColumns {
			parts[i] = row[col]
		}
		key := strings.Join(parts, "\x1f")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row)
	}
	return out
}

// CheckNearDuplicate compares a document's stored vectors against existing
// same-model embeddings. Returns the dedup status label. A document with no
// stored vectors is trivially unique.
func CheckNearDuplicate(ctx context.Context, vectors contracts.VectorStore, modelID, docID string) (string, error) {
	rows, err := vectors.RowsBySource(ctx, docID)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return DedupUnique, nil
	}

	// The first chunk is representative enough for a whole-document check.
	hits, err := vectors.KNN(ctx, modelID, rows[0].Vector, 5, true)
	if err != nil {
		return "", err
	}
	for _, hit := range hits {
		if hit.SourceID == docID {
			continue
		}
		if hit.Similarity >= NearDuplicateThreshold {
			return DedupNearDuplicate, nil
		}
	}
	return DedupUnique, nil
}
