package vectorsearch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/plinthworks/plinth/internal/budget"
	"github.com/plinthworks/plinth/internal/ingest"
	"github.com/plinthworks/plinth/pkg/contracts"
	"github.com/plinthworks/plinth/pkg/models"
)

// ErrModelIDRequired rejects similarity queries that do not name an embedding
// model. Cross-model comparisons are meaningless, so the scope is mandatory.
var ErrModelIDRequired = errors.New("modelId is required for similarity search")

// ErrEmptyQuery rejects searches with neither text nor a vector.
var ErrEmptyQuery = errors.New("query text or vector is required")

// DefaultSearchLimit caps result sets when the caller does not.
const DefaultSearchLimit = 10

// Query is one similarity search request.
type Query struct {
	Text           string    `json:"query"`
	Vector         []float32 `json:"vector,omitempty"`
	ModelID        string    `json:"modelId"`
	Limit          int       `json:"limit,omitempty"`
	IncludeExpired bool      `json:"includeExpired,omitempty"`
}

// Service runs model-scoped KNN with freshness-weighted ranking. Query text
// is embedded with the same model that produced the stored rows.
type Service struct {
	vectors contracts.VectorStore
	llm     contracts.LLMClient
	ledger  *budget.CostLedger
}

// NewService wires the search service.
func NewService(vectors contracts.VectorStore, llm contracts.LLMClient, ledger *budget.CostLedger) *Service {
	return &Service{vectors: vectors, llm: llm, ledger: ledger}
}

// Search embeds the query text when no vector is supplied, runs KNN scoped to
// the query's model id, and re-ranks by similarity × freshness multiplier.
func (s *Service) Search(ctx context.Context, q Query) ([]models.SearchResult, error) {
	if q.ModelID == "" {
		return nil, ErrModelIDRequired
	}
	if q.Text == "" && len(q.Vector) == 0 {
		return nil, ErrEmptyQuery
	}
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}

	vector := q.Vector
	if len(vector) == 0 {
		if err := s.ledger.EnsureBudget(); err != nil {
			return nil, err
		}
		resp, err := s.llm.Embed(ctx, q.ModelID, []string{q.Text})
		if err != nil {
			s.ledger.RecordCall("search", q.ModelID, 0, 0, 0, false)
			return nil, fmt.Errorf("embed query: %w", err)
		}
		s.ledger.RecordCall("search", q.ModelID, resp.InputTokens, 0, resp.LatencyMs, true)
		if len(resp.Vectors) == 0 {
			return nil, errors.New("embed query: empty response")
		}
		vector = resp.Vectors[0]
	}

	// Over-fetch so freshness demotion cannot starve the result set.
	hits, err := s.vectors.KNN(ctx, q.ModelID, vector, q.Limit*3, q.IncludeExpired)
	if err != nil {
		return nil, fmt.Errorf("knn: %w", err)
	}

	ranked := RankByFreshness(hits, time.Now().UTC(), q.IncludeExpired)
	if len(ranked) > q.Limit {
		ranked = ranked[:q.Limit]
	}
	return ranked, nil
}

// RankByFreshness multiplies each hit's similarity by its document freshness
// and re-sorts. Expired hits score zero and are dropped unless requested.
func RankByFreshness(hits []models.SearchResult, now time.Time, includeExpired bool) []models.SearchResult {
	out := make([]models.SearchResult, 0, len(hits))
	for _, hit := range hits {
		mult := hitFreshness(hit, now)
		if mult == 0 && !includeExpired {
			continue
		}
		hit.Similarity *= mult
		out = append(out, hit)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func hitFreshness(hit models.SearchResult, now time.Time) float64 {
	ingestedAt := hit.CreatedAt
	if raw, ok := hit.Metadata["ingestedAt"].(string); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			ingestedAt = t
		}
	}
	var validUntil *time.Time
	if raw, ok := hit.Metadata["validUntil"].(string); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			validUntil = &t
		}
	}
	return ingest.ComputeFreshnessMultiplier(ingestedAt, validUntil, now)
}
