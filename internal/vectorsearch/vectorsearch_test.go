package vectorsearch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plinthworks/plinth/internal/budget"
	"github.com/plinthworks/plinth/pkg/contracts"
	"github.com/plinthworks/plinth/pkg/models"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	// Degenerate inputs score zero instead of erroring.
	assert.Zero(t, CosineSimilarity(nil, nil))
	assert.Zero(t, CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}

func seedRow(id, docID, modelID string, vec []float32, meta map[string]any, created time.Time) models.EmbeddingRow {
	return models.EmbeddingRow{
		ID:         id,
		SourceType: models.SourceDocument,
		SourceID:   docID,
		Vector:     vec,
		ModelID:    modelID,
		Metadata:   meta,
		CreatedAt:  created,
	}
}

func TestEmbeddedStoreKNNIsModelScoped(t *testing.T) {
	ctx := context.Background()
	s := NewEmbeddedStore()
	now := time.Now().UTC()

	require.NoError(t, s.Upsert(ctx, "model-a", "doc-1", []models.EmbeddingRow{
		seedRow("e1", "doc-1", "model-a", []float32{1, 0, 0}, nil, now),
	}))
	require.NoError(t, s.Upsert(ctx, "model-b", "doc-2", []models.EmbeddingRow{
		seedRow("e2", "doc-2", "model-b", []float32{1, 0, 0}, nil, now),
	}))

	hits, err := s.KNN(ctx, "model-a", []float32{1, 0, 0}, 10, true)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-1", hits[0].SourceID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
}

func TestEmbeddedStoreKNNOrdersAndBreaksTies(t *testing.T) {
	ctx := context.Background()
	s := NewEmbeddedStore()
	now := time.Now().UTC()

	require.NoError(t, s.Upsert(ctx, "m", "old", []models.EmbeddingRow{
		seedRow("e-old", "old", "m", []float32{1, 0}, nil, now.Add(-time.Hour)),
	}))
	require.NoError(t, s.Upsert(ctx, "m", "new", []models.EmbeddingRow{
		seedRow("e-new", "new", "m", []float32{1, 0}, nil, now),
	}))
	require.NoError(t, s.Upsert(ctx, "m", "far", []models.EmbeddingRow{
		seedRow("e-far", "far", "m", []float32{0, 1}, nil, now),
	}))

	hits, err := s.KNN(ctx, "m", []float32{1, 0}, 2, true)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "new", hits[0].SourceID, "equal similarity resolves to newer row")
	assert.Equal(t, "old", hits[1].SourceID)
}

func TestEmbeddedStoreKNNFiltersExpired(t *testing.T) {
	ctx := context.Background()
	s := NewEmbeddedStore()
	now := time.Now().UTC()
	past := now.Add(-time.Hour).Format(time.RFC3339)

	require.NoError(t, s.Upsert(ctx, "m", "live", []models.EmbeddingRow{
		seedRow("e1", "live", "m", []float32{1, 0}, nil, now),
	}))
	require.NoError(t, s.Upsert(ctx, "m", "lapsed", []models.EmbeddingRow{
		seedRow("e2", "lapsed", "m", []float32{1, 0}, map[string]any{"validUntil": past}, now),
	}))

	hits, err := s.KNN(ctx, "m", []float32{1, 0}, 10, false)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "live", hits[0].SourceID)

	hits, err = s.KNN(ctx, "m", []float32{1, 0}, 10, true)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestEmbeddedStoreUpsertReplacesAndDeletes(t *testing.T) {
	ctx := context.Background()
	s := NewEmbeddedStore()
	now := time.Now().UTC()

	require.NoError(t, s.Upsert(ctx, "m", "doc", []models.EmbeddingRow{
		seedRow("e1", "doc", "m", []float32{1, 0}, nil, now),
		seedRow("e2", "doc", "m", []float32{0, 1}, nil, now),
	}))
	require.NoError(t, s.Upsert(ctx, "m", "doc", []models.EmbeddingRow{
		seedRow("e3", "doc", "m", []float32{1, 1}, nil, now),
	}))

	rows, err := s.RowsBySource(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, rows, 1, "upsert replaces all rows for the document")
	assert.Equal(t, "e3", rows[0].ID)

	require.NoError(t, s.DeleteBySource(ctx, "doc"))
	rows, err = s.RowsBySource(ctx, "doc")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEmbeddedStoreUpsertClearsOtherModels(t *testing.T) {
	ctx := context.Background()
	s := NewEmbeddedStore()
	now := time.Now().UTC()

	require.NoError(t, s.Upsert(ctx, "model-a", "doc", []models.EmbeddingRow{
		seedRow("e1", "doc", "model-a", []float32{1, 0}, nil, now),
	}))

	// Re-embedding the same document under a new model supersedes the old
	// partition entirely.
	require.NoError(t, s.Upsert(ctx, "model-b", "doc", []models.EmbeddingRow{
		seedRow("e2", "doc", "model-b", []float32{0, 1}, nil, now),
	}))

	rows, err := s.RowsBySource(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "e2", rows[0].ID)

	hits, err := s.KNN(ctx, "model-a", []float32{1, 0}, 10, true)
	require.NoError(t, err)
	assert.Empty(t, hits, "old model partition holds no stale rows")
}

// ── service ──────────────────────────────────────────────────

type stubLLM struct {
	vector []float32
	err    error
}

func (s *stubLLM) Chat(ctx context.Context, req contracts.ChatRequest) (*contracts.ChatResponse, error) {
	return nil, errors.New("not implemented")
}

func (s *stubLLM) Embed(ctx context.Context, model string, texts []string) (*contracts.EmbedResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &contracts.EmbedResponse{Vectors: [][]float32{s.vector}, Model: model, InputTokens: 5}, nil
}

func newTestService(store contracts.VectorStore, llm contracts.LLMClient) *Service {
	return NewService(store, llm, budget.NewCostLedger(100))
}

func TestServiceRequiresModelID(t *testing.T) {
	svc := newTestService(NewEmbeddedStore(), &stubLLM{})
	_, err := svc.Search(context.Background(), Query{Text: "anything"})
	assert.ErrorIs(t, err, ErrModelIDRequired)
}

func TestServiceRequiresQuery(t *testing.T) {
	svc := newTestService(NewEmbeddedStore(), &stubLLM{})
	_, err := svc.Search(context.Background(), Query{ModelID: "m"})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestServiceEmbedsQueryText(t *testing.T) {
	ctx := context.Background()
	store := NewEmbeddedStore()
	now := time.Now().UTC()
	require.NoError(t, store.Upsert(ctx, "m", "doc", []models.EmbeddingRow{
		seedRow("e1", "doc", "m", []float32{1, 0, 0}, nil, now),
	}))

	svc := newTestService(store, &stubLLM{vector: []float32{1, 0, 0}})
	hits, err := svc.Search(ctx, Query{Text: "find it", ModelID: "m"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc", hits[0].SourceID)
}

func TestServiceEmbedFailure(t *testing.T) {
	svc := newTestService(NewEmbeddedStore(), &stubLLM{err: errors.New("proxy down")})
	_, err := svc.Search(context.Background(), Query{Text: "q", ModelID: "m"})
	assert.ErrorContains(t, err, "embed query")
}

func TestRankByFreshnessDemotesStaleHits(t *testing.T) {
	now := time.Now().UTC()
	fresh := now.Add(-24 * time.Hour).Format(time.RFC3339)
	stale := now.Add(-120 * 24 * time.Hour).Format(time.RFC3339)

	hits := []models.SearchResult{
		{SourceID: "stale", Similarity: 0.95, Metadata: map[string]any{"ingestedAt": stale}},
		{SourceID: "fresh", Similarity: 0.80, Metadata: map[string]any{"ingestedAt": fresh}},
	}

	ranked := RankByFreshness(hits, now, false)
	require.Len(t, ranked, 2)
	// 0.95×0.8 = 0.76 < 0.80×1.0: the fresher hit wins.
	assert.Equal(t, "fresh", ranked[0].SourceID)
	assert.InDelta(t, 0.80, ranked[0].Similarity, 1e-9)
	assert.InDelta(t, 0.76, ranked[1].Similarity, 1e-9)
}

func TestRankByFreshnessDropsExpired(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour).Format(time.RFC3339)

	hits := []models.SearchResult{
		{SourceID: "gone", Similarity: 0.99, Metadata: map[string]any{"validUntil": past}},
		{SourceID: "live", Similarity: 0.50},
	}

	ranked := RankByFreshness(hits, now, false)
	require.Len(t, ranked, 1)
	assert.Equal(t, "live", ranked[0].SourceID)

	ranked = RankByFreshness(hits, now, true)
	require.Len(t, ranked, 2)
	assert.Zero(t, ranked[1].Similarity, "expired hits keep zero score when included")
}
