package ingest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/plinthworks/plinth/internal/budget"
	"github.com/plinthworks/plinth/pkg/contracts"
)

// Embedder turns chunks into vectors through the LLM proxy, choosing the
// model by caller override first, else by heuristic complexity routing.
type Embedder struct {
	llm            contracts.LLMClient
	ledger         *budget.CostLedger
	routingEnabled bool
	tierModels     map[Tier]string
}

// NewEmbedder creates the embedder. When routing is disabled every request
// uses the balanced-tier model.
func NewEmbedder(llm contracts.LLMClient, ledger *budget.CostLedger, routingEnabled bool) *Embedder {
	return &Embedder{
		llm:            llm,
		ledger:         ledger,
		routingEnabled: routingEnabled,
		tierModels:     DefaultTierModels,
	}
}

// SelectModel resolves the embedding model id: caller override wins, else
// the heuristic tier of (text, taskType).
func (e *Embedder) SelectModel(override, text, taskType string) string {
	if override != "" {
		return override
	}
	tier := TierBalanced
	if e.routingEnabled {
		tier = RouteComplexity(text, taskType)
	}
	return e.tierModels[tier]
}

// EmbedChunks requests embeddings for all chunks in one batched call and
// records the call in the cost ledger.
func (e *Embedder) EmbedChunks(ctx context.Context, model string, chunks []Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	resp, err := e.llm.Embed(ctx, model, texts)
	if err != nil {
		e.ledger.RecordCall("embedder", model, 0, 0, 0, false)
		return nil, fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}
	if len(resp.Vectors) != len(chunks) {
		e.ledger.RecordCall("embedder", model, resp.InputTokens, 0, resp.LatencyMs, false)
		return nil, fmt.Errorf("embed returned %d vectors for %d chunks", len(resp.Vectors), len(chunks))
	}

	e.ledger.RecordCall("embedder", model, resp.InputTokens, 0, resp.LatencyMs, true)
	log.Debug().
		Str("model", model).
		Int("chunks", len(chunks)).
		Int("input_tokens", resp.InputTokens).
		Msg("embedding batch complete")
	return resp.Vectors, nil
}
