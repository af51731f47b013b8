package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/plinthworks/plinth/internal/ingest"
	"github.com/plinthworks/plinth/internal/jsonx"
	"github.com/plinthworks/plinth/internal/store"
	"github.com/plinthworks/plinth/pkg/contracts"
	"github.com/plinthworks/plinth/pkg/models"
)

// DefaultEnrichModel generates summaries and tags during enrichment.
const DefaultEnrichModel = "gpt-4o-mini"

// Processors holds the handlers for every background job type. All handlers
// are idempotent: re-delivery of a completed job is a no-op.
type Processors struct {
	store       store.Store
	vectors     contracts.VectorStore
	embedder    *ingest.Embedder
	llm         contracts.LLMClient
	pipeline    *ingest.Pipeline
	chunker     ingest.ChunkerConfig
	enrichModel string
}

// NewProcessors wires the job handlers.
func NewProcessors(s store.Store, vectors contracts.VectorStore, embedder *ingest.Embedder,
	llm contracts.LLMClient, pipeline *ingest.Pipeline, chunker ingest.ChunkerConfig) *Processors {
	return &Processors{
		store:       s,
		vectors:     vectors,
		embedder:    embedder,
		llm:         llm,
		pipeline:    pipeline,
		chunker:     chunker,
		enrichModel: DefaultEnrichModel,
	}
}

// RegisterAll binds every processor to its job type on the pool.
func (p *Processors) RegisterAll(pool *Pool) {
	pool.Register(models.JobEnrich, p.Enrich)
	pool.Register(models.JobDedupCheck, p.DedupCheck)
	pool.Register(models.JobEmbed, p.Embed)
	pool.Register(models.JobReEmbed, p.Embed)
	pool.Register(models.JobFreshness, p.Freshness)
	pool.Register(models.JobScrape, p.Scrape)
}

// enrichment is the structured output the enrich prompt asks for.
type enrichment struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// Enrich asks the LLM for a summary and tags, then marks the document
// enriched. A document that is already enriched, missing, or flagged as a
// near-duplicate is skipped.
func (p *Processors) Enrich(ctx context.Context, job models.Job) error {
	doc, err := p.store.GetDocument(ctx, job.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.EnrichmentStatus != models.EnrichmentPending {
		return nil
	}

	content := doc.RawContent
	if len(content) > 8000 {
		content = content[:8000]
	}
	resp, err := p.llm.Chat(ctx, contracts.ChatRequest{
		Model: p.enrichModel,
		Messages: []contracts.ChatMessage{
			{Role: "system", Content: `Summarize the document in 2-3 sentences and extract up to 5 topic tags. Respond with JSON: {"summary": "...", "tags": ["..."]}`},
			{Role: "user", Content: content},
		},
		MaxTokens: 400,
	})
	if err != nil {
		if ferr := p.store.UpdateEnrichmentStatus(ctx, doc.ID, models.EnrichmentFailed); ferr != nil {
			log.Warn().Err(ferr).Str("document", doc.ID).Msg("enrichment status update failed")
		}
		return fmt.Errorf("enrich chat: %w", err)
	}

	var e enrichment
	if err := jsonx.Unmarshal(resp.Content, &e); err != nil {
		return fmt.Errorf("enrich parse: %w", err)
	}

	log.Info().
		Str("document", doc.ID).
		Int("tags", len(e.Tags)).
		Msg("document enriched")
	return p.store.UpdateEnrichmentStatus(ctx, doc.ID, models.EnrichmentComplete)
}

// DedupCheck compares the document's stored vectors against the rest of the
// index and records the verdict.
func (p *Processors) DedupCheck(ctx context.Context, job models.Job) error {
	doc, err := p.store.GetDocument(ctx, job.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.DedupStatus != "" {
		return nil
	}

	var payload struct {
		ModelID string `json:"modelId"`
	}
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("dedup payload: %w", err)
		}
	}
	modelID := payload.ModelID
	if modelID == "" {
		modelID = doc.EmbeddingModelID
	}
	if modelID == "" {
		return nil // nothing embedded yet; the re-embed path re-queues the check
	}

	status, err := ingest.CheckNearDuplicate(ctx, p.vectors, modelID, doc.ID)
	if err != nil {
		return fmt.Errorf("near duplicate check: %w", err)
	}
	if status == ingest.DedupNearDuplicate {
		log.Info().Str("document", doc.ID).Msg("near-duplicate document detected")
	}
	return p.store.UpdateDedupStatus(ctx, doc.ID, status)
}

// Embed handles both the initial deferred embed and the re-embed retry after
// a partial failure. A document that already has vectors is a no-op.
func (p *Processors) Embed(ctx context.Context, job models.Job) error {
	doc, err := p.store.GetDocument(ctx, job.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.ChunkCount > 0 && !doc.PartialFailure {
		return nil
	}
	if doc.RawContent == "" {
		return fmt.Errorf("document %s has no content to embed", doc.ID)
	}

	var payload struct {
		ModelID  string `json:"modelId"`
		Strategy string `json:"strategy"`
	}
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("embed payload: %w", err)
		}
	}

	strategy := models.ChunkStrategy(payload.Strategy)
	if strategy == "" {
		strategy = doc.ChunkStrategy
	}
	chunks := ingest.ChunkText(doc.RawContent, strategy, p.chunker)
	if len(chunks) == 0 {
		return fmt.Errorf("document %s chunked to nothing", doc.ID)
	}

	modelID := p.embedder.SelectModel(payload.ModelID, doc.RawContent, "")
	vectors, err := p.embedder.EmbedChunks(ctx, modelID, chunks)
	if err != nil {
		return fmt.Errorf("re-embed: %w", err)
	}

	rows := ingest.BuildEmbeddingRows(doc, chunks, vectors, modelID)
	if err := p.vectors.Upsert(ctx, modelID, doc.ID, rows); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}
	if err := p.store.UpdateDocumentEmbedding(ctx, doc.ID, len(chunks), modelID); err != nil {
		return fmt.Errorf("record embedding: %w", err)
	}
	if err := p.store.SetPartialFailure(ctx, doc.ID, false); err != nil {
		return fmt.Errorf("clear partial failure: %w", err)
	}

	log.Info().
		Str("document", doc.ID).
		Str("model", modelID).
		Int("chunks", len(chunks)).
		Msg("document embedded")
	return nil
}

// Freshness reclassifies the document's freshness. Scheduled with a delay at
// the document's validUntil so expiry is recorded promptly; the search path
// filters expired rows regardless.
func (p *Processors) Freshness(ctx context.Context, job models.Job) error {
	doc, err := p.store.GetDocument(ctx, job.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	status := ingest.ClassifyFreshness(doc.IngestedAt, doc.ValidUntil, time.Now().UTC())
	if status == doc.FreshnessStatus {
		return nil
	}
	return p.store.UpdateFreshnessStatus(ctx, doc.ID, status)
}

// Scrape re-ingests a URL-sourced document through the full pipeline. The
// exact-dedup short-circuit makes an unchanged page a cheap no-op.
func (p *Processors) Scrape(ctx context.Context, job models.Job) error {
	var payload struct {
		URL    string `json:"url"`
		UserID string `json:"userId"`
		Title  string `json:"title"`
	}
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("scrape payload: %w", err)
	}
	if payload.URL == "" {
		return errors.New("scrape job missing url")
	}

	res, err := p.pipeline.IngestText(ctx, payload.UserID, models.IngestRequest{
		Title:     payload.Title,
		SourceURL: payload.URL,
	})
	if err != nil {
		return fmt.Errorf("scrape ingest: %w", err)
	}
	log.Info().
		Str("url", payload.URL).
		Str("document", res.DocumentID).
		Bool("duplicate", res.Duplicate).
		Msg("scheduled scrape complete")
	return nil
}
