package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/plinthworks/plinth/internal/budget"
	"github.com/plinthworks/plinth/internal/store"
	"github.com/plinthworks/plinth/pkg/contracts"
	"github.com/plinthworks/plinth/pkg/models"
)

// ErrEmptyContent is returned when an ingest request has no usable text.
var ErrEmptyContent = errors.New("empty content")

// ErrUnsupportedType is returned when no adapter handles the MIME type.
var ErrUnsupportedType = errors.New("unsupported content type")

// Enqueuer schedules follow-up jobs. Implemented by the job queue; a nil
// queue is represented by an Enqueuer that reports queued=false.
type Enqueuer interface {
	Enqueue(ctx context.Context, job models.Job) error
}

// Pipeline is the synchronous ingestion path: parse → dedup → chunk →
// budget gate → embed → persist → enqueue follow-ups.
type Pipeline struct {
	store    store.Store
	vectors  contracts.VectorStore
	embedder *Embedder
	tokens   *budget.TokenBudget
	ledger   *budget.CostLedger
	queue    Enqueuer
	registry *Registry
	chunker  ChunkerConfig
}

// NewPipeline wires the ingestion pipeline.
func NewPipeline(s store.Store, vectors contracts.VectorStore, embedder *Embedder,
	tokens *budget.TokenBudget, ledger *budget.CostLedger, queue Enqueuer,
	registry *Registry, chunker ChunkerConfig) *Pipeline {
	return &Pipeline{
		store:    s,
		vectors:  vectors,
		embedder: embedder,
		tokens:   tokens,
		ledger:   ledger,
		queue:    queue,
		registry: registry,
		chunker:  chunker.normalized(),
	}
}

// IngestText runs the pipeline on pre-extracted text (POST /api/documents).
func (p *Pipeline) IngestText(ctx context.Context, userID string, req models.IngestRequest) (*models.IngestResult, error) {
	if req.Content == "" && req.SourceURL == "" {
		return nil, ErrEmptyContent
	}

	parsed := &Parsed{
		Text:       req.Content,
		SourceType: models.SourceDocument,
		MimeType:   defaultString(req.MimeType, "text/plain"),
		Metadata:   req.Metadata,
	}

	// A source URL with no inline content goes through the scrape adapter.
	if req.Content == "" {
		ing := p.registry.Lookup("text/uri-list")
		if ing == nil {
			return nil, ErrUnsupportedType
		}
		var err error
		parsed, err = ing.Parse(ctx, Input{URL: req.SourceURL, Metadata: req.Metadata})
		if err != nil {
			return nil, err
		}
		if parsed == nil {
			return nil, ErrEmptyContent
		}
	} else {
		parsed.ContentHash = HashText(req.Content)
	}

	return p.ingestParsed(ctx, userID, parsed, req)
}

// IngestRaw runs the pipeline on a binary body (POST /api/ingest,
// /api/documents/upload), dispatching on MIME type.
func (p *Pipeline) IngestRaw(ctx context.Context, userID, title, mimeType string, data []byte, req models.IngestRequest) (*models.IngestResult, error) {
	if len(data) == 0 {
		return nil, ErrEmptyContent
	}
	ing := p.registry.Lookup(mimeType)
	if ing == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
	parsed, err := ing.Parse(ctx, Input{Title: title, MimeType: mimeType, Data: data, Metadata: req.Metadata})
	if err != nil {
		return nil, err
	}
	if parsed == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
	req.Title = defaultString(req.Title, title)
	return p.ingestParsed(ctx, userID, parsed, req)
}

func (p *Pipeline) ingestParsed(ctx context.Context, userID string, parsed *Parsed, req models.IngestRequest) (*models.IngestResult, error) {
	// Exact dedup short-circuits to the existing document.
	if existing, err := p.store.GetDocumentByHash(ctx, parsed.ContentHash); err == nil {
		return &models.IngestResult{
			DocumentID:          existing.ID,
			Duplicate:           true,
			ChunksCreated:       existing.ChunkCount,
			EmbeddingsGenerated: existing.ChunkCount > 0,
			EmbeddingModelID:    existing.EmbeddingModelID,
			ContentHash:         existing.ContentHash,
		}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("hash dedup: %w", err)
	}

	strategy := req.ChunkStrategy
	if strategy == "" {
		strategy = defaultStrategy(parsed.SourceType)
	}
	chunks := ChunkText(parsed.Text, strategy, p.chunker)
	if len(chunks) == 0 {
		return nil, ErrEmptyContent
	}

	// Budget gates: process cost cap first, then the per-user token budget.
	if err := p.ledger.EnsureBudget(); err != nil {
		return nil, err
	}
	snap, err := p.tokens.Check(ctx, userID, budget.EstimateTokens(parsed.Text))
	if err != nil {
		return nil, err
	}
	if !snap.Allowed {
		return nil, &budget.ExceededError{Snapshot: snap}
	}

	doc := &models.Document{
		ID:               uuid.NewString(),
		Title:            req.Title,
		SourceType:       parsed.SourceType,
		SourceURL:        req.SourceURL,
		MimeType:         parsed.MimeType,
		ContentHash:      parsed.ContentHash,
		ChunkStrategy:    strategy,
		IngestedAt:       time.Now().UTC(),
		ValidUntil:       req.ValidUntil,
		Metadata:         parsed.Metadata,
		EnrichmentStatus: models.EnrichmentPending,
		RawContent:       parsed.Text,
	}

	modelID := p.embedder.SelectModel(req.ModelID, parsed.Text, req.TaskType)
	vectors, embedErr := p.embedder.EmbedChunks(ctx, modelID, chunks)

	result := &models.IngestResult{
		DocumentID:  doc.ID,
		ContentHash: doc.ContentHash,
	}

	if embedErr != nil {
		// Fail-open: the document persists without embeddings and a retry
		// job picks it up later.
		log.Warn().Err(embedErr).Str("document", doc.ID).Msg("embedding failed, persisting document without vectors")
		doc.ChunkCount = 0
		doc.EmbeddingModelID = ""
		doc.PartialFailure = true
		if err := p.store.CreateDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("persist document: %w", err)
		}
		result.PartialFailure = true
		result.Queued = p.enqueueAll(ctx, doc,
			p.makeJob(models.JobReEmbed, doc.ID, reEmbedPayload{ModelID: modelID, Strategy: string(strategy)}))
		return result, nil
	}

	doc.ChunkCount = len(chunks)
	doc.EmbeddingModelID = modelID
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("persist document: %w", err)
	}

	rows := BuildEmbeddingRows(doc, chunks, vectors, modelID)
	if err := p.vectors.Upsert(ctx, modelID, doc.ID, rows); err != nil {
		return nil, fmt.Errorf("upsert vectors: %w", err)
	}

	result.ChunksCreated = len(chunks)
	result.EmbeddingsGenerated = true
	result.EmbeddingModelID = modelID

	followUps := []models.Job{
		p.makeJob(models.JobEnrich, doc.ID, nil),
		p.makeJob(models.JobDedupCheck, doc.ID, dedupPayload{ModelID: modelID}),
	}
	if doc.ValidUntil != nil {
		fresh := p.makeJob(models.JobFreshness, doc.ID, nil)
		fresh.DelayUntil = doc.ValidUntil
		fresh.State = models.JobDelayed
		followUps = append(followUps, fresh)
	}
	result.Queued = p.enqueueAll(ctx, doc, followUps...)

	return result, nil
}

type reEmbedPayload struct {
	ModelID  string `json:"modelId"`
	Strategy string `json:"strategy"`
}

type dedupPayload struct {
	ModelID string `json:"modelId"`
}

func (p *Pipeline) makeJob(t models.JobType, docID string, payload any) models.Job {
	job := models.Job{
		ID:          uuid.NewString(),
		Type:        t,
		DocumentID:  docID,
		MaxAttempts: 5,
		State:       models.JobQueued,
	}
	if payload != nil {
		raw, _ := json.Marshal(payload)
		job.Payload = raw
	}
	return job
}

// enqueueAll is fire-and-forget: an enqueue failure never fails the request
// but is reported via queued=false.
func (p *Pipeline) enqueueAll(ctx context.Context, doc *models.Document, jobs ...models.Job) bool {
	queued := true
	for _, job := range jobs {
		if err := p.queue.Enqueue(ctx, job); err != nil {
			log.Warn().Err(err).
				Str("document", doc.ID).
				Str("job_type", string(job.Type)).
				Msg("follow-up enqueue failed")
			queued = false
		}
	}
	return queued
}

// BuildEmbeddingRows pairs chunks with their vectors, tagging every row with
// the model id and carrying chunk text and freshness hints in metadata.
func BuildEmbeddingRows(doc *models.Document, chunks []Chunk, vectors [][]float32, modelID string) []models.EmbeddingRow {
	now := time.Now().UTC()
	rows := make([]models.EmbeddingRow, len(chunks))
	for i, chunk := range chunks {
		meta := map[string]any{
			"chunkIndex": chunk.Index,
			"text":       chunk.Text,
			"ingestedAt": doc.IngestedAt.Format(time.RFC3339),
		}
		if doc.ValidUntil != nil {
			meta["validUntil"] = doc.ValidUntil.Format(time.RFC3339)
		}
		rows[i] = models.EmbeddingRow{
			ID:          uuid.NewString(),
			SourceType:  doc.SourceType,
			SourceID:    doc.ID,
			ContentHash: HashText(chunk.Text),
			Vector:      vectors[i],
			ModelID:     modelID,
			Metadata:    meta,
			CreatedAt:   now,
		}
	}
	return rows
}

func defaultStrategy(st models.SourceType) models.ChunkStrategy {
	switch st {
	case models.SourceCSV, models.SourceAPI:
		return models.ChunkPerEntity
	case models.SourceWeb:
		return models.ChunkSemantic
	default:
		return models.ChunkFixed
	}
}

func defaultString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
