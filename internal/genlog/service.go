// Package genlog records every LLM generation for observability and
// learning: the immutable call log, the mutable feedback block, business
// outcomes, usage stats, and few-shot curation from high-quality examples.
package genlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/plinthworks/plinth/internal/budget"
	"github.com/plinthworks/plinth/internal/store"
	"github.com/plinthworks/plinth/pkg/models"
)

var (
	// ErrEmptyFeedback rejects a feedback update with no fields.
	ErrEmptyFeedback = errors.New("feedback update requires at least one field")

	// ErrInvalidFeedback rejects an unrecognized feedback enum value.
	ErrInvalidFeedback = errors.New("invalid userFeedback value")

	// ErrInvalidThumbs rejects thumbs outside {-1, 0, 1}.
	ErrInvalidThumbs = errors.New("thumbs must be -1, 0, or 1")

	// ErrInvalidOutcome rejects an unrecognized outcome type.
	ErrInvalidOutcome = errors.New("invalid outcomeType value")
)

// FewShotQualityFloor is the minimum quality score for automatic few-shot
// curation of an accepted generation.
const FewShotQualityFloor = 0.8

// LogRequest carries the fields of one generation to record. Prompt and
// response text are hashed, never stored.
type LogRequest struct {
	UserID        string   `json:"userId"`
	SessionID     string   `json:"sessionId,omitempty"`
	Prompt        string   `json:"prompt"`
	PromptVersion string   `json:"promptVersion,omitempty"`
	TaskType      string   `json:"taskType"`
	Response      string   `json:"response"`
	Model         string   `json:"model"`
	ModelVersion  string   `json:"modelVersion,omitempty"`
	InputTokens   int      `json:"inputTokens"`
	OutputTokens  int      `json:"outputTokens"`
	LatencyMs     int64    `json:"latencyMs"`
	QualityScore  *float64 `json:"qualityScore,omitempty"`
	Hallucination bool     `json:"hallucination"`
	Guardrails    []string `json:"guardrailTriggered,omitempty"`
}

// Service is the generation log.
type Service struct {
	store store.Store
}

// NewService wires the generation log over the entity store.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// Log records one generation. Prompt and response are stored as SHA-256
// hashes; cost is derived from the pricing table.
func (s *Service) Log(ctx context.Context, req LogRequest) (*models.AIGeneration, error) {
	if req.UserID == "" {
		return nil, errors.New("userId is required")
	}
	if req.Model == "" {
		return nil, errors.New("model is required")
	}

	g := &models.AIGeneration{
		ID:                 uuid.NewString(),
		CreatedAt:          time.Now().UTC(),
		UserID:             req.UserID,
		SessionID:          req.SessionID,
		PromptHash:         hashContent(req.Prompt),
		PromptVersion:      req.PromptVersion,
		TaskType:           req.TaskType,
		InputTokens:        req.InputTokens,
		ResponseHash:       hashContent(req.Response),
		OutputTokens:       req.OutputTokens,
		Model:              req.Model,
		ModelVersion:       req.ModelVersion,
		LatencyMs:          req.LatencyMs,
		CostUSD:            budget.CallCost(req.Model, req.InputTokens, req.OutputTokens),
		QualityScore:       req.QualityScore,
		Hallucination:      req.Hallucination,
		GuardrailTriggered: req.Guardrails,
	}
	if err := s.store.InsertGeneration(ctx, g); err != nil {
		return nil, fmt.Errorf("insert generation: %w", err)
	}
	return g, nil
}

// Get returns one generation by id.
func (s *Service) Get(ctx context.Context, id string) (*models.AIGeneration, error) {
	return s.store.GetGeneration(ctx, id)
}

// List returns a user's generations, newest first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]models.AIGeneration, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListGenerations(ctx, userID, limit, offset)
}

// AttachFeedback validates and applies a feedback update to a generation.
// Later updates overwrite earlier values; FeedbackAt is stamped once.
func (s *Service) AttachFeedback(ctx context.Context, id string, fb models.FeedbackUpdate) (*models.AIGeneration, error) {
	if fb.Empty() {
		return nil, ErrEmptyFeedback
	}
	if fb.UserFeedback != nil && !models.ValidUserFeedback(*fb.UserFeedback) {
		return nil, ErrInvalidFeedback
	}
	if fb.Thumbs != nil && (*fb.Thumbs < -1 || *fb.Thumbs > 1) {
		return nil, ErrInvalidThumbs
	}
	return s.store.AttachFeedback(ctx, id, fb)
}

// RecordOutcome links a business outcome to an existing generation.
func (s *Service) RecordOutcome(ctx context.Context, generationID, userID string, outcomeType models.OutcomeType, value float64) (*models.Outcome, error) {
	if !models.ValidOutcomeType(outcomeType) {
		return nil, ErrInvalidOutcome
	}
	if _, err := s.store.GetGeneration(ctx, generationID); err != nil {
		return nil, err
	}

	o := &models.Outcome{
		ID:           uuid.NewString(),
		GenerationID: generationID,
		UserID:       userID,
		OutcomeType:  outcomeType,
		OutcomeValue: value,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.InsertOutcome(ctx, o); err != nil {
		return nil, fmt.Errorf("insert outcome: %w", err)
	}
	return o, nil
}

// Stats aggregates a user's generations over the trailing window.
func (s *Service) Stats(ctx context.Context, userID string, days int) (*models.GenerationStats, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	gens, err := s.store.ListGenerationsSince(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}

	stats := &models.GenerationStats{UserID: userID, Days: days, TotalCalls: len(gens)}
	if len(gens) == 0 {
		return stats, nil
	}

	var latencySum int64
	accepted, withFeedback := 0, 0
	for _, g := range gens {
		stats.TotalInputTokens += g.InputTokens
		stats.TotalOutputTokens += g.OutputTokens
		stats.TotalCostUSD += g.CostUSD
		latencySum += g.LatencyMs
		if g.UserFeedback != nil {
			withFeedback++
			if *g.UserFeedback == models.FeedbackAccepted {
				accepted++
			}
		}
	}
	stats.AvgLatencyMs = float64(latencySum) / float64(len(gens))
	if withFeedback > 0 {
		stats.AcceptanceRate = float64(accepted) / float64(withFeedback)
	}
	return stats, nil
}

// CurateFewShot promotes an accepted, high-quality generation into the
// few-shot example pool. Returns nil without error when the generation does
// not qualify.
func (s *Service) CurateFewShot(ctx context.Context, generationID, inputText, outputText string) (*models.FewShotEntry, error) {
	g, err := s.store.GetGeneration(ctx, generationID)
	if err != nil {
		return nil, err
	}
	if g.UserFeedback == nil || *g.UserFeedback != models.FeedbackAccepted {
		return nil, nil
	}
	if g.QualityScore == nil || *g.QualityScore < FewShotQualityFloor {
		return nil, nil
	}

	e := &models.FewShotEntry{
		ID:                 uuid.NewString(),
		TaskType:           g.TaskType,
		InputText:          inputText,
		OutputText:         outputText,
		QualityScore:       *g.QualityScore,
		SourceGenerationID: g.ID,
		CuratedBy:          "auto",
		IsActive:           true,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.store.InsertFewShot(ctx, e); err != nil {
		return nil, fmt.Errorf("insert few-shot: %w", err)
	}
	log.Info().
		Str("generation", g.ID).
		Str("task_type", g.TaskType).
		Float64("quality", e.QualityScore).
		Msg("few-shot example curated")
	return e, nil
}

// ListFewShot returns curated examples for a task type.
func (s *Service) ListFewShot(ctx context.Context, taskType string, activeOnly bool) ([]models.FewShotEntry, error) {
	return s.store.ListFewShot(ctx, taskType, activeOnly)
}

func hashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
