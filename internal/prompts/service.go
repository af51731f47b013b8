// Package prompts manages versioned prompts: creation, traffic allocation,
// sticky A/B selection, and the promotion ladder.
package prompts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/plinthworks/plinth/internal/store"
	"github.com/plinthworks/plinth/pkg/contracts"
	"github.com/plinthworks/plinth/pkg/models"
)

var (
	// ErrAllocationExceeded rejects a traffic change that would push the
	// prompt's total allocation above 100%.
	ErrAllocationExceeded = errors.New("active traffic allocation would exceed 100%")

	// ErrInvalidPct rejects allocations outside [0, 100].
	ErrInvalidPct = errors.New("activePct must be between 0 and 100")

	// ErrQualityGate rejects promotion above 10% without a passing eval score.
	ErrQualityGate = fmt.Errorf("eval score below %.2f quality gate", models.PromotionQualityGate)

	// ErrAtTop rejects promoting a version already at 100%.
	ErrAtTop = errors.New("version is already fully promoted")

	// ErrEmptyContent rejects prompt versions without content.
	ErrEmptyContent = errors.New("prompt content is required")
)

// Service is the prompt version engine.
type Service struct {
	store store.Store
	flags contracts.FlagProvider // optional override source
}

// NewService wires the prompt service. flags may be nil.
func NewService(s store.Store, flags contracts.FlagProvider) *Service {
	return &Service{store: s, flags: flags}
}

// Create appends a new version of the named prompt at 0% traffic. The version
// number is the minor bump of the current highest version.
func (s *Service) Create(ctx context.Context, promptName, content, author string) (*models.PromptVersion, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}

	existing, err := s.store.ListPromptVersions(ctx, promptName)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("list versions: %w", err)
	}

	version := models.InitialPromptVersion
	if len(existing) > 0 {
		version = models.BumpMinor(existing[len(existing)-1].Version)
	}

	sum := sha256.Sum256([]byte(content))
	v := &models.PromptVersion{
		ID:          uuid.NewString(),
		PromptName:  promptName,
		Version:     version,
		Content:     content,
		ContentHash: hex.EncodeToString(sum[:]),
		ActivePct:   0,
		Author:      author,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreatePromptVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("create version: %w", err)
	}

	log.Info().
		Str("prompt", promptName).
		Str("version", version).
		Str("author", author).
		Msg("prompt version created")
	return v, nil
}

// Get returns one version by id.
func (s *Service) Get(ctx context.Context, id string) (*models.PromptVersion, error) {
	return s.store.GetPromptVersion(ctx, id)
}

// List returns all versions of a prompt, version ascending.
func (s *Service) List(ctx context.Context, promptName string) ([]models.PromptVersion, error) {
	return s.store.ListPromptVersions(ctx, promptName)
}

// SetTraffic updates one version's allocation, holding the prompt-wide sum
// at or below 100.
func (s *Service) SetTraffic(ctx context.Context, id string, pct int) (*models.PromptVersion, error) {
	if pct < 0 || pct > 100 {
		return nil, ErrInvalidPct
	}
	v, err := s.store.GetPromptVersion(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.checkAllocation(ctx, v, pct); err != nil {
		return nil, err
	}
	if err := s.store.UpdateActivePct(ctx, id, pct); err != nil {
		return nil, fmt.Errorf("update allocation: %w", err)
	}
	v.ActivePct = pct
	return v, nil
}

// SetEvalScore records an offline evaluation score for a version.
func (s *Service) SetEvalScore(ctx context.Context, id string, score float64) error {
	if score < 0 || score > 1 {
		return fmt.Errorf("eval score must be in [0, 1], got %g", score)
	}
	return s.store.SetEvalScore(ctx, id, score)
}

func (s *Service) checkAllocation(ctx context.Context, v *models.PromptVersion, newPct int) error {
	siblings, err := s.store.ListPromptVersions(ctx, v.PromptName)
	if err != nil {
		return fmt.Errorf("list versions: %w", err)
	}
	total := newPct
	for _, sib := range siblings {
		if sib.ID != v.ID {
			total += sib.ActivePct
		}
	}
	if total > 100 {
		return ErrAllocationExceeded
	}
	return nil
}

// GetActive selects the prompt version for one user. A feature-flag override
// wins; otherwise the user lands in a sticky traffic bucket so the same user
// always sees the same version at a given allocation.
func (s *Service) GetActive(ctx context.Context, promptName, userID string) (*models.ActivePrompt, error) {
	versions, err := s.store.ListPromptVersions(ctx, promptName)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, store.ErrNotFound
	}

	if s.flags != nil {
		if variant, ok := s.flags.Variant(ctx, userID, promptName); ok && variant != "" {
			for i := range versions {
				if versions[i].Version == variant || versions[i].ID == variant {
					return &models.ActivePrompt{PromptVersion: versions[i], Source: models.SelectionFlag}, nil
				}
			}
			log.Warn().
				Str("prompt", promptName).
				Str("variant", variant).
				Msg("flag names unknown version, falling back to sticky selection")
		}
	}

	bucket := stickyBucket(userID, promptName)
	cum := 0
	for i := range versions {
		if versions[i].ActivePct == 0 {
			continue
		}
		cum += versions[i].ActivePct
		if bucket < cum {
			return &models.ActivePrompt{PromptVersion: versions[i], Source: models.SelectionSticky}, nil
		}
	}

	// Bucket fell beyond the allocated range (sum < 100): serve the highest
	// version that carries any traffic. No version carrying traffic means
	// there is no active prompt.
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].ActivePct > 0 {
			return &models.ActivePrompt{PromptVersion: versions[i], Source: models.SelectionSticky}, nil
		}
	}
	return nil, store.ErrNotFound
}

// stickyBucket maps (userID, promptName) onto [0, 100) deterministically.
func stickyBucket(userID, promptName string) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte{'|'})
	h.Write([]byte(promptName))
	return int(h.Sum32() % 100)
}

// Promote advances a version one rung up the ladder (0 → 10 → 50 → 100).
// Above 10% the quality gate applies; reaching 100% zeroes all siblings
// atomically.
func (s *Service) Promote(ctx context.Context, id string) (*models.PromotionResult, error) {
	v, err := s.store.GetPromptVersion(ctx, id)
	if err != nil {
		return nil, err
	}

	next := NextLadderStep(v.ActivePct)
	if next < 0 {
		return nil, ErrAtTop
	}
	if next > 10 && (v.EvalScore == nil || *v.EvalScore < models.PromotionQualityGate) {
		return nil, ErrQualityGate
	}

	if next == 100 {
		if err := s.store.PromoteFull(ctx, id); err != nil {
			return nil, fmt.Errorf("promote full: %w", err)
		}
	} else {
		if err := s.checkAllocation(ctx, v, next); err != nil {
			return nil, err
		}
		if err := s.store.UpdateActivePct(ctx, id, next); err != nil {
			return nil, fmt.Errorf("update allocation: %w", err)
		}
	}

	log.Info().
		Str("prompt", v.PromptName).
		Str("version", v.Version).
		Int("from", v.ActivePct).
		Int("to", next).
		Msg("prompt version promoted")
	return &models.PromotionResult{
		PreviousPct: v.ActivePct,
		NewPct:      next,
		NextStep:    NextLadderStep(next),
	}, nil
}

// NextLadderStep returns the ladder rung above pct, or -1 at the top.
// A pct between rungs advances to the next rung above it.
func NextLadderStep(pct int) int {
	for _, rung := range models.PromotionLadder {
		if rung > pct {
			return rung
		}
	}
	return -1
}
