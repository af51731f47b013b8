// Package prefs infers user preferences from accumulated generation
// feedback. Inference writes inferred rows only; explicit preferences set by
// the user are never overwritten.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/plinthworks/plinth/internal/store"
	"github.com/plinthworks/plinth/pkg/models"
)

// MinEvidence is the minimum number of feedback-bearing generations before
// any rule may fire.
const MinEvidence = 5

// SignalWindowDays bounds how far back inference looks.
const SignalWindowDays = 90

// Preference keys written by the rules.
const (
	KeyPreferredModel  = "preferred_model"
	KeyPreferredLength = "preferred_length"
	KeyPreferredSpeed  = "preferred_speed"
	qualityKeyPrefix   = "preferred_quality_"
)

// Service runs preference inference and serves the preference CRUD surface.
type Service struct {
	store store.Store
}

// NewService wires the preference service.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// Get returns one preference row.
func (s *Service) Get(ctx context.Context, userID, key string) (*models.UserPreference, error) {
	return s.store.GetPreference(ctx, userID, key)
}

// List returns all of a user's preferences.
func (s *Service) List(ctx context.Context, userID string) ([]models.UserPreference, error) {
	return s.store.ListPreferences(ctx, userID)
}

// SetExplicit writes a user-stated preference. Explicit rows shadow inferred
// ones permanently.
func (s *Service) SetExplicit(ctx context.Context, userID, key string, value json.RawMessage) (*models.UserPreference, error) {
	p := &models.UserPreference{
		ID:              uuid.NewString(),
		UserID:          userID,
		PreferenceKey:   key,
		PreferenceValue: value,
		Source:          models.PreferenceExplicit,
		Confidence:      1.0,
	}
	if err := s.store.UpsertPreference(ctx, p); err != nil {
		return nil, fmt.Errorf("upsert preference: %w", err)
	}
	return p, nil
}

// Delete removes one preference row.
func (s *Service) Delete(ctx context.Context, userID, key string) error {
	return s.store.DeletePreference(ctx, userID, key)
}

// InferUser runs all inference rules for one user and writes the inferred
// preferences that fired.
func (s *Service) InferUser(ctx context.Context, userID string) (*models.InferenceReport, error) {
	since := time.Now().UTC().AddDate(0, 0, -SignalWindowDays)
	gens, err := s.store.ListGenerationsSince(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}

	signals := collectSignals(gens)
	report := &models.InferenceReport{UserID: userID, SignalsSeen: len(signals)}
	if len(signals) < MinEvidence {
		return report, nil
	}

	for _, c := range RunRules(signals) {
		wrote, err := s.writeInferred(ctx, userID, c)
		if err != nil {
			return nil, err
		}
		if wrote {
			report.Written = append(report.Written, c.Key)
		} else {
			report.SkippedExplicit++
		}
	}

	log.Info().
		Str("user", userID).
		Int("signals", report.SignalsSeen).
		Strs("written", report.Written).
		Msg("preference inference complete")
	return report, nil
}

// InferAll runs inference for every user with feedback-bearing generations.
func (s *Service) InferAll(ctx context.Context) ([]models.InferenceReport, error) {
	userIDs, err := s.store.ListFeedbackUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list feedback users: %w", err)
	}
	reports := make([]models.InferenceReport, 0, len(userIDs))
	for _, id := range userIDs {
		r, err := s.InferUser(ctx, id)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, nil
}

// writeInferred upserts an inferred row unless an explicit row already holds
// the key. Returns whether the row was written.
func (s *Service) writeInferred(ctx context.Context, userID string, c Candidate) (bool, error) {
	if existing, err := s.store.GetPreference(ctx, userID, c.Key); err == nil {
		if existing.Source == models.PreferenceExplicit {
			return false, nil
		}
	}

	raw, err := json.Marshal(c.Value)
	if err != nil {
		return false, fmt.Errorf("marshal preference value: %w", err)
	}
	p := &models.UserPreference{
		ID:              uuid.NewString(),
		UserID:          userID,
		PreferenceKey:   c.Key,
		PreferenceValue: raw,
		Source:          models.PreferenceInferred,
		Confidence:      c.Confidence,
	}
	if err := s.store.UpsertPreference(ctx, p); err != nil {
		return false, fmt.Errorf("upsert preference: %w", err)
	}
	return true, nil
}

// collectSignals keeps the generations that carry feedback.
func collectSignals(gens []models.AIGeneration) []models.FeedbackSignal {
	var out []models.FeedbackSignal
	for _, g := range gens {
		if g.UserFeedback == nil {
			continue
		}
		out = append(out, models.FeedbackSignal{
			UserFeedback: *g.UserFeedback,
			Thumbs:       g.Thumbs,
			Model:        g.Model,
			TaskType:     g.TaskType,
			LatencyMs:    g.LatencyMs,
			QualityScore: g.QualityScore,
			UserEditDiff: g.UserEditDiff,
		})
	}
	return out
}

// Candidate is one preference a rule wants to write.
type Candidate struct {
	Key        string
	Value      string
	Confidence float64
}

// RunRules evaluates every inference rule over the signal set. Pure function.
func RunRules(signals []models.FeedbackSignal) []Candidate {
	var out []Candidate
	if c, ok := ruleFavoriteModel(signals); ok {
		out = append(out, c)
	}
	if c, ok := ruleConciseEditor(signals); ok {
		out = append(out, c)
	}
	if c, ok := ruleSpeedSensitive(signals); ok {
		out = append(out, c)
	}
	out = append(out, ruleTaskQuality(signals)...)
	return out
}

// ruleFavoriteModel: more than 60% of accepted generations share one model,
// with at least MinEvidence accepted signals behind it.
func ruleFavoriteModel(signals []models.FeedbackSignal) (Candidate, bool) {
	byModel := map[string]int{}
	accepted := 0
	for _, sig := range signals {
		if sig.UserFeedback == models.FeedbackAccepted {
			accepted++
			byModel[sig.Model]++
		}
	}
	if accepted == 0 {
		return Candidate{}, false
	}
	for model, n := range byModel {
		if model != "" && n >= MinEvidence && float64(n)/float64(accepted) > 0.6 {
			return Candidate{Key: KeyPreferredModel, Value: model, Confidence: 0.7}, true
		}
	}
	return Candidate{}, false
}

// ruleConciseEditor: at least MinEvidence edits, and more than half of them
// delete more than they add.
func ruleConciseEditor(signals []models.FeedbackSignal) (Candidate, bool) {
	edited, shrinking := 0, 0
	for _, sig := range signals {
		if sig.UserFeedback != models.FeedbackEdited {
			continue
		}
		edited++
		if diffShrinks(sig.UserEditDiff) {
			shrinking++
		}
	}
	if edited < MinEvidence {
		return Candidate{}, false
	}
	if float64(shrinking)/float64(edited) <= 0.5 {
		return Candidate{}, false
	}
	return Candidate{Key: KeyPreferredLength, Value: "concise", Confidence: 0.6}, true
}

// ruleSpeedSensitive: more than 40% of the signals are regenerations, at
// least MinEvidence of them, and the regenerated calls average over three
// seconds.
func ruleSpeedSensitive(signals []models.FeedbackSignal) (Candidate, bool) {
	regenerated := 0
	var latencySum int64
	for _, sig := range signals {
		if sig.UserFeedback == models.FeedbackRegenerated {
			regenerated++
			latencySum += sig.LatencyMs
		}
	}
	if regenerated < MinEvidence {
		return Candidate{}, false
	}
	if float64(regenerated)/float64(len(signals)) <= 0.4 {
		return Candidate{}, false
	}
	if float64(latencySum)/float64(regenerated) <= 3000 {
		return Candidate{}, false
	}
	return Candidate{Key: KeyPreferredSpeed, Value: "fast", Confidence: 0.6}, true
}

// ruleTaskQuality: per task type, mean thumbs above 0.5 marks the user as
// quality-satisfied for that task.
func ruleTaskQuality(signals []models.FeedbackSignal) []Candidate {
	sums := map[string]int{}
	counts := map[string]int{}
	for _, sig := range signals {
		if sig.Thumbs == nil || sig.TaskType == "" {
			continue
		}
		sums[sig.TaskType] += *sig.Thumbs
		counts[sig.TaskType]++
	}

	var out []Candidate
	for task, n := range counts {
		if n < MinEvidence {
			continue
		}
		if float64(sums[task])/float64(n) > 0.5 {
			out = append(out, Candidate{
				Key:        qualityKeyPrefix + task,
				Value:      "high",
				Confidence: 0.7,
			})
		}
	}
	return out
}

// diffShrinks reports whether a unified-style edit diff removes more lines
// than it adds.
func diffShrinks(diff string) bool {
	if diff == "" {
		return false
	}
	removed, added := 0, 0
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
		case strings.HasPrefix(line, "-"):
			removed++
		case strings.HasPrefix(line, "+"):
			added++
		}
	}
	return removed > added
}
