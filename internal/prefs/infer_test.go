package prefs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plinthworks/plinth/internal/store"
	"github.com/plinthworks/plinth/pkg/models"
)

func signal(fb models.UserFeedback, model string) models.FeedbackSignal {
	return models.FeedbackSignal{UserFeedback: fb, Model: model}
}

// repeat appends n copies of sig.
func repeat(dst []models.FeedbackSignal, sig models.FeedbackSignal, n int) []models.FeedbackSignal {
	for i := 0; i < n; i++ {
		dst = append(dst, sig)
	}
	return dst
}

func ruleKeys(signals []models.FeedbackSignal) []string {
	var keys []string
	for _, c := range RunRules(signals) {
		keys = append(keys, c.Key)
	}
	return keys
}

func TestRuleFavoriteModel(t *testing.T) {
	cases := []struct {
		name     string
		signals  []models.FeedbackSignal
		expected string // "" means the rule must not fire
	}{
		{
			name: "dominant accepted model",
			signals: repeat(repeat(repeat(nil,
				signal(models.FeedbackAccepted, "claude-sonnet"), 5),
				signal(models.FeedbackAccepted, "gpt-4o"), 2),
				signal(models.FeedbackRejected, "gpt-4o"), 1),
			expected: "claude-sonnet",
		},
		{
			name: "even split",
			signals: repeat(repeat(nil,
				signal(models.FeedbackAccepted, "a"), 5),
				signal(models.FeedbackAccepted, "b"), 5),
		},
		{
			name: "majority below evidence floor",
			signals: repeat(repeat(nil,
				signal(models.FeedbackAccepted, "a"), 3),
				signal(models.FeedbackAccepted, "b"), 1),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, ok := ruleFavoriteModel(tc.signals)
			if tc.expected == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, KeyPreferredModel, c.Key)
			assert.Equal(t, tc.expected, c.Value)
			assert.Equal(t, 0.7, c.Confidence)
		})
	}
}

func TestRuleConciseEditor(t *testing.T) {
	shrinking := models.FeedbackSignal{
		UserFeedback: models.FeedbackEdited,
		UserEditDiff: "-removed line one\n-removed line two\n+added line",
	}
	growing := models.FeedbackSignal{
		UserFeedback: models.FeedbackEdited,
		UserEditDiff: "-one removed\n+one added\n+another added",
	}
	accepted := models.FeedbackSignal{UserFeedback: models.FeedbackAccepted}

	cases := []struct {
		name    string
		signals []models.FeedbackSignal
		fires   bool
	}{
		{
			name:    "mostly shrinking edits",
			signals: repeat(repeat(nil, shrinking, 5), accepted, 2),
			fires:   true,
		},
		{
			// Edits decide on their own; being a minority of the batch
			// does not disqualify them.
			name:    "edits are minority of the batch",
			signals: repeat(repeat(nil, shrinking, 5), accepted, 20),
			fires:   true,
		},
		{
			name:    "growing edits",
			signals: repeat(repeat(nil, growing, 5), accepted, 1),
			fires:   false,
		},
		{
			name:    "too few edits",
			signals: repeat(repeat(nil, shrinking, MinEvidence-1), accepted, 1),
			fires:   false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := ruleConciseEditor(tc.signals)
			assert.Equal(t, tc.fires, ok)
			if tc.fires {
				assert.Contains(t, ruleKeys(tc.signals), KeyPreferredLength)
			}
		})
	}
}

func TestRuleSpeedSensitive(t *testing.T) {
	slowRegen := models.FeedbackSignal{UserFeedback: models.FeedbackRegenerated, LatencyMs: 5000}
	fastRegen := models.FeedbackSignal{UserFeedback: models.FeedbackRegenerated, LatencyMs: 500}
	fastAccept := models.FeedbackSignal{UserFeedback: models.FeedbackAccepted, LatencyMs: 100}

	cases := []struct {
		name    string
		signals []models.FeedbackSignal
		fires   bool
	}{
		{
			name:    "heavy slow regeneration",
			signals: repeat(repeat(nil, slowRegen, 5), fastAccept, 6),
			fires:   true,
		},
		{
			// The latency average covers the regenerated calls only; fast
			// accepted calls must not dilute it below the threshold.
			name: "slow regenerations among fast accepts",
			signals: repeat(repeat(nil,
				models.FeedbackSignal{UserFeedback: models.FeedbackRegenerated, LatencyMs: 3500}, 5),
				fastAccept, 6),
			fires: true,
		},
		{
			name:    "fast regenerations",
			signals: repeat(repeat(nil, fastRegen, 5), fastAccept, 1),
			fires:   false,
		},
		{
			name:    "below evidence floor",
			signals: repeat(repeat(nil, slowRegen, MinEvidence-1), fastAccept, 2),
			fires:   false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, ok := ruleSpeedSensitive(tc.signals)
			assert.Equal(t, tc.fires, ok)
			if tc.fires {
				assert.Equal(t, KeyPreferredSpeed, c.Key)
				assert.Equal(t, "fast", c.Value)
			}
		})
	}
}

func TestRuleTaskQuality(t *testing.T) {
	up := 1
	signals := make([]models.FeedbackSignal, 0, 6)
	for i := 0; i < 6; i++ {
		signals = append(signals, models.FeedbackSignal{
			UserFeedback: models.FeedbackAccepted,
			Model:        "m",
			TaskType:     "summarization",
			Thumbs:       &up,
		})
	}

	out := RunRules(signals)
	var keys []string
	for _, c := range out {
		keys = append(keys, c.Key)
	}
	assert.Contains(t, keys, "preferred_quality_summarization")
}

// ── service integration over the memory store ────────────────

func seedGenerations(t *testing.T, st *store.MemoryStore, userID string, n int, fb models.UserFeedback, model string) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		g := &models.AIGeneration{
			ID:        uuid.NewString(),
			CreatedAt: time.Now().UTC().Add(-time.Hour),
			UserID:    userID,
			Model:     model,
			TaskType:  "chat",
		}
		require.NoError(t, st.InsertGeneration(ctx, g))
		_, err := st.AttachFeedback(ctx, g.ID, models.FeedbackUpdate{UserFeedback: &fb})
		require.NoError(t, err)
	}
}

func TestInferUserWritesPreferences(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st)
	ctx := context.Background()

	seedGenerations(t, st, "u1", 8, models.FeedbackAccepted, "claude-sonnet")
	seedGenerations(t, st, "u1", 2, models.FeedbackRejected, "gpt-4o")

	report, err := svc.InferUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, report.SignalsSeen)
	assert.Contains(t, report.Written, KeyPreferredModel)

	p, err := svc.Get(ctx, "u1", KeyPreferredModel)
	require.NoError(t, err)
	assert.Equal(t, models.PreferenceInferred, p.Source)
	assert.Equal(t, 0.7, p.Confidence)
	assert.JSONEq(t, `"claude-sonnet"`, string(p.PreferenceValue))
}

func TestInferUserBelowMinEvidence(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st)

	seedGenerations(t, st, "u1", MinEvidence-1, models.FeedbackAccepted, "m")

	report, err := svc.InferUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, report.Written, "too few signals to infer anything")
}

func TestInferUserNeverOverwritesExplicit(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st)
	ctx := context.Background()

	_, err := svc.SetExplicit(ctx, "u1", KeyPreferredModel, json.RawMessage(`"my-choice"`))
	require.NoError(t, err)

	seedGenerations(t, st, "u1", 10, models.FeedbackAccepted, "other-model")

	report, err := svc.InferUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedExplicit)
	assert.NotContains(t, report.Written, KeyPreferredModel)

	p, err := svc.Get(ctx, "u1", KeyPreferredModel)
	require.NoError(t, err)
	assert.Equal(t, models.PreferenceExplicit, p.Source)
	assert.JSONEq(t, `"my-choice"`, string(p.PreferenceValue))
}

func TestPreferenceTimestampsStamped(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st)
	ctx := context.Background()

	before := time.Now().UTC()
	_, err := svc.SetExplicit(ctx, "u1", KeyPreferredModel, json.RawMessage(`"first"`))
	require.NoError(t, err)

	p, err := svc.Get(ctx, "u1", KeyPreferredModel)
	require.NoError(t, err)
	assert.False(t, p.CreatedAt.IsZero())
	assert.False(t, p.UpdatedAt.IsZero())
	assert.False(t, p.CreatedAt.Before(before))

	created := p.CreatedAt
	time.Sleep(5 * time.Millisecond)

	_, err = svc.SetExplicit(ctx, "u1", KeyPreferredModel, json.RawMessage(`"second"`))
	require.NoError(t, err)

	p, err = svc.Get(ctx, "u1", KeyPreferredModel)
	require.NoError(t, err)
	assert.Equal(t, created, p.CreatedAt, "update keeps the original creation time")
	assert.True(t, p.UpdatedAt.After(created))
}

func TestInferAllCoversEveryFeedbackUser(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st)

	seedGenerations(t, st, "u1", 6, models.FeedbackAccepted, "a")
	seedGenerations(t, st, "u2", 6, models.FeedbackAccepted, "b")

	reports, err := svc.InferAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}
