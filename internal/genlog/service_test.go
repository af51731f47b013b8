package genlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plinthworks/plinth/internal/store"
	"github.com/plinthworks/plinth/pkg/models"
)

func newService(t *testing.T) *Service {
	t.Helper()
	return NewService(store.NewMemoryStore())
}

func logOne(t *testing.T, svc *Service, req LogRequest) *models.AIGeneration {
	t.Helper()
	if req.UserID == "" {
		req.UserID = "user-1"
	}
	if req.Model == "" {
		req.Model = "gpt-4o-mini"
	}
	g, err := svc.Log(context.Background(), req)
	require.NoError(t, err)
	return g
}

func feedbackPtr(v models.UserFeedback) *models.UserFeedback { return &v }

func intPtr(v int) *int { return &v }

func TestLogHashesContent(t *testing.T) {
	svc := newService(t)
	g := logOne(t, svc, LogRequest{
		Prompt:       "summarize this text",
		Response:     "a summary",
		TaskType:     "summarization",
		InputTokens:  100,
		OutputTokens: 50,
		LatencyMs:    820,
	})

	assert.Len(t, g.PromptHash, 64)
	assert.Len(t, g.ResponseHash, 64)
	assert.NotEqual(t, g.PromptHash, g.ResponseHash)
	assert.Greater(t, g.CostUSD, 0.0, "cost derived from the pricing table")

	got, err := svc.Get(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.PromptHash, got.PromptHash)
}

func TestLogRequiresUserAndModel(t *testing.T) {
	svc := newService(t)
	_, err := svc.Log(context.Background(), LogRequest{Model: "m"})
	assert.Error(t, err)
	_, err = svc.Log(context.Background(), LogRequest{UserID: "u"})
	assert.Error(t, err)
}

func TestAttachFeedbackValidation(t *testing.T) {
	svc := newService(t)
	g := logOne(t, svc, LogRequest{Prompt: "p", Response: "r"})

	_, err := svc.AttachFeedback(context.Background(), g.ID, models.FeedbackUpdate{})
	assert.ErrorIs(t, err, ErrEmptyFeedback)

	bad := models.UserFeedback("loved-it")
	_, err = svc.AttachFeedback(context.Background(), g.ID, models.FeedbackUpdate{UserFeedback: &bad})
	assert.ErrorIs(t, err, ErrInvalidFeedback)

	_, err = svc.AttachFeedback(context.Background(), g.ID, models.FeedbackUpdate{Thumbs: intPtr(2)})
	assert.ErrorIs(t, err, ErrInvalidThumbs)

	_, err = svc.AttachFeedback(context.Background(), "missing", models.FeedbackUpdate{Thumbs: intPtr(1)})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAttachFeedbackStampsFeedbackAtOnce(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	g := logOne(t, svc, LogRequest{Prompt: "p", Response: "r"})

	first, err := svc.AttachFeedback(ctx, g.ID, models.FeedbackUpdate{
		UserFeedback: feedbackPtr(models.FeedbackAccepted),
	})
	require.NoError(t, err)
	require.NotNil(t, first.FeedbackAt)
	firstStamp := *first.FeedbackAt

	time.Sleep(5 * time.Millisecond)
	second, err := svc.AttachFeedback(ctx, g.ID, models.FeedbackUpdate{
		UserFeedback: feedbackPtr(models.FeedbackEdited),
		Thumbs:       intPtr(-1),
	})
	require.NoError(t, err)

	assert.Equal(t, models.FeedbackEdited, *second.UserFeedback, "later updates overwrite")
	assert.Equal(t, -1, *second.Thumbs)
	assert.True(t, second.FeedbackAt.Equal(firstStamp), "FeedbackAt is stamped exactly once")
}

func TestRecordOutcomeRequiresGeneration(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	g := logOne(t, svc, LogRequest{Prompt: "p", Response: "r"})

	o, err := svc.RecordOutcome(ctx, g.ID, "user-1", models.OutcomeConversion, 49.99)
	require.NoError(t, err)
	assert.Equal(t, g.ID, o.GenerationID)
	assert.Equal(t, 49.99, o.OutcomeValue)

	_, err = svc.RecordOutcome(ctx, "missing", "user-1", models.OutcomeConversion, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.RecordOutcome(ctx, g.ID, "user-1", models.OutcomeType("celebrated"), 1)
	assert.ErrorIs(t, err, ErrInvalidOutcome)
}

func TestStatsAggregation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	g1 := logOne(t, svc, LogRequest{Prompt: "a", Response: "x", InputTokens: 100, OutputTokens: 50, LatencyMs: 1000})
	g2 := logOne(t, svc, LogRequest{Prompt: "b", Response: "y", InputTokens: 200, OutputTokens: 100, LatencyMs: 3000})
	logOne(t, svc, LogRequest{UserID: "someone-else", Prompt: "c", Response: "z"})

	_, err := svc.AttachFeedback(ctx, g1.ID, models.FeedbackUpdate{UserFeedback: feedbackPtr(models.FeedbackAccepted)})
	require.NoError(t, err)
	_, err = svc.AttachFeedback(ctx, g2.ID, models.FeedbackUpdate{UserFeedback: feedbackPtr(models.FeedbackRejected)})
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, "user-1", 30)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalCalls, "stats are scoped to the user")
	assert.Equal(t, 300, stats.TotalInputTokens)
	assert.Equal(t, 150, stats.TotalOutputTokens)
	assert.InDelta(t, 2000, stats.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 0.5, stats.AcceptanceRate, 1e-9)
}

func TestStatsEmptyWindow(t *testing.T) {
	svc := newService(t)
	stats, err := svc.Stats(context.Background(), "nobody", 7)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalCalls)
	assert.Zero(t, stats.AcceptanceRate)
}

func TestCurateFewShot(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	quality := 0.9

	g := logOne(t, svc, LogRequest{
		Prompt: "p", Response: "r", TaskType: "summarization", QualityScore: &quality,
	})
	_, err := svc.AttachFeedback(ctx, g.ID, models.FeedbackUpdate{UserFeedback: feedbackPtr(models.FeedbackAccepted)})
	require.NoError(t, err)

	e, err := svc.CurateFewShot(ctx, g.ID, "input example", "output example")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "summarization", e.TaskType)
	assert.Equal(t, "auto", e.CuratedBy)
	assert.True(t, e.IsActive)

	entries, err := svc.ListFewShot(ctx, "summarization", true)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCurateFewShotSkipsUnqualified(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	lowQuality := 0.5
	g1 := logOne(t, svc, LogRequest{Prompt: "p", Response: "r", QualityScore: &lowQuality})
	_, err := svc.AttachFeedback(ctx, g1.ID, models.FeedbackUpdate{UserFeedback: feedbackPtr(models.FeedbackAccepted)})
	require.NoError(t, err)

	e, err := svc.CurateFewShot(ctx, g1.ID, "i", "o")
	require.NoError(t, err)
	assert.Nil(t, e, "low quality score does not qualify")

	highQuality := 0.95
	g2 := logOne(t, svc, LogRequest{Prompt: "p2", Response: "r2", QualityScore: &highQuality})
	e, err = svc.CurateFewShot(ctx, g2.ID, "i", "o")
	require.NoError(t, err)
	assert.Nil(t, e, "no accepted feedback does not qualify")
}
