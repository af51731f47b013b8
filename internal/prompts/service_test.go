package prompts

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plinthworks/plinth/internal/store"
	"github.com/plinthworks/plinth/pkg/models"
)

func newService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewService(st, nil), st
}

func mustCreate(t *testing.T, svc *Service, name, content string) *models.PromptVersion {
	t.Helper()
	v, err := svc.Create(context.Background(), name, content, "tester")
	require.NoError(t, err)
	return v
}

func TestCreateAssignsVersions(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	v1 := mustCreate(t, svc, "summarize", "You are a summarizer.")
	assert.Equal(t, models.InitialPromptVersion, v1.Version)
	assert.Zero(t, v1.ActivePct, "new versions start dark")
	assert.Len(t, v1.ContentHash, 64)

	v2 := mustCreate(t, svc, "summarize", "You are a better summarizer.")
	assert.Equal(t, "v1.1.0", v2.Version)

	versions, err := svc.List(ctx, "summarize")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, models.InitialPromptVersion, versions[0].Version, "versions list ascending")
}

func TestCreateRejectsEmptyContent(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Create(context.Background(), "p", "", "tester")
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestSetTrafficEnforcesAllocationCap(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	v1 := mustCreate(t, svc, "p", "one")
	v2 := mustCreate(t, svc, "p", "two")

	_, err := svc.SetTraffic(ctx, v1.ID, 60)
	require.NoError(t, err)
	_, err = svc.SetTraffic(ctx, v2.ID, 40)
	require.NoError(t, err)

	// 60 + 50 would exceed 100.
	_, err = svc.SetTraffic(ctx, v2.ID, 50)
	assert.ErrorIs(t, err, ErrAllocationExceeded)

	// Changing a version's own allocation replaces, not adds.
	_, err = svc.SetTraffic(ctx, v1.ID, 55)
	require.NoError(t, err)

	_, err = svc.SetTraffic(ctx, v1.ID, 101)
	assert.ErrorIs(t, err, ErrInvalidPct)
	_, err = svc.SetTraffic(ctx, v1.ID, -1)
	assert.ErrorIs(t, err, ErrInvalidPct)
}

func TestGetActiveIsSticky(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	v1 := mustCreate(t, svc, "p", "one")
	v2 := mustCreate(t, svc, "p", "two")
	_, err := svc.SetTraffic(ctx, v1.ID, 50)
	require.NoError(t, err)
	_, err = svc.SetTraffic(ctx, v2.ID, 50)
	require.NoError(t, err)

	for _, userID := range []string{"alice", "bob", "carol"} {
		first, err := svc.GetActive(ctx, "p", userID)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			again, err := svc.GetActive(ctx, "p", userID)
			require.NoError(t, err)
			assert.Equal(t, first.ID, again.ID, "user %s must always land on the same version", userID)
		}
		assert.Equal(t, models.SelectionSticky, first.Source)
	}
}

func TestGetActiveDistributesByAllocation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	v1 := mustCreate(t, svc, "p", "one")
	v2 := mustCreate(t, svc, "p", "two")
	_, err := svc.SetTraffic(ctx, v1.ID, 90)
	require.NoError(t, err)
	_, err = svc.SetTraffic(ctx, v2.ID, 10)
	require.NoError(t, err)

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		got, err := svc.GetActive(ctx, "p", fmt.Sprintf("user-%d", i))
		require.NoError(t, err)
		counts[got.ID]++
	}
	assert.Greater(t, counts[v1.ID], counts[v2.ID]*4, "90/10 split should heavily favor v1")
	assert.Greater(t, counts[v2.ID], 0, "minority version still receives traffic")
}

func TestGetActiveFallsBackWhenUnderAllocated(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	v1 := mustCreate(t, svc, "p", "one")
	_, err := svc.SetTraffic(ctx, v1.ID, 10)
	require.NoError(t, err)

	// Every user resolves to something even though only 10% is allocated.
	for i := 0; i < 50; i++ {
		got, err := svc.GetActive(ctx, "p", fmt.Sprintf("user-%d", i))
		require.NoError(t, err)
		assert.Equal(t, v1.ID, got.ID)
	}
}

func TestGetActiveNoVersions(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.GetActive(context.Background(), "missing", "u")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetActiveNoAllocatedTraffic(t *testing.T) {
	svc, _ := newService(t)

	// Versions exist but none carries traffic: no active prompt.
	mustCreate(t, svc, "p", "one")
	mustCreate(t, svc, "p", "two")

	_, err := svc.GetActive(context.Background(), "p", "u")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

type fixedFlags struct {
	variant string
}

func (f fixedFlags) Variant(ctx context.Context, userID, promptName string) (string, bool) {
	return f.variant, f.variant != ""
}

func TestGetActiveFlagOverride(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, fixedFlags{variant: "v1.1.0"})
	ctx := context.Background()

	mustCreate(t, svc, "p", "one")
	v2 := mustCreate(t, svc, "p", "two")

	got, err := svc.GetActive(ctx, "p", "anyone")
	require.NoError(t, err)
	assert.Equal(t, v2.ID, got.ID)
	assert.Equal(t, models.SelectionFlag, got.Source)
}

func TestGetActiveFlagUnknownVariantFallsBack(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, fixedFlags{variant: "v9.9.9"})
	ctx := context.Background()

	v1 := mustCreate(t, svc, "p", "one")
	_, err := svc.SetTraffic(ctx, v1.ID, 100)
	require.NoError(t, err)

	got, err := svc.GetActive(ctx, "p", "u")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, got.ID)
	assert.Equal(t, models.SelectionSticky, got.Source)
}

func TestPromoteClimbsTheLadder(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	v := mustCreate(t, svc, "p", "content")

	// 0 → 10 needs no eval score.
	res, err := svc.Promote(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.PreviousPct)
	assert.Equal(t, 10, res.NewPct)
	assert.Equal(t, 50, res.NextStep)

	// 10 → 50 is gated on eval score.
	_, err = svc.Promote(ctx, v.ID)
	assert.ErrorIs(t, err, ErrQualityGate)

	require.NoError(t, svc.SetEvalScore(ctx, v.ID, 0.85))
	res, err = svc.Promote(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, res.NewPct)

	// 50 → 100 zeroes siblings.
	res, err = svc.Promote(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, res.NewPct)
	assert.Equal(t, -1, res.NextStep)

	// Already at the top.
	_, err = svc.Promote(ctx, v.ID)
	assert.ErrorIs(t, err, ErrAtTop)
}

func TestPromoteToFullZeroesSiblings(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	v1 := mustCreate(t, svc, "p", "one")
	v2 := mustCreate(t, svc, "p", "two")
	_, err := svc.SetTraffic(ctx, v1.ID, 50)
	require.NoError(t, err)
	_, err = svc.SetTraffic(ctx, v2.ID, 50)
	require.NoError(t, err)
	require.NoError(t, svc.SetEvalScore(ctx, v2.ID, 0.9))

	// Walk v2 up to 100.
	for {
		res, err := svc.Promote(ctx, v2.ID)
		require.NoError(t, err)
		if res.NewPct == 100 {
			break
		}
	}

	versions, err := svc.List(ctx, "p")
	require.NoError(t, err)
	total := 0
	for _, v := range versions {
		total += v.ActivePct
		if v.ID == v1.ID {
			assert.Zero(t, v.ActivePct, "siblings are zeroed at full promotion")
		}
	}
	assert.Equal(t, 100, total)
}

func TestPromoteQualityGateAtEdge(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	v := mustCreate(t, svc, "p", "content")

	_, err := svc.Promote(ctx, v.ID) // 0 → 10
	require.NoError(t, err)

	require.NoError(t, svc.SetEvalScore(ctx, v.ID, models.PromotionQualityGate))
	_, err = svc.Promote(ctx, v.ID) // exactly at gate passes
	assert.NoError(t, err)
}

func TestNextLadderStep(t *testing.T) {
	assert.Equal(t, 10, NextLadderStep(0))
	assert.Equal(t, 50, NextLadderStep(10))
	assert.Equal(t, 100, NextLadderStep(50))
	assert.Equal(t, -1, NextLadderStep(100))
	assert.Equal(t, 50, NextLadderStep(25), "off-ladder allocations advance to the next rung")
}

func TestDecide(t *testing.T) {
	th := models.PromotionThresholds{
		MinSamples: 50, PromoteAcc: 0.6, PromoteConv: 0.1,
		RollbackAcc: 0.3, RollbackConv: 0.02,
	}
	passing := 0.8

	candidate := func(pct int, eval *float64) *models.PromptVersion {
		return &models.PromptVersion{ID: "v", PromptName: "p", ActivePct: pct, EvalScore: eval}
	}

	d := Decide(models.PromotionMetrics{Samples: 10, AcceptanceRate: 0.9, ConversionRate: 0.5}, candidate(10, nil), th)
	assert.Equal(t, models.DecisionHold, d.Action)
	assert.Contains(t, d.Reason, "insufficient samples")

	d = Decide(models.PromotionMetrics{Samples: 100, AcceptanceRate: 0.7, ConversionRate: 0.2}, candidate(0, nil), th)
	assert.Equal(t, models.DecisionPromote, d.Action)
	assert.Equal(t, 10, d.NextPct, "first rung needs no eval score")

	d = Decide(models.PromotionMetrics{Samples: 100, AcceptanceRate: 0.7, ConversionRate: 0.2}, candidate(10, &passing), th)
	assert.Equal(t, models.DecisionPromote, d.Action)
	assert.Equal(t, 50, d.NextPct)

	d = Decide(models.PromotionMetrics{Samples: 100, AcceptanceRate: 0.2, ConversionRate: 0.2}, candidate(50, &passing), th)
	assert.Equal(t, models.DecisionRollback, d.Action)
	assert.Zero(t, d.NextPct)

	d = Decide(models.PromotionMetrics{Samples: 100, AcceptanceRate: 0.45, ConversionRate: 0.05}, candidate(10, &passing), th)
	assert.Equal(t, models.DecisionHold, d.Action)
	assert.Equal(t, 10, d.NextPct)

	d = Decide(models.PromotionMetrics{Samples: 100, AcceptanceRate: 0.9, ConversionRate: 0.5}, candidate(100, &passing), th)
	assert.Equal(t, models.DecisionHold, d.Action)
	assert.Contains(t, d.Reason, "fully promoted")
}

func TestDecideNoRollbackWithoutTraffic(t *testing.T) {
	th := models.PromotionThresholds{
		MinSamples: 50, PromoteAcc: 0.6, PromoteConv: 0.1,
		RollbackAcc: 0.3, RollbackConv: 0.02,
	}

	// A 0% candidate with regressed metrics has nothing to roll back.
	d := Decide(models.PromotionMetrics{Samples: 100, AcceptanceRate: 0.1, ConversionRate: 0.0},
		&models.PromptVersion{ID: "v", ActivePct: 0}, th)
	assert.Equal(t, models.DecisionHold, d.Action)
	assert.Zero(t, d.NextPct)
}

func TestDecideQualityGateAboveTen(t *testing.T) {
	th := models.PromotionThresholds{
		MinSamples: 50, PromoteAcc: 0.6, PromoteConv: 0.1,
		RollbackAcc: 0.3, RollbackConv: 0.02,
	}
	metrics := models.PromotionMetrics{Samples: 100, AcceptanceRate: 0.9, ConversionRate: 0.5}
	low := 0.5

	d := Decide(metrics, &models.PromptVersion{ID: "v", ActivePct: 10}, th)
	assert.Equal(t, models.DecisionHold, d.Action, "no eval score blocks the 50%% rung")
	assert.Contains(t, d.Reason, "quality gate")

	d = Decide(metrics, &models.PromptVersion{ID: "v", ActivePct: 10, EvalScore: &low}, th)
	assert.Equal(t, models.DecisionHold, d.Action)

	ok := models.PromotionQualityGate
	d = Decide(metrics, &models.PromptVersion{ID: "v", ActivePct: 10, EvalScore: &ok}, th)
	assert.Equal(t, models.DecisionPromote, d.Action)
	assert.Equal(t, 50, d.NextPct)
}

func TestDecideAtTopBeforePromoteTest(t *testing.T) {
	// The ladder-top check answers before the promote thresholds are
	// consulted, so a fully promoted version holds even on strong metrics.
	d := Decide(models.PromotionMetrics{Samples: 100, AcceptanceRate: 0.99, ConversionRate: 0.9},
		&models.PromptVersion{ID: "v", ActivePct: 100}, DefaultThresholds)
	assert.Equal(t, models.DecisionHold, d.Action)
	assert.Contains(t, d.Reason, "fully promoted")
	assert.Equal(t, 100, d.NextPct)
}
