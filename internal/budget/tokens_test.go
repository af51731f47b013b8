package budget

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCounter(t *testing.T) *RedisCounter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCounter(client)
}

func TestTokenBudgetAllowAndDeny(t *testing.T) {
	ctx := context.Background()
	b := NewTokenBudget(newTestCounter(t), 100, false)

	// Consume 99 of 100.
	snap, err := b.Check(ctx, "u1", 99)
	require.NoError(t, err)
	assert.True(t, snap.Allowed)
	assert.Equal(t, int64(1), snap.Remaining)

	// 2 more would exceed: denied, reservation released, remaining still 1.
	snap, err = b.Check(ctx, "u1", 2)
	require.NoError(t, err)
	assert.False(t, snap.Allowed)
	assert.Equal(t, int64(100), snap.Limit)
	assert.Equal(t, int64(1), snap.Remaining)

	// Exactly fits.
	snap, err = b.Check(ctx, "u1", 1)
	require.NoError(t, err)
	assert.True(t, snap.Allowed)
	assert.Equal(t, int64(0), snap.Remaining)

	// At exactly the limit the next call is denied.
	snap, err = b.Check(ctx, "u1", 1)
	require.NoError(t, err)
	assert.False(t, snap.Allowed)
	assert.Equal(t, int64(0), snap.Remaining)
}

func TestTokenBudgetPerUserIsolation(t *testing.T) {
	ctx := context.Background()
	b := NewTokenBudget(newTestCounter(t), 100, false)

	_, err := b.Check(ctx, "u1", 100)
	require.NoError(t, err)

	snap, err := b.Check(ctx, "u2", 50)
	require.NoError(t, err)
	assert.True(t, snap.Allowed)
	assert.Equal(t, int64(50), snap.Remaining)
}

func TestTokenBudgetUnconfigured(t *testing.T) {
	ctx := context.Background()

	dev := NewTokenBudget(nil, 100, true)
	snap, err := dev.Check(ctx, "u1", 10)
	require.NoError(t, err)
	assert.True(t, snap.Allowed)
	assert.Equal(t, int64(100), snap.Remaining)

	prod := NewTokenBudget(nil, 100, false)
	snap, err = prod.Check(ctx, "u1", 10)
	require.NoError(t, err)
	assert.False(t, snap.Allowed)
	assert.Equal(t, int64(0), snap.Remaining)
}

func TestDayKeyFormat(t *testing.T) {
	ts := time.Date(2026, 3, 7, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "user:u1:day:20260307", DayKey("u1", ts))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, int64(0), EstimateTokens(""))
	assert.Equal(t, int64(1), EstimateTokens("abc"))
	assert.Equal(t, int64(1), EstimateTokens("abcd"))
	assert.Equal(t, int64(2), EstimateTokens("abcde"))
}
