// Package budget enforces the two spending gates around LLM-touching
// endpoints: the per-user daily token budget (distributed counter) and the
// process-wide cost ledger with a hard USD cap.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/plinthworks/plinth/pkg/contracts"
	"github.com/plinthworks/plinth/pkg/models"
)

// ErrTokenBudgetExceeded signals a per-user daily token budget breach.
var ErrTokenBudgetExceeded = errors.New("token budget exceeded")

// ExceededError carries the budget snapshot alongside the denial so the
// handler can include it in the 429 body.
type ExceededError struct {
	Snapshot models.BudgetSnapshot
}

func (e *ExceededError) Error() string { return ErrTokenBudgetExceeded.Error() }

func (e *ExceededError) Unwrap() error { return ErrTokenBudgetExceeded }

// DefaultDailyTokenLimit is the per-user token allowance per UTC day.
const DefaultDailyTokenLimit int64 = 100_000

const counterTTLSeconds = 24 * 60 * 60

// TokenBudget tracks per-user daily token consumption in the counter store.
type TokenBudget struct {
	counters contracts.CounterStore // nil when the store is unconfigured
	limit    int64
	failOpen bool // development: allow when unconfigured
}

// NewTokenBudget creates the token budget gate. counters may be nil; the
// unconfigured behavior is fail-open in development and fail-closed in
// production.
func NewTokenBudget(counters contracts.CounterStore, limit int64, failOpen bool) *TokenBudget {
	if limit <= 0 {
		limit = DefaultDailyTokenLimit
	}
	return &TokenBudget{counters: counters, limit: limit, failOpen: failOpen}
}

// DayKey returns the counter key for a user on a given day.
func DayKey(userID string, t time.Time) string {
	return fmt.Sprintf("user:%s:day:%s", userID, t.UTC().Format("20060102"))
}

// Check atomically reserves estimate tokens against the user's daily budget.
// On denial the reservation is released so a smaller later request can still
// fit. The returned snapshot always reflects the pre-reservation remainder
// when denied and the post-reservation remainder when allowed.
func (b *TokenBudget) Check(ctx context.Context, userID string, estimate int64) (models.BudgetSnapshot, error) {
	if b.counters == nil {
		if b.failOpen {
			return models.BudgetSnapshot{Allowed: true, Limit: b.limit, Remaining: b.limit}, nil
		}
		return models.BudgetSnapshot{Allowed: false, Limit: b.limit, Remaining: 0}, nil
	}

	key := DayKey(userID, time.Now())
	total, err := b.counters.IncrBy(ctx, key, estimate, counterTTLSeconds)
	if err != nil {
		return models.BudgetSnapshot{}, fmt.Errorf("token counter incr: %w", err)
	}

	if total > b.limit {
		// Release the reservation; the denial must not consume budget.
		if _, derr := b.counters.IncrBy(ctx, key, -estimate, counterTTLSeconds); derr != nil {
			log.Warn().Err(derr).Str("key", key).Msg("failed to release denied token reservation")
		}
		remaining := b.limit - (total - estimate)
		if remaining < 0 {
			remaining = 0
		}
		return models.BudgetSnapshot{Allowed: false, Limit: b.limit, Remaining: remaining}, nil
	}

	return models.BudgetSnapshot{Allowed: true, Limit: b.limit, Remaining: b.limit - total}, nil
}

// Usage reports the tokens consumed today without reserving any.
func (b *TokenBudget) Usage(ctx context.Context, userID string) (int64, error) {
	if b.counters == nil {
		return 0, nil
	}
	return b.counters.Get(ctx, DayKey(userID, time.Now()))
}

// EstimateTokens approximates the token count of a text: 1 token ≈ 4 chars.
func EstimateTokens(text string) int64 {
	return int64((len(text) + 3) / 4)
}
