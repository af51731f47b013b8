// Package jobs provides the durable background job queue and the worker pool
// that drains it. Delivery is at-least-once; every processor is idempotent.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/plinthworks/plinth/pkg/models"
)

// Queue keys. Ready jobs live in a list, delayed jobs in a sorted set scored
// by their due time, exhausted jobs in the dead-letter list.
const (
	readyKey   = "plinth:jobs:ready"
	delayedKey = "plinth:jobs:delayed"
	deadKey    = "plinth:jobs:dead"
)

// ErrQueueUnavailable is returned by the noop queue; ingestion reports it as
// queued=false without failing the request.
var ErrQueueUnavailable = errors.New("job queue unavailable")

// Queue is the durable job transport. RedisQueue is the real implementation;
// NoopQueue stands in when Redis is not configured.
type Queue interface {
	Enqueue(ctx context.Context, job models.Job) error
	Dequeue(ctx context.Context, timeout time.Duration) (*models.Job, error)
	DeadLetters(ctx context.Context, limit int) ([]models.Job, error)
}

// RedisQueue is the Redis-backed queue: a ready list, a delayed sorted set,
// and a dead-letter list.
type RedisQueue struct {
	rdb *redis.Client
}

// NewRedisQueue wraps an existing Redis client.
func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

// Enqueue pushes a job. Jobs with a future DelayUntil go to the delayed set
// and surface once due.
func (q *RedisQueue) Enqueue(ctx context.Context, job models.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if job.DelayUntil != nil && job.DelayUntil.After(time.Now()) {
		return q.rdb.ZAdd(ctx, delayedKey, redis.Z{
			Score:  float64(job.DelayUntil.Unix()),
			Member: raw,
		}).Err()
	}
	return q.rdb.LPush(ctx, readyKey, raw).Err()
}

// Dequeue promotes due delayed jobs and blocks up to timeout for a ready job.
// Returns (nil, nil) when the timeout lapses with nothing to do.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.Job, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}

	vals, err := q.rdb.BRPop(ctx, timeout, readyKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("brpop: %w", err)
	}
	// BRPop returns [key, value].
	var job models.Job
	if err := json.Unmarshal([]byte(vals[1]), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	job.State = models.JobActive
	return &job, nil
}

// promoteDue moves delayed jobs whose due time has passed onto the ready
// list. Racing promoters may both observe a member, but ZRem succeeds for
// exactly one of them, so no job is promoted twice.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	members, err := q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("zrangebyscore: %w", err)
	}
	for _, m := range members {
		removed, err := q.rdb.ZRem(ctx, delayedKey, m).Result()
		if err != nil {
			return fmt.Errorf("zrem: %w", err)
		}
		if removed == 0 {
			continue // another promoter won
		}
		if err := q.rdb.LPush(ctx, readyKey, m).Err(); err != nil {
			return fmt.Errorf("promote lpush: %w", err)
		}
	}
	return nil
}

// bury moves an exhausted job to the dead-letter list.
func (q *RedisQueue) bury(ctx context.Context, job models.Job) error {
	job.State = models.JobFailed
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal dead job: %w", err)
	}
	return q.rdb.LPush(ctx, deadKey, raw).Err()
}

// DeadLetters returns up to limit dead jobs, most recent first.
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	vals, err := q.rdb.LRange(ctx, deadKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange dead: %w", err)
	}
	jobs := make([]models.Job, 0, len(vals))
	for _, v := range vals {
		var job models.Job
		if err := json.Unmarshal([]byte(v), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// NoopQueue rejects every enqueue. Used when Redis is not configured so the
// synchronous pipeline still works, reporting queued=false.
type NoopQueue struct{}

func (NoopQueue) Enqueue(ctx context.Context, job models.Job) error {
	return ErrQueueUnavailable
}

func (NoopQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.Job, error) {
	return nil, nil
}

func (NoopQueue) DeadLetters(ctx context.Context, limit int) ([]models.Job, error) {
	return nil, nil
}
