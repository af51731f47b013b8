package budget

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter implements contracts.CounterStore on go-redis. The TTL is
// applied only when the key has none yet, so a day-bucket counter expires
// 24 h after its first increment.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter wraps an existing redis client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) IncrBy(ctx context.Context, key string, delta int64, ttlSeconds int64) (int64, error) {
	total, err := c.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, err
	}
	if ttlSeconds > 0 {
		// NX: keep the original expiry on subsequent increments.
		c.client.ExpireNX(ctx, key, time.Duration(ttlSeconds)*time.Second)
	}
	return total, nil
}

func (c *RedisCounter) Get(ctx context.Context, key string) (int64, error) {
	v, err := c.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}
