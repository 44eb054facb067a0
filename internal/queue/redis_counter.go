package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/uptrace/bun"
)

const counterTTL = 48 * time.Hour

// RedisCounter shares the counter between nodes with INCR on
// queue:{store}:{day}. Keys expire two days after their first ticket.
type RedisCounter struct {
	Client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{Client: client}
}

func counterKey(storeID, day string) string {
	return fmt.Sprintf("queue:%s:%s", storeID, day)
}

func (c *RedisCounter) Next(ctx context.Context, _ bun.IDB, storeID, day string) (int, error) {
	key := counterKey(storeID, day)
	seq, err := c.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	if seq == 1 {
		if err := c.Client.Expire(ctx, key, counterTTL).Err(); err != nil {
			return 0, fmt.Errorf("redis expire %s: %w", key, err)
		}
	}
	return int(seq), nil
}

// Current reads the last issued sequence without incrementing.
func (c *RedisCounter) Current(ctx context.Context, storeID, day string) (int, error) {
	seq, err := c.Client.Get(ctx, counterKey(storeID, day)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq, nil
}
