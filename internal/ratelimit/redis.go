package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces rate limit keys.
const DefaultRedisPrefix = "ratelimit:"

// RedisStore keeps counters in Redis so they survive restarts and are shared
// between processes.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (r *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	k := r.prefix + key

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, err
	}

	now := time.Now()
	remaining := ttl.Val()
	// A fresh key, or one that lost its expiry, starts a new window.
	if remaining < 0 {
		if err := r.client.PExpire(ctx, k, window).Err(); err != nil {
			return 0, time.Time{}, err
		}
		remaining = window
	}

	return incr.Val(), now.Add(remaining), nil
}
