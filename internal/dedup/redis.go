package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "outreach:dedup:"

// redisAPI is the subset of *redis.Client used by Redis.
type redisAPI interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis shares the processed-identifier set across processes. Keys expire
// after ttl; a zero ttl keeps them forever.
type Redis struct {
	client redisAPI
	prefix string
	ttl    time.Duration
}

var _ Deduplicator = (*Redis)(nil)

// NewRedis creates a Redis deduplicator. prefix is optional.
func NewRedis(client redisAPI, prefix string, ttl time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("dedup: redis client must not be nil")
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultRedisPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}, nil
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) Seen(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: redis exists %q: %w", key, err)
	}
	return n > 0, nil
}

func (r *Redis) Mark(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("dedup: key must not be empty")
	}
	if err := r.client.SetNX(ctx, r.key(key), 1, r.ttl).Err(); err != nil {
		return fmt.Errorf("dedup: redis setnx %q: %w", key, err)
	}
	return nil
}

// Claim records key with SETNX and reports whether this call created it.
func (r *Redis) Claim(ctx context.Context, key string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, errors.New("dedup: key must not be empty")
	}
	ok, err := r.client.SetNX(ctx, r.key(key), 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: redis setnx %q: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("dedup: redis del %q: %w", key, err)
	}
	return nil
}

// Clear deletes every key under the configured prefix.
func (r *Redis) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("dedup: redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("dedup: redis del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
