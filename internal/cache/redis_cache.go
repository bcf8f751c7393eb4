package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// counters expire when an interview has been idle this long; every snapshot
// they guard is long gone by then.
const counterTTL = 24 * time.Hour

// RedisCache stores JSON documents under an optional key prefix so several
// deployments can share one Redis database.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisCache(rdb *redis.Client, prefix string) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: prefix}
}

func (c *RedisCache) key(k string) string { return c.prefix + k }

func (c *RedisCache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	b, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if json.Unmarshal(b, dst) != nil {
		// unreadable entry is a miss; drop it so the next read repopulates
		_ = c.rdb.Del(ctx, c.key(key)).Err()
		return false, nil
	}
	return true, nil
}

// SetJSON with ttl <= 0 is a no-op: turn lists are never cached forever.
func (c *RedisCache) SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(key), b, ttl).Err()
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.rdb.Del(ctx, full...).Err()
}

func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, c.key(key))
	pipe.Expire(ctx, c.key(key), counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
