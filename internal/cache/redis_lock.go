package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease never releases someone else's.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLocker(rdb *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{rdb: rdb, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	key = l.prefix + key
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		_ = releaseScript.Run(context.Background(), l.rdb, []string{key}, token).Err()
	}, nil
}
