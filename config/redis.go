package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var RedisClient *redis.Client

// InitRedis connects to REDIS_ADDR (or REDIS_URI/REDIS_URL). It returns
// ErrNotConfigured when none is set; the cache, lock, events and async
// transcription then fall back to their no-op variants.
func InitRedis() error {
	val := os.Getenv("REDIS_ADDR")
	if val == "" {
		val = os.Getenv("REDIS_URI")
	}
	if val == "" {
		val = os.Getenv("REDIS_URL")
	}
	if val == "" {
		return ErrNotConfigured
	}

	var client *redis.Client
	if strings.HasPrefix(val, "redis://") || strings.HasPrefix(val, "rediss://") {
		opt, err := redis.ParseURL(val)
		if err != nil {
			return err
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: val})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return err
	}
	RedisClient = client
	return nil
}
