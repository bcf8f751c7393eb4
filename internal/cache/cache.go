package cache

import (
	"context"
	"errors"
	"strconv"
	"time"
)

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// Incr bumps an integer counter and returns its new value.
	Incr(ctx context.Context, key string) (int64, error)
}

// Locker hands out short exclusive leases keyed by name.
type Locker interface {
	// Acquire returns a release func, or ErrLocked when the key is held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

var ErrLocked = errors.New("lock is held")

// TurnsVersionKey holds the generation of an interview's cached timeline.
// Writers bump it; readers only trust snapshots stored under the current
// generation, so a snapshot read before a write can never be served after it.
func TurnsVersionKey(interviewID string) string { return "turns:" + interviewID + ":v" }

func TurnsKey(interviewID string, version int64) string {
	return "turns:" + interviewID + ":" + strconv.FormatInt(version, 10)
}

func ArtifactLockKey(interviewID, audioURL string) string {
	return "lock:artifact:" + interviewID + ":" + audioURL
}

// Noop is used when Redis is not configured: every read misses and every
// lock is granted.
type Noop struct{}

func (Noop) GetJSON(context.Context, string, any) (bool, error)             { return false, nil }
func (Noop) SetJSON(context.Context, string, any, time.Duration) error      { return nil }
func (Noop) Del(context.Context, ...string) error                           { return nil }
func (Noop) Incr(context.Context, string) (int64, error)                    { return 0, nil }
func (Noop) Acquire(context.Context, string, time.Duration) (func(), error) { return func() {}, nil }
