package events

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Subscriber delivers the raw JSON of every event published for an
// interview until ctx ends or the returned close func is called.
type Subscriber interface {
	Subscribe(ctx context.Context, interviewID string) (<-chan []byte, func() error, error)
}

type RedisSubscriber struct {
	rdb *redis.Client
}

func NewRedisSubscriber(rdb *redis.Client) *RedisSubscriber {
	return &RedisSubscriber{rdb: rdb}
}

func (s *RedisSubscriber) Subscribe(ctx context.Context, interviewID string) (<-chan []byte, func() error, error) {
	ps := s.rdb.Subscribe(ctx, TurnsChannel(interviewID), StatusChannel(interviewID))
	// wait for the subscription so events published right after are not lost
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for m := range ps.Channel() {
			select {
			case out <- []byte(m.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, ps.Close, nil
}
