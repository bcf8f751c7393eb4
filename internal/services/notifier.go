package services

import (
	"context"
	"time"

	"github.com/Rogrei/diagnostik-chat/internal/cache"
	"github.com/Rogrei/diagnostik-chat/internal/events"
	"github.com/sirupsen/logrus"
)

// Notifier keeps the cached timeline of an interview coherent with its
// turns and tells live viewers about changes. Failures are logged only: the
// database write has already happened.
type Notifier struct {
	cache  cache.Cache
	events events.Publisher
	ttl    time.Duration
	log    *logrus.Logger
}

func NewNotifier(c cache.Cache, pub events.Publisher, ttl time.Duration, log *logrus.Logger) *Notifier {
	if c == nil {
		c = cache.Noop{}
	}
	if pub == nil {
		pub = events.Noop{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Notifier{cache: c, events: pub, ttl: ttl, log: log}
}

func (n *Notifier) TimelineChanged(ctx context.Context, ev events.Event) {
	n.Invalidate(ctx, ev.InterviewID)
	n.Publish(ctx, ev)
}

// Invalidate moves the interview's cached timeline to a new generation. It
// is also called after failed writes that may have left rows behind.
func (n *Notifier) Invalidate(ctx context.Context, interviewID string) {
	if _, err := n.cache.Incr(ctx, cache.TurnsVersionKey(interviewID)); err != nil {
		n.log.WithError(err).WithField("interview_id", interviewID).Warn("turn cache invalidation failed")
	}
}

// timelineKey returns the cache key for the interview's current timeline
// generation.
func (n *Notifier) timelineKey(ctx context.Context, interviewID string) (string, error) {
	var version int64
	if _, err := n.cache.GetJSON(ctx, cache.TurnsVersionKey(interviewID), &version); err != nil {
		return "", err
	}
	return cache.TurnsKey(interviewID, version), nil
}

func (n *Notifier) Publish(ctx context.Context, ev events.Event) {
	if err := n.events.Publish(ctx, ev); err != nil {
		n.log.WithError(err).WithFields(logrus.Fields{
			"interview_id": ev.InterviewID,
			"event":        ev.Type,
		}).Warn("event publish failed")
	}
}
