package workers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/Rogrei/diagnostik-chat/internal/events"
	"github.com/Rogrei/diagnostik-chat/internal/services"
	"github.com/Rogrei/diagnostik-chat/internal/timeline"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	DefaultStream = "transcribe:stream"
	DefaultGroup  = "transcribe-workers"
)

// RedisQueue puts transcription jobs on a Redis stream.
type RedisQueue struct {
	Redis  *redis.Client
	Stream string
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{Redis: rdb, Stream: DefaultStream}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job services.TranscribeJob) error {
	return q.Redis.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		Values: map[string]any{
			"interview_id": job.InterviewID,
			"audio_url":    job.AudioURL,
			"mode":         job.Mode,
			"ts_unix":      strconv.FormatInt(time.Now().UTC().Unix(), 10),
		},
	}).Err()
}

// TranscribePool consumes the transcription stream with a consumer group and
// imports each stored artifact onto its interview's timeline.
type TranscribePool struct {
	Redis      *redis.Client
	Imports    services.ImportService
	Events     events.Publisher
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
}

func (p *TranscribePool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Imports == nil {
		return errors.New("TranscribePool missing dependency: Redis/Imports must be set")
	}
	p.defaults()

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	return nil
}

func (p *TranscribePool) defaults() {
	if p.Stream == "" {
		p.Stream = DefaultStream
	}
	if p.Group == "" {
		p.Group = DefaultGroup
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 2
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}
	if p.Events == nil {
		p.Events = events.Noop{}
	}
}

func (p *TranscribePool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    1,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			p.Logger.WithError(err).WithField("consumer", consumer).Warn("stream read failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				_ = p.process(ctx, msg.ID, msg.Values)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

func jobFromValues(values map[string]any) services.TranscribeJob {
	getStr := func(k string) string {
		s, _ := values[k].(string)
		return s
	}
	job := services.TranscribeJob{
		InterviewID: getStr("interview_id"),
		AudioURL:    getStr("audio_url"),
		Mode:        getStr("mode"),
	}
	if job.Mode == "" {
		job.Mode = string(timeline.ModeFullRecordingPostHoc)
	}
	return job
}

// process handles one stream entry. Failed jobs are reported on the status
// channel and acknowledged; the client can re-upload or retry a turn.
func (p *TranscribePool) process(ctx context.Context, id string, values map[string]any) error {
	job := jobFromValues(values)
	log := p.Logger.WithFields(logrus.Fields{
		"redis_id":     id,
		"interview_id": job.InterviewID,
		"audio_url":    job.AudioURL,
		"mode":         job.Mode,
	})
	if job.InterviewID == "" || job.AudioURL == "" {
		log.Warn("dropping malformed transcription job")
		return errors.New("malformed job")
	}

	p.status(ctx, job, "processing", "transcription started")

	start := time.Now()
	res, err := p.Imports.ImportStored(ctx, job)
	if err != nil {
		log.WithError(err).Error("transcription job failed")
		p.status(ctx, job, "failed", err.Error())
		return err
	}

	log.WithFields(logrus.Fields{
		"segments":   res.Segments,
		"inserted":   res.Inserted,
		"latency_ms": time.Since(start).Milliseconds(),
	}).Info("transcription job done")
	p.status(ctx, job, "done", strconv.Itoa(res.Inserted)+" turns imported")
	return nil
}

func (p *TranscribePool) status(ctx context.Context, job services.TranscribeJob, status, msg string) {
	err := p.Events.Publish(ctx, events.Event{
		Type:        events.TypeStatus,
		InterviewID: job.InterviewID,
		AudioURL:    job.AudioURL,
		Mode:        job.Mode,
		Status:      status,
		Message:     msg,
	})
	if err != nil {
		p.Logger.WithError(err).WithField("interview_id", job.InterviewID).Warn("status publish failed")
	}
}
