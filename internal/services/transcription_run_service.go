package services

import (
	"context"
	"time"

	"github.com/Rogrei/diagnostik-chat/internal/models"
	"github.com/Rogrei/diagnostik-chat/internal/providers/stt"
	mongorepo "github.com/Rogrei/diagnostik-chat/internal/repositories/mongo"
	"github.com/Rogrei/diagnostik-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type TranscriptionRunService interface {
	Start(ctx context.Context, interviewID, audioURL, mode, provider string) *RunHandle
	ListByInterview(ctx context.Context, interviewID string, limit int64) ([]models.TranscriptionRun, error)
}

type transcriptionRunService struct {
	runs mongorepo.TranscriptionRunRepository
	ttl  time.Duration
	log  *logrus.Logger
}

// NewTranscriptionRunService logs runs to runs; a nil repository turns the
// log into a no-op and listing into UNAVAILABLE.
func NewTranscriptionRunService(runs mongorepo.TranscriptionRunRepository, ttl time.Duration, log *logrus.Logger) TranscriptionRunService {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	if log == nil {
		log = logrus.New()
	}
	return &transcriptionRunService{runs: runs, ttl: ttl, log: log}
}

// RunHandle tracks one transcription call from start to its outcome.
type RunHandle struct {
	svc     *transcriptionRunService
	runID   string
	started time.Time
}

func (s *transcriptionRunService) Start(ctx context.Context, interviewID, audioURL, mode, provider string) *RunHandle {
	now := time.Now().UTC()
	h := &RunHandle{svc: s, runID: uuid.NewString(), started: now}
	if s.runs == nil {
		return h
	}

	run := &models.TranscriptionRun{
		RunID:       h.runID,
		InterviewID: interviewID,
		AudioURL:    audioURL,
		Mode:        mode,
		Provider:    provider,
		Status:      models.RunStatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := s.runs.Insert(ctx, run); err != nil {
		s.log.WithError(err).WithField("interview_id", interviewID).Warn("transcription run insert failed")
	}
	return h
}

func (h *RunHandle) Done(ctx context.Context, tr *stt.Transcription, turnCount int) {
	res := mongorepo.RunResult{Status: models.RunStatusDone, TurnCount: turnCount}
	if tr != nil {
		res.SegmentCount = len(tr.Segments)
		res.Language = tr.Language
		res.Text = tr.Text
	}
	h.finish(ctx, res)
}

func (h *RunHandle) Fail(ctx context.Context, err error) {
	h.finish(ctx, mongorepo.RunResult{Status: models.RunStatusFailed, Error: err.Error()})
}

func (h *RunHandle) finish(ctx context.Context, res mongorepo.RunResult) {
	if h == nil || h.svc.runs == nil {
		return
	}
	res.FinishedAt = time.Now().UTC()
	res.ProcessingTimeMS = res.FinishedAt.Sub(h.started).Milliseconds()
	if err := h.svc.runs.Finish(ctx, h.runID, res); err != nil {
		h.svc.log.WithError(err).WithField("run_id", h.runID).Warn("transcription run update failed")
	}
}

func (s *transcriptionRunService) ListByInterview(ctx context.Context, interviewID string, limit int64) ([]models.TranscriptionRun, error) {
	const op = "TranscriptionRunService.ListByInterview"

	if interviewID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "interviewId is required", nil)
	}
	if s.runs == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "transcription run log is not configured", nil)
	}
	out, err := s.runs.ListByInterview(ctx, interviewID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list transcription runs", err)
	}
	return out, nil
}
