package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Rogrei/diagnostik-chat/internal/events"
	"github.com/Rogrei/diagnostik-chat/internal/models"
	pgrepo "github.com/Rogrei/diagnostik-chat/internal/repositories/postgres"
	"github.com/Rogrei/diagnostik-chat/internal/timeline"
	"github.com/Rogrei/diagnostik-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

type RecordTurnInput struct {
	InterviewID string
	Speaker     string
	Text        string
	// StartedAt is the client-observed start; nil means now.
	StartedAt *time.Time
}

// TurnService records directly observed turns and serves an interview's
// timeline.
type TurnService interface {
	Record(ctx context.Context, in RecordTurnInput) (*models.Turn, error)
	ListByInterview(ctx context.Context, interviewID string) ([]models.Turn, error)
}

type turnService struct {
	interviews pgrepo.InterviewRepository
	turns      pgrepo.TurnRepository
	settings   timeline.Settings
	cleaner    *timeline.Cleaner
	notify     *Notifier
	log        *logrus.Logger
	clock      func() time.Time
}

func NewTurnService(interviews pgrepo.InterviewRepository, turns pgrepo.TurnRepository, settings timeline.Settings, notify *Notifier, log *logrus.Logger) TurnService {
	if notify == nil {
		notify = NewNotifier(nil, nil, 0, log)
	}
	if log == nil {
		log = logrus.New()
	}
	return &turnService{
		interviews: interviews,
		turns:      turns,
		settings:   settings,
		cleaner:    timeline.NewCleaner(settings.NonSpeechMarker),
		notify:     notify,
		log:        log,
		clock:      time.Now,
	}
}

func (s *turnService) Record(ctx context.Context, in RecordTurnInput) (*models.Turn, error) {
	const op = "TurnService.Record"

	if in.InterviewID == "" || in.Speaker == "" || in.Text == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "interviewId, speaker and text are required", nil)
	}
	if !timeline.ValidSpeaker(in.Speaker) {
		return nil, utils.E(utils.CodeInvalidArgument, op, "speaker must be user or ai", nil)
	}

	if _, err := s.interviews.GetByID(ctx, in.InterviewID); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "interview not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load interview", err)
	}

	prior, err := s.turns.CountBySpeaker(ctx, in.InterviewID, in.Speaker)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to count turns", err)
	}
	first := prior == 0

	fields := logrus.Fields{"interview_id": in.InterviewID, "speaker": in.Speaker}
	if first && in.Speaker == timeline.SpeakerAI {
		s.log.WithFields(fields).Debug("first ai turn detected")
	}

	now := s.clock().UTC()
	startedAt := timeline.ResolveTurnStart(s.settings, in.Speaker, in.StartedAt, now, first)

	text := s.cleaner.Clean(in.Text)
	if text == "" {
		s.log.WithFields(fields).Warn("turn text is empty after cleanup")
	}

	meta, _ := json.Marshal(models.TurnMeta{Source: models.TurnSourceDirect, FirstTurn: first})
	turn := &models.Turn{
		ID:          uuid.NewString(),
		InterviewID: in.InterviewID,
		Speaker:     in.Speaker,
		Text:        &text,
		StartedAt:   startedAt,
		CreatedAt:   now,
		Meta:        datatypes.JSON(meta),
	}
	if err := s.turns.Insert(ctx, turn); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to save turn", err)
	}

	s.notify.TimelineChanged(ctx, events.Event{
		Type:        events.TypeTurnCreated,
		InterviewID: in.InterviewID,
		Turn:        turn,
	})
	return turn, nil
}

func (s *turnService) ListByInterview(ctx context.Context, interviewID string) ([]models.Turn, error) {
	const op = "TurnService.ListByInterview"

	if interviewID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "interviewId is required", nil)
	}

	key, err := s.notify.timelineKey(ctx, interviewID)
	if err != nil {
		s.log.WithError(err).WithField("interview_id", interviewID).Warn("turn cache read failed")
	} else {
		var cached []models.Turn
		if hit, err := s.notify.cache.GetJSON(ctx, key, &cached); err != nil {
			s.log.WithError(err).WithField("interview_id", interviewID).Warn("turn cache read failed")
		} else if hit {
			return cached, nil
		}
	}

	rows, err := s.turns.ListByInterview(ctx, interviewID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list turns", err)
	}
	if rows == nil {
		rows = []models.Turn{}
	}

	if key != "" && s.notify.ttl > 0 {
		if err := s.notify.cache.SetJSON(ctx, key, rows, s.notify.ttl); err != nil {
			s.log.WithError(err).WithField("interview_id", interviewID).Warn("turn cache write failed")
		}
	}
	return rows, nil
}
