package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Rogrei/diagnostik-chat/internal/events"
	"github.com/Rogrei/diagnostik-chat/internal/models"
	pgrepo "github.com/Rogrei/diagnostik-chat/internal/repositories/postgres"
	"github.com/Rogrei/diagnostik-chat/internal/utils"

	"github.com/google/uuid"
)

const (
	ConsentUI    = "ui"
	ConsentVoice = "voice"
)

type StartSessionInput struct {
	CustomerName  *string
	Company       *string
	ConsentMethod string
	Accept        bool
}

type InterviewService interface {
	StartSession(ctx context.Context, in StartSessionInput) (*models.Interview, error)
	// EndSession ends the interview identified by interviewID, or by sessionID
	// when interviewID is empty.
	EndSession(ctx context.Context, interviewID, sessionID string) (*models.Interview, error)
	GetBySessionID(ctx context.Context, sessionID string) (*models.Interview, error)

	Create(ctx context.Context, customerName, sessionID string) (*models.Interview, error)
	Get(ctx context.Context, id string) (*models.Interview, error)
	List(ctx context.Context) ([]models.InterviewSummary, error)

	DBNow(ctx context.Context) (time.Time, error)
}

type interviewService struct {
	interviews pgrepo.InterviewRepository
	notify     *Notifier
	clock      func() time.Time
}

func NewInterviewService(interviews pgrepo.InterviewRepository, notify *Notifier) InterviewService {
	if notify == nil {
		notify = NewNotifier(nil, nil, 0, nil)
	}
	return &interviewService{interviews: interviews, notify: notify, clock: time.Now}
}

func newSessionID() string {
	return "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (s *interviewService) StartSession(ctx context.Context, in StartSessionInput) (*models.Interview, error) {
	const op = "InterviewService.StartSession"

	if !in.Accept {
		return nil, utils.E(utils.CodeInvalidArgument, op, "consent is required to start a session", nil)
	}
	method := in.ConsentMethod
	if method == "" {
		method = ConsentUI
	}
	if method != ConsentUI && method != ConsentVoice {
		return nil, utils.E(utils.CodeInvalidArgument, op, "consentMethod must be ui or voice", nil)
	}

	now := s.clock().UTC()
	iv := &models.Interview{
		ID:            uuid.NewString(),
		SessionID:     newSessionID(),
		CustomerName:  nonEmpty(in.CustomerName),
		Company:       nonEmpty(in.Company),
		ConsentMethod: method,
		ConsentAt:     &now,
		StartedAt:     now,
		Status:        models.InterviewStatusActive,
	}
	if err := s.interviews.Create(ctx, iv); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to start session", err)
	}
	return iv, nil
}

func (s *interviewService) EndSession(ctx context.Context, interviewID, sessionID string) (*models.Interview, error) {
	const op = "InterviewService.EndSession"

	now := s.clock().UTC()
	var (
		iv  *models.Interview
		err error
	)
	switch {
	case interviewID != "":
		if _, perr := uuid.Parse(interviewID); perr != nil {
			return nil, utils.E(utils.CodeInvalidArgument, op, "interviewId must be a uuid", perr)
		}
		iv, err = s.interviews.EndByID(ctx, interviewID, now)
	case len(sessionID) >= 5:
		iv, err = s.interviews.EndBySessionID(ctx, sessionID, now)
	default:
		return nil, utils.E(utils.CodeInvalidArgument, op, "interviewId or sessionId is required", nil)
	}
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found or already ended", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to end session", err)
	}

	s.notify.Publish(ctx, events.Event{
		Type:        events.TypeStatus,
		InterviewID: iv.ID,
		Status:      models.InterviewStatusEnded,
	})
	return iv, nil
}

func (s *interviewService) GetBySessionID(ctx context.Context, sessionID string) (*models.Interview, error) {
	const op = "InterviewService.GetBySessionID"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "sessionId is required", nil)
	}
	iv, err := s.interviews.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get session", err)
	}
	return iv, nil
}

func (s *interviewService) Create(ctx context.Context, customerName, sessionID string) (*models.Interview, error) {
	const op = "InterviewService.Create"

	customerName = strings.TrimSpace(customerName)
	if customerName == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "customer_name is required", nil)
	}
	if sessionID == "" {
		sessionID = newSessionID()
	}

	now := s.clock().UTC()
	iv := &models.Interview{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		CustomerName:  &customerName,
		ConsentMethod: ConsentUI,
		StartedAt:     now,
		Status:        models.InterviewStatusActive,
	}
	if err := s.interviews.Create(ctx, iv); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create interview", err)
	}
	return iv, nil
}

func (s *interviewService) Get(ctx context.Context, id string) (*models.Interview, error) {
	const op = "InterviewService.Get"

	if _, err := uuid.Parse(id); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "interview id must be a uuid", err)
	}
	iv, err := s.interviews.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "interview not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get interview", err)
	}
	return iv, nil
}

func (s *interviewService) List(ctx context.Context) ([]models.InterviewSummary, error) {
	const op = "InterviewService.List"

	rows, err := s.interviews.List(ctx)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list interviews", err)
	}
	if rows == nil {
		rows = []models.InterviewSummary{}
	}
	return rows, nil
}

func (s *interviewService) DBNow(ctx context.Context) (time.Time, error) {
	const op = "InterviewService.DBNow"

	now, err := s.interviews.Now(ctx)
	if err != nil {
		return time.Time{}, utils.E(utils.CodeUnavailable, op, "database is not reachable", err)
	}
	return now, nil
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
