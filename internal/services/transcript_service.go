package services

import (
	"context"
	"time"

	"github.com/Rogrei/diagnostik-chat/internal/models"
	pgrepo "github.com/Rogrei/diagnostik-chat/internal/repositories/postgres"
	"github.com/Rogrei/diagnostik-chat/internal/utils"

	"github.com/google/uuid"
)

// TranscriptService is the free-text transcript store keyed by session id.
// It is independent of the turn timeline.
type TranscriptService interface {
	Create(ctx context.Context, sessionID, text string) (*models.Transcript, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.Transcript, error)
}

type transcriptService struct {
	transcripts pgrepo.TranscriptRepository
}

func NewTranscriptService(transcripts pgrepo.TranscriptRepository) TranscriptService {
	return &transcriptService{transcripts: transcripts}
}

func (s *transcriptService) Create(ctx context.Context, sessionID, text string) (*models.Transcript, error) {
	const op = "TranscriptService.Create"

	if len(sessionID) < 5 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "sessionId must be at least 5 characters", nil)
	}
	if text == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "text is required", nil)
	}

	t := &models.Transcript{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.transcripts.Insert(ctx, t); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to save transcript", err)
	}
	return t, nil
}

func (s *transcriptService) ListBySession(ctx context.Context, sessionID string) ([]models.Transcript, error) {
	const op = "TranscriptService.ListBySession"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "sessionId is required", nil)
	}
	rows, err := s.transcripts.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list transcripts", err)
	}
	if rows == nil {
		rows = []models.Transcript{}
	}
	return rows, nil
}
