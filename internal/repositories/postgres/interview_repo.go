package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/Rogrei/diagnostik-chat/internal/models"
	"github.com/Rogrei/diagnostik-chat/internal/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InterviewRepository interface {
	Create(ctx context.Context, i *models.Interview) error
	GetByID(ctx context.Context, id string) (*models.Interview, error)
	GetBySessionID(ctx context.Context, sessionID string) (*models.Interview, error)
	List(ctx context.Context) ([]models.InterviewSummary, error)
	EndByID(ctx context.Context, id string, endedAt time.Time) (*models.Interview, error)
	EndBySessionID(ctx context.Context, sessionID string, endedAt time.Time) (*models.Interview, error)
	Now(ctx context.Context) (time.Time, error)
}

type interviewRepo struct {
	db *gorm.DB
}

func NewInterviewRepo(db *gorm.DB) InterviewRepository {
	return &interviewRepo{db: db}
}

func (r *interviewRepo) Create(ctx context.Context, i *models.Interview) error {
	return r.db.WithContext(ctx).Create(i).Error
}

// GetByID reports ErrNotFound for ids that are not uuids instead of letting
// the uuid cast fail in the database.
func (r *interviewRepo) GetByID(ctx context.Context, id string) (*models.Interview, error) {
	if uuid.Validate(id) != nil {
		return nil, utils.ErrNotFound
	}
	return r.takeWhere(ctx, "id = ?", id)
}

func (r *interviewRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.Interview, error) {
	return r.takeWhere(ctx, "session_id = ?", sessionID)
}

func (r *interviewRepo) takeWhere(ctx context.Context, query string, arg any) (*models.Interview, error) {
	var row models.Interview
	err := r.db.WithContext(ctx).Where(query, arg).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *interviewRepo) List(ctx context.Context) ([]models.InterviewSummary, error) {
	var rows []models.InterviewSummary
	err := r.db.WithContext(ctx).
		Table("interviews AS i").
		Select("i.*, COUNT(t.id) AS turn_count").
		Joins("LEFT JOIN turns t ON t.interview_id = i.id").
		Group("i.id").
		Order("i.started_at DESC").
		Scan(&rows).Error
	return rows, err
}

func (r *interviewRepo) EndByID(ctx context.Context, id string, endedAt time.Time) (*models.Interview, error) {
	return r.end(ctx, "id = ?", id, endedAt)
}

func (r *interviewRepo) EndBySessionID(ctx context.Context, sessionID string, endedAt time.Time) (*models.Interview, error) {
	return r.end(ctx, "session_id = ?", sessionID, endedAt)
}

// end only touches interviews that are not already ended; ErrNotFound covers
// both the missing and the already-ended case.
func (r *interviewRepo) end(ctx context.Context, query string, arg any, endedAt time.Time) (*models.Interview, error) {
	var rows []models.Interview
	res := r.db.WithContext(ctx).
		Model(&rows).
		Clauses(clause.Returning{}).
		Where(query, arg).
		Where("status <> ?", models.InterviewStatusEnded).
		Updates(map[string]any{
			"ended_at": endedAt.UTC(),
			"status":   models.InterviewStatusEnded,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 || len(rows) == 0 {
		return nil, utils.ErrNotFound
	}
	return &rows[0], nil
}

func (r *interviewRepo) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	err := r.db.WithContext(ctx).Raw("SELECT NOW()").Scan(&now).Error
	return now, err
}
