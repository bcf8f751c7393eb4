package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/Rogrei/diagnostik-chat/internal/models"
	"github.com/Rogrei/diagnostik-chat/internal/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AnchoredTurn is a turn whose timestamps are computed by the database as
// offsets from its interview's started_at. No existence check happens
// before the insert: a missing interview fails on the table constraints.
type AnchoredTurn struct {
	Turn        models.Turn
	StartOffset time.Duration
	EndOffset   time.Duration
}

type TurnRepository interface {
	Insert(ctx context.Context, t *models.Turn) error
	InsertMany(ctx context.Context, turns []models.Turn) error
	InsertAnchored(ctx context.Context, interviewID string, rows []AnchoredTurn) error
	ReplaceArtifact(ctx context.Context, interviewID, audioURL string, anchored []AnchoredTurn, plain []models.Turn) (deleted int64, err error)

	GetByID(ctx context.Context, id string) (*models.Turn, error)
	ListByInterview(ctx context.Context, interviewID string) ([]models.Turn, error)
	CountBySpeaker(ctx context.Context, interviewID, speaker string) (int64, error)
	CountByArtifact(ctx context.Context, interviewID, audioURL string) (int64, error)
}

type turnRepo struct {
	db *gorm.DB
}

func NewTurnRepo(db *gorm.DB) TurnRepository {
	return &turnRepo{db: db}
}

const anchorExpr = "(SELECT started_at FROM interviews WHERE id = ?) + make_interval(secs => ?)"

func (r *turnRepo) Insert(ctx context.Context, t *models.Turn) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *turnRepo) InsertMany(ctx context.Context, turns []models.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&turns).Error
	})
}

func (r *turnRepo) InsertAnchored(ctx context.Context, interviewID string, rows []AnchoredTurn) error {
	return insertAnchored(r.db.WithContext(ctx), interviewID, rows)
}

func insertAnchored(db *gorm.DB, interviewID string, rows []AnchoredTurn) error {
	for _, row := range rows {
		t := row.Turn
		err := db.Model(&models.Turn{}).Create(map[string]any{
			"id":           t.ID,
			"interview_id": interviewID,
			"speaker":      t.Speaker,
			"text":         t.Text,
			"audio_url":    t.AudioURL,
			"started_at":   gorm.Expr(anchorExpr, interviewID, row.StartOffset.Seconds()),
			"ended_at":     gorm.Expr(anchorExpr, interviewID, row.EndOffset.Seconds()),
			"created_at":   t.CreatedAt,
			"meta":         t.Meta,
		}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// ReplaceArtifact deletes every turn produced from audioURL in the interview
// and inserts the new set in the same transaction.
func (r *turnRepo) ReplaceArtifact(ctx context.Context, interviewID, audioURL string, anchored []AnchoredTurn, plain []models.Turn) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("interview_id = ? AND audio_url = ?", interviewID, audioURL).Delete(&models.Turn{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected

		if err := insertAnchored(tx, interviewID, anchored); err != nil {
			return err
		}
		if len(plain) > 0 {
			return tx.Create(&plain).Error
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (r *turnRepo) GetByID(ctx context.Context, id string) (*models.Turn, error) {
	if uuid.Validate(id) != nil {
		return nil, utils.ErrNotFound
	}
	var row models.Turn
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *turnRepo) ListByInterview(ctx context.Context, interviewID string) ([]models.Turn, error) {
	var rows []models.Turn
	err := r.db.WithContext(ctx).
		Where("interview_id = ?", interviewID).
		Order("started_at ASC").
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *turnRepo) CountBySpeaker(ctx context.Context, interviewID, speaker string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Turn{}).
		Where("interview_id = ? AND speaker = ?", interviewID, speaker).
		Count(&count).Error
	return count, err
}

func (r *turnRepo) CountByArtifact(ctx context.Context, interviewID, audioURL string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Turn{}).
		Where("interview_id = ? AND audio_url = ?", interviewID, audioURL).
		Count(&count).Error
	return count, err
}
