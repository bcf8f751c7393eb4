package mongo

import (
	"context"
	"time"

	"github.com/Rogrei/diagnostik-chat/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const TranscriptionRunsCollection = "transcription_runs"

type TranscriptionRunRepository interface {
	Insert(ctx context.Context, run *models.TranscriptionRun) error
	Finish(ctx context.Context, runID string, update RunResult) error
	ListByInterview(ctx context.Context, interviewID string, limit int64) ([]models.TranscriptionRun, error)
}

// RunResult is the terminal state written by Finish.
type RunResult struct {
	Status           string
	SegmentCount     int
	TurnCount        int
	Language         string
	Text             string
	Error            string
	ProcessingTimeMS int64
	FinishedAt       time.Time
}

type transcriptionRunRepo struct {
	col *mongo.Collection
}

func NewTranscriptionRunRepo(db *mongo.Database) TranscriptionRunRepository {
	return &transcriptionRunRepo{col: db.Collection(TranscriptionRunsCollection)}
}

func (r *transcriptionRunRepo) Insert(ctx context.Context, run *models.TranscriptionRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, run)
	return err
}

func (r *transcriptionRunRepo) Finish(ctx context.Context, runID string, res RunResult) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"run_id": runID},
		bson.M{"$set": bson.M{
			"status":             res.Status,
			"segment_count":      res.SegmentCount,
			"turn_count":         res.TurnCount,
			"language":           res.Language,
			"text":               res.Text,
			"error":              res.Error,
			"processing_time_ms": res.ProcessingTimeMS,
			"finished_at":        res.FinishedAt.UTC(),
		}},
	)
	return err
}

func (r *transcriptionRunRepo) ListByInterview(ctx context.Context, interviewID string, limit int64) ([]models.TranscriptionRun, error) {
	if limit <= 0 {
		limit = 100
	}

	cur, err := r.col.Find(ctx,
		bson.M{"interview_id": interviewID},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.TranscriptionRun{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
