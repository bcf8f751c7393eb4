package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	RunStatusPending = "pending"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// TranscriptionRun logs one call to the external transcription service.
type TranscriptionRun struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RunID       string             `bson:"run_id" json:"run_id"`
	InterviewID string             `bson:"interview_id" json:"interview_id"`
	AudioURL    string             `bson:"audio_url" json:"audio_url"`
	Mode        string             `bson:"mode" json:"mode"`         // chunk|full|retry
	Provider    string             `bson:"provider" json:"provider"` // whisper|google

	Status       string `bson:"status" json:"status"` // pending|done|failed
	SegmentCount int    `bson:"segment_count" json:"segment_count"`
	TurnCount    int    `bson:"turn_count" json:"turn_count"`
	Language     string `bson:"language,omitempty" json:"language,omitempty"`
	Text         string `bson:"text,omitempty" json:"text,omitempty"`
	Error        string `bson:"error,omitempty" json:"error,omitempty"`

	ProcessingTimeMS int64      `bson:"processing_time_ms,omitempty" json:"processing_time_ms,omitempty"`
	CreatedAt        time.Time  `bson:"created_at" json:"created_at"`
	FinishedAt       *time.Time `bson:"finished_at,omitempty" json:"finished_at,omitempty"`

	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"` // for TTL index
}
