package models

import "time"

// Transcript is a free-text transcript line stored per realtime session.
// It is kept apart from the turn timeline.
type Transcript struct {
	ID        string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SessionID string    `gorm:"column:session_id;type:text;index" json:"sessionId"`
	Text      string    `gorm:"column:text;type:text" json:"text"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"createdAt"`
}

func (Transcript) TableName() string { return "transcripts" }
