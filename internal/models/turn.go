package models

import (
	"time"

	"gorm.io/datatypes"
)

type Turn struct {
	ID          string  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	InterviewID string  `gorm:"column:interview_id;type:uuid;index:idx_turns_timeline,priority:1" json:"interview_id"`
	Speaker     string  `gorm:"column:speaker;type:text" json:"speaker"` // user|ai
	Text        *string `gorm:"column:text;type:text" json:"text"`
	AudioURL    *string `gorm:"column:audio_url;type:text" json:"audio_url"`

	StartedAt time.Time  `gorm:"column:started_at;type:timestamptz;index:idx_turns_timeline,priority:2" json:"started_at"`
	EndedAt   *time.Time `gorm:"column:ended_at;type:timestamptz" json:"ended_at"`
	CreatedAt time.Time  `gorm:"column:created_at;type:timestamptz;index:idx_turns_timeline,priority:3" json:"created_at"`
	UpdatedAt *time.Time `gorm:"column:updated_at;type:timestamptz;autoUpdateTime:false" json:"updated_at"`

	// Meta records where the turn came from (TurnMeta as JSON).
	Meta datatypes.JSON `gorm:"column:meta;type:jsonb" json:"meta,omitempty"`
}

func (Turn) TableName() string { return "turns" }

// Turn sources stored in TurnMeta.Source.
const (
	TurnSourceDirect = "direct"
	TurnSourceChunk  = "chunk"
	TurnSourceFull   = "full"
	TurnSourceRetry  = "retry"
)

type TurnMeta struct {
	Source       string   `json:"source"`
	Policy       string   `json:"policy,omitempty"`
	SegmentIndex *int     `json:"segment_index,omitempty"`
	RawStart     *float64 `json:"raw_start,omitempty"`
	RawEnd       *float64 `json:"raw_end,omitempty"`
	FirstTurn    bool     `json:"first_turn,omitempty"`
}
