package models

import "time"

const (
	InterviewStatusActive = "active"
	InterviewStatusEnded  = "ended"
)

type Interview struct {
	ID            string     `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SessionID     string     `gorm:"column:session_id;type:text;uniqueIndex" json:"session_id"`
	CustomerName  *string    `gorm:"column:customer_name;type:text" json:"customer_name"`
	Company       *string    `gorm:"column:company;type:text" json:"company"`
	ConsentMethod string     `gorm:"column:consent_method;type:text" json:"consent_method"` // ui|voice
	ConsentAt     *time.Time `gorm:"column:consent_at;type:timestamptz" json:"consent_at"`

	// StartedAt is the zero point of every turn timestamp in the interview.
	StartedAt time.Time  `gorm:"column:started_at;type:timestamptz;index" json:"started_at"`
	EndedAt   *time.Time `gorm:"column:ended_at;type:timestamptz" json:"ended_at"`
	Status    string     `gorm:"column:status;type:text" json:"status"` // active|ended
}

func (Interview) TableName() string { return "interviews" }

// InterviewSummary is an interview row listed together with its turn count.
type InterviewSummary struct {
	Interview `gorm:"embedded"`
	TurnCount int64 `gorm:"column:turn_count" json:"turn_count"`
}
