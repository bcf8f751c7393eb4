// Package events publishes interview timeline changes so live viewers can
// follow an interview without polling.
package events

import (
	"context"

	"github.com/Rogrei/diagnostik-chat/internal/models"
)

const (
	TypeTurnCreated   = "turn_created"
	TypeTurnsImported = "turns_imported"
	TypeTurnsReplaced = "turns_replaced"
	TypeStatus        = "status"
)

type Event struct {
	Type        string       `json:"type"`
	InterviewID string       `json:"interview_id"`
	Turn        *models.Turn `json:"turn,omitempty"`
	AudioURL    string       `json:"audio_url,omitempty"`
	Mode        string       `json:"mode,omitempty"`
	Count       int          `json:"count,omitempty"`
	Status      string       `json:"status,omitempty"` // queued|processing|done|failed
	Message     string       `json:"message,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

func TurnsChannel(interviewID string) string { return "interview:" + interviewID + ":turns" }

func StatusChannel(interviewID string) string { return "interview:" + interviewID + ":status" }

// Channel picks the pub/sub channel for ev.
func Channel(ev Event) string {
	if ev.Type == TypeStatus {
		return StatusChannel(ev.InterviewID)
	}
	return TurnsChannel(ev.InterviewID)
}

type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
