package stt

import (
	"context"
	"io"
)

// Segment is one recognized unit of speech, offsets in seconds from the
// start of the audio.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Transcription struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
}

type Provider interface {
	Name() string
	// Transcribe reads the whole audio artifact; fileName is used as the
	// upload name where the service needs one to detect the container.
	Transcribe(ctx context.Context, audio io.Reader, fileName string) (*Transcription, error)
	Close() error
}
