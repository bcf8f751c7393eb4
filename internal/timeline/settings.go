// Package timeline places interview turns on a single clock anchored at the
// interview start. Transcription segments only carry offsets relative to the
// uploaded audio, and client-reported turns carry whatever clock the browser
// had, so every correction applied to either lives here as a named value.
package timeline

import "time"

const (
	DefaultChunkDelag          = 2 * time.Second
	DefaultFullForward         = 2000 * time.Millisecond
	DefaultFullFloor           = 500 * time.Millisecond
	DefaultFirstUserTurnOffset = 2000 * time.Millisecond
	DefaultFirstAITurnOffset   = 0

	DefaultNonSpeechMarker = "[sätter en kort paus]"
)

// Settings holds every timing constant used to build the interview timeline.
type Settings struct {
	// ChunkDelag is subtracted from both segment offsets in chunk mode.
	ChunkDelag time.Duration
	// FullForward is added to both segment offsets in full-recording mode.
	FullForward time.Duration
	// FullFloor is the earliest offset a full-recording segment may start at.
	FullFloor time.Duration

	FirstUserTurnOffset time.Duration
	FirstAITurnOffset   time.Duration

	NonSpeechMarker string
}

func DefaultSettings() Settings {
	return Settings{
		ChunkDelag:          DefaultChunkDelag,
		FullForward:         DefaultFullForward,
		FullFloor:           DefaultFullFloor,
		FirstUserTurnOffset: DefaultFirstUserTurnOffset,
		FirstAITurnOffset:   DefaultFirstAITurnOffset,
		NonSpeechMarker:     DefaultNonSpeechMarker,
	}
}
