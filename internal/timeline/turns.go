package timeline

import "time"

const (
	SpeakerUser = "user"
	SpeakerAI   = "ai"
)

func ValidSpeaker(s string) bool {
	return s == SpeakerUser || s == SpeakerAI
}

// FirstTurnCorrection is the offset applied to a speaker's first turn in an
// interview. The user's first turn is pushed after the AI greeting; the AI's
// first turn is taken as reported.
func FirstTurnCorrection(st Settings, speaker string) time.Duration {
	switch speaker {
	case SpeakerUser:
		return st.FirstUserTurnOffset
	case SpeakerAI:
		return st.FirstAITurnOffset
	default:
		return 0
	}
}

// ResolveTurnStart picks the start of a directly recorded turn: the explicit
// client time when given, otherwise now, corrected when it is the speaker's
// first turn.
func ResolveTurnStart(st Settings, speaker string, explicit *time.Time, now time.Time, firstForSpeaker bool) time.Time {
	at := now
	if explicit != nil && !explicit.IsZero() {
		at = *explicit
	}
	if firstForSpeaker {
		at = at.Add(FirstTurnCorrection(st, speaker))
	}
	return at.UTC()
}
