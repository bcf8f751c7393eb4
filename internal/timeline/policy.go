package timeline

import (
	"fmt"
	"math"
	"time"
)

// Mode names a segment placement policy. The two modes are not numerically
// equivalent.
type Mode string

const (
	ModeChunkRealtime        Mode = "chunk"
	ModeFullRecordingPostHoc Mode = "full"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeChunkRealtime, ModeFullRecordingPostHoc:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown timeline mode %q", s)
	}
}

// Segment is one unit of recognized speech with offsets in seconds relative
// to the start of its audio artifact.
type Segment struct {
	Text  string
	Start float64
	End   float64
}

// Placement is a cleaned segment positioned relative to the interview start.
type Placement struct {
	Index    int
	Text     string
	Start    time.Duration
	End      time.Duration
	RawStart float64
	RawEnd   float64
}

// At resolves the placement against the interview's start timestamp.
func (p Placement) At(base time.Time) (start, end time.Time) {
	return base.Add(p.Start), base.Add(p.End)
}

// Policy maps raw segment offsets onto the interview timeline.
type Policy interface {
	Mode() Mode
	Offsets(start, end float64) (time.Duration, time.Duration)
}

// ChunkRealtime is used for short recordings uploaded during the interview
// and for retries. Offsets are shifted back by the de-lag constant, rounded
// to whole seconds, and clamped so that 0 <= start <= end.
type ChunkRealtime struct {
	Delag time.Duration
}

func (ChunkRealtime) Mode() Mode { return ModeChunkRealtime }

func (p ChunkRealtime) Offsets(start, end float64) (time.Duration, time.Duration) {
	delag := p.Delag.Seconds()
	s := math.Max(0, roundHalfUp(start-delag))
	e := math.Max(s, roundHalfUp(end-delag))
	return seconds(s), seconds(e)
}

// FullRecordingPostHoc is used for the complete recording uploaded after the
// interview ends. Offsets keep millisecond precision, are pushed forward by
// a fixed correction, and start never lands before the floor.
type FullRecordingPostHoc struct {
	Forward time.Duration
	Floor   time.Duration
}

func (FullRecordingPostHoc) Mode() Mode { return ModeFullRecordingPostHoc }

func (p FullRecordingPostHoc) Offsets(start, end float64) (time.Duration, time.Duration) {
	s := millis(start) + p.Forward
	e := millis(end) + p.Forward
	if s < p.Floor {
		s = p.Floor
	}
	// ended_at >= started_at is enforced by the turns table.
	if e < s {
		e = s
	}
	return s, e
}

// PolicyFor returns the policy configured for mode.
func PolicyFor(mode Mode, st Settings) Policy {
	if mode == ModeFullRecordingPostHoc {
		return FullRecordingPostHoc{Forward: st.FullForward, Floor: st.FullFloor}
	}
	return ChunkRealtime{Delag: st.ChunkDelag}
}

// Place cleans and positions every segment, dropping those whose text is
// empty after cleanup. Index refers to the segment's position in segs.
func Place(p Policy, c *Cleaner, segs []Segment) []Placement {
	out := make([]Placement, 0, len(segs))
	for i, seg := range segs {
		text := c.Clean(seg.Text)
		if text == "" {
			continue
		}
		s, e := p.Offsets(seg.Start, seg.End)
		out = append(out, Placement{
			Index:    i,
			Text:     text,
			Start:    s,
			End:      e,
			RawStart: seg.Start,
			RawEnd:   seg.End,
		})
	}
	return out
}

// roundHalfUp matches the rounding the chunk offsets were calibrated with:
// halves go toward +Inf, so -0.5 becomes 0 and 2.5 becomes 3.
func roundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}

func seconds(v float64) time.Duration {
	return time.Duration(v) * time.Second
}

func millis(sec float64) time.Duration {
	return time.Duration(math.Round(sec*1000)) * time.Millisecond
}
