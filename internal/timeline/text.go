package timeline

import (
	"regexp"
	"strings"
)

// Cleaner strips the non-speech marker the transcription service emits
// for pauses. Matching is case-insensitive; only the ends are trimmed.
type Cleaner struct {
	re *regexp.Regexp
}

func NewCleaner(marker string) *Cleaner {
	if marker == "" {
		return &Cleaner{}
	}
	return &Cleaner{re: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(marker))}
}

func (c *Cleaner) Clean(text string) string {
	if c != nil && c.re != nil {
		text = c.re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}
