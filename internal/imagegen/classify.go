package imagegen

import (
	"regexp"
	"strings"
)

// Patterns for requests that want a picture rather than words. Group 1 is
// the subject.
var (
	drawPattern  = regexp.MustCompile(`(?i)^(?:please\s+|can you\s+|could you\s+)?(?:draw|paint|sketch|illustrate|render)\s+(?:me\s+)?(.+)`)
	makePattern  = regexp.MustCompile(`(?i)^(?:please\s+|can you\s+|could you\s+)?(?:make|create|generate|show)\s+(?:me\s+)?(?:an?\s+)?(?:image|picture|photo|drawing|painting|illustration)\s+(?:of|showing|with)\s+(.+)`)
	slashPattern = regexp.MustCompile(`(?i)^/(?:image|img|draw)\s+(.+)`)
)

// Classify reports whether text asks for an image and returns the prompt to
// send to the image model.
func Classify(text string) (string, bool) {
	text = strings.TrimRight(strings.TrimSpace(text), "?!.")

	for _, p := range []*regexp.Regexp{slashPattern, makePattern, drawPattern} {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if subject := strings.TrimSpace(m[1]); subject != "" {
			return subject, true
		}
	}
	return "", false
}
