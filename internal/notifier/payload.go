package notifier

import (
	"strconv"
	"strings"
	"time"
)

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       *int   `json:"color,omitempty"`
	Timestamp   string `json:"timestamp"`
}

type payload struct {
	Embeds []embed `json:"embeds"`
}

// lineSeparator is the two characters backslash and n, not a newline.
// Receivers see it escaped as "\\n" in the JSON body.
const lineSeparator = `\n`

// joinLines joins template lines with lineSeparator. Leading empty lines do
// not produce a separator.
func joinLines(lines []string) string {
	var b strings.Builder
	for _, l := range lines {
		if b.Len() > 0 {
			b.WriteString(lineSeparator)
		}
		b.WriteString(l)
	}
	return b.String()
}

// parseColor accepts six hex digits with an optional leading '#'.
func parseColor(s string) (int, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0, false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 16, 32)
	if err != nil {
		return 0, false
	}
	return int(n), true
}

func buildPayload(title, description, color string, now time.Time) payload {
	e := embed{
		Title:       title,
		Description: description,
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
	}
	if c, ok := parseColor(color); ok {
		e.Color = &c
	}
	return payload{Embeds: []embed{e}}
}
