package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidScheduleFormat is returned for any rule text that cannot be parsed.
var ErrInvalidScheduleFormat = errors.New("invalid schedule format")

// Rule fires on one weekday, or every day when Daily is set, at a wall-clock time.
type Rule struct {
	Weekday time.Weekday
	Daily   bool
	Hour    int
	Minute  int
	Second  int
}

// Matches reports whether the rule fires on the given weekday.
func (r Rule) Matches(d time.Weekday) bool {
	return r.Daily || r.Weekday == d
}

// String renders the canonical "DAY;HH:MM:SS" form.
func (r Rule) String() string {
	day := "DAILY"
	if !r.Daily {
		day = strings.ToUpper(r.Weekday.String())
	}
	return fmt.Sprintf("%s;%02d:%02d:%02d", day, r.Hour, r.Minute, r.Second)
}

var dailyTokens = map[string]struct{}{
	"DAILY":  {},
	"DIARIO": {},
}

var dayLookup = map[string]time.Weekday{
	"MONDAY":    time.Monday,
	"TUESDAY":   time.Tuesday,
	"WEDNESDAY": time.Wednesday,
	"THURSDAY":  time.Thursday,
	"FRIDAY":    time.Friday,
	"SATURDAY":  time.Saturday,
	"SUNDAY":    time.Sunday,

	"LUNES":     time.Monday,
	"MARTES":    time.Tuesday,
	"MIERCOLES": time.Wednesday,
	"JUEVES":    time.Thursday,
	"VIERNES":   time.Friday,
	"SABADO":    time.Saturday,
	"DOMINGO":   time.Sunday,
}

// ParseRule parses "DAY;HH:MM:SS". All failures wrap ErrInvalidScheduleFormat.
func ParseRule(text string) (Rule, error) {
	parts := strings.Split(text, ";")
	if len(parts) != 2 {
		return Rule{}, fmt.Errorf("%w: %q: expected DAY;HH:MM:SS", ErrInvalidScheduleFormat, text)
	}

	var r Rule
	day := normalizeDay(parts[0])
	if _, ok := dailyTokens[day]; ok {
		r.Daily = true
	} else {
		wd, ok := dayLookup[day]
		if !ok {
			return Rule{}, fmt.Errorf("%w: %q: unknown day %q", ErrInvalidScheduleFormat, text, strings.TrimSpace(parts[0]))
		}
		r.Weekday = wd
	}

	fields := strings.Split(strings.TrimSpace(parts[1]), ":")
	if len(fields) != 3 {
		return Rule{}, fmt.Errorf("%w: %q: expected HH:MM:SS", ErrInvalidScheduleFormat, text)
	}
	limits := [3]int{23, 59, 59}
	var vals [3]int
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return Rule{}, fmt.Errorf("%w: %q: non-numeric time field %q", ErrInvalidScheduleFormat, text, f)
		}
		if n < 0 || n > limits[i] {
			return Rule{}, fmt.Errorf("%w: %q: time out of range", ErrInvalidScheduleFormat, text)
		}
		vals[i] = n
	}
	r.Hour, r.Minute, r.Second = vals[0], vals[1], vals[2]
	return r, nil
}

// normalizeDay strips combining marks after NFD decomposition and uppercases.
func normalizeDay(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		out = strings.TrimSpace(s)
	}
	return strings.ToUpper(out)
}
