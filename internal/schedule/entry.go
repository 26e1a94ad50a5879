package schedule

import (
	"fmt"
	"strings"
)

// Entry is one schedulable group of actions. It is never mutated after
// construction; a config reload builds a new slice of entries.
type Entry struct {
	ID      string
	Actions []string
	Rules   []Rule
	Message []string
	Color   string
}

// RawEntry is the unparsed form handed over by the config loader.
type RawEntry struct {
	ID       string
	Actions  []string
	Schedule []string
	Message  []string
	Color    string
}

// RuleError reports one rule that failed to parse. The entry it belongs to
// keeps its other rules.
type RuleError struct {
	EntryID string
	Index   int
	Text    string
	Err     error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("entry %q schedule[%d]: %v", e.EntryID, e.Index, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// BuildEntry parses raw schedule lines. Blank lines are ignored, malformed
// lines are reported and skipped. ok is false when the entry has no actions
// or no usable rule and must not be scheduled.
func BuildEntry(raw RawEntry) (e Entry, ruleErrs []error, ok bool) {
	e = Entry{
		ID:      raw.ID,
		Actions: append([]string(nil), raw.Actions...),
		Message: append([]string(nil), raw.Message...),
		Color:   raw.Color,
	}
	for i, line := range raw.Schedule {
		if strings.TrimSpace(line) == "" {
			continue
		}
		r, err := ParseRule(line)
		if err != nil {
			ruleErrs = append(ruleErrs, &RuleError{EntryID: raw.ID, Index: i, Text: line, Err: err})
			continue
		}
		e.Rules = append(e.Rules, r)
	}
	if len(e.Actions) == 0 || len(e.Rules) == 0 {
		return e, ruleErrs, false
	}
	return e, ruleErrs, true
}
