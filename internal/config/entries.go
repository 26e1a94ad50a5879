package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cmdtimer/internal/schedule"
)

// ErrNoUsableRule marks an entry dropped because none of its rules parsed
// or it has no actions.
var ErrNoUsableRule = errors.New("entry has no actions or no valid schedule")

// EntryIDs returns entry ids in file order. Ids missing from the recorded
// order (JSON files, programmatic configs) follow in sorted order.
func (c *Config) EntryIDs() []string {
	seen := make(map[string]struct{}, len(c.Entries))
	out := make([]string, 0, len(c.Entries))
	for _, id := range c.order {
		if _, ok := c.Entries[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	var rest []string
	for id := range c.Entries {
		if _, ok := seen[id]; !ok {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// BuildEntries parses every entry. Malformed rules are reported and skipped;
// an entry left without rules or actions is reported and dropped. Loading
// continues past both.
func (c *Config) BuildEntries() ([]schedule.Entry, []error) {
	var (
		out  []schedule.Entry
		errs []error
	)
	for _, id := range c.EntryIDs() {
		ec := c.Entries[id]
		e, ruleErrs, ok := schedule.BuildEntry(schedule.RawEntry{
			ID:       id,
			Actions:  nonBlank(ec.Actions),
			Schedule: ec.Schedule,
			Message:  ec.Message,
			Color:    ec.Color,
		})
		errs = append(errs, ruleErrs...)
		if !ok {
			errs = append(errs, fmt.Errorf("entry %q: %w", id, ErrNoUsableRule))
			continue
		}
		out = append(out, e)
	}
	return out, errs
}

// Location resolves the configured timezone. On failure it returns UTC
// together with the error so callers can warn and carry on.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, fmt.Errorf("timezone %q: %w", name, err)
	}
	return loc, nil
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
