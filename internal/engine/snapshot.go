package engine

import (
	"time"

	"cmdtimer/internal/schedule"
)

// previewHorizon bounds the next-firing search; weekly rules always hit
// within eight days.
const previewHorizon = 8 * 24 * time.Hour

type Snapshot struct {
	Running     bool        `json:"running"`
	Timezone    string      `json:"timezone,omitempty"`
	StartedAt   time.Time   `json:"started_at,omitempty"`
	LastChecked time.Time   `json:"last_checked,omitempty"`
	LedgerSize  int         `json:"ledger_size"`
	Ticks       uint64      `json:"ticks"`
	Failures    uint64      `json:"tick_failures"`
	Fired       uint64      `json:"fired"`
	Triggered   uint64      `json:"triggered"`
	Entries     []EntryInfo `json:"entries"`
}

type EntryInfo struct {
	ID      string    `json:"id"`
	Rules   []string  `json:"rules"`
	Actions int       `json:"actions"`
	Next    time.Time `json:"next,omitempty"`
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	r := e.cur
	e.mu.Unlock()

	s := Snapshot{
		Ticks:     e.ticks.Load(),
		Failures:  e.failures.Load(),
		Fired:     e.fired.Load(),
		Triggered: e.manual.Load(),
		Entries:   []EntryInfo{},
	}
	if r == nil {
		return s
	}

	now := e.clock.Now()
	s.Running = true
	s.Timezone = r.loc.String()
	s.StartedAt = r.started
	s.LastChecked = r.watermark()
	s.LedgerSize = r.ledger.Len()
	s.Entries = Preview(r.entries, r.loc, now)
	return s
}

// Preview describes entries with their next firing after now.
func Preview(entries []schedule.Entry, loc *time.Location, now time.Time) []EntryInfo {
	out := make([]EntryInfo, 0, len(entries))
	for _, ent := range entries {
		info := EntryInfo{ID: ent.ID, Actions: len(ent.Actions)}
		for _, r := range ent.Rules {
			info.Rules = append(info.Rules, r.String())
		}
		if next, ok := schedule.NextAfter(ent, loc, now, previewHorizon); ok {
			info.Next = next
		}
		out = append(out, info)
	}
	return out
}
