package schedule

import (
	"sort"
	"strconv"
	"time"
)

// Occurrence is one due firing of a rule. Key identifies the rule on one
// local calendar day, so the two instants of a DST overlap share it.
type Occurrence struct {
	Key string
	At  time.Time
}

// Unix returns the firing instant in epoch seconds.
func (o Occurrence) Unix() int64 { return o.At.Unix() }

// OccurrenceKey builds the dedup key "entryID:ruleIndex:YYYY-MM-DD".
func OccurrenceKey(entryID string, ruleIndex int, date time.Time) string {
	return entryID + ":" + strconv.Itoa(ruleIndex) + ":" + date.Format(time.DateOnly)
}

// Resolve returns the occurrences of r inside (start, end] evaluated in loc.
func Resolve(r Rule, loc *time.Location, start, end time.Time, entryID string, ruleIndex int) []Occurrence {
	if loc == nil {
		loc = time.UTC
	}
	if !end.After(start) {
		return nil
	}

	// A wall-clock time on one local date can land on the neighbouring UTC
	// date, so pad the date range by a day on both sides.
	from := civilDate(start.In(loc)).AddDate(0, 0, -1)
	to := civilDate(end.In(loc)).AddDate(0, 0, 1)

	var out []Occurrence
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if !r.Matches(d.Weekday()) {
			continue
		}
		key := OccurrenceKey(entryID, ruleIndex, d)
		for _, at := range localInstants(d.Year(), d.Month(), d.Day(), r.Hour, r.Minute, r.Second, loc) {
			if at.After(start) && !at.After(end) {
				out = append(out, Occurrence{Key: key, At: at})
			}
		}
	}
	return out
}

// NextAfter returns the first instant strictly after from at which any of the
// entry's rules fires, looking at most horizon ahead.
func NextAfter(e Entry, loc *time.Location, from time.Time, horizon time.Duration) (time.Time, bool) {
	var (
		best  time.Time
		found bool
	)
	end := from.Add(horizon)
	for i, r := range e.Rules {
		for _, o := range Resolve(r, loc, from, end, e.ID, i) {
			if !found || o.At.Before(best) {
				best, found = o.At, true
			}
		}
	}
	return best, found
}

// civilDate drops the clock and location, keeping the calendar date. Dates are
// carried in UTC so that AddDate never crosses a DST transition.
func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// localInstants maps a wall-clock time in loc to the instants it denotes:
// one normally, two inside an overlap (earlier first), and the end of the
// transition when the time falls inside a gap.
func localInstants(year int, month time.Month, day, hour, min, sec int, loc *time.Location) []time.Time {
	naive := time.Date(year, month, day, hour, min, sec, 0, time.UTC).Unix()

	// Transitions are far more than a day apart, so the offsets a day either
	// side are the only candidates.
	before := offsetAt(loc, naive-86400)
	after := offsetAt(loc, naive+86400)

	candidates := []int{before}
	if after != before {
		candidates = append(candidates, after)
	}

	var out []time.Time
	for _, off := range candidates {
		u := naive - int64(off)
		if offsetAt(loc, u) == off {
			out = append(out, time.Unix(u, 0).In(loc))
		}
	}
	if len(out) > 0 {
		sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
		return out
	}

	if after > before {
		return []time.Time{transitionAt(loc, naive-int64(after), naive-int64(before), after)}
	}
	// Not a plain gap (back-to-back transitions); let the runtime normalize.
	return []time.Time{time.Date(year, month, day, hour, min, sec, 0, loc)}
}

// transitionAt finds the first second in (lo, hi] whose offset is target.
// offsetAt(lo) != target and offsetAt(hi) == target must hold.
func transitionAt(loc *time.Location, lo, hi int64, target int) time.Time {
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if offsetAt(loc, mid) == target {
			hi = mid
		} else {
			lo = mid
		}
	}
	return time.Unix(hi, 0).In(loc)
}

func offsetAt(loc *time.Location, unix int64) int {
	_, off := time.Unix(unix, 0).In(loc).Zone()
	return off
}
