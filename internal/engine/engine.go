package engine

import (
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"cmdtimer/internal/eventbus"
	"cmdtimer/internal/schedule"
	logx "cmdtimer/pkg/logx"
)

// Executor runs the actions of a fired entry. Dispatch must hand the work off
// and return quickly; it is called from the tick goroutine.
type Executor interface {
	Dispatch(actions []string)
}

// Notifier announces a fired entry.
type Notifier interface {
	Send(entry schedule.Entry)
}

const (
	EventOccurrenceFired = "occurrence.fired"
	EventEntryTriggered  = "entry.triggered"
)

// FiringEvent is published on the bus for every dispatch.
type FiringEvent struct {
	EntryID   string    `json:"entry_id"`
	Key       string    `json:"key,omitempty"`
	Scheduled time.Time `json:"scheduled,omitempty"`
	FiredAt   time.Time `json:"fired_at"`
	Manual    bool      `json:"manual"`
}

type Option func(*Engine)

func WithLogger(log logx.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

func WithBus(bus eventbus.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithInterval sets the tick period. cron rounds it to whole seconds with a
// one second minimum.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// Engine turns schedule rules into at-most-once dispatches. It owns the
// ledger and the watermark of the current run.
type Engine struct {
	exec     Executor
	notify   Notifier
	log      logx.Logger
	clock    Clock
	bus      eventbus.Bus
	interval time.Duration

	mu  sync.Mutex
	cur *run

	ticks    atomic.Uint64
	failures atomic.Uint64
	fired    atomic.Uint64
	manual   atomic.Uint64
}

// run is the state of one Start..Stop cycle. Start swaps the whole value.
type run struct {
	loc     *time.Location
	entries []schedule.Entry
	byID    map[string]int
	ledger  *Ledger
	cron    *cron.Cron
	started time.Time

	stopped     atomic.Bool
	lastChecked atomic.Int64 // unix nanos, 0 = unset
}

func New(exec Executor, notify Notifier, opts ...Option) *Engine {
	e := &Engine{
		exec:     exec,
		notify:   notify,
		clock:    realClock{},
		interval: time.Second,
	}
	for _, o := range opts {
		o(e)
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	return e
}

// Start stops any prior run, then begins ticking over entries in loc with a
// fresh ledger and the watermark one second in the past.
func (e *Engine) Start(loc *time.Location, entries []schedule.Entry) {
	if loc == nil {
		loc = time.UTC
	}
	r := e.newRun(loc, entries)

	cl := cronLogger{log: e.log}
	r.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	r.cron.Schedule(cron.Every(e.interval), cron.FuncJob(func() { e.tick(r) }))

	e.mu.Lock()
	prev := e.cur
	e.cur = r
	e.mu.Unlock()

	if prev != nil {
		prev.halt()
	}
	r.cron.Start()
	e.log.Info("engine started", logx.String("tz", loc.String()), logx.Int("entries", len(entries)))
}

func (e *Engine) newRun(loc *time.Location, entries []schedule.Entry) *run {
	now := e.clock.Now()
	r := &run{
		loc:     loc,
		entries: append([]schedule.Entry(nil), entries...),
		byID:    make(map[string]int, len(entries)),
		ledger:  NewLedger(),
		started: now,
	}
	for i, ent := range r.entries {
		r.byID[ent.ID] = i
	}
	r.lastChecked.Store(now.Add(-time.Second).UnixNano())
	return r
}

// Stop cancels future ticks. It does not wait for in-flight executor or
// notifier work. Safe to call when already stopped.
func (e *Engine) Stop() {
	e.mu.Lock()
	r := e.cur
	e.cur = nil
	e.mu.Unlock()
	if r == nil {
		return
	}
	r.halt()
	e.log.Info("engine stopped")
}

func (r *run) halt() {
	r.stopped.Store(true)
	if r.cron != nil {
		// Running jobs are not awaited.
		r.cron.Stop()
	}
}

// Running reports whether a run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur != nil
}

// TriggerNow dispatches the entry immediately, outside the tick cycle and
// without touching the ledger. It reports whether the id is loaded.
func (e *Engine) TriggerNow(id string) bool {
	e.mu.Lock()
	r := e.cur
	e.mu.Unlock()
	if r == nil {
		return false
	}
	idx, ok := r.byID[id]
	if !ok {
		return false
	}
	ent := r.entries[idx]
	e.manual.Add(1)
	e.log.Info("entry triggered", logx.String("entry", ent.ID))
	e.dispatch(ent)
	e.publish(EventEntryTriggered, FiringEvent{EntryID: ent.ID, FiredAt: e.clock.Now(), Manual: true})
	return true
}

// EntryIDs lists the loaded entry ids in load order.
func (e *Engine) EntryIDs() []string {
	e.mu.Lock()
	r := e.cur
	e.mu.Unlock()
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.entries))
	for _, ent := range r.entries {
		out = append(out, ent.ID)
	}
	return out
}

type candidate struct {
	occ   schedule.Occurrence
	entry int
}

// tick evaluates the window (lastChecked, now]. A panic is logged and the
// watermark still advances, so the failed window is not retried.
func (e *Engine) tick(r *run) {
	if r.stopped.Load() {
		return
	}
	now := e.clock.Now()
	e.ticks.Add(1)

	defer func() {
		if rec := recover(); rec != nil {
			e.failures.Add(1)
			e.log.Error("tick failed",
				logx.Any("panic", rec),
				logx.Stack(string(debug.Stack())),
				logx.Time("now", now),
			)
		}
		r.lastChecked.Store(now.UnixNano())
	}()

	previous := r.watermark()
	if previous.IsZero() || previous.After(now) {
		previous = now.Add(-time.Second)
	}

	for i, ent := range r.entries {
		var cands []candidate
		for ri, rule := range ent.Rules {
			for _, o := range schedule.Resolve(rule, r.loc, previous, now, ent.ID, ri) {
				cands = append(cands, candidate{occ: o, entry: i})
			}
		}
		sort.Slice(cands, func(a, b int) bool {
			ua, ub := cands[a].occ.Unix(), cands[b].occ.Unix()
			if ua != ub {
				return ua < ub
			}
			return cands[a].occ.Key < cands[b].occ.Key
		})
		for _, c := range cands {
			if r.stopped.Load() {
				return
			}
			if !r.ledger.Insert(c.occ.Key, c.occ.Unix()) {
				continue
			}
			e.fired.Add(1)
			e.log.Info("occurrence due",
				logx.String("entry", ent.ID),
				logx.String("key", c.occ.Key),
				logx.Time("at", c.occ.At),
			)
			e.dispatch(r.entries[c.entry])
			e.publish(EventOccurrenceFired, FiringEvent{
				EntryID:   ent.ID,
				Key:       c.occ.Key,
				Scheduled: c.occ.At,
				FiredAt:   now,
			})
		}
	}

	if n := r.ledger.Prune(now.Unix()); n > 0 {
		e.log.Debug("ledger pruned", logx.Int("removed", n), logx.Int("size", r.ledger.Len()))
	}
}

func (e *Engine) dispatch(ent schedule.Entry) {
	if e.exec != nil {
		e.exec.Dispatch(ent.Actions)
	}
	if e.notify != nil {
		e.notify.Send(ent)
	}
}

func (e *Engine) publish(typ string, ev FiringEvent) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: ev.FiredAt, Data: ev})
}

func (r *run) watermark() time.Time {
	ns := r.lastChecked.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
