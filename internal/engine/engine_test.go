package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmdtimer/internal/eventbus"
	"cmdtimer/internal/schedule"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type recorder struct {
	mu      sync.Mutex
	actions [][]string
	sent    []string
	panicOn string
}

func (r *recorder) Dispatch(actions []string) {
	if len(actions) > 0 && actions[0] == r.panicOn {
		panic("boom")
	}
	r.mu.Lock()
	r.actions = append(r.actions, actions)
	r.mu.Unlock()
}

func (r *recorder) Send(e schedule.Entry) {
	r.mu.Lock()
	r.sent = append(r.sent, e.ID)
	r.mu.Unlock()
}

func (r *recorder) dispatched() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

func (r *recorder) notified() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func mustEntry(t *testing.T, id string, rules ...string) schedule.Entry {
	t.Helper()
	e, errs, ok := schedule.BuildEntry(schedule.RawEntry{
		ID:       id,
		Actions:  []string{"echo " + id},
		Schedule: rules,
		Message:  []string{"fired " + id},
	})
	require.Empty(t, errs)
	require.True(t, ok)
	return e
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("timezone %s not available: %v", name, err)
	}
	return loc
}

// install sets up a run without the cron driver so tests can tick by hand.
func install(e *Engine, loc *time.Location, entries ...schedule.Entry) *run {
	r := e.newRun(loc, entries)
	e.mu.Lock()
	e.cur = r
	e.mu.Unlock()
	return r
}

func tickUntil(e *Engine, r *run, clk *fakeClock, step time.Duration, until time.Time) {
	for clk.Now().Before(until) {
		clk.Advance(step)
		e.tick(r)
	}
}

func TestTickFiresDailyRuleOnce(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	clk := &fakeClock{now: time.Date(2024, 5, 14, 8, 59, 58, 0, time.UTC)}
	e := New(rec, rec, WithClock(clk))
	r := install(e, time.UTC, mustEntry(t, "greet", "DAILY;09:00:00"))

	tickUntil(e, r, clk, time.Second, time.Date(2024, 5, 14, 9, 0, 5, 0, time.UTC))

	assert.Equal(t, 1, rec.dispatched())
	assert.Equal(t, []string{"greet"}, rec.notified())
	assert.True(t, r.ledger.Contains("greet:0:2024-05-14"))
}

func TestTickSubSecondJitter(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	clk := &fakeClock{now: time.Date(2024, 5, 14, 8, 59, 57, 300_000_000, time.UTC)}
	e := New(rec, rec, WithClock(clk))
	r := install(e, time.UTC, mustEntry(t, "greet", "DAILY;09:00:00"))

	steps := []time.Duration{900 * time.Millisecond, 1100 * time.Millisecond, 700 * time.Millisecond, 1300 * time.Millisecond, time.Second}
	for _, d := range steps {
		clk.Advance(d)
		e.tick(r)
	}
	assert.Equal(t, 1, rec.dispatched())
}

func TestTickReplayIsIdempotent(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	clk := &fakeClock{now: time.Date(2024, 5, 14, 9, 0, 1, 0, time.UTC)}
	e := New(rec, rec, WithClock(clk))
	r := install(e, time.UTC, mustEntry(t, "greet", "DAILY;09:00:00"))

	r.lastChecked.Store(time.Date(2024, 5, 14, 8, 59, 59, 0, time.UTC).UnixNano())
	e.tick(r)
	require.Equal(t, 1, rec.dispatched())

	// Same window again.
	r.lastChecked.Store(time.Date(2024, 5, 14, 8, 59, 59, 0, time.UTC).UnixNano())
	e.tick(r)
	assert.Equal(t, 1, rec.dispatched())
	assert.Equal(t, 1, r.ledger.Len())

	// The record holds the occurrence's epoch second, not the tick's.
	r.ledger.mu.Lock()
	recorded := r.ledger.records["greet:0:2024-05-14"]
	r.ledger.mu.Unlock()
	assert.Equal(t, time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC).Unix(), recorded)
}

func TestTickSpringForwardFiresOnceAtTransition(t *testing.T) {
	t.Parallel()
	loc := mustLoad(t, "America/New_York")
	rec := &recorder{}
	clk := &fakeClock{now: time.Date(2024, 3, 10, 6, 59, 50, 0, time.UTC)}
	e := New(rec, rec, WithClock(clk))
	r := install(e, loc, mustEntry(t, "gap", "DAILY;02:30:00"))

	clk.Set(time.Date(2024, 3, 10, 6, 59, 59, 0, time.UTC))
	e.tick(r)
	assert.Equal(t, 0, rec.dispatched())

	clk.Set(time.Date(2024, 3, 10, 7, 0, 0, 0, time.UTC))
	e.tick(r)
	assert.Equal(t, 1, rec.dispatched())

	tickUntil(e, r, clk, 10*time.Second, time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, rec.dispatched())
}

func TestTickFallBackOverlapFiresOnce(t *testing.T) {
	t.Parallel()
	loc := mustLoad(t, "America/New_York")
	rec := &recorder{}
	clk := &fakeClock{now: time.Date(2024, 11, 3, 5, 29, 0, 0, time.UTC)}
	e := New(rec, rec, WithClock(clk))
	r := install(e, loc, mustEntry(t, "overlap", "DAILY;01:30:00"))

	tickUntil(e, r, clk, 10*time.Second, time.Date(2024, 11, 3, 6, 31, 0, 0, time.UTC))

	assert.Equal(t, 1, rec.dispatched())
	assert.Equal(t, 1, r.ledger.Len())
}

func TestTickOneWindowCoveringBothOverlapInstants(t *testing.T) {
	t.Parallel()
	loc := mustLoad(t, "America/New_York")
	rec := &recorder{}
	clk := &fakeClock{now: time.Date(2024, 11, 3, 6, 31, 0, 0, time.UTC)}
	e := New(rec, rec, WithClock(clk))
	r := install(e, loc, mustEntry(t, "overlap", "DAILY;01:30:00"))

	r.lastChecked.Store(time.Date(2024, 11, 3, 5, 0, 0, 0, time.UTC).UnixNano())
	e.tick(r)
	assert.Equal(t, 1, rec.dispatched())
}

func TestTickClampsFutureWatermark(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	now := time.Date(2024, 5, 14, 9, 0, 0, 500_000_000, time.UTC)
	clk := &fakeClock{now: now}
	e := New(rec, rec, WithClock(clk))
	r := install(e, time.UTC, mustEntry(t, "greet", "DAILY;09:00:00"))

	// Wall clock moved backward: the stored watermark is an hour ahead.
	r.lastChecked.Store(now.Add(time.Hour).UnixNano())
	e.tick(r)

	assert.Equal(t, 1, rec.dispatched())
	assert.True(t, r.watermark().Equal(now))
}

func TestTickPanicAdvancesWatermark(t *testing.T) {
	t.Parallel()
	rec := &recorder{panicOn: "echo bad"}
	clk := &fakeClock{now: time.Date(2024, 5, 14, 9, 0, 1, 0, time.UTC)}
	e := New(rec, rec, WithClock(clk))
	r := install(e, time.UTC,
		mustEntry(t, "bad", "DAILY;09:00:00"),
		mustEntry(t, "good", "DAILY;09:00:10"),
	)
	r.lastChecked.Store(time.Date(2024, 5, 14, 8, 59, 59, 0, time.UTC).UnixNano())

	require.NotPanics(t, func() { e.tick(r) })
	assert.Equal(t, uint64(1), e.failures.Load())
	assert.True(t, r.watermark().Equal(clk.Now()))

	// The failed occurrence was recorded before the panic and is not retried.
	clk.Set(time.Date(2024, 5, 14, 9, 0, 10, 0, time.UTC))
	tickUntil(e, r, clk, time.Second, time.Date(2024, 5, 14, 9, 0, 12, 0, time.UTC))
	assert.Equal(t, 1, rec.dispatched())
	assert.Equal(t, uint64(1), e.failures.Load())
}

func TestTickOrdersCandidatesWithinEntry(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	clk := &fakeClock{now: time.Date(2024, 5, 14, 9, 0, 30, 0, time.UTC)}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	e := New(rec, rec, WithClock(clk), WithBus(bus))
	r := install(e, time.UTC, mustEntry(t, "multi", "DAILY;09:00:20", "DAILY;09:00:10"))
	r.lastChecked.Store(time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC).UnixNano())
	e.tick(r)

	require.Equal(t, 2, rec.dispatched())
	first := (<-ch).Data.(FiringEvent)
	second := (<-ch).Data.(FiringEvent)
	assert.Equal(t, "multi:1:2024-05-14", first.Key)
	assert.Equal(t, "multi:0:2024-05-14", second.Key)
	assert.False(t, first.Manual)
}

func TestTriggerNow(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	clk := &fakeClock{now: time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC)}
	e := New(rec, rec, WithClock(clk))

	assert.False(t, e.TriggerNow("greet"), "not running")

	r := install(e, time.UTC, mustEntry(t, "greet", "DAILY;09:00:00"))
	assert.True(t, e.TriggerNow("greet"))
	assert.False(t, e.TriggerNow("missing"))
	assert.Equal(t, 1, rec.dispatched())
	assert.Equal(t, []string{"greet"}, rec.notified())
	assert.Equal(t, 0, r.ledger.Len())
	assert.Equal(t, []string{"greet"}, e.EntryIDs())
}

func TestStartStopDrivesTicks(t *testing.T) {
	rec := &recorder{}
	clk := &fakeClock{now: time.Date(2024, 5, 14, 8, 59, 59, 0, time.UTC)}
	e := New(rec, rec, WithClock(clk))

	e.Start(time.UTC, []schedule.Entry{mustEntry(t, "greet", "DAILY;09:00:00")})
	require.True(t, e.Running())
	clk.Set(time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC))

	require.Eventually(t, func() bool { return rec.dispatched() == 1 }, 5*time.Second, 50*time.Millisecond)

	e.Stop()
	e.Stop()
	assert.False(t, e.Running())
	assert.False(t, e.Snapshot().Running)

	// A restart clears the ledger and resets the watermark.
	clk.Set(time.Date(2024, 5, 14, 9, 0, 0, 500_000_000, time.UTC))
	e.Start(time.UTC, []schedule.Entry{mustEntry(t, "greet", "DAILY;09:00:00")})
	defer e.Stop()
	require.Eventually(t, func() bool { return rec.dispatched() == 2 }, 5*time.Second, 50*time.Millisecond)
}

// blockingExecutor parks every Dispatch until release is closed.
type blockingExecutor struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingExecutor) Dispatch([]string) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
}

func TestStopDoesNotWaitForBlockedDispatch(t *testing.T) {
	exec := &blockingExecutor{entered: make(chan struct{}), release: make(chan struct{})}
	defer close(exec.release)
	rec := &recorder{}
	clk := &fakeClock{now: time.Date(2024, 5, 14, 8, 59, 59, 0, time.UTC)}
	e := New(exec, rec, WithClock(clk))

	e.Start(time.UTC, []schedule.Entry{mustEntry(t, "greet", "DAILY;09:00:00")})
	clk.Set(time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC))
	select {
	case <-exec.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch never started")
	}

	stopped := make(chan struct{})
	go func() {
		e.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop waited for in-flight dispatch")
	}
	assert.False(t, e.Running())
}

func TestSnapshotPreview(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	clk := &fakeClock{now: time.Date(2024, 5, 16, 8, 0, 0, 0, time.UTC)}
	e := New(rec, rec, WithClock(clk))
	install(e, time.UTC, mustEntry(t, "weekly", "Friday;18:00:00", "DAILY;07:00:00"))

	s := e.Snapshot()
	require.True(t, s.Running)
	assert.Equal(t, "UTC", s.Timezone)
	require.Len(t, s.Entries, 1)
	assert.Equal(t, []string{"FRIDAY;18:00:00", "DAILY;07:00:00"}, s.Entries[0].Rules)
	assert.True(t, s.Entries[0].Next.Equal(time.Date(2024, 5, 17, 7, 0, 0, 0, time.UTC)))
}
