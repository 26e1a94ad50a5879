package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmdtimer/internal/eventbus"
	"cmdtimer/internal/schedule"
	logx "cmdtimer/pkg/logx"
)

type sink struct {
	mu     sync.Mutex
	codes  []int // status per call; the last one repeats
	bodies [][]byte
	hits   atomic.Int32
	block  chan struct{}
}

func (s *sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := int(s.hits.Add(1))
	b, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.bodies = append(s.bodies, b)
	code := http.StatusNoContent
	if len(s.codes) > 0 {
		idx := n - 1
		if idx >= len(s.codes) {
			idx = len(s.codes) - 1
		}
		code = s.codes[idx]
	}
	s.mu.Unlock()
	if s.block != nil {
		<-s.block
	}
	w.WriteHeader(code)
}

func (s *sink) body(i int) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var m map[string]any
	_ = json.Unmarshal(s.bodies[i], &m)
	return m
}

func entry(id string, lines ...string) schedule.Entry {
	return schedule.Entry{ID: id, Actions: []string{"true"}, Message: lines, Color: "#ff8800"}
}

func startService(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestRetryUntilSuccess(t *testing.T) {
	t.Parallel()
	sk := &sink{codes: []int{500, 500, 204}}
	srv := httptest.NewServer(sk)
	defer srv.Close()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	delay := 30 * time.Millisecond
	s := startService(t, Config{Enabled: true, URL: srv.URL, RetryDelay: delay, RatePerSec: 100}, bus)

	start := time.Now()
	require.NoError(t, s.Notify(context.Background(), entry("restart", "Server restart", "in 5 minutes")))

	require.Eventually(t, func() bool {
		h := s.History()
		return len(h) == 1 && h[0].OK
	}, 3*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, time.Since(start), 2*delay)
	assert.Equal(t, int32(3), sk.hits.Load())
	assert.Equal(t, 3, s.History()[0].Attempts)

	var sent bool
	for !sent {
		select {
		case ev := <-events:
			sent = ev.Type == EventSent
		case <-time.After(time.Second):
			t.Fatal("no sent event")
		}
	}
}

func TestPayloadShape(t *testing.T) {
	t.Parallel()
	sk := &sink{}
	srv := httptest.NewServer(sk)
	defer srv.Close()

	s := startService(t, Config{Enabled: true, URL: srv.URL, RatePerSec: 100}, nil)
	require.NoError(t, s.Notify(context.Background(), entry("restart", "line one", "line \"two\"")))
	require.Eventually(t, func() bool { return sk.hits.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

	m := sk.body(0)
	embeds, ok := m["embeds"].([]any)
	require.True(t, ok)
	require.Len(t, embeds, 1)
	e := embeds[0].(map[string]any)
	assert.Equal(t, DefaultTitle, e["title"])
	assert.Equal(t, `line one\nline "two"`, e["description"])
	assert.Equal(t, float64(0xff8800), e["color"])

	ts, err := time.Parse(time.RFC3339Nano, e["timestamp"].(string))
	require.NoError(t, err)
	_, off := ts.Zone()
	assert.Equal(t, 0, off)
	assert.WithinDuration(t, time.Now(), ts, 5*time.Second)
}

func TestDeliversInSubmissionOrder(t *testing.T) {
	t.Parallel()
	sk := &sink{}
	srv := httptest.NewServer(sk)
	defer srv.Close()

	s := startService(t, Config{Enabled: true, URL: srv.URL, RatePerSec: 100}, nil)
	for _, msg := range []string{"first", "second", "third"} {
		require.NoError(t, s.Notify(context.Background(), entry(msg, msg)))
	}
	require.Eventually(t, func() bool { return len(s.History()) == 3 }, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(3), sk.hits.Load())

	var got []string
	for i := 0; i < 3; i++ {
		e := sk.body(i)["embeds"].([]any)[0].(map[string]any)
		got = append(got, e["description"].(string))
	}
	assert.Equal(t, []string{"first", "second", "third"}, got)

	h := s.History()
	require.Len(t, h, 3)
	assert.Equal(t, "first", h[0].EntryID)
	assert.Equal(t, "third", h[2].EntryID)
}

func TestPayloadOmitsInvalidColorAndUsesTitle(t *testing.T) {
	t.Parallel()
	sk := &sink{}
	srv := httptest.NewServer(sk)
	defer srv.Close()

	s := startService(t, Config{Enabled: true, URL: srv.URL, Title: "Timer", RatePerSec: 100}, nil)
	en := entry("x", "hello")
	en.Color = "#12345z"
	require.NoError(t, s.Notify(context.Background(), en))
	require.Eventually(t, func() bool { return sk.hits.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

	e := sk.body(0)["embeds"].([]any)[0].(map[string]any)
	_, has := e["color"]
	assert.False(t, has)
	assert.Equal(t, "Timer", e["title"])
}

func TestGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()
	sk := &sink{codes: []int{503}}
	srv := httptest.NewServer(sk)
	defer srv.Close()

	s := startService(t, Config{Enabled: true, URL: srv.URL, RetryDelay: 5 * time.Millisecond, RatePerSec: 100}, nil)
	require.NoError(t, s.Notify(context.Background(), entry("e", "msg")))

	require.Eventually(t, func() bool { return len(s.History()) == 1 }, 3*time.Second, 10*time.Millisecond)
	h := s.History()[0]
	assert.False(t, h.OK)
	assert.Equal(t, DefaultAttempts, h.Attempts)
	assert.Contains(t, h.Error, "503")
	assert.Equal(t, int32(DefaultAttempts), sk.hits.Load())
}

func TestNoOpCases(t *testing.T) {
	t.Parallel()
	sk := &sink{}
	srv := httptest.NewServer(sk)
	defer srv.Close()

	disabled := startService(t, Config{Enabled: false, URL: srv.URL}, nil)
	assert.ErrorIs(t, disabled.Notify(context.Background(), entry("e", "msg")), ErrDisabled)

	noURL := startService(t, Config{Enabled: true, URL: "  "}, nil)
	assert.ErrorIs(t, noURL.Notify(context.Background(), entry("e", "msg")), ErrDisabled)

	s := startService(t, Config{Enabled: true, URL: srv.URL}, nil)
	assert.NoError(t, s.Notify(context.Background(), entry("e")))
	assert.NoError(t, s.Notify(context.Background(), entry("e", "  ", "")))
	s.Send(entry("e"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), sk.hits.Load())
}

func TestNotifyBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, URL: "http://127.0.0.1:1"}, logx.Nop(), nil)
	assert.ErrorIs(t, s.Notify(context.Background(), entry("e", "msg")), ErrStopped)
}

func TestStopAbortsRetryWait(t *testing.T) {
	t.Parallel()
	sk := &sink{codes: []int{500}}
	srv := httptest.NewServer(sk)
	defer srv.Close()

	s := New(Config{Enabled: true, URL: srv.URL, RetryDelay: 10 * time.Second, RatePerSec: 100}, logx.Nop(), nil)
	s.Start(context.Background())
	require.NoError(t, s.Notify(context.Background(), entry("e", "msg")))
	require.Eventually(t, func() bool { return sk.hits.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	s.Stop(ctx)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, int32(1), sk.hits.Load())
	assert.Empty(t, s.History(), "aborted delivery is dropped silently")
	assert.ErrorIs(t, s.Notify(context.Background(), entry("e", "msg")), ErrStopped)
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	sk := &sink{block: make(chan struct{})}
	srv := httptest.NewServer(sk)
	defer srv.Close()
	defer close(sk.block)

	s := startService(t, Config{Enabled: true, URL: srv.URL, QueueSize: 1, RatePerSec: 100}, nil)
	require.NoError(t, s.Notify(context.Background(), entry("a", "msg")))
	require.Eventually(t, func() bool { return sk.hits.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Notify(context.Background(), entry("b", "msg")))
	assert.ErrorIs(t, s.Notify(context.Background(), entry("c", "msg")), ErrQueueFull)
}

func TestApplySwapsURL(t *testing.T) {
	t.Parallel()
	first, second := &sink{}, &sink{}
	srv1 := httptest.NewServer(first)
	defer srv1.Close()
	srv2 := httptest.NewServer(second)
	defer srv2.Close()

	s := startService(t, Config{Enabled: true, URL: srv1.URL, RatePerSec: 100}, nil)
	s.Apply(Config{Enabled: true, URL: srv2.URL, RatePerSec: 100})
	require.NoError(t, s.Notify(context.Background(), entry("e", "msg")))

	require.Eventually(t, func() bool { return second.hits.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), first.hits.Load())
}
