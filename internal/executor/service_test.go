package executor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmdtimer/internal/eventbus"
	logx "cmdtimer/pkg/logx"
)

type recordRunner struct {
	mu   sync.Mutex
	seen []string
	gate chan struct{}
}

func (r *recordRunner) Run(ctx context.Context, action string) error {
	r.mu.Lock()
	r.seen = append(r.seen, action)
	r.mu.Unlock()
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *recordRunner) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func startExecutor(t *testing.T, cfg Config, r Runner, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, r, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestSerialKeepsDispatchOrder(t *testing.T) {
	t.Parallel()
	r := &recordRunner{}
	s := startExecutor(t, Config{}, r, nil)
	assert.Equal(t, ModeSerial, s.Mode())

	s.Dispatch([]string{"a1", "  ", "a2"})
	s.Dispatch([]string{"b1", "b2"})

	require.Eventually(t, func() bool { return len(r.actions()) == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a1", "a2", "b1", "b2"}, r.actions())
	assert.Equal(t, 1, s.Snapshot().Workers)
}

func TestPoolRunsBatchesConcurrently(t *testing.T) {
	t.Parallel()
	r := &recordRunner{gate: make(chan struct{})}
	s := startExecutor(t, Config{Concurrent: true, Workers: 2}, r, nil)
	assert.Equal(t, ModePool, s.Mode())

	s.Dispatch([]string{"x"})
	s.Dispatch([]string{"y"})

	// Both batches start while the first is still blocked.
	require.Eventually(t, func() bool { return len(r.actions()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"x", "y"}, r.actions())
	close(r.gate)
}

func TestEnqueueErrors(t *testing.T) {
	t.Parallel()
	r := &recordRunner{gate: make(chan struct{})}
	s := New(Config{QueueSize: 1}, r, logx.Nop(), nil)
	assert.ErrorIs(t, s.Enqueue([]string{"a"}), ErrStopped)
	assert.NoError(t, s.Enqueue([]string{" ", ""}), "blank batches are ignored")

	s.Start(context.Background())
	defer func() {
		close(r.gate)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	require.NoError(t, s.Enqueue([]string{"a"}))
	require.Eventually(t, func() bool { return len(r.actions()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Enqueue([]string{"b"}))
	assert.ErrorIs(t, s.Enqueue([]string{"c"}), ErrQueueFull)
	assert.Equal(t, uint64(1), s.Snapshot().Dropped)
}

func TestFailedActionPublishesEvent(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4, EventActionFailed)
	defer unsub()

	fail := RunnerFunc(func(ctx context.Context, action string) error { return assert.AnError })
	s := startExecutor(t, Config{}, fail, bus)
	s.Dispatch([]string{"broken"})

	select {
	case ev := <-ch:
		assert.Equal(t, "broken", ev.Data.(ActionEvent).Action)
	case <-time.After(2 * time.Second):
		t.Fatal("no failure event")
	}
	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 1 }, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, s.Snapshot().History[0].Error)
}

func TestShellRunner(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r := ShellRunner{Dir: dir}

	require.NoError(t, r.Run(context.Background(), `echo "restart in $((2+3)) minutes" > out.txt`))
	b, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "restart in 5 minutes\n", string(b))

	err = r.Run(context.Background(), "exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")

	err = r.Run(context.Background(), "echo 'unterminated")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse action")
}
