package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmdtimer/internal/engine"
	"cmdtimer/internal/eventbus"
)

func writeAppConfig(t *testing.T, dir, webhookURL, extra string) string {
	t.Helper()
	body := fmt.Sprintf(`
timezone: UTC
logging: { level: error }
webhook: { enabled: true, url: %q }
executor: { dir: %q }
storage: { driver: file, path: %q }
entries:
  touch:
    actions: ["echo fired >> out.txt"]
    schedule: ["DAILY;00:00:00"]
    message: ["touched"]
%s`, webhookURL, dir, filepath.Join(dir, "audit"), extra)
	path := filepath.Join(dir, "cmdtimer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestTriggerRunsActionNotifiesAndAudits(t *testing.T) {
	var hooks atomic.Int32
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hooks.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer sink.Close()

	dir := t.TempDir()
	path := writeAppConfig(t, dir, sink.URL, "")
	a, err := New(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		require.NoError(t, a.Stop(stopCtx, StopAppStop))
	}()

	assert.Equal(t, []string{"touch"}, a.EntryIDs())
	assert.False(t, a.TriggerNow("missing"))
	require.True(t, a.TriggerNow("touch"))

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(filepath.Join(dir, "out.txt"))
		return err == nil && string(b) == "fired\n"
	}, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return hooks.Load() == 1 }, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		recs, err := a.RecentFirings(context.Background(), 10)
		return err == nil && len(recs) == 1 && recs[0].Manual && recs[0].EntryID == "touch"
	}, 3*time.Second, 20*time.Millisecond)

	st := a.Status().(Status)
	assert.True(t, st.Engine.Running)
	assert.Equal(t, uint64(1), st.Engine.Triggered)
	assert.Contains(t, st.Supervisors, "app")
	assert.NotNil(t, st.Problems)
}

func TestReloadRestartsEngineWithNewEntries(t *testing.T) {
	dir := t.TempDir()
	path := writeAppConfig(t, dir, "", "")
	a, err := New(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	writeAppConfig(t, dir, "", `  second:
    actions: ["true"]
    schedule: ["MONDAY;08:00:00", "bogus"]
`)
	require.NoError(t, a.Reload(context.Background()))
	require.Eventually(t, func() bool {
		return len(a.EntryIDs()) == 2
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"touch", "second"}, a.EntryIDs())
}

func TestReloadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeAppConfig(t, dir, "", "")
	a, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.store.Close() })

	require.NoError(t, os.WriteFile(path, []byte("storage: { driver: redis }\n"), 0o600))
	err = a.Reload(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.driver")
}

func TestFiringRecordFromEvent(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC)
	rec, ok := firingRecord(eventbus.Event{
		Type: engine.EventOccurrenceFired,
		Time: at,
		Data: engine.FiringEvent{EntryID: "a", Key: "a:0:2024-05-14", Scheduled: at},
	})
	require.True(t, ok)
	assert.Equal(t, "a", rec.EntryID)
	assert.Equal(t, at, rec.FiredAt)
	assert.NotEmpty(t, rec.ID)

	_, ok = firingRecord(eventbus.Event{Type: "other", Data: 42})
	assert.False(t, ok)
}
