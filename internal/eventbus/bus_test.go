package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeFilter(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	fired, unsubFired := b.Subscribe(4, "occurrence.fired")
	defer unsubFired()

	b.Publish(Event{Type: "notifier.sent"})
	b.Publish(Event{Type: "occurrence.fired", Data: "k"})

	require.Len(t, all, 2)
	require.Len(t, fired, 1)
	ev := <-fired
	assert.Equal(t, "k", ev.Data)
	assert.False(t, ev.Time.IsZero())
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	assert.Equal(t, uint64(1), b.Dropped())

	unsub()
	unsub()
	assert.NotPanics(t, func() { b.Publish(Event{Type: "c"}) })
}
