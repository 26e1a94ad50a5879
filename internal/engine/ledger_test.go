package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLedgerInsertOnce(t *testing.T) {
	t.Parallel()
	l := NewLedger()
	assert.True(t, l.Insert("a:0:2024-05-14", 100))
	assert.False(t, l.Insert("a:0:2024-05-14", 200))
	assert.Equal(t, 1, l.Len())
}

func TestLedgerRetention(t *testing.T) {
	t.Parallel()
	l := NewLedger()
	at := time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC)
	l.Insert("k", at.Unix())

	l.Prune(at.Add(LedgerRetention - time.Second).Unix())
	assert.True(t, l.Contains("k"))
	assert.False(t, l.Insert("k", at.Add(LedgerRetention-time.Second).Unix()))

	l.Prune(at.Add(LedgerRetention).Unix())
	assert.True(t, l.Contains("k"))

	assert.Equal(t, 1, l.Prune(at.Add(LedgerRetention+time.Second).Unix()))
	assert.False(t, l.Contains("k"))
}
