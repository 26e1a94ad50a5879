package engine

import (
	"sync"
	"time"
)

// LedgerRetention is how long a fired occurrence blocks a re-fire.
const LedgerRetention = 72 * time.Hour

// Ledger maps occurrence keys to the epoch second they first fired.
// Memory only; a fresh one is installed on every Start.
type Ledger struct {
	mu      sync.Mutex
	records map[string]int64
}

func NewLedger() *Ledger {
	return &Ledger{records: map[string]int64{}}
}

// Insert records key at firedAt and reports whether it was absent.
func (l *Ledger) Insert(key string, firedAt int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[key]; ok {
		return false
	}
	l.records[key] = firedAt
	return true
}

func (l *Ledger) Contains(key string) bool {
	l.mu.Lock()
	_, ok := l.records[key]
	l.mu.Unlock()
	return ok
}

// Prune drops records older than LedgerRetention relative to now and
// returns how many were removed.
func (l *Ledger) Prune(now int64) int {
	limit := int64(LedgerRetention / time.Second)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, at := range l.records {
		if now-at > limit {
			delete(l.records, k)
			n++
		}
	}
	return n
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	n := len(l.records)
	l.mu.Unlock()
	return n
}
