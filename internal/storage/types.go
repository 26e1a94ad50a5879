package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": append-only JSON Lines file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// FiringRecord is one dispatch of an entry, scheduled or manual.
type FiringRecord struct {
	ID        string    `json:"id"`
	EntryID   string    `json:"entry_id"`
	Key       string    `json:"key,omitempty"`
	Scheduled time.Time `json:"scheduled,omitempty"`
	FiredAt   time.Time `json:"fired_at"`
	Manual    bool      `json:"manual,omitempty"`
}
