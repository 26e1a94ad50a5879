package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "cmdtimer/pkg/logx"
)

// Store is the persistence API used by the app.
type Store interface {
	AppendFiring(ctx context.Context, r FiringRecord) error
	// RecentFirings returns up to limit records, newest first.
	RecentFirings(ctx context.Context, limit int) ([]FiringRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// normalize fills the id and timestamp of a record before it is written.
func normalize(r FiringRecord, now func() time.Time) FiringRecord {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.FiredAt.IsZero() {
		r.FiredAt = now()
	}
	return r
}
