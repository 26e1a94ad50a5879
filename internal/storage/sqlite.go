package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "cmdtimer/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS firings (
	id        TEXT PRIMARY KEY,
	entry_id  TEXT NOT NULL,
	key       TEXT,
	scheduled INTEGER,
	fired_at  INTEGER NOT NULL,
	manual    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS firings_fired_at ON firings(fired_at);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if filepath.Ext(path) == "" {
		path += ".db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendFiring(ctx context.Context, r FiringRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	r = normalize(r, time.Now)
	var scheduled any
	if !r.Scheduled.IsZero() {
		scheduled = r.Scheduled.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO firings(id, entry_id, key, scheduled, fired_at, manual) VALUES(?,?,?,?,?,?)`,
		r.ID, r.EntryID, nullStr(r.Key), scheduled, r.FiredAt.UnixMilli(), boolInt(r.Manual),
	)
	return err
}

func (s *sqliteStore) RecentFirings(ctx context.Context, limit int) ([]FiringRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entry_id, key, scheduled, fired_at, manual FROM firings ORDER BY fired_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FiringRecord
	for rows.Next() {
		var (
			r         FiringRecord
			key       sql.NullString
			scheduled sql.NullInt64
			firedAt   int64
			manual    int
		)
		if err := rows.Scan(&r.ID, &r.EntryID, &key, &scheduled, &firedAt, &manual); err != nil {
			return nil, err
		}
		r.Key = key.String
		if scheduled.Valid {
			r.Scheduled = time.UnixMilli(scheduled.Int64).UTC()
		}
		r.FiredAt = time.UnixMilli(firedAt).UTC()
		r.Manual = manual != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
