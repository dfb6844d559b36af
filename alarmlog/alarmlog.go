// Package alarmlog keeps a record of tamper alarms in SQLite.
package alarmlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gcslaoli/watermark-guard-go/defense"
)

const schema = `
CREATE TABLE IF NOT EXISTS alarms (
	id           TEXT PRIMARY KEY,
	at           INTEGER NOT NULL,
	reason       TEXT NOT NULL,
	wrapper_id   TEXT NOT NULL,
	watermark_id TEXT NOT NULL,
	target       TEXT NOT NULL,
	attributes   TEXT NOT NULL DEFAULT '',
	records      INTEGER NOT NULL,
	restored     INTEGER NOT NULL,
	source       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS alarms_at ON alarms(at);
`

// Event is one stored alarm.
type Event struct {
	ID     string
	Source string // what was guarded, e.g. a file path or URL
	defense.Alarm
}

// Store is an alarm log backed by one SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the log at path. ":memory:" gives a private
// in-memory log.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("alarmlog: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("alarmlog: open: %w", err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("alarmlog: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("alarmlog: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores one alarm and returns its event id.
func (s *Store) Record(ctx context.Context, source string, a defense.Alarm) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("alarmlog: id: %w", err)
	}
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alarms (id, at, reason, wrapper_id, watermark_id, target, attributes, records, restored, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), at.UnixNano(), string(a.Reason), a.WrapperID, a.WatermarkID, a.Target,
		strings.Join(a.Attributes, ","), a.Records, a.Restored, source,
	)
	if err != nil {
		return "", fmt.Errorf("alarmlog: insert: %w", err)
	}
	return id.String(), nil
}

// List returns the most recent events first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Event, error) {
	q := `SELECT id, at, reason, wrapper_id, watermark_id, target, attributes, records, restored, source
	      FROM alarms ORDER BY at DESC, id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("alarmlog: query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e      Event
			at     int64
			reason string
			attrs  string
		)
		if err := rows.Scan(&e.ID, &at, &reason, &e.WrapperID, &e.WatermarkID, &e.Target,
			&attrs, &e.Records, &e.Restored, &e.Source); err != nil {
			return nil, fmt.Errorf("alarmlog: scan: %w", err)
		}
		e.At = time.Unix(0, at)
		e.Reason = defense.Reason(reason)
		if attrs != "" {
			e.Attributes = strings.Split(attrs, ",")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alarms`).Scan(&n); err != nil {
		return 0, fmt.Errorf("alarmlog: count: %w", err)
	}
	return n, nil
}

// Recorder returns an alarm callback that stores every alarm under source.
// Storage errors are logged, never returned to the session.
func Recorder(s *Store, source string, logger *log.Logger) defense.AlarmFunc {
	if logger == nil {
		logger = log.Default()
	}
	return func(a defense.Alarm) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.Record(ctx, source, a); err != nil {
			logger.Error("alarmlog: record failed", "err", err)
		}
	}
}

// Chain calls every non-nil callback in order.
func Chain(fns ...defense.AlarmFunc) defense.AlarmFunc {
	return func(a defense.Alarm) {
		for _, fn := range fns {
			if fn != nil {
				fn(a)
			}
		}
	}
}
