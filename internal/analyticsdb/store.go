// Package analyticsdb is the SQLite side of the analytics collaborator: it
// stores engagement reports and the anonymous scan log.
//
// Both tables are keyed by the id the producer generated, so redelivering a
// report or a scan is a no-op. Timestamps are stored as Unix milliseconds.
package analyticsdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sanonone/wayfinder/pkg/engagement"
)

const schema = `
CREATE TABLE IF NOT EXISTS engagement_reports (
	id            TEXT PRIMARY KEY,
	target_id     TEXT NOT NULL,
	event_id      TEXT NOT NULL,
	start_ms      INTEGER NOT NULL,
	dwell_minutes REAL NOT NULL,
	active        INTEGER NOT NULL,
	created_ms    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_event ON engagement_reports(event_id, created_ms);

CREATE TABLE IF NOT EXISTS scan_logs (
	scan_id   TEXT PRIMARY KEY,
	device_id TEXT NOT NULL,
	anchor_id TEXT NOT NULL,
	event_id  TEXT NOT NULL,
	booth_id  TEXT NOT NULL DEFAULT '',
	ts_ms     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scans_anchor ON scan_logs(anchor_id);
`

// Store implements engagement.Reporter and engagement.ScanSink.
type Store struct {
	db *sql.DB
}

var (
	_ engagement.Reporter = (*Store)(nil)
	_ engagement.ScanSink = (*Store)(nil)
)

// Open opens or creates the database at path with WAL journaling and a busy
// timeout. ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("analyticsdb: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("analyticsdb: open: %w", err)
	}
	// One connection keeps the per-connection pragmas in force and lets an
	// in-memory database survive between queries.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("analyticsdb: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("analyticsdb: schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("analyticsdb: ping: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Deliver stores a report. A report already stored under the same id is
// left untouched.
func (s *Store) Deliver(ctx context.Context, r engagement.Report) error {
	active := 0
	if r.ActiveEngagementStatus {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO engagement_reports (id, target_id, event_id, start_ms, dwell_minutes, active, created_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TargetID, r.EventID, r.StartTime.UnixMilli(), r.DwellMinutes, active, r.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("analyticsdb: insert report %s: %w", r.ID, err)
	}
	return nil
}

// WriteScan stores a scan event, once per scan id.
func (s *Store) WriteScan(ctx context.Context, ev engagement.ScanEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO scan_logs (scan_id, device_id, anchor_id, event_id, booth_id, ts_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ScanID, ev.DeviceID, ev.AnchorID, ev.EventID, ev.BoothID, ev.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("analyticsdb: insert scan %s: %w", ev.ScanID, err)
	}
	return nil
}

// Reports returns the reports of an event in creation order.
func (s *Store) Reports(ctx context.Context, eventID string) ([]engagement.Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target_id, event_id, start_ms, dwell_minutes, active, created_ms
		 FROM engagement_reports WHERE event_id = ? ORDER BY created_ms, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("analyticsdb: query reports: %w", err)
	}
	defer rows.Close()

	var out []engagement.Report
	for rows.Next() {
		var (
			r                  engagement.Report
			startMs, createdMs int64
			active             int
		)
		if err := rows.Scan(&r.ID, &r.TargetID, &r.EventID, &startMs, &r.DwellMinutes, &active, &createdMs); err != nil {
			return nil, fmt.Errorf("analyticsdb: scan report: %w", err)
		}
		r.StartTime = time.UnixMilli(startMs).UTC()
		r.CreatedAt = time.UnixMilli(createdMs).UTC()
		r.ActiveEngagementStatus = active != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// TargetStats aggregates the reports of one target.
type TargetStats struct {
	TargetID     string
	Visits       int
	Engaged      int
	TotalMinutes float64
}

// Stats summarizes an event by target, busiest first.
func (s *Store) Stats(ctx context.Context, eventID string) ([]TargetStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_id, COUNT(*), SUM(active), SUM(dwell_minutes)
		 FROM engagement_reports WHERE event_id = ?
		 GROUP BY target_id ORDER BY COUNT(*) DESC, target_id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("analyticsdb: query stats: %w", err)
	}
	defer rows.Close()

	var out []TargetStats
	for rows.Next() {
		var ts TargetStats
		if err := rows.Scan(&ts.TargetID, &ts.Visits, &ts.Engaged, &ts.TotalMinutes); err != nil {
			return nil, fmt.Errorf("analyticsdb: scan stats: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// ScanCount returns how many distinct scans an anchor received.
func (s *Store) ScanCount(ctx context.Context, anchorID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scan_logs WHERE anchor_id = ?`, anchorID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("analyticsdb: count scans: %w", err)
	}
	return n, nil
}
