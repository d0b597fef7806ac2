// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package history is a supplemental, append-only SQLite-backed record of
// reconciler runs (a digest of the request and one of the running-config
// after the run, outcome, duration),
// kept alongside — not instead of — the JSON running-config in
// internal/runningconfig. Grounded on the teacher's
// internal/services/dns/querylog.Store (same database/sql +
// modernc.org/sqlite open/initSchema/RecordEntry shape).
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded reconciler run.
type Entry struct {
	Timestamp   time.Time
	BeforeHash  string
	AfterHash   string
	Success     bool
	ErrorCode   string
	DurationMs  int64
	NetworksLen int
	BondingsLen int
}

// Store handles persistence of reconciler-run history to SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reconciler_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		before_hash TEXT NOT NULL,
		after_hash TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		error_code TEXT,
		duration_ms INTEGER,
		networks_len INTEGER,
		bondings_len INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON reconciler_runs(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordRun persists a single reconciler-run entry.
func (s *Store) RecordRun(e Entry) error {
	query := `
		INSERT INTO reconciler_runs
			(timestamp, before_hash, after_hash, success, error_code, duration_ms, networks_len, bondings_len)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		e.Timestamp.Unix(),
		e.BeforeHash,
		e.AfterHash,
		e.Success,
		e.ErrorCode,
		e.DurationMs,
		e.NetworksLen,
		e.BondingsLen,
	)
	return err
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, before_hash, after_hash, success, error_code, duration_ms, networks_len, bondings_len
		FROM reconciler_runs ORDER BY timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var errCode sql.NullString
		if err := rows.Scan(&ts, &e.BeforeHash, &e.AfterHash, &e.Success, &errCode, &e.DurationMs, &e.NetworksLen, &e.BondingsLen); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0)
		e.ErrorCode = errCode.String
		out = append(out, e)
	}
	return out, rows.Err()
}
