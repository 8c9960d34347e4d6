// Package countdb persists counting results to SQLite: individual
// crossing events, per-segment summaries, and session records. It is the
// durable side of the pipeline; the hot path only ever appends.
package countdb

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is how timestamps are stored. Text in UTC keeps SQLite's
// strftime and range comparisons well-defined.
const timeLayout = "2006-01-02 15:04:05"

// DB wraps the SQLite handle with the counter's queries.
type DB struct {
	*sql.DB
}

// New opens (or creates) the database at path and applies any pending
// schema migrations.
func New(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("countdb: open %s: %w", path, err)
	}
	// SQLite allows one writer; the pipeline is single-consumer but the
	// HTTP API reads concurrently.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// StartSession records the beginning of a counting session.
func (db *DB) StartSession(sessionID string, startedAt time.Time) error {
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, started_at) VALUES (?, ?)`,
		sessionID, startedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("countdb: start session: %w", err)
	}
	return nil
}

// FinishSession closes out a session with its final tallies.
func (db *DB) FinishSession(sessionID string, entries, exits uint64, segments int, endedAt time.Time) error {
	_, err := db.Exec(
		`UPDATE sessions SET ended_at = ?, entries = ?, exits = ?, segments_processed = ?
		 WHERE session_id = ?`,
		endedAt.UTC().Format(timeLayout), entries, exits, segments, sessionID,
	)
	if err != nil {
		return fmt.Errorf("countdb: finish session: %w", err)
	}
	return nil
}

// RecordCrossing stores one crossing event. Staff-vetoed crossings are
// stored too, flagged, so vetoes remain auditable.
func (db *DB) RecordCrossing(sessionID string, trackID int, direction string, x, y int, staff bool, occurredAt time.Time) error {
	_, err := db.Exec(
		`INSERT INTO crossings (session_id, track_id, direction, x, y, staff, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, trackID, direction, x, y, staff, occurredAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("countdb: record crossing: %w", err)
	}
	return nil
}

// RecordSegment stores one processed segment's summary.
func (db *DB) RecordSegment(sessionID, filename string, entries, exits uint64, frames int, processedAt time.Time) error {
	_, err := db.Exec(
		`INSERT INTO segments (session_id, filename, entries, exits, frames, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, filename, entries, exits, frames, processedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("countdb: record segment: %w", err)
	}
	return nil
}

// Totals holds aggregate crossing counts.
type Totals struct {
	Entries uint64
	Exits   uint64
	Staff   uint64
}

// SessionTotals aggregates the recorded crossings for one session. Staff
// crossings are reported separately and excluded from entries/exits.
func (db *DB) SessionTotals(sessionID string) (Totals, error) {
	var t Totals
	err := db.QueryRow(
		`SELECT
			COALESCE(SUM(CASE WHEN direction = 'entry' AND NOT staff THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'exit' AND NOT staff THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN staff THEN 1 ELSE 0 END), 0)
		 FROM crossings WHERE session_id = ?`,
		sessionID,
	).Scan(&t.Entries, &t.Exits, &t.Staff)
	if err != nil {
		return Totals{}, fmt.Errorf("countdb: session totals: %w", err)
	}
	return t, nil
}

// HourlyBucket is one hour of crossing counts.
type HourlyBucket struct {
	Hour    string // "2006-01-02 15:00"
	Entries uint64
	Exits   uint64
}

// HourlyCrossings returns non-staff crossings bucketed by hour since the
// given time, oldest first. Used by the report tool.
func (db *DB) HourlyCrossings(since time.Time) ([]HourlyBucket, error) {
	rows, err := db.Query(
		`SELECT strftime('%Y-%m-%d %H:00', occurred_at) AS hour,
			SUM(CASE WHEN direction = 'entry' THEN 1 ELSE 0 END),
			SUM(CASE WHEN direction = 'exit' THEN 1 ELSE 0 END)
		 FROM crossings
		 WHERE NOT staff AND occurred_at >= ?
		 GROUP BY hour ORDER BY hour`,
		since.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("countdb: hourly crossings: %w", err)
	}
	defer rows.Close()

	var buckets []HourlyBucket
	for rows.Next() {
		var b HourlyBucket
		if err := rows.Scan(&b.Hour, &b.Entries, &b.Exits); err != nil {
			return nil, fmt.Errorf("countdb: scan bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// SegmentCount returns how many segments a session has processed.
func (db *DB) SegmentCount(sessionID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM segments WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("countdb: segment count: %w", err)
	}
	return n, nil
}
