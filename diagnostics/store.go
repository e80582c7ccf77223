// Package diagnostics persists an operational snapshot of a running
// link — node count, subscription count, redo log bytes on disk, and
// the last-acked LSN per subscription — for host-side observability.
// It is not part of the DSA wire protocol; nothing here is sent to a
// broker.
package diagnostics

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store persists periodic diagnostic snapshots to SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a diagnostics database at path
// using the cgo sqlite3 driver. Production callers should use this;
// tests construct a Store directly from an in-memory *sql.DB via
// NewStore so they can use the pure-Go driver instead.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: open %s: %w", path, err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an already-open *sql.DB, running migrations if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("diagnostics: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			id             TEXT PRIMARY KEY,
			taken_at       TEXT NOT NULL,
			node_count     INTEGER NOT NULL,
			subscriptions  INTEGER NOT NULL,
			redo_log_bytes INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at
			ON snapshots(taken_at DESC);

		CREATE TABLE IF NOT EXISTS subscription_acks (
			snapshot_id TEXT NOT NULL REFERENCES snapshots(id),
			path        TEXT NOT NULL,
			acked_lsn   INTEGER NOT NULL,
			PRIMARY KEY (snapshot_id, path)
		);
	`)
	return err
}

// SubscriptionAck is one subscription's last-acknowledged LSN at
// snapshot time.
type SubscriptionAck struct {
	Path     string
	AckedLSN int64
}

// Snapshot is one point-in-time operational reading.
type Snapshot struct {
	ID             uuid.UUID
	TakenAt        time.Time
	NodeCount      int
	Subscriptions  int
	RedoLogBytes   int64
	AckedBySubPath []SubscriptionAck
}

// HumanBytes renders RedoLogBytes in human-readable form (e.g. "4.2 MB"),
// for status output.
func (s Snapshot) HumanBytes() string {
	return humanize.Bytes(uint64(s.RedoLogBytes))
}

// Record persists one snapshot and its per-subscription ack cursors.
func (s *Store) Record(snap Snapshot) (*Snapshot, error) {
	if snap.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		snap.ID = id
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("diagnostics: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO snapshots (id, taken_at, node_count, subscriptions, redo_log_bytes)
		 VALUES (?, ?, ?, ?, ?)`,
		snap.ID.String(), snap.TakenAt.UTC().Format(time.RFC3339Nano),
		snap.NodeCount, snap.Subscriptions, snap.RedoLogBytes,
	)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: insert snapshot: %w", err)
	}

	for _, ack := range snap.AckedBySubPath {
		_, err = tx.Exec(
			`INSERT INTO subscription_acks (snapshot_id, path, acked_lsn) VALUES (?, ?, ?)`,
			snap.ID.String(), ack.Path, ack.AckedLSN,
		)
		if err != nil {
			return nil, fmt.Errorf("diagnostics: insert ack %s: %w", ack.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("diagnostics: commit: %w", err)
	}
	return &snap, nil
}

// Latest returns the most recent snapshot, or nil if none has been
// recorded yet.
func (s *Store) Latest() (*Snapshot, error) {
	var snap Snapshot
	var idStr, takenAt string
	err := s.db.QueryRow(
		`SELECT id, taken_at, node_count, subscriptions, redo_log_bytes
		 FROM snapshots ORDER BY taken_at DESC LIMIT 1`,
	).Scan(&idStr, &takenAt, &snap.NodeCount, &snap.Subscriptions, &snap.RedoLogBytes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("diagnostics: query latest: %w", err)
	}
	snap.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: parse id %s: %w", idStr, err)
	}
	snap.TakenAt, err = time.Parse(time.RFC3339Nano, takenAt)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: parse taken_at %s: %w", takenAt, err)
	}

	rows, err := s.db.Query(
		`SELECT path, acked_lsn FROM subscription_acks WHERE snapshot_id = ? ORDER BY path`,
		idStr,
	)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: query acks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ack SubscriptionAck
		if err := rows.Scan(&ack.Path, &ack.AckedLSN); err != nil {
			return nil, fmt.Errorf("diagnostics: scan ack: %w", err)
		}
		snap.AckedBySubPath = append(snap.AckedBySubPath, ack)
	}
	return &snap, rows.Err()
}

// Prune deletes snapshots older than olderThan, always keeping at
// least minKeep of the most recent ones.
func (s *Store) Prune(olderThan time.Duration, minKeep int) (int, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339Nano)
	res, err := s.db.Exec(
		`DELETE FROM snapshots WHERE taken_at < ? AND id NOT IN (
			SELECT id FROM snapshots ORDER BY taken_at DESC LIMIT ?
		 )`,
		cutoff, minKeep,
	)
	if err != nil {
		return 0, fmt.Errorf("diagnostics: prune: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
