// Package history persists finished login attempts in a local SQLite
// database so outcomes survive daemon restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Attempt is one recorded login attempt.
type Attempt struct {
	ID         string
	Trigger    string
	Status     string
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// DefaultLimit caps how many attempts RecentAttempts returns when the caller
// asks for zero or a negative count.
const DefaultLimit = 50

// Store wraps the SQLite attempt log.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at dbPath.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("history: apply pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	// trigger is a SQL keyword, hence trigger_kind.
	schema := `CREATE TABLE IF NOT EXISTS login_attempts (
		id TEXT PRIMARY KEY,
		trigger_kind TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("history: create schema: %w", err)
	}

	index := `CREATE INDEX IF NOT EXISTS idx_login_attempts_finished
		ON login_attempts (finished_at DESC)`
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("history: create index: %w", err)
	}

	return nil
}

// RecordAttempt appends a finished attempt to the log.
func (s *Store) RecordAttempt(ctx context.Context, attempt Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO login_attempts (id, trigger_kind, status, message, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		attempt.ID,
		attempt.Trigger,
		attempt.Status,
		attempt.Message,
		attempt.StartedAt.UTC().Format(time.RFC3339Nano),
		attempt.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("history: record attempt %s: %w", attempt.ID, err)
	}
	return nil
}

// RecentAttempts returns up to limit attempts, newest first.
func (s *Store) RecentAttempts(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trigger_kind, status, message, started_at, finished_at
		 FROM login_attempts
		 ORDER BY finished_at DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var attempt Attempt
		var started, finished string
		if err := rows.Scan(&attempt.ID, &attempt.Trigger, &attempt.Status, &attempt.Message, &started, &finished); err != nil {
			return nil, fmt.Errorf("history: scan attempt: %w", err)
		}
		attempt.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		attempt.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate attempts: %w", err)
	}

	return attempts, nil
}

// Prune deletes attempts older than keep, returning how many were removed.
func (s *Store) Prune(ctx context.Context, keep time.Duration) (int64, error) {
	cutoff := time.Now().Add(-keep).UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM login_attempts WHERE finished_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: prune attempts: %w", err)
	}
	removed, _ := res.RowsAffected()
	return removed, nil
}
