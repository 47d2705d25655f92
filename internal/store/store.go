// Package store is the durability boundary: submissions, per-step
// processing records, resolved accounts, metadata blobs, and raw
// ingestion events live in a single SQLite database. The database is the
// sole authority for submission consistency; everything else in the
// process is a cache.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // sqlite driver
)

// Sentinel errors shared with the registry.
var (
	// ErrNotFound means no row matched the requested id.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidTransition means a guarded status update matched no row:
	// either the submission does not exist or its current status is not
	// the expected predecessor.
	ErrInvalidTransition = errors.New("store: invalid status transition")
)

// busyTimeout is how long SQLite waits on a locked database before
// failing a statement.
const busyTimeout = 5 * time.Second

// Store wraps the SQLite database. A single open connection makes SQLite
// the sole-writer, which is all a single-process service needs.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// now is injectable so tests can pin mutation timestamps.
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies all
// pending migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", path, err)
	}

	// Sole-writer: one connection, no writer races inside the process.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	logger.Info("database open", slog.String("path", path))

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// nullString maps "" to SQL NULL.
func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// nullTime maps the zero time to SQL NULL, storing UnixNano otherwise.
func nullTime(t time.Time) sql.NullInt64 {
	return sql.NullInt64{Int64: t.UnixNano(), Valid: !t.IsZero()}
}

// timeOf converts a nullable UnixNano column back to time.Time.
func timeOf(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}

	return time.Unix(0, v.Int64)
}
