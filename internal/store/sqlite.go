// ABOUTME: SQLite implementation of the Store interface (modernc.org/sqlite or mattn/go-sqlite3)
// ABOUTME: Opens the database, creates the schema, and runs units of work in transactions

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/2389/huddle/internal/metrics"
)

// Registered database/sql driver names.
const (
	DriverSQLite  = "sqlite"  // modernc.org/sqlite, pure Go
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3, requires cgo
)

// timeLayout is fixed width so that text comparison in SQL matches
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens the store at path with the pure Go driver.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return Open(DriverSQLite, path)
}

// Open creates a SQLite store at the given path using the named driver.
// The schema is created if it doesn't exist and parent directories are
// created if needed.
func Open(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	switch driver {
	case "":
		driver = DriverSQLite
	case DriverSQLite, DriverSQLite3:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serializes writers, which is what the uniqueness
	// invariants rely on, and keeps :memory: databases on a single handle.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			type       TEXT NOT NULL,
			topic      TEXT,
			direct_key TEXT UNIQUE,
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL,

			CHECK (type IN ('DIRECT', 'GROUP')),
			CHECK (type = 'DIRECT' OR direct_key IS NULL)
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_created ON conversations(created_at);

		CREATE TABLE IF NOT EXISTS conversation_members (
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			user_id         TEXT NOT NULL,
			joined_at       TEXT NOT NULL,

			PRIMARY KEY (conversation_id, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_members_user ON conversation_members(user_id);

		CREATE TABLE IF NOT EXISTS conversation_pins (
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			user_id         TEXT NOT NULL,
			pinned_at       TEXT NOT NULL,

			PRIMARY KEY (conversation_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sender_id       TEXT NOT NULL,
			body            TEXT NOT NULL,
			body_folded     TEXT NOT NULL,
			tag             TEXT NOT NULL DEFAULT 'NONE',
			reply_to        TEXT REFERENCES messages(id) ON DELETE SET NULL,
			forwarded_from  TEXT,
			created_at      TEXT NOT NULL,
			edited_at       TEXT,
			deleted_at      TEXT,

			CHECK (tag IN ('NONE', 'ANSWER', 'MEETING', 'IMPORTANT'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS message_attachments (
			id           TEXT PRIMARY KEY,
			message_id   TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			file_name    TEXT NOT NULL,
			content_type TEXT NOT NULL,
			payload_ref  TEXT NOT NULL,
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_attachments_message ON message_attachments(message_id);

		CREATE TABLE IF NOT EXISTS message_reactions (
			id         TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id    TEXT NOT NULL,
			emoji      TEXT NOT NULL,
			created_at TEXT NOT NULL,

			UNIQUE (message_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS conversation_read_markers (
			conversation_id      TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			user_id              TEXT NOT NULL,
			last_read_message_id TEXT REFERENCES messages(id) ON DELETE SET NULL,
			last_read_at         TEXT NOT NULL,

			PRIMARY KEY (conversation_id, user_id)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn inside a database transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	start := time.Now()
	outcome := "rollback"
	defer func() {
		metrics.StoreTxDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.logger.Warn("rollback failed", "error", rbErr)
			}
		}
	}()

	if err := fn(&sqliteTx{tx: sqlTx, logger: s.logger}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	committed = true
	outcome = "commit"
	return nil
}

// sqliteTx implements Tx on top of a *sql.Tx
type sqliteTx struct {
	tx     *sql.Tx
	logger *slog.Logger
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// inClause returns "?, ?, ?" and the matching args for an IN (...) list.
func inClause(ids []string) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return strings.Join(marks, ", "), args
}
