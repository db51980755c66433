// Package db provides SQLite persistence for conversations, messages and
// the collaborator records the messaging core reads.
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cobuilders/inbox/internal/logging"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Config controls how the database is opened.
type Config struct {
	// Path is the SQLite file. ":memory:" opens a private in-memory database.
	Path string

	// MaxConnections caps the connection pool.
	MaxConnections int

	// BusyTimeoutMs is how long SQLite waits on a locked database.
	BusyTimeoutMs int

	// WriteAttempts bounds write transactions that keep failing with
	// SQLITE_BUSY. Zero selects the default.
	WriteAttempts int
}

// DefaultConfig returns sensible defaults for a file-backed database.
func DefaultConfig() Config {
	return Config{
		Path:           "cobuild-inbox.db",
		MaxConnections: 10,
		BusyTimeoutMs:  5000,
		WriteAttempts:  defaultWriteAttempts,
	}
}

// DB wraps the SQL handle shared by all repositories.
type DB struct {
	*sql.DB
	path   string
	logger zerolog.Logger
	retry  retryPolicy
}

// Open opens (creating if needed) the database described by cfg.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.BusyTimeoutMs <= 0 {
		cfg.BusyTimeoutMs = DefaultConfig().BusyTimeoutMs
	}

	memory := cfg.Path == ":memory:"
	if !memory {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	sqlDB, err := sql.Open("sqlite", dsn(cfg, memory))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	switch {
	case memory:
		sqlDB.SetMaxOpenConns(1)
	case cfg.MaxConnections > 0:
		sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{
		DB:     sqlDB,
		path:   cfg.Path,
		logger: logging.Component("db"),
		retry:  retryPolicy{attempts: cfg.WriteAttempts, backoff: defaultWriteBackoff}.normalized(),
	}
	db.logger.Debug().Str("path", cfg.Path).Msg("database opened")
	return db, nil
}

// OpenInMemory opens a private in-memory database, mostly for tests.
func OpenInMemory() (*DB, error) {
	cfg := DefaultConfig()
	cfg.Path = ":memory:"
	return Open(cfg)
}

func dsn(cfg Config, memory bool) string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", cfg.BusyTimeoutMs),
	}
	if memory {
		return "file::memory:?" + strings.Join(pragmas, "&")
	}
	pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	return "file:" + cfg.Path + "?" + strings.Join(pragmas, "&")
}

// Path returns the database location.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	db.logger.Debug().Msg("schema applied")
	return nil
}

// Transaction runs fn inside a transaction, committing on success and
// rolling back on error.
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			db.logger.Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", value, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "constraint failed: unique")
}
