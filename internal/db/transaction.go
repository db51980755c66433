package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	defaultWriteAttempts = 3
	defaultWriteBackoff  = 50 * time.Millisecond
)

// retryPolicy bounds how long a write keeps retrying a locked database.
// The backoff doubles after every busy attempt.
type retryPolicy struct {
	attempts int
	backoff  time.Duration
}

func (p retryPolicy) normalized() retryPolicy {
	if p.attempts <= 0 {
		p.attempts = defaultWriteAttempts
	}
	if p.backoff <= 0 {
		p.backoff = defaultWriteBackoff
	}
	return p
}

// WriteTransaction runs fn in a transaction using the database's configured
// busy retry policy.
func (db *DB) WriteTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	return db.TransactionWithRetry(ctx, db.retry.attempts, db.retry.backoff, fn)
}

// TransactionWithRetry runs fn in a transaction, retrying the whole
// transaction while SQLite reports the database busy or locked.
// Non-positive arguments select the defaults.
func (db *DB) TransactionWithRetry(ctx context.Context, maxAttempts int, baseBackoff time.Duration, fn func(*sql.Tx) error) error {
	policy := retryPolicy{attempts: maxAttempts, backoff: baseBackoff}.normalized()
	return withRetry(ctx, policy, func(attempt int, err error) {
		db.logger.Debug().Err(err).Int("attempt", attempt).Msg("database busy, retrying write")
	}, func() error {
		return db.Transaction(ctx, fn)
	})
}

// withRetry calls fn until it succeeds, fails with a non-busy error, or the
// policy runs out. onRetry sees every busy failure that will be retried.
func withRetry(ctx context.Context, policy retryPolicy, onRetry func(attempt int, err error), fn func() error) error {
	backoff := policy.backoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil || !isBusyError(err) || attempt >= policy.attempts {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
}

// isBusyError reports lock contention. Driver errors are matched on their
// primary result code; anything else falls back to the message text.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		default:
			return false
		}
	}

	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") ||
		strings.Contains(message, "database is busy") ||
		strings.Contains(message, "sqlite_busy")
}

func sleepWithContext(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
