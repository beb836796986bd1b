package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"budget/internal/core"
)

// DefaultBusyRetries bounds how often a locked database is retried.
const DefaultBusyRetries = 3

// isBusy reports transient lock contention on the database file.
func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "FOREIGN KEY")
}

// busyBackoff doubles from 25ms and caps at 500ms.
func busyBackoff(attempt int) time.Duration {
	d := 25 * time.Millisecond << attempt
	if d > 500*time.Millisecond || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// withRetry runs fn, retrying busy/locked failures up to r.retries times.
// Any other failure is classified and returned immediately.
func (r *SQLiteRepository) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%s: %w", op, core.ErrReferentialIntegrity)
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		if attempt >= r.retries {
			break
		}
		wait := busyBackoff(attempt)
		slog.WarnContext(ctx, "Database busy, retrying",
			"operation", op,
			"attempt", attempt+1,
			"wait", wait.String())
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("%s: %w: %v", op, core.ErrStorageUnavailable, err)
}
