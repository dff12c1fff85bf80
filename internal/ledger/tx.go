// internal/ledger/tx.go
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// RunInTx executes fn inside a transaction with the row-lock timeout applied,
// retrying when the transaction aborts with a concurrency conflict. maxRetries
// bounds the retries after the first attempt; on exhaustion the conflict is
// surfaced to the caller. Every other failure rolls back and returns
// immediately: no partial state survives.
func RunInTx(ctx context.Context, db *sql.DB, lockTimeout time.Duration, maxRetries int, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = runOnce(ctx, db, lockTimeout, fn)
		if err == nil || !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
	}
	return err
}

func runOnce(ctx context.Context, db *sql.DB, lockTimeout time.Duration, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// SET LOCAL scopes the timeout to this transaction only.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	if err := fn(tx); err != nil {
		return mapPQError(err)
	}

	if err := tx.Commit(); err != nil {
		return mapPQError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// mapPQError translates PostgreSQL failure codes into the ledger taxonomy:
// 55P03 (lock_not_available) and 57014 (statement cancel) become lock
// timeouts, 40001/40P01 (serialization failure, deadlock) become retryable
// conflicts. Everything else passes through unchanged.
func mapPQError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "55P03", "57014":
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	case "40001", "40P01":
		return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
	}
	return err
}
