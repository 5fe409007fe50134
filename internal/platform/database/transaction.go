package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultTxAttempts = 3
	defaultTxTimeout  = 15 * time.Second
	retryBackoff      = 25 * time.Millisecond
)

type txContextKey struct{}

func txFromContext(ctx context.Context) (*sql.Tx, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txContextKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

// InTx reports whether ctx carries an active transaction.
func InTx(ctx context.Context) bool {
	_, ok := txFromContext(ctx)
	return ok
}

// RunInTx executes fn inside a transaction. Repositories called with the
// context passed to fn join that transaction. Nested calls reuse the outer
// transaction. Serialization failures and busy errors are retried.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if db == nil || db.sql == nil {
		return WrapError("transaction", errors.New("database: pool is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("database: transaction function is nil"))
	}
	if InTx(ctx) {
		return fn(ctx)
	}

	txnCtx := ctx
	var cancel context.CancelFunc
	if db.txTimeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > db.txTimeout {
			txnCtx, cancel = context.WithTimeout(ctx, db.txTimeout)
		}
	}
	if cancel != nil {
		defer cancel()
	}

	attempts := db.txAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = db.runOnce(txnCtx, fn)
		if err == nil || !isRetryable(err) || attempt == attempts {
			break
		}
		select {
		case <-txnCtx.Done():
			return txnCtx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return err
}

func (db *DB) runOnce(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return WrapError("transaction.begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txContextKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return WrapError("transaction.commit", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var dbErr *Error
	if errors.As(err, &dbErr) {
		return dbErr.retryable
	}
	return false
}
