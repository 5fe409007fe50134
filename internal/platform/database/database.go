package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/medimart/api/internal/platform/config"
)

const defaultPingTimeout = 5 * time.Second

// DB bundles the connection pool with the SQL dialect it speaks.
type DB struct {
	sql        *sql.DB
	dialect    Dialect
	txTimeout  time.Duration
	txAttempts int
}

// Open creates a pool for the configured driver and verifies connectivity.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, errors.New("database: dsn is required")
	}

	pool, err := sql.Open(dialect.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", dialect.DriverName(), err)
	}
	if cfg.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if dialect == DialectSQLite {
		// SQLite serialises writers; a single connection keeps conditional updates ordered.
		pool.SetMaxOpenConns(1)
	}

	db := New(pool, dialect, WithTxTimeout(cfg.TxTimeout), WithTxAttempts(cfg.TxAttempts))
	if err := db.Ping(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return db, nil
}

// Option customises DB behaviour.
type Option func(*DB)

// WithTxTimeout bounds every transaction started through RunInTx.
func WithTxTimeout(timeout time.Duration) Option {
	return func(db *DB) {
		if timeout > 0 {
			db.txTimeout = timeout
		}
	}
}

// WithTxAttempts overrides how many times a retryable transaction is attempted.
func WithTxAttempts(attempts int) Option {
	return func(db *DB) {
		if attempts > 0 {
			db.txAttempts = attempts
		}
	}
}

// New wraps an existing pool, typically one created by tests.
func New(pool *sql.DB, dialect Dialect, opts ...Option) *DB {
	db := &DB{
		sql:        pool,
		dialect:    dialect,
		txTimeout:  defaultTxTimeout,
		txAttempts: defaultTxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(db)
		}
	}
	return db
}

// SQL exposes the underlying pool.
func (db *DB) SQL() *sql.DB {
	return db.sql
}

// Dialect reports the SQL dialect of the pool.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Ping checks connectivity using a bounded context.
func (db *DB) Ping(ctx context.Context) error {
	if db == nil || db.sql == nil {
		return WrapError("ping", errors.New("database: pool is nil"))
	}
	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	return WrapError("ping", db.sql.PingContext(ctx))
}

// Close releases the pool.
func (db *DB) Close() error {
	if db == nil || db.sql == nil {
		return nil
	}
	return db.sql.Close()
}

// Querier is the subset of *sql.DB and *sql.Tx used by repositories.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Conn returns the transaction bound to ctx, or the pool when none is active.
func (db *DB) Conn(ctx context.Context) Querier {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return db.sql
}

// Exec runs a statement written with ? placeholders.
func (db *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.Conn(ctx).ExecContext(ctx, db.dialect.Rebind(query), args...)
}

// Query runs a query written with ? placeholders.
func (db *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.Conn(ctx).QueryContext(ctx, db.dialect.Rebind(query), args...)
}

// QueryRow runs a single-row query written with ? placeholders.
func (db *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.Conn(ctx).QueryRowContext(ctx, db.dialect.Rebind(query), args...)
}
