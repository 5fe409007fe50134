package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectRebind(t *testing.T) {
	query := "UPDATE products SET stock = stock - ? WHERE id = ? AND note <> 'what?' AND stock >= ?"

	assert.Equal(t,
		"UPDATE products SET stock = stock - $1 WHERE id = $2 AND note <> 'what?' AND stock >= $3",
		DialectPostgres.Rebind(query))
	assert.Equal(t, query, DialectSQLite.Rebind(query))
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d)

	d, err = DialectFor("sqlite")
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, d)
	assert.Equal(t, "sqlite", d.DriverName())

	_, err = DialectFor("mysql")
	assert.Error(t, err)
}

func TestWrapErrorClassification(t *testing.T) {
	notFound := WrapError("orders.find", sql.ErrNoRows)
	var repoErr *Error
	require.ErrorAs(t, notFound, &repoErr)
	assert.True(t, repoErr.IsNotFound())

	unique := WrapError("orders.insert", &pq.Error{Code: "23505"})
	require.ErrorAs(t, unique, &repoErr)
	assert.True(t, repoErr.IsConflict())
	assert.False(t, repoErr.retryable)

	serialization := WrapError("orders.update", &pq.Error{Code: "40001"})
	require.ErrorAs(t, serialization, &repoErr)
	assert.True(t, repoErr.IsConflict())
	assert.True(t, isRetryable(serialization))

	assert.ErrorIs(t, WrapError("op", context.Canceled), context.Canceled)
	assert.NoError(t, WrapError("op", nil))
}

func TestRunInTxCommitsAndRollsBack(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pool.Close()

	db := New(pool, DialectPostgres, WithTxAttempts(1))
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products SET stock = stock - \$1 WHERE id = \$2`).
		WithArgs(1, "p-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = db.RunInTx(ctx, func(ctx context.Context) error {
		assert.True(t, InTx(ctx))
		_, err := db.Exec(ctx, "UPDATE products SET stock = stock - ? WHERE id = ?", 1, "p-1")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = db.RunInTx(ctx, func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRetriesSerializationFailures(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pool.Close()

	db := New(pool, DialectPostgres, WithTxAttempts(2))

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err = db.RunInTx(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return WrapError("orders.update", &pq.Error{Code: "40001"})
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxNestedReusesOuterTransaction(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pool.Close()

	db := New(pool, DialectPostgres)
	mock.ExpectBegin()
	mock.ExpectCommit()

	err = db.RunInTx(context.Background(), func(ctx context.Context) error {
		return db.RunInTx(ctx, func(ctx context.Context) error { return nil })
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteConstraintIsConflict(t *testing.T) {
	pool, err := sql.Open("sqlite", fmt.Sprintf("file:%s", filepath.Join(t.TempDir(), "errors.db")))
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()
	_, err = pool.ExecContext(ctx, "CREATE TABLE codes (code TEXT PRIMARY KEY)")
	require.NoError(t, err)
	_, err = pool.ExecContext(ctx, "INSERT INTO codes (code) VALUES ('DH1')")
	require.NoError(t, err)
	_, err = pool.ExecContext(ctx, "INSERT INTO codes (code) VALUES ('DH1')")
	require.Error(t, err)

	var repoErr *Error
	require.ErrorAs(t, WrapError("codes.insert", err), &repoErr)
	assert.True(t, repoErr.IsConflict())
}
