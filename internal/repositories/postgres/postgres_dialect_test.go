package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medimart/api/internal/platform/database"
	"github.com/medimart/api/internal/repositories"
)

func newMockDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	t.Helper()
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return database.New(pool, database.DialectPostgres, database.WithTxAttempts(1)), mock
}

func TestPostgresReserveUsesConditionalUpdate(t *testing.T) {
	db, mock := newMockDB(t)
	repo, err := NewProductRepository(db)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE products SET stock = stock - $1, sold_count = sold_count + $2 WHERE id = $3 AND stock >= $4`)).
		WithArgs(int64(2), int64(2), "p-1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM products WHERE id = $1`)).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "image_url", "price", "discount_percent", "stock", "sold_count"}).
			AddRow("p-1", "Vitamin C", "", "120000", "0", int64(1), int64(9)))

	_, err = repo.Reserve(context.Background(), "p-1", 2)
	var invErr *repositories.InventoryError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, repositories.InventoryErrorInsufficientStock, invErr.Code)
	assert.Equal(t, int64(1), invErr.Remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOrderInsertCodeCollision(t *testing.T) {
	db, mock := newMockDB(t)
	repo, err := NewOrderRepository(db)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (code) DO NOTHING`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	order := sampleOrder("01ORDER1", "DH20250303000001", "c-1", time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC))
	err = repo.Insert(context.Background(), order)
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsConflict())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkPaidGuardsOnUnpaid(t *testing.T) {
	db, mock := newMockDB(t)
	repo, err := NewOrderRepository(db)
	require.NoError(t, err)

	paidAt := time.Date(2025, time.March, 3, 9, 5, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE orders SET payment_status = 'PAID', gateway_txn_id = $1, paid_at = $2, updated_at = $3`)).
		WithArgs("14123456", paidAt, paidAt, "01ORDER1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkPaid(context.Background(), "01ORDER1", "14123456", paidAt)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPerCustomerCapUpsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo, err := NewPromotionUsageRepository(db)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`DO UPDATE SET used = promotion_customer_usage.used + 1 WHERE promotion_customer_usage.used < $3`)).
		WithArgs("promo-1", "c-1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	limit := int64(2)
	ok, err := repo.IncrementCustomer(context.Background(), "promo-1", "c-1", &limit)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoyaltyDebitIsConditional(t *testing.T) {
	db, mock := newMockDB(t)
	repo, err := NewCustomerRepository(db)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE customers SET loyalty_points = loyalty_points - $1 WHERE id = $2 AND loyalty_points >= $3`)).
		WithArgs(int64(51), "c-1", int64(51)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.DebitLoyaltyPoints(context.Background(), "c-1", 51)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
