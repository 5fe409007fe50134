package postgres

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/config"
	"github.com/medimart/api/internal/platform/database"
)

func newSQLiteDB(t *testing.T) *database.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "medimart.db") + "?_pragma=busy_timeout(5000)"
	db, err := database.Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func seedProduct(t *testing.T, db *database.DB, id, price string, stock int64) {
	t.Helper()
	_, err := db.Exec(context.Background(),
		`INSERT INTO products (id, name, image_url, price, discount_percent, stock, sold_count) VALUES (?, ?, '', ?, '0', ?, 0)`,
		id, "Product "+id, price, stock,
	)
	require.NoError(t, err)
}

func seedCustomer(t *testing.T, db *database.DB, id string, points int64) {
	t.Helper()
	_, err := db.Exec(context.Background(),
		`INSERT INTO customers (id, name, tier, loyalty_points, total_spent, order_count) VALUES (?, ?, 'MEMBER', ?, '0', 0)`,
		id, "Customer "+id, points,
	)
	require.NoError(t, err)
}

func seedPromotion(t *testing.T, db *database.DB, id, code string, usageLimit any) {
	t.Helper()
	_, err := db.Exec(context.Background(),
		`INSERT INTO promotions (id, code, discount_type, discount_value, max_discount, min_order_amount, eligible_tier,
			starts_at, ends_at, usage_limit, used_count, usage_per_customer, active)
		VALUES (?, ?, 'PERCENTAGE', '10', '50000', '0', 'ALL', NULL, NULL, ?, 0, NULL, 1)`,
		id, code, usageLimit,
	)
	require.NoError(t, err)
}

func sampleOrder(id, code, customerID string, createdAt time.Time) domain.Order {
	order := domain.Order{
		ID:         id,
		Code:       code,
		CustomerID: customerID,
		Receiver: domain.ReceiverInfo{
			Name:    "Nguyen Van A",
			Phone:   "0901234567",
			Address: "12 Le Loi, District 1",
		},
		Subtotal:        dec("240000"),
		ShippingFee:     dec("30000"),
		Discount:        dec("0"),
		LoyaltyDiscount: dec("0"),
		PaymentMethod:   domain.PaymentMethodGatewayA,
		PaymentStatus:   domain.PaymentStatusUnpaid,
		Status:          domain.OrderStatusPending,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
		Lines: []domain.OrderLine{
			{ID: id + "-L1", ProductID: "p-1", ProductName: "Vitamin C", UnitPrice: dec("120000"), Quantity: 2, LineTotal: dec("240000")},
		},
	}
	order.RecomputeTotal()
	return order
}
