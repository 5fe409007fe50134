package di

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/config"
	"github.com/medimart/api/internal/platform/database"
	"github.com/medimart/api/internal/repositories/postgres"
	"github.com/medimart/api/internal/services"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []services.OrderStatusChangedEvent
}

func (n *recordingNotifier) NotifyOrderStatusChanged(_ context.Context, event services.OrderStatusChangedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func newTestContainer(t *testing.T, env map[string]string, opts ...Option) (*Container, *database.DB) {
	t.Helper()
	ctx := context.Background()

	dsn := "file:" + filepath.Join(t.TempDir(), "container.db") + "?_pragma=busy_timeout(5000)"
	values := map[string]string{
		"API_DATABASE_DRIVER": "sqlite",
		"API_DATABASE_DSN":    dsn,
	}
	for k, v := range env {
		values[k] = v
	}
	cfg, err := config.Load(ctx, config.WithEnvMap(values), config.WithoutSystemEnv(), config.WithEnvFile(""))
	require.NoError(t, err)

	db, err := database.Open(ctx, cfg.Database)
	require.NoError(t, err)
	require.NoError(t, postgres.Migrate(ctx, db))

	reg, err := postgres.NewRegistry(db, nil)
	require.NoError(t, err)

	c, err := NewContainer(ctx, cfg, reg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, db
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	_, err := NewContainer(context.Background(), config.Config{}, nil)
	require.Error(t, err)
}

func TestNewContainerWiresServices(t *testing.T) {
	c, _ := newTestContainer(t, map[string]string{
		"API_GATEWAY_A_TMN_CODE":    "MEDIMART",
		"API_GATEWAY_A_HASH_SECRET": "secret",
		"API_GATEWAY_A_PAY_URL":     "https://sandbox.example/paymentv2/vpcpay.html",
		"API_GATEWAY_A_RETURN_URL":  "https://medimart.example/payments/gateway_a/return",
	})

	assert.NotNil(t, c.Services.Checkout)
	assert.NotNil(t, c.Services.Orders)
	assert.NotNil(t, c.Services.Promotions)
	assert.NotNil(t, c.Services.Payments)
	assert.NotNil(t, c.Services.Inventory)
	assert.NotNil(t, c.Services.Ledger)
	assert.NotNil(t, c.Services.System)
	assert.NotNil(t, c.Pricing)
	assert.True(t, c.Gateways.Supports(domain.PaymentMethodGatewayA))
	assert.False(t, c.Gateways.Supports(domain.PaymentMethodGatewayB))

	report, err := c.Services.System.HealthReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusOK, report.Status)
	assert.Contains(t, report.Checks, "database")
}

func TestContainerCheckoutRoundTrip(t *testing.T) {
	now := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	notifier := &recordingNotifier{}
	c, db := newTestContainer(t, nil,
		WithNotifier(notifier),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	_, err := db.Exec(ctx, `INSERT INTO products (id, name, image_url, price, discount_percent, stock, sold_count) VALUES (?, ?, '', ?, '0', ?, 0)`,
		"prod-1", "Vitamin C", "120000", 10)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO customers (id, name, tier, loyalty_points, total_spent, order_count) VALUES (?, ?, 'MEMBER', 0, '0', 0)`,
		"cus-1", "Tran Thi B")
	require.NoError(t, err)

	summary, err := c.Services.Checkout.CreateOrder(ctx, services.CreateOrderCommand{
		CustomerID:    "cus-1",
		Receiver:      domain.ReceiverInfo{Name: "Tran Thi B", Phone: "0901234567", Address: "5 Hai Ba Trung"},
		PaymentMethod: domain.PaymentMethodCOD,
		Lines:         []domain.CartLine{{ProductID: "prod-1", Quantity: 2}},
	})
	require.NoError(t, err)
	order := summary.Order
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.True(t, order.Subtotal.Equal(decimal.NewFromInt(240000)), "subtotal %s", order.Subtotal)
	assert.True(t, order.ShippingFee.Equal(decimal.NewFromInt(30000)), "shipping %s", order.ShippingFee)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(270000)), "total %s", order.Total)

	availability, err := c.Services.Inventory.GetAvailability(ctx, "prod-1")
	require.NoError(t, err)
	assert.EqualValues(t, 8, availability.Stock)

	_, err = c.Services.Checkout.CreateOrder(ctx, services.CreateOrderCommand{
		CustomerID:    "cus-1",
		Receiver:      domain.ReceiverInfo{Name: "Tran Thi B", Phone: "0901234567", Address: "5 Hai Ba Trung"},
		PaymentMethod: domain.PaymentMethodGatewayB,
		Lines:         []domain.CartLine{{ProductID: "prod-1", Quantity: 1}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrCheckoutPaymentMethodUnavailable))

	cancelled, err := c.Services.Orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:    order.ID,
		CustomerID: "cus-1",
		ActorID:    "cus-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	availability, err = c.Services.Inventory.GetAvailability(ctx, "prod-1")
	require.NoError(t, err)
	assert.EqualValues(t, 10, availability.Stock)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.NotEmpty(t, notifier.events)
	last := notifier.events[len(notifier.events)-1]
	assert.Equal(t, order.ID, last.OrderID)
	assert.Equal(t, domain.OrderStatusCancelled, last.CurrentStatus)
}

func TestContainerConcurrentCheckoutsRedeemSingleUseCodeOnce(t *testing.T) {
	now := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	c, db := newTestContainer(t, nil, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := db.Exec(ctx, `INSERT INTO products (id, name, image_url, price, discount_percent, stock, sold_count) VALUES (?, ?, '', ?, '0', ?, 0)`,
		"prod-1", "Vitamin C", "120000", 10)
	require.NoError(t, err)
	_, err = db.Exec(ctx,
		`INSERT INTO promotions (id, code, discount_type, discount_value, max_discount, min_order_amount, eligible_tier,
			starts_at, ends_at, usage_limit, used_count, usage_per_customer, active)
		VALUES (?, ?, 'PERCENTAGE', '10', '50000', '0', 'ALL', NULL, NULL, 1, 0, NULL, 1)`,
		"promo-1", "ONCE")
	require.NoError(t, err)

	customers := []string{"cus-1", "cus-2", "cus-3"}
	for _, id := range customers {
		_, err = db.Exec(ctx, `INSERT INTO customers (id, name, tier, loyalty_points, total_spent, order_count) VALUES (?, ?, 'MEMBER', 0, '0', 0)`,
			id, "Customer "+id)
		require.NoError(t, err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		orders   []domain.Order
		warnings int
	)
	start := make(chan struct{})
	for _, customerID := range customers {
		wg.Add(1)
		go func(customerID string) {
			defer wg.Done()
			<-start
			summary, err := c.Services.Checkout.CreateOrder(ctx, services.CreateOrderCommand{
				CustomerID:    customerID,
				Receiver:      domain.ReceiverInfo{Name: "Tran Thi B", Phone: "0901234567", Address: "5 Hai Ba Trung"},
				PaymentMethod: domain.PaymentMethodCOD,
				PromotionCode: "ONCE",
				Lines:         []domain.CartLine{{ProductID: "prod-1", Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.Errorf("CreateOrder for %s: %v", customerID, err)
				return
			}
			orders = append(orders, summary.Order)
			warnings += len(summary.Warnings)
		}(customerID)
	}
	close(start)
	wg.Wait()

	require.Len(t, orders, len(customers))
	discounted := 0
	for _, order := range orders {
		if order.PromotionID != nil {
			discounted++
			assert.Equal(t, "promo-1", *order.PromotionID)
			assert.True(t, order.Discount.IsPositive(), "discount %s", order.Discount)
		} else {
			assert.True(t, order.Discount.IsZero(), "discount %s", order.Discount)
		}
	}
	assert.Equal(t, 1, discounted)
	assert.Equal(t, len(customers)-1, warnings)

	var used, usages int64
	require.NoError(t, db.QueryRow(ctx, `SELECT used_count FROM promotions WHERE id = ?`, "promo-1").Scan(&used))
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM promotion_usages WHERE promotion_id = ?`, "promo-1").Scan(&usages))
	assert.EqualValues(t, 1, used)
	assert.EqualValues(t, 1, usages)
}
