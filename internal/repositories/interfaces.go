package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/medimart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	OrderHistory() OrderHistoryRepository
	Products() ProductRepository
	Promotions() PromotionRepository
	PromotionUsage() PromotionUsageRepository
	Customers() CustomerRepository
	Carts() CartRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates. Status and payment changes are
// conditional on the expected current value.
type OrderRepository interface {
	// Insert stores the order and its lines. A duplicate order code yields a conflict error.
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByCode(ctx context.Context, code string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// UpdateStatus writes the status columns of order when the stored status and payment
	// status equal expected and expectedPayment. It reports false when another writer
	// changed either one first.
	UpdateStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus, expectedPayment domain.PaymentStatus) (bool, error)
	// MarkPaid flips payment status UNPAID to PAID. It reports false when the order was already paid.
	MarkPaid(ctx context.Context, orderID string, gatewayTxnID string, paidAt time.Time) (bool, error)
	// Delete removes a cancelled, never-paid order with its lines. History rows are kept.
	Delete(ctx context.Context, orderID string) error
	ListExpiredUnpaid(ctx context.Context, query ExpiredUnpaidQuery) ([]domain.Order, error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID    string
	Status        []domain.OrderStatus
	PaymentStatus *domain.PaymentStatus
	Pagination    domain.Pagination
}

// ExpiredUnpaidQuery selects pending gateway orders created before a cutoff.
type ExpiredUnpaidQuery struct {
	CreatedBefore time.Time
	Methods       []domain.PaymentMethod
	Limit         int
}

// OrderHistoryRepository appends and reads the write-once status history.
type OrderHistoryRepository interface {
	Append(ctx context.Context, entry domain.OrderHistoryEntry) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.OrderHistoryEntry, error)
}

// ProductRepository reads product pricing and applies conditional stock changes.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// Reserve decrements stock and increments sold count when stock covers quantity.
	// Failures are reported as *InventoryError.
	Reserve(ctx context.Context, productID string, quantity int64) (domain.Product, error)
	// Release increments stock and decrements sold count by quantity.
	Release(ctx context.Context, productID string, quantity int64) (domain.Product, error)
}

// PromotionRepository reads promotions and applies the global usage counter.
type PromotionRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Promotion, error)
	FindByID(ctx context.Context, promotionID string) (domain.Promotion, error)
	// IncrementUsed bumps used_count while it is below usage_limit. It reports false at the cap.
	IncrementUsed(ctx context.Context, promotionID string) (bool, error)
	// ReleaseUsed decrements used_count after a redemption is abandoned.
	ReleaseUsed(ctx context.Context, promotionID string) error
}

// PromotionUsageRepository enforces per-customer caps and records redemptions.
type PromotionUsageRepository interface {
	CountByCustomer(ctx context.Context, promotionID, customerID string) (int64, error)
	// IncrementCustomer bumps the per-customer counter while it is below limit. It reports false at the cap.
	IncrementCustomer(ctx context.Context, promotionID, customerID string, limit *int64) (bool, error)
	Insert(ctx context.Context, usage domain.PromotionUsage) error
	ListByPromotion(ctx context.Context, promotionID string, pager domain.Pagination) (domain.CursorPage[domain.PromotionUsage], error)
}

// CustomerRepository reads customers and applies loyalty and spend changes.
type CustomerRepository interface {
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
	// DebitLoyaltyPoints subtracts points when the balance covers them. It reports false otherwise.
	DebitLoyaltyPoints(ctx context.Context, customerID string, points int64) (bool, error)
	CreditSpend(ctx context.Context, customerID string, amount decimal.Decimal) (domain.Customer, error)
	UpdateTier(ctx context.Context, customerID string, tier domain.CustomerTier) error
}

// CartRepository clears a customer's cart after checkout.
type CartRepository interface {
	Clear(ctx context.Context, customerID string) error
}

// HealthRepository reports backend readiness.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
