package services

import (
	"context"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/payments"
	"github.com/medimart/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	Order                = domain.Order
	OrderLine            = domain.OrderLine
	OrderStatus          = domain.OrderStatus
	OrderHistoryEntry    = domain.OrderHistoryEntry
	ReceiverInfo         = domain.ReceiverInfo
	PaymentMethod        = domain.PaymentMethod
	PaymentStatus        = domain.PaymentStatus
	Promotion            = domain.Promotion
	PromotionUsage       = domain.PromotionUsage
	Product              = domain.Product
	Customer             = domain.Customer
	CustomerTier         = domain.CustomerTier
	CartLine             = domain.CartLine
	PricingLine          = domain.PricingLine
	PricingBreakdown     = domain.PricingBreakdown
	ItemPricingBreakdown = domain.ItemPricingBreakdown
	SystemHealthReport   = domain.SystemHealthReport
	OrderListFilter      = repositories.OrderListFilter
)

// CheckoutService turns a cart into a persisted order in a single unit of work.
type CheckoutService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (OrderSummary, error)
	// PreviewOrder prices the command exactly like CreateOrder without reserving or writing anything.
	PreviewOrder(ctx context.Context, cmd CreateOrderCommand) (OrderPreview, error)
}

// OrderService exposes order reads and the status state machine.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	ListHistory(ctx context.Context, orderID string, opts OrderReadOptions) ([]OrderHistoryEntry, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error
	ExpireUnpaid(ctx context.Context, cmd ExpireUnpaidCommand) (ExpireUnpaidResult, error)
}

// PromotionService validates promotion codes and records redemptions.
type PromotionService interface {
	ValidatePromotion(ctx context.Context, cmd ValidatePromotionCommand) (PromotionValidationResult, error)
	Redeem(ctx context.Context, cmd RedeemPromotionCommand) (PromotionUsage, error)
	ListPromotionUsage(ctx context.Context, filter PromotionUsageFilter) (domain.CursorPage[PromotionUsage], error)
}

// InventoryService is the stock ledger. Reserve and Release must be paired exactly once per order line.
type InventoryService interface {
	Reserve(ctx context.Context, cmd InventoryCommand) (Product, error)
	Release(ctx context.Context, cmd InventoryCommand) (Product, error)
	GetAvailability(ctx context.Context, productID string) (InventoryAvailability, error)
}

// CustomerLedger applies loyalty and spend changes to customers.
type CustomerLedger interface {
	DebitLoyaltyPoints(ctx context.Context, customerID string, points int64) error
	// CreditSpend adds a completed order to the customer's totals and recomputes the tier.
	CreditSpend(ctx context.Context, customerID string, amount decimal.Decimal) (Customer, error)
}

// PaymentService starts gateway payments and reconciles their callbacks.
type PaymentService interface {
	CreatePaymentURL(ctx context.Context, cmd CreatePaymentCommand) (payments.PaymentURL, error)
	HandleCallback(ctx context.Context, cmd PaymentCallbackCommand) (PaymentCallbackResult, error)
}

// SystemService exposes operational diagnostics.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderStatusNotifier receives committed status changes. Failures never roll back the change.
type OrderStatusNotifier interface {
	NotifyOrderStatusChanged(ctx context.Context, event OrderStatusChangedEvent) error
}

// OrderStatusChangedEvent describes a committed order status change.
type OrderStatusChangedEvent struct {
	OrderID        string
	OrderCode      string
	CustomerID     string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	PaymentStatus  PaymentStatus
	ActorID        string
	Reason         string
	OccurredAt     time.Time
}

// CreateOrderCommand carries the checkout request.
type CreateOrderCommand struct {
	CustomerID    string
	Receiver      ReceiverInfo
	PaymentMethod PaymentMethod
	PromotionCode string
	LoyaltyPoints int64
	Lines         []CartLine
	Note          string
	// StrictPromotion overrides the configured promotion policy when set.
	StrictPromotion *bool
}

// CheckoutWarning reports a non-fatal checkout outcome such as a rejected promotion code.
type CheckoutWarning struct {
	Code    string
	Message string
}

// OrderSummary is returned after a successful checkout.
type OrderSummary struct {
	Order    Order
	Warnings []CheckoutWarning
}

// OrderPreview is the priced but unpersisted view of a checkout.
type OrderPreview struct {
	Breakdown   PricingBreakdown
	PromotionID *string
	Warnings    []CheckoutWarning
}

// OrderReadOptions scopes reads. A non-empty CustomerID restricts access to that customer's orders.
type OrderReadOptions struct {
	CustomerID string
}

// OrderStatusTransitionCommand requests an administrative status change.
type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	ActorID      string
	Note         string
	// Reason is required when TargetStatus is CANCELLED.
	Reason string
}

// CancelOrderCommand cancels an order. With CustomerID set the request is self-service
// and only that customer's PENDING orders qualify.
type CancelOrderCommand struct {
	OrderID    string
	CustomerID string
	ActorID    string
	Reason     string
	// RequireUnpaid refuses with ErrOrderConflict when the order has been paid.
	RequireUnpaid bool
}

// DeleteOrderCommand removes a cancelled order that was never paid.
type DeleteOrderCommand struct {
	OrderID string
	ActorID string
}

// ExpireUnpaidCommand selects gateway orders left unpaid for longer than OlderThan.
type ExpireUnpaidCommand struct {
	OlderThan time.Duration
	Limit     int
	ActorID   string
}

// ExpireUnpaidResult lists the outcome of a reconciliation run.
type ExpireUnpaidResult struct {
	Cancelled []string
	Skipped   []string
}

// ValidatePromotionCommand carries the inputs of promotion validation. Customer may be
// supplied when already loaded, otherwise it is read by CustomerID.
type ValidatePromotionCommand struct {
	Code        string
	CustomerID  string
	Customer    *Customer
	Subtotal    decimal.Decimal
	ShippingFee decimal.Decimal
}

// PromotionValidationResult is either valid with a discount or rejected with a code and reason.
type PromotionValidationResult struct {
	Valid         bool
	Code          string
	RejectionCode string
	Reason        string
	Promotion     Promotion
	Discount      decimal.Decimal
}

// RedeemPromotionCommand records a validated promotion against an order.
type RedeemPromotionCommand struct {
	Promotion  Promotion
	CustomerID string
	OrderID    string
	Discount   decimal.Decimal
}

// PromotionUsageFilter pages the redemption log of one promotion.
type PromotionUsageFilter struct {
	PromotionID string
	Pagination  Pagination
}

// InventoryCommand names a product and a positive quantity.
type InventoryCommand struct {
	ProductID string
	Quantity  int64
}

// InventoryAvailability reports current stock for a product.
type InventoryAvailability struct {
	ProductID string
	Stock     int64
	SoldCount int64
	InStock   bool
}

// CreatePaymentCommand starts a gateway payment for an order owned by CustomerID.
type CreatePaymentCommand struct {
	OrderID    string
	CustomerID string
	ClientIP   string
	Locale     string
	BankCode   string
}

// PaymentCallbackCommand carries the raw query of a return redirect or IPN call.
type PaymentCallbackCommand struct {
	Gateway string
	Params  url.Values
}

// PaymentOutcome summarises what a callback did to the order.
type PaymentOutcome string

const (
	PaymentOutcomePaid             PaymentOutcome = "PAID"
	PaymentOutcomeCancelled        PaymentOutcome = "CANCELLED"
	PaymentOutcomeAlreadyProcessed PaymentOutcome = "ALREADY_PROCESSED"
)

// PaymentCallbackResult is the reconciled state after a callback.
type PaymentCallbackResult struct {
	Outcome  PaymentOutcome
	Order    Order
	Callback payments.Callback
}
