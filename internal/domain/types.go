package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusPreparing OrderStatus = "PREPARING"
	OrderStatusShipping  OrderStatus = "SHIPPING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are allowed from the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// PaymentStatus tracks settlement separately from the order lifecycle.
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "UNPAID"
	PaymentStatusPaid   PaymentStatus = "PAID"
)

// PaymentMethod identifies how the customer settles the order.
type PaymentMethod string

const (
	PaymentMethodCOD      PaymentMethod = "COD"
	PaymentMethodGatewayA PaymentMethod = "GATEWAY_A"
	PaymentMethodGatewayB PaymentMethod = "GATEWAY_B"
)

// IsGateway reports whether the method settles through an external payment gateway.
func (m PaymentMethod) IsGateway() bool {
	return m == PaymentMethodGatewayA || m == PaymentMethodGatewayB
}

// Valid reports whether the method is one of the supported values.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCOD || m.IsGateway()
}

// CustomerTier ranks customers by cumulative spend.
type CustomerTier string

const (
	CustomerTierMember   CustomerTier = "MEMBER"
	CustomerTierSilver   CustomerTier = "SILVER"
	CustomerTierGold     CustomerTier = "GOLD"
	CustomerTierPlatinum CustomerTier = "PLATINUM"
)

// PromotionTierAll marks a promotion as available to every tier.
const PromotionTierAll = "ALL"

// DiscountType enumerates promotion discount calculations.
type DiscountType string

const (
	DiscountTypePercentage   DiscountType = "PERCENTAGE"
	DiscountTypeFixedAmount  DiscountType = "FIXED_AMOUNT"
	DiscountTypeFreeShipping DiscountType = "FREE_SHIPPING"
)

// ReceiverInfo is the delivery contact captured at checkout.
type ReceiverInfo struct {
	Name    string
	Phone   string
	Address string
}

// Order is the transactional aggregate created at checkout.
type Order struct {
	ID                string
	Code              string
	CustomerID        string
	Receiver          ReceiverInfo
	Subtotal          decimal.Decimal
	ShippingFee       decimal.Decimal
	Discount          decimal.Decimal
	LoyaltyPointsUsed int64
	LoyaltyDiscount   decimal.Decimal
	Total             decimal.Decimal
	PaymentMethod     PaymentMethod
	PaymentStatus     PaymentStatus
	Status            OrderStatus
	PromotionID       *string
	Note              string
	CancelReason      *string
	GatewayTxnID      *string
	ConfirmedBy       *string
	ConfirmedAt       *time.Time
	PreparedAt        *time.Time
	ShippedAt         *time.Time
	CompletedAt       *time.Time
	CancelledAt       *time.Time
	PaidAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Lines             []OrderLine
}

// RecomputeTotal derives Total from its components, floored at zero.
func (o *Order) RecomputeTotal() {
	total := o.Subtotal.Add(o.ShippingFee).Sub(o.Discount).Sub(o.LoyaltyDiscount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	o.Total = total
}

// OrderLine snapshots a product as it was when the order was placed.
type OrderLine struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	ImageURL    string
	UnitPrice   decimal.Decimal
	Quantity    int64
	LineTotal   decimal.Decimal
}

// OrderHistoryEntry is a write-once audit record of a status change.
type OrderHistoryEntry struct {
	ID         string
	OrderID    string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	Actor      string
	Note       string
	CreatedAt  time.Time
}

// Promotion describes a redeemable discount code.
type Promotion struct {
	ID               string
	Code             string
	DiscountType     DiscountType
	DiscountValue    decimal.Decimal
	MaxDiscount      *decimal.Decimal
	MinOrderAmount   decimal.Decimal
	EligibleTier     string
	StartsAt         *time.Time
	EndsAt           *time.Time
	UsageLimit       *int64
	UsedCount        int64
	UsagePerCustomer *int64
	Active           bool
}

// PromotionUsage is an append-only record of a redemption.
type PromotionUsage struct {
	ID          string
	PromotionID string
	CustomerID  string
	OrderID     string
	Discount    decimal.Decimal
	CreatedAt   time.Time
}

// Product is the subset of catalog data the order core depends on.
type Product struct {
	ID              string
	Name            string
	ImageURL        string
	Price           decimal.Decimal
	DiscountPercent decimal.Decimal
	Stock           int64
	SoldCount       int64
}

// Customer carries loyalty and spend totals.
type Customer struct {
	ID            string
	Name          string
	Tier          CustomerTier
	LoyaltyPoints int64
	TotalSpent    decimal.Decimal
	OrderCount    int64
}

// CartLine is a requested product quantity.
type CartLine struct {
	ProductID string
	Quantity  int64
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Health statuses reported by readiness probes.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// Pagination describes a keyset page request.
type Pagination struct {
	PageSize  int
	PageToken string
}
