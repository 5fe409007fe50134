package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/config"
	"github.com/medimart/api/internal/platform/textutil"
	"github.com/medimart/api/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderLineIDPrefix = "oln_"

	maxNoteRunes     = 500
	maxReceiverRunes = 255
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutPaymentMethodUnavailable indicates the requested gateway is not configured.
	ErrCheckoutPaymentMethodUnavailable = errors.New("checkout: payment method unavailable")
	// ErrCheckoutOrderCodeExhausted indicates every generated order code collided.
	ErrCheckoutOrderCodeExhausted = errors.New("checkout: could not allocate a unique order code")
)

// PaymentMethodChecker reports which gateway payment methods are configured.
type PaymentMethodChecker interface {
	Supports(method domain.PaymentMethod) bool
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Customers  repositories.CustomerRepository
	Products   repositories.ProductRepository
	Orders     repositories.OrderRepository
	History    repositories.OrderHistoryRepository
	Carts      repositories.CartRepository
	Inventory  InventoryService
	Promotions PromotionService
	Ledger     CustomerLedger
	Pricing    *PricingEngine
	Codes      *OrderCodeGenerator
	Payments   PaymentMethodChecker
	UnitOfWork repositories.UnitOfWork
	// PromotionPolicy is config.PromotionPolicyBestEffort or config.PromotionPolicyStrict.
	PromotionPolicy string
	MaxCodeAttempts int
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	customers       repositories.CustomerRepository
	products        repositories.ProductRepository
	orders          repositories.OrderRepository
	history         repositories.OrderHistoryRepository
	carts           repositories.CartRepository
	inventory       InventoryService
	promotions      PromotionService
	ledger          CustomerLedger
	pricing         *PricingEngine
	codes           *OrderCodeGenerator
	payments        PaymentMethodChecker
	unitOfWork      repositories.UnitOfWork
	strictPromotion bool
	maxCodeAttempts int
	now             func() time.Time
	newID           func() string
	logger          func(ctx context.Context, event string, fields map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Customers == nil:
		return nil, errors.New("checkout service: customer repository is required")
	case deps.Products == nil:
		return nil, errors.New("checkout service: product repository is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order repository is required")
	case deps.History == nil:
		return nil, errors.New("checkout service: history repository is required")
	case deps.Carts == nil:
		return nil, errors.New("checkout service: cart repository is required")
	case deps.Inventory == nil:
		return nil, errors.New("checkout service: inventory service is required")
	case deps.Promotions == nil:
		return nil, errors.New("checkout service: promotion service is required")
	case deps.Ledger == nil:
		return nil, errors.New("checkout service: customer ledger is required")
	case deps.Pricing == nil:
		return nil, errors.New("checkout service: pricing engine is required")
	case deps.Codes == nil:
		return nil, errors.New("checkout service: order code generator is required")
	}

	var strict bool
	switch strings.ToLower(strings.TrimSpace(deps.PromotionPolicy)) {
	case "", config.PromotionPolicyBestEffort:
	case config.PromotionPolicyStrict:
		strict = true
	default:
		return nil, fmt.Errorf("checkout service: unknown promotion policy %q", deps.PromotionPolicy)
	}

	attempts := deps.MaxCodeAttempts
	if attempts <= 0 {
		attempts = 5
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		customers:       deps.Customers,
		products:        deps.Products,
		orders:          deps.Orders,
		history:         deps.History,
		carts:           deps.Carts,
		inventory:       deps.Inventory,
		promotions:      deps.Promotions,
		ledger:          deps.Ledger,
		pricing:         deps.Pricing,
		codes:           deps.Codes,
		payments:        deps.Payments,
		unitOfWork:      unit,
		strictPromotion: strict,
		maxCodeAttempts: attempts,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

type checkoutRequest struct {
	customerID    string
	receiver      ReceiverInfo
	method        PaymentMethod
	promotionCode string
	loyaltyPoints int64
	lines         []CartLine
	note          string
	strict        bool
}

// appliedPromotion is the outcome of the promotion step; a rejection in best-effort mode
// leaves promotion nil and records a warning.
type appliedPromotion struct {
	promotion *Promotion
	discount  decimal.Decimal
	warning   *CheckoutWarning
}

// CreateOrder reserves stock, applies promotion and loyalty, persists the order and clears the
// cart in one unit of work. Any failure rolls every step back.
func (s *checkoutService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (_ OrderSummary, err error) {
	ctx, span := tracer.Start(ctx, "checkout.create_order", trace.WithAttributes(
		attribute.String("customer.id", cmd.CustomerID),
		attribute.Int("order.lines", len(cmd.Lines)),
	))
	defer func() { endSpan(span, err) }()

	req, err := s.normalize(cmd)
	if err != nil {
		return OrderSummary{}, err
	}

	var summary OrderSummary
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		summary = OrderSummary{}

		customer, err := s.customers.FindByID(txCtx, req.customerID)
		if err != nil {
			return mapCustomerRepositoryError(err)
		}

		reserved := make([]Product, 0, len(req.lines))
		for _, line := range req.lines {
			product, err := s.inventory.Reserve(txCtx, InventoryCommand{ProductID: line.ProductID, Quantity: line.Quantity})
			if err != nil {
				return err
			}
			reserved = append(reserved, product)
		}

		items, subtotal, err := s.pricing.QuoteLines(pricingLines(reserved, req.lines))
		if err != nil {
			return err
		}
		shipping := s.pricing.ShippingFee(subtotal)

		now := s.now()
		order := Order{
			ID:                orderIDPrefix + s.newID(),
			CustomerID:        customer.ID,
			Receiver:          req.receiver,
			Subtotal:          subtotal,
			ShippingFee:       shipping,
			Discount:          decimal.Zero,
			LoyaltyPointsUsed: req.loyaltyPoints,
			LoyaltyDiscount:   decimal.Zero,
			PaymentMethod:     req.method,
			PaymentStatus:     domain.PaymentStatusUnpaid,
			Status:            domain.OrderStatusPending,
			Note:              req.note,
			CreatedAt:         now,
			UpdatedAt:         now,
		}

		if req.promotionCode != "" {
			applied, err := s.applyPromotion(txCtx, req, customer, subtotal, shipping, order.ID)
			if err != nil {
				return err
			}
			if applied.warning != nil {
				summary.Warnings = append(summary.Warnings, *applied.warning)
			}
			if applied.promotion != nil {
				order.Discount = applied.discount
				order.PromotionID = valuePtr(applied.promotion.ID)
			}
		}

		if req.loyaltyPoints > 0 {
			if req.loyaltyPoints > customer.LoyaltyPoints {
				return fmt.Errorf("%w: requested %d, balance %d", ErrInsufficientLoyaltyPoints, req.loyaltyPoints, customer.LoyaltyPoints)
			}
			if err := s.ledger.DebitLoyaltyPoints(txCtx, customer.ID, req.loyaltyPoints); err != nil {
				return err
			}
			discount, err := s.pricing.LoyaltyDiscount(req.loyaltyPoints)
			if err != nil {
				return err
			}
			order.LoyaltyDiscount = discount
		}

		order.RecomputeTotal()
		order.Lines = s.snapshotLines(order.ID, reserved, items)

		if err := s.insertWithUniqueCode(txCtx, &order); err != nil {
			return err
		}

		if err := s.history.Append(txCtx, OrderHistoryEntry{
			ID:        orderHistoryIDPrefix + s.newID(),
			OrderID:   order.ID,
			ToStatus:  domain.OrderStatusPending,
			Actor:     customer.ID,
			Note:      "order placed",
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("checkout: append history: %w", err)
		}

		if err := s.carts.Clear(txCtx, customer.ID); err != nil {
			return fmt.Errorf("checkout: clear cart: %w", err)
		}

		summary.Order = order
		return nil
	})
	if err != nil {
		s.logger(ctx, "checkout.failed", map[string]any{
			"customerID": req.customerID,
			"error":      err.Error(),
		})
		return OrderSummary{}, err
	}

	span.SetAttributes(attribute.String("order.code", summary.Order.Code))
	s.logger(ctx, "checkout.order_created", map[string]any{
		"orderID":    summary.Order.ID,
		"orderCode":  summary.Order.Code,
		"customerID": summary.Order.CustomerID,
		"total":      summary.Order.Total.String(),
		"method":     string(summary.Order.PaymentMethod),
		"warnings":   len(summary.Warnings),
	})
	return summary, nil
}

// PreviewOrder prices a checkout without reserving stock, redeeming promotions or debiting points.
func (s *checkoutService) PreviewOrder(ctx context.Context, cmd CreateOrderCommand) (OrderPreview, error) {
	req, err := s.normalizeForPreview(cmd)
	if err != nil {
		return OrderPreview{}, err
	}

	customer, err := s.customers.FindByID(ctx, req.customerID)
	if err != nil {
		return OrderPreview{}, mapCustomerRepositoryError(err)
	}

	products := make([]Product, 0, len(req.lines))
	for _, line := range req.lines {
		product, err := s.products.FindByID(ctx, line.ProductID)
		if err != nil {
			if isRepositoryNotFound(err) {
				return OrderPreview{}, fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
			}
			return OrderPreview{}, err
		}
		if product.Stock < line.Quantity {
			return OrderPreview{}, &InsufficientStockError{ProductID: product.ID, Remaining: product.Stock, Requested: line.Quantity}
		}
		products = append(products, product)
	}

	if req.loyaltyPoints > customer.LoyaltyPoints {
		return OrderPreview{}, fmt.Errorf("%w: requested %d, balance %d", ErrInsufficientLoyaltyPoints, req.loyaltyPoints, customer.LoyaltyPoints)
	}

	input := PricingInput{Lines: pricingLines(products, req.lines), LoyaltyPoints: req.loyaltyPoints}
	preview := OrderPreview{}

	if req.promotionCode != "" {
		_, subtotal, err := s.pricing.QuoteLines(input.Lines)
		if err != nil {
			return OrderPreview{}, err
		}
		result, err := s.promotions.ValidatePromotion(ctx, ValidatePromotionCommand{
			Code:        req.promotionCode,
			Customer:    &customer,
			Subtotal:    subtotal,
			ShippingFee: s.pricing.ShippingFee(subtotal),
		})
		if err != nil {
			return OrderPreview{}, err
		}
		if result.Valid {
			input.Promotion = &result.Promotion
			preview.PromotionID = valuePtr(result.Promotion.ID)
		} else if req.strict {
			return OrderPreview{}, result.Rejection()
		} else {
			preview.Warnings = append(preview.Warnings, CheckoutWarning{Code: result.RejectionCode, Message: result.Reason})
		}
	}

	breakdown, err := s.pricing.Calculate(input)
	if err != nil {
		return OrderPreview{}, err
	}
	preview.Breakdown = breakdown
	return preview, nil
}

func (s *checkoutService) applyPromotion(ctx context.Context, req checkoutRequest, customer Customer, subtotal, shipping decimal.Decimal, orderID string) (appliedPromotion, error) {
	result, err := s.promotions.ValidatePromotion(ctx, ValidatePromotionCommand{
		Code:        req.promotionCode,
		Customer:    &customer,
		Subtotal:    subtotal,
		ShippingFee: shipping,
	})
	if err != nil {
		return appliedPromotion{}, err
	}

	var rejection error
	if result.Valid {
		_, rejection = s.promotions.Redeem(ctx, RedeemPromotionCommand{
			Promotion:  result.Promotion,
			CustomerID: customer.ID,
			OrderID:    orderID,
			Discount:   result.Discount,
		})
		if rejection == nil {
			return appliedPromotion{promotion: &result.Promotion, discount: result.Discount}, nil
		}
		if !errors.Is(rejection, ErrPromotionRejected) {
			return appliedPromotion{}, rejection
		}
	} else {
		rejection = result.Rejection()
	}

	if req.strict {
		return appliedPromotion{}, rejection
	}

	var typed *PromotionRejection
	warning := CheckoutWarning{Code: "PROMOTION_REJECTED", Message: rejection.Error()}
	if errors.As(rejection, &typed) {
		warning = CheckoutWarning{Code: typed.Code, Message: typed.Reason}
	}
	s.logger(ctx, "checkout.promotion_rejected", map[string]any{
		"customerID": customer.ID,
		"code":       req.promotionCode,
		"reason":     warning.Code,
	})
	return appliedPromotion{discount: decimal.Zero, warning: &warning}, nil
}

// insertWithUniqueCode retries with a fresh code while the insert reports a code collision.
func (s *checkoutService) insertWithUniqueCode(ctx context.Context, order *Order) error {
	for attempt := 1; attempt <= s.maxCodeAttempts; attempt++ {
		code, err := s.codes.Next(order.CreatedAt)
		if err != nil {
			return err
		}
		order.Code = code

		err = s.orders.Insert(ctx, *order)
		if err == nil {
			return nil
		}
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			s.logger(ctx, "checkout.order_code_collision", map[string]any{
				"code":    code,
				"attempt": attempt,
			})
			continue
		}
		return fmt.Errorf("checkout: persist order: %w", err)
	}
	return fmt.Errorf("%w after %d attempts", ErrCheckoutOrderCodeExhausted, s.maxCodeAttempts)
}

func (s *checkoutService) snapshotLines(orderID string, products []Product, items []ItemPricingBreakdown) []OrderLine {
	lines := make([]OrderLine, len(items))
	for i, item := range items {
		lines[i] = OrderLine{
			ID:          orderLineIDPrefix + s.newID(),
			OrderID:     orderID,
			ProductID:   products[i].ID,
			ProductName: products[i].Name,
			ImageURL:    products[i].ImageURL,
			UnitPrice:   item.EffectiveUnitPrice,
			Quantity:    item.Quantity,
			LineTotal:   item.LineTotal,
		}
	}
	return lines
}

func (s *checkoutService) normalize(cmd CreateOrderCommand) (checkoutRequest, error) {
	req, err := s.normalizeForPreview(cmd)
	if err != nil {
		return checkoutRequest{}, err
	}
	receiver := ReceiverInfo{
		Name:    textutil.PlainText(cmd.Receiver.Name, maxReceiverRunes),
		Phone:   textutil.PlainText(cmd.Receiver.Phone, 32),
		Address: textutil.PlainText(cmd.Receiver.Address, maxReceiverRunes),
	}
	if receiver.Name == "" || receiver.Phone == "" || receiver.Address == "" {
		return checkoutRequest{}, fmt.Errorf("%w: receiver name, phone and address are required", ErrCheckoutInvalidInput)
	}
	req.receiver = receiver
	return req, nil
}

func (s *checkoutService) normalizeForPreview(cmd CreateOrderCommand) (checkoutRequest, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return checkoutRequest{}, fmt.Errorf("%w: customer id is required", ErrCheckoutInvalidInput)
	}
	method := PaymentMethod(strings.ToUpper(strings.TrimSpace(string(cmd.PaymentMethod))))
	if !method.Valid() {
		return checkoutRequest{}, fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}
	if method.IsGateway() && (s.payments == nil || !s.payments.Supports(method)) {
		return checkoutRequest{}, fmt.Errorf("%w: %s", ErrCheckoutPaymentMethodUnavailable, method)
	}
	if cmd.LoyaltyPoints < 0 {
		return checkoutRequest{}, fmt.Errorf("%w: loyalty points must not be negative", ErrCheckoutInvalidInput)
	}
	lines, err := mergeCartLines(cmd.Lines)
	if err != nil {
		return checkoutRequest{}, err
	}

	strict := s.strictPromotion
	if cmd.StrictPromotion != nil {
		strict = *cmd.StrictPromotion
	}

	return checkoutRequest{
		customerID:    customerID,
		method:        method,
		promotionCode: textutil.NormalizeCode(cmd.PromotionCode),
		loyaltyPoints: cmd.LoyaltyPoints,
		lines:         lines,
		note:          textutil.PlainText(cmd.Note, maxNoteRunes),
		strict:        strict,
	}, nil
}

func (s *checkoutService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

// mergeCartLines folds duplicate products into one line, keeping first-seen order.
func mergeCartLines(lines []CartLine) ([]CartLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrCheckoutInvalidInput)
	}
	merged := make([]CartLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrCheckoutInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrCheckoutInvalidInput, productID)
		}
		if i, ok := index[productID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[productID] = len(merged)
		merged = append(merged, CartLine{ProductID: productID, Quantity: line.Quantity})
	}
	return merged, nil
}

func pricingLines(products []Product, lines []CartLine) []PricingLine {
	out := make([]PricingLine, len(lines))
	for i, line := range lines {
		out[i] = PricingLine{
			ProductID:       products[i].ID,
			Price:           products[i].Price,
			DiscountPercent: products[i].DiscountPercent,
			Quantity:        line.Quantity,
		}
	}
	return out
}
