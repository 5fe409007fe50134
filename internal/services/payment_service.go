package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/payments"
	"github.com/medimart/api/internal/repositories"
)

var (
	// ErrPaymentInvalidInput indicates the caller supplied invalid input parameters.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentOrderNotFound indicates the callback or request references an unknown order.
	ErrPaymentOrderNotFound = errors.New("payment: order not found")
	// ErrPaymentAmountMismatch indicates the signed amount differs from the order total.
	ErrPaymentAmountMismatch = errors.New("payment: amount mismatch")
	// ErrPaymentOrderCancelled indicates a success callback arrived for a cancelled order.
	ErrPaymentOrderCancelled = errors.New("payment: order already cancelled")
	// ErrPaymentNotPayable indicates the order cannot start an online payment.
	ErrPaymentNotPayable = errors.New("payment: order is not awaiting online payment")
)

// PaymentServiceDeps wires the dependencies required by the payment service.
type PaymentServiceDeps struct {
	Orders   repositories.OrderRepository
	Order    OrderService
	Gateways *payments.Manager
	Currency string
	Meter    metric.Meter
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders    repositories.OrderRepository
	order     OrderService
	gateways  *payments.Manager
	currency  string
	callbacks metric.Int64Counter
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

var _ PaymentService = (*paymentService)(nil)

// NewPaymentService constructs a PaymentService validating required dependencies.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Order == nil {
		return nil, errors.New("payment service: order service is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("payment service: gateway manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter("github.com/medimart/api/internal/services")
	}
	callbacks, err := meter.Int64Counter(
		"payments.callbacks",
		metric.WithDescription("Count of gateway callbacks by gateway and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("payment service: register callback metric: %w", err)
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "VND"
	}

	return &paymentService{
		orders:    deps.Orders,
		order:     deps.Order,
		gateways:  deps.Gateways,
		currency:  currency,
		callbacks: callbacks,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreatePaymentURL signs a redirect for a PENDING, unpaid gateway order owned by the caller.
func (s *paymentService) CreatePaymentURL(ctx context.Context, cmd CreatePaymentCommand) (payments.PaymentURL, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return payments.PaymentURL{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	if strings.TrimSpace(cmd.ClientIP) == "" {
		return payments.PaymentURL{}, fmt.Errorf("%w: client ip is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return payments.PaymentURL{}, fmt.Errorf("%w: %s", ErrPaymentOrderNotFound, orderID)
		}
		return payments.PaymentURL{}, err
	}
	if err := checkOrderOwner(order, cmd.CustomerID); err != nil {
		return payments.PaymentURL{}, fmt.Errorf("%w: %s", ErrPaymentOrderNotFound, orderID)
	}
	if !order.PaymentMethod.IsGateway() ||
		order.Status != domain.OrderStatusPending ||
		order.PaymentStatus != domain.PaymentStatusUnpaid {
		return payments.PaymentURL{}, fmt.Errorf("%w: order %s is %s/%s via %s", ErrPaymentNotPayable, order.Code, order.Status, order.PaymentStatus, order.PaymentMethod)
	}

	gateway, err := s.gateways.ForMethod(order.PaymentMethod)
	if err != nil {
		return payments.PaymentURL{}, err
	}
	redirect, err := gateway.BuildPaymentURL(payments.PaymentRequest{
		TxnRef:   order.Code,
		Amount:   order.Total,
		Currency: s.currency,
		ClientIP: cmd.ClientIP,
		Locale:   cmd.Locale,
		BankCode: cmd.BankCode,
	})
	if err != nil {
		return payments.PaymentURL{}, err
	}

	s.logger(ctx, "payments.url_created", map[string]any{
		"orderID":   order.ID,
		"orderCode": order.Code,
		"gateway":   gateway.Name(),
		"amount":    redirect.Amount,
		"expiresAt": redirect.ExpiresAt,
	})
	return redirect, nil
}

// HandleCallback verifies a gateway callback and settles the order it references. The
// signature is checked before anything in the payload is used. Repeated deliveries of
// the same callback report PaymentOutcomeAlreadyProcessed and change nothing.
func (s *paymentService) HandleCallback(ctx context.Context, cmd PaymentCallbackCommand) (_ PaymentCallbackResult, err error) {
	ctx, span := tracer.Start(ctx, "payments.handle_callback", trace.WithAttributes(
		attribute.String("payment.gateway", cmd.Gateway),
	))
	outcome := "error"
	defer func() {
		s.callbacks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("gateway", strings.ToLower(cmd.Gateway)),
			attribute.String("outcome", outcome),
		))
		endSpan(span, err)
	}()

	gateway, err := s.gateways.ByName(cmd.Gateway)
	if err != nil {
		outcome = "unsupported_gateway"
		return PaymentCallbackResult{}, err
	}

	cb, err := gateway.VerifyCallback(cmd.Params)
	if err != nil {
		outcome = "rejected"
		s.logger(ctx, "payments.callback_rejected", map[string]any{
			"gateway": gateway.Name(),
			"txnRef":  cmd.Params.Get(payments.ParamTxnRef),
			"error":   err.Error(),
		})
		return PaymentCallbackResult{}, err
	}
	span.SetAttributes(
		attribute.String("order.code", cb.TxnRef),
		attribute.String("payment.response_code", cb.ResponseCode),
	)

	order, err := s.orders.FindByCode(ctx, cb.TxnRef)
	if err != nil {
		if isRepositoryNotFound(err) {
			outcome = "order_not_found"
			return PaymentCallbackResult{}, fmt.Errorf("%w: %s", ErrPaymentOrderNotFound, cb.TxnRef)
		}
		return PaymentCallbackResult{}, err
	}
	if order.PaymentMethod != gateway.Method() {
		outcome = "order_not_found"
		return PaymentCallbackResult{}, fmt.Errorf("%w: %s is not paid through %s", ErrPaymentOrderNotFound, cb.TxnRef, gateway.Name())
	}

	expected, err := payments.MinorUnits(order.Total)
	if err != nil {
		return PaymentCallbackResult{}, err
	}
	if expected != cb.Amount {
		outcome = "amount_mismatch"
		s.logger(ctx, "payments.amount_mismatch", map[string]any{
			"orderID":  order.ID,
			"expected": expected,
			"received": cb.Amount,
		})
		return PaymentCallbackResult{}, fmt.Errorf("%w: order %s expects %d, callback carries %d", ErrPaymentAmountMismatch, order.Code, expected, cb.Amount)
	}

	result := PaymentCallbackResult{Order: order, Callback: cb}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		outcome = "already_processed"
		result.Outcome = PaymentOutcomeAlreadyProcessed
		return result, nil
	}

	if cb.Succeeded() {
		result, err = s.settle(ctx, gateway.Name(), order, cb)
	} else {
		result, err = s.cancelForFailure(ctx, gateway.Name(), order, cb)
	}
	if err != nil {
		return PaymentCallbackResult{}, err
	}
	outcome = strings.ToLower(string(result.Outcome))
	return result, nil
}

func (s *paymentService) settle(ctx context.Context, gatewayName string, order Order, cb payments.Callback) (PaymentCallbackResult, error) {
	paidAt := s.now()
	if cb.PayDate != nil {
		paidAt = *cb.PayDate
	}

	ok, err := s.orders.MarkPaid(ctx, order.ID, cb.TransactionNo, paidAt)
	if err != nil {
		return PaymentCallbackResult{}, err
	}

	current, err := s.orders.FindByID(ctx, order.ID)
	if err != nil {
		return PaymentCallbackResult{}, err
	}
	result := PaymentCallbackResult{Order: current, Callback: cb}

	if !ok {
		switch {
		case current.PaymentStatus == domain.PaymentStatusPaid:
			result.Outcome = PaymentOutcomeAlreadyProcessed
			return result, nil
		case current.Status == domain.OrderStatusCancelled:
			s.logger(ctx, "payments.paid_after_cancel", map[string]any{
				"orderID":       order.ID,
				"gateway":       gatewayName,
				"transactionNo": cb.TransactionNo,
			})
			return PaymentCallbackResult{}, fmt.Errorf("%w: %s", ErrPaymentOrderCancelled, order.Code)
		default:
			return PaymentCallbackResult{}, fmt.Errorf("payment: order %s could not be marked paid", order.Code)
		}
	}

	s.logger(ctx, "payments.order_paid", map[string]any{
		"orderID":       order.ID,
		"orderCode":     order.Code,
		"gateway":       gatewayName,
		"transactionNo": cb.TransactionNo,
		"amount":        cb.Amount,
	})
	result.Outcome = PaymentOutcomePaid
	return result, nil
}

func (s *paymentService) cancelForFailure(ctx context.Context, gatewayName string, order Order, cb payments.Callback) (PaymentCallbackResult, error) {
	if order.Status == domain.OrderStatusCancelled {
		return PaymentCallbackResult{Outcome: PaymentOutcomeAlreadyProcessed, Order: order, Callback: cb}, nil
	}

	reason := fmt.Sprintf("payment failed: code %s (%s)", cb.ResponseCode, payments.ResponseMessage(cb.ResponseCode))
	cancelled, err := s.order.Cancel(ctx, CancelOrderCommand{
		OrderID:       order.ID,
		ActorID:       "gateway:" + gatewayName,
		Reason:        reason,
		RequireUnpaid: true,
	})
	if err != nil {
		if errors.Is(err, ErrOrderInvalidState) || errors.Is(err, ErrOrderConflict) {
			current, findErr := s.orders.FindByID(ctx, order.ID)
			if findErr != nil {
				return PaymentCallbackResult{}, findErr
			}
			if current.Status == domain.OrderStatusCancelled || current.PaymentStatus == domain.PaymentStatusPaid {
				return PaymentCallbackResult{Outcome: PaymentOutcomeAlreadyProcessed, Order: current, Callback: cb}, nil
			}
		}
		return PaymentCallbackResult{}, err
	}

	s.logger(ctx, "payments.order_cancelled", map[string]any{
		"orderID":      order.ID,
		"orderCode":    order.Code,
		"gateway":      gatewayName,
		"responseCode": cb.ResponseCode,
	})
	return PaymentCallbackResult{Outcome: PaymentOutcomeCancelled, Order: cancelled, Callback: cb}, nil
}
