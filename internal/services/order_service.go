package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/textutil"
	"github.com/medimart/api/internal/repositories"
)

const (
	orderHistoryIDPrefix = "ohs_"

	// ActorSystem marks changes made by background reconciliation.
	ActorSystem = "system"

	maxReasonRunes         = 500
	defaultExpireBatchSize = 100
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	History    repositories.OrderHistoryRepository
	Inventory  InventoryService
	Customers  CustomerLedger
	UnitOfWork repositories.UnitOfWork
	Notifier   OrderStatusNotifier
	// UnpaidOrderTTL is the default age after which ExpireUnpaid cancels gateway orders.
	UnpaidOrderTTL time.Duration
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	history    repositories.OrderHistoryRepository
	inventory  InventoryService
	customers  CustomerLedger
	unitOfWork repositories.UnitOfWork
	notifier   OrderStatusNotifier
	unpaidTTL  time.Duration
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.History == nil {
		return nil, errors.New("order service: history repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("order service: customer ledger is required")
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

	ttl := deps.UnpaidOrderTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	return &orderService{
		orders:     deps.Orders,
		history:    deps.History,
		inventory:  deps.Inventory,
		customers:  deps.Customers,
		unitOfWork: unit,
		notifier:   deps.Notifier,
		unpaidTTL:  ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if err := checkOrderOwner(order, opts.CustomerID); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	filter.CustomerID = strings.TrimSpace(filter.CustomerID)
	for _, status := range filter.Status {
		if _, known := orderStateTransitions[status]; !known && !status.IsTerminal() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// ListHistory returns the audit trail oldest first. Customer scoped reads require the order
// to exist and belong to the customer; staff reads also work for deleted orders.
func (s *orderService) ListHistory(ctx context.Context, orderID string, opts OrderReadOptions) ([]OrderHistoryEntry, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(opts.CustomerID) != "" {
		if _, err := s.GetOrder(ctx, orderID, opts); err != nil {
			return nil, err
		}
	}
	entries, err := s.history.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return entries, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	target := OrderStatus(strings.ToUpper(strings.TrimSpace(string(cmd.TargetStatus))))
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}
	reason := textutil.PlainText(cmd.Reason, maxReasonRunes)
	if target == domain.OrderStatusCancelled && reason == "" {
		return Order{}, fmt.Errorf("%w: cancellation reason is required", ErrOrderInvalidInput)
	}

	return s.transition(ctx, transitionRequest{
		orderID: orderID,
		target:  target,
		actor:   strings.TrimSpace(cmd.ActorID),
		reason:  reason,
		note:    textutil.PlainText(cmd.Note, maxReasonRunes),
	})
}

// Cancel moves an order to CANCELLED and releases its stock. Customer requests
// are limited to their own PENDING orders; staff may cancel any non-terminal order.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	customerID := strings.TrimSpace(cmd.CustomerID)
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		actor = customerID
	}
	reason := textutil.PlainText(cmd.Reason, maxReasonRunes)
	if reason == "" && customerID != "" {
		reason = "cancelled by customer"
	}

	req := transitionRequest{
		orderID: orderID,
		target:  domain.OrderStatusCancelled,
		actor:   actor,
		reason:  reason,
		note:    reason,
	}
	req.guard = func(order Order) error {
		if customerID != "" {
			if err := checkOrderOwner(order, customerID); err != nil {
				return err
			}
			if !slices.Contains(customerCancellableStatuses, order.Status) {
				return &InvalidTransitionError{From: order.Status, To: domain.OrderStatusCancelled}
			}
		}
		if cmd.RequireUnpaid && order.PaymentStatus != domain.PaymentStatusUnpaid {
			return fmt.Errorf("%w: order %s has been paid", ErrOrderConflict, order.ID)
		}
		return nil
	}
	return s.transition(ctx, req)
}

func (s *orderService) DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if err := s.orders.Delete(ctx, orderID); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return fmt.Errorf("%w: only cancelled orders that were never paid can be deleted", ErrOrderConflict)
		}
		return s.mapRepositoryError(err)
	}
	s.logger(ctx, "orders.deleted", map[string]any{
		"orderID": orderID,
		"actor":   strings.TrimSpace(cmd.ActorID),
	})
	return nil
}

// ExpireUnpaid cancels PENDING gateway orders whose payment never arrived. Orders that
// changed while the batch ran are reported as skipped.
func (s *orderService) ExpireUnpaid(ctx context.Context, cmd ExpireUnpaidCommand) (ExpireUnpaidResult, error) {
	ttl := cmd.OlderThan
	if ttl <= 0 {
		ttl = s.unpaidTTL
	}
	limit := cmd.Limit
	if limit <= 0 {
		limit = defaultExpireBatchSize
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		actor = ActorSystem
	}

	cutoff := s.now().Add(-ttl)
	candidates, err := s.orders.ListExpiredUnpaid(ctx, repositories.ExpiredUnpaidQuery{
		CreatedBefore: cutoff,
		Methods:       []PaymentMethod{domain.PaymentMethodGatewayA, domain.PaymentMethodGatewayB},
		Limit:         limit,
	})
	if err != nil {
		return ExpireUnpaidResult{}, s.mapRepositoryError(err)
	}

	result := ExpireUnpaidResult{}
	reason := fmt.Sprintf("payment not completed within %s", ttl)
	for _, candidate := range candidates {
		_, err := s.transition(ctx, transitionRequest{
			orderID: candidate.ID,
			target:  domain.OrderStatusCancelled,
			actor:   actor,
			reason:  reason,
			note:    reason,
			guard: func(order Order) error {
				if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusUnpaid {
					return fmt.Errorf("%w: order %s is no longer awaiting payment", ErrOrderConflict, order.ID)
				}
				return nil
			},
		})
		switch {
		case err == nil:
			result.Cancelled = append(result.Cancelled, candidate.ID)
		case errors.Is(err, ErrOrderConflict), errors.Is(err, ErrOrderInvalidState), errors.Is(err, ErrOrderNotFound):
			result.Skipped = append(result.Skipped, candidate.ID)
		default:
			s.logger(ctx, "orders.expire_failed", map[string]any{
				"orderID": candidate.ID,
				"error":   err.Error(),
			})
			result.Skipped = append(result.Skipped, candidate.ID)
		}
	}

	s.logger(ctx, "orders.expire_unpaid", map[string]any{
		"cutoff":    cutoff,
		"cancelled": len(result.Cancelled),
		"skipped":   len(result.Skipped),
	})
	return result, nil
}

type transitionRequest struct {
	orderID string
	target  OrderStatus
	actor   string
	reason  string
	note    string
	// guard runs against the freshly loaded order inside the unit of work.
	guard func(Order) error
}

// transition applies one state change with its side effects and history entry in a single
// unit of work. The status update is conditional on the status and payment status that
// were read, so a concurrent change surfaces as ErrOrderConflict instead of being overwritten.
func (s *orderService) transition(ctx context.Context, req transitionRequest) (_ Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.transition", trace.WithAttributes(
		attribute.String("order.id", req.orderID),
		attribute.String("order.target_status", string(req.target)),
	))
	defer func() { endSpan(span, err) }()

	var (
		updated  Order
		previous OrderStatus
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, req.orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if req.guard != nil {
			if err := req.guard(order); err != nil {
				return err
			}
		}

		previous = order.Status
		previousPayment := order.PaymentStatus
		now := s.now()
		if err := applyStatusTransition(&order, req.target, req.actor, req.reason, now); err != nil {
			return err
		}

		ok, err := s.orders.UpdateStatus(txCtx, order, previous, previousPayment)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !ok {
			return fmt.Errorf("%w: order %s changed concurrently", ErrOrderConflict, order.ID)
		}

		if err := s.applySideEffects(txCtx, order); err != nil {
			return err
		}

		if err := s.appendHistory(txCtx, order.ID, previous, order.Status, req.actor, req.note, now); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.notify(ctx, updated, previous, req.actor, req.reason)
	return updated, nil
}

func (s *orderService) applySideEffects(ctx context.Context, order Order) error {
	switch order.Status {
	case domain.OrderStatusCancelled:
		for _, line := range order.Lines {
			if _, err := s.inventory.Release(ctx, InventoryCommand{ProductID: line.ProductID, Quantity: line.Quantity}); err != nil {
				if errors.Is(err, ErrProductNotFound) {
					s.logger(ctx, "orders.release_skipped", map[string]any{
						"orderID":   order.ID,
						"productID": line.ProductID,
						"quantity":  line.Quantity,
					})
					continue
				}
				return err
			}
		}
	case domain.OrderStatusCompleted:
		if _, err := s.customers.CreditSpend(ctx, order.CustomerID, order.Total); err != nil {
			return err
		}
	}
	return nil
}

func (s *orderService) appendHistory(ctx context.Context, orderID string, from, to OrderStatus, actor, note string, now time.Time) error {
	entry := OrderHistoryEntry{
		ID:         orderHistoryIDPrefix + s.newID(),
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		Note:       note,
		CreatedAt:  now,
	}
	if err := s.history.Append(ctx, entry); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *orderService) notify(ctx context.Context, order Order, previous OrderStatus, actor, reason string) {
	if s.notifier == nil {
		return
	}
	event := OrderStatusChangedEvent{
		OrderID:        order.ID,
		OrderCode:      order.Code,
		CustomerID:     order.CustomerID,
		PreviousStatus: previous,
		CurrentStatus:  order.Status,
		PaymentStatus:  order.PaymentStatus,
		ActorID:        actor,
		Reason:         reason,
		OccurredAt:     order.UpdatedAt,
	}
	if err := s.notifier.NotifyOrderStatusChanged(ctx, event); err != nil {
		s.logger(ctx, "orders.notify_failed", map[string]any{
			"orderID": order.ID,
			"status":  string(order.Status),
			"error":   err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// checkOrderOwner hides other customers' orders behind ErrOrderNotFound.
func checkOrderOwner(order Order, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" || order.CustomerID == customerID {
		return nil
	}
	return fmt.Errorf("%w: order %s", ErrOrderNotFound, order.ID)
}
