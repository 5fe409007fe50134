package services

import (
	"errors"
	"fmt"
	"slices"
	"time"

	domain "github.com/medimart/api/internal/domain"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates another writer changed the order first.
	ErrOrderConflict = errors.New("order: conflict")
)

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPending:   {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed: {domain.OrderStatusPreparing, domain.OrderStatusCancelled},
	domain.OrderStatusPreparing: {domain.OrderStatusShipping, domain.OrderStatusCancelled},
	domain.OrderStatusShipping:  {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
}

// Customers may only cancel their own orders before staff confirm them.
var customerCancellableStatuses = []OrderStatus{domain.OrderStatusPending}

// InvalidTransitionError identifies the rejected from and to statuses.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order: invalid status transition %s -> %s", e.From, e.To)
}

// Is lets errors.Is match ErrOrderInvalidState.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrOrderInvalidState
}

func canTransition(current, target OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

// AllowedTransitions lists the statuses reachable from current.
func AllowedTransitions(current OrderStatus) []OrderStatus {
	return slices.Clone(orderStateTransitions[current])
}

// applyStatusTransition validates the move and stamps the in-memory order.
// Persistence and the cross-aggregate side effects run in the caller's unit of work.
func applyStatusTransition(order *Order, target OrderStatus, actor, reason string, now time.Time) error {
	current := order.Status
	if !canTransition(current, target) {
		return &InvalidTransitionError{From: current, To: target}
	}

	order.Status = target
	order.UpdatedAt = now

	switch target {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &now
		if actor != "" {
			order.ConfirmedBy = valuePtr(actor)
		}
	case domain.OrderStatusPreparing:
		order.PreparedAt = &now
	case domain.OrderStatusShipping:
		order.ShippedAt = &now
	case domain.OrderStatusCompleted:
		order.CompletedAt = &now
		order.PaymentStatus = domain.PaymentStatusPaid
		if order.PaidAt == nil {
			order.PaidAt = &now
		}
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
		order.CancelReason = optionalString(reason)
		if order.PaymentStatus != domain.PaymentStatusPaid {
			order.PaymentStatus = domain.PaymentStatusUnpaid
		}
	}
	return nil
}

func valuePtr[T any](v T) *T {
	return &v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
