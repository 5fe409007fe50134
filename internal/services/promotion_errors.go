package services

import (
	"errors"
	"fmt"
)

var (
	// ErrPromotionRepositoryMissing indicates the promotion repository dependency is absent.
	ErrPromotionRepositoryMissing = errors.New("promotion service: repository is not configured")
	// ErrPromotionInvalidCode signals the supplied promotion code is missing or invalid.
	ErrPromotionInvalidCode = errors.New("promotion service: invalid promotion code")
	// ErrPromotionInvalidInput signals missing identifiers in redemption or listing requests.
	ErrPromotionInvalidInput = errors.New("promotion service: invalid input")
	// ErrPromotionRejected is matched by every *PromotionRejection.
	ErrPromotionRejected = errors.New("promotion service: promotion rejected")
)

// Rejection codes reported by promotion validation, in check order.
const (
	PromotionRejectNotFound         = "PROMOTION_NOT_FOUND"
	PromotionRejectExpired          = "PROMOTION_EXPIRED"
	PromotionRejectNotYetActive     = "PROMOTION_NOT_YET_ACTIVE"
	PromotionRejectTierIneligible   = "TIER_INELIGIBLE"
	PromotionRejectBelowMinimum     = "BELOW_MINIMUM_ORDER"
	PromotionRejectUsageLimit       = "USAGE_LIMIT_EXCEEDED"
	PromotionRejectCustomerUsageCap = "CUSTOMER_USAGE_EXCEEDED"
)

// PromotionRejection is an expected business rejection of a promotion code.
type PromotionRejection struct {
	Code   string
	Reason string
}

func (e *PromotionRejection) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("promotion rejected (%s): %s", e.Code, e.Reason)
}

// Is lets errors.Is match ErrPromotionRejected.
func (e *PromotionRejection) Is(target error) bool {
	return target == ErrPromotionRejected
}

// Rejection converts a failed validation result into an error. Valid results return nil.
func (r PromotionValidationResult) Rejection() error {
	if r.Valid {
		return nil
	}
	return &PromotionRejection{Code: r.RejectionCode, Reason: r.Reason}
}
