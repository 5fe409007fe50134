package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/textutil"
	"github.com/medimart/api/internal/repositories"
)

const promotionUsageIDPrefix = "pru_"

// PromotionServiceDeps bundles dependencies required to construct a PromotionService implementation.
type PromotionServiceDeps struct {
	Promotions  repositories.PromotionRepository
	Usage       repositories.PromotionUsageRepository
	Customers   repositories.CustomerRepository
	Pricing     *PricingEngine
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type promotionService struct {
	repo      repositories.PromotionRepository
	usage     repositories.PromotionUsageRepository
	customers repositories.CustomerRepository
	pricing   *PricingEngine
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

var _ PromotionService = (*promotionService)(nil)

// NewPromotionService wires a PromotionService backed by the provided repositories.
func NewPromotionService(deps PromotionServiceDeps) (PromotionService, error) {
	if deps.Promotions == nil {
		return nil, ErrPromotionRepositoryMissing
	}
	if deps.Usage == nil {
		return nil, errors.New("promotion service: usage repository is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("promotion service: customer repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("promotion service: pricing engine is required")
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
	return &promotionService{
		repo:      deps.Promotions,
		usage:     deps.Usage,
		customers: deps.Customers,
		pricing:   deps.Pricing,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

// ValidatePromotion runs the checks in order and stops at the first failure.
// Business rejections come back as an invalid result, not an error.
func (s *promotionService) ValidatePromotion(ctx context.Context, cmd ValidatePromotionCommand) (PromotionValidationResult, error) {
	code := textutil.NormalizeCode(cmd.Code)
	if code == "" {
		return PromotionValidationResult{}, ErrPromotionInvalidCode
	}
	if cmd.Subtotal.IsNegative() {
		return PromotionValidationResult{}, fmt.Errorf("%w: subtotal must not be negative", ErrPromotionInvalidInput)
	}

	customer, err := s.resolveCustomer(ctx, cmd)
	if err != nil {
		return PromotionValidationResult{}, err
	}

	promo, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if isRepositoryNotFound(err) {
			return rejectPromotion(code, PromotionRejectNotFound, fmt.Sprintf("Promotion code %s does not exist", code)), nil
		}
		return PromotionValidationResult{}, s.mapRepositoryError(err)
	}
	if !promo.Active {
		return rejectPromotion(code, PromotionRejectNotFound, fmt.Sprintf("Promotion code %s does not exist", code)), nil
	}

	now := s.clock()
	if promo.StartsAt != nil && now.Before(*promo.StartsAt) {
		return rejectPromotion(code, PromotionRejectNotYetActive, fmt.Sprintf("Promotion %s starts on %s", promo.Code, promo.StartsAt.Format(time.DateOnly))), nil
	}
	if promo.EndsAt != nil && now.After(*promo.EndsAt) {
		return rejectPromotion(code, PromotionRejectExpired, fmt.Sprintf("Promotion %s expired on %s", promo.Code, promo.EndsAt.Format(time.DateOnly))), nil
	}

	if tier := strings.ToUpper(strings.TrimSpace(promo.EligibleTier)); tier != "" && tier != domain.PromotionTierAll && tier != string(customer.Tier) {
		return rejectPromotion(code, PromotionRejectTierIneligible, fmt.Sprintf("Promotion %s is only available to %s members", promo.Code, tier)), nil
	}

	if cmd.Subtotal.LessThan(promo.MinOrderAmount) {
		return rejectPromotion(code, PromotionRejectBelowMinimum, fmt.Sprintf("Order subtotal must be at least %s to use %s", promo.MinOrderAmount.String(), promo.Code)), nil
	}

	if promo.UsageLimit != nil && promo.UsedCount >= *promo.UsageLimit {
		return rejectPromotion(code, PromotionRejectUsageLimit, fmt.Sprintf("Promotion %s has been fully redeemed", promo.Code)), nil
	}

	if promo.UsagePerCustomer != nil {
		used, err := s.usage.CountByCustomer(ctx, promo.ID, customer.ID)
		if err != nil {
			return PromotionValidationResult{}, s.mapRepositoryError(err)
		}
		if used >= *promo.UsagePerCustomer {
			return rejectPromotion(code, PromotionRejectCustomerUsageCap, fmt.Sprintf("You have already used %s %d time(s)", promo.Code, used)), nil
		}
	}

	return PromotionValidationResult{
		Valid:     true,
		Code:      promo.Code,
		Promotion: promo,
		Discount:  s.pricing.PromotionDiscount(promo, cmd.Subtotal, cmd.ShippingFee),
	}, nil
}

// Redeem consumes one global and one per-customer use and records the usage.
// The counters are conditional updates, so losing a race yields a *PromotionRejection.
func (s *promotionService) Redeem(ctx context.Context, cmd RedeemPromotionCommand) (PromotionUsage, error) {
	promotionID := strings.TrimSpace(cmd.Promotion.ID)
	customerID := strings.TrimSpace(cmd.CustomerID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if promotionID == "" || customerID == "" || orderID == "" {
		return PromotionUsage{}, fmt.Errorf("%w: promotion, customer and order ids are required", ErrPromotionInvalidInput)
	}
	if cmd.Discount.IsNegative() {
		return PromotionUsage{}, fmt.Errorf("%w: discount must not be negative", ErrPromotionInvalidInput)
	}

	ok, err := s.repo.IncrementUsed(ctx, promotionID)
	if err != nil {
		return PromotionUsage{}, s.mapRepositoryError(err)
	}
	if !ok {
		return PromotionUsage{}, &PromotionRejection{Code: PromotionRejectUsageLimit, Reason: fmt.Sprintf("Promotion %s has been fully redeemed", cmd.Promotion.Code)}
	}

	ok, err = s.usage.IncrementCustomer(ctx, promotionID, customerID, cmd.Promotion.UsagePerCustomer)
	if err != nil || !ok {
		s.releaseUsed(ctx, promotionID)
		if err != nil {
			return PromotionUsage{}, s.mapRepositoryError(err)
		}
		return PromotionUsage{}, &PromotionRejection{Code: PromotionRejectCustomerUsageCap, Reason: fmt.Sprintf("You have already used %s", cmd.Promotion.Code)}
	}

	usage := PromotionUsage{
		ID:          promotionUsageIDPrefix + s.newID(),
		PromotionID: promotionID,
		CustomerID:  customerID,
		OrderID:     orderID,
		Discount:    cmd.Discount,
		CreatedAt:   s.clock(),
	}
	if err := s.usage.Insert(ctx, usage); err != nil {
		return PromotionUsage{}, s.mapRepositoryError(err)
	}
	return usage, nil
}

func (s *promotionService) ListPromotionUsage(ctx context.Context, filter PromotionUsageFilter) (domain.CursorPage[PromotionUsage], error) {
	promotionID := strings.TrimSpace(filter.PromotionID)
	if promotionID == "" {
		return domain.CursorPage[PromotionUsage]{}, fmt.Errorf("%w: promotion id is required", ErrPromotionInvalidInput)
	}
	page, err := s.usage.ListByPromotion(ctx, promotionID, filter.Pagination)
	if err != nil {
		return domain.CursorPage[PromotionUsage]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *promotionService) resolveCustomer(ctx context.Context, cmd ValidatePromotionCommand) (Customer, error) {
	if cmd.Customer != nil {
		return *cmd.Customer, nil
	}
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Customer{}, fmt.Errorf("%w: customer id is required", ErrPromotionInvalidInput)
	}
	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		return Customer{}, mapCustomerRepositoryError(err)
	}
	return customer, nil
}

// releaseUsed compensates IncrementUsed. Inside a checkout transaction a failure here is
// also undone by the rollback, so it is only logged.
func (s *promotionService) releaseUsed(ctx context.Context, promotionID string) {
	if err := s.repo.ReleaseUsed(ctx, promotionID); err != nil {
		s.logger(ctx, "promotions.release_failed", map[string]any{
			"promotionID": promotionID,
			"error":       err.Error(),
		})
	}
}

func (s *promotionService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("promotion service: repository unavailable: %w", err)
	}
	return err
}

func rejectPromotion(promotionCode, rejection, reason string) PromotionValidationResult {
	return PromotionValidationResult{Code: promotionCode, RejectionCode: rejection, Reason: reason, Discount: decimal.Zero}
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
