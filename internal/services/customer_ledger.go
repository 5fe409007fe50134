package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/config"
	"github.com/medimart/api/internal/repositories"
)

var (
	// ErrCustomerInvalidInput signals missing identifiers or negative amounts.
	ErrCustomerInvalidInput = errors.New("customer: invalid input")
	// ErrCustomerNotFound indicates the referenced customer does not exist.
	ErrCustomerNotFound = errors.New("customer: not found")
	// ErrInsufficientLoyaltyPoints is returned when a redemption exceeds the balance.
	ErrInsufficientLoyaltyPoints = errors.New("customer: insufficient loyalty points")
)

// CustomerLedgerDeps bundles collaborators for the customer ledger.
type CustomerLedgerDeps struct {
	Customers repositories.CustomerRepository
	Tiers     config.TierConfig
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type customerLedger struct {
	customers repositories.CustomerRepository
	tiers     config.TierConfig
	logger    func(context.Context, string, map[string]any)
}

var _ CustomerLedger = (*customerLedger)(nil)

// NewCustomerLedger wires the loyalty and spend hooks.
func NewCustomerLedger(deps CustomerLedgerDeps) (CustomerLedger, error) {
	if deps.Customers == nil {
		return nil, errors.New("customer ledger: customer repository is required")
	}
	tiers := deps.Tiers
	if !(tiers.Silver.LessThan(tiers.Gold) && tiers.Gold.LessThan(tiers.Platinum)) {
		return nil, errors.New("customer ledger: tier thresholds must be strictly increasing")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &customerLedger{
		customers: deps.Customers,
		tiers:     tiers,
		logger:    logger,
	}, nil
}

func (l *customerLedger) DebitLoyaltyPoints(ctx context.Context, customerID string, points int64) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrCustomerInvalidInput)
	}
	if points < 0 {
		return fmt.Errorf("%w: loyalty points must not be negative", ErrCustomerInvalidInput)
	}
	if points == 0 {
		return nil
	}
	ok, err := l.customers.DebitLoyaltyPoints(ctx, customerID, points)
	if err != nil {
		return mapCustomerRepositoryError(err)
	}
	if !ok {
		customer, err := l.customers.FindByID(ctx, customerID)
		if err != nil {
			return mapCustomerRepositoryError(err)
		}
		return fmt.Errorf("%w: requested %d, balance %d", ErrInsufficientLoyaltyPoints, points, customer.LoyaltyPoints)
	}
	return nil
}

func (l *customerLedger) CreditSpend(ctx context.Context, customerID string, amount decimal.Decimal) (Customer, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Customer{}, fmt.Errorf("%w: customer id is required", ErrCustomerInvalidInput)
	}
	if amount.IsNegative() {
		return Customer{}, fmt.Errorf("%w: spend must not be negative", ErrCustomerInvalidInput)
	}

	customer, err := l.customers.CreditSpend(ctx, customerID, amount)
	if err != nil {
		return Customer{}, mapCustomerRepositoryError(err)
	}

	tier := TierForSpend(l.tiers, customer.TotalSpent)
	if tier != customer.Tier {
		if err := l.customers.UpdateTier(ctx, customerID, tier); err != nil {
			return Customer{}, mapCustomerRepositoryError(err)
		}
		l.logger(ctx, "customers.tier_changed", map[string]any{
			"customerID": customerID,
			"from":       string(customer.Tier),
			"to":         string(tier),
		})
		customer.Tier = tier
	}
	return customer, nil
}

// TierForSpend maps cumulative spend to a tier using the configured thresholds.
func TierForSpend(tiers config.TierConfig, spent decimal.Decimal) CustomerTier {
	switch {
	case spent.GreaterThanOrEqual(tiers.Platinum):
		return domain.CustomerTierPlatinum
	case spent.GreaterThanOrEqual(tiers.Gold):
		return domain.CustomerTierGold
	case spent.GreaterThanOrEqual(tiers.Silver):
		return domain.CustomerTierSilver
	default:
		return domain.CustomerTierMember
	}
}

func mapCustomerRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCustomerNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("customer: repository unavailable: %w", err)
		}
	}
	return err
}
