package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/config"
)

var (
	// ErrPricingInvalidInput signals bad pricing data such as non-positive quantities or negative prices.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")

	hundred = decimal.NewFromInt(100)
)

// PricingEngine computes line totals, shipping, discounts and order totals.
// It is pure: every method depends only on its arguments and the configured rules.
type PricingEngine struct {
	currency              string
	freeShippingThreshold decimal.Decimal
	flatShippingFee       decimal.Decimal
	loyaltyPointValue     decimal.Decimal
}

// NewPricingEngine validates cfg and builds an engine.
func NewPricingEngine(cfg config.PricingConfig) (*PricingEngine, error) {
	if cfg.FreeShippingThreshold.IsNegative() {
		return nil, errors.New("pricing engine: free shipping threshold must not be negative")
	}
	if cfg.FlatShippingFee.IsNegative() {
		return nil, errors.New("pricing engine: shipping fee must not be negative")
	}
	if !cfg.LoyaltyPointValue.IsPositive() {
		return nil, errors.New("pricing engine: loyalty point value must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "VND"
	}
	return &PricingEngine{
		currency:              currency,
		freeShippingThreshold: cfg.FreeShippingThreshold,
		flatShippingFee:       cfg.FlatShippingFee,
		loyaltyPointValue:     cfg.LoyaltyPointValue,
	}, nil
}

// PricingInput is the full set of inputs for Calculate.
type PricingInput struct {
	Lines         []PricingLine
	Promotion     *Promotion
	LoyaltyPoints int64
}

// EffectiveUnitPrice applies a percentage discount to price, rounding down to whole units.
func EffectiveUnitPrice(price, discountPercent decimal.Decimal) decimal.Decimal {
	if discountPercent.IsZero() {
		return price
	}
	return price.Mul(hundred.Sub(discountPercent)).Div(hundred).RoundFloor(0)
}

// QuoteLines prices every line and returns the per-line breakdown with the subtotal.
func (e *PricingEngine) QuoteLines(lines []PricingLine) ([]ItemPricingBreakdown, decimal.Decimal, error) {
	if len(lines) == 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: at least one line is required", ErrPricingInvalidInput)
	}
	items := make([]ItemPricingBreakdown, 0, len(lines))
	subtotal := decimal.Zero
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: quantity for %s must be positive", ErrPricingInvalidInput, line.ProductID)
		}
		if line.Price.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("%w: price for %s must not be negative", ErrPricingInvalidInput, line.ProductID)
		}
		if line.DiscountPercent.IsNegative() || line.DiscountPercent.GreaterThan(hundred) {
			return nil, decimal.Zero, fmt.Errorf("%w: discount percent for %s must be within 0-100", ErrPricingInvalidInput, line.ProductID)
		}
		unit := EffectiveUnitPrice(line.Price, line.DiscountPercent)
		total := unit.Mul(decimal.NewFromInt(line.Quantity))
		items = append(items, ItemPricingBreakdown{
			ProductID:          line.ProductID,
			EffectiveUnitPrice: unit,
			Quantity:           line.Quantity,
			LineTotal:          total,
		})
		subtotal = subtotal.Add(total)
	}
	return items, subtotal, nil
}

// ShippingFee is zero from the free-shipping threshold upwards, otherwise the flat fee.
func (e *PricingEngine) ShippingFee(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(e.freeShippingThreshold) {
		return decimal.Zero
	}
	return e.flatShippingFee
}

// LoyaltyDiscount converts redeemed points to money.
func (e *PricingEngine) LoyaltyDiscount(points int64) (decimal.Decimal, error) {
	if points < 0 {
		return decimal.Zero, fmt.Errorf("%w: loyalty points must not be negative", ErrPricingInvalidInput)
	}
	return e.loyaltyPointValue.Mul(decimal.NewFromInt(points)), nil
}

// PromotionDiscount computes the discount a validated promotion grants.
// Percentage discounts round down and honour MaxDiscount; free shipping nets out shippingFee.
func (e *PricingEngine) PromotionDiscount(promo Promotion, subtotal, shippingFee decimal.Decimal) decimal.Decimal {
	switch promo.DiscountType {
	case domain.DiscountTypePercentage:
		discount := subtotal.Mul(promo.DiscountValue).Div(hundred).RoundFloor(0)
		if promo.MaxDiscount != nil && discount.GreaterThan(*promo.MaxDiscount) {
			discount = *promo.MaxDiscount
		}
		return discount
	case domain.DiscountTypeFixedAmount:
		return promo.DiscountValue
	case domain.DiscountTypeFreeShipping:
		return shippingFee
	default:
		return decimal.Zero
	}
}

// Total is subtotal + shipping - promotion discount - loyalty discount, clamped at zero.
func (e *PricingEngine) Total(subtotal, shippingFee, promotionDiscount, loyaltyDiscount decimal.Decimal) decimal.Decimal {
	total := subtotal.Add(shippingFee).Sub(promotionDiscount).Sub(loyaltyDiscount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// Calculate prices a whole cart. The promotion, when present, must already be validated.
func (e *PricingEngine) Calculate(input PricingInput) (PricingBreakdown, error) {
	items, subtotal, err := e.QuoteLines(input.Lines)
	if err != nil {
		return PricingBreakdown{}, err
	}
	shipping := e.ShippingFee(subtotal)
	loyalty, err := e.LoyaltyDiscount(input.LoyaltyPoints)
	if err != nil {
		return PricingBreakdown{}, err
	}
	promotion := decimal.Zero
	if input.Promotion != nil {
		promotion = e.PromotionDiscount(*input.Promotion, subtotal, shipping)
	}
	return PricingBreakdown{
		Currency:          e.currency,
		Subtotal:          subtotal,
		ShippingFee:       shipping,
		PromotionDiscount: promotion,
		LoyaltyPoints:     input.LoyaltyPoints,
		LoyaltyDiscount:   loyalty,
		Total:             e.Total(subtotal, shipping, promotion, loyalty),
		Items:             items,
	}, nil
}

// Currency returns the ISO code all amounts are expressed in.
func (e *PricingEngine) Currency() string {
	return e.currency
}
