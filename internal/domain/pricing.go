package domain

import "github.com/shopspring/decimal"

// PricingLine is the input to the pricing engine for one cart line.
type PricingLine struct {
	ProductID       string
	Price           decimal.Decimal
	DiscountPercent decimal.Decimal
	Quantity        int64
}

// ItemPricingBreakdown stores the per-line pricing outputs after running the engine.
type ItemPricingBreakdown struct {
	ProductID          string
	EffectiveUnitPrice decimal.Decimal
	Quantity           int64
	LineTotal          decimal.Decimal
}

// PricingBreakdown captures the aggregated monetary results of pricing a cart.
type PricingBreakdown struct {
	Currency          string
	Subtotal          decimal.Decimal
	ShippingFee       decimal.Decimal
	PromotionDiscount decimal.Decimal
	LoyaltyPoints     int64
	LoyaltyDiscount   decimal.Decimal
	Total             decimal.Decimal
	Items             []ItemPricingBreakdown
}
