package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/config"
)

func TestTierForSpend(t *testing.T) {
	tiers := testTierConfig()
	cases := []struct {
		spent string
		want  CustomerTier
	}{
		{"0", domain.CustomerTierMember},
		{"1999999", domain.CustomerTierMember},
		{"2000000", domain.CustomerTierSilver},
		{"9999999", domain.CustomerTierSilver},
		{"10000000", domain.CustomerTierGold},
		{"30000000", domain.CustomerTierPlatinum},
		{"125000000", domain.CustomerTierPlatinum},
	}
	for _, tc := range cases {
		if got := TierForSpend(tiers, money(tc.spent)); got != tc.want {
			t.Fatalf("TierForSpend(%s) = %s, want %s", tc.spent, got, tc.want)
		}
	}
}

func TestCustomerLedgerDebitLoyaltyPoints(t *testing.T) {
	core := newTestCore(t)
	seedCatalog(core.store)

	if err := core.ledger.DebitLoyaltyPoints(context.Background(), "cus_an", 30); err != nil {
		t.Fatalf("DebitLoyaltyPoints: %v", err)
	}
	if got := core.store.customer(t, "cus_an"); got.LoyaltyPoints != 20 {
		t.Fatalf("expected 20 points left, got %d", got.LoyaltyPoints)
	}

	err := core.ledger.DebitLoyaltyPoints(context.Background(), "cus_an", 21)
	if !errors.Is(err, ErrInsufficientLoyaltyPoints) {
		t.Fatalf("expected ErrInsufficientLoyaltyPoints, got %v", err)
	}
	if got := core.store.customer(t, "cus_an"); got.LoyaltyPoints != 20 {
		t.Fatalf("failed debit must not change balance, got %d", got.LoyaltyPoints)
	}

	if err := core.ledger.DebitLoyaltyPoints(context.Background(), "cus_ghost", 1); !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
	if err := core.ledger.DebitLoyaltyPoints(context.Background(), "cus_an", -1); !errors.Is(err, ErrCustomerInvalidInput) {
		t.Fatalf("expected ErrCustomerInvalidInput, got %v", err)
	}
}

func TestCustomerLedgerCreditSpendKeepsTierWhenUnchanged(t *testing.T) {
	core := newTestCore(t)
	seedCatalog(core.store)

	customer, err := core.ledger.CreditSpend(context.Background(), "cus_an", money("150000"))
	if err != nil {
		t.Fatalf("CreditSpend: %v", err)
	}
	if customer.Tier != domain.CustomerTierMember || customer.OrderCount != 1 {
		t.Fatalf("unexpected customer %+v", customer)
	}
	if core.logs.has("customers.tier_changed") {
		t.Fatal("tier did not change")
	}
}

func TestCustomerLedgerCreditSpendPromotesAcrossTiers(t *testing.T) {
	core := newTestCore(t)
	seedCatalog(core.store)

	customer, err := core.ledger.CreditSpend(context.Background(), "cus_an", money("31000000"))
	if err != nil {
		t.Fatalf("CreditSpend: %v", err)
	}
	if customer.Tier != domain.CustomerTierPlatinum {
		t.Fatalf("expected PLATINUM, got %s", customer.Tier)
	}
	if got := core.store.customer(t, "cus_an"); got.Tier != domain.CustomerTierPlatinum {
		t.Fatalf("expected stored tier PLATINUM, got %s", got.Tier)
	}
}

func TestNewCustomerLedgerValidatesTiers(t *testing.T) {
	_, err := NewCustomerLedger(CustomerLedgerDeps{
		Customers: memCustomerRepo{newMemStore()},
		Tiers:     config.TierConfig{Silver: money("100"), Gold: money("100"), Platinum: money("300")},
	})
	if err == nil {
		t.Fatal("expected error for non-increasing thresholds")
	}
}
