package services

import (
	"bytes"
	"testing"
	"time"

	"github.com/medimart/api/internal/platform/config"
)

func TestOrderCodeGeneratorFormat(t *testing.T) {
	gen, err := NewOrderCodeGenerator(testCheckoutConfig())
	if err != nil {
		t.Fatalf("NewOrderCodeGenerator: %v", err)
	}
	gen.random = bytes.NewReader([]byte{0x00, 0x30, 0x39})

	code, err := gen.Next(testNow)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if code != "DH20250303012345" {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestOrderCodeGeneratorUsesLocalDate(t *testing.T) {
	gen, err := NewOrderCodeGenerator(testCheckoutConfig())
	if err != nil {
		t.Fatalf("NewOrderCodeGenerator: %v", err)
	}
	gen.random = zeroReader{}

	// 18:30 UTC is already the next day in GMT+7.
	code, err := gen.Next(time.Date(2025, time.March, 3, 18, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if code != "DH20250304000000" {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestOrderCodeGeneratorRandomSuffixes(t *testing.T) {
	gen, err := NewOrderCodeGenerator(testCheckoutConfig())
	if err != nil {
		t.Fatalf("NewOrderCodeGenerator: %v", err)
	}
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		code, err := gen.Next(testNow)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !orderCodePattern.MatchString(code) {
			t.Fatalf("unexpected code %s", code)
		}
		seen[code] = struct{}{}
	}
	if len(seen) < 45 {
		t.Fatalf("expected mostly distinct codes, got %d of 50", len(seen))
	}
}

func TestNewOrderCodeGeneratorValidates(t *testing.T) {
	if _, err := NewOrderCodeGenerator(config.CheckoutConfig{OrderCodeDigits: 6}); err == nil {
		t.Fatal("expected error for empty prefix")
	}
	if _, err := NewOrderCodeGenerator(config.CheckoutConfig{OrderCodePrefix: "DH", OrderCodeDigits: 2}); err == nil {
		t.Fatal("expected error for short suffix")
	}
}
