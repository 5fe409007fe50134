package payments

import (
	"errors"
	"testing"
	"time"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/config"
)

func TestNewManagerFromConfigSkipsDisabledGateways(t *testing.T) {
	cfg := config.PaymentsConfig{Gateways: map[string]config.GatewayConfig{
		config.GatewayA: testGatewayConfig(),
		config.GatewayB: {},
	}}

	mgr, err := NewManagerFromConfig(cfg, time.Now)
	if err != nil {
		t.Fatalf("NewManagerFromConfig: %v", err)
	}
	g, err := mgr.ForMethod(domain.PaymentMethodGatewayA)
	if err != nil {
		t.Fatalf("ForMethod: %v", err)
	}
	if g.Name() != config.GatewayA {
		t.Fatalf("unexpected gateway %q", g.Name())
	}
	if _, err := mgr.ByName("GATEWAY_A"); err != nil {
		t.Fatalf("ByName should be case insensitive: %v", err)
	}
	if mgr.Supports(domain.PaymentMethodGatewayB) {
		t.Fatal("gateway b is not configured")
	}
	if _, err := mgr.ForMethod(domain.PaymentMethodGatewayB); !errors.Is(err, ErrUnsupportedGateway) {
		t.Fatalf("expected ErrUnsupportedGateway, got %v", err)
	}
	if _, err := mgr.ByName("stripe"); !errors.Is(err, ErrUnsupportedGateway) {
		t.Fatalf("expected ErrUnsupportedGateway, got %v", err)
	}
}

func TestNewManagerRejectsDuplicates(t *testing.T) {
	a, err := NewGateway(config.GatewayA, domain.PaymentMethodGatewayA, testGatewayConfig())
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	dup, err := NewGateway("gateway_a_copy", domain.PaymentMethodGatewayA, testGatewayConfig())
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	if _, err := NewManager(a, dup); err == nil {
		t.Fatal("expected duplicate method error")
	}
	if _, err := NewManager(a, nil); err == nil {
		t.Fatal("expected nil registration error")
	}
}

func TestNewGatewayValidatesConfig(t *testing.T) {
	if _, err := NewGateway(config.GatewayA, domain.PaymentMethodGatewayA, config.GatewayConfig{}); err == nil {
		t.Fatal("expected error for empty config")
	}
	if _, err := NewGateway(config.GatewayA, domain.PaymentMethodCOD, testGatewayConfig()); err == nil {
		t.Fatal("expected error for cash on delivery")
	}
	if _, err := NewGateway("", domain.PaymentMethodGatewayA, testGatewayConfig()); err == nil {
		t.Fatal("expected error for empty name")
	}
}
