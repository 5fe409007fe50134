package payments

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/config"
)

// Manager routes payment methods and callback paths to configured gateways.
type Manager struct {
	byName   map[string]*Gateway
	byMethod map[domain.PaymentMethod]*Gateway
}

// NewManager registers the supplied gateways. Names and methods must be unique.
func NewManager(gateways ...*Gateway) (*Manager, error) {
	m := &Manager{
		byName:   make(map[string]*Gateway, len(gateways)),
		byMethod: make(map[domain.PaymentMethod]*Gateway, len(gateways)),
	}
	for _, g := range gateways {
		if g == nil {
			return nil, errors.New("payments: nil gateway registration")
		}
		key := strings.ToLower(g.name)
		if _, exists := m.byName[key]; exists {
			return nil, fmt.Errorf("payments: duplicate gateway %q", g.name)
		}
		if _, exists := m.byMethod[g.method]; exists {
			return nil, fmt.Errorf("payments: duplicate gateway for method %s", g.method)
		}
		m.byName[key] = g
		m.byMethod[g.method] = g
	}
	return m, nil
}

// NewManagerFromConfig builds a gateway for every enabled entry in cfg.
// GATEWAY_A is served by config.GatewayA and GATEWAY_B by config.GatewayB.
func NewManagerFromConfig(cfg config.PaymentsConfig, now func() time.Time) (*Manager, error) {
	methods := map[string]domain.PaymentMethod{
		config.GatewayA: domain.PaymentMethodGatewayA,
		config.GatewayB: domain.PaymentMethodGatewayB,
	}
	names := make([]string, 0, len(cfg.Gateways))
	for name := range cfg.Gateways {
		names = append(names, name)
	}
	sort.Strings(names)

	var gateways []*Gateway
	for _, name := range names {
		gwCfg := cfg.Gateways[name]
		if !gwCfg.Enabled() {
			continue
		}
		method, ok := methods[name]
		if !ok {
			return nil, fmt.Errorf("payments: no payment method for gateway %q", name)
		}
		g, err := NewGateway(name, method, gwCfg, WithClock(now))
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, g)
	}
	return NewManager(gateways...)
}

// ByName resolves the gateway serving a callback path segment.
func (m *Manager) ByName(name string) (*Gateway, error) {
	if m == nil {
		return nil, ErrUnsupportedGateway
	}
	if g, ok := m.byName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return g, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedGateway, name)
}

// ForMethod resolves the gateway that settles method.
func (m *Manager) ForMethod(method domain.PaymentMethod) (*Gateway, error) {
	if m == nil {
		return nil, ErrUnsupportedGateway
	}
	if g, ok := m.byMethod[method]; ok {
		return g, nil
	}
	return nil, fmt.Errorf("%w: method %s", ErrUnsupportedGateway, method)
}

// Supports reports whether method can be paid online with the current configuration.
func (m *Manager) Supports(method domain.PaymentMethod) bool {
	if m == nil {
		return false
	}
	_, ok := m.byMethod[method]
	return ok
}
