package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/medimart/api/internal/payments"
	"github.com/medimart/api/internal/platform/config"
	"github.com/medimart/api/internal/repositories"
	"github.com/medimart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Checkout   services.CheckoutService
	Orders     services.OrderService
	Promotions services.PromotionService
	Payments   services.PaymentService
	Inventory  services.InventoryService
	Ledger     services.CustomerLedger
	System     services.SystemService
}

// EventLoggerFactory returns the structured event logger for a service component.
type EventLoggerFactory func(component string) func(ctx context.Context, event string, fields map[string]any)

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Pricing      *services.PricingEngine
	Gateways     *payments.Manager
}

type containerOptions struct {
	notifier services.OrderStatusNotifier
	loggers  EventLoggerFactory
	build    services.BuildInfo
	clock    func() time.Time
}

// Option customises container construction.
type Option func(*containerOptions)

// WithNotifier publishes committed order status changes.
func WithNotifier(notifier services.OrderStatusNotifier) Option {
	return func(o *containerOptions) {
		o.notifier = notifier
	}
}

// WithEventLoggers supplies per-component event loggers.
func WithEventLoggers(factory EventLoggerFactory) Option {
	return func(o *containerOptions) {
		o.loggers = factory
	}
}

// WithBuildInfo sets the build metadata surfaced by health reports.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = info
	}
}

// WithClock overrides time.Now for every service.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies. Production wiring passes the SQL
// registry, tests can supply a SQLite-backed one.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	c := &Container{Config: cfg, Repositories: reg}
	if err := c.buildServices(ctx, options); err != nil {
		return nil, err
	}
	return c, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func (c *Container) buildServices(_ context.Context, opts containerOptions) error {
	cfg := c.Config
	reg := c.Repositories
	logger := func(component string) func(ctx context.Context, event string, fields map[string]any) {
		if opts.loggers == nil {
			return nil
		}
		return opts.loggers(component)
	}

	pricing, err := services.NewPricingEngine(cfg.Pricing)
	if err != nil {
		return fmt.Errorf("build pricing engine: %w", err)
	}
	c.Pricing = pricing

	gateways, err := payments.NewManagerFromConfig(cfg.Payments, opts.clock)
	if err != nil {
		return fmt.Errorf("build payment gateways: %w", err)
	}
	c.Gateways = gateways

	codes, err := services.NewOrderCodeGenerator(cfg.Checkout)
	if err != nil {
		return fmt.Errorf("build order code generator: %w", err)
	}

	inventory, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products: reg.Products(),
		Logger:   logger("inventory"),
	})
	if err != nil {
		return fmt.Errorf("build inventory service: %w", err)
	}
	c.Services.Inventory = inventory

	ledger, err := services.NewCustomerLedger(services.CustomerLedgerDeps{
		Customers: reg.Customers(),
		Tiers:     cfg.Tiers,
		Logger:    logger("customers"),
	})
	if err != nil {
		return fmt.Errorf("build customer ledger: %w", err)
	}
	c.Services.Ledger = ledger

	promotions, err := services.NewPromotionService(services.PromotionServiceDeps{
		Promotions: reg.Promotions(),
		Usage:      reg.PromotionUsage(),
		Customers:  reg.Customers(),
		Pricing:    pricing,
		Clock:      opts.clock,
		Logger:     logger("promotions"),
	})
	if err != nil {
		return fmt.Errorf("build promotion service: %w", err)
	}
	c.Services.Promotions = promotions

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:         reg.Orders(),
		History:        reg.OrderHistory(),
		Inventory:      inventory,
		Customers:      ledger,
		UnitOfWork:     reg,
		Notifier:       opts.notifier,
		UnpaidOrderTTL: cfg.Checkout.UnpaidOrderTTL,
		Clock:          opts.clock,
		Logger:         logger("orders"),
	})
	if err != nil {
		return fmt.Errorf("build order service: %w", err)
	}
	c.Services.Orders = orders

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Customers:       reg.Customers(),
		Products:        reg.Products(),
		Orders:          reg.Orders(),
		History:         reg.OrderHistory(),
		Carts:           reg.Carts(),
		Inventory:       inventory,
		Promotions:      promotions,
		Ledger:          ledger,
		Pricing:         pricing,
		Codes:           codes,
		Payments:        gateways,
		UnitOfWork:      reg,
		PromotionPolicy: cfg.Checkout.PromotionPolicy,
		MaxCodeAttempts: cfg.Checkout.MaxCodeAttempts,
		Clock:           opts.clock,
		Logger:          logger("checkout"),
	})
	if err != nil {
		return fmt.Errorf("build checkout service: %w", err)
	}
	c.Services.Checkout = checkout

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:   reg.Orders(),
		Order:    orders,
		Gateways: gateways,
		Currency: cfg.Pricing.Currency,
		Meter:    otel.Meter("github.com/medimart/api/internal/services"),
		Clock:    opts.clock,
		Logger:   logger("payments"),
	})
	if err != nil {
		return fmt.Errorf("build payment service: %w", err)
	}
	c.Services.Payments = paymentSvc

	if health := reg.Health(); health != nil {
		build := opts.build
		if build.StartedAt.IsZero() {
			build.StartedAt = opts.clock().UTC()
		}
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: health,
			Clock:            opts.clock,
			Build:            build,
		})
		if err != nil {
			return fmt.Errorf("build system service: %w", err)
		}
		c.Services.System = system
	}

	return nil
}
