package postgres

import (
	"context"
	"errors"

	"github.com/medimart/api/internal/platform/database"
	"github.com/medimart/api/internal/repositories"
)

// Registry wires the SQL repositories around one connection pool.
type Registry struct {
	db             *database.DB
	orders         *OrderRepository
	history        *OrderHistoryRepository
	products       *ProductRepository
	promotions     *PromotionRepository
	promotionUsage *PromotionUsageRepository
	customers      *CustomerRepository
	carts          *CartRepository
	health         repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every repository on db. health may be nil, in which
// case readiness only pings the database.
func NewRegistry(db *database.DB, health repositories.HealthRepository) (*Registry, error) {
	if db == nil {
		return nil, errors.New("registry: database is required")
	}
	if health == nil {
		var err error
		health, err = repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
			{Name: "database", Check: db.Ping},
		})
		if err != nil {
			return nil, err
		}
	}

	reg := &Registry{db: db, health: health}
	reg.orders, _ = NewOrderRepository(db)
	reg.history, _ = NewOrderHistoryRepository(db)
	reg.products, _ = NewProductRepository(db)
	reg.promotions, _ = NewPromotionRepository(db)
	reg.promotionUsage, _ = NewPromotionUsageRepository(db)
	reg.customers, _ = NewCustomerRepository(db)
	reg.carts, _ = NewCartRepository(db)
	return reg, nil
}

func (r *Registry) Close(context.Context) error {
	return r.db.Close()
}

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.RunInTx(ctx, fn)
}

func (r *Registry) Orders() repositories.OrderRepository                  { return r.orders }
func (r *Registry) OrderHistory() repositories.OrderHistoryRepository     { return r.history }
func (r *Registry) Products() repositories.ProductRepository              { return r.products }
func (r *Registry) Promotions() repositories.PromotionRepository          { return r.promotions }
func (r *Registry) PromotionUsage() repositories.PromotionUsageRepository { return r.promotionUsage }
func (r *Registry) Customers() repositories.CustomerRepository            { return r.customers }
func (r *Registry) Carts() repositories.CartRepository                    { return r.carts }
func (r *Registry) Health() repositories.HealthRepository                 { return r.health }
