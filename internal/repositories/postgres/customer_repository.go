package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/database"
	"github.com/medimart/api/internal/repositories"
)

// CustomerRepository applies loyalty and spend changes to customer rows.
type CustomerRepository struct {
	db *database.DB
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)

func NewCustomerRepository(db *database.DB) (*CustomerRepository, error) {
	if db == nil {
		return nil, errors.New("customer repository: database is required")
	}
	return &CustomerRepository{db: db}, nil
}

func (r *CustomerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	const op = "customers.find_by_id"
	var (
		customer domain.Customer
		tier     string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, name, tier, loyalty_points, total_spent, order_count FROM customers WHERE id = ?`,
		customerID,
	).Scan(&customer.ID, &customer.Name, &tier, &customer.LoyaltyPoints, &customer.TotalSpent, &customer.OrderCount)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Customer{}, database.NotFound(op, "customer %s not found", customerID)
	}
	if err != nil {
		return domain.Customer{}, database.WrapError(op, err)
	}
	customer.Tier = domain.CustomerTier(tier)
	return customer, nil
}

// DebitLoyaltyPoints subtracts points only while the balance covers them.
func (r *CustomerRepository) DebitLoyaltyPoints(ctx context.Context, customerID string, points int64) (bool, error) {
	const op = "customers.debit_loyalty_points"
	if points <= 0 {
		return true, nil
	}
	result, err := r.db.Exec(ctx,
		`UPDATE customers SET loyalty_points = loyalty_points - ? WHERE id = ? AND loyalty_points >= ?`,
		points, customerID, points,
	)
	if err != nil {
		return false, database.WrapError(op, err)
	}
	affected, err := rowsAffected(result)
	if err != nil {
		return false, database.WrapError(op, err)
	}
	return affected == 1, nil
}

// CreditSpend adds amount to the cumulative spend and counts one more order.
func (r *CustomerRepository) CreditSpend(ctx context.Context, customerID string, amount decimal.Decimal) (domain.Customer, error) {
	const op = "customers.credit_spend"
	result, err := r.db.Exec(ctx,
		`UPDATE customers SET total_spent = total_spent + ?, order_count = order_count + 1 WHERE id = ?`,
		amount, customerID,
	)
	if err != nil {
		return domain.Customer{}, database.WrapError(op, err)
	}
	affected, err := rowsAffected(result)
	if err != nil {
		return domain.Customer{}, database.WrapError(op, err)
	}
	if affected == 0 {
		return domain.Customer{}, database.NotFound(op, "customer %s not found", customerID)
	}
	return r.FindByID(ctx, customerID)
}

func (r *CustomerRepository) UpdateTier(ctx context.Context, customerID string, tier domain.CustomerTier) error {
	const op = "customers.update_tier"
	result, err := r.db.Exec(ctx, `UPDATE customers SET tier = ? WHERE id = ?`, string(tier), customerID)
	if err != nil {
		return database.WrapError(op, err)
	}
	affected, err := rowsAffected(result)
	if err != nil {
		return database.WrapError(op, err)
	}
	if affected == 0 {
		return database.NotFound(op, "customer %s not found", customerID)
	}
	return nil
}

// CartRepository clears cart rows after checkout.
type CartRepository struct {
	db *database.DB
}

var _ repositories.CartRepository = (*CartRepository)(nil)

func NewCartRepository(db *database.DB) (*CartRepository, error) {
	if db == nil {
		return nil, errors.New("cart repository: database is required")
	}
	return &CartRepository{db: db}, nil
}

func (r *CartRepository) Clear(ctx context.Context, customerID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM cart_items WHERE customer_id = ?`, customerID)
	return database.WrapError("cart_items.clear", err)
}
