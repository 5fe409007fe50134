package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/database"
	"github.com/medimart/api/internal/repositories"
)

// ProductRepository reads product pricing and applies conditional stock changes.
type ProductRepository struct {
	db *database.DB
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(db *database.DB) (*ProductRepository, error) {
	if db == nil {
		return nil, errors.New("product repository: database is required")
	}
	return &ProductRepository{db: db}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	const op = "products.find_by_id"
	var product domain.Product
	err := r.db.QueryRow(ctx,
		`SELECT id, name, image_url, price, discount_percent, stock, sold_count FROM products WHERE id = ?`,
		productID,
	).Scan(&product.ID, &product.Name, &product.ImageURL, &product.Price, &product.DiscountPercent, &product.Stock, &product.SoldCount)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, database.NotFound(op, "product %s not found", productID)
	}
	if err != nil {
		return domain.Product{}, database.WrapError(op, err)
	}
	return product, nil
}

// Reserve decrements stock only when the row still holds at least quantity units.
func (r *ProductRepository) Reserve(ctx context.Context, productID string, quantity int64) (domain.Product, error) {
	const op = "products.reserve"
	if quantity <= 0 {
		return domain.Product{}, inventoryError(op, repositories.InventoryErrorUnknown, productID, 0, fmt.Sprintf("quantity must be positive, got %d", quantity), nil)
	}

	result, err := r.db.Exec(ctx,
		`UPDATE products SET stock = stock - ?, sold_count = sold_count + ? WHERE id = ? AND stock >= ?`,
		quantity, quantity, productID, quantity,
	)
	if err != nil {
		return domain.Product{}, inventoryError(op, repositories.InventoryErrorUnknown, productID, 0, "reserve failed", database.WrapError(op, err))
	}
	affected, err := rowsAffected(result)
	if err != nil {
		return domain.Product{}, inventoryError(op, repositories.InventoryErrorUnknown, productID, 0, "reserve failed", database.WrapError(op, err))
	}

	product, findErr := r.FindByID(ctx, productID)
	if affected == 0 {
		if findErr != nil {
			var repoErr repositories.RepositoryError
			if errors.As(findErr, &repoErr) && repoErr.IsNotFound() {
				return domain.Product{}, inventoryError(op, repositories.InventoryErrorProductNotFound, productID, 0, "product not found", findErr)
			}
			return domain.Product{}, inventoryError(op, repositories.InventoryErrorUnknown, productID, 0, "reserve failed", findErr)
		}
		return domain.Product{}, inventoryError(op, repositories.InventoryErrorInsufficientStock, productID, product.Stock,
			fmt.Sprintf("product %s has %d left, %d requested", productID, product.Stock, quantity), nil)
	}
	if findErr != nil {
		return domain.Product{}, findErr
	}
	return product, nil
}

// Release returns quantity units to stock. Sold count never drops below zero.
func (r *ProductRepository) Release(ctx context.Context, productID string, quantity int64) (domain.Product, error) {
	const op = "products.release"
	if quantity <= 0 {
		return domain.Product{}, inventoryError(op, repositories.InventoryErrorUnknown, productID, 0, fmt.Sprintf("quantity must be positive, got %d", quantity), nil)
	}

	result, err := r.db.Exec(ctx,
		`UPDATE products SET stock = stock + ?,
			sold_count = CASE WHEN sold_count >= ? THEN sold_count - ? ELSE 0 END
		WHERE id = ?`,
		quantity, quantity, quantity, productID,
	)
	if err != nil {
		return domain.Product{}, database.WrapError(op, err)
	}
	affected, err := rowsAffected(result)
	if err != nil {
		return domain.Product{}, database.WrapError(op, err)
	}
	if affected == 0 {
		return domain.Product{}, inventoryError(op, repositories.InventoryErrorProductNotFound, productID, 0, "product not found",
			database.NotFound(op, "product %s not found", productID))
	}
	return r.FindByID(ctx, productID)
}

func inventoryError(op string, code repositories.InventoryErrorCode, productID string, remaining int64, message string, err error) error {
	invErr := repositories.NewInventoryError(code, productID, message, err)
	invErr.Op = op
	invErr.Remaining = remaining
	return invErr
}
