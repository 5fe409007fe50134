package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/medimart/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInsufficientStock indicates the requested quantity exceeds availability.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrProductNotFound indicates the product could not be located.
	ErrProductNotFound = errors.New("inventory: product not found")
)

// InsufficientStockError names the product and what was left when a reservation failed.
type InsufficientStockError struct {
	ProductID string
	Remaining int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %s: requested %d, remaining %d", e.ProductID, e.Requested, e.Remaining)
}

// Is lets errors.Is match ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Products repositories.ProductRepository
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products repositories.ProductRepository
	logger   func(context.Context, string, map[string]any)
}

var _ InventoryService = (*inventoryService)(nil)

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryService{
		products: deps.Products,
		logger:   logger,
	}, nil
}

// Reserve checks and decrements stock in one conditional update.
func (s *inventoryService) Reserve(ctx context.Context, cmd InventoryCommand) (Product, error) {
	productID, err := validateInventoryCommand(cmd)
	if err != nil {
		return Product{}, err
	}
	product, err := s.products.Reserve(ctx, productID, cmd.Quantity)
	if err != nil {
		mapped := s.mapRepositoryError(err, cmd.Quantity)
		if errors.Is(mapped, ErrInsufficientStock) {
			s.logger(ctx, "inventory.reserve_rejected", map[string]any{
				"productID": productID,
				"quantity":  cmd.Quantity,
			})
		}
		return Product{}, mapped
	}
	return product, nil
}

// Release returns stock taken by a prior Reserve. Callers own the exactly-once guarantee.
func (s *inventoryService) Release(ctx context.Context, cmd InventoryCommand) (Product, error) {
	productID, err := validateInventoryCommand(cmd)
	if err != nil {
		return Product{}, err
	}
	product, err := s.products.Release(ctx, productID, cmd.Quantity)
	if err != nil {
		return Product{}, s.mapRepositoryError(err, cmd.Quantity)
	}
	return product, nil
}

func (s *inventoryService) GetAvailability(ctx context.Context, productID string) (InventoryAvailability, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return InventoryAvailability{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return InventoryAvailability{}, s.mapRepositoryError(err, 0)
	}
	return InventoryAvailability{
		ProductID: product.ID,
		Stock:     product.Stock,
		SoldCount: product.SoldCount,
		InStock:   product.Stock > 0,
	}, nil
}

func (s *inventoryService) mapRepositoryError(err error, requested int64) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return &InsufficientStockError{ProductID: invErr.ProductID, Remaining: invErr.Remaining, Requested: requested}
		case repositories.InventoryErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrProductNotFound, invErr.ProductID)
		case repositories.InventoryErrorUnknown:
			if invErr.Err == nil {
				return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, invErr.Message)
			}
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("inventory: repository unavailable: %w", err)
		}
	}
	return err
}

func validateInventoryCommand(cmd InventoryCommand) (string, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return "", fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive", ErrInventoryInvalidInput)
	}
	return productID, nil
}
