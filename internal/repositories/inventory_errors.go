package repositories

import "fmt"

// InventoryErrorCode enumerates repository error causes for stock operations.
type InventoryErrorCode string

const (
	// InventoryErrorUnknown represents an unspecified failure.
	InventoryErrorUnknown InventoryErrorCode = "inventory_unknown"
	// InventoryErrorInsufficientStock indicates requested quantity exceeds availability.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorProductNotFound indicates the product row does not exist.
	InventoryErrorProductNotFound InventoryErrorCode = "inventory_product_not_found"
)

// InventoryError wraps stock failures with machine readable codes.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	ProductID string
	// Remaining is the stock observed when a reservation was refused.
	Remaining int64
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(code InventoryErrorCode, productID, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{
		Code:      code,
		ProductID: productID,
		Message:   message,
		Err:       err,
	}
}
