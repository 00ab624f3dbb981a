package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is matched by every not-found error of this package.
	// Repositories return it directly.
	ErrNotFound = errors.New("not found")
	// ErrOrderInProgress is returned when a customer already has a cart.
	ErrOrderInProgress = errors.New("customer already has an order in progress")
	// ErrOrderNotMutable is returned when mutating a completed order.
	ErrOrderNotMutable = errors.New("order is not mutable")
)

// OrderNotFoundError indicates a requested order does not exist.
type OrderNotFoundError struct {
	OrderID int64
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("order %d not found", e.OrderID)
}

func (e *OrderNotFoundError) Unwrap() error { return ErrNotFound }

// CartNotFoundError indicates a customer has no cart.
type CartNotFoundError struct {
	CustomerID int64
}

func (e *CartNotFoundError) Error() string {
	return fmt.Sprintf("no cart for customer %d", e.CustomerID)
}

func (e *CartNotFoundError) Unwrap() error { return ErrNotFound }

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return ErrNotFound }

// LineNotFoundError indicates the order has no line for the product.
type LineNotFoundError struct {
	OrderID   int64
	ProductID int64
}

func (e *LineNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found in order %d", e.ProductID, e.OrderID)
}

func (e *LineNotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientStockError indicates a requested quantity exceeds the
// product's available stock.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// InvalidQuantityError indicates a new line was requested with a
// non-positive quantity.
type InvalidQuantityError struct {
	ProductID int64
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %d, got %d", e.ProductID, e.Quantity)
}
