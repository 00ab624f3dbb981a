package order

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	// StatusCart is a customer's mutable, in-progress cart.
	StatusCart Status = "CART"
	// StatusCompleted is terminal: lines and totals are frozen.
	StatusCompleted Status = "COMPLETED"
)

// Order is the cart/order aggregate. Total always equals the sum of the
// lines' extended prices.
type Order struct {
	ID         int64
	CustomerID int64
	Status     Status
	Total      decimal.Decimal
	CreatedAt  time.Time
	UpdatedAt  time.Time
	// Lines are kept sorted by ProductID.
	Lines []Line
}

// Line is one (order, product) association.
type Line struct {
	OrderID   int64
	ProductID int64
	Quantity  int
	// Price is the extended price: quantity × effective unit price.
	Price decimal.Decimal
}

// Mutable reports ErrOrderNotMutable unless the order is a cart.
func (o *Order) Mutable() error {
	if o.Status != StatusCart {
		return ErrOrderNotMutable
	}
	return nil
}

// Line returns the line for productID.
func (o *Order) Line(productID int64) (Line, bool) {
	i, ok := o.lineIndex(productID)
	if !ok {
		return Line{}, false
	}
	return o.Lines[i], true
}

// PutLine inserts or replaces the line for l.ProductID. It does not touch
// the total; callers apply the price delta with ModifyTotal.
func (o *Order) PutLine(l Line) {
	i, ok := o.lineIndex(l.ProductID)
	if ok {
		o.Lines[i] = l
		return
	}
	o.Lines = slices.Insert(o.Lines, i, l)
}

// DropLine removes the line for productID, if any.
func (o *Order) DropLine(productID int64) {
	if i, ok := o.lineIndex(productID); ok {
		o.Lines = slices.Delete(o.Lines, i, i+1)
	}
}

// ModifyTotal applies delta to the total, floored at zero.
func (o *Order) ModifyTotal(delta decimal.Decimal) {
	o.Total = ClampTotal(o.Total.Add(delta))
}

// Complete moves a cart to COMPLETED.
func (o *Order) Complete(at time.Time) error {
	if err := o.Mutable(); err != nil {
		return err
	}
	o.Status = StatusCompleted
	o.UpdatedAt = at
	return nil
}

// IsEmpty reports whether the order has no lines.
func (o *Order) IsEmpty() bool {
	return len(o.Lines) == 0
}

// LinesTotal returns the sum of the lines' extended prices.
func (o *Order) LinesTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.Price)
	}
	return sum
}

func (o *Order) lineIndex(productID int64) (int, bool) {
	return slices.BinarySearchFunc(o.Lines, productID, func(l Line, id int64) int {
		switch {
		case l.ProductID < id:
			return -1
		case l.ProductID > id:
			return 1
		default:
			return 0
		}
	})
}

// ClampTotal floors a total at zero.
func ClampTotal(total decimal.Decimal) decimal.Decimal {
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// Repository defines persistence operations for order rows.
type Repository interface {
	// Create inserts a new CART order. It returns ErrOrderInProgress when
	// the customer already has one.
	Create(ctx context.Context, customerID int64, at time.Time) (*Order, error)
	// Get returns the order with its lines, or ErrNotFound.
	Get(ctx context.Context, id int64) (*Order, error)
	// GetForUpdate is like Get but locks the order row until the
	// enclosing transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*Order, error)
	// FindCart returns the customer's CART order or ErrNotFound.
	FindCart(ctx context.Context, customerID int64) (*Order, error)
	SetTotal(ctx context.Context, id int64, total decimal.Decimal, at time.Time) error
	SetStatus(ctx context.Context, id int64, status Status, at time.Time) error
	Delete(ctx context.Context, id int64) error
}

// LineRepository defines persistence operations for order lines.
type LineRepository interface {
	// Upsert inserts the line or, when (OrderID, ProductID) exists,
	// replaces its quantity and price.
	Upsert(ctx context.Context, l Line) error
	Delete(ctx context.Context, orderID, productID int64) error
}

// UnitOfWork runs fn inside a single store transaction. Repositories used
// with the context passed to fn participate in that transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
