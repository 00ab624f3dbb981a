// Package stock owns each product's available-for-sale quantity.
package stock

import (
	"context"

	"github.com/go-faster/errors"
)

// Store persists per-product stock counters. Implementations return
// product.ErrNotFound for unknown products.
//
// LockQuantity must hold a row lock on the counter until the enclosing
// transaction ends, so a read-validate-write sequence cannot lose updates.
type Store interface {
	Quantity(ctx context.Context, productID int64) (int, error)
	LockQuantity(ctx context.Context, productID int64) (int, error)
	SetQuantity(ctx context.Context, productID int64, qty int) error
}

// Ledger reads and adjusts available stock. It does no locking of its own;
// callers run it inside the store transaction that also covers the order
// mutation.
type Ledger struct {
	store Store
}

// NewLedger returns a Ledger backed by store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Available returns the current available quantity of a product.
func (l *Ledger) Available(ctx context.Context, productID int64) (int, error) {
	qty, err := l.store.Quantity(ctx, productID)
	if err != nil {
		return 0, errors.Wrapf(err, "stock of product %d", productID)
	}
	return qty, nil
}

// Adjust adds delta to the product's stock and returns the new quantity.
// The result saturates at zero: an adjustment that would drive stock
// negative sets it to zero instead.
func (l *Ledger) Adjust(ctx context.Context, productID int64, delta int) (int, error) {
	current, err := l.store.LockQuantity(ctx, productID)
	if err != nil {
		return 0, errors.Wrapf(err, "lock stock of product %d", productID)
	}
	next := Clamp(current, delta)
	if next == current {
		return current, nil
	}
	if err := l.store.SetQuantity(ctx, productID, next); err != nil {
		return 0, errors.Wrapf(err, "set stock of product %d", productID)
	}
	return next, nil
}

// Clamp returns current+delta floored at zero.
func Clamp(current, delta int) int {
	if n := current + delta; n > 0 {
		return n
	}
	return 0
}
