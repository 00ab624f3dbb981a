package coupon

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-cart/internal/domain/product"
)

var (
	// ErrNoCoupon is the Unavailable reason when the resolver has no coupon
	// for the token.
	ErrNoCoupon = errors.New("coupon not found")
	// ErrInvalidCoupon is returned when a coupon carries an out-of-range discount.
	ErrInvalidCoupon = errors.New("invalid coupon")
)

// Coupon is a category-scoped percentage discount issued by the remote
// coupon service. It is read-only to the engine and never stored by it.
type Coupon struct {
	Category product.Category
	// Percent is the discount in the range [0, 100].
	Percent decimal.Decimal
	Version string
}

// Validate reports ErrInvalidCoupon when the coupon cannot be applied.
func (c Coupon) Validate() error {
	if c.Category == "" {
		return errors.Wrap(ErrInvalidCoupon, "empty category")
	}
	if c.Percent.IsNegative() || c.Percent.GreaterThan(hundred) {
		return errors.Wrapf(ErrInvalidCoupon, "discount %s out of range", c.Percent)
	}
	return nil
}

// Lookup is the outcome of resolving a correlation token: either Discount or
// Unavailable. Callers must handle both.
type Lookup interface {
	lookup()
}

// Discount carries a resolved coupon.
type Discount struct {
	Coupon Coupon
}

// Unavailable means no coupon could be obtained: the token is unknown, the
// remote call failed, or the circuit breaker is open.
type Unavailable struct {
	Reason error
}

func (Discount) lookup()    {}
func (Unavailable) lookup() {}

// Resolver fetches coupons by correlation token. Resolve never returns an
// error; failures are reported as Unavailable.
type Resolver interface {
	Resolve(ctx context.Context, token string) Lookup
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, token string) Lookup

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, token string) Lookup {
	return f(ctx, token)
}
