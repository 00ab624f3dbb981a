package coupon

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-cart/internal/domain/product"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// EffectiveUnitPrice returns the unit price after applying c to a product of
// the given category. Products outside the coupon's category keep their
// price.
func EffectiveUnitPrice(unit decimal.Decimal, category product.Category, c Coupon) decimal.Decimal {
	if category != c.Category {
		return unit
	}
	factor := hundred.Sub(c.Percent).Div(hundred)
	return floorAtZero(unit.Mul(factor))
}

// ExtendedPrice returns quantity × unit rounded to two fractional digits,
// the precision money is stored with.
func ExtendedPrice(unit decimal.Decimal, quantity int) decimal.Decimal {
	return floorAtZero(unit.Mul(decimal.NewFromInt(int64(quantity)))).Round(2)
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
