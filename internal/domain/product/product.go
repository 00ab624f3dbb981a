package product

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// ErrInvalidCategory is returned by ParseCategory for malformed codes.
var ErrInvalidCategory = errors.New("invalid category code")

// Category is a normalized category code shared by products and coupons.
// Values are upper-case ASCII letters, digits and underscores, so two
// categories are equal exactly when their codes are equal.
type Category string

// ParseCategory normalizes s into a Category. Surrounding whitespace is
// trimmed, letters are upper-cased and hyphens or spaces become underscores.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalidCategory
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := range len(s) {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
			b.WriteByte(c - 'a' + 'A')
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteByte(c)
		case c == '-' || c == ' ':
			b.WriteByte('_')
		default:
			return "", errors.Wrapf(ErrInvalidCategory, "%q", s)
		}
	}
	return Category(b.String()), nil
}

// MustCategory is like ParseCategory but panics on error. Intended for
// constants and tests.
func MustCategory(s string) Category {
	c, err := ParseCategory(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Category) String() string { return string(c) }

// Product represents a catalog item available for purchase.
type Product struct {
	ID       int64
	Name     string
	Price    decimal.Decimal
	Stock    int
	Category Category
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id int64) (*Product, error)
}
