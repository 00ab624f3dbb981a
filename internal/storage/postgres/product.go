package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-cart/internal/domain/product"
	"github.com/xenking/oolio-cart/internal/domain/stock"
)

const (
	listProductsSQL = `SELECT id, name, price, stock, category FROM products ORDER BY id`

	getProductByIDSQL = `SELECT id, name, price, stock, category FROM products WHERE id = $1`

	upsertProductSQL = `INSERT INTO products (id, name, price, stock, category)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock, category = EXCLUDED.category`

	getStockSQL = `SELECT stock FROM products WHERE id = $1`

	lockStockSQL = `SELECT stock FROM products WHERE id = $1 FOR UPDATE`

	setStockSQL = `UPDATE products SET stock = $2 WHERE id = $1`
)

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ stock.Store        = (*ProductRepository)(nil)
)

// ProductRepository implements product.Repository and stock.Store backed by
// the products table.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all products from the catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

// Upsert inserts or replaces a catalog entry, including its stock.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.Price, p.Stock, p.Category.String(),
	); err != nil {
		return fmt.Errorf("upserting product %d: %w", p.ID, err)
	}
	return nil
}

// Quantity returns the product's available stock.
func (r *ProductRepository) Quantity(ctx context.Context, productID int64) (int, error) {
	return r.quantity(ctx, getStockSQL, productID)
}

// LockQuantity returns the product's available stock and locks the row
// until the enclosing transaction ends.
func (r *ProductRepository) LockQuantity(ctx context.Context, productID int64) (int, error) {
	return r.quantity(ctx, lockStockSQL, productID)
}

// SetQuantity overwrites the product's available stock.
func (r *ProductRepository) SetQuantity(ctx context.Context, productID int64, qty int) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, setStockSQL, productID, qty)
	if err != nil {
		return fmt.Errorf("setting stock of product %d: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

func (r *ProductRepository) quantity(ctx context.Context, query string, productID int64) (int, error) {
	var qty int
	if err := conn(ctx, r.pool).QueryRow(ctx, query, productID).Scan(&qty); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, product.ErrNotFound
		}
		return 0, fmt.Errorf("reading stock of product %d: %w", productID, err)
	}
	return qty, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p        product.Product
		category string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &category); err != nil {
		return p, err
	}
	p.Category = product.Category(category)
	return p, nil
}
