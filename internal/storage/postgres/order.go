package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-cart/internal/domain/order"
)

const (
	orderColumns = `id, customer_id, status, total, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (customer_id, status, total, created_at, updated_at)
		VALUES ($1, 'CART', 0, $2, $2)
		RETURNING ` + orderColumns

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	findCartSQL = `SELECT ` + orderColumns + ` FROM orders WHERE customer_id = $1 AND status = 'CART'`

	listLinesSQL = `SELECT order_id, product_id, quantity, price
		FROM order_lines WHERE order_id = $1 ORDER BY product_id`

	setOrderTotalSQL = `UPDATE orders SET total = $2, updated_at = $3 WHERE id = $1`

	setOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

	upsertLineSQL = `INSERT INTO order_lines (order_id, product_id, quantity, price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id, product_id) DO UPDATE
		SET quantity = EXCLUDED.quantity, price = EXCLUDED.price`

	deleteLineSQL = `DELETE FROM order_lines WHERE order_id = $1 AND product_id = $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts a new CART order. The partial unique index on
// orders(customer_id) turns a second cart into order.ErrOrderInProgress.
func (r *OrderRepository) Create(ctx context.Context, customerID int64, at time.Time) (*order.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, createOrderSQL, customerID, at)
	if err != nil {
		return nil, fmt.Errorf("creating order for customer %d: %w", customerID, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, order.ErrOrderInProgress
		}
		return nil, fmt.Errorf("creating order for customer %d: %w", customerID, err)
	}
	return &o, nil
}

// Get returns the order with its lines.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	return r.load(ctx, getOrderSQL, id)
}

// GetForUpdate returns the order with its lines, holding the order row
// lock until the enclosing transaction ends.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return r.load(ctx, getOrderForUpdateSQL, id)
}

// FindCart returns the customer's CART order with its lines.
func (r *OrderRepository) FindCart(ctx context.Context, customerID int64) (*order.Order, error) {
	return r.load(ctx, findCartSQL, customerID)
}

// SetTotal overwrites the order total.
func (r *OrderRepository) SetTotal(ctx context.Context, id int64, total decimal.Decimal, at time.Time) error {
	return r.exec(ctx, setOrderTotalSQL, id, total, at)
}

// SetStatus overwrites the order status.
func (r *OrderRepository) SetStatus(ctx context.Context, id int64, status order.Status, at time.Time) error {
	return r.exec(ctx, setOrderStatusSQL, id, string(status), at)
}

// Delete removes the order; its lines cascade.
func (r *OrderRepository) Delete(ctx context.Context, id int64) error {
	return r.exec(ctx, deleteOrderSQL, id)
}

func (r *OrderRepository) load(ctx context.Context, query string, arg int64) (*order.Order, error) {
	q := conn(ctx, r.pool)

	rows, err := q.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}

	rows, err = q.Query(ctx, listLinesSQL, o.ID)
	if err != nil {
		return nil, fmt.Errorf("listing lines of order %d: %w", o.ID, err)
	}
	if o.Lines, err = pgx.CollectRows(rows, scanLine); err != nil {
		return nil, fmt.Errorf("listing lines of order %d: %w", o.ID, err)
	}
	return &o, nil
}

func (r *OrderRepository) exec(ctx context.Context, query string, id int64, args ...any) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("updating order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

var _ order.LineRepository = (*LineRepository)(nil)

// LineRepository implements order.LineRepository backed by PostgreSQL.
type LineRepository struct {
	pool *pgxpool.Pool
}

// NewLineRepository returns a LineRepository that uses the given pool.
func NewLineRepository(pool *pgxpool.Pool) *LineRepository {
	return &LineRepository{pool: pool}
}

// Upsert inserts the line or replaces the quantity and price of an
// existing (order, product) line.
func (r *LineRepository) Upsert(ctx context.Context, l order.Line) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, upsertLineSQL,
		l.OrderID, l.ProductID, l.Quantity, l.Price,
	); err != nil {
		return fmt.Errorf("upserting line %d/%d: %w", l.OrderID, l.ProductID, err)
	}
	return nil
}

// Delete removes the line.
func (r *LineRepository) Delete(ctx context.Context, orderID, productID int64) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, deleteLineSQL, orderID, productID)
	if err != nil {
		return fmt.Errorf("deleting line %d/%d: %w", orderID, productID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	if err := row.Scan(&o.ID, &o.CustomerID, &status, &o.Total, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	return o, nil
}

func scanLine(row pgx.CollectableRow) (order.Line, error) {
	var l order.Line
	err := row.Scan(&l.OrderID, &l.ProductID, &l.Quantity, &l.Price)
	return l, err
}
