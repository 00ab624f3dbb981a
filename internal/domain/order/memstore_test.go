package order

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-cart/internal/domain/product"
)

// memStore is an in-memory store implementing every repository the Service
// needs. Transactions are serialized and roll back on error.
type memStore struct {
	txMu sync.Mutex

	mu      sync.Mutex
	state   memState
	nextID  int64
	afterTx []func(*memState)

	// Failure injection.
	upsertErr   error
	setTotalErr error
	// raceCustomer makes the next Create for this customer lose to a
	// concurrent transaction that commits its own cart.
	raceCustomer int64
}

type memState struct {
	products map[int64]product.Product
	stock    map[int64]int
	orders   map[int64]Order
	lines    map[int64]map[int64]Line
}

func (s memState) clone() memState {
	c := memState{
		products: maps.Clone(s.products),
		stock:    maps.Clone(s.stock),
		orders:   maps.Clone(s.orders),
		lines:    make(map[int64]map[int64]Line, len(s.lines)),
	}
	for id, ls := range s.lines {
		c.lines[id] = maps.Clone(ls)
	}
	return c
}

func newMemStore(products ...product.Product) *memStore {
	m := &memStore{
		state: memState{
			products: make(map[int64]product.Product),
			stock:    make(map[int64]int),
			orders:   make(map[int64]Order),
			lines:    make(map[int64]map[int64]Line),
		},
	}
	for _, p := range products {
		m.state.products[p.ID] = p
		m.state.stock[p.ID] = p.Stock
	}
	return m
}

func (m *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.state.clone()
	m.mu.Unlock()

	err := fn(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = snapshot
	}
	for _, f := range m.afterTx {
		f(&m.state)
	}
	m.afterTx = nil
	return err
}

// product.Repository

func (m *memStore) List(_ context.Context) ([]product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]product.Product, 0, len(m.state.products))
	for _, id := range slices.Sorted(maps.Keys(m.state.products)) {
		out = append(out, m.state.products[id])
	}
	return out, nil
}

func (m *memStore) GetByID(_ context.Context, id int64) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

// stock.Store

func (m *memStore) Quantity(_ context.Context, productID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.state.stock[productID]
	if !ok {
		return 0, product.ErrNotFound
	}
	return q, nil
}

func (m *memStore) LockQuantity(ctx context.Context, productID int64) (int, error) {
	return m.Quantity(ctx, productID)
}

func (m *memStore) SetQuantity(_ context.Context, productID int64, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.stock[productID]; !ok {
		return product.ErrNotFound
	}
	m.state.stock[productID] = qty
	return nil
}

func (m *memStore) stockOf(productID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.stock[productID]
}

func (m *memStore) setStock(productID int64, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.stock[productID] = qty
}

// orderRepo and lineRepo expose the order side of memStore under the
// method names of Repository and LineRepository, which collide with the
// product repository's.
type (
	orderRepo struct{ *memStore }
	lineRepo  struct{ *memStore }
)

func (r orderRepo) Create(_ context.Context, customerID int64, at time.Time) (*Order, error) {
	m := r.memStore
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.raceCustomer == customerID && customerID != 0 {
		m.raceCustomer = 0
		m.nextID++
		rival := Order{ID: m.nextID, CustomerID: customerID, Status: StatusCart, CreatedAt: at, UpdatedAt: at}
		m.afterTx = append(m.afterTx, func(s *memState) { s.orders[rival.ID] = rival })
		return nil, ErrOrderInProgress
	}
	for _, o := range m.state.orders {
		if o.CustomerID == customerID && o.Status == StatusCart {
			return nil, ErrOrderInProgress
		}
	}
	m.nextID++
	o := Order{
		ID:         m.nextID,
		CustomerID: customerID,
		Status:     StatusCart,
		Total:      decimal.Zero,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	m.state.orders[o.ID] = o
	return &o, nil
}

func (r orderRepo) Get(_ context.Context, id int64) (*Order, error) {
	m := r.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(id)
}

func (r orderRepo) GetForUpdate(ctx context.Context, id int64) (*Order, error) {
	return r.Get(ctx, id)
}

func (r orderRepo) FindCart(_ context.Context, customerID int64) (*Order, error) {
	m := r.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, o := range m.state.orders {
		if o.CustomerID == customerID && o.Status == StatusCart {
			return m.load(id)
		}
	}
	return nil, ErrNotFound
}

func (r orderRepo) SetTotal(_ context.Context, id int64, total decimal.Decimal, at time.Time) error {
	m := r.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setTotalErr != nil {
		return m.setTotalErr
	}
	o, ok := m.state.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Total = total
	o.UpdatedAt = at
	m.state.orders[id] = o
	return nil
}

func (r orderRepo) SetStatus(_ context.Context, id int64, status Status, at time.Time) error {
	m := r.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = at
	m.state.orders[id] = o
	return nil
}

func (r orderRepo) Delete(_ context.Context, id int64) error {
	m := r.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.orders[id]; !ok {
		return ErrNotFound
	}
	delete(m.state.orders, id)
	delete(m.state.lines, id)
	return nil
}

func (r lineRepo) Upsert(_ context.Context, l Line) error {
	m := r.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if _, ok := m.state.orders[l.OrderID]; !ok {
		return ErrNotFound
	}
	if m.state.lines[l.OrderID] == nil {
		m.state.lines[l.OrderID] = make(map[int64]Line)
	}
	m.state.lines[l.OrderID][l.ProductID] = l
	return nil
}

func (r lineRepo) Delete(_ context.Context, orderID, productID int64) error {
	m := r.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.lines[orderID][productID]; !ok {
		return ErrNotFound
	}
	delete(m.state.lines[orderID], productID)
	return nil
}

// load builds an order with its lines. m.mu must be held.
func (m *memStore) load(id int64) (*Order, error) {
	o, ok := m.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	o.Lines = nil
	for _, pid := range slices.Sorted(maps.Keys(m.state.lines[id])) {
		o.Lines = append(o.Lines, m.state.lines[id][pid])
	}
	return &o, nil
}

// allOrders returns every stored order with lines, sorted by ID.
func (m *memStore) allOrders() []*Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, id := range slices.Sorted(maps.Keys(m.state.orders)) {
		o, _ := m.load(id)
		out = append(out, o)
	}
	return out
}
