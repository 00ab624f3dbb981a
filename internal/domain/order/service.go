package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/oolio-cart/internal/domain/coupon"
	"github.com/xenking/oolio-cart/internal/domain/product"
)

const instrumentationName = "github.com/xenking/oolio-cart/internal/domain/order"

// StockLedger reads and adjusts available product stock.
type StockLedger interface {
	Available(ctx context.Context, productID int64) (int, error)
	Adjust(ctx context.Context, productID int64, delta int) (int, error)
}

// Deps holds the collaborators of a Service.
type Deps struct {
	Tx       UnitOfWork
	Orders   Repository
	Lines    LineRepository
	Products product.Repository
	Stock    StockLedger
	Coupons  coupon.Resolver
}

// Options holds optional Service settings. Zero values select no-op
// telemetry and the wall clock.
type Options struct {
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
	Now            func() time.Time
}

// Service is the cart/order consistency engine. Every mutation runs in one
// store transaction that first locks the order row, so all changes to an
// order and its lines are serialized and applied atomically.
type Service struct {
	tx       UnitOfWork
	orders   Repository
	lines    LineRepository
	products product.Repository
	stock    StockLedger
	coupons  coupon.Resolver

	now     func() time.Time
	tracer  trace.Tracer
	metrics serviceMetrics
}

type serviceMetrics struct {
	lineMutations      metric.Int64Counter
	ordersCompleted    metric.Int64Counter
	couponApplications metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(deps Deps, opts Options) (*Service, error) {
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = tracenoop.NewTracerProvider()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	meter := opts.MeterProvider.Meter(instrumentationName)
	var (
		m   serviceMetrics
		err error
	)
	if m.lineMutations, err = meter.Int64Counter("cart.line.mutations",
		metric.WithDescription("Committed order line mutations by operation"),
	); err != nil {
		return nil, errors.Wrap(err, "line mutations counter")
	}
	if m.ordersCompleted, err = meter.Int64Counter("cart.orders.completed",
		metric.WithDescription("Orders moved from CART to COMPLETED"),
	); err != nil {
		return nil, errors.Wrap(err, "orders completed counter")
	}
	if m.couponApplications, err = meter.Int64Counter("cart.coupon.applications",
		metric.WithDescription("Coupon application attempts by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "coupon applications counter")
	}

	return &Service{
		tx:       deps.Tx,
		orders:   deps.Orders,
		lines:    deps.Lines,
		products: deps.Products,
		stock:    deps.Stock,
		coupons:  deps.Coupons,
		now:      opts.Now,
		tracer:   opts.TracerProvider.Tracer(instrumentationName),
		metrics:  m,
	}, nil
}

// GetOrder returns an order with its lines.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, orderError(orderID, err)
	}
	return o, nil
}

// GetCart returns the customer's CART order.
func (s *Service) GetCart(ctx context.Context, customerID int64) (*Order, error) {
	o, err := s.orders.FindCart(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &CartNotFoundError{CustomerID: customerID}
		}
		return nil, errors.Wrapf(err, "find cart of customer %d", customerID)
	}
	return o, nil
}

// CreateCart creates an empty CART order for the customer. It fails with
// ErrOrderInProgress when the customer already has one; the store's unique
// constraint reports the same error when a concurrent create wins the race.
func (s *Service) CreateCart(ctx context.Context, customerID int64) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateCart",
		trace.WithAttributes(attribute.Int64("customer.id", customerID)))
	defer func() { endSpan(span, rerr) }()

	var o *Order
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		_, err := s.orders.FindCart(ctx, customerID)
		switch {
		case err == nil:
			return ErrOrderInProgress
		case !errors.Is(err, ErrNotFound):
			return errors.Wrapf(err, "find cart of customer %d", customerID)
		}
		o, err = s.createCart(ctx, customerID)
		return err
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Cart created",
		zap.Int64("customer_id", customerID),
		zap.Int64("order_id", o.ID),
	)
	return o, nil
}

// AddToCart adds a product to the customer's cart, creating the cart when
// the customer has none. A lost cart-creation race is retried once in a
// fresh transaction, which then finds the winner's cart.
func (s *Service) AddToCart(ctx context.Context, customerID, productID int64, qty int) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.AddToCart", trace.WithAttributes(
		attribute.Int64("customer.id", customerID),
		attribute.Int64("product.id", productID),
	))
	defer func() { endSpan(span, rerr) }()

	for attempt := 0; ; attempt++ {
		var o *Order
		err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
			var err error
			if o, err = s.lockOrCreateCart(ctx, customerID); err != nil {
				return err
			}
			return s.addLine(ctx, o, productID, qty)
		})
		if errors.Is(err, ErrOrderInProgress) && attempt == 0 {
			zctx.From(ctx).Debug("Cart creation race lost, retrying",
				zap.Int64("customer_id", customerID))
			continue
		}
		if err != nil {
			return nil, err
		}
		s.metrics.lineMutations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "add")))
		return o, nil
	}
}

// AddLine adds qty of a product to a cart. When the cart already has a line
// for the product it behaves as UpdateLine.
func (s *Service) AddLine(ctx context.Context, orderID, productID int64, qty int) (*Order, error) {
	return s.mutate(ctx, "add", orderID, productID, func(ctx context.Context, o *Order) error {
		return s.addLine(ctx, o, productID, qty)
	})
}

// UpdateLine sets a line's quantity, re-pricing it at the product's current
// unit price. A quantity of zero or less removes the line.
func (s *Service) UpdateLine(ctx context.Context, orderID, productID int64, qty int) (*Order, error) {
	return s.mutate(ctx, "update", orderID, productID, func(ctx context.Context, o *Order) error {
		return s.updateLine(ctx, o, productID, qty)
	})
}

// RemoveLine deletes a line. A cart left without lines is deleted.
func (s *Service) RemoveLine(ctx context.Context, orderID, productID int64) (*Order, error) {
	return s.mutate(ctx, "remove", orderID, productID, func(ctx context.Context, o *Order) error {
		return s.removeLine(ctx, o, productID)
	})
}

// CompleteOrder moves a cart to COMPLETED and decrements each line's
// product stock by the line quantity, saturating at zero. This is the only
// path that decrements stock.
func (s *Service) CompleteOrder(ctx context.Context, orderID int64) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.CompleteOrder",
		trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer func() { endSpan(span, rerr) }()

	var o *Order
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.orders.GetForUpdate(ctx, orderID); err != nil {
			return orderError(orderID, err)
		}
		now := s.now()
		if err := o.Complete(now); err != nil {
			return err
		}
		// Lines are sorted by product, so concurrent completions lock
		// stock rows in the same order.
		for _, l := range o.Lines {
			if _, err := s.stock.Adjust(ctx, l.ProductID, -l.Quantity); err != nil {
				if errors.Is(err, product.ErrNotFound) {
					return &ProductNotFoundError{ProductID: l.ProductID}
				}
				return errors.Wrapf(err, "adjust stock of product %d", l.ProductID)
			}
		}
		if err := s.orders.SetStatus(ctx, o.ID, StatusCompleted, now); err != nil {
			return errors.Wrapf(err, "complete order %d", o.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ordersCompleted.Add(ctx, 1)
	zctx.From(ctx).Info("Order completed",
		zap.Int64("order_id", o.ID),
		zap.Int("lines", len(o.Lines)),
		zap.Stringer("total", o.Total),
	)
	return o, nil
}

// mutate locks a mutable cart and applies fn to it in one transaction.
func (s *Service) mutate(
	ctx context.Context,
	op string,
	orderID, productID int64,
	fn func(ctx context.Context, o *Order) error,
) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.line."+op, trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Int64("product.id", productID),
	))
	defer func() { endSpan(span, rerr) }()

	var o *Order
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.lockCart(ctx, orderID); err != nil {
			return err
		}
		return fn(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.lineMutations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	return o, nil
}

func (s *Service) addLine(ctx context.Context, o *Order, productID int64, qty int) error {
	if _, ok := o.Line(productID); ok {
		return s.updateLine(ctx, o, productID, qty)
	}
	p, err := s.product(ctx, productID)
	if err != nil {
		return err
	}
	if qty <= 0 {
		return &InvalidQuantityError{ProductID: productID, Quantity: qty}
	}
	if err := s.checkStock(ctx, productID, qty); err != nil {
		return err
	}

	line := Line{
		OrderID:   o.ID,
		ProductID: productID,
		Quantity:  qty,
		Price:     coupon.ExtendedPrice(p.Price, qty),
	}
	if err := s.lines.Upsert(ctx, line); err != nil {
		return errors.Wrapf(err, "insert line %d/%d", o.ID, productID)
	}
	o.PutLine(line)
	o.ModifyTotal(line.Price)
	return s.saveTotal(ctx, o)
}

func (s *Service) updateLine(ctx context.Context, o *Order, productID int64, qty int) error {
	old, ok := o.Line(productID)
	if !ok {
		return &LineNotFoundError{OrderID: o.ID, ProductID: productID}
	}
	if qty <= 0 {
		return s.removeLine(ctx, o, productID)
	}
	p, err := s.product(ctx, productID)
	if err != nil {
		return err
	}
	if err := s.checkStock(ctx, productID, qty); err != nil {
		return err
	}

	line := old
	line.Quantity = qty
	line.Price = coupon.ExtendedPrice(p.Price, qty)
	if err := s.lines.Upsert(ctx, line); err != nil {
		return errors.Wrapf(err, "update line %d/%d", o.ID, productID)
	}
	o.PutLine(line)
	o.ModifyTotal(line.Price.Sub(old.Price))
	return s.saveTotal(ctx, o)
}

func (s *Service) removeLine(ctx context.Context, o *Order, productID int64) error {
	old, ok := o.Line(productID)
	if !ok {
		return &LineNotFoundError{OrderID: o.ID, ProductID: productID}
	}
	if err := s.lines.Delete(ctx, o.ID, productID); err != nil {
		return errors.Wrapf(err, "delete line %d/%d", o.ID, productID)
	}
	o.DropLine(productID)
	o.ModifyTotal(old.Price.Neg())

	if o.IsEmpty() {
		if err := s.orders.Delete(ctx, o.ID); err != nil {
			return errors.Wrapf(err, "discard empty cart %d", o.ID)
		}
		zctx.From(ctx).Info("Empty cart discarded",
			zap.Int64("order_id", o.ID),
			zap.Int64("customer_id", o.CustomerID),
		)
		return nil
	}
	return s.saveTotal(ctx, o)
}

// lockCart locks the order row and verifies the order is still a cart.
func (s *Service) lockCart(ctx context.Context, orderID int64) (*Order, error) {
	o, err := s.orders.GetForUpdate(ctx, orderID)
	if err != nil {
		return nil, orderError(orderID, err)
	}
	if err := o.Mutable(); err != nil {
		return nil, err
	}
	return o, nil
}

// lockOrCreateCart returns the customer's cart locked for update, creating
// one when the customer has none.
func (s *Service) lockOrCreateCart(ctx context.Context, customerID int64) (*Order, error) {
	cart, err := s.orders.FindCart(ctx, customerID)
	switch {
	case errors.Is(err, ErrNotFound):
		return s.createCart(ctx, customerID)
	case err != nil:
		return nil, errors.Wrapf(err, "find cart of customer %d", customerID)
	}

	o, err := s.orders.GetForUpdate(ctx, cart.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		// Discarded between lookup and lock.
		return s.createCart(ctx, customerID)
	case err != nil:
		return nil, orderError(cart.ID, err)
	case o.Status != StatusCart:
		// Completed between lookup and lock.
		return s.createCart(ctx, customerID)
	}
	return o, nil
}

func (s *Service) createCart(ctx context.Context, customerID int64) (*Order, error) {
	o, err := s.orders.Create(ctx, customerID, s.now())
	if err != nil {
		if errors.Is(err, ErrOrderInProgress) {
			return nil, ErrOrderInProgress
		}
		return nil, errors.Wrapf(err, "create cart for customer %d", customerID)
	}
	return o, nil
}

func (s *Service) product(ctx context.Context, productID int64) (*product.Product, error) {
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, &ProductNotFoundError{ProductID: productID}
		}
		return nil, errors.Wrapf(err, "get product %d", productID)
	}
	return p, nil
}

// checkStock validates qty against current availability without reserving.
func (s *Service) checkStock(ctx context.Context, productID int64, qty int) error {
	available, err := s.stock.Available(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return &ProductNotFoundError{ProductID: productID}
		}
		return errors.Wrapf(err, "stock of product %d", productID)
	}
	if qty > available {
		return &InsufficientStockError{
			ProductID: productID,
			Requested: qty,
			Available: available,
		}
	}
	return nil
}

func (s *Service) saveTotal(ctx context.Context, o *Order) error {
	o.UpdatedAt = s.now()
	if err := s.orders.SetTotal(ctx, o.ID, o.Total, o.UpdatedAt); err != nil {
		return errors.Wrapf(err, "set total of order %d", o.ID)
	}
	return nil
}

func orderError(orderID int64, err error) error {
	if errors.Is(err, ErrNotFound) {
		return &OrderNotFoundError{OrderID: orderID}
	}
	return errors.Wrapf(err, "get order %d", orderID)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
