package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/oolio-cart/internal/domain/coupon"
)

// ApplyCoupon resolves the coupon for token and re-prices every line of the
// cart against it. When no coupon can be obtained the order is returned
// unchanged.
//
// The lookup runs before the transaction opens; no row lock is held across
// the network call.
func (s *Service) ApplyCoupon(ctx context.Context, orderID int64, token string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.ApplyCoupon",
		trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer func() { endSpan(span, rerr) }()

	lg := zctx.From(ctx).With(zap.Int64("order_id", orderID))

	var c coupon.Coupon
	switch l := s.coupons.Resolve(ctx, token).(type) {
	case coupon.Discount:
		if err := l.Coupon.Validate(); err != nil {
			lg.Warn("Ignoring invalid coupon", zap.Error(err))
			s.countCoupon(ctx, "invalid")
			return s.GetOrder(ctx, orderID)
		}
		c = l.Coupon
	case coupon.Unavailable:
		lg.Info("Coupon unavailable, keeping prices", zap.NamedError("reason", l.Reason))
		s.countCoupon(ctx, "unavailable")
		return s.GetOrder(ctx, orderID)
	default:
		return nil, errors.Errorf("unexpected coupon lookup %T", l)
	}

	var o *Order
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.lockCart(ctx, orderID); err != nil {
			return err
		}
		return s.reprice(ctx, o, c)
	})
	if err != nil {
		return nil, err
	}

	s.countCoupon(ctx, "applied")
	lg.Info("Coupon applied",
		zap.Stringer("category", c.Category),
		zap.Stringer("percent", c.Percent),
		zap.String("version", c.Version),
		zap.Stringer("total", o.Total),
	)
	return o, nil
}

// reprice recomputes every line at the product's current unit price with c
// applied and replaces the order total with the fresh sum.
func (s *Service) reprice(ctx context.Context, o *Order, c coupon.Coupon) error {
	total := decimal.Zero
	for i, l := range o.Lines {
		p, err := s.product(ctx, l.ProductID)
		if err != nil {
			return err
		}
		unit := coupon.EffectiveUnitPrice(p.Price, p.Category, c)
		price := coupon.ExtendedPrice(unit, l.Quantity)
		if !price.Equal(l.Price) {
			l.Price = price
			if err := s.lines.Upsert(ctx, l); err != nil {
				return errors.Wrapf(err, "reprice line %d/%d", o.ID, l.ProductID)
			}
			o.Lines[i] = l
		}
		total = total.Add(price)
	}
	o.Total = ClampTotal(total)
	return s.saveTotal(ctx, o)
}

func (s *Service) countCoupon(ctx context.Context, outcome string) {
	s.metrics.couponApplications.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}
