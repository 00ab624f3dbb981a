// Package couponclient resolves coupons from the remote coupon service.
package couponclient

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/oolio-cart/internal/domain/coupon"
	"github.com/xenking/oolio-cart/internal/domain/product"
)

const couponPath = "/api/coupons/{token}"

// Config configures the coupon service client.
type Config struct {
	BaseURL string        `default:"http://localhost:8081" usage:"Coupon service base URL"`
	Timeout time.Duration `default:"2s" usage:"Per-request timeout"`

	// Circuit breaker.
	MaxRequests  uint32        `default:"3" usage:"Requests allowed through a half-open breaker"`
	Interval     time.Duration `default:"15s" usage:"Closed-state window after which failure counts reset"`
	OpenTimeout  time.Duration `default:"30s" usage:"Time the breaker stays open before probing"`
	MinRequests  uint32        `default:"3" usage:"Requests in the window before the breaker may trip"`
	FailureRatio float64       `default:"0.6" usage:"Failure ratio that trips the breaker"`
}

// Options holds optional client settings.
type Options struct {
	Logger         *zap.Logger
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
	// Transport overrides the base HTTP transport.
	Transport http.RoundTripper
}

var _ coupon.Resolver = (*Client)(nil)

// Client implements coupon.Resolver over HTTP. Calls go through a circuit
// breaker, and concurrent lookups of one token share a single request.
// Every failure is reported as coupon.Unavailable.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	group   singleflight.Group
	lg      *zap.Logger
}

// New creates a Client.
func New(cfg Config, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	var transportOpts []otelhttp.Option
	if opts.MeterProvider != nil {
		transportOpts = append(transportOpts, otelhttp.WithMeterProvider(opts.MeterProvider))
	}
	if opts.TracerProvider != nil {
		transportOpts = append(transportOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}

	lg := opts.Logger.Named("coupons")
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(cfg.Timeout).
			SetRetryCount(0).
			SetTransport(otelhttp.NewTransport(base, transportOpts...)).
			SetHeader("Accept", "application/json"),
		lg: lg,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "coupon-service",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("circuit", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return c
}

// State returns the circuit breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// Resolve fetches the coupon published under token.
func (c *Client) Resolve(ctx context.Context, token string) coupon.Lookup {
	token = strings.TrimSpace(token)
	if token == "" {
		return coupon.Unavailable{Reason: coupon.ErrNoCoupon}
	}

	// The shared request must not be cancelled by whichever caller happens
	// to start it; the client timeout bounds it instead.
	fetchCtx := context.WithoutCancel(ctx)
	v, err, shared := c.group.Do(token, func() (any, error) {
		return c.breaker.Execute(func() (any, error) {
			return c.fetch(fetchCtx, token)
		})
	})
	if err != nil {
		c.lg.Warn("Coupon lookup failed",
			zap.Error(err),
			zap.Bool("shared", shared),
		)
		return coupon.Unavailable{Reason: err}
	}

	found, _ := v.(*coupon.Coupon)
	if found == nil {
		return coupon.Unavailable{Reason: coupon.ErrNoCoupon}
	}
	return coupon.Discount{Coupon: *found}
}

// fetch returns a nil coupon for unknown tokens; a miss is a healthy
// response and does not count against the breaker.
func (c *Client) fetch(ctx context.Context, token string) (*coupon.Coupon, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("token", token).
		Get(couponPath)
	if err != nil {
		return nil, errors.Wrap(err, "request coupon")
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, errors.Errorf("coupon service returned %s", resp.Status())
	}

	cp, err := DecodeCoupon(resp.Body())
	if err != nil {
		return nil, errors.Wrap(err, "decode coupon")
	}
	return &cp, nil
}

// DecodeCoupon decodes a coupon service response body. The discount may be
// a JSON number or a numeric string.
func DecodeCoupon(data []byte) (coupon.Coupon, error) {
	var (
		c        coupon.Coupon
		category string
		percent  string
	)
	if err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "category":
			category, err = d.Str()
		case "discountPercent":
			percent, err = decodeNumber(d)
		case "version":
			c.Version, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return coupon.Coupon{}, err
	}

	var err error
	if c.Category, err = product.ParseCategory(category); err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "category")
	}
	if c.Percent, err = decimal.NewFromString(percent); err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "discountPercent")
	}
	if err := c.Validate(); err != nil {
		return coupon.Coupon{}, err
	}
	return c, nil
}

func decodeNumber(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return "", errors.Errorf("unexpected %s", d.Next())
	}
}

// EncodeCoupon writes the coupon service response body for c.
func EncodeCoupon(e *jx.Encoder, c coupon.Coupon) {
	e.ObjStart()
	e.FieldStart("category")
	e.Str(c.Category.String())
	e.FieldStart("discountPercent")
	e.Str(c.Percent.String())
	e.FieldStart("version")
	e.Str(c.Version)
	e.ObjEnd()
}
