// Package handler exposes the cart engine over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/xenking/oolio-cart/internal/domain/order"
	"github.com/xenking/oolio-cart/internal/domain/product"
	"github.com/xenking/oolio-cart/pkg/httpmiddleware"
)

// Orders is the part of *order.Service used by the handlers.
type Orders interface {
	GetOrder(ctx context.Context, orderID int64) (*order.Order, error)
	GetCart(ctx context.Context, customerID int64) (*order.Order, error)
	CreateCart(ctx context.Context, customerID int64) (*order.Order, error)
	AddToCart(ctx context.Context, customerID, productID int64, qty int) (*order.Order, error)
	AddLine(ctx context.Context, orderID, productID int64, qty int) (*order.Order, error)
	UpdateLine(ctx context.Context, orderID, productID int64, qty int) (*order.Order, error)
	RemoveLine(ctx context.Context, orderID, productID int64) (*order.Order, error)
	CompleteOrder(ctx context.Context, orderID int64) (*order.Order, error)
	ApplyCoupon(ctx context.Context, orderID int64, token string) (*order.Order, error)
}

var _ Orders = (*order.Service)(nil)

// Handler serves the product catalog and the cart/order API.
type Handler struct {
	products product.Repository
	orders   Orders
	limiter  *httpmiddleware.SlidingWindow
}

// NewHandler constructs a Handler. When limiter is non-nil, cart writes are
// rate limited per customer or per order.
func NewHandler(products product.Repository, orders Orders, limiter *httpmiddleware.SlidingWindow) *Handler {
	return &Handler{
		products: products,
		orders:   orders,
		limiter:  limiter,
	}
}

// Mount registers the API routes on mux under /api.
func (h *Handler) Mount(mux *http.ServeMux) {
	byCustomer := h.limit(httpmiddleware.PathKey("customerID"))
	byOrder := h.limit(httpmiddleware.PathKey("orderID"))

	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/products/{productID}", h.GetProduct)

	mux.HandleFunc("GET /api/customers/{customerID}/cart", h.GetCart)
	mux.Handle("POST /api/customers/{customerID}/cart", byCustomer(http.HandlerFunc(h.CreateCart)))
	mux.Handle("POST /api/customers/{customerID}/cart/items", byCustomer(http.HandlerFunc(h.AddToCart)))

	mux.HandleFunc("GET /api/orders/{orderID}", h.GetOrder)
	mux.Handle("POST /api/orders/{orderID}/lines", byOrder(http.HandlerFunc(h.AddLine)))
	mux.Handle("PUT /api/orders/{orderID}/lines/{productID}", byOrder(http.HandlerFunc(h.UpdateLine)))
	mux.Handle("DELETE /api/orders/{orderID}/lines/{productID}", byOrder(http.HandlerFunc(h.RemoveLine)))
	mux.Handle("POST /api/orders/{orderID}/complete", byOrder(http.HandlerFunc(h.CompleteOrder)))
	mux.Handle("POST /api/orders/{orderID}/coupon", byOrder(http.HandlerFunc(h.ApplyCoupon)))
}

func (h *Handler) limit(key httpmiddleware.KeyFunc) httpmiddleware.Middleware {
	if h.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return httpmiddleware.RateLimit(h.limiter, key)
}
