package handler

import (
	"context"
	"net/http"

	"github.com/xenking/oolio-cart/internal/domain/order"
)

// GetCart returns the customer's cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	customerID, ok := pathID(w, r, "customerID")
	if !ok {
		return
	}
	h.respond(w, r, http.StatusOK, func(ctx context.Context) (*order.Order, error) {
		return h.orders.GetCart(ctx, customerID)
	})
}

// CreateCart opens an empty cart for the customer.
func (h *Handler) CreateCart(w http.ResponseWriter, r *http.Request) {
	customerID, ok := pathID(w, r, "customerID")
	if !ok {
		return
	}
	h.respond(w, r, http.StatusCreated, func(ctx context.Context) (*order.Order, error) {
		return h.orders.CreateCart(ctx, customerID)
	})
}

// AddToCart adds a product to the customer's cart, creating the cart on
// first use.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	customerID, ok := pathID(w, r, "customerID")
	if !ok {
		return
	}
	req, ok := readLineRequest(w, r, true)
	if !ok {
		return
	}
	h.respond(w, r, http.StatusOK, func(ctx context.Context) (*order.Order, error) {
		return h.orders.AddToCart(ctx, customerID, req.ProductID, req.Quantity)
	})
}

// GetOrder returns an order with its lines.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	h.respond(w, r, http.StatusOK, func(ctx context.Context) (*order.Order, error) {
		return h.orders.GetOrder(ctx, orderID)
	})
}

// AddLine puts a product on an order. On an existing line it behaves like
// UpdateLine, including the 204 for a discarded cart.
func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	req, ok := readLineRequest(w, r, true)
	if !ok {
		return
	}
	h.respondLine(w, r, func(ctx context.Context) (*order.Order, error) {
		return h.orders.AddLine(ctx, orderID, req.ProductID, req.Quantity)
	})
}

// UpdateLine sets a line's quantity. Zero removes the line, with the same
// empty-cart behavior as RemoveLine.
func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	req, ok := readLineRequest(w, r, false)
	if !ok {
		return
	}
	h.respondLine(w, r, func(ctx context.Context) (*order.Order, error) {
		return h.orders.UpdateLine(ctx, orderID, productID, req.Quantity)
	})
}

// RemoveLine deletes a line. When the cart becomes empty it is discarded
// and 204 is returned.
func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	h.respondLine(w, r, func(ctx context.Context) (*order.Order, error) {
		return h.orders.RemoveLine(ctx, orderID, productID)
	})
}

// CompleteOrder decrements stock by each line's quantity.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	h.respond(w, r, http.StatusOK, func(ctx context.Context) (*order.Order, error) {
		return h.orders.CompleteOrder(ctx, orderID)
	})
}

// ApplyCoupon re-prices the order with the coupon published under the
// request token. An unknown or unreachable coupon leaves prices unchanged.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	token, ok := readCouponRequest(w, r)
	if !ok {
		return
	}
	h.respond(w, r, http.StatusOK, func(ctx context.Context) (*order.Order, error) {
		return h.orders.ApplyCoupon(ctx, orderID, token)
	})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, call func(context.Context) (*order.Order, error)) {
	o, err := call(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeOrder(w, status, o)
}

// respondLine answers 204 when the mutation discarded the emptied cart.
func (h *Handler) respondLine(w http.ResponseWriter, r *http.Request, call func(context.Context) (*order.Order, error)) {
	o, err := call(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if o.IsEmpty() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeOrder(w, http.StatusOK, o)
}
