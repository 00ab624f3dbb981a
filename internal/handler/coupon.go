package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/oolio-cart/internal/couponclient"
	"github.com/xenking/oolio-cart/internal/domain/coupon"
	"github.com/xenking/oolio-cart/pkg/httpmiddleware"
)

// CouponFinder looks up catalog coupons by token.
type CouponFinder interface {
	FindByToken(ctx context.Context, token string) (coupon.Coupon, error)
}

// CouponHandler serves the coupon catalog read by couponclient.Client.
type CouponHandler struct {
	coupons CouponFinder
}

// NewCouponHandler returns a CouponHandler backed by coupons.
func NewCouponHandler(coupons CouponFinder) *CouponHandler {
	return &CouponHandler{coupons: coupons}
}

// Mount registers the coupon routes on mux under /api.
func (h *CouponHandler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/coupons/{token}", h.GetCoupon)
}

// GetCoupon returns the coupon published under the path token, or 404.
func (h *CouponHandler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.PathValue("token"))
	if token == "" {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "invalid token")
		return
	}
	c, err := h.coupons.FindByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, coupon.ErrNoCoupon) {
			httpmiddleware.WriteError(w, http.StatusNotFound, "coupon not found")
			return
		}
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { couponclient.EncodeCoupon(e, c) })
}
