package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-cart/internal/domain/order"
	"github.com/xenking/oolio-cart/pkg/httpmiddleware"
)

// writeDomainError maps engine failures to HTTP statuses. Anything
// unrecognized is logged and answered with 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stockErr    *order.InsufficientStockError
		quantityErr *order.InvalidQuantityError
	)
	switch {
	case errors.Is(err, order.ErrNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &stockErr):
		httpmiddleware.WriteError(w, http.StatusConflict, stockErr.Error())
	case errors.Is(err, order.ErrOrderInProgress), errors.Is(err, order.ErrOrderNotMutable):
		httpmiddleware.WriteError(w, http.StatusConflict, err.Error())
	case errors.As(err, &quantityErr):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, quantityErr.Error())
	default:
		writeInternal(w, r, err)
	}
}

func writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal server error")
}
