package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/oolio-cart/internal/domain/order"
	"github.com/xenking/oolio-cart/internal/domain/product"
	"github.com/xenking/oolio-cart/pkg/httpmiddleware"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeOrder(w http.ResponseWriter, status int, o *order.Order) {
	writeJSON(w, status, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func encodeProduct(e *jx.Encoder, p *product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("price")
	e.Str(p.Price.StringFixed(2))
	e.FieldStart("stock")
	e.Int(p.Stock)
	e.FieldStart("category")
	e.Str(p.Category.String())
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(o.ID)
	e.FieldStart("customerId")
	e.Int64(o.CustomerID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("total")
	e.Str(o.Total.StringFixed(2))
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range o.Lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Int64(l.ProductID)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("price")
		e.Str(l.Price.StringFixed(2))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.FieldStart("updatedAt")
	e.Str(o.UpdatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}

// pathID parses a positive integer path wildcard, answering 400 otherwise.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

type lineRequest struct {
	ProductID int64
	Quantity  int
}

// readLineRequest decodes {"productId":..,"quantity":..}. productId is
// required only when needProduct is set.
func readLineRequest(w http.ResponseWriter, r *http.Request, needProduct bool) (lineRequest, bool) {
	var (
		req         lineRequest
		hasQuantity bool
	)
	err := readBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			req.ProductID, err = d.Int64()
		case "quantity":
			req.Quantity, err = d.Int()
			hasQuantity = true
		default:
			err = d.Skip()
		}
		return err
	})
	switch {
	case err != nil:
		httpmiddleware.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, false
	case needProduct && req.ProductID <= 0:
		httpmiddleware.WriteError(w, http.StatusBadRequest, "productId is required")
		return req, false
	case !hasQuantity:
		httpmiddleware.WriteError(w, http.StatusBadRequest, "quantity is required")
		return req, false
	}
	return req, true
}

// readCouponRequest decodes {"token":..}.
func readCouponRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	var token string
	err := readBody(r, func(d *jx.Decoder, key string) error {
		if key != "token" {
			return d.Skip()
		}
		var err error
		token, err = d.Str()
		return err
	})
	if err != nil {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return "", false
	}
	if token == "" {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "token is required")
		return "", false
	}
	return token, true
}

func readBody(r *http.Request, field func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return errors.Wrap(err, "read")
	}
	if len(data) > maxBodyBytes {
		return errors.New("body too large")
	}
	return jx.DecodeBytes(data).Obj(field)
}
