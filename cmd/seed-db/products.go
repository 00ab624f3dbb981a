package main

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-cart/internal/domain/product"
)

// decodeProducts decodes the seed catalog: an array of
// {"id","name","price","stock","category"} objects. Prices are strings.
func decodeProducts(data []byte) ([]product.Product, error) {
	var products []product.Product
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var (
			p        product.Product
			category string
		)
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				p.ID, err = d.Int64()
			case "name":
				p.Name, err = d.Str()
			case "price":
				var s string
				if s, err = d.Str(); err == nil {
					p.Price, err = decimal.NewFromString(s)
				}
			case "stock":
				p.Stock, err = d.Int()
			case "category":
				category, err = d.Str()
			default:
				err = d.Skip()
			}
			if err != nil {
				return errors.Wrap(err, key)
			}
			return nil
		}); err != nil {
			return err
		}

		var err error
		switch {
		case p.ID <= 0:
			return errors.Errorf("product %q: id must be positive", p.Name)
		case p.Price.IsNegative():
			return errors.Errorf("product %d: negative price", p.ID)
		case p.Stock < 0:
			return errors.Errorf("product %d: negative stock", p.ID)
		}
		if p.Category, err = product.ParseCategory(category); err != nil {
			return errors.Wrapf(err, "product %d", p.ID)
		}
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}
