// Package db provides embedded database schemas.
package db

import _ "embed"

// Schema contains the DDL of the cart engine: products, orders and order
// lines.
//
//go:embed migrations/001_schema.sql
var Schema string

// CouponSchema contains the DDL of the coupon service catalog.
//
//go:embed migrations/coupons.sql
var CouponSchema string
