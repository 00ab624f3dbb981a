package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-cart/internal/domain/coupon"
	"github.com/xenking/oolio-cart/internal/domain/product"
)

const (
	getCouponByTokenSQL = `SELECT category, discount_percent, version FROM coupons WHERE token = $1`

	upsertCouponSQL = `INSERT INTO coupons (token, category, discount_percent, version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token) DO UPDATE
		SET category = EXCLUDED.category, discount_percent = EXCLUDED.discount_percent,
			version = EXCLUDED.version, updated_at = now()`

	createCouponStagingSQL = `CREATE TEMP TABLE coupons_staging
		(token TEXT, category TEXT, discount_percent NUMERIC(5, 2), version TEXT)
		ON COMMIT DROP`

	mergeCouponStagingSQL = `INSERT INTO coupons (token, category, discount_percent, version)
		SELECT token, category, discount_percent, version FROM coupons_staging
		ON CONFLICT (token) DO UPDATE
		SET category = EXCLUDED.category, discount_percent = EXCLUDED.discount_percent,
			version = EXCLUDED.version, updated_at = now()`
)

// CouponRecord is a catalog entry keyed by its correlation token.
type CouponRecord struct {
	Token  string
	Coupon coupon.Coupon
}

// CouponRepository stores the coupon service catalog.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByToken returns the coupon published under token, or
// coupon.ErrNoCoupon.
func (r *CouponRepository) FindByToken(ctx context.Context, token string) (coupon.Coupon, error) {
	var (
		c        coupon.Coupon
		category string
	)
	err := conn(ctx, r.pool).QueryRow(ctx, getCouponByTokenSQL, token).Scan(&category, &c.Percent, &c.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.Coupon{}, coupon.ErrNoCoupon
		}
		return coupon.Coupon{}, fmt.Errorf("finding coupon by token %q: %w", token, err)
	}
	c.Category = product.Category(category)
	return c, nil
}

// Upsert inserts or replaces a single catalog entry.
func (r *CouponRepository) Upsert(ctx context.Context, rec CouponRecord) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, upsertCouponSQL,
		rec.Token, rec.Coupon.Category.String(), rec.Coupon.Percent, rec.Coupon.Version,
	); err != nil {
		return fmt.Errorf("upserting coupon %q: %w", rec.Token, err)
	}
	return nil
}

// Load bulk-loads records with COPY into a staging table and merges them
// into the catalog in one transaction. It returns the number of merged rows.
func (r *CouponRepository) Load(ctx context.Context, records []CouponRecord) (int64, error) {
	var merged int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createCouponStagingSQL); err != nil {
			return errors.Wrap(err, "create staging table")
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"coupons_staging"},
			[]string{"token", "category", "discount_percent", "version"},
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				rec := records[i]
				return []any{rec.Token, rec.Coupon.Category.String(), rec.Coupon.Percent, rec.Coupon.Version}, nil
			}),
		); err != nil {
			return errors.Wrap(err, "copy coupons")
		}
		tag, err := tx.Exec(ctx, mergeCouponStagingSQL)
		if err != nil {
			return errors.Wrap(err, "merge coupons")
		}
		merged = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("loading %d coupons: %w", len(records), err)
	}
	return merged, nil
}
