// Command seed-db loads the demo product catalog and, optionally, demo
// coupons into the coupon catalog.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-cart/internal/domain/coupon"
	"github.com/xenking/oolio-cart/internal/domain/product"
	"github.com/xenking/oolio-cart/internal/storage/postgres"
)

var demoCoupons = []postgres.CouponRecord{
	{Token: "HAPPYHRS", Coupon: coupon.Coupon{Category: "PASTRY", Percent: decimal.NewFromInt(20), Version: "1"}},
	{Token: "FIFTYOFF", Coupon: coupon.Coupon{Category: "CAKE", Percent: decimal.NewFromInt(50), Version: "1"}},
	{Token: "WAFFLE10", Coupon: coupon.Coupon{Category: "WAFFLE", Percent: decimal.NewFromInt(10), Version: "1"}},
}

func main() {
	var (
		databaseURL  string
		productsFile string
		withCoupons  bool
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.BoolVar(&withCoupons, "coupons", false, "also seed demo coupons into the coupon catalog")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, productsFile, withCoupons); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, productsFile string, withCoupons bool) error {
	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}
	products, err := decodeProducts(data)
	if err != nil {
		return errors.Wrapf(err, "decode %s", productsFile)
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	if err := seedProducts(ctx, lg, postgres.NewProductRepository(pool), products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if !withCoupons {
		return nil
	}

	if err := postgres.RunCouponMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run coupon migrations")
	}
	coupons := postgres.NewCouponRepository(pool)
	for _, rec := range demoCoupons {
		if err := coupons.Upsert(ctx, rec); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", rec.Token)
		}
		lg.Info("Upserted coupon",
			zap.String("token", rec.Token),
			zap.Stringer("category", rec.Coupon.Category),
			zap.Stringer("percent", rec.Coupon.Percent),
		)
	}
	return nil
}

type productWriter interface {
	Upsert(ctx context.Context, p product.Product) error
}

func seedProducts(ctx context.Context, lg *zap.Logger, repo productWriter, products []product.Product) error {
	for _, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return err
		}
		lg.Info("Upserted product", zap.Int64("id", p.ID), zap.String("name", p.Name), zap.Int("stock", p.Stock))
	}
	return nil
}
