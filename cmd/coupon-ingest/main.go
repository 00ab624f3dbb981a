// Command coupon-ingest loads published coupon token files into the coupon
// server catalog.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/oolio-cart/internal/ingest"
	"github.com/xenking/oolio-cart/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		databaseURL string
		cfg         ingest.Config
		dryRun      bool
	)
	flag.StringVar(&dataDir, "data-dir", "data", "directory containing couponbase*.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&cfg.Quorum, "quorum", 2, "number of files that must publish a token")
	flag.UintVar(&cfg.Capacity, "capacity", 1_000_000, "expected tokens per file")
	flag.Float64Var(&cfg.FalsePositiveRate, "fpr", 0.001, "bloom filter false positive rate")
	flag.StringVar(&cfg.Version, "version", "1", "catalog version stamped on loaded coupons")
	flag.Uint64Var(&cfg.ProgressEvery, "progress-every", 10_000_000, "log progress every N lines")
	flag.BoolVar(&dryRun, "dry-run", false, "scan files without writing to the database")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()
	cfg.Logger = lg

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, dataDir, databaseURL, cfg, dryRun); err != nil {
		lg.Fatal("Coupon ingest failed", zap.Error(err))
	}
	lg.Info("Coupon ingest completed")
}

func run(ctx context.Context, lg *zap.Logger, dataDir, databaseURL string, cfg ingest.Config, dryRun bool) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "couponbase*.gz"))
	if err != nil {
		return errors.Wrap(err, "list files")
	}
	if len(files) == 0 {
		return errors.Errorf("no couponbase*.gz files in %s", dataDir)
	}

	entries, _, err := ingest.Run(ctx, files, cfg)
	if err != nil {
		return errors.Wrap(err, "ingest")
	}
	if dryRun || len(entries) == 0 {
		lg.Info("Nothing written", zap.Int("accepted", len(entries)), zap.Bool("dry_run", dryRun))
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunCouponMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run coupon migrations")
	}

	records := make([]postgres.CouponRecord, len(entries))
	for i, e := range entries {
		records[i] = postgres.CouponRecord{Token: e.Token, Coupon: e.Coupon}
	}
	merged, err := postgres.NewCouponRepository(pool).Load(ctx, records)
	if err != nil {
		return errors.Wrap(err, "load coupons")
	}
	lg.Info("Coupons loaded", zap.Int64("merged", merged))
	return nil
}
