// Package app wires the servers together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/oolio-cart/internal/couponclient"
	"github.com/xenking/oolio-cart/internal/domain/order"
	"github.com/xenking/oolio-cart/internal/domain/stock"
	"github.com/xenking/oolio-cart/internal/handler"
	"github.com/xenking/oolio-cart/internal/storage/postgres"
	"github.com/xenking/oolio-cart/pkg/health"
	"github.com/xenking/oolio-cart/pkg/httpmiddleware"
)

// Run starts the cart API server and blocks until ctx is cancelled and the
// server has drained.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products := postgres.NewProductRepository(pool)
	coupons := couponclient.New(cfg.Coupons, couponclient.Options{
		Logger:         lg,
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	})
	orders, err := order.NewService(order.Deps{
		Tx:       postgres.NewTxManager(pool),
		Orders:   postgres.NewOrderRepository(pool),
		Lines:    postgres.NewLineRepository(pool),
		Products: products,
		Stock:    stock.NewLedger(products),
		Coupons:  coupons,
	}, order.Options{
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	limiter := httpmiddleware.NewSlidingWindow(cfg.RateLimit.Max, cfg.RateLimit.Window)
	go limiter.Run(ctx)

	mux := http.NewServeMux()
	handler.NewHandler(products, orders, limiter).Mount(mux)

	return serve(ctx, lg, m, server{
		name:     "cart-api",
		addr:     cfg.Addr,
		mux:      mux,
		pool:     pool,
		health:   cfg.Health,
		graceful: cfg.Graceful,
	})
}

// RunCouponServer starts the coupon catalog server.
func RunCouponServer(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *CouponServerConfig) error {
	lg.Info("Initializing coupon server", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunCouponMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run coupon migrations")
	}

	mux := http.NewServeMux()
	handler.NewCouponHandler(postgres.NewCouponRepository(pool)).Mount(mux)

	return serve(ctx, lg, m, server{
		name:     "coupon-server",
		addr:     cfg.Addr,
		mux:      mux,
		pool:     pool,
		health:   cfg.Health,
		graceful: cfg.Graceful,
	})
}

type server struct {
	name     string
	addr     string
	mux      *http.ServeMux
	pool     *pgxpool.Pool
	health   HealthConfig
	graceful GracefulConfig
}

// serve adds health endpoints and middleware to s.mux, listens, and shuts
// down gracefully once ctx is done.
func serve(ctx context.Context, lg *zap.Logger, m *app.Telemetry, s server) error {
	healthSvc := health.New()
	healthSvc.Register(health.Readiness, health.Check{
		Name:    "postgres",
		Timeout: s.health.PingTimeout,
		Func:    health.PingCheck(s.pool),
	})
	healthSvc.Register(health.Liveness, health.Check{
		Name: "goroutines",
		Func: health.GoroutineCountCheck(s.health.MaxGoroutines),
	})
	healthSvc.Start(ctx, s.health.Interval)
	healthSvc.SetReady(true)

	s.mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	s.mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)

	srv := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              s.addr,
		Handler: httpmiddleware.Wrap(s.mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Instrument(s.name, m.MeterProvider(), m.TracerProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", s.graceful.ReadinessDelay))
		time.Sleep(s.graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", s.graceful.ShutdownTimeout))
		if err := srv.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", s.addr), zap.String("server", s.name))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
