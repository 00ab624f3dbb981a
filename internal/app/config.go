package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/oolio-cart/internal/couponclient"
	"github.com/xenking/oolio-cart/pkg/httpmiddleware"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the API server configuration, loadable from environment
// variables (CART_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Coupons     couponclient.Config
	RateLimit   httpmiddleware.RateLimitConfig
	Health      HealthConfig
	Graceful    GracefulConfig
}

// CouponServerConfig holds the coupon server configuration (COUPONS_ prefix).
type CouponServerConfig struct {
	Addr        string `default:"0.0.0.0:8081" usage:"Coupon server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (COUPONS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Health      HealthConfig
	Graceful    GracefulConfig
}

// HealthConfig controls the probe loop.
type HealthConfig struct {
	Interval      time.Duration `default:"10s" usage:"Health check interval"`
	MaxGoroutines int           `default:"10000" usage:"Liveness fails above this goroutine count"`
	PingTimeout   time.Duration `default:"5s" usage:"Database ping timeout"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads the API server configuration.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := load(&cfg, "CART", "/etc/cart/config.yaml"); err != nil {
		return nil, err
	}
	cfg.DatabaseURL, cfg.Addr = platformDefaults(cfg.DatabaseURL, cfg.Addr, defaultAddr)
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CART_DATABASE_URL or DATABASE_URL")
	}
	return &cfg, nil
}

// LoadCouponServerConfig loads the coupon server configuration.
func LoadCouponServerConfig() (*CouponServerConfig, error) {
	var cfg CouponServerConfig
	if err := load(&cfg, "COUPONS", "/etc/cart/coupons.yaml"); err != nil {
		return nil, err
	}
	cfg.DatabaseURL, cfg.Addr = platformDefaults(cfg.DatabaseURL, cfg.Addr, "0.0.0.0:8081")
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set COUPONS_DATABASE_URL or DATABASE_URL")
	}
	return &cfg, nil
}

func load(dst any, prefix, systemFile string) error {
	loader := aconfig.LoaderFor(dst, aconfig.Config{
		EnvPrefix: prefix,
		Files:      []string{"config.yaml", systemFile},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return errors.Wrap(err, "load config")
	}
	return nil
}

// platformDefaults maps platform-provided DATABASE_URL and PORT (Railway,
// Render, etc.) onto the prefixed configuration.
func platformDefaults(databaseURL, addr, defAddr string) (string, string) {
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && addr == defAddr {
		addr = "0.0.0.0:" + port
	}
	return databaseURL, addr
}
