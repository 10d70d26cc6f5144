package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/pricing"
)

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (STOREFRONT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (STOREFRONT_API_KEY_PEPPER)" flag:"api-key-pepper"`
	CouponSecret string `usage:"HMAC key deriving deterministic coupon codes (STOREFRONT_COUPON_SECRET)" flag:"coupon-secret"`
	Pricing      PricingConfig
	Payment      PaymentConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// PricingConfig overrides the delivery fee parameters of the pricing policy.
type PricingConfig struct {
	Currency              string `default:"USD" usage:"ISO currency code charged"`
	DeliveryFee           int64  `default:"100" usage:"Flat delivery fee" flag:"delivery-fee"`
	FreeDeliveryThreshold int64  `default:"1000" usage:"Subtotal from which delivery is free" flag:"free-delivery-threshold"`
}

// Policy returns the pricing policy with the configured delivery fee.
func (c PricingConfig) Policy() pricing.Policy {
	p := pricing.DefaultPolicy()
	p.DeliveryFee = decimal.NewFromInt(c.DeliveryFee)
	p.FreeDeliveryThreshold = decimal.NewFromInt(c.FreeDeliveryThreshold)
	return p
}

// PaymentConfig selects the payment processor. An empty BaseURL runs the
// in-process sandbox.
type PaymentConfig struct {
	BaseURL   string        `default:"" usage:"Payment intents API base URL; empty uses the sandbox" flag:"payment-base-url"`
	SecretKey string        `usage:"Payment API secret key" flag:"payment-secret-key"`
	Timeout   time.Duration `default:"10s" usage:"Payment capture timeout" flag:"payment-timeout"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Max          int           `default:"100" usage:"Max requests per window"`
	Window       time.Duration `default:"1m"  usage:"Rate limit window duration"`
	CouponMax    int           `default:"20" usage:"Max coupon validations per API key per window" flag:"coupon-max"`
	CouponWindow time.Duration `default:"1m" usage:"Coupon rate limit window" flag:"coupon-window"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STOREFRONT",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set STOREFRONT_DATABASE_URL or DATABASE_URL")
	case c.CouponSecret == "":
		return errors.New("coupon secret is required: set STOREFRONT_COUPON_SECRET")
	case c.Payment.BaseURL != "" && c.Payment.SecretKey == "":
		return errors.New("payment secret key is required with a payment base URL")
	case c.Pricing.DeliveryFee < 0 || c.Pricing.FreeDeliveryThreshold < 0:
		return errors.New("delivery fee settings must not be negative")
	case c.Payment.Timeout <= 0:
		return errors.New("payment timeout must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STOREFRONT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
