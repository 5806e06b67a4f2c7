package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string        `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string        `default:"" usage:"Redis URL for the active sale cache; empty disables caching" flag:"redis-url"`
	SaleCacheTTL time.Duration `default:"30s" usage:"How long the active sale list is cached" flag:"sale-cache-ttl"`
	APIKeyPepper string        `usage:"HMAC pepper for API key hashing (SHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Timezone     string        `default:"Asia/Ulaanbaatar" usage:"Business timezone for payment code days"`
	VATRate      string        `default:"0.10" usage:"VAT share of an order total" flag:"vat-rate"`
	QPay         QPayConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// QPayConfig holds payment gateway credentials.
type QPayConfig struct {
	BaseURL              string        `default:"https://merchant-sandbox.qpay.mn" usage:"QPay API base URL"`
	Username             string        `usage:"QPay client id"`
	Password             string        `usage:"QPay client secret"`
	InvoiceCode          string        `usage:"QPay merchant invoice code"`
	CallbackURL          string        `usage:"Public URL QPay posts payment callbacks to" flag:"qpay-callback-url"`
	WebhookSecret        string        `usage:"Shared secret for callback signatures" flag:"qpay-webhook-secret"`
	Timeout              time.Duration `default:"15s" usage:"Timeout for each QPay call"`
	TokenRefreshInterval time.Duration `default:"5m" usage:"How often the access token is refreshed in the background"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
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
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
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
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	rate, err := c.VAT()
	if err != nil {
		return err
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.Errorf("vat rate %s out of range [0, 1)", rate)
	}
	return nil
}

// Location returns the business timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", c.Timezone)
	}
	return loc, nil
}

// VAT returns the parsed VAT rate.
func (c *Config) VAT() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.VATRate)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse vat rate %q", c.VATRate)
	}
	return rate, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
