package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	Env string `envconfig:"ENV" default:"development"`

	HTTP     HTTPConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Payment  PaymentConfig
	Carrier  CarrierConfig
	Fees     FeeConfig
}

type HTTPConfig struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"2m"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

type DatabaseConfig struct {
	// postgreSQL connection string.
	DSN string `envconfig:"DATABASE_DSN" required:"true"`

	// where golang-migrate looks for SQL files.
	MigrationsPath string `envconfig:"DATABASE_MIGRATIONS_PATH" default:"file://migrations"`

	MaxConns int32 `envconfig:"DATABASE_MAX_CONNS" default:"20"`

	MinConns int32 `envconfig:"DATABASE_MIN_CONNS" default:"5"`

	MaxConnLifeTime time.Duration `envconfig:"DATABASE_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `envconfig:"DATABASE_MAX_CONN_IDLE" default:"30m"`
	HealthPeriod    time.Duration `envconfig:"DATABASE_HEALTH_PERIOD" default:"1m"`
}

type RedisConfig struct {
	// host:port, "localhost:6379" for dev, cluster endpoint for prod.
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`

	Namespace string `envconfig:"REDIS_NAMESPACE" default:"order-service"`
}

type PaymentConfig struct {
	Provider string `envconfig:"PAYMENT_PROVIDER" default:"stripe"`

	APIBase       string `envconfig:"PAYMENT_API_BASE" default:"https://api.stripe.com"`
	SecretKey     string `envconfig:"PAYMENT_SECRET_KEY" required:"true"`
	WebhookSecret string `envconfig:"PAYMENT_WEBHOOK_SECRET" required:"true"`

	SuccessURL string `envconfig:"PAYMENT_SUCCESS_URL" required:"true"`
	CancelURL  string `envconfig:"PAYMENT_CANCEL_URL" required:"true"`

	Timeout time.Duration `envconfig:"PAYMENT_TIMEOUT" default:"10s"`

	// How stale a signed webhook timestamp may be before it is rejected.
	SignatureTolerance time.Duration `envconfig:"PAYMENT_SIGNATURE_TOLERANCE" default:"5m"`
}

type CarrierConfig struct {
	APIBase string `envconfig:"CARRIER_API_BASE" default:"https://melhorenvio.com.br/api/v2"`
	Token   string `envconfig:"CARRIER_TOKEN" required:"true"`

	// The aggregator requires an identifying User-Agent with a contact email.
	UserAgent string `envconfig:"CARRIER_USER_AGENT" required:"true"`

	Timeout time.Duration `envconfig:"CARRIER_TIMEOUT" default:"15s"`
}

type FeeConfig struct {
	// Platform cut of the gross sale amount, e.g. "0.08" for 8%.
	PlatformRate string `envconfig:"PLATFORM_FEE_RATE" default:"0.08"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parse environment config: %w", err)
	}

	if _, err := cfg.Fees.Rate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (f FeeConfig) Rate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(f.PlatformRate)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse platform fee rate %q: %w", f.PlatformRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Decimal{}, fmt.Errorf("platform fee rate %s out of range [0,1)", rate)
	}
	return rate, nil
}

func (c *Config) IsProd() bool {
	return c.Env == "production"
}
