package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	BaseURL     string `env:"BASE_URL"`
	DBPath      string `env:"DB_PATH" envDefault:"payline.db"`
	CatalogPath string `env:"CATALOG_PATH" envDefault:"catalog.json"`

	Log      Log      `envPrefix:"LOG_"`
	HTTP     HTTP     `envPrefix:"HTTP_"`
	Payments Payments `envPrefix:"PAYMENTS_"`
	Stripe   Stripe   `envPrefix:"STRIPE_"`
	Archive  Archive  `envPrefix:"ARCHIVE_"`
}

type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
}

type HTTP struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port string `env:"PORT" envDefault:"8080"`
}

type Payments struct {
	// WebhookKey is the shared secret carried on the webhook query string.
	WebhookKey string `env:"WEBHOOK_KEY"`
	// AuthSecret signs the bearer tokens that carry a resolved uid.
	AuthSecret string `env:"AUTH_SECRET"`
}

type Stripe struct {
	SecretKey     string `env:"SECRET_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

type Archive struct {
	Endpoint  string `env:"S3_ENDPOINT"`
	Bucket    string `env:"S3_BUCKET"`
	Region    string `env:"S3_REGION" envDefault:"auto"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("http://localhost:%s", cfg.HTTP.Port)
	}

	if cfg.Environment == "production" {
		if cfg.Payments.WebhookKey == "" {
			return nil, fmt.Errorf("PAYMENTS_WEBHOOK_KEY is required in production")
		}
		if cfg.Payments.AuthSecret == "" {
			return nil, fmt.Errorf("PAYMENTS_AUTH_SECRET is required in production")
		}
	}

	return cfg, nil
}

// IsProduction reports whether the service runs in the production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) Addr() string {
	return c.HTTP.Host + ":" + c.HTTP.Port
}
