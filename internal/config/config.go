// Package config loads the service configuration from the environment and
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"pos_engine/internal/pricing"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Store backends selectable with POS_STORE.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

const ServiceName = "pos_engine"

type Config struct {
	Port        string
	Env         string
	Store       string
	SQLitePath  string
	DatabaseURL string

	TaxRate       decimal.Decimal
	CategoryRates map[string]decimal.Decimal
	MinorUnits    int32

	LockTimeout    time.Duration
	CommitRetries  int
	PersistRetries int
	RetryInterval  time.Duration
	NodeID         int64

	KafkaBrokers string
	KafkaTopic   string
	WebhookURL   string

	OtelEndpoint   string
	OtelAuthHeader string
}

// LoadConfig reads .env if present, then the environment. Malformed values
// are reported together.
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	var errs error
	cfg := &Config{
		Port:           getEnv("PORT", "8081"),
		Env:            getEnv("POS_ENV", "development"),
		Store:          strings.ToLower(getEnv("POS_STORE", StoreMemory)),
		SQLitePath:     getEnv("POS_SQLITE_PATH", "pos.db"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		KafkaBrokers:   getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "pos.sales"),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),
		OtelEndpoint:   getEnv("OTEL_ENDPOINT", ""),
		OtelAuthHeader: getEnv("OTEL_AUTH_HEADER", ""),
	}

	var err error
	if cfg.TaxRate, err = decimal.NewFromString(getEnv("POS_TAX_RATE", "0")); err != nil {
		errs = errors.Join(errs, fmt.Errorf("POS_TAX_RATE: %w", err))
	}
	if cfg.CategoryRates, err = parseCategoryRates(getEnv("POS_CATEGORY_TAX_RATES", "")); err != nil {
		errs = errors.Join(errs, fmt.Errorf("POS_CATEGORY_TAX_RATES: %w", err))
	}
	minorUnits, err := strconv.ParseInt(getEnv("POS_MINOR_UNITS", "2"), 10, 32)
	if err != nil {
		errs = errors.Join(errs, fmt.Errorf("POS_MINOR_UNITS: %w", err))
	}
	cfg.MinorUnits = int32(minorUnits)

	if cfg.LockTimeout, err = time.ParseDuration(getEnv("POS_LOCK_TIMEOUT", "2s")); err != nil {
		errs = errors.Join(errs, fmt.Errorf("POS_LOCK_TIMEOUT: %w", err))
	}
	if cfg.RetryInterval, err = time.ParseDuration(getEnv("POS_RETRY_INTERVAL", "20ms")); err != nil {
		errs = errors.Join(errs, fmt.Errorf("POS_RETRY_INTERVAL: %w", err))
	}
	if cfg.CommitRetries, err = strconv.Atoi(getEnv("POS_COMMIT_RETRIES", "3")); err != nil {
		errs = errors.Join(errs, fmt.Errorf("POS_COMMIT_RETRIES: %w", err))
	}
	if cfg.PersistRetries, err = strconv.Atoi(getEnv("POS_PERSIST_RETRIES", "3")); err != nil {
		errs = errors.Join(errs, fmt.Errorf("POS_PERSIST_RETRIES: %w", err))
	}
	if cfg.NodeID, err = strconv.ParseInt(getEnv("POS_NODE_ID", "0"), 10, 64); err != nil {
		errs = errors.Join(errs, fmt.Errorf("POS_NODE_ID: %w", err))
	}
	if errs != nil {
		return nil, errs
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when POS_STORE=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("POS_STORE must be one of %s, %s, %s; got %q", StoreMemory, StoreSQLite, StorePostgres, c.Store)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("POS_LOCK_TIMEOUT must be positive, got %s", c.LockTimeout)
	}
	if c.CommitRetries < 0 || c.PersistRetries < 0 {
		return fmt.Errorf("retry counts must not be negative")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("POS_NODE_ID must be in [0, 1023], got %d", c.NodeID)
	}
	return c.RateConfig().Validate()
}

// RateConfig returns the tax configuration used by every checkout.
func (c *Config) RateConfig() pricing.RateConfig {
	return pricing.RateConfig{
		TaxRate:       c.TaxRate,
		CategoryRates: c.CategoryRates,
		MinorUnits:    c.MinorUnits,
	}
}

// IsProduction reports whether POS_ENV selects production logging.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// parseCategoryRates reads "food=0,alcohol=12.5".
func parseCategoryRates(raw string) (map[string]decimal.Decimal, error) {
	rates := map[string]decimal.Decimal{}
	if strings.TrimSpace(raw) == "" {
		return rates, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		category, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		category = strings.TrimSpace(category)
		if !ok || category == "" {
			return nil, fmt.Errorf("malformed entry %q, want category=rate", pair)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("rate for %q: %w", category, err)
		}
		rates[category] = rate
	}
	return rates, nil
}

// Helper to get env with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
