package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/backend-billing/internal/money"
	"github.com/noah-isme/backend-billing/internal/tax"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	DefaultCurrency   money.Currency
	FodecEnabled      bool
	FodecRateBps      int64
	TimbreEnabled     bool
	TimbreAmountCents int64
	DefaultVATBps     int64

	OverpaymentTolerance int64
	OverdueSweepInterval time.Duration
	OverdueSweepBatch    int32
	IdempotencyTTL       time.Duration

	WebhookURL     string
	WebhookSecret  string
	WebhookTimeout time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		DefaultCurrency:   money.Currency(valueOrDefault(strings.ToUpper(k.String("DEFAULT_CURRENCY")), "TND")),
		FodecEnabled:      parseBool(k.String("FODEC_ENABLED")),
		FodecRateBps:      parseInt(k.String("FODEC_RATE_BPS"), 100),
		TimbreEnabled:     parseBool(k.String("TIMBRE_ENABLED")),
		TimbreAmountCents: parseInt(k.String("TIMBRE_AMOUNT_CENTS"), 1000),
		DefaultVATBps:     parseInt(k.String("DEFAULT_VAT_BPS"), 1900),

		OverpaymentTolerance: parseInt(k.String("OVERPAYMENT_TOLERANCE_CENTS"), 0),
		OverdueSweepInterval: parseDuration(k.String("OVERDUE_SWEEP_INTERVAL"), "5m"),
		OverdueSweepBatch:    int32(parseInt(k.String("OVERDUE_SWEEP_BATCH"), 100)),
		IdempotencyTTL:       parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		WebhookURL:     strings.TrimSpace(k.String("WEBHOOK_URL")),
		WebhookSecret:  k.String("WEBHOOK_SECRET"),
		WebhookTimeout: parseDuration(k.String("WEBHOOK_TIMEOUT"), "5s"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if !cfg.DefaultCurrency.Valid() {
		return nil, fmt.Errorf("DEFAULT_CURRENCY %q is not supported", cfg.DefaultCurrency)
	}

	return cfg, nil
}

// TaxDefaults returns the ambient tax configuration from the environment.
// It is the fallback when the settings row has never been written.
func (c *Config) TaxDefaults() tax.Config {
	return tax.Config{
		Fodec:         tax.Fodec{Enabled: c.FodecEnabled, RateBps: c.FodecRateBps},
		Timbre:        tax.Timbre{Enabled: c.TimbreEnabled, AmountCents: c.TimbreAmountCents},
		DefaultVATBps: c.DefaultVATBps,
	}
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int64) int64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	v, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

// MustLoad behaves like Load but panics on error. Useful for command
// entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without
// touching the real environment.
func LoadForTests(envVars map[string]string) (*Config, error) {
	original := make(map[string]string, len(envVars))
	for key := range envVars {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, envVars[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
