package config

import (
	"errors"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/example/wager-settlement/internal/money"
)

// Config holds the application configuration.
type Config struct {
	Environment string
	ListenAddr  string

	// Storage. DatabaseURL selects the Postgres backend; when it is empty
	// SQLitePath selects the embedded backend instead.
	DatabaseURL string
	SQLitePath  string

	// Optional Redis, used for the rate limiter and the balance-credited
	// event fan-out. Settlement works without it.
	RedisAddr string

	Gateway GatewayConfig

	// MinOrderAmount is the smallest order the platform accepts, in minor
	// units of the reference currency.
	MinOrderAmount money.Amount

	// SweepInterval drives the reconciliation worker; zero disables it.
	SweepInterval time.Duration
	// SweepStaleAfter is how long a Created intent may sit untouched before
	// the sweep asks the gateway about it.
	SweepStaleAfter time.Duration
}

type GatewayConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getenv("APP_ENV", "development"),
		ListenAddr:  getenv("API_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getenv("SQLITE_PATH", "settlement.db"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		Gateway: GatewayConfig{
			BaseURL:      os.Getenv("GATEWAY_BASE_URL"),
			ClientID:     os.Getenv("GATEWAY_CLIENT_ID"),
			ClientSecret: os.Getenv("GATEWAY_CLIENT_SECRET"),
			Timeout:      getenvDuration("GATEWAY_TIMEOUT", 10*time.Second),
		},
		MinOrderAmount:  money.Amount(1000), // 10.00 in the reference currency
		SweepInterval:   getenvDuration("SWEEP_INTERVAL", time.Minute),
		SweepStaleAfter: getenvDuration("SWEEP_STALE_AFTER", time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is complete. All missing variables
// are reported in one pass.
func (c *Config) Validate() error {
	var missing []string

	if c.Gateway.BaseURL == "" {
		missing = append(missing, "GATEWAY_BASE_URL")
	}
	if c.Gateway.ClientID == "" {
		missing = append(missing, "GATEWAY_CLIENT_ID")
	}
	if c.Gateway.ClientSecret == "" {
		missing = append(missing, "GATEWAY_CLIENT_SECRET")
	}

	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return errors.New("either DATABASE_URL or SQLITE_PATH must be set")
	}
	return nil
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
