// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Bee nodes
	BeeURL            string // fallback node when the bees table is empty (dev mode)
	BeeRefreshEvery   time.Duration
	BeeRequestTimeout time.Duration
	BeeCreateTimeout  time.Duration // batch creation waits for on-chain usability

	// Provisioning worker
	QueueCycleDelay time.Duration

	// Billing
	StripeSecretKey     string
	StripeWebhookSecret string
	CoinbaseAPIKey      string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string

	// Chain (optional cross-check of node-reported wallet balances)
	ChainRPCURL   string
	BZZContract   string
	WalletAddress string

	// Alerting
	AlertWebhookURL string

	// Tracing
	OTLPEndpoint string
}

// Gnosis chain defaults. BZZ is an ERC-20 on Gnosis.
const (
	DefaultBZZContract = "0xdBF3Ea6F5beE45c02255B2c26a16F300502F68da"
	DefaultPort        = "3000"
	DefaultEnv         = "development"
	DefaultLogLevel    = "info"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		BeeURL:              os.Getenv("BEE_URL"),
		BeeRefreshEvery:     getEnvDuration("BEE_REFRESH_EVERY", 2*time.Minute),
		BeeRequestTimeout:   getEnvDuration("BEE_REQUEST_TIMEOUT", 30*time.Second),
		BeeCreateTimeout:    getEnvDuration("BEE_CREATE_TIMEOUT", 8*time.Minute),
		QueueCycleDelay:     getEnvDuration("QUEUE_CYCLE_DELAY", 5*time.Second),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CoinbaseAPIKey:      os.Getenv("COINBASE_API_KEY"),
		CheckoutSuccessURL:  getEnv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/billing/success"),
		CheckoutCancelURL:   getEnv("CHECKOUT_CANCEL_URL", "http://localhost:3000/billing/cancel"),
		ChainRPCURL:         os.Getenv("CHAIN_RPC_URL"),
		BZZContract:         getEnv("BZZ_CONTRACT", DefaultBZZContract),
		WalletAddress:       os.Getenv("WALLET_ADDRESS"),
		AlertWebhookURL:     os.Getenv("ALERT_WEBHOOK_URL"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.DatabaseURL == "" && c.BeeURL == "" {
		return fmt.Errorf("BEE_URL is required when DATABASE_URL is not set")
	}

	// Billing secrets come as a pair: a checkout session without a verifiable
	// webhook would never activate anything.
	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}

	if c.ChainRPCURL != "" && !strings.HasPrefix(c.BZZContract, "0x") {
		return fmt.Errorf("BZZ_CONTRACT must be a 0x-prefixed address")
	}

	return nil
}

// BillingEnabled reports whether Stripe billing is configured.
func (c *Config) BillingEnabled() bool {
	return c.StripeSecretKey != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
