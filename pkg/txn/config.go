package txn

import (
	"os"
	"strconv"
	"time"
)

// Config controls transaction retries.
type Config struct {
	MaxAttempts    int           // Attempts before a conflict surfaces as ConcurrencyError. Default 3.
	InitialBackoff time.Duration // First retry delay. Default 20ms.
	MaxBackoff     time.Duration // Upper bound of a single retry delay. Default 500ms.
	Timeout        time.Duration // Bound of one attempt. Default 10s.
}

// DefaultConfig returns the default transaction configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:    3,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		Timeout:        10 * time.Second,
	}
}

// ConfigFromEnv loads config from environment variables.
// LEDGER_TX_MAX_ATTEMPTS, LEDGER_TX_INITIAL_BACKOFF_MS, LEDGER_TX_MAX_BACKOFF_MS,
// LEDGER_TX_TIMEOUT_SECONDS
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("LEDGER_TX_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxAttempts = n
		}
	}

	if v := os.Getenv("LEDGER_TX_INITIAL_BACKOFF_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.InitialBackoff = time.Duration(n) * time.Millisecond
		}
	}

	if v := os.Getenv("LEDGER_TX_MAX_BACKOFF_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxBackoff = time.Duration(n) * time.Millisecond
		}
	}

	if v := os.Getenv("LEDGER_TX_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}

	return cfg
}
