package escalation

import (
	"os"
	"strconv"
	"time"
)

// Config controls the overdue-visa escalation worker.
type Config struct {
	Enabled     bool          // Whether the worker runs. Default true.
	Interval    time.Duration // How often overdue steps are scanned. Default 1m.
	BatchSize   int           // Max steps escalated per scan. Default 100.
	Concurrency int           // Max notifications in flight. Default 4.
}

// DefaultConfig returns the default escalation configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:     true,
		Interval:    time.Minute,
		BatchSize:   100,
		Concurrency: 4,
	}
}

// ConfigFromEnv loads config from environment variables.
// LEDGER_ESCALATION_ENABLED, LEDGER_ESCALATION_INTERVAL_SECONDS,
// LEDGER_ESCALATION_BATCH_SIZE, LEDGER_ESCALATION_CONCURRENCY
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("LEDGER_ESCALATION_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	if v := os.Getenv("LEDGER_ESCALATION_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Interval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("LEDGER_ESCALATION_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}

	if v := os.Getenv("LEDGER_ESCALATION_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}

	return cfg
}
