package audit

import (
	"os"
	"strconv"
)

// AuditConfig controls request audit behavior. Domain events are always
// recorded.
type AuditConfig struct {
	LogDenied bool // Whether to log denied (403) actions
	Enabled   bool // Whether the request audit middleware is active
}

// DefaultAuditConfig returns the default configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		LogDenied: true,
		Enabled:   true,
	}
}

// ConfigFromEnv loads config from environment variables.
// LEDGER_AUDIT_LOG_DENIED, LEDGER_AUDIT_ENABLED
func ConfigFromEnv() *AuditConfig {
	cfg := DefaultAuditConfig()

	if v := os.Getenv("LEDGER_AUDIT_LOG_DENIED"); v != "" {
		cfg.LogDenied, _ = strconv.ParseBool(v)
	}

	if v := os.Getenv("LEDGER_AUDIT_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	return cfg
}
