package store

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Database types accepted by Open.
const (
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
	TypeSQLite   = "sqlite"
)

// Migration modes.
const (
	MigrationsAuto = "auto" // gorm AutoMigrate
	MigrationsSQL  = "sql"  // embedded SQL files, postgres only
)

// Config holds the database settings.
type Config struct {
	Type         string `mapstructure:"type"`
	DSN          string `mapstructure:"dsn"`
	Migrations   string `mapstructure:"migrations"`
	MaxOpenConns int    `mapstructure:"maxOpenConns"`
	LogQueries   bool   `mapstructure:"logQueries"`
}

// DefaultConfig returns a file-backed sqlite database.
func DefaultConfig() *Config {
	return &Config{
		Type:         TypeSQLite,
		DSN:          "ledger.db",
		Migrations:   MigrationsAuto,
		MaxOpenConns: 10,
	}
}

// ConfigFromEnv loads config from environment variables.
// LEDGER_DATABASE_TYPE, LEDGER_DATABASE_DSN, LEDGER_DATABASE_MIGRATIONS,
// LEDGER_DATABASE_MAX_OPEN_CONNS, LEDGER_DATABASE_LOG_QUERIES
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("LEDGER_DATABASE_TYPE"); v != "" {
		cfg.Type = strings.ToLower(v)
	}
	if v := os.Getenv("LEDGER_DATABASE_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("LEDGER_DATABASE_MIGRATIONS"); v != "" {
		cfg.Migrations = strings.ToLower(v)
	}
	if v := os.Getenv("LEDGER_DATABASE_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxOpenConns = n
		}
	}
	if v := os.Getenv("LEDGER_DATABASE_LOG_QUERIES"); v != "" {
		cfg.LogQueries, _ = strconv.ParseBool(v)
	}

	return cfg
}

// LockConfig controls the migration lock.
type LockConfig struct {
	// Enabled serializes migrations across replicas sharing a database.
	Enabled bool

	// Name identifies the lock. On postgres it is hashed into the advisory
	// lock key.
	Name string

	// MaxRetries and RetryInterval bound the wait of the table-based lock.
	MaxRetries    int
	RetryInterval time.Duration

	// StaleAge is the age past which a table lock left by a crashed holder
	// is removed.
	StaleAge time.Duration
}

// DefaultLockConfig returns a LockConfig with sensible defaults.
func DefaultLockConfig() *LockConfig {
	return &LockConfig{
		Enabled:       true,
		Name:          "ledger-server-migration",
		MaxRetries:    30,
		RetryInterval: time.Second,
		StaleAge:      5 * time.Minute,
	}
}

// LockConfigFromEnv reads the migration lock configuration from the
// environment, falling back to defaults for any unset variable.
//
// Environment variables:
//   - LEDGER_MIGRATION_LOCK_ENABLED: "true" or "false" (default: "true")
//   - LEDGER_MIGRATION_LOCK_RETRIES: attempts of the table lock (default: 30)
//   - LEDGER_MIGRATION_LOCK_STALE_MINUTES: stale lock age (default: 5)
func LockConfigFromEnv() *LockConfig {
	cfg := DefaultLockConfig()

	if v := os.Getenv("LEDGER_MIGRATION_LOCK_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("LEDGER_MIGRATION_LOCK_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("LEDGER_MIGRATION_LOCK_STALE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StaleAge = time.Duration(n) * time.Minute
		}
	}

	return cfg
}
