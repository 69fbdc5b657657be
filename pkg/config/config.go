// Package config assembles the configuration of the ledger server from a
// YAML file, LEDGER_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/arti-ci/sygfp-ledger/pkg/audit"
	"github.com/arti-ci/sygfp-ledger/pkg/cache"
	"github.com/arti-ci/sygfp-ledger/pkg/escalation"
	"github.com/arti-ci/sygfp-ledger/pkg/fiscal"
	"github.com/arti-ci/sygfp-ledger/pkg/ledger"
	"github.com/arti-ci/sygfp-ledger/pkg/logging"
	"github.com/arti-ci/sygfp-ledger/pkg/store"
	"github.com/arti-ci/sygfp-ledger/pkg/txn"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

// EnvPrefix prefixes every environment variable read by Load. Nested keys
// join with underscores: tx.maxAttempts is LEDGER_TX_MAXATTEMPTS.
const EnvPrefix = "LEDGER"

// Config is the complete server configuration.
type Config struct {
	Database      store.Config      `mapstructure:"database"`
	MigrationLock store.LockConfig  `mapstructure:"migrationLock"`
	Tx            txn.Config        `mapstructure:"tx"`
	Workflow      WorkflowConfig    `mapstructure:"workflow"`
	Ledger        LedgerConfig      `mapstructure:"ledger"`
	Cache         cache.CacheConfig `mapstructure:"cache"`
	Escalation    escalation.Config `mapstructure:"escalation"`
	Audit         audit.AuditConfig `mapstructure:"audit"`
	HTTP          HTTPConfig        `mapstructure:"http"`
	Log           logging.Config    `mapstructure:"log"`
}

// WorkflowConfig locates the visa workflow definitions.
type WorkflowConfig struct {
	// File is a workflows YAML document. Stages it omits keep their
	// built-in definition; a missing file means all defaults.
	File string `mapstructure:"file"`
	// Watch reloads File when it changes.
	Watch bool `mapstructure:"watch"`
	// Delegations lists, per role, the roles allowed to act in its place.
	// Entries here extend those of File.
	Delegations map[string][]string `mapstructure:"delegations"`
}

// LedgerConfig holds the business parameters of the chain.
type LedgerConfig struct {
	// DGThreshold is the verification amount from which the DG visa applies.
	DGThreshold              decimal.Decimal `mapstructure:"dgThreshold"`
	CountersignatureRequired bool            `mapstructure:"countersignatureRequired"`
	CommitmentDocuments      []string        `mapstructure:"commitmentDocuments"`
	VerificationDocuments    []string        `mapstructure:"verificationDocuments"`
	// FiscalMode is "current" to default requests to the current year or
	// "explicit" to require X-Exercice.
	FiscalMode fiscal.Mode `mapstructure:"fiscalMode"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"corsOrigins"`
	// BasePath is where the ledger API is mounted.
	BasePath string `mapstructure:"basePath"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Database:      *store.DefaultConfig(),
		MigrationLock: *store.DefaultLockConfig(),
		Tx:            *txn.DefaultConfig(),
		Workflow:      WorkflowConfig{File: "workflows.yaml", Watch: true},
		Ledger: LedgerConfig{
			DGThreshold:           workflow.DefaultDGThreshold,
			CommitmentDocuments:   ledger.DefaultCommitmentDocuments,
			VerificationDocuments: ledger.DefaultVerificationDocuments,
			FiscalMode:            fiscal.ModeCurrent,
		},
		Cache:      *cache.DefaultCacheConfig(),
		Escalation: *escalation.DefaultConfig(),
		Audit:      *audit.DefaultAuditConfig(),
		HTTP: HTTPConfig{
			Listen:      ":8080",
			CORSOrigins: []string{"*"},
			BasePath:    "/api/ledger/v1",
		},
		Log: logging.Config{Level: "info", Format: logging.FormatJSON},
	}
}

// RegisterFlags adds the server flags to fs. Flags that are set override
// the file and the environment.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "Path to a YAML configuration file")
	fs.String("listen", d.HTTP.Listen, "Address to listen on")
	fs.String("db-type", d.Database.Type, "Database type (postgres, mysql or sqlite)")
	fs.String("db-dsn", d.Database.DSN, "Database connection string")
	fs.String("migrations", d.Database.Migrations, "Migration mode (auto or sql)")
	fs.String("workflow-file", d.Workflow.File, "Path to the workflow definitions")
	fs.String("log-level", d.Log.Level, "Log level (debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "Log format (json or console)")
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"listen":        "http.listen",
	"db-type":       "database.type",
	"db-dsn":        "database.dsn",
	"migrations":    "database.migrations",
	"workflow-file": "workflow.file",
	"log-level":     "log.level",
	"log-format":    "log.format",
}

// Load reads the configuration. fs may be nil; when it carries a --config
// flag that file is read and must exist.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", f.Value.String(), err)
			}
		}
	}

	return decode(v)
}

// LoadFile reads the configuration from path, then the environment.
func LoadFile(path string) (*Config, error) {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Set("config", path); err != nil {
		return nil, err
	}
	return Load(fs)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		decimalHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Database.Type = strings.ToLower(cfg.Database.Type)
	cfg.Database.Migrations = strings.ToLower(cfg.Database.Migrations)
	// viper lowercases map keys; role codes are upper case.
	if len(cfg.Workflow.Delegations) > 0 {
		roles := make(map[string][]string, len(cfg.Workflow.Delegations))
		for role, delegates := range cfg.Workflow.Delegations {
			roles[strings.ToUpper(role)] = delegates
		}
		cfg.Workflow.Delegations = roles
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override it
// during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	defaults := map[string]any{
		"database.type":                   d.Database.Type,
		"database.dsn":                    d.Database.DSN,
		"database.migrations":             d.Database.Migrations,
		"database.maxOpenConns":           d.Database.MaxOpenConns,
		"database.logQueries":             d.Database.LogQueries,
		"migrationLock.enabled":           d.MigrationLock.Enabled,
		"migrationLock.name":              d.MigrationLock.Name,
		"migrationLock.maxRetries":        d.MigrationLock.MaxRetries,
		"migrationLock.retryInterval":     d.MigrationLock.RetryInterval,
		"migrationLock.staleAge":          d.MigrationLock.StaleAge,
		"tx.maxAttempts":                  d.Tx.MaxAttempts,
		"tx.initialBackoff":               d.Tx.InitialBackoff,
		"tx.maxBackoff":                   d.Tx.MaxBackoff,
		"tx.timeout":                      d.Tx.Timeout,
		"workflow.file":                   d.Workflow.File,
		"workflow.watch":                  d.Workflow.Watch,
		"workflow.delegations":            map[string][]string{},
		"ledger.dgThreshold":              d.Ledger.DGThreshold.String(),
		"ledger.countersignatureRequired": d.Ledger.CountersignatureRequired,
		"ledger.commitmentDocuments":      d.Ledger.CommitmentDocuments,
		"ledger.verificationDocuments":    d.Ledger.VerificationDocuments,
		"ledger.fiscalMode":               string(d.Ledger.FiscalMode),
		"cache.backend":                   string(d.Cache.Backend),
		"cache.ttl":                       d.Cache.TTL,
		"cache.maxSize":                   d.Cache.MaxSize,
		"cache.redisAddr":                 d.Cache.RedisAddr,
		"cache.redisPassword":             d.Cache.RedisPassword,
		"cache.redisDB":                   d.Cache.RedisDB,
		"cache.keyPrefix":                 d.Cache.KeyPrefix,
		"escalation.enabled":              d.Escalation.Enabled,
		"escalation.interval":             d.Escalation.Interval,
		"escalation.batchSize":            d.Escalation.BatchSize,
		"escalation.concurrency":          d.Escalation.Concurrency,
		"audit.enabled":                   d.Audit.Enabled,
		"audit.logDenied":                 d.Audit.LogDenied,
		"http.listen":                     d.HTTP.Listen,
		"http.corsOrigins":                d.HTTP.CORSOrigins,
		"http.basePath":                   d.HTTP.BasePath,
		"log.level":                       d.Log.Level,
		"log.format":                      d.Log.Format,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook decodes amounts written as strings or numbers.
func decimalHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch x := data.(type) {
		case string:
			return decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(x), "_", ""))
		case int:
			return decimal.NewFromInt(int64(x)), nil
		case int64:
			return decimal.NewFromInt(x), nil
		case uint64:
			return decimal.NewFromUint64(x), nil
		case float64:
			return decimal.NewFromFloat(x), nil
		case decimal.Decimal:
			return x, nil
		}
		return nil, fmt.Errorf("cannot decode %s into an amount", from)
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Type {
	case store.TypePostgres, store.TypeMySQL, store.TypeSQLite:
	default:
		errs = append(errs, fmt.Errorf("database.type: unsupported %q", c.Database.Type))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn: required"))
	}
	switch c.Database.Migrations {
	case store.MigrationsAuto:
	case store.MigrationsSQL:
		if c.Database.Type != store.TypePostgres {
			errs = append(errs, errors.New("database.migrations: sql requires postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.migrations: unknown mode %q", c.Database.Migrations))
	}
	if c.Tx.MaxAttempts < 1 {
		errs = append(errs, errors.New("tx.maxAttempts: must be at least 1"))
	}
	if c.Ledger.DGThreshold.IsNegative() {
		errs = append(errs, errors.New("ledger.dgThreshold: must not be negative"))
	}
	switch c.Ledger.FiscalMode {
	case fiscal.ModeCurrent, fiscal.ModeExplicit:
	default:
		errs = append(errs, fmt.Errorf("ledger.fiscalMode: unknown mode %q", c.Ledger.FiscalMode))
	}
	switch c.Cache.Backend {
	case cache.BackendNone, cache.BackendLRU, cache.BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend))
	}
	if c.Escalation.Enabled && c.Escalation.Interval <= 0 {
		errs = append(errs, errors.New("escalation.interval: must be positive"))
	}
	return errors.Join(errs...)
}
