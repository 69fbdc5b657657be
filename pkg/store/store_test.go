package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arti-ci/sygfp-ledger/pkg/logging"
)

func TestOpenRejectsUnknownType(t *testing.T) {
	_, err := Open(&Config{Type: "oracle", DSN: "x"})
	assert.ErrorContains(t, err, "unsupported database type")
}

func TestOpenAndAutoMigrateSQLite(t *testing.T) {
	db, err := Open(&Config{Type: TypeSQLite, DSN: filepath.Join(t.TempDir(), "ledger.db"), Migrations: MigrationsAuto})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)

	require.NoError(t, Migrate(context.Background(), db, &Config{Migrations: MigrationsAuto}, fastLock(), logging.NewNop()))
	for _, table := range []string{
		"budget_lines", "budget_line_versions", "line_movements",
		"commitments", "verifications", "payment_orders", "settlements", "credit_transfers",
		"visa_steps", "audit_events", "document_sequences",
	} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	// Idempotent.
	require.NoError(t, Migrate(context.Background(), db, nil, fastLock(), logging.NewNop()))
}

func TestMigrateSQLRequiresPostgres(t *testing.T) {
	db := sharedDB(t)
	err := Migrate(context.Background(), db, &Config{Migrations: MigrationsSQL}, fastLock(), logging.NewNop())
	assert.ErrorContains(t, err, "require postgres")
}

func TestMigrateUnknownMode(t *testing.T) {
	db := sharedDB(t)
	err := Migrate(context.Background(), db, &Config{Migrations: "flyway"}, fastLock(), logging.NewNop())
	assert.ErrorContains(t, err, "unknown migration mode")
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := postgresMigrations.ReadDir("migrations/postgres")
	require.NoError(t, err)
	var up, down int
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			up++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			down++
		}
	}
	assert.Positive(t, up)
	assert.Equal(t, up, down)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LEDGER_DATABASE_TYPE", "POSTGRES")
	t.Setenv("LEDGER_DATABASE_DSN", "postgres://ledger@localhost/ledger")
	t.Setenv("LEDGER_DATABASE_MIGRATIONS", "sql")
	t.Setenv("LEDGER_DATABASE_MAX_OPEN_CONNS", "zero")

	cfg := ConfigFromEnv()
	assert.Equal(t, TypePostgres, cfg.Type)
	assert.Equal(t, "postgres://ledger@localhost/ledger", cfg.DSN)
	assert.Equal(t, MigrationsSQL, cfg.Migrations)
	assert.Equal(t, DefaultConfig().MaxOpenConns, cfg.MaxOpenConns)

	t.Setenv("LEDGER_MIGRATION_LOCK_ENABLED", "0")
	t.Setenv("LEDGER_MIGRATION_LOCK_STALE_MINUTES", "1")
	lock := LockConfigFromEnv()
	assert.False(t, lock.Enabled)
	assert.Equal(t, "1m0s", lock.StaleAge.String())
}
