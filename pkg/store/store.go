// Package store opens the ledger database and brings its schema up to date.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glebarez/sqlite"
	migrate "github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/arti-ci/sygfp-ledger/pkg/audit"
	"github.com/arti-ci/sygfp-ledger/pkg/ledger"
	"github.com/arti-ci/sygfp-ledger/pkg/sequence"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// Open connects to the database described by cfg.
func Open(cfg *Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	var dialector gorm.Dialector
	switch cfg.Type {
	case TypePostgres:
		dialector = postgres.Open(cfg.DSN)
	case TypeMySQL:
		dialector = mysql.Open(cfg.DSN)
	case TypeSQLite, "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}

	level := logger.Warn
	if cfg.LogQueries {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Type, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if db.Dialector.Name() == TypeSQLite {
		// One writer at a time; the transaction runner relies on it.
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return db, nil
}

// Migrate brings the schema up to date under the migration lock. SQL mode
// applies the embedded migrations and is only available on postgres.
func Migrate(ctx context.Context, db *gorm.DB, cfg *Config, lockCfg *LockConfig, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	mode := MigrationsAuto
	if cfg != nil && cfg.Migrations != "" {
		mode = cfg.Migrations
	}
	if mode == MigrationsSQL && db.Dialector.Name() != TypePostgres {
		return fmt.Errorf("sql migrations require postgres, got %s", db.Dialector.Name())
	}

	return NewMigrationLocker(db, lockCfg).WithLock(ctx, func() error {
		switch mode {
		case MigrationsSQL:
			return migrateSQL(db, log)
		case MigrationsAuto:
			log.Info("running auto-migration", "dialect", db.Dialector.Name())
			return AutoMigrate(db)
		default:
			return fmt.Errorf("unknown migration mode %q", mode)
		}
	})
}

// AutoMigrate creates or updates every table of the ledger.
func AutoMigrate(db *gorm.DB) error {
	if err := ledger.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate ledger tables: %w", err)
	}
	if err := workflow.NewVisaStore(db).AutoMigrate(); err != nil {
		return fmt.Errorf("migrate visa steps: %w", err)
	}
	if err := audit.NewStore(db).AutoMigrate(); err != nil {
		return fmt.Errorf("migrate audit events: %w", err)
	}
	if err := sequence.NewIssuer(db).AutoMigrate(); err != nil {
		return fmt.Errorf("migrate document sequences: %w", err)
	}
	return nil
}

func migrateSQL(db *gorm.DB, log *slog.Logger) error {
	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, TypePostgres, driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("no new migrations")
			return nil
		}
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return fmt.Errorf("migration failed: dirty database version %d", dirty.Version)
		}
		return fmt.Errorf("migration failed: %w", err)
	}
	version, _, _ := m.Version()
	log.Info("sql migrations applied", "version", version)
	return nil
}
