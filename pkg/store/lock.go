package store

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker serializes schema changes between replicas that start
// against the same database.
type MigrationLocker interface {
	// WithLock executes fn while holding the migration lock.
	// It blocks until the lock is acquired, then releases it after fn returns.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker creates a MigrationLocker appropriate for the database
// dialect. PostgreSQL uses advisory locks; other databases use a table-based
// fallback. The lock table is created immediately for the fallback strategy.
func NewMigrationLocker(db *gorm.DB, cfg *LockConfig) MigrationLocker {
	if cfg == nil {
		cfg = DefaultLockConfig()
	}
	if db == nil || !cfg.Enabled {
		return noopMigrationLock{}
	}
	if db.Dialector.Name() == TypePostgres {
		return &pgAdvisoryLock{
			db:     db,
			lockID: int64(crc32.ChecksumIEEE([]byte(cfg.Name))),
		}
	}
	// Create the lock table immediately so that concurrent callers never
	// hit "no such table" errors on their first WithLock call.
	_ = db.AutoMigrate(&migrationLockRecord{})
	return &tableLock{db: db, cfg: cfg}
}

type noopMigrationLock struct{}

func (noopMigrationLock) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

type pgAdvisoryLock struct {
	db     *gorm.DB
	lockID int64
}

func (l *pgAdvisoryLock) WithLock(ctx context.Context, fn func() error) error {
	// Advisory locks belong to a session: pin one connection.
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("reserve connection for migration lock: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", l.lockID); err != nil {
		return fmt.Errorf("failed to acquire migration advisory lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", l.lockID)
	}()

	return fn()
}

type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "migration_lock" }

// tableLock uses INSERT-or-fail on a single row to allow one holder at a
// time, with stale lock cleanup for crash recovery.
type tableLock struct {
	db  *gorm.DB
	cfg *LockConfig
}

func (l *tableLock) WithLock(ctx context.Context, fn func() error) error {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	row := migrationLockRecord{ID: l.cfg.Name, LockedBy: hostname}

	acquired := false
	for i := 0; i < l.cfg.MaxRetries; i++ {
		l.db.WithContext(ctx).Where("id = ? AND locked_at < ?", l.cfg.Name, time.Now().Add(-l.cfg.StaleAge)).Delete(&migrationLockRecord{})

		row.LockedAt = time.Now()
		result := l.db.WithContext(ctx).Create(&row)
		if result.Error == nil {
			acquired = true
			break
		}
		if i == l.cfg.MaxRetries-1 {
			return fmt.Errorf("failed to acquire migration lock after %d retries: %w", l.cfg.MaxRetries, result.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.cfg.RetryInterval):
		}
	}
	if !acquired {
		return fmt.Errorf("failed to acquire migration lock")
	}

	defer func() {
		l.db.Where("id = ?", l.cfg.Name).Delete(&migrationLockRecord{})
	}()

	return fn()
}
