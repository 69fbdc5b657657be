package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sharedDB opens an in-memory database that every connection of the pool
// sees, so that goroutines contend on the same lock row.
func sharedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func fastLock() *LockConfig {
	cfg := DefaultLockConfig()
	cfg.RetryInterval = 5 * time.Millisecond
	return cfg
}

func TestMigrationLockerNilDB(t *testing.T) {
	called := false
	err := NewMigrationLocker(nil, nil).WithLock(context.Background(), func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestMigrationLockerDisabled(t *testing.T) {
	db := sharedDB(t)
	cfg := fastLock()
	cfg.Enabled = false
	_, ok := NewMigrationLocker(db, cfg).(noopMigrationLock)
	assert.True(t, ok)
	assert.False(t, db.Migrator().HasTable(&migrationLockRecord{}))
}

func TestTableLockReleases(t *testing.T) {
	db := sharedDB(t)
	locker := NewMigrationLocker(db, fastLock())

	require.NoError(t, locker.WithLock(context.Background(), func() error { return nil }))

	var count int64
	require.NoError(t, db.Model(&migrationLockRecord{}).Count(&count).Error)
	assert.Zero(t, count)

	boom := errors.New("migration failed")
	err := locker.WithLock(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)
	require.NoError(t, db.Model(&migrationLockRecord{}).Count(&count).Error)
	assert.Zero(t, count, "the lock is released after an error")
}

func TestTableLockSerializes(t *testing.T) {
	db := sharedDB(t)
	locker := NewMigrationLocker(db, fastLock())

	var concurrent, maxConcurrent atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock(context.Background(), func() error {
				cur := concurrent.Add(1)
				for {
					prev := maxConcurrent.Load()
					if cur <= prev || maxConcurrent.CompareAndSwap(prev, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				concurrent.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, maxConcurrent.Load(), int32(1))
}

func TestTableLockHonoursCancellation(t *testing.T) {
	db := sharedDB(t)
	locker := NewMigrationLocker(db, fastLock())

	err := locker.WithLock(context.Background(), func() error {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return locker.WithLock(ctx, func() error {
			t.Error("acquired a held lock")
			return nil
		})
	})
	assert.Error(t, err)
}

func TestTableLockRemovesStaleHolder(t *testing.T) {
	db := sharedDB(t)
	cfg := fastLock()
	locker := NewMigrationLocker(db, cfg)

	require.NoError(t, db.Create(&migrationLockRecord{
		ID: cfg.Name, LockedBy: "crashed", LockedAt: time.Now().Add(-2 * cfg.StaleAge),
	}).Error)

	called := false
	require.NoError(t, locker.WithLock(context.Background(), func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}
