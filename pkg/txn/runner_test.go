package txn

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
)

type counterRow struct {
	ID        string `gorm:"primaryKey"`
	Value     int
	Version   int64
	UpdatedAt time.Time
}

func (counterRow) TableName() string { return "counters" }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&counterRow{}))
	return db
}

func fastConfig(attempts int) *Config {
	return &Config{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Timeout: 5 * time.Second}
}

func newMockRunner(t *testing.T, attempts int) (*Runner, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewRunner(db, fastConfig(attempts), nil, nil), mock
}

func TestRun_RetriesSerializationFailure(t *testing.T) {
	r, mock := newMockRunner(t, 3)
	stmt := regexp.QuoteMeta("UPDATE budget_lines SET version = version + 1")

	mock.ExpectBegin()
	mock.ExpectExec(stmt).WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	err := r.Run(context.Background(), "test", func(tx *gorm.DB) error {
		calls++
		return tx.Exec("UPDATE budget_lines SET version = version + 1 WHERE id = ?", "l1").Error
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_SurfacesConcurrencyErrorAfterBudget(t *testing.T) {
	r, mock := newMockRunner(t, 2)
	stmt := regexp.QuoteMeta("UPDATE budget_lines")

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec(stmt).WillReturnError(&pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
		mock.ExpectRollback()
	}

	err := r.Run(context.Background(), "test", func(tx *gorm.DB) error {
		return tx.Exec("UPDATE budget_lines SET total_engage = 0 WHERE id = ?", "l1").Error
	})
	require.Error(t, err)

	var ce *apperrors.ConcurrencyError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 2, ce.Attempts)
	assert.True(t, errors.Is(err, apperrors.ErrConcurrency))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_BusinessErrorIsNotRetried(t *testing.T) {
	db := newTestDB(t)
	r := NewRunner(db, fastConfig(3), nil, nil)

	calls := 0
	want := apperrors.Missing("facture")
	err := r.Run(context.Background(), "test", func(tx *gorm.DB) error {
		calls++
		if err := tx.Create(&counterRow{ID: "c1", Value: 1}).Error; err != nil {
			return err
		}
		return want
	})
	assert.Equal(t, want, err)
	assert.Equal(t, 1, calls)

	var count int64
	require.NoError(t, db.Model(&counterRow{}).Count(&count).Error)
	assert.Zero(t, count, "business error must roll the attempt back")
}

func TestRun_CanceledContextNeverStarts(t *testing.T) {
	db := newTestDB(t)
	r := NewRunner(db, fastConfig(3), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := r.Run(ctx, "test", func(tx *gorm.DB) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestAfterCommit(t *testing.T) {
	db := newTestDB(t)
	r := NewRunner(db, fastConfig(3), nil, nil)

	t.Run("runs after commit", func(t *testing.T) {
		fired := 0
		err := r.Run(context.Background(), "test", func(tx *gorm.DB) error {
			AfterCommit(tx, func() { fired++ })
			assert.Zero(t, fired)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, fired)
	})

	t.Run("dropped on rollback", func(t *testing.T) {
		fired := 0
		err := r.Run(context.Background(), "test", func(tx *gorm.DB) error {
			AfterCommit(tx, func() { fired++ })
			return errors.New("boom")
		})
		require.Error(t, err)
		assert.Zero(t, fired)
	})

	t.Run("immediate outside a transaction", func(t *testing.T) {
		fired := false
		AfterCommit(db, func() { fired = true })
		assert.True(t, fired)
	})
}

func TestUpdateVersioned(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&counterRow{ID: "c1", Value: 1, Version: 1}).Error)

	require.NoError(t, UpdateVersioned(db, "counters", "c1", 1, map[string]any{"value": 2}))

	var row counterRow
	require.NoError(t, db.First(&row, "id = ?", "c1").Error)
	assert.Equal(t, 2, row.Value)
	assert.Equal(t, int64(2), row.Version)

	err := UpdateVersioned(db, "counters", "c1", 1, map[string]any{"value": 3})
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.True(t, IsConflict(err))
}

func TestForUpdateIsNoopOnSQLite(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&counterRow{ID: "c1"}).Error)

	var row counterRow
	require.NoError(t, ForUpdate(db).First(&row, "id = ?", "c1").Error)
	assert.Equal(t, "c1", row.ID)
}
