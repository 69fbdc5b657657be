package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestIssuer(t *testing.T) (*Issuer, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	iss := NewIssuer(db)
	require.NoError(t, iss.AutoMigrate())
	return iss, db
}

func TestNextPerTypeAndExercice(t *testing.T) {
	iss, db := newTestIssuer(t)
	ctx := context.Background()

	tests := []struct {
		docType  string
		exercice int
		want     string
	}{
		{"ENG", 2026, "ENG-2026-000001"},
		{"ENG", 2026, "ENG-2026-000002"},
		{"LIQ", 2026, "LIQ-2026-000001"},
		{"ENG", 2027, "ENG-2027-000001"},
		{"ENG", 2026, "ENG-2026-000003"},
	}
	for _, tt := range tests {
		var got string
		err := db.Transaction(func(tx *gorm.DB) error {
			var err error
			got, err = iss.Next(ctx, tx, tt.docType, tt.exercice)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestNextRolledBackDoesNotBurnNumber(t *testing.T) {
	iss, db := newTestIssuer(t)
	ctx := context.Background()

	errAbort := errors.New("abort")
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := iss.Next(ctx, tx, "ORD", 2026)
		require.NoError(t, err)
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	got, err := iss.Next(ctx, nil, "ORD", 2026)
	require.NoError(t, err)
	assert.Equal(t, "ORD-2026-000001", got)
}

func TestNextConcurrentCallersGetDistinctNumbers(t *testing.T) {
	iss, db := newTestIssuer(t)
	ctx := context.Background()

	const n = 20
	var mu sync.Mutex
	seen := make(map[string]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = db.Transaction(func(tx *gorm.DB) error {
				num, err := iss.Next(ctx, tx, "REG", 2026)
				if err != nil {
					return err
				}
				mu.Lock()
				seen[num] = true
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "REA-2026-000042", Format("REA", 2026, 42))
	assert.Equal(t, "ENG-2026-1234567", Format("ENG", 2026, 1234567))
}
