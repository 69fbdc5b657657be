package query

import (
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
)

var testColumns = Columns{
	"status":      {Name: "status", Kind: KindString},
	"amount":      {Name: "amount", Kind: KindDecimal},
	"beneficiary": {Name: "beneficiary", Kind: KindString},
	"exercice":    {Name: "exercice", Kind: KindInt},
	"forced":      {Name: "forced", Kind: KindBool},
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name     string
		filter   string
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "single equality",
			filter:   `status = "valide"`,
			wantSQL:  "status = ?",
			wantArgs: []any{"valide"},
		},
		{
			name:     "conjunction with contains",
			filter:   `status = "valide" AND amount >= 1000000 AND beneficiary ~ "SODECI"`,
			wantSQL:  "status = ? AND amount >= ? AND LOWER(beneficiary) LIKE ?",
			wantArgs: []any{"valide", decimal.NewFromInt(1000000), "%sodeci%"},
		},
		{
			name:     "lowercase keywords and disjunction",
			filter:   `status = "rejete" or forced = true`,
			wantSQL:  "(status = ?) OR (forced = ?)",
			wantArgs: []any{"rejete", true},
		},
		{
			name:     "parentheses",
			filter:   `exercice = 2026 AND (status != "brouillon" OR amount < 10.5)`,
			wantSQL:  "exercice = ? AND ((status <> ?) OR (amount < ?))",
			wantArgs: []any{int64(2026), "brouillon", decimal.RequireFromString("10.5")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := Compile(tt.filter, testColumns)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			require.Len(t, args, len(tt.wantArgs))
			for i := range args {
				if d, ok := tt.wantArgs[i].(decimal.Decimal); ok {
					assert.True(t, d.Equal(args[i].(decimal.Decimal)), "arg %d", i)
					continue
				}
				assert.Equal(t, tt.wantArgs[i], args[i], "arg %d", i)
			}
		})
	}
}

func TestCompileRejects(t *testing.T) {
	tests := []struct {
		name   string
		filter string
	}{
		{"unknown field", `owner = "x"`},
		{"text for decimal", `amount = "lots"`},
		{"contains on decimal", `amount ~ 10`},
		{"ordering on bool", `forced > true`},
		{"dangling keyword", `status = "valide" AND`},
		{"unterminated string", `status = "valide`},
		{"injection attempt", `status = "x"; DROP TABLE commitments`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Compile(tt.filter, testColumns)
			require.Error(t, err)
			var ve *apperrors.ValidationError
			assert.True(t, errors.As(err, &ve))
			assert.Contains(t, ve.Fields, "filter")
		})
	}
}

type row struct {
	ID          int             `gorm:"primaryKey"`
	Status      string          `gorm:"column:status"`
	Beneficiary string          `gorm:"column:beneficiary"`
	Amount      decimal.Decimal `gorm:"column:amount;type:decimal(20,2)"`
}

func TestScopeAgainstDatabase(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&row{}))
	require.NoError(t, db.Create([]row{
		{ID: 1, Status: "valide", Beneficiary: "SODECI Abidjan", Amount: decimal.NewFromInt(2_000_000)},
		{ID: 2, Status: "valide", Beneficiary: "CIE", Amount: decimal.NewFromInt(3_000_000)},
		{ID: 3, Status: "soumis", Beneficiary: "Sodeci Bouaké", Amount: decimal.NewFromInt(5_000_000)},
		{ID: 4, Status: "valide", Beneficiary: "sodeci", Amount: decimal.NewFromInt(500_000)},
	}).Error)

	scope, err := Scope(`status = "valide" AND amount >= 1000000 AND beneficiary ~ "SODECI"`, testColumns)
	require.NoError(t, err)

	var got []row
	require.NoError(t, db.Scopes(scope).Order("id").Find(&got).Error)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].ID)

	empty, err := Scope("  ", testColumns)
	require.NoError(t, err)
	got = nil
	require.NoError(t, db.Scopes(empty).Find(&got).Error)
	assert.Len(t, got, 4)
}
