package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryCoversEveryStage(t *testing.T) {
	reg := DefaultRegistry()
	for _, s := range []StageType{StageCommitment, StageVerification, StagePaymentOrder, StageCountersignature, StageSettlement, StageTransfer} {
		_, ok := reg.Get(s)
		assert.True(t, ok, s)
	}

	d, _ := reg.Get(StageCommitment)
	roles := make([]string, 0, len(d.Steps))
	for _, s := range d.Steps {
		roles = append(roles, s.Role)
	}
	assert.Equal(t, []string{"SAF", "CB", "DAF", "DG"}, roles)
}

func TestPlanConditionalStep(t *testing.T) {
	reg := DefaultRegistry()

	tests := []struct {
		name   string
		amount int64
		roles  []string
	}{
		{"below threshold", 49_999_999, []string{"SAF", "DAAF"}},
		{"at threshold", 50_000_000, []string{"SAF", "DAAF", "DG"}},
		{"above threshold", 80_000_000, []string{"SAF", "DAAF", "DG"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := reg.Plan(StageVerification, decimal.NewFromInt(tt.amount))
			require.NoError(t, err)
			got := make([]string, 0, len(plan))
			for i, s := range plan {
				assert.Equal(t, i+1, s.Order)
				got = append(got, s.Role)
			}
			assert.Equal(t, tt.roles, got)
		})
	}
}

func TestWithMinAmountOverridesThreshold(t *testing.T) {
	reg := DefaultRegistry().WithMinAmount(StageVerification, "DG", decimal.NewFromInt(1_000))

	plan, err := reg.Plan(StageVerification, decimal.NewFromInt(1_000))
	require.NoError(t, err)
	assert.Len(t, plan, 3)

	// The original registry is untouched.
	plan, err = DefaultRegistry().Plan(StageVerification, decimal.NewFromInt(1_000))
	require.NoError(t, err)
	assert.Len(t, plan, 2)
}

func TestParseDefinitionsOverridesOneStage(t *testing.T) {
	data := []byte(`
workflows:
  - stage: engagement
    displayName: Engagement court
    steps:
      - role: CB
        guard: capacity
        maxDelayHours: 24
      - role: DG
        alternativeRole: DGA
        optional: true
delegations:
  DAF: [DAF_INTERIM]
`)
	reg, err := ParseDefinitions(data)
	require.NoError(t, err)

	d, ok := reg.Get(StageCommitment)
	require.True(t, ok)
	require.Len(t, d.Steps, 2)
	assert.Equal(t, GuardCapacity, d.Steps[0].Guard)
	assert.True(t, d.Steps[1].Optional)

	_, ok = reg.Get(StageTransfer)
	assert.True(t, ok, "stages absent from the file keep their default")
	assert.Equal(t, []string{"DAF_INTERIM"}, reg.Delegations()["DAF"])
}

func TestParseDefinitionsRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no steps", "workflows:\n  - stage: engagement\n    steps: []\n"},
		{"no role", "workflows:\n  - stage: engagement\n    steps:\n      - guard: capacity\n"},
		{"unknown guard", "workflows:\n  - stage: engagement\n    steps:\n      - role: CB\n        guard: budget\n"},
		{"duplicate stage", "workflows:\n  - stage: reglement\n    steps: [{role: AC}]\n  - stage: reglement\n    steps: [{role: AC}]\n"},
		{"malformed", "workflows: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinitions([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadDefinitionsMissingFileUsesDefaults(t *testing.T) {
	reg, err := LoadDefinitions(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	_, ok := reg.Get(StageSettlement)
	assert.True(t, ok)
}

func TestLoadDefinitionsMinAmountFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflows.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workflows:
  - stage: liquidation
    steps:
      - role: DAAF
      - role: DG
        minAmount: 10000000
`), 0o600))

	reg, err := LoadDefinitions(path)
	require.NoError(t, err)

	plan, err := reg.Plan(StageVerification, decimal.NewFromInt(9_999_999))
	require.NoError(t, err)
	assert.Len(t, plan, 1)

	plan, err = reg.Plan(StageVerification, decimal.NewFromInt(10_000_000))
	require.NoError(t, err)
	assert.Len(t, plan, 2)
}
