package ledger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
	"github.com/arti-ci/sygfp-ledger/pkg/cache"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

func TestCreateLine(t *testing.T) {
	f := newFixture(t)

	l := f.line(t, "6011", 1_000_000)
	assert.True(t, l.Active)
	assert.False(t, l.Opened)
	assert.True(t, l.DotationActuelle.Equal(d(1_000_000)))
	assert.Equal(t, int64(1), l.Version)

	tests := []struct {
		name  string
		in    CreateLineInput
		field string
	}{
		{"missing code", CreateLineInput{Exercice: testExercice}, "code"},
		{"exercice out of range", CreateLineInput{Code: "X", Exercice: 1999}, "exercice"},
		{"negative allocation", CreateLineInput{Code: "X", Exercice: testExercice, DotationInitiale: d(-1)}, "dotationInitiale"},
		{"duplicate code", CreateLineInput{Code: "6011", Exercice: testExercice}, "code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Ledger.CreateLine(ctx, tt.in)
			var ve *apperrors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Fields, tt.field)
		})
	}

	// Same code in another exercice is a different line.
	_, err := f.svc.Ledger.CreateLine(ctx, CreateLineInput{Code: "6011", Exercice: testExercice + 1})
	assert.NoError(t, err)
}

func TestGetLineNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Ledger.GetLine(ctx, uuid.NewString())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAvailableCountsReservingCommitmentsOnly(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)

	// A draft reserves nothing.
	_, err := f.svc.Commitments.Create(ctx, commitmentInput(l.ID, 100_000))
	require.NoError(t, err)
	avail, err := f.svc.Ledger.Available(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, avail.Equal(d(1_000_000)), avail.String())

	submitted(t, f.svc.Commitments, commitmentInput(l.ID, 300_000))
	validated(t, f.svc.Commitments, commitmentInput(l.ID, 200_000))

	avail, err = f.svc.Ledger.Available(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, avail.Equal(d(500_000)), avail.String())
}

func TestApplyTransfer(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)
	transferID := uuid.NewString()

	mv, err := f.svc.Ledger.ApplyTransfer(ctx, nil, l.ID, transferID, d(-400_000), as("CB"))
	require.NoError(t, err)
	assert.True(t, mv.Before.Equal(d(1_000_000)))
	assert.True(t, mv.After.Equal(d(600_000)))

	line := f.reload(t, l.ID)
	assert.True(t, line.DotationActuelle.Equal(d(600_000)))
	assert.True(t, line.TransfersOut.Equal(d(400_000)))
	assert.Equal(t, int64(2), line.Version)

	t.Run("replay is a no-op", func(t *testing.T) {
		again, err := f.svc.Ledger.ApplyTransfer(ctx, nil, l.ID, transferID, d(-400_000), as("CB"))
		require.NoError(t, err)
		assert.Equal(t, mv.ID, again.ID)
		line := f.reload(t, l.ID)
		assert.True(t, line.DotationActuelle.Equal(d(600_000)))
		assert.Equal(t, int64(2), line.Version)
		assert.Len(t, f.events(t, l.ID, "apply_transfer"), 1)
	})

	t.Run("cannot fall below reserved", func(t *testing.T) {
		validated(t, f.svc.Commitments, commitmentInput(l.ID, 500_000))
		_, err := f.svc.Ledger.ApplyTransfer(ctx, nil, l.ID, uuid.NewString(), d(-200_000), as("CB"))
		var ice *apperrors.InsufficientCapacityError
		require.ErrorAs(t, err, &ice)
		assert.True(t, ice.Available.Equal(d(100_000)), ice.Available.String())
		assert.True(t, f.reload(t, l.ID).DotationActuelle.Equal(d(600_000)))
	})

	t.Run("credit", func(t *testing.T) {
		mv, err := f.svc.Ledger.ApplyTransfer(ctx, nil, l.ID, uuid.NewString(), d(50_000), as("CB"))
		require.NoError(t, err)
		assert.True(t, mv.After.Equal(d(650_000)))
		assert.True(t, f.reload(t, l.ID).TransfersIn.Equal(d(50_000)))
	})
}

func TestAmendLine(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)

	_, err := f.svc.Ledger.AmendLine(ctx, l.ID, AmendLineInput{Reason: "court", Actor: as("CB")})
	assert.ErrorIs(t, err, apperrors.ErrIncompleteData)

	label := "Matériel informatique"
	amended, err := f.svc.Ledger.AmendLine(ctx, l.ID, AmendLineInput{
		Label: &label, DotationInitiale: ptr(d(1_200_000)), Reason: "arbitrage budgétaire", Actor: as("CB"),
	})
	require.NoError(t, err)
	assert.Equal(t, label, amended.Label)
	assert.True(t, amended.DotationActuelle.Equal(d(1_200_000)))

	versions, err := f.svc.Ledger.LineVersions(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.True(t, versions[0].DotationInitiale.Equal(d(1_000_000)))
	assert.Equal(t, "arbitrage budgétaire", versions[0].Reason)

	n, err := f.svc.Ledger.OpenFiscalYear(ctx, testExercice, as("DAF"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.svc.Ledger.AmendLine(ctx, l.ID, AmendLineInput{DotationInitiale: ptr(d(900_000)), Reason: "correction après ouverture", Actor: as("CB")})
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	// The label stays editable.
	label = "Informatique"
	_, err = f.svc.Ledger.AmendLine(ctx, l.ID, AmendLineInput{Label: &label, Reason: "libellé harmonisé", Actor: as("CB")})
	require.NoError(t, err)
}

func TestOpenFiscalYear(t *testing.T) {
	f := newFixture(t)
	f.line(t, "6011", 1_000)
	f.line(t, "6012", 1_000)

	n, err := f.svc.Ledger.OpenFiscalYear(ctx, testExercice, as("DAF"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.svc.Ledger.OpenFiscalYear(ctx, testExercice, as("DAF"))
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.svc.Ledger.OpenFiscalYear(ctx, 1900, as("DAF"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestDeactivateLine(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)
	c := submitted(t, f.svc.Commitments, commitmentInput(l.ID, 100_000))

	_, err := f.svc.Ledger.DeactivateLine(ctx, l.ID, as("DAF"), "ligne supprimée")
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	_, _, err = f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventReject, Step: 1, Reason: "dossier incomplet"}, saf)
	require.NoError(t, err)

	out, err := f.svc.Ledger.DeactivateLine(ctx, l.ID, as("DAF"), "ligne supprimée")
	require.NoError(t, err)
	assert.False(t, out.Active)

	_, err = f.svc.Commitments.Create(ctx, commitmentInput(l.ID, 1))
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
}

func TestListLines(t *testing.T) {
	f := newFixture(t)
	for _, code := range []string{"6013", "6011", "6012"} {
		f.line(t, code, 1_000)
	}
	f.line(t, "7001", 5_000_000)

	lines, next, total, err := f.svc.Ledger.ListLines(ctx, LineFilter{Exercice: testExercice, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, lines, 2)
	assert.Equal(t, "6011", lines[0].Code)
	require.NotEmpty(t, next)

	lines, next, _, err = f.svc.Ledger.ListLines(ctx, LineFilter{Exercice: testExercice, PageSize: 2, PageToken: next})
	require.NoError(t, err)
	assert.Len(t, lines, 2)
	assert.Empty(t, next)

	lines, _, total, err = f.svc.Ledger.ListLines(ctx, LineFilter{Filter: `dotationActuelle >= 1000000`})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "7001", lines[0].Code)

	_, _, _, err = f.svc.Ledger.ListLines(ctx, LineFilter{Filter: `nope = 1`})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSnapshotIsCachedAndInvalidated(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)

	snap, err := f.svc.Ledger.Snapshot(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, snap.Available.Equal(d(1_000_000)))
	_, ok, _ := f.cache.Get(ctx, cache.LineKey(l.ID))
	assert.True(t, ok, "snapshot is cached")

	validated(t, f.svc.Commitments, commitmentInput(l.ID, 900_000))
	_, ok, _ = f.cache.Get(ctx, cache.LineKey(l.ID))
	assert.False(t, ok, "commit invalidates the snapshot")

	snap, err = f.svc.Ledger.Snapshot(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, snap.Available.Equal(d(100_000)))
	assert.True(t, snap.TotalEngage.Equal(d(900_000)))
	assert.Equal(t, AlertWarning, snap.Alert)
}

func TestConsumptionAlert(t *testing.T) {
	tests := []struct {
		committed, dotation int64
		want                AlertLevel
	}{
		{0, 1000, AlertNone},
		{800, 1000, AlertNone},
		{801, 1000, AlertWarning},
		{950, 1000, AlertWarning},
		{951, 1000, AlertCritical},
		{1000, 1000, AlertExhausted},
		{1, 0, AlertExhausted},
		{0, 0, AlertNone},
	}
	for _, tt := range tests {
		line := &BudgetLineRecord{TotalEngage: d(tt.committed), DotationActuelle: d(tt.dotation)}
		assert.Equal(t, tt.want, ConsumptionAlert(line), "%d/%d", tt.committed, tt.dotation)
	}
}

func TestConsumptionAlertIsAudited(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)

	validated(t, f.svc.Commitments, commitmentInput(l.ID, 500_000))
	assert.Empty(t, f.events(t, l.ID, "consumption_alert"))

	validated(t, f.svc.Commitments, commitmentInput(l.ID, 460_000))
	events := f.events(t, l.ID, "consumption_alert")
	require.Len(t, events, 1)
	assert.Equal(t, string(AlertCritical), events[0].NewValue["level"])
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := NewService(Options{})
	assert.Error(t, err)
}

func ptr[T any](v T) *T { return &v }
