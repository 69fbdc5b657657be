package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

func TestMarkAndClearUrgent(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)
	c := validated(t, f.svc.Commitments, commitmentInput(l.ID, 800_000))
	v := validated(t, f.svc.Verifications, verificationInput(c.ID, 300_000))
	other := submitted(t, f.svc.Verifications, verificationInput(c.ID, 200_000))

	_, err := f.svc.MarkUrgent(ctx, v.ID, "court", as("DAF"))
	assert.ErrorIs(t, err, apperrors.ErrIncompleteData)

	out, err := f.svc.MarkUrgent(ctx, v.ID, "échéance du fournisseur dépassée", as("DAF"))
	require.NoError(t, err)
	assert.True(t, out.Urgent)
	assert.Equal(t, "user-DAF", out.UrgentBy)
	require.NotNil(t, out.UrgentAt)
	_, err = f.svc.MarkUrgent(ctx, other.ID, "salaires du personnel contractuel", as("DAF"))
	require.NoError(t, err)

	items, _, total, err := f.svc.ListUrgent(ctx, ListOptions{Exercice: testExercice})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 2)
	assert.Equal(t, other.ID, items[0].ID)

	filtered, _, n, err := f.svc.Verifications.List(ctx, ListOptions{Filter: `urgent = true AND netAmount >= 250000`})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, filtered, 1)
	assert.Equal(t, v.ID, filtered[0].ID)

	stats, err := f.svc.UrgentStats(ctx, testExercice)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Awaiting)
	assert.Equal(t, 1, stats.Validated)
	assert.True(t, stats.NetAmount.Equal(d(500_000)), stats.NetAmount.String())

	cleared, err := f.svc.ClearUrgent(ctx, v.ID, as("DAF"))
	require.NoError(t, err)
	assert.False(t, cleared.Urgent)
	assert.Nil(t, cleared.UrgentAt)
	assert.Empty(t, cleared.UrgentReason)

	_, err = f.svc.ClearUrgent(ctx, v.ID, as("DAF"))
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	_, _, total, err = f.svc.ListUrgent(ctx, ListOptions{Exercice: testExercice})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	assert.Len(t, f.events(t, v.ID, "mark_urgent"), 1)
	assert.Len(t, f.events(t, v.ID, "clear_urgent"), 1)
}

func TestUrgencyRefusedOnClosedOrFrozenVerifications(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 0)
	c := forcedValidated(t, f, l, 400_000, 400_000)

	rejected := submitted(t, f.svc.Verifications, verificationInput(c.ID, 100_000))
	_, _, err := f.svc.Verifications.Advance(ctx, rejected.ID, workflow.Decision{Kind: workflow.EventReject, Step: 1, Reason: "pièces justificatives illisibles"}, saf)
	require.NoError(t, err)
	_, err = f.svc.MarkUrgent(ctx, rejected.ID, "échéance du fournisseur dépassée", as("DAF"))
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	v := validated(t, f.svc.Verifications, verificationInput(c.ID, 100_000))
	_, err = f.svc.Ledger.AmendLine(ctx, l.ID, AmendLineInput{DotationInitiale: ptr(d(100_000)), Reason: "correction de saisie", Actor: as("CB")})
	require.NoError(t, err)
	_, err = f.svc.Ledger.FreezeNonCompliant(ctx, l.ID, as("DAF"), "dépassement constaté après correction")
	require.NoError(t, err)

	_, err = f.svc.MarkUrgent(ctx, v.ID, "échéance du fournisseur dépassée", as("DAF"))
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	_, err = f.svc.MarkUrgent(ctx, "missing", "échéance du fournisseur dépassée", as("DAF"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
