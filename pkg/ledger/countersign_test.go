package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

func countersignedOrder(t *testing.T, f *fixture) *PaymentOrderRecord {
	t.Helper()
	l := f.line(t, "6011", 1_000_000)
	c := validated(t, f.svc.Commitments, commitmentInput(l.ID, 100_000))
	v := validated(t, f.svc.Verifications, verificationInput(c.ID, 100_000))
	in := paymentOrderInput(v.ID, 100_000)
	in.RequireCountersignature = ptr(true)
	return validated(t, f.svc.PaymentOrders.Chain, in)
}

func TestCountersignatureGatesSettlement(t *testing.T) {
	f := newFixture(t)
	po := countersignedOrder(t, f)
	assert.False(t, po.Payable())

	_, err := f.svc.Settlements.Create(ctx, settlementInput(po.ID, 50_000))
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	po, err = f.svc.PaymentOrders.StartCountersignature(ctx, po.ID, as("CB"))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSubmitted, po.Signature.Status)
	assert.Equal(t, 4, po.Signature.TotalSteps)
	assert.Equal(t, workflow.StatusValidated, po.Status, "the order itself stays valide")

	_, err = f.svc.PaymentOrders.StartCountersignature(ctx, po.ID, as("CB"))
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	for i, role := range []string{"CB", "DAF", "DGA", "AC"} {
		view, err := f.svc.PaymentOrders.InspectCountersignature(ctx, po.ID, as(role))
		require.NoError(t, err)
		assert.True(t, view.CanVisa, role)

		var res workflow.Outcome
		po, res, err = f.svc.PaymentOrders.AdvanceCountersignature(ctx, po.ID, workflow.Decision{Kind: workflow.EventValidate, Step: i + 1}, as(role))
		require.NoError(t, err)
		if role == "DGA" {
			assert.Equal(t, "DGA", res.ActedAs)
		}
	}
	assert.Equal(t, workflow.StatusValidated, po.Signature.Status)
	assert.True(t, po.Payable())

	steps, err := f.svc.PaymentOrders.CountersignatureSteps(ctx, po.ID)
	require.NoError(t, err)
	assert.Len(t, steps, 4)
	assert.Len(t, f.events(t, po.ID, "countersign.validate"), 4)

	validated(t, f.svc.Settlements, settlementInput(po.ID, 100_000))
}

func TestCountersignatureRejection(t *testing.T) {
	f := newFixture(t)
	po := countersignedOrder(t, f)
	_, err := f.svc.PaymentOrders.StartCountersignature(ctx, po.ID, as("CB"))
	require.NoError(t, err)

	_, _, err = f.svc.PaymentOrders.AdvanceCountersignature(ctx, po.ID, workflow.Decision{Kind: workflow.EventReject, Step: 1, Reason: "non"}, as("CB"))
	var ve *apperrors.IncompleteDataError
	require.ErrorAs(t, err, &ve)

	po, _, err = f.svc.PaymentOrders.AdvanceCountersignature(ctx, po.ID, workflow.Decision{Kind: workflow.EventReject, Step: 1, Reason: "RIB du bénéficiaire incorrect"}, as("CB"))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRejected, po.Signature.Status)
	assert.False(t, po.Payable())
}

func TestCountersignatureDeferAndResume(t *testing.T) {
	f := newFixture(t)
	po := countersignedOrder(t, f)
	_, err := f.svc.PaymentOrders.StartCountersignature(ctx, po.ID, as("CB"))
	require.NoError(t, err)
	_, _, err = f.svc.PaymentOrders.AdvanceCountersignature(ctx, po.ID, workflow.Decision{Kind: workflow.EventValidate, Step: 1}, as("CB"))
	require.NoError(t, err)

	po, _, err = f.svc.PaymentOrders.AdvanceCountersignature(ctx, po.ID, workflow.Decision{Kind: workflow.EventDefer, Step: 2, Reason: "DAF en mission jusqu'à lundi"}, as("DAF"))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusDeferred, po.Signature.Status)

	po, _, err = f.svc.PaymentOrders.AdvanceCountersignature(ctx, po.ID, workflow.Decision{Kind: workflow.EventResume}, as("DAF"))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusInProgress, po.Signature.Status)
	assert.Equal(t, 2, po.Signature.CurrentStep)
}

func TestCountersignatureNotRequired(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)
	c := validated(t, f.svc.Commitments, commitmentInput(l.ID, 100_000))
	v := validated(t, f.svc.Verifications, verificationInput(c.ID, 100_000))
	po := validated(t, f.svc.PaymentOrders.Chain, paymentOrderInput(v.ID, 100_000))
	assert.True(t, po.Payable())

	_, err := f.svc.PaymentOrders.StartCountersignature(ctx, po.ID, as("CB"))
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
}

func TestCountersignatureDefaultFromOptions(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.CountersignatureRequired = true })
	l := f.line(t, "6011", 1_000_000)
	c := validated(t, f.svc.Commitments, commitmentInput(l.ID, 100_000))
	v := validated(t, f.svc.Verifications, verificationInput(c.ID, 100_000))
	po, err := f.svc.PaymentOrders.Create(ctx, paymentOrderInput(v.ID, 100_000))
	require.NoError(t, err)
	assert.True(t, po.CountersignRequired)

	_, err = f.svc.PaymentOrders.StartCountersignature(ctx, po.ID, as("CB"))
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition, "a draft order cannot be countersigned")
}
