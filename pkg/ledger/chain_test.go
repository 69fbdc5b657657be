package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

func TestCreateOverCapFails(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)

	_, err := f.svc.Commitments.Create(ctx, commitmentInput(l.ID, 1_200_000))
	var ice *apperrors.InsufficientCapacityError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, entityLine, ice.Scope)
	assert.Equal(t, l.ID, ice.ParentID)
	assert.True(t, ice.Requested.Equal(d(1_200_000)))
	assert.True(t, ice.Available.Equal(d(1_000_000)))

	// The rolled back creation burnt no number.
	c, err := f.svc.Commitments.Create(ctx, commitmentInput(l.ID, 1_000_000))
	require.NoError(t, err)
	assert.Equal(t, "ENG-2025-000001", c.Numero)
	assert.Equal(t, workflow.StatusDraft, c.Status)
	assert.False(t, c.Forced)
}

func TestForcedCreation(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)

	in := commitmentInput(l.ID, 1_200_000)
	in.Forced = true
	in.ForceJustification = "urgent"
	_, err := f.svc.Commitments.Create(ctx, in)
	var ide *apperrors.IncompleteDataError
	require.ErrorAs(t, err, &ide)
	assert.Equal(t, []string{"forceJustification"}, ide.MissingFields)

	in.ForceJustification = "réquisition du ministre de tutelle"
	c, err := f.svc.Commitments.Create(ctx, in)
	require.NoError(t, err)
	assert.True(t, c.Forced)
	assert.Equal(t, "réquisition du ministre de tutelle", c.ForceJustification)

	events := f.events(t, c.ID, "create")
	require.Len(t, events, 1)
	assert.True(t, events[0].Forced)

	t.Run("forced flag dropped when the amount fits", func(t *testing.T) {
		in := commitmentInput(l.ID, 10_000)
		in.Forced = true
		in.ForceJustification = "réquisition du ministre de tutelle"
		c, err := f.svc.Commitments.Create(ctx, in)
		require.NoError(t, err)
		assert.False(t, c.Forced)
		assert.Empty(t, c.ForceJustification)
	})
}

func TestForcedCommitmentNeverValidatesOverCap(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)

	in := commitmentInput(l.ID, 1_200_000)
	in.Forced = true
	in.ForceJustification = "réquisition du ministre de tutelle"
	c, err := f.svc.Commitments.Create(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.Commitments.Submit(ctx, c.ID, saf)
	require.NoError(t, err)

	// A forced entity holds nothing until validated.
	avail, err := f.svc.Ledger.Available(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, avail.Equal(d(1_000_000)))

	_, _, err = f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventValidate, Step: 1}, saf)
	require.NoError(t, err)

	cb := as("CB")
	_, _, err = f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventValidate, Step: 2}, cb)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientCapacity)

	view, err := f.svc.Commitments.Inspect(ctx, c.ID, cb)
	require.NoError(t, err)
	assert.False(t, view.CanVisa)
	assert.True(t, view.CanAutoReject)
	assert.Contains(t, view.BlockReason, "insufficient")

	out, res, err := f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventAutoReject, Step: 2}, cb)
	require.NoError(t, err)
	assert.True(t, res.AutoRejected)
	assert.Equal(t, workflow.StatusRejected, out.Status)
	assert.Contains(t, out.RejectReason, "rejet automatique")

	steps, err := f.svc.Commitments.Steps(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	for _, s := range steps {
		assert.True(t, s.Forced)
		assert.Equal(t, "réquisition du ministre de tutelle", s.ForceJustification)
	}
}

func TestSubmitListsMissingFields(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)

	c, err := f.svc.Commitments.Create(ctx, CreateInput{ParentID: l.ID, Amount: d(1_000), Actor: saf})
	require.NoError(t, err)

	_, err = f.svc.Commitments.Submit(ctx, c.ID, saf)
	var ide *apperrors.IncompleteDataError
	require.ErrorAs(t, err, &ide)
	assert.ElementsMatch(t, []string{"purpose", "beneficiary", "document:devis", "document:bon_commande"}, ide.MissingFields)

	got, err := f.svc.Commitments.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusDraft, got.Status)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)
	c, err := f.svc.Commitments.Create(ctx, commitmentInput(l.ID, 100_000))
	require.NoError(t, err)

	purpose := "Achat de fournitures de bureau"
	out, err := f.svc.Commitments.Update(ctx, c.ID, UpdateInput{Purpose: &purpose, Amount: ptr(d(900_000)), Actor: saf})
	require.NoError(t, err)
	assert.Equal(t, purpose, out.Purpose)
	assert.True(t, out.Amount.Equal(d(900_000)))
	assert.Equal(t, int64(2), out.Version)

	_, err = f.svc.Commitments.Update(ctx, c.ID, UpdateInput{Amount: ptr(d(1_000_001)), Actor: saf})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientCapacity)

	_, err = f.svc.Commitments.Update(ctx, c.ID, UpdateInput{Amount: ptr(d(0)), Actor: saf})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.Commitments.Submit(ctx, c.ID, saf)
	require.NoError(t, err)
	_, err = f.svc.Commitments.Update(ctx, c.ID, UpdateInput{Purpose: &purpose, Actor: saf})
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
}

func TestValidatingTheSameStepTwiceIsIllegal(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)
	c := submitted(t, f.svc.Commitments, commitmentInput(l.ID, 100_000))

	_, _, err := f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventValidate, Step: 1}, saf)
	require.NoError(t, err)
	_, _, err = f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventValidate, Step: 1}, saf)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	_, _, err = f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventValidate, Step: 2}, as("DAF"))
	assert.ErrorIs(t, err, apperrors.ErrNotAuthorized)

	c = approve(t, f.svc.Commitments, c.ID)
	assert.Equal(t, workflow.StatusValidated, c.Status)
	_, _, err = f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventValidate, Step: 4}, as("DG"))
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
	_, err = f.svc.Commitments.Update(ctx, c.ID, UpdateInput{Amount: ptr(d(1)), Actor: saf})
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
}

func TestDeferThenResumeKeepsTheStep(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)
	c := submitted(t, f.svc.Commitments, commitmentInput(l.ID, 400_000))
	_, _, err := f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventValidate, Step: 1}, saf)
	require.NoError(t, err)

	cb := as("CB")
	_, _, err = f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventDefer, Step: 2, Reason: "court"}, cb)
	assert.ErrorIs(t, err, apperrors.ErrIncompleteData)

	out, _, err := f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventDefer, Step: 2, Reason: "attente de l'arbitrage"}, cb)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusDeferred, out.Status)
	assert.Equal(t, 2, out.CurrentStep)
	assert.Equal(t, cb.ID, out.DeferredBy)

	// A deferred entity still holds its capacity.
	avail, err := f.svc.Ledger.Available(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, avail.Equal(d(600_000)))

	_, _, err = f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventValidate, Step: 2}, cb)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	out, res, err := f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventResume}, cb)
	require.NoError(t, err)
	assert.Equal(t, workflow.EventResume, res.Event)
	assert.Equal(t, workflow.StatusInProgress, out.Status)
	assert.Equal(t, 2, out.CurrentStep)
	assert.Empty(t, out.DeferReason)

	steps, err := f.svc.Commitments.Steps(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, steps, 2, "no step is replayed")

	_, _, err = f.svc.Commitments.Resume(ctx, c.ID, cb)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
}

func TestFinalCheckRejectsWhenTheLineShrank(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)
	c := submitted(t, f.svc.Commitments, commitmentInput(l.ID, 800_000))
	for step, role := range []string{"SAF", "CB", "DAF"} {
		_, _, err := f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventValidate, Step: step + 1}, as(role))
		require.NoError(t, err)
	}

	_, err := f.svc.Ledger.AmendLine(ctx, l.ID, AmendLineInput{DotationInitiale: ptr(d(500_000)), Reason: "correction de la dotation", Actor: as("CB")})
	require.NoError(t, err)

	out, res, err := f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventValidate, Step: 4}, as("DG"))
	require.NoError(t, err)
	assert.True(t, res.AutoRejected)
	assert.Equal(t, workflow.EventAutoReject, res.Event)
	assert.Equal(t, workflow.StatusRejected, out.Status)
	assert.Contains(t, out.RejectReason, "contrôle final")
	assert.True(t, f.reload(t, l.ID).TotalEngage.IsZero())

	events := f.events(t, c.ID, "decision.auto_reject")
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].Reason)
}

func TestVerificationCappedByCommitment(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)
	c := validated(t, f.svc.Commitments, commitmentInput(l.ID, 100_000))

	validated(t, f.svc.Verifications, verificationInput(c.ID, 60_000))

	_, err := f.svc.Verifications.Create(ctx, verificationInput(c.ID, 50_000))
	var ice *apperrors.InsufficientCapacityError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, kindCommitment, ice.Scope)
	assert.True(t, ice.Available.Equal(d(40_000)))

	got, err := f.svc.Commitments.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Consumed.Equal(d(60_000)))
	line := f.reload(t, l.ID)
	assert.True(t, line.TotalEngage.Equal(d(100_000)))
	assert.True(t, line.TotalLiquide.Equal(d(60_000)))
}

func TestChildRequiresValidatedParent(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)
	c := submitted(t, f.svc.Commitments, commitmentInput(l.ID, 100_000))

	_, err := f.svc.Verifications.Create(ctx, verificationInput(c.ID, 10_000))
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	_, err = f.svc.Verifications.Create(ctx, verificationInput("missing", 10_000))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestWithholdingsSetTheNetAmount(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)
	c := validated(t, f.svc.Commitments, commitmentInput(l.ID, 100_000))

	in := verificationInput(c.ID, 100_000)
	in.Withholdings = Withholdings{TVA: d(150_000)}
	_, err := f.svc.Verifications.Create(ctx, in)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	in.Withholdings = Withholdings{TVA: d(-1)}
	_, err = f.svc.Verifications.Create(ctx, in)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	in.Withholdings = Withholdings{TVA: d(15_000), AIRSI: d(3_000)}
	v := validated(t, f.svc.Verifications, in)
	assert.True(t, v.NetAmount.Equal(d(82_000)), v.NetAmount.String())

	_, err = f.svc.PaymentOrders.Create(ctx, paymentOrderInput(v.ID, 90_000))
	var ice *apperrors.InsufficientCapacityError
	require.ErrorAs(t, err, &ice)
	assert.True(t, ice.Available.Equal(d(82_000)))

	po := validated(t, f.svc.PaymentOrders.Chain, paymentOrderInput(v.ID, 82_000))
	assert.True(t, po.Payable())
}

func TestSettlementsPayTheOrder(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)
	c := validated(t, f.svc.Commitments, commitmentInput(l.ID, 100_000))
	v := validated(t, f.svc.Verifications, verificationInput(c.ID, 100_000))
	po := validated(t, f.svc.PaymentOrders.Chain, paymentOrderInput(v.ID, 100_000))

	in := settlementInput(po.ID, 60_000)
	in.PaymentReference = ""
	s, err := f.svc.Settlements.Create(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.Settlements.Submit(ctx, s.ID, as("AC"))
	assert.ErrorIs(t, err, apperrors.ErrIncompleteData)

	_, err = f.svc.Settlements.Update(ctx, s.ID, UpdateInput{PaymentReference: ptr("VIR-2025-0042"), Actor: as("AC")})
	require.NoError(t, err)
	_, err = f.svc.Settlements.Submit(ctx, s.ID, as("AC"))
	require.NoError(t, err)
	s = approve(t, f.svc.Settlements, s.ID)
	require.Equal(t, workflow.StatusValidated, s.Status)
	assert.NotNil(t, s.PaidAt)

	got, err := f.svc.PaymentOrders.Get(ctx, po.ID)
	require.NoError(t, err)
	assert.True(t, got.MontantPaye.Equal(d(60_000)))
	assert.False(t, got.Solde)

	cash := settlementInput(po.ID, 40_000)
	cash.PaymentMode = PaymentCash
	cash.PaymentReference = ""
	validated(t, f.svc.Settlements, cash)

	got, err = f.svc.PaymentOrders.Get(ctx, po.ID)
	require.NoError(t, err)
	assert.True(t, got.MontantPaye.Equal(d(100_000)))
	assert.True(t, got.Solde)

	_, err = f.svc.Settlements.Create(ctx, settlementInput(po.ID, 1))
	assert.ErrorIs(t, err, apperrors.ErrInsufficientCapacity)

	line := f.reload(t, l.ID)
	assert.True(t, line.TotalOrdonnance.Equal(d(100_000)))
	assert.True(t, line.TotalPaye.Equal(d(100_000)))
	assert.Len(t, f.events(t, po.ID, "payment"), 2)
}

func TestPaymentModeValidated(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)
	c := validated(t, f.svc.Commitments, commitmentInput(l.ID, 100_000))
	v := validated(t, f.svc.Verifications, verificationInput(c.ID, 100_000))

	in := paymentOrderInput(v.ID, 10_000)
	in.PaymentMode = "troc"
	_, err := f.svc.PaymentOrders.Create(ctx, in)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	in.PaymentMode = ""
	po, err := f.svc.PaymentOrders.Create(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.PaymentOrders.Submit(ctx, po.ID, saf)
	var ide *apperrors.IncompleteDataError
	require.ErrorAs(t, err, &ide)
	assert.Equal(t, []string{"paymentMode"}, ide.MissingFields)
}

func TestListStageEntities(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 10_000_000)
	other := f.line(t, "6012", 10_000_000)

	for i := 0; i < 3; i++ {
		submitted(t, f.svc.Commitments, commitmentInput(l.ID, 1_000_000))
	}
	draft := commitmentInput(other.ID, 2_000_000)
	draft.Beneficiary = "CIE"
	_, err := f.svc.Commitments.Create(ctx, draft)
	require.NoError(t, err)

	items, next, total, err := f.svc.Commitments.List(ctx, ListOptions{LineID: l.ID, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 2)
	assert.NotEmpty(t, next)

	items, _, total, err = f.svc.Commitments.List(ctx, ListOptions{Status: workflow.StatusDraft})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "CIE", items[0].Beneficiary)

	items, _, total, err = f.svc.Commitments.List(ctx, ListOptions{Filter: `status = "soumis" AND amount >= 1000000 AND beneficiary ~ "sodeci"`})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 3)

	_, _, _, err = f.svc.Commitments.List(ctx, ListOptions{PageToken: "!!"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestDocumentNumbersPerTypeAndExercice(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)

	a, err := f.svc.Commitments.Create(ctx, commitmentInput(l.ID, 1))
	require.NoError(t, err)
	b, err := f.svc.Commitments.Create(ctx, commitmentInput(l.ID, 1))
	require.NoError(t, err)
	assert.Equal(t, "ENG-2025-000001", a.Numero)
	assert.Equal(t, "ENG-2025-000002", b.Numero)

	c := validated(t, f.svc.Commitments, commitmentInput(l.ID, 100))
	v, err := f.svc.Verifications.Create(ctx, verificationInput(c.ID, 100))
	require.NoError(t, err)
	assert.Equal(t, "LIQ-2025-000001", v.Numero)
}

func TestInspect(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)
	c := submitted(t, f.svc.Commitments, commitmentInput(l.ID, 100_000))

	view, err := f.svc.Commitments.Inspect(ctx, c.ID, saf)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Step)
	assert.Equal(t, 4, view.TotalSteps)
	assert.Equal(t, "SAF", view.Role)
	assert.True(t, view.Authorized)
	assert.True(t, view.CanVisa)
	assert.NotNil(t, view.DueAt)

	view, err = f.svc.Commitments.Inspect(ctx, c.ID, as("DG"))
	require.NoError(t, err)
	assert.False(t, view.Authorized)
	assert.False(t, view.CanVisa)

	_, _, err = f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventReject, Step: 1, Reason: "devis non signé par le fournisseur"}, saf)
	require.NoError(t, err)
	view, err = f.svc.Commitments.Inspect(ctx, c.ID, saf)
	require.NoError(t, err)
	assert.False(t, view.CanVisa)
	assert.Contains(t, view.BlockReason, "rejete")
}

func TestSkippingTheLastOptionalStepKeepsTheCap(t *testing.T) {
	f := newFixture(t, withCommitmentSteps(
		workflow.StepConfig{Role: "SAF"},
		workflow.StepConfig{Role: "DAF"},
		workflow.StepConfig{Role: "DG", Optional: true},
	))
	l := f.line(t, "6011", 1_000_000)

	in := commitmentInput(l.ID, 1_200_000)
	in.Forced = true
	in.ForceJustification = "réquisition du ministre de tutelle"
	c := submitted(t, f.svc.Commitments, in)
	for step, role := range []string{"SAF", "DAF"} {
		_, _, err := f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventValidate, Step: step + 1}, as(role))
		require.NoError(t, err)
	}

	got, out, err := f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventSkip, Step: 3}, as("DG"))
	require.NoError(t, err)
	assert.True(t, out.AutoRejected)
	assert.Equal(t, workflow.StatusRejected, got.Status)

	avail, err := f.svc.Ledger.Available(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, avail.Equal(d(1_000_000)), "available %s", avail)

	t.Run("skip within the cap validates", func(t *testing.T) {
		c := submitted(t, f.svc.Commitments, commitmentInput(l.ID, 600_000))
		for step, role := range []string{"SAF", "DAF"} {
			_, _, err := f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventValidate, Step: step + 1}, as(role))
			require.NoError(t, err)
		}
		got, _, err := f.svc.Commitments.Advance(ctx, c.ID, workflow.Decision{Kind: workflow.EventSkip, Step: 3}, as("DG"))
		require.NoError(t, err)
		assert.Equal(t, workflow.StatusValidated, got.Status)

		avail, err := f.svc.Ledger.Available(ctx, l.ID)
		require.NoError(t, err)
		assert.True(t, avail.Equal(d(400_000)), "available %s", avail)
	})
}

func TestCancelDraft(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)
	c, err := f.svc.Commitments.Create(ctx, commitmentInput(l.ID, 300_000))
	require.NoError(t, err)

	out, err := f.svc.Commitments.Cancel(ctx, c.ID, "doublon de saisie", saf)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCancelled, out.Status)

	events := f.events(t, c.ID, "cancel")
	require.Len(t, events, 1)
	assert.Equal(t, "doublon de saisie", events[0].Reason)

	_, err = f.svc.Commitments.Submit(ctx, c.ID, saf)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
	_, err = f.svc.Commitments.Update(ctx, c.ID, UpdateInput{Amount: ptr(d(1)), Actor: saf})
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
	_, err = f.svc.Commitments.Cancel(ctx, c.ID, "", saf)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	items, _, _, err := f.svc.Commitments.List(ctx, ListOptions{Status: workflow.StatusCancelled})
	require.NoError(t, err)
	require.Len(t, items, 1)

	t.Run("submitted entity cannot be cancelled", func(t *testing.T) {
		s := submitted(t, f.svc.Commitments, commitmentInput(l.ID, 100_000))
		_, err := f.svc.Commitments.Cancel(ctx, s.ID, "", saf)
		assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
	})
}
