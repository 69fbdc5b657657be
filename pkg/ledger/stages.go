package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
	"github.com/arti-ci/sygfp-ledger/pkg/audit"
	"github.com/arti-ci/sygfp-ledger/pkg/query"
	"github.com/arti-ci/sygfp-ledger/pkg/txn"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

// Stage chains.
type (
	Commitments   = Chain[CommitmentRecord, *CommitmentRecord]
	Verifications = Chain[VerificationRecord, *VerificationRecord]
	Settlements   = Chain[SettlementRecord, *SettlementRecord]
)

const (
	kindCommitment   = "commitment"
	kindVerification = "verification"
	kindPaymentOrder = "payment_order"
	kindSettlement   = "settlement"
)

// lineParent makes a budget line the parent of commitments.
func lineParent(tx *gorm.DB, id string, lock bool) (*parentInfo, error) {
	var (
		line *BudgetLineRecord
		err  error
	)
	if lock {
		line, err = lockLine(tx, id)
	} else {
		line, err = getLine(tx, id)
	}
	if err != nil {
		return nil, err
	}
	if !line.Active {
		return nil, apperrors.Illegal("inactive", "create", 0, "budget line %s is deactivated", line.Code)
	}
	return &parentInfo{
		ID:       line.ID,
		LineID:   line.ID,
		Exercice: line.Exercice,
		Cap:      line.DotationActuelle,
		Version:  line.Version,
		Table:    line.TableName(),
		Scope:    entityLine,
	}, nil
}

// stageParent makes a validated, unfrozen stage entity a parent. capOf
// gives the amount its children may draw; ready adds stage specific
// conditions.
func stageParent[P any, PP EntityPtr[P]](kind, table string, capOf func(PP) decimal.Decimal, ready func(PP) error) func(*gorm.DB, string, bool) (*parentInfo, error) {
	return func(tx *gorm.DB, id string, lock bool) (*parentInfo, error) {
		p := PP(new(P))
		q := tx
		if lock {
			q = txn.ForUpdate(tx)
		}
		if err := q.Where("id = ?", id).First(p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, &apperrors.NotFoundError{Kind: kind, ID: id}
			}
			return nil, fmt.Errorf("get %s: %w", kind, err)
		}
		b := p.Base()
		if b.Status != workflow.StatusValidated {
			return nil, apperrors.Illegal(string(b.Status), "create", 0, "%s %s is %s, only a validated %s can be drawn on", kind, b.Numero, b.Status, kind)
		}
		if b.Frozen {
			return nil, frozenError(kind, b, "create")
		}
		if ready != nil {
			if err := ready(p); err != nil {
				return nil, err
			}
		}
		return &parentInfo{
			ID:          b.ID,
			LineID:      b.LineID,
			Exercice:    b.Exercice,
			Beneficiary: b.Beneficiary,
			Cap:         capOf(p),
			Version:     b.Version,
			Table:       table,
			Scope:       kind,
		}, nil
	}
}

func missingDocuments(have StringList, required []string) []string {
	var out []string
	for _, d := range required {
		if !have.Contains(d) {
			out = append(out, "document:"+d)
		}
	}
	return out
}

func commitmentSpec(s *Service, required []string) stageSpec[CommitmentRecord, *CommitmentRecord] {
	return stageSpec[CommitmentRecord, *CommitmentRecord]{
		stage:      workflow.StageCommitment,
		kind:       kindCommitment,
		table:      CommitmentRecord{}.TableName(),
		docType:    DocCommitment,
		lineTotal:  "total_engage",
		loadParent: lineParent,
		missing: func(e *CommitmentRecord) []string {
			var out []string
			if e.Purpose == "" {
				out = append(out, "purpose")
			}
			if !e.Amount.IsPositive() {
				out = append(out, "amount")
			}
			if e.Beneficiary == "" {
				out = append(out, "beneficiary")
			}
			if e.LineID == "" {
				out = append(out, "lineId")
			}
			return append(out, missingDocuments(e.Documents, required)...)
		},
		validated: func(ctx context.Context, tx *gorm.DB, e *CommitmentRecord, _ workflow.Actor) error {
			return s.alertOnCommitment(ctx, tx, e)
		},
	}
}

func verificationSpec(required []string) stageSpec[VerificationRecord, *VerificationRecord] {
	net := func(e *VerificationRecord) error {
		fields := map[string]string{}
		for _, n := range e.Withholdings.negative() {
			fields["withholdings."+n] = "must not be negative"
		}
		e.NetAmount = e.Amount.Sub(e.Withholdings.Total())
		if e.NetAmount.IsNegative() {
			fields["withholdings"] = "exceed the verified amount"
		}
		if len(fields) > 0 {
			return &apperrors.ValidationError{Fields: fields}
		}
		return nil
	}
	return stageSpec[VerificationRecord, *VerificationRecord]{
		stage:     workflow.StageVerification,
		kind:      kindVerification,
		table:     VerificationRecord{}.TableName(),
		docType:   DocVerification,
		lineTotal: "total_liquide",
		loadParent: stageParent[CommitmentRecord](kindCommitment, CommitmentRecord{}.TableName(),
			func(p *CommitmentRecord) decimal.Decimal { return p.Amount }, nil),
		apply: func(e *VerificationRecord, in CreateInput) error {
			e.Withholdings = in.Withholdings
			return net(e)
		},
		patch: func(e *VerificationRecord, in UpdateInput) error {
			if in.Withholdings != nil {
				e.Withholdings = *in.Withholdings
			}
			return net(e)
		},
		missing: func(e *VerificationRecord) []string {
			return missingDocuments(e.Documents, required)
		},
		columns: query.Columns{
			"netAmount": {Name: "net_amount", Kind: query.KindDecimal},
			"urgent":    {Name: "urgent", Kind: query.KindBool},
		},
	}
}

func paymentOrderSpec(countersign bool) stageSpec[PaymentOrderRecord, *PaymentOrderRecord] {
	mode := func(m string) error {
		if m != "" && !validPaymentMode(m) {
			return &apperrors.ValidationError{Fields: map[string]string{
				"paymentMode": "must be one of " + strings.Join(PaymentModes, ", "),
			}}
		}
		return nil
	}
	return stageSpec[PaymentOrderRecord, *PaymentOrderRecord]{
		stage:     workflow.StagePaymentOrder,
		kind:      kindPaymentOrder,
		table:     PaymentOrderRecord{}.TableName(),
		docType:   DocPaymentOrder,
		lineTotal: "total_ordonnance",
		loadParent: stageParent[VerificationRecord](kindVerification, VerificationRecord{}.TableName(),
			func(p *VerificationRecord) decimal.Decimal { return p.NetAmount }, nil),
		apply: func(e *PaymentOrderRecord, in CreateInput) error {
			if err := mode(in.PaymentMode); err != nil {
				return err
			}
			e.PaymentMode = in.PaymentMode
			e.MontantPaye = decimal.Zero
			e.CountersignRequired = countersign
			if in.RequireCountersignature != nil {
				e.CountersignRequired = *in.RequireCountersignature
			}
			e.Signature = workflow.State{Status: workflow.StatusDraft}
			return nil
		},
		patch: func(e *PaymentOrderRecord, in UpdateInput) error {
			if in.PaymentMode == nil {
				return nil
			}
			if err := mode(*in.PaymentMode); err != nil {
				return err
			}
			e.PaymentMode = *in.PaymentMode
			return nil
		},
		missing: func(e *PaymentOrderRecord) []string {
			if e.PaymentMode == "" {
				return []string{"paymentMode"}
			}
			return nil
		},
		columns: query.Columns{
			"paymentMode": {Name: "payment_mode", Kind: query.KindString},
			"solde":       {Name: "solde", Kind: query.KindBool},
			"montantPaye": {Name: "montant_paye", Kind: query.KindDecimal},
		},
	}
}

func settlementSpec(s *Service) stageSpec[SettlementRecord, *SettlementRecord] {
	return stageSpec[SettlementRecord, *SettlementRecord]{
		stage:     workflow.StageSettlement,
		kind:      kindSettlement,
		table:     SettlementRecord{}.TableName(),
		docType:   DocSettlement,
		lineTotal: "total_paye",
		loadParent: stageParent[PaymentOrderRecord](kindPaymentOrder, PaymentOrderRecord{}.TableName(),
			func(p *PaymentOrderRecord) decimal.Decimal { return p.Amount },
			func(p *PaymentOrderRecord) error {
				if !p.Payable() {
					return apperrors.Illegal(string(p.Signature.Status), "create", 0,
						"payment order %s is not payable until its countersignature is complete", p.Numero)
				}
				return nil
			}),
		apply: func(e *SettlementRecord, in CreateInput) error {
			if in.PaymentMode != "" && !validPaymentMode(in.PaymentMode) {
				return &apperrors.ValidationError{Fields: map[string]string{"paymentMode": "must be one of " + strings.Join(PaymentModes, ", ")}}
			}
			e.PaymentMode = in.PaymentMode
			e.PaymentReference = strings.TrimSpace(in.PaymentReference)
			return nil
		},
		patch: func(e *SettlementRecord, in UpdateInput) error {
			if in.PaymentMode != nil {
				if !validPaymentMode(*in.PaymentMode) {
					return &apperrors.ValidationError{Fields: map[string]string{"paymentMode": "must be one of " + strings.Join(PaymentModes, ", ")}}
				}
				e.PaymentMode = *in.PaymentMode
			}
			if in.PaymentReference != nil {
				e.PaymentReference = strings.TrimSpace(*in.PaymentReference)
			}
			return nil
		},
		missing: func(e *SettlementRecord) []string {
			var out []string
			if e.PaymentMode == "" {
				out = append(out, "paymentMode")
			}
			if e.PaymentMode != PaymentCash && e.PaymentReference == "" {
				out = append(out, "paymentReference")
			}
			return out
		},
		validated: func(ctx context.Context, tx *gorm.DB, e *SettlementRecord, actor workflow.Actor) error {
			return s.paySettlement(ctx, tx, e, actor)
		},
		columns: query.Columns{
			"paymentMode":      {Name: "payment_mode", Kind: query.KindString},
			"paymentReference": {Name: "payment_reference", Kind: query.KindString},
		},
	}
}

// paySettlement adds a validated settlement to the paid amount of its
// payment order.
func (s *Service) paySettlement(ctx context.Context, tx *gorm.DB, e *SettlementRecord, actor workflow.Actor) error {
	var po PaymentOrderRecord
	if err := txn.ForUpdate(tx).Where("id = ?", e.ParentID).First(&po).Error; err != nil {
		return fmt.Errorf("get payment order %s: %w", e.ParentID, err)
	}
	paid := po.MontantPaye.Add(e.Amount)
	solde := paid.GreaterThanOrEqual(po.Amount)
	if err := txn.UpdateVersioned(tx, po.TableName(), po.ID, po.Version, map[string]any{
		"montant_paye": paid,
		"solde":        solde,
	}); err != nil {
		return err
	}
	now := time.Now().UTC()
	e.PaidAt = &now
	if solde {
		s.logger.Info("payment order fully paid", "numero", po.Numero, "amount", po.Amount.StringFixed(2))
	}
	return s.audit.Record(ctx, tx, audit.Event{
		Action: "payment", EntityType: string(workflow.StagePaymentOrder), EntityID: po.ID, Exercice: po.Exercice,
		Actor:    actor.ID,
		Before:   map[string]any{"montantPaye": po.MontantPaye, "solde": po.Solde},
		After:    map[string]any{"montantPaye": paid, "solde": solde},
		Metadata: map[string]any{"settlementId": e.ID},
	})
}

// alertOnCommitment emits an alert when validating e moves its line into a
// higher consumption level.
func (s *Service) alertOnCommitment(ctx context.Context, tx *gorm.DB, e *CommitmentRecord) error {
	line, err := getLine(tx, e.LineID)
	if err != nil {
		return err
	}
	prev := alertFor(line.TotalEngage.Sub(e.Amount), line.DotationActuelle)
	cur := ConsumptionAlert(line)
	if cur.rank() <= prev.rank() {
		return nil
	}
	s.metrics.ConsumptionAlert(string(cur))
	s.logger.Warn("budget line consumption alert", "line", line.Code, "level", cur,
		"committed", line.TotalEngage.StringFixed(2), "dotation", line.DotationActuelle.StringFixed(2))
	return s.audit.Record(ctx, tx, audit.Event{
		Action: "consumption_alert", EntityType: entityLine, EntityID: line.ID, Exercice: line.Exercice,
		Before:   map[string]any{"level": prev},
		After:    map[string]any{"level": cur, "rate": consumptionRate(line.TotalEngage, line.DotationActuelle)},
		Metadata: map[string]any{"commitmentId": e.ID},
	})
}
