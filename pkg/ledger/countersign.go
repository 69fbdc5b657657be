package ledger

import (
	"context"

	"gorm.io/gorm"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
	"github.com/arti-ci/sygfp-ledger/pkg/audit"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

// PaymentOrders is the payment order chain plus its countersignature
// sub-workflow. An order that requires countersignature becomes payable
// once the signature workflow is valide.
type PaymentOrders struct {
	*Chain[PaymentOrderRecord, *PaymentOrderRecord]
}

// countersignature drives the Signature state of a payment order.
type countersignature struct {
	po *PaymentOrderRecord
}

func (s countersignature) WorkflowRef() workflow.Ref {
	return workflow.Ref{Type: workflow.StageCountersignature, ID: s.po.ID}
}

func (s countersignature) WorkflowState() *workflow.State { return &s.po.Signature }

func (s countersignature) ForcedJustification() string { return s.po.StageFields.ForcedJustification() }

// StartCountersignature opens the signature workflow of a validated order.
func (p *PaymentOrders) StartCountersignature(ctx context.Context, id string, actor workflow.Actor) (*PaymentOrderRecord, error) {
	var out *PaymentOrderRecord
	err := p.runner.Run(ctx, p.op("countersign.start"), func(tx *gorm.DB) error {
		po, err := p.load(tx, id, true)
		if err != nil {
			return err
		}
		if po.Frozen {
			return frozenError(kindPaymentOrder, &po.StageFields, "countersign")
		}
		if po.Status != workflow.StatusValidated {
			return apperrors.Illegal(string(po.Status), "countersign", 0, "payment order %s is %s, only a validated order can be countersigned", po.Numero, po.Status)
		}
		if !po.CountersignRequired {
			return apperrors.Illegal(string(po.Status), "countersign", 0, "payment order %s does not require countersignature", po.Numero)
		}
		if _, err := p.engine.Start(ctx, tx, countersignature{po}, po.Amount, actor); err != nil {
			return err
		}
		if err := p.save(tx, po); err != nil {
			return err
		}
		out = po
		return p.audit.Record(ctx, tx, audit.Event{
			Action: "countersign.start", EntityType: string(workflow.StagePaymentOrder), EntityID: po.ID, Exercice: po.Exercice,
			Actor:    actor.ID,
			After:    map[string]any{"signatureStatus": po.Signature.Status, "totalSteps": po.Signature.TotalSteps},
			Metadata: map[string]any{"plan": po.Signature.Plan},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AdvanceCountersignature applies a signature decision. A resume decision
// resumes a deferred signature workflow.
func (p *PaymentOrders) AdvanceCountersignature(ctx context.Context, id string, d workflow.Decision, actor workflow.Actor) (*PaymentOrderRecord, workflow.Outcome, error) {
	var (
		out *PaymentOrderRecord
		res workflow.Outcome
	)
	err := p.runner.Run(ctx, p.op("countersign.decide"), func(tx *gorm.DB) error {
		po, err := p.load(tx, id, true)
		if err != nil {
			return err
		}
		if po.Frozen {
			return frozenError(kindPaymentOrder, &po.StageFields, string(d.Kind))
		}
		before := po.Signature.Position()
		subj := countersignature{po}
		if d.Kind == workflow.EventResume {
			res, err = p.engine.Resume(ctx, tx, subj, actor)
		} else {
			res, err = p.engine.Decide(ctx, tx, subj, actor, d, nil)
		}
		if err != nil {
			return err
		}
		if err := p.save(tx, po); err != nil {
			return err
		}
		out = po
		return p.audit.Record(ctx, tx, audit.Event{
			Action:     "countersign." + string(res.Event),
			EntityType: string(workflow.StagePaymentOrder), EntityID: po.ID, Exercice: po.Exercice,
			Actor: actor.ID, ActedAs: res.ActedAs, Reason: res.Reason,
			Before:   map[string]any{"signatureStatus": before.Status, "signatureStep": before.CurrentStep},
			After:    map[string]any{"signatureStatus": po.Signature.Status, "signatureStep": po.Signature.CurrentStep, "payable": po.Payable()},
			Metadata: map[string]any{"step": d.Step, "comment": d.Comment},
		})
	})
	if err != nil {
		return nil, workflow.Outcome{}, err
	}
	p.metrics.Decision(string(workflow.StageCountersignature), string(res.Event))
	if out.Payable() {
		p.logger.Info("payment order payable", "numero", out.Numero)
	}
	return out, res, nil
}

// InspectCountersignature tells actor what they can do on the signature
// workflow now.
func (p *PaymentOrders) InspectCountersignature(ctx context.Context, id string, actor workflow.Actor) (workflow.StepView, error) {
	db := p.runner.DB().WithContext(ctx)
	po, err := p.load(db, id, false)
	if err != nil {
		return workflow.StepView{}, err
	}
	return p.engine.Inspect(ctx, db, countersignature{po}, actor, nil)
}

// CountersignatureSteps returns the signature steps reached by an order.
func (p *PaymentOrders) CountersignatureSteps(ctx context.Context, id string) ([]workflow.VisaStepRecord, error) {
	po, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.engine.Steps().List(p.runner.DB().WithContext(ctx), countersignature{po}.WorkflowRef())
}
