package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
	"github.com/arti-ci/sygfp-ledger/pkg/audit"
	"github.com/arti-ci/sygfp-ledger/pkg/metrics"
	"github.com/arti-ci/sygfp-ledger/pkg/query"
	"github.com/arti-ci/sygfp-ledger/pkg/txn"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

const kindTransfer = "credit_transfer"

// Transfers moves allocation between two lines of the same exercice. A
// transfer changes no line until its last visa; it then debits the source
// and credits the destination in one transaction.
type Transfers struct {
	engine  *workflow.Engine
	runner  *txn.Runner
	numbers NumberIssuer
	audit   AuditSink
	ledger  *Ledger
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func newTransfers(opts *Options, l *Ledger) *Transfers {
	return &Transfers{
		engine:  opts.Engine,
		runner:  opts.Runner,
		numbers: opts.Numbers,
		audit:   opts.Audit,
		ledger:  l,
		metrics: opts.Metrics,
		logger:  opts.Logger.With("stage", string(workflow.StageTransfer)),
	}
}

// ProposeInput proposes a credit transfer.
type ProposeInput struct {
	SourceLineID  string          `json:"sourceLineId" validate:"required"`
	DestLineID    string          `json:"destLineId" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Justification string          `json:"justification" validate:"required"`
	ReferenceNote string          `json:"referenceNote,omitempty" validate:"max=255"`
	Actor         workflow.Actor  `json:"-"`
}

func invalidTransfer(field, format string, args ...any) error {
	return &apperrors.InvalidTransferError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (t *Transfers) transferLine(tx *gorm.DB, field, id string) (*BudgetLineRecord, error) {
	line, err := getLine(tx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, invalidTransfer(field, "unknown budget line %s", id)
		}
		return nil, err
	}
	if !line.Active {
		return nil, invalidTransfer(field, "budget line %s is deactivated", line.Code)
	}
	return line, nil
}

// Propose records a transfer and submits it to the réaménagement workflow.
// No line is touched.
func (t *Transfers) Propose(ctx context.Context, in ProposeInput) (*CreditTransferRecord, error) {
	switch {
	case in.SourceLineID == "":
		return nil, invalidTransfer("sourceLineId", "is required")
	case in.DestLineID == "":
		return nil, invalidTransfer("destLineId", "is required")
	case in.SourceLineID == in.DestLineID:
		return nil, invalidTransfer("destLineId", "source and destination must differ")
	case !in.Amount.IsPositive():
		return nil, invalidTransfer("amount", "must be greater than zero")
	case len(strings.TrimSpace(in.Justification)) < workflow.MinReasonLength:
		return nil, invalidTransfer("justification", "must be at least %d characters", workflow.MinReasonLength)
	}

	var out *CreditTransferRecord
	err := t.runner.Run(ctx, kindTransfer+".propose", func(tx *gorm.DB) error {
		src, err := t.transferLine(tx, "sourceLineId", in.SourceLineID)
		if err != nil {
			return err
		}
		dst, err := t.transferLine(tx, "destLineId", in.DestLineID)
		if err != nil {
			return err
		}
		if src.Exercice != dst.Exercice {
			return invalidTransfer("destLineId", "lines belong to exercices %d and %d", src.Exercice, dst.Exercice)
		}

		numero, err := t.numbers.Next(ctx, tx, DocTransfer, src.Exercice)
		if err != nil {
			return fmt.Errorf("issue transfer number: %w", err)
		}
		rec := &CreditTransferRecord{
			ID:            uuid.New().String(),
			Numero:        numero,
			Exercice:      src.Exercice,
			SourceLineID:  src.ID,
			DestLineID:    dst.ID,
			Amount:        in.Amount,
			Justification: strings.TrimSpace(in.Justification),
			ReferenceNote: strings.TrimSpace(in.ReferenceNote),
			Version:       1,
			CreatedBy:     in.Actor.ID,
			State:         workflow.State{Status: workflow.StatusDraft},
		}
		if _, err := t.engine.Start(ctx, tx, rec, rec.Amount, in.Actor); err != nil {
			return err
		}
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("create transfer: %w", err)
		}
		rec.deriveStatut()
		out = rec
		return t.audit.Record(ctx, tx, audit.Event{
			Action: "propose", EntityType: string(workflow.StageTransfer), EntityID: rec.ID, Exercice: rec.Exercice,
			Actor: in.Actor.ID, Reason: rec.Justification, After: rec,
		})
	})
	if err != nil {
		return nil, err
	}
	t.metrics.Transfer("proposed")
	t.logger.Info("transfer proposed", "numero", out.Numero, "amount", out.Amount.StringFixed(2),
		"source", out.SourceLineID, "dest", out.DestLineID)
	return out, nil
}

func (t *Transfers) load(tx *gorm.DB, id string, lock bool) (*CreditTransferRecord, error) {
	q := tx
	if lock {
		q = txn.ForUpdate(tx)
	}
	var rec CreditTransferRecord
	if err := q.Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &apperrors.NotFoundError{Kind: kindTransfer, ID: id}
		}
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	return &rec, nil
}

func (t *Transfers) save(tx *gorm.DB, rec *CreditTransferRecord) error {
	if err := saveVersioned(tx, rec, &rec.Version, &rec.UpdatedAt); err != nil {
		return err
	}
	rec.deriveStatut()
	return nil
}

// Advance applies a visa decision. On the last visa the source line must
// still cover the amount, otherwise the transfer is rejected automatically.
func (t *Transfers) Advance(ctx context.Context, id string, d workflow.Decision, actor workflow.Actor) (*CreditTransferRecord, workflow.Outcome, error) {
	if d.Kind == workflow.EventResume {
		return t.Resume(ctx, id, actor)
	}
	var (
		out *CreditTransferRecord
		res workflow.Outcome
	)
	err := t.runner.Run(ctx, kindTransfer+".advance", func(tx *gorm.DB) error {
		rec, err := t.load(tx, id, true)
		if err != nil {
			return err
		}
		before := rec.Position()
		res, err = t.engine.Decide(ctx, tx, rec, actor, d, &transferChecks{t: rec, lock: true})
		if err != nil {
			return err
		}
		if res.Validated() {
			if err := t.onApprovalFinal(ctx, tx, rec, actor); err != nil {
				return err
			}
		}
		if err := t.save(tx, rec); err != nil {
			return err
		}
		out = rec
		return t.audit.Record(ctx, tx, audit.Event{
			Action:     "decision." + string(res.Event),
			EntityType: string(workflow.StageTransfer), EntityID: rec.ID, Exercice: rec.Exercice,
			Actor: actor.ID, ActedAs: res.ActedAs, Reason: res.Reason,
			Before: map[string]any{"status": before.Status, "currentStep": before.CurrentStep},
			After: map[string]any{
				"status": rec.Status, "statut": rec.Statut,
				"sourceBefore": rec.SourceBefore, "sourceAfter": rec.SourceAfter,
				"destBefore": rec.DestBefore, "destAfter": rec.DestAfter,
			},
			Metadata: map[string]any{"step": d.Step, "comment": d.Comment, "autoRejected": res.AutoRejected},
		})
	})
	if err != nil {
		return nil, workflow.Outcome{}, err
	}
	t.metrics.Decision(string(workflow.StageTransfer), string(res.Event))
	switch {
	case res.Validated():
		t.metrics.Transfer("executed")
		t.logger.Info("transfer executed", "numero", out.Numero, "amount", out.Amount.StringFixed(2))
	case res.AutoRejected:
		t.metrics.AutoRejection(string(workflow.StageTransfer))
		t.metrics.Transfer("auto_rejected")
	case res.To.Status == workflow.StatusRejected:
		t.metrics.Transfer("rejected")
	}
	return out, res, nil
}

// onApprovalFinal applies both movements of a transfer the last visa has
// just validated. The lines were locked in ascending id order by the final
// check.
func (t *Transfers) onApprovalFinal(ctx context.Context, tx *gorm.DB, rec *CreditTransferRecord, actor workflow.Actor) error {
	out, err := t.ledger.ApplyTransfer(ctx, tx, rec.SourceLineID, rec.ID, rec.Amount.Neg(), actor)
	if err != nil {
		return err
	}
	in, err := t.ledger.ApplyTransfer(ctx, tx, rec.DestLineID, rec.ID, rec.Amount, actor)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.SourceBefore, rec.SourceAfter = &out.Before, &out.After
	rec.DestBefore, rec.DestAfter = &in.Before, &in.After
	rec.ExecutedAt = &now
	return nil
}

// Resume re-enters validation at the step where a deferred transfer stopped.
func (t *Transfers) Resume(ctx context.Context, id string, actor workflow.Actor) (*CreditTransferRecord, workflow.Outcome, error) {
	var (
		out *CreditTransferRecord
		res workflow.Outcome
	)
	err := t.runner.Run(ctx, kindTransfer+".resume", func(tx *gorm.DB) error {
		rec, err := t.load(tx, id, true)
		if err != nil {
			return err
		}
		res, err = t.engine.Resume(ctx, tx, rec, actor)
		if err != nil {
			return err
		}
		if err := t.save(tx, rec); err != nil {
			return err
		}
		out = rec
		return t.audit.Record(ctx, tx, audit.Event{
			Action: "resume", EntityType: string(workflow.StageTransfer), EntityID: rec.ID, Exercice: rec.Exercice,
			Actor: actor.ID, ActedAs: res.ActedAs, Reason: res.Reason,
			Before: map[string]any{"status": res.From.Status, "currentStep": res.From.CurrentStep},
			After:  map[string]any{"status": rec.Status, "currentStep": rec.CurrentStep},
		})
	})
	if err != nil {
		return nil, workflow.Outcome{}, err
	}
	t.metrics.Decision(string(workflow.StageTransfer), string(workflow.EventResume))
	return out, res, nil
}

// Inspect tells actor what they can do on the transfer now.
func (t *Transfers) Inspect(ctx context.Context, id string, actor workflow.Actor) (workflow.StepView, error) {
	db := t.runner.DB().WithContext(ctx)
	rec, err := t.load(db, id, false)
	if err != nil {
		return workflow.StepView{}, err
	}
	return t.engine.Inspect(ctx, db, rec, actor, &transferChecks{t: rec})
}

// Get returns one transfer.
func (t *Transfers) Get(ctx context.Context, id string) (*CreditTransferRecord, error) {
	return t.load(t.runner.DB().WithContext(ctx), id, false)
}

// Steps returns the visa steps reached by a transfer.
func (t *Transfers) Steps(ctx context.Context, id string) ([]workflow.VisaStepRecord, error) {
	rec, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.engine.Steps().List(t.runner.DB().WithContext(ctx), rec.WorkflowRef())
}

// TransferFilter narrows List. LineID matches either side.
type TransferFilter struct {
	Exercice  int
	LineID    string
	Status    workflow.Status
	Filter    string
	PageSize  int
	PageToken string
}

var transferColumns = query.Columns{
	"numero":        {Name: "numero", Kind: query.KindString},
	"status":        {Name: "status", Kind: query.KindString},
	"amount":        {Name: "amount", Kind: query.KindDecimal},
	"exercice":      {Name: "exercice", Kind: query.KindInt},
	"sourceLineId":  {Name: "source_line_id", Kind: query.KindString},
	"destLineId":    {Name: "dest_line_id", Kind: query.KindString},
	"justification": {Name: "justification", Kind: query.KindString},
	"referenceNote": {Name: "reference_note", Kind: query.KindString},
	"createdBy":     {Name: "created_by", Kind: query.KindString},
}

// List returns transfers newest first, the next page token and the total
// number of matches.
func (t *Transfers) List(ctx context.Context, f TransferFilter) ([]CreditTransferRecord, string, int, error) {
	scope, err := query.Scope(f.Filter, transferColumns)
	if err != nil {
		return nil, "", 0, err
	}
	q := t.runner.DB().WithContext(ctx).Model(&CreditTransferRecord{}).Scopes(scope)
	if f.Exercice != 0 {
		q = q.Where("exercice = ?", f.Exercice)
	}
	if f.LineID != "" {
		q = q.Where("source_line_id = ? OR dest_line_id = ?", f.LineID, f.LineID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count transfers: %w", err)
	}
	pq, offset, size, err := page(q.Order("created_at DESC").Order("id DESC"), f.PageSize, f.PageToken)
	if err != nil {
		return nil, "", 0, err
	}
	var items []CreditTransferRecord
	if err := pq.Find(&items).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list transfers: %w", err)
	}
	next := nextToken(offset, size, len(items))
	if len(items) > size {
		items = items[:size]
	}
	return items, next, int(total), nil
}

// transferChecks evaluates the réaménagement guards: the source line must
// still cover the amount.
type transferChecks struct {
	t    *CreditTransferRecord
	lock bool
}

func (c *transferChecks) Guard(_ context.Context, tx *gorm.DB, kind workflow.GuardKind) error {
	if kind != workflow.GuardCapacity {
		return nil
	}
	return c.sourceCovers(tx)
}

// Final locks both lines in ascending id order before re-reading the
// source availability, so that concurrent transfers over the same pair
// never deadlock.
func (c *transferChecks) Final(_ context.Context, tx *gorm.DB) error {
	if c.lock {
		ids := []string{c.t.SourceLineID, c.t.DestLineID}
		sort.Strings(ids)
		for _, id := range ids {
			if _, err := lockLine(tx, id); err != nil {
				return err
			}
		}
	}
	return c.sourceCovers(tx)
}

func (c *transferChecks) sourceCovers(tx *gorm.DB) error {
	src, err := getLine(tx, c.t.SourceLineID)
	if err != nil {
		return err
	}
	avail, err := availableTx(tx, src)
	if err != nil {
		return err
	}
	if c.t.Amount.GreaterThan(avail) {
		return &apperrors.InsufficientCapacityError{
			Scope:     entityLine,
			ParentID:  src.ID,
			Requested: c.t.Amount,
			Available: avail,
		}
	}
	return nil
}
