package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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

// Entity is implemented by the four stage records.
type Entity interface {
	workflow.Subject
	Base() *StageFields
}

// EntityPtr constrains a type parameter to a pointer to a stage record.
type EntityPtr[T any] interface {
	*T
	Entity
}

// parentInfo is what a stage entity draws its capacity from: a budget line
// for commitments, the upstream stage entity otherwise.
type parentInfo struct {
	ID          string
	LineID      string
	Exercice    int
	Beneficiary string
	Cap         decimal.Decimal
	Version     int64
	Table       string
	Scope       string
}

// stageSpec parameterizes Chain for one stage.
type stageSpec[T any, PT EntityPtr[T]] struct {
	stage     workflow.StageType
	kind      string
	table     string
	docType   string
	lineTotal string

	// loadParent reads, and when lock is set locks, the parent of an
	// entity. It fails when the parent cannot take new children.
	loadParent func(tx *gorm.DB, id string, lock bool) (*parentInfo, error)
	// apply sets the stage specific fields on creation.
	apply func(e PT, in CreateInput) error
	// patch applies the stage specific fields of an update.
	patch func(e PT, in UpdateInput) error
	// missing lists the fields and documents that block submission.
	missing func(e PT) []string
	// validated runs in the transaction that makes an entity valide, after
	// the generic totals are updated.
	validated func(ctx context.Context, tx *gorm.DB, e PT, actor workflow.Actor) error
	columns   query.Columns
}

// Chain is the controller of one spending stage. Every stage entity is
// capped by its parent: the sum of the reserving entities under a parent
// never exceeds the parent's cap.
type Chain[T any, PT EntityPtr[T]] struct {
	spec    stageSpec[T, PT]
	engine  *workflow.Engine
	runner  *txn.Runner
	numbers NumberIssuer
	audit   AuditSink
	ledger  *Ledger
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func newChain[T any, PT EntityPtr[T]](spec stageSpec[T, PT], opts *Options, l *Ledger) *Chain[T, PT] {
	return &Chain[T, PT]{
		spec:    spec,
		engine:  opts.Engine,
		runner:  opts.Runner,
		numbers: opts.Numbers,
		audit:   opts.Audit,
		ledger:  l,
		metrics: opts.Metrics,
		logger:  opts.Logger.With("stage", string(spec.stage)),
	}
}

// Stage returns the workflow stage type of the chain.
func (c *Chain[T, PT]) Stage() workflow.StageType {
	return c.spec.stage
}

func (c *Chain[T, PT]) op(name string) string {
	return c.spec.kind + "." + name
}

func (c *Chain[T, PT]) load(tx *gorm.DB, id string, lock bool) (PT, error) {
	e := PT(new(T))
	q := tx
	if lock {
		q = txn.ForUpdate(tx)
	}
	if err := q.Where("id = ?", id).First(e).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &apperrors.NotFoundError{Kind: c.spec.kind, ID: id}
		}
		return nil, fmt.Errorf("get %s: %w", c.spec.kind, err)
	}
	return e, nil
}

// capacity is the parent cap minus what the reserving siblings of
// excludeID already hold.
func (c *Chain[T, PT]) capacity(tx *gorm.DB, parent *parentInfo, excludeID string) (decimal.Decimal, error) {
	reserved, err := sumReserving(tx, c.spec.table, parent.ID, excludeID)
	if err != nil {
		return decimal.Zero, err
	}
	return parent.Cap.Sub(reserved), nil
}

func insufficient(parent *parentInfo, requested, available decimal.Decimal) error {
	return &apperrors.InsufficientCapacityError{
		Scope:     parent.Scope,
		ParentID:  parent.ID,
		Requested: requested,
		Available: available,
	}
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &apperrors.ValidationError{Fields: map[string]string{"amount": "must be greater than zero"}}
	}
	return nil
}

// saveVersioned writes every column of model when the stored version still
// equals *version, and bumps it.
func saveVersioned(tx *gorm.DB, model any, version *int64, updatedAt *time.Time) error {
	prev := *version
	*version = prev + 1
	*updatedAt = time.Now().UTC()
	res := tx.Model(model).Where("version = ?", prev).Select("*").Updates(model)
	if res.Error != nil {
		*version = prev
		return res.Error
	}
	if res.RowsAffected == 0 {
		*version = prev
		return txn.ErrVersionConflict
	}
	return nil
}

func (c *Chain[T, PT]) save(tx *gorm.DB, e PT) error {
	b := e.Base()
	return saveVersioned(tx, e, &b.Version, &b.UpdatedAt)
}

// Create creates a draft under in.ParentID. An amount above the capacity
// left on the parent fails with InsufficientCapacity unless the creation is
// forced with a justification; a forced entity does not reserve capacity
// until it is validated.
func (c *Chain[T, PT]) Create(ctx context.Context, in CreateInput) (PT, error) {
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}
	var (
		out    PT
		forced bool
	)
	err := c.runner.Run(ctx, c.op("create"), func(tx *gorm.DB) error {
		forced = false
		parent, err := c.spec.loadParent(tx, in.ParentID, true)
		if err != nil {
			return err
		}
		avail, err := c.capacity(tx, parent, "")
		if err != nil {
			return err
		}
		if in.Amount.GreaterThan(avail) {
			if !in.Forced {
				return insufficient(parent, in.Amount, avail)
			}
			if len(strings.TrimSpace(in.ForceJustification)) < workflow.MinReasonLength {
				return apperrors.Missing("forceJustification")
			}
			forced = true
		}

		numero, err := c.numbers.Next(ctx, tx, c.spec.docType, parent.Exercice)
		if err != nil {
			return fmt.Errorf("issue %s number: %w", c.spec.kind, err)
		}
		beneficiary := strings.TrimSpace(in.Beneficiary)
		if beneficiary == "" {
			beneficiary = parent.Beneficiary
		}

		e := PT(new(T))
		b := e.Base()
		*b = StageFields{
			ID:          uuid.New().String(),
			Numero:      numero,
			ParentID:    parent.ID,
			LineID:      parent.LineID,
			Exercice:    parent.Exercice,
			Amount:      in.Amount,
			Beneficiary: beneficiary,
			Purpose:     strings.TrimSpace(in.Purpose),
			Documents:   StringList(in.Documents),
			Consumed:    decimal.Zero,
			Forced:      forced,
			Version:     1,
			CreatedBy:   in.Actor.ID,
			State:       workflow.State{Status: workflow.StatusDraft},
		}
		if forced {
			b.ForceJustification = strings.TrimSpace(in.ForceJustification)
		}
		if c.spec.apply != nil {
			if err := c.spec.apply(e, in); err != nil {
				return err
			}
		}
		if err := tx.Create(e).Error; err != nil {
			return fmt.Errorf("create %s: %w", c.spec.kind, err)
		}
		out = e
		return c.audit.Record(ctx, tx, audit.Event{
			Action: "create", EntityType: string(c.spec.stage), EntityID: b.ID, Exercice: b.Exercice,
			Actor: in.Actor.ID, Forced: forced, Reason: b.ForceJustification, After: e,
		})
	})
	if err != nil {
		return nil, err
	}
	if forced {
		c.metrics.ForcedCreation(string(c.spec.stage))
		c.logger.Warn("forced over-cap creation", "id", out.Base().ID, "numero", out.Base().Numero,
			"amount", in.Amount.StringFixed(2), "actor", in.Actor.ID)
	}
	return out, nil
}

// Update patches a draft. Changing the amount re-checks the capacity.
func (c *Chain[T, PT]) Update(ctx context.Context, id string, in UpdateInput) (PT, error) {
	var out PT
	err := c.runner.Run(ctx, c.op("update"), func(tx *gorm.DB) error {
		e, err := c.load(tx, id, true)
		if err != nil {
			return err
		}
		b := e.Base()
		if b.Status != workflow.StatusDraft {
			return apperrors.Illegal(string(b.Status), "update", 0, "%s %s is %s, only a draft can be edited", c.spec.kind, b.Numero, b.Status)
		}
		if b.Frozen {
			return frozenError(c.spec.kind, b, "update")
		}
		before := *b

		if in.Beneficiary != nil {
			b.Beneficiary = strings.TrimSpace(*in.Beneficiary)
		}
		if in.Purpose != nil {
			b.Purpose = strings.TrimSpace(*in.Purpose)
		}
		if in.Documents != nil {
			b.Documents = StringList(*in.Documents)
		}
		if in.Amount != nil && !in.Amount.Equal(b.Amount) {
			if err := validateAmount(*in.Amount); err != nil {
				return err
			}
			parent, err := c.spec.loadParent(tx, b.ParentID, true)
			if err != nil {
				return err
			}
			avail, err := c.capacity(tx, parent, b.ID)
			if err != nil {
				return err
			}
			switch {
			case in.Amount.LessThanOrEqual(avail):
				b.Forced = false
				b.ForceJustification = ""
			case !b.Forced:
				return insufficient(parent, *in.Amount, avail)
			}
			b.Amount = *in.Amount
		}
		if c.spec.patch != nil {
			if err := c.spec.patch(e, in); err != nil {
				return err
			}
		}
		if err := c.save(tx, e); err != nil {
			return err
		}
		out = e
		return c.audit.Record(ctx, tx, audit.Event{
			Action: "update", EntityType: string(c.spec.stage), EntityID: b.ID, Exercice: b.Exercice,
			Actor: in.Actor.ID, Forced: b.Forced, Before: before, After: e,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel abandons a draft. A cancelled entity holds nothing and accepts no
// further command.
func (c *Chain[T, PT]) Cancel(ctx context.Context, id, reason string, actor workflow.Actor) (PT, error) {
	var out PT
	err := c.runner.Run(ctx, c.op("cancel"), func(tx *gorm.DB) error {
		e, err := c.load(tx, id, true)
		if err != nil {
			return err
		}
		b := e.Base()
		if b.Frozen {
			return frozenError(c.spec.kind, b, "cancel")
		}
		before := b.Status
		to, err := workflow.Transition(b.Position(), workflow.Event{Kind: workflow.EventCancel})
		if err != nil {
			return err
		}
		b.Status = to.Status
		if err := c.save(tx, e); err != nil {
			return err
		}
		out = e
		return c.audit.Record(ctx, tx, audit.Event{
			Action: "cancel", EntityType: string(c.spec.stage), EntityID: b.ID, Exercice: b.Exercice,
			Actor: actor.ID, Reason: strings.TrimSpace(reason),
			Before: map[string]any{"status": before},
			After:  map[string]any{"status": b.Status},
		})
	})
	if err != nil {
		return nil, err
	}
	c.metrics.Decision(string(c.spec.stage), string(workflow.EventCancel))
	return out, nil
}

// Submit sends a draft into validation. Missing fields and documents fail
// with IncompleteData; a non-forced entity re-checks its capacity. The plan
// of the stage workflow is frozen on the entity and its first step opened.
func (c *Chain[T, PT]) Submit(ctx context.Context, id string, actor workflow.Actor) (PT, error) {
	var out PT
	err := c.runner.Run(ctx, c.op("submit"), func(tx *gorm.DB) error {
		e, err := c.load(tx, id, true)
		if err != nil {
			return err
		}
		b := e.Base()
		if b.Frozen {
			return frozenError(c.spec.kind, b, "submit")
		}
		if b.Status != workflow.StatusDraft {
			return apperrors.Illegal(string(b.Status), string(workflow.EventSubmit), 0, "%s %s is %s, only a draft can be submitted", c.spec.kind, b.Numero, b.Status)
		}
		if missing := c.spec.missing(e); len(missing) > 0 {
			return apperrors.Missing(missing...)
		}

		parent, err := c.spec.loadParent(tx, b.ParentID, true)
		if err != nil {
			return err
		}
		if !b.Forced {
			avail, err := c.capacity(tx, parent, b.ID)
			if err != nil {
				return err
			}
			if b.Amount.GreaterThan(avail) {
				return insufficient(parent, b.Amount, avail)
			}
		}

		before := b.Status
		if _, err := c.engine.Start(ctx, tx, e, b.Amount, actor); err != nil {
			return err
		}
		if err := c.save(tx, e); err != nil {
			return err
		}
		// The reserving set of the parent changed.
		if err := txn.UpdateVersioned(tx, parent.Table, parent.ID, parent.Version, map[string]any{}); err != nil {
			return err
		}
		c.ledger.invalidateAfterCommit(tx, b.LineID)
		out = e
		return c.audit.Record(ctx, tx, audit.Event{
			Action: "submit", EntityType: string(c.spec.stage), EntityID: b.ID, Exercice: b.Exercice,
			Actor: actor.ID, Forced: b.Forced,
			Before:   map[string]any{"status": before},
			After:    map[string]any{"status": b.Status, "currentStep": b.CurrentStep, "totalSteps": b.TotalSteps},
			Metadata: map[string]any{"plan": b.Plan},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Advance applies a visa decision to the current step. Validating the last
// step re-checks the cap against the current parent; when it no longer
// fits, the entity is rejected automatically instead.
func (c *Chain[T, PT]) Advance(ctx context.Context, id string, d workflow.Decision, actor workflow.Actor) (PT, workflow.Outcome, error) {
	if d.Kind == workflow.EventResume {
		return c.Resume(ctx, id, actor)
	}
	var (
		out PT
		res workflow.Outcome
	)
	err := c.runner.Run(ctx, c.op("advance"), func(tx *gorm.DB) error {
		e, err := c.load(tx, id, true)
		if err != nil {
			return err
		}
		b := e.Base()
		if b.Frozen {
			return frozenError(c.spec.kind, b, string(d.Kind))
		}
		before := b.Position()

		res, err = c.engine.Decide(ctx, tx, e, actor, d, &chainChecks[T, PT]{c: c, e: e, lock: true})
		if err != nil {
			return err
		}
		if res.Validated() {
			if err := c.onValidated(ctx, tx, e, actor); err != nil {
				return err
			}
		}
		if err := c.save(tx, e); err != nil {
			return err
		}
		c.ledger.invalidateAfterCommit(tx, b.LineID)
		out = e
		return c.audit.Record(ctx, tx, audit.Event{
			Action:     "decision." + string(res.Event),
			EntityType: string(c.spec.stage), EntityID: b.ID, Exercice: b.Exercice,
			Actor: actor.ID, ActedAs: res.ActedAs, Reason: res.Reason, Forced: b.Forced,
			Before:   map[string]any{"status": before.Status, "currentStep": before.CurrentStep},
			After:    map[string]any{"status": b.Status, "currentStep": b.CurrentStep},
			Metadata: map[string]any{"step": d.Step, "comment": d.Comment, "autoRejected": res.AutoRejected},
		})
	})
	if err != nil {
		return nil, workflow.Outcome{}, err
	}
	c.metrics.Decision(string(c.spec.stage), string(res.Event))
	if res.AutoRejected {
		c.metrics.AutoRejection(string(c.spec.stage))
	}
	return out, res, nil
}

// onValidated feeds the validated amount into the materialized totals of
// the parent and the line.
func (c *Chain[T, PT]) onValidated(ctx context.Context, tx *gorm.DB, e PT, actor workflow.Actor) error {
	b := e.Base()
	parent, err := c.spec.loadParent(tx, b.ParentID, true)
	if err != nil {
		return err
	}
	col := "consumed"
	if parent.Table == (BudgetLineRecord{}).TableName() {
		col = c.spec.lineTotal
	}
	if err := txn.UpdateVersioned(tx, parent.Table, parent.ID, parent.Version, map[string]any{
		col: gorm.Expr(col+" + ?", b.Amount),
	}); err != nil {
		return err
	}
	if col == "consumed" {
		if err := tx.Model(&BudgetLineRecord{}).Where("id = ?", b.LineID).
			UpdateColumn(c.spec.lineTotal, gorm.Expr(c.spec.lineTotal+" + ?", b.Amount)).Error; err != nil {
			return fmt.Errorf("update line %s: %w", c.spec.lineTotal, err)
		}
	}
	if c.spec.validated != nil {
		return c.spec.validated(ctx, tx, e, actor)
	}
	return nil
}

// Resume re-enters validation at the step where a deferred entity stopped.
func (c *Chain[T, PT]) Resume(ctx context.Context, id string, actor workflow.Actor) (PT, workflow.Outcome, error) {
	var (
		out PT
		res workflow.Outcome
	)
	err := c.runner.Run(ctx, c.op("resume"), func(tx *gorm.DB) error {
		e, err := c.load(tx, id, true)
		if err != nil {
			return err
		}
		b := e.Base()
		if b.Frozen {
			return frozenError(c.spec.kind, b, string(workflow.EventResume))
		}
		res, err = c.engine.Resume(ctx, tx, e, actor)
		if err != nil {
			return err
		}
		if err := c.save(tx, e); err != nil {
			return err
		}
		out = e
		return c.audit.Record(ctx, tx, audit.Event{
			Action: "resume", EntityType: string(c.spec.stage), EntityID: b.ID, Exercice: b.Exercice,
			Actor: actor.ID, ActedAs: res.ActedAs, Reason: res.Reason,
			Before: map[string]any{"status": res.From.Status, "currentStep": res.From.CurrentStep},
			After:  map[string]any{"status": b.Status, "currentStep": b.CurrentStep},
		})
	})
	if err != nil {
		return nil, workflow.Outcome{}, err
	}
	c.metrics.Decision(string(c.spec.stage), string(workflow.EventResume))
	return out, res, nil
}

// Inspect tells actor what they can do on the entity now.
func (c *Chain[T, PT]) Inspect(ctx context.Context, id string, actor workflow.Actor) (workflow.StepView, error) {
	db := c.runner.DB().WithContext(ctx)
	e, err := c.load(db, id, false)
	if err != nil {
		return workflow.StepView{}, err
	}
	view, err := c.engine.Inspect(ctx, db, e, actor, &chainChecks[T, PT]{c: c, e: e})
	if err != nil {
		return view, err
	}
	if b := e.Base(); b.Frozen {
		view.CanVisa = false
		view.CanAutoReject = false
		view.BlockReason = "frozen: " + b.FrozenReason
	}
	return view, nil
}

// Get returns one entity.
func (c *Chain[T, PT]) Get(ctx context.Context, id string) (PT, error) {
	return c.load(c.runner.DB().WithContext(ctx), id, false)
}

// Steps returns the visa steps reached by an entity.
func (c *Chain[T, PT]) Steps(ctx context.Context, id string) ([]workflow.VisaStepRecord, error) {
	e, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.engine.Steps().List(c.runner.DB().WithContext(ctx), e.WorkflowRef())
}

var stageColumns = query.Columns{
	"numero":      {Name: "numero", Kind: query.KindString},
	"status":      {Name: "status", Kind: query.KindString},
	"amount":      {Name: "amount", Kind: query.KindDecimal},
	"beneficiary": {Name: "beneficiary", Kind: query.KindString},
	"purpose":     {Name: "purpose", Kind: query.KindString},
	"exercice":    {Name: "exercice", Kind: query.KindInt},
	"currentStep": {Name: "current_step", Kind: query.KindInt},
	"forced":      {Name: "forced", Kind: query.KindBool},
	"frozen":      {Name: "frozen", Kind: query.KindBool},
	"parentId":    {Name: "parent_id", Kind: query.KindString},
	"lineId":      {Name: "line_id", Kind: query.KindString},
	"createdBy":   {Name: "created_by", Kind: query.KindString},
}

func (c *Chain[T, PT]) columns() query.Columns {
	cols := make(query.Columns, len(stageColumns)+len(c.spec.columns))
	for k, v := range stageColumns {
		cols[k] = v
	}
	for k, v := range c.spec.columns {
		cols[k] = v
	}
	return cols
}

// List returns entities newest first, the next page token and the total
// number of matches.
func (c *Chain[T, PT]) List(ctx context.Context, opts ListOptions) ([]T, string, int, error) {
	scope, err := query.Scope(opts.Filter, c.columns())
	if err != nil {
		return nil, "", 0, err
	}
	q := c.runner.DB().WithContext(ctx).Model(PT(new(T))).Scopes(scope)
	if opts.Exercice != 0 {
		q = q.Where("exercice = ?", opts.Exercice)
	}
	if opts.ParentID != "" {
		q = q.Where("parent_id = ?", opts.ParentID)
	}
	if opts.LineID != "" {
		q = q.Where("line_id = ?", opts.LineID)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count %s: %w", c.spec.table, err)
	}
	pq, offset, size, err := page(q.Order("created_at DESC").Order("id DESC"), opts.PageSize, opts.PageToken)
	if err != nil {
		return nil, "", 0, err
	}
	var items []T
	if err := pq.Find(&items).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list %s: %w", c.spec.table, err)
	}
	next := nextToken(offset, size, len(items))
	if len(items) > size {
		items = items[:size]
	}
	return items, next, int(total), nil
}

// chainChecks evaluates the step guards of one entity.
type chainChecks[T any, PT EntityPtr[T]] struct {
	c    *Chain[T, PT]
	e    PT
	lock bool
}

func (k *chainChecks[T, PT]) Guard(_ context.Context, tx *gorm.DB, kind workflow.GuardKind) error {
	switch kind {
	case workflow.GuardCapacity:
		return k.capacity(tx)
	case workflow.GuardDocuments:
		return apperrors.Missing(k.c.spec.missing(k.e)...)
	}
	return nil
}

func (k *chainChecks[T, PT]) Final(_ context.Context, tx *gorm.DB) error {
	return k.capacity(tx)
}

func (k *chainChecks[T, PT]) capacity(tx *gorm.DB) error {
	b := k.e.Base()
	parent, err := k.c.spec.loadParent(tx, b.ParentID, k.lock)
	if err != nil {
		return err
	}
	avail, err := k.c.capacity(tx, parent, b.ID)
	if err != nil {
		return err
	}
	if b.Amount.GreaterThan(avail) {
		return insufficient(parent, b.Amount, avail)
	}
	return nil
}

func frozenError(kind string, b *StageFields, event string) error {
	return apperrors.Illegal("frozen", event, b.CurrentStep, "%s %s is frozen: %s", kind, b.Numero, b.FrozenReason)
}
