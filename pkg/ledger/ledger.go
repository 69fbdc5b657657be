// Package ledger implements the budget execution ledger: budget lines and
// their availability, the four-stage spending chain (engagement,
// liquidation, ordonnancement, règlement) and credit transfers between lines.
//
// Every capacity check and the write it gates run in one transaction of a
// txn.Runner. Gating reads re-aggregate the reserving rows inside that
// transaction; the materialized totals on lines and parents are kept for
// display and alerts only.
package ledger

import (
	"context"
	"encoding/json"
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
	"github.com/arti-ci/sygfp-ledger/pkg/cache"
	"github.com/arti-ci/sygfp-ledger/pkg/fiscal"
	"github.com/arti-ci/sygfp-ledger/pkg/metrics"
	"github.com/arti-ci/sygfp-ledger/pkg/query"
	"github.com/arti-ci/sygfp-ledger/pkg/txn"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

const (
	entityLine     = "budget_line"
	entityExercice = "exercice"
)

// Ledger holds the budget lines.
type Ledger struct {
	runner  *txn.Runner
	steps   *workflow.VisaStore
	audit   AuditSink
	cache   cache.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func newLedger(opts *Options) *Ledger {
	return &Ledger{
		runner:  opts.Runner,
		steps:   opts.Engine.Steps(),
		audit:   opts.Audit,
		cache:   opts.Cache,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

func (l *Ledger) db(ctx context.Context) *gorm.DB {
	return l.runner.DB().WithContext(ctx)
}

// CreateLineInput creates a budget line.
type CreateLineInput struct {
	Code             string          `json:"code" validate:"required,max=64"`
	Label            string          `json:"label" validate:"max=255"`
	Exercice         int             `json:"exercice" validate:"required"`
	DotationInitiale decimal.Decimal `json:"dotationInitiale"`
	Actor            workflow.Actor  `json:"-"`
}

// CreateLine creates an active, unopened line whose current allocation
// equals its initial allocation.
func (l *Ledger) CreateLine(ctx context.Context, in CreateLineInput) (*BudgetLineRecord, error) {
	fields := map[string]string{}
	if strings.TrimSpace(in.Code) == "" {
		fields["code"] = "is required"
	}
	if in.Exercice < fiscal.MinExercice || in.Exercice > fiscal.MaxExercice {
		fields["exercice"] = fmt.Sprintf("must be between %d and %d", fiscal.MinExercice, fiscal.MaxExercice)
	}
	if in.DotationInitiale.IsNegative() {
		fields["dotationInitiale"] = "must not be negative"
	}
	if len(fields) > 0 {
		return nil, &apperrors.ValidationError{Fields: fields}
	}

	line := &BudgetLineRecord{
		ID:               uuid.New().String(),
		Code:             strings.TrimSpace(in.Code),
		Exercice:         in.Exercice,
		Label:            in.Label,
		DotationInitiale: in.DotationInitiale,
		TransfersIn:      decimal.Zero,
		TransfersOut:     decimal.Zero,
		DotationActuelle: in.DotationInitiale,
		Active:           true,
		Version:          1,
		CreatedBy:        in.Actor.ID,
	}
	err := l.runner.Run(ctx, "line.create", func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&BudgetLineRecord{}).Where("code = ? AND exercice = ?", line.Code, line.Exercice).Count(&n).Error; err != nil {
			return fmt.Errorf("check line code: %w", err)
		}
		if n > 0 {
			return &apperrors.ValidationError{Fields: map[string]string{"code": fmt.Sprintf("already used in exercice %d", line.Exercice)}}
		}
		if err := tx.Create(line).Error; err != nil {
			return fmt.Errorf("create budget line: %w", err)
		}
		return l.audit.Record(ctx, tx, audit.Event{
			Action: "create", EntityType: entityLine, EntityID: line.ID, Exercice: line.Exercice,
			Actor: in.Actor.ID, After: line,
		})
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// GetLine returns a line.
func (l *Ledger) GetLine(ctx context.Context, id string) (*BudgetLineRecord, error) {
	return getLine(l.db(ctx), id)
}

func getLine(tx *gorm.DB, id string) (*BudgetLineRecord, error) {
	var line BudgetLineRecord
	if err := tx.Where("id = ?", id).First(&line).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &apperrors.NotFoundError{Kind: entityLine, ID: id}
		}
		return nil, fmt.Errorf("get budget line: %w", err)
	}
	return &line, nil
}

func lockLine(tx *gorm.DB, id string) (*BudgetLineRecord, error) {
	return getLine(txn.ForUpdate(tx), id)
}

// LineFilter narrows ListLines.
type LineFilter struct {
	Exercice  int
	Active    *bool
	Filter    string
	PageSize  int
	PageToken string
}

var lineColumns = query.Columns{
	"code":             {Name: "code", Kind: query.KindString},
	"label":            {Name: "label", Kind: query.KindString},
	"exercice":         {Name: "exercice", Kind: query.KindInt},
	"active":           {Name: "active", Kind: query.KindBool},
	"opened":           {Name: "opened", Kind: query.KindBool},
	"dotationInitiale": {Name: "dotation_initiale", Kind: query.KindDecimal},
	"dotationActuelle": {Name: "dotation_actuelle", Kind: query.KindDecimal},
	"totalEngage":      {Name: "total_engage", Kind: query.KindDecimal},
	"totalPaye":        {Name: "total_paye", Kind: query.KindDecimal},
}

// ListLines returns lines ordered by code, the next page token and the
// total number of matching lines.
func (l *Ledger) ListLines(ctx context.Context, f LineFilter) ([]BudgetLineRecord, string, int, error) {
	scope, err := query.Scope(f.Filter, lineColumns)
	if err != nil {
		return nil, "", 0, err
	}
	q := l.db(ctx).Model(&BudgetLineRecord{}).Scopes(scope)
	if f.Exercice != 0 {
		q = q.Where("exercice = ?", f.Exercice)
	}
	if f.Active != nil {
		q = q.Where("active = ?", *f.Active)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count budget lines: %w", err)
	}
	pq, offset, size, err := page(q.Order("code ASC").Order("id ASC"), f.PageSize, f.PageToken)
	if err != nil {
		return nil, "", 0, err
	}
	var lines []BudgetLineRecord
	if err := pq.Find(&lines).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list budget lines: %w", err)
	}
	next := nextToken(offset, size, len(lines))
	if len(lines) > size {
		lines = lines[:size]
	}
	return lines, next, int(total), nil
}

// AmendLineInput is a versioned edit of a line.
type AmendLineInput struct {
	Label            *string          `json:"label,omitempty"`
	DotationInitiale *decimal.Decimal `json:"dotationInitiale,omitempty"`
	Reason           string           `json:"reason"`
	Actor            workflow.Actor   `json:"-"`
}

// AmendLine edits the label and, before the exercice is opened, the initial
// allocation of a line. The previous state is kept in budget_line_versions.
// Lowering the allocation under what is already reserved is accepted: such
// a correction is reconciled with FreezeNonCompliant.
func (l *Ledger) AmendLine(ctx context.Context, id string, in AmendLineInput) (*BudgetLineRecord, error) {
	if len(strings.TrimSpace(in.Reason)) < workflow.MinReasonLength {
		return nil, apperrors.Missing("reason")
	}
	var out *BudgetLineRecord
	err := l.runner.Run(ctx, "line.amend", func(tx *gorm.DB) error {
		line, err := lockLine(tx, id)
		if err != nil {
			return err
		}
		if !line.Active {
			return apperrors.Illegal("inactive", "amend", 0, "budget line %s is deactivated", line.Code)
		}
		before := *line

		values := map[string]any{}
		if in.Label != nil {
			line.Label = *in.Label
			values["label"] = line.Label
		}
		if in.DotationInitiale != nil && !in.DotationInitiale.Equal(line.DotationInitiale) {
			if line.Opened {
				return apperrors.Illegal("opened", "amend", 0, "the initial allocation of %s is locked since exercice %d was opened", line.Code, line.Exercice)
			}
			if in.DotationInitiale.IsNegative() {
				return &apperrors.ValidationError{Fields: map[string]string{"dotationInitiale": "must not be negative"}}
			}
			line.DotationInitiale = *in.DotationInitiale
			line.DotationActuelle = line.DotationInitiale.Add(line.TransfersIn).Sub(line.TransfersOut)
			values["dotation_initiale"] = line.DotationInitiale
			values["dotation_actuelle"] = line.DotationActuelle
		}
		if len(values) == 0 {
			out = line
			return nil
		}

		if err := tx.Create(&BudgetLineVersionRecord{
			ID:               uuid.New().String(),
			LineID:           line.ID,
			Version:          before.Version,
			Label:            before.Label,
			DotationInitiale: before.DotationInitiale,
			Reason:           strings.TrimSpace(in.Reason),
			ChangedBy:        in.Actor.ID,
		}).Error; err != nil {
			return fmt.Errorf("record budget line version: %w", err)
		}
		if err := txn.UpdateVersioned(tx, BudgetLineRecord{}.TableName(), line.ID, line.Version, values); err != nil {
			return err
		}
		line.Version++

		if reserved, err := reservedOnLine(tx, line.ID); err != nil {
			return err
		} else if reserved.GreaterThan(line.DotationActuelle) {
			l.logger.Warn("budget line amended below its reserved amount",
				"line", line.Code, "dotation", line.DotationActuelle.StringFixed(2), "reserved", reserved.StringFixed(2))
		}

		l.invalidateAfterCommit(tx, line.ID)
		out = line
		return l.audit.Record(ctx, tx, audit.Event{
			Action: "amend", EntityType: entityLine, EntityID: line.ID, Exercice: line.Exercice,
			Actor: in.Actor.ID, Reason: strings.TrimSpace(in.Reason), Before: before, After: line,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LineVersions returns the amendment history of a line, oldest first.
func (l *Ledger) LineVersions(ctx context.Context, id string) ([]BudgetLineVersionRecord, error) {
	var out []BudgetLineVersionRecord
	if err := l.db(ctx).Where("line_id = ?", id).Order("version ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list budget line versions: %w", err)
	}
	return out, nil
}

// OpenFiscalYear locks the initial allocation of every line of exercice and
// returns the number of lines opened by this call.
func (l *Ledger) OpenFiscalYear(ctx context.Context, exercice int, actor workflow.Actor) (int, error) {
	if exercice < fiscal.MinExercice || exercice > fiscal.MaxExercice {
		return 0, &apperrors.ValidationError{Fields: map[string]string{"exercice": "out of range"}}
	}
	var opened int
	err := l.runner.Run(ctx, "exercice.open", func(tx *gorm.DB) error {
		res := tx.Model(&BudgetLineRecord{}).
			Where("exercice = ? AND opened = ?", exercice, false).
			Updates(map[string]any{
				"opened":     true,
				"version":    gorm.Expr("version + 1"),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("open exercice %d: %w", exercice, res.Error)
		}
		opened = int(res.RowsAffected)
		return l.audit.Record(ctx, tx, audit.Event{
			Action: "open", EntityType: entityExercice, EntityID: fmt.Sprint(exercice), Exercice: exercice,
			Actor: actor.ID, Metadata: map[string]any{"lines": opened},
		})
	})
	if err != nil {
		return 0, err
	}
	l.logger.Info("exercice opened", "exercice", exercice, "lines", opened)
	return opened, nil
}

// DeactivateLine retires a line. A line with commitments still in
// validation cannot be deactivated.
func (l *Ledger) DeactivateLine(ctx context.Context, id string, actor workflow.Actor, reason string) (*BudgetLineRecord, error) {
	var out *BudgetLineRecord
	err := l.runner.Run(ctx, "line.deactivate", func(tx *gorm.DB) error {
		line, err := lockLine(tx, id)
		if err != nil {
			return err
		}
		if !line.Active {
			out = line
			return nil
		}
		var inFlight int64
		if err := tx.Model(&CommitmentRecord{}).
			Where("parent_id = ? AND status IN ?", line.ID, []workflow.Status{workflow.StatusSubmitted, workflow.StatusInProgress, workflow.StatusDeferred}).
			Count(&inFlight).Error; err != nil {
			return fmt.Errorf("count in-flight commitments: %w", err)
		}
		if inFlight > 0 {
			return apperrors.Illegal("active", "deactivate", 0, "budget line %s has %d commitment(s) in validation", line.Code, inFlight)
		}
		if err := txn.UpdateVersioned(tx, BudgetLineRecord{}.TableName(), line.ID, line.Version, map[string]any{"active": false}); err != nil {
			return err
		}
		before := *line
		line.Active = false
		line.Version++
		l.invalidateAfterCommit(tx, line.ID)
		out = line
		return l.audit.Record(ctx, tx, audit.Event{
			Action: "deactivate", EntityType: entityLine, EntityID: line.ID, Exercice: line.Exercice,
			Actor: actor.ID, Reason: reason, Before: before, After: line,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// sumReserving re-aggregates the amounts that reserve capacity under
// parentID in table, leaving out excludeID. Forced entities only reserve
// once validated.
func sumReserving(tx *gorm.DB, table, parentID, excludeID string) (decimal.Decimal, error) {
	var agg struct {
		Total decimal.Decimal
	}
	q := tx.Table(table).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("parent_id = ? AND status IN ?", parentID, workflow.ReservingStatuses).
		Where("(forced = ? OR status = ?)", false, workflow.StatusValidated)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.Scan(&agg).Error; err != nil {
		return decimal.Zero, fmt.Errorf("aggregate %s under %s: %w", table, parentID, err)
	}
	return agg.Total.Round(2), nil
}

func reservedOnLine(tx *gorm.DB, lineID string) (decimal.Decimal, error) {
	return sumReserving(tx, CommitmentRecord{}.TableName(), lineID, "")
}

// availableTx re-aggregates the capacity left on line inside tx.
func availableTx(tx *gorm.DB, line *BudgetLineRecord) (decimal.Decimal, error) {
	reserved, err := reservedOnLine(tx, line.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return line.DotationActuelle.Sub(reserved), nil
}

// Available returns the current allocation of a line minus the amounts
// reserved by its commitments, read from the database.
func (l *Ledger) Available(ctx context.Context, lineID string) (decimal.Decimal, error) {
	db := l.db(ctx)
	line, err := getLine(db, lineID)
	if err != nil {
		return decimal.Zero, err
	}
	return availableTx(db, line)
}

// Snapshot is the dashboard view of a line.
type Snapshot struct {
	LineID           string          `json:"lineId"`
	Code             string          `json:"code"`
	Exercice         int             `json:"exercice"`
	DotationActuelle decimal.Decimal `json:"dotationActuelle"`
	Reserved         decimal.Decimal `json:"reserved"`
	Available        decimal.Decimal `json:"available"`
	TotalEngage      decimal.Decimal `json:"totalEngage"`
	TotalLiquide     decimal.Decimal `json:"totalLiquide"`
	TotalOrdonnance  decimal.Decimal `json:"totalOrdonnance"`
	TotalPaye        decimal.Decimal `json:"totalPaye"`
	ConsumptionRate  decimal.Decimal `json:"consumptionRate"`
	Alert            AlertLevel      `json:"alert"`
	ComputedAt       time.Time       `json:"computedAt"`
}

// Snapshot returns the availability of a line for display. It may be
// served from the cache and must never gate a write.
func (l *Ledger) Snapshot(ctx context.Context, lineID string) (*Snapshot, error) {
	key := cache.LineKey(lineID)
	if l.cache != nil {
		if data, ok, err := l.cache.Get(ctx, key); err != nil {
			l.logger.Warn("availability cache read failed", "line", lineID, "error", err)
		} else if ok {
			var snap Snapshot
			if err := json.Unmarshal(data, &snap); err == nil {
				l.metrics.CacheLookup(true)
				return &snap, nil
			}
		}
		l.metrics.CacheLookup(false)
	}

	db := l.db(ctx)
	line, err := getLine(db, lineID)
	if err != nil {
		return nil, err
	}
	reserved, err := reservedOnLine(db, line.ID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		LineID:           line.ID,
		Code:             line.Code,
		Exercice:         line.Exercice,
		DotationActuelle: line.DotationActuelle,
		Reserved:         reserved,
		Available:        line.DotationActuelle.Sub(reserved),
		TotalEngage:      line.TotalEngage,
		TotalLiquide:     line.TotalLiquide,
		TotalOrdonnance:  line.TotalOrdonnance,
		TotalPaye:        line.TotalPaye,
		ConsumptionRate:  consumptionRate(line.TotalEngage, line.DotationActuelle),
		Alert:            ConsumptionAlert(line),
		ComputedAt:       time.Now().UTC(),
	}
	if l.cache != nil {
		if data, err := json.Marshal(snap); err == nil {
			if err := l.cache.Set(ctx, key, data); err != nil {
				l.logger.Warn("availability cache write failed", "line", lineID, "error", err)
			}
		}
	}
	return snap, nil
}

// ApplyTransfer moves delta onto the current allocation of a line on behalf
// of a credit transfer. Once the exercice is opened it is the only mutator
// of dotation_actuelle. A replay with the same transferID returns the
// recorded movement and changes nothing. The allocation may not fall below
// what is already reserved on the line.
//
// A nil tx runs the call in its own transaction.
func (l *Ledger) ApplyTransfer(ctx context.Context, tx *gorm.DB, lineID, transferID string, delta decimal.Decimal, actor workflow.Actor) (*LineMovementRecord, error) {
	if tx == nil {
		var out *LineMovementRecord
		err := l.runner.Run(ctx, "line.apply_transfer", func(tx *gorm.DB) error {
			var err error
			out, err = l.ApplyTransfer(ctx, tx, lineID, transferID, delta, actor)
			return err
		})
		return out, err
	}

	var prior LineMovementRecord
	err := tx.Where("transfer_id = ? AND line_id = ?", transferID, lineID).First(&prior).Error
	if err == nil {
		l.logger.Debug("transfer movement already applied", "transfer", transferID, "line", lineID)
		return &prior, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("look up line movement: %w", err)
	}

	line, err := lockLine(tx, lineID)
	if err != nil {
		return nil, err
	}
	if !line.Active {
		return nil, apperrors.Illegal("inactive", "apply_transfer", 0, "budget line %s is deactivated", line.Code)
	}
	reserved, err := reservedOnLine(tx, line.ID)
	if err != nil {
		return nil, err
	}
	before := line.DotationActuelle
	after := before.Add(delta)
	if after.LessThan(reserved) {
		return nil, &apperrors.InsufficientCapacityError{
			Scope:     entityLine,
			ParentID:  line.ID,
			Requested: delta.Neg(),
			Available: before.Sub(reserved),
		}
	}

	values := map[string]any{"dotation_actuelle": after}
	if delta.IsPositive() {
		values["transfers_in"] = line.TransfersIn.Add(delta)
	} else {
		values["transfers_out"] = line.TransfersOut.Add(delta.Neg())
	}
	if err := txn.UpdateVersioned(tx, BudgetLineRecord{}.TableName(), line.ID, line.Version, values); err != nil {
		return nil, err
	}

	mv := &LineMovementRecord{
		ID:         uuid.New().String(),
		TransferID: transferID,
		LineID:     line.ID,
		Delta:      delta,
		Before:     before,
		After:      after,
		Actor:      actor.ID,
	}
	if err := tx.Create(mv).Error; err != nil {
		return nil, fmt.Errorf("record line movement: %w", err)
	}
	l.invalidateAfterCommit(tx, line.ID)

	if err := l.audit.Record(ctx, tx, audit.Event{
		Action: "apply_transfer", EntityType: entityLine, EntityID: line.ID, Exercice: line.Exercice,
		Actor:    actor.ID,
		Before:   map[string]any{"dotationActuelle": before},
		After:    map[string]any{"dotationActuelle": after},
		Metadata: map[string]any{"transferId": transferID, "delta": delta.StringFixed(2)},
	}); err != nil {
		return nil, err
	}
	return mv, nil
}

func (l *Ledger) invalidateAfterCommit(tx *gorm.DB, lineIDs ...string) {
	if l.cache == nil {
		return
	}
	txn.AfterCommit(tx, func() {
		cache.InvalidateLines(context.Background(), l.cache, l.logger, lineIDs...)
	})
}
