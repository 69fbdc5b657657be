package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
	"github.com/arti-ci/sygfp-ledger/pkg/audit"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

// FreezeReport is the result of FreezeNonCompliant.
type FreezeReport struct {
	LineID           string          `json:"lineId"`
	DotationActuelle decimal.Decimal `json:"dotationActuelle"`
	// Held is what the unfrozen reserving commitments hold after the call.
	Held        decimal.Decimal `json:"held"`
	Compliant   bool            `json:"compliant"`
	Commitments []string        `json:"commitments"`
	Descendants int             `json:"descendants"`
}

// FreezeNonCompliant restores the cap of a line whose reserving
// commitments exceed its current allocation. Validated forced commitments
// are frozen newest first until the unfrozen ones fit; their
// verifications, payment orders and settlements inherit the flag and their
// pending visa steps are suspended. Nothing validated is reversed. When
// freezing every forced commitment is not enough the report says so and
// the line stays non-compliant.
func (l *Ledger) FreezeNonCompliant(ctx context.Context, lineID string, actor workflow.Actor, reason string) (*FreezeReport, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) < workflow.MinReasonLength {
		return nil, apperrors.Missing("reason")
	}
	var report *FreezeReport
	err := l.runner.Run(ctx, "line.freeze_noncompliant", func(tx *gorm.DB) error {
		line, err := lockLine(tx, lineID)
		if err != nil {
			return err
		}
		held, err := heldUnfrozen(tx, line.ID)
		if err != nil {
			return err
		}
		report = &FreezeReport{LineID: line.ID, DotationActuelle: line.DotationActuelle, Held: held}
		if held.LessThanOrEqual(line.DotationActuelle) {
			report.Compliant = true
			return nil
		}

		var candidates []CommitmentRecord
		if err := tx.Where("parent_id = ? AND forced = ? AND status = ? AND frozen = ?",
			line.ID, true, workflow.StatusValidated, false).
			Order("created_at DESC").Order("numero DESC").
			Find(&candidates).Error; err != nil {
			return fmt.Errorf("list forced commitments: %w", err)
		}
		var ids []string
		for _, c := range candidates {
			if held.LessThanOrEqual(line.DotationActuelle) {
				break
			}
			ids = append(ids, c.ID)
			report.Commitments = append(report.Commitments, c.Numero)
			held = held.Sub(c.Amount)
		}
		report.Held = held
		report.Compliant = held.LessThanOrEqual(line.DotationActuelle)

		now := time.Now().UTC()
		if err := freezeIDs(tx, CommitmentRecord{}.TableName(), ids, reason, now); err != nil {
			return err
		}
		parents := ids
		for _, level := range []struct {
			table  string
			stages []workflow.StageType
		}{
			{VerificationRecord{}.TableName(), []workflow.StageType{workflow.StageVerification}},
			{PaymentOrderRecord{}.TableName(), []workflow.StageType{workflow.StagePaymentOrder, workflow.StageCountersignature}},
			{SettlementRecord{}.TableName(), []workflow.StageType{workflow.StageSettlement}},
		} {
			children, err := freezeChildren(tx, level.table, parents, reason, now)
			if err != nil {
				return err
			}
			if err := l.steps.SuspendEntities(tx, level.stages, children); err != nil {
				return err
			}
			report.Descendants += len(children)
			parents = children
		}
		l.invalidateAfterCommit(tx, line.ID)

		return l.audit.Record(ctx, tx, audit.Event{
			Action: "freeze_noncompliant", EntityType: entityLine, EntityID: line.ID, Exercice: line.Exercice,
			Actor: actor.ID, Reason: reason,
			After: report,
		})
	})
	if err != nil {
		return nil, err
	}
	if len(report.Commitments) > 0 {
		l.logger.Warn("non-compliant commitments frozen", "line", lineID,
			"commitments", len(report.Commitments), "descendants", report.Descendants, "compliant", report.Compliant)
	}
	return report, nil
}

// heldUnfrozen sums the reserving commitments of a line that are not frozen.
func heldUnfrozen(tx *gorm.DB, lineID string) (decimal.Decimal, error) {
	var agg struct {
		Total decimal.Decimal
	}
	if err := tx.Model(&CommitmentRecord{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("parent_id = ? AND status IN ? AND frozen = ?", lineID, workflow.ReservingStatuses, false).
		Where("(forced = ? OR status = ?)", false, workflow.StatusValidated).
		Scan(&agg).Error; err != nil {
		return decimal.Zero, fmt.Errorf("aggregate unfrozen commitments: %w", err)
	}
	return agg.Total.Round(2), nil
}

func freezeIDs(tx *gorm.DB, table string, ids []string, reason string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Table(table).Where("id IN ?", ids).Updates(map[string]any{
		"frozen":        true,
		"frozen_reason": reason,
		"frozen_at":     at,
		"version":       gorm.Expr("version + 1"),
		"updated_at":    at,
	}).Error; err != nil {
		return fmt.Errorf("freeze %s: %w", table, err)
	}
	return nil
}

// freezeChildren freezes the unfrozen rows of table under parentIDs and
// returns their ids.
func freezeChildren(tx *gorm.DB, table string, parentIDs []string, reason string, at time.Time) ([]string, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	var ids []string
	if err := tx.Table(table).Where("parent_id IN ? AND frozen = ?", parentIDs, false).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list %s to freeze: %w", table, err)
	}
	return ids, freezeIDs(tx, table, ids, reason, at)
}
