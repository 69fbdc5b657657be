package escalation

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

// overdue selects pending steps past their deadline that were never
// escalated, oldest deadline first. On postgres the rows are locked with
// SKIP LOCKED so that several server replicas split the batch instead of
// escalating the same step twice.
func overdue(tx *gorm.DB, now time.Time, limit int) ([]workflow.VisaStepRecord, error) {
	q := tx.Model(&workflow.VisaStepRecord{}).
		Where("status = ? AND escalated_at IS NULL AND due_at IS NOT NULL AND due_at < ?", workflow.StepPending, now).
		Order("due_at ASC").
		Limit(limit)
	switch tx.Dialector.Name() {
	case "postgres":
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	case "mysql":
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var steps []workflow.VisaStepRecord
	if err := q.Find(&steps).Error; err != nil {
		return nil, fmt.Errorf("select overdue visa steps: %w", err)
	}
	return steps, nil
}
