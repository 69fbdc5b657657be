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

// UrgentStats summarizes the urgent verifications of a fiscal year.
type UrgentStats struct {
	Total int `json:"total"`
	// Awaiting counts the urgent verifications submitted or validated but
	// not rejected, i.e. still heading to settlement.
	Awaiting  int             `json:"awaiting"`
	Validated int             `json:"validated"`
	NetAmount decimal.Decimal `json:"netAmount"`
}

// MarkUrgent flags a verification for urgent settlement. Marking an urgent
// verification again replaces its reason.
func (s *Service) MarkUrgent(ctx context.Context, id, reason string, actor workflow.Actor) (*VerificationRecord, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) < workflow.MinReasonLength {
		return nil, apperrors.Missing("reason")
	}
	return s.setUrgency(ctx, "mark_urgent", id, actor, func(v *VerificationRecord, now time.Time) error {
		switch v.Status {
		case workflow.StatusRejected, workflow.StatusCancelled:
			return apperrors.Illegal(string(v.Status), "mark_urgent", 0, "%s %s is %s", kindVerification, v.Numero, v.Status)
		}
		if v.Frozen {
			return frozenError(kindVerification, &v.StageFields, "mark_urgent")
		}
		v.Urgency = Urgency{Urgent: true, UrgentReason: reason, UrgentAt: &now, UrgentBy: actor.ID}
		return nil
	})
}

// ClearUrgent removes the urgent flag of a verification.
func (s *Service) ClearUrgent(ctx context.Context, id string, actor workflow.Actor) (*VerificationRecord, error) {
	return s.setUrgency(ctx, "clear_urgent", id, actor, func(v *VerificationRecord, _ time.Time) error {
		if !v.Urgent {
			return apperrors.Illegal(string(v.Status), "clear_urgent", 0, "%s %s is not flagged urgent", kindVerification, v.Numero)
		}
		v.Urgency = Urgency{}
		return nil
	})
}

func (s *Service) setUrgency(ctx context.Context, action, id string, actor workflow.Actor, apply func(*VerificationRecord, time.Time) error) (*VerificationRecord, error) {
	c := s.Verifications
	var out *VerificationRecord
	err := c.runner.Run(ctx, c.op(action), func(tx *gorm.DB) error {
		v, err := c.load(tx, id, true)
		if err != nil {
			return err
		}
		before := v.Urgency
		if err := apply(v, time.Now().UTC()); err != nil {
			return err
		}
		if err := c.save(tx, v); err != nil {
			return err
		}
		out = v
		return c.audit.Record(ctx, tx, audit.Event{
			Action: action, EntityType: string(workflow.StageVerification), EntityID: v.ID, Exercice: v.Exercice,
			Actor: actor.ID, Reason: v.UrgentReason, Before: before, After: v.Urgency,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("verification urgency changed", "action", action, "id", id, "actor", actor.ID)
	return out, nil
}

// ListUrgent returns the urgent verifications, most recently flagged first.
func (s *Service) ListUrgent(ctx context.Context, opts ListOptions) ([]VerificationRecord, string, int, error) {
	q := s.urgentQuery(ctx, opts.Exercice)
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count urgent verifications: %w", err)
	}
	pq, offset, size, err := page(q.Order("urgent_at DESC").Order("id DESC"), opts.PageSize, opts.PageToken)
	if err != nil {
		return nil, "", 0, err
	}
	var items []VerificationRecord
	if err := pq.Find(&items).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list urgent verifications: %w", err)
	}
	next := nextToken(offset, size, len(items))
	if len(items) > size {
		items = items[:size]
	}
	return items, next, int(total), nil
}

// UrgentStats counts the urgent verifications of exercice, or of every year
// when exercice is 0.
func (s *Service) UrgentStats(ctx context.Context, exercice int) (*UrgentStats, error) {
	var rows []struct {
		Status workflow.Status
		N      int
		Net    decimal.Decimal
	}
	if err := s.urgentQuery(ctx, exercice).
		Select("status, COUNT(*) AS n, COALESCE(SUM(net_amount), 0) AS net").
		Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("aggregate urgent verifications: %w", err)
	}
	stats := &UrgentStats{NetAmount: decimal.Zero}
	for _, r := range rows {
		stats.Total += r.N
		stats.NetAmount = stats.NetAmount.Add(r.Net)
		if r.Status.Reserving() {
			stats.Awaiting += r.N
		}
		if r.Status == workflow.StatusValidated {
			stats.Validated += r.N
		}
	}
	stats.NetAmount = stats.NetAmount.Round(2)
	return stats, nil
}

func (s *Service) urgentQuery(ctx context.Context, exercice int) *gorm.DB {
	q := s.Verifications.runner.DB().WithContext(ctx).Model(&VerificationRecord{}).Where("urgent = ?", true)
	if exercice != 0 {
		q = q.Where("exercice = ?", exercice)
	}
	return q
}
