package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
)

// VisaStepRecord is one role's decision on one entity at one step. Rows are
// created when a step is reached and decided at most once.
type VisaStepRecord struct {
	ID                 string     `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	EntityType         StageType  `gorm:"column:entity_type;type:varchar(40);uniqueIndex:idx_visa_entity_step,priority:1;not null" json:"entityType"`
	EntityID           string     `gorm:"column:entity_id;type:varchar(36);uniqueIndex:idx_visa_entity_step,priority:2;not null" json:"entityId"`
	StepOrder          int        `gorm:"column:step_order;uniqueIndex:idx_visa_entity_step,priority:3;not null" json:"stepOrder"`
	Role               string     `gorm:"column:role;type:varchar(40);not null" json:"role"`
	AlternativeRole    string     `gorm:"column:alternative_role;type:varchar(40)" json:"alternativeRole,omitempty"`
	Label              string     `gorm:"column:label;type:varchar(255)" json:"label,omitempty"`
	Optional           bool       `gorm:"column:optional;not null;default:false" json:"optional,omitempty"`
	Guard              GuardKind  `gorm:"column:guard;type:varchar(20)" json:"guard,omitempty"`
	Status             StepStatus `gorm:"column:status;type:varchar(20);index:idx_visa_status_due,priority:1;not null" json:"status"`
	Forced             bool       `gorm:"column:forced;not null;default:false" json:"forced,omitempty"`
	ForceJustification string     `gorm:"column:force_justification;type:text" json:"forceJustification,omitempty"`
	ActedBy            string     `gorm:"column:acted_by;type:varchar(255)" json:"actedBy,omitempty"`
	ActedAs            string     `gorm:"column:acted_as;type:varchar(40)" json:"actedAs,omitempty"`
	Comment            string     `gorm:"column:comment;type:text" json:"comment,omitempty"`
	Reason             string     `gorm:"column:reason;type:text" json:"reason,omitempty"`
	AutoRejected       bool       `gorm:"column:auto_rejected;not null;default:false" json:"autoRejected,omitempty"`
	DueAt              *time.Time `gorm:"column:due_at;index:idx_visa_status_due,priority:2" json:"dueAt,omitempty"`
	EscalatedAt        *time.Time `gorm:"column:escalated_at" json:"escalatedAt,omitempty"`
	DecidedAt          *time.Time `gorm:"column:decided_at" json:"decidedAt,omitempty"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (VisaStepRecord) TableName() string { return "visa_steps" }

// VisaStore persists visa steps. Every method runs on the handle it is
// given so that callers can keep it inside their transaction.
type VisaStore struct {
	db *gorm.DB
}

// NewVisaStore creates a new VisaStore.
func NewVisaStore(db *gorm.DB) *VisaStore {
	return &VisaStore{db: db}
}

// AutoMigrate creates or updates the visa_steps table.
func (s *VisaStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&VisaStepRecord{}); err != nil {
		return fmt.Errorf("auto-migrate visa_steps: %w", err)
	}
	return nil
}

func (s *VisaStore) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

// Open records that step has been reached and is awaiting a decision.
func (s *VisaStore) Open(tx *gorm.DB, ref Ref, step PlannedStep, forcedJustification string, now time.Time) (*VisaStepRecord, error) {
	rec := &VisaStepRecord{
		ID:                 uuid.New().String(),
		EntityType:         ref.Type,
		EntityID:           ref.ID,
		StepOrder:          step.Order,
		Role:               step.Role,
		AlternativeRole:    step.AlternativeRole,
		Label:              step.Label,
		Optional:           step.Optional,
		Guard:              step.Guard,
		Status:             StepPending,
		Forced:             forcedJustification != "",
		ForceJustification: forcedJustification,
		CreatedAt:          now,
	}
	if step.MaxDelayHours > 0 {
		due := now.Add(time.Duration(step.MaxDelayHours) * time.Hour)
		rec.DueAt = &due
	}
	if err := s.conn(tx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("open visa step %d of %s %s: %w", step.Order, ref.Type, ref.ID, err)
	}
	return rec, nil
}

// StepDecision is the content written when a pending step is decided.
type StepDecision struct {
	Status       StepStatus
	ActedBy      string
	ActedAs      string
	Comment      string
	Reason       string
	AutoRejected bool
	At           time.Time
}

// Decide closes a pending step. A step that is no longer pending cannot be
// decided again.
func (s *VisaStore) Decide(tx *gorm.DB, ref Ref, order int, d StepDecision) error {
	at := d.At
	res := s.conn(tx).Model(&VisaStepRecord{}).
		Where("entity_type = ? AND entity_id = ? AND step_order = ? AND status = ?", ref.Type, ref.ID, order, StepPending).
		Updates(map[string]any{
			"status":        d.Status,
			"acted_by":      d.ActedBy,
			"acted_as":      d.ActedAs,
			"comment":       d.Comment,
			"reason":        d.Reason,
			"auto_rejected": d.AutoRejected,
			"decided_at":    &at,
		})
	if res.Error != nil {
		return fmt.Errorf("decide visa step %d of %s %s: %w", order, ref.Type, ref.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.Illegal(string(StepPending), string(d.Status), order, "visa step %d of %s %s is not pending", order, ref.Type, ref.ID)
	}
	return nil
}

// Suspend parks the pending step of a deferred entity.
func (s *VisaStore) Suspend(tx *gorm.DB, ref Ref, order int) error {
	res := s.conn(tx).Model(&VisaStepRecord{}).
		Where("entity_type = ? AND entity_id = ? AND step_order = ? AND status = ?", ref.Type, ref.ID, order, StepPending).
		Update("status", StepSuspended)
	if res.Error != nil {
		return fmt.Errorf("suspend visa step %d of %s %s: %w", order, ref.Type, ref.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.Illegal(string(StepPending), string(StepSuspended), order, "visa step %d of %s %s is not pending", order, ref.Type, ref.ID)
	}
	return nil
}

// Reopen puts a suspended step back to pending. Its deadline restarts at
// now and any earlier escalation is cleared.
func (s *VisaStore) Reopen(tx *gorm.DB, ref Ref, step PlannedStep, now time.Time) error {
	var due *time.Time
	if step.MaxDelayHours > 0 {
		d := now.Add(time.Duration(step.MaxDelayHours) * time.Hour)
		due = &d
	}
	res := s.conn(tx).Model(&VisaStepRecord{}).
		Where("entity_type = ? AND entity_id = ? AND step_order = ? AND status = ?", ref.Type, ref.ID, step.Order, StepSuspended).
		Updates(map[string]any{
			"status":       StepPending,
			"due_at":       due,
			"escalated_at": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("reopen visa step %d of %s %s: %w", step.Order, ref.Type, ref.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.Illegal(string(StepSuspended), string(StepPending), step.Order, "visa step %d of %s %s is not suspended", step.Order, ref.Type, ref.ID)
	}
	return nil
}

// SuspendEntities parks the pending steps of the given entities under any
// of types. Frozen entities never resume, so nothing reopens these.
func (s *VisaStore) SuspendEntities(tx *gorm.DB, types []StageType, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.conn(tx).Model(&VisaStepRecord{}).
		Where("entity_type IN ? AND entity_id IN ? AND status = ?", types, ids, StepPending).
		Update("status", StepSuspended).Error; err != nil {
		return fmt.Errorf("suspend visa steps: %w", err)
	}
	return nil
}

// List returns the steps reached by an entity in step order.
func (s *VisaStore) List(tx *gorm.DB, ref Ref) ([]VisaStepRecord, error) {
	var records []VisaStepRecord
	if err := s.conn(tx).Where("entity_type = ? AND entity_id = ?", ref.Type, ref.ID).
		Order("step_order ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list visa steps: %w", err)
	}
	return records, nil
}

// Get returns one step, or nil if it was never reached.
func (s *VisaStore) Get(tx *gorm.DB, ref Ref, order int) (*VisaStepRecord, error) {
	var rec VisaStepRecord
	err := s.conn(tx).Where("entity_type = ? AND entity_id = ? AND step_order = ?", ref.Type, ref.ID, order).First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get visa step: %w", err)
	}
	return &rec, nil
}

// ListPendingByRole returns the pending steps awaiting a decision from any
// of roles, oldest first.
func (s *VisaStore) ListPendingByRole(tx *gorm.DB, roles []string, limit int) ([]VisaStepRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []VisaStepRecord
	err := s.conn(tx).Where("status = ? AND (role IN ? OR alternative_role IN ?)", StepPending, roles, roles).
		Order("created_at ASC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list pending visa steps: %w", err)
	}
	return records, nil
}

// MarkEscalated stamps an overdue step as escalated.
func (s *VisaStore) MarkEscalated(tx *gorm.DB, id string, at time.Time) error {
	res := s.conn(tx).Model(&VisaStepRecord{}).
		Where("id = ? AND status = ? AND escalated_at IS NULL", id, StepPending).
		Update("escalated_at", &at)
	if res.Error != nil {
		return fmt.Errorf("mark visa step escalated: %w", res.Error)
	}
	return nil
}
