package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store provides append-only operations for audit event records.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// AutoMigrate creates the audit_events table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&EventRecord{})
}

func (s *Store) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}

// Record appends a domain event. When tx is non-nil the event is written in
// that transaction, so it commits or rolls back together with the change it
// describes.
func (s *Store) Record(ctx context.Context, tx *gorm.DB, e Event) error {
	before, err := snapshot(e.Before)
	if err != nil {
		return err
	}
	after, err := snapshot(e.After)
	if err != nil {
		return err
	}
	reqID := middleware.GetReqID(ctx)
	rec := &EventRecord{
		ID:            uuid.New().String(),
		Exercice:      e.Exercice,
		CorrelationID: reqID,
		EventType:     EventTypeDomain,
		Actor:         e.Actor,
		ActedAs:       e.ActedAs,
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		Action:        e.Action,
		Outcome:       OutcomeSuccess,
		Reason:        e.Reason,
		Forced:        e.Forced,
		OldValue:      before,
		NewValue:      after,
		EventMetadata: JSONAny(e.Metadata),
		RequestID:     reqID,
		CreatedAt:     s.now(),
	}
	if rec.Actor == "" {
		rec.Actor = "system"
	}
	if err := s.conn(ctx, tx).Create(rec).Error; err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Append creates a new immutable audit event record.
func (s *Store) Append(ctx context.Context, event *EventRecord) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// GetByID returns one event, or nil if it does not exist.
func (s *Store) GetByID(ctx context.Context, id string) (*EventRecord, error) {
	var rec EventRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get audit event: %w", err)
	}
	return &rec, nil
}

// ListFilter narrows List. Zero fields are ignored.
type ListFilter struct {
	Exercice   int
	EventType  string
	Actor      string
	EntityType string
	EntityID   string
	Action     string
	Forced     *bool
}

func (f ListFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Exercice != 0 {
		q = q.Where("exercice = ?", f.Exercice)
	}
	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	if f.Actor != "" {
		q = q.Where("actor = ?", f.Actor)
	}
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.Forced != nil {
		q = q.Where("forced = ?", *f.Forced)
	}
	return q
}

// List returns paginated audit events ordered by created_at DESC (newest
// first). pageToken is an RFC3339 timestamp; events with created_at <
// pageToken are returned.
func (s *Store) List(ctx context.Context, filter ListFilter, pageSize int, pageToken string) ([]EventRecord, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	var totalSize int64
	if err := filter.apply(s.db.WithContext(ctx).Model(&EventRecord{})).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count audit events: %w", err)
	}

	query := filter.apply(s.db.WithContext(ctx)).Order("created_at DESC").Order("id DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("created_at < ?", t)
	}

	var records []EventRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list audit events: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}
