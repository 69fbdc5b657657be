package audit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Event types.
const (
	// EventTypeDomain is a ledger state change.
	EventTypeDomain = "domain"
	// EventTypeHTTP is a mutating API request.
	EventTypeHTTP = "http"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// JSONAny is a custom GORM type for map[string]any stored as JSON.
type JSONAny map[string]any

// Scan implements the sql.Scanner interface for JSONAny.
func (m *JSONAny) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONAny: %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// Value implements the driver.Valuer interface for JSONAny.
func (m JSONAny) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// EventRecord is an immutable audit log entry.
type EventRecord struct {
	ID            string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Exercice      int       `gorm:"column:exercice;index:idx_audit_exercice_time,priority:1" json:"exercice,omitempty"`
	CorrelationID string    `gorm:"column:correlation_id;index" json:"correlationId,omitempty"`
	EventType     string    `gorm:"column:event_type;index:idx_audit_type_time,priority:1;not null" json:"eventType"`
	Actor         string    `gorm:"column:actor;index:idx_audit_actor_time,priority:1;not null" json:"actor"`
	ActedAs       string    `gorm:"column:acted_as" json:"actedAs,omitempty"`
	EntityType    string    `gorm:"column:entity_type;index:idx_audit_entity,priority:1" json:"entityType,omitempty"`
	EntityID      string    `gorm:"column:entity_id;index:idx_audit_entity,priority:2" json:"entityId,omitempty"`
	Action        string    `gorm:"column:action;not null" json:"action"`
	Outcome       string    `gorm:"column:outcome;not null" json:"outcome"` // success, failure, denied
	Reason        string    `gorm:"column:reason;type:text" json:"reason,omitempty"`
	Forced        bool      `gorm:"column:forced;not null;default:false" json:"forced,omitempty"`
	OldValue      JSONAny   `gorm:"column:old_value;type:text" json:"oldValue,omitempty"`
	NewValue      JSONAny   `gorm:"column:new_value;type:text" json:"newValue,omitempty"`
	EventMetadata JSONAny   `gorm:"column:metadata;type:text" json:"metadata,omitempty"`
	RequestID     string    `gorm:"column:request_id;index" json:"requestId,omitempty"`
	StatusCode    int       `gorm:"column:status_code" json:"statusCode,omitempty"`
	CreatedAt     time.Time `gorm:"column:created_at;index:idx_audit_type_time,priority:2;index:idx_audit_actor_time,priority:2;index:idx_audit_exercice_time,priority:2;autoCreateTime" json:"createdAt"`
}

// TableName returns the GORM table name.
func (EventRecord) TableName() string { return "audit_events" }

// Event is a ledger state change handed to the audit sink.
type Event struct {
	Action     string
	EntityType string
	EntityID   string
	Exercice   int
	Actor      string
	ActedAs    string
	Reason     string
	Forced     bool
	// Before and After are snapshots of the entity. Any JSON-marshalable
	// value is accepted.
	Before   any
	After    any
	Metadata map[string]any
}

// snapshot converts v into a JSONAny through its JSON encoding.
func snapshot(v any) (JSONAny, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok {
		return JSONAny(m), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal audit snapshot: %w", err)
	}
	if string(b) == "null" {
		return nil, nil
	}
	var m JSONAny
	if err := json.Unmarshal(b, &m); err != nil {
		return JSONAny{"value": json.RawMessage(b)}, nil
	}
	return m, nil
}
