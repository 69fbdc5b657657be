package workflow

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// PlannedStep is one step of a materialized plan.
type PlannedStep struct {
	Order           int       `json:"order"`
	Role            string    `json:"role"`
	Label           string    `json:"label,omitempty"`
	Optional        bool      `json:"optional,omitempty"`
	AlternativeRole string    `json:"alternativeRole,omitempty"`
	MaxDelayHours   int       `json:"maxDelayHours,omitempty"`
	Guard           GuardKind `json:"guard,omitempty"`
}

// Plan is the ordered step list frozen on an entity at submission. It is
// stored as JSON so later configuration changes never alter an entity
// already in validation.
type Plan []PlannedStep

// Step returns the 1-indexed step, or false if order is out of range.
func (p Plan) Step(order int) (PlannedStep, bool) {
	if order < 1 || order > len(p) {
		return PlannedStep{}, false
	}
	return p[order-1], true
}

// Scan implements the sql.Scanner interface for Plan.
func (p *Plan) Scan(value any) error {
	if value == nil {
		*p = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for Plan: %T", value)
	}
	return json.Unmarshal(bytes, p)
}

// Value implements the driver.Valuer interface for Plan.
func (p Plan) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
