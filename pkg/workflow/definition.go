package workflow

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefinitionFile is the top-level structure of the workflows YAML file.
type DefinitionFile struct {
	Workflows   []Definition        `yaml:"workflows" json:"workflows"`
	Delegations map[string][]string `yaml:"delegations,omitempty" json:"delegations,omitempty"`
}

// Definition is the ordered list of visa steps for one stage type.
type Definition struct {
	Stage       StageType    `yaml:"stage" json:"stage"`
	DisplayName string       `yaml:"displayName" json:"displayName"`
	Steps       []StepConfig `yaml:"steps" json:"steps"`
}

// StepConfig configures one step of a Definition.
type StepConfig struct {
	Role            string    `yaml:"role" json:"role"`
	Label           string    `yaml:"label,omitempty" json:"label,omitempty"`
	Optional        bool      `yaml:"optional,omitempty" json:"optional,omitempty"`
	AlternativeRole string    `yaml:"alternativeRole,omitempty" json:"alternativeRole,omitempty"`
	MaxDelayHours   int       `yaml:"maxDelayHours,omitempty" json:"maxDelayHours,omitempty"`
	Guard           GuardKind `yaml:"guard,omitempty" json:"guard,omitempty"`
	// MinAmount makes the step conditional: it is planned only for entities
	// whose amount is at least this value.
	MinAmount *decimal.Decimal `yaml:"minAmount,omitempty" json:"minAmount,omitempty"`
}

// DefaultDGThreshold is the verification amount from which the DG visa applies.
var DefaultDGThreshold = decimal.NewFromInt(50_000_000)

// DefaultDefinitions returns the built-in workflow of every stage type.
func DefaultDefinitions() []Definition {
	threshold := DefaultDGThreshold
	return []Definition{
		{
			Stage:       StageCommitment,
			DisplayName: "Engagement",
			Steps: []StepConfig{
				{Role: "SAF", Label: "Contrôle des pièces", Guard: GuardDocuments, MaxDelayHours: 48},
				{Role: "CB", Label: "Contrôle budgétaire", Guard: GuardCapacity, MaxDelayHours: 48},
				{Role: "DAF", Label: "Visa DAF", MaxDelayHours: 72},
				{Role: "DG", Label: "Visa DG", AlternativeRole: "DGA", MaxDelayHours: 72},
			},
		},
		{
			Stage:       StageVerification,
			DisplayName: "Liquidation",
			Steps: []StepConfig{
				{Role: "SAF", Label: "Certification du service fait", Guard: GuardDocuments, MaxDelayHours: 48},
				{Role: "DAAF", Label: "Visa DAAF", Guard: GuardCapacity, MaxDelayHours: 72},
				{Role: "DG", Label: "Visa DG", AlternativeRole: "DGA", MaxDelayHours: 72, MinAmount: &threshold},
			},
		},
		{
			Stage:       StagePaymentOrder,
			DisplayName: "Ordonnancement",
			Steps: []StepConfig{
				{Role: "SAF", Label: "Préparation", MaxDelayHours: 48},
				{Role: "CB", Label: "Contrôle budgétaire", Guard: GuardCapacity, MaxDelayHours: 48},
				{Role: "DAF", Label: "Visa DAF", MaxDelayHours: 72},
				{Role: "DG", Label: "Visa ordonnateur", AlternativeRole: "DGA", MaxDelayHours: 72},
			},
		},
		{
			Stage:       StageCountersignature,
			DisplayName: "Signatures de l'ordre de paiement",
			Steps: []StepConfig{
				{Role: "CB", Label: "Signature CB", MaxDelayHours: 24},
				{Role: "DAF", Label: "Signature DAF", MaxDelayHours: 24},
				{Role: "DG", Label: "Signature ordonnateur", AlternativeRole: "DGA", MaxDelayHours: 24},
				{Role: "AC", Label: "Signature agent comptable", MaxDelayHours: 24},
			},
		},
		{
			Stage:       StageSettlement,
			DisplayName: "Règlement",
			Steps: []StepConfig{
				{Role: "AC", Label: "Paiement", Guard: GuardCapacity, MaxDelayHours: 72},
			},
		},
		{
			Stage:       StageTransfer,
			DisplayName: "Réaménagement",
			Steps: []StepConfig{
				{Role: "CB", Label: "Contrôle budgétaire", Guard: GuardCapacity, MaxDelayHours: 72},
			},
		},
	}
}

// Registry holds one Definition per stage type.
type Registry struct {
	defs        map[StageType]Definition
	delegations map[string][]string
}

// NewRegistry validates defs and indexes them by stage type.
func NewRegistry(defs []Definition, delegations map[string][]string) (*Registry, error) {
	r := &Registry{defs: make(map[StageType]Definition, len(defs)), delegations: delegations}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.defs[d.Stage]; dup {
			return nil, fmt.Errorf("duplicate workflow for stage %q", d.Stage)
		}
		r.defs[d.Stage] = d
	}
	return r, nil
}

// DefaultRegistry returns a registry of DefaultDefinitions.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultDefinitions(), nil)
	if err != nil {
		panic(err)
	}
	return r
}

// LoadDefinitions loads workflow definitions from a YAML file. Stage types
// absent from the file keep their default definition. Returns the default
// registry if the file does not exist.
func LoadDefinitions(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultRegistry(), nil
		}
		return nil, fmt.Errorf("read workflow definitions: %w", err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions parses a workflows YAML document.
func ParseDefinitions(data []byte) (*Registry, error) {
	var f DefinitionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse workflow definitions: %w", err)
	}

	merged := make(map[StageType]Definition)
	order := make([]StageType, 0)
	for _, d := range DefaultDefinitions() {
		merged[d.Stage] = d
		order = append(order, d.Stage)
	}
	seen := make(map[StageType]bool)
	for _, d := range f.Workflows {
		if seen[d.Stage] {
			return nil, fmt.Errorf("duplicate workflow for stage %q", d.Stage)
		}
		seen[d.Stage] = true
		if _, ok := merged[d.Stage]; !ok {
			order = append(order, d.Stage)
		}
		merged[d.Stage] = d
	}

	defs := make([]Definition, 0, len(order))
	for _, s := range order {
		defs = append(defs, merged[s])
	}
	return NewRegistry(defs, f.Delegations)
}

// Validate checks that a definition is usable.
func (d Definition) Validate() error {
	if d.Stage == "" {
		return fmt.Errorf("workflow definition without stage")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %q has no steps", d.Stage)
	}
	for i, s := range d.Steps {
		if s.Role == "" {
			return fmt.Errorf("workflow %q step %d has no role", d.Stage, i+1)
		}
		switch s.Guard {
		case GuardNone, GuardCapacity, GuardDocuments:
		default:
			return fmt.Errorf("workflow %q step %d has unknown guard %q", d.Stage, i+1, s.Guard)
		}
		if s.MaxDelayHours < 0 {
			return fmt.Errorf("workflow %q step %d has a negative delay", d.Stage, i+1)
		}
	}
	return nil
}

// Get returns the definition of a stage type.
func (r *Registry) Get(stage StageType) (Definition, bool) {
	d, ok := r.defs[stage]
	return d, ok
}

// List returns every definition.
func (r *Registry) List() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

// Delegations returns the configured role delegations: role -> roles that
// may act in its place.
func (r *Registry) Delegations() map[string][]string {
	return r.delegations
}

// WithMinAmount returns a copy of r where the conditional steps of stage
// held by role use amount as their threshold.
func (r *Registry) WithMinAmount(stage StageType, role string, amount decimal.Decimal) *Registry {
	out := &Registry{defs: make(map[StageType]Definition, len(r.defs)), delegations: r.delegations}
	for k, d := range r.defs {
		if k == stage {
			steps := make([]StepConfig, len(d.Steps))
			copy(steps, d.Steps)
			for i := range steps {
				if steps[i].Role == role && steps[i].MinAmount != nil {
					a := amount
					steps[i].MinAmount = &a
				}
			}
			d.Steps = steps
		}
		out.defs[k] = d
	}
	return out
}

// Plan materializes the ordered steps that apply to an entity of the given
// amount. Conditional steps whose MinAmount exceeds amount are left out and
// the remaining steps are renumbered from 1.
func (r *Registry) Plan(stage StageType, amount decimal.Decimal) (Plan, error) {
	d, ok := r.defs[stage]
	if !ok {
		return nil, fmt.Errorf("no workflow defined for stage %q", stage)
	}
	plan := make(Plan, 0, len(d.Steps))
	for _, s := range d.Steps {
		if s.MinAmount != nil && amount.LessThan(*s.MinAmount) {
			continue
		}
		plan = append(plan, PlannedStep{
			Order:           len(plan) + 1,
			Role:            s.Role,
			Label:           s.Label,
			Optional:        s.Optional,
			AlternativeRole: s.AlternativeRole,
			MaxDelayHours:   s.MaxDelayHours,
			Guard:           s.Guard,
		})
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("workflow %q yields no step for amount %s", stage, amount.String())
	}
	return plan, nil
}
