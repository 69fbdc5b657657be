package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
)

// Subject is an entity driven through a workflow.
type Subject interface {
	WorkflowRef() Ref
	WorkflowState() *State
	// ForcedJustification is non-empty for entities created over cap.
	ForcedJustification() string
}

// Authorizer resolves whether an actor may decide a step. It returns the
// role the actor acts as.
type Authorizer interface {
	Authorize(ctx context.Context, actor Actor, step PlannedStep) (string, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, actor Actor, step PlannedStep) (string, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, actor Actor, step PlannedStep) (string, error) {
	return f(ctx, actor, step)
}

// Checks evaluates entity-specific preconditions inside the caller's
// transaction. Business errors (see apperrors.IsBusiness) mean "blocked";
// any other error aborts the command.
type Checks interface {
	// Guard evaluates the precondition of a guarded step.
	Guard(ctx context.Context, tx *gorm.DB, kind GuardKind) error
	// Final is evaluated before the last step turns the entity valide. A
	// business error rejects the entity automatically instead.
	Final(ctx context.Context, tx *gorm.DB) error
}

// Decision is a visa command on the current step.
type Decision struct {
	Kind       EventKind  `json:"decision"`
	Step       int        `json:"step"`
	Comment    string     `json:"comment,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	ResumeDate *time.Time `json:"resumeDate,omitempty"`
}

// Outcome describes what a command did.
type Outcome struct {
	Ref          Ref       `json:"ref"`
	Event        EventKind `json:"event"`
	Step         int       `json:"step"`
	From         Position  `json:"from"`
	To           Position  `json:"to"`
	ActedAs      string    `json:"actedAs,omitempty"`
	AutoRejected bool      `json:"autoRejected,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// Validated reports whether the command made the entity valide.
func (o Outcome) Validated() bool { return o.To.Status == StatusValidated }

// StepView tells a caller what an actor can do on an entity right now.
type StepView struct {
	Ref             Ref        `json:"ref"`
	Status          Status     `json:"status"`
	Step            int        `json:"step"`
	TotalSteps      int        `json:"totalSteps"`
	Role            string     `json:"role,omitempty"`
	AlternativeRole string     `json:"alternativeRole,omitempty"`
	Label           string     `json:"label,omitempty"`
	Optional        bool       `json:"optional,omitempty"`
	Authorized      bool       `json:"authorized"`
	CanVisa         bool       `json:"canVisa"`
	BlockReason     string     `json:"blockReason,omitempty"`
	CanAutoReject   bool       `json:"canAutoReject"`
	DueAt           *time.Time `json:"dueAt,omitempty"`
}

// Engine drives Subjects through their workflow.
type Engine struct {
	registry atomic.Pointer[Registry]
	authz    Authorizer
	steps    *VisaStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an Engine. A nil logger uses slog.Default.
func NewEngine(reg *Registry, authz Authorizer, steps *VisaStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{authz: authz, steps: steps, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	e.registry.Store(reg)
	return e
}

// Registry returns the definitions currently in use.
func (e *Engine) Registry() *Registry {
	return e.registry.Load()
}

// SetRegistry swaps the definitions. Entities already submitted keep the
// plan frozen on them.
func (e *Engine) SetRegistry(r *Registry) {
	e.registry.Store(r)
}

// Steps returns the visa step store.
func (e *Engine) Steps() *VisaStore {
	return e.steps
}

// Start submits a draft: it freezes the plan applicable to amount on the
// subject and opens its first step. The caller persists the subject.
func (e *Engine) Start(ctx context.Context, tx *gorm.DB, subj Subject, amount decimal.Decimal, actor Actor) (Outcome, error) {
	ref := subj.WorkflowRef()
	st := subj.WorkflowState()

	plan, err := e.Registry().Plan(ref.Type, amount)
	if err != nil {
		return Outcome{}, err
	}
	from := st.Position()
	to, err := Transition(from, Event{Kind: EventSubmit, Steps: len(plan)})
	if err != nil {
		return Outcome{}, err
	}

	now := e.now()
	if _, err := e.steps.Open(tx, ref, plan[0], subj.ForcedJustification(), now); err != nil {
		return Outcome{}, err
	}

	st.Status = to.Status
	st.CurrentStep = to.CurrentStep
	st.TotalSteps = to.TotalSteps
	st.Plan = plan
	st.SubmittedAt = &now
	st.SubmittedBy = actor.ID

	e.logger.Debug("workflow started", "stage", ref.Type, "id", ref.ID, "steps", len(plan))
	return Outcome{Ref: ref, Event: EventSubmit, From: from, To: to}, nil
}

// Decide applies a visa decision to the current step of subj. It enforces
// step order, terminality, role authorization, reason rules and step
// guards, then records the step decision and mutates the subject state.
// The caller persists the subject.
func (e *Engine) Decide(ctx context.Context, tx *gorm.DB, subj Subject, actor Actor, d Decision, checks Checks) (Outcome, error) {
	ref := subj.WorkflowRef()
	st := subj.WorkflowState()
	from := st.Position()

	switch d.Kind {
	case EventValidate, EventSkip, EventReject, EventAutoReject, EventDefer:
	default:
		return Outcome{}, apperrors.Illegal(string(from.Status), string(d.Kind), d.Step, "%q is not a visa decision", d.Kind)
	}

	to, err := Transition(from, Event{Kind: d.Kind, Step: d.Step})
	if err != nil {
		return Outcome{}, err
	}
	step, ok := st.Plan.Step(d.Step)
	if !ok {
		return Outcome{}, apperrors.Illegal(string(from.Status), string(d.Kind), d.Step, "step %d is not part of the plan", d.Step)
	}

	actedAs, err := e.authz.Authorize(ctx, actor, step)
	if err != nil {
		return Outcome{}, err
	}

	now := e.now()
	out := Outcome{Ref: ref, Event: d.Kind, Step: d.Step, From: from, To: to, ActedAs: actedAs}

	switch d.Kind {
	case EventReject, EventDefer:
		if len(strings.TrimSpace(d.Reason)) < MinReasonLength {
			return Outcome{}, apperrors.Missing("reason")
		}
		if d.Kind == EventDefer && d.ResumeDate != nil && !d.ResumeDate.After(now) {
			return Outcome{}, &apperrors.ValidationError{Fields: map[string]string{"resumeDate": "must be in the future"}}
		}
		out.Reason = strings.TrimSpace(d.Reason)

	case EventAutoReject:
		blocked, err := e.guard(ctx, tx, step, checks)
		if err != nil {
			return Outcome{}, err
		}
		if blocked == nil {
			return Outcome{}, apperrors.Illegal(string(from.Status), string(d.Kind), d.Step, "step %d is not blocked, automatic rejection is unavailable", d.Step)
		}
		out.AutoRejected = true
		out.Reason = "rejet automatique: " + blocked.Error()

	case EventValidate, EventSkip:
		if d.Kind == EventSkip && !step.Optional {
			return Outcome{}, apperrors.Illegal(string(from.Status), string(d.Kind), d.Step, "step %d (%s) is not optional", d.Step, step.Role)
		}
		// A skipped step passes its guard like a validated one, and skipping
		// the last step goes through the final check too.
		blocked, err := e.guard(ctx, tx, step, checks)
		if err != nil {
			return Outcome{}, err
		}
		// On the last step a failed capacity guard is the final check
		// failing: it rejects instead of blocking.
		if blocked != nil && !(to.Status == StatusValidated && step.Guard == GuardCapacity) {
			return Outcome{}, blocked
		}
		if to.Status == StatusValidated && checks != nil {
			ferr := blocked
			if ferr == nil {
				ferr = checks.Final(ctx, tx)
			}
			if ferr != nil {
				if !apperrors.IsBusiness(ferr) {
					return Outcome{}, ferr
				}
				to = Position{Status: StatusRejected, CurrentStep: from.CurrentStep, TotalSteps: from.TotalSteps}
				out.To = to
				out.Event = EventAutoReject
				out.AutoRejected = true
				out.Reason = "rejet automatique au contrôle final: " + ferr.Error()
			}
		}
	}

	if out.Event == EventDefer {
		if err := e.steps.Suspend(tx, ref, d.Step); err != nil {
			return Outcome{}, err
		}
	} else {
		if err := e.steps.Decide(tx, ref, d.Step, StepDecision{
			Status:       stepStatusFor(out.Event),
			ActedBy:      actor.ID,
			ActedAs:      actedAs,
			Comment:      d.Comment,
			Reason:       out.Reason,
			AutoRejected: out.AutoRejected,
			At:           now,
		}); err != nil {
			return Outcome{}, err
		}
	}

	if to.Status == StatusInProgress && to.CurrentStep > from.CurrentStep {
		next, _ := st.Plan.Step(to.CurrentStep)
		if _, err := e.steps.Open(tx, ref, next, subj.ForcedJustification(), now); err != nil {
			return Outcome{}, err
		}
	}

	st.Status = to.Status
	st.CurrentStep = to.CurrentStep
	switch to.Status {
	case StatusValidated:
		st.ValidatedAt = &now
	case StatusRejected:
		st.RejectedAt = &now
		st.RejectedBy = actor.ID
		st.RejectReason = out.Reason
		st.AutoRejected = out.AutoRejected
	case StatusDeferred:
		st.DeferredAt = &now
		st.DeferredBy = actor.ID
		st.DeferReason = out.Reason
		st.ResumeDate = d.ResumeDate
	}

	e.logger.Info("visa decision",
		"stage", ref.Type, "id", ref.ID, "step", d.Step, "event", out.Event,
		"actor", actor.ID, "as", actedAs, "status", to.Status)
	return out, nil
}

// Resume re-enters validation at the step where the subject was deferred.
// The actor must be allowed to decide that step, or be the one who deferred.
// The step gets a fresh deadline.
func (e *Engine) Resume(ctx context.Context, tx *gorm.DB, subj Subject, actor Actor) (Outcome, error) {
	ref := subj.WorkflowRef()
	st := subj.WorkflowState()
	from := st.Position()

	to, err := Transition(from, Event{Kind: EventResume})
	if err != nil {
		return Outcome{}, err
	}

	step, ok := st.Plan.Step(from.CurrentStep)
	if !ok {
		return Outcome{}, apperrors.Illegal(string(from.Status), string(EventResume), from.CurrentStep, "step %d is not part of the plan", from.CurrentStep)
	}
	actedAs := ""
	if actor.ID == "" || actor.ID != st.DeferredBy {
		if actedAs, err = e.authz.Authorize(ctx, actor, step); err != nil {
			return Outcome{}, err
		}
	}
	if err := e.steps.Reopen(tx, ref, step, e.now()); err != nil {
		return Outcome{}, err
	}

	reason := st.DeferReason
	st.Status = to.Status
	st.DeferredAt = nil
	st.DeferredBy = ""
	st.DeferReason = ""
	st.ResumeDate = nil

	e.logger.Info("workflow resumed", "stage", ref.Type, "id", ref.ID, "step", to.CurrentStep, "actor", actor.ID)
	return Outcome{Ref: ref, Event: EventResume, Step: to.CurrentStep, From: from, To: to, ActedAs: actedAs, Reason: reason}, nil
}

// Inspect reports whether actor can decide the current step of subj and,
// when the step guard is blocked, why.
func (e *Engine) Inspect(ctx context.Context, tx *gorm.DB, subj Subject, actor Actor, checks Checks) (StepView, error) {
	ref := subj.WorkflowRef()
	st := subj.WorkflowState()
	pos := st.Position()

	view := StepView{Ref: ref, Status: pos.Status, Step: pos.CurrentStep, TotalSteps: pos.TotalSteps}
	step, ok := st.Plan.Step(pos.CurrentStep)
	if !ok {
		view.BlockReason = fmt.Sprintf("entity is %s", pos.Status)
		return view, nil
	}
	view.Role = step.Role
	view.AlternativeRole = step.AlternativeRole
	view.Label = step.Label
	view.Optional = step.Optional

	if rec, err := e.steps.Get(tx, ref, pos.CurrentStep); err != nil {
		return view, err
	} else if rec != nil {
		view.DueAt = rec.DueAt
	}

	_, authErr := e.authz.Authorize(ctx, actor, step)
	view.Authorized = authErr == nil

	if pos.Status != StatusSubmitted && pos.Status != StatusInProgress {
		view.BlockReason = fmt.Sprintf("entity is %s", pos.Status)
		return view, nil
	}

	blocked, err := e.guard(ctx, tx, step, checks)
	if err != nil {
		return view, err
	}
	if blocked != nil {
		view.BlockReason = blocked.Error()
		view.CanAutoReject = view.Authorized
		return view, nil
	}
	view.CanVisa = view.Authorized
	return view, nil
}

// guard evaluates the step precondition. It returns the business error that
// blocks the step, or a non-nil err when evaluation itself failed.
func (e *Engine) guard(ctx context.Context, tx *gorm.DB, step PlannedStep, checks Checks) (blocked error, err error) {
	if step.Guard == GuardNone || checks == nil {
		return nil, nil
	}
	gerr := checks.Guard(ctx, tx, step.Guard)
	if gerr == nil {
		return nil, nil
	}
	if apperrors.IsBusiness(gerr) {
		return gerr, nil
	}
	return nil, gerr
}

func stepStatusFor(kind EventKind) StepStatus {
	switch kind {
	case EventValidate:
		return StepValidated
	case EventSkip:
		return StepSkipped
	default:
		return StepRejected
	}
}
