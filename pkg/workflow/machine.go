package workflow

import (
	"time"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
)

// State is the workflow state embedded in every stage entity.
type State struct {
	Status       Status     `gorm:"column:status;type:varchar(20);index;not null;default:brouillon" json:"status"`
	CurrentStep  int        `gorm:"column:current_step;not null;default:0" json:"currentStep"`
	TotalSteps   int        `gorm:"column:total_steps;not null;default:0" json:"totalSteps"`
	Plan         Plan       `gorm:"column:workflow_plan;type:text" json:"plan,omitempty"`
	SubmittedAt  *time.Time `gorm:"column:submitted_at" json:"submittedAt,omitempty"`
	SubmittedBy  string     `gorm:"column:submitted_by;type:varchar(255)" json:"submittedBy,omitempty"`
	ValidatedAt  *time.Time `gorm:"column:validated_at" json:"validatedAt,omitempty"`
	RejectedAt   *time.Time `gorm:"column:rejected_at" json:"rejectedAt,omitempty"`
	RejectedBy   string     `gorm:"column:rejected_by;type:varchar(255)" json:"rejectedBy,omitempty"`
	RejectReason string     `gorm:"column:reject_reason;type:text" json:"rejectReason,omitempty"`
	AutoRejected bool       `gorm:"column:auto_rejected;not null;default:false" json:"autoRejected,omitempty"`
	DeferredAt   *time.Time `gorm:"column:deferred_at" json:"deferredAt,omitempty"`
	DeferredBy   string     `gorm:"column:deferred_by;type:varchar(255)" json:"deferredBy,omitempty"`
	DeferReason  string     `gorm:"column:defer_reason;type:text" json:"deferReason,omitempty"`
	ResumeDate   *time.Time `gorm:"column:resume_date" json:"resumeDate,omitempty"`
}

// Position is the part of State that Transition reasons about.
type Position struct {
	Status      Status
	CurrentStep int
	TotalSteps  int
}

// Position returns the current position of s.
func (s *State) Position() Position {
	status := s.Status
	if status == "" {
		status = StatusDraft
	}
	return Position{Status: status, CurrentStep: s.CurrentStep, TotalSteps: s.TotalSteps}
}

// Event is an input of Transition. Steps is only read by EventSubmit.
type Event struct {
	Kind  EventKind
	Step  int
	Steps int
}

// Transition is the single transition function of the visa workflow. It
// returns the position reached by applying e to p, or an
// *apperrors.IllegalTransitionError leaving p unchanged.
func Transition(p Position, e Event) (Position, error) {
	from := string(p.Status)

	if p.Status.Terminal() {
		return p, apperrors.Illegal(from, string(e.Kind), e.Step, "entity is %s and accepts no further event", p.Status)
	}

	switch e.Kind {
	case EventSubmit:
		if p.Status != StatusDraft {
			return p, apperrors.Illegal(from, string(e.Kind), 0, "only a draft can be submitted, entity is %s", p.Status)
		}
		if e.Steps < 1 {
			return p, apperrors.Illegal(from, string(e.Kind), 0, "cannot submit into an empty workflow")
		}
		return Position{Status: StatusSubmitted, CurrentStep: 1, TotalSteps: e.Steps}, nil

	case EventCancel:
		if p.Status != StatusDraft {
			return p, apperrors.Illegal(from, string(e.Kind), 0, "only a draft can be cancelled, entity is %s", p.Status)
		}
		return Position{Status: StatusCancelled}, nil

	case EventResume:
		if p.Status != StatusDeferred {
			return p, apperrors.Illegal(from, string(e.Kind), p.CurrentStep, "only a deferred entity can be resumed, entity is %s", p.Status)
		}
		return Position{Status: StatusInProgress, CurrentStep: p.CurrentStep, TotalSteps: p.TotalSteps}, nil

	case EventValidate, EventSkip, EventReject, EventAutoReject, EventDefer:
		switch p.Status {
		case StatusSubmitted, StatusInProgress:
		case StatusDraft:
			return p, apperrors.Illegal(from, string(e.Kind), e.Step, "entity has not been submitted")
		case StatusDeferred:
			return p, apperrors.Illegal(from, string(e.Kind), e.Step, "entity is deferred, resume it first")
		default:
			return p, apperrors.Illegal(from, string(e.Kind), e.Step, "unexpected status %s", p.Status)
		}
		if e.Step != p.CurrentStep {
			return p, apperrors.Illegal(from, string(e.Kind), e.Step, "step %d is not the current step %d", e.Step, p.CurrentStep)
		}

		next := p
		switch e.Kind {
		case EventValidate, EventSkip:
			if p.CurrentStep >= p.TotalSteps {
				next.Status = StatusValidated
			} else {
				next.Status = StatusInProgress
				next.CurrentStep = p.CurrentStep + 1
			}
		case EventReject, EventAutoReject:
			next.Status = StatusRejected
		case EventDefer:
			next.Status = StatusDeferred
		}
		return next, nil
	}

	return p, apperrors.Illegal(from, string(e.Kind), e.Step, "unknown event %q", e.Kind)
}
