// Package workflow implements the sequential multi-role visa workflow shared
// by every stage entity of the ledger and by credit transfers.
//
// A stage entity embeds State. Submitting it materializes an ordered Plan
// from the stage Definition; each reached step gets one VisaStepRecord.
// Transition is the single pure function deciding what an event does to a
// State; Engine wraps it with persistence, role checks and step guards.
package workflow

// Status is the workflow status of a stage entity.
type Status string

const (
	StatusDraft      Status = "brouillon"
	StatusSubmitted  Status = "soumis"
	StatusInProgress Status = "en_validation"
	StatusValidated  Status = "valide"
	StatusRejected   Status = "rejete"
	StatusDeferred   Status = "differe"
	StatusCancelled  Status = "annule"
)

// Terminal reports whether no further event is accepted in s.
func (s Status) Terminal() bool {
	return s == StatusValidated || s == StatusRejected || s == StatusCancelled
}

// Reserving reports whether an entity in s holds capacity on its parent.
func (s Status) Reserving() bool {
	switch s {
	case StatusSubmitted, StatusInProgress, StatusDeferred, StatusValidated:
		return true
	}
	return false
}

// ReservingStatuses lists the statuses for which Reserving is true.
var ReservingStatuses = []Status{StatusSubmitted, StatusInProgress, StatusDeferred, StatusValidated}

// StepStatus is the decision recorded on one visa step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepValidated StepStatus = "valide"
	StepRejected  StepStatus = "rejete"
	StepSkipped   StepStatus = "saute"
	// StepSuspended parks the step of a deferred or frozen entity: it is
	// neither escalated nor listed in inboxes.
	StepSuspended StepStatus = "suspendu"
)

// EventKind enumerates the inputs of Transition.
type EventKind string

const (
	EventSubmit     EventKind = "submit"
	EventValidate   EventKind = "validate"
	EventSkip       EventKind = "skip"
	EventReject     EventKind = "reject"
	EventAutoReject EventKind = "auto_reject"
	EventDefer      EventKind = "defer"
	EventResume     EventKind = "resume"
	EventCancel     EventKind = "cancel"
)

// GuardKind names a structural precondition attached to a step.
type GuardKind string

const (
	GuardNone      GuardKind = ""
	GuardCapacity  GuardKind = "capacity"
	GuardDocuments GuardKind = "documents"
)

// StageType identifies a workflow definition.
type StageType string

const (
	StageCommitment       StageType = "engagement"
	StageVerification     StageType = "liquidation"
	StagePaymentOrder     StageType = "ordonnancement"
	StageCountersignature StageType = "ordonnancement_signature"
	StageSettlement       StageType = "reglement"
	StageTransfer         StageType = "reamenagement"
)

// MinReasonLength is the minimum length of a reject or defer reason.
const MinReasonLength = 10

// Actor is the person issuing a command together with the roles they hold.
type Actor struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// Ref identifies the entity a workflow instance belongs to.
type Ref struct {
	Type StageType `json:"type"`
	ID   string    `json:"id"`
}
