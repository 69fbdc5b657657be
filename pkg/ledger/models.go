package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

// StringList is a list of strings stored as a JSON array.
type StringList []string

// Scan implements the sql.Scanner interface for StringList.
func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
	return json.Unmarshal(bytes, l)
}

// Value implements the driver.Valuer interface for StringList.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Contains reports whether s is in l.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// BudgetLineRecord is an allocation bucket of one exercice.
type BudgetLineRecord struct {
	ID               string          `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Code             string          `gorm:"column:code;type:varchar(64);uniqueIndex:idx_line_code_exercice,priority:1;not null" json:"code"`
	Exercice         int             `gorm:"column:exercice;uniqueIndex:idx_line_code_exercice,priority:2;index;not null" json:"exercice"`
	Label            string          `gorm:"column:label;type:varchar(255)" json:"label"`
	DotationInitiale decimal.Decimal `gorm:"column:dotation_initiale;type:decimal(20,2);not null" json:"dotationInitiale"`
	TransfersIn      decimal.Decimal `gorm:"column:transfers_in;type:decimal(20,2);not null;default:0" json:"transfersIn"`
	TransfersOut     decimal.Decimal `gorm:"column:transfers_out;type:decimal(20,2);not null;default:0" json:"transfersOut"`
	DotationActuelle decimal.Decimal `gorm:"column:dotation_actuelle;type:decimal(20,2);not null" json:"dotationActuelle"`
	TotalEngage      decimal.Decimal `gorm:"column:total_engage;type:decimal(20,2);not null;default:0" json:"totalEngage"`
	TotalLiquide     decimal.Decimal `gorm:"column:total_liquide;type:decimal(20,2);not null;default:0" json:"totalLiquide"`
	TotalOrdonnance  decimal.Decimal `gorm:"column:total_ordonnance;type:decimal(20,2);not null;default:0" json:"totalOrdonnance"`
	TotalPaye        decimal.Decimal `gorm:"column:total_paye;type:decimal(20,2);not null;default:0" json:"totalPaye"`
	Opened           bool            `gorm:"column:opened;not null;default:false" json:"opened"`
	Active           bool            `gorm:"column:active;not null;default:true" json:"active"`
	Version          int64           `gorm:"column:version;not null;default:1" json:"version"`
	CreatedBy        string          `gorm:"column:created_by;type:varchar(255)" json:"createdBy,omitempty"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName returns the GORM table name.
func (BudgetLineRecord) TableName() string { return "budget_lines" }

// BudgetLineVersionRecord keeps the state of a line before each amendment.
type BudgetLineVersionRecord struct {
	ID               string          `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	LineID           string          `gorm:"column:line_id;type:varchar(36);uniqueIndex:idx_line_version,priority:1;not null" json:"lineId"`
	Version          int64           `gorm:"column:version;uniqueIndex:idx_line_version,priority:2;not null" json:"version"`
	Label            string          `gorm:"column:label;type:varchar(255)" json:"label"`
	DotationInitiale decimal.Decimal `gorm:"column:dotation_initiale;type:decimal(20,2);not null" json:"dotationInitiale"`
	Reason           string          `gorm:"column:reason;type:text" json:"reason"`
	ChangedBy        string          `gorm:"column:changed_by;type:varchar(255)" json:"changedBy"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName returns the GORM table name.
func (BudgetLineVersionRecord) TableName() string { return "budget_line_versions" }

// LineMovementRecord journals one ApplyTransfer call. The unique key on
// (transfer_id, line_id) makes replays detectable.
type LineMovementRecord struct {
	ID         string          `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	TransferID string          `gorm:"column:transfer_id;type:varchar(36);uniqueIndex:idx_movement_transfer_line,priority:1;not null" json:"transferId"`
	LineID     string          `gorm:"column:line_id;type:varchar(36);uniqueIndex:idx_movement_transfer_line,priority:2;not null" json:"lineId"`
	Delta      decimal.Decimal `gorm:"column:delta;type:decimal(20,2);not null" json:"delta"`
	Before     decimal.Decimal `gorm:"column:dotation_before;type:decimal(20,2);not null" json:"before"`
	After      decimal.Decimal `gorm:"column:dotation_after;type:decimal(20,2);not null" json:"after"`
	Actor      string          `gorm:"column:actor;type:varchar(255)" json:"actor"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName returns the GORM table name.
func (LineMovementRecord) TableName() string { return "line_movements" }

// StageFields are the columns shared by the four stage entities.
type StageFields struct {
	ID                 string          `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Numero             string          `gorm:"column:numero;type:varchar(32);uniqueIndex;not null" json:"numero"`
	ParentID           string          `gorm:"column:parent_id;type:varchar(36);index;not null" json:"parentId"`
	LineID             string          `gorm:"column:line_id;type:varchar(36);index;not null" json:"lineId"`
	Exercice           int             `gorm:"column:exercice;index;not null" json:"exercice"`
	Amount             decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	Beneficiary        string          `gorm:"column:beneficiary;type:varchar(255)" json:"beneficiary"`
	Purpose            string          `gorm:"column:purpose;type:text" json:"purpose"`
	Documents          StringList      `gorm:"column:documents;type:text" json:"documents"`
	Consumed           decimal.Decimal `gorm:"column:consumed;type:decimal(20,2);not null;default:0" json:"consumed"`
	Forced             bool            `gorm:"column:forced;not null;default:false" json:"forced"`
	ForceJustification string          `gorm:"column:force_justification;type:text" json:"forceJustification,omitempty"`
	Frozen             bool            `gorm:"column:frozen;not null;default:false" json:"frozen"`
	FrozenReason       string          `gorm:"column:frozen_reason;type:text" json:"frozenReason,omitempty"`
	FrozenAt           *time.Time      `gorm:"column:frozen_at" json:"frozenAt,omitempty"`
	Version            int64           `gorm:"column:version;not null;default:1" json:"version"`
	CreatedBy          string          `gorm:"column:created_by;type:varchar(255)" json:"createdBy"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`

	workflow.State
}

// Base returns f. It gives generic code access to the shared columns.
func (f *StageFields) Base() *StageFields { return f }

// WorkflowState implements workflow.Subject.
func (f *StageFields) WorkflowState() *workflow.State { return &f.State }

// ForcedJustification implements workflow.Subject.
func (f *StageFields) ForcedJustification() string {
	if !f.Forced {
		return ""
	}
	return f.ForceJustification
}

// Withholdings are the amounts retained on a verification.
type Withholdings struct {
	TVA           decimal.Decimal `gorm:"column:tva;type:decimal(20,2);not null;default:0" json:"tva"`
	AIRSI         decimal.Decimal `gorm:"column:airsi;type:decimal(20,2);not null;default:0" json:"airsi"`
	RetenueSource decimal.Decimal `gorm:"column:retenue_source;type:decimal(20,2);not null;default:0" json:"retenueSource"`
	RetenueBIC    decimal.Decimal `gorm:"column:retenue_bic;type:decimal(20,2);not null;default:0" json:"retenueBic"`
	RetenueBNC    decimal.Decimal `gorm:"column:retenue_bnc;type:decimal(20,2);not null;default:0" json:"retenueBnc"`
}

// Total sums the withholdings.
func (w Withholdings) Total() decimal.Decimal {
	return w.TVA.Add(w.AIRSI).Add(w.RetenueSource).Add(w.RetenueBIC).Add(w.RetenueBNC)
}

func (w Withholdings) negative() []string {
	var out []string
	for name, v := range map[string]decimal.Decimal{
		"tva": w.TVA, "airsi": w.AIRSI, "retenueSource": w.RetenueSource,
		"retenueBic": w.RetenueBIC, "retenueBnc": w.RetenueBNC,
	} {
		if v.IsNegative() {
			out = append(out, name)
		}
	}
	return out
}

// CommitmentRecord reserves funds on a budget line (engagement).
type CommitmentRecord struct {
	StageFields
}

// TableName returns the GORM table name.
func (CommitmentRecord) TableName() string { return "commitments" }

// WorkflowRef implements workflow.Subject.
func (r *CommitmentRecord) WorkflowRef() workflow.Ref {
	return workflow.Ref{Type: workflow.StageCommitment, ID: r.ID}
}

// VerificationRecord certifies the service done on a commitment and fixes
// the amount owed net of withholdings (liquidation).
type VerificationRecord struct {
	StageFields
	Withholdings
	NetAmount decimal.Decimal `gorm:"column:net_amount;type:decimal(20,2);not null" json:"netAmount"`
	Urgency
}

// Urgency flags a verification whose settlement must be expedited.
type Urgency struct {
	Urgent       bool       `gorm:"column:urgent;not null;default:false;index:idx_verifications_urgent,priority:1" json:"urgent"`
	UrgentReason string     `gorm:"column:urgent_reason;type:text" json:"urgentReason,omitempty"`
	UrgentAt     *time.Time `gorm:"column:urgent_at;index:idx_verifications_urgent,priority:2" json:"urgentAt,omitempty"`
	UrgentBy     string     `gorm:"column:urgent_by;type:varchar(255)" json:"urgentBy,omitempty"`
}

// TableName returns the GORM table name.
func (VerificationRecord) TableName() string { return "verifications" }

// WorkflowRef implements workflow.Subject.
func (r *VerificationRecord) WorkflowRef() workflow.Ref {
	return workflow.Ref{Type: workflow.StageVerification, ID: r.ID}
}

// Payment modes.
const (
	PaymentTransfer    = "virement"
	PaymentCheque      = "cheque"
	PaymentCash        = "especes"
	PaymentMobileMoney = "mobile_money"
)

// PaymentModes lists the accepted payment modes.
var PaymentModes = []string{PaymentTransfer, PaymentCheque, PaymentCash, PaymentMobileMoney}

func validPaymentMode(m string) bool {
	for _, v := range PaymentModes {
		if v == m {
			return true
		}
	}
	return false
}

// PaymentOrderRecord authorizes payment of a verification (ordonnancement).
// Signature holds the countersignature sub-workflow.
type PaymentOrderRecord struct {
	StageFields
	PaymentMode         string          `gorm:"column:payment_mode;type:varchar(20)" json:"paymentMode"`
	MontantPaye         decimal.Decimal `gorm:"column:montant_paye;type:decimal(20,2);not null;default:0" json:"montantPaye"`
	Solde               bool            `gorm:"column:solde;not null;default:false" json:"solde"`
	CountersignRequired bool            `gorm:"column:countersign_required;not null;default:false" json:"countersignRequired"`
	Signature           workflow.State  `gorm:"embedded;embeddedPrefix:sig_" json:"signature"`
}

// TableName returns the GORM table name.
func (PaymentOrderRecord) TableName() string { return "payment_orders" }

// WorkflowRef implements workflow.Subject.
func (r *PaymentOrderRecord) WorkflowRef() workflow.Ref {
	return workflow.Ref{Type: workflow.StagePaymentOrder, ID: r.ID}
}

// Payable reports whether settlements may be drawn on the order.
func (r *PaymentOrderRecord) Payable() bool {
	if r.Status != workflow.StatusValidated || r.Frozen {
		return false
	}
	return !r.CountersignRequired || r.Signature.Status == workflow.StatusValidated
}

// SettlementRecord is one disbursement on a payment order (règlement).
type SettlementRecord struct {
	StageFields
	PaymentMode      string     `gorm:"column:payment_mode;type:varchar(20)" json:"paymentMode"`
	PaymentReference string     `gorm:"column:payment_reference;type:varchar(128)" json:"paymentReference,omitempty"`
	PaidAt           *time.Time `gorm:"column:paid_at" json:"paidAt,omitempty"`
}

// TableName returns the GORM table name.
func (SettlementRecord) TableName() string { return "settlements" }

// WorkflowRef implements workflow.Subject.
func (r *SettlementRecord) WorkflowRef() workflow.Ref {
	return workflow.Ref{Type: workflow.StageSettlement, ID: r.ID}
}

// Transfer statuses as exposed to callers.
const (
	TransferPending  = "en_attente"
	TransferDeferred = "differe"
	TransferApproved = "valide"
	TransferRejected = "rejete"
)

// CreditTransferRecord moves allocation from one line to another
// (réaménagement).
type CreditTransferRecord struct {
	ID            string           `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Numero        string           `gorm:"column:numero;type:varchar(32);uniqueIndex;not null" json:"numero"`
	Exercice      int              `gorm:"column:exercice;index;not null" json:"exercice"`
	SourceLineID  string           `gorm:"column:source_line_id;type:varchar(36);index;not null" json:"sourceLineId"`
	DestLineID    string           `gorm:"column:dest_line_id;type:varchar(36);index;not null" json:"destLineId"`
	Amount        decimal.Decimal  `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	Justification string           `gorm:"column:justification;type:text;not null" json:"justification"`
	ReferenceNote string           `gorm:"column:reference_note;type:varchar(255)" json:"referenceNote,omitempty"`
	SourceBefore  *decimal.Decimal `gorm:"column:source_before;type:decimal(20,2)" json:"sourceBefore,omitempty"`
	SourceAfter   *decimal.Decimal `gorm:"column:source_after;type:decimal(20,2)" json:"sourceAfter,omitempty"`
	DestBefore    *decimal.Decimal `gorm:"column:dest_before;type:decimal(20,2)" json:"destBefore,omitempty"`
	DestAfter     *decimal.Decimal `gorm:"column:dest_after;type:decimal(20,2)" json:"destAfter,omitempty"`
	ExecutedAt    *time.Time       `gorm:"column:executed_at" json:"executedAt,omitempty"`
	Version       int64            `gorm:"column:version;not null;default:1" json:"version"`
	CreatedBy     string           `gorm:"column:created_by;type:varchar(255)" json:"createdBy"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`

	workflow.State

	// Statut is the transfer-level status derived from the workflow status.
	Statut string `gorm:"-" json:"statut"`
}

// TableName returns the GORM table name.
func (CreditTransferRecord) TableName() string { return "credit_transfers" }

// WorkflowRef implements workflow.Subject.
func (r *CreditTransferRecord) WorkflowRef() workflow.Ref {
	return workflow.Ref{Type: workflow.StageTransfer, ID: r.ID}
}

// WorkflowState implements workflow.Subject.
func (r *CreditTransferRecord) WorkflowState() *workflow.State { return &r.State }

// ForcedJustification implements workflow.Subject. Transfers are never forced.
func (r *CreditTransferRecord) ForcedJustification() string { return "" }

// AfterFind derives Statut.
func (r *CreditTransferRecord) AfterFind(*gorm.DB) error {
	r.deriveStatut()
	return nil
}

func (r *CreditTransferRecord) deriveStatut() {
	switch r.Status {
	case workflow.StatusValidated:
		r.Statut = TransferApproved
	case workflow.StatusRejected:
		r.Statut = TransferRejected
	case workflow.StatusDeferred:
		r.Statut = TransferDeferred
	default:
		r.Statut = TransferPending
	}
}
