package ledger

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/arti-ci/sygfp-ledger/pkg/audit"
	"github.com/arti-ci/sygfp-ledger/pkg/cache"
	"github.com/arti-ci/sygfp-ledger/pkg/metrics"
	"github.com/arti-ci/sygfp-ledger/pkg/txn"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

// NumberIssuer hands out collision-free document numbers. Next runs inside
// the creating transaction.
type NumberIssuer interface {
	Next(ctx context.Context, tx *gorm.DB, docType string, exercice int) (string, error)
}

// AuditSink receives one event per state-changing call. Record runs inside
// the transaction of the change it describes.
type AuditSink interface {
	Record(ctx context.Context, tx *gorm.DB, e audit.Event) error
}

type nopSink struct{}

func (nopSink) Record(context.Context, *gorm.DB, audit.Event) error { return nil }

// Document numbering prefixes.
const (
	DocCommitment   = "ENG"
	DocVerification = "LIQ"
	DocPaymentOrder = "ORD"
	DocSettlement   = "REG"
	DocTransfer     = "REA"
)

// Verification documents.
const (
	DocFacture                = "facture"
	DocPVReception            = "pv_reception"
	DocBonLivraison           = "bon_livraison"
	DocAttestationServiceFait = "attestation_service_fait"
	DocAutre                  = "autre"
)

// Options configures a Service.
type Options struct {
	Engine  *workflow.Engine
	Runner  *txn.Runner
	Numbers NumberIssuer
	Audit   AuditSink
	Cache   cache.Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// CommitmentDocuments are the documents required to submit a
	// commitment. Nil uses DefaultCommitmentDocuments.
	CommitmentDocuments []string
	// VerificationDocuments are the documents required to submit a
	// verification. Nil uses DefaultVerificationDocuments.
	VerificationDocuments []string
	// CountersignatureRequired is the default of new payment orders.
	CountersignatureRequired bool
}

// DefaultCommitmentDocuments are required on a commitment unless configured.
var DefaultCommitmentDocuments = []string{"devis", "bon_commande"}

// DefaultVerificationDocuments are required on a verification unless configured.
var DefaultVerificationDocuments = []string{DocFacture, DocPVReception, DocBonLivraison}

// OptionalVerificationDocuments may be attached to a verification.
var OptionalVerificationDocuments = []string{DocAttestationServiceFait, DocAutre}

// CreateInput creates a stage entity under ParentID. Fields that do not
// apply to a stage are ignored by it.
type CreateInput struct {
	ParentID           string          `json:"parentId" validate:"required"`
	Amount             decimal.Decimal `json:"amount"`
	Beneficiary        string          `json:"beneficiary,omitempty"`
	Purpose            string          `json:"purpose,omitempty"`
	Documents          []string        `json:"documents,omitempty"`
	Forced             bool            `json:"forced,omitempty"`
	ForceJustification string          `json:"forceJustification,omitempty"`

	Withholdings            Withholdings `json:"withholdings"`
	PaymentMode             string       `json:"paymentMode,omitempty"`
	PaymentReference        string       `json:"paymentReference,omitempty"`
	RequireCountersignature *bool        `json:"requireCountersignature,omitempty"`

	Actor workflow.Actor `json:"-"`
}

// UpdateInput patches a draft. Nil fields are left unchanged.
type UpdateInput struct {
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	Beneficiary      *string          `json:"beneficiary,omitempty"`
	Purpose          *string          `json:"purpose,omitempty"`
	Documents        *[]string        `json:"documents,omitempty"`
	Withholdings     *Withholdings    `json:"withholdings,omitempty"`
	PaymentMode      *string          `json:"paymentMode,omitempty"`
	PaymentReference *string          `json:"paymentReference,omitempty"`

	Actor workflow.Actor `json:"-"`
}

// ListOptions narrows and pages a List call. Filter is a query expression
// (see package query).
type ListOptions struct {
	Exercice  int
	ParentID  string
	LineID    string
	Status    workflow.Status
	Filter    string
	PageSize  int
	PageToken string
}
