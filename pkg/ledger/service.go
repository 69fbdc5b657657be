package ledger

import (
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"github.com/arti-ci/sygfp-ledger/pkg/audit"
	"github.com/arti-ci/sygfp-ledger/pkg/metrics"
)

// Service groups the ledger, the four stage chains and the transfer engine
// over one transaction runner and one workflow engine.
type Service struct {
	Ledger        *Ledger
	Commitments   *Commitments
	Verifications *Verifications
	PaymentOrders *PaymentOrders
	Settlements   *Settlements
	Transfers     *Transfers

	audit   AuditSink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService wires a Service. Engine, Runner and Numbers are required.
func NewService(opts Options) (*Service, error) {
	switch {
	case opts.Engine == nil:
		return nil, errors.New("ledger: workflow engine is required")
	case opts.Runner == nil:
		return nil, errors.New("ledger: transaction runner is required")
	case opts.Numbers == nil:
		return nil, errors.New("ledger: number issuer is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.With("component", "ledger")
	if opts.Audit == nil {
		opts.Audit = nopSink{}
	}
	if opts.CommitmentDocuments == nil {
		opts.CommitmentDocuments = DefaultCommitmentDocuments
	}
	if opts.VerificationDocuments == nil {
		opts.VerificationDocuments = DefaultVerificationDocuments
	}

	s := &Service{audit: opts.Audit, metrics: opts.Metrics, logger: opts.Logger}
	s.Ledger = newLedger(&opts)
	s.Commitments = newChain(commitmentSpec(s, opts.CommitmentDocuments), &opts, s.Ledger)
	s.Verifications = newChain(verificationSpec(opts.VerificationDocuments), &opts, s.Ledger)
	s.PaymentOrders = &PaymentOrders{Chain: newChain(paymentOrderSpec(opts.CountersignatureRequired), &opts, s.Ledger)}
	s.Settlements = newChain(settlementSpec(s), &opts, s.Ledger)
	s.Transfers = newTransfers(&opts, s.Ledger)
	return s, nil
}

// Models lists the tables owned by the ledger.
func Models() []any {
	return []any{
		&BudgetLineRecord{},
		&BudgetLineVersionRecord{},
		&LineMovementRecord{},
		&CommitmentRecord{},
		&VerificationRecord{},
		&PaymentOrderRecord{},
		&SettlementRecord{},
		&CreditTransferRecord{},
	}
}

// AutoMigrate creates or updates the ledger tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

var _ AuditSink = (*audit.Store)(nil)
