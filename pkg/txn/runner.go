// Package txn runs the ledger's capacity-check-and-commit units of work as
// single database transactions with bounded optimistic retry.
package txn

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
	"github.com/arti-ci/sygfp-ledger/pkg/metrics"
)

// Runner executes functions inside retried transactions.
type Runner struct {
	db      *gorm.DB
	cfg     *Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRunner creates a Runner. A nil cfg uses DefaultConfig, a nil logger
// uses slog.Default and a nil metrics records nothing.
func NewRunner(db *gorm.DB, cfg *Config, logger *slog.Logger, m *metrics.Metrics) *Runner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{db: db, cfg: cfg, logger: logger, metrics: m}
}

// DB returns the underlying handle for read-only queries.
func (r *Runner) DB() *gorm.DB {
	return r.db
}

// Run executes fn in a transaction. Conflicts (see IsConflict) roll the
// attempt back and retry it with exponential backoff; once MaxAttempts is
// reached the last conflict is returned as *apperrors.ConcurrencyError. Any
// other error aborts immediately and is returned unchanged.
//
// The caller's context is only checked before the first attempt. Once a
// transaction has started it runs to commit or rollback.
func (r *Runner) Run(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	defer func() { r.metrics.TxDuration(op, time.Since(start).Seconds()) }()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = r.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1))

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		r.metrics.TxAttempt(op)
		err := r.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if IsConflict(err) {
			r.metrics.TxConflict(op)
			r.logger.Debug("transaction conflict", "op", op, "attempt", attempts, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, policy)

	if err != nil && IsConflict(err) {
		r.metrics.TxExhausted(op)
		r.logger.Warn("transaction retry budget exhausted", "op", op, "attempts", attempts, "error", err)
		return &apperrors.ConcurrencyError{Attempts: attempts, Err: err}
	}
	return err
}

func (r *Runner) attempt(ctx context.Context, fn func(tx *gorm.DB) error) error {
	h := &hooks{}
	actx := context.WithValue(ctx, hooksKey{}, h)
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(actx, r.cfg.Timeout)
		defer cancel()
	}

	if err := r.db.WithContext(actx).Transaction(fn, r.txOptions()); err != nil {
		return err
	}
	for _, f := range h.afterCommit {
		f()
	}
	return nil
}

func (r *Runner) txOptions() *sql.TxOptions {
	switch r.db.Dialector.Name() {
	case "postgres":
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	case "mysql":
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
	}
	return nil
}

type hooksKey struct{}

type hooks struct {
	afterCommit []func()
}

// AfterCommit registers f to run once the transaction carried by tx commits.
// Outside a Runner transaction f runs immediately.
func AfterCommit(tx *gorm.DB, f func()) {
	if tx != nil && tx.Statement != nil && tx.Statement.Context != nil {
		if h, ok := tx.Statement.Context.Value(hooksKey{}).(*hooks); ok {
			h.afterCommit = append(h.afterCommit, f)
			return
		}
	}
	f()
}

// ForUpdate adds a row lock to the query on dialects that support it.
// sqlite serializes writers on its own.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	switch tx.Dialector.Name() {
	case "postgres", "mysql":
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// UpdateVersioned writes values to the row of table identified by id only
// when its version still equals version, and bumps the version. A stale
// version yields ErrVersionConflict.
func UpdateVersioned(tx *gorm.DB, table, id string, version int64, values map[string]any) error {
	values["version"] = gorm.Expr("version + 1")
	values["updated_at"] = time.Now().UTC()
	res := tx.Table(table).Where("id = ? AND version = ?", id, version).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}
