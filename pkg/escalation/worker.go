package escalation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/arti-ci/sygfp-ledger/pkg/audit"
	"github.com/arti-ci/sygfp-ledger/pkg/metrics"
	"github.com/arti-ci/sygfp-ledger/pkg/txn"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

// Escalation is one visa step found past its deadline.
type Escalation struct {
	Step      workflow.VisaStepRecord
	OverdueBy time.Duration
}

// Notifier delivers escalations to whoever supervises the late role.
type Notifier interface {
	Notify(ctx context.Context, e Escalation) error
}

// AuditSink records escalations in the trail.
type AuditSink interface {
	Record(ctx context.Context, tx *gorm.DB, e audit.Event) error
}

// LogNotifier writes escalations to the log.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, e Escalation) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("visa step overdue",
		"stage", e.Step.EntityType,
		"entityID", e.Step.EntityID,
		"step", e.Step.StepOrder,
		"role", e.Step.Role,
		"overdueBy", e.OverdueBy.Round(time.Minute).String())
	return nil
}

// Worker periodically escalates visa steps left pending past their
// deadline. Each step is escalated once.
type Worker struct {
	runner   *txn.Runner
	steps    *workflow.VisaStore
	notifier Notifier
	audit    AuditSink
	metrics  *metrics.Metrics
	cfg      *Config
	logger   *slog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

// NewWorker creates a worker. A nil notifier logs escalations and a nil
// audit sink skips the trail.
func NewWorker(runner *txn.Runner, steps *workflow.VisaStore, notifier Notifier, sink AuditSink, m *metrics.Metrics, cfg *Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &Worker{
		runner:   runner,
		steps:    steps,
		notifier: notifier,
		audit:    sink,
		metrics:  m,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run scans for overdue steps every cfg.Interval. It blocks until the
// context is cancelled, then waits for in-flight notifications.
func (w *Worker) Run(ctx context.Context) {
	if w.runner == nil || !w.cfg.Enabled {
		w.logger.Info("escalation worker disabled")
		return
	}

	w.logger.Info("escalation worker starting",
		"interval", w.cfg.Interval.String(),
		"batchSize", w.cfg.BatchSize)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("escalation worker shutting down")
			w.wg.Wait()
			w.logger.Info("escalation worker stopped")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("escalation scan failed", "error", err)
			}
		}
	}
}

// RunOnce escalates one batch of overdue steps and returns how many were
// escalated. Steps are stamped in one transaction; notifications are sent
// after it commits.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	now := w.now()
	var claimed []Escalation
	err := w.runner.Run(ctx, "escalation.claim", func(tx *gorm.DB) error {
		claimed = claimed[:0]
		steps, err := overdue(tx, now, w.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, s := range steps {
			if err := w.steps.MarkEscalated(tx, s.ID, now); err != nil {
				return err
			}
			e := Escalation{Step: s, OverdueBy: now.Sub(*s.DueAt)}
			claimed = append(claimed, e)
			if w.audit == nil {
				continue
			}
			if err := w.audit.Record(ctx, tx, audit.Event{
				Action:     "escalate",
				EntityType: string(s.EntityType),
				EntityID:   s.EntityID,
				Actor:      "system",
				Reason:     "visa en retard",
				Metadata: map[string]any{
					"step":      s.StepOrder,
					"role":      s.Role,
					"dueAt":     s.DueAt,
					"overdueBy": e.OverdueBy.String(),
				},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	w.wg.Add(1)
	defer w.wg.Done()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, e := range claimed {
		e := e
		w.metrics.OverdueVisa(string(e.Step.EntityType), e.Step.Role)
		g.Go(func() error {
			if err := w.notifier.Notify(gctx, e); err != nil {
				w.logger.Error("escalation notification failed", "stepID", e.Step.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	w.logger.Info("overdue visa steps escalated", "count", len(claimed))
	return len(claimed), nil
}
