// Package metrics holds the prometheus collectors of the ledger. A nil
// *Metrics is valid and records nothing, so components can be built without
// a registry in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector exported by the service.
type Metrics struct {
	txAttempts      *prometheus.CounterVec
	txConflicts     *prometheus.CounterVec
	txExhausted     *prometheus.CounterVec
	txDuration      *prometheus.HistogramVec
	decisions       *prometheus.CounterVec
	autoRejections  *prometheus.CounterVec
	forcedCreations *prometheus.CounterVec
	transfers       *prometheus.CounterVec
	overdueVisas    *prometheus.CounterVec
	alerts          *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		txAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_tx_attempts_total",
			Help: "Transaction attempts by operation",
		}, []string{"op"}),
		txConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_tx_conflicts_total",
			Help: "Transaction attempts aborted by a concurrency conflict",
		}, []string{"op"}),
		txExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_tx_retry_exhausted_total",
			Help: "Operations that surfaced a concurrency error after the retry budget",
		}, []string{"op"}),
		txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_tx_duration_seconds",
			Help:    "Duration of transactional operations including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_visa_decisions_total",
			Help: "Visa decisions by stage type and decision",
		}, []string{"stage", "decision"}),
		autoRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_auto_rejections_total",
			Help: "Entities rejected automatically by a late capacity check",
		}, []string{"stage"}),
		forcedCreations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_forced_creations_total",
			Help: "Over-cap entities created through the forced path",
		}, []string{"stage"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_credit_transfers_total",
			Help: "Credit transfers by final outcome",
		}, []string{"outcome"}),
		overdueVisas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_overdue_visas_total",
			Help: "Visa steps escalated after exceeding their delay",
		}, []string{"stage", "role"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_consumption_alerts_total",
			Help: "Budget line consumption alert level crossings",
		}, []string{"level"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_availability_cache_lookups_total",
			Help: "Availability snapshot cache lookups",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_http_requests_total",
			Help: "HTTP requests by route pattern and status class",
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		m.txAttempts, m.txConflicts, m.txExhausted, m.txDuration,
		m.decisions, m.autoRejections, m.forcedCreations, m.transfers,
		m.overdueVisas, m.alerts, m.cacheLookups, m.httpRequests,
	)
	return m
}

// Handler serves the default gatherer in the prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) TxAttempt(op string) {
	if m == nil {
		return
	}
	m.txAttempts.WithLabelValues(op).Inc()
}

func (m *Metrics) TxConflict(op string) {
	if m == nil {
		return
	}
	m.txConflicts.WithLabelValues(op).Inc()
}

func (m *Metrics) TxExhausted(op string) {
	if m == nil {
		return
	}
	m.txExhausted.WithLabelValues(op).Inc()
}

func (m *Metrics) TxDuration(op string, seconds float64) {
	if m == nil {
		return
	}
	m.txDuration.WithLabelValues(op).Observe(seconds)
}

func (m *Metrics) Decision(stage, decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(stage, decision).Inc()
}

func (m *Metrics) AutoRejection(stage string) {
	if m == nil {
		return
	}
	m.autoRejections.WithLabelValues(stage).Inc()
}

func (m *Metrics) ForcedCreation(stage string) {
	if m == nil {
		return
	}
	m.forcedCreations.WithLabelValues(stage).Inc()
}

func (m *Metrics) Transfer(outcome string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OverdueVisa(stage, role string) {
	if m == nil {
		return
	}
	m.overdueVisas.WithLabelValues(stage, role).Inc()
}

func (m *Metrics) ConsumptionAlert(level string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(level).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) HTTPRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}
