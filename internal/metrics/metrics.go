// Package metrics holds the Prometheus instruments of the trust graph,
// the fetch scheduler and the inserter. A nil *Metrics records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for graph sessions, score propagation and
// document exchange.
type Metrics struct {
	SessionDuration  *prometheus.HistogramVec
	SessionOutcomes  *prometheus.CounterVec
	ScoreRecomputes  prometheus.Counter
	ScoreChanges     *prometheus.CounterVec
	CascadeSize      prometheus.Histogram
	Refetches        prometheus.Counter
	Imports          *prometheus.CounterVec
	MergeFieldErrors *prometheus.CounterVec
	Fetches          *prometheus.CounterVec
	FetchQueueLength prometheus.Gauge
	Inserts          *prometheus.CounterVec
}

// New creates a Metrics instance registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wot_session_duration_seconds",
			Help:    "Duration of graph sessions, lock wait included",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}, []string{"op"}),
		SessionOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wot_sessions_total",
			Help: "Graph sessions by operation and outcome (commit, rollback, read)",
		}, []string{"op", "outcome"}),
		ScoreRecomputes: f.NewCounter(prometheus.CounterOpts{
			Name: "wot_score_recomputes_total",
			Help: "Number of (owner, target) score recomputations",
		}),
		ScoreChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wot_score_changes_total",
			Help: "Stored score mutations by kind (created, updated, deleted)",
		}, []string{"kind"}),
		CascadeSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wot_score_cascade_size",
			Help:    "Recomputations performed per propagation batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		Refetches: f.NewCounter(prometheus.CounterOpts{
			Name: "wot_refetches_total",
			Help: "Identities re-fetched after their score became non-negative",
		}),
		Imports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wot_trust_list_imports_total",
			Help: "Trust list imports by result",
		}, []string{"result"}),
		MergeFieldErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wot_merge_field_errors_total",
			Help: "Fields rejected while merging identity documents",
		}, []string{"field"}),
		Fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wot_fetches_total",
			Help: "Document fetches by result",
		}, []string{"result"}),
		FetchQueueLength: f.NewGauge(prometheus.GaugeOpts{
			Name: "wot_fetch_queue_length",
			Help: "Identities waiting to be fetched",
		}),
		Inserts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wot_inserts_total",
			Help: "Own identity document inserts by result",
		}, []string{"result"}),
	}
}

// ObserveSession records a finished session.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveSession(op, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.SessionDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	m.SessionOutcomes.WithLabelValues(op, outcome).Inc()
}

// IncrementRecompute records one score recomputation.
func (m *Metrics) IncrementRecompute() {
	if m == nil {
		return
	}
	m.ScoreRecomputes.Inc()
}

// IncrementScoreChange records a created, updated or deleted score.
func (m *Metrics) IncrementScoreChange(kind string) {
	if m == nil {
		return
	}
	m.ScoreChanges.WithLabelValues(kind).Inc()
}

// ObserveCascade records the size of a propagation batch.
func (m *Metrics) ObserveCascade(n int) {
	if m == nil {
		return
	}
	m.CascadeSize.Observe(float64(n))
}

// IncrementRefetch records a negative-to-non-negative refetch.
func (m *Metrics) IncrementRefetch() {
	if m == nil {
		return
	}
	m.Refetches.Inc()
}

// IncrementImport records a trust list import result.
func (m *Metrics) IncrementImport(result string) {
	if m == nil {
		return
	}
	m.Imports.WithLabelValues(result).Inc()
}

// IncrementMergeFieldError records a rejected document field.
func (m *Metrics) IncrementMergeFieldError(field string) {
	if m == nil {
		return
	}
	m.MergeFieldErrors.WithLabelValues(field).Inc()
}

// IncrementFetch records a fetch result.
func (m *Metrics) IncrementFetch(result string) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(result).Inc()
}

// SetFetchQueueLength records the scheduler backlog.
func (m *Metrics) SetFetchQueueLength(n int) {
	if m == nil {
		return
	}
	m.FetchQueueLength.Set(float64(n))
}

// IncrementInsert records an insert result.
func (m *Metrics) IncrementInsert(result string) {
	if m == nil {
		return
	}
	m.Inserts.WithLabelValues(result).Inc()
}
