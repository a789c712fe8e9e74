// Package metrics holds the Prometheus collectors exported by the service
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flightstream"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CacheLookups   *prometheus.CounterVec
	IdentLookups   *prometheus.CounterVec
	UpstreamErrors *prometheus.CounterVec
	Refreshes      *prometheus.CounterVec
	Tasks          *prometheus.CounterVec
	DroppedResults prometheus.Counter
	BatchTimeouts  prometheus.Counter
	QueuePending   prometheus.Gauge
}

// New builds the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_cache_lookups_total",
			Help:      "Snapshot cache lookups by freshness tier.",
		}, []string{"tier"}),
		IdentLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ident_cache_lookups_total",
			Help:      "Ident cache lookups by result.",
		}, []string{"result"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Failed upstream calls by operation.",
		}, []string{"op"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_refreshes_total",
			Help:      "Background refreshes by outcome.",
		}, []string{"outcome"}),
		Tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_processed_total",
			Help:      "Fetch tasks processed by outcome.",
		}, []string{"outcome"}),
		DroppedResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_results_total",
			Help:      "Results discarded because their batch was no longer registered.",
		}),
		BatchTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_timeouts_total",
			Help:      "Batch streams that ended before every result arrived.",
		}),
		QueuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending_tasks",
			Help:      "Tasks enqueued and not yet acknowledged.",
		}),
	}
	m.registry.MustRegister(
		m.CacheLookups,
		m.IdentLookups,
		m.UpstreamErrors,
		m.Refreshes,
		m.Tasks,
		m.DroppedResults,
		m.BatchTimeouts,
		m.QueuePending,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheLookup(tier string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) IdentLookup(result string) {
	if m != nil {
		m.IdentLookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) UpstreamError(op string) {
	if m != nil {
		m.UpstreamErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Refresh(outcome string) {
	if m != nil {
		m.Refreshes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Task(outcome string) {
	if m != nil {
		m.Tasks.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ResultDropped() {
	if m != nil {
		m.DroppedResults.Inc()
	}
}

func (m *Metrics) BatchTimeout() {
	if m != nil {
		m.BatchTimeouts.Inc()
	}
}

func (m *Metrics) SetQueuePending(n int) {
	if m != nil {
		m.QueuePending.Set(float64(n))
	}
}
