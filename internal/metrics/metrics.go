// Package metrics exposes the engine's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the engine updates.
type Metrics struct {
	registry *prometheus.Registry

	Recomputes       *prometheus.CounterVec
	RecomputeSeconds prometheus.Histogram
	Positions        *prometheus.GaugeVec
	LowCollateral    *prometheus.GaugeVec
	DroppedKeys      *prometheus.CounterVec
	ExpiredHints     prometheus.Counter
	PendingUpdates   prometheus.Counter
	EventsIngested   *prometheus.CounterVec
	Archives         *prometheus.CounterVec
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Recomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perprisk_recomputes_total",
			Help: "Position recomputes by outcome",
		}, []string{"result"}),
		RecomputeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "perprisk_recompute_duration_seconds",
			Help:    "Wall time of one account recompute including I/O",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		Positions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perprisk_positions",
			Help: "Derived positions in the last recompute",
		}, []string{"account"}),
		LowCollateral: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perprisk_low_collateral_positions",
			Help: "Positions flagged low collateral in the last recompute",
		}, []string{"account"}),
		DroppedKeys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perprisk_dropped_keys_total",
			Help: "Positions skipped by the aggregator for missing reference data",
		}, []string{"reason"}),
		ExpiredHints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perprisk_expired_pending_updates_total",
			Help: "Pending update hints removed as stale or unattached",
		}),
		PendingUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perprisk_pending_updates_total",
			Help: "Pending update hints registered",
		}),
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perprisk_events_ingested_total",
			Help: "Ledger events ingested",
		}, []string{"kind", "duplicate"}),
		Archives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perprisk_archives_total",
			Help: "Archive uploads by kind and outcome",
		}, []string{"kind", "result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Recomputes,
		m.RecomputeSeconds,
		m.Positions,
		m.LowCollateral,
		m.DroppedKeys,
		m.ExpiredHints,
		m.PendingUpdates,
		m.EventsIngested,
		m.Archives,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRecompute records one recompute outcome and its duration.
func (m *Metrics) ObserveRecompute(result string, started time.Time) {
	m.Recomputes.WithLabelValues(result).Inc()
	m.RecomputeSeconds.Observe(time.Since(started).Seconds())
}
