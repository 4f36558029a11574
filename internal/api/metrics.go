package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ignite/adpulse/internal/domain"
)

// PromMetrics implements the collector's metrics hook on a Prometheus
// registry, exposed at /metrics.
type PromMetrics struct {
	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	runDuration prometheus.Histogram
	runsTotal   prometheus.Counter
}

// NewPromMetrics registers the collection metrics on the given registry.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	factory := promauto.With(reg)
	return &PromMetrics{
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "adpulse_collection_jobs_total",
			Help: "Collection jobs by platform and outcome state.",
		}, []string{"platform", "state"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adpulse_collection_job_duration_seconds",
			Help:    "Duration of individual collection jobs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "adpulse_refresh_run_duration_seconds",
			Help:    "Duration of full refresh runs.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800},
		}),
		runsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "adpulse_refresh_runs_total",
			Help: "Completed refresh runs.",
		}),
	}
}

// JobFinished records one collection job outcome.
func (m *PromMetrics) JobFinished(platform string, state domain.CollectionState, d time.Duration) {
	m.jobsTotal.WithLabelValues(platform, string(state)).Inc()
	m.jobDuration.WithLabelValues(platform).Observe(d.Seconds())
}

// RunFinished records one completed refresh run.
func (m *PromMetrics) RunFinished(d time.Duration) {
	m.runsTotal.Inc()
	m.runDuration.Observe(d.Seconds())
}
