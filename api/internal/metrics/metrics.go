package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the submission counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	submissionsTotal *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	archiveFailures  prometheus.Counter
	cacheLookups     *prometheus.CounterVec
}

func New(service string) *Metrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": service}

	submissionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "cards",
			Subsystem:   "workflow",
			Name:        "submissions_total",
			Help:        "Submissions by outcome status and source.",
			ConstLabels: labels,
		},
		[]string{"status", "source"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "cards",
			Subsystem:   "workflow",
			Name:        "stage_duration_seconds",
			Help:        "Duration of extract, archive and ledger stages.",
			Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
			ConstLabels: labels,
		},
		[]string{"stage"},
	)
	archiveFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "cards",
			Subsystem:   "archive",
			Name:        "failures_total",
			Help:        "Uploads that failed and produced a degraded ledger row.",
			ConstLabels: labels,
		},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "cards",
			Subsystem:   "extract",
			Name:        "cache_lookups_total",
			Help:        "Extraction cache lookups by result.",
			ConstLabels: labels,
		},
		[]string{"result"},
	)

	registry.MustRegister(
		submissionsTotal,
		stageDuration,
		archiveFailures,
		cacheLookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry:         registry,
		submissionsTotal: submissionsTotal,
		stageDuration:    stageDuration,
		archiveFailures:  archiveFailures,
		cacheLookups:     cacheLookups,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSubmission(status, source string) {
	if source == "" {
		source = "unknown"
	}
	m.submissionsTotal.WithLabelValues(status, source).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) ObserveArchiveFailure() { m.archiveFailures.Inc() }

func (m *Metrics) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
