package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/david/grant-scraper/internal/models"
	"github.com/david/grant-scraper/internal/ports"
)

// Metrics exposes the pipeline's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal      *prometheus.CounterVec
	jobsRunning    prometheus.Gauge
	grantsTotal    *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	scrapeDuration *prometheus.HistogramVec
}

// NewMetrics builds and registers the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_jobs_total",
			Help: "Jobs finished, by terminal status.",
		}, []string{"status"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_jobs_running",
			Help: "Jobs currently executing.",
		}),
		grantsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_grants_total",
			Help: "Grants handled per source, by upsert outcome.",
		}, []string{"source", "action"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Scrape errors by taxonomy type and source.",
		}, []string{"type", "source"}),
		scrapeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_scrape_duration_seconds",
			Help:    "Wall time of one orchestrated scrape.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"source"}),
	}
	m.registry.MustRegister(m.jobsTotal, m.jobsRunning, m.grantsTotal, m.errorsTotal, m.scrapeDuration)
	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// JobStarted marks a job entering execution.
func (m *Metrics) JobStarted() { m.jobsRunning.Inc() }

// JobFinished marks a job leaving execution with its terminal status.
func (m *Metrics) JobFinished(status models.JobStatus) {
	m.jobsRunning.Dec()
	m.jobsTotal.WithLabelValues(string(status)).Inc()
}

// GrantHandled counts one upsert outcome for a source.
func (m *Metrics) GrantHandled(sourceID string, action ports.UpsertAction) {
	m.grantsTotal.WithLabelValues(sourceID, string(action)).Inc()
}

// ErrorOccurred counts one classified error.
func (m *Metrics) ErrorOccurred(sourceID string, t models.ErrorType) {
	m.errorsTotal.WithLabelValues(string(t), sourceID).Inc()
}

// ScrapeCompleted records the duration of one scrape in seconds.
func (m *Metrics) ScrapeCompleted(sourceID string, seconds float64) {
	m.scrapeDuration.WithLabelValues(sourceID).Observe(seconds)
}
