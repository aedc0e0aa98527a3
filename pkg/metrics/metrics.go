// Package metrics exposes scrape progress as Prometheus collectors.
//
// Every method is safe on a nil *Metrics so components can record
// unconditionally while metrics are disabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for a scrape run
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  prometheus.Histogram
	RetriesTotal     prometheus.Counter
	ImagesSavedTotal prometheus.Counter
	MissesTotal      *prometheus.CounterVec
	ScrollsTotal     prometheus.Counter
	JobsTotal        *prometheus.CounterVec
	ActiveJobs       prometheus.Gauge
}

// New constructs and registers all collectors on a dedicated registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgscraper_image_requests_total",
			Help: "Image download attempts by HTTP status class.",
		},
		[]string{"status"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imgscraper_image_request_duration_seconds",
			Help:    "Latency of image downloads.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imgscraper_retries_total",
			Help: "Download retries scheduled after transient failures.",
		},
	)
	saved := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imgscraper_images_saved_total",
			Help: "Images accepted and written to disk.",
		},
	)
	misses := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgscraper_misses_total",
			Help: "Candidate URLs rejected, by reason.",
		},
		[]string{"reason"},
	)
	scrolls := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imgscraper_scroll_cycles_total",
			Help: "Scroll cycles performed across all search keys.",
		},
	)
	jobs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgscraper_jobs_total",
			Help: "Finished search key jobs by stop reason.",
		},
		[]string{"reason"},
	)
	active := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgscraper_active_jobs",
			Help: "Search key jobs currently running.",
		},
	)

	registry.MustRegister(requests, requestDuration, retries, saved, misses, scrolls, jobs, active)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		RetriesTotal:     retries,
		ImagesSavedTotal: saved,
		MissesTotal:      misses,
		ScrollsTotal:     scrolls,
		JobsTotal:        jobs,
		ActiveJobs:       active,
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one download attempt
func (m *Metrics) ObserveRequest(status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(statusClass(status)).Inc()
	m.RequestDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncSaved increments the saved images counter
func (m *Metrics) IncSaved() {
	if m == nil {
		return
	}
	m.ImagesSavedTotal.Inc()
}

// IncMiss increments the misses counter for a reason label
func (m *Metrics) IncMiss(reason string) {
	if m == nil {
		return
	}
	m.MissesTotal.WithLabelValues(reason).Inc()
}

// IncScrolls increments the scroll cycle counter
func (m *Metrics) IncScrolls() {
	if m == nil {
		return
	}
	m.ScrollsTotal.Inc()
}

// JobStarted marks a job as running
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.ActiveJobs.Inc()
}

// JobFinished records a job's stop reason and marks it as no longer running
func (m *Metrics) JobFinished(reason string) {
	if m == nil {
		return
	}
	m.ActiveJobs.Dec()
	m.JobsTotal.WithLabelValues(reason).Inc()
}

func statusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
