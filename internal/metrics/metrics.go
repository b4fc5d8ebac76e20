// Package metrics provides Prometheus metrics for the overlap engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	EventsProcessed   prometheus.Counter
	EventErrors       prometheus.Counter
	BatchDuration     prometheus.Histogram
	SessionsSwept     *prometheus.CounterVec
	OverlapsDetected  *prometheus.CounterVec
	StreamConnections prometheus.Gauge
	StreamEventsSent  prometheus.Counter
	TasksSubmitted    *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlap_events_processed_total",
			Help: "Total telemetry events successfully processed.",
		}),
		EventErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlap_event_errors_total",
			Help: "Total per-event errors recorded during ingest.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "overlap_batch_duration_seconds",
			Help:    "Ingest batch processing duration.",
			Buckets: prometheus.DefBuckets,
		}),
		SessionsSwept: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlap_sessions_swept_total",
				Help: "Sessions demoted by the staleness sweep, by transition.",
			},
			[]string{"transition"},
		),
		OverlapsDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlap_overlaps_detected_total",
				Help: "Overlaps recorded by the detector, by type.",
			},
			[]string{"type"},
		),
		StreamConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overlap_stream_connections",
			Help: "Currently open live-stream connections.",
		}),
		StreamEventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlap_stream_events_sent_total",
			Help: "Incremental activity events pushed to stream subscribers.",
		}),
		TasksSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlap_tasks_submitted_total",
				Help: "Background enrichment tasks submitted, by name and outcome.",
			},
			[]string{"name", "outcome"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlap_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.EventsProcessed)
	reg.MustRegister(m.EventErrors)
	reg.MustRegister(m.BatchDuration)
	reg.MustRegister(m.SessionsSwept)
	reg.MustRegister(m.OverlapsDetected)
	reg.MustRegister(m.StreamConnections)
	reg.MustRegister(m.StreamEventsSent)
	reg.MustRegister(m.TasksSubmitted)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordIngest records one processed batch.
func (m *Metrics) RecordIngest(processed, errs int) {
	m.EventsProcessed.Add(float64(processed))
	m.EventErrors.Add(float64(errs))
}

// RecordSweep records sweep demotions.
func (m *Metrics) RecordSweep(transition string, count int64) {
	m.SessionsSwept.WithLabelValues(transition).Add(float64(count))
}

// RecordOverlap increments the overlap counter for a detection type.
func (m *Metrics) RecordOverlap(overlapType string) {
	m.OverlapsDetected.WithLabelValues(overlapType).Inc()
}

// RecordTask records a background task submission outcome.
func (m *Metrics) RecordTask(name, outcome string) {
	m.TasksSubmitted.WithLabelValues(name, outcome).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}
