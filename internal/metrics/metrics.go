// Package metrics exposes pipeline counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "terarelay"

// Outcome labels for Requests.
const (
	OutcomeDone      = "done"
	OutcomeFailed    = "failed"
	OutcomeInvalid   = "invalid"
	OutcomeStale     = "stale"
	OutcomeAwaiting  = "awaiting_choice"
	OutcomeArchiveKO = "archive_failed"
)

// Metrics holds the collectors on a private registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	BytesDownloaded prometheus.Counter
	Inflight        prometheus.Gauge
	SessionsEvicted prometheus.Counter
	FilesSwept      prometheus.Counter
}

// New registers all collectors plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Pipeline requests by flow and outcome.",
		}, []string{"flow", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of resolve, download and upload stages.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 180, 600},
		}, []string{"stage", "result"}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes written to the download directory.",
		}),
		Inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_requests",
			Help:      "Requests currently running a pipeline stage.",
		}),
		SessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Expired session entries removed by the sweeper.",
		}),
		FilesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_files_removed_total",
			Help:      "Leftover download files removed by the sweeper.",
		}),
	}
	reg.MustRegister(
		m.Requests,
		m.StageDuration,
		m.BytesDownloaded,
		m.Inflight,
		m.SessionsEvicted,
		m.FilesSwept,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Request counts one finished request.
func (m *Metrics) Request(flow, outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(flow, outcome).Inc()
}

// Stage observes a stage duration measured from start.
func (m *Metrics) Stage(stage string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.StageDuration.WithLabelValues(stage, result).Observe(time.Since(start).Seconds())
}

// Downloaded adds n bytes.
func (m *Metrics) Downloaded(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesDownloaded.Add(float64(n))
}

// Track increments Inflight and returns the matching decrement.
func (m *Metrics) Track() func() {
	if m == nil {
		return func() {}
	}
	m.Inflight.Inc()
	return m.Inflight.Dec
}

// Swept records one sweeper run.
func (m *Metrics) Swept(sessions, files int) {
	if m == nil {
		return
	}
	m.SessionsEvicted.Add(float64(sessions))
	m.FilesSwept.Add(float64(files))
}
