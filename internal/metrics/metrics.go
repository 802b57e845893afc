// Package metrics provides a self-contained Prometheus registry with HTTP
// and upload instrumentation. Each server owns its own registry, so multiple
// instances in one process (or one test binary) never collide.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stash"

// Metrics bundles the registry and every collector the server feeds.
type Metrics struct {
	reg      *prometheus.Registry
	inflight prometheus.Gauge
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	uploadsBegun     prometheus.Counter
	uploadsCompleted prometheus.Counter
	uploadsAborted   prometheus.Counter
	partsReceived    prometheus.Counter
	partBytes        prometheus.Counter
}

// New creates a Metrics instance with a fresh registry and registers its
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of inflight HTTP requests.",
	})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests processed, partitioned by status code and method.",
	}, []string{"code", "method"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Histogram of latencies for HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"code", "method"})

	uploadsBegun := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "uploads",
		Name:      "begun_total",
		Help:      "Total number of multipart uploads initiated.",
	})
	uploadsCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "uploads",
		Name:      "completed_total",
		Help:      "Total number of multipart uploads completed.",
	})
	uploadsAborted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "uploads",
		Name:      "aborted_total",
		Help:      "Total number of multipart uploads aborted.",
	})
	partsReceived := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "uploads",
		Name:      "parts_received_total",
		Help:      "Total number of upload parts accepted.",
	})
	partBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "uploads",
		Name:      "part_bytes_total",
		Help:      "Total bytes accepted across all upload parts.",
	})

	for _, c := range []prometheus.Collector{
		inflight, requests, latency,
		uploadsBegun, uploadsCompleted, uploadsAborted, partsReceived, partBytes,
	} {
		reg.MustRegister(c)
	}

	return &Metrics{
		reg:              reg,
		inflight:         inflight,
		requests:         requests,
		latency:          latency,
		uploadsBegun:     uploadsBegun,
		uploadsCompleted: uploadsCompleted,
		uploadsAborted:   uploadsAborted,
		partsReceived:    partsReceived,
		partBytes:        partBytes,
	}
}

// Handler returns an http.Handler that serves the internal registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, letting callers attach
// additional collectors such as gauges over live state.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// WatchActiveUploads registers a gauge that reports fn on every scrape.
func (m *Metrics) WatchActiveUploads(fn func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "uploads",
		Name:      "active_sessions",
		Help:      "Number of live multipart upload sessions.",
	}, fn))
}

// UploadBegun records one initiated multipart upload.
func (m *Metrics) UploadBegun() {
	m.uploadsBegun.Inc()
}

// UploadCompleted records one completed multipart upload.
func (m *Metrics) UploadCompleted() {
	m.uploadsCompleted.Inc()
}

// UploadAborted records one aborted multipart upload.
func (m *Metrics) UploadAborted() {
	m.uploadsAborted.Inc()
}

// PartReceived records one accepted upload part and its payload size.
func (m *Metrics) PartReceived(size int) {
	m.partsReceived.Inc()
	m.partBytes.Add(float64(size))
}

// statusRecorder captures the HTTP status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware wraps an http.Handler to collect the inflight gauge, the
// request counter, and the request duration histogram.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.inflight.Inc()
		defer m.inflight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		code := strconv.Itoa(rec.status)
		elapsed := time.Since(start).Seconds()

		m.requests.WithLabelValues(code, r.Method).Inc()
		m.latency.WithLabelValues(code, r.Method).Observe(elapsed)
	})
}
