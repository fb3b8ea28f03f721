package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dunamismax/pixelserve/internal/fault"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	transformDuration *prometheus.HistogramVec
	pipelineFailures  *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelserve_http_requests_total",
			Help: "Total HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelserve_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		transformDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelserve_transform_duration_seconds",
			Help:    "End-to-end transform latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode", "format"}),
		pipelineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelserve_pipeline_failures_total",
			Help: "Total pipeline failures by fault kind.",
		}, []string{"kind"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.transformDuration,
		m.pipelineFailures,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeTransform(mode, format string, elapsed time.Duration) {
	m.transformDuration.WithLabelValues(mode, format).Observe(elapsed.Seconds())
}

func (m *metrics) observeFailure(kind fault.Kind) {
	m.pipelineFailures.WithLabelValues(string(kind)).Inc()
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := strconv.Itoa(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/images/"):
		return "/v1/images/{key}"
	case strings.HasPrefix(path, "/assets/images/"):
		return "/assets/images/{key}"
	case strings.HasPrefix(path, "/healthz"):
		return "/healthz"
	case strings.HasPrefix(path, "/metrics"):
		return "/metrics"
	default:
		return path
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush keeps the streaming route's progressive delivery working through the
// middleware wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
