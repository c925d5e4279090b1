package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the
// conflict sweeper.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	sweepConflicts  *prometheus.GaugeVec
	sweepFailures   prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "conflict_sweep_duration_seconds",
		Help:    "Duration of per-tenant conflict sweeps",
		Buckets: prometheus.DefBuckets,
	})

	sweepConflicts := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conflict_sweep_detected",
		Help: "Conflicts detected by the last sweep, per tenant",
	}, []string{"tenant"})

	sweepFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conflict_sweep_failures_total",
		Help: "Total failed conflict sweeps",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, sweepDuration, sweepConflicts, sweepFailures, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		sweepDuration:   sweepDuration,
		sweepConflicts:  sweepConflicts,
		sweepFailures:   sweepFailures,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveSweep records the outcome of one tenant's conflict sweep.
func (m *MetricsService) ObserveSweep(tenantID string, conflicts int, duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
	m.sweepConflicts.WithLabelValues(tenantID).Set(float64(conflicts))
}

// IncSweepFailure counts a failed sweep.
func (m *MetricsService) IncSweepFailure() {
	if m == nil {
		return
	}
	m.sweepFailures.Inc()
}
