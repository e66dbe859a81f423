package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "dnsbatch"

// Health and scrape endpoints are not counted as API traffic.
var unrecordedPaths = map[string]struct{}{
	"/metrics": {},
	"/livez":   {},
	"/readyz":  {},
}

// Metrics holds the Prometheus collectors for the API, the processor and the retry scanner.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpLatency         *prometheus.HistogramVec
	submitted           prometheus.Counter
	submitRateLimited   prometheus.Counter
	batchesCompleted    *prometheus.CounterVec
	singleChangeResults *prometheus.CounterVec
	applyLatency        *prometheus.HistogramVec
	inflight            prometheus.Gauge
	retriesScheduled    *prometheus.CounterVec
	retriesRepublished  prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batch_changes_submitted_total",
			Help:      "Batch changes accepted and queued for processing.",
		}),
		submitRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batch_changes_rate_limited_total",
			Help:      "Batch change submissions rejected by the per-user rate limit.",
		}),
		batchesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batch_changes_completed_total",
			Help:      "Batch changes that reached a terminal status, by status.",
		}, []string{"status"}),
		singleChangeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "single_changes_total",
			Help:      "Single changes that reached a terminal status, by outcome.",
		}, []string{"outcome"}),
		applyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "processor",
			Name:      "apply_duration_seconds",
			Help:      "Record set apply latency, by change type.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"change_type"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "processor",
			Name:      "inflight_batch_changes",
			Help:      "Batch changes currently being processed.",
		}),
		retriesScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "processor",
			Name:      "retries_scheduled_total",
			Help:      "Single changes scheduled for another attempt after a transient failure, by change type.",
		}, []string{"change_type"}),
		retriesRepublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "retry_scanner",
			Name:      "republished_total",
			Help:      "Batch changes republished by the retry scanner.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpLatency,
		m.submitted,
		m.submitRateLimited,
		m.batchesCompleted,
		m.singleChangeResults,
		m.applyLatency,
		m.inflight,
		m.retriesScheduled,
		m.retriesRepublished,
	)

	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// HTTPMiddleware records one request count and latency sample per matched route.
func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := routePath(c)
		if _, skip := unrecordedPaths[route]; skip {
			return err
		}

		m.observeHTTP(c.Method(), route, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncBatchChangeSubmitted() {
	if m == nil {
		return
	}
	m.submitted.Inc()
}

func (m *Metrics) IncSubmissionRateLimited() {
	if m == nil {
		return
	}
	m.submitRateLimited.Inc()
}

func (m *Metrics) IncBatchChangeCompleted(status string) {
	if m == nil {
		return
	}
	m.batchesCompleted.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) IncSingleChangeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.singleChangeResults.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveApplyDuration(changeType string, d time.Duration) {
	if m == nil {
		return
	}
	m.applyLatency.WithLabelValues(normalizeLabel(changeType)).Observe(max(d, 0).Seconds())
}

func (m *Metrics) IncProcessorInFlight() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) DecProcessorInFlight() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}

func (m *Metrics) IncRetryScheduled(changeType string) {
	if m == nil {
		return
	}
	m.retriesScheduled.WithLabelValues(normalizeLabel(changeType)).Inc()
}

func (m *Metrics) IncRetryRepublished() {
	if m == nil {
		return
	}
	m.retriesRepublished.Inc()
}

func (m *Metrics) observeHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "UNKNOWN"
	}

	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// routePath uses the registered route pattern so path parameters do not explode label cardinality.
func routePath(c *fiber.Ctx) string {
	if route := c.Route(); route != nil {
		if p := strings.TrimSpace(route.Path); p != "" {
			return p
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case err != nil:
		return fiber.StatusInternalServerError
	}

	if status := c.Response().StatusCode(); status != 0 {
		return status
	}
	return fiber.StatusOK
}

func normalizeLabel(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return "unknown"
	}
	return v
}
