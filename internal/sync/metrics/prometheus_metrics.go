package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// PrometheusMetrics provides metrics collection for the scrape runner
type PrometheusMetrics struct {
	// Browser pool metrics
	browserPoolSize  prometheus.Gauge
	browserAvailable prometheus.Gauge

	// Synchronization metrics
	waitsTotal     *prometheus.CounterVec
	waitDuration   *prometheus.HistogramVec
	contextEntries *prometheus.CounterVec
	windowSwitches prometheus.Counter

	// Flow metrics
	flowsTotal *prometheus.CounterVec

	// Error metrics
	errorsTotal *prometheus.CounterVec

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics creates a new Prometheus-based metrics collector
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry creates a new Prometheus-based metrics collector with custom registry
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		logger: logger,
	}

	// Browser pool metrics
	pm.browserPoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sr",
		Name:      "browser_pool_size",
		Help:      "Total number of browser instances in the pool",
	})

	pm.browserAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sr",
		Name:      "browser_available",
		Help:      "Number of available browser instances",
	})

	// Synchronization metrics
	pm.waitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sr",
		Name:      "waits_total",
		Help:      "Total synchronization waits by kind and outcome",
	}, []string{"kind", "outcome"}) // outcome: ok, timeout, error

	pm.waitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sr",
		Name:      "wait_duration_seconds",
		Help:      "Time spent in synchronization waits",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	}, []string{"kind"})

	pm.contextEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sr",
		Name:      "context_entries_total",
		Help:      "Total nested context entries by kind",
	}, []string{"kind"}) // kind: frame, shadow

	pm.windowSwitches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sr",
		Name:      "window_switches_total",
		Help:      "Total window focus switches",
	})

	// Flow metrics
	pm.flowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sr",
		Name:      "flows_total",
		Help:      "Total scrape flow executions by status",
	}, []string{"status"}) // status: success, error, timeout

	// Error metrics
	pm.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sr",
		Name:      "errors_total",
		Help:      "Total errors by type",
	}, []string{"type"}) // type: session, browser, config, internal

	// Register all metrics
	registerer.MustRegister(
		pm.browserPoolSize,
		pm.browserAvailable,
		pm.waitsTotal,
		pm.waitDuration,
		pm.contextEntries,
		pm.windowSwitches,
		pm.flowsTotal,
		pm.errorsTotal,
	)

	// Create HTTP handler
	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Info("Scrape runner Prometheus metrics initialized")
	return pm
}

// ObserveWait records one synchronization wait
func (pm *PrometheusMetrics) ObserveWait(kind, outcome string, elapsed time.Duration) {
	pm.waitsTotal.WithLabelValues(kind, outcome).Inc()
	pm.waitDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ContextEntered records a frame or shadow-root entry
func (pm *PrometheusMetrics) ContextEntered(kind string) {
	pm.contextEntries.WithLabelValues(kind).Inc()
}

// WindowSwitched records a window focus switch
func (pm *PrometheusMetrics) WindowSwitched() {
	pm.windowSwitches.Inc()
}

// UpdateBrowserPoolSize updates the browser pool size metric
func (pm *PrometheusMetrics) UpdateBrowserPoolSize(size float64) {
	pm.browserPoolSize.Set(size)
}

// UpdateBrowserAvailable updates the available browser instances metric
func (pm *PrometheusMetrics) UpdateBrowserAvailable(available float64) {
	pm.browserAvailable.Set(available)
}

// RecordFlow records a scrape flow outcome
func (pm *PrometheusMetrics) RecordFlow(status string) {
	pm.flowsTotal.WithLabelValues(status).Inc()
}

// RecordError records an error by type
func (pm *PrometheusMetrics) RecordError(errorType string) {
	pm.errorsTotal.WithLabelValues(errorType).Inc()
}

// ServeHTTP serves Prometheus metrics via HTTP
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}
