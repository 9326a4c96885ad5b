package metrics

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// MetricsCollector centralizes all metrics recording for the scrape runner.
// It satisfies orchestrator.MetricsRecorder and adds pool and flow surface
// for the rest of the runner.
type MetricsCollector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewMetricsCollector creates a new MetricsCollector instance
func NewMetricsCollector(namespace string, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

// ObserveWait records one synchronization wait
func (mc *MetricsCollector) ObserveWait(kind, outcome string, elapsed time.Duration) {
	mc.prometheus.ObserveWait(kind, outcome, elapsed)
}

// ContextEntered records a frame or shadow-root entry
func (mc *MetricsCollector) ContextEntered(kind string) {
	mc.prometheus.ContextEntered(kind)
}

// WindowSwitched records a window focus switch
func (mc *MetricsCollector) WindowSwitched() {
	mc.prometheus.WindowSwitched()
}

// UpdateBrowserPoolSize updates the browser pool size metric
func (mc *MetricsCollector) UpdateBrowserPoolSize(size int) {
	mc.prometheus.UpdateBrowserPoolSize(float64(size))
}

// UpdateBrowserAvailable updates the available browser instances metric
func (mc *MetricsCollector) UpdateBrowserAvailable(available int) {
	mc.prometheus.UpdateBrowserAvailable(float64(available))
}

// RecordFlow records a scrape flow outcome
func (mc *MetricsCollector) RecordFlow(status string) {
	mc.prometheus.RecordFlow(status)
}

// RecordError records an error by type
func (mc *MetricsCollector) RecordError(errorType string) {
	mc.prometheus.RecordError(errorType)
}

// ServeHTTP serves the Prometheus metrics endpoint
func (mc *MetricsCollector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	mc.prometheus.ServeHTTP(ctx)
}
