package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the churn pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Pipeline metrics
	recordsNormalized *prometheus.CounterVec
	fieldsDefaulted   *prometheus.CounterVec
	featuresDerived   prometheus.Counter
	ratioFallbacks    *prometheus.CounterVec
	stageLatency      *prometheus.HistogramVec

	// Decision metrics
	predictions *prometheus.CounterVec
	storedTotal prometheus.Gauge

	// Adapter metrics
	scorerRequests *prometheus.CounterVec
	trackingRuns   *prometheus.CounterVec
	alertsSent     prometheus.Counter

	// Alert queue metrics
	alertQueueSize  prometheus.Gauge
	alertsDropped   *prometheus.CounterVec
	alertWorkerBusy prometheus.Gauge

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorRateByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// Init replaces the global manager with one built from opts on a fresh
// registry. Call it once at startup, before any handler reads GetRegistry.
func Init(opts ...Option) {
	registry := prometheus.NewRegistry()
	globalManager = NewManager(append([]Option{WithPrometheusRegistry(registry)}, opts...)...)
	customRegistry = registry
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "churngym",
		subsystem:        "pipeline",
		histogramBuckets: []float64{0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.recordsNormalized = auto.NewCounterVec(
		m.counterOpts("records_normalized_total", "Total number of raw member records normalized"),
		[]string{"variant"},
	)
	m.fieldsDefaulted = auto.NewCounterVec(
		m.counterOpts("fields_defaulted_total", "Fields replaced by the missing sentinel during normalization"),
		[]string{"field"},
	)
	m.featuresDerived = auto.NewCounter(
		m.counterOpts("features_derived_total", "Total number of feature vectors derived"),
	)
	m.ratioFallbacks = auto.NewCounterVec(
		m.counterOpts("ratio_fallbacks_total", "Ratio features that fell back to 0.0"),
		[]string{"feature"},
	)
	m.stageLatency = auto.NewHistogramVec(
		m.histogramOpts("stage_latency_milliseconds", "Latency of a pipeline stage over a whole batch"),
		[]string{"stage"},
	)

	m.predictions = auto.NewCounterVec(
		m.counterOpts("predictions_total", "Predictions produced by risk level and label"),
		[]string{"risk_level", "label"},
	)
	m.storedTotal = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "stored_predictions",
		Help:        "Number of members with a stored prediction",
		ConstLabels: m.constLabels,
	})

	m.scorerRequests = auto.NewCounterVec(
		m.counterOpts("scorer_requests_total", "Requests sent to the external scorer by outcome"),
		[]string{"outcome"},
	)
	m.trackingRuns = auto.NewCounterVec(
		m.counterOpts("tracking_runs_total", "Tracked runs by terminal status"),
		[]string{"status"},
	)
	m.alertsSent = auto.NewCounter(
		m.counterOpts("alerts_sent_total", "High-risk alert messages delivered"),
	)

	m.alertQueueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "alert_queue_size",
		Help:        "Alert batches waiting for delivery",
		ConstLabels: m.constLabels,
	})
	m.alertsDropped = auto.NewCounterVec(
		m.counterOpts("alerts_dropped_total", "Alerts that were suppressed or failed, by reason"),
		[]string{"reason"},
	)
	m.alertWorkerBusy = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "alert_workers_busy",
		Help:        "Alert workers currently delivering a batch",
		ConstLabels: m.constLabels,
	})

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds"),
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorRateByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Total number of errors by component"),
		[]string{"component", "error_type"},
	)
}

// RecordNormalized adds n normalized records for the given pipeline variant.
func RecordNormalized(variant string, n int) {
	globalManager.recordsNormalized.WithLabelValues(variant).Add(float64(n))
}

// RecordFieldDefaulted increments the defaulted-field counter.
func RecordFieldDefaulted(field string) {
	globalManager.fieldsDefaulted.WithLabelValues(field).Inc()
}

// RecordFeaturesDerived adds n derived feature vectors.
func RecordFeaturesDerived(n int) {
	globalManager.featuresDerived.Add(float64(n))
}

// RecordRatioFallback increments the fallback counter for a ratio feature.
func RecordRatioFallback(feature string) {
	globalManager.ratioFallbacks.WithLabelValues(feature).Inc()
}

// RecordStageLatency records the latency of a pipeline stage in milliseconds.
func RecordStageLatency(stage string, latencyMs float64) {
	globalManager.stageLatency.WithLabelValues(stage).Observe(latencyMs)
}

// RecordPrediction increments the prediction counter.
func RecordPrediction(riskLevel, label string) {
	globalManager.predictions.WithLabelValues(riskLevel, label).Inc()
}

// UpdateStoredPredictions sets the number of stored predictions.
func UpdateStoredPredictions(count int) {
	globalManager.storedTotal.Set(float64(count))
}

// RecordScorerRequest increments the scorer request counter.
func RecordScorerRequest(outcome string) {
	globalManager.scorerRequests.WithLabelValues(outcome).Inc()
}

// RecordTrackingRun increments the tracked run counter.
func RecordTrackingRun(status string) {
	globalManager.trackingRuns.WithLabelValues(status).Inc()
}

// RecordAlertSent increments the alert counter.
func RecordAlertSent() {
	globalManager.alertsSent.Inc()
}

// UpdateAlertQueueSize sets the number of queued alert batches.
func UpdateAlertQueueSize(size int) {
	globalManager.alertQueueSize.Set(float64(size))
}

// RecordAlertDropped increments the dropped alert counter.
func RecordAlertDropped(reason string) {
	globalManager.alertsDropped.WithLabelValues(reason).Inc()
}

// AddAlertWorkerBusy adjusts the busy alert worker gauge by delta.
func AddAlertWorkerBusy(delta int) {
	globalManager.alertWorkerBusy.Add(float64(delta))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
