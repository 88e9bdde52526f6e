// Package metrics provides Prometheus metrics for the swap bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Worker state values exported by the worker_state gauge.
const (
	WorkerStateIdle       = 0
	WorkerStateProcessing = 1
	WorkerStateFailed     = 2
)

// Manager manages all Prometheus metrics for the bridge.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Ingress
	classificationsReceived  prometheus.Counter
	classificationsAccepted  prometheus.Counter
	classificationsDuplicate prometheus.Counter
	classificationsRejected  *prometheus.CounterVec

	// Control bridge
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueueErrors prometheus.Counter
	workerState        prometheus.Gauge
	itemsProcessed     *prometheus.CounterVec
	processingLatency  prometheus.Histogram
	subjectsTracked    prometheus.Gauge
	archiveErrors      prometheus.Counter

	// Outbound
	notificationsSent   prometheus.Counter
	notificationsFailed *prometheus.CounterVec
	notifyLatency       prometheus.Histogram
	logins              *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "swap",
		subsystem:        "bridge",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) initializeMetrics() {
	m.classificationsReceived = m.counter("classifications_received_total", "Classifications received on /classify")
	m.classificationsAccepted = m.counter("classifications_accepted_total", "Classifications enqueued for scoring")
	m.classificationsDuplicate = m.counter("classifications_duplicate_total", "Classifications dropped as recent duplicates")
	m.classificationsRejected = m.counterVec("classifications_rejected_total", "Classifications rejected at ingress", "reason")

	m.queueSize = m.gauge("queue_size", "Work items waiting for the worker")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum number of queued work items")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Enqueue attempts refused by the queue")
	m.workerState = m.gauge("worker_state", "Worker state: 0 idle, 1 processing, 2 failed")
	m.itemsProcessed = m.counterVec("items_processed_total", "Work items taken off the queue", "action", "outcome")
	m.processingLatency = m.histogram("processing_latency_ms", "Scoring engine latency per work item in milliseconds")
	m.subjectsTracked = m.gauge("subjects_tracked", "Subjects present in the latest score snapshot")
	m.archiveErrors = m.counter("archive_errors_total", "Classification archive write failures")

	m.notificationsSent = m.counter("notifications_sent_total", "Score notifications accepted by the remote service")
	m.notificationsFailed = m.counterVec("notifications_failed_total", "Score notifications that failed", "reason")
	m.notifyLatency = m.histogram("notify_latency_ms", "Outbound notification latency in milliseconds")
	m.logins = m.counterVec("logins_total", "Bearer token login attempts", "mode", "outcome")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")
}

// Ingress Metrics Functions.

// RecordClassificationReceived increments the received counter.
func RecordClassificationReceived() { globalManager.classificationsReceived.Inc() }

// RecordClassificationAccepted increments the accepted counter.
func RecordClassificationAccepted() { globalManager.classificationsAccepted.Inc() }

// RecordClassificationDuplicate increments the duplicate counter.
func RecordClassificationDuplicate() { globalManager.classificationsDuplicate.Inc() }

// RecordClassificationRejected increments the rejected counter for reason.
func RecordClassificationRejected(reason string) {
	globalManager.classificationsRejected.WithLabelValues(reason).Inc()
}

// Control Bridge Metrics Functions.

// UpdateQueueSize sets the current queue depth.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// UpdateWorkerState sets the worker state gauge (see WorkerState* constants).
func UpdateWorkerState(state int) { globalManager.workerState.Set(float64(state)) }

// RecordItemProcessed counts a dequeued work item by action and outcome.
func RecordItemProcessed(action, outcome string) {
	globalManager.itemsProcessed.WithLabelValues(action, outcome).Inc()
}

// RecordProcessingLatency records scoring latency for one work item.
func RecordProcessingLatency(latencyMs float64) { globalManager.processingLatency.Observe(latencyMs) }

// UpdateSubjectsTracked sets the number of subjects in the latest snapshot.
func UpdateSubjectsTracked(count int) { globalManager.subjectsTracked.Set(float64(count)) }

// RecordArchiveError increments the archive error counter.
func RecordArchiveError() { globalManager.archiveErrors.Inc() }

// Outbound Metrics Functions.

// RecordNotificationSent increments the sent counter.
func RecordNotificationSent() { globalManager.notificationsSent.Inc() }

// RecordNotificationFailed increments the failure counter for reason.
func RecordNotificationFailed(reason string) {
	globalManager.notificationsFailed.WithLabelValues(reason).Inc()
}

// RecordNotifyLatency records a notification round trip.
func RecordNotifyLatency(latencyMs float64) { globalManager.notifyLatency.Observe(latencyMs) }

// RecordLogin counts a login attempt.
func RecordLogin(mode, outcome string) { globalManager.logins.WithLabelValues(mode, outcome).Inc() }

// HTTP Metrics Functions.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
