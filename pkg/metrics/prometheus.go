// Package metrics provides Prometheus metrics for the meeting batch service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Runs
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	usersTotal       *prometheus.CounterVec
	meetingsFetched  *prometheus.CounterVec
	meetingsPersist  *prometheus.CounterVec
	meetingsDupes    *prometheus.CounterVec
	publishTotal     *prometheus.CounterVec
	poolInFlight     *prometheus.GaugeVec
	lastRunTimestamp *prometheus.GaugeVec

	// Event queue
	queueSize     prometheus.Gauge
	queueEnqueues *prometheus.CounterVec

	// Calendar dependency
	fetchAttempts      *prometheus.CounterVec
	fetchRetries       *prometheus.CounterVec
	fetchLatency       *prometheus.HistogramVec
	fallbacks          *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	// Enrichment
	stageLatency     *prometheus.HistogramVec
	enrichmentErrors *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "meetsync",
		subsystem:        "batch",
		histogramBuckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.runsTotal = m.counterVec("runs_total", "Batch runs by kind and final status", "kind", "status")
	m.runDuration = m.histogramVec("run_duration_milliseconds", "Wall time of a batch run", "kind")
	m.usersTotal = m.counterVec("users_total", "Employees processed by kind and outcome", "kind", "outcome")
	m.meetingsFetched = m.counterVec("meetings_fetched_total", "Meetings returned by enrichment before dedupe", "kind")
	m.meetingsPersist = m.counterVec("meetings_persisted_total", "Meetings handed to the persistence gateway", "kind")
	m.meetingsDupes = m.counterVec("meetings_duplicate_total", "Meetings discarded by dedupe", "kind")
	m.publishTotal = m.counterVec("publish_total", "Downstream event publications by outcome", "outcome")
	m.poolInFlight = m.gaugeVec("pool_in_flight", "Employee tasks currently executing", "pool")
	m.lastRunTimestamp = m.gaugeVec("last_run_timestamp_seconds", "Unix time of the last finished run", "kind")

	m.queueSize = promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Events waiting in the in-memory queue",
	})
	m.queueEnqueues = m.counterVec("queue_enqueue_total", "Enqueue attempts by outcome", "outcome")

	m.fetchAttempts = m.counterVec("fetch_attempts_total", "Calls issued to an external dependency", "dependency", "outcome")
	m.fetchRetries = m.counterVec("fetch_retries_total", "Retries issued to an external dependency", "dependency")
	m.fetchLatency = m.histogramVec("fetch_latency_milliseconds", "Latency of one dependency call", "dependency")
	m.fallbacks = m.counterVec("fallbacks_total", "Fallback invocations by kind and source", "kind", "source")
	m.breakerState = m.gaugeVec("breaker_state", "Circuit state: 0 closed, 1 half-open, 2 open", "dependency")
	m.breakerTransitions = m.counterVec("breaker_transitions_total", "Circuit state transitions", "dependency", "to")

	m.stageLatency = m.histogramVec("stage_latency_milliseconds", "Latency of one enrichment stage for one employee", "stage")
	m.enrichmentErrors = m.counterVec("enrichment_errors_total", "Sub-resource lookups that fell back to empty", "stage")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")
}

// RecordRun counts a finished run and its duration.
func RecordRun(kind, status string, durationMs float64) {
	globalManager.runsTotal.WithLabelValues(kind, status).Inc()
	globalManager.runDuration.WithLabelValues(kind).Observe(durationMs)
}

// UpdateLastRunTimestamp sets the finish time of the last run of kind.
func UpdateLastRunTimestamp(kind string, unix float64) {
	globalManager.lastRunTimestamp.WithLabelValues(kind).Set(unix)
}

// RecordUsers adds n employees with the given outcome ("success" or "failure").
func RecordUsers(kind, outcome string, n int) {
	globalManager.usersTotal.WithLabelValues(kind, outcome).Add(float64(n))
}

// RecordMeetingsFetched adds n enriched meetings.
func RecordMeetingsFetched(kind string, n int) {
	globalManager.meetingsFetched.WithLabelValues(kind).Add(float64(n))
}

// RecordMeetingsPersisted adds n persisted meetings.
func RecordMeetingsPersisted(kind string, n int) {
	globalManager.meetingsPersist.WithLabelValues(kind).Add(float64(n))
}

// RecordMeetingDuplicates adds n discarded duplicates.
func RecordMeetingDuplicates(kind string, n int) {
	globalManager.meetingsDupes.WithLabelValues(kind).Add(float64(n))
}

// RecordPublish counts a publish attempt.
func RecordPublish(outcome string) {
	globalManager.publishTotal.WithLabelValues(outcome).Inc()
}

// AddPoolInFlight moves the in-flight gauge of pool by delta.
func AddPoolInFlight(pool string, delta int) {
	globalManager.poolInFlight.WithLabelValues(pool).Add(float64(delta))
}

// UpdateQueueSize sets the queue depth gauge.
func UpdateQueueSize(n int) {
	globalManager.queueSize.Set(float64(n))
}

// RecordQueueEnqueue counts an enqueue attempt ("accepted", "full", "closed", "cancelled").
func RecordQueueEnqueue(outcome string) {
	globalManager.queueEnqueues.WithLabelValues(outcome).Inc()
}

// RecordFetchAttempt counts one dependency call and its latency.
func RecordFetchAttempt(dependency, outcome string, latencyMs float64) {
	globalManager.fetchAttempts.WithLabelValues(dependency, outcome).Inc()
	globalManager.fetchLatency.WithLabelValues(dependency).Observe(latencyMs)
}

// RecordFetchRetry counts one retry.
func RecordFetchRetry(dependency string) {
	globalManager.fetchRetries.WithLabelValues(dependency).Inc()
}

// RecordFallback counts a fallback by source ("cache" or "none").
func RecordFallback(kind, source string) {
	globalManager.fallbacks.WithLabelValues(kind, source).Inc()
}

// UpdateBreakerState sets the breaker gauge and counts the transition.
func UpdateBreakerState(dependency, state string, value float64) {
	globalManager.breakerState.WithLabelValues(dependency).Set(value)
	globalManager.breakerTransitions.WithLabelValues(dependency, state).Inc()
}

// RecordStageLatency records the latency of one enrichment stage.
func RecordStageLatency(stage string, latencyMs float64) {
	globalManager.stageLatency.WithLabelValues(stage).Observe(latencyMs)
}

// RecordEnrichmentError counts a sub-resource failure that fell back to empty.
func RecordEnrichmentError(stage string) {
	globalManager.enrichmentErrors.WithLabelValues(stage).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// GetRegistry returns the registry holding the service metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
