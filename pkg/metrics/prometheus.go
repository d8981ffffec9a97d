// Package metrics provides Prometheus metrics for the iotreat feeder daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Every series is named iotreat_feeder_<name>.
const (
	namespace = "iotreat"
	subsystem = "feeder"
)

// defaultSampleInterval paces ProcessSampler.Run when no interval is given.
const defaultSampleInterval = 10 * time.Second

// Dispense duration buckets in seconds; a normal feed takes a few seconds and
// the safety timeout defaults to 30s.
var defaultDispenseBuckets = []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 21, 30, 45} //nolint:gochecknoglobals // bucket layout

// HTTP latency buckets in milliseconds for the local API.
var defaultHTTPBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000} //nolint:gochecknoglobals // bucket layout

// Manager manages all Prometheus metrics for the feeder.
type Manager struct {
	enabled      bool
	customLabels map[string]string
	registry     prometheus.Registerer

	// Feeding decisions
	detections     *prometheus.CounterVec
	cooldownBlocks *prometheus.CounterVec

	// Dispense attempts
	dispenseOutcomes     *prometheus.CounterVec
	dispenseDuration     prometheus.Histogram
	gramsDispensed       *prometheus.CounterVec
	sensorMissingSamples prometheus.Counter
	actuatorFaults       *prometheus.CounterVec

	// Live configuration
	settingsUpdates  *prometheus.CounterVec
	settingsRejected *prometheus.CounterVec

	// Telemetry pipeline
	telemetryEnqueued      prometheus.Counter
	telemetryDropped       prometheus.Counter
	telemetryPublished     prometheus.Counter
	telemetryPublishErrors prometheus.Counter
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge

	// Collaborators
	historyWriteErrors prometheus.Counter
	detectorErrors     prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Process
	processCPUPercent    prometheus.Gauge
	processRSSBytes      prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemMemoryUsage    prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		enabled:      true,
		customLabels: make(map[string]string),
		registry:     prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// Enabled reports whether recording is switched on.
func (m *Manager) Enabled() bool { return m.enabled }

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.detections = auto.NewCounterVec(
		m.counterOpts("detections_total", "Detections of feeding-eligible species"),
		[]string{"species"},
	)
	m.cooldownBlocks = auto.NewCounterVec(
		m.counterOpts("cooldown_blocks_total", "Detections rejected because the species is cooling down"),
		[]string{"species"},
	)

	m.dispenseOutcomes = auto.NewCounterVec(
		m.counterOpts("dispense_outcomes_total", "Dispense attempts by species and terminal outcome"),
		[]string{"species", "outcome"},
	)
	m.dispenseDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "dispense_duration_seconds",
		Help:        "Time from opening to closing the dispenser",
		Buckets:     defaultDispenseBuckets,
		ConstLabels: m.customLabels,
	})
	m.gramsDispensed = auto.NewCounterVec(
		m.counterOpts("grams_dispensed_total", "Mass reported by the load cell at the end of each attempt"),
		[]string{"species"},
	)
	m.sensorMissingSamples = auto.NewCounter(
		m.counterOpts("sensor_missing_samples_total", "Polls where the load cell had no sample"),
	)
	m.actuatorFaults = auto.NewCounterVec(
		m.counterOpts("actuator_faults_total", "Errors while commanding the dispenser"),
		[]string{"op"},
	)

	m.settingsUpdates = auto.NewCounterVec(
		m.counterOpts("settings_updates_total", "Species settings changed by configuration messages"),
		[]string{"species"},
	)
	m.settingsRejected = auto.NewCounterVec(
		m.counterOpts("settings_rejected_total", "Configuration messages or fields that were not applied"),
		[]string{"reason"},
	)

	m.telemetryEnqueued = auto.NewCounter(m.counterOpts("telemetry_enqueued_total", "Telemetry events accepted by the outbound queue"))
	m.telemetryDropped = auto.NewCounter(m.counterOpts("telemetry_dropped_total", "Telemetry events dropped because the queue was full or closed"))
	m.telemetryPublished = auto.NewCounter(m.counterOpts("telemetry_published_total", "Telemetry events handed to the transport"))
	m.telemetryPublishErrors = auto.NewCounter(m.counterOpts("telemetry_publish_errors_total", "Telemetry events the transport failed to deliver"))
	m.queueSize = auto.NewGauge(m.gaugeOpts("telemetry_queue_size", "Current telemetry backlog"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("telemetry_queue_capacity", "Telemetry queue capacity"))

	m.historyWriteErrors = auto.NewCounter(m.counterOpts("history_write_errors_total", "Feeding history records that failed to persist"))
	m.detectorErrors = auto.NewCounter(m.counterOpts("detector_errors_total", "Unreadable detector output lines and detector failures"))

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "http_request_duration_milliseconds",
			Help:        "HTTP request duration in milliseconds",
			Buckets:     defaultHTTPBuckets,
			ConstLabels: m.customLabels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.processCPUPercent = auto.NewGauge(m.gaugeOpts("process_cpu_percent", "CPU usage of the daemon process"))
	m.processRSSBytes = auto.NewGauge(m.gaugeOpts("process_rss_bytes", "Resident set size of the daemon process"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("goroutines", "Number of goroutines"))
	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("heap_alloc_bytes", "Go heap bytes in use"))
}

// Feeding decision functions.

// RecordDetection counts a detection of a feeding-eligible species.
func RecordDetection(species string) {
	if !globalManager.enabled {
		return
	}
	globalManager.detections.WithLabelValues(species).Inc()
}

// RecordCooldownBlock counts a detection rejected by the cooldown gate.
func RecordCooldownBlock(species string) {
	if !globalManager.enabled {
		return
	}
	globalManager.cooldownBlocks.WithLabelValues(species).Inc()
}

// Dispense functions.

// RecordDispenseOutcome counts a finished attempt and the mass it reached.
func RecordDispenseOutcome(species, outcome string, grams float64, elapsed time.Duration) {
	if !globalManager.enabled {
		return
	}
	globalManager.dispenseOutcomes.WithLabelValues(species, outcome).Inc()
	if elapsed > 0 {
		globalManager.dispenseDuration.Observe(elapsed.Seconds())
	}
	if grams > 0 {
		globalManager.gramsDispensed.WithLabelValues(species).Add(grams)
	}
}

// RecordSensorMissingSample counts a poll without a load cell sample.
func RecordSensorMissingSample() {
	if !globalManager.enabled {
		return
	}
	globalManager.sensorMissingSamples.Inc()
}

// RecordActuatorFault counts an open or close failure.
func RecordActuatorFault(op string) {
	if !globalManager.enabled {
		return
	}
	globalManager.actuatorFaults.WithLabelValues(op).Inc()
}

// Settings functions.

// RecordSettingsUpdate counts a species whose settings were applied.
func RecordSettingsUpdate(species string) {
	if !globalManager.enabled {
		return
	}
	globalManager.settingsUpdates.WithLabelValues(species).Inc()
}

// RecordSettingsRejected counts a rejected message or field.
func RecordSettingsRejected(reason string) {
	if !globalManager.enabled {
		return
	}
	globalManager.settingsRejected.WithLabelValues(reason).Inc()
}

// Telemetry pipeline functions.

// RecordTelemetryEnqueued increments the enqueue counter.
func RecordTelemetryEnqueued() {
	if !globalManager.enabled {
		return
	}
	globalManager.telemetryEnqueued.Inc()
}

// RecordTelemetryDropped increments the drop counter.
func RecordTelemetryDropped() {
	if !globalManager.enabled {
		return
	}
	globalManager.telemetryDropped.Inc()
}

// RecordTelemetryPublished increments the delivered counter.
func RecordTelemetryPublished() {
	if !globalManager.enabled {
		return
	}
	globalManager.telemetryPublished.Inc()
}

// RecordTelemetryPublishError increments the publish error counter.
func RecordTelemetryPublishError() {
	if !globalManager.enabled {
		return
	}
	globalManager.telemetryPublishErrors.Inc()
}

// UpdateQueueSize sets the current telemetry backlog.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the telemetry queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// Collaborator functions.

// RecordHistoryWriteError counts a feeding record that failed to persist.
func RecordHistoryWriteError() {
	if !globalManager.enabled {
		return
	}
	globalManager.historyWriteErrors.Inc()
}

// RecordDetectorError counts an unusable detector output or failure.
func RecordDetectorError() {
	if !globalManager.enabled {
		return
	}
	globalManager.detectorErrors.Inc()
}

// HTTP functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Process functions.

// UpdateProcessCPUPercent sets the daemon CPU usage.
func UpdateProcessCPUPercent(pct float64) {
	globalManager.processCPUPercent.Set(pct)
}

// UpdateProcessRSS sets the daemon resident set size.
func UpdateProcessRSS(bytes uint64) {
	globalManager.processRSSBytes.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// UpdateSystemMemoryUsage sets the Go heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Configure rebuilds the global manager on a fresh registry with opts. Call it
// once at startup, before anything records or serves metrics.
func Configure(opts ...Option) {
	reg := prometheus.NewRegistry()
	globalManager = NewManager(append(opts, WithPrometheusRegistry(reg))...)
	customRegistry = reg
}
