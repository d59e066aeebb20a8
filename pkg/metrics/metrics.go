// Package metrics provides Prometheus metrics for the gazebridge server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus metric the server records.
type Manager struct {
	namespace string
	subsystem string
	enabled   bool
	registry  prometheus.Registerer

	samplesIngested   prometheus.Counter
	markersRecorded   prometheus.Counter
	framesDropped     prometheus.Counter
	messagesProcessed *prometheus.CounterVec
	protocolErrors    prometheus.Counter

	activeConnections  prometheus.Gauge
	streamingClients   prometheus.Gauge
	calibrationActive  prometheus.Gauge
	validationSessions prometheus.Counter
}

// The initial default lives on a private registry so that the manager built
// at startup can claim the metric names on the global one.
var defaultManager = NewManager(WithRegistry(prometheus.NewRegistry()))

// NewManager creates a Manager and registers its metrics.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "gazebridge",
		enabled:   true,
		registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initialize()
	return m
}

// SetDefault replaces the package-level manager used by the Record helpers.
func SetDefault(m *Manager) {
	defaultManager = m
}

func (m *Manager) initialize() {
	auto := promauto.With(m.registry)

	m.samplesIngested = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "samples_ingested_total",
		Help:      "Gaze samples appended to the sample store.",
	})
	m.markersRecorded = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "markers_recorded_total",
		Help:      "Client markers recorded in the store.",
	})
	m.framesDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "frames_dropped_total",
		Help:      "Outbound frames dropped because a connection's send buffer was full.",
	})
	m.messagesProcessed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "messages_processed_total",
		Help:      "Inbound protocol messages by kind.",
	}, []string{"kind"})
	m.protocolErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "protocol_errors_total",
		Help:      "Malformed or unknown inbound messages.",
	})
	m.activeConnections = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "active_connections",
		Help:      "Currently open WebSocket connections.",
	})
	m.streamingClients = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "streaming_clients",
		Help:      "Connections currently subscribed to the gaze stream.",
	})
	m.calibrationActive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "calibration_active",
		Help:      "1 while a client holds the calibration lock.",
	})
	m.validationSessions = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "validation_sessions_total",
		Help:      "Validation sessions started.",
	})
}

// Package-level record helpers against the default manager.

func RecordSampleIngested() {
	if defaultManager.enabled {
		defaultManager.samplesIngested.Inc()
	}
}

func RecordMarker() {
	if defaultManager.enabled {
		defaultManager.markersRecorded.Inc()
	}
}

func RecordFrameDropped() {
	if defaultManager.enabled {
		defaultManager.framesDropped.Inc()
	}
}

func RecordMessage(kind string) {
	if defaultManager.enabled {
		defaultManager.messagesProcessed.WithLabelValues(kind).Inc()
	}
}

func RecordProtocolError() {
	if defaultManager.enabled {
		defaultManager.protocolErrors.Inc()
	}
}

func UpdateActiveConnections(n int) {
	if defaultManager.enabled {
		defaultManager.activeConnections.Set(float64(n))
	}
}

func UpdateStreamingClients(n int) {
	if defaultManager.enabled {
		defaultManager.streamingClients.Set(float64(n))
	}
}

func UpdateCalibrationActive(active bool) {
	if !defaultManager.enabled {
		return
	}
	if active {
		defaultManager.calibrationActive.Set(1)
	} else {
		defaultManager.calibrationActive.Set(0)
	}
}

func RecordValidationSession() {
	if defaultManager.enabled {
		defaultManager.validationSessions.Inc()
	}
}
