// Package metric defines the Prometheus metrics for the ChainBridge
// ingestion and routing pipeline and the HTTP server that exposes them.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all pipeline-level metrics.
type Metrics struct {
	// Ingestion metrics
	IngestAccepted     *prometheus.CounterVec
	IngestRejected     *prometheus.CounterVec
	IngestDuration     *prometheus.HistogramVec
	GeofenceEvents     *prometheus.CounterVec
	AnomaliesDetected  *prometheus.CounterVec
	NonceWatermark     *prometheus.GaugeVec

	// Routing metrics
	EventsRouted        *prometheus.CounterVec
	RoutingDuration     *prometheus.HistogramVec
	CollaboratorCalls   *prometheus.CounterVec
	CollaboratorRetries *prometheus.CounterVec
	DeadLetters         prometheus.Counter
	DuplicateEvents     prometheus.Counter

	// Token metrics
	TokenTransitions    *prometheus.CounterVec
	TransitionsRejected *prometheus.CounterVec
	TokensActive        *prometheus.GaugeVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all pipeline metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		IngestAccepted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chainbridge",
				Subsystem: "ingest",
				Name:      "accepted_total",
				Help:      "Total number of telemetry readings accepted",
			},
			[]string{"device"},
		),

		IngestRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chainbridge",
				Subsystem: "ingest",
				Name:      "rejected_total",
				Help:      "Total number of telemetry readings rejected",
			},
			[]string{"reason"},
		),

		IngestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "chainbridge",
				Subsystem: "ingest",
				Name:      "duration_seconds",
				Help:      "Telemetry ingestion duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		GeofenceEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chainbridge",
				Subsystem: "geofence",
				Name:      "events_total",
				Help:      "Total number of geofence boundary events generated",
			},
			[]string{"kind"},
		),

		AnomaliesDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chainbridge",
				Subsystem: "consistency",
				Name:      "anomalies_total",
				Help:      "Total number of physical consistency anomalies flagged",
			},
			[]string{"type"},
		),

		NonceWatermark: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chainbridge",
				Subsystem: "ingest",
				Name:      "nonce_watermark",
				Help:      "Highest accepted nonce per device",
			},
			[]string{"device"},
		),

		EventsRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chainbridge",
				Subsystem: "router",
				Name:      "events_total",
				Help:      "Total number of events routed",
			},
			[]string{"type", "status"},
		),

		RoutingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "chainbridge",
				Subsystem: "router",
				Name:      "duration_seconds",
				Help:      "Event routing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),

		CollaboratorCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chainbridge",
				Subsystem: "router",
				Name:      "collaborator_calls_total",
				Help:      "Total number of collaborator dispatch attempts",
			},
			[]string{"collaborator", "status"},
		),

		CollaboratorRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chainbridge",
				Subsystem: "router",
				Name:      "collaborator_retries_total",
				Help:      "Total number of collaborator dispatch retries",
			},
			[]string{"collaborator"},
		),

		DeadLetters: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chainbridge",
				Subsystem: "router",
				Name:      "dead_letters_total",
				Help:      "Total number of events moved to the dead letter queue",
			},
		),

		DuplicateEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chainbridge",
				Subsystem: "router",
				Name:      "duplicate_events_total",
				Help:      "Total number of events dropped as duplicates",
			},
		),

		TokenTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chainbridge",
				Subsystem: "token",
				Name:      "transitions_total",
				Help:      "Total number of token state transitions committed",
			},
			[]string{"token_type", "to_state"},
		),

		TransitionsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chainbridge",
				Subsystem: "token",
				Name:      "transitions_rejected_total",
				Help:      "Total number of token state transitions rejected",
			},
			[]string{"token_type", "reason"},
		),

		TokensActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chainbridge",
				Subsystem: "token",
				Name:      "active",
				Help:      "Number of tokens currently held in the store",
			},
			[]string{"token_type"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "chainbridge",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chainbridge",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

// RecordIngestAccepted increments the accepted reading counter for a device.
func (m *Metrics) RecordIngestAccepted(deviceID string) {
	m.IngestAccepted.WithLabelValues(deviceID).Inc()
}

// RecordIngestRejected increments the rejected reading counter by reason code.
func (m *Metrics) RecordIngestRejected(reason string) {
	m.IngestRejected.WithLabelValues(reason).Inc()
}

// RecordIngestDuration records the time spent in one ingestion stage.
func (m *Metrics) RecordIngestDuration(stage string, duration time.Duration) {
	m.IngestDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordGeofenceEvent increments the geofence event counter by kind.
func (m *Metrics) RecordGeofenceEvent(kind string) {
	m.GeofenceEvents.WithLabelValues(kind).Inc()
}

// RecordAnomaly increments the anomaly counter by anomaly type.
func (m *Metrics) RecordAnomaly(anomalyType string) {
	m.AnomaliesDetected.WithLabelValues(anomalyType).Inc()
}

// RecordNonceWatermark updates the highest accepted nonce for a device.
func (m *Metrics) RecordNonceWatermark(deviceID string, nonce uint64) {
	m.NonceWatermark.WithLabelValues(deviceID).Set(float64(nonce))
}

// RecordEventRouted increments the routed event counter.
func (m *Metrics) RecordEventRouted(eventType, status string) {
	m.EventsRouted.WithLabelValues(eventType, status).Inc()
}

// RecordRoutingDuration records how long an event took to route.
func (m *Metrics) RecordRoutingDuration(eventType string, duration time.Duration) {
	m.RoutingDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// RecordCollaboratorCall increments the collaborator dispatch counter.
func (m *Metrics) RecordCollaboratorCall(collaborator, status string) {
	m.CollaboratorCalls.WithLabelValues(collaborator, status).Inc()
}

// RecordCollaboratorRetry increments the collaborator retry counter.
func (m *Metrics) RecordCollaboratorRetry(collaborator string) {
	m.CollaboratorRetries.WithLabelValues(collaborator).Inc()
}

// RecordDeadLetter increments the dead letter counter.
func (m *Metrics) RecordDeadLetter() {
	m.DeadLetters.Inc()
}

// RecordDuplicateEvent increments the duplicate event counter.
func (m *Metrics) RecordDuplicateEvent() {
	m.DuplicateEvents.Inc()
}

// RecordTokenTransition increments the committed transition counter.
func (m *Metrics) RecordTokenTransition(tokenType, toState string) {
	m.TokenTransitions.WithLabelValues(tokenType, toState).Inc()
}

// RecordTransitionRejected increments the rejected transition counter.
func (m *Metrics) RecordTransitionRejected(tokenType, reason string) {
	m.TransitionsRejected.WithLabelValues(tokenType, reason).Inc()
}

// RecordTokensActive sets the live token gauge for a token type.
func (m *Metrics) RecordTokensActive(tokenType string, count int) {
	m.TokensActive.WithLabelValues(tokenType).Set(float64(count))
}

// RecordNATSStatus updates the NATS connection status.
func (m *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.NATSConnected.Set(value)
}

// RecordNATSReconnect increments the reconnection counter.
func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}
