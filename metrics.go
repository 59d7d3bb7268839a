package iotmqtt

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "iotmqtt"

// Label names.
const (
	metricsClientIDLabel   = "client_id"
	metricsPacketTypeLabel = "type"
	metricsOpLabel         = "op"
	metricsOutcomeLabel    = "outcome"
)

// Operation outcomes recorded by Metrics.
const (
	outcomeSuccess = "success"
	outcomeTimeout = "timeout"
	outcomeNack    = "nack"
)

// Metrics holds the Prometheus collectors for sessions. One Metrics value
// may be shared by many sessions; series are labelled with the client id.
// All methods are safe on a nil receiver.
type Metrics struct {
	state             *prometheus.GaugeVec
	packetsSent       *prometheus.CounterVec
	packetsReceived   *prometheus.CounterVec
	pending           *prometheus.GaugeVec
	reconnectAttempts *prometheus.CounterVec
	operations        *prometheus.CounterVec
	ackLatency        *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "session_state",
			Help:      "Current session state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 destroyed).",
		}, []string{metricsClientIDLabel}),
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_sent_total",
			Help:      "The total number of control packets sent.",
		}, []string{metricsClientIDLabel, metricsPacketTypeLabel}),
		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_received_total",
			Help:      "The total number of control packets received.",
		}, []string{metricsClientIDLabel, metricsPacketTypeLabel}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pending_operations",
			Help:      "Operations awaiting an acknowledgement.",
		}, []string{metricsClientIDLabel}),
		reconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnect_attempts_total",
			Help:      "The total number of scheduled reconnect attempts.",
		}, []string{metricsClientIDLabel}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Resolved publish and (un)subscribe operations by outcome.",
		}, []string{metricsClientIDLabel, metricsOpLabel, metricsOutcomeLabel}),
		ackLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "ack_latency_seconds",
			Help:      "Time from sending a request to receiving its acknowledgement.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		}, []string{metricsOpLabel}),
	}

	if reg != nil {
		reg.MustRegister(m.state, m.packetsSent, m.packetsReceived, m.pending,
			m.reconnectAttempts, m.operations, m.ackLatency)
	}
	return m
}

func (m *Metrics) setState(clientID string, state State) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(clientID).Set(float64(state))
}

func (m *Metrics) packetSent(clientID string, pt PacketType) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(clientID, pt.String()).Inc()
}

func (m *Metrics) packetReceived(clientID string, pt PacketType) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(clientID, pt.String()).Inc()
}

func (m *Metrics) setPending(clientID string, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(clientID).Set(float64(n))
}

func (m *Metrics) reconnectAttempt(clientID string) {
	if m == nil {
		return
	}
	m.reconnectAttempts.WithLabelValues(clientID).Inc()
}

func (m *Metrics) operationResolved(clientID string, op OpKind, outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(clientID, op.String(), outcome).Inc()
	if outcome == outcomeSuccess {
		m.ackLatency.WithLabelValues(op.String()).Observe(latency.Seconds())
	}
}
