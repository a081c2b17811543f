package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core explorer metrics: cluster connectivity,
// streaming delivery and gateway traffic.
type Metrics struct {
	// Cluster metrics
	ClustersConnected prometheus.Gauge

	// Streaming metrics
	StreamingConsumers prometheus.Gauge
	MessagesDelivered  *prometheus.CounterVec
	MessagesSent       *prometheus.CounterVec
	ReceiveFailures    *prometheus.CounterVec
	AckFailures        *prometheus.CounterVec

	// Gateway metrics
	GatewayRequests        *prometheus.CounterVec
	GatewayRequestDuration *prometheus.HistogramVec
	SinkClients            prometheus.Gauge
	SinkDropped            prometheus.Counter
}

// NewMetrics creates a Metrics instance with all core metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ClustersConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streamscope",
				Subsystem: "cluster",
				Name:      "connected",
				Help:      "Number of connected broker clusters",
			},
		),

		StreamingConsumers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streamscope",
				Subsystem: "stream",
				Name:      "consumers",
				Help:      "Number of active streaming consumers",
			},
		),

		MessagesDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamscope",
				Subsystem: "stream",
				Name:      "delivered_total",
				Help:      "Total messages delivered to the sink",
			},
			[]string{"topic"},
		),

		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamscope",
				Subsystem: "producer",
				Name:      "sent_total",
				Help:      "Total messages sent through producers",
			},
			[]string{"topic"},
		),

		ReceiveFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamscope",
				Subsystem: "stream",
				Name:      "receive_failures_total",
				Help:      "Total transient receive failures (timeouts excluded)",
			},
			[]string{"topic"},
		),

		AckFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamscope",
				Subsystem: "stream",
				Name:      "ack_failures_total",
				Help:      "Total failed acknowledgements",
			},
			[]string{"topic"},
		),

		GatewayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamscope",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway requests by operation and outcome",
			},
			[]string{"operation", "status"},
		),

		GatewayRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "streamscope",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Gateway request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		SinkClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streamscope",
				Subsystem: "sink",
				Name:      "clients",
				Help:      "Number of connected sink clients",
			},
		),

		SinkDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamscope",
				Subsystem: "sink",
				Name:      "dropped_total",
				Help:      "Total events dropped because a client send buffer was full",
			},
		),
	}
}

// ClusterConnected increments the connected-clusters gauge.
func (c *Metrics) ClusterConnected() {
	c.ClustersConnected.Inc()
}

// ClusterDisconnected decrements the connected-clusters gauge.
func (c *Metrics) ClusterDisconnected() {
	c.ClustersConnected.Dec()
}

// ConsumerStarted increments the streaming consumer gauge.
func (c *Metrics) ConsumerStarted() {
	c.StreamingConsumers.Inc()
}

// ConsumerStopped decrements the streaming consumer gauge.
func (c *Metrics) ConsumerStopped() {
	c.StreamingConsumers.Dec()
}

// MessageDelivered increments the delivered counter for a topic.
func (c *Metrics) MessageDelivered(topic string) {
	c.MessagesDelivered.WithLabelValues(topic).Inc()
}

// MessageSent increments the producer send counter for a topic.
func (c *Metrics) MessageSent(topic string) {
	c.MessagesSent.WithLabelValues(topic).Inc()
}

// ReceiveFailure increments the receive failure counter for a topic.
func (c *Metrics) ReceiveFailure(topic string) {
	c.ReceiveFailures.WithLabelValues(topic).Inc()
}

// AckFailure increments the ack failure counter for a topic.
func (c *Metrics) AckFailure(topic string) {
	c.AckFailures.WithLabelValues(topic).Inc()
}

// RecordGatewayRequest records one gateway request with its outcome.
func (c *Metrics) RecordGatewayRequest(operation, status string, duration time.Duration) {
	c.GatewayRequests.WithLabelValues(operation, status).Inc()
	c.GatewayRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SinkClientConnected increments the sink client gauge.
func (c *Metrics) SinkClientConnected() {
	c.SinkClients.Inc()
}

// SinkClientDisconnected decrements the sink client gauge.
func (c *Metrics) SinkClientDisconnected() {
	c.SinkClients.Dec()
}

// SinkEventDropped increments the dropped event counter.
func (c *Metrics) SinkEventDropped() {
	c.SinkDropped.Inc()
}
