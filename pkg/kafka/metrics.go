package kafka

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the producer and consumer collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	published     *prometheus.CounterVec
	publishErrors *prometheus.CounterVec
	publishBytes  *prometheus.CounterVec
	publishTime   *prometheus.HistogramVec

	queueDepth  *prometheus.GaugeVec
	handleTime  *prometheus.HistogramVec
	handleFails *prometheus.CounterVec
	dlqWrites   *prometheus.CounterVec
}

// NewMetrics registers the Kafka collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spincast_kafka_producer_messages_total",
			Help: "Messages published to Kafka.",
		}, []string{"topic", "compression", "result"}),
		publishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spincast_kafka_producer_errors_total",
			Help: "Failed publish calls.",
		}, []string{"topic"}),
		publishBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spincast_kafka_producer_bytes_total",
			Help: "Payload bytes published.",
		}, []string{"topic", "compression"}),
		publishTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spincast_kafka_producer_publish_seconds",
			Help:    "Publish latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spincast_kafka_consumer_queue_depth",
			Help: "Messages waiting for a worker.",
		}, []string{"topic"}),
		handleTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spincast_kafka_consumer_handle_seconds",
			Help:    "Handling time per message including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
		handleFails: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spincast_kafka_consumer_failures_total",
			Help: "Messages that failed after every retry.",
		}, []string{"topic"}),
		dlqWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spincast_kafka_consumer_dlq_total",
			Help: "Messages forwarded to the dead letter topic.",
		}, []string{"topic", "result"}),
	}
}

func (m *Metrics) observePublish(topic, comp string, bytes int64, count int, dur time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		m.publishErrors.WithLabelValues(topic).Inc()
	}
	m.published.WithLabelValues(topic, comp, result).Add(float64(count))
	m.publishBytes.WithLabelValues(topic, comp).Add(float64(bytes))
	m.publishTime.WithLabelValues(topic).Observe(dur.Seconds())
}

func (m *Metrics) setQueueDepth(topic string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(topic).Set(float64(n))
}

func (m *Metrics) observeHandle(topic string, dur time.Duration, err error) {
	if m == nil {
		return
	}
	m.handleTime.WithLabelValues(topic).Observe(dur.Seconds())
	if err != nil {
		m.handleFails.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) observeDLQ(topic string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.dlqWrites.WithLabelValues(topic, result).Inc()
}
