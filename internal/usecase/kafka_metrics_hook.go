package usecase

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	domrepo "SpinCast/internal/domain/repository"
	pkgkafka "SpinCast/pkg/kafka"
)

type handleStartKey struct{}

// KafkaMetricsHook records handler latency and failed attempts per topic.
type KafkaMetricsHook struct {
	metrics domrepo.Metrics
}

func NewKafkaMetricsHook(metrics domrepo.Metrics) *KafkaMetricsHook {
	return &KafkaMetricsHook{metrics: metrics}
}

func (h *KafkaMetricsHook) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	return context.WithValue(ctx, handleStartKey{}, time.Now()), km, data, nil
}

func (h *KafkaMetricsHook) AfterHandle(ctx context.Context, topic string, _ kafka.Message, _ []byte, err error) {
	start, ok := ctx.Value(handleStartKey{}).(time.Time)
	if !ok || err != nil {
		return
	}
	h.metrics.RecordLatency("kafka:"+topic, time.Since(start).Seconds())
}

func (h *KafkaMetricsHook) OnError(_ context.Context, topic string, _ kafka.Message, _ []byte, _ error) {
	h.metrics.RecordError("kafka:" + topic)
}

var _ pkgkafka.ConsumerHook = (*KafkaMetricsHook)(nil)
