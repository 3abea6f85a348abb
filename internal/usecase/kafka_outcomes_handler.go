package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"SpinCast/internal/domain/models"
	domrepo "SpinCast/internal/domain/repository"
	pkgkafka "SpinCast/pkg/kafka"
	"SpinCast/pkg/util"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RawProcessor accepts unparsed outcomes.
type RawProcessor interface {
	Process(ctx context.Context, raw domrepo.RawOutcome) (models.IngestResult, error)
}

// KafkaOutcomesHandler feeds outcome messages from Kafka into the pipeline.
type KafkaOutcomesHandler struct {
	topic   string
	proc    RawProcessor
	metrics domrepo.Metrics
}

func NewKafkaOutcomesHandler(topic string, proc RawProcessor, metrics domrepo.Metrics) *KafkaOutcomesHandler {
	return &KafkaOutcomesHandler{topic: topic, proc: proc, metrics: metrics}
}

func (h *KafkaOutcomesHandler) Topic() string { return h.topic }

// incoming message schema: {number|value, timestamp}
// timestamp is RFC 3339 or unix seconds/milliseconds.
func (h *KafkaOutcomesHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Number    any `json:"number"`
		Value     any `json:"value"`
		Timestamp any `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode outcome message: %w", err)
	}
	v := m.Number
	if v == nil {
		v = m.Value
	}
	at := messageTime(m.Timestamp)
	if !at.IsZero() {
		h.metrics.RecordLatency("ingest_e2e", time.Since(at).Seconds())
	}

	_, err := h.proc.Process(ctx, domrepo.RawOutcome{Source: "kafka:" + h.topic, Value: v, At: at})
	// a store outage the pipeline could not buffer is worth a redelivery
	if err != nil && errors.Is(err, models.ErrStoreUnavailable) {
		return err
	}
	return nil
}

func messageTime(v any) time.Time {
	switch t := v.(type) {
	case string:
		if ts, ok := util.ParseTime(t); ok {
			return ts
		}
	case float64:
		sec := int64(t)
		if sec > 1e11 {
			return time.UnixMilli(sec).UTC()
		}
		if sec > 0 {
			return time.Unix(sec, 0).UTC()
		}
	}
	return time.Time{}
}

var _ pkgkafka.MessageHandler = (*KafkaOutcomesHandler)(nil)
