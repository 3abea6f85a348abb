package repository

import (
	"context"

	"SpinCast/internal/domain/models"
	"SpinCast/internal/domain/repository"
	pkgkafka "SpinCast/pkg/kafka"
)

// KafkaPredictionPublisher implements PredictionPublisher for Kafka.
// Messages are keyed by prediction id.
type KafkaPredictionPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPredictionPublisher creates Kafka publisher.
func NewKafkaPredictionPublisher(producer *pkgkafka.Producer, topic string) repository.PredictionPublisher {
	return &KafkaPredictionPublisher{producer: producer, topic: topic}
}

func (p *KafkaPredictionPublisher) PublishPrediction(ctx context.Context, pr *models.Prediction) error {
	b, err := json.Marshal(pr)
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, p.topic, []byte(pr.ID), b)
}

func (p *KafkaPredictionPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
