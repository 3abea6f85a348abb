package usecase

import (
	"context"
	"sync"
	"time"

	"SpinCast/internal/domain/models"
	drepo "SpinCast/internal/domain/repository"
	"SpinCast/pkg/logger"
)

// PredictionFanout hands predictions from the driver to an outbound
// publisher without blocking the cycle.
type PredictionFanout struct {
	pub     drepo.PredictionPublisher
	metrics drepo.Metrics
	log     *logger.Logger
	ch      chan models.Prediction
	wg      sync.WaitGroup
	once    sync.Once
}

func NewPredictionFanout(pub drepo.PredictionPublisher, metrics drepo.Metrics, log *logger.Logger, buffer int) *PredictionFanout {
	if buffer <= 0 {
		buffer = 256
	}
	return &PredictionFanout{pub: pub, metrics: metrics, log: log, ch: make(chan models.Prediction, buffer)}
}

// Handle queues p. It drops p when the buffer is full.
func (f *PredictionFanout) Handle(p models.Prediction) {
	select {
	case f.ch <- p:
	default:
		f.metrics.RecordError("fanout_drop")
		f.log.Warn("prediction dropped from fanout", logger.String("id", p.ID))
	}
}

// Start publishes queued predictions until Close.
func (f *PredictionFanout) Start(ctx context.Context) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for p := range f.ch {
			start := time.Now()
			if err := f.pub.PublishPrediction(ctx, &p); err != nil {
				f.metrics.RecordError("publish_prediction")
				f.log.Warn("prediction publish failed", logger.String("id", p.ID), logger.Error(err))
				continue
			}
			f.metrics.RecordLatency("publish_prediction", time.Since(start).Seconds())
		}
	}()
}

// Close drains the queue and closes the publisher.
func (f *PredictionFanout) Close() error {
	f.once.Do(func() { close(f.ch) })
	f.wg.Wait()
	return f.pub.Close()
}
