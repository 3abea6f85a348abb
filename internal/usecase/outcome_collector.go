package usecase

import (
	"context"
	"errors"

	drepo "SpinCast/internal/domain/repository"
	mid "SpinCast/internal/middleware"
	"SpinCast/pkg/logger"
)

// OutcomeCollector pumps a live outcome stream into the pipeline.
type OutcomeCollector struct {
	stream  drepo.OutcomeStream
	pipe    *mid.RealtimePipeline
	metrics drepo.Metrics
	log     *logger.Logger
	done    chan struct{}
}

func NewOutcomeCollector(stream drepo.OutcomeStream, pipe *mid.RealtimePipeline, metrics drepo.Metrics, log *logger.Logger) *OutcomeCollector {
	return &OutcomeCollector{stream: stream, pipe: pipe, metrics: metrics, log: log, done: make(chan struct{})}
}

// IsConnected returns true if the stream is connected.
func (c *OutcomeCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects the stream and begins consuming in the background.
func (c *OutcomeCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	go c.run(ctx)
	return nil
}

// Done is closed when the consume loop exits.
func (c *OutcomeCollector) Done() <-chan struct{} { return c.done }

func (c *OutcomeCollector) run(ctx context.Context) {
	defer close(c.done)
	for ctx.Err() == nil {
		outCh, errCh := c.stream.Read(ctx)
		c.consume(ctx, outCh, errCh)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("stream")
		if err := c.stream.Reconnect(ctx); err != nil {
			c.log.Warn("feed reconnect failed", logger.Error(err))
		}
	}
}

// consume returns when the stream reports an error or closes.
func (c *OutcomeCollector) consume(ctx context.Context, outCh <-chan drepo.RawOutcome, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if ok && err != nil {
				c.log.Warn("feed stream error", logger.Error(err))
				return
			}
			if !ok {
				errCh = nil
			}
		case raw, ok := <-outCh:
			if !ok {
				return
			}
			if _, err := c.pipe.Process(ctx, raw); err != nil && !errors.Is(err, mid.ErrThrottled) {
				c.log.Warn("feed outcome not processed", logger.String("source", raw.Source), logger.Error(err))
			}
		}
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *OutcomeCollector) Shutdown(ctx context.Context) error {
	c.pipe.Stop()
	return c.stream.Close()
}
