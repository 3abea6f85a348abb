package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SpinCast/internal/domain/models"
	domrepo "SpinCast/internal/domain/repository"
	"SpinCast/internal/domain/roulette"
	"SpinCast/internal/service/ratelimit"
	"SpinCast/pkg/logger"
	"SpinCast/pkg/util"
)

// Submitter is the downstream the pipeline feeds.
type Submitter interface {
	Submit(ctx context.Context, n int, at time.Time) (models.IngestResult, error)
}

// RealtimePipeline sits between raw producers and the driver.
// It parses, validates, throttles per source and buffers outcomes while the
// store is unavailable. Once anything is buffered, later outcomes queue
// behind it until the backlog drains, so history keeps arrival order.
type RealtimePipeline struct {
	sub     Submitter
	metrics domrepo.Metrics
	log     *logger.Logger
	limiter *ratelimit.Limiter
	maxRPS  float64
	burst   float64
	bufSize int
	bufCh   chan buffered
	stopCh  chan struct{}
	now     func() time.Time

	mu      sync.Mutex
	started bool
	backlog int // buffered plus the one being replayed

	flushMin time.Duration
	flushMax time.Duration
}

type buffered struct {
	n  int
	at time.Time
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the outcomes per second allowed per source. Zero disables
// throttling.
func WithMaxRPS(n float64) PipelineOption {
	return func(p *RealtimePipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

// WithBurst sets how many outcomes a source may send back to back.
func WithBurst(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.burst = float64(n)
		}
	}
}

// WithBufferSize sets the buffer used while the store is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

func WithFlushBackoff(min, max time.Duration) PipelineOption {
	return func(p *RealtimePipeline) { p.flushMin, p.flushMax = min, max }
}

func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *RealtimePipeline) { p.now = now }
}

func NewRealtimePipeline(sub Submitter, limiter *ratelimit.Limiter, metrics domrepo.Metrics, log *logger.Logger, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		sub:      sub,
		metrics:  metrics,
		log:      log,
		limiter:  limiter,
		maxRPS:   20,
		burst:    5,
		bufSize:  1000,
		stopCh:   make(chan struct{}),
		now:      time.Now,
		flushMin: 50 * time.Millisecond,
		flushMax: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan buffered, p.bufSize)
	return p
}

// Start launches the background flush of buffered outcomes.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.flush(ctx)
}

// flush replays buffered outcomes one at a time. The head outcome is
// retried until the store takes it, so nothing overtakes it.
func (p *RealtimePipeline) flush(ctx context.Context) {
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case b := <-p.bufCh:
			if !p.replay(ctx, b) {
				return
			}
			p.mu.Lock()
			p.backlog--
			p.mu.Unlock()
		}
	}
}

// replay reports false when the pipeline stopped before b was settled.
func (p *RealtimePipeline) replay(ctx context.Context, b buffered) bool {
	for attempt := 1; ; attempt++ {
		_, err := p.sub.Submit(ctx, b.n, b.at)
		switch {
		case err == nil:
			return true
		case !errors.Is(err, models.ErrStoreUnavailable):
			p.log.Warn("buffered outcome dropped", logger.Int("number", b.n), logger.Error(err))
			return true
		}
		p.metrics.RecordError("pipeline_flush")
		select {
		case <-time.After(util.Backoff(p.flushMin, p.flushMax, attempt)):
		case <-p.stopCh:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// Stop stops the background flush.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stopCh)
}

// Buffered returns the number of outcomes waiting for the store.
func (p *RealtimePipeline) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backlog
}

// enqueue buffers an outcome. It fails when the flush is not running or
// the buffer is full; the caller then owns the retry.
func (p *RealtimePipeline) enqueue(b buffered) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return false
	}
	if p.backlog >= p.bufSize {
		p.metrics.RecordError("pipeline_buffer_full")
		return false
	}
	select {
	case p.bufCh <- b:
		p.backlog++
		p.metrics.RecordLatency("pipeline_buffer_depth", float64(p.backlog))
		return true
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		return false
	}
}

// Process parses raw and forwards it to the driver. Invalid input is
// reported as a Rejected result. A throttled outcome is dropped with
// ErrThrottled. During a store outage the outcome is buffered and reported
// as Buffered with no error; only when it cannot be buffered does the
// store error reach the caller.
func (p *RealtimePipeline) Process(ctx context.Context, raw domrepo.RawOutcome) (models.IngestResult, error) {
	start := p.now()
	n, err := roulette.Parse(raw.Value)
	if err != nil {
		p.metrics.RecordOutcome("invalid")
		p.log.Warn("unparseable outcome", logger.String("source", raw.Source), logger.Any("value", raw.Value), logger.Error(err))
		return models.Rejected(models.RejectInvalid), nil
	}
	at := raw.At
	if at.IsZero() {
		at = start
	}
	if p.maxRPS > 0 && !p.limiter.Allow(raw.Source, p.burst, p.maxRPS) {
		p.metrics.RecordError("pipeline_throttle")
		return models.IngestResult{}, fmt.Errorf("%w: source %q", ErrThrottled, raw.Source)
	}
	b := buffered{n: n, at: at}

	if p.Buffered() > 0 {
		if p.enqueue(b) {
			return models.Buffered(), nil
		}
		p.metrics.RecordError("pipeline_process")
		return models.IngestResult{}, fmt.Errorf("pipeline backlog full: %w", models.ErrStoreUnavailable)
	}

	res, err := p.sub.Submit(ctx, n, at)
	if err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) && p.enqueue(b) {
			return models.Buffered(), nil
		}
		p.metrics.RecordError("pipeline_process")
		return res, fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", p.now().Sub(start).Seconds())
	return res, nil
}

// ErrThrottled marks an outcome dropped by the per-source limit.
var ErrThrottled = errors.New("outcome throttled")
