package middleware

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpinCast/internal/domain/models"
	domrepo "SpinCast/internal/domain/repository"
	"SpinCast/internal/service/ratelimit"
	"SpinCast/pkg/logger"
	"SpinCast/pkg/metrics"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	fail  int
	calls []int
}

func (f *fakeSubmitter) Submit(_ context.Context, n int, _ time.Time) (models.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, n)
	if f.fail > 0 {
		f.fail--
		return models.IngestResult{}, fmt.Errorf("commit: %w", models.ErrStoreUnavailable)
	}
	return models.Accepted(models.OutcomeEvent{Number: n}), nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newPipeline(sub Submitter, opts ...PipelineOption) *RealtimePipeline {
	return NewRealtimePipeline(sub, ratelimit.New(), metrics.Nop{}, logger.NewNop(), opts...)
}

func TestPipeline_ParsesAndForwards(t *testing.T) {
	sub := &fakeSubmitter{}
	p := newPipeline(sub)

	res, err := p.Process(context.Background(), domrepo.RawOutcome{Source: "ws", Value: "17"})
	require.NoError(t, err)
	assert.True(t, res.IsAccepted())
	assert.Equal(t, []int{17}, sub.calls)
}

func TestPipeline_RejectsInvalid(t *testing.T) {
	sub := &fakeSubmitter{}
	p := newPipeline(sub)

	for _, v := range []any{37, -1, "abc", 3.5, nil} {
		res, err := p.Process(context.Background(), domrepo.RawOutcome{Source: "ws", Value: v})
		require.NoError(t, err)
		assert.Equal(t, models.RejectInvalid, res.Reason)
	}
	assert.Empty(t, sub.calls)
}

func TestPipeline_Throttles(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := &fakeSubmitter{}
	p := NewRealtimePipeline(sub, ratelimit.New(ratelimit.WithClock(func() time.Time { return now })),
		metrics.Nop{}, logger.NewNop(), WithMaxRPS(1), WithBurst(2))

	ctx := context.Background()
	_, err := p.Process(ctx, domrepo.RawOutcome{Source: "ws", Value: 1})
	require.NoError(t, err)
	_, err = p.Process(ctx, domrepo.RawOutcome{Source: "ws", Value: 2})
	require.NoError(t, err)
	_, err = p.Process(ctx, domrepo.RawOutcome{Source: "ws", Value: 3})
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Equal(t, []int{1, 2}, sub.calls)
}

// outageSubmitter accepts outcomes in order unless the store is down.
type outageSubmitter struct {
	mu       sync.Mutex
	down     bool
	accepted []int
}

func (o *outageSubmitter) Submit(_ context.Context, n int, _ time.Time) (models.IngestResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.down {
		return models.IngestResult{}, fmt.Errorf("commit: %w", models.ErrStoreUnavailable)
	}
	o.accepted = append(o.accepted, n)
	return models.Accepted(models.OutcomeEvent{Number: n}), nil
}

func (o *outageSubmitter) setDown(v bool) {
	o.mu.Lock()
	o.down = v
	o.mu.Unlock()
}

func (o *outageSubmitter) history() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.accepted...)
}

func TestPipeline_BuffersOnStoreOutage(t *testing.T) {
	sub := &fakeSubmitter{fail: 2}
	p := newPipeline(sub, WithFlushBackoff(time.Millisecond, 5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	res, err := p.Process(ctx, domrepo.RawOutcome{Source: "kafka", Value: 9})
	require.NoError(t, err)
	assert.Equal(t, models.IngestBuffered, res.Status)

	require.Eventually(t, func() bool { return sub.count() == 3 && p.Buffered() == 0 }, time.Second, 5*time.Millisecond)
}

func TestPipeline_OutageKeepsOrderAndCountsOnce(t *testing.T) {
	sub := &outageSubmitter{down: true}
	p := newPipeline(sub, WithFlushBackoff(time.Millisecond, 5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	for _, n := range []int{7, 9} {
		res, err := p.Process(ctx, domrepo.RawOutcome{Source: "kafka", Value: n})
		require.NoError(t, err)
		assert.Equal(t, models.IngestBuffered, res.Status)
	}

	sub.setDown(false)
	require.Eventually(t, func() bool { return p.Buffered() == 0 }, time.Second, time.Millisecond)

	res, err := p.Process(ctx, domrepo.RawOutcome{Source: "kafka", Value: 4})
	require.NoError(t, err)
	assert.True(t, res.IsAccepted())
	assert.Equal(t, []int{7, 9, 4}, sub.history())
}

func TestPipeline_OutageWithoutFlushReturnsError(t *testing.T) {
	sub := &outageSubmitter{down: true}
	p := newPipeline(sub)

	_, err := p.Process(context.Background(), domrepo.RawOutcome{Source: "http", Value: 7})
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Zero(t, p.Buffered())
}

func TestPipeline_FullBufferReturnsError(t *testing.T) {
	sub := &outageSubmitter{down: true}
	p := newPipeline(sub, WithBufferSize(1), WithFlushBackoff(time.Hour, time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	_, err := p.Process(ctx, domrepo.RawOutcome{Source: "http", Value: 1})
	require.NoError(t, err)
	_, err = p.Process(ctx, domrepo.RawOutcome{Source: "http", Value: 2})
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Equal(t, 1, p.Buffered())
}
