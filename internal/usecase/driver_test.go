package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpinCast/internal/domain/models"
	domrepo "SpinCast/internal/domain/repository"
	"SpinCast/internal/services/features"
	"SpinCast/internal/services/predictor"
	"SpinCast/pkg/logger"
	"SpinCast/pkg/metrics"
)

type countingScheduler struct{ n atomic.Int32 }

func (c *countingScheduler) MaybeTrainAsync(context.Context) { c.n.Add(1) }

func testDriverConfig() DriverConfig {
	cfg := DefaultDriverConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 2 * time.Millisecond
	cfg.PollInterval = time.Hour
	return cfg
}

func startDriver(t *testing.T, d *Driver) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, d.Running, time.Second, time.Millisecond)
}

func TestDriver_EndToEnd(t *testing.T) {
	e := newEnv(t)
	ens := predictor.NewEnsemble(e.store, features.NewExtractor(30*time.Second),
		predictor.NewModelPredictor(predictor.NewModelHandle()), metrics.Nop{}, logger.NewNop(), predictor.DefaultConfig())
	sched := &countingScheduler{}
	d := NewDriver(e.ingestor, NewEvaluator(e.store, metrics.Nop{}, logger.NewNop()), ens, sched,
		metrics.Nop{}, logger.NewNop(), testDriverConfig())

	var mu sync.Mutex
	var seen []string
	d.OnPrediction(func(p models.Prediction) {
		mu.Lock()
		seen = append(seen, p.ID)
		mu.Unlock()
	})
	_, ok := d.LatestPrediction()
	assert.False(t, ok)
	startDriver(t, d)

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 12; i++ {
		res, err := d.Submit(ctx, i, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.True(t, res.IsAccepted())
	}
	res, err := d.Submit(ctx, 12, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.RejectDuplicate, res.Reason)
	res, err = d.Submit(ctx, 99, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.RejectInvalid, res.Reason)

	latest, ok := d.LatestPrediction()
	require.True(t, ok)
	require.NotNil(t, latest.LastNumber)
	assert.Equal(t, 12, *latest.LastNumber)
	assert.Equal(t, models.LabelStatistical, latest.ModelUsed)

	mu.Lock()
	assert.Len(t, seen, 12)
	assert.Equal(t, latest.ID, seen[len(seen)-1])
	mu.Unlock()

	assert.Equal(t, int64(11), e.counter(t, domrepo.KeyTotalEvaluated))
	assert.Equal(t, []string{latest.ID}, e.pending(t))
	assert.Equal(t, int32(12), sched.n.Load())
}

type flakyPredictor struct {
	failures int
	calls    int
}

func (f *flakyPredictor) Predict(context.Context, models.RequestKind) (*models.Prediction, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("history: %w", models.ErrStoreUnavailable)
	}
	return &models.Prediction{ID: fmt.Sprintf("p%d", f.calls)}, nil
}

func TestDriver_RetriesStoreOutages(t *testing.T) {
	e := newEnv(t)
	fp := &flakyPredictor{failures: 2}
	d := NewDriver(e.ingestor, NewEvaluator(e.store, metrics.Nop{}, logger.NewNop()), fp, nil,
		metrics.Nop{}, logger.NewNop(), testDriverConfig())
	startDriver(t, d)

	res, err := d.Submit(context.Background(), 5, time.Now())
	require.NoError(t, err)
	assert.True(t, res.IsAccepted())
	assert.Equal(t, 3, fp.calls)
	p, ok := d.LatestPrediction()
	require.True(t, ok)
	assert.Equal(t, "p3", p.ID)
}

func TestDriver_GivesUpAfterMaxFailures(t *testing.T) {
	e := newEnv(t)
	fp := &flakyPredictor{failures: 100}
	d := NewDriver(e.ingestor, NewEvaluator(e.store, metrics.Nop{}, logger.NewNop()), fp, nil,
		metrics.Nop{}, logger.NewNop(), testDriverConfig())
	startDriver(t, d)

	_, err := d.Submit(context.Background(), 5, time.Now())
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Equal(t, 5, fp.calls)
	_, ok := d.LatestPrediction()
	assert.False(t, ok)
}

func TestDriver_SubmitAfterStop(t *testing.T) {
	e := newEnv(t)
	d := NewDriver(e.ingestor, NewEvaluator(e.store, metrics.Nop{}, logger.NewNop()), &flakyPredictor{}, nil,
		metrics.Nop{}, logger.NewNop(), testDriverConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))
	assert.False(t, d.Running())

	_, err := d.Submit(context.Background(), 1, time.Now())
	assert.ErrorIs(t, err, ErrDriverStopped)
}
