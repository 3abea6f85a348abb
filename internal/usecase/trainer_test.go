package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpinCast/internal/domain/models"
	domrepo "SpinCast/internal/domain/repository"
	"SpinCast/internal/repository"
	"SpinCast/internal/services/predictor"
	"SpinCast/pkg/cache"
	"SpinCast/pkg/logger"
	"SpinCast/pkg/metrics"
)

func newTrainer(e *env) (*Trainer, *predictor.ModelHandle) {
	cfg := DefaultTrainerConfig()
	cfg.Params.Estimators = 5
	cfg.Params.MaxDepth = 2
	h := predictor.NewModelHandle()
	tr := NewTrainer(e.store, repository.NewRedisModelStore(e.client, "roulette_gbdt"), h,
		cache.NewRedisLocker(e.client, "spincast"), metrics.Nop{}, logger.NewNop(), cfg)
	return tr, h
}

func pushEntries(t *testing.T, e *env, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		target := 3
		if i%2 == 1 {
			target = 8
		}
		require.NoError(t, e.store.PushFeatureBuffer(context.Background(), models.FeatureEntry{
			Features:  map[string]float64{"last_1": float64(target), "hour": float64(i % 24)},
			Target:    target,
			Timestamp: int64(1714564800 + i),
		}))
	}
}

func TestTrainer_TrainsAndSwaps(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pushEntries(t, e, 40)
	_, err := e.store.IncrCounter(ctx, domrepo.KeyScoredSinceTrain, 15)
	require.NoError(t, err)

	tr, h := newTrainer(e)
	ok, err := tr.ShouldTrain(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	meta, err := tr.Train(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), meta.Version)
	assert.Equal(t, []int{3, 8}, meta.LabelOutcomes)
	assert.Equal(t, []string{"hour", "last_1"}, meta.FeatureColumns)
	assert.Equal(t, 40, meta.TrainingSamples)

	cur := h.Current()
	require.NotNil(t, cur)
	assert.Equal(t, meta.Version, cur.Meta.Version)

	assert.Zero(t, e.counter(t, domrepo.KeyScoredSinceTrain))
	_, trained, err := e.store.LastTrainedAt(ctx)
	require.NoError(t, err)
	assert.True(t, trained)

	ok, err = tr.ShouldTrain(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	meta, err = tr.Train(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), meta.Version)
}

func TestTrainer_InsufficientSamplesBacksOff(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pushEntries(t, e, 10)
	_, err := e.store.IncrCounter(ctx, domrepo.KeyScoredSinceTrain, 20)
	require.NoError(t, err)

	tr, h := newTrainer(e)
	_, err = tr.Train(ctx)
	assert.ErrorIs(t, err, models.ErrInsufficientSamples)
	assert.Nil(t, h.Current())
	assert.Equal(t, int64(20), e.counter(t, domrepo.KeyScoredSinceTrain))

	ok, err := tr.ShouldTrain(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTrainer_LockHeldElsewhere(t *testing.T) {
	e := newEnv(t)
	pushEntries(t, e, 40)
	require.NoError(t, e.client.Set(context.Background(), "spincast:locks:train", "locked", time.Minute).Err())

	tr, _ := newTrainer(e)
	_, err := tr.Train(context.Background())
	assert.ErrorIs(t, err, ErrTrainingBusy)
}

func TestTrainer_NeverTrainedWaitsForSamples(t *testing.T) {
	e := newEnv(t)
	tr, _ := newTrainer(e)
	ok, err := tr.ShouldTrain(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	pushEntries(t, e, 30)
	ok, err = tr.ShouldTrain(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBuildDataset(t *testing.T) {
	entries := []models.FeatureEntry{
		{Features: map[string]float64{"b": 1}, Target: 5},
		{Features: map[string]float64{"a": 2}, Target: 1},
		{Features: nil, Target: 2},
		{Features: map[string]float64{"a": 1}, Target: 40},
	}
	ds, err := BuildDataset(entries, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ds.Columns)
	assert.Equal(t, []int{1, 5}, ds.Labels)
	assert.Equal(t, [][]float64{{0, 1}, {2, 0}}, ds.X)
	assert.Equal(t, []int{1, 0}, ds.Y)

	_, err = BuildDataset(entries, 3)
	assert.ErrorIs(t, err, models.ErrInsufficientSamples)

	_, err = BuildDataset(entries[:1], 1)
	assert.ErrorIs(t, err, models.ErrTrainingFailed)
}

type fakeTrainer struct {
	err   error
	calls int
}

func (f *fakeTrainer) Train(context.Context) (models.ModelMetadata, error) {
	f.calls++
	return models.ModelMetadata{Version: 7}, f.err
}

func TestRetrainJob(t *testing.T) {
	ft := &fakeTrainer{}
	job := &RetrainJob{trainer: ft, log: logger.NewNop()}
	assert.Equal(t, TrainModelJobType, job.Type())
	require.NoError(t, job.Handle(context.Background(), map[string]interface{}{"reason": "cli"}))

	ft.err = ErrTrainingBusy
	require.NoError(t, job.Handle(context.Background(), nil))

	ft.err = models.ErrStoreUnavailable
	assert.Error(t, job.Handle(context.Background(), nil))
	assert.Equal(t, 3, ft.calls)
}
