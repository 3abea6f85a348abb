package predictor

import (
	"context"
	"math"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpinCast/internal/domain/models"
	"SpinCast/internal/domain/roulette"
	"SpinCast/internal/repository"
	"SpinCast/internal/services/features"
	"SpinCast/internal/services/gbdt"
	"SpinCast/pkg/logger"
	"SpinCast/pkg/metrics"
)

func assertDistribution(t *testing.T, p []float64) {
	t.Helper()
	require.Len(t, p, roulette.NumOutcomes)
	var sum float64
	for _, v := range p {
		assert.GreaterOrEqual(t, v, 0.0)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestTopK_TiesByOutcome(t *testing.T) {
	p := make([]float64, roulette.NumOutcomes)
	for i := range p {
		p[i] = 1
	}
	p[30] = 5
	p[2] = 5
	assert.Equal(t, []int{2, 30, 0, 1, 3, 4}, TopK(p, 6))
	assert.Len(t, TopK(p, 50), roulette.NumOutcomes)
}

func TestFallbackTiers_AreDistributions(t *testing.T) {
	histories := [][]int{{}, {7}, {1, 1, 2, 3}, {0, 36, 5, 5, 5, 17, 22, 8, 9, 10, 11, 12, 13, 14, 15, 16, 18, 19, 20, 21, 23}}
	for _, h := range histories {
		assertDistribution(t, FrequencyInverse(h))
		assertDistribution(t, Recency(h))
	}
	assertDistribution(t, Basic())
}

func TestBasic(t *testing.T) {
	b := Basic()
	for _, n := range roulette.BasicOutcomes {
		assert.InDelta(t, 0.1, b[n], 1e-12)
	}
	assert.InDelta(t, 0.4/31, b[1], 1e-12)
}

func TestRecency_RanksByFrequency(t *testing.T) {
	p := Recency([]int{9, 4, 9, 4, 9, 1})
	top := TopK(p, 3)
	assert.Equal(t, []int{9, 4, 1}, top)
	var topMass float64
	for _, n := range []int{9, 4, 1} {
		topMass += p[n]
	}
	assert.InDelta(t, 0.5*(6+5+4)/15.0, topMass, 1e-9)
}

func TestFrequencyInverse_Floor(t *testing.T) {
	h := make([]int, 20)
	for i := range h {
		h[i] = 3
	}
	p := FrequencyInverse(h)
	assert.Less(t, p[3], p[4])
	assert.Greater(t, p[3], 0.0)
}

func TestConfidence(t *testing.T) {
	u := make([]float64, roulette.NumOutcomes)
	for i := range u {
		u[i] = 1.0 / 37
	}
	assert.InDelta(t, 0.3, modelConfidence(u, 6), 1e-12)
	assert.InDelta(t, 6.0/37*0.8, fallbackConfidence(u, 6), 1e-12)

	peaked := make([]float64, roulette.NumOutcomes)
	peaked[1] = 1
	assert.InDelta(t, 0.9, modelConfidence(peaked, 6), 1e-12)
	assert.InDelta(t, 0.25, fallbackConfidence(peaked, 6), 1e-12)
}

func TestNewPredictionID(t *testing.T) {
	id := NewPredictionID(time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC))
	assert.Regexp(t, regexp.MustCompile(`^pred_20240304_050607_[0-9a-f]{8}$`), id)
}

type fixture struct {
	store  *repository.RedisHotStore
	handle *ModelHandle
	ens    *Ensemble
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		store:  repository.NewRedisHotStore(client, repository.DefaultHotStoreLimits()),
		handle: NewModelHandle(),
		now:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.ens = NewEnsemble(f.store, features.NewExtractor(30*time.Second), NewModelPredictor(f.handle),
		metrics.Nop{}, logger.NewNop(), DefaultConfig(), WithClock(func() time.Time { return f.now }))
	return f
}

// seed pushes history so that the first element ends up most recent.
func (f *fixture) seed(t *testing.T, history ...int) {
	t.Helper()
	for i := len(history) - 1; i >= 0; i-- {
		require.NoError(t, f.store.PushHistory(context.Background(), history[i]))
	}
}

func TestEnsemble_ColdStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.ens.Predict(ctx, models.KindEnsemble)
	require.NoError(t, err)
	assert.Equal(t, models.LabelBasic, p.ModelUsed)
	assert.Nil(t, p.LastNumber)
	assertDistribution(t, p.Probabilities)
	assert.ElementsMatch(t, []int{0, 7, 14, 21, 28, 35}, p.PredictedNumbers)
	assert.LessOrEqual(t, p.Confidence, 0.25)
	assert.Equal(t, roulette.Red, p.Groups[roulette.GroupRed])

	ids, err := f.store.ListPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{p.ID}, ids)
}

func TestEnsemble_ShortHistoryUsesRecency(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 17, 17, 4)

	p, err := f.ens.Predict(context.Background(), models.KindEnsemble)
	require.NoError(t, err)
	assert.Equal(t, models.LabelStatistical, p.ModelUsed)
	assert.Equal(t, 17, p.PredictedNumbers[0])
	require.NotNil(t, p.LastNumber)
	assert.Equal(t, 17, *p.LastNumber)
	assert.Len(t, p.Groups[roulette.TopGroup(20)], 20)
	assert.Len(t, p.Groups[roulette.GroupIndividual], 1)
	assert.NotContains(t, p.Groups, roulette.GroupStrategyTarget)
}

func TestEnsemble_CacheIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12)

	a, err := f.ens.Predict(ctx, models.KindEnsemble)
	require.NoError(t, err)
	b, err := f.ens.Predict(ctx, models.KindEnsemble)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, models.LabelStatistical, a.ModelUsed)

	ids, err := f.store.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	c, err := f.ens.Predict(ctx, models.KindBasic)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)

	f.now = f.now.Add(31 * time.Second)
	d, err := f.ens.Predict(ctx, models.KindEnsemble)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, d.ID)
}

func TestEnsemble_StrategyTargetGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	targets := roulette.TriggerStrategy.TargetsFor(33)
	require.NoError(t, f.store.SetStrategyState(ctx, roulette.TriggerStrategy.Name, models.StrategyState{
		Phase: models.PhaseActive, Remaining: 3, Trigger: 33, Targets: targets,
	}))

	p, err := f.ens.Predict(ctx, models.KindBasic)
	require.NoError(t, err)
	assert.Equal(t, targets, p.Groups[roulette.GroupStrategyTarget])
	assert.Contains(t, p.Groups[roulette.GroupStrategyTarget], 34)
}

func trainTinyModel(t *testing.T, labels []int) (*gbdt.Model, models.ModelMetadata) {
	t.Helper()
	cols := []string{"last_1", "hour"}
	var X [][]float64
	var y []int
	for i := 0; i < 30; i++ {
		c := i % len(labels)
		X = append(X, []float64{float64(labels[c]), float64(i % 24)})
		y = append(y, c)
	}
	p := gbdt.DefaultParams()
	p.Estimators = 5
	p.MaxDepth = 2
	m, err := gbdt.Train(X, y, len(labels), p)
	require.NoError(t, err)
	return m, models.ModelMetadata{ModelType: "gbdt", Version: 1, FeatureColumns: cols, LabelOutcomes: labels}
}

func TestEnsemble_WithModel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 3, 8, 3, 8, 3, 8, 3, 8, 3, 8, 3)
	m, meta := trainTinyModel(t, []int{3, 8})
	f.handle.Swap(m, meta)

	p, err := f.ens.Predict(ctx, models.KindModel)
	require.NoError(t, err)
	assert.Equal(t, models.LabelModel, p.ModelUsed)
	assertDistribution(t, p.Probabilities)
	assert.GreaterOrEqual(t, p.Confidence, 0.3)
	assert.LessOrEqual(t, p.Confidence, 0.9)
	assert.Contains(t, []int{3, 8}, p.PredictedNumbers[0])

	e, err := f.ens.Predict(ctx, models.KindEnsemble)
	require.NoError(t, err)
	assert.Equal(t, models.LabelEnsemble, e.ModelUsed)
	assertDistribution(t, e.Probabilities)
}

func TestModelPredictor_Unavailable(t *testing.T) {
	mp := NewModelPredictor(NewModelHandle())
	_, _, err := mp.Predict(map[string]float64{})
	assert.ErrorIs(t, err, models.ErrModelUnavailable)

	h := NewModelHandle()
	m, meta := trainTinyModel(t, []int{3, 8})
	meta.LabelOutcomes = []int{3}
	h.Swap(m, meta)
	_, _, err = NewModelPredictor(h).Predict(map[string]float64{"last_1": 3})
	assert.ErrorIs(t, err, models.ErrModelUnavailable)
}

func TestModelPredictor_UnseenFloor(t *testing.T) {
	h := NewModelHandle()
	m, meta := trainTinyModel(t, []int{3, 8})
	h.Swap(m, meta)
	p, _, err := NewModelPredictor(h).Predict(map[string]float64{"last_1": 3, "extra": 1})
	require.NoError(t, err)
	assertDistribution(t, p)
	assert.Greater(t, p[0], 0.0)
	assert.Greater(t, p[3]+p[8], 0.9)
}

func TestModelHandle_SwapIsAtomic(t *testing.T) {
	h := NewModelHandle()
	m2, meta2 := trainTinyModel(t, []int{3, 8})
	m3, meta3 := trainTinyModel(t, []int{1, 2, 4})
	h.Swap(m2, meta2)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				h.Swap(m3, meta3)
			} else {
				h.Swap(m2, meta2)
			}
		}
	}()

	mp := NewModelPredictor(h)
	for i := 0; i < 2000; i++ {
		lm := h.Current()
		require.Equal(t, lm.Model.NumClass, len(lm.Meta.LabelOutcomes))
		p, _, err := mp.Predict(map[string]float64{"last_1": 3})
		require.NoError(t, err)
		var sum float64
		for _, v := range p {
			sum += v
		}
		require.False(t, math.IsNaN(sum))
	}
	close(stop)
	wg.Wait()
}
