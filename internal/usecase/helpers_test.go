package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"SpinCast/internal/domain/models"
	"SpinCast/internal/repository"
	"SpinCast/internal/services/features"
	"SpinCast/pkg/logger"
	"SpinCast/pkg/metrics"
)

type env struct {
	mr       *miniredis.Miniredis
	client   *redis.Client
	store    *repository.RedisHotStore
	ingestor *Ingestor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := repository.NewRedisHotStore(client, repository.DefaultHotStoreLimits())
	return &env{
		mr:       mr,
		client:   client,
		store:    store,
		ingestor: NewIngestor(store, features.NewExtractor(30*time.Second), metrics.Nop{}, logger.NewNop()),
	}
}

func (e *env) counter(t *testing.T, key string) int64 {
	t.Helper()
	v, err := e.store.GetCounter(context.Background(), key)
	require.NoError(t, err)
	return v
}

func (e *env) pending(t *testing.T) []string {
	t.Helper()
	ids, err := e.store.ListPending(context.Background())
	require.NoError(t, err)
	return ids
}

func (e *env) enqueue(t *testing.T, id string, at time.Time, groups map[string][]int) {
	t.Helper()
	probs := make([]float64, 37)
	for i := range probs {
		probs[i] = 1.0 / 37
	}
	require.NoError(t, e.store.EnqueuePending(context.Background(), &models.Prediction{
		ID:               id,
		Timestamp:        at,
		Probabilities:    probs,
		PredictedNumbers: []int{1, 2, 3, 4, 5, 6},
		Groups:           groups,
		Type:             models.KindEnsemble,
		Confidence:       0.2,
		ModelUsed:        models.LabelStatistical,
		Status:           models.StatusPending,
	}))
}
