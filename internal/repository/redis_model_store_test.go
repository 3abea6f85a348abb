package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpinCast/internal/domain/models"
)

func sampleMeta() models.ModelMetadata {
	return models.ModelMetadata{
		ModelType:       "gbdt",
		FeatureColumns:  []string{"hour", "last_1"},
		LabelOutcomes:   []int{3, 7, 19},
		TrainedAt:       time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		TrainAccuracy:   0.25,
		TrainingSamples: 40,
	}
}

func TestModelStore_SaveLoad(t *testing.T) {
	_, _, client := newTestStore(t, DefaultHotStoreLimits())
	ms := NewRedisModelStore(client, "roulette_gbdt")
	ctx := context.Background()

	_, _, err := ms.Load(ctx)
	assert.ErrorIs(t, err, models.ErrModelNotFound)

	m1, err := ms.Save(ctx, []byte("v1"), sampleMeta())
	require.NoError(t, err)
	assert.Equal(t, int64(1), m1.Version)
	assert.Equal(t, "roulette_gbdt", m1.Name)

	m2, err := ms.Save(ctx, []byte("v2"), sampleMeta())
	require.NoError(t, err)
	assert.Equal(t, int64(2), m2.Version)

	blob, meta, err := ms.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), blob)
	assert.Equal(t, int64(2), meta.Version)
	assert.Equal(t, []int{3, 7, 19}, meta.LabelOutcomes)
	assert.Equal(t, []string{"hour", "last_1"}, meta.FeatureColumns)
	assert.Equal(t, 40, meta.TrainingSamples)
	assert.InDelta(t, 0.25, meta.TrainAccuracy, 1e-12)
	assert.True(t, meta.TrainedAt.Equal(sampleMeta().TrainedAt))
}
