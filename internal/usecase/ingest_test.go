package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpinCast/internal/domain/models"
	domrepo "SpinCast/internal/domain/repository"
)

func TestIngest_AcceptRejectDuplicate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	res, err := e.ingestor.Ingest(ctx, 17, at)
	require.NoError(t, err)
	require.True(t, res.IsAccepted())
	assert.Equal(t, int64(1), res.Event.SpinID)

	res, err = e.ingestor.Ingest(ctx, 17, at.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.Rejected(models.RejectDuplicate), res)

	res, err = e.ingestor.Ingest(ctx, 37, at)
	require.NoError(t, err)
	assert.Equal(t, models.RejectInvalid, res.Reason)

	assert.Equal(t, int64(1), e.counter(t, domrepo.KeyTotalSpins))
	assert.Equal(t, int64(1), e.counter(t, domrepo.FreqKey("number", 17)))
	assert.Equal(t, int64(1), e.counter(t, domrepo.FreqKey("color", "black")))
	assert.Equal(t, int64(1), e.counter(t, domrepo.FreqKey("dozen", 2)))
	assert.Equal(t, int64(1), e.counter(t, "roulette:time:hour:12"))
}

func TestIngest_RetryAfterCommitIsAccepted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	first, err := e.ingestor.Ingest(ctx, 23, at)
	require.NoError(t, err)
	require.True(t, first.IsAccepted())

	// Same outcome and timestamp as a producer retry would resend it.
	again, err := e.ingestor.Ingest(ctx, 23, at)
	require.NoError(t, err)
	require.True(t, again.IsAccepted())
	assert.Equal(t, first.Event.SpinID, again.Event.SpinID)
	assert.Equal(t, int64(1), e.counter(t, domrepo.KeyTotalSpins))
	assert.Equal(t, int64(1), e.counter(t, domrepo.FreqKey("number", 23)))
}

func TestIngest_FeatureBufferNeedsPriorHistory(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, n := range []int{4, 9, 13, 21, 30} {
		_, err := e.ingestor.Ingest(ctx, n, at.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	l, err := e.store.FeatureBufferLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, l)

	_, err = e.ingestor.Ingest(ctx, 2, at.Add(10*time.Second))
	require.NoError(t, err)
	entries, err := e.store.RangeFeatureBuffer(ctx, 0, -1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Target)
	assert.Equal(t, float64(30), entries[0].Features["last_1"])
}

func TestIngest_StoreUnavailable(t *testing.T) {
	e := newEnv(t)
	e.mr.Close()
	_, err := e.ingestor.Ingest(context.Background(), 3, time.Now())
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}

func TestCounterKeys(t *testing.T) {
	keys := CounterKeys(0, time.Date(2024, 5, 1, 8, 15, 0, 0, time.UTC))
	assert.Contains(t, keys, "roulette:freq:number:0")
	assert.Contains(t, keys, "roulette:freq:color:green")
	assert.Contains(t, keys, "roulette:sectors:sector_0")
	assert.Contains(t, keys, "roulette:time:minute:15")
}
