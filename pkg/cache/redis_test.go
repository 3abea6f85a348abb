package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*RedisLocker, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, ""), client, mr
}

func TestRedisLocker_TryLock(t *testing.T) {
	l, _, mr := newTestLocker(t)
	ctx := context.Background()

	ok, err := l.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("spincast:lock"))

	ok, err = l.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Unlock(ctx, "lock"))
	assert.False(t, mr.Exists("spincast:lock"))

	ok, err = l.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = l.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_UnlockKeepsForeignLock(t *testing.T) {
	l, client, mr := newTestLocker(t)
	ctx := context.Background()

	ok, err := l.TryLock(ctx, "train", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Expired and taken by another process.
	mr.FastForward(2 * time.Minute)
	other := NewRedisLocker(client, "")
	ok, err = other.TryLock(ctx, "train", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, l.Unlock(ctx, "train"), ErrLockNotHeld)
	assert.True(t, mr.Exists("spincast:train"))
	require.NoError(t, other.Unlock(ctx, "train"))

	assert.ErrorIs(t, l.Unlock(ctx, "never"), ErrLockNotHeld)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(WithRedisAddr(mr.Host(), mustPort(t, mr)), WithRedisPool(4, 0, 0))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	assert.Equal(t, 4, client.Options().PoolSize)

	_, err = NewRedisClient(WithRedisAddr("127.0.0.1", 1), func(c *RedisConfig) { c.PingTimeout = 50 * time.Millisecond })
	assert.Error(t, err)
}

func mustPort(t *testing.T, mr *miniredis.Miniredis) int {
	t.Helper()
	var port int
	_, err := fmt.Sscanf(mr.Port(), "%d", &port)
	require.NoError(t, err)
	return port
}

func TestHashOutcomes(t *testing.T) {
	a := HashOutcomes([]int{1, 2, 3, 4}, 3)
	b := HashOutcomes([]int{1, 2, 3, 9}, 3)
	c := HashOutcomes([]int{1, 2, 4}, 3)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, HashOutcomes([]int{5, 6}, 0), HashOutcomes([]int{5, 6}, 10))
}
