package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_BurstThenRefill(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(WithClock(func() time.Time { return now }))

	assert.True(t, l.Allow("feed", 2, 1))
	assert.True(t, l.Allow("feed", 2, 1))
	assert.False(t, l.Allow("feed", 2, 1))
	assert.True(t, l.Allow("kafka", 2, 1))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("feed", 2, 1))
	assert.False(t, l.Allow("feed", 2, 1))

	l.Forget("feed")
	assert.True(t, l.Allow("feed", 2, 1))
}

func TestLimiter_Unlimited(t *testing.T) {
	l := New()
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("x", 1, 0))
	}
}
