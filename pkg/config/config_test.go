package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, []int{4, 8, 14, 15, 20}, c.Predictor.GroupSizes)
	assert.Equal(t, 6, c.Predictor.TopK)
	assert.Equal(t, 30, c.Training.MinSamples)
	assert.Equal(t, 15, c.Training.AfterNPredictions)
	assert.Equal(t, 6*time.Hour, c.Training.Interval)
	assert.Equal(t, 168*time.Hour, c.Store.ResultTTL)
	assert.Equal(t, 50, c.Store.PendingPredictionsMaxLen)
	assert.Equal(t, -1, c.Kafka.RequiredAcks)
	assert.False(t, c.Kafka.Enabled)
	assert.Equal(t, "spincast:queue", c.Queue.KeyPrefix)
}

func TestParse_OverridesOnTopOfDefaults(t *testing.T) {
	c, err := Parse([]byte(`
training:
  retrain_min_samples: 50
predictor:
  top_k: 4
  group_sizes: [5, 10]
`))
	require.NoError(t, err)
	assert.Equal(t, 50, c.Training.MinSamples)
	assert.Equal(t, 4, c.Predictor.TopK)
	assert.Equal(t, []int{5, 10}, c.Predictor.GroupSizes)
	assert.Equal(t, 0.8, c.Predictor.ModelWeight)
	assert.Equal(t, "localhost", c.Redis.Host)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"top k out of range":  "predictor:\n  top_k: 40\n",
		"kafka needs brokers": "kafka:\n  enabled: true\n",
		"feed needs url":      "feed:\n  enabled: true\n",
		"zero weights":        "predictor:\n  model_weight: 0\n  fallback_weight: 0\n",
		"bad log level":       "log:\n  level: loud\n",
		"not yaml":            "server: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, c.Server.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("SPINCAST_ENV", "test")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("FEED_URL", "")

	c, err := LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "test", c.Environment)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "redis.internal", c.Redis.Host)
	assert.Equal(t, 6380, c.Redis.Port)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.False(t, c.Feed.Enabled)
}
