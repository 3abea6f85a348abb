package logger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) all() []AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []AggregatedLogEntry
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Output: "stdout"})
	assert.Error(t, err)
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(&Config{Level: "info", Format: "json", Output: path, Component: "test"})
	require.NoError(t, err)
	l.Info("hello", String("k", "v"))
	assert.FileExists(t, path)
}

func TestEntryKey_IgnoresFieldOrder(t *testing.T) {
	a := entryKey("error", "store down", map[string]interface{}{"a": 1, "b": "x"}, "f.go:1")
	b := entryKey("error", "store down", map[string]interface{}{"b": "x", "a": 1}, "f.go:1")
	c := entryKey("error", "store down", map[string]interface{}{"a": 2, "b": "x"}, "f.go:1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestCollector_AggregatesAndFlushesOnClose(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 100,
		Topic:          "spincast.logs",
		Publisher:      pub,
		Service:        "spincast",
	})

	for i := 0; i < 3; i++ {
		c.AddLog("warn", "feed stream error", map[string]interface{}{"error": "eof"}, "feed.go:10")
	}
	c.AddLog("error", "commit failed", nil, "store.go:20")
	assert.Equal(t, 2, c.Pending())

	c.Close()
	entries := pub.all()
	require.Len(t, entries, 2)
	assert.Equal(t, "spincast.logs", pub.topic)
	assert.Equal(t, "feed stream error", entries[0].Message)
	assert.Equal(t, 3, entries[0].Count)
	assert.Equal(t, "spincast", entries[0].Service)

	c.AddLog("error", "after close", nil, "x.go:1")
	assert.Equal(t, 0, c.Pending())
	c.Close()
}

func TestCollector_FlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})
	c.AddLog("warn", "a", nil, "x.go:1")
	c.AddLog("warn", "b", nil, "x.go:2")
	assert.Equal(t, 0, c.Pending())
	c.Close()
	assert.Len(t, pub.all(), 2)
}

func TestLogger_WarnAndErrorReachCollector(t *testing.T) {
	pub := &capturePublisher{}
	l := NewNop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Publisher: pub})
	child := l.With(String("stage", "ingest"))

	child.Error("store unavailable", Error(errors.New("dial tcp")))
	child.Info("not collected")
	l.RemoveCollector()

	entries := pub.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].Level)
	assert.Equal(t, "dial tcp", entries[0].Fields["error"])
}
