package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedHandler struct {
	topic string
	fails int
	calls int
	panic bool
}

func (h *scriptedHandler) Topic() string { return h.topic }

func (h *scriptedHandler) Handle(_ context.Context, _ []byte) error {
	h.calls++
	if h.panic {
		panic("boom")
	}
	if h.calls <= h.fails {
		return errors.New("transient")
	}
	return nil
}

type countingHook struct {
	NoopHook
	errs int
}

func (h *countingHook) OnError(context.Context, string, kafka.Message, []byte, error) { h.errs++ }

func newTestConsumer(t *testing.T, opts ...ConsumerOption) *Consumer {
	t.Helper()
	opts = append([]ConsumerOption{
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
		WithConsumerMetrics(NewMetrics(prometheus.NewRegistry())),
	}, opts...)
	c, err := NewConsumer(opts...)
	require.NoError(t, err)
	return c
}

func TestNewConsumer_RequiresBrokers(t *testing.T) {
	_, err := NewConsumer()
	assert.Error(t, err)
}

func TestConsumer_StartWithoutHandlers(t *testing.T) {
	c := newTestConsumer(t)
	assert.Error(t, c.Start())
}

func TestConsumer_LaneForIsStable(t *testing.T) {
	c := newTestConsumer(t, WithConsumerWorkers(3))
	assert.Len(t, c.lanes, 3)
	assert.Equal(t, 0, c.laneFor(0))
	assert.Equal(t, 1, c.laneFor(4))
	assert.Equal(t, c.laneFor(7), c.laneFor(7))
}

func TestConsumer_RetriesThenSucceeds(t *testing.T) {
	c := newTestConsumer(t)
	hook := &countingHook{}
	c.WithConsumerHook(hook)
	h := &scriptedHandler{topic: "outcomes", fails: 2}
	c.RegisterHandler(h)

	attempts, err := c.handleWithRetry(h, &message{topic: "outcomes", data: []byte("{}")})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, hook.errs)
}

func TestConsumer_GivesUpAfterRetryMax(t *testing.T) {
	c := newTestConsumer(t)
	h := &scriptedHandler{topic: "outcomes", fails: 10}
	c.RegisterHandler(h)

	attempts, err := c.handleWithRetry(h, &message{topic: "outcomes"})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)

	// no DLQ configured, so the message stays uncommitted
	assert.False(t, c.toDLQ(&message{topic: "outcomes"}))
}

func TestConsumer_HandlerPanicIsAnError(t *testing.T) {
	c := newTestConsumer(t)
	h := &scriptedHandler{topic: "outcomes", panic: true}
	_, err := c.handleWithRetry(h, &message{topic: "outcomes"})
	assert.ErrorContains(t, err, "panic")
}

func TestConsumer_StopWithoutStart(t *testing.T) {
	c := newTestConsumer(t)
	assert.NoError(t, c.Stop(context.Background()))
	assert.NoError(t, c.Stop(context.Background()))
}

func TestEncodeValue(t *testing.T) {
	b, err := encodeValue([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))

	b, err = encodeValue(map[string]int{"number": 17})
	require.NoError(t, err)
	assert.JSONEq(t, `{"number":17}`, string(b))

	_, err = encodeValue(make(chan int))
	assert.Error(t, err)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.observePublish("t", "gzip", 1, 1, time.Millisecond, nil)
	m.setQueueDepth("t", 1)
	m.observeHandle("t", time.Millisecond, errors.New("x"))
	m.observeDLQ("t", nil)
}
