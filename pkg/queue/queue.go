package queue

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Publisher enqueues a typed message.
type Publisher interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// QueueConfig contains the configuration for the queue
type QueueConfig struct {
	Workers    int           // number of workers
	RetryLimit int           // retries before a message is dead-lettered
	RetryDelay time.Duration // base delay, doubled per attempt
	PollEvery  time.Duration // how often due retries are promoted
}

// Message is the envelope stored in Redis. Payload stays encoded until a
// job decodes it with ParsePayload.
type Message struct {
	ID        string              `json:"id"`
	Type      string              `json:"type"`
	Payload   jsoniter.RawMessage `json:"payload,omitempty"`
	Attempts  int                 `json:"attempts"`
	Timestamp time.Time           `json:"timestamp"`
	LastError string              `json:"last_error,omitempty"`
}

// ParsePayload decodes a job payload into T. Payloads handed over
// in-process as T or *T are returned as is.
func ParsePayload[T any](payload interface{}) (*T, error) {
	var raw []byte
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case jsoniter.RawMessage:
		raw = p
	case []byte:
		raw = p
	case nil:
		return nil, fmt.Errorf("empty payload")
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("re-encode %T: %w", payload, err)
		}
		raw = b
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}
