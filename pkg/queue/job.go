package queue

import "context"

// Job consumes every message of one Type.
//
// Handle receives the still-encoded payload; decode it with ParsePayload.
// A returned error reschedules the message with backoff until RetryLimit
// is spent, then the message is moved to the dead-letter list.
type Job interface {
	Name() string // for logs
	Type() string
	Handle(ctx context.Context, payload interface{}) error
}
