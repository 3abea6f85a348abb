package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"SpinCast/pkg/logger"
	"SpinCast/pkg/util"
)

// DefaultKeyPrefix namespaces queue keys in Redis.
const DefaultKeyPrefix = "spincast:queue"

// QueueMode defines the operation mode of the queue.
type QueueMode int

const (
	ModeProducerConsumer QueueMode = iota
	ModeProducerOnly
	ModeConsumerOnly
)

func (m QueueMode) String() string {
	switch m {
	case ModeProducerOnly:
		return "producer-only"
	case ModeConsumerOnly:
		return "consumer-only"
	default:
		return "producer-consumer"
	}
}

func (m QueueMode) consumes() bool { return m != ModeProducerOnly }

// promoteDue moves retries whose score is due back onto the ready list in
// one step, so two promoters never deliver the same message twice.
var promoteDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', '0', ARGV[2])
for _, m in ipairs(due) do
	redis.call('ZREM', KEYS[1], m)
	redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

type keys struct {
	ready, retry, dead string
}

func newKeys(prefix string) keys {
	return keys{ready: prefix + ":messages", retry: prefix + ":retry", dead: prefix + ":dlq"}
}

// RedisQueue is a list-backed job queue with delayed retries in a sorted
// set and a dead-letter list.
type RedisQueue struct {
	logger *logger.Logger
	config QueueConfig
	client *redis.Client
	mode   QueueMode
	prefix string
	keys   keys

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, mode QueueMode, opts ...RedisQueueOption) *RedisQueue {
	cfg := QueueConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = time.Second
	}

	r := &RedisQueue{
		logger: lgr,
		config: cfg,
		client: client,
		mode:   mode,
		prefix: DefaultKeyPrefix,
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.keys = newKeys(r.prefix)
	return r
}

// NewRedisPublisher creates and starts a publisher-only queue.
func NewRedisPublisher(lgr *logger.Logger, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	q := NewRedisQueue(lgr, nil, client, ModeProducerOnly, opts...)
	if err := q.Start(); err != nil {
		lgr.Error("redis publisher start failed", logger.Error(err))
	}
	return q
}

// NewRedisConsumer creates a consumer-only queue with jobs registered.
func NewRedisConsumer(lgr *logger.Logger, config *QueueConfig, client *redis.Client, jobs []Job, opts ...RedisQueueOption) *RedisQueue {
	q := NewRedisQueue(lgr, config, client, ModeConsumerOnly, opts...)
	for _, j := range jobs {
		q.RegisterJob(j)
	}
	return q
}

// RegisterJob routes messages of job.Type() to job. Duplicate types keep
// the first registration.
func (r *RedisQueue) RegisterJob(job Job) {
	if !r.mode.consumes() {
		r.logger.Warn("job registration ignored in producer-only mode", logger.String("job", job.Name()))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.jobs[job.Type()]; dup {
		r.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Debug("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

// Start checks the connection and, in consuming modes, launches the
// workers and the retry promoter.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue already running")
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true

	if r.mode.consumes() {
		for i := 0; i < r.config.Workers; i++ {
			r.wg.Add(1)
			go r.worker(ctx, i)
		}
		r.wg.Add(1)
		go r.promoter(ctx)
	}
	r.logger.Info("redis queue started",
		logger.String("mode", r.mode.String()),
		logger.Int("workers", r.config.Workers),
		logger.String("prefix", r.prefix))
	return nil
}

// Stop cancels the workers and waits for in-flight jobs until ctx expires.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("redis queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	}
}

// Enqueue appends a message for msgType. Consuming queues reject types
// with no registered job.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()

	if !running {
		return errors.New("queue not running")
	}
	if r.mode.consumes() && !known {
		return fmt.Errorf("no job registered for type %q", msgType)
	}

	msg := Message{ID: uuid.NewString(), Type: msgType, Timestamp: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		msg.Payload = raw
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := r.client.LPush(ctx, r.keys.ready, data).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// PublishMessage implements Publisher.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	return r.Enqueue(ctx, msgType, payload)
}

// Depth reports the number of waiting, retrying and dead messages.
func (r *RedisQueue) Depth(ctx context.Context) (waiting, retrying, dead int64, err error) {
	pipe := r.client.Pipeline()
	w := pipe.LLen(ctx, r.keys.ready)
	rt := pipe.ZCard(ctx, r.keys.retry)
	d := pipe.LLen(ctx, r.keys.dead)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, 0, fmt.Errorf("queue depth: %w", err)
	}
	return w.Val(), rt.Val(), d.Val(), nil
}

func (r *RedisQueue) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	log := r.logger.With(logger.Int("worker", id))
	failures := 0

	for ctx.Err() == nil {
		res, err := r.client.BRPop(ctx, time.Second, r.keys.ready).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			failures++
			log.Error("brpop failed", logger.Error(err), logger.Int("failures", failures))
			sleepCtx(ctx, util.Backoff(100*time.Millisecond, 5*time.Second, failures))
			continue
		}
		failures = 0

		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			log.Error("dropping undecodable message", logger.Error(err))
			continue
		}
		r.dispatch(ctx, msg)
	}
}

func (r *RedisQueue) dispatch(ctx context.Context, msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("no job for message", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.bury(msg)
		return
	}

	start := time.Now()
	err := job.Handle(ctx, msg.Payload)
	if err == nil {
		r.logger.Debug("job done", logger.String("job", job.Name()), logger.Duration("took", time.Since(start)))
		return
	}
	if ctx.Err() != nil {
		// Shutting down: put it back for the next run.
		r.schedule(msg, time.Now())
		return
	}

	msg.Attempts++
	msg.LastError = err.Error()
	if msg.Attempts > r.config.RetryLimit {
		r.logger.Error("job failed, dead-lettering",
			logger.String("job", job.Name()), logger.String("id", msg.ID),
			logger.Int("attempts", msg.Attempts), logger.Error(err))
		r.bury(msg)
		return
	}
	at := time.Now().Add(util.Backoff(r.config.RetryDelay, 8*r.config.RetryDelay, msg.Attempts))
	r.logger.Warn("job failed, retry scheduled",
		logger.String("job", job.Name()), logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts), logger.String("retry_at", at.Format(time.RFC3339)), logger.Error(err))
	r.schedule(msg, at)
}

// schedule and bury run on a fresh context so a message survives shutdown.
func (r *RedisQueue) schedule(msg Message, at time.Time) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("encode retry", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.ZAdd(ctx, r.keys.retry, redis.Z{Score: float64(at.UnixMilli()), Member: data}).Err(); err != nil {
		r.logger.Error("zadd retry", logger.Error(err))
	}
}

func (r *RedisQueue) bury(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("encode dead letter", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.LPush(ctx, r.keys.dead, data).Err(); err != nil {
		r.logger.Error("lpush dead letter", logger.Error(err))
	}
}

func (r *RedisQueue) promoter(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.PollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.PromoteDue(ctx, time.Now()); err != nil && ctx.Err() == nil {
				r.logger.Error("promote retries", logger.Error(err))
			}
		}
	}
}

// PromoteDue moves retries due at or before now back to the ready list.
func (r *RedisQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	until := strconv.FormatInt(now.UnixMilli(), 10)
	n, err := promoteDue.Run(ctx, r.client, []string{r.keys.retry, r.keys.ready}, until, 100).Int()
	if err != nil {
		return 0, fmt.Errorf("promote due: %w", err)
	}
	return n, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
