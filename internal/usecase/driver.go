package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"SpinCast/internal/domain/models"
	domrepo "SpinCast/internal/domain/repository"
	"SpinCast/pkg/logger"
	"SpinCast/pkg/util"
)

// ErrDriverStopped is returned by Submit once Run has returned.
var ErrDriverStopped = errors.New("driver stopped")

// Predictor produces a prediction of the requested kind.
type Predictor interface {
	Predict(ctx context.Context, kind models.RequestKind) (*models.Prediction, error)
}

// TrainScheduler starts background training when a trigger fires.
type TrainScheduler interface {
	MaybeTrainAsync(ctx context.Context)
}

type DriverConfig struct {
	PollInterval time.Duration
	OpTimeout    time.Duration
	MaxFailures  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	QueueSize    int
}

func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		PollInterval: 5 * time.Second,
		OpTimeout:    10 * time.Second,
		MaxFailures:  5,
		BackoffBase:  time.Second,
		BackoffMax:   30 * time.Second,
		QueueSize:    64,
	}
}

type submission struct {
	n     int
	at    time.Time
	reply chan submitReply
}

type submitReply struct {
	res models.IngestResult
	err error
}

// Driver owns the ingest, evaluate, predict cycle. Every outcome flows
// through one goroutine so the stages never interleave.
type Driver struct {
	ingestor  *Ingestor
	evaluator *Evaluator
	predictor Predictor
	trainer   TrainScheduler
	metrics   domrepo.Metrics
	log       *logger.Logger
	cfg       DriverConfig

	requests chan submission
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once

	latest atomic.Pointer[models.Prediction]
	subsMu sync.RWMutex
	subs   []func(models.Prediction)
}

func NewDriver(ingestor *Ingestor, evaluator *Evaluator, predictor Predictor, trainer TrainScheduler,
	metrics domrepo.Metrics, log *logger.Logger, cfg DriverConfig) *Driver {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultDriverConfig().QueueSize
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultDriverConfig().MaxFailures
	}
	return &Driver{
		ingestor:  ingestor,
		evaluator: evaluator,
		predictor: predictor,
		trainer:   trainer,
		metrics:   metrics,
		log:       log,
		cfg:       cfg,
		requests:  make(chan submission, cfg.QueueSize),
		done:      make(chan struct{}),
	}
}

// Submit queues an outcome and waits for its cycle to finish.
func (d *Driver) Submit(ctx context.Context, n int, at time.Time) (models.IngestResult, error) {
	req := submission{n: n, at: at, reply: make(chan submitReply, 1)}
	select {
	case d.requests <- req:
	case <-d.done:
		return models.IngestResult{}, ErrDriverStopped
	case <-ctx.Done():
		return models.IngestResult{}, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r.res, r.err
	case <-d.done:
		return models.IngestResult{}, ErrDriverStopped
	case <-ctx.Done():
		return models.IngestResult{}, ctx.Err()
	}
}

// Run processes submissions until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("driver already running")
	}
	defer d.stopOnce.Do(func() { close(d.done) })

	poll := d.cfg.PollInterval
	if poll <= 0 {
		poll = DefaultDriverConfig().PollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	d.log.Info("driver started", logger.Duration("poll_interval", poll))
	for {
		select {
		case <-ctx.Done():
			d.log.Info("driver stopped")
			return nil
		case req := <-d.requests:
			res, err := d.process(ctx, req.n, req.at)
			req.reply <- submitReply{res: res, err: err}
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// Running reports whether Run is active.
func (d *Driver) Running() bool {
	if !d.started.Load() {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

// LatestPrediction returns the prediction made after the last accepted outcome.
func (d *Driver) LatestPrediction() (*models.Prediction, bool) {
	p := d.latest.Load()
	if p == nil {
		return nil, false
	}
	return p.Clone(), true
}

// OnPrediction registers cb for every new prediction. Callbacks run on the
// driver goroutine.
func (d *Driver) OnPrediction(cb func(models.Prediction)) {
	d.subsMu.Lock()
	d.subs = append(d.subs, cb)
	d.subsMu.Unlock()
}

func (d *Driver) process(ctx context.Context, n int, at time.Time) (models.IngestResult, error) {
	var res models.IngestResult
	err := d.stage(ctx, "ingest", func(ctx context.Context) error {
		var err error
		res, err = d.ingestor.Ingest(ctx, n, at)
		return err
	})
	if err != nil || !res.IsAccepted() {
		return res, err
	}

	if err := d.stage(ctx, "evaluate", func(ctx context.Context) error {
		_, err := d.evaluator.Evaluate(ctx, *res.Event)
		return err
	}); err != nil {
		return res, err
	}

	var p *models.Prediction
	if err := d.stage(ctx, "predict", func(ctx context.Context) error {
		var err error
		p, err = d.predictor.Predict(ctx, models.KindEnsemble)
		return err
	}); err != nil {
		return res, err
	}
	d.latest.Store(p)
	d.notify(p)

	if d.trainer != nil {
		d.trainer.MaybeTrainAsync(ctx)
	}
	return res, nil
}

func (d *Driver) notify(p *models.Prediction) {
	d.subsMu.RLock()
	subs := d.subs
	d.subsMu.RUnlock()
	for _, cb := range subs {
		cb(*p.Clone())
	}
}

func (d *Driver) poll(ctx context.Context) {
	err := d.stage(ctx, "evict", func(ctx context.Context) error {
		n, err := d.evaluator.EvictStale(ctx)
		if n > 0 {
			d.log.Info("pending predictions evicted", logger.Int("count", n))
		}
		return err
	})
	if err != nil {
		d.log.Warn("stale eviction failed", logger.Error(err))
	}
	if d.trainer != nil {
		d.trainer.MaybeTrainAsync(ctx)
	}
}

// stage runs fn with the store deadline, retrying store outages with
// backoff. Other errors are returned at once.
func (d *Driver) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := d.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrStoreUnavailable) || attempt >= d.cfg.MaxFailures {
			d.metrics.RecordError(name)
			return fmt.Errorf("%s stage after %d attempt(s): %w", name, attempt, err)
		}
		wait := util.Backoff(d.cfg.BackoffBase, d.cfg.BackoffMax, attempt)
		d.log.Warn("stage failed, retrying",
			logger.String("stage", name),
			logger.Int("attempt", attempt),
			logger.Duration("backoff", wait),
			logger.Error(err))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("%s stage: %w", name, ctx.Err())
		}
	}
}

func (d *Driver) attempt(ctx context.Context, fn func(context.Context) error) error {
	if d.cfg.OpTimeout <= 0 {
		return fn(ctx)
	}
	c, cancel := context.WithTimeout(ctx, d.cfg.OpTimeout)
	defer cancel()
	return fn(c)
}
