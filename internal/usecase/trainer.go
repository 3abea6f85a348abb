package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"SpinCast/internal/domain/models"
	domrepo "SpinCast/internal/domain/repository"
	"SpinCast/internal/domain/roulette"
	"SpinCast/internal/services/features"
	"SpinCast/internal/services/gbdt"
	"SpinCast/internal/services/predictor"
	"SpinCast/pkg/cache"
	"SpinCast/pkg/logger"
	"SpinCast/pkg/util"
)

const trainLockKey = "locks:train"

// ErrTrainingBusy is returned when another process holds the training lock.
var ErrTrainingBusy = errors.New("training already running")

type TrainerConfig struct {
	MinSamples        int
	Interval          time.Duration
	AfterNPredictions int64
	ModelType         string
	Params            gbdt.Params
	LockTTL           time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
}

func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		MinSamples:        30,
		Interval:          6 * time.Hour,
		AfterNPredictions: 15,
		ModelType:         "gbdt",
		Params:            gbdt.DefaultParams(),
		LockTTL:           10 * time.Minute,
		BackoffBase:       time.Second,
		BackoffMax:        30 * time.Second,
	}
}

// Trainer retrains the outcome model from the feature buffer and swaps it
// into the live handle.
type Trainer struct {
	store   domrepo.HotStore
	models  domrepo.ModelStore
	handle  *predictor.ModelHandle
	locker  cache.Locker
	metrics domrepo.Metrics
	log     *logger.Logger
	cfg     TrainerConfig
	now     func() time.Time

	group   singleflight.Group
	running atomic.Bool

	mu        sync.Mutex
	failures  int
	notBefore time.Time
}

func NewTrainer(store domrepo.HotStore, modelStore domrepo.ModelStore, handle *predictor.ModelHandle,
	locker cache.Locker, metrics domrepo.Metrics, log *logger.Logger, cfg TrainerConfig) *Trainer {
	return &Trainer{
		store:   store,
		models:  modelStore,
		handle:  handle,
		locker:  locker,
		metrics: metrics,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
	}
}

// ShouldTrain reports whether a count or interval trigger has fired and no
// failure backoff is pending.
func (t *Trainer) ShouldTrain(ctx context.Context) (bool, error) {
	t.mu.Lock()
	waiting := t.now().Before(t.notBefore)
	t.mu.Unlock()
	if waiting {
		return false, nil
	}

	scored, err := t.store.ScoredSinceTraining(ctx)
	if err != nil {
		return false, err
	}
	if scored >= t.cfg.AfterNPredictions {
		return true, nil
	}
	last, ok, err := t.store.LastTrainedAt(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		n, err := t.store.FeatureBufferLen(ctx)
		if err != nil {
			return false, err
		}
		return n >= int64(t.cfg.MinSamples), nil
	}
	return t.now().Sub(last) >= t.cfg.Interval, nil
}

// MaybeTrainAsync starts a background run when a trigger has fired. At most
// one background run exists per trainer.
func (t *Trainer) MaybeTrainAsync(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer t.running.Store(false)
		ok, err := t.ShouldTrain(ctx)
		if err != nil {
			t.log.Warn("training trigger check failed", logger.Error(err))
			return
		}
		if !ok {
			return
		}
		if _, err := t.Train(ctx); err != nil && !errors.Is(err, ErrTrainingBusy) {
			t.log.Warn("background training failed", logger.Error(err))
		}
	}()
}

// Running reports whether a background run is in progress.
func (t *Trainer) Running() bool { return t.running.Load() }

// Train runs one training pass. Concurrent callers in this process share a
// single run.
func (t *Trainer) Train(ctx context.Context) (models.ModelMetadata, error) {
	v, err, _ := t.group.Do(trainLockKey, func() (interface{}, error) {
		return t.trainLocked(ctx)
	})
	if err != nil {
		return models.ModelMetadata{}, err
	}
	return v.(models.ModelMetadata), nil
}

func (t *Trainer) trainLocked(ctx context.Context) (models.ModelMetadata, error) {
	ok, err := t.locker.TryLock(ctx, trainLockKey, t.cfg.LockTTL)
	if err != nil {
		return models.ModelMetadata{}, fmt.Errorf("train: lock: %w: %w", models.ErrStoreUnavailable, err)
	}
	if !ok {
		return models.ModelMetadata{}, ErrTrainingBusy
	}
	defer func() {
		if err := t.locker.Unlock(context.WithoutCancel(ctx), trainLockKey); err != nil {
			t.log.Warn("training lock release failed", logger.Error(err))
		}
	}()

	start := t.now()
	meta, err := t.run(ctx)
	elapsed := t.now().Sub(start).Seconds()
	if err != nil {
		t.metrics.RecordTraining("failed", elapsed)
		t.fail()
		return models.ModelMetadata{}, err
	}
	t.metrics.RecordTraining("success", elapsed)
	t.mu.Lock()
	t.failures, t.notBefore = 0, time.Time{}
	t.mu.Unlock()
	return meta, nil
}

func (t *Trainer) run(ctx context.Context) (models.ModelMetadata, error) {
	entries, err := t.store.RangeFeatureBuffer(ctx, 0, -1)
	if err != nil {
		return models.ModelMetadata{}, fmt.Errorf("train: %w", err)
	}
	ds, err := BuildDataset(entries, t.cfg.MinSamples)
	if err != nil {
		return models.ModelMetadata{}, fmt.Errorf("train: %w", err)
	}

	m, err := gbdt.Train(ds.X, ds.Y, len(ds.Labels), t.cfg.Params)
	if err != nil {
		return models.ModelMetadata{}, fmt.Errorf("train: %w: %w", models.ErrTrainingFailed, err)
	}
	blob, err := gbdt.Encode(m)
	if err != nil {
		return models.ModelMetadata{}, fmt.Errorf("train: %w: %w", models.ErrTrainingFailed, err)
	}

	now := t.now()
	meta, err := t.models.Save(ctx, blob, models.ModelMetadata{
		ModelType:       t.cfg.ModelType,
		FeatureColumns:  ds.Columns,
		LabelOutcomes:   ds.Labels,
		TrainedAt:       now,
		TrainAccuracy:   m.Accuracy(ds.X, ds.Y),
		TrainingSamples: len(ds.Y),
	})
	if err != nil {
		return models.ModelMetadata{}, fmt.Errorf("train: save: %w", err)
	}
	t.handle.Swap(m, meta)
	if err := t.store.MarkTrained(ctx, now); err != nil {
		return meta, fmt.Errorf("train: %w", err)
	}

	t.log.Info("model trained",
		logger.Int64("version", meta.Version),
		logger.Int("samples", meta.TrainingSamples),
		logger.Int("classes", len(meta.LabelOutcomes)),
		logger.Int("features", len(meta.FeatureColumns)),
		logger.Float64("train_accuracy", meta.TrainAccuracy),
		logger.String("size", humanize.Bytes(uint64(len(blob)))))
	return meta, nil
}

func (t *Trainer) fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures++
	t.notBefore = t.now().Add(util.Backoff(t.cfg.BackoffBase, t.cfg.BackoffMax, t.failures))
}

// Dataset is the training matrix built from buffered feature entries.
type Dataset struct {
	Columns []string
	Labels  []int // class i predicts outcome Labels[i]
	X       [][]float64
	Y       []int
}

// BuildDataset keeps entries with features and an in-range target. Columns
// are the sorted union of feature names; labels are the sorted distinct
// targets.
func BuildDataset(entries []models.FeatureEntry, minSamples int) (Dataset, error) {
	valid := entries[:0:0]
	colSet := map[string]struct{}{}
	labelSet := map[int]struct{}{}
	for _, e := range entries {
		if len(e.Features) == 0 || roulette.Validate(e.Target) != nil {
			continue
		}
		valid = append(valid, e)
		labelSet[e.Target] = struct{}{}
		for name := range e.Features {
			colSet[name] = struct{}{}
		}
	}
	if len(valid) < minSamples {
		return Dataset{}, fmt.Errorf("%w: have %d, need %d", models.ErrInsufficientSamples, len(valid), minSamples)
	}
	if len(labelSet) < 2 {
		return Dataset{}, fmt.Errorf("%w: only %d distinct outcome", models.ErrTrainingFailed, len(labelSet))
	}

	ds := Dataset{
		Columns: make([]string, 0, len(colSet)),
		Labels:  make([]int, 0, len(labelSet)),
		X:       make([][]float64, 0, len(valid)),
		Y:       make([]int, 0, len(valid)),
	}
	for c := range colSet {
		ds.Columns = append(ds.Columns, c)
	}
	sort.Strings(ds.Columns)
	for l := range labelSet {
		ds.Labels = append(ds.Labels, l)
	}
	sort.Ints(ds.Labels)

	index := make(map[int]int, len(ds.Labels))
	for i, l := range ds.Labels {
		index[l] = i
	}
	for _, e := range valid {
		ds.X = append(ds.X, features.Project(e.Features, ds.Columns))
		ds.Y = append(ds.Y, index[e.Target])
	}
	return ds, nil
}
