package predictor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SpinCast/internal/domain/models"
	"SpinCast/internal/domain/repository"
	"SpinCast/internal/domain/roulette"
	cachesvc "SpinCast/internal/service/cache"
	"SpinCast/internal/services/features"
	"SpinCast/pkg/cache"
	"SpinCast/pkg/logger"
)

const (
	minModelHistory = 10
	cacheKeyDepth   = 10
)

// Config tunes the ensemble.
type Config struct {
	TopK            int
	GroupSizes      []int
	ModelWeight     float64
	FallbackWeight  float64
	CacheTTL        time.Duration
	CacheMaxEntries int
	HistoryLimit    int
}

func DefaultConfig() Config {
	return Config{
		TopK:            6,
		GroupSizes:      []int{4, 8, 14, 15, 20},
		ModelWeight:     0.8,
		FallbackWeight:  0.2,
		CacheTTL:        30 * time.Second,
		CacheMaxEntries: 50,
		HistoryLimit:    1000,
	}
}

// Ensemble picks a producer, builds the prediction record and queues it for
// scoring.
type Ensemble struct {
	store     repository.HotStore
	extractor *features.Extractor
	model     *ModelPredictor
	metrics   repository.Metrics
	log       *logger.Logger
	cfg       Config
	cache     *cachesvc.TTLCache
	now       func() time.Time
}

type Option func(*Ensemble)

// WithClock replaces time.Now for timestamps and cache expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Ensemble) { e.now = now }
}

func NewEnsemble(store repository.HotStore, extractor *features.Extractor, model *ModelPredictor,
	metrics repository.Metrics, log *logger.Logger, cfg Config, opts ...Option) *Ensemble {
	e := &Ensemble{
		store:     store,
		extractor: extractor,
		model:     model,
		metrics:   metrics,
		log:       log,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	e.cache = cachesvc.NewTTLCache(cachesvc.WithMaxEntries(cfg.CacheMaxEntries), cachesvc.WithClock(e.now))
	return e
}

// Predict produces a prediction of the given kind. It fails only when the
// hot store is unavailable.
func (e *Ensemble) Predict(ctx context.Context, kind models.RequestKind) (*models.Prediction, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("predict: unknown kind %q", kind)
	}
	start := e.now()
	history, err := e.store.GetHistory(ctx, e.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}

	if len(history) < minModelHistory {
		var probs []float64
		label, reason := models.LabelStatistical, fmt.Sprintf("recency heuristic over %d outcomes", len(history))
		if len(history) == 0 {
			probs, label, reason = Basic(), models.LabelBasic, "no history, basic distribution"
		} else {
			probs = Recency(history)
		}
		p, err := e.build(ctx, kind, history, probs, label, reason, fallbackConfidence(probs, e.cfg.TopK))
		if err != nil {
			return nil, err
		}
		return p.Clone(), e.enqueue(ctx, p, start)
	}

	key := string(kind) + ":" + cache.HashOutcomes(history, cacheKeyDepth)
	if v, ok := e.cache.Get(key); ok {
		e.metrics.RecordCacheLookup(true)
		return v.(*models.Prediction).Clone(), nil
	}
	e.metrics.RecordCacheLookup(false)

	probs, label, reason, conf := e.produce(kind, history)
	p, err := e.build(ctx, kind, history, probs, label, reason, conf)
	if err != nil {
		return nil, err
	}
	if err := e.enqueue(ctx, p, start); err != nil {
		return nil, err
	}
	e.cache.Set(key, p, e.cfg.CacheTTL)
	return p.Clone(), nil
}

// Invalidate drops every cached prediction.
func (e *Ensemble) Invalidate() { e.cache.Purge() }

func (e *Ensemble) produce(kind models.RequestKind, history []int) ([]float64, string, string, float64) {
	statistical := func(why string) ([]float64, string, string, float64) {
		probs := FrequencyInverse(history)
		return probs, models.LabelStatistical, why, fallbackConfidence(probs, e.cfg.TopK)
	}

	switch kind {
	case models.KindBasic:
		probs := Basic()
		return probs, models.LabelBasic, "basic distribution", fallbackConfidence(probs, e.cfg.TopK)
	case models.KindStatistical:
		return statistical(fmt.Sprintf("frequency-inverse over %d outcomes", len(history)))
	}

	f, err := e.extractor.Extract(history, e.now())
	if err != nil {
		return statistical("features unavailable, frequency-inverse fallback")
	}
	modelProbs, meta, err := e.model.Predict(f)
	if err != nil {
		if !errors.Is(err, models.ErrModelUnavailable) {
			e.log.Warn("model prediction failed", logger.Error(err))
		}
		return statistical("model unavailable, frequency-inverse fallback")
	}

	if kind == models.KindModel {
		return modelProbs, models.LabelModel,
			fmt.Sprintf("%s v%d", meta.ModelType, meta.Version), modelConfidence(modelProbs, e.cfg.TopK)
	}
	probs := blend(modelProbs, e.cfg.ModelWeight, FrequencyInverse(history), e.cfg.FallbackWeight)
	return probs, models.LabelEnsemble,
		fmt.Sprintf("%.1f x %s v%d + %.1f x frequency-inverse over %d outcomes",
			e.cfg.ModelWeight, meta.ModelType, meta.Version, e.cfg.FallbackWeight, len(history)),
		modelConfidence(probs, e.cfg.TopK)
}

func (e *Ensemble) build(ctx context.Context, kind models.RequestKind, history []int, probs []float64,
	label, reason string, conf float64) (*models.Prediction, error) {
	groups, err := e.groups(ctx, probs)
	if err != nil {
		return nil, err
	}
	now := e.now()
	p := &models.Prediction{
		ID:               NewPredictionID(now),
		Timestamp:        now,
		Probabilities:    probs,
		PredictedNumbers: TopK(probs, e.cfg.TopK),
		Groups:           groups,
		Type:             kind,
		Confidence:       conf,
		Reasoning:        reason,
		ModelUsed:        label,
		Status:           models.StatusPending,
	}
	if len(history) > 0 {
		last := history[0]
		p.LastNumber = &last
	}
	return p, nil
}

func (e *Ensemble) groups(ctx context.Context, probs []float64) (map[string][]int, error) {
	g := roulette.FixedGroups()
	for _, size := range e.cfg.GroupSizes {
		g[roulette.TopGroup(size)] = TopK(probs, size)
	}
	g[roulette.GroupIndividual] = TopK(probs, 1)

	st, err := e.store.GetStrategyState(ctx, roulette.TriggerStrategy.Name)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if st.Active() && len(st.Targets) > 0 {
		g[roulette.GroupStrategyTarget] = append([]int(nil), st.Targets...)
	}
	return g, nil
}

func (e *Ensemble) enqueue(ctx context.Context, p *models.Prediction, start time.Time) error {
	if err := e.store.EnqueuePending(ctx, p); err != nil {
		return fmt.Errorf("predict: %w", err)
	}
	e.metrics.RecordPrediction(p.ModelUsed, p.Confidence)
	e.metrics.RecordLatency("predict", e.now().Sub(start).Seconds())
	e.log.Debug("prediction queued",
		logger.String("id", p.ID),
		logger.String("model", p.ModelUsed),
		logger.Ints("top", p.PredictedNumbers),
		logger.Float64("confidence", p.Confidence))
	return nil
}
