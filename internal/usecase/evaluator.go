package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"SpinCast/internal/domain/models"
	domrepo "SpinCast/internal/domain/repository"
	"SpinCast/internal/domain/roulette"
	"SpinCast/pkg/logger"
)

// DefaultPendingMaxAge is how long a prediction may wait for an outcome.
const DefaultPendingMaxAge = 24 * time.Hour

// Evaluator scores pending predictions against each new outcome.
type Evaluator struct {
	store   domrepo.HotStore
	archive domrepo.ResultArchive // nil when archiving is off
	metrics domrepo.Metrics
	log     *logger.Logger
	maxAge  time.Duration
	table   roulette.TriggerWindow
	now     func() time.Time
}

type EvaluatorOption func(*Evaluator)

func WithArchive(a domrepo.ResultArchive) EvaluatorOption {
	return func(e *Evaluator) { e.archive = a }
}

func WithPendingMaxAge(d time.Duration) EvaluatorOption {
	return func(e *Evaluator) {
		if d > 0 {
			e.maxAge = d
		}
	}
}

func WithEvaluatorClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

func NewEvaluator(store domrepo.HotStore, metrics domrepo.Metrics, log *logger.Logger, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		store:   store,
		metrics: metrics,
		log:     log,
		maxAge:  DefaultPendingMaxAge,
		table:   roulette.TriggerStrategy,
		now:     time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate scores every pending prediction against ev.Number, then advances
// the trigger-window state. It returns the results it committed.
func (e *Evaluator) Evaluate(ctx context.Context, ev models.OutcomeEvent) ([]models.ScoredResult, error) {
	ids, err := e.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	var scored []models.ScoredResult
	for _, id := range ids {
		p, ok, err := e.claim(ctx, id)
		if err != nil {
			return scored, err
		}
		if !ok {
			continue
		}
		res, commit := Score(p, ev.Number, e.now())
		committed, err := e.store.CommitScore(ctx, commit)
		if err != nil {
			return scored, fmt.Errorf("evaluate %s: %w", id, err)
		}
		if !committed {
			continue
		}
		for _, g := range res.Groups {
			e.metrics.RecordEvaluation(g.Group, g.Win)
		}
		scored = append(scored, res)
		e.log.Debug("prediction scored",
			logger.String("id", id),
			logger.Int("actual", ev.Number),
			logger.Int("winning_groups", res.WinningCount),
			logger.Bool("win", res.IsWin))
	}

	if err := e.advanceStrategy(ctx, ev); err != nil {
		return scored, err
	}
	e.archiveResults(ctx, scored)
	return scored, nil
}

// claim fetches a pending prediction. Records that cannot be scored are
// dropped from the index and reported as not ok.
func (e *Evaluator) claim(ctx context.Context, id string) (*models.Prediction, bool, error) {
	p, err := e.store.FetchPrediction(ctx, id)
	switch {
	case errors.Is(err, models.ErrPredictionNotFound), errors.Is(err, models.ErrMalformedRecord):
		e.log.Warn("dropping unreadable pending prediction", logger.String("id", id), logger.Error(err))
		return nil, false, e.drop(ctx, id)
	case err != nil:
		return nil, false, fmt.Errorf("evaluate %s: %w", id, err)
	}
	if p.Status == models.StatusScored {
		return nil, false, e.drop(ctx, id)
	}
	if e.now().Sub(p.Timestamp) > e.maxAge {
		e.log.Info("evicting stale prediction", logger.String("id", id), logger.Duration("age", e.now().Sub(p.Timestamp)))
		return nil, false, e.drop(ctx, id)
	}
	return p, true, nil
}

func (e *Evaluator) drop(ctx context.Context, id string) error {
	if err := e.store.RemovePending(ctx, id); err != nil {
		return fmt.Errorf("remove pending %s: %w", id, err)
	}
	return nil
}

// EvictStale removes pending predictions older than the max age.
func (e *Evaluator) EvictStale(ctx context.Context) (int, error) {
	ids, err := e.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("evict stale: %w", err)
	}
	evicted := 0
	for _, id := range ids {
		_, ok, err := e.claim(ctx, id)
		if err != nil {
			return evicted, err
		}
		if !ok {
			evicted++
		}
	}
	return evicted, nil
}

func (e *Evaluator) advanceStrategy(ctx context.Context, ev models.OutcomeEvent) error {
	st, err := e.store.GetStrategyState(ctx, e.table.Name)
	if err != nil {
		return fmt.Errorf("strategy state: %w", err)
	}
	next := Advance(e.table, st, ev.Number, e.now())
	if next.Phase != st.Phase {
		e.log.Info("strategy transition",
			logger.String("strategy", e.table.Name),
			logger.String("from", string(st.Phase)),
			logger.String("to", string(next.Phase)),
			logger.Int("number", ev.Number))
	}
	if err := e.store.SetStrategyState(ctx, e.table.Name, next); err != nil {
		return fmt.Errorf("strategy state: %w", err)
	}
	return nil
}

func (e *Evaluator) archiveResults(ctx context.Context, results []models.ScoredResult) {
	if e.archive == nil || len(results) == 0 {
		return
	}
	if err := e.archive.StoreResults(ctx, results); err != nil {
		e.metrics.RecordError("archive")
		e.log.Warn("result archive failed", logger.Int("results", len(results)), logger.Error(err))
	}
}

// Score checks actual against every group of p and lists the counters the
// commit increments.
func Score(p *models.Prediction, actual int, at time.Time) (models.ScoredResult, models.ScoreCommit) {
	names := make([]string, 0, len(p.Groups))
	for g := range p.Groups {
		names = append(names, g)
	}
	sort.Strings(names)

	res := models.ScoredResult{
		PredictionID: p.ID,
		Actual:       actual,
		Groups:       make([]models.GroupScore, 0, len(names)),
		TotalCount:   len(names),
		ModelUsed:    p.ModelUsed,
		Confidence:   p.Confidence,
		ScoredAt:     at,
	}
	counters := []string{domrepo.KeyTotalEvaluated, domrepo.KeyScoredSinceTrain}
	for _, g := range names {
		members := p.Groups[g]
		win := containsInt(members, actual)
		res.Groups = append(res.Groups, models.GroupScore{Group: g, Size: len(members), Win: win})
		counters = append(counters, domrepo.GroupTotalKey(g))
		if win {
			res.WinningCount++
			counters = append(counters, domrepo.GroupWinsKey(g))
		}
		if name, ok := roulette.StrategyForGroup(g); ok {
			counters = append(counters, domrepo.StrategyTotalKey(name))
			if win {
				counters = append(counters, domrepo.StrategyWinsKey(name))
			}
		}
	}
	res.IsWin = res.WinningCount > 0
	if res.IsWin {
		counters = append(counters, domrepo.KeyWins)
	} else {
		counters = append(counters, domrepo.KeyLosses)
	}
	return res, models.ScoreCommit{Result: res, Counters: counters}
}

func containsInt(set []int, n int) bool {
	for _, v := range set {
		if v == n {
			return true
		}
	}
	return false
}
