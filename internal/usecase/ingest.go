package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SpinCast/internal/domain/models"
	domrepo "SpinCast/internal/domain/repository"
	"SpinCast/internal/domain/roulette"
	"SpinCast/internal/services/features"
	"SpinCast/pkg/logger"
)

// featureHistoryDepth reads the whole stored history; gap features look
// for the latest occurrence anywhere in it.
const featureHistoryDepth = 0

// Ingestor validates an outcome and commits it to the hot store.
type Ingestor struct {
	store     domrepo.HotStore
	extractor *features.Extractor
	metrics   domrepo.Metrics
	log       *logger.Logger
}

func NewIngestor(store domrepo.HotStore, extractor *features.Extractor, metrics domrepo.Metrics, log *logger.Logger) *Ingestor {
	return &Ingestor{store: store, extractor: extractor, metrics: metrics, log: log}
}

// CounterKeys lists the counters one accepted outcome increments besides
// the total spin count.
func CounterKeys(n int, at time.Time) []string {
	a := roulette.Enrich(n)
	keys := []string{
		domrepo.FreqKey("number", n),
		domrepo.FreqKey("color", a.Color),
		domrepo.FreqKey("dozen", a.Dozen),
		domrepo.FreqKey("column", a.Column),
		domrepo.FreqKey("parity", a.Parity),
		domrepo.FreqKey("range", a.Range),
		domrepo.SectorKey(a.Sector),
	}
	return append(keys, domrepo.TimeKeys(at)...)
}

// Ingest returns Rejected for invalid or duplicate outcomes. An error means
// the store could not be reached and nothing was committed.
func (i *Ingestor) Ingest(ctx context.Context, n int, at time.Time) (models.IngestResult, error) {
	if err := roulette.Validate(n); err != nil {
		i.metrics.RecordOutcome("invalid")
		i.log.Warn("outcome rejected", logger.Int("number", n), logger.Error(err))
		return models.Rejected(models.RejectInvalid), nil
	}

	start := time.Now()
	res, err := i.store.CommitOutcome(ctx, models.OutcomeCommit{
		Number:     n,
		At:         at,
		Attributes: roulette.Enrich(n),
		Counters:   CounterKeys(n, at),
	})
	if err != nil {
		i.metrics.RecordError("ingest_commit")
		return models.IngestResult{}, fmt.Errorf("ingest %d: %w", n, err)
	}
	switch {
	case res.Replayed:
		i.metrics.RecordOutcome("replayed")
		i.log.Info("outcome already committed, resuming", logger.Int("number", n), logger.Int64("spin_id", res.Event.SpinID))
	case res.Duplicate:
		i.metrics.RecordOutcome("duplicate")
		i.log.Info("duplicate outcome dropped", logger.Int("number", n))
		return models.Rejected(models.RejectDuplicate), nil
	default:
		i.metrics.RecordOutcome("accepted")
	}
	i.metrics.RecordLatency("ingest_commit", time.Since(start).Seconds())

	if err := i.bufferFeatures(ctx, n, at); err != nil {
		i.metrics.RecordError("ingest_features")
		i.log.Warn("feature buffer update failed", logger.Int("number", n), logger.Error(err))
	}
	if err := i.store.PublishNewOutcome(ctx, res.Event); err != nil {
		i.metrics.RecordError("ingest_publish")
		i.log.Warn("outcome event not published", logger.Int64("spin_id", res.Event.SpinID), logger.Error(err))
	}

	fields := []logger.Field{logger.Int("number", n), logger.Int64("spin_id", res.Event.SpinID)}
	if res.HasGap {
		fields = append(fields, logger.Int("gap", res.Gap))
	}
	i.log.Debug("outcome accepted", fields...)
	return models.Accepted(res.Event), nil
}

// bufferFeatures pairs the history as it was before n with n as the target.
func (i *Ingestor) bufferFeatures(ctx context.Context, n int, at time.Time) error {
	history, err := i.store.GetHistory(ctx, featureHistoryDepth)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}
	prior := history[1:]
	f, err := i.extractor.Extract(prior, at)
	if errors.Is(err, models.ErrInsufficientHistory) {
		return nil
	}
	if err != nil {
		return err
	}
	return i.store.PushFeatureBuffer(ctx, models.FeatureEntry{Features: f, Target: n, Timestamp: at.Unix()})
}
