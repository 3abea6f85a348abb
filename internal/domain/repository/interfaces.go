package repository

import (
	"context"
	"time"

	"SpinCast/internal/domain/models"
)

// HotStore is the process-wide keyed state shared by every component.
// All methods wrap I/O failures in models.ErrStoreUnavailable.
type HotStore interface {
	SetLatest(ctx context.Context, n int) error
	GetLatest(ctx context.Context) (int, bool, error)
	PushHistory(ctx context.Context, n int) error
	GetHistory(ctx context.Context, limit int) ([]int, error)
	IncrCounter(ctx context.Context, key string, delta int64) (int64, error)
	GetCounter(ctx context.Context, key string) (int64, error)
	SetGap(ctx context.Context, n, value int) error
	GetGap(ctx context.Context, n int) (int, bool, error)

	PushFeatureBuffer(ctx context.Context, e models.FeatureEntry) error
	RangeFeatureBuffer(ctx context.Context, start, end int64) ([]models.FeatureEntry, error)
	FeatureBufferLen(ctx context.Context) (int64, error)

	EnqueuePending(ctx context.Context, p *models.Prediction) error
	ListPending(ctx context.Context) ([]string, error)
	FetchPrediction(ctx context.Context, id string) (*models.Prediction, error)
	MarkScored(ctx context.Context, id string) error
	RemovePending(ctx context.Context, id string) error

	PublishNewOutcome(ctx context.Context, ev models.OutcomeEvent) error
	SubscribeNewOutcomes(ctx context.Context) (<-chan models.OutcomeEvent, func() error)

	// CommitOutcome applies one outcome's writes atomically.
	CommitOutcome(ctx context.Context, c models.OutcomeCommit) (models.CommitResult, error)
	// CommitScore records a scored prediction atomically. It returns false
	// when the prediction was already scored.
	CommitScore(ctx context.Context, c models.ScoreCommit) (bool, error)

	GetStrategyState(ctx context.Context, name string) (models.StrategyState, error)
	SetStrategyState(ctx context.Context, name string, s models.StrategyState) error

	ScoredSinceTraining(ctx context.Context) (int64, error)
	LastTrainedAt(ctx context.Context) (time.Time, bool, error)
	MarkTrained(ctx context.Context, at time.Time) error

	Stats(ctx context.Context) (models.Stats, error)
	// Trends analyses the newest window outcomes plus the lifetime counters.
	Trends(ctx context.Context, window int) (models.Trends, error)
	ClearAll(ctx context.Context) error
	Ping(ctx context.Context) error
}

// ModelStore persists the trained classifier.
type ModelStore interface {
	Save(ctx context.Context, blob []byte, meta models.ModelMetadata) (models.ModelMetadata, error)
	Load(ctx context.Context) ([]byte, models.ModelMetadata, error)
	Metadata(ctx context.Context) (models.ModelMetadata, error)
}

// PredictionPublisher fans predictions out to external consumers.
type PredictionPublisher interface {
	PublishPrediction(ctx context.Context, p *models.Prediction) error
	Close() error
}

// ResultArchive keeps scored results for offline analysis.
type ResultArchive interface {
	StoreResults(ctx context.Context, results []models.ScoredResult) error
	Health(ctx context.Context) error
	Close() error
}

// OutcomeStream is a live source of raw outcome values.
type OutcomeStream interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (<-chan RawOutcome, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// RawOutcome is an unvalidated value from a producer.
type RawOutcome struct {
	Source string
	Value  any
	At     time.Time
}

// Metrics records pipeline events.
type Metrics interface {
	RecordOutcome(status string)
	RecordPrediction(label string, confidence float64)
	RecordEvaluation(group string, win bool)
	RecordTraining(result string, seconds float64)
	RecordCacheLookup(hit bool)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
