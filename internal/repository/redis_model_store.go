package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"SpinCast/internal/domain/models"
	"SpinCast/internal/domain/repository"
	"SpinCast/pkg/util"
)

// RedisModelStore keeps the serialized model under ml:models:<name> and its
// metadata under ml:models:metadata.
type RedisModelStore struct {
	client redis.UniversalClient
	name   string
}

func NewRedisModelStore(client redis.UniversalClient, name string) *RedisModelStore {
	return &RedisModelStore{client: client, name: name}
}

var _ repository.ModelStore = (*RedisModelStore)(nil)

// Save replaces blob and metadata in one transaction and bumps the version.
func (s *RedisModelStore) Save(ctx context.Context, blob []byte, meta models.ModelMetadata) (models.ModelMetadata, error) {
	meta.Name = s.name
	cols, err := json.Marshal(meta.FeatureColumns)
	if err != nil {
		return meta, fmt.Errorf("encode feature columns: %w", err)
	}
	labels, err := json.Marshal(meta.LabelOutcomes)
	if err != nil {
		return meta, fmt.Errorf("encode labels: %w", err)
	}

	saved := meta
	txf := func(tx *redis.Tx) error {
		v, err := tx.HGet(ctx, repository.KeyModelMetadata, "version").Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		saved.Version = v + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, repository.ModelKey(s.name), blob, 0)
			pipe.Del(ctx, repository.KeyModelMetadata)
			pipe.HSet(ctx, repository.KeyModelMetadata, map[string]interface{}{
				"name":             saved.Name,
				"model_type":       saved.ModelType,
				"version":          saved.Version,
				"feature_columns":  string(cols),
				"label_outcomes":   string(labels),
				"trained_at":       util.FormatISO(saved.TrainedAt),
				"train_accuracy":   strconv.FormatFloat(saved.TrainAccuracy, 'f', -1, 64),
				"training_samples": saved.TrainingSamples,
			})
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, txf, repository.KeyModelMetadata)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return meta, unavailable("save model", err)
	}
	return saved, nil
}

// Load returns ErrModelNotFound when no model has been saved.
func (s *RedisModelStore) Load(ctx context.Context) ([]byte, models.ModelMetadata, error) {
	meta, err := s.Metadata(ctx)
	if err != nil {
		return nil, meta, err
	}
	blob, err := s.client.Get(ctx, repository.ModelKey(s.name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, meta, models.ErrModelNotFound
	}
	if err != nil {
		return nil, meta, unavailable("load model", err)
	}
	return blob, meta, nil
}

func (s *RedisModelStore) Metadata(ctx context.Context) (models.ModelMetadata, error) {
	var meta models.ModelMetadata
	f, err := s.client.HGetAll(ctx, repository.KeyModelMetadata).Result()
	if err != nil {
		return meta, unavailable("model metadata", err)
	}
	if len(f) == 0 {
		return meta, models.ErrModelNotFound
	}
	meta.Name = f["name"]
	meta.ModelType = f["model_type"]
	meta.Version = util.ParseInt64Default(f["version"], 0)
	meta.TrainingSamples = util.ParseIntDefault(f["training_samples"], 0)
	meta.TrainAccuracy, _ = strconv.ParseFloat(f["train_accuracy"], 64)
	meta.TrainedAt, _ = util.ParseTime(f["trained_at"])
	if err := json.UnmarshalFromString(f["feature_columns"], &meta.FeatureColumns); err != nil {
		return meta, fmt.Errorf("model metadata: %w: feature_columns", models.ErrMalformedRecord)
	}
	if err := json.UnmarshalFromString(f["label_outcomes"], &meta.LabelOutcomes); err != nil {
		return meta, fmt.Errorf("model metadata: %w: label_outcomes", models.ErrMalformedRecord)
	}
	return meta, nil
}
