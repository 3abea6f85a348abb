package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"SpinCast/internal/domain/repository"
	"SpinCast/internal/handler/ops"
	mid "SpinCast/internal/middleware"
	internalrepo "SpinCast/internal/repository"
	"SpinCast/internal/service/feed"
	"SpinCast/internal/service/ratelimit"
	"SpinCast/internal/services/features"
	"SpinCast/internal/services/gbdt"
	"SpinCast/internal/services/predictor"
	"SpinCast/internal/usecase"
	"SpinCast/pkg/cache"
	pkgch "SpinCast/pkg/clickhouse"
	"SpinCast/pkg/config"
	xhttp "SpinCast/pkg/http"
	pkgkafka "SpinCast/pkg/kafka"
	"SpinCast/pkg/logger"
	"SpinCast/pkg/metrics"
	"SpinCast/pkg/queue"
	"SpinCast/pkg/server"
)

// ProvideLogger builds the application logger. When log collection is on
// and Kafka is enabled, repeated warnings and errors are aggregated to the
// collect topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    cfg.Log.Output,
		Component: "spincast",
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Collect.Enabled && producer != nil {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Log.Collect.Interval,
			CountThreshold: cfg.Log.Collect.CountThreshold,
			Topic:          cfg.Log.Collect.Topic,
			Publisher:      producer,
			Service:        "spincast",
		})
	}
	return l, nil
}

// ProvideRegistry creates the Prometheus registry shared by the recorder
// and the /metrics endpoint.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.NewWithRegistry(reg)
}

// ProvideRedisClient dials the hot store.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	client, err := cache.NewRedisClient(
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}
	return client, nil
}

func ProvideHotStore(client *redis.Client, cfg *config.Config) repository.HotStore {
	return internalrepo.NewRedisHotStore(client, internalrepo.HotStoreLimits{
		HistoryMaxLen:         cfg.Store.HistoryMaxLen,
		DetailedHistoryMaxLen: cfg.Store.DetailedHistoryMaxLen,
		FeatureBufferMaxLen:   cfg.Store.FeatureBufferMaxLen,
		PendingMaxLen:         cfg.Store.PendingPredictionsMaxLen,
		ScoredLogMaxLen:       cfg.Store.ScoredLogMaxLen,
		GapHistoryMaxLen:      cfg.Store.GapHistoryMaxLen,
		NewDataFlagTTL:        cfg.Store.NewDataFlagTTL,
		ResultTTL:             cfg.Store.ResultTTL,
	})
}

func ProvideModelStore(client *redis.Client, cfg *config.Config) repository.ModelStore {
	return internalrepo.NewRedisModelStore(client, cfg.Training.ModelName)
}

// ProvideLocker backs the cross-process training lock.
func ProvideLocker(client *redis.Client) cache.Locker {
	return cache.NewRedisLocker(client, "spincast")
}

func ProvideExtractor(cfg *config.Config) *features.Extractor {
	return features.NewExtractor(cfg.Predictor.FeatureMemoTTL)
}

func ProvideModelHandle() *predictor.ModelHandle {
	return predictor.NewModelHandle()
}

func ProvideEnsemble(store repository.HotStore, extractor *features.Extractor, handle *predictor.ModelHandle,
	m repository.Metrics, log *logger.Logger, cfg *config.Config) *predictor.Ensemble {
	pc := predictor.DefaultConfig()
	pc.TopK = cfg.Predictor.TopK
	pc.GroupSizes = cfg.Predictor.GroupSizes
	pc.ModelWeight = cfg.Predictor.ModelWeight
	pc.FallbackWeight = cfg.Predictor.FallbackWeight
	pc.CacheTTL = cfg.Predictor.CacheTTL
	pc.CacheMaxEntries = cfg.Predictor.CacheMaxEntries
	pc.HistoryLimit = cfg.Store.HistoryMaxLen
	return predictor.NewEnsemble(store, extractor, predictor.NewModelPredictor(handle), m,
		log.With(logger.String("stage", "predict")), pc)
}

func ProvideTrainer(store repository.HotStore, modelStore repository.ModelStore, handle *predictor.ModelHandle,
	locker cache.Locker, m repository.Metrics, log *logger.Logger, cfg *config.Config) *usecase.Trainer {
	t := cfg.Training
	return usecase.NewTrainer(store, modelStore, handle, locker, m, log.With(logger.String("stage", "train")),
		usecase.TrainerConfig{
			MinSamples:        t.MinSamples,
			Interval:          t.Interval,
			AfterNPredictions: int64(t.AfterNPredictions),
			ModelType:         "gbdt",
			Params: gbdt.Params{
				Estimators:      t.Estimators,
				MaxDepth:        t.MaxDepth,
				LearningRate:    t.LearningRate,
				Subsample:       t.Subsample,
				ColsampleByTree: t.ColsampleByTree,
				Seed:            t.Seed,
			},
			LockTTL:     t.LockTTL,
			BackoffBase: t.BackoffBase,
			BackoffMax:  t.BackoffMax,
		})
}

func ProvideIngestor(store repository.HotStore, extractor *features.Extractor, m repository.Metrics,
	log *logger.Logger) *usecase.Ingestor {
	return usecase.NewIngestor(store, extractor, m, log.With(logger.String("stage", "ingest")))
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when the
// archive is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideResultArchive returns nil when ClickHouse is disabled.
func ProvideResultArchive(client *pkgch.Client, cfg *config.Config) (repository.ResultArchive, error) {
	if client == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := internalrepo.NewClickHouseResultArchive(ctx, client, cfg.ClickHouse.Database, cfg.ClickHouse.Table)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return a, nil
}

func ProvideEvaluator(store repository.HotStore, archive repository.ResultArchive, m repository.Metrics,
	log *logger.Logger, cfg *config.Config) *usecase.Evaluator {
	opts := []usecase.EvaluatorOption{usecase.WithPendingMaxAge(cfg.Driver.PendingMaxAge)}
	if archive != nil {
		opts = append(opts, usecase.WithArchive(archive))
	}
	return usecase.NewEvaluator(store, m, log.With(logger.String("stage", "evaluate")), opts...)
}

func ProvideDriver(ingestor *usecase.Ingestor, evaluator *usecase.Evaluator, ensemble *predictor.Ensemble,
	trainer *usecase.Trainer, m repository.Metrics, log *logger.Logger, cfg *config.Config) *usecase.Driver {
	return usecase.NewDriver(ingestor, evaluator, ensemble, trainer, m, log.With(logger.String("stage", "driver")),
		usecase.DriverConfig{
			PollInterval: cfg.Driver.PollInterval,
			OpTimeout:    cfg.Store.OpTimeout,
			MaxFailures:  cfg.Driver.MaxFailures,
			BackoffBase:  cfg.Driver.BackoffBase,
			BackoffMax:   cfg.Driver.BackoffMax,
			QueueSize:    cfg.Driver.SubmitQueue,
		})
}

func ProvideLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

func ProvidePipeline(driver *usecase.Driver, limiter *ratelimit.Limiter, m repository.Metrics,
	log *logger.Logger, cfg *config.Config) *mid.RealtimePipeline {
	return mid.NewRealtimePipeline(driver, limiter, m, log.With(logger.String("stage", "pipeline")),
		mid.WithMaxRPS(float64(cfg.Ingest.MaxRPS)),
		mid.WithBurst(cfg.Ingest.Burst),
		mid.WithBufferSize(cfg.Ingest.BufferSize),
		mid.WithFlushBackoff(cfg.Driver.BackoffBase, cfg.Driver.BackoffMax),
	)
}

// ProvideOutcomeCollector returns nil when the websocket feed is disabled.
func ProvideOutcomeCollector(cfg *config.Config, pipe *mid.RealtimePipeline, m repository.Metrics,
	log *logger.Logger) *usecase.OutcomeCollector {
	if !cfg.Feed.Enabled {
		return nil
	}
	l := log.With(logger.String("stage", "feed"))
	stream := feed.New(cfg.Feed.URL, cfg.Feed.Table, cfg.Feed.ReconnectDelay, cfg.Feed.PingInterval, l)
	return usecase.NewOutcomeCollector(stream, pipe, m, l)
}

// ProvideKafkaMetrics registers the producer and consumer collectors.
func ProvideKafkaMetrics(reg *prometheus.Registry) *pkgkafka.Metrics {
	return pkgkafka.NewMetrics(reg)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is
// disabled.
func ProvideKafkaProducer(cfg *config.Config, km *pkgkafka.Metrics) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerMetrics(km),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the outcomes consumer, or nil when Kafka is
// disabled.
func ProvideKafkaConsumer(cfg *config.Config, km *pkgkafka.Metrics, m repository.Metrics, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
		pkgkafka.WithConsumerFetch(c.MinBytes, c.MaxBytes),
		pkgkafka.WithConsumerLogger(log.With(logger.String("stage", "kafka"))),
		pkgkafka.WithConsumerMetrics(km),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(usecase.NewKafkaMetricsHook(m))
	return consumer, nil
}

func ProvideKafkaOutcomesHandler(cfg *config.Config, pipe *mid.RealtimePipeline, m repository.Metrics) *usecase.KafkaOutcomesHandler {
	if !cfg.Kafka.Enabled {
		return nil
	}
	return usecase.NewKafkaOutcomesHandler(cfg.Kafka.OutcomesTopic, pipe, m)
}

// ProvidePredictionFanout publishes every new prediction to Kafka. It is
// nil when Kafka is disabled.
func ProvidePredictionFanout(producer *pkgkafka.Producer, driver *usecase.Driver, m repository.Metrics,
	log *logger.Logger, cfg *config.Config) *usecase.PredictionFanout {
	if producer == nil {
		return nil
	}
	pub := internalrepo.NewKafkaPredictionPublisher(producer, cfg.Kafka.PredictionsTopic)
	f := usecase.NewPredictionFanout(pub, m, log.With(logger.String("stage", "fanout")), cfg.Ingest.BufferSize)
	driver.OnPrediction(f.Handle)
	return f
}

// ProvideJobQueue creates the Redis job queue with the retrain job
// registered.
func ProvideJobQueue(client *redis.Client, trainer *usecase.Trainer, log *logger.Logger, cfg *config.Config) *queue.RedisQueue {
	l := log.With(logger.String("stage", "queue"))
	q := queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}, client, queue.ModeProducerConsumer, queue.WithKeyPrefix(cfg.Queue.KeyPrefix))
	q.RegisterJob(usecase.NewRetrainJob(trainer, l))
	return q
}

func ProvideOpsHandler(store repository.HotStore, modelStore repository.ModelStore, driver *usecase.Driver,
	pipe *mid.RealtimePipeline, jobs *queue.RedisQueue, log *logger.Logger) *ops.Handler {
	return ops.NewHandler(store, modelStore, driver, pipe, jobs, usecase.TrainModelJobType,
		log.With(logger.String("stage", "http")))
}

func ProvideHTTPServer(h *ops.Handler, reg *prometheus.Registry, log *logger.Logger, cfg *config.Config) *xhttp.Server {
	return xhttp.NewServer(h, log,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithSlowThreshold(cfg.Server.SlowRequest),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithRegistry(reg),
	)
}

// ProvideApp assembles the application.
func ProvideApp(d server.Deps) *server.App {
	return server.New(d)
}
