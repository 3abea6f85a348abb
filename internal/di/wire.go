//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"SpinCast/pkg/config"
	"SpinCast/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideRegistry,
		ProvideMetrics,
		ProvideKafkaMetrics,
		ProvideKafkaProducer,
		ProvideLogger,

		// Storage
		ProvideRedisClient,
		ProvideHotStore,
		ProvideModelStore,
		ProvideLocker,
		ProvideClickHouseClient,
		ProvideResultArchive,

		// Prediction and training
		ProvideExtractor,
		ProvideModelHandle,
		ProvideEnsemble,
		ProvideTrainer,

		// Cycle
		ProvideIngestor,
		ProvideEvaluator,
		ProvideDriver,
		ProvideLimiter,
		ProvidePipeline,

		// Inputs and outputs
		ProvideOutcomeCollector,
		ProvideKafkaConsumer,
		ProvideKafkaOutcomesHandler,
		ProvidePredictionFanout,
		ProvideJobQueue,

		// HTTP
		ProvideOpsHandler,
		ProvideHTTPServer,

		// Application server
		wire.Struct(new(server.Deps), "*"),
		ProvideApp,
	)
	return &server.App{}, nil
}
