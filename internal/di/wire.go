//go:build wireinject
// +build wireinject

package di

import (
	"StockRisk/pkg/config"
	"StockRisk/pkg/server"

	"github.com/google/wire"
)

var infraSet = wire.NewSet(
	// Infrastructure clients
	ProvideKafkaProducer,
	ProvideLogger,
	ProvideRegistry,
	ProvideMetrics,
	ProvideRedisClient,
	ProvideCache,
	ProvideQueue,
	ProvideClickHouseClient,

	// Model artifacts
	ProvideModelStore,
	ProvideS3Mirror,
)

// InitializeApp wires up the prediction service.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		infraSet,

		// Audit
		ProvideRecorder,
		ProvideAuditStore,
		ProvideAuditHandler,
		ProvideAuditConsumer,

		// Use cases and transport
		ProvidePredictor,
		ProvideJobPublisher,
		ProvideHandler,
		ProvideRateLimiter,
		ProvideHTTPServer,

		ProvideApp,
	)
	return &server.App{}, nil
}

// InitializeTrainer wires up the offline trainer.
func InitializeTrainer(cfg *config.Config) (*server.TrainerRuntime, error) {
	wire.Build(
		infraSet,

		ProvideTrainerFactory,
		ProvideRetrainJob,
		ProvideTrainerRuntime,
	)
	return &server.TrainerRuntime{}, nil
}
