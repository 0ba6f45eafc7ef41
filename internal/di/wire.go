//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	domrepo "Chronos/internal/domain/repository"
	"Chronos/pkg/config"
	"Chronos/pkg/metrics"
	"Chronos/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,
		wire.Bind(new(domrepo.Metrics), new(*metrics.Recorder)),
		ProvideClock,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideCache,

		// Models
		ProvideReturnHistory,
		ProvideMicrostructure,
		ProvideVolatility,
		ProvideRegime,
		ProvideRisk,
		ProvideFusion,
		ProvideMomentum,

		// Execution and journal
		ProvideOrderGateway,
		ProvideOrderSubmitter,
		ProvideDecisionRecorder,

		// Use cases
		ProvideDecisionLoop,
		ProvideRefitScheduler,
		ProvideWarmStarter,
		ProvideMarketPipeline,
		ProvideKafkaHandlers,
		ProvideFundingPoller,
		ProvideStatusStore,
		ProvideStatusPublisher,
		ProvideStatusQuery,
		ProvideInstanceGuard,

		// Surfaces
		ProvideHTTPHandlers,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
