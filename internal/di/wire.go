//go:build wireinject
// +build wireinject

package di

import (
	"FinAlloc/pkg/config"

	"github.com/google/wire"
)

// InitializeContainer wires up all dependencies.
// Wire will generate the implementation of this function.
func InitializeContainer(cfg *config.Config) (*Container, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedis,
		ProvideClickHouse,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Storage and caching
		ProvideCacheStore,
		ProvideTieredCache,
		ProvideSeriesStore,
		ProvidePortfolioStore,
		ProvidePublisher,

		// Market data
		ProvideRateLimiter,
		ProvideGateway,
		ProvideMarketData,
		ProvideHistorySource,
		ProvideLiveQuotes,

		// Allocation pipeline
		ProvideSignalEngine,
		ProvideOptimizer,
		ProvideDriftMonitor,
		ProvideOrchestrator,
		ProvideDriftTrigger,
		ProvideScheduler,

		// Application
		ProvideHTTPServer,
		ProvideApp,
		ProvideContainer,
	)
	return nil, nil, nil
}
