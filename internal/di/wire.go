//go:build wireinject
// +build wireinject

package di

import (
	"MarketPulse/pkg/config"
	"MarketPulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideRedisCache,
		ProvideClickHouseClient,
		ProvideVendorClient,

		// Calendar
		ProvideRegistry,
		ProvideCalendarCache,
		ProvideCalendarOptions,
		ProvideResolver,
		ProvideOpeningSearch,
		ProvideSchedule,

		// Fan-out and stages
		ProvideBroadcaster,
		ProvideRetryQueue,
		ProvideKlineStage,
		ProvideStages,
		ProvideObserver,

		// Sources and use cases
		ProvideQuoteSources,
		ProvideQuoteCollector,
		ProvideMarketService,
		ProvideKafkaConsumer,
		ProvideKafkaEventsHandler,

		// HTTP
		ProvideLimiter,
		ProvideStreamHandler,
		ProvideSourcesHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
