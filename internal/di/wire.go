//go:build wireinject
// +build wireinject

package di

import (
	"ClarityPull/pkg/config"
	"ClarityPull/pkg/server"

	"github.com/google/wire"
)

var coreSet = wire.NewSet(
	ProvideLogger,
	ProvideStore,
	ProvideCache,
	ProvideKafkaProducer,
	ProvideMetrics,
	ProvideMarketDataSource,
	ProvideStatusTracker,
	ProvideZoneRunTracker,
	ProvideAlertDetector,
	ProvideOrchestrator,
	ProvidePollService,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		coreSet,
		ProvideHub,
		ProvideEventPublisher,
		ProvideMarketReader,
		ProvideKafkaConsumer,
		ProvideKafkaPollHandler,
		ProvideScheduler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}

// InitializePoller wires the dependencies of a one-shot command-line poll.
func InitializePoller(cfg *config.Config) (*Poller, func(), error) {
	wire.Build(
		coreSet,
		ProvidePollerPublisher,
		wire.Struct(new(Poller), "*"),
	)
	return nil, nil, nil
}
