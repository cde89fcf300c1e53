//go:build wireinject
// +build wireinject

package di

import (
	"QuantPipe/pkg/config"
	"QuantPipe/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires the results API server.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,
		ProvideCache,
		ProvideExperimentCatalog,
		ProvideResultsService,
		ProvideResultsHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}

// InitializeRuntime wires the clients of the batch commands.
func InitializeRuntime(cfg *config.Config) (*Runtime, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,
		ProvideCache,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideSeriesStore,
		ProvideSeriesWriter,
		ProvideReferenceStore,
		ProvideExperimentCatalog,
		ProvideRuntime,
	)
	return &Runtime{}, nil
}
