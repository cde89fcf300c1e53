package di

import (
	"context"
	"fmt"
	"io"
	"time"

	drepo "QuantPipe/internal/domain/repository"
	"QuantPipe/internal/handler/api"
	internalrepo "QuantPipe/internal/repository"
	"QuantPipe/internal/usecase"
	"QuantPipe/pkg/cache"
	pkgch "QuantPipe/pkg/clickhouse"
	"QuantPipe/pkg/config"
	xhttp "QuantPipe/pkg/http"
	pkgkafka "QuantPipe/pkg/kafka"
	"QuantPipe/pkg/logger"
	"QuantPipe/pkg/metrics"
	"QuantPipe/pkg/server"
)

// ProvideLogger creates the process logger from the logging section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client when series storage
// or prediction storage needs one, and nil otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Storage.Series != "clickhouse" && !cfg.ClickHouse.StorePredictions {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var schema []string
	if cfg.Storage.Series == "clickhouse" {
		schema = append(schema, internalrepo.SeriesSchema(cfg.ClickHouse.Database)...)
	}
	if cfg.ClickHouse.StorePredictions {
		schema = append(schema, internalrepo.PredictionSchema(cfg.ClickHouse.Database)...)
	}
	if err := client.InitSchema(ctx, schema); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates the prediction producer, or nil when Kafka
// is disabled.
func ProvideKafkaProducer(cfg *config.Config, rec *metrics.Recorder) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithRegisterer(rec.Registerer()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideCache creates the configured cache backend.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if cfg.Cache.Backend == "memory" {
		return cache.NewMemoryCache(), nil
	}
	r := cfg.Cache.Redis
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(r.Host),
		cache.WithRedisPort(r.Port),
		cache.WithRedisPassword(r.Password),
		cache.WithRedisDB(r.DB),
		cache.WithRedisPrefix(r.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	if cfg.Cache.Backend == "layered" {
		return cache.NewLayeredCache(rc), nil
	}
	return rc, nil
}

// ProvideSeriesStore returns the configured series backend behind a
// per-process memo.
func ProvideSeriesStore(cfg *config.Config, ch *pkgch.Client, l *logger.Logger) drepo.SeriesStore {
	if cfg.Storage.Series == "clickhouse" {
		s := internalrepo.NewClickHouseSeriesStore(ch, cfg.ClickHouse.Database+".series")
		s.SetLogger(l.With(logger.String("component", "series")))
		return internalrepo.NewCachedSeriesStore(s)
	}
	return internalrepo.NewCachedSeriesStore(internalrepo.NewFileSeriesStore(cfg.Paths.FeatureDir))
}

// ProvideSeriesWriter returns the writer for derived series.
func ProvideSeriesWriter(cfg *config.Config, ch *pkgch.Client) drepo.SeriesWriter {
	if cfg.Storage.Series == "clickhouse" {
		return internalrepo.NewClickHouseSeriesStore(ch, cfg.ClickHouse.Database+".series")
	}
	return internalrepo.NewFileSeriesStore(cfg.Paths.FeatureDir)
}

func ProvideReferenceStore(cfg *config.Config) drepo.ReferenceStore {
	return internalrepo.NewFileReferenceStore(
		cfg.Paths.FeatureListDir,
		cfg.Paths.FeatureStatsFile,
		cfg.Paths.CalendarDir,
		cfg.Paths.MembershipFile,
		cfg.Paths.MarketGainFile,
	)
}

func ProvideExperimentCatalog(cfg *config.Config) drepo.ExperimentCatalog {
	return internalrepo.NewFileExperimentCatalog(cfg.Paths.ExperimentDir)
}

func ProvideResultsService(catalog drepo.ExperimentCatalog, c cache.Service, l *logger.Logger) *usecase.ResultsService {
	return usecase.NewResultsService(catalog, c, usecase.DefaultResultsTTL, l)
}

func ProvideResultsHandler(l *logger.Logger, svc *usecase.ResultsService) xhttp.Handler {
	return api.NewResultsEchoHandler(l.With(logger.String("component", "http")), svc)
}

// ProvideApp creates the results API server. The cache is closed on
// shutdown when its backend holds connections.
func ProvideApp(cfg *config.Config, l *logger.Logger, h xhttp.Handler, rec *metrics.Recorder, c cache.Service) *server.App {
	var closers []io.Closer
	if cl, ok := c.(io.Closer); ok {
		closers = append(closers, cl)
	}
	return server.New(cfg, l, h, rec.Gatherer(), rec.Registerer(), closers...)
}

// ProvideRuntime bundles the clients of a batch command.
func ProvideRuntime(
	cfg *config.Config,
	l *logger.Logger,
	rec *metrics.Recorder,
	c cache.Service,
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
	series drepo.SeriesStore,
	seriesOut drepo.SeriesWriter,
	refs drepo.ReferenceStore,
	catalog drepo.ExperimentCatalog,
) *Runtime {
	return &Runtime{
		Config:     cfg,
		Logger:     l,
		Metrics:    rec,
		Cache:      c,
		ClickHouse: ch,
		Producer:   producer,
		Series:     series,
		SeriesOut:  seriesOut,
		Refs:       refs,
		Catalog:    catalog,
	}
}
