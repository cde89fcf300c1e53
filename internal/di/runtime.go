package di

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	drepo "QuantPipe/internal/domain/repository"
	internalrepo "QuantPipe/internal/repository"
	"QuantPipe/internal/usecase"
	"QuantPipe/pkg/cache"
	pkgch "QuantPipe/pkg/clickhouse"
	"QuantPipe/pkg/config"
	pkgkafka "QuantPipe/pkg/kafka"
	"QuantPipe/pkg/logger"
	"QuantPipe/pkg/metrics"
)

// Runtime holds the shared clients of one CLI invocation. ClickHouse and
// Producer are nil when not configured.
type Runtime struct {
	Config     *config.Config
	Logger     *logger.Logger
	Metrics    *metrics.Recorder
	Cache      cache.Service
	ClickHouse *pkgch.Client
	Producer   *pkgkafka.Producer
	Series     drepo.SeriesStore
	SeriesOut  drepo.SeriesWriter
	Refs       drepo.ReferenceStore
	Catalog    drepo.ExperimentCatalog
}

// Experiment is the wired pipeline of one experiment.
type Experiment struct {
	Runner   *usecase.ExperimentRunner
	RC       *usecase.RunContext
	Store    *internalrepo.FileExperimentStore
	Datasets *internalrepo.FileDatasetStore
	Steps    drepo.StepStore
	publish  drepo.PredictionSink
}

// Close releases the publish sinks; shared clients stay open.
func (e *Experiment) Close() error {
	if e.publish == nil {
		return nil
	}
	return e.publish.Close()
}

// ImportLegacy expands the feature list and loads a parallel-file dataset
// from dir as the experiment's full dataset.
func (e *Experiment) ImportLegacy(ctx context.Context, dir string) (int, error) {
	if err := e.Runner.RunStep(ctx, usecase.StepFeatureList); err != nil {
		return 0, err
	}
	names, err := e.Store.ReadFeatureList(ctx)
	if err != nil {
		return 0, err
	}
	ds, err := internalrepo.ImportLegacy(dir, names)
	if err != nil {
		return 0, err
	}
	if err := e.Runner.ImportDataset(ctx, ds); err != nil {
		return 0, err
	}
	return len(ds.Rows), nil
}

// StepStore returns the step markers of an experiment.
func (rt *Runtime) StepStore(name, dir string) drepo.StepStore {
	if rt.Config.Storage.Steps == "cache" {
		return internalrepo.NewCacheStepStore(rt.Cache, name)
	}
	return internalrepo.NewFileStepStore(dir)
}

// NewExperiment wires the stores of exp under <experiment_dir>/<name>.
func (rt *Runtime) NewExperiment(exp *config.Experiment, opts ...usecase.RunOption) *Experiment {
	paths := usecase.NewPaths(rt.Config, exp.Name)
	steps := rt.StepStore(exp.Name, paths.Experiment)
	base := []usecase.RunOption{
		usecase.WithWorkers(rt.Config.Workers),
		usecase.WithLogger(rt.Logger),
		usecase.WithMetrics(rt.Metrics),
		usecase.WithSteps(steps),
	}
	rc := usecase.NewRunContext(exp, paths, append(base, opts...)...)

	e := &Experiment{
		RC:       rc,
		Store:    internalrepo.NewFileExperimentStore(paths.Experiment),
		Datasets: internalrepo.NewFileDatasetStore(filepath.Join(paths.Experiment, internalrepo.DataDir)),
		Steps:    steps,
		publish:  rt.publishSink(exp.Name, rc.RunID),
	}
	modelStore := internalrepo.NewFileModelStore(filepath.Join(paths.Experiment, internalrepo.ModelDir))
	e.Runner = usecase.NewExperimentRunner(rc, rt.Series, rt.Refs, e.Store, e.Datasets, modelStore, e.publish)
	return e
}

// publishSink fans predictions out to Kafka and ClickHouse when enabled.
func (rt *Runtime) publishSink(experiment, runID string) drepo.PredictionSink {
	var sinks internalrepo.MultiSink
	if rt.Producer != nil {
		sinks = append(sinks, internalrepo.NewKafkaPredictionPublisher(rt.Producer, rt.Config.Kafka.Topic, experiment, runID))
	}
	if rt.ClickHouse != nil && rt.Config.ClickHouse.StorePredictions {
		table := rt.Config.ClickHouse.Database + ".predictions"
		sinks = append(sinks, internalrepo.NewClickHousePredictionStore(rt.ClickHouse, table, experiment, runID))
	}
	if len(sinks) == 0 {
		return nil
	}
	return sinks
}

// FlushMetrics pushes the run metrics and writes the textfile when
// configured.
func (rt *Runtime) FlushMetrics(ctx context.Context) error {
	m := rt.Config.Metrics
	if !m.Enabled {
		return nil
	}
	if m.PushgatewayURL != "" {
		if err := rt.Metrics.Push(ctx, m.PushgatewayURL, m.Job); err != nil {
			return err
		}
	}
	if m.TextfilePath != "" {
		if err := rt.Metrics.WriteTextfile(m.TextfilePath); err != nil {
			return err
		}
	}
	return nil
}

// Close releases every client, reporting the first error.
func (rt *Runtime) Close() error {
	var first error
	closeOne := func(name string, c io.Closer) {
		if err := c.Close(); err != nil {
			rt.Logger.Warn(name+" close error", logger.Error(err))
			if first == nil {
				first = fmt.Errorf("close %s: %w", name, err)
			}
		}
	}
	if rt.Producer != nil {
		closeOne("kafka", rt.Producer)
	}
	if rt.ClickHouse != nil {
		closeOne("clickhouse", rt.ClickHouse)
	}
	if c, ok := rt.Cache.(io.Closer); ok {
		closeOne("cache", c)
	}
	return first
}
