package usecase

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"QuantPipe/internal/domain/models"
	drepo "QuantPipe/internal/domain/repository"
	"QuantPipe/internal/services/ml"
	"QuantPipe/pkg/config"
	"QuantPipe/pkg/logger"
)

// Pipeline steps in run order.
const (
	StepFeatureList   = "feature_list"
	StepCollectData   = "collect_data"
	StepFilterTrain   = "filter_train"
	StepFilterPredict = "filter_predict"
	StepTrainModels   = "train_models"
	StepPredict       = "predict"
	StepAnalyze       = "analyze"
)

var PipelineSteps = []string{
	StepFeatureList,
	StepCollectData,
	StepFilterTrain,
	StepFilterPredict,
	StepTrainModels,
	StepPredict,
	StepAnalyze,
}

// Dataset names inside an experiment.
const (
	DatasetAll     = "all"
	DatasetTrain   = "train"
	DatasetPredict = "predict"
)

// ModelSpecFromConfig resolves the estimator of an experiment. The legacy
// constructor string wins over kind/params when both are set.
func ModelSpecFromConfig(c config.ModelConfig, classification bool) (ml.ModelSpec, error) {
	var (
		spec ml.ModelSpec
		err  error
	)
	if c.Spec != "" {
		if spec, err = ml.ParseModelSpec(c.Spec); err != nil {
			return ml.ModelSpec{}, err
		}
	} else {
		spec = ml.ModelSpec{Kind: c.Kind, Params: c.Params}
		if err := spec.Validate(); err != nil {
			return ml.ModelSpec{}, err
		}
	}
	if !classification && ml.IsClassifier(spec.Kind) {
		return ml.ModelSpec{}, fmt.Errorf("model %s needs a classification task", spec.Kind)
	}
	return spec, nil
}

// ExperimentRunner drives the pipeline stages of one experiment. Every
// stage is a step guarded by the run's StepStore.
type ExperimentRunner struct {
	rc        *RunContext
	series    drepo.SeriesStore
	refs      drepo.ReferenceStore
	artifacts drepo.ExperimentStore
	datasets  drepo.DatasetStore
	models    drepo.ModelStore
	// publish receives prediction blocks next to the results file; optional.
	publish drepo.PredictionSink
}

func NewExperimentRunner(
	rc *RunContext,
	series drepo.SeriesStore,
	refs drepo.ReferenceStore,
	artifacts drepo.ExperimentStore,
	datasets drepo.DatasetStore,
	modelStore drepo.ModelStore,
	publish drepo.PredictionSink,
) *ExperimentRunner {
	return &ExperimentRunner{
		rc:        rc,
		series:    series,
		refs:      refs,
		artifacts: artifacts,
		datasets:  datasets,
		models:    modelStore,
		publish:   publish,
	}
}

// Run executes every pipeline step in order.
func (r *ExperimentRunner) Run(ctx context.Context) error {
	start := r.rc.Clock()
	for _, id := range PipelineSteps {
		if err := r.RunStep(ctx, id); err != nil {
			return err
		}
	}
	r.rc.Logger.Info("experiment done", logger.Duration("elapsed_ms", r.rc.Clock().Sub(start)))
	return nil
}

// seriesMemo is a series store that memoizes loads and can drop them.
type seriesMemo interface {
	Reset()
}

// RunStep runs one named step unless it is already complete and Force is
// off. The step is marked complete only on success.
func (r *ExperimentRunner) RunStep(ctx context.Context, id string) error {
	fn, ok := r.stage(id)
	if !ok {
		return fmt.Errorf("unknown step %q", id)
	}
	if r.rc.Steps != nil && !r.rc.Force {
		done, err := r.rc.Steps.IsStepComplete(ctx, id)
		if err != nil {
			return fmt.Errorf("check step %s: %w", id, err)
		}
		if done {
			r.rc.Logger.Info("step already complete", logger.String("step", id))
			return nil
		}
	}
	start := r.rc.Clock()
	r.rc.Logger.Info("step started", logger.String("step", id))
	if m, ok := r.series.(seriesMemo); ok {
		defer m.Reset()
	}
	if err := fn(ctx); err != nil {
		return fmt.Errorf("step %s: %w", id, err)
	}
	if r.rc.Steps != nil {
		if err := r.rc.Steps.MarkStepComplete(ctx, id); err != nil {
			return fmt.Errorf("mark step %s: %w", id, err)
		}
	}
	r.rc.Logger.Info("step finished", logger.String("step", id), logger.Duration("elapsed_ms", r.rc.Clock().Sub(start)))
	return nil
}

func (r *ExperimentRunner) stage(id string) (func(context.Context) error, bool) {
	switch id {
	case StepFeatureList:
		return r.featureList, true
	case StepCollectData:
		return r.collect, true
	case StepFilterTrain:
		return func(ctx context.Context) error {
			return r.filter(ctx, StepFilterTrain, r.rc.Experiment.TrainFilter, DatasetTrain)
		}, true
	case StepFilterPredict:
		return func(ctx context.Context) error {
			return r.filter(ctx, StepFilterPredict, r.rc.Experiment.PredictFilter, DatasetPredict)
		}, true
	case StepTrainModels:
		return r.train, true
	case StepPredict:
		return r.predict, true
	case StepAnalyze:
		return r.analyze, true
	}
	return nil, false
}

// featureList expands the configured groups into a deduplicated, sorted
// feature list.
func (r *ExperimentRunner) featureList(ctx context.Context) error {
	names, err := r.refs.FeatureGroups(ctx, r.rc.Experiment.Features)
	if err != nil {
		return fmt.Errorf("expand feature groups: %w", err)
	}
	seen := make(map[string]struct{}, len(names))
	var out []string
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return fmt.Errorf("feature groups %v are empty", r.rc.Experiment.Features)
	}
	r.rc.Logger.Info("feature list", logger.Int("features", len(out)))
	return r.artifacts.WriteFeatureList(ctx, out)
}

// ImportDataset stores ds as the full dataset in place of collect_data and
// marks that step complete. Its columns must equal the feature list.
func (r *ExperimentRunner) ImportDataset(ctx context.Context, ds *models.Dataset) error {
	names, err := r.artifacts.ReadFeatureList(ctx)
	if err != nil {
		return fmt.Errorf("read feature list: %w", err)
	}
	if strings.Join(names, ",") != strings.Join(ds.Features, ",") {
		return fmt.Errorf("imported columns %v, feature list %v: %w", ds.Features, names, models.ErrAlignment)
	}
	for i := range ds.Rows {
		if len(ds.Rows[i].Features) != len(names) {
			return fmt.Errorf("imported row %d has %d features: %w", i, len(ds.Rows[i].Features), models.ErrAlignment)
		}
	}
	if err := r.datasets.Write(ctx, DatasetAll, ds); err != nil {
		return err
	}
	if r.rc.Steps != nil {
		if err := r.rc.Steps.MarkStepComplete(ctx, StepCollectData); err != nil {
			return fmt.Errorf("mark step %s: %w", StepCollectData, err)
		}
	}
	r.rc.Logger.Info("dataset imported", logger.Int("rows", len(ds.Rows)))
	return nil
}

func (r *ExperimentRunner) collect(ctx context.Context) error {
	exp := r.rc.Experiment
	names, err := r.artifacts.ReadFeatureList(ctx)
	if err != nil {
		return fmt.Errorf("read feature list: %w", err)
	}
	stats, err := r.refs.RangeStats(ctx)
	if err != nil {
		return fmt.Errorf("read feature stats: %w", err)
	}
	ranges, err := models.NewRangeTable(names, stats)
	if err != nil {
		return err
	}
	joiner := NewFeatureJoiner(r.series, names, ranges, exp.FeatureWindow, exp.MinFeaturePerc)
	asm := NewAssembler(r.series, joiner, r.rc.Metrics, r.rc.Logger)
	res, err := asm.Assemble(ctx, AssembleParams{
		Label:       exp.Label,
		MinDate:     exp.MinDate,
		MaxDate:     exp.MaxDate,
		MaxNeg:      exp.MaxNeg,
		MinPos:      exp.MinPos,
		WeightPower: exp.WeightPower,
		Workers:     r.rc.Workers,
	})
	if err != nil {
		return err
	}
	return r.datasets.Write(ctx, DatasetAll, res.Dataset)
}

func (r *ExperimentRunner) filter(ctx context.Context, stage string, c config.FilterConfig, target string) error {
	start := time.Now()
	spec, err := FilterSpecFromConfig(c)
	if err != nil {
		return err
	}
	if !r.rc.Experiment.Classification() {
		spec.RemoveIndeterminate = false
	}
	var membership models.Membership
	if spec.Membership {
		if membership, err = r.refs.Membership(ctx); err != nil {
			return fmt.Errorf("read membership: %w", err)
		}
	}
	fs, err := NewFilterSet(spec, r.series, membership)
	if err != nil {
		return err
	}
	ds, err := r.datasets.Read(ctx, DatasetAll)
	if err != nil {
		return fmt.Errorf("read dataset %s: %w", DatasetAll, err)
	}
	out, skips, err := fs.Apply(ctx, ds)
	if err != nil {
		return err
	}
	r.rc.Logger.Info("filter done",
		logger.String("stage", stage),
		logger.Int("rows_in", len(ds.Rows)),
		logger.Int("rows_out", len(out.Rows)),
		logger.Counters("skip_stats", skips))
	if m := r.rc.Metrics; m != nil {
		m.RecordSkips(stage, skips)
		m.RecordRows(stage, len(out.Rows))
		m.RecordLatency(stage, time.Since(start).Seconds())
	}
	return r.datasets.Write(ctx, target, out)
}

func (r *ExperimentRunner) trainParams(ctx context.Context) (TrainParams, error) {
	exp := r.rc.Experiment
	spec, err := ModelSpecFromConfig(exp.Model, exp.Classification())
	if err != nil {
		return TrainParams{}, err
	}
	p := TrainParams{
		Grid:                models.Grid(exp.Grid),
		StartDate:           exp.StartDate,
		EndDate:             exp.EndDate,
		TrainWindow:         exp.TrainWindow,
		TrainPerc:           exp.TrainPerc,
		MinSamples:          exp.MinSamples,
		Seed:                exp.Seed,
		Model:               spec,
		ImputerStrategy:     exp.ImputerStrategy,
		Classification:      exp.Classification(),
		UseWeight:           exp.UseWeight,
		IndeterminatePolicy: exp.IndeterminatePolicy,
		EvalPercs:           exp.Analysis.EvalPercs,
		Workers:             r.rc.Workers,
	}
	if p.Grid == models.GridCalendar {
		if p.Calendar, err = r.refs.Calendar(ctx, exp.TrainDates); err != nil {
			return TrainParams{}, fmt.Errorf("read calendar: %w", err)
		}
	}
	return p, nil
}

func (r *ExperimentRunner) train(ctx context.Context) error {
	p, err := r.trainParams(ctx)
	if err != nil {
		return err
	}
	ds, err := r.datasets.Read(ctx, DatasetTrain)
	if err != nil {
		return fmt.Errorf("read dataset %s: %w", DatasetTrain, err)
	}
	steps := r.rc.Steps
	if r.rc.Force && steps != nil {
		steps = rerunSteps{steps}
	}
	trainer := NewTrainer(r.models, steps, r.rc.Metrics, r.rc.Logger)
	name := p.Model.Kind + "-stats.tsv"
	return writeArtifact(ctx, r.artifacts, name, func(w io.Writer) error {
		_, err := trainer.Train(ctx, ds, p, w)
		return err
	})
}

func (r *ExperimentRunner) predict(ctx context.Context) error {
	exp := r.rc.Experiment
	ds, err := r.datasets.Read(ctx, DatasetPredict)
	if err != nil {
		return fmt.Errorf("read dataset %s: %w", DatasetPredict, err)
	}
	results, err := r.artifacts.OpenResults(ctx)
	if err != nil {
		return err
	}
	sinks := []drepo.PredictionSink{results}
	if r.publish != nil {
		sinks = append(sinks, r.publish)
	}
	_, err = NewPredictor(r.models, r.rc.Metrics, r.rc.Logger).Predict(ctx, ds, PredictParams{
		Grid:             models.Grid(exp.Grid),
		TrainWindow:      exp.TrainWindow,
		PredictionWindow: exp.PredictionWindow,
		DelayWindow:      exp.DelayWindow,
	}, sinks...)
	if cerr := results.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close results: %w", cerr)
	}
	return err
}

func (r *ExperimentRunner) analyze(ctx context.Context) error {
	exp := r.rc.Experiment
	blocks, err := r.artifacts.ReadResults(ctx)
	if err != nil {
		return err
	}
	market, err := r.refs.MarketGains(ctx)
	if err != nil {
		return fmt.Errorf("read market gains: %w", err)
	}
	trades := make([]models.TradeConfig, len(exp.Analysis.Trades))
	for i, t := range exp.Analysis.Trades {
		trades[i] = models.TradeConfig{MaxLook: t.MaxLook, MaxPick: t.MaxPick, MaxHold: t.MaxHold}
	}
	a, err := NewBacktester(r.rc.Metrics, r.rc.Logger).Analyze(blocks, AnalyzeParams{
		Ks:         exp.Analysis.Ks,
		Buckets:    exp.Analysis.Buckets,
		Trades:     trades,
		HoldPeriod: exp.Analysis.HoldPeriod,
		Market:     market,
	})
	if err != nil {
		return err
	}
	return WriteAnalysis(ctx, r.artifacts, a)
}

// rerunSteps reports every step as incomplete so forced runs retrain
// periods while still recording completion.
type rerunSteps struct {
	drepo.StepStore
}

func (s rerunSteps) IsStepComplete(context.Context, string) (bool, error) {
	return false, nil
}
