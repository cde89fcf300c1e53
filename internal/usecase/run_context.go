package usecase

import (
	"path/filepath"
	"time"

	drepo "QuantPipe/internal/domain/repository"
	"QuantPipe/pkg/config"
	"QuantPipe/pkg/logger"

	"github.com/google/uuid"
)

// Paths locates the shared inputs and the private output directory of one
// experiment.
type Paths struct {
	FeatureDir       string
	FeatureListDir   string
	FeatureStatsFile string
	CalendarDir      string
	MembershipFile   string
	MarketGainFile   string
	// Experiment is <experiments>/<name>; nothing outside it is written.
	Experiment string
}

// NewPaths resolves the experiment directory under the configured base.
func NewPaths(cfg *config.Config, experiment string) Paths {
	return Paths{
		FeatureDir:       cfg.Paths.FeatureDir,
		FeatureListDir:   cfg.Paths.FeatureListDir,
		FeatureStatsFile: cfg.Paths.FeatureStatsFile,
		CalendarDir:      cfg.Paths.CalendarDir,
		MembershipFile:   cfg.Paths.MembershipFile,
		MarketGainFile:   cfg.Paths.MarketGainFile,
		Experiment:       filepath.Join(cfg.Paths.ExperimentDir, experiment),
	}
}

// RunContext carries everything a stage needs; stages read no globals.
type RunContext struct {
	RunID      string
	Experiment *config.Experiment
	Paths      Paths
	Workers    int
	// Force reruns steps that are already marked complete.
	Force   bool
	Logger  *logger.Logger
	Metrics drepo.Metrics
	Steps   drepo.StepStore
	Clock   func() time.Time
}

type RunOption func(*RunContext)

func WithRunID(id string) RunOption {
	return func(rc *RunContext) { rc.RunID = id }
}

func WithWorkers(n int) RunOption {
	return func(rc *RunContext) { rc.Workers = n }
}

func WithForce(force bool) RunOption {
	return func(rc *RunContext) { rc.Force = force }
}

func WithLogger(l *logger.Logger) RunOption {
	return func(rc *RunContext) { rc.Logger = l }
}

func WithMetrics(m drepo.Metrics) RunOption {
	return func(rc *RunContext) { rc.Metrics = m }
}

func WithSteps(s drepo.StepStore) RunOption {
	return func(rc *RunContext) { rc.Steps = s }
}

func WithClock(now func() time.Time) RunOption {
	return func(rc *RunContext) { rc.Clock = now }
}

// NewRunContext assigns a fresh run id and tags the logger with it.
func NewRunContext(exp *config.Experiment, paths Paths, opts ...RunOption) *RunContext {
	rc := &RunContext{
		RunID:      uuid.NewString(),
		Experiment: exp,
		Paths:      paths,
		Workers:    1,
		Logger:     logger.Nop(),
		Clock:      time.Now,
	}
	for _, opt := range opts {
		opt(rc)
	}
	rc.Logger = rc.Logger.With(logger.String("run_id", rc.RunID), logger.String("experiment", exp.Name))
	return rc
}
