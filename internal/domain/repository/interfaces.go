package repository

import (
	"context"
	"io"

	"QuantPipe/internal/domain/models"
)

// SeriesStore reads dated scalar series. Load returns models.ErrSeriesNotFound
// when the security has no data for the feature.
type SeriesStore interface {
	Load(ctx context.Context, feature, security string) (*models.DatedSeries, error)
	Securities(ctx context.Context, feature string) ([]string, error)
}

// SeriesWriter persists a derived series, replacing any previous version.
type SeriesWriter interface {
	Write(ctx context.Context, series *models.DatedSeries) error
}

// DatasetStore persists assembled row streams by name.
type DatasetStore interface {
	Write(ctx context.Context, name string, ds *models.Dataset) error
	Read(ctx context.Context, name string) (*models.Dataset, error)
	Exists(ctx context.Context, name string) (bool, error)
}

// ModelStore persists (model, imputer) artifacts keyed by period and window.
type ModelStore interface {
	Save(ctx context.Context, key models.ModelKey, artifact []byte) error
	Load(ctx context.Context, key models.ModelKey) ([]byte, error)
	// Periods lists stored periods for a train window, ascending.
	Periods(ctx context.Context, trainWindow int) ([]string, error)
}

// PredictionSink receives prediction blocks in ascending date order.
type PredictionSink interface {
	Write(ctx context.Context, block *models.PredictionBlock) error
	Close() error
}

// StepStore records completed pipeline steps so reruns can resume.
type StepStore interface {
	IsStepComplete(ctx context.Context, stepID string) (bool, error)
	MarkStepComplete(ctx context.Context, stepID string) error
	ClearStep(ctx context.Context, stepID string) error
}

// Metrics records stage-level counters.
type Metrics interface {
	RecordSkips(stage string, stats models.SkipStats)
	RecordRows(stage string, n int)
	RecordModel(state models.TrainState)
	RecordLatency(stage string, seconds float64)
}

// ReferenceStore reads the shared, read-only inputs of a run.
type ReferenceStore interface {
	// FeatureGroups expands named feature lists into feature names.
	FeatureGroups(ctx context.Context, groups []string) ([]string, error)
	RangeStats(ctx context.Context) ([]models.FeatureStats, error)
	Membership(ctx context.Context) (models.Membership, error)
	Calendar(ctx context.Context, name string) ([]string, error)
	// MarketGains returns nil when no market series is configured.
	MarketGains(ctx context.Context) (map[string]float64, error)
}

// ExperimentStore holds the private artifacts of one experiment.
type ExperimentStore interface {
	WriteFeatureList(ctx context.Context, features []string) error
	ReadFeatureList(ctx context.Context) ([]string, error)
	// CreateArtifact opens a relative path for writing, replacing it on Close.
	CreateArtifact(ctx context.Context, name string) (io.WriteCloser, error)
	OpenResults(ctx context.Context) (PredictionSink, error)
	ReadResults(ctx context.Context) ([]models.PredictionBlock, error)
}

// ExperimentCatalog lists experiments and opens their stores. Open returns
// models.ErrExperimentNotFound for unknown names.
type ExperimentCatalog interface {
	List(ctx context.Context) ([]string, error)
	Open(ctx context.Context, name string) (ExperimentStore, error)
}
