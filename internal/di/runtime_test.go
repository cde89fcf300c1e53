package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"QuantPipe/internal/domain/models"
	internalrepo "QuantPipe/internal/repository"
	"QuantPipe/internal/usecase"
	"QuantPipe/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("paths:\n  base_dir: " + t.TempDir() + "\nlogging:\n  level: error\n" + extra))
	require.NoError(t, err)
	return cfg
}

func TestInitializeRuntimeFileBackends(t *testing.T) {
	cfg := fileConfig(t, "")
	rt, err := InitializeRuntime(cfg)
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.ClickHouse)
	assert.Nil(t, rt.Producer)
	assert.IsType(t, &internalrepo.CachedSeriesStore{}, rt.Series)
	assert.IsType(t, &internalrepo.FileSeriesStore{}, rt.SeriesOut)

	exp := &config.Experiment{Name: "demo"}
	e := rt.NewExperiment(exp, usecase.WithRunID("r1"))
	assert.Equal(t, "r1", e.RC.RunID)
	assert.Equal(t, filepath.Join(cfg.Paths.ExperimentDir, "demo"), e.Store.Dir())
	assert.IsType(t, &internalrepo.FileStepStore{}, e.Steps)
	assert.Equal(t, cfg.Workers, e.RC.Workers)
	assert.NoError(t, e.Close())
}

func TestRuntimeCacheStepStore(t *testing.T) {
	rt, err := InitializeRuntime(fileConfig(t, "storage:\n  steps: cache\n"))
	require.NoError(t, err)
	defer rt.Close()

	e := rt.NewExperiment(&config.Experiment{Name: "demo"})
	require.IsType(t, &internalrepo.CacheStepStore{}, e.Steps)

	ctx := context.Background()
	require.NoError(t, e.Steps.MarkStepComplete(ctx, usecase.StepPredict))
	other := rt.NewExperiment(&config.Experiment{Name: "other"})
	done, err := other.Steps.IsStepComplete(ctx, usecase.StepPredict)
	require.NoError(t, err)
	assert.False(t, done, "markers are namespaced per experiment")
}

func TestFlushMetricsWritesTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quantpipe.prom")
	rt, err := InitializeRuntime(fileConfig(t, "metrics:\n  enabled: true\n  textfile_path: "+path+"\n"))
	require.NoError(t, err)
	defer rt.Close()

	rt.Metrics.RecordRows(usecase.StepCollectData, 3)
	require.NoError(t, rt.FlushMetrics(context.Background()))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `quantpipe_stage_rows_total{stage="collect_data"} 3`)
}

func TestInitializeAppServesResults(t *testing.T) {
	app, err := InitializeApp(fileConfig(t, ""))
	require.NoError(t, err)
	assert.NotNil(t, app.Server().Echo())
}

func TestExperimentImportLegacy(t *testing.T) {
	cfg := fileConfig(t, "")
	require.NoError(t, os.MkdirAll(cfg.Paths.FeatureListDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.FeatureListDir, "base"), []byte("pe\npb\n"), 0o644))
	rt, err := InitializeRuntime(cfg)
	require.NoError(t, err)
	defer rt.Close()

	legacy := filepath.Join(t.TempDir(), "legacy")
	require.NoError(t, internalrepo.ExportLegacy(legacy, &models.Dataset{Features: []string{"pb", "pe"}, Rows: []models.DatasetRow{
		{Meta: models.RowMeta{Security: "AAA", Date: "2020-01-01", FeatureCount: 2, Gain: 0.2}, Features: []float64{1, 2}, Label: models.LabelPositive, Weight: 1},
		{Meta: models.RowMeta{Security: "BBB", Date: "2020-01-01", FeatureCount: 2, Gain: -0.2}, Features: []float64{3, 4}, Label: models.LabelNegative, Weight: 1},
	}}))

	ctx := context.Background()
	e := rt.NewExperiment(&config.Experiment{Name: "imported", Features: []string{"base"}})
	n, err := e.ImportLegacy(ctx, legacy)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	ds, err := e.Datasets.Read(ctx, usecase.DatasetAll)
	require.NoError(t, err)
	require.Len(t, ds.Rows, 2)
	assert.Equal(t, "BBB", ds.Rows[1].Meta.Security)
	done, err := e.Steps.IsStepComplete(ctx, usecase.StepCollectData)
	require.NoError(t, err)
	assert.True(t, done)

	require.NoError(t, os.WriteFile(filepath.Join(legacy, internalrepo.LegacyLabelFile), []byte("1\n"), 0o644))
	other := rt.NewExperiment(&config.Experiment{Name: "broken", Features: []string{"base"}})
	_, err = other.ImportLegacy(ctx, legacy)
	assert.ErrorIs(t, err, models.ErrAlignment)
	assert.True(t, models.IsFatal(err))
}
