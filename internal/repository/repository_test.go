package repository

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"QuantPipe/internal/domain/models"
	"QuantPipe/pkg/cache"
	pkgch "QuantPipe/pkg/clickhouse"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileSeriesStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "pe", "AAPL"), "2020-01-01\t10\n2020-04-01\tnan\n")
	writeFile(t, filepath.Join(dir, "pe", "MSFT"), "2020-04-01\t1\n2020-01-01\t2\n")
	writeFile(t, filepath.Join(dir, "sector-tech", "AAPL"), "*\t1\n")

	store := NewFileSeriesStore(dir)
	ds, err := store.Load(ctx, "pe", "AAPL")
	require.NoError(t, err)
	require.Len(t, ds.Points, 2)
	assert.True(t, math.IsNaN(ds.Points[1].Value))

	_, err = store.Load(ctx, "pe", "MSFT")
	assert.ErrorIs(t, err, models.ErrUnsortedSeries)
	assert.True(t, models.IsFatal(err))

	_, err = store.Load(ctx, "pe", "GOOG")
	assert.ErrorIs(t, err, models.ErrSeriesNotFound)

	static, err := store.Load(ctx, "sector-tech", "AAPL")
	require.NoError(t, err)
	assert.True(t, static.Undated())

	secs, err := store.Securities(ctx, "pe")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, secs)

	require.NoError(t, store.Write(ctx, &models.DatedSeries{Feature: "holes", Security: "AAPL",
		Points: []models.SeriesPoint{{Date: "2020-01-02", Value: 0.25}}}))
	b, err := os.ReadFile(filepath.Join(dir, "holes", "AAPL"))
	require.NoError(t, err)
	assert.Equal(t, "2020-01-02\t0.25\n", string(b))
}

func TestCachedSeriesStoreMemoizesNotFound(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "pe", "AAPL"), "2020-01-01\t10\n")
	store := NewCachedSeriesStore(NewFileSeriesStore(dir))

	_, err := store.Load(ctx, "pe", "GOOG")
	assert.ErrorIs(t, err, models.ErrSeriesNotFound)
	a, err := store.Load(ctx, "pe", "AAPL")
	require.NoError(t, err)

	// Removing the file does not affect memoized results.
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "pe")))
	b, err := store.Load(ctx, "pe", "AAPL")
	require.NoError(t, err)
	assert.Same(t, a, b)

	store.Reset()
	_, err = store.Load(ctx, "pe", "AAPL")
	assert.ErrorIs(t, err, models.ErrSeriesNotFound)
}

func TestClickHouseSeriesStore(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := NewClickHouseSeriesStore(pkgch.NewFromDB(db), "quantpipe.series")

	q := regexp.QuoteMeta("SELECT date, value FROM quantpipe.series FINAL WHERE feature = ? AND security = ? ORDER BY date ASC")
	mock.ExpectQuery(q).WithArgs("pe", "AAPL").
		WillReturnRows(sqlmock.NewRows([]string{"date", "value"}).
			AddRow("2020-01-01", 10.0).
			AddRow("2020-04-01", 12.0))
	mock.ExpectQuery(q).WithArgs("pe", "GOOG").
		WillReturnRows(sqlmock.NewRows([]string{"date", "value"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT security FROM quantpipe.series")).WithArgs("pe").
		WillReturnRows(sqlmock.NewRows([]string{"security"}).AddRow("AAPL").AddRow("MSFT"))

	ds, err := store.Load(ctx, "pe", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, []string{"2020-01-01", "2020-04-01"}, ds.Dates())

	_, err = store.Load(ctx, "pe", "GOOG")
	assert.ErrorIs(t, err, models.ErrSeriesNotFound)

	secs, err := store.Securities(ctx, "pe")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, secs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func sampleDataset() *models.Dataset {
	return &models.Dataset{
		Features: []string{"pe", "pb"},
		Rows: []models.DatasetRow{
			{Meta: models.RowMeta{Security: "AAPL", Date: "2020-01-01", FeatureCount: 2, Gain: 0.2}, Features: []float64{1, 2}, Label: models.LabelPositive, Weight: 0.2},
			{Meta: models.RowMeta{Security: "MSFT", Date: "2020-01-01", FeatureCount: 1, Gain: -0.1}, Features: []float64{math.NaN(), 3}, Label: models.LabelNegative, Weight: 0.1},
		},
	}
}

func TestFileDatasetStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewFileDatasetStore(t.TempDir())

	ok, err := store.Exists(ctx, "train")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Write(ctx, "train", sampleDataset()))
	got, err := store.Read(ctx, "train")
	require.NoError(t, err)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, []string{"pe", "pb"}, got.Features)
	assert.True(t, math.IsNaN(got.Rows[1].Features[0]))
	assert.Equal(t, 3.0, got.Rows[1].Features[1])
	assert.Equal(t, "MSFT", got.Rows[1].Meta.Security)
}

func TestLegacyImportDetectsMisalignment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ExportLegacy(dir, sampleDataset()))

	ds, err := ImportLegacy(dir, []string{"pe", "pb"})
	require.NoError(t, err)
	require.Len(t, ds.Rows, 2)
	assert.Equal(t, models.LabelNegative, ds.Rows[1].Label)
	assert.True(t, math.IsNaN(ds.Rows[1].Features[0]))

	// Drop one metadata line: the streams no longer line up.
	meta := filepath.Join(dir, LegacyMetaFile)
	b, err := os.ReadFile(meta)
	require.NoError(t, err)
	lines := strings.SplitAfter(string(b), "\n")
	require.NoError(t, os.WriteFile(meta, []byte(lines[0]), 0o644))

	_, err = ImportLegacy(dir, []string{"pe", "pb"})
	assert.ErrorIs(t, err, models.ErrAlignment)
	assert.True(t, models.IsFatal(err))
}

func TestFileModelStorePeriods(t *testing.T) {
	ctx := context.Background()
	store := NewFileModelStore(t.TempDir())

	for _, k := range []models.ModelKey{
		{Period: "2020-07", TrainWindow: 6},
		{Period: "2020-01", TrainWindow: 6},
		{Period: "2020-03", TrainWindow: -1},
	} {
		require.NoError(t, store.Save(ctx, k, []byte(`{}`)))
	}

	periods, err := store.Periods(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, []string{"2020-01", "2020-07"}, periods)

	periods, err = store.Periods(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"2020-03"}, periods)

	_, err = store.Load(ctx, models.ModelKey{Period: "2020-02", TrainWindow: 6})
	assert.ErrorIs(t, err, models.ErrModelNotFound)
}

func TestFileStepStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	steps := NewFileStepStore(dir)

	done, err := steps.IsStepComplete(ctx, "collect_data")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, steps.MarkStepComplete(ctx, "collect_data"))
	require.NoError(t, steps.MarkStepComplete(ctx, "train:2020-07:6"))
	_, err = os.Stat(filepath.Join(dir, "DONE-collect_data"))
	require.NoError(t, err)

	done, err = steps.IsStepComplete(ctx, "collect_data")
	require.NoError(t, err)
	assert.True(t, done)

	require.NoError(t, steps.ClearStep(ctx, "collect_data"))
	require.NoError(t, steps.ClearStep(ctx, "collect_data"))
	done, _ = steps.IsStepComplete(ctx, "collect_data")
	assert.False(t, done)

	require.NoError(t, steps.ClearAll(ctx))
	done, _ = steps.IsStepComplete(ctx, "train:2020-07:6")
	assert.False(t, done)
}

func TestCacheStepStoreMemory(t *testing.T) {
	ctx := context.Background()
	steps := NewCacheStepStore(cache.NewMemoryCache(), "exp1")

	require.NoError(t, steps.MarkStepComplete(ctx, "predict"))
	done, err := steps.IsStepComplete(ctx, "predict")
	require.NoError(t, err)
	assert.True(t, done)

	other := NewCacheStepStore(cache.NewMemoryCache(), "exp2")
	done, _ = other.IsStepComplete(ctx, "predict")
	assert.False(t, done)

	require.NoError(t, steps.ClearAll(ctx))
	done, _ = steps.IsStepComplete(ctx, "predict")
	assert.False(t, done)
}

func TestCacheStepStoreRedis(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	steps := NewCacheStepStore(cache.NewRedisCacheFromClient(client, "quantpipe"), "exp1")

	mock.ExpectExists("quantpipe:step:exp1:analyze").SetVal(0)
	mock.Regexp().ExpectSet("quantpipe:step:exp1:analyze", `.+`, 0).SetVal("OK")
	mock.ExpectExists("quantpipe:step:exp1:analyze").SetVal(1)
	mock.ExpectDel("quantpipe:step:exp1:analyze").SetVal(1)

	done, err := steps.IsStepComplete(ctx, "analyze")
	require.NoError(t, err)
	assert.False(t, done)
	require.NoError(t, steps.MarkStepComplete(ctx, "analyze"))
	done, err = steps.IsStepComplete(ctx, "analyze")
	require.NoError(t, err)
	assert.True(t, done)
	require.NoError(t, steps.ClearStep(ctx, "analyze"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPredictionFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result")
	sink, err := NewFilePredictionSink(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, &models.PredictionBlock{Date: "2020-01", Rows: []models.Prediction{
		{Security: "AAPL", Gain: 0.5, Score: 0.9},
		{Security: "MSFT", Gain: -0.25, Score: 0.9},
		{Security: "GOOG", Gain: 0.1, Score: 0.1},
	}}))
	require.NoError(t, sink.Write(ctx, &models.PredictionBlock{Date: "2020-02"}))
	require.NoError(t, sink.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "date: 2020-01\n\tAAPL\t0.500000\t0.900000\n"))

	blocks, err := ReadPredictionFile(path)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "MSFT", blocks[0].Rows[1].Security)
	assert.Empty(t, blocks[1].Rows)

	_, err = ParsePredictions(strings.NewReader("date: 2020-01\n\tA\t0\t0.1\n\tB\t0\t0.2\n"))
	assert.ErrorIs(t, err, models.ErrAlignment)
}

func TestParseMembership(t *testing.T) {
	m, err := ParseMembership(strings.NewReader("AAPL\t2000-01-01,2005-01-01 2010-01-01,2020-01-01\n"))
	require.NoError(t, err)
	assert.True(t, m.Contains("AAPL", "2000-01-01"))
	assert.False(t, m.Contains("AAPL", "2005-01-01"))
	assert.False(t, m.Contains("AAPL", "2007-06-01"))
	assert.True(t, m.Contains("AAPL", "2019-12-31"))
	assert.False(t, m.Contains("MSFT", "2019-12-31"))

	_, err = ParseMembership(strings.NewReader("AAPL\t2000-01-01,2005-01-01 2004-01-01,2020-01-01\n"))
	assert.ErrorIs(t, err, models.ErrMembershipOrder)

	_, err = ParseMembership(strings.NewReader("AAA\t2015-01-01,2016-01-01\nAAA\t2010-01-01,2012-01-01\n"))
	assert.ErrorIs(t, err, models.ErrMembershipOrder, "a security on two lines")
}

func TestRangeTableRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats")
	require.NoError(t, WriteRangeTable(path, []models.FeatureStats{{Feature: "pe", Coverage: 95.5, P1: -3, P99: 40}}))
	stats, err := ReadRangeTable(path)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 95.5, stats[0].Coverage)

	table, err := models.NewRangeTable([]string{"pe", "price-gain-12"}, stats)
	require.NoError(t, err)
	assert.Equal(t, models.FeatureRange{Low: -3, High: 40}, table["pe"])
	assert.True(t, math.IsInf(table["price-gain-12"].High, 1))

	_, err = models.NewRangeTable([]string{"roe"}, stats)
	assert.Error(t, err)
}

func TestReadCalendarRejectsUnsorted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal")
	writeFile(t, path, "2020-01-02\n2020-01-03\n")
	days, err := ReadCalendar(path)
	require.NoError(t, err)
	assert.Len(t, days, 2)

	writeFile(t, path, "2020-01-03\n2020-01-02\n")
	_, err = ReadCalendar(path)
	assert.ErrorIs(t, err, models.ErrUnsortedCalendar)
}

func TestFileExperimentStore(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	s := NewFileExperimentStore(filepath.Join(base, "demo"))

	require.NoError(t, s.WriteFeatureList(ctx, []string{"a", "b"}))
	feats, err := s.ReadFeatureList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, feats)

	w, err := s.CreateArtifact(ctx, "analyze/topbot.tsv")
	require.NoError(t, err)
	_, err = w.Write([]byte("year\n"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(s.Dir(), AnalyzeDir, "topbot.tsv"))
	assert.True(t, os.IsNotExist(err), "artifact appears only on close")
	require.NoError(t, w.Close())
	b, err := os.ReadFile(filepath.Join(s.Dir(), AnalyzeDir, "topbot.tsv"))
	require.NoError(t, err)
	assert.Equal(t, "year\n", string(b))

	_, err = s.ReadResults(ctx)
	assert.Error(t, err)

	sink, err := s.OpenResults(ctx)
	require.NoError(t, err)
	block := &models.PredictionBlock{Date: "2020-01", Rows: []models.Prediction{{Security: "AAA", Gain: 0.1, Score: 0.9}}}
	require.NoError(t, sink.Write(ctx, block))
	require.NoError(t, sink.Close())
	blocks, err := s.ReadResults(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "AAA", blocks[0].Rows[0].Security)

	names, err := ListExperiments(base)
	require.NoError(t, err)
	assert.Equal(t, []string{"demo"}, names)
	names, err = ListExperiments(filepath.Join(base, "missing"))
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFileReferenceStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "lists", "base"), "pe\n# comment\nroe\n")
	writeFile(t, filepath.Join(dir, "lists", "extra"), "pe\n")
	writeFile(t, filepath.Join(dir, "cal", "quarters"), "2020-03-31\n2020-06-30\n")
	writeFile(t, filepath.Join(dir, "market"), "2020-01-02\t0.05\n2020-02-03\t-0.01\n")

	s := NewFileReferenceStore(filepath.Join(dir, "lists"), "", filepath.Join(dir, "cal"), "", filepath.Join(dir, "market"))
	feats, err := s.FeatureGroups(ctx, []string{"base", "extra"})
	require.NoError(t, err)
	assert.Equal(t, []string{"pe", "roe", "pe"}, feats)

	stats, err := s.RangeStats(ctx)
	require.NoError(t, err)
	assert.Nil(t, stats)
	m, err := s.Membership(ctx)
	require.NoError(t, err)
	assert.Nil(t, m)

	cal, err := s.Calendar(ctx, "quarters")
	require.NoError(t, err)
	assert.Equal(t, []string{"2020-03-31", "2020-06-30"}, cal)

	gains, err := s.MarketGains(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"2020-01": 0.05, "2020-02": -0.01}, gains)
}

func TestReadMarketGainsRejectsDuplicateMonth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market")
	writeFile(t, path, "2020-01-02\t0.05\n2020-01-20\t0.01\n")
	_, err := ReadMarketGains(path)
	assert.ErrorIs(t, err, models.ErrAlignment)
}
