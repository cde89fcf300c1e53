package usecase

import (
	"context"
	"math"
	"testing"

	"QuantPipe/internal/domain/models"
	"QuantPipe/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveLabel(t *testing.T) {
	l, w := DeriveLabel(-0.2, -0.1, 0.1, 1)
	assert.Equal(t, models.LabelNegative, l)
	assert.InDelta(t, 0.1, w, 1e-12)

	l, w = DeriveLabel(0.3, -0.1, 0.1, 2)
	assert.Equal(t, models.LabelPositive, l)
	assert.InDelta(t, 0.04, w, 1e-12)

	l, w = DeriveLabel(0.05, -0.1, 0.1, 1)
	assert.Equal(t, models.LabelIndeterminate, l)
	assert.Zero(t, w)

	l, _ = DeriveLabel(0, 0, 0, 1)
	assert.Equal(t, models.LabelNegative, l, "gain equal to max_neg is negative")
}

func assemblerFixture() *memSeries {
	store := newMemSeries()
	store.put("gain", "AAA",
		pt("2019-12-01", 0.5),
		pt("2020-01-01", 0.2),
		pt("2020-02-01", -0.3),
		pt("2020-03-01", 0.01),
		pt("2020-04-01", 0),
		pt("2020-05-01", 0))
	store.put("gain", "BBB", pt("2020-01-01", 0.4), pt("2020-02-01", 0.1))
	store.put("f1", "AAA", pt("2019-11-01", 1), pt("2020-01-01", 2))
	store.put("f2", "AAA", pt("2020-01-01", 5))
	store.put("f1", "BBB", pt("2020-01-01", 7))
	return store
}

func TestAssembleRowsAndCounters(t *testing.T) {
	store := assemblerFixture()
	j := NewFeatureJoiner(store, []string{"f1", "f2"}, models.RangeTable{}, 150, 0.5)
	metrics := newMemMetrics()
	res, err := NewAssembler(store, j, metrics, nil).Assemble(context.Background(), AssembleParams{
		Label:       "gain",
		Securities:  []string{"AAA", "BBB", "CCC"},
		MinDate:     "2020-01-01",
		MaxDate:     "2020-12-31",
		MaxNeg:      0,
		MinPos:      0.05,
		WeightPower: 1,
		Workers:     3,
	})
	require.NoError(t, err)

	var keys []string
	for _, r := range res.Dataset.Rows {
		keys = append(keys, r.Meta.Security+"@"+r.Meta.Date)
	}
	assert.Equal(t, []string{
		"AAA@2020-01-01", "AAA@2020-02-01", "AAA@2020-03-01", "AAA@2020-04-01", "AAA@2020-05-01",
		"BBB@2020-01-01", "BBB@2020-02-01",
	}, keys)
	assert.Equal(t, []string{"f1", "f2"}, res.Dataset.Features)

	rows := res.Dataset.Rows
	assert.Equal(t, models.LabelPositive, rows[0].Label)
	assert.Equal(t, models.LabelNegative, rows[1].Label)
	assert.Equal(t, models.LabelIndeterminate, rows[2].Label)
	assert.True(t, rows[3].Meta.Live)
	assert.True(t, rows[4].Meta.Live)
	assert.False(t, rows[2].Meta.Live)
	assert.Equal(t, 2, res.LiveRows)
	assert.Equal(t, 1, rows[5].Meta.FeatureCount)

	assert.Equal(t, 1, res.Skips[models.SkipMinDate])
	assert.Equal(t, 1, res.Skips[models.SkipLabelFile])
	assert.Equal(t, 1, res.Skips[models.SkipNegPos])
	assert.Equal(t, 1, res.Skips[models.SkipFeatureFile])
	assert.Equal(t, len(rows), metrics.rows[stageCollect])
}

func TestAssembleIsDeterministicAcrossWorkers(t *testing.T) {
	store := assemblerFixture()
	run := func(workers int) *models.Dataset {
		j := NewFeatureJoiner(store, []string{"f1", "f2"}, models.RangeTable{}, 150, 0.5)
		res, err := NewAssembler(store, j, nil, nil).Assemble(context.Background(), AssembleParams{
			Label: "gain", MinDate: "0000", MaxDate: "9999", MinPos: 0.05, WeightPower: 1, Workers: workers,
		})
		require.NoError(t, err)
		return res.Dataset
	}
	serial, parallel := run(1).Rows, run(4).Rows
	require.NotEmpty(t, serial)
	hasMissing := false
	for _, r := range serial {
		for _, v := range r.Features {
			hasMissing = hasMissing || math.IsNaN(v)
		}
	}
	assert.True(t, hasMissing, "fixture should carry missing features")
	assert.Equal(t, comparableRows(serial), comparableRows(parallel))
}

func filterFixture() (*memSeries, *models.Dataset) {
	store := newMemSeries()
	store.put("raw-price", "AAA", pt("2020-01-01", 3), pt("2020-02-01", 20))
	store.put("raw-price", "BBB", pt("2020-01-01", 50), pt("2020-02-01", 50))
	store.put("holes", "AAA", pt("2020-01-01", 0), pt("2020-02-01", 0))
	store.put("holes", "BBB", pt("2020-01-01", 0.5))
	ds := &models.Dataset{Features: []string{"f"}, Rows: []models.DatasetRow{
		{Meta: models.RowMeta{Security: "AAA", Date: "2020-01-01"}, Label: models.LabelPositive},
		{Meta: models.RowMeta{Security: "AAA", Date: "2020-02-01"}, Label: models.LabelIndeterminate},
		{Meta: models.RowMeta{Security: "BBB", Date: "2020-01-01"}, Label: models.LabelNegative},
		{Meta: models.RowMeta{Security: "BBB", Date: "2020-02-01"}, Label: models.LabelPositive},
	}}
	return store, ds
}

func TestFilterSetFirstFailingReasonWins(t *testing.T) {
	store, ds := filterFixture()
	var spec FilterSpec
	spec.PriceFeature, spec.HolesFeature = "raw-price", "holes"
	require.NoError(t, spec.ParseExpr("min_raw_price=10 + max_holes=0.1 + membership=sp500 + remove_indeterminate=true"))
	assert.True(t, spec.Membership)

	membership := models.Membership{
		"AAA": {{Start: "2019-01-01", End: "2021-01-01"}},
		"BBB": {{Start: "2019-01-01", End: "2021-01-01"}},
	}
	fs, err := NewFilterSet(spec, store, membership)
	require.NoError(t, err)
	assert.Equal(t, []string{FilterMinRawPrice, FilterMaxHoles, FilterMembership, FilterIndeterminate}, fs.Reasons())

	out, stats, err := fs.Apply(context.Background(), ds)
	require.NoError(t, err)
	assert.Empty(t, out.Rows)
	assert.Equal(t, models.SkipStats{
		FilterMinRawPrice:   1,
		FilterMaxHoles:      2,
		FilterMembership:    0,
		FilterIndeterminate: 1,
	}, stats)
}

func TestFilterSetMembershipAndPassThrough(t *testing.T) {
	_, ds := filterFixture()
	fs, err := NewFilterSet(FilterSpec{Membership: true}, nil, models.Membership{
		"BBB": {{Start: "2020-02-01", End: "2020-03-01"}},
	})
	require.NoError(t, err)
	out, stats, err := fs.Apply(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, "BBB", out.Rows[0].Meta.Security)
	assert.Equal(t, 3, stats[FilterMembership])

	none, err := NewFilterSet(FilterSpec{}, nil, nil)
	require.NoError(t, err)
	out, _, err = none.Apply(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, ds.Rows, out.Rows)
}

func TestFilterSetMissingPriceIsFatal(t *testing.T) {
	store, ds := filterFixture()
	ds.Rows = append(ds.Rows, models.DatasetRow{Meta: models.RowMeta{Security: "BBB", Date: "2020-03-01"}})
	lo := 1.0
	fs, err := NewFilterSet(FilterSpec{MinRawPrice: &lo, PriceFeature: "raw-price"}, store, nil)
	require.NoError(t, err)
	_, _, err = fs.Apply(context.Background(), ds)
	require.ErrorIs(t, err, models.ErrAlignment)
}

func TestFilterSpecFromConfig(t *testing.T) {
	spec, err := FilterSpecFromConfig(config.FilterConfig{Expr: "max_volatility_perc=0.5 + min_marketcap=100", PriceFeature: "raw-price"})
	require.NoError(t, err)
	require.NotNil(t, spec.MaxVolatility)
	assert.Equal(t, 0.5, *spec.MaxVolatility)
	assert.Equal(t, 100.0, *spec.MinMarketcap)
	assert.Equal(t, "raw-price", spec.PriceFeature)

	_, err = FilterSpecFromConfig(config.FilterConfig{Expr: "bogus=1"})
	assert.Error(t, err)
	_, err = FilterSpecFromConfig(config.FilterConfig{Expr: "min_raw_price"})
	assert.Error(t, err)

	_, err = NewFilterSet(FilterSpec{Membership: true}, nil, nil)
	assert.Error(t, err)
}
