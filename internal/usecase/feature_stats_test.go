package usecase

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"QuantPipe/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureStatsCompute(t *testing.T) {
	store := newMemSeries()
	store.put("pe", "AAA", pt("2020-01-01", 1), pt("2020-02-01", 2), pt("2020-03-01", math.NaN()), pt("2021-01-01", 4))
	store.put("pe", "BBB", pt("2020-01-01", 3))
	store.put("blank", "AAA", pt("2020-01-01", math.NaN()))
	store.put("sector", "AAA", pt(models.UndatedKey, 7))

	metrics := newMemMetrics()
	res, err := NewFeatureStatsRunner(store, metrics, nil).Compute(context.Background(), []string{"pe", "blank", "sector"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"blank", "sector"}, res.Empty)
	require.Len(t, res.Stats, 1)
	assert.Equal(t, "pe", res.Stats[0].Feature)
	assert.InDelta(t, (75.0+100.0)/2, res.Stats[0].Coverage, 1e-9)

	require.Len(t, res.Info, 3)
	assert.Equal(t, "blank", res.Info[0].Feature)
	assert.Equal(t, 1, metrics.rows[stageFeatureStats])

	var buf bytes.Buffer
	require.NoError(t, WriteFeatureInfo(&buf, res.Info[1]))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "pe", lines[0])
	assert.Equal(t, InfoHeader, lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "2020\t3\t4\t75.00%\t2.000000\t1.000000"), lines[2])

	buf.Reset()
	require.NoError(t, WriteFeatureInfo(&buf, res.Info[0]))
	assert.Contains(t, buf.String(), "2020\t0\t1\t0.00%\t-")
}

func TestComputeHoles(t *testing.T) {
	store := newMemSeries()
	store.put("raw-price", "AAA", pt("2020-01-02", 1), pt("2020-01-06", 1))
	store.put("raw-price", "BBB", pt("2020-01-03", 1))
	days := []string{"2020-01-01", "2020-01-02", "2020-01-03", "2020-01-06"}

	out := newMemSeries()
	n, err := NewFeatureStatsRunner(store, nil, nil).ComputeHoles(context.Background(), out, HolesParams{
		Source: "raw-price", Target: "holes", TradingDays: days, Window: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	aaa, err := out.Load(context.Background(), "holes", "AAA")
	require.NoError(t, err)
	assert.Equal(t, []models.SeriesPoint{pt("2020-01-02", 0), pt("2020-01-03", 0.5), pt("2020-01-06", 0.5)}, aaa.Points)

	_, err = NewFeatureStatsRunner(store, nil, nil).ComputeHoles(context.Background(), out, HolesParams{
		Source: "raw-price", Target: "holes", TradingDays: []string{"2020-01-02", "2020-01-01"}, Window: 2,
	})
	require.ErrorIs(t, err, models.ErrUnsortedCalendar)
}
