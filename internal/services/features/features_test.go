package features

import (
	"fmt"
	"math"
	"testing"

	"QuantPipe/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsAccumulatorYears(t *testing.T) {
	acc := NewStatsAccumulator()
	var pts []models.SeriesPoint
	for i := 0; i < 100; i++ {
		pts = append(pts, models.SeriesPoint{Date: fmt.Sprintf("2020-01-%02d", i%28+1), Value: float64(i)})
	}
	// Dates repeat across securities; the accumulator does not care.
	acc.Add(&models.DatedSeries{Points: pts[:50]})
	acc.Add(&models.DatedSeries{Points: pts[50:]})
	acc.Add(&models.DatedSeries{Points: []models.SeriesPoint{{Date: "2021-03-01", Value: math.NaN()}}})
	acc.Add(&models.DatedSeries{Points: []models.SeriesPoint{{Date: models.UndatedKey, Value: 3}}})

	years := acc.Years()
	require.Len(t, years, 2)
	y := years[0]
	assert.Equal(t, "2020", y.Year)
	assert.Equal(t, 100, y.Count)
	assert.Equal(t, 1.0, y.Coverage())
	assert.Equal(t, 1.0, y.P1)
	assert.Equal(t, 50.0, y.P50)
	assert.Equal(t, 99.0, y.P99)
	assert.Equal(t, 49.5, y.Avg)

	assert.Equal(t, "2021", years[1].Year)
	assert.Equal(t, 0.0, years[1].Coverage())

	fs, ok := Summarize("f", years)
	require.True(t, ok)
	assert.Equal(t, 100.0, fs.Coverage)
	assert.Equal(t, 1.0, fs.P1)
	assert.Equal(t, 99.0, fs.P99)
}

func TestHoleRatios(t *testing.T) {
	days := []string{"d1", "d2", "d3", "d4", "d5"}
	got := HoleRatios(days, []string{"d2", "d4"}, 2)
	want := []float64{0, 0.5, 0.5, 0.5}
	require.Len(t, got, len(want))
	for i, p := range got {
		assert.Equal(t, days[i+1], p.Date)
		assert.InDelta(t, want[i], p.Value, 1e-12, p.Date)
	}
	assert.Nil(t, HoleRatios(days, nil, 2))
}
