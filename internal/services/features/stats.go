package features

import (
	"math"
	"sort"

	"QuantPipe/internal/domain/models"

	"gonum.org/v1/gonum/stat"
)

// YearStats describes one feature over one calendar year.
type YearStats struct {
	Year  string
	Count int
	Total int
	Avg   float64
	Min   float64
	P1    float64
	P10   float64
	P25   float64
	P50   float64
	P75   float64
	P90   float64
	P99   float64
	Max   float64
}

// Coverage is the fraction of non-missing values.
func (s YearStats) Coverage() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Count) / float64(s.Total)
}

// StatsAccumulator collects values of one feature across securities.
type StatsAccumulator struct {
	values  map[string][]float64
	missing map[string]int
}

func NewStatsAccumulator() *StatsAccumulator {
	return &StatsAccumulator{values: map[string][]float64{}, missing: map[string]int{}}
}

// Add folds a series in; NaN values count as missing. Undated series are ignored.
func (a *StatsAccumulator) Add(s *models.DatedSeries) {
	if s == nil || s.Undated() {
		return
	}
	for _, p := range s.Points {
		if len(p.Date) < 4 {
			continue
		}
		year := p.Date[:4]
		if math.IsNaN(p.Value) {
			a.missing[year]++
			continue
		}
		a.values[year] = append(a.values[year], p.Value)
	}
}

// Years returns per-year stats in ascending year order. Percentiles take
// the sorted value at index floor(n*p).
func (a *StatsAccumulator) Years() []YearStats {
	years := map[string]struct{}{}
	for y := range a.values {
		years[y] = struct{}{}
	}
	for y := range a.missing {
		years[y] = struct{}{}
	}
	out := make([]YearStats, 0, len(years))
	for y := range years {
		v := a.values[y]
		ys := YearStats{Year: y, Count: len(v), Total: len(v) + a.missing[y]}
		if len(v) > 0 {
			sort.Float64s(v)
			at := func(p float64) float64 { return v[int(float64(len(v))*p)] }
			ys.Avg = stat.Mean(v, nil)
			ys.Min, ys.Max = v[0], v[len(v)-1]
			ys.P1, ys.P10, ys.P25, ys.P50 = at(0.01), at(0.1), at(0.25), at(0.5)
			ys.P75, ys.P90, ys.P99 = at(0.75), at(0.9), at(0.99)
		}
		out = append(out, ys)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

// Summarize collapses yearly stats into a range-table row: mean coverage (in
// percent), mean p1 and mean p99 over years with non-zero coverage.
func Summarize(feature string, years []YearStats) (models.FeatureStats, bool) {
	var cov, p1, p99 []float64
	for _, y := range years {
		if y.Count == 0 {
			continue
		}
		cov = append(cov, y.Coverage()*100)
		p1 = append(p1, y.P1)
		p99 = append(p99, y.P99)
	}
	if len(cov) == 0 {
		return models.FeatureStats{}, false
	}
	return models.FeatureStats{
		Feature:  feature,
		Coverage: stat.Mean(cov, nil),
		P1:       stat.Mean(p1, nil),
		P99:      stat.Mean(p99, nil),
	}, true
}
