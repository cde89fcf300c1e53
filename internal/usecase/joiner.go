package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"QuantPipe/internal/domain/models"
	drepo "QuantPipe/internal/domain/repository"
	"QuantPipe/pkg/util"
)

// FeatureJoiner resolves as-of feature vectors for (security, date) pairs.
type FeatureJoiner struct {
	store    drepo.SeriesStore
	features []string
	ranges   models.RangeTable
	window   int
	minCount int
}

// NewFeatureJoiner builds a joiner over features. window is the maximum
// staleness in days; a vector needs ceil(len(features)*minPerc) resolved
// features to be accepted.
func NewFeatureJoiner(store drepo.SeriesStore, features []string, ranges models.RangeTable, window int, minPerc float64) *FeatureJoiner {
	return &FeatureJoiner{
		store:    store,
		features: features,
		ranges:   ranges,
		window:   window,
		minCount: MinFeatureCount(len(features), minPerc),
	}
}

// MinFeatureCount returns ceil(n*perc).
func MinFeatureCount(n int, perc float64) int {
	return int(math.Ceil(float64(n)*perc - 1e-9))
}

func (j *FeatureJoiner) Features() []string { return j.features }

func (j *FeatureJoiner) MinCount() int { return j.minCount }

// Load reads every feature series of one security. A missing series leaves
// a nil slot and is counted once under feature_file.
func (j *FeatureJoiner) Load(ctx context.Context, security string, stats models.SkipStats) ([]*models.DatedSeries, error) {
	out := make([]*models.DatedSeries, len(j.features))
	for i, f := range j.features {
		s, err := j.store.Load(ctx, f, security)
		if errors.Is(err, models.ErrSeriesNotFound) {
			stats.Inc(models.SkipFeatureFile)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load feature %s/%s: %w", f, security, err)
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// Vector joins pre-loaded series at date. It returns the vector, the number
// of resolved features and whether coverage reached the threshold; rejected
// vectors are counted under min_perc.
func (j *FeatureJoiner) Vector(series []*models.DatedSeries, date string, stats models.SkipStats) ([]float64, int, bool, error) {
	vec := make([]float64, len(j.features))
	count := 0
	for i, f := range j.features {
		vec[i] = math.NaN()
		if series[i] == nil {
			continue
		}
		v, reason, err := Lookup(series[i], date, j.window, j.ranges.Range(f))
		if err != nil {
			return nil, 0, false, fmt.Errorf("join %s at %s: %w", f, date, err)
		}
		if reason != "" {
			stats.Inc(reason)
			continue
		}
		vec[i] = v
		count++
	}
	if count < j.minCount {
		stats.Inc(models.SkipMinPerc)
		return vec, count, false, nil
	}
	return vec, count, true, nil
}

// Join loads and joins a single (security, date) pair.
func (j *FeatureJoiner) Join(ctx context.Context, security, date string, stats models.SkipStats) ([]float64, int, bool, error) {
	series, err := j.Load(ctx, security, stats)
	if err != nil {
		return nil, 0, false, err
	}
	return j.Vector(series, date, stats)
}

// Lookup returns the value of the latest point dated on or before date.
// Undated series always resolve. A non-empty reason names why the value is
// missing: index, window, 1_perc or 99_perc.
func Lookup(s *models.DatedSeries, date string, window int, rng models.FeatureRange) (float64, string, error) {
	var v float64
	if s.Undated() {
		v = s.Points[0].Value
	} else {
		i := sort.Search(len(s.Points), func(i int) bool { return s.Points[i].Date > date }) - 1
		if i < 0 {
			return math.NaN(), models.SkipIndex, nil
		}
		delta, err := util.DaysBetween(s.Points[i].Date, date)
		if err != nil {
			return math.NaN(), "", err
		}
		if delta > window {
			return math.NaN(), models.SkipWindow, nil
		}
		v = s.Points[i].Value
	}
	if v < rng.Low {
		return math.NaN(), models.Skip1Perc, nil
	}
	if v > rng.High {
		return math.NaN(), models.Skip99Perc, nil
	}
	return v, "", nil
}
