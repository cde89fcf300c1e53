package models

import "fmt"

// UndatedKey is the sentinel date of a single-entry static attribute series.
const UndatedKey = "*"

type SeriesPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// DatedSeries is one feature (or label) for one security, ascending by date.
type DatedSeries struct {
	Security string        `json:"security"`
	Feature  string        `json:"feature"`
	Points   []SeriesPoint `json:"points"`
}

// Undated reports whether the series is a static attribute.
func (s *DatedSeries) Undated() bool {
	return len(s.Points) == 1 && s.Points[0].Date == UndatedKey
}

// Validate asserts strictly ascending dates and a consistent shape.
// It never sorts.
func (s *DatedSeries) Validate() error {
	for i, p := range s.Points {
		if p.Date == UndatedKey {
			if len(s.Points) != 1 {
				return fmt.Errorf("%s/%s: %w", s.Feature, s.Security, ErrAmbiguousFeature)
			}
			continue
		}
		if i > 0 && p.Date <= s.Points[i-1].Date {
			return fmt.Errorf("%s/%s at %s: %w", s.Feature, s.Security, p.Date, ErrUnsortedSeries)
		}
	}
	return nil
}

// Dates returns the series dates in order.
func (s *DatedSeries) Dates() []string {
	out := make([]string, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Date
	}
	return out
}

// LiveRegionStart returns the index of the first point of the trailing
// contiguous zero-valued block, or len(Points) when the tail is non-zero.
func (s *DatedSeries) LiveRegionStart() int {
	i := len(s.Points)
	for i > 0 && s.Points[i-1].Value == 0 {
		i--
	}
	return i
}
