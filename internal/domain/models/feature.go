package models

import (
	"fmt"
	"math"
	"strings"
)

// FeatureSpec names one feature column. Its dated/undated shape is resolved
// from the loaded series.
type FeatureSpec struct {
	Name string `json:"name" yaml:"name"`
}

// FeatureRange bounds accepted values; outside values count as missing.
type FeatureRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Unbounded accepts every value.
func Unbounded() FeatureRange {
	return FeatureRange{Low: math.Inf(-1), High: math.Inf(1)}
}

// FeatureStats is one row of the feature-range table.
type FeatureStats struct {
	Feature  string
	Coverage float64
	P1       float64
	P99      float64
}

// RangeTable maps feature name to its accepted range.
type RangeTable map[string]FeatureRange

// Range returns the bounds for feature, unbounded when absent.
func (t RangeTable) Range(feature string) FeatureRange {
	if r, ok := t[feature]; ok {
		return r
	}
	return Unbounded()
}

var unboundedMarkers = []string{"-gain-", "-egain-", "-logprice-", "-adjprice-", "-logadjprice-", "-logadjvolume-"}

// IsRangeExempt reports whether a feature is, by naming convention,
// never clipped to its percentile range.
func IsRangeExempt(feature string) bool {
	for _, m := range unboundedMarkers {
		if strings.Contains(feature, m) {
			return true
		}
	}
	return strings.HasPrefix(feature, "sector") || strings.HasPrefix(feature, "industry")
}

// NewRangeTable resolves the accepted range of every feature. A feature
// missing from stats must be exempt by naming convention.
func NewRangeTable(features []string, stats []FeatureStats) (RangeTable, error) {
	known := make(map[string]FeatureStats, len(stats))
	for _, s := range stats {
		known[s.Feature] = s
	}
	table := make(RangeTable, len(features))
	for _, f := range features {
		s, ok := known[f]
		switch {
		case ok:
			table[f] = FeatureRange{Low: s.P1, High: s.P99}
		case IsRangeExempt(f):
			table[f] = Unbounded()
		default:
			return nil, fmt.Errorf("no range info for feature %s", f)
		}
	}
	return table, nil
}
