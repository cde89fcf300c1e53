package models

import "sort"

// Interval is a half-open [Start, End) date range.
type Interval struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Membership maps a security to its sorted, disjoint intervals.
type Membership map[string][]Interval

// Contains reports whether security is a member on date.
func (m Membership) Contains(security, date string) bool {
	ivs := m[security]
	// first interval ending after date
	i := sort.Search(len(ivs), func(i int) bool { return ivs[i].End > date })
	return i < len(ivs) && ivs[i].Start <= date
}
