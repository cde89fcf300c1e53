package util

import (
	"fmt"
	"time"
)

const (
	DayLayout   = "2006-01-02"
	MonthLayout = "2006-01"
)

// ParseDate accepts YYYY-MM-DD or YYYY-MM. Month keys resolve to the first day.
func ParseDate(s string) (time.Time, error) {
	switch len(s) {
	case len(DayLayout):
		return time.Parse(DayLayout, s)
	case len(MonthLayout):
		return time.Parse(MonthLayout, s)
	default:
		return time.Time{}, fmt.Errorf("parse date %q: unsupported format", s)
	}
}

// IsMonthKey reports whether s is a YYYY-MM key.
func IsMonthKey(s string) bool {
	return len(s) == len(MonthLayout)
}

// MonthOf returns the YYYY-MM prefix of an ISO date.
func MonthOf(date string) string {
	if len(date) < len(MonthLayout) {
		return date
	}
	return date[:len(MonthLayout)]
}

// DaysBetween returns to - from in whole days.
func DaysBetween(from, to string) (int, error) {
	f, err := ParseDate(from)
	if err != nil {
		return 0, err
	}
	t, err := ParseDate(to)
	if err != nil {
		return 0, err
	}
	return int(t.Sub(f).Hours() / 24), nil
}

// AddMonths shifts an ISO date by n months, keeping its format.
// Day-level dates are clamped to the end of the target month.
func AddMonths(date string, n int) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	if IsMonthKey(date) {
		return first.Format(MonthLayout), nil
	}
	day := t.Day()
	if last := daysIn(first); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC).Format(DayLayout), nil
}

// MonthRange lists YYYY-MM keys from start to end inclusive.
func MonthRange(start, end string) ([]string, error) {
	s, err := ParseDate(MonthOf(start))
	if err != nil {
		return nil, err
	}
	e, err := ParseDate(MonthOf(end))
	if err != nil {
		return nil, err
	}
	var out []string
	for t := s; !t.After(e); t = t.AddDate(0, 1, 0) {
		out = append(out, t.Format(MonthLayout))
	}
	return out, nil
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
