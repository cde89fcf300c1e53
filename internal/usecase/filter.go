package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"QuantPipe/internal/domain/models"
	drepo "QuantPipe/internal/domain/repository"
	"QuantPipe/pkg/config"
)

// Filter reasons, in evaluation order.
const (
	FilterMinRawPrice    = "min_raw_price"
	FilterMaxVolatility  = "max_volatility"
	FilterMinVolumedPerc = "min_volumed_perc"
	FilterMinMarketcap   = "min_marketcap"
	FilterMaxHoles       = "max_holes"
	FilterMembership     = "membership"
	FilterIndeterminate  = "remove_indeterminate"
)

// FilterSpec selects the active metadata filters. Nil thresholds are off.
type FilterSpec struct {
	MinRawPrice         *float64
	MaxVolatility       *float64
	MinVolumedPerc      *float64
	MinMarketcap        *float64
	MaxHoles            *float64
	Membership          bool
	RemoveIndeterminate bool

	PriceFeature      string
	VolatilityFeature string
	VolumedFeature    string
	MarketcapFeature  string
	HolesFeature      string
}

// FilterSpecFromConfig converts the YAML form. A non-empty Expr is applied
// on top of the structured fields.
func FilterSpecFromConfig(c config.FilterConfig) (FilterSpec, error) {
	spec := FilterSpec{
		MinRawPrice:         c.MinRawPrice,
		MaxVolatility:       c.MaxVolatility,
		MinVolumedPerc:      c.MinVolumedPerc,
		MinMarketcap:        c.MinMarketcap,
		MaxHoles:            c.MaxHoles,
		Membership:          c.Membership,
		RemoveIndeterminate: c.RemoveIndeterminate,
		PriceFeature:        c.PriceFeature,
		VolatilityFeature:   c.VolatilityFeature,
		VolumedFeature:      c.VolumedFeature,
		MarketcapFeature:    c.MarketcapFeature,
		HolesFeature:        c.HolesFeature,
	}
	if strings.TrimSpace(c.Expr) == "" {
		return spec, nil
	}
	if err := spec.ParseExpr(c.Expr); err != nil {
		return FilterSpec{}, err
	}
	return spec, nil
}

// ParseExpr applies a `key=value + key=value` expression, e.g.
// `min_raw_price=10 + membership=true + remove_indeterminate=true`.
func (s *FilterSpec) ParseExpr(expr string) error {
	for _, term := range strings.Split(expr, "+") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		key, value, ok := strings.Cut(term, "=")
		if !ok {
			return fmt.Errorf("filter term %q: expected key=value", term)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case FilterMembership, FilterIndeterminate:
			b, err := strconv.ParseBool(value)
			if err != nil && key == FilterMembership && value != "" {
				// membership=<index name> selects the configured membership file
				b, err = true, nil
			}
			if err != nil {
				return fmt.Errorf("filter term %q: %w", term, err)
			}
			if key == FilterMembership {
				s.Membership = b
			} else {
				s.RemoveIndeterminate = b
			}
			continue
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("filter term %q: %w", term, err)
		}
		switch key {
		case FilterMinRawPrice:
			s.MinRawPrice = &v
		case FilterMaxVolatility, "max_volatility_perc":
			s.MaxVolatility = &v
		case FilterMinVolumedPerc:
			s.MinVolumedPerc = &v
		case FilterMinMarketcap:
			s.MinMarketcap = &v
		case FilterMaxHoles:
			s.MaxHoles = &v
		default:
			return fmt.Errorf("filter term %q: unknown key %s", term, key)
		}
	}
	return nil
}

// seriesCheck vetoes a row by comparing a per-security series value at the
// row date against a threshold.
type seriesCheck struct {
	reason  string
	feature string
	// strict makes a missing date fatal instead of a veto.
	strict bool
	keep   func(v float64) bool
}

// FilterSet evaluates the configured filters in fixed order; the first
// failing filter vetoes the row.
type FilterSet struct {
	store         drepo.SeriesStore
	membership    models.Membership
	checks        []seriesCheck
	useMembership bool
	dropIndet     bool
}

// NewFilterSet validates spec. membership is required when the membership
// filter is on.
func NewFilterSet(spec FilterSpec, store drepo.SeriesStore, membership models.Membership) (*FilterSet, error) {
	fs := &FilterSet{
		store:         store,
		membership:    membership,
		useMembership: spec.Membership,
		dropIndet:     spec.RemoveIndeterminate,
	}
	if spec.Membership && membership == nil {
		return nil, fmt.Errorf("membership filter requires a membership file")
	}
	if t := spec.MinRawPrice; t != nil {
		lo := *t
		fs.checks = append(fs.checks, seriesCheck{FilterMinRawPrice, spec.PriceFeature, true, func(v float64) bool { return v >= lo }})
	}
	if t := spec.MaxVolatility; t != nil {
		hi := *t
		fs.checks = append(fs.checks, seriesCheck{FilterMaxVolatility, spec.VolatilityFeature, true, func(v float64) bool { return v <= hi }})
	}
	if t := spec.MinVolumedPerc; t != nil {
		lo := *t
		fs.checks = append(fs.checks, seriesCheck{FilterMinVolumedPerc, spec.VolumedFeature, false, func(v float64) bool { return v >= lo }})
	}
	if t := spec.MinMarketcap; t != nil {
		lo := *t
		fs.checks = append(fs.checks, seriesCheck{FilterMinMarketcap, spec.MarketcapFeature, false, func(v float64) bool { return v >= lo }})
	}
	if t := spec.MaxHoles; t != nil {
		hi := *t
		fs.checks = append(fs.checks, seriesCheck{FilterMaxHoles, spec.HolesFeature, false, func(v float64) bool { return v <= hi }})
	}
	if len(fs.checks) > 0 && store == nil {
		return nil, fmt.Errorf("series filters require a series store")
	}
	return fs, nil
}

// Reasons lists the active filter reasons in evaluation order.
func (f *FilterSet) Reasons() []string {
	var out []string
	for _, c := range f.checks {
		out = append(out, c.reason)
	}
	if f.useMembership {
		out = append(out, FilterMembership)
	}
	if f.dropIndet {
		out = append(out, FilterIndeterminate)
	}
	return out
}

// Apply returns the surviving rows in input order plus one counter per
// active reason.
func (f *FilterSet) Apply(ctx context.Context, ds *models.Dataset) (*models.Dataset, models.SkipStats, error) {
	stats := models.NewSkipStats(f.Reasons()...)
	out := &models.Dataset{Features: ds.Features, Rows: make([]models.DatasetRow, 0, len(ds.Rows))}

	var (
		current string
		values  []map[string]float64
	)
	for i := range ds.Rows {
		row := &ds.Rows[i]
		if row.Meta.Security != current || values == nil {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			current = row.Meta.Security
			var err error
			if values, err = f.loadSecurity(ctx, current); err != nil {
				return nil, nil, err
			}
		}
		reason, err := f.veto(row, values)
		if err != nil {
			return nil, nil, err
		}
		if reason != "" {
			stats.Inc(reason)
			continue
		}
		out.Rows = append(out.Rows, *row)
	}
	return out, stats, nil
}

func (f *FilterSet) loadSecurity(ctx context.Context, security string) ([]map[string]float64, error) {
	values := make([]map[string]float64, len(f.checks))
	for i, c := range f.checks {
		s, err := f.store.Load(ctx, c.feature, security)
		if errors.Is(err, models.ErrSeriesNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load filter series %s/%s: %w", c.feature, security, err)
		}
		m := make(map[string]float64, len(s.Points))
		for _, p := range s.Points {
			m[p.Date] = p.Value
		}
		values[i] = m
	}
	return values, nil
}

func (f *FilterSet) veto(row *models.DatasetRow, values []map[string]float64) (string, error) {
	for i, c := range f.checks {
		if values[i] == nil {
			return c.reason, nil
		}
		v, ok := values[i][row.Meta.Date]
		if !ok {
			if c.strict {
				return "", fmt.Errorf("missing %s for %s on %s: %w", c.feature, row.Meta.Security, row.Meta.Date, models.ErrAlignment)
			}
			return c.reason, nil
		}
		if !c.keep(v) {
			return c.reason, nil
		}
	}
	if f.useMembership && !f.membership.Contains(row.Meta.Security, row.Meta.Date) {
		return FilterMembership, nil
	}
	if f.dropIndet && row.Indeterminate() {
		return FilterIndeterminate, nil
	}
	return "", nil
}
