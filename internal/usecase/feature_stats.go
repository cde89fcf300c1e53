package usecase

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"QuantPipe/internal/domain/models"
	drepo "QuantPipe/internal/domain/repository"
	"QuantPipe/internal/services/features"
	"QuantPipe/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const stageFeatureStats = "feature_stats"

// InfoHeader heads the per-feature yearly statistics table.
const InfoHeader = "year\tcount\ttotal\tcoverage\tavg\tmin\t1perc\t10perc\t25perc\t50perc\t75perc\t90perc\t99perc\tmax"

// FeatureInfo is the yearly breakdown of one feature.
type FeatureInfo struct {
	Feature string
	Years   []features.YearStats
}

// FeatureStatsResult holds the collapsed range rows, sorted by feature.
type FeatureStatsResult struct {
	Stats []models.FeatureStats
	Info  []FeatureInfo
	// Empty lists features with zero coverage in every year.
	Empty []string
}

// FeatureStatsRunner scans every security of each feature to derive the
// feature-range table.
type FeatureStatsRunner struct {
	store   drepo.SeriesStore
	metrics drepo.Metrics
	l       *logger.Logger
}

func NewFeatureStatsRunner(store drepo.SeriesStore, metrics drepo.Metrics, l *logger.Logger) *FeatureStatsRunner {
	if l == nil {
		l = logger.Nop()
	}
	return &FeatureStatsRunner{store: store, metrics: metrics, l: l.With(logger.String("stage", stageFeatureStats))}
}

// Compute processes features concurrently, one feature per worker.
func (r *FeatureStatsRunner) Compute(ctx context.Context, names []string, workers int) (*FeatureStatsResult, error) {
	start := time.Now()
	if workers <= 0 {
		workers = 1
	}
	infos := make([]FeatureInfo, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			years, err := r.featureYears(gctx, name)
			if err != nil {
				return fmt.Errorf("feature stats %s: %w", name, err)
			}
			infos[i] = FeatureInfo{Feature: name, Years: years}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(infos, func(a, b int) bool { return infos[a].Feature < infos[b].Feature })
	res := &FeatureStatsResult{Info: infos}
	for _, info := range infos {
		s, ok := features.Summarize(info.Feature, info.Years)
		if !ok {
			res.Empty = append(res.Empty, info.Feature)
			continue
		}
		res.Stats = append(res.Stats, s)
	}

	r.l.Info("feature stats done",
		logger.Int("features", len(names)),
		logger.Strings("empty", res.Empty),
		logger.Duration("elapsed_ms", time.Since(start)))
	if r.metrics != nil {
		r.metrics.RecordRows(stageFeatureStats, len(res.Stats))
		r.metrics.RecordLatency(stageFeatureStats, time.Since(start).Seconds())
	}
	return res, nil
}

func (r *FeatureStatsRunner) featureYears(ctx context.Context, name string) ([]features.YearStats, error) {
	secs, err := r.store.Securities(ctx, name)
	if err != nil {
		return nil, err
	}
	acc := features.NewStatsAccumulator()
	for _, sec := range secs {
		s, err := r.store.Load(ctx, name, sec)
		if errors.Is(err, models.ErrSeriesNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		acc.Add(s)
	}
	return acc.Years(), nil
}

// WriteFeatureInfo writes the yearly table of one feature. Years without
// coverage print '-' for every statistic.
func WriteFeatureInfo(w io.Writer, info FeatureInfo) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, info.Feature)
	fmt.Fprintln(bw, InfoHeader)
	for _, y := range info.Years {
		if y.Count == 0 {
			fmt.Fprintf(bw, "%s\t%d\t%d\t0.00%%\t-\t-\t-\t-\t-\t-\t-\t-\t-\t-\n", y.Year, y.Count, y.Total)
			continue
		}
		fmt.Fprintf(bw, "%s\t%d\t%d\t%.2f%%\t%f\t%f\t%f\t%f\t%f\t%f\t%f\t%f\t%f\t%f\n",
			y.Year, y.Count, y.Total, y.Coverage()*100,
			y.Avg, y.Min, y.P1, y.P10, y.P25, y.P50, y.P75, y.P90, y.P99, y.Max)
	}
	return bw.Flush()
}

// HolesParams configures the hole-ratio derivation.
type HolesParams struct {
	// Source is the feature whose dates mark days with data.
	Source      string
	Target      string
	TradingDays []string
	Window      int
}

// ComputeHoles writes, for each security of Source, the trailing fraction
// of trading days without data as feature Target.
func (r *FeatureStatsRunner) ComputeHoles(ctx context.Context, out drepo.SeriesWriter, p HolesParams) (int, error) {
	for i := 1; i < len(p.TradingDays); i++ {
		if p.TradingDays[i] <= p.TradingDays[i-1] {
			return 0, fmt.Errorf("trading days at %s: %w", p.TradingDays[i], models.ErrUnsortedCalendar)
		}
	}
	secs, err := r.store.Securities(ctx, p.Source)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", p.Source, err)
	}
	written := 0
	for _, sec := range secs {
		s, err := r.store.Load(ctx, p.Source, sec)
		if errors.Is(err, models.ErrSeriesNotFound) {
			continue
		}
		if err != nil {
			return written, err
		}
		if err := s.Validate(); err != nil {
			return written, err
		}
		points := features.HoleRatios(p.TradingDays, s.Dates(), p.Window)
		if len(points) == 0 {
			continue
		}
		if err := out.Write(ctx, &models.DatedSeries{Security: sec, Feature: p.Target, Points: points}); err != nil {
			return written, fmt.Errorf("write holes for %s: %w", sec, err)
		}
		written++
	}
	r.l.Info("holes computed", logger.String("feature", p.Target), logger.Int("securities", written))
	return written, nil
}
