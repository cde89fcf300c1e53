package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"QuantPipe/internal/domain/models"
	drepo "QuantPipe/internal/domain/repository"
	"QuantPipe/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const stageCollect = "collect_data"

// AssembleParams configures one dataset assembly.
type AssembleParams struct {
	// Label is the feature name of the label (gain) series.
	Label string
	// Securities restricts the run; empty means every security with a label.
	Securities  []string
	MinDate     string
	MaxDate     string
	MaxNeg      float64
	MinPos      float64
	WeightPower float64
	Workers     int
}

type AssembleResult struct {
	Dataset  *models.Dataset
	Skips    models.SkipStats
	LiveRows int
}

// Assembler turns label series and feature series into a DatasetRow stream.
type Assembler struct {
	store   drepo.SeriesStore
	joiner  *FeatureJoiner
	metrics drepo.Metrics
	l       *logger.Logger
}

func NewAssembler(store drepo.SeriesStore, joiner *FeatureJoiner, metrics drepo.Metrics, l *logger.Logger) *Assembler {
	if l == nil {
		l = logger.Nop()
	}
	return &Assembler{store: store, joiner: joiner, metrics: metrics, l: l.With(logger.String("stage", stageCollect))}
}

type securityRows struct {
	rows  []models.DatasetRow
	stats models.SkipStats
	live  int
}

// Assemble iterates every (security, label date) pair. Securities are
// processed on a bounded pool and merged in input order.
func (a *Assembler) Assemble(ctx context.Context, p AssembleParams) (*AssembleResult, error) {
	start := time.Now()
	secs := p.Securities
	if len(secs) == 0 {
		var err error
		if secs, err = a.store.Securities(ctx, p.Label); err != nil {
			return nil, fmt.Errorf("list securities: %w", err)
		}
	}
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}

	parts := make([]securityRows, len(secs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, sec := range secs {
		i, sec := i, sec
		g.Go(func() error {
			part, err := a.assembleSecurity(gctx, sec, p)
			if err != nil {
				return fmt.Errorf("assemble %s: %w", sec, err)
			}
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &AssembleResult{
		Dataset: &models.Dataset{Features: a.joiner.Features()},
		Skips: models.NewSkipStats(models.SkipFeatureFile, models.SkipLabelFile, models.SkipMinDate,
			models.SkipMaxDate, models.SkipNegPos, models.SkipIndex, models.SkipWindow,
			models.Skip1Perc, models.Skip99Perc, models.SkipMinPerc),
	}
	for _, part := range parts {
		res.Dataset.Rows = append(res.Dataset.Rows, part.rows...)
		res.Skips.Merge(part.stats)
		res.LiveRows += part.live
	}

	if res.LiveRows > 0 {
		a.l.Warn("max_date reaches into the live label region; live rows are excluded from training", logger.Int("live_rows", res.LiveRows))
	}
	a.l.Info("dataset assembled",
		logger.Int("securities", len(secs)),
		logger.Int("rows", len(res.Dataset.Rows)),
		logger.Counters("skip_stats", res.Skips),
		logger.Duration("elapsed_ms", time.Since(start)))
	if a.metrics != nil {
		a.metrics.RecordSkips(stageCollect, res.Skips)
		a.metrics.RecordRows(stageCollect, len(res.Dataset.Rows))
		a.metrics.RecordLatency(stageCollect, time.Since(start).Seconds())
	}
	return res, nil
}

func (a *Assembler) assembleSecurity(ctx context.Context, security string, p AssembleParams) (securityRows, error) {
	part := securityRows{stats: models.SkipStats{}}
	if err := ctx.Err(); err != nil {
		return part, err
	}

	labels, err := a.store.Load(ctx, p.Label, security)
	if errors.Is(err, models.ErrSeriesNotFound) {
		part.stats.Inc(models.SkipLabelFile)
		return part, nil
	}
	if err != nil {
		return part, err
	}
	if err := labels.Validate(); err != nil {
		return part, err
	}
	series, err := a.joiner.Load(ctx, security, part.stats)
	if err != nil {
		return part, err
	}

	liveFrom := labels.LiveRegionStart()
	for i, pt := range labels.Points {
		if pt.Date < p.MinDate {
			part.stats.Inc(models.SkipMinDate)
			continue
		}
		if pt.Date > p.MaxDate {
			part.stats.Inc(models.SkipMaxDate)
			continue
		}

		label, weight := DeriveLabel(pt.Value, p.MaxNeg, p.MinPos, p.WeightPower)
		if label == models.LabelIndeterminate {
			// kept for prediction; training filters drop them
			part.stats.Inc(models.SkipNegPos)
		}

		vec, count, ok, err := a.joiner.Vector(series, pt.Date, part.stats)
		if err != nil {
			return part, err
		}
		if !ok {
			continue
		}
		live := i >= liveFrom
		if live {
			part.live++
		}
		part.rows = append(part.rows, models.DatasetRow{
			Meta: models.RowMeta{
				Security:     security,
				Date:         pt.Date,
				FeatureCount: count,
				Gain:         pt.Value,
				Live:         live,
			},
			Features: vec,
			Label:    label,
			Weight:   weight,
		})
	}
	return part, nil
}

// DeriveLabel binarizes gain. The weight is the distance to the nearest
// threshold raised to power, and 0 inside the indeterminate band.
func DeriveLabel(gain, maxNeg, minPos, power float64) (models.Label, float64) {
	switch {
	case gain <= maxNeg:
		return models.LabelNegative, math.Pow(maxNeg-gain, power)
	case gain >= minPos:
		return models.LabelPositive, math.Pow(gain-minPos, power)
	default:
		return models.LabelIndeterminate, 0
	}
}
