package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"QuantPipe/internal/domain/models"
	drepo "QuantPipe/internal/domain/repository"
	"QuantPipe/internal/domain/service"
	"QuantPipe/internal/services/ml"
	"QuantPipe/pkg/logger"
	"QuantPipe/pkg/util"
)

const stagePredict = "predict"

type PredictParams struct {
	Grid             models.Grid
	TrainWindow      int
	PredictionWindow int
	DelayWindow      int
}

type PredictResult struct {
	Blocks []models.PredictionBlock
	Rows   int
	Skips  models.SkipStats
}

// Predictor scores each prediction date with the latest model whose as-of
// period precedes the date by more than the prediction and delay windows.
type Predictor struct {
	models  drepo.ModelStore
	metrics drepo.Metrics
	l       *logger.Logger
}

func NewPredictor(store drepo.ModelStore, metrics drepo.Metrics, l *logger.Logger) *Predictor {
	if l == nil {
		l = logger.Nop()
	}
	return &Predictor{models: store, metrics: metrics, l: l.With(logger.String("stage", stagePredict))}
}

// Cutoff returns the grid key every eligible model period must precede:
// date minus prediction+delay months, day clamped to the month end.
func Cutoff(date string, grid models.Grid, predictionWindow, delayWindow int) (string, error) {
	c, err := util.AddMonths(date, -(predictionWindow + delayWindow))
	if err != nil {
		return "", fmt.Errorf("cutoff for %s: %w", date, err)
	}
	return grid.Key(c), nil
}

// EligiblePeriod returns the rightmost period strictly before cutoff.
// periods must be ascending.
func EligiblePeriod(periods []string, cutoff string) (string, bool) {
	i := sort.SearchStrings(periods, cutoff) - 1
	if i < 0 {
		return "", false
	}
	return periods[i], true
}

// GroupByDate buckets row indexes by grid key, keys ascending and rows in
// input order.
func GroupByDate(rows []models.DatasetRow, grid models.Grid) ([]string, map[string][]int) {
	groups := make(map[string][]int)
	var dates []string
	for i := range rows {
		k := grid.Key(rows[i].Meta.Date)
		if _, ok := groups[k]; !ok {
			dates = append(dates, k)
		}
		groups[k] = append(groups[k], i)
	}
	sort.Strings(dates)
	return dates, groups
}

// Predict walks prediction dates in ascending order and writes one block per
// scored date to every sink. Dates before the first eligible model are skipped as
// warm-up; a missing model after that is ErrPredictionGap.
func (p *Predictor) Predict(ctx context.Context, ds *models.Dataset, params PredictParams, sinks ...drepo.PredictionSink) (*PredictResult, error) {
	start := time.Now()
	periods, err := p.models.Periods(ctx, params.TrainWindow)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	dates, groups := GroupByDate(ds.Rows, params.Grid)

	res := &PredictResult{Skips: models.NewSkipStats(models.SkipWarmup)}
	var (
		started bool
		loaded  models.ModelKey
		model   service.Model
		imp     *ml.ColumnImputer
	)
	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cutoff, err := Cutoff(date, params.Grid, params.PredictionWindow, params.DelayWindow)
		if err != nil {
			return nil, err
		}
		period, ok := EligiblePeriod(periods, cutoff)
		if !ok {
			if started {
				return nil, fmt.Errorf("date %s (cutoff %s): %w", date, cutoff, models.ErrPredictionGap)
			}
			res.Skips.Inc(models.SkipWarmup)
			continue
		}

		key := models.ModelKey{Period: period, TrainWindow: params.TrainWindow}
		if model == nil || key != loaded {
			b, err := p.models.Load(ctx, key)
			if errors.Is(err, models.ErrModelNotFound) {
				return nil, fmt.Errorf("date %s needs model %s: %w", date, key, models.ErrPredictionGap)
			}
			if err != nil {
				return nil, err
			}
			if model, imp, err = ml.DecodeArtifact(b); err != nil {
				return nil, fmt.Errorf("model %s: %w", key, err)
			}
			loaded = key
		}
		started = true
		p.l.Debug("predicting", logger.String("date", date), logger.String("model", key.String()))

		block, err := scoreBlock(ds.Rows, groups[date], model, imp)
		if err != nil {
			return nil, fmt.Errorf("score %s: %w", date, err)
		}
		block.Date = date
		block.Model = key.String()
		for _, sink := range sinks {
			if err := sink.Write(ctx, block); err != nil {
				return nil, fmt.Errorf("write predictions for %s: %w", date, err)
			}
		}
		res.Blocks = append(res.Blocks, *block)
		res.Rows += len(block.Rows)
	}

	p.l.Info("prediction done",
		logger.Int("dates", len(res.Blocks)),
		logger.Int("rows", res.Rows),
		logger.Counters("skip_stats", res.Skips),
		logger.Duration("elapsed_ms", time.Since(start)))
	if p.metrics != nil {
		p.metrics.RecordSkips(stagePredict, res.Skips)
		p.metrics.RecordRows(stagePredict, res.Rows)
		p.metrics.RecordLatency(stagePredict, time.Since(start).Seconds())
	}
	return res, nil
}

// scoreBlock imputes and scores the rows of one date, sorted by score
// descending with ties kept in input order.
func scoreBlock(rows []models.DatasetRow, idx []int, model service.Model, imp *ml.ColumnImputer) (*models.PredictionBlock, error) {
	x := make([][]float64, len(idx))
	for i, j := range idx {
		x[i] = append([]float64(nil), rows[j].Features...)
	}
	scores, err := ml.Score(model, imp.Transform(x))
	if err != nil {
		return nil, err
	}
	if len(scores) != len(idx) {
		return nil, fmt.Errorf("%d scores for %d rows: %w", len(scores), len(idx), models.ErrAlignment)
	}
	block := &models.PredictionBlock{Rows: make([]models.Prediction, len(idx))}
	for i, j := range idx {
		block.Rows[i] = models.Prediction{Security: rows[j].Meta.Security, Gain: rows[j].Meta.Gain, Score: scores[i]}
	}
	sort.SliceStable(block.Rows, func(a, b int) bool { return block.Rows[a].Score > block.Rows[b].Score })
	return block, nil
}
