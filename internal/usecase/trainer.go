package usecase

import (
	"bufio"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"QuantPipe/internal/domain/models"
	drepo "QuantPipe/internal/domain/repository"
	"QuantPipe/internal/services/ml"
	"QuantPipe/pkg/logger"
	"QuantPipe/pkg/util"

	"golang.org/x/sync/errgroup"
)

const stageTrain = "train_models"

// Indeterminate label policies.
const (
	PolicyDrop       = "drop"
	PolicyZeroWeight = "zero_weight"
)

// TrainParams configures a walk-forward training run.
type TrainParams struct {
	Grid models.Grid
	// Calendar lists exact as-of dates for the calendar grid.
	Calendar    []string
	StartDate   string
	EndDate     string
	TrainWindow int
	TrainPerc   float64
	MinSamples  int
	Seed        int64

	Model           ml.ModelSpec
	ImputerStrategy string
	Classification  bool
	UseWeight       bool
	// IndeterminatePolicy is drop or zero_weight.
	IndeterminatePolicy string
	EvalPercs           []float64
	Workers             int
}

// Trainer fits one (model, imputer) artifact per as-of period.
type Trainer struct {
	models  drepo.ModelStore
	steps   drepo.StepStore
	metrics drepo.Metrics
	l       *logger.Logger
}

func NewTrainer(store drepo.ModelStore, steps drepo.StepStore, metrics drepo.Metrics, l *logger.Logger) *Trainer {
	if l == nil {
		l = logger.Nop()
	}
	return &Trainer{models: store, steps: steps, metrics: metrics, l: l.With(logger.String("stage", stageTrain))}
}

// Periods returns the as-of schedule. The monthly grid runs from StartDate
// to the last month with data, capped at EndDate.
func Periods(ds *models.Dataset, p TrainParams) ([]string, error) {
	if p.Grid == models.GridCalendar {
		for i := 1; i < len(p.Calendar); i++ {
			if p.Calendar[i] <= p.Calendar[i-1] {
				return nil, fmt.Errorf("calendar at %s: %w", p.Calendar[i], models.ErrUnsortedCalendar)
			}
		}
		var out []string
		for _, d := range p.Calendar {
			if d >= p.StartDate && d <= p.EndDate {
				out = append(out, d)
			}
		}
		return out, nil
	}

	last := ""
	for i := range ds.Rows {
		if d := ds.Rows[i].Meta.Date; d > last {
			last = d
		}
	}
	if last == "" {
		return nil, nil
	}
	if p.EndDate < last {
		last = p.EndDate
	}
	if util.MonthOf(last) < util.MonthOf(p.StartDate) {
		return nil, nil
	}
	return util.MonthRange(p.StartDate, last)
}

// SelectWindow returns the indexes of rows whose grid key lies in
// [period - trainWindow months, period]. A negative window is unbounded.
// Live rows carry no realized gain yet and are never selected.
func SelectWindow(rows []models.DatasetRow, grid models.Grid, period string, trainWindow int) ([]int, error) {
	first := ""
	if trainWindow >= 0 {
		var err error
		if first, err = util.AddMonths(period, -trainWindow); err != nil {
			return nil, fmt.Errorf("train window for %s: %w", period, err)
		}
	}
	var idx []int
	for i := range rows {
		if rows[i].Meta.Live {
			continue
		}
		k := grid.Key(rows[i].Meta.Date)
		if k >= first && k <= period {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

// PeriodSeed derives the sampling seed of one period.
func PeriodSeed(seed int64, period string) int64 {
	h := fnv.New64a()
	h.Write([]byte(period))
	return seed ^ int64(h.Sum64())
}

// Sample picks a uniform subset of idx. perc in (0,1) is a fraction, a value
// above 1 an absolute count, anything else keeps every row. The result is
// ascending and depends only on idx, perc, seed and period.
func Sample(idx []int, perc float64, seed int64, period string) []int {
	n := len(idx)
	var m int
	switch {
	case perc > 0 && perc < 1:
		m = int(float64(n) * perc)
	case perc > 1:
		m = int(perc)
	default:
		return idx
	}
	if m < 1 {
		m = 1
	}
	if m >= n {
		return idx
	}
	rng := rand.New(rand.NewSource(PeriodSeed(seed, period)))
	out := make([]int, m)
	for i, j := range rng.Perm(n)[:m] {
		out[i] = idx[j]
	}
	sort.Ints(out)
	return out
}

// Train runs every period of the grid and writes the evaluation table to
// stats (nil skips it). Periods already marked complete are skipped.
func (t *Trainer) Train(ctx context.Context, ds *models.Dataset, p TrainParams, stats io.Writer) ([]models.TrainReport, error) {
	start := time.Now()
	periods, err := Periods(ds, p)
	if err != nil {
		return nil, err
	}
	if p.Classification && p.IndeterminatePolicy == PolicyDrop {
		ds = dropIndeterminate(ds)
	}

	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}
	reports := make([]models.TrainReport, len(periods))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, period := range periods {
		i, period := i, period
		g.Go(func() error {
			r, err := t.trainStep(gctx, ds, period, p)
			if err != nil {
				return err
			}
			reports[i] = *r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	counts := models.NewSkipStats(string(models.StateTrained), string(models.StateInsufficient), string(models.StateSkipped))
	for _, r := range reports {
		counts.Inc(string(r.State))
	}
	if stats != nil {
		if err := WriteTrainStats(stats, reports, p.EvalPercs); err != nil {
			return nil, err
		}
	}
	t.l.Info("training done",
		logger.Int("periods", len(periods)),
		logger.Int("train_window", p.TrainWindow),
		logger.Counters("states", counts),
		logger.Duration("elapsed_ms", time.Since(start)))
	if t.metrics != nil {
		t.metrics.RecordLatency(stageTrain, time.Since(start).Seconds())
	}
	return reports, nil
}

func (t *Trainer) trainStep(ctx context.Context, ds *models.Dataset, period string, p TrainParams) (*models.TrainReport, error) {
	key := models.ModelKey{Period: period, TrainWindow: p.TrainWindow}
	stepID := fmt.Sprintf("train:%s:%d", period, p.TrainWindow)
	if t.steps != nil {
		done, err := t.steps.IsStepComplete(ctx, stepID)
		if err != nil {
			return nil, fmt.Errorf("check step %s: %w", stepID, err)
		}
		if done {
			t.record(models.StateSkipped)
			return &models.TrainReport{Key: key, State: models.StateSkipped}, nil
		}
	}
	r, err := t.TrainPeriod(ctx, ds, period, p)
	if err != nil {
		return nil, err
	}
	if t.steps != nil {
		if err := t.steps.MarkStepComplete(ctx, stepID); err != nil {
			return nil, fmt.Errorf("mark step %s: %w", stepID, err)
		}
	}
	return r, nil
}

// TrainPeriod selects, samples, imputes, fits, persists and evaluates one
// period. Too few rows yield StateInsufficient and nothing is stored.
func (t *Trainer) TrainPeriod(ctx context.Context, ds *models.Dataset, period string, p TrainParams) (*models.TrainReport, error) {
	key := models.ModelKey{Period: period, TrainWindow: p.TrainWindow}
	report := &models.TrainReport{Key: key}

	idx, err := SelectWindow(ds.Rows, p.Grid, period, p.TrainWindow)
	if err != nil {
		return nil, err
	}
	report.Selected = len(idx)
	if len(idx) < p.MinSamples {
		t.l.Info("too few samples", logger.String("period", period),
			logger.Int("required", p.MinSamples), logger.Int("selected", len(idx)))
		report.State = models.StateInsufficient
		t.record(report.State)
		return report, nil
	}

	x, y, w, truth := t.matrix(ds.Rows, idx, p)
	imp, err := ml.NewImputer(p.ImputerStrategy)
	if err != nil {
		return nil, err
	}
	if err := imp.Fit(x); err != nil {
		return nil, fmt.Errorf("period %s: %w", period, err)
	}
	x = imp.Transform(x)

	sampled := Sample(seq(len(idx)), p.TrainPerc, p.Seed, period)
	report.Sampled = len(sampled)
	sx, sy, sw := pick(x, sampled), pickF(y, sampled), pickF(w, sampled)

	est, err := ml.NewEstimator(p.Model, PeriodSeed(p.Seed, period))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := est.Fit(sx, sy, sw); err != nil {
		return nil, fmt.Errorf("fit %s for %s: %w", p.Model.Kind, period, err)
	}
	artifact, err := ml.EncodeArtifact(est, imp)
	if err != nil {
		return nil, err
	}
	if err := t.models.Save(ctx, key, artifact); err != nil {
		return nil, fmt.Errorf("save model %s: %w", key, err)
	}

	scores, err := ml.Score(est, x)
	if err != nil {
		return nil, err
	}
	threshold := 0.0
	if ml.IsClassifier(p.Model.Kind) {
		threshold = 0.5
	}
	ev := ml.Evaluate(scores, truth, threshold, p.EvalPercs)
	report.Evaluation = &ev
	report.State = models.StateTrained
	t.record(report.State)
	t.l.Debug("model trained", logger.String("period", period), logger.Int("rows", len(sampled)),
		logger.Float64("f1", ev.F1), logger.Float64("auc", ev.AUC))
	return report, nil
}

func (t *Trainer) record(state models.TrainState) {
	if t.metrics != nil {
		t.metrics.RecordModel(state)
	}
}

// matrix extracts features, targets, weights and the binary truth used for
// evaluation. Regression targets the raw gain; truth is then gain > 0.
func (t *Trainer) matrix(rows []models.DatasetRow, idx []int, p TrainParams) ([][]float64, []float64, []float64, []float64) {
	x := make([][]float64, len(idx))
	y := make([]float64, len(idx))
	truth := make([]float64, len(idx))
	var w []float64
	weighted := p.UseWeight || (p.Classification && p.IndeterminatePolicy == PolicyZeroWeight)
	if weighted {
		w = make([]float64, len(idx))
	}
	for i, j := range idx {
		r := &rows[j]
		x[i] = append([]float64(nil), r.Features...)
		if p.Classification {
			if r.Label == models.LabelPositive {
				y[i] = 1
			}
			truth[i] = y[i]
		} else {
			y[i] = r.Meta.Gain
			if r.Meta.Gain > 0 {
				truth[i] = 1
			}
		}
		if weighted {
			w[i] = 1
			if p.UseWeight {
				w[i] = r.Weight
			}
			if p.Classification && r.Indeterminate() {
				w[i] = 0
			}
		}
	}
	return x, y, w, truth
}

func dropIndeterminate(ds *models.Dataset) *models.Dataset {
	out := &models.Dataset{Features: ds.Features, Rows: make([]models.DatasetRow, 0, len(ds.Rows))}
	for i := range ds.Rows {
		if !ds.Rows[i].Indeterminate() {
			out.Rows = append(out.Rows, ds.Rows[i])
		}
	}
	return out
}

// WriteTrainStats writes one line per trained period:
// date f1 auc <p>perc-precision <p>perc-recall ...
func WriteTrainStats(w io.Writer, reports []models.TrainReport, percs []float64) error {
	bw := bufio.NewWriter(w)
	header := []string{"date", "f1", "auc"}
	for _, p := range percs {
		ps := strconv.FormatFloat(p, 'f', -1, 64)
		header = append(header, ps+"perc-precision", ps+"perc-recall")
	}
	fmt.Fprintln(bw, strings.Join(header, "\t"))
	for _, r := range reports {
		if r.State != models.StateTrained || r.Evaluation == nil {
			continue
		}
		values := []string{r.Key.Period, fmt.Sprintf("%.4f", r.Evaluation.F1), fmt.Sprintf("%.4f", r.Evaluation.AUC)}
		for _, at := range r.Evaluation.AtPercent {
			values = append(values, fmt.Sprintf("%.4f", at.Precision), fmt.Sprintf("%.4f", at.Recall))
		}
		fmt.Fprintln(bw, strings.Join(values, "\t"))
	}
	return bw.Flush()
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func pick(x [][]float64, idx []int) [][]float64 {
	if len(idx) == len(x) {
		return x
	}
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = x[j]
	}
	return out
}

func pickF(v []float64, idx []int) []float64 {
	if v == nil || len(idx) == len(v) {
		return v
	}
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = v[j]
	}
	return out
}
