package usecase

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"QuantPipe/internal/domain/models"
	drepo "QuantPipe/internal/domain/repository"
	"QuantPipe/pkg/logger"
	"QuantPipe/pkg/util"
)

const stageAnalyze = "analyze"

// SkipBuckets counts dates with fewer rows than buckets.
const SkipBuckets = "buckets"

type AnalyzeParams struct {
	Ks         []int
	Buckets    []int
	Trades     []models.TradeConfig
	HoldPeriod int
	// Market maps YYYY-MM to the index gain over the same horizon; optional.
	Market map[string]float64
}

type TradeResult struct {
	Config models.TradeConfig `json:"config"`
	Rows   []models.TradeRow  `json:"rows"`
}

// Analysis is the full backtest output of one prediction run.
type Analysis struct {
	TopBottom models.TopBottomReport `json:"topbot"`
	Buckets   []models.BucketReport  `json:"buckets"`
	Trades    []TradeResult          `json:"trades"`
	Skips     models.SkipStats       `json:"skips"`
}

type Backtester struct {
	metrics drepo.Metrics
	l       *logger.Logger
}

func NewBacktester(metrics drepo.Metrics, l *logger.Logger) *Backtester {
	if l == nil {
		l = logger.Nop()
	}
	return &Backtester{metrics: metrics, l: l.With(logger.String("stage", stageAnalyze))}
}

// Analyze drops the live region and runs every configured report.
func (b *Backtester) Analyze(blocks []models.PredictionBlock, p AnalyzeParams) (*Analysis, error) {
	start := time.Now()
	kept, live := DropLive(blocks)
	a := &Analysis{Skips: models.NewSkipStats(models.SkipLive, SkipBuckets)}
	a.Skips.Add(models.SkipLive, live)

	a.TopBottom = TopBottomK(kept, p.Ks)
	for _, n := range p.Buckets {
		rep, short, err := Buckets(kept, n)
		if err != nil {
			return nil, err
		}
		a.Skips.Add(SkipBuckets, short)
		a.Buckets = append(a.Buckets, rep)
	}
	for _, tc := range p.Trades {
		rows, err := SimulateTrades(kept, tc, p.HoldPeriod, p.Market)
		if err != nil {
			return nil, err
		}
		a.Trades = append(a.Trades, TradeResult{Config: tc, Rows: rows})
	}

	b.l.Info("analysis done",
		logger.Int("dates", len(kept)),
		logger.Counters("skip_stats", a.Skips),
		logger.Duration("elapsed_ms", time.Since(start)))
	if b.metrics != nil {
		b.metrics.RecordSkips(stageAnalyze, a.Skips)
		b.metrics.RecordRows(stageAnalyze, len(kept))
		b.metrics.RecordLatency(stageAnalyze, time.Since(start).Seconds())
	}
	return a, nil
}

// DropLive removes blocks whose gains are all zero, keeping date order.
func DropLive(blocks []models.PredictionBlock) ([]models.PredictionBlock, int) {
	out := make([]models.PredictionBlock, 0, len(blocks))
	for i := range blocks {
		if blocks[i].AllZeroGain() {
			continue
		}
		out = append(out, blocks[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, len(blocks) - len(out)
}

// KSlice returns the [p, q) range of a ranked list of n rows for k:
// top k when positive, bottom -k when negative, everything when zero.
func KSlice(n, k int) (int, int) {
	switch {
	case k > 0:
		if k > n {
			k = n
		}
		return 0, k
	case k < 0:
		p := n + k
		if p < 0 {
			p = 0
		}
		return p, n
	default:
		return 0, n
	}
}

// yearAccumulator averages per-date values by year and overall.
type yearAccumulator struct {
	width int
	years map[string][]float64
	dates map[string]int
	total []float64
	count int
}

func newYearAccumulator(width int) *yearAccumulator {
	return &yearAccumulator{width: width, years: map[string][]float64{}, dates: map[string]int{}, total: make([]float64, width)}
}

func (a *yearAccumulator) add(date string, values []float64) {
	year := date
	if len(year) > 4 {
		year = year[:4]
	}
	sums, ok := a.years[year]
	if !ok {
		sums = make([]float64, a.width)
		a.years[year] = sums
	}
	for i, v := range values {
		sums[i] += v
		a.total[i] += v
	}
	a.dates[year]++
	a.count++
}

func (a *yearAccumulator) rows() []models.YearRow {
	years := make([]string, 0, len(a.years))
	for y := range a.years {
		years = append(years, y)
	}
	sort.Strings(years)
	out := make([]models.YearRow, 0, len(years)+1)
	for _, y := range years {
		out = append(out, models.YearRow{Year: y, Values: scale(a.years[y], a.dates[y]), Dates: a.dates[y]})
	}
	return append(out, models.YearRow{Year: "all", Values: scale(a.total, a.count), Dates: a.count})
}

func scale(sums []float64, n int) []float64 {
	out := make([]float64, len(sums))
	if n == 0 {
		return out
	}
	for i, s := range sums {
		out[i] = s / float64(n)
	}
	return out
}

// TopBottomK computes the mean gain and the fraction of positive gains of
// each K slice per date, averaged per year and overall.
func TopBottomK(blocks []models.PredictionBlock, ks []int) models.TopBottomReport {
	gains := newYearAccumulator(len(ks))
	precs := newYearAccumulator(len(ks))
	for i := range blocks {
		rows := blocks[i].Rows
		if len(rows) == 0 {
			continue
		}
		g := make([]float64, len(ks))
		pr := make([]float64, len(ks))
		for j, k := range ks {
			p, q := KSlice(len(rows), k)
			pos := 0
			for _, r := range rows[p:q] {
				g[j] += r.Gain
				if r.Gain > 0 {
					pos++
				}
			}
			g[j] /= float64(q - p)
			pr[j] = float64(pos) / float64(q-p)
		}
		gains.add(blocks[i].Date, g)
		precs.add(blocks[i].Date, pr)
	}
	return models.TopBottomReport{Ks: ks, Gain: gains.rows(), Precision: precs.rows()}
}

// BucketSizes splits l rows into b contiguous buckets of floor(l/b) rows;
// the l%b remainder goes one each to the last buckets. A non-positive b yields nil.
func BucketSizes(l, b int) []int {
	if b <= 0 || l < 0 {
		return nil
	}
	sizes := make([]int, b)
	base, extra := l/b, l%b
	for i := range sizes {
		sizes[i] = base
		if i >= b-extra {
			sizes[i]++
		}
	}
	return sizes
}

// Buckets averages the gain of each bucket per year and overall. Dates with
// fewer rows than buckets are skipped and counted.
func Buckets(blocks []models.PredictionBlock, n int) (models.BucketReport, int, error) {
	if n <= 0 {
		return models.BucketReport{}, 0, fmt.Errorf("bucket count must be positive, got %d", n)
	}
	acc := newYearAccumulator(n)
	short := 0
	for i := range blocks {
		rows := blocks[i].Rows
		if len(rows) < n {
			short++
			continue
		}
		hist := make([]float64, n)
		p := 0
		for j, size := range BucketSizes(len(rows), n) {
			for _, r := range rows[p : p+size] {
				hist[j] += r.Gain
			}
			hist[j] /= float64(size)
			p += size
		}
		acc.add(blocks[i].Date, hist)
	}
	rows := acc.rows()
	for i := range rows {
		avg := 0.0
		for _, v := range rows[i].Values {
			avg += v
		}
		rows[i].Values = append(rows[i].Values, avg/float64(n))
	}
	return models.BucketReport{Buckets: n, Rows: rows}, short, nil
}

// SimulateTrades walks dates in ascending order and opens up to |MaxPick|
// positions per date from the top (positive) or bottom (negative) of the
// ranking. Each position is sold holdPeriod months after purchase.
func SimulateTrades(blocks []models.PredictionBlock, tc models.TradeConfig, holdPeriod int, market map[string]float64) ([]models.TradeRow, error) {
	var record []models.Position
	picks := make([][]models.Prediction, len(blocks))
	for bi := range blocks {
		date := blocks[bi].Date
		items := blocks[bi].Rows
		holds := map[string]int{}
		for _, pos := range record {
			if pos.SaleDate > date {
				holds[pos.Security]++
			}
		}
		sale, err := util.AddMonths(date, holdPeriod)
		if err != nil {
			return nil, fmt.Errorf("sale date for %s: %w", date, err)
		}
		maxPick := tc.MaxPick
		if maxPick < 0 {
			maxPick = -maxPick
		}
		for i, j := 0, 0; i < maxPick && (tc.MaxLook < 0 || j < tc.MaxLook) && j < len(items); j++ {
			item := items[j]
			if tc.MaxPick < 0 {
				item = items[len(items)-1-j]
			}
			if tc.MaxHold > 0 && holds[item.Security] >= tc.MaxHold {
				continue
			}
			picks[bi] = append(picks[bi], item)
			record = append(record, models.Position{Security: item.Security, BuyDate: date, SaleDate: sale})
			i++
		}
	}

	out := make([]models.TradeRow, len(blocks))
	for bi := range blocks {
		date := blocks[bi].Date
		row := models.TradeRow{Date: date, Buys: len(picks[bi]), MaxHoldSec: "-"}
		for _, p := range picks[bi] {
			row.Gain += p.Gain
		}
		if len(picks[bi]) > 0 {
			row.Gain /= float64(len(picks[bi]))
		}
		count := map[string]int{}
		for _, pos := range record {
			if pos.BuyDate <= date && pos.SaleDate > date {
				count[pos.Security]++
				row.TotalHold++
			}
		}
		for sec, c := range count {
			if c > row.MaxHold || (c == row.MaxHold && sec < row.MaxHoldSec) {
				row.MaxHold, row.MaxHoldSec = c, sec
			}
		}
		if market != nil {
			if g, ok := market[util.MonthOf(date)]; ok {
				row.Market = &g
			}
		}
		out[bi] = row
	}
	return out, nil
}

// WriteTopBottom writes `year <ks...> months`; precision selects the
// positive-gain fraction instead of the mean gain.
func WriteTopBottom(w io.Writer, r models.TopBottomReport, precision bool) error {
	bw := bufio.NewWriter(w)
	ks := make([]string, len(r.Ks))
	for i, k := range r.Ks {
		ks[i] = strconv.Itoa(k)
	}
	fmt.Fprintf(bw, "year\t%s\tmonths\n", strings.Join(ks, "\t"))
	rows := r.Gain
	if precision {
		rows = r.Precision
	}
	for _, row := range rows {
		fmt.Fprintf(bw, "%s\t%s\t%d\n", row.Year, joinFloats(row.Values), row.Dates)
	}
	return bw.Flush()
}

// WriteBuckets writes `year B1..Bn avg months`.
func WriteBuckets(w io.Writer, r models.BucketReport) error {
	bw := bufio.NewWriter(w)
	names := make([]string, r.Buckets)
	for i := range names {
		names[i] = fmt.Sprintf("B%d", i+1)
	}
	fmt.Fprintf(bw, "year\t%s\tavg\tmonths\n", strings.Join(names, "\t"))
	for _, row := range r.Rows {
		fmt.Fprintf(bw, "%s\t%s\t%d\n", row.Year, joinFloats(row.Values), row.Dates)
	}
	return bw.Flush()
}

// WriteTrades writes one line per date with percent-formatted gains.
func WriteTrades(w io.Writer, rows []models.TradeRow) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "date\tbuys\ttotal_hold\tmax_hold\tmh_ticker\tgain\tmarket")
	for _, r := range rows {
		market := "-"
		if r.Market != nil {
			market = fmt.Sprintf("%.2f%%", *r.Market*100)
		}
		fmt.Fprintf(bw, "%s\t%d\t%d\t%d\t%s\t%.2f%%\t%s\n",
			r.Date, r.Buys, r.TotalHold, r.MaxHold, r.MaxHoldSec, r.Gain*100, market)
	}
	return bw.Flush()
}

// TradeFileName renders trade-ml<L>-mp<P>-mh<H>.tsv.
func TradeFileName(tc models.TradeConfig) string {
	return fmt.Sprintf("trade-ml%d-mp%d-mh%d.tsv", tc.MaxLook, tc.MaxPick, tc.MaxHold)
}

// WriteAnalysis writes every report of a under analyze/ in store.
func WriteAnalysis(ctx context.Context, store drepo.ExperimentStore, a *Analysis) error {
	files := map[string]func(io.Writer) error{
		"topbot.tsv":           func(w io.Writer) error { return WriteTopBottom(w, a.TopBottom, false) },
		"topbot-precision.tsv": func(w io.Writer) error { return WriteTopBottom(w, a.TopBottom, true) },
	}
	for _, r := range a.Buckets {
		r := r
		files[fmt.Sprintf("bucket-%d.tsv", r.Buckets)] = func(w io.Writer) error { return WriteBuckets(w, r) }
	}
	for _, t := range a.Trades {
		t := t
		files[TradeFileName(t.Config)] = func(w io.Writer) error { return WriteTrades(w, t.Rows) }
	}
	for name, fill := range files {
		if err := writeArtifact(ctx, store, "analyze/"+name, fill); err != nil {
			return err
		}
	}
	return nil
}

func writeArtifact(ctx context.Context, store drepo.ExperimentStore, name string, fill func(io.Writer) error) error {
	w, err := store.CreateArtifact(ctx, name)
	if err != nil {
		return err
	}
	if err := fill(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

func joinFloats(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprintf("%f", v)
	}
	return strings.Join(parts, "\t")
}
