package usecase

import (
	"bytes"
	"context"
	"math/rand"
	"strings"
	"testing"

	"QuantPipe/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func block(date string, gains ...float64) models.PredictionBlock {
	b := models.PredictionBlock{Date: date}
	for i, g := range gains {
		b.Rows = append(b.Rows, models.Prediction{Security: string(rune('A' + i)), Gain: g, Score: float64(len(gains) - i)})
	}
	return b
}

func TestBucketSizesPartition(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		l, b := rng.Intn(1000), 1+rng.Intn(40)
		sizes := BucketSizes(l, b)
		require.Len(t, sizes, b)
		sum := 0
		for j, s := range sizes {
			sum += s
			assert.LessOrEqual(t, s-l/b, 1)
			assert.GreaterOrEqual(t, s, l/b)
			if j > 0 {
				assert.GreaterOrEqual(t, s, sizes[j-1], "remainder goes to the last buckets")
			}
		}
		assert.Equal(t, l, sum)
	}
	assert.Equal(t, []int{3, 3, 4, 4}, BucketSizes(14, 4))
	assert.Nil(t, BucketSizes(14, 0))
	assert.Nil(t, BucketSizes(14, -2))
}

func TestKSlice(t *testing.T) {
	p, q := KSlice(10, 3)
	assert.Equal(t, [2]int{0, 3}, [2]int{p, q})
	p, q = KSlice(10, -3)
	assert.Equal(t, [2]int{7, 10}, [2]int{p, q})
	p, q = KSlice(10, 0)
	assert.Equal(t, [2]int{0, 10}, [2]int{p, q})
	p, q = KSlice(2, -5)
	assert.Equal(t, [2]int{0, 2}, [2]int{p, q})
}

func TestAnalyzeDropsLiveRegion(t *testing.T) {
	blocks := []models.PredictionBlock{
		block("2019-12", 0.4, -0.2, 0.1, -0.1),
		block("2020-01", 0.2, 0.2, -0.4, 0),
		block("2020-02", 0, 0, 0, 0),
	}
	metrics := newMemMetrics()
	a, err := NewBacktester(metrics, nil).Analyze(blocks, AnalyzeParams{Ks: []int{1, -1, 0}, Buckets: []int{2, 5}})
	require.NoError(t, err)
	assert.Equal(t, 1, a.Skips[models.SkipLive])
	assert.Equal(t, 2, a.Skips[SkipBuckets])

	gain := a.TopBottom.Gain
	require.Len(t, gain, 3)
	assert.Equal(t, "2019", gain[0].Year)
	assert.InDeltaSlice(t, []float64{0.4, -0.1, 0.05}, gain[0].Values, 1e-12)
	assert.Equal(t, "all", gain[2].Year)
	assert.InDeltaSlice(t, []float64{0.3, -0.05, 0.025}, gain[2].Values, 1e-12)
	assert.Equal(t, 2, gain[2].Dates)
	assert.InDeltaSlice(t, []float64{1, 0, 0.5}, a.TopBottom.Precision[2].Values, 1e-12)

	require.Len(t, a.Buckets, 2)
	b2 := a.Buckets[0]
	assert.InDeltaSlice(t, []float64{0.15, -0.1, 0.025}, b2.Rows[len(b2.Rows)-1].Values, 1e-12)
	assert.Equal(t, 2, metrics.rows[stageAnalyze])
}

func TestSimulateTradesHoldsAndTies(t *testing.T) {
	blocks := []models.PredictionBlock{
		block("2020-01", 0.1, 0.2, 0.3),
		block("2020-02", 0.1, 0.2, 0.3),
		block("2020-03", 0.1, 0.2, 0.3),
	}
	market := map[string]float64{"2020-01": 0.05}

	rows, err := SimulateTrades(blocks, models.TradeConfig{MaxLook: -1, MaxPick: 2, MaxHold: 1}, 2, market)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 2, rows[0].Buys)
	assert.Equal(t, "A", rows[0].MaxHoldSec, "ties go to the smallest name")
	assert.InDelta(t, 0.15, rows[0].Gain, 1e-12)
	require.NotNil(t, rows[0].Market)
	assert.Equal(t, 0.05, *rows[0].Market)

	assert.Equal(t, 1, rows[1].Buys, "A and B are still held")
	assert.Equal(t, "C", picksOf(blocks[1], rows[1]))
	assert.Equal(t, 3, rows[1].TotalHold)
	assert.Nil(t, rows[1].Market)

	assert.Equal(t, 2, rows[2].Buys, "the January positions were sold")

	short, err := SimulateTrades(blocks, models.TradeConfig{MaxLook: 1, MaxPick: -2}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, short[0].Buys)
	assert.InDelta(t, 0.3, short[0].Gain, 1e-12)
	assert.Equal(t, "C", short[0].MaxHoldSec)
}

// picksOf recovers the single pick of a one-buy row from its mean gain.
func picksOf(b models.PredictionBlock, r models.TradeRow) string {
	for _, p := range b.Rows {
		if p.Gain == r.Gain {
			return p.Security
		}
	}
	return ""
}

func TestWriteAnalysisFiles(t *testing.T) {
	blocks := []models.PredictionBlock{block("2020-01", 0.1, -0.1), block("2020-02", 0.2, 0.1)}
	a, err := NewBacktester(nil, nil).Analyze(blocks, AnalyzeParams{
		Ks:         []int{1},
		Buckets:    []int{2},
		Trades:     []models.TradeConfig{{MaxLook: -1, MaxPick: 1, MaxHold: 1}},
		HoldPeriod: 1,
	})
	require.NoError(t, err)

	store := newMemExperiment()
	require.NoError(t, WriteAnalysis(context.Background(), store, a))
	for _, name := range []string{"topbot.tsv", "topbot-precision.tsv", "bucket-2.tsv", "trade-ml-1-mp1-mh1.tsv"} {
		assert.NotEmpty(t, store.artifact("analyze/"+name), name)
	}
	assert.True(t, strings.HasPrefix(store.artifact("analyze/topbot.tsv"), "year\t1\tmonths\n2020\t0.150000\t2\n"))

	var buf bytes.Buffer
	require.NoError(t, WriteTrades(&buf, a.Trades[0].Rows))
	assert.Equal(t, "date\tbuys\ttotal_hold\tmax_hold\tmh_ticker\tgain\tmarket\n"+
		"2020-01\t1\t1\t1\tA\t10.00%\t-\n"+
		"2020-02\t1\t1\t1\tA\t20.00%\t-\n", buf.String())
}
