package usecase

import (
	"context"
	"math"
	"testing"

	"QuantPipe/internal/domain/models"
	"QuantPipe/internal/services/ml"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCutoffAndEligiblePeriod(t *testing.T) {
	c, err := Cutoff("2020-09", models.GridMonthly, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, "2020-05", c)

	c, err = Cutoff("2020-05-31", models.GridCalendar, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, "2020-02-29", c)

	periods := []string{"2020-01", "2020-03", "2020-05"}
	p, ok := EligiblePeriod(periods, "2020-05")
	assert.True(t, ok)
	assert.Equal(t, "2020-03", p, "the cutoff period itself is excluded")
	p, ok = EligiblePeriod(periods, "2020-04")
	assert.True(t, ok)
	assert.Equal(t, "2020-03", p)
	_, ok = EligiblePeriod(periods, "2020-01")
	assert.False(t, ok)
}

// adversarialDataset flips the x/label relation every month, so a model
// trained on month m scores m perfectly and m+1 perfectly wrong.
func adversarialDataset() *models.Dataset {
	return monthlyDataset(months2020(), 30, 11, func(m string) bool { return m[6]%2 == 0 })
}

func TestPredictorNeverUsesFutureModels(t *testing.T) {
	ds := adversarialDataset()
	store := newMemModels()
	p := baseTrainParams()
	p.TrainWindow = 0
	_, err := NewTrainer(store, nil, nil, nil).Train(context.Background(), ds, p, nil)
	require.NoError(t, err)
	periods, _ := store.Periods(context.Background(), 0)
	require.Len(t, periods, 12)

	for _, window := range [][2]int{{0, 0}, {1, 0}, {2, 1}} {
		sink := &memSink{}
		res, err := NewPredictor(store, nil, nil).Predict(context.Background(), ds, PredictParams{
			Grid:             models.GridMonthly,
			TrainWindow:      0,
			PredictionWindow: window[0],
			DelayWindow:      window[1],
		}, sink)
		require.NoError(t, err)
		require.Equal(t, res.Blocks, sink.blocks)
		assert.Equal(t, 1+window[0]+window[1], res.Skips[models.SkipWarmup])

		for _, b := range res.Blocks {
			key, err := models.ParseModelKey(b.Model)
			require.NoError(t, err)
			cutoff, _ := Cutoff(b.Date, models.GridMonthly, window[0], window[1])
			assert.Less(t, key.Period, cutoff, "date %s used model %s", b.Date, key.Period)
			assert.NotEqual(t, b.Date, key.Period)

			// a leaked model would rank every positive gain first
			perfect := true
			for i := 1; i < len(b.Rows); i++ {
				if b.Rows[i-1].Gain < b.Rows[i].Gain {
					perfect = false
				}
			}
			if window == [2]int{0, 0} {
				assert.False(t, perfect, "date %s ranked perfectly", b.Date)
			}
		}
	}
}

func TestPredictorWarmupIsMonotonic(t *testing.T) {
	ds := monthlyDataset(months2020(), 5, 2, nil)
	store := newMemModels()
	p := baseTrainParams()
	p.TrainWindow = 0
	p.StartDate = "2020-03-01"
	p.EndDate = "2020-03-31"
	_, err := NewTrainer(store, nil, nil, nil).Train(context.Background(), ds, p, nil)
	require.NoError(t, err)

	res, err := NewPredictor(store, nil, nil).Predict(context.Background(), ds, PredictParams{Grid: models.GridMonthly, PredictionWindow: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Skips[models.SkipWarmup])
	require.Len(t, res.Blocks, 8)
	for i, b := range res.Blocks {
		assert.Equal(t, months2020()[4+i], b.Date)
		assert.Equal(t, "202003-0", b.Model)
	}
	assert.Equal(t, 40, res.Rows)
	assert.Equal(t, 1, store.loads, "the decoded model is reused across dates")
}

// listedModels lists a period whose artifact is missing.
type listedModels struct {
	*memModels
	extra string
}

func (m listedModels) Periods(ctx context.Context, window int) ([]string, error) {
	out, err := m.memModels.Periods(ctx, window)
	return append(out, m.extra), err
}

func TestPredictorGapAfterStartIsFatal(t *testing.T) {
	ds := monthlyDataset(months2020(), 5, 2, nil)
	store := newMemModels()
	p := baseTrainParams()
	p.TrainWindow = 0
	p.EndDate = "2020-02-28"
	_, err := NewTrainer(store, nil, nil, nil).Train(context.Background(), ds, p, nil)
	require.NoError(t, err)

	sink := &memSink{}
	_, err = NewPredictor(listedModels{store, "2020-06"}, nil, nil).Predict(context.Background(), ds, PredictParams{Grid: models.GridMonthly}, sink)
	require.ErrorIs(t, err, models.ErrPredictionGap)
	assert.True(t, models.IsFatal(err))
	assert.Len(t, sink.blocks, 5, "blocks before the gap were written")
}

func TestScoreBlockSortsDescendingAndImputes(t *testing.T) {
	ds := monthlyDataset([]string{"2020-01"}, 50, 4, nil)
	est, err := ml.NewEstimator(ml.ModelSpec{Kind: ml.KindLogistic}, 1)
	require.NoError(t, err)
	imp, err := ml.NewImputer(ml.ImputeZero)
	require.NoError(t, err)
	x := make([][]float64, len(ds.Rows))
	y := make([]float64, len(ds.Rows))
	for i, r := range ds.Rows {
		x[i] = r.Features
		if r.Label == models.LabelPositive {
			y[i] = 1
		}
	}
	require.NoError(t, imp.Fit(x))
	require.NoError(t, est.Fit(x, y, nil))

	ds.Rows[0].Features[0] = math.NaN()
	block, err := scoreBlock(ds.Rows, seq(len(ds.Rows)), est, imp)
	require.NoError(t, err)
	require.Len(t, block.Rows, 50)
	for i := 1; i < len(block.Rows); i++ {
		assert.GreaterOrEqual(t, block.Rows[i-1].Score, block.Rows[i].Score)
	}
}
