package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"QuantPipe/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounters(t *testing.T) {
	r := New()
	r.RecordSkips("assemble", models.SkipStats{"window": 3, "index": 0, "min_perc": 2})
	r.RecordSkips("assemble", models.SkipStats{"window": 1})
	r.RecordRows("assemble", 10)
	r.RecordModel(models.StateTrained)
	r.RecordModel(models.StateInsufficient)
	r.RecordModel(models.StateTrained)
	r.RecordLatency("assemble", 0.3)

	assert.Equal(t, 4.0, testutil.ToFloat64(r.skips.WithLabelValues("assemble", "window")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.skips.WithLabelValues("assemble", "min_perc")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.rows.WithLabelValues("assemble")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.models.WithLabelValues("trained")))

	// Zero counts never create a series.
	n, err := testutil.GatherAndCount(r.Gatherer(), "quantpipe_stage_skips_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Two recorders do not share state.
	assert.Equal(t, 0.0, testutil.ToFloat64(New().rows.WithLabelValues("assemble")))
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.RecordRows("predict", 5)
	path := filepath.Join(t.TempDir(), "quantpipe.prom")
	require.NoError(t, r.WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), `quantpipe_stage_rows_total{stage="predict"} 5`))
}
