package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type report struct {
	Ks   []int     `json:"ks"`
	Gain []float64 `json:"gain"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()

	require.NoError(t, mc.Set(ctx, "topbot:exp1", report{Ks: []int{10, -10}, Gain: []float64{1.5, -0.5}}, 0))
	require.NoError(t, mc.Set(ctx, "step:exp1:predict", "done", 0))

	var got report
	require.NoError(t, mc.Get(ctx, "topbot:exp1", &got))
	assert.Equal(t, []int{10, -10}, got.Ks)

	var s string
	require.NoError(t, mc.Get(ctx, "step:exp1:predict", &s))
	assert.Equal(t, "done", s)

	keys, err := mc.Keys(ctx, "step:exp1:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"step:exp1:predict"}, keys)

	require.NoError(t, mc.DeleteByPattern(ctx, "step:*"))
	ok, err := mc.Exists(ctx, "step:exp1:predict")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, mc.Get(ctx, "missing", &s), ErrCacheMiss)
}

func TestMemoryCacheExpiryAndEviction(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	mc.now = func() time.Time { return now }

	require.NoError(t, mc.Set(ctx, "a", "1", time.Minute))
	now = now.Add(time.Second)
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	now = now.Add(time.Second)
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	ok, _ := mc.Exists(ctx, "a")
	assert.False(t, ok, "least recently used key is evicted")

	require.NoError(t, mc.Set(ctx, "d", "4", time.Second))
	now = now.Add(2 * time.Second)
	ok, _ = mc.Exists(ctx, "d")
	assert.False(t, ok)
}

func TestGetOrCompute(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	calls := 0
	compute := func() (report, error) {
		calls++
		return report{Ks: []int{5}}, nil
	}

	for i := 0; i < 2; i++ {
		r, err := GetOrCompute(ctx, mc, "k", time.Minute, compute)
		require.NoError(t, err)
		assert.Equal(t, []int{5}, r.Ks)
	}
	assert.Equal(t, 1, calls)

	_, err := GetOrCompute(ctx, mc, "other", 0, func() (report, error) {
		return report{}, errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
}

func TestRedisCachePrefixesKeys(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	rc := NewRedisCacheFromClient(db, "quantpipe")

	mock.ExpectSet("quantpipe:step:exp1:predict", []byte("done"), 0).SetVal("OK")
	mock.ExpectExists("quantpipe:step:exp1:predict").SetVal(1)
	mock.ExpectKeys("quantpipe:step:exp1:*").SetVal([]string{"quantpipe:step:exp1:predict"})
	mock.ExpectGet("quantpipe:missing").RedisNil()

	require.NoError(t, rc.Set(ctx, "step:exp1:predict", "done", 0))
	ok, err := rc.Exists(ctx, "step:exp1:predict")
	require.NoError(t, err)
	assert.True(t, ok)
	keys, err := rc.Keys(ctx, "step:exp1:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"step:exp1:predict"}, keys)
	var s string
	assert.ErrorIs(t, rc.Get(ctx, "missing", &s), ErrCacheMiss)

	require.NoError(t, mock.ExpectationsWereMet())
}
