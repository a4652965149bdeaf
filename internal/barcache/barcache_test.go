package barcache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/quantlab/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls   int32
	results map[string]func() (upstream.Result, error)
	def     func(req upstream.Request) (upstream.Result, error)
}

func (f *fakeFetcher) FetchBars(_ context.Context, cacheKey string, req upstream.Request) (upstream.Result, error) {
	atomic.AddInt32(&f.calls, 1)
	if fn, ok := f.results[cacheKey]; ok {
		return fn()
	}
	return f.def(req)
}

func barAt(minute int, close float64) upstream.Bar {
	return upstream.Bar{Timestamp: time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC), Close: close}
}

func TestGetFetchesOnMiss(t *testing.T) {
	fetcher := &fakeFetcher{def: func(req upstream.Request) (upstream.Result, error) {
		return upstream.Result{Bars: []upstream.Bar{barAt(0, 1), barAt(1, 2)}}, nil
	}}
	c := New(fetcher, time.Hour, 0)

	bars, err := c.Get(context.Background(), Key{Fingerprint: "EQ:AAPL", BarSize: "1m"}, "AAPL", "1m", false,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 2, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.EqualValues(t, 1, fetcher.calls)
}

func TestGetServesFromCacheOnFullCoverageHit(t *testing.T) {
	fetcher := &fakeFetcher{def: func(req upstream.Request) (upstream.Result, error) {
		return upstream.Result{Bars: []upstream.Bar{barAt(0, 1), barAt(1, 2), barAt(2, 3)}}, nil
	}}
	c := New(fetcher, time.Hour, 0)
	key := Key{Fingerprint: "EQ:AAPL", BarSize: "1m"}
	start, end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 3, 0, 0, time.UTC)

	_, err := c.Get(context.Background(), key, "AAPL", "1m", false, start, end)
	require.NoError(t, err)

	bars, err := c.Get(context.Background(), key, "AAPL", "1m", false, start, end)
	require.NoError(t, err)
	assert.Len(t, bars, 3)
	assert.EqualValues(t, 1, fetcher.calls) // second call served from cache
}

func TestGetFallsBackToStaleOnRefillError(t *testing.T) {
	key := Key{Fingerprint: "EQ:AAPL", BarSize: "1m"}
	first := true
	fetcher := &fakeFetcher{def: func(req upstream.Request) (upstream.Result, error) {
		if first {
			first = false
			return upstream.Result{Bars: []upstream.Bar{barAt(0, 1)}}, nil
		}
		return upstream.Result{}, errors.New("upstream down")
	}}
	c := New(fetcher, time.Nanosecond, 0)

	_, err := c.Get(context.Background(), key, "AAPL", "1m", false,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC))
	require.NoError(t, err)

	time.Sleep(time.Millisecond)

	// The entry is now past its TTL, so the same range is refetched; the
	// refill fetch fails, but the cached range still covers the request and
	// the stale bars are served.
	bars, err := c.Get(context.Background(), key, "AAPL", "1m", false,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.EqualValues(t, 2, fetcher.calls)

	// A wider range the cache doesn't cover has no stale fallback.
	_, err = c.Get(context.Background(), key, "AAPL", "1m", false,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC))
	assert.Error(t, err)
}

func TestGetPropagatesFetchErrorOnMiss(t *testing.T) {
	wantErr := errors.New("no data farm")
	fetcher := &fakeFetcher{def: func(req upstream.Request) (upstream.Result, error) {
		return upstream.Result{}, wantErr
	}}
	c := New(fetcher, time.Hour, 0)

	_, err := c.Get(context.Background(), Key{Fingerprint: "EQ:AAPL"}, "AAPL", "1m", false,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC))
	assert.ErrorIs(t, err, wantErr)
}

func TestKeyString(t *testing.T) {
	k := Key{Fingerprint: "EQ:AAPL", BarSize: "1d", RTH: true}
	assert.Equal(t, "EQ:AAPL|1d|1", k.String())
	k.RTH = false
	assert.Equal(t, "EQ:AAPL|1d|0", k.String())
}

func TestStatsTracksUsageAndEvicts(t *testing.T) {
	fetcher := &fakeFetcher{def: func(req upstream.Request) (upstream.Result, error) {
		return upstream.Result{Bars: []upstream.Bar{barAt(0, 1), barAt(1, 2)}}, nil
	}}
	c := New(fetcher, time.Hour, 1) // tiny budget forces eviction

	_, err := c.Get(context.Background(), Key{Fingerprint: "A"}, "A", "1m", false,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 2, 0, 0, time.UTC))
	require.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, 0, stats.Entries) // evicted immediately, budget of 1 byte
	assert.EqualValues(t, 1, stats.MaxBytes)
}
