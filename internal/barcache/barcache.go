// Package barcache is the LRU+TTL bar cache of spec.md §4.3: it stores
// fetched bar ranges keyed by (instrument fingerprint, bar size, RTH flag),
// splices in partial-range fetches on a hit whose stored range doesn't
// fully cover the request, and falls back to serving a stale entry rather
// than an error when a refill fetch fails. Grounded on the teacher's
// internal/work/cache.go TTL-map idiom, generalized from a single expiring
// value per key to a range-aware bar store, with entry size estimated via
// msgpack encoding (the teacher's own wire format for cached payloads) for
// LRU eviction accounting.
package barcache

import (
	"container/list"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/quantlab/internal/upstream"
)

// Key identifies one cached bar range.
type Key struct {
	Fingerprint string
	BarSize     string
	RTH         bool
}

func (k Key) String() string {
	rth := "0"
	if k.RTH {
		rth = "1"
	}
	return fmt.Sprintf("%s|%s|%s", k.Fingerprint, k.BarSize, rth)
}

// Fetcher performs the actual upstream fetch for a cache miss or partial
// splice; implemented by internal/coordinator.
type Fetcher interface {
	FetchBars(ctx context.Context, cacheKey string, req upstream.Request) (upstream.Result, error)
}

type entry struct {
	key        Key
	bars       []upstream.Bar
	rangeStart time.Time
	rangeEnd   time.Time
	fetchedAt  time.Time
	sizeBytes  int
	elem       *list.Element
}

// Cache is the bar cache: one entry per Key, each entry covering the union
// of ranges fetched for that key so far.
type Cache struct {
	fetcher  Fetcher
	ttl      time.Duration
	maxBytes int64

	mu        sync.Mutex
	entries   map[string]*entry
	lru       *list.List
	usedBytes int64
}

// New builds a Cache bounded by maxBytes of estimated payload size, evicting
// least-recently-used entries once the bound is exceeded.
func New(fetcher Fetcher, ttl time.Duration, maxBytes int64) *Cache {
	return &Cache{
		fetcher:  fetcher,
		ttl:      ttl,
		maxBytes: maxBytes,
		entries:  make(map[string]*entry),
		lru:      list.New(),
	}
}

// Get returns bars covering [start, end) for key, fetching, splicing, or
// serving a stale entry as needed per spec.md §4.3.
func (c *Cache) Get(ctx context.Context, key Key, contract string, barSize string, rth bool, start, end time.Time) ([]upstream.Bar, error) {
	c.mu.Lock()
	e, ok := c.entries[key.String()]
	if ok {
		c.lru.MoveToFront(e.elem)
	}
	c.mu.Unlock()

	if !ok {
		return c.fetchFull(ctx, key, contract, barSize, rth, start, end)
	}

	fresh := time.Since(e.fetchedAt) <= c.ttl
	covers := !e.rangeStart.After(start) && !e.rangeEnd.Before(end)

	if covers && fresh {
		return sliceBars(e.bars, start, end), nil
	}

	// Partial coverage: fetch only the missing edges and splice, rather than
	// re-fetching the whole requested range (spec.md §4.3 "Partial-range
	// splice"). A covering entry past its TTL refetches the requested range.
	missingStart, missingEnd, _ := missingSpan(e, start, end)

	req := upstream.Request{Contract: contract, BarSize: barSize, Start: missingStart, End: missingEnd, RTH: rth}
	result, err := c.fetcher.FetchBars(ctx, key.String(), req)
	if err != nil {
		if covers {
			// Stale-on-failure: the cached range still covers the request,
			// so serve it rather than propagating the refill error.
			return sliceBars(e.bars, start, end), nil
		}
		return nil, err
	}

	merged := mergeBars(e.bars, result.Bars)
	newStart, newEnd := e.rangeStart, e.rangeEnd
	if start.Before(newStart) {
		newStart = start
	}
	if end.After(newEnd) {
		newEnd = end
	}
	c.store(key, merged, newStart, newEnd)
	return sliceBars(merged, start, end), nil
}

func (c *Cache) fetchFull(ctx context.Context, key Key, contract, barSize string, rth bool, start, end time.Time) ([]upstream.Bar, error) {
	req := upstream.Request{Contract: contract, BarSize: barSize, Start: start, End: end, RTH: rth}
	result, err := c.fetcher.FetchBars(ctx, key.String(), req)
	if err != nil {
		return nil, err
	}
	c.store(key, result.Bars, start, end)
	return result.Bars, nil
}

// missingSpan reports the [from, to) span not yet covered by e. A request
// extending past both edges is fetched whole, and a request disjoint from
// the cached range is widened to span the gap between them (one fetch
// rather than two, trading a slightly larger fetch for simplicity).
func missingSpan(e *entry, start, end time.Time) (time.Time, time.Time, bool) {
	if !e.rangeStart.After(start) && !e.rangeEnd.Before(end) {
		return start, end, false
	}
	switch {
	case end.Before(e.rangeStart):
		return start, e.rangeStart, true
	case start.After(e.rangeEnd):
		return e.rangeEnd, end, true
	case start.Before(e.rangeStart) && !end.After(e.rangeEnd):
		return start, e.rangeStart, true
	case end.After(e.rangeEnd) && !start.Before(e.rangeStart):
		return e.rangeEnd, end, true
	default:
		return start, end, true
	}
}

func (c *Cache) store(key Key, bars []upstream.Bar, start, end time.Time) {
	size := estimateSize(bars)

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key.String()]; ok {
		c.lru.Remove(old.elem)
		c.usedBytes -= int64(old.sizeBytes)
	}

	e := &entry{key: key, bars: bars, rangeStart: start, rangeEnd: end, fetchedAt: time.Now(), sizeBytes: size}
	e.elem = c.lru.PushFront(e)
	c.entries[key.String()] = e
	c.usedBytes += int64(size)

	c.evictLocked()
}

func (c *Cache) evictLocked() {
	for c.maxBytes > 0 && c.usedBytes > c.maxBytes && c.lru.Len() > 0 {
		back := c.lru.Back()
		victim := back.Value.(*entry)
		c.lru.Remove(back)
		delete(c.entries, victim.key.String())
		c.usedBytes -= int64(victim.sizeBytes)
	}
}

// estimateSize serializes bars with msgpack to approximate their resident
// cost for LRU eviction accounting.
func estimateSize(bars []upstream.Bar) int {
	buf, err := msgpack.Marshal(bars)
	if err != nil {
		return len(bars) * 48
	}
	return len(buf)
}

func sliceBars(bars []upstream.Bar, start, end time.Time) []upstream.Bar {
	out := make([]upstream.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Timestamp.Before(start) || !b.Timestamp.Before(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// mergeBars combines two ascending, deduplicated-by-timestamp bar slices.
func mergeBars(a, b []upstream.Bar) []upstream.Bar {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	byTS := make(map[int64]upstream.Bar, len(a)+len(b))
	for _, bar := range a {
		byTS[bar.Timestamp.Unix()] = bar
	}
	for _, bar := range b {
		byTS[bar.Timestamp.Unix()] = bar
	}
	out := make([]upstream.Bar, 0, len(byTS))
	for _, bar := range byTS {
		out = append(out, bar)
	}
	sortBars(out)
	return out
}

func sortBars(bars []upstream.Bar) {
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
}

// Stats is a point-in-time snapshot of cache occupancy.
type Stats struct {
	Entries   int
	UsedBytes int64
	MaxBytes  int64
}

// Stats reports the cache's current occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.entries), UsedBytes: c.usedBytes, MaxBytes: c.maxBytes}
}
