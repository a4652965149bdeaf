// Package coordinator owns the single upstream session and multiplexes
// concurrent fetch requests onto it: a bounded slot pool, token-bucket
// pacing (global and per-contract), in-flight dedup, retry with backoff,
// and the queued→inflight→(done|failed|timedout|cancelled) state machine
// of spec.md §4.2. Grounded on spec.md §4.2 directly (the teacher has no
// equivalent general-purpose coordinator — its work processor is a
// domain-specific job queue) with its Stats snapshot shape borrowed from
// the cryptorun facade.Facade's CacheStats/health-status pattern retrieved
// in the example pack.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/apperr"
	"github.com/aristath/quantlab/internal/calendar"
	"github.com/aristath/quantlab/internal/upstream"
)

// Config bounds the coordinator's concurrency and pacing.
type Config struct {
	Slots              int
	RatePerWindow      int
	RateWindow         time.Duration
	PerContractQPS     int
	RequestTimeout     time.Duration
	MaxRetries         int
	InitialRetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Slots <= 0 {
		c.Slots = 50
	}
	if c.RatePerWindow <= 0 {
		c.RatePerWindow = 50
	}
	if c.RateWindow <= 0 {
		c.RateWindow = 10 * time.Second
	}
	if c.PerContractQPS <= 0 {
		c.PerContractQPS = 6
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 4
	}
	if c.InitialRetryBackoff <= 0 {
		c.InitialRetryBackoff = 250 * time.Millisecond
	}
	return c
}

// state is a request's position in the spec.md §4.2 state machine, used
// only for structured logging and the Stats snapshot.
type state string

const (
	stateQueued   state = "queued"
	stateInflight state = "inflight"
	stateDone     state = "done"
	stateFailed   state = "failed"
	stateTimedOut state = "timedout"
	stateCancelled state = "cancelled"
)

// future is the shared result slot for one in-flight cache-key: the first
// caller performs the fetch; later callers for the same key attach here
// instead of issuing a second upstream call (spec.md §4.2 "Dedup").
type future struct {
	done    chan struct{}
	result  upstream.Result
	err     error
	waiters int
}

// Coordinator is the session/request coordinator of spec.md §4.2.
type Coordinator struct {
	session upstream.Session
	cfg     Config
	log     zerolog.Logger

	slots       chan struct{}
	globalLimit *tokenBucket

	contractMu sync.Mutex
	contractLimits map[string]*tokenBucket

	inflightMu sync.Mutex
	inflight   map[string]*future

	statsMu       sync.Mutex
	totalRequests int64
	totalRetries  int64
	totalFailures int64
}

// New builds a Coordinator around an already-constructed Session.
func New(session upstream.Session, cfg Config, log zerolog.Logger) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		session:        session,
		cfg:            cfg,
		log:            log.With().Str("component", "coordinator").Logger(),
		slots:          make(chan struct{}, cfg.Slots),
		globalLimit:    newTokenBucket(cfg.RatePerWindow, cfg.RateWindow),
		contractLimits: make(map[string]*tokenBucket),
		inflight:       make(map[string]*future),
	}
}

// Start brings up the upstream session.
func (c *Coordinator) Start(ctx context.Context) error {
	return c.session.Start(ctx)
}

// Shutdown tears down the upstream session; it does not wait for in-flight
// fetches to finish.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	return c.session.Shutdown(ctx)
}

func (c *Coordinator) contractLimiter(contract string) *tokenBucket {
	c.contractMu.Lock()
	defer c.contractMu.Unlock()
	if b, ok := c.contractLimits[contract]; ok {
		return b
	}
	b := newTokenBucket(c.cfg.PerContractQPS, time.Second)
	c.contractLimits[contract] = b
	return b
}

// FetchBars is the coordinator's one public fetch operation. cacheKey
// identifies the request for dedup purposes (spec.md §3 "Cache key");
// callers are expected to have already checked the bar cache.
func (c *Coordinator) FetchBars(ctx context.Context, cacheKey string, req upstream.Request) (upstream.Result, error) {
	c.statsMu.Lock()
	c.totalRequests++
	c.statsMu.Unlock()

	st := stateQueued
	start := time.Now()
	logReq := c.log.With().Str("cache_key", cacheKey).Str("contract", req.Contract).Logger()

	if err := ctx.Err(); err != nil {
		st = stateCancelled
		logReq.Debug().Str("state", string(st)).Msg("request cancelled before queueing")
		return upstream.Result{}, apperr.Wrap(apperr.KindCancelled, "coordinator: request cancelled", err)
	}

	// Dedup: attach to an in-flight future for the same key, if any.
	c.inflightMu.Lock()
	if f, ok := c.inflight[cacheKey]; ok {
		f.waiters++
		c.inflightMu.Unlock()
		logReq.Debug().Msg("attached to in-flight request")
		return c.awaitFuture(ctx, f, logReq, start)
	}
	f := &future{done: make(chan struct{}), waiters: 1}
	c.inflight[cacheKey] = f
	c.inflightMu.Unlock()

	// Slot pool: bounds concurrent upstream work.
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		c.removeInflight(cacheKey, f)
		close(f.done)
		st = stateTimedOut
		logReq.Debug().Str("state", string(st)).Msg("timed out waiting for a slot")
		return upstream.Result{}, apperr.Wrap(apperr.KindTimeout, "coordinator: timed out waiting for a slot", ctx.Err())
	}
	defer func() { <-c.slots }()

	st = stateInflight
	logReq.Debug().Str("state", string(st)).Msg("fetching from upstream")

	result, err := c.fetchWithRetry(ctx, req, logReq)

	f.result, f.err = result, err
	close(f.done)
	c.removeInflight(cacheKey, f)

	elapsed := time.Since(start)
	if err != nil {
		c.statsMu.Lock()
		c.totalFailures++
		c.statsMu.Unlock()
		if apperr.KindOf(err) == apperr.KindTimeout {
			st = stateTimedOut
		} else {
			st = stateFailed
		}
		logReq.Debug().Str("state", string(st)).Dur("elapsed", elapsed).Err(err).Msg("request failed")
		return upstream.Result{}, err
	}

	st = stateDone
	logReq.Debug().Str("state", string(st)).Dur("elapsed", elapsed).Int("bars", len(result.Bars)).Msg("request completed")
	return result, nil
}

func (c *Coordinator) removeInflight(key string, f *future) {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	if c.inflight[key] == f {
		delete(c.inflight, key)
	}
}

func (c *Coordinator) awaitFuture(ctx context.Context, f *future, log zerolog.Logger, start time.Time) (upstream.Result, error) {
	select {
	case <-f.done:
		if f.err != nil {
			return upstream.Result{}, f.err
		}
		log.Debug().Dur("elapsed", time.Since(start)).Msg("in-flight request completed for dedup waiter")
		return f.result, nil
	case <-ctx.Done():
		// The in-flight fetch is not cancelled; only this caller's wait is
		// (spec.md §5: "In-flight fetches shared via dedup continue so
		// other callers still benefit").
		return upstream.Result{}, apperr.Wrap(apperr.KindCancelled, "coordinator: caller cancelled while waiting on in-flight request", ctx.Err())
	}
}

func (c *Coordinator) fetchWithRetry(ctx context.Context, req upstream.Request, log zerolog.Logger) (upstream.Result, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if err := c.globalLimit.Take(reqCtx); err != nil {
		return upstream.Result{}, err
	}
	if err := c.contractLimiter(req.Contract).Take(reqCtx); err != nil {
		return upstream.Result{}, err
	}

	backoff := c.cfg.InitialRetryBackoff
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		result, err := c.session.FetchBars(reqCtx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !apperr.Retryable(err) || attempt == c.cfg.MaxRetries {
			return upstream.Result{}, err
		}

		c.statsMu.Lock()
		c.totalRetries++
		c.statsMu.Unlock()
		log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("retrying after transient upstream error")

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-reqCtx.Done():
			timer.Stop()
			return upstream.Result{}, apperr.Wrap(apperr.KindTimeout, "coordinator: deadline exceeded during retry backoff", reqCtx.Err())
		}
		backoff *= 2
	}
	return upstream.Result{}, lastErr
}

// ListContracts satisfies calendar.Lister by forwarding to the session;
// discovery calls are infrequent (TTL-gated) so they bypass the slot pool
// and pacing used for bar fetches.
func (c *Coordinator) ListContracts(ctx context.Context, root string) ([]calendar.Contract, error) {
	return c.session.ListContracts(ctx, root)
}

// Stats is a point-in-time snapshot of coordinator load, exposed at
// /health.
type Stats struct {
	SlotsInUse      int
	SlotsTotal      int
	InFlightKeys    int
	TotalRequests   int64
	TotalRetries    int64
	TotalFailures   int64
	SessionConnected bool
}

// Stats reports the coordinator's current load and lifetime counters.
func (c *Coordinator) Stats() Stats {
	c.inflightMu.Lock()
	inflightKeys := len(c.inflight)
	c.inflightMu.Unlock()

	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	return Stats{
		SlotsInUse:       len(c.slots),
		SlotsTotal:       cap(c.slots),
		InFlightKeys:     inflightKeys,
		TotalRequests:    c.totalRequests,
		TotalRetries:     c.totalRetries,
		TotalFailures:    c.totalFailures,
		SessionConnected: c.session.Connected(),
	}
}

// String renders Stats for log lines using humanized counters, matching
// the teacher's use of dustin/go-humanize for operator-facing numbers.
func (s Stats) String() string {
	return fmt.Sprintf("slots=%d/%d inflight=%d requests=%s retries=%s failures=%s connected=%v",
		s.SlotsInUse, s.SlotsTotal, s.InFlightKeys,
		humanize.Comma(s.TotalRequests), humanize.Comma(s.TotalRetries), humanize.Comma(s.TotalFailures),
		s.SessionConnected)
}
