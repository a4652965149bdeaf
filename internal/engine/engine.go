// Package engine assembles the resolver, calendar, coordinator and bar
// cache into one value with an explicit Start/Shutdown lifecycle, replacing
// the "global module state" the teacher's DI container manages for the
// trading app (spec.md §9 Design Notes: "Global module state" →
// re-architected as an explicit Engine value). internal/server holds one
// Engine and calls into it per request; internal/scheduler calls into it
// from cron jobs.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/apperr"
	"github.com/aristath/quantlab/internal/barcache"
	"github.com/aristath/quantlab/internal/calendar"
	"github.com/aristath/quantlab/internal/coordinator"
	"github.com/aristath/quantlab/internal/database"
	"github.com/aristath/quantlab/internal/series"
	"github.com/aristath/quantlab/internal/symbol"
	"github.com/aristath/quantlab/internal/upstream"
)

// Engine owns the resolved dependency graph for one running process.
type Engine struct {
	DB          *database.DB
	Session     upstream.Session
	Calendar    *calendar.Calendar
	Resolver    *symbol.Resolver
	Coordinator *coordinator.Coordinator
	Cache       *barcache.Cache

	log zerolog.Logger
}

// Config bundles the settings Engine needs to wire its components.
type Config struct {
	Upstream    upstream.Config
	Coordinator coordinator.Config
	CalendarTTL time.Duration
	CacheMaxBytes int64
}

// New wires (but does not start) an Engine.
func New(db *database.DB, cfg Config, log zerolog.Logger) (*Engine, error) {
	session := upstream.NewWSSession(cfg.Upstream, log)
	coord := coordinator.New(session, cfg.Coordinator, log)
	cal, err := calendar.New(db, coord, cfg.CalendarTTL, log)
	if err != nil {
		return nil, err
	}
	resolver := symbol.NewResolver(cal)
	cache := barcache.New(coord, 5*time.Minute, cfg.CacheMaxBytes)

	return &Engine{
		DB:          db,
		Session:     session,
		Calendar:    cal,
		Resolver:    resolver,
		Coordinator: coord,
		Cache:       cache,
		log:         log.With().Str("component", "engine").Logger(),
	}, nil
}

// Start brings up the upstream session.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Coordinator.Start(ctx); err != nil {
		return apperr.Wrap(apperr.KindUpstreamUnavailable, "engine: failed to start upstream session", err)
	}
	e.log.Info().Msg("engine started")
	return nil
}

// Shutdown tears down the upstream session.
func (e *Engine) Shutdown(ctx context.Context) error {
	if err := e.Coordinator.Shutdown(ctx); err != nil {
		return err
	}
	e.log.Info().Msg("engine stopped")
	return nil
}

// FetchSeries resolves tok, fetches and splices bars for its full
// instrument chain, and returns the result as a close-price Series,
// applying ratio back-adjustment at each roll seam for continuous futures
// (spec.md §4.1, §9 Open Question decision: "ratio adjustment").
func (e *Engine) FetchSeries(ctx context.Context, tok symbol.Token, barSize string, rth bool, start, end time.Time) (series.Series, error) {
	inst, err := e.Resolver.Resolve(ctx, tok, start, end)
	if err != nil {
		return series.Series{}, err
	}

	result := series.Series{Label: tok.String()}
	for _, seg := range inst.Segments {
		key := barcache.Key{Fingerprint: inst.Fingerprint() + "#" + seg.Contract, BarSize: barSize, RTH: rth}
		bars, err := e.Cache.Get(ctx, key, seg.Contract, barSize, rth, seg.ValidFrom, seg.ValidTo)
		if err != nil {
			return series.Series{}, err
		}
		if len(bars) == 0 {
			continue
		}
		segSeries := series.FromBars(tok.String(), bars)

		if inst.Adjustment == "ratio" && len(result.Points) > 0 {
			oldClose := result.Points[len(result.Points)-1].Value
			newClose := segSeries.Points[0].Value
			result = series.BackAdjustRatio(result, seg.ValidFrom, oldClose, newClose)
		}
		result.Points = append(result.Points, segSeries.Points...)
	}

	if len(result.Points) == 0 {
		return series.Series{}, apperr.New(apperr.KindEmptyResult, "no bars available for the requested range")
	}
	return result, nil
}
