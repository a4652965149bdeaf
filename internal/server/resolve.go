// resolve.go implements the shared request -> aligned-frame pipeline every
// /expr endpoint starts from: parse the expression, resolve and fetch each
// distinct leaf symbol through the engine, align them onto one timestamp
// axis, then evaluate (spec.md §4.4 "Evaluation pipeline").
package server

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/quantlab/internal/apperr"
	"github.com/aristath/quantlab/internal/chart"
	"github.com/aristath/quantlab/internal/engine"
	"github.com/aristath/quantlab/internal/expr"
	"github.com/aristath/quantlab/internal/series"
	"github.com/aristath/quantlab/internal/symbol"
)

// maxGapFill bounds how many consecutive missing bars Align will carry
// forward from the last observation before leaving a gap as NaN.
const maxGapFill = 5

// baseRequest is the set of fields common to every /expr and /data
// endpoint (spec.md §6).
type baseRequest struct {
	Expr        string `json:"expr"`
	Duration    string `json:"duration"`
	BarSize     string `json:"bar_size"`
	UseRTH      bool   `json:"use_rth"`
	Norm        string `json:"norm"`
	Ccy         string `json:"ccy"`
	IncludeGaps bool   `json:"include_gaps"`
}

// resolved bundles everything a handler needs after the common pipeline:
// the parsed AST, the aligned frame, the evaluated series (with its paired
// timestamps, gap-dropped unless IncludeGaps was set), and the request
// window/bar-size for echoing back in chart.Meta.
type resolved struct {
	Root       *expr.Node
	Frame      series.Frame
	Timestamps []time.Time
	Values     []float64
	BarSize    string
	UseRTH     bool
	Start, End time.Time
}

// resolveExpr runs the shared pipeline for a single expression string.
func resolveExpr(ctx context.Context, e *engine.Engine, req baseRequest) (resolved, error) {
	if err := requireExpr(req.Expr); err != nil {
		return resolved{}, err
	}
	root, err := expr.Parse(req.Expr)
	if err != nil {
		return resolved{}, err
	}
	barSize, err := canonicalBarSize(req.BarSize)
	if err != nil {
		return resolved{}, err
	}
	start, end, err := parseDuration(req.Duration)
	if err != nil {
		return resolved{}, err
	}

	frame, err := fetchFrame(ctx, e, expr.Leaves(root), barSize, req.UseRTH, start, end, req.Ccy)
	if err != nil {
		return resolved{}, err
	}

	values, err := expr.Evaluate(root, frame)
	if err != nil {
		return resolved{}, err
	}

	timestamps := frame.Timestamps
	if !req.IncludeGaps {
		timestamps, values = expr.DropUndefined(timestamps, values)
	}

	return resolved{Root: root, Frame: frame, Timestamps: timestamps, Values: values, BarSize: barSize, UseRTH: req.UseRTH, Start: start, End: end}, nil
}

// fetchFrame resolves and fetches each distinct leaf symbol in parallel,
// converting to ccy when requested, then aligns them onto a common
// timestamp axis (spec.md §4.4 step 2, §4.5 "Aligned frame").
func fetchFrame(ctx context.Context, e *engine.Engine, leaves []string, barSize string, rth bool, start, end time.Time, ccy string) (series.Frame, error) {
	if len(leaves) == 0 {
		return series.Frame{}, apperr.New(apperr.KindParseError, "expression has no symbol leaves")
	}
	legs := make([]series.Series, len(leaves))
	errs := make([]error, len(leaves))

	var wg sync.WaitGroup
	for i, leaf := range leaves {
		wg.Add(1)
		go func(i int, leaf string) {
			defer wg.Done()
			s, err := fetchLeg(ctx, e, leaf, barSize, rth, start, end, ccy)
			if err != nil {
				errs[i] = err
				return
			}
			legs[i] = s
		}(i, leaf)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return series.Frame{}, err
		}
	}
	return series.Align(legs, series.AlignUnion, maxGapFill), nil
}

// fetchLeg resolves and fetches a single leaf symbol, converting it to ccy
// when the leaf's native currency differs from the requested one
// (spec.md §4.4 "ccy": an FX leg instrument is resolved through the same
// symbol/engine pipeline as any other leaf).
func fetchLeg(ctx context.Context, e *engine.Engine, leaf, barSize string, rth bool, start, end time.Time, ccy string) (series.Series, error) {
	tok, err := symbol.Parse(leaf)
	if err != nil {
		return series.Series{}, err
	}
	s, err := e.FetchSeries(ctx, tok, barSize, rth, start, end)
	if err != nil {
		return series.Series{}, err
	}
	s.Label = leaf

	if ccy == "" {
		return s, nil
	}
	inst, err := e.Resolver.Resolve(ctx, tok, start, end)
	if err != nil {
		return series.Series{}, err
	}
	return convertCcy(ctx, e, s, inst.Currency, ccy, barSize, rth, start, end)
}

// convertCcy multiplies leg by the FX rate from its native currency to ccy.
// It first tries the direct pair (native/ccy, e.g. EURUSD to go EUR->USD)
// and falls back to the inverse pair, dividing instead.
func convertCcy(ctx context.Context, e *engine.Engine, leg series.Series, native, ccy, barSize string, rth bool, start, end time.Time) (series.Series, error) {
	if native == "" || native == ccy {
		return leg, nil
	}

	fxTok, err := symbol.Parse("FX:" + native + ccy)
	invert := false
	var fx series.Series
	if err == nil {
		fx, err = e.FetchSeries(ctx, fxTok, barSize, rth, start, end)
	}
	if err != nil {
		fxTok, err = symbol.Parse("FX:" + ccy + native)
		if err != nil {
			return series.Series{}, err
		}
		fx, err = e.FetchSeries(ctx, fxTok, barSize, rth, start, end)
		if err != nil {
			return series.Series{}, err
		}
		invert = true
	}
	fx.Label = "__fx"

	aligned := series.Align([]series.Series{leg, fx}, series.AlignIntersection, maxGapFill)
	legVals := aligned.Columns[leg.Label]
	fxVals := aligned.Columns["__fx"]

	out := make([]series.Point, len(aligned.Timestamps))
	for i, ts := range aligned.Timestamps {
		rate := fxVals[i]
		if invert {
			rate = 1 / rate
		}
		out[i] = series.Point{Timestamp: ts, Value: legVals[i] * rate}
	}
	return series.Series{Label: leg.Label, Points: out}, nil
}

// metaFor builds the chart.Meta common to every response.
func metaFor(res resolved) chart.Meta {
	return chart.Meta{
		BarSize: formatBarSizeForMeta(res.BarSize),
		UseRTH:  res.UseRTH,
		Range:   chart.Range{Start: res.Start, End: res.End},
	}
}

// applyNorm applies the request's norm parameter to values, post-evaluation
// (spec.md §4.4 step 5 runs normalization after arithmetic evaluation).
func applyNorm(raw string, values []float64) ([]float64, error) {
	mode, base, err := parseNorm(raw)
	if err != nil {
		return nil, err
	}
	return expr.Normalize(values, mode, base), nil
}
