package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/quantlab/internal/apperr"
	"github.com/aristath/quantlab/internal/chart"
	"github.com/aristath/quantlab/internal/engine"
	"github.com/aristath/quantlab/internal/indicators"
	"github.com/aristath/quantlab/internal/pack"
	"github.com/aristath/quantlab/internal/seasonality"
	"github.com/aristath/quantlab/internal/series"
	"github.com/aristath/quantlab/internal/symbol"
)

// handleExprSeries evaluates an expression and returns its raw (possibly
// normalized) value series (spec.md §6 "/expr/series").
func (s *Server) handleExprSeries(w http.ResponseWriter, r *http.Request) {
	var req baseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := resolveExpr(r.Context(), s.engine, req)
	if err != nil {
		writeError(w, err)
		return
	}
	values, err := applyNorm(req.Norm, res.Values)
	if err != nil {
		writeError(w, err)
		return
	}
	result := chart.FromValues(req.Expr, req.Expr, metaFor(res), "value", res.Timestamps, values)
	writeJSON(w, http.StatusOK, result)
}

// handleExprChart is an alias of /expr/series under the chart contract
// name (spec.md §6 "/expr/chart"): both return the same uniform Result,
// the distinction is purely a client-facing naming convention.
func (s *Server) handleExprChart(w http.ResponseWriter, r *http.Request) {
	s.handleExprSeries(w, r)
}

type maRequest struct {
	baseRequest
	MA     string `json:"ma"`
	Window int    `json:"window"`
}

func (s *Server) handleExprMA(w http.ResponseWriter, r *http.Request) {
	var req maRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := resolveExpr(r.Context(), s.engine, req.baseRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	window := req.Window
	if window <= 0 {
		window = 20
	}
	meta := metaFor(res)
	var result chart.Result
	switch req.MA {
	case "ema":
		result = indicators.EMA(req.Expr, meta, res.Timestamps, res.Values, window)
	case "", "sma":
		result = indicators.SMA(req.Expr, meta, res.Timestamps, res.Values, window)
	default:
		writeError(w, apperr.Newf(apperr.KindUnsupportedParam, "unsupported ma %q, expected sma or ema", req.MA))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type bollingerRequest struct {
	baseRequest
	Period int     `json:"period"`
	Sigma  float64 `json:"sigma"`
}

func (s *Server) handleExprBollinger(w http.ResponseWriter, r *http.Request) {
	var req bollingerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := resolveExpr(r.Context(), s.engine, req.baseRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	period := req.Period
	if period <= 0 {
		period = 20
	}
	sigma := req.Sigma
	if sigma <= 0 {
		sigma = 2
	}
	result := indicators.Bollinger(req.Expr, metaFor(res), res.Timestamps, res.Values, period, sigma)
	writeJSON(w, http.StatusOK, result)
}

type rsiRequest struct {
	baseRequest
	Period int    `json:"period"`
	Bands  string `json:"bands"`
}

func (s *Server) handleExprRSI(w http.ResponseWriter, r *http.Request) {
	var req rsiRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := resolveExpr(r.Context(), s.engine, req.baseRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	period := req.Period
	if period <= 0 {
		period = 14
	}
	var overbought, oversold *float64
	if req.Bands != "none" {
		ob, os := 70.0, 30.0
		overbought, oversold = &ob, &os
	}
	result := indicators.RSI(req.Expr, metaFor(res), res.Timestamps, res.Values, period, overbought, oversold)
	writeJSON(w, http.StatusOK, result)
}

type drawdownRequest struct {
	baseRequest
	Mode          string `json:"mode"`
	RollingWindow int    `json:"rolling_window"`
}

func (s *Server) handleExprDrawdown(w http.ResponseWriter, r *http.Request) {
	var req drawdownRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := resolveExpr(r.Context(), s.engine, req.baseRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	window := 0
	if req.Mode == "rolling" {
		window = req.RollingWindow
		if window <= 0 {
			window = 252
		}
	}
	result := indicators.Drawdown(req.Expr, metaFor(res), res.Timestamps, res.Values, window)
	writeJSON(w, http.StatusOK, result)
}

type sharpeRequest struct {
	baseRequest
	Window int `json:"window"`
}

func (s *Server) handleExprSharpe(w http.ResponseWriter, r *http.Request) {
	var req sharpeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := resolveExpr(r.Context(), s.engine, req.baseRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	window := req.Window
	if window <= 0 {
		window = 60
	}
	result := indicators.Sharpe(req.Expr, metaFor(res), res.Timestamps, res.Values, window, 0, res.BarSize)
	writeJSON(w, http.StatusOK, result)
}

type zscoreRequest struct {
	baseRequest
	Window int       `json:"window"`
	Levels []float64 `json:"levels"`
}

func (s *Server) handleExprZScore(w http.ResponseWriter, r *http.Request) {
	var req zscoreRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := resolveExpr(r.Context(), s.engine, req.baseRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	window := req.Window
	if window <= 0 {
		window = 60
	}
	result := indicators.ZScore(req.Expr, metaFor(res), res.Timestamps, res.Values, window, req.Levels)
	writeJSON(w, http.StatusOK, result)
}

type corrRequest struct {
	baseRequest
	A          string `json:"a"`
	B          string `json:"b"`
	RetHorizon int    `json:"ret_horizon"`
	Window     int    `json:"window"`
}

func (s *Server) handleExprCorr(w http.ResponseWriter, r *http.Request) {
	var req corrRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := requireExpr(req.A); err != nil {
		writeError(w, err)
		return
	}
	if err := requireExpr(req.B); err != nil {
		writeError(w, err)
		return
	}
	barSize, err := canonicalBarSize(req.BarSize)
	if err != nil {
		writeError(w, err)
		return
	}
	start, end, err := parseDuration(req.Duration)
	if err != nil {
		writeError(w, err)
		return
	}

	resA, err := resolveExpr(r.Context(), s.engine, baseRequest{Expr: req.A, Duration: req.Duration, BarSize: req.BarSize, UseRTH: req.UseRTH, Ccy: req.Ccy, IncludeGaps: req.IncludeGaps})
	if err != nil {
		writeError(w, err)
		return
	}
	resB, err := resolveExpr(r.Context(), s.engine, baseRequest{Expr: req.B, Duration: req.Duration, BarSize: req.BarSize, UseRTH: req.UseRTH, Ccy: req.Ccy, IncludeGaps: req.IncludeGaps})
	if err != nil {
		writeError(w, err)
		return
	}

	frame := series.Align([]series.Series{
		{Label: "a", Points: pointsOf(resA.Timestamps, resA.Values)},
		{Label: "b", Points: pointsOf(resB.Timestamps, resB.Values)},
	}, series.AlignIntersection, maxGapFill)

	horizon := req.RetHorizon
	if horizon <= 0 {
		horizon = 1
	}
	window := req.Window
	if window <= 0 {
		window = 60
	}

	meta := chart.Meta{BarSize: formatBarSizeForMeta(barSize), UseRTH: req.UseRTH, Range: chart.Range{Start: start, End: end}}
	exprText := req.A + " vs " + req.B
	result := indicators.Correlation(exprText, meta, frame.Timestamps, frame.Columns["a"], frame.Columns["b"], horizon, window)
	writeJSON(w, http.StatusOK, result)
}

type seasonalityYearsRequest struct {
	baseRequest
	Years            []int  `json:"years"`
	Rebase           string `json:"rebase"`
	MinPointsPerYear int    `json:"min_points_per_year"`
}

func (s *Server) handleSeasonalityYears(w http.ResponseWriter, r *http.Request) {
	var req seasonalityYearsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := resolveExpr(r.Context(), s.engine, req.baseRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	mode := seasonality.NormPercent
	if req.Rebase == "index100" {
		mode = seasonality.NormIndex100
	}
	s1 := series.Series{Label: req.Expr, Points: pointsOf(res.Timestamps, res.Values)}
	result := seasonality.Years(s1, mode, req.Years)
	writeJSON(w, http.StatusOK, yearsResponse(req.Expr, metaFor(res), result))
}

type seasonalityHeatmapRequest struct {
	baseRequest
	Bucket string `json:"bucket"`
	Years  []int  `json:"years"`
}

func (s *Server) handleSeasonalityHeatmap(w http.ResponseWriter, r *http.Request) {
	var req seasonalityHeatmapRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := resolveExpr(r.Context(), s.engine, req.baseRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	bucketing := seasonality.BucketMonth
	if req.Bucket == "week" {
		bucketing = seasonality.BucketISOWeek
	}
	s1 := series.Series{Label: req.Expr, Points: pointsOf(res.Timestamps, res.Values)}
	if len(req.Years) > 0 {
		s1 = filterYears(s1, req.Years)
	}
	const minPointsPerBucket = 5
	result := seasonality.Heatmap(s1, bucketing, minPointsPerBucket)
	writeJSON(w, http.StatusOK, heatmapResponse(req.Expr, metaFor(res), result))
}

type ohlcvRequest struct {
	Symbol       string `json:"symbol"`
	Resolution   string `json:"resolution"`
	Range        string `json:"range"`
	UseRTH       bool   `json:"use_rth"`
	IncludeVolume bool   `json:"include_volume"`
	MaxBars      int    `json:"max_bars"`
}

// handleDataOHLCV returns the closing-price series for a single symbol,
// bypassing the expression engine (spec.md §6 "/data/ohlcv"). Open, high,
// low and volume are not returned, and include_volume has no effect.
func (s *Server) handleDataOHLCV(w http.ResponseWriter, r *http.Request) {
	var req ohlcvRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Symbol == "" {
		writeError(w, apperr.New(apperr.KindParseError, "symbol is required"))
		return
	}
	tok, err := symbol.Parse(req.Symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	barSize, err := canonicalBarSize(req.Resolution)
	if err != nil {
		writeError(w, err)
		return
	}
	start, end, err := parseDuration(req.Range)
	if err != nil {
		writeError(w, err)
		return
	}

	closes, err := s.engine.FetchSeries(r.Context(), tok, barSize, req.UseRTH, start, end)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.MaxBars > 0 && len(closes.Points) > req.MaxBars {
		closes.Points = closes.Points[len(closes.Points)-req.MaxBars:]
	}

	meta := chart.Meta{BarSize: formatBarSizeForMeta(barSize), UseRTH: req.UseRTH, Range: chart.Range{Start: start, End: end}}
	timestamps, values := timestampsAndValues(closes.Points)
	result := chart.FromValues(req.Symbol, req.Symbol, meta, "close", timestamps, values)
	writeJSON(w, http.StatusOK, result)
}

// packOverlay describes one companion series of an /expr/pack request. A
// bare Expr with no Kind (or kind "value") evaluates and returns the raw
// series; any other Kind dispatches to the matching internal/indicators
// function, keyed by the same names as the standalone /expr/<kind>
// endpoints (spec.md §4.8).
type packOverlay struct {
	Label      string    `json:"label"`
	Kind       string    `json:"kind"`
	Expr       string    `json:"expr"`
	B          string    `json:"b"`
	MA         string    `json:"ma"`
	Period     int       `json:"period"`
	Window     int       `json:"window"`
	Sigma      float64   `json:"sigma"`
	Bands      string    `json:"bands"`
	Mode       string    `json:"mode"`
	RetHorizon int       `json:"ret_horizon"`
	Levels     []float64 `json:"levels"`
}

type packRequest struct {
	baseRequest
	Base     string        `json:"base"`
	Overlays []packOverlay `json:"overlays"`
	Panels   []packOverlay `json:"panels"`
}

// handleExprPack fetches a base expression once and runs every overlay and
// panel concurrently against the same request window (spec.md §6
// "/expr/pack", §4.8).
func (s *Server) handleExprPack(w http.ResponseWriter, r *http.Request) {
	var req packRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	baseReq := baseRequest{Expr: req.Base, Duration: req.Duration, BarSize: req.BarSize, UseRTH: req.UseRTH, Norm: req.Norm, Ccy: req.Ccy, IncludeGaps: req.IncludeGaps}

	fetchBase := func(ctx context.Context) (chart.Result, error) {
		res, err := resolveExpr(ctx, s.engine, baseReq)
		if err != nil {
			return chart.Result{}, err
		}
		values, err := applyNorm(req.Norm, res.Values)
		if err != nil {
			return chart.Result{}, err
		}
		return chart.FromValues(req.Base, req.Base, metaFor(res), "value", res.Timestamps, values), nil
	}

	companions := make([]pack.Companion, 0, len(req.Overlays)+len(req.Panels))
	for _, ov := range append(append([]packOverlay{}, req.Overlays...), req.Panels...) {
		ov := ov
		companions = append(companions, pack.Companion{
			Label: ov.Label,
			Run: func(ctx context.Context) (chart.Result, error) {
				return runOverlay(ctx, s.engine, req.Base, req.baseRequest, ov)
			},
		})
	}

	result, err := pack.Run(r.Context(), fetchBase, companions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, packResponse(result))
}

// runOverlay resolves one packOverlay against the pack's shared request
// window, dispatching to the indicator named by ov.Kind. An overlay with no
// expr of its own (spec.md §4.8: `{"kind":"bollinger","period":20,"sigma":2}`)
// is computed against the pack's base expression.
func runOverlay(ctx context.Context, e *engine.Engine, baseExpr string, shared baseRequest, ov packOverlay) (chart.Result, error) {
	exprText := ov.Expr
	if exprText == "" {
		exprText = baseExpr
	}

	if ov.Kind == "corr" {
		return runOverlayCorr(ctx, e, baseExpr, shared, ov)
	}

	cr := baseRequest{Expr: exprText, Duration: shared.Duration, BarSize: shared.BarSize, UseRTH: shared.UseRTH, Ccy: shared.Ccy, IncludeGaps: shared.IncludeGaps}
	res, err := resolveExpr(ctx, e, cr)
	if err != nil {
		return chart.Result{}, err
	}
	meta := metaFor(res)

	switch ov.Kind {
	case "", "value":
		return chart.FromValues(ov.Label, exprText, meta, "value", res.Timestamps, res.Values), nil
	case "ma":
		window := ov.Window
		if window <= 0 {
			window = 20
		}
		if ov.MA == "ema" {
			return indicators.EMA(exprText, meta, res.Timestamps, res.Values, window), nil
		}
		return indicators.SMA(exprText, meta, res.Timestamps, res.Values, window), nil
	case "bollinger":
		period := ov.Period
		if period <= 0 {
			period = 20
		}
		sigma := ov.Sigma
		if sigma <= 0 {
			sigma = 2
		}
		return indicators.Bollinger(exprText, meta, res.Timestamps, res.Values, period, sigma), nil
	case "rsi":
		period := ov.Period
		if period <= 0 {
			period = 14
		}
		var overbought, oversold *float64
		if ov.Bands != "none" {
			ob, os := 70.0, 30.0
			overbought, oversold = &ob, &os
		}
		return indicators.RSI(exprText, meta, res.Timestamps, res.Values, period, overbought, oversold), nil
	case "sharpe":
		window := ov.Window
		if window <= 0 {
			window = 60
		}
		return indicators.Sharpe(exprText, meta, res.Timestamps, res.Values, window, 0, res.BarSize), nil
	case "zscore":
		window := ov.Window
		if window <= 0 {
			window = 60
		}
		return indicators.ZScore(exprText, meta, res.Timestamps, res.Values, window, ov.Levels), nil
	case "drawdown":
		window := 0
		if ov.Mode == "rolling" {
			window = ov.Window
			if window <= 0 {
				window = 252
			}
		}
		return indicators.Drawdown(exprText, meta, res.Timestamps, res.Values, window), nil
	default:
		return chart.Result{}, apperr.Newf(apperr.KindUnsupportedParam, "unsupported overlay kind %q", ov.Kind)
	}
}

// runOverlayCorr resolves a two-legged "corr" overlay (ov.Expr, defaulting
// to the pack's base expr, vs ov.B), mirroring handleExprCorr's alignment
// against the pack's shared window.
func runOverlayCorr(ctx context.Context, e *engine.Engine, baseExpr string, shared baseRequest, ov packOverlay) (chart.Result, error) {
	aExpr := ov.Expr
	if aExpr == "" {
		aExpr = baseExpr
	}
	if err := requireExpr(aExpr); err != nil {
		return chart.Result{}, err
	}
	if err := requireExpr(ov.B); err != nil {
		return chart.Result{}, err
	}

	resA, err := resolveExpr(ctx, e, baseRequest{Expr: aExpr, Duration: shared.Duration, BarSize: shared.BarSize, UseRTH: shared.UseRTH, Ccy: shared.Ccy, IncludeGaps: shared.IncludeGaps})
	if err != nil {
		return chart.Result{}, err
	}
	resB, err := resolveExpr(ctx, e, baseRequest{Expr: ov.B, Duration: shared.Duration, BarSize: shared.BarSize, UseRTH: shared.UseRTH, Ccy: shared.Ccy, IncludeGaps: shared.IncludeGaps})
	if err != nil {
		return chart.Result{}, err
	}

	frame := series.Align([]series.Series{
		{Label: "a", Points: pointsOf(resA.Timestamps, resA.Values)},
		{Label: "b", Points: pointsOf(resB.Timestamps, resB.Values)},
	}, series.AlignIntersection, maxGapFill)

	horizon := ov.RetHorizon
	if horizon <= 0 {
		horizon = 1
	}
	window := ov.Window
	if window <= 0 {
		window = 60
	}

	meta := metaFor(resA)
	exprText := aExpr + " vs " + ov.B
	return indicators.Correlation(exprText, meta, frame.Timestamps, frame.Columns["a"], frame.Columns["b"], horizon, window), nil
}

func pointsOf(timestamps []time.Time, values []float64) []series.Point {
	out := make([]series.Point, len(timestamps))
	for i, ts := range timestamps {
		out[i] = series.Point{Timestamp: ts, Value: values[i]}
	}
	return out
}

func timestampsAndValues(points []series.Point) ([]time.Time, []float64) {
	ts := make([]time.Time, len(points))
	vs := make([]float64, len(points))
	for i, p := range points {
		ts[i] = p.Timestamp
		vs[i] = p.Value
	}
	return ts, vs
}

func filterYears(s series.Series, years []int) series.Series {
	want := make(map[int]bool, len(years))
	for _, y := range years {
		want[y] = true
	}
	out := make([]series.Point, 0, len(s.Points))
	for _, p := range s.Points {
		if want[p.Timestamp.Year()] {
			out = append(out, p)
		}
	}
	return series.Series{Label: s.Label, Points: out}
}

func yearsResponse(exprText string, meta chart.Meta, result seasonality.YearsResult) chart.Result {
	r := chart.Result{Label: "seasonality_years", Expr: exprText, Meta: meta}
	for _, yc := range result.Years {
		ts := make([]time.Time, len(yc.Points))
		vs := make([]float64, len(yc.Points))
		for i, p := range yc.Points {
			ts[i], vs[i] = p.Timestamp, p.Value
		}
		r.AddSeries(yearLabel(yc.Year), ts, vs)
	}
	r.Tables = map[string]any{
		"p0":   result.P0,
		"p50":  result.P50,
		"p100": result.P100,
		"mean": result.Mean,
	}
	return r
}

func heatmapResponse(exprText string, meta chart.Meta, result seasonality.HeatmapResult) chart.Result {
	r := chart.Result{Label: "seasonality_heatmap", Expr: exprText, Meta: meta}
	r.Tables = map[string]any{
		"cells": result.Cells,
		"stats": result.Stats,
	}
	return r
}

// packResponse tags each pack response with a correlation ID (spec.md §6
// "/expr/pack", §9 "pack_id lets a client match a slow request back to a
// specific server-side log line") and the process diagnostics snapshot.
func packResponse(result pack.Result) map[string]any {
	companions := make(map[string]any, len(result.Companions))
	for _, c := range result.Companions {
		if c.Err != nil {
			companions[c.Label] = map[string]any{"error": c.Err.Error()}
			continue
		}
		companions[c.Label] = c.Result
	}
	return map[string]any{
		"pack_id":    uuid.NewString(),
		"base":       result.Base,
		"companions": companions,
		"engine":     collectDiagnostics(),
	}
}

func yearLabel(year int) string {
	return "y" + strconv.Itoa(year)
}
