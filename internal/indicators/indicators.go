// Package indicators wraps pkg/formulas' numeric output into the uniform
// chart contract of spec.md §4.6 and §4.9: every indicator consumes an
// aligned series and emits a named multi-series chart.Result. Grounded on
// spec.md §4.6 directly, using trader-go's pkg/formulas as the numeric
// engine underneath (gonum stat, go-talib).
package indicators

import (
	"math"
	"strconv"
	"time"

	"github.com/aristath/quantlab/internal/chart"
	"github.com/aristath/quantlab/pkg/formulas"
)

func base(label, exprText string, meta chart.Meta) chart.Result {
	return chart.Result{Label: label, Expr: exprText, Meta: meta}
}

// SMA emits a single `sma` sub-series.
func SMA(exprText string, meta chart.Meta, timestamps []time.Time, closes []float64, window int) chart.Result {
	r := base("sma", exprText, meta)
	r.AddSeries("sma", timestamps, formulas.SMA(closes, window))
	return r
}

// EMA emits a single `ema` sub-series.
func EMA(exprText string, meta chart.Meta, timestamps []time.Time, closes []float64, window int) chart.Result {
	r := base("ema", exprText, meta)
	r.AddSeries("ema", timestamps, formulas.EMA(closes, window))
	return r
}

// Bollinger emits `mid`, `upper`, `lower` sub-series (spec.md §4.6).
func Bollinger(exprText string, meta chart.Meta, timestamps []time.Time, closes []float64, window int, numStdDev float64) chart.Result {
	upper, mid, lower := formulas.BollingerBands(closes, window, numStdDev)
	r := base("bollinger", exprText, meta)
	r.AddSeries("mid", timestamps, mid)
	r.AddSeries("upper", timestamps, upper)
	r.AddSeries("lower", timestamps, lower)
	return r
}

// RSI emits `rsi` plus constant `overbought`/`oversold` band series when
// requested (spec.md §4.6 "RSI(period P, bands)").
func RSI(exprText string, meta chart.Meta, timestamps []time.Time, closes []float64, period int, overbought, oversold *float64) chart.Result {
	rsi := formulas.RSISeries(closes, period)
	r := base("rsi", exprText, meta)
	r.AddSeries("rsi", timestamps, rsi)
	if overbought != nil {
		r.AddSeries("overbought", timestamps, constSeries(len(timestamps), *overbought))
	}
	if oversold != nil {
		r.AddSeries("oversold", timestamps, constSeries(len(timestamps), *oversold))
	}
	if n := len(rsi); n > 0 && !math.IsNaN(rsi[n-1]) {
		last := rsi[n-1]
		if r.Tables == nil {
			r.Tables = map[string]any{}
		}
		r.Tables["last"] = last
	}
	return r
}

// Drawdown emits a `drawdown` sub-series; window<=0 computes a cumulative
// running-max drawdown, otherwise a rolling-window drawdown (spec.md §4.6
// "Drawdown (point)" / "Drawdown (rolling window W)").
func Drawdown(exprText string, meta chart.Meta, timestamps []time.Time, closes []float64, window int) chart.Result {
	r := base("drawdown", exprText, meta)
	if window > 0 {
		r.AddSeries("drawdown", timestamps, formulas.RollingDrawdown(closes, window))
		return r
	}
	r.AddSeries("drawdown", timestamps, cumulativeDrawdown(closes))
	return r
}

func cumulativeDrawdown(closes []float64) []float64 {
	out := make([]float64, len(closes))
	if len(closes) == 0 {
		return out
	}
	peak := closes[0]
	for i, c := range closes {
		if c > peak {
			peak = c
		}
		if peak == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = 100 * (c - peak) / peak
	}
	return out
}

// Sharpe emits a `sharpe` sub-series of the rolling annualized Sharpe ratio
// of log returns, with the annualization factor inferred from bar size
// (spec.md §4.6 "Rolling Sharpe(window W)").
func Sharpe(exprText string, meta chart.Meta, timestamps []time.Time, closes []float64, window int, riskFreeRate float64, barSize string) chart.Result {
	returns := logReturns(closes)
	periodsPerYear := periodsPerYearFor(barSize)
	sharpe := formulas.RollingSharpe(returns, riskFreeRate, periodsPerYear, window)
	r := base("sharpe", exprText, meta)
	// returns is one shorter than closes/timestamps; align by shifting.
	r.AddSeries("sharpe", timestamps[1:], sharpe)
	return r
}

// ZScore emits a `zscore` sub-series plus one constant sub-series per
// requested level (spec.md §4.6 "Z-score(window W, levels L)").
func ZScore(exprText string, meta chart.Meta, timestamps []time.Time, values []float64, window int, levels []float64) chart.Result {
	r := base("zscore", exprText, meta)
	r.AddSeries("zscore", timestamps, formulas.RollingZScore(values, window))
	for _, lvl := range levels {
		r.AddSeries(levelLabel(lvl), timestamps, constSeries(len(timestamps), lvl))
	}
	return r
}

// Correlation emits a `corr` sub-series: the rolling Pearson correlation of
// H-bar log returns of a and b over window W (spec.md §4.6 "Correlation").
func Correlation(exprText string, meta chart.Meta, timestamps []time.Time, a, b []float64, horizon, window int) chart.Result {
	ra := logReturnsHorizon(a, horizon)
	rb := logReturnsHorizon(b, horizon)
	corr := formulas.RollingCorrelation(ra, rb, window)
	r := base("correlation", exprText, meta)
	r.AddSeries("corr", timestamps[horizon:], corr)
	return r
}

// VolumeProfile emits bin centers, volumes, cumulative distribution and the
// value-area low/high capturing massFraction of total volume (spec.md §4.6
// "Volume profile"). The caller supplies massFraction; no default applies.
func VolumeProfile(exprText string, meta chart.Meta, closes, volumes []float64, buckets int, massFraction float64) chart.Result {
	levels, vols := formulas.VolumeProfile(closes, volumes, buckets)
	r := base("volume_profile", exprText, meta)

	total := 0.0
	for _, v := range vols {
		total += v
	}
	cumulative := make([]float64, len(vols))
	running := 0.0
	for i, v := range vols {
		running += v
		if total > 0 {
			cumulative[i] = running / total
		}
	}

	loIdx, hiIdx := valueArea(cumulative, massFraction)

	r.Tables = map[string]any{
		"price_levels": levels,
		"volumes":      vols,
		"cumulative":   cumulative,
	}
	if loIdx >= 0 && hiIdx >= 0 && loIdx < len(levels) && hiIdx < len(levels) {
		r.Tables["value_area_low"] = levels[loIdx]
		r.Tables["value_area_high"] = levels[hiIdx]
	}
	return r
}

// valueArea finds the narrowest [lo, hi] bucket span whose cumulative mass
// captures at least massFraction of total volume, centered on the bucket
// with the highest single-bucket share (a simplified value-area search).
func valueArea(cumulative []float64, massFraction float64) (int, int) {
	n := len(cumulative)
	if n == 0 {
		return -1, -1
	}
	peak := 0
	peakShare := 0.0
	prev := 0.0
	for i, c := range cumulative {
		share := c - prev
		if share > peakShare {
			peakShare = share
			peak = i
		}
		prev = c
	}
	lo, hi := peak, peak
	massAt := func(l, h int) float64 {
		before := 0.0
		if l > 0 {
			before = cumulative[l-1]
		}
		return cumulative[h] - before
	}
	for massAt(lo, hi) < massFraction && (lo > 0 || hi < n-1) {
		expandLeft := lo > 0
		expandRight := hi < n-1
		if expandLeft && expandRight {
			// Expand toward whichever side holds more incremental volume.
			leftGain := cumulative[lo] - cumulative[lo-1]
			rightGain := cumulative[hi+1] - cumulative[hi]
			if rightGain >= leftGain {
				hi++
			} else {
				lo--
			}
		} else if expandRight {
			hi++
		} else {
			lo--
		}
	}
	return lo, hi
}

func constSeries(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func logReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			out[i-1] = math.NaN()
			continue
		}
		out[i-1] = math.Log(closes[i] / closes[i-1])
	}
	return out
}

func logReturnsHorizon(closes []float64, horizon int) []float64 {
	if horizon < 1 || len(closes) <= horizon {
		return nil
	}
	out := make([]float64, len(closes)-horizon)
	for i := horizon; i < len(closes); i++ {
		if closes[i-horizon] <= 0 || closes[i] <= 0 {
			out[i-horizon] = math.NaN()
			continue
		}
		out[i-horizon] = math.Log(closes[i] / closes[i-horizon])
	}
	return out
}

// periodsPerYearFor infers the Sharpe annualization factor from bar size
// (spec.md §4.6: "252 for daily, scaled for intraday by trading seconds
// per day"). The US RTH session spans 6.5 hours = 23400 seconds.
func periodsPerYearFor(barSize string) int {
	const rthSecondsPerDay = 23400
	switch barSize {
	case "1d", "1D", "day":
		return 252
	case "1h", "1H":
		return 252 * (rthSecondsPerDay / 3600)
	case "30m":
		return 252 * (rthSecondsPerDay / (30 * 60))
	case "15m":
		return 252 * (rthSecondsPerDay / (15 * 60))
	case "5m":
		return 252 * (rthSecondsPerDay / (5 * 60))
	case "1m":
		return 252 * (rthSecondsPerDay / 60)
	default:
		return 252
	}
}

func levelLabel(lvl float64) string {
	return "level_" + strconv.FormatFloat(lvl, 'f', -1, 64)
}
