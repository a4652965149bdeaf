package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// SMA computes the simple moving average series for the given period,
// leading NaNs for indices with insufficient lookback.
func SMA(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nanSeries(len(closes))
	}
	out := talib.Sma(closes, period)
	for i := 0; i < period-1; i++ {
		out[i] = math.NaN()
	}
	return out
}

// EMA computes the exponential moving average series for the given period.
func EMA(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nanSeries(len(closes))
	}
	return talib.Ema(closes, period)
}

// BollingerBands computes the upper, middle and lower bands for the given
// period and standard-deviation multiple.
//
//	Middle = SMA(closes, period)
//	Upper  = Middle + numStdDev * rolling stddev
//	Lower  = Middle - numStdDev * rolling stddev
func BollingerBands(closes []float64, period int, numStdDev float64) (upper, middle, lower []float64) {
	if len(closes) < period {
		n := nanSeries(len(closes))
		return n, n, n
	}
	upper, middle, lower = talib.BBands(closes, period, numStdDev, numStdDev, talib.SMA)
	return upper, middle, lower
}

// RSISeries computes the full Relative Strength Index series over closes.
func RSISeries(closes []float64, period int) []float64 {
	if len(closes) < period+1 {
		return nanSeries(len(closes))
	}
	return talib.Rsi(closes, period)
}

// RollingZScore computes (x[i] - rolling mean) / rolling stddev over a
// trailing window ending at i, inclusive. Points before the first full
// window (i < window-1), or with a zero rolling stddev, are NaN.
func RollingZScore(values []float64, window int) []float64 {
	out := nanSeries(len(values))
	if window < 2 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		w := values[i-window+1 : i+1]
		sd := StdDev(w)
		if sd == 0 {
			continue
		}
		out[i] = (values[i] - Mean(w)) / sd
	}
	return out
}

// RollingCorrelation computes the Pearson correlation of x and y over a
// trailing window ending at i, inclusive. x and y must be the same length.
func RollingCorrelation(x, y []float64, window int) []float64 {
	n := len(x)
	out := nanSeries(n)
	if len(y) != n || window < 2 {
		return out
	}
	for i := window - 1; i < n; i++ {
		out[i] = Correlation(x[i-window+1:i+1], y[i-window+1:i+1])
	}
	return out
}

// RollingSharpe computes the annualized Sharpe ratio over a trailing window
// of periodic returns ending at i, inclusive.
func RollingSharpe(returns []float64, riskFreeRate float64, periodsPerYear int, window int) []float64 {
	n := len(returns)
	out := nanSeries(n)
	if window < 2 {
		return out
	}
	for i := window - 1; i < n; i++ {
		if s := CalculateSharpeRatio(returns[i-window+1:i+1], riskFreeRate, periodsPerYear); s != nil {
			out[i] = *s
		}
	}
	return out
}

// RollingDrawdown computes the maximum drawdown over a trailing window of
// prices ending at i, inclusive.
func RollingDrawdown(prices []float64, window int) []float64 {
	n := len(prices)
	out := nanSeries(n)
	if window < 2 {
		return out
	}
	for i := window - 1; i < n; i++ {
		if d := CalculateMaxDrawdown(prices[i-window+1 : i+1]); d != nil {
			out[i] = *d
		}
	}
	return out
}

// VolumeProfile buckets traded volume by price level, returning the
// midpoint of each bucket alongside its total volume. Prices and volumes
// must be the same length; buckets must be at least 1. Each bar's whole
// volume goes to the bucket holding its close; it is not spread across the
// bar's high-low range.
func VolumeProfile(closes, volumes []float64, buckets int) (priceLevels, bucketVolumes []float64) {
	if len(closes) == 0 || len(closes) != len(volumes) || buckets < 1 {
		return nil, nil
	}

	lo, hi := closes[0], closes[0]
	for _, p := range closes {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	if hi == lo {
		return []float64{lo}, []float64{sum(volumes)}
	}

	width := (hi - lo) / float64(buckets)
	bucketVolumes = make([]float64, buckets)
	priceLevels = make([]float64, buckets)
	for b := 0; b < buckets; b++ {
		priceLevels[b] = lo + width*(float64(b)+0.5)
	}
	for i, p := range closes {
		idx := int((p - lo) / width)
		if idx >= buckets {
			idx = buckets - 1
		}
		if idx < 0 {
			idx = 0
		}
		bucketVolumes[idx] += volumes[i]
	}
	return priceLevels, bucketVolumes
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
