// Package seasonality implements the two seasonality modes of spec.md
// §4.7: per-year day-of-year curves with percentile bands, and bucketed
// (month/ISO-week) return heatmaps. Grounded on spec.md §4.7 directly;
// percentile bands use gonum's quantile estimator, the same library
// trader-go's pkg/formulas already depends on for statistics.
package seasonality

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/quantlab/internal/series"
)

// Feb29Policy controls how February 29 is mapped onto the 0..364
// day-of-year index used by years mode. This repo implements only
// FoldIntoFeb28 (see DESIGN.md Open Question decisions).
type Feb29Policy int

const FoldIntoFeb28 Feb29Policy = 0

// dayOfYearIndex returns t's 0-based day-of-year index on a 365-day scale,
// folding Feb 29 into index 58 (shared with Feb 28) per FoldIntoFeb28.
func dayOfYearIndex(t time.Time) int {
	y, m, d := t.Date()
	if m == time.February && d == 29 {
		m, d = time.February, 28
	}
	jan1 := time.Date(y, time.January, 1, 0, 0, 0, 0, t.Location())
	asOfYear := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return int(asOfYear.Sub(jan1).Hours() / 24)
}

// NormMode selects how each year's curve is rebased before comparison.
type NormMode int

const (
	NormPercent NormMode = iota
	NormIndex100
)

// YearCurve is one year's rebased day-of-year curve.
type YearCurve struct {
	Year   int
	Points []series.Point // Timestamp field holds a synthetic day-of-year anchor date
}

// YearsResult is the full years-mode payload: per-year curves plus
// cross-year percentile bands and a mean curve (spec.md §4.7 "on the
// server side, a percentile band (P0/P50/P100) and a mean curve").
type YearsResult struct {
	Years      []YearCurve
	P0, P50, P100 []float64 // indexed 0..364
	Mean          []float64
}

// Years computes the years-mode payload for s, one YearCurve per calendar
// year present, rebased against that year's first point.
func Years(s series.Series, mode NormMode, years []int) YearsResult {
	byYear := splitByYear(s)

	var out YearsResult
	grid := make([][]float64, 365)
	for i := range grid {
		grid[i] = nil
	}

	wanted := make(map[int]bool, len(years))
	for _, y := range years {
		wanted[y] = true
	}

	for year, pts := range byYear {
		if len(wanted) > 0 && !wanted[year] {
			continue
		}
		sort.Slice(pts, func(i, j int) bool { return pts[i].Timestamp.Before(pts[j].Timestamp) })
		if len(pts) == 0 {
			continue
		}
		base := pts[0].Value
		curve := make([]series.Point, len(pts))
		byDay := make(map[int]float64, len(pts))
		for i, p := range pts {
			v := rebase(p.Value, base, mode)
			curve[i] = series.Point{Timestamp: p.Timestamp, Value: v}
			byDay[dayOfYearIndex(p.Timestamp)] = v
		}
		for day, v := range byDay {
			grid[day] = append(grid[day], v)
		}
		out.Years = append(out.Years, YearCurve{Year: year, Points: curve})
	}

	sort.Slice(out.Years, func(i, j int) bool { return out.Years[i].Year < out.Years[j].Year })

	out.P0 = make([]float64, 365)
	out.P50 = make([]float64, 365)
	out.P100 = make([]float64, 365)
	out.Mean = make([]float64, 365)
	for day, values := range grid {
		if len(values) == 0 {
			out.P0[day], out.P50[day], out.P100[day], out.Mean[day] = math.NaN(), math.NaN(), math.NaN(), math.NaN()
			continue
		}
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		out.P0[day] = stat.Quantile(0, stat.Empirical, sorted, nil)
		out.P50[day] = stat.Quantile(0.5, stat.Empirical, sorted, nil)
		out.P100[day] = stat.Quantile(1, stat.Empirical, sorted, nil)
		out.Mean[day] = mean(values)
	}

	return out
}

func rebase(v, base float64, mode NormMode) float64 {
	if base == 0 {
		return math.NaN()
	}
	switch mode {
	case NormIndex100:
		return (v / base) * 100
	default:
		return (v/base - 1) * 100
	}
}

func splitByYear(s series.Series) map[int][]series.Point {
	out := make(map[int][]series.Point)
	for _, p := range s.Points {
		y := p.Timestamp.Year()
		out[y] = append(out[y], p)
	}
	return out
}

// Bucket is month-of-year or ISO-week-of-year granularity for heatmap mode.
type Bucket int

const (
	BucketMonth Bucket = iota
	BucketISOWeek
)

// Cell is one (year, bucket) return observation.
type Cell struct {
	Year     int
	Bucket   int // 1..12 for BucketMonth, 1..53 for BucketISOWeek
	ReturnPct float64
	Included bool
}

// BucketStats is the per-bucket aggregate across included years.
type BucketStats struct {
	Bucket       int
	Mean         float64
	Median       float64
	Min          float64
	Max          float64
	StdDev       float64
	FracPositive float64
	FracNegative float64
}

// HeatmapResult is the full heatmap-mode payload.
type HeatmapResult struct {
	Cells []Cell
	Stats []BucketStats
}

// Heatmap computes the bucketed-return heatmap for s, flagging any
// (year, bucket) with fewer than minPoints bars as not included (spec.md
// §4.7 "flagged included=false if it lacks a minimum configurable point
// count").
func Heatmap(s series.Series, bucketing Bucket, minPoints int) HeatmapResult {
	type key struct {
		year, bucket int
	}
	groups := make(map[key][]float64)

	for _, p := range s.Points {
		b := bucketOf(p.Timestamp, bucketing)
		k := key{year: p.Timestamp.Year(), bucket: b}
		groups[k] = append(groups[k], p.Value)
	}

	var cells []Cell
	byBucket := make(map[int][]Cell)
	for k, values := range groups {
		included := len(values) >= minPoints
		ret := cumulativeReturn(values)
		c := Cell{Year: k.year, Bucket: k.bucket, ReturnPct: ret * 100, Included: included}
		cells = append(cells, c)
		if included {
			byBucket[k.bucket] = append(byBucket[k.bucket], c)
		}
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Year != cells[j].Year {
			return cells[i].Year < cells[j].Year
		}
		return cells[i].Bucket < cells[j].Bucket
	})

	var stats []BucketStats
	for bucket, bCells := range byBucket {
		rets := make([]float64, len(bCells))
		for i, c := range bCells {
			rets[i] = c.ReturnPct
		}
		stats = append(stats, BucketStats{
			Bucket:       bucket,
			Mean:         mean(rets),
			Median:       median(rets),
			Min:          minOf(rets),
			Max:          maxOf(rets),
			StdDev:       stddev(rets),
			FracPositive: fraction(rets, func(v float64) bool { return v > 0 }),
			FracNegative: fraction(rets, func(v float64) bool { return v < 0 }),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Bucket < stats[j].Bucket })

	return HeatmapResult{Cells: cells, Stats: stats}
}

func bucketOf(t time.Time, bucketing Bucket) int {
	if bucketing == BucketISOWeek {
		_, week := t.ISOWeek()
		return week
	}
	return int(t.Month())
}

// cumulativeReturn is the compounded return across a bucket's bar-to-bar
// percentage changes: product(1+r) - 1, per spec.md §4.7 "cumulative
// product of (1 + r) across the bucket's bars, minus 1".
func cumulativeReturn(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	product := 1.0
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		r := (prices[i] - prices[i-1]) / prices[i-1]
		product *= 1 + r
	}
	return product - 1
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return stat.Mean(values, nil)
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	return stat.StdDev(values, nil)
}

func minOf(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	m := values[0]
	for _, v := range values {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	m := values[0]
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}

func fraction(values []float64, pred func(float64) bool) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	count := 0
	for _, v := range values {
		if pred(v) {
			count++
		}
	}
	return float64(count) / float64(len(values))
}
