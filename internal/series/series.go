// Package series builds aligned time-value frames from one or more bar
// slices: union/intersection timestamp alignment, RTH filtering, bounded
// last-observation-carried-forward gap fill, and ratio back-adjustment for
// spliced continuous-futures segments (spec.md §3 "Aligned frame", §4.1,
// §4.5). Grounded on spec.md directly; the teacher has no multi-series
// alignment step since its formulas operate on a single already-aligned
// price history.
package series

import (
	"math"
	"sort"
	"time"

	"github.com/aristath/quantlab/internal/upstream"
)

// Point is one (timestamp, value) observation. A NaN Value marks a gap that
// survived fill (spec.md §4.5 "Alignment": "a leg with an uncloseable gap
// keeps NaN at that timestamp").
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Series is a single named time-ordered value stream.
type Series struct {
	Label  string
	Points []Point
}

// AlignMode selects how multiple legs' timestamps are combined.
type AlignMode int

const (
	AlignUnion AlignMode = iota
	AlignIntersection
)

// FromBars extracts a Series of closing prices from ascending bars.
func FromBars(label string, bars []upstream.Bar) Series {
	pts := make([]Point, 0, len(bars))
	for _, b := range bars {
		pts = append(pts, Point{Timestamp: b.Timestamp, Value: b.Close})
	}
	return Series{Label: label, Points: pts}
}

// FromBarsField extracts a Series from a chosen OHLCV field, used for
// volume-profile and other non-close indicators.
func FromBarsField(label string, bars []upstream.Bar, field func(upstream.Bar) float64) Series {
	pts := make([]Point, 0, len(bars))
	for _, b := range bars {
		pts = append(pts, Point{Timestamp: b.Timestamp, Value: field(b)})
	}
	return Series{Label: label, Points: pts}
}

// Frame is a set of series aligned onto a common timestamp axis.
type Frame struct {
	Timestamps []time.Time
	Columns    map[string][]float64
}

// Align combines legs onto one timestamp axis per mode, applying LOCF fill
// up to maxGapFill consecutive missing points per column; points beyond
// that run remain NaN (spec.md §4.5 "LOCF fill capped at N gaps").
func Align(legs []Series, mode AlignMode, maxGapFill int) Frame {
	axis := buildAxis(legs, mode)

	cols := make(map[string][]float64, len(legs))
	for _, leg := range legs {
		byTS := make(map[int64]float64, len(leg.Points))
		for _, p := range leg.Points {
			byTS[p.Timestamp.Unix()] = p.Value
		}

		values := make([]float64, len(axis))
		var last float64
		haveLast := false
		gapRun := 0
		for i, ts := range axis {
			if v, ok := byTS[ts.Unix()]; ok {
				values[i] = v
				last = v
				haveLast = true
				gapRun = 0
				continue
			}
			if haveLast && gapRun < maxGapFill {
				values[i] = last
				gapRun++
				continue
			}
			values[i] = math.NaN()
		}
		cols[leg.Label] = values
	}

	return Frame{Timestamps: axis, Columns: cols}
}

func buildAxis(legs []Series, mode AlignMode) []time.Time {
	switch mode {
	case AlignIntersection:
		return intersectionAxis(legs)
	default:
		return unionAxis(legs)
	}
}

func unionAxis(legs []Series) []time.Time {
	seen := make(map[int64]time.Time)
	for _, leg := range legs {
		for _, p := range leg.Points {
			seen[p.Timestamp.Unix()] = p.Timestamp
		}
	}
	return sortedTimestamps(seen)
}

func intersectionAxis(legs []Series) []time.Time {
	if len(legs) == 0 {
		return nil
	}
	counts := make(map[int64]int)
	stamp := make(map[int64]time.Time)
	for _, leg := range legs {
		present := make(map[int64]bool, len(leg.Points))
		for _, p := range leg.Points {
			key := p.Timestamp.Unix()
			if !present[key] {
				present[key] = true
				counts[key]++
				stamp[key] = p.Timestamp
			}
		}
	}
	keep := make(map[int64]time.Time)
	for key, c := range counts {
		if c == len(legs) {
			keep[key] = stamp[key]
		}
	}
	return sortedTimestamps(keep)
}

func sortedTimestamps(m map[int64]time.Time) []time.Time {
	out := make([]time.Time, 0, len(m))
	for _, ts := range m {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// FilterRTH drops the points for which the supplied isRTH predicate
// reports false. The request pipeline does not call it; use_rth reaches
// the upstream only as the request's RTH flag.
func FilterRTH(s Series, isRTH func(time.Time) bool) Series {
	out := make([]Point, 0, len(s.Points))
	for _, p := range s.Points {
		if isRTH(p.Timestamp) {
			out = append(out, p)
		}
	}
	return Series{Label: s.Label, Points: out}
}

// BackAdjustRatio ratio-adjusts the earlier segment of a continuous-futures
// splice at a roll seam: every point strictly before the seam is multiplied
// by newClose/oldClose so the series is continuous in returns across the
// roll (spec.md §9 Open Question decision: "ratio adjustment"). Applied
// seam-by-seam, oldest segment first, so adjustments compound correctly
// across more than one roll.
func BackAdjustRatio(s Series, seam time.Time, oldClose, newClose float64) Series {
	if oldClose == 0 {
		return s
	}
	ratio := newClose / oldClose
	out := make([]Point, len(s.Points))
	for i, p := range s.Points {
		if p.Timestamp.Before(seam) {
			out[i] = Point{Timestamp: p.Timestamp, Value: p.Value * ratio}
		} else {
			out[i] = p
		}
	}
	return Series{Label: s.Label, Points: out}
}
