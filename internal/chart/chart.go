// Package chart defines the canonical response contract of spec.md §4.9:
// every endpoint returns the same {label, expr, meta, series, tables?}
// shape. Grounded on spec.md directly; serialized with encoding/json since
// this is the wire format the HTTP layer returns, distinct from the
// msgpack encoding internal/barcache uses for its own size estimation.
package chart

import (
	"math"
	"time"
)

// Point is one (timestamp, value) sample. Value serializes to JSON null
// when undefined (spec.md §4.9 "v: number|null").
type Point struct {
	T int64    `json:"t"`
	V *float64 `json:"v"`
}

// NewPoint builds a Point from a time and a value, mapping NaN to null.
func NewPoint(ts time.Time, v float64) Point {
	p := Point{T: ts.UnixMilli()}
	if !math.IsNaN(v) {
		val := v
		p.V = &val
	}
	return p
}

// Series is one named line of points within a chart Result.
type Series struct {
	Label  string  `json:"label"`
	Points []Point `json:"points"`
}

// Range is the inclusive/exclusive request window echoed back in meta.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Meta carries the request parameters that shaped the series.
type Meta struct {
	BarSize string `json:"bar_size"`
	UseRTH  bool   `json:"use_rth"`
	Range   Range  `json:"range"`
}

// Result is the uniform response shape returned by every /expr and /data
// endpoint.
type Result struct {
	Label  string         `json:"label"`
	Expr   string         `json:"expr"`
	Meta   Meta           `json:"meta"`
	Series []Series       `json:"series"`
	Tables map[string]any `json:"tables,omitempty"`
}

// FromValues builds a single-series Result from parallel timestamp/value
// slices, used by the plain series/indicator endpoints.
func FromValues(label, exprText string, meta Meta, seriesLabel string, timestamps []time.Time, values []float64) Result {
	pts := make([]Point, len(timestamps))
	for i, ts := range timestamps {
		pts[i] = NewPoint(ts, values[i])
	}
	return Result{
		Label: label,
		Expr:  exprText,
		Meta:  meta,
		Series: []Series{
			{Label: seriesLabel, Points: pts},
		},
	}
}

// AddSeries appends a named series built from parallel slices to r.
func (r *Result) AddSeries(label string, timestamps []time.Time, values []float64) {
	pts := make([]Point, len(timestamps))
	for i, ts := range timestamps {
		pts[i] = NewPoint(ts, values[i])
	}
	r.Series = append(r.Series, Series{Label: label, Points: pts})
}
