package series

import (
	"math"
	"testing"
	"time"

	"github.com/aristath/quantlab/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(minute int) time.Time {
	return time.Date(2024, 1, 2, 9, minute, 0, 0, time.UTC)
}

func TestFromBars(t *testing.T) {
	bars := []upstream.Bar{
		{Timestamp: ts(0), Close: 100},
		{Timestamp: ts(1), Close: 101},
	}
	s := FromBars("a", bars)
	require.Len(t, s.Points, 2)
	assert.Equal(t, 100.0, s.Points[0].Value)
	assert.Equal(t, 101.0, s.Points[1].Value)
}

func TestFromBarsField(t *testing.T) {
	bars := []upstream.Bar{{Timestamp: ts(0), Volume: 500}}
	s := FromBarsField("vol", bars, func(b upstream.Bar) float64 { return float64(b.Volume) })
	require.Len(t, s.Points, 1)
	assert.Equal(t, 500.0, s.Points[0].Value)
}

func TestAlignUnionFillsGaps(t *testing.T) {
	a := Series{Label: "a", Points: []Point{
		{Timestamp: ts(0), Value: 1},
		{Timestamp: ts(1), Value: 2},
		{Timestamp: ts(2), Value: 3},
	}}
	b := Series{Label: "b", Points: []Point{
		{Timestamp: ts(0), Value: 10},
		{Timestamp: ts(2), Value: 30},
	}}

	frame := Align([]Series{a, b}, AlignUnion, 5)
	require.Len(t, frame.Timestamps, 3)
	require.Equal(t, []float64{1, 2, 3}, frame.Columns["a"])
	// b is missing minute 1; LOCF carries forward the last observed value (10).
	require.Equal(t, []float64{10, 10, 30}, frame.Columns["b"])
}

func TestAlignUnionLeavesNaNBeyondGapBudget(t *testing.T) {
	a := Series{Label: "a", Points: []Point{
		{Timestamp: ts(0), Value: 1},
		{Timestamp: ts(1), Value: 2},
		{Timestamp: ts(2), Value: 3},
		{Timestamp: ts(3), Value: 4},
	}}
	b := Series{Label: "b", Points: []Point{
		{Timestamp: ts(0), Value: 10},
		{Timestamp: ts(3), Value: 40},
	}}

	frame := Align([]Series{a, b}, AlignUnion, 1)
	require.Len(t, frame.Columns["b"], 4)
	assert.Equal(t, 10.0, frame.Columns["b"][0])
	assert.Equal(t, 10.0, frame.Columns["b"][1]) // one gap, within budget
	assert.True(t, math.IsNaN(frame.Columns["b"][2]))
	assert.Equal(t, 40.0, frame.Columns["b"][3])
}

func TestAlignIntersectionKeepsOnlyCommonTimestamps(t *testing.T) {
	a := Series{Label: "a", Points: []Point{
		{Timestamp: ts(0), Value: 1},
		{Timestamp: ts(1), Value: 2},
	}}
	b := Series{Label: "b", Points: []Point{
		{Timestamp: ts(1), Value: 20},
		{Timestamp: ts(2), Value: 30},
	}}

	frame := Align([]Series{a, b}, AlignIntersection, 5)
	require.Len(t, frame.Timestamps, 1)
	assert.True(t, frame.Timestamps[0].Equal(ts(1)))
	assert.Equal(t, []float64{2}, frame.Columns["a"])
	assert.Equal(t, []float64{20}, frame.Columns["b"])
}

func TestAlignIntersectionEmptyWhenNoOverlap(t *testing.T) {
	a := Series{Label: "a", Points: []Point{{Timestamp: ts(0), Value: 1}}}
	b := Series{Label: "b", Points: []Point{{Timestamp: ts(1), Value: 2}}}

	frame := Align([]Series{a, b}, AlignIntersection, 5)
	assert.Empty(t, frame.Timestamps)
}

func TestFilterRTH(t *testing.T) {
	s := Series{Label: "a", Points: []Point{
		{Timestamp: ts(0), Value: 1},
		{Timestamp: ts(1), Value: 2},
		{Timestamp: ts(2), Value: 3},
	}}
	isRTH := func(t time.Time) bool { return t.Minute() != 1 }

	out := FilterRTH(s, isRTH)
	require.Len(t, out.Points, 2)
	assert.Equal(t, 1.0, out.Points[0].Value)
	assert.Equal(t, 3.0, out.Points[1].Value)
}

func TestBackAdjustRatio(t *testing.T) {
	s := Series{Label: "ES", Points: []Point{
		{Timestamp: ts(0), Value: 100},
		{Timestamp: ts(1), Value: 105},
		{Timestamp: ts(2), Value: 110}, // at/after seam, untouched
	}}
	seam := ts(2)

	out := BackAdjustRatio(s, seam, 100, 102) // ratio = 1.02
	require.Len(t, out.Points, 3)
	assert.InDelta(t, 102.0, out.Points[0].Value, 1e-9)
	assert.InDelta(t, 107.1, out.Points[1].Value, 1e-9)
	assert.Equal(t, 110.0, out.Points[2].Value)
}

func TestBackAdjustRatioZeroOldCloseIsNoop(t *testing.T) {
	s := Series{Label: "ES", Points: []Point{{Timestamp: ts(0), Value: 100}}}
	out := BackAdjustRatio(s, ts(1), 0, 50)
	assert.Equal(t, s, out)
}
