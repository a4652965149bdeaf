package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/aristath/quantlab/internal/chart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timestamps(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
	}
	return out
}

func closesFixture(n int) []float64 {
	closes := make([]float64, n)
	price := 100.0
	for i := range closes {
		if i%4 == 0 {
			price += 2
		} else {
			price -= 0.5
		}
		closes[i] = price
	}
	return closes
}

func TestSMAIndicatorEmitsSingleSeries(t *testing.T) {
	ts := timestamps(10)
	closes := closesFixture(10)
	r := SMA("EQ:AAPL", chart.Meta{BarSize: "1d"}, ts, closes, 3)
	require.Len(t, r.Series, 1)
	assert.Equal(t, "sma", r.Series[0].Label)
	assert.Equal(t, "sma", r.Label)
}

func TestBollingerEmitsThreeSeriesInOrder(t *testing.T) {
	ts := timestamps(20)
	closes := closesFixture(20)
	r := Bollinger("EQ:AAPL", chart.Meta{}, ts, closes, 5, 2)
	require.Len(t, r.Series, 3)
	assert.Equal(t, []string{"mid", "upper", "lower"}, []string{r.Series[0].Label, r.Series[1].Label, r.Series[2].Label})
}

func TestRSIEmitsBandsWhenRequested(t *testing.T) {
	ts := timestamps(30)
	closes := closesFixture(30)
	over, under := 70.0, 30.0
	r := RSI("EQ:AAPL", chart.Meta{}, ts, closes, 14, &over, &under)
	require.Len(t, r.Series, 3)
	assert.Equal(t, "rsi", r.Series[0].Label)
	assert.Equal(t, "overbought", r.Series[1].Label)
	assert.Equal(t, "oversold", r.Series[2].Label)
}

func TestRSIWithoutBands(t *testing.T) {
	ts := timestamps(30)
	closes := closesFixture(30)
	r := RSI("EQ:AAPL", chart.Meta{}, ts, closes, 14, nil, nil)
	require.Len(t, r.Series, 1)
}

func TestDrawdownCumulative(t *testing.T) {
	ts := timestamps(5)
	closes := []float64{100, 120, 90, 110, 80}
	r := Drawdown("EQ:AAPL", chart.Meta{}, ts, closes, 0)
	require.Len(t, r.Series, 1)
	pts := r.Series[0].Points
	require.NotNil(t, pts[4].V)
	assert.InDelta(t, 100*(80.0-120.0)/120.0, *pts[4].V, 1e-9)
}

func TestDrawdownRollingWindow(t *testing.T) {
	ts := timestamps(5)
	closes := []float64{100, 120, 90, 110, 80}
	r := Drawdown("EQ:AAPL", chart.Meta{}, ts, closes, 3)
	require.Len(t, r.Series, 1)
}

func TestZScoreEmitsLevelSeries(t *testing.T) {
	ts := timestamps(10)
	values := closesFixture(10)
	r := ZScore("EQ:AAPL", chart.Meta{}, ts, values, 3, []float64{2, -2})
	require.Len(t, r.Series, 3)
	assert.Equal(t, "zscore", r.Series[0].Label)
	assert.Equal(t, "level_2", r.Series[1].Label)
	assert.Equal(t, "level_-2", r.Series[2].Label)
}

func TestSharpeShiftsTimestampsByOne(t *testing.T) {
	ts := timestamps(10)
	closes := closesFixture(10)
	r := Sharpe("EQ:AAPL", chart.Meta{}, ts, closes, 3, 0, "1d")
	require.Len(t, r.Series, 1)
	assert.Len(t, r.Series[0].Points, len(ts)-1)
}

func TestCorrelationShortensTimestampsByHorizon(t *testing.T) {
	ts := timestamps(10)
	a := closesFixture(10)
	b := closesFixture(10)
	r := Correlation("EQ:A/EQ:B", chart.Meta{}, ts, a, b, 1, 3)
	require.Len(t, r.Series, 1)
	assert.Len(t, r.Series[0].Points, len(ts)-1)
}

func TestVolumeProfileProducesValueArea(t *testing.T) {
	closes := []float64{10, 10, 20, 20, 30}
	volumes := []float64{1, 1, 5, 5, 1}
	r := VolumeProfile("EQ:AAPL", chart.Meta{}, closes, volumes, 3, 0.5)
	require.NotNil(t, r.Tables)
	assert.Contains(t, r.Tables, "price_levels")
	assert.Contains(t, r.Tables, "volumes")
	assert.Contains(t, r.Tables, "cumulative")
}

func TestPeriodsPerYearFor(t *testing.T) {
	assert.Equal(t, 252, periodsPerYearFor("1d"))
	assert.Equal(t, 252, periodsPerYearFor("unknown"))
	assert.Greater(t, periodsPerYearFor("1h"), 252)
	assert.Greater(t, periodsPerYearFor("1m"), periodsPerYearFor("1h"))
}

func TestLogReturnsSkipsNonPositivePrices(t *testing.T) {
	r := logReturns([]float64{100, 0, 100})
	require.Len(t, r, 2)
	assert.True(t, math.IsNaN(r[0]))
}

func TestLogReturnsTooShort(t *testing.T) {
	assert.Nil(t, logReturns([]float64{1}))
}

func TestLogReturnsHorizonTooShort(t *testing.T) {
	assert.Nil(t, logReturnsHorizon([]float64{1, 2}, 5))
}

func TestValueAreaEmpty(t *testing.T) {
	lo, hi := valueArea(nil, 0.7)
	assert.Equal(t, -1, lo)
	assert.Equal(t, -1, hi)
}

func TestLevelLabel(t *testing.T) {
	assert.Equal(t, "level_2", levelLabel(2))
	assert.Equal(t, "level_-1.5", levelLabel(-1.5))
}
