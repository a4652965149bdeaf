package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-9)
}

func TestStdDevEmpty(t *testing.T) {
	assert.Equal(t, 0.0, StdDev(nil))
}

func TestVarianceEmpty(t *testing.T) {
	assert.Equal(t, 0.0, Variance(nil))
}

func TestAnnualizedVolatility(t *testing.T) {
	assert.Equal(t, 0.0, AnnualizedVolatility(nil))
	vol := AnnualizedVolatility([]float64{0.01, -0.01, 0.02, -0.02})
	assert.Greater(t, vol, 0.0)
}

func TestCalculateReturns(t *testing.T) {
	returns := CalculateReturns([]float64{100, 110, 99})
	want := []float64{0.1, -0.1}
	for i, r := range want {
		assert.InDelta(t, r, returns[i], 1e-9)
	}
}

func TestCalculateReturnsTooShort(t *testing.T) {
	assert.Empty(t, CalculateReturns([]float64{100}))
}

func TestCalculateReturnsSkipsZeroPrevious(t *testing.T) {
	returns := CalculateReturns([]float64{0, 100})
	assert.Equal(t, []float64{0}, returns)
}

func TestCorrelationPerfectlyCorrelated(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	y := []float64{2, 4, 6, 8}
	assert.InDelta(t, 1.0, Correlation(x, y), 1e-9)
}

func TestCorrelationMismatchedLengthReturnsZero(t *testing.T) {
	assert.Equal(t, 0.0, Correlation([]float64{1, 2}, []float64{1}))
}

func TestCovarianceMismatchedLengthReturnsZero(t *testing.T) {
	assert.Equal(t, 0.0, Covariance([]float64{1, 2}, []float64{1}))
}
