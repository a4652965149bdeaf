package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateSharpeRatioInsufficientData(t *testing.T) {
	assert.Nil(t, CalculateSharpeRatio([]float64{0.01}, 0.02, 252))
}

func TestCalculateSharpeRatioZeroStdDev(t *testing.T) {
	assert.Nil(t, CalculateSharpeRatio([]float64{0.01, 0.01, 0.01}, 0.02, 252))
}

func TestCalculateSharpeRatioPositive(t *testing.T) {
	returns := []float64{0.01, 0.02, -0.005, 0.015, 0.0, 0.01}
	s := CalculateSharpeRatio(returns, 0.0, 252)
	require.NotNil(t, s)
	assert.Greater(t, *s, 0.0)
}

func TestCalculateSharpeFromPrices(t *testing.T) {
	prices := []float64{100, 101, 103, 102, 105}
	s := CalculateSharpeFromPrices(prices, 0.0)
	require.NotNil(t, s)
}

func TestCalculateSortinoRatioNoDownside(t *testing.T) {
	returns := []float64{0.01, 0.02, 0.03}
	assert.Nil(t, CalculateSortinoRatio(returns, 0.0, 0.0, 252))
}

func TestCalculateSortinoRatioWithDownside(t *testing.T) {
	returns := []float64{0.01, -0.02, 0.03, -0.01, 0.02}
	s := CalculateSortinoRatio(returns, 0.0, 0.0, 252)
	require.NotNil(t, s)
}
