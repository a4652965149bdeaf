package pack

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/quantlab/internal/chart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPropagatesBaseFetchError(t *testing.T) {
	wantErr := errors.New("upstream unavailable")
	fetchBase := func(ctx context.Context) (chart.Result, error) {
		return chart.Result{}, wantErr
	}

	_, err := Run(context.Background(), fetchBase, nil)
	assert.ErrorIs(t, err, wantErr)
}

func TestRunReturnsBaseAndCompanionResults(t *testing.T) {
	fetchBase := func(ctx context.Context) (chart.Result, error) {
		return chart.Result{Label: "base"}, nil
	}
	companions := []Companion{
		{Label: "sma", Run: func(ctx context.Context) (chart.Result, error) {
			return chart.Result{Label: "sma"}, nil
		}},
		{Label: "broken", Run: func(ctx context.Context) (chart.Result, error) {
			return chart.Result{}, errors.New("bad companion")
		}},
	}

	result, err := Run(context.Background(), fetchBase, companions)
	require.NoError(t, err)
	assert.Equal(t, "base", result.Base.Label)
	require.Len(t, result.Companions, 2)

	byLabel := make(map[string]CompanionResult, len(result.Companions))
	for _, c := range result.Companions {
		byLabel[c.Label] = c
	}
	assert.NoError(t, byLabel["sma"].Err)
	assert.Equal(t, "sma", byLabel["sma"].Result.Label)
	assert.Error(t, byLabel["broken"].Err)
}

func TestRunWithNoCompanions(t *testing.T) {
	fetchBase := func(ctx context.Context) (chart.Result, error) {
		return chart.Result{Label: "base"}, nil
	}
	result, err := Run(context.Background(), fetchBase, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Companions)
}
