// Package pack implements the /expr/pack orchestrator of spec.md §4.8: a
// single request enumerates a base expression plus a set of companion
// overlays/panels that share the base's grid; the base is fetched once and
// companions run concurrently against it, and a companion's failure never
// fails the whole pack. Grounded on spec.md §4.8 directly; the fan-out
// starts one goroutine per companion and collects results into an indexed
// slice, so output order follows the declared companion order.
package pack

import (
	"context"
	"sync"

	"github.com/aristath/quantlab/internal/chart"
)

// Companion is one overlay or panel computed against the base's frame.
type Companion struct {
	Label string
	Run   func(ctx context.Context) (chart.Result, error)
}

// CompanionResult pairs a companion's label with its outcome; Err is set
// (and Result zero) when the companion failed.
type CompanionResult struct {
	Label  string
	Result chart.Result
	Err    error
}

// Result is the merged pack response: the base chart plus every
// companion's independent outcome.
type Result struct {
	Base       chart.Result
	Companions []CompanionResult
}

// Run fetches base, then runs every companion concurrently against it.
// Companion panics are not recovered here; callers running this behind an
// HTTP handler should already have a panic-recovery middleware, matching
// the rest of the server.
func Run(ctx context.Context, fetchBase func(ctx context.Context) (chart.Result, error), companions []Companion) (Result, error) {
	base, err := fetchBase(ctx)
	if err != nil {
		return Result{}, err
	}

	results := make([]CompanionResult, len(companions))
	var wg sync.WaitGroup
	for i, comp := range companions {
		wg.Add(1)
		go func(i int, comp Companion) {
			defer wg.Done()
			r, err := comp.Run(ctx)
			results[i] = CompanionResult{Label: comp.Label, Result: r, Err: err}
		}(i, comp)
	}
	wg.Wait()

	return Result{Base: base, Companions: results}, nil
}
