package expr

import (
	"math"
	"time"

	"github.com/aristath/quantlab/internal/apperr"
	"github.com/aristath/quantlab/internal/series"
)

// Evaluate walks root pointwise over frame's timestamp axis, returning one
// value per timestamp. Division by zero is undefined (NaN) at that
// timestamp rather than an error, and NaN operands propagate to NaN
// results, matching IEEE754 semantics (spec.md §4.4 step 4).
func Evaluate(root *Node, frame series.Frame) ([]float64, error) {
	n := len(frame.Timestamps)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := evalAt(root, frame, i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func evalAt(n *Node, frame series.Frame, i int) (float64, error) {
	switch n.Kind {
	case NodeNumber:
		return n.Number, nil
	case NodeSymbol:
		col, ok := frame.Columns[n.Symbol]
		if !ok {
			return 0, apperr.Newf(apperr.KindUnknownSymbol, "expression references unresolved leaf %q", n.Symbol)
		}
		return col[i], nil
	case NodeBinary:
		l, err := evalAt(n.Left, frame, i)
		if err != nil {
			return 0, err
		}
		r, err := evalAt(n.Right, frame, i)
		if err != nil {
			return 0, err
		}
		return applyOp(n.Op, l, r), nil
	default:
		return 0, apperr.New(apperr.KindInvariant, "expr: unknown node kind")
	}
}

func applyOp(op Op, l, r float64) float64 {
	switch op {
	case OpAdd:
		return l + r
	case OpSub:
		return l - r
	case OpMul:
		return l * r
	case OpDiv:
		if r == 0 {
			return math.NaN()
		}
		return l / r
	default:
		return math.NaN()
	}
}

// NormMode selects the output rebasing applied after evaluation.
type NormMode int

const (
	NormNone NormMode = iota
	NormPercent
	NormIndex
)

// Normalize rebases values against the first non-NaN point per spec.md
// §4.4 "Currency/normalization": norm=0 is percent change from the first
// value, norm=100 (or any base K via NormIndex) indexes to that base.
func Normalize(values []float64, mode NormMode, base float64) []float64 {
	if mode == NormNone {
		return values
	}
	var first float64
	found := false
	for _, v := range values {
		if !math.IsNaN(v) {
			first = v
			found = true
			break
		}
	}
	if !found || first == 0 {
		return values
	}
	out := make([]float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		switch mode {
		case NormPercent:
			out[i] = (v/first - 1) * 100
		case NormIndex:
			out[i] = (v / first) * base
		}
	}
	return out
}

// DropUndefined filters out points whose value is NaN, pairing timestamps
// with values; used when include_gaps=false (the default per spec.md
// §4.4 step 5).
func DropUndefined(timestamps []time.Time, values []float64) ([]time.Time, []float64) {
	outT := make([]time.Time, 0, len(timestamps))
	outV := make([]float64, 0, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		outT = append(outT, timestamps[i])
		outV = append(outV, v)
	}
	return outT, outV
}
