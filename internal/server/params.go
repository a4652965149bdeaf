package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/aristath/quantlab/internal/apperr"
	"github.com/aristath/quantlab/internal/expr"
)

// parseDuration parses spec.md §6's "<N> <U>" duration shorthand
// (U ∈ {D,W,M,Y}) into a [start, end) range ending now.
func parseDuration(raw string) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	if raw == "" {
		return time.Time{}, time.Time{}, apperr.New(apperr.KindParseError, "duration is required")
	}
	parts := strings.Fields(raw)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, apperr.Newf(apperr.KindParseError, "malformed duration %q, expected \"<N> <U>\"", raw)
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil || n <= 0 {
		return time.Time{}, time.Time{}, apperr.Newf(apperr.KindParseError, "malformed duration count %q", parts[0])
	}
	var start time.Time
	switch strings.ToUpper(parts[1]) {
	case "D":
		start = subtractBusinessDays(end, n)
	case "W":
		start = end.AddDate(0, 0, -7*n)
	case "M":
		start = end.AddDate(0, -n, 0)
	case "Y":
		start = end.AddDate(-n, 0, 0)
	default:
		return time.Time{}, time.Time{}, apperr.Newf(apperr.KindParseError, "unknown duration unit %q, expected one of D,W,M,Y", parts[1])
	}
	return start, end, nil
}

// subtractBusinessDays walks back n Mon-Fri days from end; the "D" duration
// unit is business days, unlike the calendar-day W/M/Y units (spec.md §3).
func subtractBusinessDays(end time.Time, n int) time.Time {
	d := end
	for remaining := n; remaining > 0; {
		d = d.AddDate(0, 0, -1)
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			remaining--
		}
	}
	return d
}

// barSizeAliases maps the human bar-size strings of spec.md §6 ("1 day",
// "1 hour", "5 min") to the canonical code internal/upstream.Request uses
// on the wire.
var barSizeAliases = map[string]string{
	"1 day": "1d", "1 hour": "1h", "30 min": "30m",
	"15 min": "15m", "5 min": "5m", "1 min": "1m",
}

func canonicalBarSize(raw string) (string, error) {
	if raw == "" {
		return "1d", nil
	}
	if code, ok := barSizeAliases[strings.ToLower(raw)]; ok {
		return code, nil
	}
	return "", apperr.Newf(apperr.KindUnsupportedParam, "unsupported bar_size %q", raw)
}

// parseNorm parses the norm request field (spec.md §4.4: "norm=0" is
// percent change, "norm=100"/"norm=K" indexes to that base) into an
// expr.NormMode and base.
func parseNorm(raw string) (mode expr.NormMode, base float64, err error) {
	switch raw {
	case "", "none":
		return expr.NormNone, 0, nil
	case "0":
		return expr.NormPercent, 0, nil
	default:
		k, convErr := strconv.ParseFloat(raw, 64)
		if convErr != nil {
			return expr.NormNone, 0, apperr.Newf(apperr.KindUnsupportedParam, "unsupported norm value %q", raw)
		}
		return expr.NormIndex, k, nil
	}
}

func requireExpr(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return apperr.New(apperr.KindParseError, "expr is required")
	}
	return nil
}

func formatBarSizeForMeta(code string) string {
	for human, c := range barSizeAliases {
		if c == code {
			return human
		}
	}
	return code
}

