package symbol

import (
	"context"
	"time"

	"github.com/aristath/quantlab/internal/apperr"
	"github.com/aristath/quantlab/internal/calendar"
)

// Segment is one (contract, validity) entry of a resolved instrument's
// chain (spec.md §3 "Instrument").
type Segment struct {
	Contract string
	ValidFrom time.Time
	ValidTo   time.Time // exclusive
}

// Instrument is the resolved form of a symbol token: an ordered, gapless
// chain of contract segments plus display metadata.
type Instrument struct {
	Token    Token
	Segments []Segment
	Currency string
	Exchange string

	// Adjustment documents the continuous-futures back-adjustment method
	// applied downstream when splicing bars across segments (empty for
	// non-futures instruments). See DESIGN.md Open Question decisions.
	Adjustment string
}

// Fingerprint is the stable cache-key component identifying this
// instrument, independent of the requested range (spec.md §3 "Cache key").
func (i Instrument) Fingerprint() string {
	return i.Token.String()
}

// CalendarProvider is the subset of *calendar.Calendar the resolver needs.
type CalendarProvider interface {
	Chain(ctx context.Context, root string) ([]calendar.Contract, error)
}

// Resolver turns symbol tokens into resolved instruments.
type Resolver struct {
	calendar CalendarProvider
	// rollOffsetDays maps a futures root to the number of calendar days
	// before last-trading-day at which the continuous/positional chain
	// rolls to the next contract. Roots not listed use defaultRollOffset.
	rollOffsetDays map[string]int
}

const defaultRollOffset = 1

// NewResolver builds a Resolver backed by the given expiry calendar.
func NewResolver(cal CalendarProvider) *Resolver {
	return &Resolver{
		calendar: cal,
		rollOffsetDays: map[string]int{
			"ES": 8, "NQ": 8, "YM": 8, "RTY": 8, // equity index futures: roll ~8 days before LTD
			"CL": 3, "GC": 3, "SI": 3, // commodities: roll closer to LTD
		},
	}
}

func (r *Resolver) rollOffset(root string) int {
	if d, ok := r.rollOffsetDays[root]; ok {
		return d
	}
	return defaultRollOffset
}

// Resolve materializes a token into an Instrument covering [rangeStart,
// rangeEnd). EQ/FX/cash-index tokens resolve to a single segment; futures
// tokens expand into a chain per spec.md §4.1.
func (r *Resolver) Resolve(ctx context.Context, tok Token, rangeStart, rangeEnd time.Time) (Instrument, error) {
	switch tok.Kind {
	case KindEquity:
		exchange := tok.Exchange
		if exchange == "" {
			exchange = "SMART"
		}
		return Instrument{
			Token:    tok,
			Segments: []Segment{{Contract: tok.Ticker, ValidFrom: rangeStart, ValidTo: rangeEnd}},
			Currency: "USD",
			Exchange: exchange,
		}, nil
	case KindFXPair:
		return Instrument{
			Token:    tok,
			Segments: []Segment{{Contract: tok.Body, ValidFrom: rangeStart, ValidTo: rangeEnd}},
			Currency: tok.Quote,
			Exchange: "IDEALPRO",
		}, nil
	case KindIndexCash:
		return Instrument{
			Token:    tok,
			Segments: []Segment{{Contract: tok.Root, ValidFrom: rangeStart, ValidTo: rangeEnd}},
			Currency: "USD",
			Exchange: "CBOE",
		}, nil
	case KindExplicitFuture:
		if _, ok := monthOf(tok.MonthCode); !ok {
			return Instrument{}, apperr.Newf(apperr.KindMalformedToken, "token %q has unknown month code %q", tok.Raw, tok.MonthCode)
		}
		return Instrument{
			Token:    tok,
			Segments: []Segment{{Contract: tok.String()[3:], ValidFrom: rangeStart, ValidTo: rangeEnd}},
			Currency: "USD",
			Exchange: "GLOBEX",
		}, nil
	case KindContinuousFuture:
		segs, err := r.chainSegments(ctx, tok.Root, 0, rangeStart, rangeEnd)
		if err != nil {
			return Instrument{}, err
		}
		return Instrument{Token: tok, Segments: segs, Currency: "USD", Exchange: "GLOBEX", Adjustment: "ratio"}, nil
	case KindPositionalFuture:
		segs, err := r.chainSegments(ctx, tok.Root, tok.Position-1, rangeStart, rangeEnd)
		if err != nil {
			return Instrument{}, err
		}
		return Instrument{Token: tok, Segments: segs, Currency: "USD", Exchange: "GLOBEX"}, nil
	default:
		return Instrument{}, apperr.Newf(apperr.KindMalformedToken, "token %q could not be classified", tok.Raw)
	}
}

// chainSegments builds the gapless run of contract segments covering
// [rangeStart, rangeEnd) for the contract at offset `position` from the
// front of the chain at each historical date (position=0 is front month,
// used directly by continuous futures; position=N-1 is used for the
// positional-N token).
func (r *Resolver) chainSegments(ctx context.Context, root string, position int, rangeStart, rangeEnd time.Time) ([]Segment, error) {
	contracts, err := r.calendar.Chain(ctx, root)
	if err != nil {
		return nil, err
	}
	if position >= len(contracts) {
		return nil, apperr.Newf(apperr.KindNoChainForRange, "root %q has only %d known contracts, position %d unavailable", root, len(contracts), position+1)
	}

	offset := time.Duration(r.rollOffset(root)) * 24 * time.Hour
	var segs []Segment
	cursor := rangeStart

	for idx := position; idx < len(contracts) && cursor.Before(rangeEnd); idx++ {
		ct := contracts[idx]
		// The chain rolls when the front contract rolls, shifting every
		// position back by one contract at the same instant.
		front := contracts[idx-position]

		segEnd := rangeEnd
		if idx+1 < len(contracts) {
			if rollAt := front.LastTradingDay.Add(-offset); rollAt.Before(rangeEnd) {
				segEnd = rollAt
			}
		}
		if !cursor.Before(segEnd) {
			// This contract's roll window has already passed; move on to
			// the next one without emitting an empty segment.
			continue
		}

		segs = append(segs, Segment{Contract: ct.Code, ValidFrom: cursor, ValidTo: segEnd})
		cursor = segEnd
	}

	if len(segs) == 0 {
		return nil, apperr.Newf(apperr.KindNoChainForRange, "no contract chain for root %q covers the requested range", root)
	}
	// Invariant (spec.md §3): validity intervals partition the requested
	// range without gaps when an adequate chain is known.
	if segs[0].ValidFrom.After(rangeStart) || contracts[0].ListingDate.After(rangeStart) {
		return nil, apperr.Newf(apperr.KindNoChainForRange, "root %q chain does not extend back to %s", root, rangeStart.Format(time.RFC3339))
	}
	if segs[len(segs)-1].ValidTo.Before(rangeEnd) {
		return nil, apperr.Newf(apperr.KindNoChainForRange, "root %q chain does not extend forward to %s", root, rangeEnd.Format(time.RFC3339))
	}
	return segs, nil
}
