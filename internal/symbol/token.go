// Package symbol parses canonical symbol tokens (spec.md §3) and resolves
// them into upstream contract chains (spec.md §4.1), following the
// enum-plus-regex-dispatch shape of the teacher's symbol resolver.
package symbol

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/aristath/quantlab/internal/apperr"
)

// Kind identifies how a token's BODY should be resolved.
type Kind int

const (
	KindUnknown Kind = iota
	KindEquity
	KindFXPair
	KindIndexCash
	KindContinuousFuture
	KindPositionalFuture
	KindExplicitFuture
)

func (k Kind) String() string {
	switch k {
	case KindEquity:
		return "equity"
	case KindFXPair:
		return "fx_pair"
	case KindIndexCash:
		return "index_cash"
	case KindContinuousFuture:
		return "continuous_future"
	case KindPositionalFuture:
		return "positional_future"
	case KindExplicitFuture:
		return "explicit_future"
	default:
		return "unknown"
	}
}

var (
	fxPattern       = regexp.MustCompile(`^[A-Z]{6}$`)
	continuousPattern = regexp.MustCompile(`^([A-Z]{1,4})\.A$`)
	positionalPattern = regexp.MustCompile(`^([A-Z]{1,4})([1-9])$`)
	explicitPattern   = regexp.MustCompile(`^([A-Z]{1,4})([FGHJKMNQUVXZ])(\d{2})$`)
	equityPattern     = regexp.MustCompile(`^([A-Z0-9.]{1,15}?)(?:\.([A-Z]{1,10}))?$`)
)

// monthCodes maps a futures month letter to its calendar month (1-12).
var monthCodes = map[byte]int{
	'F': 1, 'G': 2, 'H': 3, 'J': 4, 'K': 5, 'M': 6,
	'N': 7, 'Q': 8, 'U': 9, 'V': 10, 'X': 11, 'Z': 12,
}

// Token is a parsed symbol string.
type Token struct {
	Raw       string
	Namespace string // EQ, FX, IX
	Body      string
	Kind      Kind

	// EQ fields.
	Ticker   string
	Exchange string

	// FX fields.
	Base  string
	Quote string

	// IX fields.
	Root      string
	Position  int    // positional futures: 1 = front month
	MonthCode byte   // explicit futures
	Year      int    // explicit futures, 2-digit as given
}

// Parse parses a canonical token of the form NAMESPACE:BODY.
func Parse(raw string) (Token, error) {
	if len(raw) < 3 {
		return Token{}, apperr.Newf(apperr.KindMalformedToken, "token %q is too short", raw)
	}
	idx := indexOfColon(raw)
	if idx < 0 {
		return Token{}, apperr.Newf(apperr.KindMalformedToken, "token %q missing ':' namespace separator", raw)
	}
	namespace := raw[:idx]
	body := raw[idx+1:]
	if body == "" {
		return Token{}, apperr.Newf(apperr.KindMalformedToken, "token %q has empty body", raw)
	}

	switch namespace {
	case "EQ":
		return parseEquity(raw, body)
	case "FX":
		return parseFX(raw, body)
	case "IX":
		return parseIndex(raw, body)
	default:
		return Token{}, apperr.Newf(apperr.KindMalformedToken, "token %q has unknown namespace %q", raw, namespace)
	}
}

func indexOfColon(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

func parseEquity(raw, body string) (Token, error) {
	m := equityPattern.FindStringSubmatch(body)
	if m == nil {
		return Token{}, apperr.Newf(apperr.KindMalformedToken, "token %q is not a valid EQ body", raw)
	}
	return Token{
		Raw:       raw,
		Namespace: "EQ",
		Body:      body,
		Kind:      KindEquity,
		Ticker:    m[1],
		Exchange:  m[2],
	}, nil
}

func parseFX(raw, body string) (Token, error) {
	if !fxPattern.MatchString(body) {
		return Token{}, apperr.Newf(apperr.KindMalformedToken, "token %q is not a 6-letter FX pair", raw)
	}
	return Token{
		Raw:       raw,
		Namespace: "FX",
		Body:      body,
		Kind:      KindFXPair,
		Base:      body[:3],
		Quote:     body[3:],
	}, nil
}

func parseIndex(raw, body string) (Token, error) {
	if m := continuousPattern.FindStringSubmatch(body); m != nil {
		return Token{Raw: raw, Namespace: "IX", Body: body, Kind: KindContinuousFuture, Root: m[1]}, nil
	}
	if m := positionalPattern.FindStringSubmatch(body); m != nil {
		pos, _ := strconv.Atoi(m[2])
		return Token{Raw: raw, Namespace: "IX", Body: body, Kind: KindPositionalFuture, Root: m[1], Position: pos}, nil
	}
	if m := explicitPattern.FindStringSubmatch(body); m != nil {
		year, _ := strconv.Atoi(m[3])
		return Token{Raw: raw, Namespace: "IX", Body: body, Kind: KindExplicitFuture, Root: m[1], MonthCode: m[2][0], Year: year}, nil
	}
	// Bare root: cash index.
	if regexp.MustCompile(`^[A-Z]{1,6}$`).MatchString(body) {
		return Token{Raw: raw, Namespace: "IX", Body: body, Kind: KindIndexCash, Root: body}, nil
	}
	return Token{}, apperr.Newf(apperr.KindMalformedToken, "token %q is not a valid IX body", raw)
}

// String canonicalizes the token back to its wire form; Parse(t.String())
// must reproduce an equivalent token (spec.md §8 round-trip property).
func (t Token) String() string {
	switch t.Kind {
	case KindEquity:
		if t.Exchange != "" {
			return fmt.Sprintf("EQ:%s.%s", t.Ticker, t.Exchange)
		}
		return fmt.Sprintf("EQ:%s", t.Ticker)
	case KindFXPair:
		return fmt.Sprintf("FX:%s%s", t.Base, t.Quote)
	case KindIndexCash:
		return fmt.Sprintf("IX:%s", t.Root)
	case KindContinuousFuture:
		return fmt.Sprintf("IX:%s.A", t.Root)
	case KindPositionalFuture:
		return fmt.Sprintf("IX:%s%d", t.Root, t.Position)
	case KindExplicitFuture:
		return fmt.Sprintf("IX:%s%c%02d", t.Root, t.MonthCode, t.Year)
	default:
		return t.Raw
	}
}

func monthOf(code byte) (int, bool) {
	m, ok := monthCodes[code]
	return m, ok
}
