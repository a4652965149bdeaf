// Package apperr defines the typed error taxonomy shared by the symbol
// resolver, coordinator, expression engine and HTTP layer, following the
// wrap-with-%w idiom used throughout the teacher's client and resolver code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind discriminates the error classes of spec.md §7.
type Kind string

const (
	// Client errors.
	KindParseError         Kind = "ParseError"
	KindMalformedToken      Kind = "MalformedToken"
	KindUnknownSymbol       Kind = "UnknownSymbol"
	KindUnsupportedParam    Kind = "UnsupportedParameter"
	KindEmptyRange          Kind = "EmptyRange"

	// Resolution errors.
	KindUnknownRoot    Kind = "UnknownRoot"
	KindNoChainForRange Kind = "NoChainForRange"

	// Upstream errors.
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	KindPacingViolation     Kind = "PacingViolation"
	KindNoDataFarm          Kind = "NoDataFarm"
	KindTimeout             Kind = "Timeout"
	KindCancelled           Kind = "Cancelled"

	// Expression/result errors.
	KindEmptyResult Kind = "EmptyResult"

	// Internal errors.
	KindInvariant Kind = "Invariant"
)

// Error is a typed, wrappable error carrying a Kind for HTTP status mapping
// and structured logging.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind wrapping a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Newf is New with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind of err, or "" if err is not (or does not wrap)
// an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether err's kind is one of the three retried by the
// coordinator's backoff policy (spec.md §7 "Retries").
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUpstreamUnavailable, KindPacingViolation, KindNoDataFarm:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a Kind to the status code the HTTP layer should return.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindParseError, KindMalformedToken, KindUnknownSymbol, KindUnsupportedParam, KindEmptyRange:
		return http.StatusBadRequest
	case KindUnknownRoot, KindNoChainForRange:
		return http.StatusBadRequest
	case KindUpstreamUnavailable, KindPacingViolation, KindNoDataFarm:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCancelled:
		return http.StatusServiceUnavailable
	case KindEmptyResult:
		return http.StatusOK
	case KindInvariant:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
