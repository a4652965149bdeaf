package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAndError(t *testing.T) {
	err := New(KindParseError, "bad expression")
	assert.Equal(t, "ParseError: bad expression", err.Error())
	assert.Equal(t, KindParseError, KindOf(err))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(KindUpstreamUnavailable, "could not reach data farm", cause)

	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.ErrorIs(t, err, cause)
}

func TestNewf(t *testing.T) {
	err := Newf(KindMalformedToken, "token %q is too short", "E:")
	assert.Equal(t, `MalformedToken: token "E:" is too short`, err.Error())
}

func TestKindOfNonAppError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain error")))
}

func TestKindOfWrappedError(t *testing.T) {
	inner := New(KindTimeout, "deadline exceeded")
	outer := errors.Join(errors.New("context"), inner)
	assert.Equal(t, KindTimeout, KindOf(outer))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindUpstreamUnavailable, true},
		{KindPacingViolation, true},
		{KindNoDataFarm, true},
		{KindTimeout, false},
		{KindParseError, false},
		{Kind(""), false},
	}
	for _, tt := range tests {
		err := New(tt.kind, "x")
		assert.Equal(t, tt.want, Retryable(err))
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindParseError, http.StatusBadRequest},
		{KindMalformedToken, http.StatusBadRequest},
		{KindUnknownSymbol, http.StatusBadRequest},
		{KindUnsupportedParam, http.StatusBadRequest},
		{KindEmptyRange, http.StatusBadRequest},
		{KindUnknownRoot, http.StatusBadRequest},
		{KindNoChainForRange, http.StatusBadRequest},
		{KindUpstreamUnavailable, http.StatusServiceUnavailable},
		{KindPacingViolation, http.StatusServiceUnavailable},
		{KindNoDataFarm, http.StatusServiceUnavailable},
		{KindTimeout, http.StatusGatewayTimeout},
		{KindCancelled, http.StatusServiceUnavailable},
		{KindEmptyResult, http.StatusOK},
		{KindInvariant, http.StatusInternalServerError},
		{Kind("bogus"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.kind))
	}
}
