package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func TestCalculateBackoffGrowsExponentiallyAndCaps(t *testing.T) {
	assert.Equal(t, baseReconnectDelay, calculateBackoff(1))
	assert.Equal(t, 2*baseReconnectDelay, calculateBackoff(2))
	assert.Equal(t, 4*baseReconnectDelay, calculateBackoff(3))
	assert.Equal(t, maxReconnectDelay, calculateBackoff(30))
}

func TestConnectedFalseBeforeStart(t *testing.T) {
	s := NewWSSession(Config{URL: "ws://unused"}, zerolog.Nop())
	assert.False(t, s.Connected())
}

func TestShutdownBeforeStartIsNoop(t *testing.T) {
	s := NewWSSession(Config{URL: "ws://unused"}, zerolog.Nop())
	assert.NoError(t, s.Shutdown(context.Background()))
}

func TestShutdownIsIdempotent(t *testing.T) {
	s := NewWSSession(Config{URL: "ws://unused"}, zerolog.Nop())
	require.NoError(t, s.Shutdown(context.Background()))
	assert.NoError(t, s.Shutdown(context.Background()))
}

// echoServer accepts one websocket connection, reads request envelopes and
// replies using the supplied handler to build the payload for each kind.
func echoServer(t *testing.T, handler func(kind string, payload json.RawMessage) (json.RawMessage, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		ctx := context.Background()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				return
			}
			payload, errMsg := handler(env.Kind, env.Payload)
			resp := envelope{ID: env.ID, Kind: env.Kind, Payload: payload, Error: errMsg}
			frame, _ := json.Marshal(resp)
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return
			}
		}
	}))
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + httpURL[len("http"):]
}

func TestFetchBarsRoundTripsOverWebsocket(t *testing.T) {
	srv := echoServer(t, func(kind string, payload json.RawMessage) (json.RawMessage, string) {
		if kind == "auth" {
			return json.RawMessage(`{}`), ""
		}
		bars := `{"bars":[{"t":1700000000,"o":1,"h":2,"l":0.5,"c":1.5,"v":100}]}`
		return json.RawMessage(bars), ""
	})
	defer srv.Close()

	s := NewWSSession(Config{URL: wsURL(srv.URL)}, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Connected())

	result, err := s.FetchBars(context.Background(), Request{Contract: "AAPL", BarSize: "1d"})
	require.NoError(t, err)
	require.Len(t, result.Bars, 1)
	assert.Equal(t, 1.5, result.Bars[0].Close)
	assert.EqualValues(t, 100, result.Bars[0].Volume)

	require.NoError(t, s.Shutdown(context.Background()))
}

func TestListContractsRoundTripsOverWebsocket(t *testing.T) {
	srv := echoServer(t, func(kind string, payload json.RawMessage) (json.RawMessage, string) {
		if kind == "auth" {
			return json.RawMessage(`{}`), ""
		}
		contracts := `{"contracts":[{"code":"ESH24","month_code":"H","year":2024,"listing_date":1690000000,"last_trading_day":1710000000}]}`
		return json.RawMessage(contracts), ""
	})
	defer srv.Close()

	s := NewWSSession(Config{URL: wsURL(srv.URL)}, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))

	contracts, err := s.ListContracts(context.Background(), "ES")
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	assert.Equal(t, "ESH24", contracts[0].Code)
	assert.Equal(t, byte('H'), contracts[0].MonthCode)

	require.NoError(t, s.Shutdown(context.Background()))
}

func TestCallTimesOutWhenNoResponseArrives(t *testing.T) {
	srv := echoServer(t, func(kind string, payload json.RawMessage) (json.RawMessage, string) {
		if kind == "auth" {
			return json.RawMessage(`{}`), ""
		}
		time.Sleep(time.Hour) // never reached in test: handler blocks goroutine, ctx below times out first
		return nil, ""
	})
	defer srv.Close()

	s := NewWSSession(Config{URL: wsURL(srv.URL)}, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.FetchBars(ctx, Request{Contract: "AAPL"})
	assert.Error(t, err)
}
