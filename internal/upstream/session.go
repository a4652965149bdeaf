// Package upstream owns the single long-lived market-data session to the
// broker and exposes it as a request-oriented interface. The teacher's
// MarketStatusWebSocket (internal/clients/tradernet/websocket_client.go)
// drives an event-loop/callback pattern where a background reader pushes
// events onto an event bus; per spec.md §9 Design Notes ("Coroutine
// control flow / callback-driven broker client") this is reframed so every
// public operation returns a result for a specific request instead: the
// session still owns a single reconnecting connection and a background
// reader goroutine, but the reader resolves per-request futures rather
// than emitting bus events.
package upstream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/quantlab/internal/apperr"
	"github.com/aristath/quantlab/internal/calendar"
)

const (
	dialTimeout        = 30 * time.Second
	writeWait          = 10 * time.Second
	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute
)

// Bar is one OHLCV observation (spec.md §3 "Bar").
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Request asks the session to fetch bars for one resolved contract segment.
type Request struct {
	Contract string
	BarSize  string
	Start    time.Time
	End      time.Time
	RTH      bool
}

// Result is the outcome of a fetch: either bars or a typed error.
type Result struct {
	Bars []Bar
	Err  error
}

// Session is the request-oriented broker session interface. The
// coordinator is the only caller; it owns pacing, dedup and retry, so
// Session itself only needs to perform one fetch or one contract lookup at
// a time per call.
type Session interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	FetchBars(ctx context.Context, req Request) (Result, error)
	ListContracts(ctx context.Context, root string) ([]calendar.Contract, error)
	Connected() bool
}

// Config configures the websocket-backed session.
type Config struct {
	URL      string
	ClientID int
	Username string
	Password string
}

// WSSession is a Session backed by a single reconnecting websocket
// connection, modeled directly on the teacher's MarketStatusWebSocket.
type WSSession struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger

	mu          sync.RWMutex
	conn        *websocket.Conn
	connCtx     context.Context
	cancelConn  context.CancelFunc
	connected   bool
	stopped     bool
	reconnectAt int

	pendingMu sync.Mutex
	pending   map[string]chan rawResponse

	stopCh chan struct{}
}

type rawResponse struct {
	payload json.RawMessage
	err     error
}

// NewWSSession builds a session that has not yet dialed; call Start to
// connect.
func NewWSSession(cfg Config, log zerolog.Logger) *WSSession {
	return &WSSession{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: dialTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{NextProtos: []string{"http/1.1"}},
			},
		},
		log:     log.With().Str("component", "upstream_session").Logger(),
		pending: make(map[string]chan rawResponse),
		stopCh:  make(chan struct{}),
	}
}

// Start dials the upstream session. If the initial dial fails, it falls
// back to the reconnect loop rather than failing the process outright,
// matching spec.md §4.2 "Upstream disconnect: the coordinator attempts
// reconnection with backoff".
func (s *WSSession) Start(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		s.log.Warn().Err(err).Msg("initial dial failed, starting reconnect loop")
		go s.reconnectLoop()
		return nil
	}
	return nil
}

// Shutdown closes the connection and stops the reconnect loop.
func (s *WSSession) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	conn := s.conn
	cancel := s.cancelConn
	s.mu.Unlock()

	close(s.stopCh)
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
	return nil
}

// Connected reports whether the session currently has a live connection.
func (s *WSSession) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *WSSession) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.cfg.URL, &websocket.DialOptions{HTTPClient: s.httpClient})
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamUnavailable, "upstream: dial failed", err)
	}

	connCtx, cancelConn := context.WithCancel(context.Background())

	s.mu.Lock()
	s.conn = conn
	s.connCtx = connCtx
	s.cancelConn = cancelConn
	s.connected = true
	s.reconnectAt = 0
	s.mu.Unlock()

	if err := s.authenticate(connCtx); err != nil {
		cancelConn()
		return err
	}

	go s.readLoop(connCtx, conn)
	s.log.Info().Str("url", s.cfg.URL).Msg("upstream session connected")
	return nil
}

func (s *WSSession) authenticate(ctx context.Context) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	payload, _ := json.Marshal(map[string]any{
		"op":        "auth",
		"client_id": s.cfg.ClientID,
		"username":  s.cfg.Username,
	})
	return s.write(writeCtx, payload)
}

func (s *WSSession) write(ctx context.Context, payload []byte) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return apperr.New(apperr.KindUpstreamUnavailable, "upstream: no active connection")
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return apperr.Wrap(apperr.KindUpstreamUnavailable, "upstream: write failed", err)
	}
	return nil
}

func (s *WSSession) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()

			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				s.failAllPending(apperr.Wrap(apperr.KindUpstreamUnavailable, "upstream: connection closed", err))
			}

			s.mu.RLock()
			stopped := s.stopped
			s.mu.RUnlock()
			if !stopped {
				go s.reconnectLoop()
			}
			return
		}
		s.dispatch(data)
	}
}

// envelope is the wire shape for both requests and responses: a
// correlation id plus a payload, letting one connection multiplex many
// concurrent logical requests.
type envelope struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error,omitempty"`
}

func (s *WSSession) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Warn().Err(err).Msg("upstream: failed to decode frame")
		return
	}

	s.pendingMu.Lock()
	ch, ok := s.pending[env.ID]
	if ok {
		delete(s.pending, env.ID)
	}
	s.pendingMu.Unlock()

	if !ok {
		return
	}
	if env.Error != "" {
		ch <- rawResponse{err: fmt.Errorf("%s", env.Error)}
		return
	}
	ch <- rawResponse{payload: env.Payload}
}

func (s *WSSession) failAllPending(err error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, ch := range s.pending {
		ch <- rawResponse{err: err}
		delete(s.pending, id)
	}
}

// call sends a request envelope and blocks for its matching response or
// ctx cancellation, the request/future reframing of the callback-driven
// source.
func (s *WSSession) call(ctx context.Context, kind string, payload any) (json.RawMessage, error) {
	if s.stoppedFlag() {
		return nil, apperr.New(apperr.KindCancelled, "upstream: session stopped")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvariant, "upstream: failed to marshal request", err)
	}
	id := uuid.NewString()
	env := envelope{ID: id, Kind: kind, Payload: body}
	frame, err := json.Marshal(env)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvariant, "upstream: failed to marshal envelope", err)
	}

	respCh := make(chan rawResponse, 1)
	s.pendingMu.Lock()
	s.pending[id] = respCh
	s.pendingMu.Unlock()

	if err := s.write(ctx, frame); err != nil {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.err != nil {
			return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "upstream: request failed", resp.err)
		}
		return resp.payload, nil
	case <-ctx.Done():
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
		return nil, apperr.Wrap(apperr.KindTimeout, "upstream: request timed out", ctx.Err())
	}
}

func (s *WSSession) stoppedFlag() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// FetchBars requests historical bars for one contract segment.
func (s *WSSession) FetchBars(ctx context.Context, req Request) (Result, error) {
	payload, err := s.call(ctx, "fetch_bars", map[string]any{
		"contract": req.Contract,
		"bar_size": req.BarSize,
		"start":    req.Start.Unix(),
		"end":      req.End.Unix(),
		"rth":      req.RTH,
	})
	if err != nil {
		return Result{}, err
	}

	var wire struct {
		Bars []struct {
			T int64   `json:"t"`
			O float64 `json:"o"`
			H float64 `json:"h"`
			L float64 `json:"l"`
			C float64 `json:"c"`
			V int64   `json:"v"`
		} `json:"bars"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Result{}, apperr.Wrap(apperr.KindInvariant, "upstream: malformed bars payload", err)
	}

	bars := make([]Bar, 0, len(wire.Bars))
	for _, b := range wire.Bars {
		bars = append(bars, Bar{
			Timestamp: time.Unix(b.T, 0).UTC(),
			Open:      b.O, High: b.H, Low: b.L, Close: b.C, Volume: b.V,
		})
	}
	return Result{Bars: bars}, nil
}

// ListContracts discovers live and near-past contracts for root, feeding
// the expiry calendar (calendar.Lister).
func (s *WSSession) ListContracts(ctx context.Context, root string) ([]calendar.Contract, error) {
	payload, err := s.call(ctx, "list_contracts", map[string]any{"root": root})
	if err != nil {
		return nil, err
	}

	var wire struct {
		Contracts []struct {
			Code           string `json:"code"`
			MonthCode      string `json:"month_code"`
			Year           int    `json:"year"`
			ListingDate    int64  `json:"listing_date"`
			LastTradingDay int64  `json:"last_trading_day"`
		} `json:"contracts"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, apperr.Wrap(apperr.KindInvariant, "upstream: malformed contracts payload", err)
	}

	out := make([]calendar.Contract, 0, len(wire.Contracts))
	for _, c := range wire.Contracts {
		var monthCode byte
		if len(c.MonthCode) > 0 {
			monthCode = c.MonthCode[0]
		}
		out = append(out, calendar.Contract{
			Root:           root,
			Code:           c.Code,
			MonthCode:      monthCode,
			Year:           c.Year,
			ListingDate:    time.Unix(c.ListingDate, 0).UTC(),
			LastTradingDay: time.Unix(c.LastTradingDay, 0).UTC(),
		})
	}
	return out, nil
}

// calculateBackoff mirrors the teacher's exponential backoff with a cap.
func calculateBackoff(attempt int) time.Duration {
	delay := baseReconnectDelay * time.Duration(1<<uint(attempt-1))
	if delay > maxReconnectDelay || delay <= 0 {
		return maxReconnectDelay
	}
	return delay
}

func (s *WSSession) reconnectLoop() {
	attempt := 0
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		attempt++
		delay := calculateBackoff(attempt)
		s.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("upstream: reconnecting")

		select {
		case <-time.After(delay):
		case <-s.stopCh:
			return
		}

		if err := s.connect(context.Background()); err != nil {
			s.log.Error().Err(err).Int("attempt", attempt).Msg("upstream: reconnect attempt failed")
			continue
		}
		s.log.Info().Int("attempt", attempt).Msg("upstream: reconnected")
		return
	}
}
