package tradier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"optionsBrain/internal/domain"
	"optionsBrain/internal/metrics"
	"optionsBrain/internal/ports"
)

const defaultStreamURL = "wss://ws.tradier.com/v1/markets/events"

// Stream implements ports.MarketStream over the broker's websocket events
// feed. Each connection needs a fresh REST session id; Run re-creates the
// session and reconnects with exponential backoff until the context dies.
type Stream struct {
	client  *Client
	symbols []string
	logger  ports.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	lastTraffic time.Time
}

// NewStream creates a market tick stream for the given symbols.
func NewStream(client *Client, symbols []string, logger ports.Logger) (*Stream, error) {
	if client == nil || logger == nil {
		return nil, fmt.Errorf("market stream requires broker client and logger")
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("market stream requires at least one symbol: %w", ports.ErrConfigurationError)
	}
	return &Stream{client: client, symbols: symbols, logger: logger}, nil
}

// createSession obtains a short-lived websocket session id from the REST API.
func (s *Stream) createSession(ctx context.Context) (string, error) {
	var envelope struct {
		Stream struct {
			SessionID string `json:"sessionid"`
			URL       string `json:"url"`
		} `json:"stream"`
	}
	if err := s.client.do(ctx, http.MethodPost, "/v1/markets/events/session", nil, &envelope); err != nil {
		return "", err
	}
	if envelope.Stream.SessionID == "" {
		return "", fmt.Errorf("empty stream session id: %w", ports.ErrBrokerUnavailable)
	}
	return envelope.Stream.SessionID, nil
}

// wireEvent is one streamed message. Trade and quote events become ticks;
// other types still count as traffic for the liveness watchdog.
type wireEvent struct {
	Type   string    `json:"type"`
	Symbol string    `json:"symbol"`
	Price  flexFloat `json:"price"`
	Size   flexFloat `json:"size"`
	Bid    flexFloat `json:"bid"`
	Ask    flexFloat `json:"ask"`
	Date   string    `json:"date"` // epoch milliseconds
}

// tick converts a stream event into a price tick. Trades carry last price and
// size; quotes contribute the mid-price with zero volume, keeping the price
// series moving between prints. Anything else yields no tick.
func (e wireEvent) tick() (domain.Tick, bool) {
	if e.Symbol == "" {
		return domain.Tick{}, false
	}
	var price float64
	var volume int64
	switch e.Type {
	case "trade":
		price = float64(e.Price)
		volume = int64(e.Size)
	case "quote":
		if e.Bid > 0 && e.Ask > 0 {
			price = (float64(e.Bid) + float64(e.Ask)) / 2
		}
	default:
		return domain.Tick{}, false
	}
	if price <= 0 {
		return domain.Tick{}, false
	}
	ts := time.Now()
	if ms, err := strconv.ParseInt(e.Date, 10, 64); err == nil && ms > 0 {
		ts = time.UnixMilli(ms)
	}
	return domain.Tick{Symbol: e.Symbol, Price: price, Volume: volume, Time: ts}, true
}

// Run connects and delivers ticks until ctx is canceled. Connection failures
// go to errHandler and trigger a backed-off reconnect.
func (s *Stream) Run(ctx context.Context, handler func(domain.Tick), errHandler func(error)) error {
	if handler == nil {
		return fmt.Errorf("tick handler is required")
	}

	b := &backoff.Backoff{Min: time.Second, Max: time.Minute, Jitter: true, Factor: 2}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := s.runConnection(ctx, handler, func() { b.Reset() })
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && errHandler != nil {
			errHandler(err)
		}

		metrics.StreamReconnects.Inc()
		wait := b.Duration()
		s.logger.Warn(ctx, "Stream disconnected, reconnecting", map[string]interface{}{
			"wait": wait.String(), "error": fmt.Sprint(err),
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// runConnection handles one websocket session: create session id, dial,
// subscribe, then pump messages until the connection drops. onEstablished
// fires after the subscription is accepted, resetting the backoff.
func (s *Stream) runConnection(ctx context.Context, handler func(domain.Tick), onEstablished func()) error {
	sessionID, err := s.createSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to create stream session: %w", err)
	}

	streamURL := s.client.cfg.StreamURL
	if streamURL == "" {
		streamURL = defaultStreamURL
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrConnectionFailed, err)
	}
	defer conn.Close()

	subscribe := map[string]interface{}{
		"symbols":   s.symbols,
		"sessionid": sessionID,
		"filter":    []string{"trade", "quote"},
		"linebreak": false,
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.lastTraffic = time.Now()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	// Unblock the read loop when the context dies.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	onEstablished()
	s.logger.Info(ctx, "Stream connected", map[string]interface{}{
		"symbols": s.symbols,
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("stream read failed: %w", err)
		}

		s.mu.Lock()
		s.lastTraffic = time.Now()
		s.mu.Unlock()

		var event wireEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			s.logger.Debug(ctx, "Unparseable stream message", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		tick, ok := event.tick()
		if !ok {
			continue
		}
		metrics.TicksTotal.Inc()
		handler(tick)
	}
}

// LastTraffic returns the arrival time of the most recent stream message.
func (s *Stream) LastTraffic() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTraffic
}

// Bounce force-closes the live connection so Run reconnects. The liveness
// watchdog calls this when the stream has gone quiet past its deadline.
func (s *Stream) Bounce() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
