// Package tradier is the brokerage adapter: REST market data and account
// state, plus the websocket tick stream. Order placement is not here; orders
// go through the execution gateway.
package tradier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"optionsBrain/internal/domain"
	"optionsBrain/internal/ports"
)

const defaultTimeout = 10 * time.Second

// Config holds connection settings for the brokerage API.
type Config struct {
	BaseURL   string // e.g. https://sandbox.tradier.com
	StreamURL string // websocket events endpoint
	Token     string
	AccountID string
	Timeout   time.Duration
}

// Client implements ports.Broker over the brokerage REST API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger ports.Logger
}

// NewClient creates a brokerage client.
func NewClient(cfg Config, logger ports.Logger) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for broker client")
	}
	if cfg.BaseURL == "" || cfg.Token == "" || cfg.AccountID == "" {
		return nil, fmt.Errorf("broker base URL, token and account ID are required: %w", ports.ErrConfigurationError)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// handleStatus translates an HTTP status into a port error. Callers wrap the
// result with their op name.
func handleStatus(status int) error {
	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ports.ErrAuthenticationFailed
	case status == http.StatusNotFound:
		return ports.ErrNotFound
	case status == http.StatusTooManyRequests:
		return ports.ErrRateLimited
	case status >= 500:
		return ports.ErrBrokerUnavailable
	case status >= 400:
		return ports.ErrInvalidRequest
	default:
		return ports.ErrUnknown
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ports.ErrContextCanceled
		}
		return fmt.Errorf("%w: %v", ports.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if err := handleStatus(resp.StatusCode); err != nil {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Debug(ctx, "Broker API error", map[string]interface{}{
			"method": method, "path": path, "status": resp.StatusCode, "body": string(body),
		})
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode broker response: %w", err)
	}
	return nil
}

func toGreeks(g *wireGreeks) *ports.Greeks {
	if g == nil {
		return nil
	}
	return &ports.Greeks{
		Delta: float64(g.Delta),
		Gamma: float64(g.Gamma),
		Theta: float64(g.Theta),
		Vega:  float64(g.Vega),
		MidIV: float64(g.MidIV),
	}
}

// GetQuotes retrieves quotes for a batch of symbols in one request.
func (c *Client) GetQuotes(ctx context.Context, symbols []string) ([]ports.Quote, error) {
	const op = "GetQuotes"

	var envelope struct {
		Quotes struct {
			Quote quoteList `json:"quote"`
		} `json:"quotes"`
	}
	q := url.Values{"symbols": {strings.Join(symbols, ",")}, "greeks": {"true"}}
	if err := c.do(ctx, http.MethodGet, "/v1/markets/quotes", q, &envelope); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]ports.Quote, 0, len(envelope.Quotes.Quote))
	for _, w := range envelope.Quotes.Quote {
		out = append(out, ports.Quote{
			Symbol: w.Symbol,
			Last:   float64(w.Last),
			Bid:    float64(w.Bid),
			Ask:    float64(w.Ask),
			Greeks: toGreeks(w.Greeks),
		})
	}
	return out, nil
}

// GetOptionChain retrieves the chain for an underlying and expiration,
// greeks included where the broker has them.
func (c *Client) GetOptionChain(ctx context.Context, symbol, expiration string) ([]ports.OptionQuote, error) {
	const op = "GetOptionChain"

	var envelope struct {
		Options struct {
			Option quoteList `json:"option"`
		} `json:"options"`
	}
	q := url.Values{"symbol": {symbol}, "expiration": {expiration}, "greeks": {"true"}}
	if err := c.do(ctx, http.MethodGet, "/v1/markets/options/chains", q, &envelope); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(envelope.Options.Option) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ports.ErrNoChain)
	}

	out := make([]ports.OptionQuote, 0, len(envelope.Options.Option))
	for _, w := range envelope.Options.Option {
		var typ domain.OptionType
		switch strings.ToLower(w.OptionType) {
		case "put":
			typ = domain.Put
		case "call":
			typ = domain.Call
		default:
			continue
		}
		out = append(out, ports.OptionQuote{
			Symbol:     w.Symbol,
			Underlying: w.Underlying,
			Expiration: w.ExpirationDate,
			Strike:     float64(w.Strike),
			Type:       typ,
			Bid:        float64(w.Bid),
			Ask:        float64(w.Ask),
			Greeks:     toGreeks(w.Greeks),
		})
	}
	return out, nil
}

// GetExpirations lists expiration dates for an underlying, oldest first.
func (c *Client) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	const op = "GetExpirations"

	var envelope struct {
		Expirations struct {
			Date stringList `json:"date"`
		} `json:"expirations"`
	}
	q := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, http.MethodGet, "/v1/markets/options/expirations", q, &envelope); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(envelope.Expirations.Date) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ports.ErrNoExpirations)
	}
	return envelope.Expirations.Date, nil
}

// orderStates maps the broker's order status strings to port states.
var orderStates = map[string]ports.OrderState{
	"pending":          ports.OrderPending,
	"submitted":        ports.OrderPending,
	"open":             ports.OrderOpen,
	"partially_filled": ports.OrderOpen,
	"filled":           ports.OrderFilled,
	"canceled":         ports.OrderCanceled,
	"rejected":         ports.OrderRejected,
	"expired":          ports.OrderExpired,
}

// GetOrderStatus looks up an order by id.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*ports.OrderStatus, error) {
	const op = "GetOrderStatus"

	var envelope struct {
		Order wireOrder `json:"order"`
	}
	path := fmt.Sprintf("/v1/accounts/%s/orders/%s", c.cfg.AccountID, orderID)
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ports.ErrOrderNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	state, ok := orderStates[strings.ToLower(envelope.Order.Status)]
	if !ok {
		state = ports.OrderPending
	}
	status := &ports.OrderStatus{
		OrderID:      envelope.Order.ID.String(),
		State:        state,
		AvgFillPrice: float64(envelope.Order.AvgFillPrice),
		ExecQuantity: float64(envelope.Order.ExecQuantity),
	}
	if t, err := time.Parse(time.RFC3339, envelope.Order.CreateDate); err == nil {
		status.CreatedAt = t
	}
	return status, nil
}

// CancelOrder cancels a resting order. A 404 means the order is already
// terminal at the broker and maps to ErrOrderCancelFailed's softer sibling,
// ErrOrderNotFound.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	const op = "CancelOrder"

	path := fmt.Sprintf("/v1/accounts/%s/orders/%s", c.cfg.AccountID, orderID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ports.ErrOrderNotFound)
		}
		return fmt.Errorf("%s: %w: %v", op, ports.ErrOrderCancelFailed, err)
	}
	return nil
}

// GetPositions retrieves the account's live position ledger.
func (c *Client) GetPositions(ctx context.Context) ([]ports.BrokerPosition, error) {
	const op = "GetPositions"

	var envelope positionsEnvelope
	path := fmt.Sprintf("/v1/accounts/%s/positions", c.cfg.AccountID)
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]ports.BrokerPosition, 0, len(envelope.Positions))
	for _, w := range envelope.Positions {
		pos := ports.BrokerPosition{
			Symbol:    w.Symbol,
			Quantity:  float64(w.Quantity),
			CostBasis: float64(w.CostBasis),
		}
		if t, err := time.Parse(time.RFC3339, w.DateAcquired); err == nil {
			pos.Acquired = t
		}
		out = append(out, pos)
	}
	return out, nil
}

// GetEquity retrieves total account equity.
func (c *Client) GetEquity(ctx context.Context) (float64, error) {
	const op = "GetEquity"

	var envelope struct {
		Balances struct {
			TotalEquity flexFloat `json:"total_equity"`
		} `json:"balances"`
	}
	path := fmt.Sprintf("/v1/accounts/%s/balances", c.cfg.AccountID)
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return float64(envelope.Balances.TotalEquity), nil
}
