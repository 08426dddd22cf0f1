// Package gateway is the execution-gateway adapter. The gateway is the only
// path to order placement: it re-validates every proposal against its own
// risk limits before touching the broker, so this client's job is faithful
// signing and honest status mapping, never retries.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"optionsBrain/internal/ports"
)

const (
	proposalPath   = "/v1/proposal"
	defaultTimeout = 15 * time.Second

	headerSignature = "X-GW-Signature"
	headerTimestamp = "X-GW-Timestamp"
)

// Config holds gateway connection settings.
type Config struct {
	BaseURL string
	Secret  string // shared HMAC secret
	Timeout time.Duration
}

// Client implements ports.ExecutionGateway over the gateway's signed REST API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger ports.Logger
}

// New creates a gateway client.
func New(cfg Config, logger ports.Logger) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for gateway client")
	}
	if cfg.BaseURL == "" || cfg.Secret == "" {
		return nil, fmt.Errorf("gateway base URL and secret are required: %w", ports.ErrConfigurationError)
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

// canonicalize renders a payload as compact JSON with every object's keys
// sorted, the exact byte form both sides sign. Round-tripping through a
// number-preserving decode gets map ordering without mangling numerics.
func canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// sign computes the hex HMAC-SHA256 of the canonical payload.
func (c *Client) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.Secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// decisionOf maps an HTTP status to the gateway verdict.
func decisionOf(status int) ports.DecisionStatus {
	switch status {
	case http.StatusOK:
		return ports.DecisionApproved
	case http.StatusBadRequest:
		return ports.DecisionBadRequest
	case http.StatusUnauthorized:
		return ports.DecisionUnauthorized
	case http.StatusForbidden:
		return ports.DecisionRejected
	default:
		return ports.DecisionGatewayError
	}
}

// Submit signs and posts a proposal, returning the gateway's decision. Only
// transport failures return an error; every HTTP response maps to a decision.
func (c *Client) Submit(ctx context.Context, p *ports.Proposal) (*ports.Decision, error) {
	const op = "Submit"

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Timestamp == 0 {
		p.Timestamp = time.Now().UnixMilli()
	}

	payload, err := canonicalize(p)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to canonicalize proposal: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+proposalPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerSignature, c.sign(payload))
	req.Header.Set(headerTimestamp, strconv.FormatInt(p.Timestamp, 10))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", op, ports.ErrContextCanceled)
		}
		return nil, fmt.Errorf("%s: %w: %v", op, ports.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	var body struct {
		Data struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		// A body we cannot read on a 200 is still a gateway fault.
		if resp.StatusCode == http.StatusOK {
			return nil, fmt.Errorf("%s: failed to decode approval: %w", op, err)
		}
	}

	decision := &ports.Decision{
		Status:  decisionOf(resp.StatusCode),
		OrderID: body.Data.OrderID,
		Reason:  body.Reason,
	}
	c.logger.Info(ctx, "Gateway decision", map[string]interface{}{
		"op": op, "proposal_id": p.ID, "symbol": p.Symbol,
		"status": string(decision.Status), "order_id": decision.OrderID,
	})
	return decision, nil
}
