package ports

import (
	"context"

	"optionsBrain/internal/domain"
)

// ProposalLeg is one leg of a trade proposal in the gateway's wire format.
type ProposalLeg struct {
	Symbol     string  `json:"symbol"`
	Expiration string  `json:"expiration"`
	Strike     float64 `json:"strike"`
	Type       string  `json:"type"`
	Quantity   int     `json:"quantity"`
	Side       string  `json:"side"`
}

// ProposalContext carries the indicator state the gateway re-vets proposals
// against. Pointer fields are omitted when the corresponding channel has no
// data yet.
type ProposalContext struct {
	VIX            *float64 `json:"vix"`
	FlowState      string   `json:"flow_state"`
	TrendState     string   `json:"trend_state"`
	RSI            float64  `json:"rsi"`
	VWAP           float64  `json:"vwap"`
	VolumeVelocity float64  `json:"volume_velocity"`
	SMA200         *float64 `json:"sma_200"`
	CandleCount    int      `json:"candle_count"`
}

// Proposal is a signed trade proposal. ID and Timestamp are filled by the
// gateway client if left empty.
type Proposal struct {
	ID        string              `json:"id"`
	Timestamp int64               `json:"timestamp"` // milliseconds
	Symbol    string              `json:"symbol"`
	Strategy  domain.Strategy     `json:"strategy"`
	Side      domain.ProposalSide `json:"side"`
	Quantity  int                 `json:"quantity"`
	Price     float64             `json:"price"` // limit price, always positive
	Legs      []ProposalLeg       `json:"legs"`
	Context   ProposalContext     `json:"context"`
}

// DecisionStatus is the gateway's verdict on a proposal.
type DecisionStatus string

const (
	DecisionApproved     DecisionStatus = "APPROVED"
	DecisionRejected     DecisionStatus = "REJECTED"
	DecisionBadRequest   DecisionStatus = "BAD_REQUEST"
	DecisionUnauthorized DecisionStatus = "UNAUTHORIZED"
	DecisionGatewayError DecisionStatus = "GATEWAY_ERROR"
)

// Decision is the gateway's response to a proposal. OrderID is set only when
// Status is APPROVED. Anything else means no position was created.
type Decision struct {
	Status  DecisionStatus
	OrderID string
	Reason  string
}

// ExecutionGateway submits trade proposals to the remote risk gateway, which
// independently re-validates every order before placing it at the broker.
type ExecutionGateway interface {
	Submit(ctx context.Context, p *Proposal) (*Decision, error)
}
