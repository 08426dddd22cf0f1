package domain

import "time"

// Leg is one option contract within a multi-leg position. Quantity and Side
// must reconcile with the broker's ledger once the position is OPEN.
type Leg struct {
	Symbol     string     `json:"symbol"`     // OCC option symbol
	Expiration string     `json:"expiration"` // ExpirationLayout date
	Strike     float64    `json:"strike"`
	Type       OptionType `json:"type"`
	Quantity   int        `json:"quantity"`
	Side       LegSide    `json:"side"`
}

// Position is a tracked multi-leg option position. It is exclusively owned by
// the lifecycle manager; only the reconciliation sweep may mutate it from an
// external source of truth.
type Position struct {
	TradeID    string   `json:"trade_id"`
	Symbol     string   `json:"symbol"` // underlying
	Strategy   Strategy `json:"strategy"`
	Bias       Bias     `json:"bias"`
	Legs       []Leg    `json:"legs"`
	EntryPrice float64  `json:"entry_price"` // net credit per contract (debit negative)
	Quantity   int      `json:"quantity"`    // contracts per leg unit
	HighestPnL float64  `json:"highest_pnl"` // non-decreasing while OPEN

	Status       PositionStatus `json:"status"`
	OrderID      string         `json:"order_id"`                 // entry order at the broker
	CloseOrderID string         `json:"close_order_id,omitempty"` // resting close order while CLOSING
	CloseLimit   float64        `json:"close_limit,omitempty"`    // limit price of the resting close order

	OpenedAt         time.Time `json:"opened_at"`
	FilledAt         time.Time `json:"filled_at,omitempty"`
	CloseSubmittedAt time.Time `json:"close_submitted_at,omitempty"`
	RetryAfter       time.Time `json:"retry_after,omitempty"` // close-retry cooldown after a failed close
}

// IsOpen reports whether the position has a confirmed fill at the broker.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// InFlight reports whether an order for this position is awaiting a terminal
// broker state. At most one order may be in flight per position.
func (p *Position) InFlight() bool {
	return p.Status == StatusOpening || p.Status == StatusClosing
}

// RecordPnL updates the profit high-water mark while the position is open.
func (p *Position) RecordPnL(pnl float64) {
	if pnl > p.HighestPnL {
		p.HighestPnL = pnl
	}
}

// TradeIntent is an unexecuted proposal to open a position. It is produced and
// consumed within a single tick and never persisted.
type TradeIntent struct {
	Symbol     string
	Strategy   Strategy
	Bias       Bias
	OptionType OptionType // primary option type for two-leg structures
	Rule       string     // name of the rule that fired
}
