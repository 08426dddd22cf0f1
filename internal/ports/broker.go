package ports

import (
	"context"
	"time"

	"optionsBrain/internal/domain"
)

// Quote is a last/bid/ask quote for an equity or option symbol. Greeks are
// optional; the broker omits them for underlyings and sometimes for thin
// contracts.
type Quote struct {
	Symbol string
	Last   float64
	Bid    float64
	Ask    float64
	Greeks *Greeks
}

// Greeks carries the option greeks the broker reports alongside quotes.
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	MidIV float64 // mid implied volatility
}

// OptionQuote is one contract row of an option chain.
type OptionQuote struct {
	Symbol     string
	Underlying string
	Expiration string // domain.ExpirationLayout
	Strike     float64
	Type       domain.OptionType
	Bid        float64
	Ask        float64
	Greeks     *Greeks
}

// OrderState is the broker's reported state for an order.
type OrderState string

const (
	OrderPending  OrderState = "pending"
	OrderOpen     OrderState = "open"
	OrderFilled   OrderState = "filled"
	OrderCanceled OrderState = "canceled"
	OrderRejected OrderState = "rejected"
	OrderExpired  OrderState = "expired"
)

// Terminal reports whether the state is final at the broker.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

// OrderStatus is the broker's view of an order.
type OrderStatus struct {
	OrderID      string
	State        OrderState
	AvgFillPrice float64
	ExecQuantity float64
	CreatedAt    time.Time
}

// BrokerPosition is one row of the broker's live position ledger. Quantity is
// signed (negative = short). CostBasis is total dollars with the broker's sign
// convention: negative for credit received, positive for debit paid.
type BrokerPosition struct {
	Symbol    string
	Quantity  float64
	CostBasis float64
	Acquired  time.Time
}

// Broker defines the read/cancel surface of the brokerage API the brain
// consumes. Order placement goes through the ExecutionGateway, never directly
// to the broker.
type Broker interface {
	// GetQuotes retrieves quotes for a batch of symbols in one call.
	GetQuotes(ctx context.Context, symbols []string) ([]Quote, error)

	// GetOptionChain retrieves the option chain for an underlying and
	// expiration, including greeks where the broker provides them.
	GetOptionChain(ctx context.Context, symbol, expiration string) ([]OptionQuote, error)

	// GetExpirations lists available expiration dates for an underlying.
	GetExpirations(ctx context.Context, symbol string) ([]string, error)

	// GetOrderStatus looks up the current state of an order.
	GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error)

	// CancelOrder cancels an open order. Cancelling an already-terminal order
	// returns ErrOrderNotFound, which callers may treat as success.
	CancelOrder(ctx context.Context, orderID string) error

	// GetPositions retrieves the broker's live position ledger.
	GetPositions(ctx context.Context) ([]BrokerPosition, error)

	// GetEquity retrieves total account equity for position sizing.
	GetEquity(ctx context.Context) (float64, error)
}

// MarketStream is a live tick feed. Run blocks until the context is canceled,
// reconnecting internally on failures.
type MarketStream interface {
	// Run connects and delivers ticks to handler in arrival order. errHandler
	// receives stream-level errors that triggered a reconnect.
	Run(ctx context.Context, handler func(domain.Tick), errHandler func(error)) error

	// LastTraffic returns the arrival time of the most recent stream message
	// of any kind. The liveness watchdog uses it as a dead-man's switch.
	LastTraffic() time.Time

	// Bounce forces the current connection closed so Run reconnects.
	Bounce()
}
