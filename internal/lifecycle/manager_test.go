package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsBrain/internal/domain"
	"optionsBrain/internal/ports"
)

// --- Mock Logger ---

type mockLogger struct{}

func (l *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// --- Mock Broker ---

type mockBroker struct {
	getQuotesFunc      func(ctx context.Context, symbols []string) ([]ports.Quote, error)
	getOptionChainFunc func(ctx context.Context, symbol, expiration string) ([]ports.OptionQuote, error)
	getExpirationsFunc func(ctx context.Context, symbol string) ([]string, error)
	getOrderStatusFunc func(ctx context.Context, orderID string) (*ports.OrderStatus, error)
	cancelOrderFunc    func(ctx context.Context, orderID string) error
	getPositionsFunc   func(ctx context.Context) ([]ports.BrokerPosition, error)
	getEquityFunc      func(ctx context.Context) (float64, error)

	canceled []string
}

func (m *mockBroker) GetQuotes(ctx context.Context, symbols []string) ([]ports.Quote, error) {
	if m.getQuotesFunc != nil {
		return m.getQuotesFunc(ctx, symbols)
	}
	return nil, nil
}

func (m *mockBroker) GetOptionChain(ctx context.Context, symbol, expiration string) ([]ports.OptionQuote, error) {
	if m.getOptionChainFunc != nil {
		return m.getOptionChainFunc(ctx, symbol, expiration)
	}
	return nil, nil
}

func (m *mockBroker) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	if m.getExpirationsFunc != nil {
		return m.getExpirationsFunc(ctx, symbol)
	}
	return nil, nil
}

func (m *mockBroker) GetOrderStatus(ctx context.Context, orderID string) (*ports.OrderStatus, error) {
	if m.getOrderStatusFunc != nil {
		return m.getOrderStatusFunc(ctx, orderID)
	}
	return nil, ports.ErrOrderNotFound
}

func (m *mockBroker) CancelOrder(ctx context.Context, orderID string) error {
	m.canceled = append(m.canceled, orderID)
	if m.cancelOrderFunc != nil {
		return m.cancelOrderFunc(ctx, orderID)
	}
	return nil
}

func (m *mockBroker) GetPositions(ctx context.Context) ([]ports.BrokerPosition, error) {
	if m.getPositionsFunc != nil {
		return m.getPositionsFunc(ctx)
	}
	return nil, nil
}

func (m *mockBroker) GetEquity(ctx context.Context) (float64, error) {
	if m.getEquityFunc != nil {
		return m.getEquityFunc(ctx)
	}
	return 100000, nil
}

// --- Mock Gateway ---

type mockGateway struct {
	submitFunc func(ctx context.Context, p *ports.Proposal) (*ports.Decision, error)
	submitted  []*ports.Proposal
}

func (m *mockGateway) Submit(ctx context.Context, p *ports.Proposal) (*ports.Decision, error) {
	m.submitted = append(m.submitted, p)
	if m.submitFunc != nil {
		return m.submitFunc(ctx, p)
	}
	return &ports.Decision{Status: ports.DecisionApproved, OrderID: "order-1"}, nil
}

// --- Mock Repository ---

type mockRepo struct {
	mu      sync.Mutex
	saved   map[string]domain.Position
	deleted []string
	saveErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{saved: make(map[string]domain.Position)}
}

func (m *mockRepo) Save(ctx context.Context, pos *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved[pos.TradeID] = *pos
	return nil
}

func (m *mockRepo) Delete(ctx context.Context, tradeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, tradeID)
	delete(m.saved, tradeID)
	return nil
}

func (m *mockRepo) LoadAll(ctx context.Context) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Position, 0, len(m.saved))
	for id := range m.saved {
		pos := m.saved[id]
		out = append(out, &pos)
	}
	return out, nil
}

// --- Mock Snapshots ---

type mockSnapshots struct {
	snap domain.IndicatorSnapshot
}

func (m *mockSnapshots) Snapshot(symbol string) domain.IndicatorSnapshot {
	s := m.snap
	s.Symbol = symbol
	return s
}

// --- Helpers ---

type managerFixture struct {
	manager *Manager
	broker  *mockBroker
	gateway *mockGateway
	repo    *mockRepo
	snaps   *mockSnapshots
}

func newFixture(t *testing.T) *managerFixture {
	t.Helper()
	broker := &mockBroker{}
	gateway := &mockGateway{}
	repo := newMockRepo()
	snaps := &mockSnapshots{snap: domain.IndicatorSnapshot{
		Price: 500.0, VWAP: 500.0, RSI: 50.0, VolumeVelocity: 1.0,
		Trend: domain.TrendUp, FlowState: domain.FlowNeutral, Warm: true,
	}}
	mgr, err := New(Config{}, broker, gateway, repo, snaps, &mockLogger{})
	require.NoError(t, err)
	return &managerFixture{manager: mgr, broker: broker, gateway: gateway, repo: repo, snaps: snaps}
}

func middayET(t *testing.T) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return time.Date(2025, 6, 2, 13, 0, 0, 0, loc)
}

// openSpread seeds the manager with an OPEN bull put spread.
func openSpread(t *testing.T, f *managerFixture) *domain.Position {
	t.Helper()
	const exp = "2025-07-03"
	pos := &domain.Position{
		TradeID:  "trade-1",
		Symbol:   "SPY",
		Strategy: domain.StrategyCreditSpread,
		Bias:     domain.Bullish,
		Legs: []domain.Leg{
			{Symbol: occSym("SPY", exp, domain.Put, 490), Expiration: exp, Strike: 490, Type: domain.Put, Quantity: 2, Side: domain.Sell},
			{Symbol: occSym("SPY", exp, domain.Put, 485), Expiration: exp, Strike: 485, Type: domain.Put, Quantity: 2, Side: domain.Buy},
		},
		EntryPrice: 1.50,
		Quantity:   2,
		Status:     domain.StatusOpen,
		OrderID:    "entry-1",
		OpenedAt:   middayET(t).Add(-time.Hour),
		FilledAt:   middayET(t).Add(-time.Hour),
	}
	f.manager.addLocked(pos)
	require.NoError(t, f.repo.Save(context.Background(), pos))
	return pos
}

// quoteLegs makes GetQuotes answer with the given bid/ask for every symbol.
func quoteLegs(f *managerFixture, prices map[string][2]float64) {
	f.broker.getQuotesFunc = func(ctx context.Context, symbols []string) ([]ports.Quote, error) {
		out := make([]ports.Quote, 0, len(symbols))
		for _, s := range symbols {
			p, ok := prices[s]
			if !ok {
				continue
			}
			out = append(out, ports.Quote{Symbol: s, Bid: p[0], Ask: p[1]})
		}
		return out, nil
	}
}

// --- Open ---

func TestOpen_CreatesOpeningPosition(t *testing.T) {
	f := newFixture(t)
	expiration := time.Now().AddDate(0, 0, 30).Format(domain.ExpirationLayout)

	f.broker.getExpirationsFunc = func(ctx context.Context, symbol string) ([]string, error) {
		return []string{expiration}, nil
	}
	f.broker.getOptionChainFunc = func(ctx context.Context, symbol, exp string) ([]ports.OptionQuote, error) {
		chain := putChain(exp, 475, 480, 485, 490, 495)
		for i := range chain {
			switch chain[i].Strike {
			case 490:
				chain[i].Bid, chain[i].Ask = 1.20, 1.30
			case 485:
				chain[i].Bid, chain[i].Ask = 0.60, 0.70
			}
		}
		return chain, nil
	}

	intent := domain.TradeIntent{Symbol: "SPY", Strategy: domain.StrategyCreditSpread, Bias: domain.Bullish, OptionType: domain.Put}
	require.NoError(t, f.manager.Open(context.Background(), intent))

	positions := f.manager.Positions()
	require.Len(t, positions, 1)
	pos := positions[0]
	assert.Equal(t, domain.StatusOpening, pos.Status)
	assert.Equal(t, "order-1", pos.OrderID)
	assert.Equal(t, 0.50, pos.EntryPrice) // short bid 1.20 minus long ask 0.70
	assert.Equal(t, 4, pos.Quantity)      // 2% of 100k over $5 width
	require.Len(t, pos.Legs, 2)
	assert.Equal(t, 4, pos.Legs[0].Quantity)

	// Proposal carried the indicator context and the shaved limit.
	require.Len(t, f.gateway.submitted, 1)
	p := f.gateway.submitted[0]
	assert.Equal(t, domain.SideOpen, p.Side)
	assert.Equal(t, 0.45, p.Price)
	assert.Equal(t, "UPTREND", p.Context.TrendState)

	// Persisted before the call returned.
	assert.Contains(t, f.repo.saved, pos.TradeID)
}

func TestOpen_GatewayRejectionCreatesNothing(t *testing.T) {
	f := newFixture(t)
	expiration := time.Now().AddDate(0, 0, 30).Format(domain.ExpirationLayout)
	f.broker.getExpirationsFunc = func(ctx context.Context, symbol string) ([]string, error) {
		return []string{expiration}, nil
	}
	f.broker.getOptionChainFunc = func(ctx context.Context, symbol, exp string) ([]ports.OptionQuote, error) {
		return putChain(exp, 480, 485, 490), nil
	}
	f.gateway.submitFunc = func(ctx context.Context, p *ports.Proposal) (*ports.Decision, error) {
		return &ports.Decision{Status: ports.DecisionRejected, Reason: "daily loss limit"}, nil
	}

	intent := domain.TradeIntent{Symbol: "SPY", Strategy: domain.StrategyCreditSpread, OptionType: domain.Put}
	require.NoError(t, f.manager.Open(context.Background(), intent))
	assert.Empty(t, f.manager.Positions())
	assert.Empty(t, f.repo.saved)
}

func TestOpen_DeadChainAbortsSilently(t *testing.T) {
	f := newFixture(t)
	expiration := time.Now().AddDate(0, 0, 30).Format(domain.ExpirationLayout)
	f.broker.getExpirationsFunc = func(ctx context.Context, symbol string) ([]string, error) {
		return []string{expiration}, nil
	}
	f.broker.getOptionChainFunc = func(ctx context.Context, symbol, exp string) ([]ports.OptionQuote, error) {
		chain := putChain(exp, 480, 485, 490)
		for i := range chain {
			chain[i].Bid = 0 // dead book
		}
		return chain, nil
	}

	intent := domain.TradeIntent{Symbol: "SPY", Strategy: domain.StrategyCreditSpread, OptionType: domain.Put}
	require.NoError(t, f.manager.Open(context.Background(), intent))
	assert.Empty(t, f.gateway.submitted)
	assert.Empty(t, f.manager.Positions())
}

func TestOpen_OnePositionPerSymbol(t *testing.T) {
	f := newFixture(t)
	openSpread(t, f)

	intent := domain.TradeIntent{Symbol: "SPY", Strategy: domain.StrategyCreditSpread, OptionType: domain.Put}
	require.NoError(t, f.manager.Open(context.Background(), intent))
	assert.Empty(t, f.gateway.submitted)
	assert.Len(t, f.manager.Positions(), 1)
}

// --- verifyOpen ---

func TestPoll_VerifyOpen(t *testing.T) {
	now := middayET(t)

	seedOpening := func(f *managerFixture) *domain.Position {
		pos := openSpread(t, f)
		pos.Status = domain.StatusOpening
		pos.OpenedAt = now.Add(-time.Minute)
		return pos
	}

	t.Run("fill promotes to open and reconciles entry", func(t *testing.T) {
		f := newFixture(t)
		pos := seedOpening(f)
		f.broker.getOrderStatusFunc = func(ctx context.Context, orderID string) (*ports.OrderStatus, error) {
			return &ports.OrderStatus{OrderID: orderID, State: ports.OrderFilled, AvgFillPrice: 1.45}, nil
		}

		f.manager.Poll(context.Background(), now)
		assert.Equal(t, domain.StatusOpen, pos.Status)
		assert.Equal(t, 1.45, pos.EntryPrice)
		assert.False(t, pos.FilledAt.IsZero())
		assert.Equal(t, domain.StatusOpen, f.repo.saved[pos.TradeID].Status)
	})

	t.Run("partial fill shrinks the position to the executed size", func(t *testing.T) {
		f := newFixture(t)
		pos := seedOpening(f)
		f.broker.getOrderStatusFunc = func(ctx context.Context, orderID string) (*ports.OrderStatus, error) {
			return &ports.OrderStatus{OrderID: orderID, State: ports.OrderFilled, ExecQuantity: 1}, nil
		}

		f.manager.Poll(context.Background(), now)
		assert.Equal(t, domain.StatusOpen, pos.Status)
		assert.Equal(t, 1, pos.Quantity)
		assert.Equal(t, 1, pos.Legs[0].Quantity)
	})

	t.Run("rejected entry leaves no record", func(t *testing.T) {
		f := newFixture(t)
		pos := seedOpening(f)
		f.broker.getOrderStatusFunc = func(ctx context.Context, orderID string) (*ports.OrderStatus, error) {
			return &ports.OrderStatus{OrderID: orderID, State: ports.OrderRejected}, nil
		}

		f.manager.Poll(context.Background(), now)
		assert.Empty(t, f.manager.Positions())
		assert.Contains(t, f.repo.deleted, pos.TradeID)
	})

	t.Run("stale pending order is canceled and dropped", func(t *testing.T) {
		f := newFixture(t)
		pos := seedOpening(f)
		pos.OpenedAt = now.Add(-10 * time.Minute)
		f.broker.getOrderStatusFunc = func(ctx context.Context, orderID string) (*ports.OrderStatus, error) {
			return &ports.OrderStatus{OrderID: orderID, State: ports.OrderPending}, nil
		}

		f.manager.Poll(context.Background(), now)
		assert.Empty(t, f.manager.Positions())
		assert.Contains(t, f.broker.canceled, "entry-1")
		assert.Contains(t, f.repo.deleted, pos.TradeID)
	})

	t.Run("failed cancel keeps the position for the next cycle", func(t *testing.T) {
		f := newFixture(t)
		pos := seedOpening(f)
		pos.OpenedAt = now.Add(-10 * time.Minute)
		f.broker.getOrderStatusFunc = func(ctx context.Context, orderID string) (*ports.OrderStatus, error) {
			return &ports.OrderStatus{OrderID: orderID, State: ports.OrderPending}, nil
		}
		f.broker.cancelOrderFunc = func(ctx context.Context, orderID string) error {
			return ports.ErrBrokerUnavailable
		}

		// The order may still fill at the broker, so the record must survive.
		f.manager.Poll(context.Background(), now)
		require.Len(t, f.manager.Positions(), 1)
		assert.Equal(t, domain.StatusOpening, pos.Status)
		assert.Empty(t, f.repo.deleted)

		// Broker recovers: the next cycle confirms the cancel and drops it.
		f.broker.cancelOrderFunc = nil
		f.manager.Poll(context.Background(), now.Add(time.Minute))
		assert.Empty(t, f.manager.Positions())
		assert.Contains(t, f.repo.deleted, pos.TradeID)
	})

	t.Run("order already gone at the broker counts as canceled", func(t *testing.T) {
		f := newFixture(t)
		pos := seedOpening(f)
		pos.OpenedAt = now.Add(-10 * time.Minute)
		f.broker.getOrderStatusFunc = func(ctx context.Context, orderID string) (*ports.OrderStatus, error) {
			return &ports.OrderStatus{OrderID: orderID, State: ports.OrderPending}, nil
		}
		f.broker.cancelOrderFunc = func(ctx context.Context, orderID string) error {
			return ports.ErrOrderNotFound
		}

		f.manager.Poll(context.Background(), now)
		assert.Empty(t, f.manager.Positions())
		assert.Contains(t, f.repo.deleted, pos.TradeID)
	})

	t.Run("fresh pending order keeps waiting", func(t *testing.T) {
		f := newFixture(t)
		pos := seedOpening(f)
		f.broker.getOrderStatusFunc = func(ctx context.Context, orderID string) (*ports.OrderStatus, error) {
			return &ports.OrderStatus{OrderID: orderID, State: ports.OrderPending}, nil
		}

		f.manager.Poll(context.Background(), now)
		assert.Equal(t, domain.StatusOpening, pos.Status)
		assert.Empty(t, f.broker.canceled)
	})

	t.Run("ledger fallback confirms the fill", func(t *testing.T) {
		f := newFixture(t)
		pos := seedOpening(f)
		f.broker.getOrderStatusFunc = func(ctx context.Context, orderID string) (*ports.OrderStatus, error) {
			return nil, ports.ErrBrokerUnavailable
		}
		f.broker.getPositionsFunc = func(ctx context.Context) ([]ports.BrokerPosition, error) {
			return []ports.BrokerPosition{
				{Symbol: pos.Legs[0].Symbol, Quantity: -2, CostBasis: -300},
				{Symbol: pos.Legs[1].Symbol, Quantity: 2, CostBasis: 140},
			}, nil
		}

		f.manager.Poll(context.Background(), now)
		assert.Equal(t, domain.StatusOpen, pos.Status)
	})
}

// --- evaluateOpen / initiateClose ---

func TestPoll_ProfitTargetInitiatesClose(t *testing.T) {
	f := newFixture(t)
	pos := openSpread(t, f)
	now := middayET(t)

	// Spread now costs 0.25 to close against 1.50 credit: 83% of max profit.
	quoteLegs(f, map[string][2]float64{
		pos.Legs[0].Symbol: {0.25, 0.30},
		pos.Legs[1].Symbol: {0.05, 0.10},
	})
	f.gateway.submitFunc = func(ctx context.Context, p *ports.Proposal) (*ports.Decision, error) {
		return &ports.Decision{Status: ports.DecisionApproved, OrderID: "close-1"}, nil
	}

	f.manager.Poll(context.Background(), now)

	assert.Equal(t, domain.StatusClosing, pos.Status)
	assert.Equal(t, "close-1", pos.CloseOrderID)
	// mark = 0.05 - 0.30 = -0.25, so the close limit pays up to 0.30
	assert.Equal(t, 0.30, pos.CloseLimit)

	require.Len(t, f.gateway.submitted, 1)
	p := f.gateway.submitted[0]
	assert.Equal(t, domain.SideClose, p.Side)
	// Legs flipped: buy back the short, sell the long.
	assert.Equal(t, string(domain.Buy), p.Legs[0].Side)
	assert.Equal(t, string(domain.Sell), p.Legs[1].Side)

	assert.Equal(t, domain.StatusClosing, f.repo.saved[pos.TradeID].Status)
}

func TestPoll_HighWaterMarkAdvances(t *testing.T) {
	f := newFixture(t)
	pos := openSpread(t, f)
	now := middayET(t)

	// 40% of max profit: no exit, but the peak is recorded.
	quoteLegs(f, map[string][2]float64{
		pos.Legs[0].Symbol: {0.95, 1.00},
		pos.Legs[1].Symbol: {0.10, 0.15},
	})

	f.manager.Poll(context.Background(), now)
	assert.Equal(t, domain.StatusOpen, pos.Status)
	assert.InDelta(t, 0.40, pos.HighestPnL, 0.01)
	assert.InDelta(t, 0.40, f.repo.saved[pos.TradeID].HighestPnL, 0.01)
}

func TestPoll_DeclinedCloseArmsCooldown(t *testing.T) {
	f := newFixture(t)
	pos := openSpread(t, f)
	now := middayET(t)

	quoteLegs(f, map[string][2]float64{
		pos.Legs[0].Symbol: {0.25, 0.30},
		pos.Legs[1].Symbol: {0.05, 0.10},
	})
	f.gateway.submitFunc = func(ctx context.Context, p *ports.Proposal) (*ports.Decision, error) {
		return &ports.Decision{Status: ports.DecisionRejected, Reason: "throttled"}, nil
	}

	f.manager.Poll(context.Background(), now)
	assert.Equal(t, domain.StatusOpen, pos.Status)
	assert.Equal(t, now.Add(2*time.Minute), pos.RetryAfter)

	// Within the cooldown no second attempt goes out.
	f.manager.Poll(context.Background(), now.Add(time.Minute))
	assert.Len(t, f.gateway.submitted, 1)

	// After the cooldown the close is retried.
	f.manager.Poll(context.Background(), now.Add(3*time.Minute))
	assert.Len(t, f.gateway.submitted, 2)
}

// --- verifyClose ---

func TestPoll_VerifyClose(t *testing.T) {
	now := middayET(t)

	seedClosing := func(f *managerFixture) *domain.Position {
		pos := openSpread(t, f)
		pos.Status = domain.StatusClosing
		pos.CloseOrderID = "close-1"
		pos.CloseLimit = 0.30
		pos.CloseSubmittedAt = now.Add(-time.Minute)
		return pos
	}

	t.Run("filled close removes the position", func(t *testing.T) {
		f := newFixture(t)
		pos := seedClosing(f)
		f.broker.getOrderStatusFunc = func(ctx context.Context, orderID string) (*ports.OrderStatus, error) {
			return &ports.OrderStatus{OrderID: orderID, State: ports.OrderFilled, AvgFillPrice: 0.28}, nil
		}

		f.manager.Poll(context.Background(), now)
		assert.Empty(t, f.manager.Positions())
		assert.Contains(t, f.repo.deleted, pos.TradeID)
	})

	t.Run("dead close order returns to open with cooldown", func(t *testing.T) {
		f := newFixture(t)
		pos := seedClosing(f)
		f.broker.getOrderStatusFunc = func(ctx context.Context, orderID string) (*ports.OrderStatus, error) {
			return &ports.OrderStatus{OrderID: orderID, State: ports.OrderCanceled}, nil
		}

		f.manager.Poll(context.Background(), now)
		assert.Equal(t, domain.StatusOpen, pos.Status)
		assert.Empty(t, pos.CloseOrderID)
		assert.Equal(t, now.Add(2*time.Minute), pos.RetryAfter)
		assert.Equal(t, domain.StatusOpen, f.repo.saved[pos.TradeID].Status)
	})

	t.Run("drifted market chases with an immediate reprice", func(t *testing.T) {
		f := newFixture(t)
		pos := seedClosing(f)
		f.broker.getOrderStatusFunc = func(ctx context.Context, orderID string) (*ports.OrderStatus, error) {
			return &ports.OrderStatus{OrderID: orderID, State: ports.OrderOpen}, nil
		}
		// Spread blew out: closing now costs 0.60, far from the 0.30 limit.
		quoteLegs(f, map[string][2]float64{
			pos.Legs[0].Symbol: {0.55, 0.65},
			pos.Legs[1].Symbol: {0.05, 0.10},
		})

		f.manager.Poll(context.Background(), now)
		assert.Contains(t, f.broker.canceled, "close-1")
		assert.Equal(t, domain.StatusOpen, pos.Status)
		assert.True(t, pos.RetryAfter.IsZero(), "chase reprice must not wait out a cooldown")
	})

	t.Run("small drift leaves the order resting", func(t *testing.T) {
		f := newFixture(t)
		pos := seedClosing(f)
		f.broker.getOrderStatusFunc = func(ctx context.Context, orderID string) (*ports.OrderStatus, error) {
			return &ports.OrderStatus{OrderID: orderID, State: ports.OrderOpen}, nil
		}
		quoteLegs(f, map[string][2]float64{
			pos.Legs[0].Symbol: {0.28, 0.33},
			pos.Legs[1].Symbol: {0.05, 0.08},
		})

		f.manager.Poll(context.Background(), now)
		assert.Empty(t, f.broker.canceled)
		assert.Equal(t, domain.StatusClosing, pos.Status)
	})
}

// --- CloseAll / Restore ---

func TestCloseAll(t *testing.T) {
	f := newFixture(t)
	pos := openSpread(t, f)
	now := middayET(t)

	quoteLegs(f, map[string][2]float64{
		pos.Legs[0].Symbol: {0.95, 1.00},
		pos.Legs[1].Symbol: {0.10, 0.15},
	})

	f.manager.CloseAll(context.Background(), domain.CloseReasonMarketClose, now)
	assert.Equal(t, domain.StatusClosing, pos.Status)
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	pos := openSpread(t, f)
	// Simulate a restart: fresh manager over the same repository.
	mgr, err := New(Config{}, f.broker, f.gateway, f.repo, f.snaps, &mockLogger{})
	require.NoError(t, err)
	require.NoError(t, mgr.Restore(context.Background()))

	restored := mgr.Positions()
	require.Len(t, restored, 1)
	assert.Equal(t, pos.TradeID, restored[0].TradeID)
	assert.Equal(t, pos.EntryPrice, restored[0].EntryPrice)
	assert.True(t, mgr.HasActivePosition("SPY"))
	assert.False(t, mgr.HasActivePosition("QQQ"))
}

// The symbol check serves the stream path, so it must answer even while a
// poll cycle holds the lifecycle lock across broker calls.
func TestHasActivePosition_AnswersDuringPoll(t *testing.T) {
	f := newFixture(t)
	openSpread(t, f)

	f.manager.mu.Lock()
	got := make(chan bool, 1)
	go func() { got <- f.manager.HasActivePosition("SPY") }()
	select {
	case active := <-got:
		assert.True(t, active)
	case <-time.After(time.Second):
		t.Fatal("HasActivePosition blocked on the lifecycle mutex")
	}
	f.manager.mu.Unlock()

	assert.False(t, f.manager.HasActivePosition("QQQ"))
}
