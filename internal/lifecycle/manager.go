package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"optionsBrain/internal/domain"
	"optionsBrain/internal/metrics"
	"optionsBrain/internal/ports"
)

// Snapshots provides indicator state for proposal context and exit decisions.
// The indicator engine satisfies it.
type Snapshots interface {
	Snapshot(symbol string) domain.IndicatorSnapshot
}

// Config holds lifecycle tuning. Zero fields take the documented defaults.
type Config struct {
	Exit ExitConfig

	RiskPerTrade  float64 // fraction of equity risked per trade, e.g. 0.02
	AllocationCap float64 // max equity fraction per position, e.g. 0.10
	MaxQuantity   int     // contract cap per position, e.g. 20

	FillTimeout   time.Duration // how long an entry order may rest, e.g. 5m
	RetryCooldown time.Duration // pause after a failed close, e.g. 2m
	ChaseDrift    float64       // close-limit drift that triggers a reprice, e.g. 0.10

	Location *time.Location
}

// Manager owns the position table. All transitions run under one mutex:
// OPENING -> OPEN -> CLOSING -> removed, with CLOSING falling back to OPEN
// when a close attempt dies at the broker. Every mutation is written through
// to the repository before the table is considered consistent.
type Manager struct {
	cfg     Config
	sizer   *Sizer
	logger  ports.Logger
	broker  ports.Broker
	gateway ports.ExecutionGateway
	repo    ports.PositionRepository
	snaps   Snapshots

	mu        sync.Mutex
	positions map[string]*domain.Position // keyed by trade id

	// symbols mirrors the table as a per-underlying count under its own lock,
	// so the stream path can ask about a symbol while mu is held across a
	// broker round trip.
	symbolMu sync.RWMutex
	symbols  map[string]int
}

// New creates a lifecycle manager. Call Restore before starting the poll
// loop so the table reflects the last shutdown.
func New(cfg Config, broker ports.Broker, gateway ports.ExecutionGateway, repo ports.PositionRepository, snaps Snapshots, logger ports.Logger) (*Manager, error) {
	if broker == nil || gateway == nil || repo == nil || snaps == nil || logger == nil {
		return nil, fmt.Errorf("lifecycle manager requires broker, gateway, repository, snapshots and logger")
	}
	cfg.Exit.applyDefaults()
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 5 * time.Minute
	}
	if cfg.RetryCooldown <= 0 {
		cfg.RetryCooldown = 2 * time.Minute
	}
	if cfg.ChaseDrift <= 0 {
		cfg.ChaseDrift = 0.10
	}
	if cfg.Location == nil {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			return nil, fmt.Errorf("failed to load lifecycle timezone: %w", err)
		}
		cfg.Location = loc
	}
	return &Manager{
		cfg:       cfg,
		sizer:     NewSizer(cfg.RiskPerTrade, cfg.AllocationCap, cfg.MaxQuantity),
		logger:    logger,
		broker:    broker,
		gateway:   gateway,
		repo:      repo,
		snaps:     snaps,
		positions: make(map[string]*domain.Position),
		symbols:   make(map[string]int),
	}, nil
}

// Restore loads the persisted position table. It replaces the in-memory
// table, so it must run before the first Poll.
func (m *Manager) Restore(ctx context.Context) error {
	const op = "Restore"

	loaded, err := m.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[string]*domain.Position, len(loaded))
	m.symbolMu.Lock()
	m.symbols = make(map[string]int, len(loaded))
	for _, pos := range loaded {
		m.positions[pos.TradeID] = pos
		m.symbols[pos.Symbol]++
	}
	m.symbolMu.Unlock()
	metrics.OpenPositions.Set(float64(len(m.positions)))
	m.logger.Info(ctx, "Position table restored", map[string]interface{}{
		"op": op, "positions": len(m.positions),
	})
	return nil
}

// HasActivePosition reports whether a symbol has a tracked position in any
// state. Satisfies the dispatcher's position checker. It reads the symbol
// index, never mu, so a tick handler is not blocked by an in-flight Poll.
func (m *Manager) HasActivePosition(symbol string) bool {
	m.symbolMu.RLock()
	defer m.symbolMu.RUnlock()
	return m.symbols[symbol] > 0
}

// Positions returns a copy of the tracked positions (for the state snapshot
// writer).
func (m *Manager) Positions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradeID < out[j].TradeID })
	return out
}

// Open resolves a structure for the intent, sizes it, and submits an opening
// proposal to the gateway. A thin or dead chain aborts silently; a gateway
// rejection is logged and dropped. Only an APPROVED decision creates a
// position, in OPENING state.
func (m *Manager) Open(ctx context.Context, intent domain.TradeIntent) error {
	const op = "Open"

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pos := range m.positions {
		if pos.Symbol == intent.Symbol {
			return nil // one structure per symbol
		}
	}

	snap := m.snaps.Snapshot(intent.Symbol)
	if snap.Price <= 0 {
		return nil
	}

	expirations, err := m.broker.GetExpirations(ctx, intent.Symbol)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	now := time.Now()
	var expiration string
	if intent.Strategy == domain.StrategyORBIntraday {
		expiration, err = chooseSameDay(expirations, now, m.cfg.Location)
	} else {
		expiration, err = chooseExpiration(expirations, now, m.cfg.Location)
	}
	if err != nil {
		m.logger.Warn(ctx, "No usable expiration", map[string]interface{}{
			"op": op, "symbol": intent.Symbol, "strategy": string(intent.Strategy),
		})
		return nil
	}

	chain, err := m.broker.GetOptionChain(ctx, intent.Symbol, expiration)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	st, err := buildStructure(intent, chain, snap.Price)
	if err != nil {
		m.logger.Debug(ctx, "No tradable structure", map[string]interface{}{
			"op": op, "symbol": intent.Symbol, "expiration": expiration,
		})
		return nil
	}

	equity, err := m.broker.GetEquity(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	qty := m.sizer.Size(equity, st.width)
	for i := range st.legs {
		st.legs[i].Quantity = qty
	}

	proposal := m.buildProposal(intent.Symbol, intent.Strategy, domain.SideOpen, qty, st.limit, st.legs, snap)
	decision, err := m.gateway.Submit(ctx, proposal)
	if err != nil {
		metrics.ProposalsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.ProposalsTotal.WithLabelValues(string(decision.Status)).Inc()
	if decision.Status != ports.DecisionApproved {
		m.logger.Warn(ctx, "Proposal declined", map[string]interface{}{
			"op": op, "symbol": intent.Symbol, "status": string(decision.Status), "reason": decision.Reason,
		})
		return nil
	}

	pos := &domain.Position{
		TradeID:    uuid.NewString(),
		Symbol:     intent.Symbol,
		Strategy:   intent.Strategy,
		Bias:       intent.Bias,
		Legs:       st.legs,
		EntryPrice: st.credit.InexactFloat64(),
		Quantity:   qty,
		Status:     domain.StatusOpening,
		OrderID:    decision.OrderID,
		OpenedAt:   now,
	}
	if err := m.repo.Save(ctx, pos); err != nil {
		m.logger.Error(ctx, err, "Failed to persist new position", map[string]interface{}{
			"op": op, "trade_id": pos.TradeID,
		})
	}
	m.addLocked(pos)
	metrics.OpenPositions.Set(float64(len(m.positions)))

	m.logger.Info(ctx, "Position opening", map[string]interface{}{
		"op": op, "trade_id": pos.TradeID, "symbol": pos.Symbol,
		"strategy": string(pos.Strategy), "quantity": qty,
		"limit": st.limit.InexactFloat64(), "order_id": pos.OrderID,
	})
	return nil
}

// Poll advances every tracked position one step: verify entry fills, evaluate
// exits, verify close fills. It is the only writer besides Open and Reconcile.
func (m *Manager) Poll(ctx context.Context, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pos := range m.sortedLocked() {
		switch pos.Status {
		case domain.StatusOpening:
			m.verifyOpen(ctx, pos, now)
		case domain.StatusOpen:
			m.evaluateOpen(ctx, pos, now)
		case domain.StatusClosing:
			m.verifyClose(ctx, pos, now)
		}
	}
	metrics.OpenPositions.Set(float64(len(m.positions)))
}

// sortedLocked returns positions in stable order. Caller holds the lock.
func (m *Manager) sortedLocked() []*domain.Position {
	out := make([]*domain.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradeID < out[j].TradeID })
	return out
}

// verifyOpen resolves an OPENING position against the broker: a fill promotes
// it to OPEN, a dead order removes it, and an order resting past the fill
// timeout is canceled and, on a confirmed cancel, removed. When the status
// lookup itself fails the broker's position ledger is the fallback source of
// truth.
func (m *Manager) verifyOpen(ctx context.Context, pos *domain.Position, now time.Time) {
	const op = "verifyOpen"

	status, err := m.broker.GetOrderStatus(ctx, pos.OrderID)
	if err != nil {
		m.verifyOpenViaLedger(ctx, pos, now, err)
		return
	}

	switch {
	case status.State == ports.OrderFilled:
		pos.Status = domain.StatusOpen
		pos.FilledAt = now
		// The fill is the truth for size: a partial that went terminal leaves
		// fewer contracts than proposed.
		if qty := int(status.ExecQuantity); qty > 0 && qty != pos.Quantity {
			pos.Quantity = qty
			for i := range pos.Legs {
				pos.Legs[i].Quantity = qty
			}
		}
		if status.AvgFillPrice > 0 {
			if pos.EntryPrice < 0 {
				pos.EntryPrice = -status.AvgFillPrice
			} else {
				pos.EntryPrice = status.AvgFillPrice
			}
		}
		m.persist(ctx, pos)
		m.logger.Info(ctx, "Entry filled", map[string]interface{}{
			"op": op, "trade_id": pos.TradeID, "symbol": pos.Symbol,
			"entry_price": pos.EntryPrice,
		})

	case status.State.Terminal():
		// canceled, rejected or expired: the entry never happened
		m.removeLocked(ctx, pos)
		m.logger.Warn(ctx, "Entry order died", map[string]interface{}{
			"op": op, "trade_id": pos.TradeID, "state": string(status.State),
		})

	default:
		if now.Sub(pos.OpenedAt) > m.cfg.FillTimeout {
			// An unconfirmed cancel can still fill at the broker. Only a
			// confirmed cancel, or an order the broker no longer knows, may
			// drop the record; otherwise the next cycle retries.
			if err := m.broker.CancelOrder(ctx, pos.OrderID); err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
				m.logger.Warn(ctx, "Failed to cancel timed-out entry, keeping position", map[string]interface{}{
					"op": op, "trade_id": pos.TradeID, "error": err.Error(),
				})
				return
			}
			m.removeLocked(ctx, pos)
			m.logger.Warn(ctx, "Entry order timed out", map[string]interface{}{
				"op": op, "trade_id": pos.TradeID, "resting": now.Sub(pos.OpenedAt).String(),
			})
		}
	}
}

// verifyOpenViaLedger promotes an OPENING position whose order status is
// unavailable by checking whether its legs showed up in the broker's ledger.
func (m *Manager) verifyOpenViaLedger(ctx context.Context, pos *domain.Position, now time.Time, lookupErr error) {
	const op = "verifyOpenViaLedger"

	brokerPositions, err := m.broker.GetPositions(ctx)
	if err != nil {
		m.logger.Warn(ctx, "Order status and ledger both unavailable", map[string]interface{}{
			"op": op, "trade_id": pos.TradeID,
			"status_error": lookupErr.Error(), "ledger_error": err.Error(),
		})
		return
	}
	held := make(map[string]bool, len(brokerPositions))
	for _, bp := range brokerPositions {
		held[strings.ToUpper(bp.Symbol)] = true
	}
	for _, leg := range pos.Legs {
		if !held[strings.ToUpper(leg.Symbol)] {
			return // not (fully) filled yet, keep waiting
		}
	}
	pos.Status = domain.StatusOpen
	pos.FilledAt = now
	m.persist(ctx, pos)
	m.logger.Info(ctx, "Entry confirmed via ledger", map[string]interface{}{
		"op": op, "trade_id": pos.TradeID, "symbol": pos.Symbol,
	})
}

// evaluateOpen marks an OPEN position to market, advances its high-water
// mark, and initiates a close when an exit rule fires.
func (m *Manager) evaluateOpen(ctx context.Context, pos *domain.Position, now time.Time) {
	const op = "evaluateOpen"

	mark, err := m.markToClose(ctx, pos)
	if err != nil {
		m.logger.Warn(ctx, "Cannot mark position", map[string]interface{}{
			"op": op, "trade_id": pos.TradeID, "error": err.Error(),
		})
		return
	}

	frac := profitFraction(pos.EntryPrice, mark)
	before := pos.HighestPnL
	pos.RecordPnL(frac)
	if pos.HighestPnL != before {
		m.persist(ctx, pos)
	}

	snap := m.snaps.Snapshot(pos.Symbol)
	reason, exit := m.cfg.Exit.exitReason(pos, frac, snap, now, m.cfg.Location)
	if !exit {
		return
	}
	if !pos.RetryAfter.IsZero() && now.Before(pos.RetryAfter) {
		return // close-retry cooldown after a failed attempt
	}
	m.initiateClose(ctx, pos, mark, reason, now)
}

// initiateClose submits a closing proposal and moves the position to CLOSING
// on approval. A declined close arms the retry cooldown.
func (m *Manager) initiateClose(ctx context.Context, pos *domain.Position, mark decimal.Decimal, reason domain.CloseReason, now time.Time) {
	const op = "initiateClose"

	limit := closeLimit(mark)
	closeLegs := make([]domain.Leg, len(pos.Legs))
	for i, leg := range pos.Legs {
		closeLegs[i] = leg
		if leg.Side == domain.Sell {
			closeLegs[i].Side = domain.Buy
		} else {
			closeLegs[i].Side = domain.Sell
		}
	}

	snap := m.snaps.Snapshot(pos.Symbol)
	proposal := m.buildProposal(pos.Symbol, pos.Strategy, domain.SideClose, pos.Quantity, limit, closeLegs, snap)
	decision, err := m.gateway.Submit(ctx, proposal)
	if err != nil {
		metrics.ProposalsTotal.WithLabelValues("error").Inc()
		pos.RetryAfter = now.Add(m.cfg.RetryCooldown)
		m.persist(ctx, pos)
		m.logger.Error(ctx, err, "Close submission failed", map[string]interface{}{
			"op": op, "trade_id": pos.TradeID, "reason": string(reason),
		})
		return
	}
	metrics.ProposalsTotal.WithLabelValues(string(decision.Status)).Inc()
	if decision.Status != ports.DecisionApproved {
		pos.RetryAfter = now.Add(m.cfg.RetryCooldown)
		m.persist(ctx, pos)
		m.logger.Warn(ctx, "Close proposal declined", map[string]interface{}{
			"op": op, "trade_id": pos.TradeID, "status": string(decision.Status), "reason": decision.Reason,
		})
		return
	}

	pos.Status = domain.StatusClosing
	pos.CloseOrderID = decision.OrderID
	pos.CloseLimit = limit.InexactFloat64()
	pos.CloseSubmittedAt = now
	pos.RetryAfter = time.Time{}
	m.persist(ctx, pos)
	m.logger.Info(ctx, "Position closing", map[string]interface{}{
		"op": op, "trade_id": pos.TradeID, "symbol": pos.Symbol,
		"reason": string(reason), "limit": pos.CloseLimit, "order_id": pos.CloseOrderID,
	})
	metrics.ClosesTotal.WithLabelValues(string(reason)).Inc()
}

// verifyClose resolves a CLOSING position: a fill removes it, a dead close
// order returns it to OPEN with the retry cooldown armed, and a resting order
// whose limit has drifted from the market is canceled for an immediate
// reprice.
func (m *Manager) verifyClose(ctx context.Context, pos *domain.Position, now time.Time) {
	const op = "verifyClose"

	status, err := m.broker.GetOrderStatus(ctx, pos.CloseOrderID)
	if err != nil {
		m.logger.Warn(ctx, "Close order status unavailable", map[string]interface{}{
			"op": op, "trade_id": pos.TradeID, "error": err.Error(),
		})
		return
	}

	switch {
	case status.State == ports.OrderFilled:
		m.removeLocked(ctx, pos)
		m.logger.Info(ctx, "Position closed", map[string]interface{}{
			"op": op, "trade_id": pos.TradeID, "symbol": pos.Symbol,
			"fill_price": status.AvgFillPrice, "entry_price": pos.EntryPrice,
		})

	case status.State.Terminal():
		pos.Status = domain.StatusOpen
		pos.CloseOrderID = ""
		pos.CloseLimit = 0
		pos.CloseSubmittedAt = time.Time{}
		pos.RetryAfter = now.Add(m.cfg.RetryCooldown)
		m.persist(ctx, pos)
		m.logger.Warn(ctx, "Close order died, will retry", map[string]interface{}{
			"op": op, "trade_id": pos.TradeID, "state": string(status.State),
		})

	default:
		mark, err := m.markToClose(ctx, pos)
		if err != nil {
			return
		}
		drift := closeLimit(mark).Sub(decimal.NewFromFloat(pos.CloseLimit)).Abs()
		if drift.LessThanOrEqual(decimal.NewFromFloat(m.cfg.ChaseDrift)) {
			return
		}
		// Market moved away from the resting limit: cancel now and let the
		// next cycle reprice without a cooldown.
		if err := m.broker.CancelOrder(ctx, pos.CloseOrderID); err != nil {
			m.logger.Warn(ctx, "Chase cancel failed", map[string]interface{}{
				"op": op, "trade_id": pos.TradeID, "error": err.Error(),
			})
			return
		}
		pos.Status = domain.StatusOpen
		pos.CloseOrderID = ""
		pos.CloseLimit = 0
		pos.CloseSubmittedAt = time.Time{}
		m.persist(ctx, pos)
		m.logger.Info(ctx, "Close order repriced", map[string]interface{}{
			"op": op, "trade_id": pos.TradeID, "drift": drift.InexactFloat64(),
		})
	}
}

// CloseAll force-closes every OPEN position (shutdown and end-of-day sweep).
func (m *Manager) CloseAll(ctx context.Context, reason domain.CloseReason, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pos := range m.sortedLocked() {
		if pos.Status != domain.StatusOpen {
			continue
		}
		mark, err := m.markToClose(ctx, pos)
		if err != nil {
			continue
		}
		m.initiateClose(ctx, pos, mark, reason, now)
	}
}

// markToClose values a position at current quotes: what we receive closing
// every leg (sell longs at the bid, buy shorts back at the ask), per
// contract. Negative for credit structures still holding premium.
func (m *Manager) markToClose(ctx context.Context, pos *domain.Position) (decimal.Decimal, error) {
	symbols := make([]string, 0, len(pos.Legs))
	for _, leg := range pos.Legs {
		symbols = append(symbols, leg.Symbol)
	}
	quotes, err := m.broker.GetQuotes(ctx, symbols)
	if err != nil {
		return decimal.Zero, err
	}
	bySymbol := make(map[string]ports.Quote, len(quotes))
	for _, q := range quotes {
		bySymbol[strings.ToUpper(q.Symbol)] = q
	}

	total := decimal.Zero
	for _, leg := range pos.Legs {
		q, ok := bySymbol[strings.ToUpper(leg.Symbol)]
		if !ok {
			return decimal.Zero, fmt.Errorf("no quote for leg %s", leg.Symbol)
		}
		if leg.Side == domain.Buy {
			total = total.Add(decimal.NewFromFloat(q.Bid))
		} else {
			total = total.Sub(decimal.NewFromFloat(q.Ask))
		}
	}
	return total.Round(2), nil
}

// profitFraction is current P&L over the structure's max profit. EntryPrice
// is signed (credit positive, debit negative), mark is what closing returns.
func profitFraction(entryPrice float64, mark decimal.Decimal) float64 {
	if entryPrice == 0 {
		return 0
	}
	pnl := decimal.NewFromFloat(entryPrice).Add(mark)
	return pnl.Div(decimal.NewFromFloat(abs(entryPrice))).InexactFloat64()
}

// closeLimit prices a closing order from the mark with a small buffer toward
// immediacy: pay up a nickel when buying the structure back, shave a nickel
// when selling it out.
func closeLimit(mark decimal.Decimal) decimal.Decimal {
	if mark.LessThan(decimal.Zero) {
		return mark.Neg().Add(priceBuffer)
	}
	limit := mark.Sub(priceBuffer)
	if limit.LessThan(minLimit) {
		return minLimit
	}
	return limit
}

func (m *Manager) buildProposal(symbol string, strategy domain.Strategy, side domain.ProposalSide, qty int, limit decimal.Decimal, legs []domain.Leg, snap domain.IndicatorSnapshot) *ports.Proposal {
	proposalLegs := make([]ports.ProposalLeg, len(legs))
	for i, leg := range legs {
		proposalLegs[i] = ports.ProposalLeg{
			Symbol:     leg.Symbol,
			Expiration: leg.Expiration,
			Strike:     leg.Strike,
			Type:       string(leg.Type),
			Quantity:   leg.Quantity,
			Side:       string(leg.Side),
		}
	}
	return &ports.Proposal{
		Symbol:   symbol,
		Strategy: strategy,
		Side:     side,
		Quantity: qty,
		Price:    limit.InexactFloat64(),
		Legs:     proposalLegs,
		Context: ports.ProposalContext{
			VIX:            snap.VIX,
			FlowState:      string(snap.FlowState),
			TrendState:     string(snap.Trend),
			RSI:            snap.RSI,
			VWAP:           snap.VWAP,
			VolumeVelocity: snap.VolumeVelocity,
			SMA200:         snap.SMA200,
			CandleCount:    snap.BarCount,
		},
	}
}

// persist writes a position through to the repository; failures are logged,
// not fatal, so a storage hiccup cannot wedge the trading loop.
func (m *Manager) persist(ctx context.Context, pos *domain.Position) {
	if err := m.repo.Save(ctx, pos); err != nil {
		m.logger.Error(ctx, err, "Failed to persist position", map[string]interface{}{
			"trade_id": pos.TradeID,
		})
	}
}

// addLocked inserts a position into the table and the symbol index. Caller
// holds mu.
func (m *Manager) addLocked(pos *domain.Position) {
	m.positions[pos.TradeID] = pos
	m.symbolMu.Lock()
	m.symbols[pos.Symbol]++
	m.symbolMu.Unlock()
}

// removeLocked deletes a position from the table, the symbol index and the
// repository. Caller holds mu.
func (m *Manager) removeLocked(ctx context.Context, pos *domain.Position) {
	if err := m.repo.Delete(ctx, pos.TradeID); err != nil {
		m.logger.Error(ctx, err, "Failed to delete position", map[string]interface{}{
			"trade_id": pos.TradeID,
		})
	}
	delete(m.positions, pos.TradeID)
	m.symbolMu.Lock()
	if m.symbols[pos.Symbol] <= 1 {
		delete(m.symbols, pos.Symbol)
	} else {
		m.symbols[pos.Symbol]--
	}
	m.symbolMu.Unlock()
	metrics.OpenPositions.Set(float64(len(m.positions)))
}
