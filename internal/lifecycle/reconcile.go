package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"optionsBrain/internal/domain"
	"optionsBrain/internal/metrics"
	"optionsBrain/internal/ports"
)

// Reconcile squares the position table with the broker's ledger. It adopts
// option structures the table does not know (orphans), removes positions the
// broker no longer holds (ghosts), and force-closes structures whose legs no
// longer balance. It runs at startup and periodically after that, and is
// idempotent: a second sweep over the same ledger changes nothing.
func (m *Manager) Reconcile(ctx context.Context, now time.Time) error {
	const op = "Reconcile"

	brokerPositions, err := m.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	held := make(map[string]ports.BrokerPosition)
	for _, bp := range brokerPositions {
		sym := strings.ToUpper(bp.Symbol)
		if domain.IsOption(sym) {
			held[sym] = bp
		}
	}

	tracked := make(map[string]bool)
	for _, pos := range m.positions {
		for _, leg := range pos.Legs {
			tracked[strings.ToUpper(leg.Symbol)] = true
		}
	}

	m.sweepGhosts(ctx, held, now)
	m.adoptOrphans(ctx, held, tracked, now)
	return nil
}

// sweepGhosts handles tracked positions against the ledger. A position whose
// legs all vanished is a ghost and is dropped; one that lost only some legs
// is unbalanced and gets force-closed on its remaining legs. Positions with
// an order in flight are left alone, the in-flight order explains the gap.
func (m *Manager) sweepGhosts(ctx context.Context, held map[string]ports.BrokerPosition, now time.Time) {
	const op = "sweepGhosts"

	for _, pos := range m.sortedLocked() {
		if pos.Status != domain.StatusOpen {
			continue
		}
		present := make([]domain.Leg, 0, len(pos.Legs))
		for _, leg := range pos.Legs {
			if _, ok := held[strings.ToUpper(leg.Symbol)]; ok {
				present = append(present, leg)
			}
		}
		switch {
		case len(present) == len(pos.Legs):
			continue
		case len(present) == 0:
			m.removeLocked(ctx, pos)
			metrics.ReconcileGhosts.Inc()
			m.logger.Warn(ctx, "Ghost position removed", map[string]interface{}{
				"op": op, "trade_id": pos.TradeID, "symbol": pos.Symbol,
			})
		default:
			// Broker holds a partial structure. Naked remainder risk: close
			// what is left as a whole.
			pos.Legs = present
			m.persist(ctx, pos)
			m.logger.Warn(ctx, "Unbalanced position, forcing close", map[string]interface{}{
				"op": op, "trade_id": pos.TradeID, "symbol": pos.Symbol,
				"legs_remaining": len(present),
			})
			mark, err := m.markToClose(ctx, pos)
			if err != nil {
				continue // next sweep retries
			}
			m.initiateClose(ctx, pos, mark, domain.CloseReasonUnbalanced, now)
		}
	}
}

// adoptOrphans turns untracked broker option legs into tracked positions,
// grouped by underlying and expiration. Two balanced legs read as a credit
// spread, four as an iron condor, anything else is CUSTOM. Unbalanced groups
// are adopted and immediately force-closed.
func (m *Manager) adoptOrphans(ctx context.Context, held map[string]ports.BrokerPosition, tracked map[string]bool, now time.Time) {
	const op = "adoptOrphans"

	type orphan struct {
		row        ports.BrokerPosition
		underlying string
		expiration string
		typ        domain.OptionType
		strike     float64
	}
	groups := make(map[string][]orphan)
	for sym, bp := range held {
		if tracked[sym] {
			continue
		}
		underlying, expiration, typ, strike, err := domain.ParseOCC(sym)
		if err != nil {
			continue
		}
		key := underlying + "|" + expiration
		groups[key] = append(groups[key], orphan{bp, underlying, expiration, typ, strike})
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		members := groups[key]
		sort.Slice(members, func(i, j int) bool { return members[i].row.Symbol < members[j].row.Symbol })

		legs := make([]domain.Leg, 0, len(members))
		unit := 0
		balanced := true
		totalCost := 0.0
		filledAt := now
		for _, o := range members {
			qty := int(abs(o.row.Quantity))
			if qty == 0 {
				continue
			}
			side := domain.Buy
			if o.row.Quantity < 0 {
				side = domain.Sell
			}
			legs = append(legs, domain.Leg{
				Symbol:     strings.ToUpper(o.row.Symbol),
				Expiration: o.expiration,
				Strike:     o.strike,
				Type:       o.typ,
				Quantity:   qty,
				Side:       side,
			})
			if unit == 0 {
				unit = qty
			} else if qty != unit {
				balanced = false
				if qty < unit {
					unit = qty
				}
			}
			totalCost += o.row.CostBasis
			if o.row.Acquired.Before(filledAt) && !o.row.Acquired.IsZero() {
				filledAt = o.row.Acquired
			}
		}
		if len(legs) == 0 {
			continue
		}

		strategy := domain.StrategyCustom
		bias := domain.Neutral
		switch {
		case balanced && len(legs) == 2:
			strategy = domain.StrategyCreditSpread
			for _, leg := range legs {
				if leg.Side == domain.Sell {
					if leg.Type == domain.Put {
						bias = domain.Bullish
					} else {
						bias = domain.Bearish
					}
				}
			}
		case balanced && len(legs) == 4:
			strategy = domain.StrategyIronCondor
		}

		// Broker cost basis is negative for credit received; normalize to a
		// signed per-contract entry price (credit positive).
		entry := 0.0
		if unit > 0 {
			entry = -totalCost / float64(unit*100)
		}

		pos := &domain.Position{
			TradeID:    "recovered-" + uuid.NewString(),
			Symbol:     members[0].underlying,
			Strategy:   strategy,
			Bias:       bias,
			Legs:       legs,
			EntryPrice: entry,
			Quantity:   unit,
			Status:     domain.StatusOpen,
			OpenedAt:   filledAt,
			FilledAt:   filledAt,
		}
		m.addLocked(pos)
		m.persist(ctx, pos)
		metrics.ReconcileAdoptions.Inc()
		m.logger.Info(ctx, "Adopted broker position", map[string]interface{}{
			"op": op, "trade_id": pos.TradeID, "symbol": pos.Symbol,
			"strategy": string(pos.Strategy), "legs": len(legs),
			"entry_price": entry, "balanced": balanced,
		})

		if !balanced {
			mark, err := m.markToClose(ctx, pos)
			if err != nil {
				continue
			}
			m.initiateClose(ctx, pos, mark, domain.CloseReasonUnbalanced, now)
		}
	}
}
