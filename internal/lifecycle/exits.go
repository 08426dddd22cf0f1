package lifecycle

import (
	"time"

	"optionsBrain/internal/domain"
)

// ExitConfig holds exit-rule thresholds. Profit fractions are relative to
// the structure's max profit (the credit received, or the debit paid for
// intraday verticals).
type ExitConfig struct {
	CreditProfitTarget  float64 // hard take-profit for credit spreads, e.g. 0.80
	CreditTrailArm      float64 // profit fraction that arms the trailing stop, e.g. 0.50
	CreditTrailGiveback float64 // fraction of peak profit surrendered before exit, e.g. 0.20
	CondorProfitTarget  float64 // take-profit for iron condors, e.g. 0.50
	StopMultiple        float64 // cost-to-close over credit that stops out, e.g. 2.0
	DebitStopFraction   float64 // loss fraction of entry debit that stops out, e.g. 0.50
	HighVolVIX          float64 // VIX level that evacuates condors, e.g. 25
	EODHour             int     // force-close time, e.g. 15
	EODMinute           int     // e.g. 45
}

func (c *ExitConfig) applyDefaults() {
	if c.CreditProfitTarget <= 0 {
		c.CreditProfitTarget = 0.80
	}
	if c.CreditTrailArm <= 0 {
		c.CreditTrailArm = 0.50
	}
	if c.CreditTrailGiveback <= 0 {
		c.CreditTrailGiveback = 0.20
	}
	if c.CondorProfitTarget <= 0 {
		c.CondorProfitTarget = 0.50
	}
	if c.StopMultiple <= 0 {
		c.StopMultiple = 2.0
	}
	if c.DebitStopFraction <= 0 {
		c.DebitStopFraction = 0.50
	}
	if c.HighVolVIX <= 0 {
		c.HighVolVIX = 25.0
	}
	if c.EODHour == 0 {
		c.EODHour = 15
		c.EODMinute = 45
	}
}

// pastEOD reports whether local time has reached the daily force-close cutoff.
func (c *ExitConfig) pastEOD(now time.Time, loc *time.Location) bool {
	local := now.In(loc)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), c.EODHour, c.EODMinute, 0, 0, loc)
	return !local.Before(cutoff)
}

// exitReason decides whether an open position should be closed.
// profitFrac is current P&L over max profit; pos.HighestPnL is its peak.
// Check order: end of day, stop loss, then strategy-specific exits.
func (c *ExitConfig) exitReason(pos *domain.Position, profitFrac float64, snap domain.IndicatorSnapshot, now time.Time, loc *time.Location) (domain.CloseReason, bool) {
	if c.pastEOD(now, loc) {
		return domain.CloseReasonMarketClose, true
	}

	switch pos.Strategy {
	case domain.StrategyORBIntraday:
		if profitFrac <= -c.DebitStopFraction {
			return domain.CloseReasonStopLoss, true
		}
		// Momentum faded: RSI back through the midline against the trade.
		if pos.Bias == domain.Bullish && snap.RSI < 50 {
			return domain.CloseReasonMeanReversion, true
		}
		if pos.Bias == domain.Bearish && snap.RSI > 50 {
			return domain.CloseReasonMeanReversion, true
		}

	case domain.StrategyCreditSpread:
		// Cost to close at StopMultiple times the credit means profitFrac
		// has fallen to 1-StopMultiple.
		if profitFrac <= 1-c.StopMultiple {
			return domain.CloseReasonStopLoss, true
		}
		if profitFrac >= c.CreditProfitTarget {
			return domain.CloseReasonProfitTarget, true
		}
		if pos.HighestPnL >= c.CreditTrailArm && profitFrac <= pos.HighestPnL*(1-c.CreditTrailGiveback) {
			return domain.CloseReasonTrailingStop, true
		}
		if snap.SMA200 != nil && snap.Price > 0 {
			if pos.Bias == domain.Bullish && snap.Price < *snap.SMA200 {
				return domain.CloseReasonInvalidation, true
			}
			if pos.Bias == domain.Bearish && snap.Price > *snap.SMA200 {
				return domain.CloseReasonInvalidation, true
			}
		}

	case domain.StrategyIronCondor:
		if profitFrac <= 1-c.StopMultiple {
			return domain.CloseReasonStopLoss, true
		}
		if snap.VIX != nil && *snap.VIX > c.HighVolVIX {
			return domain.CloseReasonVolExpansion, true
		}
		if profitFrac >= c.CondorProfitTarget {
			return domain.CloseReasonProfitTarget, true
		}
	}
	return "", false
}
