package dispatch

import (
	"time"

	"optionsBrain/internal/domain"
)

// Entry rules, one per strategy, in priority order. Each returns nil when its
// conditions do not hold.

// openingRangeBreakout proposes a same-day vertical when price escapes the
// opening range on above-average participation. Only fires in a trending
// regime, inside the morning window.
func (d *Dispatcher) openingRangeBreakout(snap domain.IndicatorSnapshot, regime domain.Regime, now time.Time) *domain.TradeIntent {
	if regime != domain.RegimeTrending {
		return nil
	}
	if snap.OpenRangeHigh == nil || snap.OpenRangeLow == nil {
		return nil
	}
	if snap.VolumeVelocity <= d.cfg.ORBVelocity {
		return nil
	}

	local := now.In(d.cfg.Location)
	open := time.Date(local.Year(), local.Month(), local.Day(), 9, 30, 0, 0, d.cfg.Location)
	if local.Before(open.Add(d.cfg.ORBWindowStart)) || !local.Before(open.Add(d.cfg.ORBWindowEnd)) {
		return nil
	}

	switch {
	case snap.Price > *snap.OpenRangeHigh:
		return &domain.TradeIntent{
			Symbol:     snap.Symbol,
			Strategy:   domain.StrategyORBIntraday,
			Bias:       domain.Bullish,
			OptionType: domain.Call,
			Rule:       "orb_breakout_long",
		}
	case snap.Price < *snap.OpenRangeLow:
		return &domain.TradeIntent{
			Symbol:     snap.Symbol,
			Strategy:   domain.StrategyORBIntraday,
			Bias:       domain.Bearish,
			OptionType: domain.Put,
			Rule:       "orb_breakout_short",
		}
	}
	return nil
}

// bullPutSpread sells a put spread into an oversold dip within an uptrend,
// confirmed by directional order flow.
func (d *Dispatcher) bullPutSpread(snap domain.IndicatorSnapshot, regime domain.Regime) *domain.TradeIntent {
	if regime != domain.RegimeTrending && regime != domain.RegimeLowVolChop {
		return nil
	}
	if snap.Trend != domain.TrendUp {
		return nil
	}
	if snap.RSI >= d.cfg.OversoldRSI {
		return nil
	}
	if snap.FlowState == domain.FlowNeutral {
		return nil
	}
	return &domain.TradeIntent{
		Symbol:     snap.Symbol,
		Strategy:   domain.StrategyCreditSpread,
		Bias:       domain.Bullish,
		OptionType: domain.Put,
		Rule:       "bull_put_oversold",
	}
}

// bearCallSpread sells a call spread into an overbought pop within a
// downtrend, confirmed by directional order flow.
func (d *Dispatcher) bearCallSpread(snap domain.IndicatorSnapshot, regime domain.Regime) *domain.TradeIntent {
	if regime != domain.RegimeTrending && regime != domain.RegimeLowVolChop {
		return nil
	}
	if snap.Trend != domain.TrendDown {
		return nil
	}
	if snap.RSI <= d.cfg.OverboughtRSI {
		return nil
	}
	if snap.FlowState == domain.FlowNeutral {
		return nil
	}
	return &domain.TradeIntent{
		Symbol:     snap.Symbol,
		Strategy:   domain.StrategyCreditSpread,
		Bias:       domain.Bearish,
		OptionType: domain.Call,
		Rule:       "bear_call_overbought",
	}
}

// ironCondor sells both wings when the tape is rangebound: either price is
// pinned at the volume point of control with a quiet ADX, or implied vol is
// rich relative to its own range.
func (d *Dispatcher) ironCondor(snap domain.IndicatorSnapshot, regime domain.Regime) *domain.TradeIntent {
	if regime != domain.RegimeLowVolChop {
		return nil
	}

	pinned := false
	if snap.ADX != nil && *snap.ADX < d.cfg.CondorADX && snap.Profile != nil && snap.Profile.PointOfControl > 0 {
		dist := abs(snap.Price-snap.Profile.PointOfControl) / snap.Profile.PointOfControl
		pinned = dist < d.cfg.CondorPOCDist
	}
	richIV := snap.IVRank != nil && *snap.IVRank > d.cfg.CondorIVRank

	if !pinned && !richIV {
		return nil
	}
	rule := "condor_poc_pin"
	if !pinned {
		rule = "condor_rich_iv"
	}
	return &domain.TradeIntent{
		Symbol:   snap.Symbol,
		Strategy: domain.StrategyIronCondor,
		Bias:     domain.Neutral,
		Rule:     rule,
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
