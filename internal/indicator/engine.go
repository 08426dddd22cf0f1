package indicator

import (
	"fmt"
	"sync"
	"time"

	"optionsBrain/internal/domain"
	"optionsBrain/internal/metrics"
	"optionsBrain/internal/ports"
)

// Config holds tunable parameters for the indicator engine.
type Config struct {
	LookbackBars        int            // closed bars kept per symbol, e.g. 400
	SMAPeriod           int            // long moving average, e.g. 200
	RSIPeriod           int            // e.g. 14
	ADXPeriod           int            // e.g. 14
	VolumeAvgPeriod     int            // trailing volume average, e.g. 20
	OpeningRangeMinutes int            // e.g. 30
	Location            *time.Location // session timezone (exchange local time)
}

// rsiState carries Wilder-smoothing state for one symbol. The recurrence is
// applied exactly once per newly closed bar, keyed by bar start time, so a
// flat bar still advances the window.
type rsiState struct {
	avgGain     float64
	avgLoss     float64
	lastClose   float64
	lastBar     time.Time
	initialized bool
}

// symbolState is all per-symbol mutable state.
type symbolState struct {
	open *domain.Bar   // the currently accumulating bar, nil before first tick
	bars []*domain.Bar // closed bars, oldest first, trimmed to LookbackBars

	sessionPV  float64 // session sum of price*volume
	sessionVol float64

	orHigh *float64 // opening range, nil until the session's first tick
	orLow  *float64

	rsi rsiState

	ivRank *float64 // side channel set by the IV poller
}

// Engine ingests ticks per symbol, aggregates 1-minute bars and computes
// trend/momentum/volatility/liquidity indicators on demand. Update never
// fails; every "not enough data" case surfaces as an explicit sentinel in the
// snapshot.
type Engine struct {
	cfg    Config
	logger ports.Logger

	mu           sync.RWMutex
	symbols      map[string]*symbolState
	sessionStart time.Time

	vix   *float64 // side channel set by the volatility poller
	vixAt time.Time
}

// New creates an indicator engine.
func New(cfg Config, logger ports.Logger) (*Engine, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for indicator engine")
	}
	if cfg.LookbackBars <= 0 {
		cfg.LookbackBars = 400
	}
	if cfg.SMAPeriod <= 0 {
		cfg.SMAPeriod = 200
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = 14
	}
	if cfg.ADXPeriod <= 0 {
		cfg.ADXPeriod = 14
	}
	if cfg.VolumeAvgPeriod <= 0 {
		cfg.VolumeAvgPeriod = 20
	}
	if cfg.OpeningRangeMinutes <= 0 {
		cfg.OpeningRangeMinutes = 30
	}
	if cfg.Location == nil {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			return nil, fmt.Errorf("failed to load session timezone: %w", err)
		}
		cfg.Location = loc
	}
	if cfg.LookbackBars < cfg.SMAPeriod {
		return nil, fmt.Errorf("lookback (%d bars) must cover the SMA period (%d)", cfg.LookbackBars, cfg.SMAPeriod)
	}
	return &Engine{
		cfg:     cfg,
		logger:  logger,
		symbols: make(map[string]*symbolState),
	}, nil
}

// sessionStartFor returns the 09:30 session start governing ts.
func (e *Engine) sessionStartFor(ts time.Time) time.Time {
	local := ts.In(e.cfg.Location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 9, 30, 0, 0, e.cfg.Location)
	if local.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return start
}

// Update ingests one tick. Non-positive prices are ignored. Crossing a minute
// boundary closes the open bar; crossing a session boundary resets the VWAP
// and volume accumulators, the opening range, and the RSI smoothing state.
func (e *Engine) Update(symbol string, price float64, volume int64, ts time.Time) {
	if price <= 0 || symbol == "" {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Session roll check.
	newStart := e.sessionStartFor(ts)
	if e.sessionStart.IsZero() {
		e.sessionStart = newStart
	} else if newStart.After(e.sessionStart) {
		e.sessionStart = newStart
		for _, st := range e.symbols {
			st.sessionPV = 0
			st.sessionVol = 0
			st.orHigh = nil
			st.orLow = nil
			st.rsi = rsiState{}
		}
	}

	st, ok := e.symbols[symbol]
	if !ok {
		st = &symbolState{}
		e.symbols[symbol] = st
	}

	minute := ts.Truncate(time.Minute)
	if st.open != nil && !st.open.Start.Equal(minute) {
		e.closeBar(st)
		st.open = nil
	}
	if st.open == nil {
		st.open = &domain.Bar{
			Symbol: symbol,
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: volume,
			Start:  minute,
		}
	} else {
		if price > st.open.High {
			st.open.High = price
		}
		if price < st.open.Low {
			st.open.Low = price
		}
		st.open.Close = price
		st.open.Volume += volume
	}

	// Session VWAP accumulators.
	st.sessionPV += price * float64(volume)
	st.sessionVol += float64(volume)

	// Opening range covers the first N minutes of the session.
	orEnd := e.sessionStart.Add(time.Duration(e.cfg.OpeningRangeMinutes) * time.Minute)
	local := ts.In(e.cfg.Location)
	if !local.Before(e.sessionStart) && local.Before(orEnd) {
		if st.orHigh == nil || price > *st.orHigh {
			v := price
			st.orHigh = &v
		}
		if st.orLow == nil || price < *st.orLow {
			v := price
			st.orLow = &v
		}
	}
}

// closeBar appends the open bar to history, trims the window and advances the
// RSI recurrence. Caller holds the write lock.
func (e *Engine) closeBar(st *symbolState) {
	closed := *st.open
	st.bars = append(st.bars, &closed)
	if len(st.bars) > e.cfg.LookbackBars {
		st.bars = st.bars[len(st.bars)-e.cfg.LookbackBars:]
	}
	e.advanceRSI(st)
}

// advanceRSI updates Wilder-smoothed gain/loss averages for the newest closed
// bar. Seeded with a simple average over the first window; thereafter the
// recurrence runs once per closed bar, tracked by bar start time.
func (e *Engine) advanceRSI(st *symbolState) {
	period := e.cfg.RSIPeriod
	n := len(st.bars)
	latest := st.bars[n-1]

	if st.rsi.initialized {
		if st.rsi.lastBar.Equal(latest.Start) {
			return // already advanced for this bar
		}
		change := latest.Close - st.rsi.lastClose
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		st.rsi.avgGain = (st.rsi.avgGain*float64(period-1) + gain) / float64(period)
		st.rsi.avgLoss = (st.rsi.avgLoss*float64(period-1) + loss) / float64(period)
		st.rsi.lastClose = latest.Close
		st.rsi.lastBar = latest.Start
		return
	}

	if n < period+1 {
		return // not enough closed bars to seed
	}
	var sumGain, sumLoss float64
	for i := n - period; i < n; i++ {
		change := st.bars[i].Close - st.bars[i-1].Close
		if change > 0 {
			sumGain += change
		} else {
			sumLoss -= change
		}
	}
	st.rsi.avgGain = sumGain / float64(period)
	st.rsi.avgLoss = sumLoss / float64(period)
	st.rsi.lastClose = latest.Close
	st.rsi.lastBar = latest.Start
	st.rsi.initialized = true
}

// rsiValue reads the current RSI. Neutral 50 until the window is seeded; 100
// when the average loss is exactly zero.
func (st *symbolState) rsiValue() float64 {
	if !st.rsi.initialized {
		return 50.0
	}
	if st.rsi.avgLoss == 0 {
		return 100.0
	}
	rs := st.rsi.avgGain / st.rsi.avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// SetVIX updates the volatility side channel (called by the VIX poller).
func (e *Engine) SetVIX(value float64, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := value
	e.vix = &v
	if at.IsZero() {
		at = time.Now()
	}
	e.vixAt = at
	metrics.VIX.Set(value)
}

// VIX returns the current volatility reading, nil before the first poll.
func (e *Engine) VIX() *float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.vix == nil {
		return nil
	}
	v := *e.vix
	return &v
}

// SetIVRank updates the implied-volatility rank side channel for a symbol.
func (e *Engine) SetIVRank(symbol string, rank float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.symbols[symbol]
	if !ok {
		st = &symbolState{}
		e.symbols[symbol] = st
	}
	v := rank
	st.ivRank = &v
}

// price returns the reference price for a symbol: last closed bar's close,
// falling back to the accumulating bar. Caller holds at least the read lock.
func (st *symbolState) price() float64 {
	if len(st.bars) > 0 {
		return st.bars[len(st.bars)-1].Close
	}
	if st.open != nil {
		return st.open.Close
	}
	return 0
}

// Price returns the current reference price for a symbol (0 when unknown).
func (e *Engine) Price(symbol string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.symbols[symbol]
	if !ok {
		return 0
	}
	return st.price()
}

// Snapshot computes the full indicator view for a symbol. It is a pure read:
// missing data surfaces as nil pointers and neutral defaults, never an error.
func (e *Engine) Snapshot(symbol string) domain.IndicatorSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := domain.IndicatorSnapshot{
		Symbol:         symbol,
		RSI:            50.0,
		VolumeVelocity: 1.0,
		Trend:          domain.TrendInsufficient,
		FlowState:      domain.FlowNeutral,
	}
	if e.vix != nil {
		v := *e.vix
		snap.VIX = &v
	}

	st, ok := e.symbols[symbol]
	if !ok {
		return snap
	}

	snap.BarCount = len(st.bars)
	snap.Price = st.price()
	snap.RSI = st.rsiValue()
	if st.ivRank != nil {
		v := *st.ivRank
		snap.IVRank = &v
	}
	if st.orHigh != nil {
		v := *st.orHigh
		snap.OpenRangeHigh = &v
	}
	if st.orLow != nil {
		v := *st.orLow
		snap.OpenRangeLow = &v
	}

	// Session VWAP.
	if st.sessionVol > 0 {
		snap.VWAP = st.sessionPV / st.sessionVol
	}

	// Trend vs the long simple average. A partial average is misleading, so
	// below the minimum bar count the trend is explicitly insufficient.
	if len(st.bars) >= e.cfg.SMAPeriod {
		var total float64
		for i := len(st.bars) - e.cfg.SMAPeriod; i < len(st.bars); i++ {
			total += st.bars[i].Close
		}
		sma := total / float64(e.cfg.SMAPeriod)
		snap.SMA200 = &sma
		if snap.Price > sma {
			snap.Trend = domain.TrendUp
		} else {
			snap.Trend = domain.TrendDown
		}
	}

	// Volume velocity: accumulating bar volume over the trailing average.
	if len(st.bars) >= e.cfg.VolumeAvgPeriod {
		var sum float64
		for i := len(st.bars) - e.cfg.VolumeAvgPeriod; i < len(st.bars); i++ {
			sum += float64(st.bars[i].Volume)
		}
		avg := sum / float64(e.cfg.VolumeAvgPeriod)
		if avg > 0 {
			current := float64(0)
			if st.open != nil && st.open.Volume > 0 {
				current = float64(st.open.Volume)
			} else if len(st.bars) > 0 {
				current = float64(st.bars[len(st.bars)-1].Volume)
			}
			snap.VolumeVelocity = current / avg
		}
	}

	if adx, ok := calculateADX(st.bars, e.cfg.ADXPeriod); ok {
		snap.ADX = &adx
	}
	if profile, ok := calculateProfile(st.bars); ok {
		snap.Profile = &profile
	}

	snap.FlowState = flowState(snap.Price, snap.VWAP, snap.VolumeVelocity)
	snap.Warm = snap.SMA200 != nil && snap.VIX != nil
	return snap
}

// Flow-state thresholds: a small VWAP buffer prevents flip-flop around the
// mean, and the velocity gate requires above-average participation.
const (
	vwapBuffer       = 0.001
	velocityRiskGate = 1.2
)

func flowState(price, vwap, velocity float64) domain.FlowState {
	if vwap == 0 || price == 0 {
		return domain.FlowNeutral
	}
	switch {
	case price > vwap*(1+vwapBuffer) && velocity > velocityRiskGate:
		return domain.FlowRiskOn
	case price < vwap*(1-vwapBuffer) && velocity > velocityRiskGate:
		return domain.FlowRiskOff
	default:
		return domain.FlowNeutral
	}
}
