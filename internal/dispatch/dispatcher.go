package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"optionsBrain/internal/domain"
	"optionsBrain/internal/ports"
)

// PositionChecker answers whether a symbol already has a live or in-flight
// position. The dispatcher never proposes a second structure on a symbol.
type PositionChecker interface {
	HasActivePosition(symbol string) bool
}

// Config holds entry-rule thresholds.
type Config struct {
	Cooldown       time.Duration  // minimum spacing between proposals per symbol
	ORBWindowStart time.Duration  // offset from session open, e.g. 15m (09:45)
	ORBWindowEnd   time.Duration  // offset from session open, e.g. 2h (11:30)
	ORBVelocity    float64        // participation gate for breakouts, e.g. 1.5
	OversoldRSI    float64        // e.g. 30
	OverboughtRSI  float64        // e.g. 70
	CondorADX      float64        // e.g. 20
	CondorPOCDist  float64        // fractional distance from point of control, e.g. 0.003
	CondorIVRank   float64        // e.g. 60
	Location       *time.Location
}

// Dispatcher turns indicator snapshots into trade intents. Rules are checked
// in a fixed priority order and the first match wins; a nil return means no
// entry this tick.
type Dispatcher struct {
	cfg     Config
	logger  ports.Logger
	checker PositionChecker

	mu       sync.Mutex
	lastFire map[string]time.Time
}

// New creates a signal dispatcher.
func New(cfg Config, checker PositionChecker, logger ports.Logger) (*Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for dispatcher")
	}
	if checker == nil {
		return nil, fmt.Errorf("position checker is required for dispatcher")
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.ORBWindowStart <= 0 {
		cfg.ORBWindowStart = 15 * time.Minute
	}
	if cfg.ORBWindowEnd <= 0 {
		cfg.ORBWindowEnd = 2 * time.Hour
	}
	if cfg.ORBVelocity <= 0 {
		cfg.ORBVelocity = 1.5
	}
	if cfg.OversoldRSI <= 0 {
		cfg.OversoldRSI = 30.0
	}
	if cfg.OverboughtRSI <= 0 {
		cfg.OverboughtRSI = 70.0
	}
	if cfg.CondorADX <= 0 {
		cfg.CondorADX = 20.0
	}
	if cfg.CondorPOCDist <= 0 {
		cfg.CondorPOCDist = 0.003
	}
	if cfg.CondorIVRank <= 0 {
		cfg.CondorIVRank = 60.0
	}
	if cfg.Location == nil {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			return nil, fmt.Errorf("failed to load dispatcher timezone: %w", err)
		}
		cfg.Location = loc
	}
	return &Dispatcher{
		cfg:      cfg,
		logger:   logger,
		checker:  checker,
		lastFire: make(map[string]time.Time),
	}, nil
}

// Evaluate runs the entry rules against a snapshot under the current regime.
// Gate order: warm data, regime permits entries, no live position, per-symbol
// cooldown; then the rules in priority order.
func (d *Dispatcher) Evaluate(snap domain.IndicatorSnapshot, regime domain.Regime, now time.Time) *domain.TradeIntent {
	if !snap.Warm {
		return nil
	}
	if regime == domain.RegimeEventRisk || regime == domain.RegimeHighVol {
		return nil
	}
	if d.checker.HasActivePosition(snap.Symbol) {
		return nil
	}

	d.mu.Lock()
	if last, ok := d.lastFire[snap.Symbol]; ok && now.Sub(last) < d.cfg.Cooldown {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	intent := d.firstMatch(snap, regime, now)
	if intent == nil {
		return nil
	}

	d.mu.Lock()
	d.lastFire[snap.Symbol] = now
	d.mu.Unlock()

	d.logger.Info(context.Background(), "Trade signal", map[string]interface{}{
		"symbol":   intent.Symbol,
		"strategy": string(intent.Strategy),
		"bias":     string(intent.Bias),
		"rule":     intent.Rule,
		"regime":   string(regime),
		"rsi":      snap.RSI,
		"price":    snap.Price,
	})
	return intent
}

func (d *Dispatcher) firstMatch(snap domain.IndicatorSnapshot, regime domain.Regime, now time.Time) *domain.TradeIntent {
	if intent := d.openingRangeBreakout(snap, regime, now); intent != nil {
		return intent
	}
	if intent := d.bullPutSpread(snap, regime); intent != nil {
		return intent
	}
	if intent := d.bearCallSpread(snap, regime); intent != nil {
		return intent
	}
	return d.ironCondor(snap, regime)
}
