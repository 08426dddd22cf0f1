package regime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"optionsBrain/internal/domain"
	"optionsBrain/internal/metrics"
	"optionsBrain/internal/ports"
)

// Config holds classification thresholds. Zero values take conservative
// defaults so a partially filled config still classifies safely.
type Config struct {
	HighVolVIX       float64        // VIX above this is a volatility expansion, e.g. 25
	CompressedVIX    float64        // VIX below this can compress, e.g. 13.5
	TrendingADX      float64        // ADX above this trends, e.g. 25
	CompressedADX    float64        // ADX below this can compress, e.g. 20
	TrendingVelocity float64        // volume velocity confirming a momentum trend, e.g. 1.5
	TrendingVWAPDist float64        // fractional VWAP distance confirming it, e.g. 0.003
	RestrictedDates  []string       // YYYY-MM-DD dates with binary event risk
	Location         *time.Location
}

// Classifier maps an indicator snapshot to a market regime. Precedence is
// strict: event risk, then volatility expansion, then trend, then
// compression; anything ambiguous or data-starved lands in low-vol chop.
type Classifier struct {
	cfg        Config
	logger     ports.Logger
	restricted map[string]struct{}

	mu   sync.Mutex
	last domain.Regime
}

// New creates a regime classifier.
func New(cfg Config, logger ports.Logger) (*Classifier, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for regime classifier")
	}
	if cfg.HighVolVIX <= 0 {
		cfg.HighVolVIX = 25.0
	}
	if cfg.CompressedVIX <= 0 {
		cfg.CompressedVIX = 13.5
	}
	if cfg.TrendingADX <= 0 {
		cfg.TrendingADX = 25.0
	}
	if cfg.CompressedADX <= 0 {
		cfg.CompressedADX = 20.0
	}
	if cfg.TrendingVelocity <= 0 {
		cfg.TrendingVelocity = 1.5
	}
	if cfg.TrendingVWAPDist <= 0 {
		cfg.TrendingVWAPDist = 0.003
	}
	if cfg.Location == nil {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			return nil, fmt.Errorf("failed to load classifier timezone: %w", err)
		}
		cfg.Location = loc
	}
	restricted := make(map[string]struct{}, len(cfg.RestrictedDates))
	for _, d := range cfg.RestrictedDates {
		if _, err := time.Parse(domain.ExpirationLayout, d); err != nil {
			return nil, fmt.Errorf("invalid restricted date %q: %w", d, err)
		}
		restricted[d] = struct{}{}
	}
	return &Classifier{
		cfg:        cfg,
		logger:     logger,
		restricted: restricted,
		last:       domain.RegimeLowVolChop,
	}, nil
}

// Classify returns the regime for a snapshot taken at now. Regime transitions
// are logged once per change.
func (c *Classifier) Classify(snap domain.IndicatorSnapshot, now time.Time) domain.Regime {
	regime := c.classify(snap, now)

	c.mu.Lock()
	changed := regime != c.last
	c.last = regime
	c.mu.Unlock()

	if changed {
		metrics.RegimeTransitions.Inc()
		c.logger.Info(context.Background(), "Regime transition", map[string]interface{}{
			"regime": string(regime),
			"symbol": snap.Symbol,
			"vix":    snap.VIX,
			"adx":    snap.ADX,
		})
	}
	return regime
}

func (c *Classifier) classify(snap domain.IndicatorSnapshot, now time.Time) domain.Regime {
	today := now.In(c.cfg.Location).Format(domain.ExpirationLayout)
	if _, ok := c.restricted[today]; ok {
		return domain.RegimeEventRisk
	}

	// Without a volatility reading or a price the picture is incomplete, and
	// low-vol chop is the regime that permits the least aggressive tactics.
	if snap.VIX == nil || snap.Price == 0 {
		return domain.RegimeLowVolChop
	}
	vix := *snap.VIX

	if vix > c.cfg.HighVolVIX {
		return domain.RegimeHighVol
	}

	if snap.ADX != nil && *snap.ADX > c.cfg.TrendingADX {
		return domain.RegimeTrending
	}
	if snap.VWAP > 0 && snap.VolumeVelocity > c.cfg.TrendingVelocity {
		dist := abs(snap.Price-snap.VWAP) / snap.VWAP
		if dist > c.cfg.TrendingVWAPDist {
			return domain.RegimeTrending
		}
	}

	if vix < c.cfg.CompressedVIX && snap.ADX != nil && *snap.ADX < c.cfg.CompressedADX {
		return domain.RegimeCompressed
	}

	return domain.RegimeLowVolChop
}

// Current returns the most recently classified regime.
func (c *Classifier) Current() domain.Regime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
