// Package app is the supervisor: it owns the goroutines that pump market
// data into the indicator engine, evaluate signals, and sweep the position
// table, and it ties their lifetimes to one cancelable context.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"optionsBrain/internal/domain"
	"optionsBrain/internal/metrics"
	"optionsBrain/internal/ports"
	"optionsBrain/internal/snapshot"
)

const (
	intentQueueSize  = 8
	watchdogTick     = 15 * time.Second
	callTimeout      = 30 * time.Second
	shutdownTimeout  = 5 * time.Second
	ivExpirationMinD = 14 // days out for the IV reference expiration
)

// Indicators is the slice of the indicator engine the supervisor drives.
type Indicators interface {
	Update(symbol string, price float64, volume int64, ts time.Time)
	Snapshot(symbol string) domain.IndicatorSnapshot
	SetVIX(value float64, at time.Time)
	SetIVRank(symbol string, rank float64)
}

// RegimeClassifier labels snapshots with a market regime.
type RegimeClassifier interface {
	Classify(snap domain.IndicatorSnapshot, now time.Time) domain.Regime
	Current() domain.Regime
}

// SignalDispatcher turns a snapshot plus regime into a trade intent, or nil.
type SignalDispatcher interface {
	Evaluate(snap domain.IndicatorSnapshot, regime domain.Regime, now time.Time) *domain.TradeIntent
}

// PositionManager is the lifecycle surface the supervisor drives.
type PositionManager interface {
	Restore(ctx context.Context) error
	Reconcile(ctx context.Context, now time.Time) error
	Poll(ctx context.Context, now time.Time)
	Open(ctx context.Context, intent domain.TradeIntent) error
	Positions() []domain.Position
}

// StateWriter persists the advisory state snapshot.
type StateWriter interface {
	Write(ctx context.Context, state snapshot.State) error
}

// Config holds the supervisor's loop settings.
type Config struct {
	Symbols   []string
	VIXSymbol string

	PollInterval      time.Duration
	VIXPollInterval   time.Duration
	IVPollInterval    time.Duration
	SnapshotInterval  time.Duration
	ReconcileInterval time.Duration
	WatchdogSilence   time.Duration

	MetricsAddr string // empty disables the metrics listener
}

// Service wires the decision pipeline together and runs it.
type Service struct {
	cfg        Config
	logger     ports.Logger
	stream     ports.MarketStream
	broker     ports.Broker
	engine     Indicators
	classifier RegimeClassifier
	dispatcher SignalDispatcher
	manager    PositionManager
	snapshots  StateWriter // optional

	intents chan domain.TradeIntent

	// per-symbol IV extremes observed since start, for the IV rank proxy
	ivMu      sync.Mutex
	ivLow     map[string]float64
	ivHigh    map[string]float64
	ivNextIdx int
}

// NewService creates the supervisor. The snapshot writer may be nil.
func NewService(
	cfg Config,
	logger ports.Logger,
	stream ports.MarketStream,
	broker ports.Broker,
	engine Indicators,
	classifier RegimeClassifier,
	dispatcher SignalDispatcher,
	manager PositionManager,
	snapshots StateWriter,
) (*Service, error) {
	if logger == nil || stream == nil || broker == nil || engine == nil || classifier == nil || dispatcher == nil || manager == nil {
		return nil, fmt.Errorf("missing required dependencies for Service")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("service requires at least one symbol: %w", ports.ErrConfigurationError)
	}
	if cfg.VIXSymbol == "" {
		cfg.VIXSymbol = "VIX"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.VIXPollInterval <= 0 {
		cfg.VIXPollInterval = time.Minute
	}
	if cfg.IVPollInterval <= 0 {
		cfg.IVPollInterval = 5 * time.Minute
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 30 * time.Second
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 5 * time.Minute
	}
	if cfg.WatchdogSilence <= 0 {
		cfg.WatchdogSilence = 90 * time.Second
	}
	return &Service{
		cfg:        cfg,
		logger:     logger,
		stream:     stream,
		broker:     broker,
		engine:     engine,
		classifier: classifier,
		dispatcher: dispatcher,
		manager:    manager,
		snapshots:  snapshots,
		intents:    make(chan domain.TradeIntent, intentQueueSize),
		ivLow:      make(map[string]float64),
		ivHigh:     make(map[string]float64),
	}, nil
}

// Start runs the service until the context is canceled or a shutdown signal
// arrives. It blocks.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting decision service", map[string]interface{}{
		"symbols": s.cfg.Symbols, "vixSymbol": s.cfg.VIXSymbol,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	// --- Initialization ---
	// 1. Rebuild the position table from disk. State is critical; fail fast.
	if err := s.manager.Restore(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to restore position table")
		return fmt.Errorf("failed to restore position table: %w", err)
	}

	// 2. Reconcile against the broker ledger. A broker outage at startup is
	// survivable; the periodic sweep retries.
	if err := s.manager.Reconcile(ctx, time.Now()); err != nil {
		s.logger.Error(ctx, err, "Startup reconciliation failed, will retry on the periodic sweep")
	}

	// 3. Prime the volatility channel so warm-up does not wait a full cycle.
	s.pollVIX(ctx)

	// --- Metrics listener ---
	var metricsSrv *http.Server
	if s.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux}
		go func() {
			s.logger.Info(ctx, "Metrics listener started", map[string]interface{}{"addr": s.cfg.MetricsAddr})
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error(ctx, err, "Metrics listener failed")
			}
		}()
	}

	// --- Worker loops ---
	var wg sync.WaitGroup
	loops := []func(context.Context){
		s.runIntentWorker,
		s.runPositionLoop,
		s.runVIXPoller,
		s.runIVPoller,
		s.runReconcileLoop,
		s.runSnapshotLoop,
		s.runWatchdog,
	}
	for _, loop := range loops {
		wg.Add(1)
		go func(f func(context.Context)) {
			defer wg.Done()
			f(ctx)
		}(loop)
	}

	// --- Market data stream ---
	streamDone := make(chan error, 1)
	go func() {
		streamDone <- s.stream.Run(ctx, s.handleTick, s.handleStreamError)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info(ctx, "Context cancelled, initiating shutdown...")
	case err := <-streamDone:
		// Run only returns when the context ends or the stream gives up.
		if err != nil && ctx.Err() == nil {
			s.logger.Error(ctx, err, "Market stream stopped unexpectedly")
			runErr = fmt.Errorf("market stream stopped: %w", err)
		}
		cancel()
	}

	cancel()
	wg.Wait()

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(context.Background(), "Metrics listener shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}

	s.logger.Info(context.Background(), "Decision service stopped.")
	return runErr
}

// handleTick runs on the stream reader goroutine. It must stay cheap: update
// indicators, classify, evaluate, and hand any intent to the worker.
func (s *Service) handleTick(tick domain.Tick) {
	s.engine.Update(tick.Symbol, tick.Price, tick.Volume, tick.Time)

	snap := s.engine.Snapshot(tick.Symbol)
	regime := s.classifier.Classify(snap, tick.Time)

	intent := s.dispatcher.Evaluate(snap, regime, tick.Time)
	if intent == nil {
		return
	}
	metrics.SignalsTotal.WithLabelValues(intent.Rule).Inc()

	select {
	case s.intents <- *intent:
	default:
		// A full queue means entries are already backed up; dropping the
		// signal is safer than blocking the market data feed.
		s.logger.Warn(context.Background(), "Intent queue full, dropping signal", map[string]interface{}{
			"symbol": intent.Symbol, "rule": intent.Rule,
		})
	}
}

func (s *Service) handleStreamError(err error) {
	s.logger.Error(context.Background(), err, "Market stream error reported")
}

// runIntentWorker opens positions off the stream reader's goroutine.
func (s *Service) runIntentWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case intent := <-s.intents:
			callCtx, cancel := context.WithTimeout(ctx, callTimeout)
			if err := s.manager.Open(callCtx, intent); err != nil {
				s.logger.Error(callCtx, err, "Failed to open position", map[string]interface{}{
					"symbol": intent.Symbol, "rule": intent.Rule,
				})
			}
			cancel()
		}
	}
}

// runPositionLoop sweeps the position table on a fixed cadence.
func (s *Service) runPositionLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			callCtx, cancel := context.WithTimeout(ctx, callTimeout)
			s.manager.Poll(callCtx, now)
			cancel()
		}
	}
}

// runVIXPoller refreshes the volatility side channel.
func (s *Service) runVIXPoller(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.VIXPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollVIX(ctx)
		}
	}
}

func (s *Service) pollVIX(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	quotes, err := s.broker.GetQuotes(callCtx, []string{s.cfg.VIXSymbol})
	if err != nil {
		s.logger.Warn(ctx, "VIX poll failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if len(quotes) == 0 || quotes[0].Last <= 0 {
		s.logger.Warn(ctx, "VIX poll returned no usable quote", map[string]interface{}{"symbol": s.cfg.VIXSymbol})
		return
	}
	s.engine.SetVIX(quotes[0].Last, time.Now())
}

// runIVPoller refreshes the IV rank side channel, one symbol per cycle to
// pace chain requests.
func (s *Service) runIVPoller(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.IVPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ivMu.Lock()
			symbol := s.cfg.Symbols[s.ivNextIdx%len(s.cfg.Symbols)]
			s.ivNextIdx++
			s.ivMu.Unlock()
			s.pollIVRank(ctx, symbol)
		}
	}
}

// pollIVRank samples at-the-money implied volatility from a reference
// expiration and ranks it against the extremes seen this process lifetime.
// A coarse proxy, but it only gates the rich-premium condor rule.
func (s *Service) pollIVRank(ctx context.Context, symbol string) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	price := s.engine.Snapshot(symbol).Price
	if price <= 0 {
		return
	}

	expirations, err := s.broker.GetExpirations(callCtx, symbol)
	if err != nil {
		s.logger.Warn(ctx, "IV poll: expirations lookup failed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return
	}
	expiration := referenceExpiration(expirations, time.Now())
	if expiration == "" {
		return
	}

	chain, err := s.broker.GetOptionChain(callCtx, symbol, expiration)
	if err != nil {
		s.logger.Warn(ctx, "IV poll: chain lookup failed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return
	}

	iv, ok := atmIV(chain, price)
	if !ok {
		return
	}

	s.ivMu.Lock()
	low, seenLow := s.ivLow[symbol]
	high, seenHigh := s.ivHigh[symbol]
	if !seenLow || iv < low {
		s.ivLow[symbol] = iv
		low = iv
	}
	if !seenHigh || iv > high {
		s.ivHigh[symbol] = iv
		high = iv
	}
	s.ivMu.Unlock()

	if high <= low {
		return // no spread observed yet, rank is meaningless
	}
	rank := (iv - low) / (high - low) * 100
	s.engine.SetIVRank(symbol, rank)
	s.logger.Debug(ctx, "IV rank updated", map[string]interface{}{"symbol": symbol, "iv": iv, "rank": rank})
}

// referenceExpiration picks the first expiration at least ivExpirationMinD
// days out, falling back to the last listed date.
func referenceExpiration(expirations []string, now time.Time) string {
	for _, exp := range expirations {
		d, err := time.Parse(domain.ExpirationLayout, exp)
		if err != nil {
			continue
		}
		if d.Sub(now) >= ivExpirationMinD*24*time.Hour {
			return exp
		}
	}
	if len(expirations) > 0 {
		return expirations[len(expirations)-1]
	}
	return ""
}

// atmIV returns the mid IV of the contract whose strike is nearest the spot.
func atmIV(chain []ports.OptionQuote, price float64) (float64, bool) {
	best := -1.0
	bestDist := 0.0
	for _, c := range chain {
		if c.Greeks == nil || c.Greeks.MidIV <= 0 {
			continue
		}
		dist := c.Strike - price
		if dist < 0 {
			dist = -dist
		}
		if best < 0 || dist < bestDist {
			best = c.Greeks.MidIV
			bestDist = dist
		}
	}
	return best, best > 0
}

// runReconcileLoop periodically re-syncs the position table with the broker
// ledger.
func (s *Service) runReconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			callCtx, cancel := context.WithTimeout(ctx, callTimeout)
			if err := s.manager.Reconcile(callCtx, now); err != nil {
				s.logger.Error(callCtx, err, "Periodic reconciliation failed")
			}
			cancel()
		}
	}
}

// runSnapshotLoop writes the advisory state snapshot.
func (s *Service) runSnapshotLoop(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.writeSnapshot(ctx, now)
		}
	}
}

func (s *Service) writeSnapshot(ctx context.Context, now time.Time) {
	symbols := make(map[string]domain.IndicatorSnapshot, len(s.cfg.Symbols))
	for _, sym := range s.cfg.Symbols {
		symbols[sym] = s.engine.Snapshot(sym)
	}
	state := snapshot.State{
		Timestamp: now,
		Regime:    s.classifier.Current(),
		Symbols:   symbols,
		Positions: s.manager.Positions(),
	}
	if err := s.snapshots.Write(ctx, state); err != nil {
		// Best effort; the database remains the source of truth.
		s.logger.Warn(ctx, "State snapshot write failed", map[string]interface{}{"error": err.Error()})
	}
}

// runWatchdog bounces the stream when no traffic has arrived for too long.
func (s *Service) runWatchdog(ctx context.Context) {
	ticker := time.NewTicker(watchdogTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			last := s.stream.LastTraffic()
			if last.IsZero() {
				continue // not yet connected
			}
			if silence := now.Sub(last); silence > s.cfg.WatchdogSilence {
				s.logger.Warn(ctx, "Stream silent past watchdog threshold, forcing reconnect", map[string]interface{}{
					"silence": silence.String(),
				})
				s.stream.Bounce()
			}
		}
	}
}
