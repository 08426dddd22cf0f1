package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"optionsBrain/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration.
type Config struct {
	// Broker API (Tradier)
	BrokerBaseURL   string
	BrokerStreamURL string
	BrokerToken     string
	BrokerAccountID string

	// Execution gateway
	GatewayBaseURL string
	GatewaySecret  string

	// Universe
	Symbols   []string // underlyings to stream and trade
	VIXSymbol string   // quote symbol for the volatility index

	// Regime thresholds
	HighVolVIX      float64 // above this the regime is HIGH_VOL
	CompressedVIX   float64 // below this (with quiet ADX) the regime is COMPRESSED
	TrendingADX     float64
	CompressedADX   float64
	RestrictedDates []string // YYYY-MM-DD dates where no entries fire

	// Signal thresholds
	OversoldRSI   float64
	OverboughtRSI float64
	CondorIVRank  float64

	// Position sizing
	RiskPerTrade  float64 // fraction of equity risked per structure
	AllocationCap float64 // fraction of equity a single position may consume
	MaxQuantity   int

	// Lifecycle
	ProfitTarget   float64 // fraction of credit captured before closing
	StopMultiple   float64 // loss as a multiple of credit received
	TrailingArm    float64
	TrailingGiveup float64

	// Intervals
	PollInterval      time.Duration // position lifecycle sweep
	VIXPollInterval   time.Duration
	IVPollInterval    time.Duration // IV-rank refresh, one symbol per cycle
	SnapshotInterval  time.Duration
	ReconcileInterval time.Duration
	WatchdogSilence   time.Duration // stream silence before a forced reconnect

	// Storage
	DBPath       string
	SnapshotPath string

	// Observability
	MetricsAddr string // empty disables the metrics listener

	// Logging
	LogLevel  logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFormat string          // "json" selects the zap logger, anything else std

	// Market calendar
	Timezone string // IANA name for the exchange session clock
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Broker API
	cfg.BrokerBaseURL = getEnv("TRADIER_BASE_URL", "https://sandbox.tradier.com")
	cfg.BrokerStreamURL = getEnv("TRADIER_STREAM_URL", "wss://ws.tradier.com/v1/markets/events")
	cfg.BrokerToken = getEnv("TRADIER_TOKEN", "")
	cfg.BrokerAccountID = getEnv("TRADIER_ACCOUNT_ID", "")
	if cfg.BrokerToken == "" {
		errs = append(errs, "TRADIER_TOKEN must be set")
	}
	if cfg.BrokerAccountID == "" {
		errs = append(errs, "TRADIER_ACCOUNT_ID must be set")
	}

	// Execution gateway
	cfg.GatewayBaseURL = getEnv("GATEWAY_BASE_URL", "")
	cfg.GatewaySecret = getEnv("GATEWAY_SECRET", "")
	if cfg.GatewayBaseURL == "" {
		errs = append(errs, "GATEWAY_BASE_URL must be set")
	}
	if cfg.GatewaySecret == "" {
		errs = append(errs, "GATEWAY_SECRET must be set")
	}

	// Universe
	cfg.Symbols = getEnvAsList("SYMBOLS", []string{"SPY"})
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must name at least one underlying")
	}
	cfg.VIXSymbol = getEnv("VIX_SYMBOL", "VIX")

	// Regime thresholds
	cfg.HighVolVIX = getEnvAsFloat("HIGH_VOL_VIX", 25.0)
	cfg.CompressedVIX = getEnvAsFloat("COMPRESSED_VIX", 13.5)
	cfg.TrendingADX = getEnvAsFloat("TRENDING_ADX", 25.0)
	cfg.CompressedADX = getEnvAsFloat("COMPRESSED_ADX", 20.0)
	if cfg.CompressedVIX >= cfg.HighVolVIX {
		errs = append(errs, "COMPRESSED_VIX must be less than HIGH_VOL_VIX")
	}
	cfg.RestrictedDates = getEnvAsList("RESTRICTED_DATES", nil)
	for _, d := range cfg.RestrictedDates {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			errs = append(errs, fmt.Sprintf("invalid RESTRICTED_DATES entry %q (want YYYY-MM-DD)", d))
		}
	}

	// Signal thresholds
	cfg.OversoldRSI = getEnvAsFloat("OVERSOLD_RSI", 30.0)
	cfg.OverboughtRSI = getEnvAsFloat("OVERBOUGHT_RSI", 70.0)
	cfg.CondorIVRank = getEnvAsFloat("CONDOR_IV_RANK", 60.0)
	if cfg.OverboughtRSI <= cfg.OversoldRSI || cfg.OverboughtRSI > 100 || cfg.OversoldRSI < 0 {
		errs = append(errs, "invalid RSI thresholds (Overbought must be > Oversold, between 0-100)")
	}

	// Position sizing
	cfg.RiskPerTrade, err = getEnvAsFloatRequired("RISK_PER_TRADE", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RISK_PER_TRADE: %v", err))
	} else if cfg.RiskPerTrade <= 0 || cfg.RiskPerTrade >= 1.0 {
		errs = append(errs, "RISK_PER_TRADE must be between 0.0 and 1.0 (exclusive)")
	}
	cfg.AllocationCap, err = getEnvAsFloatRequired("ALLOCATION_CAP", 0.10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ALLOCATION_CAP: %v", err))
	} else if cfg.AllocationCap <= 0 || cfg.AllocationCap >= 1.0 {
		errs = append(errs, "ALLOCATION_CAP must be between 0.0 and 1.0 (exclusive)")
	}
	if cfg.RiskPerTrade > cfg.AllocationCap {
		errs = append(errs, "RISK_PER_TRADE must not exceed ALLOCATION_CAP")
	}
	cfg.MaxQuantity, err = getEnvAsIntRequired("MAX_QUANTITY", 20)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_QUANTITY: %v", err))
	} else if cfg.MaxQuantity <= 0 {
		errs = append(errs, "MAX_QUANTITY must be positive")
	}

	// Lifecycle
	cfg.ProfitTarget = getEnvAsFloat("PROFIT_TARGET", 0.80)
	cfg.StopMultiple = getEnvAsFloat("STOP_MULTIPLE", 2.0)
	cfg.TrailingArm = getEnvAsFloat("TRAILING_ARM", 0.50)
	cfg.TrailingGiveup = getEnvAsFloat("TRAILING_GIVEUP", 0.20)
	if cfg.ProfitTarget <= 0 || cfg.ProfitTarget > 1.0 {
		errs = append(errs, "PROFIT_TARGET must be between 0.0 (exclusive) and 1.0")
	}
	if cfg.StopMultiple <= 0 {
		errs = append(errs, "STOP_MULTIPLE must be positive")
	}

	// Intervals
	cfg.PollInterval = getEnvAsDuration("POLL_INTERVAL_SECONDS", 15)
	cfg.VIXPollInterval = getEnvAsDuration("VIX_POLL_INTERVAL_SECONDS", 60)
	cfg.IVPollInterval = getEnvAsDuration("IV_POLL_INTERVAL_SECONDS", 300)
	cfg.SnapshotInterval = getEnvAsDuration("SNAPSHOT_INTERVAL_SECONDS", 30)
	cfg.ReconcileInterval = getEnvAsDuration("RECONCILE_INTERVAL_SECONDS", 300)
	cfg.WatchdogSilence = getEnvAsDuration("WATCHDOG_SILENCE_SECONDS", 90)
	if cfg.PollInterval <= 0 || cfg.VIXPollInterval <= 0 || cfg.SnapshotInterval <= 0 || cfg.ReconcileInterval <= 0 {
		errs = append(errs, "interval settings must be positive")
	}

	// Storage
	cfg.DBPath = getEnv("DB_PATH", "./data/brain.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}
	cfg.SnapshotPath = getEnv("SNAPSHOT_PATH", "./data/state_snapshot.json")

	// Observability
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9090")

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "text"))

	// Market calendar
	cfg.Timezone = getEnv("TIMEZONE", "America/New_York")
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("invalid TIMEZONE %q: %v", cfg.Timezone, err))
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated value, trimming whitespace and
// dropping empty entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Log warning? For non-required fields, default is often acceptable.
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDuration(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultSeconds)) * time.Second
}
