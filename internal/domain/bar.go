package domain

import "time"

// Tick is a single trade or quote-derived price observation from the stream.
type Tick struct {
	Symbol string
	Price  float64
	Volume int64 // zero for quote-derived ticks
	Time   time.Time
}

// Bar is a 1-minute OHLCV aggregate. It is mutable while it is the open bar
// for a symbol and immutable once closed and appended to history.
type Bar struct {
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
	Start  time.Time // start of the minute bucket
}

// VolumeProfile locates where most trading activity occurred over the
// lookback window.
type VolumeProfile struct {
	PointOfControl float64 // price level with the highest traded volume
	ValueAreaHigh  float64
	ValueAreaLow   float64
}

// IndicatorSnapshot is the derived, read-only view of a symbol's indicator
// state. Nil pointer fields are explicit "insufficient data" sentinels, never
// errors.
type IndicatorSnapshot struct {
	Symbol         string
	Price          float64
	VWAP           float64
	RSI            float64 // neutral 50 below period+1 closed bars
	VolumeVelocity float64 // 1.0 when there is not enough history
	Trend          Trend
	SMA200         *float64 // nil below the minimum bar count
	ADX            *float64 // trend strength; nil while warming up
	FlowState      FlowState
	OpenRangeHigh  *float64
	OpenRangeLow   *float64
	Profile        *VolumeProfile
	VIX            *float64 // side channel, nil until the poller reports
	IVRank         *float64 // side channel, nil until the poller reports
	BarCount       int      // closed bars currently in history
	Warm           bool     // long average and volatility channel both ready
}
