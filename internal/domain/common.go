package domain

// LegSide represents the side of an individual option leg (BUY or SELL).
type LegSide string

const (
	Buy  LegSide = "BUY"
	Sell LegSide = "SELL"
)

// ProposalSide distinguishes opening a new position from closing an existing one.
type ProposalSide string

const (
	SideOpen  ProposalSide = "OPEN"
	SideClose ProposalSide = "CLOSE"
)

// OptionType is the contract type of an option leg.
type OptionType string

const (
	Put  OptionType = "PUT"
	Call OptionType = "CALL"
)

// Bias is the directional assumption behind a trade.
type Bias string

const (
	Bullish Bias = "bullish"
	Bearish Bias = "bearish"
	Neutral Bias = "neutral"
)

// Strategy identifies the structural shape of a position.
type Strategy string

const (
	StrategyCreditSpread Strategy = "CREDIT_SPREAD"
	StrategyIronCondor   Strategy = "IRON_CONDOR"
	StrategyORBIntraday  Strategy = "ORB_INTRADAY"
	StrategyCustom       Strategy = "CUSTOM" // adopted structures we could not classify
)

// PositionStatus represents the lifecycle state of a tracked position.
// Transitions are monotonic: OPENING -> OPEN -> CLOSING -> removed,
// except that a failed close returns CLOSING -> OPEN for retry.
type PositionStatus string

const (
	StatusOpening PositionStatus = "OPENING"
	StatusOpen    PositionStatus = "OPEN"
	StatusClosing PositionStatus = "CLOSING"
)

// Trend is the long-average trend classification for a symbol.
type Trend string

const (
	TrendUp           Trend = "UPTREND"
	TrendDown         Trend = "DOWNTREND"
	TrendInsufficient Trend = "INSUFFICIENT_DATA"
)

// FlowState classifies intraday order flow from price vs VWAP and volume.
type FlowState string

const (
	FlowRiskOn  FlowState = "RISK_ON"
	FlowRiskOff FlowState = "RISK_OFF"
	FlowNeutral FlowState = "NEUTRAL"
)

// Regime is the classifier's label for current market behavior.
type Regime string

const (
	RegimeEventRisk  Regime = "EVENT_RISK"
	RegimeHighVol    Regime = "HIGH_VOL_EXPANSION"
	RegimeTrending   Regime = "TRENDING"
	RegimeCompressed Regime = "COMPRESSED"
	RegimeLowVolChop Regime = "LOW_VOL_CHOP"
)

// CloseReason indicates why a position was (or is being) closed.
type CloseReason string

const (
	CloseReasonProfitTarget  CloseReason = "PROFIT_TARGET"
	CloseReasonStopLoss      CloseReason = "STOP_LOSS"
	CloseReasonTrailingStop  CloseReason = "TRAILING_STOP"
	CloseReasonInvalidation  CloseReason = "TREND_INVALIDATION"
	CloseReasonMeanReversion CloseReason = "MEAN_REVERSION"
	CloseReasonVolExpansion  CloseReason = "VOL_EXPANSION"
	CloseReasonMarketClose   CloseReason = "MARKET_CLOSE"
	CloseReasonUnbalanced    CloseReason = "UNBALANCED_LEGS"
	CloseReasonManual        CloseReason = "MANUAL"
)

// ExpirationLayout is the date layout used for option expirations throughout
// the system (matches the broker's wire format).
const ExpirationLayout = "2006-01-02"
