// Package types provides shared domain types for the trading core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Sign returns +1 for BUY, -1 for SELL. Used throughout P&L and stop/take
// price derivations where the spec mirrors the formula across sides.
func (s OrderSide) Sign() int64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// OrderType represents the type of order sent to an exchange.
type OrderType string

const (
	OrderTypeMarket         OrderType = "MARKET"
	OrderTypeLimit          OrderType = "LIMIT"
	OrderTypeStopLossLimit  OrderType = "STOP_LOSS_LIMIT"
)

// OrderStatus represents the lifecycle status of an exchange order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusPartial   OrderStatus = "PARTIALLY_FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// Timeframe represents a candle bucket width.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Minutes returns the timeframe's width in minutes, used for period-boundary
// alignment by the candle aggregator.
func (tf Timeframe) Minutes() int64 {
	switch tf {
	case Timeframe1m:
		return 1
	case Timeframe5m:
		return 5
	case Timeframe15m:
		return 15
	case Timeframe1h:
		return 60
	case Timeframe4h:
		return 240
	case Timeframe1d:
		return 1440
	default:
		return 1
	}
}

// SignalClass is the predictor's output class.
type SignalClass string

const (
	SignalBuy  SignalClass = "BUY"
	SignalSell SignalClass = "SELL"
	SignalHold SignalClass = "HOLD"
)

// PositionStatus is the lifecycle status of a Position (§3).
type PositionStatus string

const (
	PositionOpen          PositionStatus = "OPEN"
	PositionStopLoss      PositionStatus = "STOP_LOSS"
	PositionTakeProfit    PositionStatus = "TAKE_PROFIT"
	PositionTimeout       PositionStatus = "TIMEOUT"
	PositionEmergencyClose PositionStatus = "EMERGENCY_CLOSE"
	PositionClosed        PositionStatus = "CLOSED"
)

// CloseReason is an alias of PositionStatus for the terminal values a
// position can close with; the separate name lets callers express intent
// ("close this position because of X") rather than a raw status string. As
// an alias it is the same type, so the compiler does not tell the two apart.
type CloseReason = PositionStatus

// RejectionCode enumerates the rejected_by values a Risk Decision row can
// carry, gathered from spec.md §4.5–§4.11.
type RejectionCode string

const (
	RejectedByRiskSizer          RejectionCode = "TIER3_RISK_SIZER"
	RejectedByLLM                RejectionCode = "TIER4_LLM"
	RejectedByPortfolioRisk      RejectionCode = "TIER5_PORTFOLIO_RISK"
	RejectedByPortfolioRecheck   RejectionCode = "TIER5_PORTFOLIO_RISK_RECHECK"
	RejectedByExecutionFailed    RejectionCode = "TIER5_EXECUTION_FAILED"
)

// EngineStage is the Engine's current_stage observability field (§4.14).
type EngineStage string

const (
	StageNone             EngineStage = ""
	StageDataIngestion    EngineStage = "data_ingestion"
	StageNeuralPrediction EngineStage = "neural_prediction"
	StagePositionSizing   EngineStage = "position_sizing"
	StageLLMDecision      EngineStage = "llm_decision"
	StageRiskValidation   EngineStage = "risk_validation"
	StageTradeExecution   EngineStage = "trade_execution"
)

// Pair is a traded symbol such as "BTCZAR" (base ∥ quote).
type Pair string

// Candle is an OHLCV bar for one (pair, timeframe, open_time). Immutable
// once inserted (§3).
type Candle struct {
	Pair       Pair            `json:"pair" gorm:"primaryKey"`
	Timeframe  Timeframe       `json:"timeframe" gorm:"primaryKey"`
	OpenTime   time.Time       `json:"openTime" gorm:"primaryKey"`
	CloseTime  time.Time       `json:"closeTime"`
	Open       decimal.Decimal `json:"open" gorm:"type:numeric(24,8)"`
	High       decimal.Decimal `json:"high" gorm:"type:numeric(24,8)"`
	Low        decimal.Decimal `json:"low" gorm:"type:numeric(24,8)"`
	Close      decimal.Decimal `json:"close" gorm:"type:numeric(24,8)"`
	Volume     decimal.Decimal `json:"volume" gorm:"type:numeric(24,8)"`
	NumTrades  int64           `json:"numTrades"`
}

// FeatureVector is the predictor's input, stored as an opaque blob keyed by
// (pair, computed_at) (§3).
type FeatureVector struct {
	Pair       Pair      `json:"pair" gorm:"primaryKey"`
	ComputedAt time.Time `json:"computedAt" gorm:"primaryKey"`
	Values     []float64 `json:"values" gorm:"serializer:json"`
	Names      []string  `json:"names" gorm:"serializer:json"`
}

// Prediction is the Predictor's output (§3, §4.4).
type Prediction struct {
	Pair         Pair            `json:"pair"`
	ModelVersion string          `json:"modelVersion"`
	Class        SignalClass     `json:"class"`
	PBuy         decimal.Decimal `json:"pBuy"`
	PSell        decimal.Decimal `json:"pSell"`
	PHold        decimal.Decimal `json:"pHold"`
	Confidence   decimal.Decimal `json:"confidence"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// TradeParameters is produced by the Risk Sizer and consumed unchanged by
// later tiers unless the Strategic Gate modifies it (§3).
type TradeParameters struct {
	PositionSizeZAR decimal.Decimal `json:"positionSizeZar"`
	Leverage        decimal.Decimal `json:"leverage"`
	StopLossPct     decimal.Decimal `json:"stopLossPct"`
	TakeProfitPct   decimal.Decimal `json:"takeProfitPct"`
	MaxLossZAR      decimal.Decimal `json:"maxLossZar"`
	ExpectedGainZAR decimal.Decimal `json:"expectedGainZar"`
}

// RiskDecision is the audit row inserted before every candidate trade and
// updated (never replaced) as it moves through the pipeline (§3, §4.11).
type RiskDecision struct {
	ID                   string          `json:"id" gorm:"primaryKey"`
	Pair                 Pair            `json:"pair"`
	Signal               SignalClass     `json:"signal"`
	MLConfidence         decimal.Decimal `json:"mlConfidence"`
	PositionSizeZAR      decimal.Decimal `json:"positionSizeZar"`
	Leverage             decimal.Decimal `json:"leverage"`
	StopLossPct          decimal.Decimal `json:"stopLossPct"`
	TakeProfitPct        decimal.Decimal `json:"takeProfitPct"`
	Executed             bool            `json:"executed"`
	ExecutionID          *string         `json:"executionId,omitempty"`
	RejectedBy           *RejectionCode  `json:"rejectedBy,omitempty"`
	RejectionReason      *string         `json:"rejectionReason,omitempty"`
	LLMRejectionReasoning *string        `json:"llmRejectionReasoning,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
}

// Pending reports whether the decision is still awaiting a terminal state,
// per invariant 1 in spec.md §8.
func (d *RiskDecision) Pending() bool {
	return !d.Executed && d.RejectedBy == nil
}

// Position is an open or closed trade (§3).
type Position struct {
	ID                 string          `json:"id" gorm:"primaryKey"`
	Pair               Pair            `json:"pair"`
	Side               OrderSide       `json:"side"`
	EntryPrice         decimal.Decimal `json:"entryPrice" gorm:"type:numeric(24,8)"`
	EntryTime          time.Time       `json:"entryTime"`
	Quantity           decimal.Decimal `json:"quantity" gorm:"type:numeric(24,8)"`
	PositionValueZAR   decimal.Decimal `json:"positionValueZar" gorm:"type:numeric(24,8)"`
	Leverage           decimal.Decimal `json:"leverage" gorm:"type:numeric(24,8)"`
	StopLossPrice      decimal.Decimal `json:"stopLossPrice" gorm:"type:numeric(24,8)"`
	TakeProfitPrice    decimal.Decimal `json:"takeProfitPrice" gorm:"type:numeric(24,8)"`
	ExitPrice          *decimal.Decimal `json:"exitPrice,omitempty" gorm:"type:numeric(24,8)"`
	ExitTime           *time.Time      `json:"exitTime,omitempty"`
	PnLPct             *decimal.Decimal `json:"pnlPct,omitempty"`
	PnLZAR             *decimal.Decimal `json:"pnlZar,omitempty" gorm:"type:numeric(24,8)"`
	Status             PositionStatus  `json:"status"`
	CloseReason        *CloseReason    `json:"closeReason,omitempty"`
	StrategicReasoning string          `json:"strategicReasoning,omitempty"`
	OrderID            string          `json:"orderId"`
}

// PortfolioState is the singleton portfolio-value row (§3).
type PortfolioState struct {
	ID                int             `json:"-" gorm:"primaryKey"`
	TotalValueZAR     decimal.Decimal `json:"totalValueZar" gorm:"type:numeric(24,8)"`
	PeakValueZAR      decimal.Decimal `json:"peakValueZar" gorm:"type:numeric(24,8)"`
	CurrentDrawdownPct decimal.Decimal `json:"currentDrawdownPct"`
	MaxDrawdownPct    decimal.Decimal `json:"maxDrawdownPct"`
	LastUpdated       time.Time       `json:"lastUpdated"`
}

// TradingModeValue is PAPER or LIVE.
type TradingModeValue string

const (
	ModePaper TradingModeValue = "PAPER"
	ModeLive  TradingModeValue = "LIVE"
)

// TradingMode is the singleton current-mode row (§3, §4.15).
type TradingMode struct {
	ID            int              `json:"-" gorm:"primaryKey"`
	CurrentMode   TradingModeValue `json:"currentMode"`
	LastChangedAt time.Time        `json:"lastChangedAt"`
	ChangedBy     string           `json:"changedBy"`
	Reason        string           `json:"reason"`
}

// TradingModeHistory is one append-only row of a mode transition.
type TradingModeHistory struct {
	ID        uint             `json:"id" gorm:"primaryKey;autoIncrement"`
	FromMode  TradingModeValue `json:"fromMode"`
	ToMode    TradingModeValue `json:"toMode"`
	ChangedAt time.Time        `json:"changedAt"`
	Reason    string           `json:"reason"`
}

// OrderResult is the common return shape of the Paper and Live clients
// (§4.10).
type OrderResult struct {
	Success     bool            `json:"success"`
	OrderID     string          `json:"orderId"`
	Pair        Pair            `json:"pair"`
	Side        OrderSide       `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	FillPrice   decimal.Decimal `json:"fillPrice"`
	MarketPrice decimal.Decimal `json:"marketPrice"`
	SlippagePct decimal.Decimal `json:"slippagePct"`
	Fees        decimal.Decimal `json:"fees"`
	LatencyMS   int64           `json:"latencyMs"`
	Status      OrderStatus     `json:"status"`
	FilledAt    time.Time       `json:"filledAt"`
	Mode        TradingModeValue `json:"mode"`
	Error       string          `json:"error,omitempty"`

	// RoutedVia/ClientType/SafetyChecked/SafetyStatus are added by the
	// Execution Router (§4.9) after the client returns.
	RoutedVia     string `json:"routedVia,omitempty"`
	ClientType    string `json:"clientType,omitempty"`
	SafetyChecked bool   `json:"safetyChecked"`
	SafetyStatus  string `json:"safetyStatus,omitempty"`
}

// Balance is a single-currency balance entry.
type Balance struct {
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
}

