// Package strategic implements the Tier 4 Strategic Gate (§4.6): an
// optional LLM-backed review of Tier 3's trade parameters. Grounded on
// original_source's strategic_execution.py orchestration (build context ->
// call LLM -> process decision) and market_context.py's context shape.
package strategic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/recovery"
	"github.com/heliostrading/core/pkg/types"
)

// Verdict is the LLM's structured decision (§4.6).
type Verdict string

const (
	VerdictApprove Verdict = "APPROVE"
	VerdictReject  Verdict = "REJECT"
	VerdictModify  Verdict = "MODIFY"
)

const (
	ReasonLLMAPIError   = "LLM_API_ERROR"
	ReasonLLMParseError = "LLM_PARSE_ERROR"
)

// MarketContext is gathered before every LLM call (§4.6): price action at
// three horizons, correlation/volatility/liquidity regimes, recent
// prediction accuracy, and a portfolio snapshot.
type MarketContext struct {
	Pair                 types.Pair      `json:"pair"`
	Change24h            decimal.Decimal `json:"change24h"`
	Change7d             decimal.Decimal `json:"change7d"`
	Change30d            decimal.Decimal `json:"change30d"`
	CorrelationRegime    string          `json:"correlationRegime"`
	OrderBookImbalance   decimal.Decimal `json:"orderBookImbalance"`
	VolatilityRegime     string          `json:"volatilityRegime"`
	LiquidityRegime      string          `json:"liquidityRegime"`
	RecentPredictionAccuracy decimal.Decimal `json:"recentPredictionAccuracy"`
	PortfolioTotalValueZAR   decimal.Decimal `json:"portfolioTotalValueZar"`
	PortfolioDrawdownPct     decimal.Decimal `json:"portfolioDrawdownPct"`
	OpenPositionCount        int             `json:"openPositionCount"`
}

// ContextBuilder gathers the MarketContext for a pair (§4.6). Implemented
// separately so tests can stub it without a live store/exchange.
type ContextBuilder interface {
	Build(ctx context.Context, pair types.Pair) (*MarketContext, error)
}

// suggestedModifications carries the LLM's optional parameter overrides.
type suggestedModifications struct {
	Leverage      *decimal.Decimal `json:"leverage"`
	StopLossPct   *decimal.Decimal `json:"stop_loss_pct"`
	TakeProfitPct *decimal.Decimal `json:"take_profit_pct"`
}

// llmResponse is the wire shape returned by the LLM call, per §4.6:
// {decision, reasoning, confidence_adjustment, position_size_multiplier,
// risk_flags[], suggested_modifications{}}.
type llmResponse struct {
	Decision                Verdict                `json:"decision"`
	Reasoning               string                 `json:"reasoning"`
	ConfidenceAdjustment    decimal.Decimal        `json:"confidence_adjustment"`
	PositionSizeMultiplier  decimal.Decimal        `json:"position_size_multiplier"`
	RiskFlags               []string               `json:"risk_flags"`
	SuggestedModifications  suggestedModifications `json:"suggested_modifications"`
}

// Result is the Gate's output for a single evaluation.
type Result struct {
	Decision          Verdict
	FinalParams       *types.TradeParameters
	Reasoning         string
	RiskFlags         []string
}

// llmRequest is the wire request body sent to the LLM endpoint.
type llmRequest struct {
	Pair          string                `json:"pair"`
	Signal        string                `json:"signal"`
	Confidence    decimal.Decimal       `json:"confidence"`
	TradeParams   types.TradeParameters `json:"tradeParams"`
	MarketContext *MarketContext        `json:"marketContext"`
}

// Gate is the Tier 4 Strategic Gate.
type Gate struct {
	logger  *zap.Logger
	enabled bool
	baseURL string
	http    *http.Client
	context ContextBuilder
	circuit *recovery.TierCircuit
}

// New constructs a Gate. When enabled is false, Evaluate always returns
// VerdictApprove unchanged (the tier is inert per §4.6 "Active only when a
// configuration flag is true").
func New(logger *zap.Logger, enabled bool, baseURL string, timeout time.Duration, contextBuilder ContextBuilder) *Gate {
	return &Gate{
		logger:  logger.Named("strategic"),
		enabled: enabled,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		context: contextBuilder,
		circuit: recovery.NewTierCircuit(logger, "strategic-llm"),
	}
}

// Healthy reports whether the LLM circuit breaker is currently closed.
func (g *Gate) Healthy() bool {
	return g.circuit.Healthy()
}

// Enabled reports whether the gate is configured to consult the LLM.
func (g *Gate) Enabled() bool {
	return g.enabled
}

// Evaluate gathers market context, consults the LLM, and returns the final
// decision. Any LLM timeout, transport error, or parse failure degrades
// safely to REJECT — never to APPROVE (§4.6).
func (g *Gate) Evaluate(ctx context.Context, pair types.Pair, signal types.SignalClass, confidence decimal.Decimal, params *types.TradeParameters) Result {
	if !g.enabled {
		return Result{Decision: VerdictApprove, FinalParams: params, Reasoning: "strategic gate disabled"}
	}

	marketContext, err := g.context.Build(ctx, pair)
	if err != nil {
		g.logger.Warn("market context build failed, rejecting", zap.Error(err))
		return Result{Decision: VerdictReject, Reasoning: ReasonLLMAPIError, RiskFlags: []string{"CONTEXT_BUILD_FAILED"}}
	}

	resp, err := g.callLLM(ctx, pair, signal, confidence, params, marketContext)
	if err != nil {
		g.logger.Warn("llm call failed, rejecting", zap.Error(err))
		return Result{Decision: VerdictReject, Reasoning: ReasonLLMAPIError, RiskFlags: []string{"LLM_CALL_FAILED"}}
	}

	return g.processDecision(resp, params)
}

func (g *Gate) callLLM(ctx context.Context, pair types.Pair, signal types.SignalClass, confidence decimal.Decimal, params *types.TradeParameters, marketContext *MarketContext) (*llmResponse, error) {
	body, err := json.Marshal(llmRequest{
		Pair:          string(pair),
		Signal:        string(signal),
		Confidence:    confidence,
		TradeParams:   *params,
		MarketContext: marketContext,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding llm request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := g.circuit.Execute(ctx, func() (interface{}, error) {
		resp, err := g.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("calling llm: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("llm returned %d", resp.StatusCode)
		}

		var parsed llmResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("%s: %w", ReasonLLMParseError, err)
		}

		switch parsed.Decision {
		case VerdictApprove, VerdictReject, VerdictModify:
		default:
			return nil, fmt.Errorf("%s: unrecognized decision %q", ReasonLLMParseError, parsed.Decision)
		}

		return &parsed, nil
	})
	if err != nil {
		return nil, err
	}
	return raw.(*llmResponse), nil
}

// processDecision turns a validated llmResponse into the Gate's Result,
// applying MODIFY's multiplier and overrides (§4.6).
func (g *Gate) processDecision(resp *llmResponse, original *types.TradeParameters) Result {
	switch resp.Decision {
	case VerdictApprove:
		return Result{Decision: VerdictApprove, FinalParams: original, Reasoning: resp.Reasoning, RiskFlags: resp.RiskFlags}

	case VerdictReject:
		return Result{Decision: VerdictReject, FinalParams: nil, Reasoning: resp.Reasoning, RiskFlags: resp.RiskFlags}

	default: // MODIFY
		multiplier := resp.PositionSizeMultiplier
		if multiplier.LessThan(decimal.Zero) {
			multiplier = decimal.Zero
		}
		if multiplier.GreaterThan(decimal.NewFromInt(2)) {
			multiplier = decimal.NewFromInt(2)
		}

		modified := *original
		modified.PositionSizeZAR = original.PositionSizeZAR.Mul(multiplier)
		modified.MaxLossZAR = original.MaxLossZAR.Mul(multiplier)
		modified.ExpectedGainZAR = original.ExpectedGainZAR.Mul(multiplier)

		if s := resp.SuggestedModifications.Leverage; s != nil {
			modified.Leverage = *s
		}
		if s := resp.SuggestedModifications.StopLossPct; s != nil {
			modified.StopLossPct = *s
		}
		if s := resp.SuggestedModifications.TakeProfitPct; s != nil {
			modified.TakeProfitPct = *s
		}

		return Result{Decision: VerdictModify, FinalParams: &modified, Reasoning: resp.Reasoning, RiskFlags: resp.RiskFlags}
	}
}
