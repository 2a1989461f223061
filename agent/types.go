package agent

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/rustyeddy/fxcrew/broker"
	"github.com/rustyeddy/fxcrew/budget"
	"github.com/rustyeddy/fxcrew/execution"
	"github.com/rustyeddy/fxcrew/indicators"
	"github.com/rustyeddy/fxcrew/memory"
	"github.com/rustyeddy/fxcrew/payload"
	"github.com/rustyeddy/fxcrew/risk"
)

// MarketData is the per-instrument slice of a snapshot. Candles and
// Indicators are keyed by timeframe ("m15", "h1", "h4").
type MarketData struct {
	Instrument string                        `json:"instrument"`
	Quote      broker.Quote                  `json:"quote"`
	Candles    map[string][]broker.Candle    `json:"candles,omitempty"`
	Indicators map[string]indicators.Summary `json:"indicators,omitempty"`
}

// Snapshot is everything the stages see about the world for one cycle.
type Snapshot struct {
	Time         time.Time                    `json:"time"`
	Account      broker.Account               `json:"account"`
	Positions    []broker.Position            `json:"positions"`
	Market       map[string]MarketData        `json:"market"`
	Memory       memory.SystemMemory          `json:"memory"`
	RecentTrades []memory.TradeLogEntry       `json:"recent_trades"`
	Feedback     map[string]memory.Feedback   `json:"feedback"`
	History      map[string][]memory.Analysis `json:"history"`
	Performance  memory.Metrics               `json:"performance"`
	Budget       budget.Status                `json:"budget"`
}

// Items decodes a JSON array leniently: a non-array becomes empty and
// elements that do not decode are dropped.
type Items[T any] []T

func (it *Items[T]) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		*it = nil
		return nil
	}
	out := make(Items[T], 0, len(raw))
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	*it = out
	return nil
}

type Opportunity struct {
	Epic       payload.Text    `json:"epic"`
	Pattern    payload.Text    `json:"pattern"`
	Direction  payload.Text    `json:"direction"`
	Conviction payload.Field   `json:"conviction"`
	Timeframe  payload.Text    `json:"timeframe"`
	Reasoning  payload.Text    `json:"reasoning"`
	KeyLevels  json.RawMessage `json:"key_levels,omitempty"`
}

type ProposalOutput struct {
	MarketAssessment json.RawMessage    `json:"market_assessment,omitempty"`
	Opportunities    Items[Opportunity] `json:"opportunities"`
	SelfImprovement  json.RawMessage    `json:"self_improvement,omitempty"`
	Raw              json.RawMessage    `json:"-"`
}

type PlanResult struct {
	Epic            payload.Text    `json:"epic"`
	Direction       payload.Text    `json:"direction"`
	AnalysisQuality payload.Field   `json:"analysis_quality"`
	EntryZone       json.RawMessage `json:"entry_zone,omitempty"`
	StopLoss        json.RawMessage `json:"stop_loss,omitempty"`
	TakeProfit      json.RawMessage `json:"take_profit,omitempty"`
	RiskReward      payload.Field   `json:"risk_reward"`
	PositionSize    json.RawMessage `json:"position_size_recommendation,omitempty"`
	TradingPlan     payload.Text    `json:"trading_plan"`
	KeyIndicators   json.RawMessage `json:"key_indicators,omitempty"`
}

type PlanOutput struct {
	AnalysisResults Items[PlanResult] `json:"analysis_results"`
	MarketInsights  json.RawMessage   `json:"market_insights,omitempty"`
	SelfImprovement json.RawMessage   `json:"self_improvement,omitempty"`
	Raw             json.RawMessage   `json:"-"`
}

type DecisionOutput struct {
	TradeActions        Items[risk.Proposal]            `json:"trade_actions"`
	PositionActions     Items[execution.PositionAction] `json:"position_actions"`
	PortfolioAssessment json.RawMessage                 `json:"portfolio_assessment,omitempty"`
	SelfImprovement     json.RawMessage                 `json:"self_improvement,omitempty"`
	Raw                 json.RawMessage                 `json:"-"`
}

// Empty reports whether the decision asked for nothing at all.
func (d DecisionOutput) Empty() bool {
	return len(d.TradeActions) == 0 && len(d.PositionActions) == 0
}

type ReviewOutput struct {
	TeamAssessment      json.RawMessage `json:"team_assessment,omitempty"`
	AgentFeedback       json.RawMessage `json:"agent_feedback,omitempty"`
	StrategyAdjustments json.RawMessage `json:"strategy_adjustments,omitempty"`
	RequestsForHuman    json.RawMessage `json:"requests_for_human,omitempty"`
	Raw                 json.RawMessage `json:"-"`
}

// Feedback splits agent_feedback into per-stage notes. Anything that is not
// an object yields nothing.
func (r ReviewOutput) Feedback() map[string]json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(r.AgentFeedback, &m); err != nil {
		return nil
	}
	for k, v := range m {
		if len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			delete(m, k)
		}
	}
	return m
}

// ExecutionSummary is what the review stage hears about one broker action.
type ExecutionSummary struct {
	Action     string `json:"action"`
	Instrument string `json:"instrument"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
}

// Digest bundles one cycle's stage outputs for the review stage.
type Digest struct {
	Proposal   ProposalOutput     `json:"proposal"`
	Plan       PlanOutput         `json:"plan"`
	Decision   DecisionOutput     `json:"decision"`
	Rejections []string           `json:"rejections,omitempty"`
	Executions []ExecutionSummary `json:"executions,omitempty"`
}
