package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rustyeddy/fxcrew/broker"
	"github.com/rustyeddy/fxcrew/memory"
)

const (
	systemProposal = "You are a forex market scout working in a collaborative team of trading agents. Respond with JSON only."
	systemPlan     = "You are a forex trading strategist working in a collaborative team of trading agents. Respond with JSON only."
	systemDecision = "You are a forex trading executor working in a collaborative team of trading agents. Respond with JSON only."
	systemReview   = "You are a forex trading team coordinator who improves collaboration between trading agents. Respond with JSON only."
)

const proposalFormat = `
## Response Format
Respond with a JSON object containing:
1. "market_assessment": {"overall_condition", "overall_bias", "correlations", "summary"}
2. "opportunities": array of {"epic", "pattern", "direction" (BUY or SELL), "conviction" (1-10),
   "timeframe", "reasoning", "key_levels"}
3. "self_improvement": {"pattern_effectiveness", "questions_for_team", "suggestions"}
`

const planFormat = `
## Response Format
Respond with a JSON object containing:
1. "analysis_results": array of {"epic", "direction", "analysis_quality" (1-10),
   "entry_zone": {"ideal", "range_low", "range_high"},
   "stop_loss": {"price", "pips", "reasoning"},
   "take_profit": [{"level", "pips", "probability"}],
   "risk_reward", "position_size_recommendation", "trading_plan", "key_indicators"}
2. "market_insights"
3. "self_improvement": {"analysis_effectiveness", "questions_for_team", "suggestions"}
`

const decisionFormat = `
## Response Format
Respond with a JSON object containing:
1. "trade_actions": array of {"action_type": "OPEN", "epic", "direction" (BUY or SELL), "size",
   "entry_price", "entry_range": [low, high], "initial_stop_loss", "take_profit_levels": [..],
   "risk_percent" (1-5), "risk_reward", "pattern", "stop_management", "reasoning"}
2. "position_actions": array of {"action_type": "CLOSE" or "UPDATE_STOP", "epic", "dealId",
   "new_level", "percentage", "reason"}
3. "portfolio_assessment": {"current_exposure", "risk_distribution", "correlation_management",
   "progress_to_daily_goal"}
4. "self_improvement": {"execution_effectiveness", "questions_for_team", "suggestions", "needs_from_user"}
`

const reviewFormat = `
## Response Format
Respond with a JSON object containing:
1. "team_assessment": {"coordination_quality" (1-10), "progress_to_goal", "key_strengths", "key_weaknesses"}
2. "agent_feedback": {"proposal": ..., "plan": ..., "decision": ...}
3. "strategy_adjustments": {"risk_management", "pair_selection", "technical_approach"}
4. "requests_for_human": specific questions or requests for the human operator
`

// Risk rules every decision is checked against before execution.
const riskRules = `
## Risk Rules (enforced after your decision)
- risk_percent is clamped to 1-5% of the balance
- total portfolio risk may not exceed 30% (each open position counts 2%)
- risk on one base currency may not exceed 10%
- every trade needs entry_price and initial_stop_loss
`

func buildProposalPrompt(s Snapshot) string {
	var b strings.Builder
	b.WriteString("# Forex Market Scout\n\n")
	b.WriteString("Identify the 5-7 best trading opportunities across the pairs below. ")
	b.WriteString("Prioritise new setups when fewer than 3 positions are open.\n")
	writeStatus(&b, s)
	writePositions(&b, s.Positions)
	writeTrades(&b, s.RecentTrades)
	writePatternStats(&b, s.RecentTrades)
	writeFeedback(&b, s.Feedback)
	b.WriteString("\n## Current Market\n")
	for _, name := range sortedKeys(s.Market) {
		md := s.Market[name]
		fmt.Fprintf(&b, "%s: bid %s ask %s", name, price(md.Quote.Bid), price(md.Quote.Ask))
		if sum, ok := md.Indicators["h1"]; ok {
			fmt.Fprintf(&b, " | h1 trend %s ema20 %s atr14 %s", sum.Trend, price(sum.EMA20), price(sum.ATR14))
		}
		b.WriteString("\n")
	}
	b.WriteString(proposalFormat)
	return b.String()
}

func buildPlanPrompt(opps []Opportunity, s Snapshot) string {
	var b strings.Builder
	b.WriteString("# Forex Trading Strategist\n\n")
	b.WriteString("Build a detailed trade plan for each opportunity. Aim for risk/reward of at least 1:2.\n")
	writeStatus(&b, s)
	writePositions(&b, s.Positions)
	b.WriteString("\n## Opportunities\n")
	b.WriteString(indentJSON(opps))
	b.WriteString("\n")
	for _, o := range opps {
		name := o.Epic.String()
		md, ok := s.Market[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n", name)
		fmt.Fprintf(&b, "Bid %s Ask %s Spread %s\n", price(md.Quote.Bid), price(md.Quote.Ask), price(md.Quote.Spread()))
		for _, tf := range sortedKeys(md.Candles) {
			if sum, ok := md.Indicators[tf]; ok {
				fmt.Fprintf(&b, "%s indicators: %s\n", tf, indentJSON(sum))
			}
			fmt.Fprintf(&b, "%s candles:\n%s", tf, formatCandles(md.Candles[tf], 20))
		}
		if hist := s.History[name]; len(hist) > 0 {
			fmt.Fprintf(&b, "Previous analyses:\n%s\n", indentJSON(hist))
		}
	}
	writeFeedback(&b, s.Feedback)
	b.WriteString(planFormat)
	return b.String()
}

func buildDecisionPrompt(plans []PlanResult, s Snapshot) string {
	var b strings.Builder
	b.WriteString("# Forex Trading Executor\n\n")
	b.WriteString("Decide which planned trades to open and what to do with open positions. ")
	b.WriteString("Balance the portfolio toward the daily return target.\n")
	writeStatus(&b, s)
	writePositions(&b, s.Positions)
	b.WriteString("\n## Analysis Results\n")
	b.WriteString(indentJSON(plans))
	b.WriteString("\n")
	writeTrades(&b, s.RecentTrades)
	fmt.Fprintf(&b, "\n## Performance\n%s\n", indentJSON(s.Performance))
	writeFeedback(&b, s.Feedback)
	b.WriteString(riskRules)
	b.WriteString(decisionFormat)
	return b.String()
}

func buildReviewPrompt(d Digest, s Snapshot) string {
	var b strings.Builder
	b.WriteString("# Trading Team Review\n\n")
	b.WriteString("Review how the proposal, plan and decision stages worked together this cycle.\n")
	writeStatus(&b, s)
	fmt.Fprintf(&b, "- Win/Loss: %d/%d of %d trades\n", s.Memory.WinCount, s.Memory.LossCount, s.Memory.TradeCount)
	fmt.Fprintf(&b, "- Risk Multiplier: %gx\n", s.Memory.RiskMultiplier)
	fmt.Fprintf(&b, "\n## Performance\n%s\n", indentJSON(s.Performance))
	b.WriteString("\n## Stage Outputs\n")
	b.WriteString(indentJSON(d))
	b.WriteString("\n")
	b.WriteString(reviewFormat)
	return b.String()
}

func writeStatus(b *strings.Builder, s Snapshot) {
	b.WriteString("\n## Current Trading Status\n")
	fmt.Fprintf(b, "- Account Balance: %.2f %s\n", s.Account.Balance, s.Account.Currency)
	fmt.Fprintf(b, "- Available Margin: %.2f\n", s.Account.MarginAvailable)
	fmt.Fprintf(b, "- Open Positions: %d (target minimum 3)\n", len(s.Positions))
	fmt.Fprintf(b, "- Daily Return: %.2f%% of %.2f%% target\n", s.Memory.DailyReturn, s.Memory.DailyReturnTarget)
}

func writePositions(b *strings.Builder, positions []broker.Position) {
	b.WriteString("\n## Open Positions\n")
	if len(positions) == 0 {
		b.WriteString("No open positions\n")
		return
	}
	for _, p := range positions {
		fmt.Fprintf(b, "- %s %s %g units @ %s (P/L %.2f, dealId %s)\n",
			p.Instrument, p.Direction, p.Units, price(p.AveragePrice), p.UnrealizedPL, p.DealID)
	}
}

func writeTrades(b *strings.Builder, trades []memory.TradeLogEntry) {
	b.WriteString("\n## Recent Trading History\n")
	if len(trades) == 0 {
		b.WriteString("No recent trades\n")
		return
	}
	for _, t := range trades {
		fmt.Fprintf(b, "- %s %s %s %s: %s", t.Timestamp.Format("2006-01-02"), t.InstrumentKey(),
			t.ActionType, t.Direction, t.Outcome)
		if t.Pattern != "" {
			fmt.Fprintf(b, " (pattern: %s)", t.Pattern)
		}
		b.WriteString("\n")
	}
}

// writePatternStats lists the patterns behind the most wins and losses.
func writePatternStats(b *strings.Builder, trades []memory.TradeLogEntry) {
	wins, losses := map[string]int{}, map[string]int{}
	for _, t := range trades {
		pattern := t.Pattern
		if pattern == "" {
			pattern = "Unknown"
		}
		switch memory.Classify(t.Outcome) {
		case memory.Win:
			wins[pattern]++
		case memory.Loss:
			losses[pattern]++
		}
	}
	if len(wins) == 0 && len(losses) == 0 {
		return
	}
	b.WriteString("\n## Trade Log Insights\n### Successful Patterns\n")
	for _, kv := range top(wins, 3) {
		fmt.Fprintf(b, "- %s: %d successful trades\n", kv.key, kv.n)
	}
	b.WriteString("### Challenging Patterns\n")
	for _, kv := range top(losses, 3) {
		fmt.Fprintf(b, "- %s: %d failed trades\n", kv.key, kv.n)
	}
}

func writeFeedback(b *strings.Builder, fb map[string]memory.Feedback) {
	if len(fb) == 0 {
		return
	}
	b.WriteString("\n## Recent Agent Feedback\n")
	for _, stage := range sortedKeys(fb) {
		fmt.Fprintf(b, "### %s\n%s\n", stage, string(fb[stage].Content))
	}
}

type count struct {
	key string
	n   int
}

func top(m map[string]int, n int) []count {
	out := make([]count, 0, len(m))
	for k, v := range m {
		out = append(out, count{k, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].key < out[j].key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func formatCandles(candles []broker.Candle, n int) string {
	if len(candles) == 0 {
		return "No data\n"
	}
	start := 0
	if len(candles) > n {
		start = len(candles) - n
	}
	var b strings.Builder
	b.WriteString("Time | Open | High | Low | Close\n")
	for _, c := range candles[start:] {
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s\n", c.Time.UTC().Format("01-02 15:04"),
			price(c.Open), price(c.High), price(c.Low), price(c.Close))
	}
	return b.String()
}

func price(v float64) string { return fmt.Sprintf("%.5f", v) }

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
