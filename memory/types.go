package memory

import (
	"encoding/json"
	"strings"
	"time"
)

// SystemMemory is the process-wide counter record. TradeCount always equals
// WinCount + LossCount + the number of entries with an indeterminate outcome.
type SystemMemory struct {
	Created           time.Time      `json:"created"`
	LastUpdated       time.Time      `json:"last_updated"`
	TradeCount        int            `json:"trade_count"`
	WinCount          int            `json:"win_count"`
	LossCount         int            `json:"loss_count"`
	RiskMultiplier    float64        `json:"risk_multiplier"`
	BaseRisk          float64        `json:"base_risk"`
	DailyReturn       float64        `json:"daily_return"`
	DailyReturnTarget float64        `json:"daily_return_target"`
	Context           map[string]any `json:"context"`
}

func defaultMemory(now time.Time) SystemMemory {
	return SystemMemory{
		Created:           now,
		LastUpdated:       now,
		RiskMultiplier:    1.0,
		BaseRisk:          1.0,
		DailyReturnTarget: 10.0,
		Context:           map[string]any{},
	}
}

// Feedback is the latest self-improvement note for one stage.
type Feedback struct {
	Timestamp time.Time       `json:"timestamp"`
	Content   json.RawMessage `json:"content"`
}

type Analysis struct {
	Direction  string    `json:"direction"`
	EntryPrice float64   `json:"entry_price,omitempty"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	RiskReward float64   `json:"risk_reward,omitempty"`
	Pattern    string    `json:"pattern,omitempty"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Outcome    string    `json:"outcome,omitempty"`
}

// MaxAnalysesPerInstrument bounds the history kept for each instrument.
const MaxAnalysesPerInstrument = 10

type analysisFile struct {
	LastUpdated time.Time             `json:"last_updated"`
	Pairs       map[string][]Analysis `json:"pairs"`
}

// Action types written to the trade log.
const (
	ActionOpen       = "OPEN"
	ActionClose      = "CLOSE"
	ActionUpdateStop = "UPDATE_STOP"
)

// Outcome strings written by the execution gateway.
const (
	OutcomeExecuted = "EXECUTED"
	OutcomeClosed   = "CLOSED"
	OutcomeUpdated  = "UPDATED"
	OutcomeFailed   = "FAILED"
	OutcomeError    = "ERROR"
)

// TradeLogEntry is one line of the append-only trade log.
type TradeLogEntry struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Epic          string    `json:"epic"`
	Instrument    string    `json:"instrument,omitempty"`
	ActionType    string    `json:"action_type"`
	Direction     string    `json:"direction"`
	Size          float64   `json:"size,omitempty"`
	Units         float64   `json:"units,omitempty"`
	EntryPrice    float64   `json:"entry_price,omitempty"`
	StopLoss      float64   `json:"stop_loss,omitempty"`
	TakeProfit    float64   `json:"take_profit,omitempty"`
	NewLevel      float64   `json:"new_level,omitempty"`
	RiskPercent   float64   `json:"risk_percent,omitempty"`
	RiskReward    float64   `json:"risk_reward,omitempty"`
	Pattern       string    `json:"pattern,omitempty"`
	Outcome       string    `json:"outcome"`
	DealID        string    `json:"deal_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	ReturnPercent *float64  `json:"return_percent,omitempty"`
}

// InstrumentKey is the identifier history is keyed under.
func (e TradeLogEntry) InstrumentKey() string {
	if e.Instrument != "" {
		return e.Instrument
	}
	return e.Epic
}

func (e TradeLogEntry) IsClose() bool {
	return e.ActionType == ActionClose || e.Direction == ActionClose
}

type Result int

const (
	Indeterminate Result = iota
	Win
	Loss
)

// Classify buckets an outcome string. Matching is case-insensitive and by
// substring, so "TAKE_PROFIT_HIT" is a win and "stopped out" a loss.
func Classify(outcome string) Result {
	o := strings.ToUpper(outcome)
	switch {
	case strings.Contains(o, "WIN") || strings.Contains(o, "PROFIT"):
		return Win
	case strings.Contains(o, "LOSS") || strings.Contains(o, "STOPPED"):
		return Loss
	default:
		return Indeterminate
	}
}

// Metrics summarise completed (win or loss) trades.
type Metrics struct {
	CompletedTrades   int     `json:"completed_trades"`
	AvgReturnPerTrade float64 `json:"avg_return_per_trade"`
	AvgRiskPerTrade   float64 `json:"avg_risk_per_trade"`
	AvgRiskReward     float64 `json:"avg_risk_reward"`
	LargestWin        float64 `json:"largest_win"`
	LargestLoss       float64 `json:"largest_loss"`
}

// Recorder receives a copy of every trade-log entry, e.g. a queryable
// journal. Failures are logged and never block the primary log.
type Recorder interface {
	RecordTrade(TradeLogEntry) error
}
