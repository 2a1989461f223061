package risk

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rustyeddy/fxcrew/payload"
)

// Hard limits a Policy may tighten but never loosen.
const (
	FloorRiskPct          = 1.0
	CeilingRiskPct        = 5.0
	CeilingPortfolioPct   = 30.0
	CeilingCurrencyPct    = 10.0
	DefaultPerPositionPct = 2.0
)

type Policy struct {
	MinRiskPct          float64 `yaml:"min_risk_pct" json:"min_risk_pct"`
	MaxRiskPct          float64 `yaml:"max_risk_pct" json:"max_risk_pct"`
	PerPositionRiskPct  float64 `yaml:"per_position_risk_pct" json:"per_position_risk_pct"`
	MaxPortfolioRiskPct float64 `yaml:"max_portfolio_risk_pct" json:"max_portfolio_risk_pct"`
	MaxCurrencyRiskPct  float64 `yaml:"max_currency_risk_pct" json:"max_currency_risk_pct"`
}

func DefaultPolicy() Policy {
	return Policy{
		MinRiskPct:          FloorRiskPct,
		MaxRiskPct:          CeilingRiskPct,
		PerPositionRiskPct:  DefaultPerPositionPct,
		MaxPortfolioRiskPct: CeilingPortfolioPct,
		MaxCurrencyRiskPct:  CeilingCurrencyPct,
	}
}

func (p Policy) Validate() error {
	var errs []error
	if p.MinRiskPct < FloorRiskPct || p.MaxRiskPct > CeilingRiskPct || p.MinRiskPct > p.MaxRiskPct {
		errs = append(errs, fmt.Errorf("risk range [%g, %g] must lie within [%g, %g]",
			p.MinRiskPct, p.MaxRiskPct, FloorRiskPct, CeilingRiskPct))
	}
	if p.PerPositionRiskPct <= 0 {
		errs = append(errs, errors.New("per_position_risk_pct must be positive"))
	}
	if p.MaxPortfolioRiskPct <= 0 || p.MaxPortfolioRiskPct > CeilingPortfolioPct {
		errs = append(errs, fmt.Errorf("max_portfolio_risk_pct must be in (0, %g]", CeilingPortfolioPct))
	}
	if p.MaxCurrencyRiskPct <= 0 || p.MaxCurrencyRiskPct > CeilingCurrencyPct {
		errs = append(errs, fmt.Errorf("max_currency_risk_pct must be in (0, %g]", CeilingCurrencyPct))
	}
	return errors.Join(errs...)
}

// Proposal is a trade action as the decision stage emitted it. Nothing in it
// is trusted until Validate has looked at it.
type Proposal struct {
	ActionType       payload.Text    `json:"action_type"`
	Epic             payload.Text    `json:"epic"`
	Direction        payload.Text    `json:"direction"`
	Size             payload.Field   `json:"size"`
	EntryPrice       payload.Field   `json:"entry_price"`
	EntryRange       json.RawMessage `json:"entry_range,omitempty"`
	InitialStopLoss  payload.Field   `json:"initial_stop_loss"`
	TakeProfitLevels payload.Fields  `json:"take_profit_levels"`
	RiskPercent      payload.Field   `json:"risk_percent"`
	RiskReward       payload.Field   `json:"risk_reward"`
	Pattern          payload.Text    `json:"pattern"`
	StopManagement   json.RawMessage `json:"stop_management,omitempty"`
	Reasoning        payload.Text    `json:"reasoning"`
}

// ValidatedTrade has concrete values and has passed every check.
type ValidatedTrade struct {
	Instrument  string
	Direction   string // BUY or SELL
	Size        float64
	RiskPercent float64
	EntryPrice  float64
	StopLoss    float64
	TakeProfit  float64 // zero when none was given
	RiskReward  float64
	Pattern     string
	Reasoning   string
}

// HasPrices reports whether the trade can be sized from its stop distance.
func (v ValidatedTrade) HasPrices() bool {
	return v.EntryPrice > 0 && v.StopLoss > 0
}
