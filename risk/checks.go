package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/rustyeddy/fxcrew/broker"
	"github.com/rustyeddy/fxcrew/market"
	"github.com/rustyeddy/fxcrew/payload"
)

// Violation codes.
const (
	MissingField     = "MISSING_FIELD"
	InvalidDirection = "INVALID_DIRECTION"
	PortfolioRisk    = "PORTFOLIO_RISK"
	CurrencyRisk     = "CURRENCY_RISK"
	NoEntry          = "NO_ENTRY"
	NoStop           = "NO_STOP"
)

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation

	RequestedRiskPct float64
	Clamped          bool
	PortfolioRisk    float64 // open-position risk before this trade
	CurrencyRisk     float64
	Currency         string
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Reason joins the violation messages for logging.
func (d Decision) Reason() string {
	msgs := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		msgs = append(msgs, v.Code+": "+v.Msg)
	}
	return strings.Join(msgs, "; ")
}

// Estimator attributes a risk percentage to an open position.
type Estimator interface {
	PositionRisk(broker.Position) float64
}

// FlatEstimator charges every open position the same percentage. It ignores
// stop distance, so it stays usable when the broker omits stop data.
type FlatEstimator float64

func (f FlatEstimator) PositionRisk(broker.Position) float64 { return float64(f) }

type Validator struct {
	Policy    Policy
	Estimator Estimator
}

func NewValidator(p Policy) *Validator {
	return &Validator{Policy: p, Estimator: FlatEstimator(p.PerPositionRiskPct)}
}

// Clamp forces pct into the policy's per-trade range. NaN clamps to the
// minimum.
func (p Policy) Clamp(pct float64) float64 {
	switch {
	case math.IsNaN(pct), pct < p.MinRiskPct:
		return p.MinRiskPct
	case pct > p.MaxRiskPct:
		return p.MaxRiskPct
	}
	return pct
}

// Validate runs the checks in order and stops at the first failure. It has
// no side effects; acct is accepted so exposure estimators can use balance.
func (v *Validator) Validate(p Proposal, acct broker.Account, positions []broker.Position) (ValidatedTrade, Decision) {
	d := Decision{Allowed: true}

	epic := market.Normalize(p.Epic.String())
	if epic == "" {
		d.add(MissingField, "epic is required")
		return ValidatedTrade{}, d
	}
	if strings.TrimSpace(p.Direction.String()) == "" {
		d.add(MissingField, "direction is required")
		return ValidatedTrade{}, d
	}
	requested, ok := p.RiskPercent.Value()
	if ok && (math.IsNaN(requested) || math.IsInf(requested, 0)) {
		d.add(MissingField, fmt.Sprintf("risk_percent %v is not a finite number", requested))
		return ValidatedTrade{}, d
	}
	if !ok {
		if p.RiskPercent.Kind() == payload.Missing {
			d.add(MissingField, "risk_percent is required")
		} else {
			d.add(MissingField, fmt.Sprintf("risk_percent %q is not a number", p.RiskPercent.Raw()))
		}
		return ValidatedTrade{}, d
	}
	dir, ok := NormalizeDirection(p.Direction.String())
	if !ok {
		d.add(InvalidDirection, fmt.Sprintf("direction %q is not BUY or SELL", p.Direction))
		return ValidatedTrade{}, d
	}

	d.RequestedRiskPct = requested
	riskPct := v.Policy.Clamp(requested)
	d.Clamped = riskPct != requested

	d.Currency = market.BaseCurrency(epic)
	for _, pos := range positions {
		r := v.Estimator.PositionRisk(pos)
		d.PortfolioRisk += r
		if market.BaseCurrency(pos.Instrument) == d.Currency {
			d.CurrencyRisk += r
		}
	}

	if total := d.PortfolioRisk + riskPct; total > v.Policy.MaxPortfolioRiskPct {
		d.add(PortfolioRisk, fmt.Sprintf("total risk %.2f%% would exceed %.2f%%", total, v.Policy.MaxPortfolioRiskPct))
		return ValidatedTrade{}, d
	}
	if total := d.CurrencyRisk + riskPct; total > v.Policy.MaxCurrencyRiskPct {
		d.add(CurrencyRisk, fmt.Sprintf("%s exposure %.2f%% would exceed %.2f%%", d.Currency, total, v.Policy.MaxCurrencyRiskPct))
		return ValidatedTrade{}, d
	}

	entry, ok := p.EntryPrice.Value()
	if !ok || entry <= 0 || math.IsInf(entry, 0) || math.IsNaN(entry) {
		d.add(NoEntry, "entry_price is missing or not a price")
		return ValidatedTrade{}, d
	}
	stop, ok := p.InitialStopLoss.Value()
	if !ok || stop <= 0 || math.IsInf(stop, 0) || math.IsNaN(stop) {
		d.add(NoStop, "initial_stop_loss is missing or not a price")
		return ValidatedTrade{}, d
	}

	t := ValidatedTrade{
		Instrument:  epic,
		Direction:   dir,
		Size:        p.Size.Float(0),
		RiskPercent: riskPct,
		EntryPrice:  entry,
		StopLoss:    stop,
		Pattern:     p.Pattern.String(),
		Reasoning:   p.Reasoning.String(),
	}
	if tp, ok := p.TakeProfitLevels.First(); ok && tp > 0 {
		t.TakeProfit = tp
	}
	switch {
	case p.RiskReward.Present():
		t.RiskReward = p.RiskReward.Float(payload.DefaultRiskReward)
	case t.TakeProfit > 0:
		t.RiskReward = RR(entry, stop, t.TakeProfit)
	default:
		t.RiskReward = payload.RiskReward(p.RiskReward)
	}
	return t, d
}

// NormalizeDirection maps the spellings a stage may use onto BUY or SELL.
func NormalizeDirection(s string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return "BUY", true
	case "SELL", "SHORT":
		return "SELL", true
	}
	return "", false
}
