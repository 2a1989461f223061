package risk

import (
	"math"

	"github.com/rustyeddy/fxcrew/market"
)

// MinStopDistance keeps a zero-width stop from dividing by zero.
const MinStopDistance = 0.0001

type Inputs struct {
	Instrument  string
	Balance     float64
	RiskPercent float64 // 2.0 means 2%
	EntryPrice  float64
	StopPrice   float64
}

type Result struct {
	Units      float64
	StopPips   float64
	RiskAmount float64
}

// Size derives the position size that loses RiskPercent of Balance if the
// stop is hit. Units are floored and never below one.
//
// The pip value per unit is the pip size in quote currency; no conversion
// to the account currency is applied.
func Size(in Inputs) Result {
	riskAmt := in.Balance * in.RiskPercent / 100
	distance := math.Max(math.Abs(in.EntryPrice-in.StopPrice), MinStopDistance)
	stopPips := distance * market.PipMultiplier(in.Instrument)
	pipValuePerUnit := 1 / market.PipMultiplier(in.Instrument)

	units := math.Floor(riskAmt / (stopPips * pipValuePerUnit))
	if units < 1 || math.IsNaN(units) {
		units = 1
	}
	return Result{
		Units:      units,
		StopPips:   stopPips,
		RiskAmount: riskAmt,
	}
}

// FallbackUnits is the coarse conversion used when no stop distance is
// available.
func FallbackUnits(size float64) float64 {
	u := math.Trunc(size * 100)
	if u < 1 {
		return 1
	}
	return u
}

// Signed applies the trade direction to a unit count.
func Signed(units float64, direction string) float64 {
	if direction == "SELL" {
		return -math.Abs(units)
	}
	return math.Abs(units)
}
