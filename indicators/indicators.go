// Package indicators computes the technical indicators attached to each
// instrument's market snapshot.
package indicators

import "github.com/rustyeddy/fxcrew/broker"

// Indicator computes a single streaming value from candles.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	Reset()

	// Update consumes the next closed candle.
	Update(c broker.Candle)

	Ready() bool

	// Value is meaningful only when Ready.
	Value() float64
}

// Summary is the indicator digest for one candle series. Fields whose
// indicator is not warmed up are zero.
type Summary struct {
	Last  float64 `json:"last"`
	SMA20 float64 `json:"sma20,omitempty"`
	EMA20 float64 `json:"ema20,omitempty"`
	EMA50 float64 `json:"ema50,omitempty"`
	ATR14 float64 `json:"atr14,omitempty"`
	ADX14 float64 `json:"adx14,omitempty"`
	Trend string  `json:"trend"`
}

// Summarize runs the standard indicator set over candles, oldest first.
func Summarize(candles []broker.Candle) Summary {
	var s Summary
	if len(candles) == 0 {
		s.Trend = "unknown"
		return s
	}
	s.Last = candles[len(candles)-1].Close

	set := []Indicator{NewMA(20), NewEMA(20), NewEMA(50), NewATR(14)}
	adx := NewADX(14)
	for _, c := range candles {
		for _, ind := range set {
			ind.Update(c)
		}
		adx.Update(c)
	}
	value := func(ind Indicator) float64 {
		if ind.Ready() {
			return ind.Value()
		}
		return 0
	}
	s.SMA20 = value(set[0])
	s.EMA20 = value(set[1])
	s.EMA50 = value(set[2])
	s.ATR14 = value(set[3])
	if adx.Ready() {
		s.ADX14 = adx.Value()
	}
	s.Trend = trend(s)
	return s
}

func trend(s Summary) string {
	switch {
	case s.EMA20 == 0 || s.EMA50 == 0:
		return "unknown"
	case s.ADX14 > 0 && s.ADX14 < 20:
		return "ranging"
	case s.EMA20 > s.EMA50:
		return "up"
	case s.EMA20 < s.EMA50:
		return "down"
	default:
		return "ranging"
	}
}
