package sim

import (
	"math"

	"github.com/rustyeddy/fxcrew/market"
)

// TradeMargin is the margin a position of units at price ties up.
func TradeMargin(units, price float64, instrument string, quoteToAccount float64) float64 {
	rate := 0.02
	if meta, ok := market.Lookup(instrument); ok && meta.MarginRate > 0 {
		rate = meta.MarginRate
	}
	return math.Abs(units) * price * quoteToAccount * rate
}

// quoteToAccount converts one unit of the instrument's quote currency into
// the account currency using the instrument's own price. Crosses that need a
// third rate are valued at 1.
func quoteToAccount(instrument, accountCurrency string, price float64) float64 {
	meta, ok := market.Lookup(instrument)
	if !ok || price == 0 {
		return 1
	}
	switch accountCurrency {
	case meta.QuoteCurrency:
		return 1
	case meta.BaseCurrency:
		return 1 / price
	}
	return 1
}
