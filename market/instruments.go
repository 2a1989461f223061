// Package market holds the instrument metadata and identifier conventions the
// rest of the pipeline agrees on. Instruments use the OANDA "BASE_QUOTE" form.
package market

import (
	"math"
	"regexp"
	"strings"
)

type InstrumentMeta struct {
	Name             string
	BaseCurrency     string
	QuoteCurrency    string
	PipLocation      int
	MinimumTradeSize float64
	MarginRate       float64
}

// watchlist is the default set of pairs snapshotted every cycle.
var watchlist = []string{
	"EUR_USD", "USD_JPY", "GBP_USD",
	"AUD_USD", "USD_CAD", "GBP_JPY",
	"EUR_JPY", "AUD_JPY", "EUR_GBP",
	"USD_CHF", "NZD_USD", "AUD_NZD",
}

var Instruments = func() map[string]InstrumentMeta {
	m := make(map[string]InstrumentMeta, len(watchlist))
	for _, name := range watchlist {
		m[name] = derive(name)
	}
	return m
}()

// Watchlist returns a copy of the default instrument list.
func Watchlist() []string {
	out := make([]string, len(watchlist))
	copy(out, watchlist)
	return out
}

// Lookup returns metadata for name. Unknown but well-formed "XXX_YYY" names
// get derived metadata; anything else reports false.
func Lookup(name string) (InstrumentMeta, bool) {
	if meta, ok := Instruments[name]; ok {
		return meta, true
	}
	base, quote, ok := strings.Cut(name, "_")
	if !ok || len(base) != 3 || len(quote) != 3 {
		return InstrumentMeta{}, false
	}
	return derive(name), true
}

func derive(name string) InstrumentMeta {
	base, quote, _ := strings.Cut(name, "_")
	loc := -4
	if quote == "JPY" {
		loc = -2
	}
	return InstrumentMeta{
		Name:             name,
		BaseCurrency:     base,
		QuoteCurrency:    quote,
		PipLocation:      loc,
		MinimumTradeSize: 1,
		MarginRate:       0.02,
	}
}

// IsJPYQuoted reports whether prices for instrument are quoted in yen.
func IsJPYQuoted(instrument string) bool {
	return strings.Contains(instrument, "_JPY")
}

// PipMultiplier converts a price distance into pips.
func PipMultiplier(instrument string) float64 {
	if IsJPYQuoted(instrument) {
		return 100
	}
	return 10000
}

// PipSize is the price value of one pip.
func PipSize(instrument string) float64 {
	if meta, ok := Lookup(instrument); ok {
		return math.Pow(10, float64(meta.PipLocation))
	}
	return 1 / PipMultiplier(instrument)
}

// BaseCurrency extracts the currency group used for exposure buckets. OANDA
// names split on "_"; IG-style epics ("CS.D.EURUSD.TODAY.IP") carry the base
// at offset 5.
func BaseCurrency(identifier string) string {
	if base, _, ok := strings.Cut(identifier, "_"); ok {
		return base
	}
	if len(identifier) >= 8 {
		return identifier[5:8]
	}
	return identifier
}

var igEpic = regexp.MustCompile(`\.D\.([A-Z]{3})([A-Z]{3})\.`)

// Normalize maps the identifier spellings the reasoning service tends to
// produce ("EUR/USD", "EUR-USD", "eur_usd", IG epics) onto "EUR_USD".
func Normalize(epic string) string {
	s := strings.ToUpper(strings.TrimSpace(epic))
	if m := igEpic.FindStringSubmatch(s); m != nil {
		return m[1] + "_" + m[2]
	}
	s = strings.NewReplacer("/", "_", "-", "_").Replace(s)
	if len(s) == 6 && !strings.Contains(s, "_") {
		return s[:3] + "_" + s[3:]
	}
	return s
}
