package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipConventions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		instrument string
		multiplier float64
		pip        float64
	}{
		{"EUR_USD", 10000, 0.0001},
		{"USD_JPY", 100, 0.01},
		{"GBP_JPY", 100, 0.01},
		{"AUD_NZD", 10000, 0.0001},
		{"EUR_SEK", 10000, 0.0001},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.instrument, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.multiplier, PipMultiplier(tt.instrument))
			assert.InDelta(t, tt.pip, PipSize(tt.instrument), 1e-12)
		})
	}
}

func TestBaseCurrency(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "EUR", BaseCurrency("EUR_USD"))
	assert.Equal(t, "USD", BaseCurrency("USD_JPY"))
	assert.Equal(t, "GBP", BaseCurrency("CS.D.GBPUSD.TODAY.IP"))
	assert.Equal(t, "XAU", BaseCurrency("XAU"))
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"EUR/USD":              "EUR_USD",
		"eur-usd":              "EUR_USD",
		"EURUSD":               "EUR_USD",
		"CS.D.USDJPY.TODAY.IP": "USD_JPY",
		" GBP_USD ":            "GBP_USD",
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	meta, ok := Lookup("USD_JPY")
	assert.True(t, ok)
	assert.Equal(t, -2, meta.PipLocation)
	assert.Equal(t, "JPY", meta.QuoteCurrency)

	meta, ok = Lookup("USD_MXN")
	assert.True(t, ok)
	assert.Equal(t, "MXN", meta.QuoteCurrency)

	_, ok = Lookup("garbage")
	assert.False(t, ok)
}

func TestWatchlistIsACopy(t *testing.T) {
	t.Parallel()

	w := Watchlist()
	assert.Len(t, w, 12)
	w[0] = "XXX_YYY"
	assert.Equal(t, "EUR_USD", Watchlist()[0])
}
