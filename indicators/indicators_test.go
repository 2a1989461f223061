package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/fxcrew/broker"
)

func createTestCandles() []broker.Candle {
	return []broker.Candle{
		{Open: 100, High: 105, Low: 99, Close: 102},
		{Open: 102, High: 107, Low: 101, Close: 105},
		{Open: 105, High: 108, Low: 104, Close: 106},
		{Open: 106, High: 110, Low: 105, Close: 108},
		{Open: 108, High: 112, Low: 107, Close: 110},
		{Open: 110, High: 113, Low: 109, Close: 111},
		{Open: 111, High: 115, Low: 110, Close: 113},
		{Open: 113, High: 116, Low: 112, Close: 114},
		{Open: 114, High: 118, Low: 113, Close: 116},
		{Open: 116, High: 120, Low: 115, Close: 118},
	}
}

func TestMA(t *testing.T) {
	ma := NewMA(5)
	candles := createTestCandles()
	for _, c := range candles[:4] {
		ma.Update(c)
	}
	assert.False(t, ma.Ready())
	assert.Zero(t, ma.Value())

	for _, c := range candles[4:] {
		ma.Update(c)
	}
	require.True(t, ma.Ready())
	// last 5 closes: 111,113,114,116,118
	assert.InDelta(t, 114.4, ma.Value(), 0.001)
}

func TestEMA(t *testing.T) {
	stream := NewEMA(5)
	for _, c := range createTestCandles() {
		stream.Update(c)
	}
	// seeded with the SMA of the first 5 closes (106.2)
	assert.InDelta(t, 114.454320987, stream.Value(), 1e-9)
	assert.Equal(t, "EMA(5)", stream.Name())
}

func TestATRWilder(t *testing.T) {
	candles := []broker.Candle{
		{High: 10, Low: 8, Close: 9},
		{High: 11, Low: 9, Close: 10},
		{High: 12, Low: 10, Close: 11},
		{High: 11, Low: 9, Close: 10},
		{High: 12, Low: 10, Close: 11},
		{High: 13, Low: 11, Close: 12},
	}
	atr := NewATR(3)
	assert.Equal(t, 4, atr.Warmup())
	for _, c := range candles {
		atr.Update(c)
	}
	require.True(t, atr.Ready())
	assert.InDelta(t, 2.0, atr.Value(), 1e-9)
}

func TestTrueRange(t *testing.T) {
	current := broker.Candle{High: 110, Low: 100, Close: 105}
	previous := broker.Candle{Close: 112}
	assert.Equal(t, 12.0, trueRange(current, previous))
}

func TestSimpleMAStreaming(t *testing.T) {
	ma := NewMA(3)
	assert.Equal(t, "MA(3)", ma.Name())
	assert.Equal(t, 3, ma.Warmup())
	assert.False(t, ma.Ready())

	candles := createTestCandles()
	for _, c := range candles[:3] {
		ma.Update(c)
	}
	require.True(t, ma.Ready())
	assert.InDelta(t, (102.0+105.0+106.0)/3, ma.Value(), 1e-9)

	ma.Update(candles[3])
	assert.InDelta(t, (105.0+106.0+108.0)/3, ma.Value(), 1e-9)

	ma.Reset()
	assert.False(t, ma.Ready())
	assert.Zero(t, ma.Value())
}

func trendingCandles(n int, step float64) []broker.Candle {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]broker.Candle, n)
	price := 1.1000
	for i := range out {
		closeV := price + step
		out[i] = broker.Candle{
			Time:  base.Add(time.Duration(i) * time.Hour),
			Open:  price,
			High:  math.Max(price, closeV) + 0.0005,
			Low:   math.Min(price, closeV) - 0.0002,
			Close: closeV,
		}
		price = closeV
	}
	return out
}

func TestADXRisesInTrend(t *testing.T) {
	adx := NewADX(14)
	var ready bool
	var v float64
	for _, c := range trendingCandles(40, 0.001) {
		v, ready = adx.Update(c)
	}
	require.True(t, ready)
	assert.Greater(t, v, 50.0)
}

func TestSummarize(t *testing.T) {
	s := Summarize(trendingCandles(60, 0.001))
	assert.Equal(t, "up", s.Trend)
	assert.Greater(t, s.EMA20, s.EMA50)
	assert.Greater(t, s.ATR14, 0.0)
	assert.InDelta(t, 1.16, s.Last, 1e-9)

	s = Summarize(trendingCandles(60, -0.001))
	assert.Equal(t, "down", s.Trend)

	short := Summarize(trendingCandles(5, 0.001))
	assert.Equal(t, "unknown", short.Trend)
	assert.Zero(t, short.EMA20)

	assert.Equal(t, "unknown", Summarize(nil).Trend)
}
