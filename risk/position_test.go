package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeNonJPY(t *testing.T) {
	t.Parallel()

	got := Size(Inputs{
		Instrument:  "EUR_USD",
		Balance:     10000,
		RiskPercent: 2.0,
		EntryPrice:  1.10500,
		StopPrice:   1.10000,
	})

	assert.InDelta(t, 50.0, got.StopPips, 1e-6)
	assert.InDelta(t, 200.0, got.RiskAmount, 1e-9)
	assert.Equal(t, 40000.0, got.Units)
}

func TestSizeJPY(t *testing.T) {
	t.Parallel()

	got := Size(Inputs{
		Instrument:  "USD_JPY",
		Balance:     5000,
		RiskPercent: 2.0,
		EntryPrice:  150.00,
		StopPrice:   149.50,
	})

	assert.InDelta(t, 50.0, got.StopPips, 1e-9)
	assert.InDelta(t, 100.0, got.RiskAmount, 1e-9)
	assert.Equal(t, 200.0, got.Units)
}

func TestSizeFloorsStopDistance(t *testing.T) {
	t.Parallel()

	got := Size(Inputs{Instrument: "EUR_USD", Balance: 10000, RiskPercent: 1, EntryPrice: 1.1, StopPrice: 1.1})
	assert.InDelta(t, 1.0, got.StopPips, 1e-9)
	assert.InDelta(t, 1000000.0, got.Units, 1)
}

func TestSizeMinimumOneUnit(t *testing.T) {
	t.Parallel()

	got := Size(Inputs{Instrument: "EUR_USD", Balance: 1, RiskPercent: 1, EntryPrice: 1.2, StopPrice: 1.0})
	assert.Equal(t, 1.0, got.Units)
}

func TestFallbackUnits(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 10.0, FallbackUnits(0.1))
	assert.Equal(t, 150.0, FallbackUnits(1.5))
	assert.Equal(t, 1.0, FallbackUnits(0))
}

func TestSigned(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 100.0, Signed(100, "BUY"))
	assert.Equal(t, -100.0, Signed(100, "SELL"))
	assert.Equal(t, -100.0, Signed(-100, "SELL"))
}

func TestRR(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 2.0, RR(1.1, 1.09, 1.12), 1e-9)
	assert.Equal(t, 0.0, RR(1.1, 1.1, 1.2))
}
