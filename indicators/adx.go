package indicators

import (
	"math"

	"github.com/rustyeddy/fxcrew/broker"
)

// ADX implements Wilder's Average Directional Index (trend strength).
//
//	adx := indicators.NewADX(14)
//	val, ok := adx.Update(candle)
//	if ok && val >= 20 { ... }
type ADX struct {
	Period int

	prev     broker.Candle
	havePrev bool

	// Wilder-smoothed values after warmup
	tr    float64
	pdm   float64
	mdm   float64
	adx   float64
	dxSum float64

	// candles processed, including the first seed
	count int
	ready bool
}

func NewADX(period int) *ADX {
	return &ADX{Period: period}
}

func (a *ADX) Value() float64 { return a.adx }

func (a *ADX) Ready() bool { return a.ready }

// Update consumes the next candle and returns (adx, ready). Ready needs
// Period candles to seed the smoothed ranges and Period more DX values to
// seed the ADX itself.
func (a *ADX) Update(c broker.Candle) (float64, bool) {
	if !a.havePrev {
		a.prev = c
		a.havePrev = true
		a.count = 1
		return 0, false
	}

	upMove := c.High - a.prev.High
	downMove := a.prev.Low - c.Low

	var pdm, mdm float64
	if upMove > downMove && upMove > 0 {
		pdm = upMove
	}
	if downMove > upMove && downMove > 0 {
		mdm = downMove
	}
	tr := trueRange(c, a.prev)

	a.prev = c
	a.count++

	p := float64(a.Period)
	if a.count <= a.Period+1 {
		a.tr += tr
		a.pdm += pdm
		a.mdm += mdm
		if a.count == a.Period+1 {
			a.tr /= p
			a.pdm /= p
			a.mdm /= p
		}
		return a.adx, a.ready
	}

	a.tr = (a.tr*(p-1) + tr) / p
	a.pdm = (a.pdm*(p-1) + pdm) / p
	a.mdm = (a.mdm*(p-1) + mdm) / p

	var dx float64
	if a.tr > 0 {
		pdi := 100 * a.pdm / a.tr
		mdi := 100 * a.mdm / a.tr
		if den := pdi + mdi; den > 0 {
			dx = 100 * math.Abs(pdi-mdi) / den
		}
	}

	if !a.ready {
		a.dxSum += dx
		if a.count == 2*a.Period+1 {
			a.adx = a.dxSum / p
			a.ready = true
		}
		return a.adx, a.ready
	}

	a.adx = (a.adx*(p-1) + dx) / p
	return a.adx, true
}
