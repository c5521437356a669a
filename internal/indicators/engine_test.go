package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quadbot/internal/domain"
)

func makeCandles(closes []float64) []*domain.Candle {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]*domain.Candle, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		candles[i] = &domain.Candle{
			OpenTime:  start.Add(time.Duration(i) * time.Hour),
			CloseTime: start.Add(time.Duration(i+1) * time.Hour),
			Symbol:    "XRPUSDT",
			Interval:  "1h",
			Open:      open,
			High:      math.Max(open, c) * 1.001,
			Low:       math.Min(open, c) * 0.999,
			Close:     c,
			Volume:    1000,
			IsFinal:   true,
		}
	}
	return candles
}

func TestEMASeededByFirstValue(t *testing.T) {
	values := []float64{10, 11, 12}
	out := EMA(values, 9)
	require.Len(t, out, 3)
	assert.Equal(t, 10.0, out[0])
	// k = 2/10 = 0.2
	assert.InDelta(t, 10.2, out[1], 1e-9)
	assert.InDelta(t, 10.56, out[2], 1e-9)
}

func TestEMAConvergesToConstant(t *testing.T) {
	values := make([]float64, 300)
	for i := range values {
		values[i] = 42.0
	}
	out := EMA(values, 20)
	assert.InDelta(t, 42.0, out[len(out)-1], 1e-9)
}

func TestRSINeutralDefaults(t *testing.T) {
	// Too little data: everything stays at 50.
	out := RSI([]float64{1, 2, 3}, 14)
	for _, v := range out {
		assert.Equal(t, 50.0, v)
	}

	// Monotonic rise has zero average loss once seeded, which also reports 50.
	rising := make([]float64, 30)
	for i := range rising {
		rising[i] = float64(100 + i)
	}
	out = RSI(rising, 14)
	assert.Equal(t, 50.0, out[len(out)-1])
}

func TestRSIBounds(t *testing.T) {
	closes := make([]float64, 100)
	price := 100.0
	for i := range closes {
		if i%3 == 0 {
			price *= 0.98
		} else {
			price *= 1.01
		}
		closes[i] = price
	}
	out := RSI(closes, 14)
	for i := 14; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i], 0.0)
		assert.LessOrEqual(t, out[i], 100.0)
	}
}

func TestADXDefaultsToZeroWhenUndefined(t *testing.T) {
	res := ADX([]float64{1, 2}, []float64{1, 2}, []float64{1, 2}, 14)
	assert.Equal(t, 0.0, res.ADX[1])
	assert.Equal(t, 0.0, res.PlusDI[1])
}

func TestADXPositiveInStrongTrend(t *testing.T) {
	n := 100
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		base := 100.0 + float64(i)*2.0
		highs[i] = base + 1
		lows[i] = base - 1
		closes[i] = base
	}
	res := ADX(highs, lows, closes, 14)
	last := n - 1
	assert.Greater(t, res.ADX[last], 20.0)
	assert.Greater(t, res.PlusDI[last], res.MinusDI[last])
}

func TestBollingerBandOrderingAndPctB(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100.0 + math.Sin(float64(i))*5.0
	}
	res := Bollinger(closes, 20, 2.0, 50, 20.0)
	last := len(closes) - 1
	assert.Greater(t, res.Upper[last], res.Mid[last])
	assert.Less(t, res.Lower[last], res.Mid[last])

	span := res.Upper[last] - res.Lower[last]
	want := (closes[last] - res.Lower[last]) / span
	assert.InDelta(t, want, res.PctB[last], 1e-9)
}

func TestBollingerDefaultsWhenUndefined(t *testing.T) {
	res := Bollinger([]float64{100, 101}, 20, 2.0, 50, 20.0)
	assert.Equal(t, 0.5, res.PctB[1])
	assert.Equal(t, 0.0, res.Width[1])
	assert.False(t, res.Squeeze[1])
}

func TestComputeLatestRowIsFinite(t *testing.T) {
	closes := make([]float64, 250)
	price := 0.5
	for i := range closes {
		price *= 1.0 + 0.01*math.Sin(float64(i)/7.0)
		closes[i] = price
	}
	engine := NewEngine(Params{})
	rows := engine.Compute(makeCandles(closes))
	require.Len(t, rows, 250)

	last := rows[len(rows)-1]
	for name, v := range map[string]float64{
		"emaFast":     last.EMAFast,
		"emaMid":      last.EMAMid,
		"emaSlow":     last.EMASlow,
		"emaVerySlow": last.EMAVerySlow,
		"htfFast":     last.HTFFast,
		"htfSlow":     last.HTFSlow,
		"rsi":         last.RSI,
		"adx":         last.ADX,
		"bandUpper":   last.BandUpper,
		"bandPct":     last.BandPct,
		"bandWidth":   last.BandWidth,
		"volumeRatio": last.VolumeRatio,
	} {
		assert.False(t, math.IsNaN(v), "%s is NaN", name)
		assert.False(t, math.IsInf(v, 0), "%s is Inf", name)
	}
}

func TestEMACrossFlags(t *testing.T) {
	// Long decline pulls the mid EMA below the slow EMA, then a sharp rally
	// crosses it back above.
	closes := make([]float64, 0, 90)
	price := 100.0
	for i := 0; i < 60; i++ {
		price *= 0.995
		closes = append(closes, price)
	}
	for i := 0; i < 30; i++ {
		price *= 1.02
		closes = append(closes, price)
	}
	engine := NewEngine(Params{})
	rows := engine.Compute(makeCandles(closes))

	sawCrossUp := false
	for i := 1; i < len(rows); i++ {
		wantUp := rows[i].EMAMid > rows[i].EMASlow && rows[i-1].EMAMid <= rows[i-1].EMASlow
		assert.Equal(t, wantUp, rows[i].EMACrossUp, "row %d", i)
		if rows[i].EMACrossUp {
			sawCrossUp = true
		}
	}
	assert.True(t, sawCrossUp, "expected a mid/slow EMA cross up during the rally")
}

func TestEMACrossIgnoresFastEMA(t *testing.T) {
	// In a V-shaped reversal the fast EMA overtakes the mid EMA well before
	// the mid overtakes the slow. That early turn must not raise the flag.
	closes := make([]float64, 0, 90)
	price := 100.0
	for i := 0; i < 60; i++ {
		price *= 0.995
		closes = append(closes, price)
	}
	for i := 0; i < 30; i++ {
		price *= 1.02
		closes = append(closes, price)
	}
	engine := NewEngine(Params{})
	rows := engine.Compute(makeCandles(closes))

	fastMidCross := -1
	for i := 61; i < len(rows); i++ {
		if rows[i].EMAFast > rows[i].EMAMid && rows[i-1].EMAFast <= rows[i-1].EMAMid {
			fastMidCross = i
			break
		}
	}
	require.Greater(t, fastMidCross, 0, "rally should turn the fast EMA first")
	assert.Less(t, rows[fastMidCross].EMAMid, rows[fastMidCross].EMASlow)
	assert.False(t, rows[fastMidCross].EMACrossUp)
}

func TestRSIReversalRequiresStrictPivot(t *testing.T) {
	assert.True(t, reversalUp(52, 50, 55))
	assert.False(t, reversalUp(50, 50, 55), "plateau is not a pivot")
	assert.False(t, reversalUp(52, 50, 50))

	assert.True(t, reversalDown(48, 50, 45))
	assert.False(t, reversalDown(50, 50, 45), "plateau is not a pivot")
	assert.False(t, reversalDown(48, 50, 50))
}

func TestVolumeRatioDefault(t *testing.T) {
	candles := makeCandles([]float64{1, 2, 3})
	engine := NewEngine(Params{})
	rows := engine.Compute(candles)
	// Window not filled: ratio stays at its neutral default.
	assert.Equal(t, 1.0, rows[2].VolumeRatio)
}
