package indicators

import (
	"math"
	"time"

	"quadbot/internal/domain"
)

// MinCandles is the history length below which higher-order indicator values
// on the latest row are not trustworthy.
const MinCandles = 200

// Params holds the indicator periods. Zero values are replaced by defaults
// in NewEngine.
type Params struct {
	EMAFast     int
	EMAMid      int
	EMASlow     int
	EMAVerySlow int

	// Higher-timeframe approximations computed on the base interval.
	HTFFast int
	HTFSlow int

	RSIPeriod int
	ADXPeriod int

	BBPeriod      int
	BBStdDev      float64
	BBWidthWindow int
	SqueezePctile float64

	VolumePeriod    int
	PullbackDistPct float64
}

// DefaultParams returns the standard parameter set.
func DefaultParams() Params {
	return Params{
		EMAFast:         9,
		EMAMid:          20,
		EMASlow:         50,
		EMAVerySlow:     200,
		HTFFast:         80,
		HTFSlow:         200,
		RSIPeriod:       14,
		ADXPeriod:       14,
		BBPeriod:        20,
		BBStdDev:        2.0,
		BBWidthWindow:   50,
		SqueezePctile:   20.0,
		VolumePeriod:    20,
		PullbackDistPct: 0.5,
	}
}

// Row is one fully derived indicator record. One row per candle; rows are
// never mutated after Compute returns.
type Row struct {
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64

	EMAFast     float64
	EMAMid      float64
	EMASlow     float64
	EMAVerySlow float64
	HTFFast     float64
	HTFSlow     float64

	RSI     float64
	ADX     float64
	PlusDI  float64
	MinusDI float64

	BandUpper   float64
	BandMid     float64
	BandLower   float64
	BandPct     float64
	BandWidth   float64
	WidthPctile float64
	Squeeze     bool

	VolumeRatio float64

	EMACrossUp      bool
	EMACrossDown    bool
	RSIReversalUp   bool
	RSIReversalDown bool
	SqueezeRelease  bool
	Pullback        bool
	Bullish         bool
	Bearish         bool
}

// Engine derives indicator rows from raw candles. It holds no trading state.
type Engine struct {
	params Params
}

// NewEngine creates an indicator engine, filling zero params with defaults.
func NewEngine(params Params) *Engine {
	def := DefaultParams()
	if params.EMAFast == 0 {
		params.EMAFast = def.EMAFast
	}
	if params.EMAMid == 0 {
		params.EMAMid = def.EMAMid
	}
	if params.EMASlow == 0 {
		params.EMASlow = def.EMASlow
	}
	if params.EMAVerySlow == 0 {
		params.EMAVerySlow = def.EMAVerySlow
	}
	if params.HTFFast == 0 {
		params.HTFFast = def.HTFFast
	}
	if params.HTFSlow == 0 {
		params.HTFSlow = def.HTFSlow
	}
	if params.RSIPeriod == 0 {
		params.RSIPeriod = def.RSIPeriod
	}
	if params.ADXPeriod == 0 {
		params.ADXPeriod = def.ADXPeriod
	}
	if params.BBPeriod == 0 {
		params.BBPeriod = def.BBPeriod
	}
	if params.BBStdDev == 0 {
		params.BBStdDev = def.BBStdDev
	}
	if params.BBWidthWindow == 0 {
		params.BBWidthWindow = def.BBWidthWindow
	}
	if params.SqueezePctile == 0 {
		params.SqueezePctile = def.SqueezePctile
	}
	if params.VolumePeriod == 0 {
		params.VolumePeriod = def.VolumePeriod
	}
	if params.PullbackDistPct == 0 {
		params.PullbackDistPct = def.PullbackDistPct
	}
	return &Engine{params: params}
}

// Compute derives one Row per candle. Candles must be ordered by time
// ascending. The latest row is NaN-free once MinCandles are supplied.
func (e *Engine) Compute(candles []*domain.Candle) []Row {
	n := len(candles)
	rows := make([]Row, n)
	if n == 0 {
		return rows
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	emaFast := EMA(closes, e.params.EMAFast)
	emaMid := EMA(closes, e.params.EMAMid)
	emaSlow := EMA(closes, e.params.EMASlow)
	emaVerySlow := EMA(closes, e.params.EMAVerySlow)
	htfFast := EMA(closes, e.params.HTFFast)
	htfSlow := EMA(closes, e.params.HTFSlow)
	rsi := RSI(closes, e.params.RSIPeriod)
	adx := ADX(highs, lows, closes, e.params.ADXPeriod)
	bb := Bollinger(closes, e.params.BBPeriod, e.params.BBStdDev, e.params.BBWidthWindow, e.params.SqueezePctile)
	volSMA := SMA(volumes, e.params.VolumePeriod)

	for i := range rows {
		c := candles[i]
		r := Row{
			Time:  c.OpenTime,
			Open:  c.Open,
			High:  c.High,
			Low:   c.Low,
			Close: c.Close,

			EMAFast:     emaFast[i],
			EMAMid:      emaMid[i],
			EMASlow:     emaSlow[i],
			EMAVerySlow: emaVerySlow[i],
			HTFFast:     htfFast[i],
			HTFSlow:     htfSlow[i],

			RSI:     rsi[i],
			ADX:     adx.ADX[i],
			PlusDI:  adx.PlusDI[i],
			MinusDI: adx.MinusDI[i],

			BandUpper:   bb.Upper[i],
			BandMid:     bb.Mid[i],
			BandLower:   bb.Lower[i],
			BandPct:     bb.PctB[i],
			BandWidth:   bb.Width[i],
			WidthPctile: bb.Pctile[i],
			Squeeze:     bb.Squeeze[i],

			VolumeRatio: 1.0,

			Bullish: c.IsBullish(),
			Bearish: c.IsBearish(),
		}

		if i >= e.params.VolumePeriod && volSMA[i] > 0 {
			r.VolumeRatio = volumes[i] / volSMA[i]
		}

		if i > 0 {
			r.EMACrossUp = emaMid[i] > emaSlow[i] && emaMid[i-1] <= emaSlow[i-1]
			r.EMACrossDown = emaMid[i] < emaSlow[i] && emaMid[i-1] >= emaSlow[i-1]
			r.SqueezeRelease = bb.Squeeze[i-1] && !bb.Squeeze[i]
		}
		if i > 1 {
			r.RSIReversalUp = reversalUp(rsi[i-2], rsi[i-1], rsi[i])
			r.RSIReversalDown = reversalDown(rsi[i-2], rsi[i-1], rsi[i])
		}
		if emaMid[i] > 0 {
			dist := math.Abs(c.Close-emaMid[i]) / emaMid[i] * 100.0
			r.Pullback = dist < e.params.PullbackDistPct
		}

		rows[i] = r
	}
	return rows
}

// A pivot needs a strict turn: a flat reading on the prior bar does not count.
func reversalUp(prev2, prev1, cur float64) bool {
	return cur > prev1 && prev1 < prev2
}

func reversalDown(prev2, prev1, cur float64) bool {
	return cur < prev1 && prev1 > prev2
}

// Snapshot converts a row into the persisted indicator snapshot form.
func Snapshot(r Row) domain.IndicatorSnapshot {
	return domain.IndicatorSnapshot{
		EMAFast:     r.EMAFast,
		EMAMid:      r.EMAMid,
		EMASlow:     r.EMASlow,
		EMAVerySlow: r.EMAVerySlow,
		RSI:         r.RSI,
		ADX:         r.ADX,
		PlusDI:      r.PlusDI,
		MinusDI:     r.MinusDI,
		BandUpper:   r.BandUpper,
		BandMid:     r.BandMid,
		BandLower:   r.BandLower,
		BandPct:     r.BandPct,
		BandWidth:   r.BandWidth,
		VolumeRatio: r.VolumeRatio,
	}
}
