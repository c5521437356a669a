package signal

import (
	"fmt"

	"quadbot/internal/domain"
	"quadbot/internal/indicators"
)

// voteTrend votes with a fresh EMA crossover when trend strength is
// sufficient, or continues with an already-aligned mid/slow pair in a
// strong trend.
func (e *Engine) voteTrend(r indicators.Row) Vote {
	v := Vote{Name: VoterTrend}
	if r.ADX < e.th.ADXMin {
		v.Reason = fmt.Sprintf("adx %.1f below %.0f", r.ADX, e.th.ADXMin)
		return v
	}
	switch {
	case r.EMACrossUp:
		v.Value = domain.Long
		v.Reason = fmt.Sprintf("ema cross up, adx %.1f", r.ADX)
	case r.EMACrossDown:
		v.Value = domain.Short
		v.Reason = fmt.Sprintf("ema cross down, adx %.1f", r.ADX)
	case r.ADX > e.th.ADXStrong && r.EMAMid > r.EMASlow:
		v.Value = domain.Long
		v.Reason = fmt.Sprintf("aligned uptrend, adx %.1f", r.ADX)
	case r.ADX > e.th.ADXStrong && r.EMAMid < r.EMASlow:
		v.Value = domain.Short
		v.Reason = fmt.Sprintf("aligned downtrend, adx %.1f", r.ADX)
	default:
		v.Reason = "no cross, trend not strong enough to continue"
	}
	return v
}

// voteOscillator votes only on a local reversal from an extreme. The neutral
// band always abstains, reversal flags or not.
func (e *Engine) voteOscillator(r indicators.Row) Vote {
	v := Vote{Name: VoterOscillator}
	if r.RSI >= e.th.RSINeutralLo && r.RSI <= e.th.RSINeutralHi {
		v.Reason = fmt.Sprintf("rsi %.1f in neutral band", r.RSI)
		return v
	}
	switch {
	case r.RSIReversalUp && r.RSI < e.th.RSIOversold:
		v.Value = domain.Long
		v.Reason = fmt.Sprintf("rsi reversal up at %.1f", r.RSI)
	case r.RSIReversalDown && r.RSI > e.th.RSIOverbought:
		v.Value = domain.Short
		v.Reason = fmt.Sprintf("rsi reversal down at %.1f", r.RSI)
	default:
		v.Reason = fmt.Sprintf("rsi %.1f, no qualifying reversal", r.RSI)
	}
	return v
}

// voteBand votes on a squeeze release by the side of the band midline, and
// otherwise on a band-extreme touch backed by above-average volume.
func (e *Engine) voteBand(r indicators.Row) Vote {
	v := Vote{Name: VoterBand}
	if r.SqueezeRelease {
		switch {
		case r.Close > r.BandMid:
			v.Value = domain.Long
			v.Reason = "squeeze release above midline"
		case r.Close < r.BandMid:
			v.Value = domain.Short
			v.Reason = "squeeze release below midline"
		default:
			v.Reason = "squeeze release at midline"
		}
		return v
	}
	switch {
	case r.BandPct < e.th.BandLowPct && r.VolumeRatio > e.th.BandMinVolume:
		v.Value = domain.Long
		v.Reason = fmt.Sprintf("lower band touch, %%b %.2f, vol %.2fx", r.BandPct, r.VolumeRatio)
	case r.BandPct > e.th.BandHighPct && r.VolumeRatio > e.th.BandMinVolume:
		v.Value = domain.Short
		v.Reason = fmt.Sprintf("upper band touch, %%b %.2f, vol %.2fx", r.BandPct, r.VolumeRatio)
	default:
		v.Reason = fmt.Sprintf("%%b %.2f, no extreme with volume", r.BandPct)
	}
	return v
}

// voteMTF votes when the higher-timeframe trend, a pullback to the moving
// average, the candle body, and the oscillator all line up.
func (e *Engine) voteMTF(r indicators.Row) Vote {
	v := Vote{Name: VoterMTF}
	switch {
	case r.HTFFast > r.HTFSlow && r.Pullback && r.Bullish && r.RSI < e.th.MTFRSILongMax:
		v.Value = domain.Long
		v.Reason = "htf uptrend pullback with bullish candle"
	case r.HTFFast < r.HTFSlow && r.Pullback && r.Bearish && r.RSI > e.th.MTFRSIShortMin:
		v.Value = domain.Short
		v.Reason = "htf downtrend pullback with bearish candle"
	case r.HTFFast > r.HTFSlow:
		v.Reason = "htf uptrend, no confirmed pullback"
	case r.HTFFast < r.HTFSlow:
		v.Reason = "htf downtrend, no confirmed pullback"
	default:
		v.Reason = "no htf trend"
	}
	return v
}
