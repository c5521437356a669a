package indicators

import "math"

// ADXResult carries the average directional index and its directional
// components, all zero until the smoothing windows have filled.
type ADXResult struct {
	ADX     []float64
	PlusDI  []float64
	MinusDI []float64
}

// ADX computes the average directional index with Wilder smoothing over
// true range and directional movement.
func ADX(highs, lows, closes []float64, period int) ADXResult {
	n := len(closes)
	res := ADXResult{
		ADX:     make([]float64, n),
		PlusDI:  make([]float64, n),
		MinusDI: make([]float64, n),
	}
	if n <= period*2 || period <= 0 {
		return res
	}

	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		tr[i] = math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	var smTR, smPlusDM, smMinusDM float64
	for i := 1; i <= period; i++ {
		smTR += tr[i]
		smPlusDM += plusDM[i]
		smMinusDM += minusDM[i]
	}

	dx := make([]float64, n)
	for i := period + 1; i < n; i++ {
		smTR = smTR - smTR/float64(period) + tr[i]
		smPlusDM = smPlusDM - smPlusDM/float64(period) + plusDM[i]
		smMinusDM = smMinusDM - smMinusDM/float64(period) + minusDM[i]

		if smTR > 0 {
			res.PlusDI[i] = 100.0 * smPlusDM / smTR
			res.MinusDI[i] = 100.0 * smMinusDM / smTR
		}
		diSum := res.PlusDI[i] + res.MinusDI[i]
		if diSum > 0 {
			dx[i] = 100.0 * math.Abs(res.PlusDI[i]-res.MinusDI[i]) / diSum
		}
	}

	// ADX is the Wilder-smoothed DX, seeded by the first full DX average.
	var dxSum float64
	for i := period + 1; i <= period*2; i++ {
		dxSum += dx[i]
	}
	res.ADX[period*2] = dxSum / float64(period)
	for i := period*2 + 1; i < n; i++ {
		res.ADX[i] = (res.ADX[i-1]*float64(period-1) + dx[i]) / float64(period)
	}
	return res
}
