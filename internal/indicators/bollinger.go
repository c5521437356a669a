package indicators

import "math"

// BollingerResult carries the band levels plus the normalized position and
// width series derived from them.
type BollingerResult struct {
	Upper   []float64
	Mid     []float64
	Lower   []float64
	PctB    []float64 // Price position within the band; 0.5 when undefined
	Width   []float64 // (upper-lower)/mid; 0 when undefined
	Squeeze []bool    // Width in the bottom percentile of the trailing window
	Pctile  []float64 // Width percentile rank over the trailing window
}

// Bollinger computes a moving-average volatility band with k standard
// deviations, plus the band-width percentile used for squeeze detection.
func Bollinger(closes []float64, period int, stdDev float64, widthWindow int, squeezePctile float64) BollingerResult {
	n := len(closes)
	res := BollingerResult{
		Upper:   make([]float64, n),
		Mid:     make([]float64, n),
		Lower:   make([]float64, n),
		PctB:    make([]float64, n),
		Width:   make([]float64, n),
		Squeeze: make([]bool, n),
		Pctile:  make([]float64, n),
	}
	for i := range res.PctB {
		res.PctB[i] = 0.5
		res.Pctile[i] = 50.0
	}
	if n == 0 || period <= 1 {
		return res
	}

	for i := period - 1; i < n; i++ {
		var sum float64
		for j := i - period + 1; j <= i; j++ {
			sum += closes[j]
		}
		mean := sum / float64(period)

		var sq float64
		for j := i - period + 1; j <= i; j++ {
			d := closes[j] - mean
			sq += d * d
		}
		// Sample standard deviation to match the usual rolling definition.
		sd := math.Sqrt(sq / float64(period-1))

		res.Mid[i] = mean
		res.Upper[i] = mean + stdDev*sd
		res.Lower[i] = mean - stdDev*sd

		if span := res.Upper[i] - res.Lower[i]; span > 0 {
			// Intentionally not clipped to [0,1]; extremes beyond the band
			// are informative for the band voter.
			res.PctB[i] = (closes[i] - res.Lower[i]) / span
		}
		if mean > 0 {
			res.Width[i] = (res.Upper[i] - res.Lower[i]) / mean
		}
	}

	// Width percentile rank over the trailing window flags compression.
	for i := period - 1; i < n; i++ {
		start := i - widthWindow + 1
		if start < period-1 {
			start = period - 1
		}
		count, total := 0, 0
		for j := start; j <= i; j++ {
			total++
			if res.Width[j] <= res.Width[i] {
				count++
			}
		}
		if total > 0 {
			res.Pctile[i] = float64(count) / float64(total) * 100.0
		}
		res.Squeeze[i] = total >= widthWindow/2 && res.Pctile[i] <= squeezePctile
	}
	return res
}
