package domain

import "time"

// Position is the live state of an open position, exclusively owned by the
// lifecycle manager of its symbol. The exchange remains the source of truth;
// reconciliation may overwrite or discard this state.
type Position struct {
	TradeID    string    // ULID assigned at entry
	Symbol     string    // Trading symbol (e.g., "XRPUSDT")
	Side       OrderSide // Entry side
	EntryPrice float64   // Quantity-weighted average entry price
	Quantity   float64   // Current size (grows on add-ons)
	Leverage   int       // Leverage used
	EntryTime  time.Time // Time of the initial entry
	AddOnCount int       // Pyramiding add-ons executed so far

	// Trailing stop sub-mode.
	TrailingActive  bool
	TrailingExtreme float64 // Best price since trailing activated

	// Price extremes observed while open, for MFE/MAE.
	RunningHigh float64
	RunningLow  float64

	// Snapshots taken at entry, persisted with the trade record.
	SignalAtEntry     SignalSnapshot
	IndicatorsAtEntry IndicatorSnapshot
}

// UnrealizedPnLPct returns the signed percent move from entry at the given
// price, positive when favorable for the held side.
func (p *Position) UnrealizedPnLPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	if p.Side == Buy {
		return (price - p.EntryPrice) / p.EntryPrice * 100
	}
	return (p.EntryPrice - price) / p.EntryPrice * 100
}

// UpdateExtremes folds an observed price into the running high/low trackers.
func (p *Position) UpdateExtremes(price float64) {
	if price <= 0 {
		return
	}
	if price > p.RunningHigh {
		p.RunningHigh = price
	}
	if price < p.RunningLow {
		p.RunningLow = price
	}
}

// SignalSnapshot is the combined signal captured when a position was opened.
type SignalSnapshot struct {
	Trend      int `json:"trend"`
	Oscillator int `json:"oscillator"`
	Band       int `json:"band"`
	MTF        int `json:"mtf"`
	Combined   int `json:"combined"`
	Confidence int `json:"confidence"`
}

// IndicatorSnapshot is the subset of indicator values journaled with entries
// and signal logs.
type IndicatorSnapshot struct {
	EMAFast     float64 `json:"ema_fast"`
	EMAMid      float64 `json:"ema_mid"`
	EMASlow     float64 `json:"ema_slow"`
	EMAVerySlow float64 `json:"ema_very_slow"`
	RSI         float64 `json:"rsi"`
	ADX         float64 `json:"adx"`
	PlusDI      float64 `json:"plus_di"`
	MinusDI     float64 `json:"minus_di"`
	BandUpper   float64 `json:"band_upper"`
	BandMid     float64 `json:"band_mid"`
	BandLower   float64 `json:"band_lower"`
	BandPct     float64 `json:"band_pct"`
	BandWidth   float64 `json:"band_width"`
	VolumeRatio float64 `json:"volume_ratio"`
}
