package domain

import "time"

// TradeRecord is the immutable snapshot written once a position closes.
type TradeRecord struct {
	ID         int64     // Assigned by the journal
	TradeID    string    // ULID carried from the position
	Symbol     string    // Trading symbol
	Side       OrderSide // Entry side
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	Leverage   int
	EntryTime  time.Time
	ExitTime   time.Time

	PnLUSD     float64 // Gross P&L in quote currency
	PnLPct     float64 // Gross P&L percent of entry value
	FeeUSD     float64 // Round-trip fees in quote currency
	NetPnLUSD  float64 // PnLUSD - FeeUSD
	NetPnLPct  float64 // PnLPct net of fees, relative to margin leverage
	ExitReason ExitReason

	// Post-hoc strategy analysis fields.
	MFEPct    float64 // Max favorable excursion, percent
	MAEPct    float64 // Max adverse excursion, percent
	RMultiple float64 // Realized P&L over initial risk (stop-loss pct)

	SignalAtEntry     SignalSnapshot
	IndicatorsAtEntry IndicatorSnapshot
}

// HoldingDuration returns how long the position was held.
func (t *TradeRecord) HoldingDuration() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}
