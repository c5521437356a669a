package risk

import (
	"fmt"

	"quadbot/internal/ports"
	"quadbot/internal/utils"
)

// availableSafetyFraction caps margin at a fraction of the available balance
// so fees and price movement between sizing and fill do not reject the order.
const availableSafetyFraction = 0.95

// SizingConfig holds position sizing parameters. Percentages are of equity.
type SizingConfig struct {
	PositionSizePct         float64
	HighConfidenceSizePct   float64
	HighConfidenceThreshold int
	MaxPositionSizePct      float64
	Leverage                int
}

// SizeResult is the outcome of a sizing computation. Quantity is zero when
// the entry must not occur; Reason says why.
type SizeResult struct {
	Quantity float64
	Margin   float64
	Reason   string
}

// Sizer computes order quantities from account equity and confidence.
type Sizer struct {
	cfg SizingConfig
}

// NewSizer creates a position sizer.
func NewSizer(cfg SizingConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// Size computes the order quantity for a new entry. The size percentage
// escalates at high confidence, is hard-capped at the maximum share of
// equity, and the margin never exceeds the safety fraction of the available
// balance. Quantities below the venue minimum report zero rather than
// rounding up.
func (s *Sizer) Size(equity, available, markPrice float64, confidence int, instr ports.InstrumentInfo) SizeResult {
	if equity <= 0 || markPrice <= 0 {
		return SizeResult{Reason: "equity or mark price is zero"}
	}

	sizePct := s.cfg.PositionSizePct
	if confidence >= s.cfg.HighConfidenceThreshold {
		sizePct = s.cfg.HighConfidenceSizePct
	}
	if sizePct > s.cfg.MaxPositionSizePct {
		sizePct = s.cfg.MaxPositionSizePct
	}

	margin := equity * sizePct / 100.0
	if available > 0 && margin > available*availableSafetyFraction {
		margin = available * availableSafetyFraction
	}

	qty := utils.RoundQty(margin*float64(s.cfg.Leverage)/markPrice, instr.QtyStep)
	if qty < instr.MinQty {
		return SizeResult{Reason: fmt.Sprintf("quantity %.8f below minimum %.8f", qty, instr.MinQty)}
	}
	return SizeResult{
		Quantity: qty,
		Margin:   qty * markPrice / float64(s.cfg.Leverage),
		Reason:   "OK",
	}
}
