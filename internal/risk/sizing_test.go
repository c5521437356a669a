package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"quadbot/internal/ports"
)

func testSizer() *Sizer {
	return NewSizer(SizingConfig{
		PositionSizePct:         5.0,
		HighConfidenceSizePct:   8.0,
		HighConfidenceThreshold: 3,
		MaxPositionSizePct:      10.0,
		Leverage:                5,
	})
}

func testInstrument() ports.InstrumentInfo {
	return ports.InstrumentInfo{Symbol: "XRPUSDT", QtyStep: 0.1, MinQty: 0.1, TickSize: 0.0001}
}

func TestSizeBaseAndHighConfidence(t *testing.T) {
	s := testSizer()
	instr := testInstrument()

	// Base: 5% of 10000 = 500 margin, x5 leverage / 0.5 = 5000 units.
	res := s.Size(10000, 10000, 0.5, 2, instr)
	assert.InDelta(t, 5000.0, res.Quantity, 1e-9)
	assert.InDelta(t, 500.0, res.Margin, 1e-9)

	// High confidence escalates to 8%.
	res = s.Size(10000, 10000, 0.5, 3, instr)
	assert.InDelta(t, 8000.0, res.Quantity, 1e-9)
}

func TestSizeHardCap(t *testing.T) {
	s := NewSizer(SizingConfig{
		PositionSizePct:         5.0,
		HighConfidenceSizePct:   15.0, // Misconfigured above the cap
		HighConfidenceThreshold: 3,
		MaxPositionSizePct:      10.0,
		Leverage:                5,
	})
	res := s.Size(10000, 10000, 0.5, 4, testInstrument())
	// Margin never exceeds equity x cap.
	assert.LessOrEqual(t, res.Margin, 10000*10.0/100.0+1e-9)
}

func TestSizeAvailableBalanceCap(t *testing.T) {
	s := testSizer()
	// Equity says 500 margin, but only 100 is available.
	res := s.Size(10000, 100, 0.5, 2, testInstrument())
	assert.LessOrEqual(t, res.Margin, 100*0.95+1e-9)
	assert.Greater(t, res.Quantity, 0.0)
}

func TestSizeBelowMinimumReportsZero(t *testing.T) {
	s := testSizer()
	instr := ports.InstrumentInfo{Symbol: "BTCUSDT", QtyStep: 0.001, MinQty: 0.001, TickSize: 0.1}

	// Tiny equity cannot reach the minimum quantity at a high mark price.
	res := s.Size(1, 1, 100000, 2, instr)
	assert.Equal(t, 0.0, res.Quantity)
	assert.Contains(t, res.Reason, "below minimum")
}

func TestSizeQuantityFlooredToStep(t *testing.T) {
	s := testSizer()
	instr := ports.InstrumentInfo{Symbol: "XRPUSDT", QtyStep: 1.0, MinQty: 1.0}
	res := s.Size(1000, 1000, 0.513, 2, instr)
	// 50 x 5 / 0.513 = 487.32..., floored to the whole-unit step.
	assert.InDelta(t, 487.0, res.Quantity, 1e-9)
}

func TestSizeZeroInputs(t *testing.T) {
	s := testSizer()
	res := s.Size(0, 0, 0.5, 2, testInstrument())
	assert.Equal(t, 0.0, res.Quantity)
	res = s.Size(1000, 1000, 0, 2, testInstrument())
	assert.Equal(t, 0.0, res.Quantity)
}
