package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quadbot/internal/domain"
)

func testConfig() GuardConfig {
	return GuardConfig{
		MaxDailyLossPct:       3.0,
		MaxDailyTrades:        5,
		CooldownAfterSLStreak: 3,
		CooldownHours:         2,
		RecentSLLookbackHours: 3,
		MinVolumeRatio:        0.3,
		MaxSpreadMultiplier:   3.0,
		MaxTotalExposurePct:   30.0,
	}
}

// fakeClock is an adjustable clock for guard tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGuard() (*Guard, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	return NewGuard(testConfig(), clock.now), clock
}

func TestCanTradeDailyLossBoundary(t *testing.T) {
	g, clock := newTestGuard()

	g.RecordTrade(-2.99, domain.ExitSignalReverse)
	ok, _ := g.CanTrade()
	assert.True(t, ok)

	// Exactly at the limit blocks.
	g.RecordTrade(-0.01, domain.ExitSignalReverse)
	ok, reason := g.CanTrade()
	assert.False(t, ok)
	assert.Contains(t, reason, "daily loss")

	// Day boundary resets everything.
	clock.advance(24 * time.Hour)
	ok, _ = g.CanTrade()
	assert.True(t, ok)
	assert.Equal(t, 0.0, g.Status().DailyPnLPct)
}

func TestCanTradeDailyTradeLimit(t *testing.T) {
	g, _ := newTestGuard()
	for i := 0; i < 5; i++ {
		g.RecordTrade(0.5, domain.ExitTakeProfit)
	}
	ok, reason := g.CanTrade()
	assert.False(t, ok)
	assert.Contains(t, reason, "trade limit")
}

func TestCooldownAfterStopLossStreak(t *testing.T) {
	g, clock := newTestGuard()

	g.RecordTrade(-1.0, domain.ExitStopLoss)
	g.RecordTrade(-1.0, domain.ExitStopLoss)
	ok, _ := g.CanTrade()
	assert.True(t, ok, "streak below threshold must not trigger cooldown")

	g.RecordTrade(-0.5, domain.ExitStopLoss)
	ok, reason := g.CanTrade()
	assert.False(t, ok)
	assert.Contains(t, reason, "cooldown")

	// Cooldown expiry clears the block and resets the streak.
	clock.advance(2*time.Hour + time.Minute)
	ok, _ = g.CanTrade()
	assert.True(t, ok)
	assert.Equal(t, 0, g.Status().SLStreak)
}

func TestNonStopLossExitResetsStreak(t *testing.T) {
	g, _ := newTestGuard()

	g.RecordTrade(-1.0, domain.ExitStopLoss)
	g.RecordTrade(-1.0, domain.ExitStopLoss)
	g.RecordTrade(1.0, domain.ExitTakeProfit)
	g.RecordTrade(-1.0, domain.ExitStopLoss)

	ok, _ := g.CanTrade()
	assert.True(t, ok, "streak must restart after a non stop-loss exit")
	assert.Equal(t, 1, g.Status().SLStreak)
}

func TestServerStopLossCountsTowardStreak(t *testing.T) {
	g, _ := newTestGuard()
	g.RecordTrade(-1.0, domain.ExitServerStopLoss)
	assert.Equal(t, 1, g.Status().SLStreak)
}

func TestCheckEntryFilters(t *testing.T) {
	g, clock := newTestGuard()

	ok, reasons := g.CheckEntryFilters(1.0, false)
	assert.True(t, ok)
	assert.Empty(t, reasons)

	// Recent stop loss blocks until the lookback window passes.
	g.RecordTrade(-1.0, domain.ExitStopLoss)
	ok, reasons = g.CheckEntryFilters(1.0, false)
	assert.False(t, ok)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "stop loss")

	clock.advance(3*time.Hour + time.Minute)
	ok, _ = g.CheckEntryFilters(1.0, false)
	assert.True(t, ok)

	// Low volume and an open position are reported independently.
	ok, reasons = g.CheckEntryFilters(0.2, true)
	assert.False(t, ok)
	assert.Len(t, reasons, 2)
}

func TestCheckSpreadFilter(t *testing.T) {
	g, _ := newTestGuard()

	ok, _ := g.CheckSpreadFilter(0.004, 0.001)
	assert.False(t, ok)

	ok, _ = g.CheckSpreadFilter(0.002, 0.001)
	assert.True(t, ok)

	// No average yet: filter passes.
	ok, _ = g.CheckSpreadFilter(0.01, 0)
	assert.True(t, ok)
}

func TestCheckTotalExposure(t *testing.T) {
	g, _ := newTestGuard()

	ok, _ := g.CheckTotalExposure(299, 1000)
	assert.True(t, ok)

	ok, reason := g.CheckTotalExposure(300, 1000)
	assert.False(t, ok)
	assert.Contains(t, reason, "exposure")

	ok, _ = g.CheckTotalExposure(100, 0)
	assert.False(t, ok)
}

func TestDailyResetClearsCooldown(t *testing.T) {
	g, clock := newTestGuard()

	for i := 0; i < 3; i++ {
		g.RecordTrade(-1.0, domain.ExitStopLoss)
	}
	ok, _ := g.CanTrade()
	assert.False(t, ok)

	clock.advance(24 * time.Hour)
	ok, _ = g.CanTrade()
	assert.True(t, ok)
	st := g.Status()
	assert.Nil(t, st.CooldownUntil)
	assert.Equal(t, 0, st.DailyTradeCount)
}
