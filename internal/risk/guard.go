// Package risk holds the process-wide risk state and the entry gating rules
// shared by all traded symbols.
package risk

import (
	"fmt"
	"sync"
	"time"

	"quadbot/internal/domain"
)

// GuardConfig holds configuration for the risk guard. All percentages are in
// percent units (2.0 == 2%).
type GuardConfig struct {
	MaxDailyLossPct       float64
	MaxDailyTrades        int
	CooldownAfterSLStreak int
	CooldownHours         int
	RecentSLLookbackHours int
	MinVolumeRatio        float64
	MaxSpreadMultiplier   float64
	MaxTotalExposurePct   float64
}

// Status is a read-only snapshot of the guard's daily state.
type Status struct {
	DailyPnLPct     float64
	DailyTradeCount int
	SLStreak        int
	CooldownUntil   *time.Time
}

// Guard tracks daily P&L, trade count, consecutive stop-loss streak and
// cooldown. It is shared across symbols; all access goes through one mutex.
type Guard struct {
	mu  sync.Mutex
	cfg GuardConfig
	now func() time.Time

	currentDay      time.Time // UTC midnight of the tracked day
	dailyPnLPct     float64
	dailyTradeCount int
	slStreak        int
	cooldownUntil   *time.Time
	recentSLTimes   []time.Time
}

// NewGuard creates a risk guard. The clock parameter is injectable for
// tests; pass nil for the real clock.
func NewGuard(cfg GuardConfig, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	g := &Guard{cfg: cfg, now: now}
	g.currentDay = dayOf(g.now())
	return g
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// checkDailyReset zeroes the daily state on the first access after the UTC
// date rolls over. Callers must hold the mutex.
func (g *Guard) checkDailyReset() {
	day := dayOf(g.now())
	if day.Equal(g.currentDay) {
		return
	}
	g.currentDay = day
	g.dailyPnLPct = 0
	g.dailyTradeCount = 0
	g.slStreak = 0
	g.cooldownUntil = nil
	g.recentSLTimes = nil
}

// RecordTrade accumulates a closed trade into the daily state. Stop-loss
// exits extend the streak and may arm the cooldown; any other exit resets
// the streak.
func (g *Guard) RecordTrade(netPnLPct float64, exitReason domain.ExitReason) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkDailyReset()

	g.dailyPnLPct += netPnLPct
	g.dailyTradeCount++

	if exitReason.IsStopLoss() {
		g.slStreak++
		g.recentSLTimes = append(g.recentSLTimes, g.now())
		if g.slStreak >= g.cfg.CooldownAfterSLStreak {
			until := g.now().Add(time.Duration(g.cfg.CooldownHours) * time.Hour)
			g.cooldownUntil = &until
		}
	} else {
		g.slStreak = 0
	}
}

// CanTrade reports whether a new entry is allowed right now. The check order
// determines the reported reason: daily loss, then trade count, then
// cooldown. An expired cooldown is cleared here and resets the streak.
func (g *Guard) CanTrade() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkDailyReset()

	if g.dailyPnLPct <= -g.cfg.MaxDailyLossPct {
		return false, fmt.Sprintf("daily loss limit reached (%.2f%% <= -%.2f%%)", g.dailyPnLPct, g.cfg.MaxDailyLossPct)
	}
	if g.dailyTradeCount >= g.cfg.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade limit reached (%d)", g.dailyTradeCount)
	}
	if g.cooldownUntil != nil {
		if g.now().Before(*g.cooldownUntil) {
			return false, fmt.Sprintf("cooldown active until %s", g.cooldownUntil.UTC().Format(time.RFC3339))
		}
		g.cooldownUntil = nil
		g.slStreak = 0
	}
	return true, "OK"
}

// CheckEntryFilters runs the stateless pre-entry filters. All failing
// reasons are reported together.
func (g *Guard) CheckEntryFilters(latestVolumeRatio float64, hasPosition bool) (bool, []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkDailyReset()

	var reasons []string
	cutoff := g.now().Add(-time.Duration(g.cfg.RecentSLLookbackHours) * time.Hour)
	for _, ts := range g.recentSLTimes {
		if ts.After(cutoff) {
			reasons = append(reasons, fmt.Sprintf("stop loss within last %dh", g.cfg.RecentSLLookbackHours))
			break
		}
	}
	if latestVolumeRatio < g.cfg.MinVolumeRatio {
		reasons = append(reasons, fmt.Sprintf("volume ratio %.2f below minimum %.2f", latestVolumeRatio, g.cfg.MinVolumeRatio))
	}
	if hasPosition {
		reasons = append(reasons, "position already open")
	}
	return len(reasons) == 0, reasons
}

// CheckSpreadFilter rejects entries when the spread is anomalously wide
// compared to its trailing average.
func (g *Guard) CheckSpreadFilter(spread, avgSpread float64) (bool, string) {
	if avgSpread > 0 && spread > avgSpread*g.cfg.MaxSpreadMultiplier {
		return false, fmt.Sprintf("spread %.6f exceeds %.1fx average %.6f", spread, g.cfg.MaxSpreadMultiplier, avgSpread)
	}
	return true, "OK"
}

// CheckTotalExposure is the only cross-symbol check. It fails once aggregate
// margin reaches the configured share of equity.
func (g *Guard) CheckTotalExposure(totalMargin, equity float64) (bool, string) {
	if equity <= 0 {
		return false, "equity is zero"
	}
	if totalMargin/equity*100.0 >= g.cfg.MaxTotalExposurePct {
		return false, fmt.Sprintf("total exposure %.1f%% at or above cap %.1f%%", totalMargin/equity*100.0, g.cfg.MaxTotalExposurePct)
	}
	return true, "OK"
}

// Status returns a snapshot of the daily state for reporting.
func (g *Guard) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkDailyReset()

	s := Status{
		DailyPnLPct:     g.dailyPnLPct,
		DailyTradeCount: g.dailyTradeCount,
		SLStreak:        g.slStreak,
	}
	if g.cooldownUntil != nil {
		until := *g.cooldownUntil
		s.CooldownUntil = &until
	}
	return s
}
