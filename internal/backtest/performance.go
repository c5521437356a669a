package backtest

import (
	"fmt"
	"math"
	"strings"

	"quadbot/internal/domain"
)

// Report summarizes the realized performance of a trade sequence.
type Report struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64 // 0-100

	NetProfitUSD       float64
	GrossProfitUSD     float64
	GrossLossUSD       float64
	ProfitFactor       float64 // Gross profit over absolute gross loss
	AverageWinUSD      float64
	AverageLossUSD     float64
	ExpectancyUSD      float64 // Mean net result per trade
	MaxDrawdownPct     float64 // Peak-to-trough equity decline, 0-100
	ReturnOnInvestment float64 // Net profit over initial equity, 0-100

	AverageRMultiple float64
	AverageMFEPct    float64
	AverageMAEPct    float64

	ExitBreakdown map[domain.ExitReason]int
}

// Analyze computes performance metrics over closed trades.
func Analyze(trades []*domain.TradeRecord, initialEquity float64) *Report {
	r := &Report{ExitBreakdown: make(map[domain.ExitReason]int)}
	if len(trades) == 0 {
		return r
	}

	equity := initialEquity
	peak := initialEquity
	var sumR, sumMFE, sumMAE float64

	for _, t := range trades {
		r.TotalTrades++
		r.ExitBreakdown[t.ExitReason]++
		r.NetProfitUSD += t.NetPnLUSD
		sumR += t.RMultiple
		sumMFE += t.MFEPct
		sumMAE += t.MAEPct

		if t.NetPnLUSD > 0 {
			r.WinningTrades++
			r.GrossProfitUSD += t.NetPnLUSD
		} else {
			r.LosingTrades++
			r.GrossLossUSD += t.NetPnLUSD
		}

		equity += t.NetPnLUSD
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak * 100.0; dd > r.MaxDrawdownPct {
				r.MaxDrawdownPct = dd
			}
		}
	}

	r.WinRate = float64(r.WinningTrades) / float64(r.TotalTrades) * 100.0
	if r.WinningTrades > 0 {
		r.AverageWinUSD = r.GrossProfitUSD / float64(r.WinningTrades)
	}
	if r.LosingTrades > 0 {
		r.AverageLossUSD = r.GrossLossUSD / float64(r.LosingTrades)
	}
	if loss := math.Abs(r.GrossLossUSD); loss > 0 {
		r.ProfitFactor = r.GrossProfitUSD / loss
	}
	if initialEquity > 0 {
		r.ReturnOnInvestment = r.NetProfitUSD / initialEquity * 100.0
	}
	r.ExpectancyUSD = r.NetProfitUSD / float64(r.TotalTrades)
	r.AverageRMultiple = sumR / float64(r.TotalTrades)
	r.AverageMFEPct = sumMFE / float64(r.TotalTrades)
	r.AverageMAEPct = sumMAE / float64(r.TotalTrades)
	return r
}

// String renders the report as a readable multi-line summary.
func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "trades: %d (%d wins / %d losses, %.1f%% win rate)\n",
		r.TotalTrades, r.WinningTrades, r.LosingTrades, r.WinRate)
	fmt.Fprintf(&sb, "net profit: %.2f USD (ROI %.2f%%)\n", r.NetProfitUSD, r.ReturnOnInvestment)
	fmt.Fprintf(&sb, "profit factor: %.2f, max drawdown: %.2f%%\n", r.ProfitFactor, r.MaxDrawdownPct)
	fmt.Fprintf(&sb, "avg win: %.2f USD, avg loss: %.2f USD, expectancy: %.2f USD\n",
		r.AverageWinUSD, r.AverageLossUSD, r.ExpectancyUSD)
	fmt.Fprintf(&sb, "avg R: %.2f, avg MFE: %.2f%%, avg MAE: %.2f%%\n",
		r.AverageRMultiple, r.AverageMFEPct, r.AverageMAEPct)
	for reason, count := range r.ExitBreakdown {
		fmt.Fprintf(&sb, "  %s: %d\n", reason, count)
	}
	return sb.String()
}
