package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quadbot/internal/domain"
	"quadbot/internal/indicators"
	"quadbot/internal/signal"
)

func testBacktestConfig() Config {
	return Config{
		Symbol:                  "XRPUSDT",
		InitialEquity:           10000,
		Leverage:                1,
		PositionSizePct:         5.0,
		HighConfidenceSizePct:   8.0,
		HighConfidenceThreshold: 3,
		MinEntryConfidence:      2,
		StopLossPct:             2.0,
		TakeProfitPct:           4.0,
		EnableTrailing:          true,
		TrailingActivatePct:     3.5,
		TrailingCallbackPct:     2.0,
		TimeExitHours:           48,
		TakerFeeRate:            0.00055,
	}
}

func syntheticCandles(n int, priceAt func(i int) float64) []*domain.Candle {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]*domain.Candle, n)
	for i := 0; i < n; i++ {
		open := priceAt(i)
		cls := priceAt(i + 1)
		hi, lo := open, cls
		if cls > hi {
			hi = cls
		}
		if open < lo {
			lo = open
		}
		candles[i] = &domain.Candle{
			OpenTime:  start.Add(time.Duration(i) * time.Hour),
			CloseTime: start.Add(time.Duration(i+1) * time.Hour),
			Symbol:    "XRPUSDT",
			Interval:  "1h",
			Open:      open,
			High:      hi * 1.0005,
			Low:       lo * 0.9995,
			Close:     cls,
			Volume:    1000,
			IsFinal:   true,
		}
	}
	return candles
}

// fixedStrategy opens a long on one specific index and stays neutral
// otherwise, letting exit handling be tested in isolation.
type fixedStrategy struct {
	entryIndex int
}

func (s *fixedStrategy) Evaluate(rows []indicators.Row) signal.CombinedSignal {
	if len(rows) == s.entryIndex {
		return signal.CombinedSignal{Combined: domain.Long, BuyCount: 2, Confidence: 2}
	}
	return signal.CombinedSignal{}
}

func TestRunRejectsShortHistory(t *testing.T) {
	engine := New(testBacktestConfig(), &fixedStrategy{}, indicators.Params{})
	candles := syntheticCandles(indicators.MinCandles, func(i int) float64 { return 100 })
	_, err := engine.Run(context.Background(), candles)
	assert.Error(t, err)
}

func TestStopLossExitAtStopPrice(t *testing.T) {
	// Flat until entry, then a steady decline through the stop.
	entryIdx := indicators.MinCandles
	candles := syntheticCandles(entryIdx+40, func(i int) float64 {
		if i <= entryIdx {
			return 100
		}
		return 100 - float64(i-entryIdx)*0.2
	})
	engine := New(testBacktestConfig(), &fixedStrategy{entryIndex: entryIdx}, indicators.Params{})

	result, err := engine.Run(context.Background(), candles)
	require.NoError(t, err)
	require.NotEmpty(t, result.Trades)

	trade := result.Trades[0]
	assert.Equal(t, domain.ExitStopLoss, trade.ExitReason)
	// Fill at the stop level, not the candle close beyond it.
	assert.InDelta(t, trade.EntryPrice*0.98, trade.ExitPrice, 1e-9)
	assert.Less(t, trade.NetPnLUSD, 0.0)
	// The stop fill itself is the worst excursion on this path.
	assert.InDelta(t, -2.0, trade.MAEPct, 1e-9)
}

func TestTakeProfitExitAndFees(t *testing.T) {
	entryIdx := indicators.MinCandles
	candles := syntheticCandles(entryIdx+40, func(i int) float64 {
		if i <= entryIdx {
			return 100
		}
		return 100 + float64(i-entryIdx)*0.5
	})
	cfg := testBacktestConfig()
	cfg.EnableTrailing = false
	engine := New(cfg, &fixedStrategy{entryIndex: entryIdx}, indicators.Params{})

	result, err := engine.Run(context.Background(), candles)
	require.NoError(t, err)
	require.NotEmpty(t, result.Trades)

	trade := result.Trades[0]
	assert.Equal(t, domain.ExitTakeProfit, trade.ExitReason)
	assert.InDelta(t, 4.0, trade.PnLPct, 1e-9)
	assert.Less(t, trade.NetPnLPct, trade.PnLPct, "fees must reduce the net result")
	assert.Greater(t, result.FinalEquity, cfg.InitialEquity)
}

func TestEquityCurveMatchesTrades(t *testing.T) {
	entryIdx := indicators.MinCandles
	candles := syntheticCandles(entryIdx+60, func(i int) float64 {
		if i <= entryIdx {
			return 100
		}
		return 100 - float64(i-entryIdx)*0.3
	})
	engine := New(testBacktestConfig(), &fixedStrategy{entryIndex: entryIdx}, indicators.Params{})

	result, err := engine.Run(context.Background(), candles)
	require.NoError(t, err)

	var net float64
	for _, trade := range result.Trades {
		net += trade.NetPnLUSD
	}
	assert.InDelta(t, testBacktestConfig().InitialEquity+net, result.FinalEquity, 1e-6)
	assert.Len(t, result.Equity, len(result.Trades)+1)
}

func TestAnalyzeReport(t *testing.T) {
	trades := []*domain.TradeRecord{
		{NetPnLUSD: 100, RMultiple: 2.0, MFEPct: 4.5, MAEPct: -0.5, ExitReason: domain.ExitTakeProfit},
		{NetPnLUSD: -50, RMultiple: -1.0, MFEPct: 0.5, MAEPct: -2.1, ExitReason: domain.ExitStopLoss},
		{NetPnLUSD: 80, RMultiple: 1.6, MFEPct: 3.8, MAEPct: -0.9, ExitReason: domain.ExitTrailingStop},
	}
	report := Analyze(trades, 10000)

	assert.Equal(t, 3, report.TotalTrades)
	assert.Equal(t, 2, report.WinningTrades)
	assert.InDelta(t, 66.666, report.WinRate, 0.01)
	assert.InDelta(t, 130.0, report.NetProfitUSD, 1e-9)
	assert.InDelta(t, 180.0/50.0, report.ProfitFactor, 1e-9)
	assert.InDelta(t, 130.0/3.0, report.ExpectancyUSD, 1e-9)
	assert.InDelta(t, 1.3, report.ReturnOnInvestment, 1e-9)
	assert.Equal(t, 1, report.ExitBreakdown[domain.ExitStopLoss])
	assert.NotEmpty(t, report.String())
}

func TestAnalyzeEmpty(t *testing.T) {
	report := Analyze(nil, 10000)
	assert.Equal(t, 0, report.TotalTrades)
	assert.Equal(t, 0.0, report.WinRate)
}
