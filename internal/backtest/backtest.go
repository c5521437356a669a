// Package backtest replays historical candles through the same signal and
// exit logic used live. There is one driver; strategies plug in through the
// Strategy interface.
package backtest

import (
	"context"
	"fmt"
	"time"

	"quadbot/internal/domain"
	"quadbot/internal/indicators"
	"quadbot/internal/signal"
	"quadbot/internal/utils"
)

// Strategy is the decision function evaluated on each closed candle. The
// live signal engine satisfies it, so decision logic lives in one place.
type Strategy interface {
	Evaluate(rows []indicators.Row) signal.CombinedSignal
}

// Config holds the backtest parameters. Exit thresholds mirror the live
// lifecycle configuration.
type Config struct {
	Symbol        string
	InitialEquity float64
	Leverage      int

	PositionSizePct         float64
	HighConfidenceSizePct   float64
	HighConfidenceThreshold int
	MinEntryConfidence      int

	StopLossPct         float64
	TakeProfitPct       float64
	EnableTrailing      bool
	TrailingActivatePct float64
	TrailingCallbackPct float64
	TimeExitHours       int

	TakerFeeRate float64
}

// Result holds the replayed trades and their equity curve.
type Result struct {
	Trades      []*domain.TradeRecord
	Equity      []float64 // Equity after each closed trade, starting point included
	FinalEquity float64
	Report      *Report
}

// Engine runs a strategy over a candle history.
type Engine struct {
	cfg       Config
	strategy  Strategy
	indengine *indicators.Engine
}

// New creates a backtest engine.
func New(cfg Config, strategy Strategy, params indicators.Params) *Engine {
	return &Engine{
		cfg:       cfg,
		strategy:  strategy,
		indengine: indicators.NewEngine(params),
	}
}

// simPosition is the in-replay position state. It mirrors the live position
// fields that matter for exit evaluation.
type simPosition struct {
	side            domain.OrderSide
	entryPrice      float64
	quantity        float64
	entryTime       time.Time
	trailingActive  bool
	trailingExtreme float64
	runningHigh     float64
	runningLow      float64
	signalAtEntry   domain.SignalSnapshot
}

// Run replays the candle history. Decisions use only candles closed before
// the acted-on candle; fills occur at that candle's open.
func (e *Engine) Run(ctx context.Context, candles []*domain.Candle) (*Result, error) {
	if len(candles) <= indicators.MinCandles {
		return nil, fmt.Errorf("not enough candles for a backtest: have %d, need more than %d",
			len(candles), indicators.MinCandles)
	}

	rows := e.indengine.Compute(candles)
	equity := e.cfg.InitialEquity
	result := &Result{Equity: []float64{equity}}
	var pos *simPosition

	for i := indicators.MinCandles; i < len(candles); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		candle := candles[i]
		sig := e.strategy.Evaluate(rows[:i])

		if pos != nil {
			if exitPrice, reason, closed := e.evaluateExits(pos, candle, sig.Combined); closed {
				record := e.closeTrade(pos, exitPrice, candle.CloseTime, reason)
				equity += record.NetPnLUSD
				result.Trades = append(result.Trades, record)
				result.Equity = append(result.Equity, equity)
				pos = nil
			}
		}

		if pos == nil && sig.Combined != domain.Neutral && sig.Confidence >= e.cfg.MinEntryConfidence {
			pos = e.openTrade(sig, candle, equity)
		}
	}

	// Force-close anything still open at the end of the history.
	if pos != nil {
		last := candles[len(candles)-1]
		record := e.closeTrade(pos, last.Close, last.CloseTime, domain.ExitManual)
		equity += record.NetPnLUSD
		result.Trades = append(result.Trades, record)
		result.Equity = append(result.Equity, equity)
	}

	result.FinalEquity = equity
	result.Report = Analyze(result.Trades, e.cfg.InitialEquity)
	return result, nil
}

// openTrade sizes and opens a simulated position at the candle open.
func (e *Engine) openTrade(sig signal.CombinedSignal, candle *domain.Candle, equity float64) *simPosition {
	sizePct := e.cfg.PositionSizePct
	if sig.Confidence >= e.cfg.HighConfidenceThreshold {
		sizePct = e.cfg.HighConfidenceSizePct
	}
	margin := equity * sizePct / 100.0
	entry := candle.Open
	qty := margin * float64(e.cfg.Leverage) / entry
	if qty <= 0 {
		return nil
	}

	return &simPosition{
		side:          sig.Combined.Side(),
		entryPrice:    entry,
		quantity:      qty,
		entryTime:     candle.OpenTime,
		runningHigh:   entry,
		runningLow:    entry,
		signalAtEntry: sig.Snapshot(),
	}
}

// evaluateExits applies the live trigger priority to one candle, using its
// extremes for intrabar stop/target touches. The conservative fill rule when
// both band edges are inside the candle is to take the stop first.
func (e *Engine) evaluateExits(pos *simPosition, candle *domain.Candle, combined domain.Direction) (float64, domain.ExitReason, bool) {
	stop := exitLevel(pos, -e.cfg.StopLossPct)
	target := exitLevel(pos, e.cfg.TakeProfitPct)

	touchedStop := candle.Low <= stop
	touchedTarget := candle.High >= target
	if pos.side == domain.Sell {
		touchedStop = candle.High >= stop
		touchedTarget = candle.Low <= target
	}
	if touchedStop {
		return stop, domain.ExitStopLoss, true
	}
	if touchedTarget {
		return target, domain.ExitTakeProfit, true
	}

	pos.runningHigh = max(pos.runningHigh, candle.High)
	pos.runningLow = min(pos.runningLow, candle.Low)

	if e.cfg.EnableTrailing {
		if price, fired := e.evaluateTrailing(pos, candle); fired {
			return price, domain.ExitTrailingStop, true
		}
	}

	if combined != domain.Neutral && combined.Side() == pos.side.Opposite() {
		return candle.Close, domain.ExitSignalReverse, true
	}

	age := candle.CloseTime.Sub(pos.entryTime)
	if age >= time.Duration(e.cfg.TimeExitHours)*time.Hour && unrealizedPct(pos, candle.Close) < 0 {
		return candle.Close, domain.ExitTimeLimit, true
	}
	return 0, "", false
}

func (e *Engine) evaluateTrailing(pos *simPosition, candle *domain.Candle) (float64, bool) {
	best := candle.High
	worst := candle.Low
	if pos.side == domain.Sell {
		best, worst = candle.Low, candle.High
	}

	if !pos.trailingActive && unrealizedPct(pos, best) >= e.cfg.TrailingActivatePct {
		pos.trailingActive = true
		pos.trailingExtreme = best
	}
	if !pos.trailingActive {
		return 0, false
	}

	if pos.side == domain.Buy {
		if best > pos.trailingExtreme {
			pos.trailingExtreme = best
		}
		trigger := pos.trailingExtreme * (1.0 - e.cfg.TrailingCallbackPct/100.0)
		if worst <= trigger {
			return trigger, true
		}
		return 0, false
	}
	if best < pos.trailingExtreme {
		pos.trailingExtreme = best
	}
	trigger := pos.trailingExtreme * (1.0 + e.cfg.TrailingCallbackPct/100.0)
	if worst >= trigger {
		return trigger, true
	}
	return 0, false
}

// closeTrade builds the trade record with the same fee and excursion math
// used live.
func (e *Engine) closeTrade(pos *simPosition, exitPrice float64, exitTime time.Time, reason domain.ExitReason) *domain.TradeRecord {
	// Stop and target exits fire before the candle's extremes are folded in,
	// so the fill itself still has to extend the excursion range.
	pos.runningHigh = max(pos.runningHigh, exitPrice)
	pos.runningLow = min(pos.runningLow, exitPrice)

	entryValue := pos.entryPrice * pos.quantity
	exitValue := exitPrice * pos.quantity

	pnlUSD := (exitPrice - pos.entryPrice) * pos.quantity
	if pos.side == domain.Sell {
		pnlUSD = -pnlUSD
	}
	pnlPct := utils.PctChange(pos.entryPrice, exitPrice, pos.side)

	feeUSD := entryValue*e.cfg.TakerFeeRate + exitValue*e.cfg.TakerFeeRate
	margin := entryValue / float64(e.cfg.Leverage)
	netPnLPct := pnlPct - utils.SafeDiv(feeUSD, margin, 0)*100.0

	var mfe, mae float64
	if pos.side == domain.Buy {
		mfe = utils.PctChange(pos.entryPrice, pos.runningHigh, domain.Buy)
		mae = utils.PctChange(pos.entryPrice, pos.runningLow, domain.Buy)
	} else {
		mfe = utils.PctChange(pos.entryPrice, pos.runningLow, domain.Sell)
		mae = utils.PctChange(pos.entryPrice, pos.runningHigh, domain.Sell)
	}

	return &domain.TradeRecord{
		TradeID:       utils.NewTradeID(),
		Symbol:        e.cfg.Symbol,
		Side:          pos.side,
		EntryPrice:    pos.entryPrice,
		ExitPrice:     exitPrice,
		Quantity:      pos.quantity,
		Leverage:      e.cfg.Leverage,
		EntryTime:     pos.entryTime,
		ExitTime:      exitTime,
		PnLUSD:        pnlUSD,
		PnLPct:        pnlPct,
		FeeUSD:        feeUSD,
		NetPnLUSD:     pnlUSD - feeUSD,
		NetPnLPct:     netPnLPct,
		ExitReason:    reason,
		MFEPct:        mfe,
		MAEPct:        mae,
		RMultiple:     utils.SafeDiv(pnlPct, e.cfg.StopLossPct, 0),
		SignalAtEntry: pos.signalAtEntry,
	}
}

func exitLevel(pos *simPosition, pct float64) float64 {
	if pos.side == domain.Buy {
		return pos.entryPrice * (1.0 + pct/100.0)
	}
	return pos.entryPrice * (1.0 - pct/100.0)
}

func unrealizedPct(pos *simPosition, price float64) float64 {
	if pos.side == domain.Buy {
		return (price - pos.entryPrice) / pos.entryPrice * 100.0
	}
	return (pos.entryPrice - price) / pos.entryPrice * 100.0
}
