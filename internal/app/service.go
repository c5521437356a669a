// Package app wires the indicator, signal, risk and position components into
// the live trading loop.
package app

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"quadbot/config"
	"quadbot/internal/domain"
	"quadbot/internal/indicators"
	"quadbot/internal/ports"
	"quadbot/internal/position"
	"quadbot/internal/risk"
	"quadbot/internal/signal"
	"quadbot/internal/utils"
)

const spreadWindowSize = 50

// spreadTracker keeps a trailing window of observed bid/ask spreads per
// symbol for the spread-anomaly filter.
type spreadTracker struct {
	window []float64
}

func (t *spreadTracker) observe(spread float64) {
	t.window = append(t.window, spread)
	if len(t.window) > spreadWindowSize {
		t.window = t.window[1:]
	}
}

func (t *spreadTracker) average() float64 {
	if len(t.window) == 0 {
		return 0
	}
	var sum float64
	for _, s := range t.window {
		sum += s
	}
	return sum / float64(len(t.window))
}

// Service drives the evaluation tick for every configured symbol and owns
// the shared risk guard.
type Service struct {
	cfg           *config.Config
	logger        ports.Logger
	exchange      ports.ExchangeClient
	tradeJournal  ports.TradeJournal
	signalJournal ports.SignalJournal
	notifier      ports.Notifier

	indicatorEngine *indicators.Engine
	signalEngine    *signal.Engine
	guard           *risk.Guard
	sizer           *risk.Sizer

	managers    map[string]*position.Manager
	instruments map[string]ports.InstrumentInfo
	spreads     map[string]*spreadTracker

	mu             sync.Mutex // Protects running state
	running        bool
	lastSummaryDay time.Time
}

// NewService creates the trading service with all its collaborators.
func NewService(
	cfg *config.Config,
	logger ports.Logger,
	exchange ports.ExchangeClient,
	tradeJournal ports.TradeJournal,
	signalJournal ports.SignalJournal,
	notifier ports.Notifier,
) (*Service, error) {
	if cfg == nil || logger == nil || exchange == nil || tradeJournal == nil || signalJournal == nil || notifier == nil {
		return nil, fmt.Errorf("missing required dependencies for Service")
	}

	guard := risk.NewGuard(risk.GuardConfig{
		MaxDailyLossPct:       cfg.MaxDailyLossPct,
		MaxDailyTrades:        cfg.MaxDailyTrades,
		CooldownAfterSLStreak: cfg.CooldownAfterSLStreak,
		CooldownHours:         cfg.CooldownHours,
		RecentSLLookbackHours: cfg.RecentSLLookbackHours,
		MinVolumeRatio:        cfg.MinVolumeRatio,
		MaxSpreadMultiplier:   cfg.MaxSpreadMultiplier,
		MaxTotalExposurePct:   cfg.MaxTotalExposurePct,
	}, nil)

	sizer := risk.NewSizer(risk.SizingConfig{
		PositionSizePct:         cfg.PositionSizePct,
		HighConfidenceSizePct:   cfg.HighConfidenceSizePct,
		HighConfidenceThreshold: cfg.HighConfidenceThreshold,
		MaxPositionSizePct:      cfg.MaxPositionSizePct,
		Leverage:                cfg.Leverage,
	})

	return &Service{
		cfg:             cfg,
		logger:          logger,
		exchange:        exchange,
		tradeJournal:    tradeJournal,
		signalJournal:   signalJournal,
		notifier:        notifier,
		indicatorEngine: indicators.NewEngine(indicators.Params{PullbackDistPct: cfg.PullbackDistPct}),
		signalEngine:    signal.NewEngine(signal.Thresholds{}),
		guard:           guard,
		sizer:           sizer,
		managers:        make(map[string]*position.Manager),
		instruments:     make(map[string]ports.InstrumentInfo),
		spreads:         make(map[string]*spreadTracker),
		lastSummaryDay:  utcDay(time.Now()),
	}, nil
}

// Start initializes per-symbol state and runs the polling loop until the
// context is cancelled or a shutdown signal arrives. The current tick always
// finishes before Start returns.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("service already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info(ctx, "Starting trading service...", map[string]interface{}{
		"symbols": s.cfg.Symbols, "interval": s.cfg.Interval, "tick": s.cfg.TickInterval.String(),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer ossignal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	// 1. Verify connectivity and clock drift.
	serverTime, err := s.exchange.GetServerTime(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach exchange: %w", err)
	}
	s.logger.Info(ctx, "Exchange reachable", map[string]interface{}{
		"serverTime": serverTime.UTC().Format(time.RFC3339), "drift": time.Since(serverTime).String(),
	})

	// 2. Per-symbol setup: precision rules, leverage, lifecycle manager.
	for _, symbol := range s.cfg.Symbols {
		instr, err := s.exchange.GetInstrumentInfo(ctx, symbol)
		if err != nil {
			return fmt.Errorf("failed to load instrument info for %s: %w", symbol, err)
		}
		s.instruments[symbol] = instr

		if err := s.exchange.SetLeverage(ctx, symbol, s.cfg.Leverage); err != nil {
			s.logger.Warn(ctx, "Failed to set leverage, continuing with exchange default", map[string]interface{}{
				"symbol": symbol, "leverage": s.cfg.Leverage, "error": err.Error(),
			})
		}

		s.managers[symbol] = position.NewManager(position.Config{
			Symbol:              symbol,
			Leverage:            s.cfg.Leverage,
			StopLossPct:         s.cfg.StopLossPct,
			TakeProfitPct:       s.cfg.TakeProfitPct,
			EnableTrailing:      s.cfg.EnableTrailingStop,
			TrailingActivatePct: s.cfg.TrailingActivatePct,
			TrailingCallbackPct: s.cfg.TrailingCallbackPct,
			TimeExitHours:       s.cfg.TimeExitHours,
			PyramidMaxAdds:      s.cfg.PyramidMaxAdds,
			PyramidMinProfitPct: s.cfg.PyramidMinProfitPct,
			TakerFeeRate:        s.cfg.TakerFeeRate,
		}, instr, s.exchange, s.tradeJournal, s.notifier, s.logger, nil)
		s.spreads[symbol] = &spreadTracker{}

		// 3. Adopt any position left over from a previous run.
		if _, err := s.managers[symbol].SyncWithExchange(ctx); err != nil {
			s.logger.Warn(ctx, "Initial position sync failed", map[string]interface{}{
				"symbol": symbol, "error": err.Error(),
			})
		}
	}

	s.notifier.Notify(ctx, fmt.Sprintf("bot started: %v @ %s", s.cfg.Symbols, s.cfg.Interval))

	// 4. Main polling loop. Ticks run sequentially per symbol; shutdown waits
	// for the tick in flight.
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(context.Background(), "Trading service stopped")
			s.notifier.Notify(context.Background(), "bot stopped")
			return nil
		case <-ticker.C:
			for _, symbol := range s.cfg.Symbols {
				s.tick(ctx, symbol)
			}
			s.maybeSendDailySummary(ctx)
		}
	}
}

// tick runs one full evaluation pass for a symbol. Failures are logged and
// the tick is skipped; no partial state is left behind.
func (s *Service) tick(ctx context.Context, symbol string) {
	op := "tick"
	mgr := s.managers[symbol]

	// Reconcile before acting on possibly stale local state.
	if record, err := mgr.SyncWithExchange(ctx); err != nil {
		s.logger.Warn(ctx, "Reconciliation failed, skipping tick", map[string]interface{}{
			"op": op, "symbol": symbol, "error": err.Error(),
		})
		return
	} else if record != nil {
		s.guard.RecordTrade(record.NetPnLPct, record.ExitReason)
	}

	candles, err := s.exchange.GetCandles(ctx, symbol, s.cfg.Interval, s.cfg.CandleLimit)
	if err != nil {
		s.logger.Warn(ctx, "Candle fetch failed, skipping tick", map[string]interface{}{
			"op": op, "symbol": symbol, "error": err.Error(),
		})
		return
	}
	// The newest kline is usually still forming; decisions use closed candles only.
	if n := len(candles); n > 0 && !candles[n-1].IsFinal {
		candles = candles[:n-1]
	}

	rows := s.indicatorEngine.Compute(candles)
	sig := s.signalEngine.Evaluate(rows)

	price, spread := s.observeTicker(ctx, symbol, rows)

	action := "HOLD"
	if mgr.HasPosition() {
		action = s.manageOpenPosition(ctx, symbol, mgr, price, sig)
	} else if sig.Combined != domain.Neutral && sig.Confidence >= s.cfg.MinEntryConfidence {
		action = s.tryEnter(ctx, symbol, mgr, price, spread, rows, sig)
	}

	s.journalSignal(ctx, symbol, rows, sig, action)
}

// observeTicker samples the order book for the spread filter and returns the
// current price, falling back to the latest close when the ticker fails.
func (s *Service) observeTicker(ctx context.Context, symbol string, rows []indicators.Row) (price, spread float64) {
	if len(rows) > 0 {
		price = rows[len(rows)-1].Close
	}
	ticker, err := s.exchange.GetTicker(ctx, symbol)
	if err != nil {
		s.logger.Debug(ctx, "Ticker fetch failed, using candle close", map[string]interface{}{
			"symbol": symbol, "error": err.Error(),
		})
		return price, 0
	}
	if ticker.LastPrice > 0 {
		price = ticker.LastPrice
	}
	if ticker.Ask > 0 && ticker.Bid > 0 && ticker.Ask >= ticker.Bid {
		spread = ticker.Ask - ticker.Bid
		s.spreads[symbol].observe(spread)
	}
	return price, spread
}

// manageOpenPosition evaluates exits and pyramiding for an open position
// and returns the action label for the signal journal.
func (s *Service) manageOpenPosition(ctx context.Context, symbol string, mgr *position.Manager, price float64, sig signal.CombinedSignal) string {
	op := "manageOpenPosition"

	if reason, exit := mgr.CheckExit(ctx, price, sig.Combined); exit {
		record, err := mgr.Close(ctx, reason)
		if err != nil {
			s.logger.Error(ctx, err, "Exit trigger fired but close failed", map[string]interface{}{
				"op": op, "symbol": symbol, "reason": reason,
			})
			return "HOLD"
		}
		s.guard.RecordTrade(record.NetPnLPct, record.ExitReason)
		return "CLOSE_" + string(reason)
	}

	// Pyramiding: add to a winner when the signal re-confirms the held side.
	pos := mgr.Position()
	if sig.Combined != domain.Neutral &&
		sig.Combined.Side() == pos.Side &&
		sig.Confidence >= s.cfg.MinEntryConfidence &&
		pos.AddOnCount < s.cfg.PyramidMaxAdds {

		balance, err := s.exchange.GetBalance(ctx)
		if err != nil {
			s.logger.Warn(ctx, "Balance fetch failed, skipping add-on", map[string]interface{}{
				"op": op, "symbol": symbol, "error": err.Error(),
			})
			return "HOLD"
		}
		base := s.sizer.Size(balance.Equity, balance.Available, price, sig.Confidence, s.instruments[symbol])
		addQty := utils.RoundQty(base.Quantity*s.cfg.PyramidAddSizeMult, s.instruments[symbol].QtyStep)
		if addQty < s.instruments[symbol].MinQty {
			return "HOLD"
		}
		if err := mgr.Add(ctx, addQty, price); err != nil {
			s.logger.Debug(ctx, "Add-on not executed", map[string]interface{}{
				"op": op, "symbol": symbol, "error": err.Error(),
			})
			return "HOLD"
		}
		return "ADD_" + string(pos.Side)
	}
	return "HOLD"
}

// tryEnter runs the full entry gate chain and opens a position when every
// check passes. The returned action label records the first blocking reason.
func (s *Service) tryEnter(ctx context.Context, symbol string, mgr *position.Manager, price, spread float64, rows []indicators.Row, sig signal.CombinedSignal) string {
	op := "tryEnter"
	lastRow := rows[len(rows)-1]

	if ok, reason := s.guard.CanTrade(); !ok {
		s.logger.Info(ctx, "Entry blocked by risk state", map[string]interface{}{"op": op, "symbol": symbol, "reason": reason})
		return "BLOCKED_RISK"
	}
	if ok, reasons := s.guard.CheckEntryFilters(lastRow.VolumeRatio, mgr.HasPosition()); !ok {
		s.logger.Info(ctx, "Entry blocked by filters", map[string]interface{}{"op": op, "symbol": symbol, "reasons": reasons})
		return "BLOCKED_FILTER"
	}
	if ok, reason := s.guard.CheckSpreadFilter(spread, s.spreads[symbol].average()); !ok {
		s.logger.Info(ctx, "Entry blocked by spread anomaly", map[string]interface{}{"op": op, "symbol": symbol, "reason": reason})
		return "BLOCKED_SPREAD"
	}

	balance, err := s.exchange.GetBalance(ctx)
	if err != nil {
		s.logger.Warn(ctx, "Balance fetch failed, skipping entry", map[string]interface{}{
			"op": op, "symbol": symbol, "error": err.Error(),
		})
		return "HOLD"
	}

	// Cross-symbol exposure uses a consistent snapshot of all managers.
	if ok, reason := s.guard.CheckTotalExposure(s.totalMargin(), balance.Equity); !ok {
		s.logger.Info(ctx, "Entry blocked by exposure cap", map[string]interface{}{"op": op, "symbol": symbol, "reason": reason})
		return "BLOCKED_EXPOSURE"
	}

	res := s.sizer.Size(balance.Equity, balance.Available, price, sig.Confidence, s.instruments[symbol])
	if res.Quantity == 0 {
		s.logger.Info(ctx, "Entry not sized", map[string]interface{}{"op": op, "symbol": symbol, "reason": res.Reason})
		return "BLOCKED_SIZING"
	}

	side := sig.Combined.Side()
	if err := mgr.Open(ctx, side, res.Quantity, sig.Snapshot(), indicators.Snapshot(lastRow)); err != nil {
		s.logger.Error(ctx, err, "Entry order failed", map[string]interface{}{"op": op, "symbol": symbol, "side": side})
		return "HOLD"
	}
	if side == domain.Buy {
		return "OPEN_LONG"
	}
	return "OPEN_SHORT"
}

func (s *Service) totalMargin() float64 {
	var total float64
	for _, mgr := range s.managers {
		total += mgr.Margin()
	}
	return total
}

func (s *Service) journalSignal(ctx context.Context, symbol string, rows []indicators.Row, sig signal.CombinedSignal, action string) {
	if len(rows) == 0 {
		return
	}
	last := rows[len(rows)-1]
	err := s.signalJournal.RecordSignal(ctx, &ports.SignalRecord{
		Timestamp:  time.Now().UTC(),
		Symbol:     symbol,
		Close:      last.Close,
		Combined:   int(sig.Combined),
		Confidence: sig.Confidence,
		Detail:     sig.Detail(),
		Action:     action,
		Indicators: indicators.Snapshot(last),
	})
	if err != nil {
		s.logger.Warn(ctx, "Failed to journal signal", map[string]interface{}{"symbol": symbol, "error": err.Error()})
	}
}

// maybeSendDailySummary pushes a recap of the previous UTC day's trades on
// the first tick after midnight.
func (s *Service) maybeSendDailySummary(ctx context.Context) {
	today := utcDay(time.Now())
	if today.Equal(s.lastSummaryDay) {
		return
	}
	prevDay := s.lastSummaryDay
	s.lastSummaryDay = today

	trades, err := s.tradeJournal.ClosedSince(ctx, prevDay)
	if err != nil {
		s.logger.Warn(ctx, "Daily summary query failed", map[string]interface{}{"error": err.Error()})
		return
	}

	var wins int
	var netUSD, netPct float64
	for _, t := range trades {
		if t.NetPnLUSD > 0 {
			wins++
		}
		netUSD += t.NetPnLUSD
		netPct += t.NetPnLPct
	}

	weekWinRate, weekPF := s.weeklyStats(ctx, prevDay.AddDate(0, 0, -6))
	s.notifier.Notify(ctx, fmt.Sprintf("daily summary %s: %d trades, %d wins, net %.2f USD (%.2f%%) | 7d win rate %.1f%%, PF %.2f",
		prevDay.Format("2006-01-02"), len(trades), wins, netUSD, netPct, weekWinRate, weekPF))
}

// weeklyStats computes the trailing win rate and profit factor from the
// journal. Both are zero when the window holds no trades.
func (s *Service) weeklyStats(ctx context.Context, since time.Time) (winRate, profitFactor float64) {
	trades, err := s.tradeJournal.ClosedSince(ctx, since)
	if err != nil || len(trades) == 0 {
		return 0, 0
	}
	var wins int
	var grossProfit, grossLoss float64
	for _, t := range trades {
		if t.NetPnLUSD > 0 {
			wins++
			grossProfit += t.NetPnLUSD
		} else {
			grossLoss -= t.NetPnLUSD
		}
	}
	winRate = float64(wins) / float64(len(trades)) * 100.0
	if grossLoss > 0 {
		profitFactor = grossProfit / grossLoss
	}
	return winRate, profitFactor
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
