package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quadbot/config"
	"quadbot/internal/domain"
	"quadbot/internal/indicators"
	"quadbot/internal/ports"
	"quadbot/internal/position"
	"quadbot/internal/signal"
)

// --- Mocks ---

type mockLogger struct{}

func (l *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockExchange struct {
	candles      []*domain.Candle
	balance      ports.Balance
	ticker       ports.Ticker
	position     *ports.ExchangePosition
	fillPrice    float64
	placedOrders int
	closedOrders int
}

func (m *mockExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	return m.candles, nil
}

func (m *mockExchange) GetBalance(ctx context.Context) (ports.Balance, error) {
	return m.balance, nil
}

func (m *mockExchange) GetPosition(ctx context.Context, symbol string) (*ports.ExchangePosition, error) {
	return m.position, nil
}

func (m *mockExchange) GetTicker(ctx context.Context, symbol string) (ports.Ticker, error) {
	return m.ticker, nil
}

func (m *mockExchange) GetInstrumentInfo(ctx context.Context, symbol string) (ports.InstrumentInfo, error) {
	return ports.InstrumentInfo{Symbol: symbol, QtyStep: 0.1, MinQty: 0.1, TickSize: 0.0001}, nil
}

func (m *mockExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*ports.OrderResponse, error) {
	m.placedOrders++
	return &ports.OrderResponse{OrderID: 1, Symbol: symbol, AvgPrice: m.fillPrice, ExecutedQty: quantity, Status: "FILLED"}, nil
}

func (m *mockExchange) ClosePosition(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*ports.OrderResponse, error) {
	m.closedOrders++
	return &ports.OrderResponse{OrderID: 2, Symbol: symbol, AvgPrice: m.fillPrice, ExecutedQty: quantity, Status: "FILLED"}, nil
}

func (m *mockExchange) SetProtectiveStops(ctx context.Context, symbol string, side domain.OrderSide, stopPrice, takeProfitPrice float64) error {
	return nil
}

func (m *mockExchange) UpdateStopLoss(ctx context.Context, symbol string, side domain.OrderSide, stopPrice float64) error {
	return nil
}

func (m *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }

func (m *mockExchange) GetServerTime(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

type mockJournal struct {
	trades  []*domain.TradeRecord
	closed  []*domain.TradeRecord
	signals []*ports.SignalRecord
}

func (m *mockJournal) RecordTrade(ctx context.Context, trade *domain.TradeRecord) (int64, error) {
	m.trades = append(m.trades, trade)
	return int64(len(m.trades)), nil
}

func (m *mockJournal) CountTodayBySymbol(ctx context.Context, symbol string) (int, error) {
	return 0, nil
}

func (m *mockJournal) RecentBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.TradeRecord, error) {
	return nil, nil
}

func (m *mockJournal) ClosedSince(ctx context.Context, since time.Time) ([]*domain.TradeRecord, error) {
	return m.closed, nil
}

func (m *mockJournal) RecordSignal(ctx context.Context, rec *ports.SignalRecord) error {
	m.signals = append(m.signals, rec)
	return nil
}

type mockNotifier struct {
	messages []string
}

func (m *mockNotifier) Notify(ctx context.Context, text string)        { m.messages = append(m.messages, text) }
func (m *mockNotifier) NotifyEntry(ctx context.Context, text string)   { m.messages = append(m.messages, text) }
func (m *mockNotifier) NotifyExit(ctx context.Context, text string)    { m.messages = append(m.messages, text) }
func (m *mockNotifier) NotifyWarning(ctx context.Context, text string) { m.messages = append(m.messages, text) }

// --- Helpers ---

const testSymbol = "XRPUSDT"

func testConfig() *config.Config {
	return &config.Config{
		Symbols:  []string{testSymbol},
		Interval: "1h",
		Leverage: 1,

		StopLossPct:         2.0,
		TakeProfitPct:       4.0,
		EnableTrailingStop:  true,
		TrailingActivatePct: 3.5,
		TrailingCallbackPct: 2.0,
		TimeExitHours:       48,

		MinEntryConfidence: 2,

		PositionSizePct:         5.0,
		HighConfidenceSizePct:   8.0,
		HighConfidenceThreshold: 3,
		MaxPositionSizePct:      10.0,
		MaxTotalExposurePct:     30.0,

		MaxDailyLossPct:       3.0,
		MaxDailyTrades:        5,
		CooldownAfterSLStreak: 3,
		CooldownHours:         2,
		RecentSLLookbackHours: 3,
		MinVolumeRatio:        0.3,
		MaxSpreadMultiplier:   3.0,

		PyramidMaxAdds:      2,
		PyramidAddSizeMult:  0.5,
		PyramidMinProfitPct: 0.3,

		TakerFeeRate: 0.00055,

		TickInterval:    time.Second,
		CandleLimit:     300,
		PullbackDistPct: 0.5,
	}
}

type serviceFixture struct {
	svc      *Service
	exchange *mockExchange
	journal  *mockJournal
	notifier *mockNotifier
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	exchange := &mockExchange{fillPrice: 100, balance: ports.Balance{Equity: 10000, Available: 10000}}
	journal := &mockJournal{}
	notifier := &mockNotifier{}

	cfg := testConfig()
	svc, err := NewService(cfg, &mockLogger{}, exchange, journal, journal, notifier)
	require.NoError(t, err)

	// Register the per-symbol state that Start would normally set up.
	instr := ports.InstrumentInfo{Symbol: testSymbol, QtyStep: 0.1, MinQty: 0.1, TickSize: 0.0001}
	svc.instruments[testSymbol] = instr
	svc.managers[testSymbol] = position.NewManager(position.Config{
		Symbol:              testSymbol,
		Leverage:            cfg.Leverage,
		StopLossPct:         cfg.StopLossPct,
		TakeProfitPct:       cfg.TakeProfitPct,
		EnableTrailing:      cfg.EnableTrailingStop,
		TrailingActivatePct: cfg.TrailingActivatePct,
		TrailingCallbackPct: cfg.TrailingCallbackPct,
		TimeExitHours:       cfg.TimeExitHours,
		PyramidMaxAdds:      cfg.PyramidMaxAdds,
		PyramidMinProfitPct: cfg.PyramidMinProfitPct,
		TakerFeeRate:        cfg.TakerFeeRate,
	}, instr, exchange, journal, notifier, &mockLogger{}, nil)
	svc.spreads[testSymbol] = &spreadTracker{}

	return &serviceFixture{svc: svc, exchange: exchange, journal: journal, notifier: notifier}
}

func flatCandles(n int, price float64) []*domain.Candle {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]*domain.Candle, n)
	for i := 0; i < n; i++ {
		candles[i] = &domain.Candle{
			OpenTime:  start.Add(time.Duration(i) * time.Hour),
			CloseTime: start.Add(time.Duration(i+1) * time.Hour),
			Symbol:    testSymbol,
			Interval:  "1h",
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1000,
			IsFinal:   true,
		}
	}
	return candles
}

func longSignal() signal.CombinedSignal {
	return signal.CombinedSignal{Combined: domain.Long, BuyCount: 2, Confidence: 2}
}

func entryRows() []indicators.Row {
	return []indicators.Row{{Close: 100, VolumeRatio: 1.0}}
}

// --- Tests ---

func TestNewServiceRequiresAllDependencies(t *testing.T) {
	cfg := testConfig()
	logger := &mockLogger{}
	exchange := &mockExchange{}
	journal := &mockJournal{}
	notifier := &mockNotifier{}

	_, err := NewService(nil, logger, exchange, journal, journal, notifier)
	assert.Error(t, err)
	_, err = NewService(cfg, logger, exchange, journal, journal, nil)
	assert.Error(t, err)
	_, err = NewService(cfg, logger, exchange, journal, journal, notifier)
	assert.NoError(t, err)
}

func TestTickActsOnClosedCandlesOnly(t *testing.T) {
	f := newServiceFixture(t)

	candles := flatCandles(220, 100)
	forming := flatCandles(1, 999)[0]
	forming.IsFinal = false
	f.exchange.candles = append(candles, forming)

	f.svc.tick(context.Background(), testSymbol)

	require.Len(t, f.journal.signals, 1)
	rec := f.journal.signals[0]
	assert.Equal(t, 100.0, rec.Close, "the forming candle must not reach the signal engine")
	assert.Equal(t, "HOLD", rec.Action)
	assert.Equal(t, 0, f.exchange.placedOrders)
}

func TestTryEnterGateChain(t *testing.T) {
	ctx := context.Background()

	t.Run("risk state blocks first", func(t *testing.T) {
		f := newServiceFixture(t)
		for i := 0; i < 5; i++ {
			f.svc.guard.RecordTrade(0.5, domain.ExitTakeProfit)
		}
		action := f.svc.tryEnter(ctx, testSymbol, f.svc.managers[testSymbol], 100, 0, entryRows(), longSignal())
		assert.Equal(t, "BLOCKED_RISK", action)
		assert.Equal(t, 0, f.exchange.placedOrders)
	})

	t.Run("thin volume blocks entry", func(t *testing.T) {
		f := newServiceFixture(t)
		rows := []indicators.Row{{Close: 100, VolumeRatio: 0.1}}
		action := f.svc.tryEnter(ctx, testSymbol, f.svc.managers[testSymbol], 100, 0, rows, longSignal())
		assert.Equal(t, "BLOCKED_FILTER", action)
	})

	t.Run("spread anomaly blocks entry", func(t *testing.T) {
		f := newServiceFixture(t)
		for i := 0; i < 10; i++ {
			f.svc.spreads[testSymbol].observe(0.001)
		}
		action := f.svc.tryEnter(ctx, testSymbol, f.svc.managers[testSymbol], 100, 0.01, entryRows(), longSignal())
		assert.Equal(t, "BLOCKED_SPREAD", action)
	})

	t.Run("exposure cap blocks entry", func(t *testing.T) {
		f := newServiceFixture(t)
		f.exchange.balance = ports.Balance{Equity: 0, Available: 0}
		action := f.svc.tryEnter(ctx, testSymbol, f.svc.managers[testSymbol], 100, 0, entryRows(), longSignal())
		assert.Equal(t, "BLOCKED_EXPOSURE", action)
	})

	t.Run("unsizable entry blocks last", func(t *testing.T) {
		f := newServiceFixture(t)
		f.exchange.balance = ports.Balance{Equity: 1, Available: 1}
		action := f.svc.tryEnter(ctx, testSymbol, f.svc.managers[testSymbol], 100000, 0, entryRows(), longSignal())
		assert.Equal(t, "BLOCKED_SIZING", action)
	})

	t.Run("clean entry opens long", func(t *testing.T) {
		f := newServiceFixture(t)
		action := f.svc.tryEnter(ctx, testSymbol, f.svc.managers[testSymbol], 100, 0, entryRows(), longSignal())
		assert.Equal(t, "OPEN_LONG", action)
		assert.Equal(t, 1, f.exchange.placedOrders)
		assert.True(t, f.svc.managers[testSymbol].HasPosition())
	})
}

func TestManageOpenPositionClosesOnStop(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	mgr := f.svc.managers[testSymbol]

	require.NoError(t, mgr.Open(ctx, domain.Buy, 10, domain.SignalSnapshot{}, domain.IndicatorSnapshot{}))

	f.exchange.fillPrice = 97
	action := f.svc.manageOpenPosition(ctx, testSymbol, mgr, 97, signal.CombinedSignal{})

	assert.Equal(t, "CLOSE_SL_HIT", action)
	assert.False(t, mgr.HasPosition())
	require.Len(t, f.journal.trades, 1)
	assert.Equal(t, domain.ExitStopLoss, f.journal.trades[0].ExitReason)
}

func TestDailySummarySentOncePerDay(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.journal.closed = []*domain.TradeRecord{
		{NetPnLUSD: 10, NetPnLPct: 1.0},
		{NetPnLUSD: -5, NetPnLPct: -0.5},
	}
	f.svc.lastSummaryDay = utcDay(time.Now()).AddDate(0, 0, -1)

	f.svc.maybeSendDailySummary(ctx)
	require.Len(t, f.notifier.messages, 1)
	msg := f.notifier.messages[0]
	assert.Contains(t, msg, "daily summary")
	assert.Contains(t, msg, "2 trades, 1 wins")
	assert.Contains(t, msg, "7d win rate 50.0%")
	assert.Contains(t, msg, "PF 2.00")

	// Same day again: nothing new.
	f.svc.maybeSendDailySummary(ctx)
	assert.Len(t, f.notifier.messages, 1)
}
