// Package position owns the per-symbol open/flat state machine: entries,
// pyramiding add-ons, exit evaluation and reconciliation with the exchange.
package position

import (
	"context"
	"fmt"
	"time"

	"quadbot/internal/domain"
	"quadbot/internal/ports"
	"quadbot/internal/utils"
)

// Config holds the per-symbol lifecycle parameters. Percentages are price
// moves in percent units.
type Config struct {
	Symbol        string
	Leverage      int
	StopLossPct   float64
	TakeProfitPct float64

	EnableTrailing      bool
	TrailingActivatePct float64
	TrailingCallbackPct float64

	TimeExitHours int

	PyramidMaxAdds      int
	PyramidMinProfitPct float64

	TakerFeeRate float64
}

// serverExitFraction is the share of the configured threshold used to
// classify an externally closed position as a server stop or take-profit.
// Exits landing between the two bounds are classified as a generic server
// close; this is a known approximation.
const serverExitFraction = 0.5

// Manager drives one symbol's position through its lifecycle. It is not
// safe for concurrent use; the orchestrator calls it from a single tick
// goroutine per symbol.
type Manager struct {
	cfg      Config
	exchange ports.ExchangeClient
	journal  ports.TradeJournal
	notifier ports.Notifier
	logger   ports.Logger
	now      func() time.Time

	instr ports.InstrumentInfo
	pos   *domain.Position
}

// NewManager creates a lifecycle manager for one symbol. The clock is
// injectable for tests; pass nil for the real clock.
func NewManager(cfg Config, instr ports.InstrumentInfo, exchange ports.ExchangeClient, journal ports.TradeJournal, notifier ports.Notifier, logger ports.Logger, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		cfg:      cfg,
		instr:    instr,
		exchange: exchange,
		journal:  journal,
		notifier: notifier,
		logger:   logger,
		now:      now,
	}
}

// HasPosition reports whether the manager currently holds an open position.
func (m *Manager) HasPosition() bool {
	return m.pos != nil
}

// Position returns the open position, or nil when flat. The returned value
// is a copy; the manager retains exclusive ownership of the live state.
func (m *Manager) Position() *domain.Position {
	if m.pos == nil {
		return nil
	}
	cp := *m.pos
	return &cp
}

// Margin returns the margin currently committed to the open position, zero
// when flat. Used for the cross-symbol exposure check.
func (m *Manager) Margin() float64 {
	if m.pos == nil || m.cfg.Leverage == 0 {
		return 0
	}
	return m.pos.EntryPrice * m.pos.Quantity / float64(m.cfg.Leverage)
}

// Open transitions Flat to Open: places the entry order, records the fill,
// and pushes server-side protective stops. Protective-stop failure does not
// fail the entry; local exit evaluation remains the backstop.
func (m *Manager) Open(ctx context.Context, side domain.OrderSide, quantity float64, sig domain.SignalSnapshot, ind domain.IndicatorSnapshot) error {
	op := "openPosition"
	if m.pos != nil {
		return fmt.Errorf("%s: position already open for %s", op, m.cfg.Symbol)
	}
	if quantity < m.instr.MinQty {
		return fmt.Errorf("%s: quantity %.8f below minimum %.8f", op, quantity, m.instr.MinQty)
	}

	resp, err := m.exchange.PlaceMarketOrder(ctx, m.cfg.Symbol, side, quantity)
	if err != nil {
		return fmt.Errorf("%s: entry order failed: %w", op, err)
	}
	fill := resp.AvgPrice
	if fill <= 0 {
		return fmt.Errorf("%s: entry order %d reported no fill price", op, resp.OrderID)
	}

	m.pos = &domain.Position{
		TradeID:           utils.NewTradeID(),
		Symbol:            m.cfg.Symbol,
		Side:              side,
		EntryPrice:        fill,
		Quantity:          resp.ExecutedQty,
		Leverage:          m.cfg.Leverage,
		EntryTime:         m.now(),
		RunningHigh:       fill,
		RunningLow:        fill,
		SignalAtEntry:     sig,
		IndicatorsAtEntry: ind,
	}
	if m.pos.Quantity == 0 {
		m.pos.Quantity = quantity
	}

	m.logger.Info(ctx, "position opened", map[string]interface{}{
		"op": op, "symbol": m.cfg.Symbol, "side": side, "qty": m.pos.Quantity, "entryPrice": fill, "tradeID": m.pos.TradeID,
	})

	m.pushProtectiveStops(ctx, op)
	m.notifier.NotifyEntry(ctx, fmt.Sprintf("%s %s %.4f @ %.6f (SL %.6f / TP %.6f)",
		side, m.cfg.Symbol, m.pos.Quantity, fill, m.stopPrice(), m.takeProfitPrice()))
	return nil
}

// Add executes a pyramiding add-on: same side, below the add cap, and only
// while the position is in profit past the minimum threshold. The entry
// price becomes the quantity-weighted average and protective stops are
// recomputed around it.
func (m *Manager) Add(ctx context.Context, quantity, currentPrice float64) error {
	op := "addPosition"
	if m.pos == nil {
		return fmt.Errorf("%s: no open position for %s", op, m.cfg.Symbol)
	}
	if m.pos.AddOnCount >= m.cfg.PyramidMaxAdds {
		return fmt.Errorf("%s: add-on cap %d reached", op, m.cfg.PyramidMaxAdds)
	}
	if pnl := m.pos.UnrealizedPnLPct(currentPrice); pnl < m.cfg.PyramidMinProfitPct {
		return fmt.Errorf("%s: unrealized %.2f%% below add threshold %.2f%%", op, pnl, m.cfg.PyramidMinProfitPct)
	}
	if quantity < m.instr.MinQty {
		return fmt.Errorf("%s: quantity %.8f below minimum %.8f", op, quantity, m.instr.MinQty)
	}

	resp, err := m.exchange.PlaceMarketOrder(ctx, m.cfg.Symbol, m.pos.Side, quantity)
	if err != nil {
		return fmt.Errorf("%s: add-on order failed: %w", op, err)
	}
	fill := resp.AvgPrice
	if fill <= 0 {
		fill = currentPrice
	}
	filled := resp.ExecutedQty
	if filled == 0 {
		filled = quantity
	}

	total := m.pos.Quantity + filled
	m.pos.EntryPrice = (m.pos.EntryPrice*m.pos.Quantity + fill*filled) / total
	m.pos.Quantity = total
	m.pos.AddOnCount++
	m.pos.UpdateExtremes(fill)
	if m.pos.TrailingActive {
		// The trailing extreme may only move in the favorable direction.
		if m.pos.Side == domain.Buy && fill > m.pos.TrailingExtreme {
			m.pos.TrailingExtreme = fill
		} else if m.pos.Side == domain.Sell && fill < m.pos.TrailingExtreme {
			m.pos.TrailingExtreme = fill
		}
	}

	m.logger.Info(ctx, "position add-on executed", map[string]interface{}{
		"op": op, "symbol": m.cfg.Symbol, "qty": filled, "avgEntry": m.pos.EntryPrice, "addOnCount": m.pos.AddOnCount,
	})

	m.pushProtectiveStops(ctx, op)
	m.notifier.NotifyEntry(ctx, fmt.Sprintf("add-on %s %s %.4f @ %.6f, avg entry %.6f (%d/%d)",
		m.pos.Side, m.cfg.Symbol, filled, fill, m.pos.EntryPrice, m.pos.AddOnCount, m.cfg.PyramidMaxAdds))
	return nil
}

// CheckExit evaluates the exit triggers in fixed priority order against the
// observed price and latest combined signal, returning the first that fires.
// It also maintains the MFE/MAE extremes and the trailing-stop ratchet.
func (m *Manager) CheckExit(ctx context.Context, price float64, combined domain.Direction) (domain.ExitReason, bool) {
	if m.pos == nil {
		return "", false
	}
	m.pos.UpdateExtremes(price)
	pnl := m.pos.UnrealizedPnLPct(price)

	if pnl <= -m.cfg.StopLossPct {
		return domain.ExitStopLoss, true
	}
	if pnl >= m.cfg.TakeProfitPct {
		return domain.ExitTakeProfit, true
	}

	if m.cfg.EnableTrailing {
		if !m.pos.TrailingActive && pnl >= m.cfg.TrailingActivatePct {
			m.pos.TrailingActive = true
			m.pos.TrailingExtreme = price
			m.logger.Info(ctx, "trailing stop activated", map[string]interface{}{
				"op": "checkExit", "symbol": m.cfg.Symbol, "price": price, "pnlPct": pnl,
			})
		}
		if m.pos.TrailingActive {
			if exit := m.updateTrailing(ctx, price); exit {
				return domain.ExitTrailingStop, true
			}
		}
	}

	if combined != domain.Neutral && combined.Side() == m.pos.Side.Opposite() {
		return domain.ExitSignalReverse, true
	}

	age := m.now().Sub(m.pos.EntryTime)
	if age >= time.Duration(m.cfg.TimeExitHours)*time.Hour && pnl < 0 {
		return domain.ExitTimeLimit, true
	}
	return "", false
}

// updateTrailing ratchets the extreme and the server-side stop on favorable
// moves, and reports whether the retracement exceeded the callback.
func (m *Manager) updateTrailing(ctx context.Context, price float64) bool {
	p := m.pos
	if p.Side == domain.Buy {
		if price > p.TrailingExtreme {
			p.TrailingExtreme = price
			m.ratchetServerStop(ctx, p.TrailingExtreme*(1.0-m.cfg.TrailingCallbackPct/100.0))
		}
		retrace := (p.TrailingExtreme - price) / p.TrailingExtreme * 100.0
		return retrace > m.cfg.TrailingCallbackPct
	}
	if price < p.TrailingExtreme {
		p.TrailingExtreme = price
		m.ratchetServerStop(ctx, p.TrailingExtreme*(1.0+m.cfg.TrailingCallbackPct/100.0))
	}
	retrace := (price - p.TrailingExtreme) / p.TrailingExtreme * 100.0
	return retrace > m.cfg.TrailingCallbackPct
}

func (m *Manager) ratchetServerStop(ctx context.Context, stopPrice float64) {
	stopPrice = utils.RoundPrice(stopPrice, m.instr.TickSize)
	if err := m.exchange.UpdateStopLoss(ctx, m.cfg.Symbol, m.pos.Side, stopPrice); err != nil {
		m.logger.Warn(ctx, "trailing stop update failed", map[string]interface{}{
			"op": "updateTrailing", "symbol": m.cfg.Symbol, "stopPrice": stopPrice, "error": err.Error(),
		})
	}
}

// Close transitions Open to Flat: executes the closing order, computes the
// realized result net of round-trip fees, journals the trade record, and
// clears the position state.
func (m *Manager) Close(ctx context.Context, reason domain.ExitReason) (*domain.TradeRecord, error) {
	op := "closePosition"
	if m.pos == nil {
		return nil, fmt.Errorf("%s: no open position for %s", op, m.cfg.Symbol)
	}

	resp, err := m.exchange.ClosePosition(ctx, m.cfg.Symbol, m.pos.Side, m.pos.Quantity)
	if err != nil {
		return nil, fmt.Errorf("%s: close order failed: %w", op, err)
	}
	exit := resp.AvgPrice
	if exit <= 0 {
		exit = m.pos.EntryPrice
	}

	// The exit fill itself can extend the excursion range.
	m.pos.UpdateExtremes(exit)
	record := m.buildTradeRecord(exit, reason)
	m.persistRecord(ctx, op, record)

	m.logger.Info(ctx, "position closed", map[string]interface{}{
		"op": op, "symbol": m.cfg.Symbol, "reason": reason, "exitPrice": exit,
		"netPnLPct": record.NetPnLPct, "netPnLUSD": record.NetPnLUSD,
	})
	m.notifier.NotifyExit(ctx, fmt.Sprintf("closed %s %s @ %.6f (%s): net %.2f%% / %.2f USD",
		m.pos.Side, m.cfg.Symbol, exit, reason, record.NetPnLPct, record.NetPnLUSD))

	m.pos = nil
	return record, nil
}

// SyncWithExchange reconciles local state against the externally reported
// position. A locally open but externally flat position is treated as a
// server-side protective exit; a locally flat but externally open position
// is adopted as if freshly opened. Returns the synthetic trade record when
// a server-side exit was inferred.
func (m *Manager) SyncWithExchange(ctx context.Context) (*domain.TradeRecord, error) {
	op := "syncWithExchange"
	exch, err := m.exchange.GetPosition(ctx, m.cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: position query failed: %w", op, err)
	}

	switch {
	case m.pos != nil && exch == nil:
		// A server-side stop or take-profit fired while we were not looking.
		ticker, terr := m.exchange.GetTicker(ctx, m.cfg.Symbol)
		exitPrice := m.pos.EntryPrice
		if terr == nil && ticker.LastPrice > 0 {
			exitPrice = ticker.LastPrice
		}
		reason := m.classifyServerExit(exitPrice)
		m.pos.UpdateExtremes(exitPrice)
		record := m.buildTradeRecord(exitPrice, reason)
		m.persistRecord(ctx, op, record)

		m.logger.Warn(ctx, "position closed server-side, reconciled", map[string]interface{}{
			"op": op, "symbol": m.cfg.Symbol, "reason": reason, "assumedExitPrice": exitPrice,
		})
		m.notifier.NotifyWarning(ctx, fmt.Sprintf("%s position closed server-side (%s), net %.2f%%",
			m.cfg.Symbol, reason, record.NetPnLPct))
		m.pos = nil
		return record, nil

	case m.pos == nil && exch != nil:
		// Externally or manually opened; adopt it to keep risk tracking alive.
		m.pos = &domain.Position{
			TradeID:     utils.NewTradeID(),
			Symbol:      m.cfg.Symbol,
			Side:        exch.Side,
			EntryPrice:  exch.EntryPrice,
			Quantity:    exch.Quantity,
			Leverage:    m.cfg.Leverage,
			EntryTime:   m.now(),
			RunningHigh: exch.EntryPrice,
			RunningLow:  exch.EntryPrice,
		}
		m.logger.Warn(ctx, "adopted externally opened position", map[string]interface{}{
			"op": op, "symbol": m.cfg.Symbol, "side": exch.Side, "qty": exch.Quantity, "entryPrice": exch.EntryPrice,
		})
		m.pushProtectiveStops(ctx, op)
		m.notifier.NotifyWarning(ctx, fmt.Sprintf("adopted external %s position on %s: %.4f @ %.6f",
			exch.Side, m.cfg.Symbol, exch.Quantity, exch.EntryPrice))
		return nil, nil
	}
	return nil, nil
}

// classifyServerExit guesses which protective order fired from the realized
// move against half the configured thresholds. Moves landing between the
// bounds become a generic server close.
func (m *Manager) classifyServerExit(exitPrice float64) domain.ExitReason {
	pnl := m.pos.UnrealizedPnLPct(exitPrice)
	switch {
	case pnl <= -m.cfg.StopLossPct*serverExitFraction:
		return domain.ExitServerStopLoss
	case pnl >= m.cfg.TakeProfitPct*serverExitFraction:
		return domain.ExitServerTakeProfit
	default:
		return domain.ExitServerClose
	}
}

func (m *Manager) buildTradeRecord(exitPrice float64, reason domain.ExitReason) *domain.TradeRecord {
	p := m.pos
	entryValue := p.EntryPrice * p.Quantity
	exitValue := exitPrice * p.Quantity

	pnlUSD := (exitPrice - p.EntryPrice) * p.Quantity
	if p.Side == domain.Sell {
		pnlUSD = -pnlUSD
	}
	pnlPct := utils.PctChange(p.EntryPrice, exitPrice, p.Side)

	feeUSD := entryValue*m.cfg.TakerFeeRate + exitValue*m.cfg.TakerFeeRate
	margin := entryValue / float64(p.Leverage)
	netPnLPct := pnlPct - utils.SafeDiv(feeUSD, margin, 0)*100.0

	var mfe, mae float64
	if p.Side == domain.Buy {
		mfe = utils.PctChange(p.EntryPrice, p.RunningHigh, domain.Buy)
		mae = utils.PctChange(p.EntryPrice, p.RunningLow, domain.Buy)
	} else {
		mfe = utils.PctChange(p.EntryPrice, p.RunningLow, domain.Sell)
		mae = utils.PctChange(p.EntryPrice, p.RunningHigh, domain.Sell)
	}

	return &domain.TradeRecord{
		TradeID:           p.TradeID,
		Symbol:            p.Symbol,
		Side:              p.Side,
		EntryPrice:        p.EntryPrice,
		ExitPrice:         exitPrice,
		Quantity:          p.Quantity,
		Leverage:          p.Leverage,
		EntryTime:         p.EntryTime,
		ExitTime:          m.now(),
		PnLUSD:            pnlUSD,
		PnLPct:            pnlPct,
		FeeUSD:            feeUSD,
		NetPnLUSD:         pnlUSD - feeUSD,
		NetPnLPct:         netPnLPct,
		ExitReason:        reason,
		MFEPct:            mfe,
		MAEPct:            mae,
		RMultiple:         utils.SafeDiv(pnlPct, m.cfg.StopLossPct, 0),
		SignalAtEntry:     p.SignalAtEntry,
		IndicatorsAtEntry: p.IndicatorsAtEntry,
	}
}

func (m *Manager) persistRecord(ctx context.Context, op string, record *domain.TradeRecord) {
	id, err := m.journal.RecordTrade(ctx, record)
	if err != nil {
		m.logger.Error(ctx, err, "failed to journal trade record", map[string]interface{}{
			"op": op, "symbol": m.cfg.Symbol, "tradeID": record.TradeID,
		})
		return
	}
	record.ID = id
}

func (m *Manager) pushProtectiveStops(ctx context.Context, op string) {
	sl := m.stopPrice()
	tp := m.takeProfitPrice()
	if err := m.exchange.SetProtectiveStops(ctx, m.cfg.Symbol, m.pos.Side, sl, tp); err != nil {
		m.logger.Warn(ctx, "failed to set protective stops", map[string]interface{}{
			"op": op, "symbol": m.cfg.Symbol, "stopPrice": sl, "takeProfitPrice": tp, "error": err.Error(),
		})
		m.notifier.NotifyWarning(ctx, fmt.Sprintf("protective stops rejected for %s; local exits remain active", m.cfg.Symbol))
	}
}

func (m *Manager) stopPrice() float64 {
	if m.pos.Side == domain.Buy {
		return utils.RoundPrice(m.pos.EntryPrice*(1.0-m.cfg.StopLossPct/100.0), m.instr.TickSize)
	}
	return utils.RoundPrice(m.pos.EntryPrice*(1.0+m.cfg.StopLossPct/100.0), m.instr.TickSize)
}

func (m *Manager) takeProfitPrice() float64 {
	if m.pos.Side == domain.Buy {
		return utils.RoundPrice(m.pos.EntryPrice*(1.0+m.cfg.TakeProfitPct/100.0), m.instr.TickSize)
	}
	return utils.RoundPrice(m.pos.EntryPrice*(1.0-m.cfg.TakeProfitPct/100.0), m.instr.TickSize)
}
