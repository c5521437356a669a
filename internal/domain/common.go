package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the side that closes a position opened with this side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Direction is a signal direction: +1 long, -1 short, 0 neutral.
type Direction int

const (
	Long    Direction = 1
	Neutral Direction = 0
	Short   Direction = -1
)

// Side maps a non-neutral direction to the order side that opens it.
func (d Direction) Side() OrderSide {
	if d == Short {
		return Sell
	}
	return Buy
}

// ExitReason indicates why a position was closed.
type ExitReason string

const (
	ExitStopLoss      ExitReason = "SL_HIT"
	ExitTakeProfit    ExitReason = "TP_HIT"
	ExitTrailingStop  ExitReason = "TRAILING_STOP"
	ExitSignalReverse ExitReason = "SIGNAL_REVERSE"
	ExitTimeLimit     ExitReason = "TIME_EXIT"
	ExitManual        ExitReason = "MANUAL"

	// Server-side exits inferred during reconciliation when the exchange
	// reports no position while the manager believes one is open.
	ExitServerStopLoss   ExitReason = "SERVER_SL"
	ExitServerTakeProfit ExitReason = "SERVER_TP"
	ExitServerClose      ExitReason = "SERVER_CLOSE"
)

// IsStopLoss reports whether the exit counts toward the consecutive
// stop-loss streak. Server-side stops count the same as local ones.
func (r ExitReason) IsStopLoss() bool {
	return r == ExitStopLoss || r == ExitServerStopLoss
}
