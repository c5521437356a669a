package ports

import (
	"context"
	"time"

	"quadbot/internal/domain"
)

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID      int64     // Exchange's order ID
	Symbol       string    // Symbol for the order
	AvgPrice     float64   // Average filled price (0 if not yet filled)
	OrigQuantity float64   // Original quantity requested
	ExecutedQty  float64   // Quantity filled
	Status       string    // Order status (e.g., NEW, FILLED)
	Side         string    // Order side (BUY, SELL)
	Timestamp    time.Time // Time the order response was generated
}

// Balance is the account snapshot used for sizing decisions.
type Balance struct {
	Equity    float64 // Total equity including unrealized P&L
	Available float64 // Balance available for new margin
}

// ExchangePosition is the externally reported position state for one symbol.
type ExchangePosition struct {
	Symbol        string
	Side          domain.OrderSide
	Quantity      float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int
}

// InstrumentInfo holds the venue's precision rules for a symbol.
type InstrumentInfo struct {
	Symbol   string
	QtyStep  float64 // Quantity increment
	MinQty   float64 // Minimum tradable quantity
	TickSize float64 // Price increment
}

// Ticker is a lightweight best bid/ask snapshot for spread tracking.
type Ticker struct {
	LastPrice float64
	Bid       float64
	Ask       float64
}

// ExchangeClient defines the interface for interacting with a futures exchange.
// This abstraction decouples the core trading logic from specific venues.
type ExchangeClient interface {
	// GetCandles retrieves the most recent closed candles, oldest first.
	// Fails with a transient error; callers may rely on adapter-level retry.
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error)

	// GetBalance retrieves account equity and available balance.
	GetBalance(ctx context.Context) (Balance, error)

	// GetPosition retrieves the open position for a symbol.
	// Returns nil, nil when no position exists.
	GetPosition(ctx context.Context, symbol string) (*ExchangePosition, error)

	// GetTicker retrieves the latest price and best bid/ask for a symbol.
	GetTicker(ctx context.Context, symbol string) (Ticker, error)

	// GetInstrumentInfo retrieves quantity/price precision rules for a symbol.
	GetInstrumentInfo(ctx context.Context, symbol string) (InstrumentInfo, error)

	// PlaceMarketOrder places a market order to open or add to a position.
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*OrderResponse, error)

	// ClosePosition places a reduce-only market order closing quantity on the
	// opposite side of the held position.
	ClosePosition(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*OrderResponse, error)

	// SetProtectiveStops sets server-side stop-loss and take-profit prices for
	// the open position. Best effort; the local exit evaluation remains the
	// authoritative backstop when this fails.
	SetProtectiveStops(ctx context.Context, symbol string, side domain.OrderSide, stopPrice, takeProfitPrice float64) error

	// UpdateStopLoss moves only the server-side stop price (trailing ratchet).
	UpdateStopLoss(ctx context.Context, symbol string, side domain.OrderSide, stopPrice float64) error

	// SetLeverage sets the leverage for a symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// GetServerTime retrieves the current server time from the exchange.
	GetServerTime(ctx context.Context) (time.Time, error)
}
