package ports

import (
	"context"
	"time"

	"quadbot/internal/domain"
)

// SignalRecord is the per-tick snapshot appended to the signal journal.
type SignalRecord struct {
	Timestamp  time.Time
	Symbol     string
	Close      float64
	Combined   int
	Confidence int
	Detail     string
	Action     string // HOLD / OPEN_LONG / OPEN_SHORT / CLOSE_<reason> / BLOCKED_<reason>
	Indicators domain.IndicatorSnapshot
}

// TradeJournal is the append-only sink for completed trades.
type TradeJournal interface {
	// RecordTrade persists a completed trade and returns its assigned ID.
	RecordTrade(ctx context.Context, trade *domain.TradeRecord) (int64, error)
	// CountTodayBySymbol counts trades closed today (UTC) for a symbol.
	CountTodayBySymbol(ctx context.Context, symbol string) (int, error)
	// RecentBySymbol retrieves the most recent trades for a symbol, newest first.
	RecentBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.TradeRecord, error)
	// ClosedSince retrieves trades closed at or after the given time, any symbol.
	ClosedSince(ctx context.Context, since time.Time) ([]*domain.TradeRecord, error)
}

// SignalJournal is the append-only sink for per-tick signal snapshots.
type SignalJournal interface {
	RecordSignal(ctx context.Context, rec *SignalRecord) error
}
