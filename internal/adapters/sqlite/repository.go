// Package sqlite persists trade records and signal snapshots to a local
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"quadbot/internal/domain"
	"quadbot/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trade_id TEXT NOT NULL UNIQUE,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	quantity REAL NOT NULL,
	leverage INTEGER NOT NULL,
	entry_time DATETIME NOT NULL,
	exit_time DATETIME NOT NULL,
	pnl_usd REAL NOT NULL,
	pnl_pct REAL NOT NULL,
	fee_usd REAL NOT NULL,
	net_pnl_usd REAL NOT NULL,
	net_pnl_pct REAL NOT NULL,
	exit_reason TEXT NOT NULL,
	mfe_pct REAL NOT NULL,
	mae_pct REAL NOT NULL,
	r_multiple REAL NOT NULL,
	signal_at_entry TEXT NOT NULL,
	indicators_at_entry TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol_exit_time ON trades(symbol, exit_time);

CREATE TABLE IF NOT EXISTS signals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	symbol TEXT NOT NULL,
	close REAL NOT NULL,
	combined INTEGER NOT NULL,
	confidence INTEGER NOT NULL,
	detail TEXT NOT NULL,
	action TEXT NOT NULL,
	indicators TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_symbol_timestamp ON signals(symbol, timestamp);
`

// Repository implements ports.TradeJournal and ports.SignalJournal on SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// New opens (creating if necessary) the database at dbPath and ensures the
// schema exists.
func New(dbPath string, logger ports.Logger) (*Repository, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for sqlite repository")
	}
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrDBConnection, err)
	}
	// SQLite handles one writer at a time; serialize access at the pool level.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ports.ErrDBConnection, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating schema: %v", ports.ErrQueryFailed, err)
	}

	logger.Info(context.Background(), "sqlite repository ready", map[string]interface{}{"path": dbPath})
	return &Repository{db: db, logger: logger}, nil
}

// Close closes the underlying database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// RecordTrade persists a completed trade and returns its assigned row ID.
func (r *Repository) RecordTrade(ctx context.Context, trade *domain.TradeRecord) (int64, error) {
	op := "RecordTrade"
	sigJSON, err := json.Marshal(trade.SignalAtEntry)
	if err != nil {
		return 0, fmt.Errorf("%s: marshaling signal snapshot: %w", op, err)
	}
	indJSON, err := json.Marshal(trade.IndicatorsAtEntry)
	if err != nil {
		return 0, fmt.Errorf("%s: marshaling indicator snapshot: %w", op, err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO trades (
			trade_id, symbol, side, entry_price, exit_price, quantity, leverage,
			entry_time, exit_time, pnl_usd, pnl_pct, fee_usd, net_pnl_usd, net_pnl_pct,
			exit_reason, mfe_pct, mae_pct, r_multiple, signal_at_entry, indicators_at_entry
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.TradeID, trade.Symbol, string(trade.Side), trade.EntryPrice, trade.ExitPrice,
		trade.Quantity, trade.Leverage, trade.EntryTime.UTC(), trade.ExitTime.UTC(),
		trade.PnLUSD, trade.PnLPct, trade.FeeUSD, trade.NetPnLUSD, trade.NetPnLPct,
		string(trade.ExitReason), trade.MFEPct, trade.MAEPct, trade.RMultiple,
		string(sigJSON), string(indJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", op, ports.ErrQueryFailed, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: fetching insert id: %w", op, err)
	}
	r.logger.Debug(ctx, "trade record persisted", map[string]interface{}{"op": op, "id": id, "tradeID": trade.TradeID})
	return id, nil
}

// CountTodayBySymbol counts trades closed today (UTC) for a symbol.
func (r *Repository) CountTodayBySymbol(ctx context.Context, symbol string) (int, error) {
	op := "CountTodayBySymbol"
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE symbol = ? AND exit_time >= ?`,
		symbol, dayStart,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", op, ports.ErrQueryFailed, err)
	}
	return count, nil
}

// RecentBySymbol retrieves the most recent trades for a symbol, newest first.
func (r *Repository) RecentBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.TradeRecord, error) {
	op := "RecentBySymbol"
	rows, err := r.db.QueryContext(ctx,
		selectTrades+` WHERE symbol = ? ORDER BY exit_time DESC LIMIT ?`,
		symbol, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ports.ErrQueryFailed, err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ClosedSince retrieves trades closed at or after the given time, any symbol.
func (r *Repository) ClosedSince(ctx context.Context, since time.Time) ([]*domain.TradeRecord, error) {
	op := "ClosedSince"
	rows, err := r.db.QueryContext(ctx,
		selectTrades+` WHERE exit_time >= ? ORDER BY exit_time ASC`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ports.ErrQueryFailed, err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// RecordSignal appends a per-tick signal snapshot.
func (r *Repository) RecordSignal(ctx context.Context, rec *ports.SignalRecord) error {
	op := "RecordSignal"
	indJSON, err := json.Marshal(rec.Indicators)
	if err != nil {
		return fmt.Errorf("%s: marshaling indicator snapshot: %w", op, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO signals (timestamp, symbol, close, combined, confidence, detail, action, indicators)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC(), rec.Symbol, rec.Close, rec.Combined, rec.Confidence,
		rec.Detail, rec.Action, string(indJSON),
	)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ports.ErrQueryFailed, err)
	}
	return nil
}

const selectTrades = `
	SELECT id, trade_id, symbol, side, entry_price, exit_price, quantity, leverage,
		entry_time, exit_time, pnl_usd, pnl_pct, fee_usd, net_pnl_usd, net_pnl_pct,
		exit_reason, mfe_pct, mae_pct, r_multiple, signal_at_entry, indicators_at_entry
	FROM trades`

func scanTrades(rows *sql.Rows) ([]*domain.TradeRecord, error) {
	var trades []*domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var side, exitReason, sigJSON, indJSON string
		err := rows.Scan(
			&t.ID, &t.TradeID, &t.Symbol, &side, &t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.Leverage,
			&t.EntryTime, &t.ExitTime, &t.PnLUSD, &t.PnLPct, &t.FeeUSD, &t.NetPnLUSD, &t.NetPnLPct,
			&exitReason, &t.MFEPct, &t.MAEPct, &t.RMultiple, &sigJSON, &indJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning trade row: %w", err)
		}
		t.Side = domain.OrderSide(side)
		t.ExitReason = domain.ExitReason(exitReason)
		if err := json.Unmarshal([]byte(sigJSON), &t.SignalAtEntry); err != nil {
			return nil, fmt.Errorf("unmarshaling signal snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(indJSON), &t.IndicatorsAtEntry); err != nil {
			return nil, fmt.Errorf("unmarshaling indicator snapshot: %w", err)
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}
