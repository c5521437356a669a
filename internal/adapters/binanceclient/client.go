// Package binanceclient implements ports.ExchangeClient against Binance
// USDT-margined futures.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"

	"quadbot/internal/domain"
	"quadbot/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements the ports.ExchangeClient interface using the go-binance library.
type Client struct {
	futuresClient    *futures.Client
	logger           ports.Logger
	maxRetryAttempts int
	retryBaseDelay   time.Duration

	// Last known protective order IDs per symbol, so the trailing ratchet can
	// replace only the stop leg.
	stopOrderIDs map[string]int64
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey           string
	SecretKey        string
	UseTestnet       bool
	Logger           ports.Logger
	MaxRetryAttempts int           // Retries for transient failures on read calls
	RetryBaseDelay   time.Duration // Initial backoff delay (e.g., 500ms)
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	maxAttempts := cfg.MaxRetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}

	return &Client{
		futuresClient:    client,
		logger:           cfg.Logger,
		maxRetryAttempts: maxAttempts,
		retryBaseDelay:   baseDelay,
		stopOrderIDs:     make(map[string]int64),
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderNotFound
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014: // API-key format invalid
			mappedErr = ports.ErrInvalidAPIKeys
		case -2015: // Invalid API-key, IP, or permissions for action
			mappedErr = ports.ErrInvalidAPIKeys
		case -2019: // Margin is insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -2022: // ReduceOnly Order is rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -3005: // Insufficient balance
			mappedErr = ports.ErrInsufficientFunds
		case -3041: // Position is not sufficient
			mappedErr = ports.ErrInsufficientFunds
		case -4003: // Qty not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4014: // Price not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4015: // Leverage is not valid
			mappedErr = ports.ErrInvalidRequest
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		case -4047: // Exceeded the maximum allowable position at current leverage.
			mappedErr = ports.ErrInsufficientFunds
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// withRetry runs fn with bounded exponential backoff, retrying only errors
// classified as transient. Order placement never goes through here.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	b := &backoff.Backoff{
		Min:    c.retryBaseDelay,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !ports.IsTransient(err) || attempt >= c.maxRetryAttempts {
			return err
		}
		delay := b.Duration()
		c.logger.Warn(ctx, op+": transient failure, retrying", map[string]interface{}{
			"attempt": attempt + 1, "maxAttempts": c.maxRetryAttempts, "delay": delay.String(), "error": err.Error(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w: %w", op, ports.ErrContextCanceled, ctx.Err())
		}
	}
}

// GetCandles retrieves the most recent closed candles, oldest first.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	op := "GetCandles"
	var candles []*domain.Candle
	err := c.withRetry(ctx, op, func() error {
		binanceKlines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		candles = make([]*domain.Candle, 0, len(binanceKlines))
		for _, bk := range binanceKlines {
			dc, err := translateBinanceKline(bk, symbol, interval)
			if err != nil {
				return c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
			}
			candles = append(candles, dc)
		}
		return nil
	})
	return candles, err
}

// GetBalance retrieves account equity and available balance for the quote asset.
func (c *Client) GetBalance(ctx context.Context) (ports.Balance, error) {
	op := "GetBalance"
	var balance ports.Balance
	err := c.withRetry(ctx, op, func() error {
		account, err := c.futuresClient.NewGetAccountService().Do(ctx)
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		equity, err := strconv.ParseFloat(account.TotalMarginBalance, 64)
		if err != nil {
			return c.handleError(ctx, fmt.Errorf("could not parse margin balance '%s': %w", account.TotalMarginBalance, err), op)
		}
		available, err := strconv.ParseFloat(account.AvailableBalance, 64)
		if err != nil {
			return c.handleError(ctx, fmt.Errorf("could not parse available balance '%s': %w", account.AvailableBalance, err), op)
		}
		balance = ports.Balance{Equity: equity, Available: available}
		return nil
	})
	return balance, err
}

// GetPosition retrieves the open position for a symbol, nil when flat.
func (c *Client) GetPosition(ctx context.Context, symbol string) (*ports.ExchangePosition, error) {
	op := "GetPosition"
	var position *ports.ExchangePosition
	err := c.withRetry(ctx, op, func() error {
		positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		position = nil
		if len(positions) == 0 {
			c.logger.Debug(ctx, op+": no position found for symbol", map[string]interface{}{"symbol": symbol})
			return nil
		}

		// One-way position mode: a single entry per symbol.
		binancePos := positions[0]
		qty, _ := strconv.ParseFloat(binancePos.PositionAmt, 64)
		if qty == 0 {
			return nil
		}
		position = translatePosition(binancePos, qty)
		return nil
	})
	return position, err
}

// GetTicker retrieves the latest price and best bid/ask for a symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (ports.Ticker, error) {
	op := "GetTicker"
	var ticker ports.Ticker
	err := c.withRetry(ctx, op, func() error {
		books, err := c.futuresClient.NewListBookTickersService().Symbol(symbol).Do(ctx)
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		if len(books) == 0 {
			return c.handleError(ctx, fmt.Errorf("no book ticker returned for symbol %s", symbol), op)
		}
		bid, err := strconv.ParseFloat(books[0].BidPrice, 64)
		if err != nil {
			return c.handleError(ctx, fmt.Errorf("could not parse bid price '%s': %w", books[0].BidPrice, err), op)
		}
		ask, err := strconv.ParseFloat(books[0].AskPrice, 64)
		if err != nil {
			return c.handleError(ctx, fmt.Errorf("could not parse ask price '%s': %w", books[0].AskPrice, err), op)
		}

		prices, err := c.futuresClient.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		last := (bid + ask) / 2
		if len(prices) > 0 {
			if p, perr := strconv.ParseFloat(prices[0].Price, 64); perr == nil {
				last = p
			}
		}
		ticker = ports.Ticker{LastPrice: last, Bid: bid, Ask: ask}
		return nil
	})
	return ticker, err
}

// GetInstrumentInfo retrieves quantity/price precision rules for a symbol.
func (c *Client) GetInstrumentInfo(ctx context.Context, symbol string) (ports.InstrumentInfo, error) {
	op := "GetInstrumentInfo"
	var info ports.InstrumentInfo
	err := c.withRetry(ctx, op, func() error {
		exchangeInfo, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		for _, s := range exchangeInfo.Symbols {
			if s.Symbol != symbol {
				continue
			}
			info = ports.InstrumentInfo{Symbol: symbol}
			if lot := s.LotSizeFilter(); lot != nil {
				info.QtyStep, _ = strconv.ParseFloat(lot.StepSize, 64)
				info.MinQty, _ = strconv.ParseFloat(lot.MinQuantity, 64)
			}
			if pf := s.PriceFilter(); pf != nil {
				info.TickSize, _ = strconv.ParseFloat(pf.TickSize, 64)
			}
			return nil
		}
		return c.handleError(ctx, fmt.Errorf("symbol %s not found in exchange info: %w", symbol, ports.ErrNotFound), op)
	})
	return info, err
}

// PlaceMarketOrder places a market order. Not retried; a timeout here may
// still have filled and the next reconciliation pass will pick it up.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*ports.OrderResponse, error) {
	op := "PlaceMarketOrder"
	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(formatQty(quantity)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": side, "quantity": quantity, "orderID": resp.OrderID, "avgPrice": resp.AvgPrice})
	return resp, nil
}

// ClosePosition places a reduce-only market order on the opposite side of
// the held position.
func (c *Client) ClosePosition(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*ports.OrderResponse, error) {
	op := "ClosePosition"
	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side.Opposite())).
		Type(futures.OrderTypeMarket).
		Quantity(formatQty(quantity)).
		ReduceOnly(true).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	// The closing order supersedes any resting protective orders.
	c.cancelAllOpenOrders(ctx, symbol)
	delete(c.stopOrderIDs, symbol)

	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": side.Opposite(), "quantity": quantity, "orderID": resp.OrderID, "avgPrice": resp.AvgPrice})
	return resp, nil
}

// SetProtectiveStops replaces the server-side stop-loss and take-profit for
// the open position. Any previously resting protective orders are cancelled
// first.
func (c *Client) SetProtectiveStops(ctx context.Context, symbol string, side domain.OrderSide, stopPrice, takeProfitPrice float64) error {
	op := "SetProtectiveStops"
	c.cancelAllOpenOrders(ctx, symbol)

	exitSide := futures.SideType(side.Opposite())

	stopOrder, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(exitSide).
		Type(futures.OrderTypeStopMarket).
		StopPrice(formatPrice(stopPrice)).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.stopOrderIDs[symbol] = stopOrder.OrderID

	_, err = c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(exitSide).
		Type(futures.OrderTypeTakeProfitMarket).
		StopPrice(formatPrice(takeProfitPrice)).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "stopPrice": stopPrice, "takeProfitPrice": takeProfitPrice,
	})
	return nil
}

// UpdateStopLoss replaces only the stop leg, used by the trailing ratchet.
func (c *Client) UpdateStopLoss(ctx context.Context, symbol string, side domain.OrderSide, stopPrice float64) error {
	op := "UpdateStopLoss"
	if orderID, ok := c.stopOrderIDs[symbol]; ok {
		// A missing order just means a protective leg already fired.
		if _, err := c.futuresClient.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx); err != nil {
			c.logger.Warn(ctx, op+": could not cancel previous stop order", map[string]interface{}{
				"symbol": symbol, "orderID": orderID, "error": err.Error(),
			})
		}
	}

	stopOrder, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side.Opposite())).
		Type(futures.OrderTypeStopMarket).
		StopPrice(formatPrice(stopPrice)).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.stopOrderIDs[symbol] = stopOrder.OrderID

	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "stopPrice": stopPrice, "orderID": stopOrder.OrderID})
	return nil
}

// SetLeverage sets the leverage for a specific symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// GetServerTime retrieves the current server time from the exchange.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	op := "GetServerTime"
	var serverTime time.Time
	err := c.withRetry(ctx, op, func() error {
		serverTimeMs, err := c.futuresClient.NewServerTimeService().Do(ctx)
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		serverTime = time.UnixMilli(serverTimeMs)
		return nil
	})
	return serverTime, err
}

// cancelAllOpenOrders clears resting orders for a symbol, best effort.
func (c *Client) cancelAllOpenOrders(ctx context.Context, symbol string) {
	err := c.futuresClient.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		c.logger.Warn(ctx, "CancelAllOpenOrders failed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
	}
}

// --- Translation Helpers ---

func translateOrderResponse(order *futures.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderResponse{
		OrderID:      order.OrderID,
		Symbol:       order.Symbol,
		AvgPrice:     avgPrice,
		OrigQuantity: origQty,
		ExecutedQty:  execQty,
		Status:       string(order.Status),
		Side:         string(order.Side),
		Timestamp:    time.UnixMilli(order.UpdateTime),
	}
}

func translatePosition(pos *futures.PositionRisk, qty float64) *ports.ExchangePosition {
	entryPrice, _ := strconv.ParseFloat(pos.EntryPrice, 64)
	markPrice, _ := strconv.ParseFloat(pos.MarkPrice, 64)
	unProfit, _ := strconv.ParseFloat(pos.UnRealizedProfit, 64)
	leverage, _ := strconv.Atoi(pos.Leverage) // Leverage is string in go-binance

	side := domain.Buy
	if qty < 0 {
		side = domain.Sell
		qty = -qty
	}
	return &ports.ExchangePosition{
		Symbol:        pos.Symbol,
		Side:          side,
		Quantity:      qty,
		EntryPrice:    entryPrice,
		MarkPrice:     markPrice,
		UnrealizedPnL: unProfit,
		Leverage:      leverage,
	}
}

func translateBinanceKline(bk *futures.Kline, symbol, interval string) (*domain.Candle, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return &domain.Candle{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		// The REST endpoint includes the kline still in progress; it is
		// final only once its close time has passed.
		IsFinal: !time.UnixMilli(bk.CloseTime).After(time.Now()),
	}, nil
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
