package domain

import "time"

// Candle represents a single OHLCV candlestick. Immutable once fetched.
type Candle struct {
	OpenTime  time.Time // Start time of the interval
	CloseTime time.Time // End time of the interval
	Symbol    string    // Trading symbol
	Interval  string    // Candle interval (e.g., "1h")
	Open      float64   // Opening price
	High      float64   // Highest price
	Low       float64   // Lowest price
	Close     float64   // Closing price
	Volume    float64   // Trading volume
	IsFinal   bool      // Whether this candle is closed
}

// IsBullish reports whether the candle body closed above its open.
func (c *Candle) IsBullish() bool { return c.Close > c.Open }

// IsBearish reports whether the candle body closed below its open.
func (c *Candle) IsBearish() bool { return c.Close < c.Open }
