package binanceclient

import (
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateBinanceKline(t *testing.T) {
	now := time.Now()
	bk := &futures.Kline{
		OpenTime:  now.Add(-time.Hour).UnixMilli(),
		CloseTime: now.Add(-time.Minute).UnixMilli(),
		Open:      "0.5000",
		High:      "0.5200",
		Low:       "0.4950",
		Close:     "0.5150",
		Volume:    "120000",
	}

	c, err := translateBinanceKline(bk, "XRPUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, "XRPUSDT", c.Symbol)
	assert.InDelta(t, 0.5, c.Open, 1e-9)
	assert.InDelta(t, 0.515, c.Close, 1e-9)
	assert.True(t, c.IsFinal, "a kline whose close time has passed is final")
}

func TestTranslateBinanceKlineMarksUnfinishedCandle(t *testing.T) {
	now := time.Now()
	bk := &futures.Kline{
		OpenTime:  now.Add(-10 * time.Minute).UnixMilli(),
		CloseTime: now.Add(50 * time.Minute).UnixMilli(),
		Open:      "0.5000",
		High:      "0.5050",
		Low:       "0.4990",
		Close:     "0.5020",
		Volume:    "8000",
	}

	c, err := translateBinanceKline(bk, "XRPUSDT", "1h")
	require.NoError(t, err)
	assert.False(t, c.IsFinal, "a kline still in progress must not be marked final")
}

func TestTranslateBinanceKlineRejectsBadNumbers(t *testing.T) {
	_, err := translateBinanceKline(&futures.Kline{Open: "not-a-price"}, "XRPUSDT", "1h")
	assert.Error(t, err)

	_, err = translateBinanceKline(nil, "XRPUSDT", "1h")
	assert.Error(t, err)
}
