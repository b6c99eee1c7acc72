package chart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corelaunch/chartfeed/model/ohlc"
)

// fp renders a price as the indexer's 18-decimal base-unit string.
func fp(v float64) string {
	return decimal.NewFromFloat(v).Shift(Decimals).String()
}

func rawCandle(ts int64, o, h, l, c, vol float64) ohlc.RawCandle {
	return ohlc.RawCandle{
		Timestamp: itoa(ts),
		Open:      fp(o),
		High:      fp(h),
		Low:       fp(l),
		Close:     fp(c),
		Volume:    fp(vol),
		Trades:    "3",
	}
}

func itoa(v int64) string {
	return decimal.NewFromInt(v).String()
}

func TestTransformCandlesSortsAscending(t *testing.T) {
	rows := []ohlc.RawCandle{
		rawCandle(600, 2, 3, 1, 2.5, 10),
		rawCandle(300, 1, 2, 0.5, 1.5, 5),
		rawCandle(900, 3, 4, 2, 3.5, 7),
	}

	series := TransformCandles(rows, Decimals)
	require.Len(t, series.Candles, 3)
	assert.Equal(t, []int64{300, 600, 900}, timestamps(series.Candles))
	require.Len(t, series.Volumes, 3)
	assert.Equal(t, int64(300), series.Volumes[0].Timestamp)

	first := series.Candles[0]
	assert.Equal(t, 1.0, first.Open)
	assert.Equal(t, 2.0, first.High)
	assert.Equal(t, 0.5, first.Low)
	assert.Equal(t, 1.5, first.Close)
	assert.Equal(t, 3, first.Trades)
}

func TestTransformCandlesDropsMalformedRows(t *testing.T) {
	good := rawCandle(300, 1, 2, 0.5, 1.5, 5)

	bad := []ohlc.RawCandle{
		{Timestamp: "0", Open: fp(1), High: fp(2), Low: fp(1), Close: fp(1), Volume: fp(1)},
		{Timestamp: "-5", Open: fp(1), High: fp(2), Low: fp(1), Close: fp(1), Volume: fp(1)},
		{Timestamp: "nope", Open: fp(1), High: fp(2), Low: fp(1), Close: fp(1), Volume: fp(1)},
		{Timestamp: "300", Open: "garbage", High: fp(2), Low: fp(1), Close: fp(1), Volume: fp(1)},
		{Timestamp: "300", Open: fp(0), High: fp(2), Low: fp(1), Close: fp(1), Volume: fp(1)},
		{Timestamp: "300", Open: fp(1), High: fp(2), Low: fp(-1), Close: fp(1), Volume: fp(1)},
		{Timestamp: "300", Open: fp(1), High: "", Low: fp(1), Close: fp(1), Volume: fp(1)},
	}

	series := TransformCandles(append(bad, good), Decimals)
	require.Len(t, series.Candles, 1, "only the well-formed row survives")
	assert.Equal(t, int64(300), series.Candles[0].Timestamp)
}

func TestTransformCandlesBadVolumeKeepsCandle(t *testing.T) {
	row := rawCandle(300, 1, 2, 0.5, 1.5, 5)
	row.Volume = "not-a-number"
	negative := rawCandle(600, 1, 2, 0.5, 1.5, 5)
	negative.Volume = fp(-3)

	series := TransformCandles([]ohlc.RawCandle{row, negative}, Decimals)
	assert.Len(t, series.Candles, 2, "candles render without their volume")
	assert.Empty(t, series.Volumes)
}

func TestTransformCandlesVolumeDirection(t *testing.T) {
	up := rawCandle(300, 1, 2, 0.5, 1.5, 5)    // close > open
	down := rawCandle(600, 2, 2.5, 1, 1.2, 5)  // close < open
	equal := rawCandle(900, 2, 2.5, 1.5, 2, 5) // close == open counts as up

	series := TransformCandles([]ohlc.RawCandle{up, down, equal}, Decimals)
	require.Len(t, series.Volumes, 3)
	assert.True(t, series.Volumes[0].Up)
	assert.False(t, series.Volumes[1].Up)
	assert.True(t, series.Volumes[2].Up)
}

func TestTransformCandlesIdempotent(t *testing.T) {
	rows := []ohlc.RawCandle{
		rawCandle(600, 2, 3, 1, 2.5, 10),
		rawCandle(300, 1, 2, 0.5, 1.5, 5),
	}

	first := TransformCandles(rows, Decimals)
	second := TransformCandles(rows, Decimals)
	assert.Equal(t, first, second)
}

func TestTransformCandlesEmpty(t *testing.T) {
	series := TransformCandles(nil, Decimals)
	assert.Empty(t, series.Candles)
	assert.Empty(t, series.Volumes)
}

func TestParseTradesBoundary(t *testing.T) {
	rows := []ohlc.RawTrade{
		{ID: "a", Timestamp: "100", Price: fp(10), QuoteAmount: fp(2), BaseAmount: fp(1), IsBuy: true},
		{ID: "b", Timestamp: "bad", Price: fp(10)},
		{ID: "c", Timestamp: "100", Price: fp(0)},
		{ID: "d", Timestamp: "100", Price: "junk"},
		{ID: "e", Timestamp: "200", Price: fp(5), QuoteAmount: "junk"},
	}

	trades := ParseTrades(rows, Decimals)
	require.Len(t, trades, 2)

	assert.Equal(t, "a", trades[0].ID)
	assert.Equal(t, int64(100), trades[0].Timestamp)
	assert.Equal(t, 10.0, trades[0].Price)
	assert.Equal(t, 2.0, trades[0].QuoteAmount)
	assert.True(t, trades[0].IsBuy)

	// Unreadable amounts degrade to zero; the trade still moves price.
	assert.Equal(t, "e", trades[1].ID)
	assert.Zero(t, trades[1].QuoteAmount)
}

func TestParsePrice(t *testing.T) {
	pp := ParsePrice(&ohlc.RawPrice{Price: fp(1.5), Timestamp: "1000"}, Decimals)
	require.NotNil(t, pp)
	assert.Equal(t, 1.5, pp.Price)
	assert.Equal(t, int64(1000), pp.Timestamp)

	assert.Nil(t, ParsePrice(nil, Decimals))
	assert.Nil(t, ParsePrice(&ohlc.RawPrice{Price: "junk", Timestamp: "1000"}, Decimals))
	assert.Nil(t, ParsePrice(&ohlc.RawPrice{Price: fp(0), Timestamp: "1000"}, Decimals))
	assert.Nil(t, ParsePrice(&ohlc.RawPrice{Price: fp(1), Timestamp: "0"}, Decimals))
}

func timestamps(candles []ohlc.Candle) []int64 {
	out := make([]int64, len(candles))
	for i, c := range candles {
		out[i] = c.Timestamp
	}
	return out
}
