package chart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corelaunch/chartfeed/model/ohlc"
)

func TestChangeLastTwoCloses(t *testing.T) {
	candles := []ohlc.Candle{
		{Timestamp: 60, Close: 50},
		{Timestamp: 120, Close: 100},
		{Timestamp: 180, Close: 110},
	}

	change := Change(candles)
	require.NotNil(t, change)
	assert.InDelta(t, 10.0, change.Change, 1e-9)
	assert.InDelta(t, 10.0, change.Percent, 1e-9)
	assert.True(t, change.Positive)
}

func TestChangeNegative(t *testing.T) {
	change := Change([]ohlc.Candle{
		{Timestamp: 60, Close: 100},
		{Timestamp: 120, Close: 75},
	})
	require.NotNil(t, change)
	assert.InDelta(t, -25.0, change.Change, 1e-9)
	assert.InDelta(t, -25.0, change.Percent, 1e-9)
	assert.False(t, change.Positive)
}

func TestChangeFlatCountsAsPositive(t *testing.T) {
	change := Change([]ohlc.Candle{
		{Timestamp: 60, Close: 5},
		{Timestamp: 120, Close: 5},
	})
	require.NotNil(t, change)
	assert.Zero(t, change.Change)
	assert.True(t, change.Positive)
}

func TestChangeTooFewCandles(t *testing.T) {
	assert.Nil(t, Change(nil))
	assert.Nil(t, Change([]ohlc.Candle{{Timestamp: 60, Close: 5}}))
}

func TestChangeZeroPreviousClose(t *testing.T) {
	change := Change([]ohlc.Candle{
		{Timestamp: 60, Close: 0},
		{Timestamp: 120, Close: 3},
	})
	require.NotNil(t, change)
	assert.Equal(t, 3.0, change.Change)
	assert.Zero(t, change.Percent, "no division by a zero close")
}

func TestLatestPrice(t *testing.T) {
	candles := []ohlc.Candle{{Timestamp: 60, Close: 4.2}}
	fallback := &ohlc.PricePoint{Price: 9.9, Timestamp: 30}

	price, ok := LatestPrice(candles, fallback)
	assert.True(t, ok)
	assert.Equal(t, 4.2, price, "candle close wins over the trade fallback")

	price, ok = LatestPrice(nil, fallback)
	assert.True(t, ok)
	assert.Equal(t, 9.9, price)

	_, ok = LatestPrice(nil, nil)
	assert.False(t, ok)
}
