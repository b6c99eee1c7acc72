package chart

import "github.com/corelaunch/chartfeed/model/ohlc"

// Change derives the period-over-period move from the last two candles
// of a series. Fewer than two candles yields nil; a zero previous
// close yields a zero percent change instead of dividing by zero.
func Change(candles []ohlc.Candle) *ohlc.PriceChange {
	if len(candles) < 2 {
		return nil
	}
	last := candles[len(candles)-1].Close
	prev := candles[len(candles)-2].Close

	change := last - prev
	var percent float64
	if prev > 0 {
		percent = change / prev * 100
	}
	return &ohlc.PriceChange{
		Change:   change,
		Percent:  percent,
		Positive: change >= 0,
	}
}

// LatestPrice picks the freshest price the feed knows: the last
// candle's close when the series has candles, otherwise the most
// recent single trade if one was observed.
func LatestPrice(candles []ohlc.Candle, fallback *ohlc.PricePoint) (float64, bool) {
	if len(candles) > 0 {
		return candles[len(candles)-1].Close, true
	}
	if fallback != nil {
		return fallback.Price, true
	}
	return 0, false
}
