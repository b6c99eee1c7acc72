package chart

import (
	"sort"
	"strconv"

	"github.com/corelaunch/chartfeed/model/ohlc"
)

// TransformCandles converts pre-aggregated indexer rows into a chart
// series. Rows with a non-positive timestamp or any malformed or
// non-positive OHLC field are dropped individually; a bad row never
// fails the batch. A candle with a malformed or negative volume keeps
// its place in the candle series but gets no volume bar. Output is
// sorted ascending by timestamp regardless of input order, and the
// function is pure: same rows in, same series out.
func TransformCandles(rows []ohlc.RawCandle, decimals int32) ohlc.Series {
	candles := make([]ohlc.Candle, 0, len(rows))
	volumes := make([]ohlc.VolumeBar, 0, len(rows))

	for _, row := range rows {
		ts, ok := parseTimestamp(row.Timestamp)
		if !ok {
			continue
		}
		open, okO := parseFixed(row.Open, decimals)
		high, okH := parseFixed(row.High, decimals)
		low, okL := parseFixed(row.Low, decimals)
		close, okC := parseFixed(row.Close, decimals)
		if !okO || !okH || !okL || !okC {
			continue
		}
		if !validPrice(open) || !validPrice(high) || !validPrice(low) || !validPrice(close) {
			continue
		}

		trades, _ := strconv.Atoi(row.Trades)
		candles = append(candles, ohlc.Candle{
			Timestamp: ts,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Trades:    trades,
		})

		if vol, ok := parseFixed(row.Volume, decimals); ok && vol >= 0 {
			volumes = append(volumes, ohlc.VolumeBar{
				Timestamp: ts,
				Value:     vol,
				Up:        close >= open,
			})
		}
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp < candles[j].Timestamp })
	sort.Slice(volumes, func(i, j int) bool { return volumes[i].Timestamp < volumes[j].Timestamp })

	return ohlc.Series{Candles: candles, Volumes: volumes}
}

// ParseTrades applies the ingestion boundary to raw trade rows: rows
// with a bad timestamp or a non-positive price are rejected here so the
// bucketing logic only ever sees well-formed trades. Relative input
// order is preserved.
func ParseTrades(rows []ohlc.RawTrade, decimals int32) []ohlc.Trade {
	out := make([]ohlc.Trade, 0, len(rows))
	for _, row := range rows {
		ts, ok := parseTimestamp(row.Timestamp)
		if !ok {
			continue
		}
		price, ok := parseFixed(row.Price, decimals)
		if !ok || !validPrice(price) {
			continue
		}
		// Amounts are tolerated at zero; a trade with an unreadable
		// amount still moves the price.
		quote, _ := parseFixed(row.QuoteAmount, decimals)
		base, _ := parseFixed(row.BaseAmount, decimals)

		out = append(out, ohlc.Trade{
			ID:          row.ID,
			Timestamp:   ts,
			Price:       price,
			QuoteAmount: quote,
			BaseAmount:  base,
			IsBuy:       row.IsBuy,
			TxHash:      row.TxHash,
		})
	}
	return out
}

// ParsePrice converts a latest-price row; nil for malformed rows.
func ParsePrice(row *ohlc.RawPrice, decimals int32) *ohlc.PricePoint {
	if row == nil {
		return nil
	}
	price, ok := parseFixed(row.Price, decimals)
	if !ok || !validPrice(price) {
		return nil
	}
	ts, ok := parseTimestamp(row.Timestamp)
	if !ok {
		return nil
	}
	return &ohlc.PricePoint{Price: price, Timestamp: ts}
}
