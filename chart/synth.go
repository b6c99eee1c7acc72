package chart

import (
	"sort"
	"time"

	"github.com/corelaunch/chartfeed/interval"
	"github.com/corelaunch/chartfeed/model/ohlc"
)

// BucketKey aligns a trade timestamp to its candle bucket start.
// Sub-day intervals floor to an epoch multiple of the bucket length;
// OneDay truncates to UTC midnight and OneWeek to the Monday 00:00 UTC
// of the trade's week, with Sunday counting as the sixth day of the
// preceding week.
func BucketKey(ts int64, iv interval.Interval) (int64, error) {
	spec, err := interval.Lookup(iv)
	if err != nil {
		return 0, err
	}
	switch iv {
	case interval.OneDay:
		t := time.Unix(ts, 0).UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix(), nil
	case interval.OneWeek:
		t := time.Unix(ts, 0).UTC()
		daysSinceMonday := (int(t.Weekday()) + 6) % 7
		monday := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).
			AddDate(0, 0, -daysSinceMonday)
		return monday.Unix(), nil
	default:
		return ts / spec.BucketSeconds * spec.BucketSeconds, nil
	}
}

// SynthesizeFromTrades is the fallback path used when the indexing
// service has no pre-aggregated candles for the requested range: it
// buckets validated trades into OHLC+volume candles. Trades outside
// [from, to] are ignored and zero surviving trades yield an empty
// series, not an error.
//
// Within a bucket trades are stable-sorted by timestamp, so equal
// timestamps keep their original slice order; open and close are the
// first and last trade's price under that ordering. Volume is the sum
// of quote-asset amounts. A bucket whose derived OHLC contains a
// non-positive value is dropped whole rather than crashing the chart.
func SynthesizeFromTrades(trades []ohlc.Trade, iv interval.Interval, from, to int64) (ohlc.Series, error) {
	if _, err := interval.Lookup(iv); err != nil {
		return ohlc.Series{}, err
	}

	buckets := make(map[int64][]ohlc.Trade)
	for _, tr := range trades {
		if tr.Timestamp < from || tr.Timestamp > to {
			continue
		}
		key, err := BucketKey(tr.Timestamp, iv)
		if err != nil {
			return ohlc.Series{}, err
		}
		buckets[key] = append(buckets[key], tr)
	}
	if len(buckets) == 0 {
		return ohlc.Series{}, nil
	}

	keys := make([]int64, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	series := ohlc.Series{
		Candles: make([]ohlc.Candle, 0, len(keys)),
		Volumes: make([]ohlc.VolumeBar, 0, len(keys)),
	}

	for _, key := range keys {
		group := buckets[key]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Timestamp < group[j].Timestamp })

		open := group[0].Price
		close := group[len(group)-1].Price
		high, low := open, open
		var volume float64
		for _, tr := range group {
			if tr.Price > high {
				high = tr.Price
			}
			if tr.Price < low {
				low = tr.Price
			}
			volume += tr.QuoteAmount
		}

		if !validPrice(open) || !validPrice(high) || !validPrice(low) || !validPrice(close) {
			continue
		}

		series.Candles = append(series.Candles, ohlc.Candle{
			Timestamp: key,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Trades:    len(group),
		})
		series.Volumes = append(series.Volumes, ohlc.VolumeBar{
			Timestamp: key,
			Value:     volume,
			Up:        close >= open,
		})
	}

	return series, nil
}
