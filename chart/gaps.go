package chart

import (
	"time"

	"github.com/corelaunch/chartfeed/interval"
	"github.com/corelaunch/chartfeed/model/ohlc"
)

// Fillable reports whether iv gets flat candles for empty buckets.
// Longer intervals deliberately keep the gap so the chart shows a
// break instead of a wall of flat candles.
func Fillable(iv interval.Interval) bool {
	switch iv {
	case interval.OneMinute, interval.FiveMinutes, interval.FifteenMinutes:
		return true
	}
	return false
}

// FillGaps walks the [from, to] range bucket by bucket and inserts a
// flat candle at the previous real close for every empty bucket, but
// only for the sub-hour intervals. Buckets before the first real
// candle are never filled. Stepping is calendar-aware for OneDay and
// OneWeek so the walk stays aligned across UTC month and year
// boundaries.
func FillGaps(candles []ohlc.Candle, iv interval.Interval, from, to int64) ([]ohlc.Candle, error) {
	spec, err := interval.Lookup(iv)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, nil
	}

	existing := make(map[int64]ohlc.Candle, len(candles))
	for _, c := range candles {
		existing[c.Timestamp] = c
	}

	cursor, err := BucketKey(from, iv)
	if err != nil {
		return nil, err
	}

	filled := make([]ohlc.Candle, 0, len(candles))
	var lastClose float64

	for cursor <= to {
		if c, ok := existing[cursor]; ok {
			filled = append(filled, c)
			lastClose = c.Close
		} else if len(filled) > 0 && Fillable(iv) {
			filled = append(filled, ohlc.Candle{
				Timestamp: cursor,
				Open:      lastClose,
				High:      lastClose,
				Low:       lastClose,
				Close:     lastClose,
			})
		}

		switch iv {
		case interval.OneDay:
			cursor = time.Unix(cursor, 0).UTC().AddDate(0, 0, 1).Unix()
		case interval.OneWeek:
			cursor = time.Unix(cursor, 0).UTC().AddDate(0, 0, 7).Unix()
		default:
			cursor += spec.BucketSeconds
		}
	}

	return filled, nil
}
