// Package interval is the fixed catalog of chart intervals: bucket
// lengths, lookback windows, poll rates and the rounding grid used to
// keep query time ranges stable between refreshes.
package interval

import (
	"errors"
	"fmt"
	"time"
)

// Interval identifies one candle granularity.
type Interval string

const (
	OneMinute      Interval = "1m"
	FiveMinutes    Interval = "5m"
	FifteenMinutes Interval = "15m"
	OneHour        Interval = "1h"
	FourHours      Interval = "4h"
	OneDay         Interval = "1d"
	OneWeek        Interval = "1w"
)

// ErrUnknownInterval is returned for any interval outside the catalog.
// Lookups never fall back to a default bucket size; a bad interval is a
// programming error and has to surface immediately.
var ErrUnknownInterval = errors.New("interval: unknown interval")

// Spec carries everything the feed needs to know about one interval.
type Spec struct {
	// BucketSeconds is the candle bucket length. For OneDay and OneWeek
	// it is nominal only: those intervals bucket by UTC calendar
	// boundaries, not by epoch modulo.
	BucketSeconds int64

	// LookbackSeconds is how far back the default query range reaches.
	LookbackSeconds int64

	// Poll is the recommended full-refresh period. The controller
	// enforces a separate floor on the actual tick rate.
	Poll time.Duration

	// GridSeconds is the granularity "now" is floored to before the
	// query range is derived, so consecutive refreshes within one grid
	// step reuse the same range. Equal to the bucket length.
	GridSeconds int64

	Label string
}

var catalog = map[Interval]Spec{
	OneMinute:      {60, 4 * 3600, 10 * time.Second, 60, "1 Minute"},
	FiveMinutes:    {300, 24 * 3600, 30 * time.Second, 300, "5 Minutes"},
	FifteenMinutes: {900, 24 * 3600, 60 * time.Second, 900, "15 Minutes"},
	OneHour:        {3600, 7 * 86400, 5 * time.Minute, 3600, "1 Hour"},
	FourHours:      {14400, 30 * 86400, 15 * time.Minute, 14400, "4 Hours"},
	OneDay:         {86400, 180 * 86400, time.Hour, 86400, "1 Day"},
	OneWeek:        {604800, 2 * 365 * 86400, 6 * time.Hour, 604800, "1 Week"},
}

// All lists the catalog in ascending bucket order.
func All() []Interval {
	return []Interval{OneMinute, FiveMinutes, FifteenMinutes, OneHour, FourHours, OneDay, OneWeek}
}

// Lookup resolves iv against the catalog.
func Lookup(iv Interval) (Spec, error) {
	spec, ok := catalog[iv]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownInterval, iv)
	}
	return spec, nil
}

// Calendar reports whether iv buckets by UTC calendar boundaries
// instead of epoch arithmetic.
func Calendar(iv Interval) bool {
	return iv == OneDay || iv == OneWeek
}

// Range derives the stable query range for iv at the given wall clock:
// to = now floored to the grid, from = to - lookback.
func Range(iv Interval, now time.Time) (from, to int64, err error) {
	spec, err := Lookup(iv)
	if err != nil {
		return 0, 0, err
	}
	to = now.Unix() / spec.GridSeconds * spec.GridSeconds
	return to - spec.LookbackSeconds, to, nil
}
