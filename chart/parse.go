// Package chart turns raw indexer rows into render-ready candle and
// volume series: parse-and-validate boundary, trade-to-candle
// synthesis, gap filling and price-change derivation.
package chart

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed-point shift of the indexer's integer-string
// encoding (18-decimal base units).
const Decimals = 18

// parseFixed converts a base-unit integer string into a float64 price
// or amount. ok is false when the field is missing, unparsable or not
// representable as a finite float.
func parseFixed(s string, decimals int32) (float64, bool) {
	if s == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	v := d.Shift(-decimals).InexactFloat64()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// parseTimestamp parses a unix-seconds string; ok is false for
// malformed or non-positive values.
func parseTimestamp(s string) (int64, bool) {
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ts <= 0 {
		return 0, false
	}
	return ts, true
}

// validPrice accepts finite, strictly positive values. Zero or
// negative prices in the source are malformed rows, not real quotes.
func validPrice(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}
