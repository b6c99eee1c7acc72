// Package cache is the explicit query cache the feed layers over the
// indexing service. The original system relied on framework-level
// cache state with per-field merge functions; here every merge policy
// is a named, documented rule on an injectable object.
package cache

import (
	"sort"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/corelaunch/chartfeed/model/ohlc"
	"github.com/corelaunch/chartfeed/model/token"
)

// Cache accumulates query results across refresh cycles.
// Merge policies:
//   - trades are deduplicated by trade id, a re-fetched id replaces
//     the stored row, and the window is kept sorted ascending by
//     timestamp (ties by id);
//   - holders are deduplicated by address keeping the larger balance,
//     and listed largest-balance-first;
//   - token list pages merge positionally by pagination offset.
type Cache struct {
	mu     sync.Mutex
	trades map[string]map[string]ohlc.RawTrade // window key → trade id → row
}

func New() *Cache {
	return &Cache{trades: make(map[string]map[string]ohlc.RawTrade)}
}

// MergeTrades folds incoming rows into the trade window identified by
// key (one window per token) and returns the full deduplicated window.
func (c *Cache) MergeTrades(key string, incoming []ohlc.RawTrade) []ohlc.RawTrade {
	c.mu.Lock()
	defer c.mu.Unlock()

	window, ok := c.trades[key]
	if !ok {
		window = make(map[string]ohlc.RawTrade, len(incoming))
		c.trades[key] = window
	}
	for _, tr := range incoming {
		window[tr.ID] = tr
	}
	return sortedWindow(window)
}

// Trades returns the current deduplicated window for key, ascending by
// timestamp.
func (c *Cache) Trades(key string) []ohlc.RawTrade {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedWindow(c.trades[key])
}

func sortedWindow(window map[string]ohlc.RawTrade) []ohlc.RawTrade {
	out := make([]ohlc.RawTrade, 0, len(window))
	for _, tr := range window {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, _ := strconv.ParseInt(out[i].Timestamp, 10, 64)
		tj, _ := strconv.ParseInt(out[j].Timestamp, 10, 64)
		if ti != tj {
			return ti < tj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// PruneTrades drops window rows whose timestamp string parses below
// cutoff, keeping the window bounded to the current lookback. Rows
// with unparsable timestamps are dropped too; they can never render.
func (c *Cache) PruneTrades(key string, cutoff int64, parse func(string) (int64, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := c.trades[key]
	for id, tr := range window {
		ts, ok := parse(tr.Timestamp)
		if !ok || ts < cutoff {
			delete(window, id)
		}
	}
}

// DropTrades clears one token's trade window (used when a chart
// subscription is torn down).
func (c *Cache) DropTrades(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.trades, key)
}

// MergeHolders combines two holder lists by address. When an address
// appears in both, the larger balance wins; the result is ordered
// largest balance first, ties by address for determinism.
func MergeHolders(existing, incoming []token.Holder) []token.Holder {
	byAddr := make(map[string]token.Holder, len(existing)+len(incoming))
	for _, h := range existing {
		byAddr[h.Address] = h
	}
	for _, h := range incoming {
		if prev, ok := byAddr[h.Address]; ok && cmpBalance(prev.Balance, h.Balance) >= 0 {
			continue
		}
		byAddr[h.Address] = h
	}

	out := make([]token.Holder, 0, len(byAddr))
	for _, h := range byAddr {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := cmpBalance(out[i].Balance, out[j].Balance); c != 0 {
			return c > 0
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// cmpBalance compares two wire-encoded balances numerically; an
// unparsable balance compares below any parsable one.
func cmpBalance(a, b string) int {
	da, errA := decimal.NewFromString(a)
	db, errB := decimal.NewFromString(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return da.Cmp(db)
}

// MergeTokenPage writes a page of tokens into the combined list at its
// pagination offset, mirroring how the token list is assembled from
// offset-keyed pages. Slots skipped by out-of-order pages stay zero
// valued until their page lands.
func MergeTokenPage(existing []token.Token, incoming []token.Token, offset int) []token.Token {
	need := offset + len(incoming)
	merged := existing
	if need > len(merged) {
		grown := make([]token.Token, need)
		copy(grown, merged)
		merged = grown
	}
	copy(merged[offset:], incoming)
	return merged
}
