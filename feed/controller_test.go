package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corelaunch/chartfeed/chart"
	"github.com/corelaunch/chartfeed/interval"
	"github.com/corelaunch/chartfeed/model/ohlc"
)

const testNow = int64(1_700_000_000)

// fakeSource is a scriptable indexer. When gate is set, Candles blocks
// until the gate closes and signals entry on entered, which lets tests
// hold a cycle in flight.
type fakeSource struct {
	mu          sync.Mutex
	candles     []ohlc.RawCandle
	candlesErr  error
	trades      []ohlc.RawTrade
	tradesErr   error
	price       *ohlc.RawPrice
	priceErr    error
	candleCalls int
	tradeCalls  int

	entered chan struct{}
	gate    chan struct{}
}

func (s *fakeSource) Candles(ctx context.Context, tokenID string, iv interval.Interval, from, to int64) ([]ohlc.RawCandle, error) {
	s.mu.Lock()
	s.candleCalls++
	rows, err := s.candles, s.candlesErr
	entered, gate := s.entered, s.gate
	s.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return rows, err
}

func (s *fakeSource) Trades(ctx context.Context, tokenID string, from int64, first int) ([]ohlc.RawTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradeCalls++
	return s.trades, s.tradesErr
}

func (s *fakeSource) LatestPrice(ctx context.Context, tokenID string) (*ohlc.RawPrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price, s.priceErr
}

func (s *fakeSource) set(fn func(*fakeSource)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *fakeSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candleCalls
}

func fixed(v float64) string {
	return decimal.NewFromFloat(v).Shift(chart.Decimals).String()
}

func wireCandle(ts int64, o, h, l, c float64) ohlc.RawCandle {
	return ohlc.RawCandle{
		Timestamp: decimal.NewFromInt(ts).String(),
		Open:      fixed(o),
		High:      fixed(h),
		Low:       fixed(l),
		Close:     fixed(c),
		Volume:    fixed(1),
		Trades:    "1",
	}
}

func wireTrade(id string, ts int64, price float64) ohlc.RawTrade {
	return ohlc.RawTrade{
		ID:          id,
		Timestamp:   decimal.NewFromInt(ts).String(),
		Price:       fixed(price),
		QuoteAmount: fixed(1),
		BaseAmount:  fixed(1),
	}
}

func newTestController(t *testing.T, src Source, iv interval.Interval) *Controller {
	t.Helper()
	c, err := NewController(Config{
		Source:   src,
		TokenID:  "tok-1",
		Interval: iv,
		Now:      func() time.Time { return time.Unix(testNow, 0) },
	})
	require.NoError(t, err)
	return c
}

// rangeEnd is the grid-floored "to" bound the controller derives for iv
// at the frozen test clock.
func rangeEnd(t *testing.T, iv interval.Interval) int64 {
	t.Helper()
	_, to, err := interval.Range(iv, time.Unix(testNow, 0))
	require.NoError(t, err)
	return to
}

func TestRefreshAggregatedPath(t *testing.T) {
	to := rangeEnd(t, interval.OneHour)
	src := &fakeSource{
		candles: []ohlc.RawCandle{
			wireCandle(to-3600, 10, 12, 9, 11),
			wireCandle(to, 11, 14, 11, 13),
		},
		price: &ohlc.RawPrice{Price: fixed(99), Timestamp: "12345"},
	}
	c := newTestController(t, src, interval.OneHour)

	c.Refresh(context.Background())

	u := c.Current()
	assert.Equal(t, StateReady, u.State)
	assert.False(t, u.NoData)
	require.NotNil(t, u.Snapshot)
	assert.False(t, u.Snapshot.Synthesized)
	require.Len(t, u.Snapshot.Series.Candles, 2)

	// The last candle's close outranks the single-trade price.
	require.NotNil(t, u.Snapshot.LatestPrice)
	assert.Equal(t, 13.0, u.Snapshot.LatestPrice.Price)
	assert.Equal(t, to, u.Snapshot.LatestPrice.Timestamp)

	require.NotNil(t, u.Snapshot.Change)
	assert.InDelta(t, 2.0, u.Snapshot.Change.Change, 1e-9)
}

func TestRefreshFallbackSynthesizes(t *testing.T) {
	to := rangeEnd(t, interval.OneHour)
	src := &fakeSource{
		trades: []ohlc.RawTrade{
			wireTrade("a", to-3000, 10),
			wireTrade("b", to-2900, 12),
			wireTrade("c", to, 11),
		},
	}
	c := newTestController(t, src, interval.OneHour)

	c.Refresh(context.Background())

	u := c.Current()
	assert.Equal(t, StateReady, u.State)
	assert.False(t, u.NoData)
	require.NotNil(t, u.Snapshot)
	assert.True(t, u.Snapshot.Synthesized, "empty aggregated result falls back to trade synthesis")
	require.Len(t, u.Snapshot.Series.Candles, 2)
}

func TestRefreshFallbackFillsIntradayGaps(t *testing.T) {
	to := rangeEnd(t, interval.OneMinute)
	src := &fakeSource{
		trades: []ohlc.RawTrade{
			wireTrade("a", to-180, 10),
			wireTrade("b", to-60, 12),
		},
	}
	c := newTestController(t, src, interval.OneMinute)

	c.Refresh(context.Background())

	u := c.Current()
	require.NotNil(t, u.Snapshot)
	candles := u.Snapshot.Series.Candles
	require.Len(t, candles, 4, "real, flat, real, trailing flat")

	flat := candles[1]
	assert.Equal(t, to-120, flat.Timestamp)
	assert.Equal(t, 10.0, flat.Open)
	assert.Equal(t, 10.0, flat.Close)
	assert.Zero(t, flat.Trades)
}

func TestRefreshBothQueriesFailKeepsSnapshot(t *testing.T) {
	to := rangeEnd(t, interval.OneHour)
	src := &fakeSource{candles: []ohlc.RawCandle{wireCandle(to, 10, 12, 9, 11)}}
	c := newTestController(t, src, interval.OneHour)

	c.Refresh(context.Background())
	require.Equal(t, StateReady, c.Current().State)

	src.set(func(s *fakeSource) {
		s.candles, s.candlesErr = nil, errors.New("indexer down")
		s.tradesErr = errors.New("indexer down")
	})
	c.Refresh(context.Background())

	u := c.Current()
	assert.Equal(t, StateError, u.State)
	assert.NotEmpty(t, u.Error)
	require.NotNil(t, u.Snapshot, "stale data beats a blank chart")
	assert.Len(t, u.Snapshot.Series.Candles, 1)
}

func TestRefreshEmptyAggregatedAndTradesErrorIsNoData(t *testing.T) {
	src := &fakeSource{tradesErr: errors.New("trades unavailable")}
	c := newTestController(t, src, interval.OneHour)

	c.Refresh(context.Background())

	u := c.Current()
	assert.Equal(t, StateReady, u.State, "an empty result is not a fetch failure")
	assert.True(t, u.NoData)
	assert.Empty(t, u.Error)
	require.NotNil(t, u.Snapshot)
	assert.Empty(t, u.Snapshot.Series.Candles)
}

func TestRefreshWhileInFlightIsNoOp(t *testing.T) {
	src := &fakeSource{
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	c := newTestController(t, src, interval.OneHour)

	done := make(chan struct{})
	go func() {
		c.Refresh(context.Background())
		close(done)
	}()
	<-src.entered

	c.Refresh(context.Background()) // must return immediately

	close(src.gate)
	<-done
	assert.Equal(t, 1, src.calls(), "overlapping refresh never double-fires the queries")
}

func TestSetIntervalDiscardsStaleCycle(t *testing.T) {
	to := rangeEnd(t, interval.OneHour)
	src := &fakeSource{
		candles: []ohlc.RawCandle{wireCandle(to, 10, 12, 9, 11)},
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	c := newTestController(t, src, interval.OneHour)

	var got []Update
	var gotMu sync.Mutex
	token := c.Subscribe(func(u Update) {
		gotMu.Lock()
		got = append(got, u)
		gotMu.Unlock()
	})
	defer token.Unsubscribe()

	done := make(chan struct{})
	go func() {
		c.Refresh(context.Background())
		close(done)
	}()
	<-src.entered

	// The interval changes while the old cycle is still in flight; its
	// result must not land.
	require.NoError(t, c.SetInterval(interval.OneDay))
	close(src.gate)
	<-done

	u := c.Current()
	assert.Equal(t, StateLoading, u.State)
	assert.Nil(t, u.Snapshot)
	assert.Equal(t, interval.OneDay, c.Interval())

	gotMu.Lock()
	defer gotMu.Unlock()
	for _, u := range got {
		assert.NotEqual(t, StateReady, u.State, "stale cycle must not notify subscribers")
	}
}

func TestSetIntervalValidation(t *testing.T) {
	to := rangeEnd(t, interval.OneHour)
	src := &fakeSource{candles: []ohlc.RawCandle{wireCandle(to, 10, 12, 9, 11)}}
	c := newTestController(t, src, interval.OneHour)
	c.Refresh(context.Background())

	assert.ErrorIs(t, c.SetInterval(interval.Interval("2h")), interval.ErrUnknownInterval)
	assert.Equal(t, interval.OneHour, c.Interval())

	// Re-selecting the current interval is a no-op, not a reload.
	require.NoError(t, c.SetInterval(interval.OneHour))
	assert.Equal(t, StateReady, c.Current().State)
}

func TestSubscribeDeliversCurrentStateImmediately(t *testing.T) {
	to := rangeEnd(t, interval.OneHour)
	src := &fakeSource{candles: []ohlc.RawCandle{wireCandle(to, 10, 12, 9, 11)}}
	c := newTestController(t, src, interval.OneHour)
	c.Refresh(context.Background())

	var got []Update
	token := c.Subscribe(func(u Update) { got = append(got, u) })

	require.Len(t, got, 1, "late subscribers start from the last snapshot")
	assert.Equal(t, StateReady, got[0].State)

	token.Unsubscribe()
	src.set(func(s *fakeSource) {
		s.candlesErr = errors.New("down")
		s.tradesErr = errors.New("down")
	})
	c.Refresh(context.Background())
	assert.Len(t, got, 1, "unsubscribed handlers receive nothing")
}

func TestPriceTickCarriesEmptySeries(t *testing.T) {
	src := &fakeSource{tradesErr: errors.New("trades unavailable")}
	c := newTestController(t, src, interval.OneHour)
	c.Refresh(context.Background())
	require.True(t, c.Current().NoData)

	src.set(func(s *fakeSource) {
		s.price = &ohlc.RawPrice{Price: fixed(7.5), Timestamp: "1000"}
	})
	c.priceTick(context.Background())

	u := c.Current()
	require.NotNil(t, u.Snapshot.LatestPrice)
	assert.Equal(t, 7.5, u.Snapshot.LatestPrice.Price)
}

func TestPriceTickNeverOverridesCandles(t *testing.T) {
	to := rangeEnd(t, interval.OneHour)
	src := &fakeSource{candles: []ohlc.RawCandle{wireCandle(to, 10, 12, 9, 11)}}
	c := newTestController(t, src, interval.OneHour)
	c.Refresh(context.Background())

	src.set(func(s *fakeSource) {
		s.price = &ohlc.RawPrice{Price: fixed(99), Timestamp: "1000"}
	})
	c.priceTick(context.Background())

	u := c.Current()
	require.NotNil(t, u.Snapshot.LatestPrice)
	assert.Equal(t, 11.0, u.Snapshot.LatestPrice.Price, "candle close wins while candles exist")
}

func TestResumeTriggersFullRefresh(t *testing.T) {
	to := rangeEnd(t, interval.OneHour)
	src := &fakeSource{candles: []ohlc.RawCandle{wireCandle(to, 10, 12, 9, 11)}}
	c, err := NewController(Config{
		Source:   src,
		TokenID:  "tok-1",
		Interval: interval.OneHour,
		Floor:    time.Hour, // keep the ticker out of the test
		Now:      func() time.Time { return time.Unix(testNow, 0) },
	})
	require.NoError(t, err)

	c.Start(context.Background())
	defer c.Close()

	require.Eventually(t, func() bool { return src.calls() == 1 }, time.Second, 5*time.Millisecond)

	c.Pause()
	c.Resume()
	require.Eventually(t, func() bool { return src.calls() == 2 }, time.Second, 5*time.Millisecond,
		"resume requests an immediate full refresh")

	// Resuming a controller that was never paused stays quiet.
	c.Resume()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, src.calls())
}

func TestNewControllerRejectsUnknownInterval(t *testing.T) {
	_, err := NewController(Config{Source: &fakeSource{}, TokenID: "tok", Interval: "90m"})
	assert.ErrorIs(t, err, interval.ErrUnknownInterval)
}
