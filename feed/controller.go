// Package feed owns the polling side of the chart pipeline: per-chart
// controllers that query the indexing service, choose between the
// aggregated and synthesized paths, and push consistent snapshots to
// subscribers on their own timers.
package feed

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/corelaunch/chartfeed/cache"
	"github.com/corelaunch/chartfeed/chart"
	"github.com/corelaunch/chartfeed/interval"
	"github.com/corelaunch/chartfeed/model/ohlc"
)

// Source is the slice of the indexer the chart controller needs.
type Source interface {
	Candles(ctx context.Context, tokenID string, iv interval.Interval, from, to int64) ([]ohlc.RawCandle, error)
	Trades(ctx context.Context, tokenID string, from int64, first int) ([]ohlc.RawTrade, error)
	LatestPrice(ctx context.Context, tokenID string) (*ohlc.RawPrice, error)
}

// State is the controller's lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// Snapshot is one consistent chart result. The last good snapshot
// survives refreshes and errors so the rendered chart never flashes
// empty while new data is in flight.
type Snapshot struct {
	Token       string            `json:"token"`
	Interval    interval.Interval `json:"interval"`
	Series      ohlc.Series       `json:"series"`
	LatestPrice *ohlc.PricePoint  `json:"latestPrice,omitempty"`
	Change      *ohlc.PriceChange `json:"change,omitempty"`
	Synthesized bool              `json:"synthesized"`
	UpdatedAt   int64             `json:"updatedAt"`
}

// Update is what subscribers receive: the state alongside the best
// snapshot currently known. NoData distinguishes "this token has
// nothing in this range" from a genuine fetch failure.
type Update struct {
	State    State     `json:"state"`
	NoData   bool      `json:"noData"`
	Error    string    `json:"error,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

// Handler receives controller updates.
type Handler func(Update)

// Token cancels one handler registration.
type Token interface {
	Unsubscribe()
}

const (
	// pollFloor is the minimum spacing between fetch ticks regardless
	// of the interval's nominal rate, so several fast charts cannot
	// starve the network. Most ticks refresh only the latest price;
	// the full candle/trade queries rerun once the interval's nominal
	// poll period has elapsed.
	pollFloor = 30 * time.Second

	// cycleTimeout bounds one refresh cycle so a stalled indexer
	// cannot leave the chart loading forever.
	cycleTimeout = 15 * time.Second

	// tradeFetchLimit is how many raw trades one refresh requests for
	// the synthesizer window.
	tradeFetchLimit = 1000
)

// Config assembles a Controller. Source and TokenID are required;
// everything else has defaults.
type Config struct {
	Source   Source
	Cache    *cache.Cache
	TokenID  string
	Interval interval.Interval

	// Floor and Timeout override the poll floor and per-cycle
	// deadline; zero keeps the defaults. Now overrides the wall clock
	// in tests.
	Floor   time.Duration
	Timeout time.Duration
	Now     func() time.Time
}

// Controller runs the refresh loop for one mounted chart. Exactly one
// timer exists per controller; switching the interval stops the old
// cadence before the new one starts, and responses tagged with a
// superseded generation are discarded on arrival.
type Controller struct {
	src     Source
	cache   *cache.Cache
	tokenID string
	floor   time.Duration
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	iv       interval.Interval
	spec     interval.Spec
	gen      uint64
	state    State
	noData   bool
	lastErr  error
	snap     *Snapshot
	latest   *ohlc.PricePoint // most recent single trade, price fallback
	paused   bool
	inFlight bool
	handlers map[uint64]Handler
	nextID   uint64

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController validates cfg and builds an idle controller; Start
// begins polling.
func NewController(cfg Config) (*Controller, error) {
	spec, err := interval.Lookup(cfg.Interval)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		src:      cfg.Source,
		cache:    cfg.Cache,
		tokenID:  cfg.TokenID,
		floor:    cfg.Floor,
		timeout:  cfg.Timeout,
		now:      cfg.Now,
		iv:       cfg.Interval,
		spec:     spec,
		state:    StateIdle,
		handlers: make(map[uint64]Handler),
		kick:     make(chan struct{}, 1),
	}
	if c.floor <= 0 {
		c.floor = pollFloor
	}
	if c.timeout <= 0 {
		c.timeout = cycleTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.cache == nil {
		c.cache = cache.New()
	}
	return c, nil
}

// Start launches the poll loop. The loop stops when ctx is cancelled
// or Close is called.
func (c *Controller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()
	go c.run(ctx)
}

// Close stops the poll loop and drops the token's trade window.
func (c *Controller) Close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	c.cache.DropTrades(c.tokenID)
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	c.Refresh(ctx)
	lastFull := c.now()

	ticker := time.NewTicker(c.floor)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.kick:
			// Interval change or resume: full refresh right away.
			c.Refresh(ctx)
			lastFull = c.now()
		case <-ticker.C:
			if c.isPaused() {
				continue
			}
			if c.now().Sub(lastFull) >= c.fullPeriod() {
				c.Refresh(ctx)
				lastFull = c.now()
			} else {
				c.priceTick(ctx)
			}
		}
	}
}

// fullPeriod is the spacing between full candle/trade refreshes: the
// interval's nominal poll rate, never faster than the floor.
func (c *Controller) fullPeriod() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spec.Poll > c.floor {
		return c.spec.Poll
	}
	return c.floor
}

func (c *Controller) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Pause suspends polling, mirroring the hidden-tab contract.
func (c *Controller) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume re-enables polling and triggers one immediate full refresh.
func (c *Controller) Resume() {
	c.mu.Lock()
	wasPaused := c.paused
	c.paused = false
	c.mu.Unlock()
	if wasPaused {
		c.requestKick()
	}
}

// SetInterval switches the chart granularity. The generation counter
// advances so any in-flight responses for the old interval are
// discarded on arrival, and the poll cadence restarts with an
// immediate refresh. The previous snapshot stays on screen until the
// new interval's data lands.
func (c *Controller) SetInterval(iv interval.Interval) error {
	spec, err := interval.Lookup(iv)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if iv == c.iv {
		c.mu.Unlock()
		return nil
	}
	c.iv = iv
	c.spec = spec
	c.gen++
	c.state = StateLoading
	c.mu.Unlock()

	c.requestKick()
	return nil
}

// Interval returns the currently selected granularity.
func (c *Controller) Interval() interval.Interval {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.iv
}

// Subscribe registers handler for updates. The current state is
// delivered immediately so late subscribers start from the last known
// snapshot.
func (c *Controller) Subscribe(handler Handler) Token {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = handler
	update := c.updateLocked()
	c.mu.Unlock()

	handler(update)
	return &handlerToken{id: id, c: c}
}

type handlerToken struct {
	id uint64
	c  *Controller
}

func (t *handlerToken) Unsubscribe() {
	t.c.mu.Lock()
	delete(t.c.handlers, t.id)
	t.c.mu.Unlock()
}

// Current returns the controller's present state and snapshot.
func (c *Controller) Current() Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateLocked()
}

func (c *Controller) updateLocked() Update {
	u := Update{State: c.state, NoData: c.noData, Snapshot: c.snap}
	if c.state == StateError && c.lastErr != nil {
		u.Error = c.lastErr.Error()
	}
	return u
}

func (c *Controller) requestKick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// cycle collects the settled results of one refresh's fetches.
type cycle struct {
	candles    []ohlc.RawCandle
	candlesErr error
	trades     []ohlc.RawTrade
	tradesErr  error
	price      *ohlc.RawPrice
}

// Refresh runs one full cycle: the aggregated-candle, raw-trade and
// latest-price queries fan out concurrently, and derived state is
// recomputed only after every fetch has settled, from a single
// consistent result set. Calling Refresh while a cycle is in flight is
// a no-op, so wiring it to a button cannot double-fire the queries.
func (c *Controller) Refresh(ctx context.Context) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	gen := c.gen
	iv := c.iv
	if c.state == StateIdle {
		c.state = StateLoading
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	from, to, err := interval.Range(iv, c.now())
	if err != nil {
		// Unreachable once constructed: NewController and SetInterval
		// reject unknown intervals.
		log.Printf("feed [%s]: range: %v", c.tokenID, err)
		return
	}

	ctx, cancelTimeout := context.WithTimeout(ctx, c.timeout)
	defer cancelTimeout()

	var cy cycle
	var g errgroup.Group
	g.Go(func() error {
		cy.candles, cy.candlesErr = c.src.Candles(ctx, c.tokenID, iv, from, to)
		return nil
	})
	g.Go(func() error {
		cy.trades, cy.tradesErr = c.src.Trades(ctx, c.tokenID, from, tradeFetchLimit)
		return nil
	})
	g.Go(func() error {
		// Latest price is best-effort; an error here never degrades
		// the chart.
		price, err := c.src.LatestPrice(ctx, c.tokenID)
		if err == nil {
			cy.price = price
		}
		return nil
	})
	g.Wait()

	c.apply(gen, iv, from, to, &cy)
}

// apply folds one settled cycle into controller state, unless the
// generation moved on while the fetches were in flight. A user-facing
// error requires both the aggregated and the trade query to fail;
// either one alone still yields a usable (possibly empty) series.
func (c *Controller) apply(gen uint64, iv interval.Interval, from, to int64, cy *cycle) {
	if cy.candlesErr != nil && cy.tradesErr != nil {
		c.fail(gen, cy.candlesErr)
		return
	}

	var (
		series      ohlc.Series
		synthesized bool
	)
	switch {
	case cy.candlesErr == nil && len(cy.candles) > 0:
		series = chart.TransformCandles(cy.candles, chart.Decimals)
	case cy.tradesErr == nil:
		// Fallback path: merge this cycle's trades into the window,
		// drop anything behind the lookback, and synthesize.
		c.cache.MergeTrades(c.tokenID, cy.trades)
		c.cache.PruneTrades(c.tokenID, from, parseTS)
		window := c.cache.Trades(c.tokenID)

		parsed := chart.ParseTrades(window, chart.Decimals)
		s, err := chart.SynthesizeFromTrades(parsed, iv, from, to)
		if err != nil {
			c.fail(gen, err)
			return
		}
		series = s
		synthesized = true
	default:
		// Aggregated query succeeded with zero rows and the trade
		// query failed: nothing to draw, but not a fetch failure.
	}

	if chart.Fillable(iv) {
		if filled, err := chart.FillGaps(series.Candles, iv, from, to); err == nil && filled != nil {
			series.Candles = filled
		}
	}

	latest := chart.ParsePrice(cy.price, chart.Decimals)

	c.mu.Lock()
	if gen != c.gen {
		// A different interval is selected now; this cycle's data
		// must not overwrite it.
		c.mu.Unlock()
		return
	}
	if latest != nil {
		c.latest = latest
	}

	snap := &Snapshot{
		Token:       c.tokenID,
		Interval:    iv,
		Series:      series,
		Change:      chart.Change(series.Candles),
		Synthesized: synthesized,
		UpdatedAt:   c.now().Unix(),
	}
	if price, ok := chart.LatestPrice(series.Candles, c.latest); ok {
		ts := snap.UpdatedAt
		if n := len(series.Candles); n > 0 {
			ts = series.Candles[n-1].Timestamp
		} else if c.latest != nil {
			ts = c.latest.Timestamp
		}
		snap.LatestPrice = &ohlc.PricePoint{Price: price, Timestamp: ts}
	}

	c.snap = snap
	c.state = StateReady
	c.noData = len(series.Candles) == 0
	c.lastErr = nil
	update, hs := c.updateLocked(), c.handlersLocked()
	c.mu.Unlock()

	notify(hs, update)
}

// fail records a both-sources failure. The previous snapshot stays in
// place: stale data beats a blank chart.
func (c *Controller) fail(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	log.Printf("feed [%s/%s]: refresh failed: %v", c.tokenID, c.iv, err)
	c.state = StateError
	c.lastErr = err
	update, hs := c.updateLocked(), c.handlersLocked()
	c.mu.Unlock()

	notify(hs, update)
}

// priceTick refreshes only the latest price, keeping the visible price
// label live between full refreshes. Errors are ignored.
func (c *Controller) priceTick(ctx context.Context) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.src.LatestPrice(ctx, c.tokenID)
	if err != nil {
		return
	}
	latest := chart.ParsePrice(raw, chart.Decimals)
	if latest == nil {
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.snap == nil {
		c.mu.Unlock()
		return
	}
	c.latest = latest
	// The candle close still wins while candles exist; the single
	// trade only carries an empty series.
	if len(c.snap.Series.Candles) > 0 {
		c.mu.Unlock()
		return
	}
	snap := *c.snap
	snap.LatestPrice = latest
	snap.UpdatedAt = c.now().Unix()
	c.snap = &snap
	update, hs := c.updateLocked(), c.handlersLocked()
	c.mu.Unlock()

	notify(hs, update)
}

// handlersLocked snapshots the handler set (called under lock) so
// handlers run without the lock held, per the usual registry pattern.
func (c *Controller) handlersLocked() []Handler {
	hs := make([]Handler, 0, len(c.handlers))
	for _, h := range c.handlers {
		hs = append(hs, h)
	}
	return hs
}

func notify(hs []Handler, update Update) {
	for _, h := range hs {
		h(update)
	}
}

func parseTS(s string) (int64, bool) {
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ts <= 0 {
		return 0, false
	}
	return ts, true
}
