package feed

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/corelaunch/chartfeed/model/token"
)

// ActivitySource is the ticker slice of the indexer.
type ActivitySource interface {
	Activities(ctx context.Context, nTokens, nTrades int) ([]token.Activity, error)
}

const (
	tickerPollPeriod = 5 * time.Second
	tickerTokens     = 20
	tickerTrades     = 100
)

// TickerFeed polls the launchpad-wide activity stream (recent trades
// and token creations) on one owned timer. Fetch errors keep the last
// good list; the ticker is decoration and must never error a page.
type TickerFeed struct {
	src ActivitySource

	mu         sync.Mutex
	activities []token.Activity
	paused     bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTickerFeed builds the feed over src.
func NewTickerFeed(src ActivitySource) *TickerFeed {
	return &TickerFeed{src: src}
}

// Start launches the poll loop.
func (f *TickerFeed) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.done = make(chan struct{})
	f.mu.Unlock()
	go f.run(ctx)
}

// Close stops the poll loop.
func (f *TickerFeed) Close() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Pause suspends polling; Resume re-enables it.
func (f *TickerFeed) Pause() {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
}

func (f *TickerFeed) Resume() {
	f.mu.Lock()
	f.paused = false
	f.mu.Unlock()
}

func (f *TickerFeed) run(ctx context.Context) {
	defer close(f.done)

	f.poll(ctx)
	ticker := time.NewTicker(tickerPollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			paused := f.paused
			f.mu.Unlock()
			if !paused {
				f.poll(ctx)
			}
		}
	}
}

func (f *TickerFeed) poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	activities, err := f.src.Activities(ctx, tickerTokens, tickerTrades)
	if err != nil {
		log.Printf("feed: ticker: %v", err)
		return
	}
	f.mu.Lock()
	f.activities = activities
	f.mu.Unlock()
}

// Activities returns the last good activity list, newest first.
func (f *TickerFeed) Activities() []token.Activity {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]token.Activity, len(f.activities))
	copy(out, f.activities)
	return out
}
