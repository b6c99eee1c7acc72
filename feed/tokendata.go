package feed

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/corelaunch/chartfeed/cache"
	"github.com/corelaunch/chartfeed/model/token"
)

// TokenSource is the token-detail slice of the indexer.
type TokenSource interface {
	TokenData(ctx context.Context, tokenID string) (*token.Page, error)
}

const (
	// Bonding-curve tokens trade fast and poll faster; graduated
	// tokens have settled into normal market cadence.
	activePollPeriod    = 15 * time.Second
	graduatedPollPeriod = 30 * time.Second

	// refreshDebounce swallows refresh bursts, e.g. a trade
	// confirmation landing right after a timer tick.
	refreshDebounce = 2 * time.Second
)

// TokenPoller keeps one token's detail page fresh on a single owned
// timer: core fields, metrics, holders and recent trades. Holder lists
// are folded through the cache's keep-larger-balance policy so a
// partial page never shrinks a known balance.
type TokenPoller struct {
	src     TokenSource
	tokenID string
	now     func() time.Time

	mu          sync.Mutex
	page        *token.Page
	holders     []token.Holder
	lastErr     error
	lastRefresh time.Time
	paused      bool
	inFlight    bool
	handlers    map[uint64]func(*token.Page)
	nextID      uint64

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTokenPoller builds a poller for tokenID.
func NewTokenPoller(src TokenSource, tokenID string) *TokenPoller {
	return &TokenPoller{
		src:      src,
		tokenID:  tokenID,
		now:      time.Now,
		handlers: make(map[uint64]func(*token.Page)),
		kick:     make(chan struct{}, 1),
	}
}

// Start launches the poll loop.
func (p *TokenPoller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()
	go p.run(ctx)
}

// Close stops the poll loop.
func (p *TokenPoller) Close() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *TokenPoller) run(ctx context.Context) {
	defer close(p.done)

	p.Refresh(ctx)

	// The timer runs at the fast cadence; graduated tokens skip every
	// other tick instead of rebuilding the timer on status change.
	ticker := time.NewTicker(activePollPeriod)
	defer ticker.Stop()

	var skipped bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
			p.Refresh(ctx)
			skipped = false
		case <-ticker.C:
			if p.isPaused() {
				continue
			}
			if p.graduated() && !skipped {
				skipped = true
				continue
			}
			skipped = false
			p.Refresh(ctx)
		}
	}
}

func (p *TokenPoller) graduated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page != nil && p.page.Token != nil && p.page.Token.Graduated
}

func (p *TokenPoller) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Pause suspends polling.
func (p *TokenPoller) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume re-enables polling with an immediate refresh.
func (p *TokenPoller) Resume() {
	p.mu.Lock()
	wasPaused := p.paused
	p.paused = false
	p.mu.Unlock()
	if wasPaused {
		select {
		case p.kick <- struct{}{}:
		default:
		}
	}
}

// Refresh fetches the token page now. Calls within the debounce window
// of the previous refresh, or while one is in flight, are dropped.
func (p *TokenPoller) Refresh(ctx context.Context) {
	p.mu.Lock()
	if p.inFlight || p.now().Sub(p.lastRefresh) < refreshDebounce {
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.lastRefresh = p.now()
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	page, err := p.src.TokenData(ctx, p.tokenID)
	p.mu.Lock()
	if err != nil {
		log.Printf("feed [%s]: token data: %v", p.tokenID, err)
		p.lastErr = err
		p.mu.Unlock()
		return
	}
	p.lastErr = nil
	if page != nil {
		p.holders = cache.MergeHolders(p.holders, page.Holders)
		page.Holders = p.holders
		p.page = page
	}
	current := p.page
	hs := make([]func(*token.Page), 0, len(p.handlers))
	for _, h := range p.handlers {
		hs = append(hs, h)
	}
	p.mu.Unlock()

	for _, h := range hs {
		h(current)
	}
}

// Page returns the last fetched token page and the last fetch error.
func (p *TokenPoller) Page() (*token.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page, p.lastErr
}

// Subscribe registers handler for page updates.
func (p *TokenPoller) Subscribe(handler func(*token.Page)) Token {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = handler
	p.mu.Unlock()
	return &pollerToken{id: id, p: p}
}

type pollerToken struct {
	id uint64
	p  *TokenPoller
}

func (t *pollerToken) Unsubscribe() {
	t.p.mu.Lock()
	delete(t.p.handlers, t.id)
	t.p.mu.Unlock()
}
