package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/corelaunch/chartfeed/cache"
	"github.com/corelaunch/chartfeed/interval"
)

// Manager hands out shared chart controllers keyed by
// "token:interval". A controller is created lazily on the first
// acquire for its key and paused when the last holder releases it, so
// charts nobody is looking at stop hitting the indexer — the service
// side of the tab-visibility contract.
type Manager struct {
	src   Source
	cache *cache.Cache

	mu     sync.Mutex
	states map[string]*managed
	closed bool
}

type managed struct {
	ctrl *Controller
	refs int
}

// NewManager builds a Manager over src. The cache is shared across all
// controllers so trade windows are merged once per token.
func NewManager(src Source, qc *cache.Cache) *Manager {
	if qc == nil {
		qc = cache.New()
	}
	return &Manager{
		src:    src,
		cache:  qc,
		states: make(map[string]*managed),
	}
}

// Acquire returns the shared controller for token/iv, starting it on
// first use. The release func must be called exactly once when the
// holder is done.
func (m *Manager) Acquire(ctx context.Context, tokenID string, iv interval.Interval) (*Controller, func(), error) {
	key := tokenID + ":" + string(iv)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("feed: manager closed")
	}
	st, ok := m.states[key]
	if ok {
		st.refs++
		ctrl := st.ctrl
		m.mu.Unlock()
		ctrl.Resume()
		return ctrl, m.releaseFunc(key), nil
	}
	m.mu.Unlock()

	ctrl, err := NewController(Config{
		Source:   m.src,
		Cache:    m.cache,
		TokenID:  tokenID,
		Interval: iv,
	})
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	// Someone else may have raced the setup; keep theirs.
	if st, ok := m.states[key]; ok {
		st.refs++
		existing := st.ctrl
		m.mu.Unlock()
		existing.Resume()
		return existing, m.releaseFunc(key), nil
	}
	m.states[key] = &managed{ctrl: ctrl, refs: 1}
	m.mu.Unlock()

	ctrl.Start(ctx)
	return ctrl, m.releaseFunc(key), nil
}

func (m *Manager) releaseFunc(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			st, ok := m.states[key]
			if ok {
				st.refs--
				if st.refs <= 0 {
					st.ctrl.Pause()
				}
			}
			m.mu.Unlock()
		})
	}
}

// Close stops every managed controller.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	states := m.states
	m.states = make(map[string]*managed)
	m.mu.Unlock()

	for _, st := range states {
		st.ctrl.Close()
	}
}
