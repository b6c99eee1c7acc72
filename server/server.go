// Package server exposes the feed over HTTP and WebSocket: snapshot
// reads for page loads, a push stream for live charts, and the ticker
// feed.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/corelaunch/chartfeed/feed"
	"github.com/corelaunch/chartfeed/interval"
	"github.com/corelaunch/chartfeed/model/token"
)

// Server wires the feed layer to the network.
type Server struct {
	manager *feed.Manager
	source  feed.Source
	tokens  feed.TokenSource
	ticker  *feed.TickerFeed

	// snapshotWait bounds how long a snapshot request blocks for the
	// first load of a cold chart.
	snapshotWait time.Duration

	mu      sync.Mutex
	pollers map[string]*feed.TokenPoller
}

// New builds a Server. ticker may be nil when the ticker feed is
// disabled; the token-detail endpoint activates when source also
// serves token pages.
func New(manager *feed.Manager, source feed.Source, ticker *feed.TickerFeed) *Server {
	s := &Server{
		manager:      manager,
		source:       source,
		ticker:       ticker,
		snapshotWait: 10 * time.Second,
		pollers:      make(map[string]*feed.TokenPoller),
	}
	if ts, ok := source.(feed.TokenSource); ok {
		s.tokens = ts
	}
	return s
}

// Close stops the token pollers the server spawned.
func (s *Server) Close() {
	s.mu.Lock()
	pollers := s.pollers
	s.pollers = make(map[string]*feed.TokenPoller)
	s.mu.Unlock()
	for _, p := range pollers {
		p.Close()
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/chart", s.handleChart)
	mux.HandleFunc("GET /api/v1/token", s.handleToken)
	mux.HandleFunc("GET /api/v1/ticker", s.handleTicker)
	mux.HandleFunc("GET /ws/chart", s.handleChartStream)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// chartParams validates the token/interval query pair shared by the
// snapshot and stream endpoints.
func chartParams(r *http.Request) (string, interval.Interval, error) {
	tokenID := r.URL.Query().Get("token")
	if tokenID == "" {
		return "", "", errMissingToken
	}
	iv := interval.Interval(r.URL.Query().Get("interval"))
	if iv == "" {
		iv = interval.FiveMinutes
	}
	if _, err := interval.Lookup(iv); err != nil {
		return "", "", err
	}
	return tokenID, iv, nil
}

type paramError string

func (e paramError) Error() string { return string(e) }

const errMissingToken = paramError("missing token parameter")

// handleChart returns the current snapshot for token/interval,
// blocking briefly while a cold chart loads for the first time.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	tokenID, iv, err := chartParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ctrl, release, err := s.manager.Acquire(context.WithoutCancel(r.Context()), tokenID, iv)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	defer release()

	update := ctrl.Current()
	if update.Snapshot == nil && update.State != feed.StateError {
		update = s.waitForSnapshot(r.Context(), ctrl)
	}

	switch {
	case update.Snapshot != nil:
		writeJSON(w, http.StatusOK, update)
	case update.State == feed.StateError:
		writeJSON(w, http.StatusBadGateway, update)
	default:
		// Still loading; the client should retry.
		writeJSON(w, http.StatusAccepted, update)
	}
}

// waitForSnapshot blocks until the controller produces its first
// snapshot, errors out, or the wait budget runs out.
func (s *Server) waitForSnapshot(ctx context.Context, ctrl *feed.Controller) feed.Update {
	updates := make(chan feed.Update, 8)
	tok := ctrl.Subscribe(func(u feed.Update) {
		select {
		case updates <- u:
		default:
		}
	})
	defer tok.Unsubscribe()

	deadline := time.NewTimer(s.snapshotWait)
	defer deadline.Stop()

	for {
		select {
		case u := <-updates:
			if u.Snapshot != nil || u.State == feed.StateError {
				return u
			}
		case <-deadline.C:
			return ctrl.Current()
		case <-ctx.Done():
			return ctrl.Current()
		}
	}
}

// poller returns the shared token-detail poller for tokenID, starting
// one on first use. Pollers outlive the request; repeat page views hit
// the debounced cache instead of the indexer.
func (s *Server) poller(tokenID string) *feed.TokenPoller {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pollers[tokenID]
	if !ok {
		p = feed.NewTokenPoller(s.tokens, tokenID)
		p.Start(context.Background())
		s.pollers[tokenID] = p
	}
	return p
}

// handleToken returns the token detail page: core fields, metrics,
// merged holders and recent trades.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	tokenID := r.URL.Query().Get("token")
	if tokenID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMissingToken.Error()})
		return
	}
	if s.tokens == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "token data unavailable"})
		return
	}

	p := s.poller(tokenID)
	p.Refresh(r.Context())

	page, err := p.Page()
	if page == nil && err == nil {
		// Cold poller; its first fetch may still be in flight.
		page, err = s.waitForPage(r.Context(), p)
	}
	switch {
	case page != nil:
		writeJSON(w, http.StatusOK, page)
	case err != nil:
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown token"})
	}
}

// waitForPage blocks until the poller's first fetch settles or the
// wait budget runs out.
func (s *Server) waitForPage(ctx context.Context, p *feed.TokenPoller) (*token.Page, error) {
	pages := make(chan *token.Page, 1)
	tok := p.Subscribe(func(page *token.Page) {
		select {
		case pages <- page:
		default:
		}
	})
	defer tok.Unsubscribe()

	// The fetch may have settled between the caller's check and the
	// subscription.
	if page, err := p.Page(); page != nil || err != nil {
		return page, err
	}

	deadline := time.NewTimer(s.snapshotWait)
	defer deadline.Stop()

	select {
	case page := <-pages:
		if page != nil {
			return page, nil
		}
	case <-deadline.C:
	case <-ctx.Done():
	}
	return p.Page()
}

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	if s.ticker == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "ticker feed disabled"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": s.ticker.Activities()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: write response: %v", err)
	}
}
