package feed

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corelaunch/chartfeed/model/token"
)

type fakeActivitySource struct {
	mu         sync.Mutex
	activities []token.Activity
	err        error
	nTokens    int
	nTrades    int
}

func (s *fakeActivitySource) Activities(ctx context.Context, nTokens, nTrades int) ([]token.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nTokens, s.nTrades = nTokens, nTrades
	return s.activities, s.err
}

func TestTickerFeedPoll(t *testing.T) {
	src := &fakeActivitySource{activities: []token.Activity{
		{ID: "trade:1", Kind: token.ActivityTrade, Timestamp: 200},
		{ID: "creation:1", Kind: token.ActivityCreation, Timestamp: 100},
	}}
	f := NewTickerFeed(src)

	f.poll(context.Background())

	got := f.Activities()
	require.Len(t, got, 2)
	assert.Equal(t, "trade:1", got[0].ID)
	assert.Equal(t, tickerTokens, src.nTokens)
	assert.Equal(t, tickerTrades, src.nTrades)
}

func TestTickerFeedErrorKeepsLastGoodList(t *testing.T) {
	src := &fakeActivitySource{activities: []token.Activity{
		{ID: "trade:1", Kind: token.ActivityTrade},
	}}
	f := NewTickerFeed(src)
	f.poll(context.Background())

	src.mu.Lock()
	src.err = errors.New("indexer down")
	src.mu.Unlock()
	f.poll(context.Background())

	assert.Len(t, f.Activities(), 1, "the ticker is decoration and never goes blank on errors")
}

func TestTickerFeedActivitiesReturnsCopy(t *testing.T) {
	src := &fakeActivitySource{activities: []token.Activity{
		{ID: "trade:1", Kind: token.ActivityTrade},
	}}
	f := NewTickerFeed(src)
	f.poll(context.Background())

	got := f.Activities()
	got[0].ID = "mutated"
	assert.Equal(t, "trade:1", f.Activities()[0].ID)
}
