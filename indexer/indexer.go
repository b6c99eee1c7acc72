// Package indexer is the client for the external GraphQL indexing
// service. It returns wire rows untouched: numeric fields stay in
// their fixed-point string encoding until the chart boundary parses
// them.
package indexer

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/machinebox/graphql"

	"github.com/corelaunch/chartfeed/interval"
	"github.com/corelaunch/chartfeed/model/ohlc"
)

// pageLimit is the indexing service's per-query row cap; larger trade
// requests are paginated.
const pageLimit = 1000

// Client queries one indexing service endpoint.
type Client struct {
	gql *graphql.Client
}

// New builds a Client for the given endpoint URL.
func New(endpoint string) *Client {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	return &Client{
		gql: graphql.NewClient(endpoint, graphql.WithHTTPClient(httpClient)),
	}
}

const candlesQuery = `
query TokenCandles($tokenId: String!, $interval: String!, $from: String!, $to: String!) {
  tokenOHLCs(
    where: { token: $tokenId, interval: $interval, timestamp_gte: $from, timestamp_lte: $to }
    orderBy: timestamp
    orderDirection: asc
    first: 1000
  ) {
    id
    timestamp
    open
    high
    low
    close
    volume
    trades
  }
}`

// Candles fetches pre-aggregated OHLC rows for one token and interval
// over [from, to]. An empty result is not an error; callers fall back
// to raw trades.
func (c *Client) Candles(ctx context.Context, tokenID string, iv interval.Interval, from, to int64) ([]ohlc.RawCandle, error) {
	if _, err := interval.Lookup(iv); err != nil {
		return nil, err
	}

	req := graphql.NewRequest(candlesQuery)
	req.Var("tokenId", strings.ToLower(tokenID))
	req.Var("interval", string(iv))
	req.Var("from", strconv.FormatInt(from, 10))
	req.Var("to", strconv.FormatInt(to, 10))

	var resp struct {
		TokenOHLCs []ohlc.RawCandle `json:"tokenOHLCs"`
	}
	if err := c.gql.Run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("indexer: candles [%s/%s]: %w", tokenID, iv, err)
	}
	return resp.TokenOHLCs, nil
}

const tradesQuery = `
query TokenTrades($tokenId: String!, $first: Int!, $skip: Int!, $from: String!) {
  trades(
    where: { token: $tokenId, timestamp_gte: $from }
    first: $first
    skip: $skip
    orderBy: timestamp
    orderDirection: asc
  ) {
    id
    timestamp
    price
    coreAmount
    tokenAmount
    isBuy
    transactionHash
  }
}`

// Trades fetches up to first raw trades for tokenID from the given
// timestamp onward, paginating past the service's page cap until the
// requested count is reached or the result dries up.
func (c *Client) Trades(ctx context.Context, tokenID string, from int64, first int) ([]ohlc.RawTrade, error) {
	var out []ohlc.RawTrade

	for len(out) < first {
		page := first - len(out)
		if page > pageLimit {
			page = pageLimit
		}

		req := graphql.NewRequest(tradesQuery)
		req.Var("tokenId", strings.ToLower(tokenID))
		req.Var("first", page)
		req.Var("skip", len(out))
		req.Var("from", strconv.FormatInt(from, 10))

		var resp struct {
			Trades []ohlc.RawTrade `json:"trades"`
		}
		if err := c.gql.Run(ctx, req, &resp); err != nil {
			return nil, fmt.Errorf("indexer: trades [%s]: %w", tokenID, err)
		}
		out = append(out, resp.Trades...)

		// A short page means the range is exhausted.
		if len(resp.Trades) < page {
			break
		}
	}

	return out, nil
}

const latestPriceQuery = `
query TokenLatestPrice($tokenId: String!) {
  trades(
    where: { token: $tokenId }
    first: 1
    orderBy: timestamp
    orderDirection: desc
  ) {
    price
    timestamp
    isBuy
  }
}`

// LatestPrice returns the most recent trade's price for tokenID, or
// nil when the token has never traded.
func (c *Client) LatestPrice(ctx context.Context, tokenID string) (*ohlc.RawPrice, error) {
	req := graphql.NewRequest(latestPriceQuery)
	req.Var("tokenId", strings.ToLower(tokenID))

	var resp struct {
		Trades []ohlc.RawPrice `json:"trades"`
	}
	if err := c.gql.Run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("indexer: latest price [%s]: %w", tokenID, err)
	}
	if len(resp.Trades) == 0 {
		return nil, nil
	}
	return &resp.Trades[0], nil
}
