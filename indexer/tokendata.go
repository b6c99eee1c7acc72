package indexer

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/machinebox/graphql"

	"github.com/corelaunch/chartfeed/model/ohlc"
	"github.com/corelaunch/chartfeed/model/token"
)

const tokenDataQuery = `
query TokenData($tokenId: String!) {
  token(id: $tokenId) {
    id
    name
    symbol
    image
    creator
    currentPrice
    graduated
    createdAt
    updatedAt
    volumeTotal
    tradeCount
    holderCount
    holders(first: 100, orderBy: balance, orderDirection: desc) {
      address
      balance
    }
    trades(first: 50, orderBy: timestamp, orderDirection: desc) {
      id
      timestamp
      price
      coreAmount
      tokenAmount
      isBuy
      transactionHash
    }
  }
}`

// TokenData fetches the full token-detail payload: core fields,
// trading metrics, top holders and recent trades. A nil page with nil
// error means the token is unknown to the indexer.
func (c *Client) TokenData(ctx context.Context, tokenID string) (*token.Page, error) {
	req := graphql.NewRequest(tokenDataQuery)
	req.Var("tokenId", strings.ToLower(tokenID))

	var resp struct {
		Token *struct {
			token.Token
			VolumeTotal string          `json:"volumeTotal"`
			TradeCount  string          `json:"tradeCount"`
			HolderCount string          `json:"holderCount"`
			Holders     []token.Holder  `json:"holders"`
			Trades      []ohlc.RawTrade `json:"trades"`
		} `json:"token"`
	}
	if err := c.gql.Run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("indexer: token data [%s]: %w", tokenID, err)
	}
	if resp.Token == nil {
		return nil, nil
	}

	t := resp.Token
	return &token.Page{
		Token: &t.Token,
		Metrics: &token.Metrics{
			VolumeTotal: t.VolumeTotal,
			TradeCount:  t.TradeCount,
			HolderCount: t.HolderCount,
		},
		Holders:      t.Holders,
		RecentTrades: t.Trades,
	}, nil
}

const activitiesQuery = `
query TickerActivities($first: Int!, $tradesFirst: Int!) {
  tokens(first: $first, orderBy: createdAt, orderDirection: desc) {
    id
    name
    symbol
    image
    creator
    currentPrice
    graduated
    createdAt
    updatedAt
  }
  trades(first: $tradesFirst, orderBy: timestamp, orderDirection: desc) {
    id
    trader
    isBuy
    coreAmount
    tokenAmount
    price
    timestamp
    transactionHash
    token {
      id
      name
      symbol
      image
    }
  }
}`

// Activities fetches recent token creations and trades and merges them
// into one list, newest first, for the ticker tape.
func (c *Client) Activities(ctx context.Context, nTokens, nTrades int) ([]token.Activity, error) {
	req := graphql.NewRequest(activitiesQuery)
	req.Var("first", nTokens)
	req.Var("tradesFirst", nTrades)

	var resp struct {
		Tokens []token.Token `json:"tokens"`
		Trades []struct {
			ID          string      `json:"id"`
			Trader      string      `json:"trader"`
			IsBuy       bool        `json:"isBuy"`
			QuoteAmount string      `json:"coreAmount"`
			BaseAmount  string      `json:"tokenAmount"`
			Price       string      `json:"price"`
			Timestamp   string      `json:"timestamp"`
			TxHash      string      `json:"transactionHash"`
			Token       token.Token `json:"token"`
		} `json:"trades"`
	}
	if err := c.gql.Run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("indexer: activities: %w", err)
	}

	out := make([]token.Activity, 0, len(resp.Tokens)+len(resp.Trades))
	for _, t := range resp.Tokens {
		ts, err := strconv.ParseInt(t.CreatedAt, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, token.Activity{
			ID:        "creation:" + t.ID,
			Kind:      token.ActivityCreation,
			Timestamp: ts,
			Token:     t,
		})
	}
	for _, tr := range resp.Trades {
		ts, err := strconv.ParseInt(tr.Timestamp, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, token.Activity{
			ID:          "trade:" + tr.ID,
			Kind:        token.ActivityTrade,
			Timestamp:   ts,
			Token:       tr.Token,
			IsBuy:       tr.IsBuy,
			Price:       tr.Price,
			QuoteAmount: tr.QuoteAmount,
			Trader:      tr.Trader,
			TxHash:      tr.TxHash,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
