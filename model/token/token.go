package token

import "github.com/corelaunch/chartfeed/model/ohlc"

// Token is the launchpad token core record from the indexing service.
// Balance-like fields stay in wire encoding; the token page renders
// them through the same fixed-point formatting as prices.
type Token struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	Image        string `json:"image"`
	Creator      string `json:"creator"`
	CurrentPrice string `json:"currentPrice"`
	Graduated    bool   `json:"graduated"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

// Metrics summarizes trading activity for the token detail page.
type Metrics struct {
	VolumeTotal string `json:"volumeTotal"`
	TradeCount  string `json:"tradeCount"`
	HolderCount string `json:"holderCount"`
}

// Holder is one address/balance pair.
type Holder struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// Page is one full token-detail payload as polled by the feed.
type Page struct {
	Token        *Token          `json:"token"`
	Metrics      *Metrics        `json:"metrics"`
	Holders      []Holder        `json:"holders"`
	RecentTrades []ohlc.RawTrade `json:"recentTrades"`
}

// ActivityKind discriminates ticker entries.
type ActivityKind string

const (
	ActivityTrade    ActivityKind = "trade"
	ActivityCreation ActivityKind = "creation"
)

// Activity is one ticker-tape entry: a recent trade or token creation.
type Activity struct {
	ID        string       `json:"id"`
	Kind      ActivityKind `json:"kind"`
	Timestamp int64        `json:"timestamp"`
	Token     Token        `json:"token"`

	// Trade fields, empty for creations.
	IsBuy       bool   `json:"isBuy,omitempty"`
	Price       string `json:"price,omitempty"`
	QuoteAmount string `json:"coreAmount,omitempty"`
	Trader      string `json:"trader,omitempty"`
	TxHash      string `json:"transactionHash,omitempty"`
}
