package ohlc

// RawCandle is one pre-aggregated OHLC row as delivered by the indexing
// service. All numeric fields are fixed-point integer strings in the
// chain's base-unit representation; nothing is parsed until the chart
// boundary.
type RawCandle struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
	Trades    string `json:"trades"`
}

// RawTrade is one trade event as delivered by the indexing service.
type RawTrade struct {
	ID          string `json:"id"`
	Timestamp   string `json:"timestamp"`
	Price       string `json:"price"`
	QuoteAmount string `json:"coreAmount"`
	BaseAmount  string `json:"tokenAmount"`
	IsBuy       bool   `json:"isBuy"`
	TxHash      string `json:"transactionHash"`
}

// RawPrice is the latest-price query result: the most recent trade's
// price, still in wire encoding.
type RawPrice struct {
	Price     string `json:"price"`
	Timestamp string `json:"timestamp"`
	IsBuy     bool   `json:"isBuy"`
}

// Candle is a validated chart candle. Timestamp is the bucket start in
// unix seconds, aligned to the interval's boundary; low ≤ open,close ≤ high.
type Candle struct {
	Timestamp int64   `json:"time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Trades    int     `json:"trades,omitempty"`
}

// VolumeBar is one histogram bar parallel to a candle. Up mirrors the
// bucket's close-vs-open direction; the render surface picks the color.
type VolumeBar struct {
	Timestamp int64   `json:"time"`
	Value     float64 `json:"value"`
	Up        bool    `json:"up"`
}

// Series is the chart output: candles ascending by timestamp plus the
// volume histogram. The volume series can be shorter than the candle
// series when individual volume fields were malformed upstream.
type Series struct {
	Candles []Candle    `json:"candles"`
	Volumes []VolumeBar `json:"volumes"`
}

// Trade is a validated trade used by the synthesizer fallback path.
type Trade struct {
	ID          string
	Timestamp   int64
	Price       float64
	QuoteAmount float64
	BaseAmount  float64
	IsBuy       bool
	TxHash      string
}

// PricePoint is a single observed price.
type PricePoint struct {
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// PriceChange is the period-over-period change derived from the last
// two candles of a series.
type PriceChange struct {
	Change   float64 `json:"change"`
	Percent  float64 `json:"percent"`
	Positive bool    `json:"positive"`
}
