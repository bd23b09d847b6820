package schema

// Backpack API Response Types

// BackpackMarketResponse is one entry of GET /api/v1/markets
type BackpackMarketResponse struct {
	Symbol         string `json:"symbol"`
	BaseSymbol     string `json:"baseSymbol"`
	QuoteSymbol    string `json:"quoteSymbol"`
	MarketType     string `json:"marketType"` // SPOT / PERP
	OrderBookState string `json:"orderBookState"`
	Filters        struct {
		Price struct {
			MinPrice string `json:"minPrice"`
			TickSize string `json:"tickSize"`
		} `json:"price"`
		Quantity struct {
			MinQuantity string `json:"minQuantity"`
			StepSize    string `json:"stepSize"`
		} `json:"quantity"`
	} `json:"filters"`
}

// BackpackTickerResponse is one entry of GET /api/v1/tickers
type BackpackTickerResponse struct {
	Symbol      string `json:"symbol"`
	FirstPrice  string `json:"firstPrice"`
	LastPrice   string `json:"lastPrice"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Volume      string `json:"volume"`
	QuoteVolume string `json:"quoteVolume"`
	Trades      string `json:"trades"`
}

// BackpackKlineResponse is one candle of GET /api/v1/klines
type BackpackKlineResponse struct {
	Start       string `json:"start"` // "2024-01-01 00:00:00" UTC
	End         string `json:"end"`
	Open        string `json:"open"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Close       string `json:"close"`
	Volume      string `json:"volume"`
	QuoteVolume string `json:"quoteVolume"`
	Trades      string `json:"trades"`
}

// BackpackCapitalResponse is GET /api/v1/capital keyed by asset
type BackpackCapitalResponse map[string]struct {
	Available string `json:"available"`
	Locked    string `json:"locked"`
	Staked    string `json:"staked"`
}

// BackpackOrderResponse covers open orders, order history and order execution.
// createdAt is epoch ms on open orders and an ISO string on history, hence interface{}.
type BackpackOrderResponse struct {
	ID                    string      `json:"id"`
	ClientID              interface{} `json:"clientId"`
	Symbol                string      `json:"symbol"`
	Side                  string      `json:"side"`      // Bid / Ask
	OrderType             string      `json:"orderType"` // Limit / Market
	Price                 interface{} `json:"price"`
	Quantity              interface{} `json:"quantity"`
	ExecutedQuantity      interface{} `json:"executedQuantity"`
	ExecutedQuoteQuantity interface{} `json:"executedQuoteQuantity"`
	Status                string      `json:"status"`
	TimeInForce           string      `json:"timeInForce"`
	CreatedAt             interface{} `json:"createdAt"`
}

// BackpackPositionResponse is one entry of GET /api/v1/position
type BackpackPositionResponse struct {
	Symbol        string `json:"symbol"`
	NetQuantity   string `json:"netQuantity"` // 负数为空头
	EntryPrice    string `json:"entryPrice"`
	MarkPrice     string `json:"markPrice"`
	PnlUnrealized string `json:"pnlUnrealized"`
	Imf           string `json:"imf"` // 初始保证金率, 杠杆 = 1/imf
}

// BackpackOrderRequest is the body of POST /api/v1/order
type BackpackOrderRequest struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Quantity    string `json:"quantity"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
	ClientID    uint32 `json:"clientId,omitempty"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
}

// BackpackErrorResponse is the error body of a failed REST call.
type BackpackErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
