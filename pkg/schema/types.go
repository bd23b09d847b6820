package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeName identifies an exchange. Any lowercase id the factory can resolve is valid.
type ExchangeName string

const (
	BINANCE      ExchangeName = "binance"
	BINANCEUS    ExchangeName = "binanceus"
	BYBIT        ExchangeName = "bybit"
	BYBITTESTNET ExchangeName = "bybit-testnet"
	BACKPACK     ExchangeName = "backpack"
)

// MarketType categorizes market segments.
type MarketType string

const (
	SPOT    MarketType = "spot"
	FUTURES MarketType = "futures" // 永续合约
)

// Valid reports whether m is one of the supported segments.
func (m MarketType) Valid() bool {
	return m == SPOT || m == FUTURES
}

// Interval for Kline/candles.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// AdapterConfig carries credentials and transport options for one (exchange, segment).
type AdapterConfig struct {
	APIKey     string        `json:"apiKey,omitempty" yaml:"api_key"`
	Secret     string        `json:"-" yaml:"secret"`
	Passphrase string        `json:"-" yaml:"passphrase"`
	Proxy      string        `json:"proxy,omitempty" yaml:"proxy"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultTimeout is applied when AdapterConfig.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// RequestTimeout returns the configured timeout or DefaultTimeout.
func (c AdapterConfig) RequestTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// HasCredentials reports whether both key and secret are set.
func (c AdapterConfig) HasCredentials() bool {
	return c.APIKey != "" && c.Secret != ""
}

// Instrument is the normalized market metadata for one tradable symbol.
type Instrument struct {
	Symbol          string          `json:"symbol"`         // 统一格式, BASE/QUOTE 或 BASE/QUOTE:SETTLE
	ExchangeSymbol  string          `json:"exchangeSymbol"` // 交易所原始格式
	Base            string          `json:"base"`
	Quote           string          `json:"quote"`
	Settle          string          `json:"settle,omitempty"`
	Market          MarketType      `json:"market"`
	Active          bool            `json:"active"`
	PricePrecision  int32           `json:"pricePrecision"`
	AmountPrecision int32           `json:"amountPrecision"`
	MinQty          decimal.Decimal `json:"minQty"`
	MinNotional     decimal.Decimal `json:"minNotional"`
}

// PriceLevel represents a single order book level.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Depth represents order book snapshot.
type Depth struct {
	Exchange     ExchangeName `json:"exchange"`
	Market       MarketType   `json:"market"`
	Symbol       string       `json:"symbol"`
	Bids         []PriceLevel `json:"bids"` // 买盘,由大到小排序
	Asks         []PriceLevel `json:"asks"` // 卖盘,由小到大排序
	UpdatedAt    time.Time    `json:"updatedAt"`
	LastUpdateId int64        `json:"lastUpdateId,omitempty"`
}

// Ticker represents the latest price.
type Ticker struct {
	Exchange  ExchangeName    `json:"exchange"`
	Market    MarketType      `json:"market"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume,omitempty"`
	QuoteVol  decimal.Decimal `json:"quoteVolume,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Kline represents a normalized candle.
type Kline struct {
	Exchange    ExchangeName    `json:"exchange"`
	Market      MarketType      `json:"market"`
	Symbol      string          `json:"symbol"`
	Interval    Interval        `json:"interval"`
	OpenTime    time.Time       `json:"openTime"`
	CloseTime   time.Time       `json:"closeTime"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quoteVolume"`
	TradeNum    int64           `json:"tradeNum"`
	IsFinal     bool            `json:"isFinal"`
	EventTime   time.Time       `json:"-"`
}

// OrderSide defines the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"  // 买单
	OrderSideSell OrderSide = "sell" // 卖单
)

// OrderType defines the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market" // 市价单
	OrderTypeLimit  OrderType = "limit"  // 限价单
)

// OrderStatus defines the status of an order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"      // 挂单中
	OrderStatusPartially OrderStatus = "partially" // 部分成交
	OrderStatusFilled    OrderStatus = "filled"    // 已成交
	OrderStatusCanceled  OrderStatus = "canceled"  // 已取消
	OrderStatusRejected  OrderStatus = "rejected"  // 已拒绝
	OrderStatusExpired   OrderStatus = "expired"   // 已过期
	OrderStatusUnknown   OrderStatus = "unknown"
)

// Order is the normalized order record returned by every adapter.
type Order struct {
	Exchange      ExchangeName    `json:"exchange"`      // 交易所
	Market        MarketType      `json:"market"`        // 市场类型
	Symbol        string          `json:"symbol"`        // 交易对(统一格式)
	OrderID       string          `json:"orderId"`       // 订单ID
	ClientOrderID string          `json:"clientOrderId"` // 客户端订单ID
	Side          OrderSide       `json:"side"`          // 订单方向
	Type          OrderType       `json:"type"`          // 订单类型
	Status        OrderStatus     `json:"status"`        // 订单状态
	Price         decimal.Decimal `json:"price"`         // 价格
	Amount        decimal.Decimal `json:"amount"`        // 数量
	Filled        decimal.Decimal `json:"filled"`        // 已成交数量
	Remaining     decimal.Decimal `json:"remaining"`     // 剩余数量
	Total         decimal.Decimal `json:"total"`         // 成交金额
	Fee           decimal.Decimal `json:"fee"`           // 手续费
	FeeCurrency   string          `json:"feeCurrency"`   // 手续费资产
	OrderTime     string          `json:"orderTime"`     // 创建时间, RFC3339
	UpdateTime    string          `json:"updateTime"`    // 更新时间, RFC3339
}

// OrderRequest describes an order to be placed.
type OrderRequest struct {
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Type          OrderType       `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price,omitempty"`
	TimeInForce   string          `json:"timeInForce,omitempty"` // 默认 GTC
	ClientOrderID string          `json:"clientOrderId,omitempty"`
	ReduceOnly    bool            `json:"reduceOnly,omitempty"`
}

// OrderQuery narrows FetchOrders. All fields are optional.
type OrderQuery struct {
	Symbol         string   `json:"symbol,omitempty"`
	Symbols        []string `json:"symbols,omitempty"`        // 显式指定的交易对, 原样使用
	BaseCurrencies []string `json:"baseCurrencies,omitempty"` // 用于推断交易对的基础币种
	Limit          int      `json:"limit,omitempty"`
}

// Balance is one currency of a spot account.
type Balance struct {
	Exchange ExchangeName    `json:"exchange"`
	Market   MarketType      `json:"market"`
	Currency string          `json:"currency"`
	Free     decimal.Decimal `json:"free"`
	Used     decimal.Decimal `json:"used"`
	Total    decimal.Decimal `json:"total"`
}

// PositionSide is long or short.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position is one open futures position.
type Position struct {
	Exchange      ExchangeName    `json:"exchange"`
	Market        MarketType      `json:"market"`
	Symbol        string          `json:"symbol"`
	Side          PositionSide    `json:"side"`
	Size          decimal.Decimal `json:"size"` // 合约数量, 恒为正
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	MarkPrice     decimal.Decimal `json:"markPrice"`
	Leverage      decimal.Decimal `json:"leverage"`
	UnrealizedPnl decimal.Decimal `json:"unrealizedPnl"`
}
