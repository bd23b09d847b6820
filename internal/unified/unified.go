// Package unified is the boundary to the multi-exchange client library the
// generic adapter delegates to. Drivers speak loosely typed records (numbers
// as strings, timestamps as epoch ms) and the adapter normalizes them.
package unified

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrArgumentNotSupported is returned when a driver cannot honour an
	// argument (for example a multi-symbol filter). Callers may retry without it.
	ErrArgumentNotSupported = errors.New("argument not supported by driver")
	ErrMarketNotFound       = errors.New("market not found")
)

// Segment is the driver-side market segment.
type Segment string

const (
	SegmentSpot Segment = "spot"
	SegmentSwap Segment = "swap" // 线性永续
)

// Feature names an optional driver operation.
type Feature string

const (
	FeatureFetchOrders       Feature = "fetchOrders" // 全量订单(含已完成)
	FeatureFetchOpenOrders   Feature = "fetchOpenOrders"
	FeatureFetchClosedOrders Feature = "fetchClosedOrders"
	FeatureFetchBalance      Feature = "fetchBalance"
	FeatureFetchPositions    Feature = "fetchPositions"
	FeatureFetchOHLCV        Feature = "fetchOHLCV"
	FeatureFetchTickers      Feature = "fetchTickers"
	FeatureCreateOrder       Feature = "createOrder"
)

// Market is one instrument as the driver reports it.
type Market struct {
	Symbol          string `json:"symbol"` // BASE/QUOTE or BASE/QUOTE:SETTLE
	ID              string `json:"id"`     // venue id, e.g. BTCUSDT
	Base            string `json:"base"`
	Quote           string `json:"quote"`
	Settle          string `json:"settle,omitempty"`
	Spot            bool   `json:"spot"`
	Swap            bool   `json:"swap"`
	Active          bool   `json:"active"`
	PricePrecision  int32  `json:"pricePrecision"`
	AmountPrecision int32  `json:"amountPrecision"`
	MinQty          string `json:"minQty,omitempty"`
	MinNotional     string `json:"minNotional,omitempty"`
}

// Order is a loosely typed order record. Status is one of open, closed,
// canceled, rejected, expired or the venue's raw value.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          string
	Type          string
	Status        string
	Price         string
	Average       string
	Amount        string
	Filled        string
	Remaining     string
	Cost          string
	Fee           string
	FeeCurrency   string
	Timestamp     int64 // ms
	LastUpdate    int64 // ms
}

type BalanceEntry struct {
	Currency string
	Free     string
	Used     string
	Total    string
}

type Position struct {
	Symbol        string
	Side          string // long / short
	Contracts     string
	EntryPrice    string
	MarkPrice     string
	Leverage      string
	UnrealizedPnl string
}

type OHLCV struct {
	Timestamp   int64 // open time, ms
	CloseTime   int64
	Open        string
	High        string
	Low         string
	Close       string
	Volume      string
	QuoteVolume string
	Trades      int64
}

type Ticker struct {
	Symbol    string
	Last      string
	Timestamp int64
}

// OrderArgs carries a new order. Amount and Price are already formatted.
type OrderArgs struct {
	Symbol        string
	Side          string // buy / sell
	Type          string // market / limit
	Amount        string
	Price         string
	TimeInForce   string
	ClientOrderID string
	ReduceOnly    bool
}

// Exchange is one driver instance bound to a segment.
type Exchange interface {
	ID() string
	Segment() Segment
	Has(f Feature) bool
	// RequiresSymbol reports whether f rejects an empty symbol.
	RequiresSymbol(f Feature) bool

	LoadMarkets(ctx context.Context) (map[string]Market, error)
	SetMarkets(markets map[string]Market)
	Markets() map[string]Market

	FetchOrders(ctx context.Context, symbol string, limit int) ([]Order, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	FetchClosedOrders(ctx context.Context, symbol string, limit int) ([]Order, error)
	FetchBalance(ctx context.Context) ([]BalanceEntry, error)
	FetchPositions(ctx context.Context, symbols []string) ([]Position, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]OHLCV, error)
	FetchTickers(ctx context.Context, symbols []string) (map[string]Ticker, error)
	CreateOrder(ctx context.Context, args OrderArgs) (Order, error)
	Ping(ctx context.Context) error
}

// Config is passed to a driver constructor.
type Config struct {
	APIKey   string
	Secret   string
	Password string
	Proxy    string
	Timeout  time.Duration
	Segment  Segment
	BaseURL  string // 测试时覆盖
}

type Constructor func(cfg Config) (Exchange, error)

// Registry maps lower-case exchange ids to driver constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

func (r *Registry) Register(id string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[strings.ToLower(id)] = ctor
}

func (r *Registry) Lookup(id string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.ctors[strings.ToLower(id)]
	return c, ok
}

// IDs returns the registered ids sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for id := range r.ctors {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// New constructs the driver registered under id.
func (r *Registry) New(id string, cfg Config) (Exchange, error) {
	ctor, ok := r.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("unified: exchange %q not registered", id)
	}
	return ctor(cfg)
}

// MarketStore is embedded by drivers to hold loaded markets.
type MarketStore struct {
	mu      sync.RWMutex
	markets map[string]Market
	byID    map[string]string // venue id -> symbol
}

func (s *MarketStore) SetMarkets(markets map[string]Market) {
	byID := make(map[string]string, len(markets))
	for sym, m := range markets {
		byID[m.ID] = sym
	}
	s.mu.Lock()
	s.markets = markets
	s.byID = byID
	s.mu.Unlock()
}

func (s *MarketStore) Markets() map[string]Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.markets
}

// Market looks up a unified symbol.
func (s *MarketStore) Market(symbol string) (Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[symbol]
	if !ok {
		return Market{}, fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	return m, nil
}

// SymbolOf maps a venue id back to its unified symbol; unknown ids pass through.
func (s *MarketStore) SymbolOf(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sym, ok := s.byID[id]; ok {
		return sym
	}
	return id
}
