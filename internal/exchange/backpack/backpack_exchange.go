// Package backpack is the from-scratch Backpack integration: ed25519 signed
// REST plus a streaming client that rebuilds order books from diffs.
package backpack

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kingsmao/exchange-adapter/internal/cache"
	"github.com/kingsmao/exchange-adapter/internal/exchange/base"
	"github.com/kingsmao/exchange-adapter/pkg/interfaces"
	"github.com/kingsmao/exchange-adapter/pkg/logger"
	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

var zero = decimal.Zero

// Exchange implements interfaces.Adapter and interfaces.Streamer for Backpack.
type Exchange struct {
	base.Base

	rest    *RESTClient
	ws      *StreamClient
	markets *cache.MarketCache

	mu          sync.RWMutex
	instruments map[string]schema.Instrument // unified symbol -> instrument
}

// New builds the adapter. markets may be nil (no disk cache); stream may be nil.
func New(market schema.MarketType, cfg schema.AdapterConfig, markets *cache.MarketCache, stream *cache.MemoryCache, opts Options) (*Exchange, error) {
	if !market.Valid() {
		return nil, fmt.Errorf("backpack: unsupported market %q: %w", market, interfaces.ErrInvalidConfiguration)
	}
	caps := interfaces.NewCapabilitySet(interfaces.AllCapabilities...)
	if market == schema.SPOT {
		caps = caps.Without(interfaces.CapFetchPositions)
	}
	return &Exchange{
		Base:    base.New(schema.BACKPACK, market, caps),
		rest:    NewRESTClient(cfg, opts),
		ws:      NewStreamClient(market, stream, cfg, opts.WSURL),
		markets: markets,
	}, nil
}

func (e *Exchange) WS() interfaces.WSConnector { return e.ws }

// Stream exposes the concrete client for handler and depth configuration.
func (e *Exchange) Stream() *StreamClient { return e.ws }

func (e *Exchange) Close() error {
	return e.ws.Close()
}

func (e *Exchange) marketType() string {
	if e.IsFutures() {
		return "PERP"
	}
	return "SPOT"
}

func (e *Exchange) cacheKey() string {
	if e.markets == nil {
		return ""
	}
	return e.markets.GetCacheKey(e.Name(), e.Market())
}

// LoadMarkets returns cached metadata unless reload is set or the cache expired.
func (e *Exchange) LoadMarkets(ctx context.Context, reload bool) (map[string]schema.Instrument, error) {
	if !reload {
		e.mu.RLock()
		loaded := e.instruments
		e.mu.RUnlock()
		if loaded != nil {
			return loaded, nil
		}
		if e.markets != nil {
			if data, ok := e.markets.Load(e.cacheKey()); ok {
				e.setInstruments(data)
				return data, nil
			}
		}
	}

	resp, err := e.rest.GetMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("backpack load markets: %w", err)
	}

	out := make(map[string]schema.Instrument, len(resp))
	for _, m := range resp {
		if !strings.EqualFold(m.MarketType, e.marketType()) {
			continue
		}
		unified, market, err := FromExchangeSymbol(m.Symbol)
		if err != nil || market != e.Market() {
			continue
		}
		inst := schema.Instrument{
			Symbol:          unified,
			ExchangeSymbol:  m.Symbol,
			Base:            m.BaseSymbol,
			Quote:           m.QuoteSymbol,
			Market:          market,
			Active:          m.OrderBookState == "" || strings.EqualFold(m.OrderBookState, "Open"),
			PricePrecision:  base.PrecisionFromStep(m.Filters.Price.TickSize),
			AmountPrecision: base.PrecisionFromStep(m.Filters.Quantity.StepSize),
			MinQty:          base.SafeDecimal(m.Filters.Quantity.MinQuantity, zero),
		}
		if market == schema.FUTURES {
			inst.Settle = m.QuoteSymbol
		}
		out[unified] = inst
	}

	e.setInstruments(out)
	if e.markets != nil {
		// 写缓存失败不影响本次结果
		_ = e.markets.Save(e.cacheKey(), out)
	}
	logger.Info("Backpack %s 加载交易对 %d 个", e.Market(), len(out))
	return out, nil
}

func (e *Exchange) setInstruments(data map[string]schema.Instrument) {
	e.mu.Lock()
	e.instruments = data
	e.mu.Unlock()
}

func (e *Exchange) instrument(symbol string) (schema.Instrument, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inst, ok := e.instruments[symbol]
	return inst, ok
}

func (e *Exchange) normalize(symbol string) string {
	return base.NormalizeSymbol(symbol, e.Market(), "")
}

func (e *Exchange) toExchange(symbol string) (string, error) {
	return ToExchangeSymbol(e.normalize(symbol), e.Market())
}

// FetchOrders returns open orders plus order history, deduplicated by id.
func (e *Exchange) FetchOrders(ctx context.Context, q schema.OrderQuery) ([]schema.Order, error) {
	if err := e.rest.requireSigner(); err != nil {
		return nil, err
	}
	symbol := ""
	if q.Symbol != "" {
		s, err := e.toExchange(q.Symbol)
		if err != nil {
			return nil, err
		}
		symbol = s
	}

	open, err := e.rest.GetOpenOrders(ctx, symbol, e.marketType())
	if err != nil {
		return nil, fmt.Errorf("backpack open orders: %w", err)
	}
	history, err := e.rest.GetOrderHistory(ctx, symbol, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("backpack order history: %w", err)
	}

	seen := make(map[string]struct{}, len(open)+len(history))
	out := make([]schema.Order, 0, len(open)+len(history))
	for _, raw := range append(open, history...) {
		if _, dup := seen[raw.ID]; dup {
			continue
		}
		o, ok := e.normalizeOrder(raw)
		if !ok {
			continue
		}
		seen[raw.ID] = struct{}{}
		out = append(out, o)
	}
	return out, nil
}

func (e *Exchange) FetchOpenOrders(ctx context.Context, symbol string) ([]schema.Order, error) {
	if err := e.rest.requireSigner(); err != nil {
		return nil, err
	}
	exSymbol := ""
	if symbol != "" {
		s, err := e.toExchange(symbol)
		if err != nil {
			return nil, err
		}
		exSymbol = s
	}
	resp, err := e.rest.GetOpenOrders(ctx, exSymbol, e.marketType())
	if err != nil {
		return nil, fmt.Errorf("backpack open orders: %w", err)
	}
	out := make([]schema.Order, 0, len(resp))
	for _, raw := range resp {
		if o, ok := e.normalizeOrder(raw); ok {
			out = append(out, o)
		}
	}
	return out, nil
}

// normalizeOrder drops orders of the other segment.
func (e *Exchange) normalizeOrder(raw schema.BackpackOrderResponse) (schema.Order, bool) {
	unified, market, err := FromExchangeSymbol(raw.Symbol)
	if err != nil || market != e.Market() {
		return schema.Order{}, false
	}
	amount := base.SafeDecimal(raw.Quantity, zero)
	filled := base.SafeDecimal(raw.ExecutedQuantity, zero)
	remaining := amount.Sub(filled)
	if remaining.IsNegative() {
		remaining = zero
	}
	created := base.ParseTime(raw.CreatedAt)
	createdStr := ""
	if !created.IsZero() {
		createdStr = base.FormatTimestamp(created.UnixMilli())
	}

	return schema.Order{
		Exchange:      schema.BACKPACK,
		Market:        market,
		Symbol:        unified,
		OrderID:       raw.ID,
		ClientOrderID: base.SafeString(raw.ClientID),
		Side:          fromBackpackSide(raw.Side),
		Type:          schema.OrderType(strings.ToLower(raw.OrderType)),
		Status:        fromBackpackStatus(raw.Status),
		Price:         base.SafeDecimal(raw.Price, zero),
		Amount:        amount,
		Filled:        filled,
		Remaining:     remaining,
		Total:         base.SafeDecimal(raw.ExecutedQuoteQuantity, zero),
		Fee:           zero,
		OrderTime:     createdStr,
		UpdateTime:    createdStr,
	}, true
}

func fromBackpackSide(side string) schema.OrderSide {
	if strings.EqualFold(side, "Ask") {
		return schema.OrderSideSell
	}
	return schema.OrderSideBuy
}

func toBackpackSide(side schema.OrderSide) string {
	if side == schema.OrderSideSell {
		return "Ask"
	}
	return "Bid"
}

func fromBackpackStatus(status string) schema.OrderStatus {
	switch status {
	case "New", "TriggerPending":
		return schema.OrderStatusOpen
	case "PartiallyFilled":
		return schema.OrderStatusPartially
	case "Filled":
		return schema.OrderStatusFilled
	case "Cancelled":
		return schema.OrderStatusCanceled
	case "Expired":
		return schema.OrderStatusExpired
	case "TriggerFailed":
		return schema.OrderStatusRejected
	default:
		return schema.OrderStatusUnknown
	}
}

// FetchPositions returns non-zero perpetual positions.
func (e *Exchange) FetchPositions(ctx context.Context, symbols []string) ([]schema.Position, error) {
	if err := e.Require(interfaces.CapFetchPositions); err != nil {
		return nil, err
	}
	if err := e.rest.requireSigner(); err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		want[e.normalize(s)] = struct{}{}
	}

	resp, err := e.rest.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("backpack positions: %w", err)
	}
	out := make([]schema.Position, 0, len(resp))
	for _, p := range resp {
		net := base.SafeDecimal(p.NetQuantity, zero)
		if net.IsZero() {
			continue
		}
		unified, _, err := FromExchangeSymbol(p.Symbol)
		if err != nil {
			continue
		}
		if len(want) > 0 {
			if _, ok := want[unified]; !ok {
				continue
			}
		}
		side := schema.PositionSideLong
		if net.IsNegative() {
			side = schema.PositionSideShort
		}
		leverage := zero
		if imf := base.SafeDecimal(p.Imf, zero); imf.IsPositive() {
			leverage = decimal.NewFromInt(1).Div(imf).Round(2)
		}
		out = append(out, schema.Position{
			Exchange:      schema.BACKPACK,
			Market:        schema.FUTURES,
			Symbol:        unified,
			Side:          side,
			Size:          net.Abs(),
			EntryPrice:    base.SafeDecimal(p.EntryPrice, zero),
			MarkPrice:     base.SafeDecimal(p.MarkPrice, zero),
			Leverage:      leverage,
			UnrealizedPnl: base.SafeDecimal(p.PnlUnrealized, zero),
		})
	}
	return out, nil
}

// FetchBalance returns currencies with a non-zero total.
func (e *Exchange) FetchBalance(ctx context.Context) ([]schema.Balance, error) {
	if err := e.rest.requireSigner(); err != nil {
		return nil, err
	}
	resp, err := e.rest.GetBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("backpack balances: %w", err)
	}
	out := make([]schema.Balance, 0, len(resp))
	for asset, b := range resp {
		free := base.SafeDecimal(b.Available, zero)
		used := base.SafeDecimal(b.Locked, zero).Add(base.SafeDecimal(b.Staked, zero))
		total := free.Add(used)
		if total.IsZero() {
			continue
		}
		out = append(out, schema.Balance{
			Exchange: schema.BACKPACK,
			Market:   e.Market(),
			Currency: asset,
			Free:     free,
			Used:     used,
			Total:    total,
		})
	}
	return out, nil
}

func (e *Exchange) FetchKlines(ctx context.Context, symbol string, interval schema.Interval, limit int) ([]schema.Kline, error) {
	exSymbol, err := e.toExchange(symbol)
	if err != nil {
		return nil, err
	}
	if interval == "" {
		interval = schema.Interval1m
	}
	resp, err := e.rest.GetKlines(ctx, exSymbol, interval, klineStart(time.Now(), interval, limit), 0)
	if err != nil {
		return nil, fmt.Errorf("backpack klines: %w", err)
	}
	if limit > 0 && len(resp) > limit {
		resp = resp[len(resp)-limit:]
	}
	unified := e.normalize(symbol)
	out := make([]schema.Kline, 0, len(resp))
	for _, k := range resp {
		out = append(out, schema.Kline{
			Exchange:    schema.BACKPACK,
			Market:      e.Market(),
			Symbol:      unified,
			Interval:    interval,
			OpenTime:    base.ParseTime(k.Start),
			CloseTime:   base.ParseTime(k.End),
			Open:        base.SafeDecimal(k.Open, zero),
			High:        base.SafeDecimal(k.High, zero),
			Low:         base.SafeDecimal(k.Low, zero),
			Close:       base.SafeDecimal(k.Close, zero),
			Volume:      base.SafeDecimal(k.Volume, zero),
			QuoteVolume: base.SafeDecimal(k.QuoteVolume, zero),
			TradeNum:    base.SafeInt64(k.Trades, 0),
			IsFinal:     true,
		})
	}
	return out, nil
}

func (e *Exchange) FetchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	resp, err := e.rest.GetTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("backpack tickers: %w", err)
	}
	want := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		want[e.normalize(s)] = struct{}{}
	}
	out := make(map[string]decimal.Decimal)
	for _, t := range resp {
		unified, market, err := FromExchangeSymbol(t.Symbol)
		if err != nil || market != e.Market() {
			continue
		}
		if len(want) > 0 {
			if _, ok := want[unified]; !ok {
				continue
			}
		}
		out[unified] = base.SafeDecimal(t.LastPrice, zero)
	}
	return out, nil
}

// TestConnectivity pings the public API and, with credentials, a signed endpoint.
func (e *Exchange) TestConnectivity(ctx context.Context) error {
	if err := e.rest.Ping(ctx); err != nil {
		return fmt.Errorf("backpack ping: %w", err)
	}
	if !e.rest.CanSign() {
		return nil
	}
	if _, err := e.rest.GetBalances(ctx); err != nil {
		return fmt.Errorf("backpack signed check: %w", err)
	}
	return nil
}

func (e *Exchange) CreateOrder(ctx context.Context, req schema.OrderRequest) (schema.Order, error) {
	if err := e.rest.requireSigner(); err != nil {
		return schema.Order{}, err
	}
	if !req.Amount.IsPositive() {
		return schema.Order{}, fmt.Errorf("backpack create order: amount must be positive: %w", interfaces.ErrInvalidConfiguration)
	}
	exSymbol, err := e.toExchange(req.Symbol)
	if err != nil {
		return schema.Order{}, err
	}

	qtyDecimals, priceDecimals := DefaultQuantityDecimals, int32(0)
	if inst, ok := e.instrument(e.normalize(req.Symbol)); ok {
		if inst.AmountPrecision < qtyDecimals {
			qtyDecimals = inst.AmountPrecision
		}
		priceDecimals = inst.PricePrecision
	}

	quantity := FormatQuantity(req.Amount, qtyDecimals)
	if q, err := decimal.NewFromString(quantity); err != nil || !q.IsPositive() {
		return schema.Order{}, fmt.Errorf("backpack create order: amount %s truncates to %s at %d decimals: %w",
			req.Amount, quantity, qtyDecimals, interfaces.ErrInvalidConfiguration)
	}

	body := schema.BackpackOrderRequest{
		Symbol:     exSymbol,
		Side:       toBackpackSide(req.Side),
		OrderType:  "Market",
		Quantity:   quantity,
		ClientID:   clientID(req.ClientOrderID),
		ReduceOnly: req.ReduceOnly && e.IsFutures(),
	}
	if req.Type == schema.OrderTypeLimit {
		body.OrderType = "Limit"
		body.Price = FormatPrice(req.Price, priceDecimals)
		body.TimeInForce = req.TimeInForce
		if body.TimeInForce == "" {
			body.TimeInForce = "GTC"
		}
	}

	resp, err := e.rest.ExecuteOrder(ctx, body)
	if err != nil {
		return schema.Order{}, fmt.Errorf("backpack create order: %w", err)
	}
	o, ok := e.normalizeOrder(resp)
	if !ok {
		return schema.Order{}, fmt.Errorf("backpack create order: unexpected symbol %q in response", resp.Symbol)
	}
	return o, nil
}

// clientID Backpack 的 clientId 是 u32; 非数字的调用方 id 退化为随机值
func clientID(requested string) uint32 {
	if requested != "" {
		if v := base.SafeInt64(requested, -1); v > 0 && v <= int64(^uint32(0)) {
			return uint32(v)
		}
	}
	return uuid.New().ID()
}
