// Package generic adapts any unified driver to interfaces.Adapter.
package generic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kingsmao/exchange-adapter/internal/cache"
	"github.com/kingsmao/exchange-adapter/internal/exchange/base"
	"github.com/kingsmao/exchange-adapter/internal/unified"
	"github.com/kingsmao/exchange-adapter/pkg/interfaces"
	"github.com/kingsmao/exchange-adapter/pkg/logger"
	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

// InferenceQuotes are paired with base currencies when no symbol is given.
var InferenceQuotes = []string{"USDT", "USDC", "BUSD", "FDUSD"}

// capabilityTable lists what each segment may declare; a capability is
// dropped when the driver lacks every feature it maps to.
var capabilityTable = map[schema.MarketType][]interfaces.Capability{
	schema.SPOT: {
		interfaces.CapFetchOrders, interfaces.CapFetchOpenOrders, interfaces.CapFetchBalance,
		interfaces.CapFetchKlines, interfaces.CapFetchPrices, interfaces.CapTestConnectivity,
		interfaces.CapLoadMarkets, interfaces.CapCreateOrder,
	},
	schema.FUTURES: {
		interfaces.CapFetchOrders, interfaces.CapFetchOpenOrders, interfaces.CapFetchPositions,
		interfaces.CapFetchBalance, interfaces.CapFetchKlines, interfaces.CapFetchPrices,
		interfaces.CapTestConnectivity, interfaces.CapLoadMarkets, interfaces.CapCreateOrder,
	},
}

var capabilityFeatures = map[interfaces.Capability][]unified.Feature{
	interfaces.CapFetchOrders:     {unified.FeatureFetchOrders, unified.FeatureFetchOpenOrders, unified.FeatureFetchClosedOrders},
	interfaces.CapFetchOpenOrders: {unified.FeatureFetchOpenOrders},
	interfaces.CapFetchPositions:  {unified.FeatureFetchPositions},
	interfaces.CapFetchBalance:    {unified.FeatureFetchBalance},
	interfaces.CapFetchKlines:     {unified.FeatureFetchOHLCV},
	interfaces.CapFetchPrices:     {unified.FeatureFetchTickers},
	interfaces.CapCreateOrder:     {unified.FeatureCreateOrder},
}

// Adapter delegates to one unified driver bound to (exchange, segment).
type Adapter struct {
	base.Base

	driver  unified.Exchange
	markets *cache.MarketCache
	timeout time.Duration

	mu          sync.RWMutex
	instruments map[string]schema.Instrument
}

func segmentOf(market schema.MarketType) (unified.Segment, error) {
	switch market {
	case schema.SPOT:
		return unified.SegmentSpot, nil
	case schema.FUTURES:
		return unified.SegmentSwap, nil
	default:
		return "", fmt.Errorf("unsupported market %q: %w", market, interfaces.ErrInvalidConfiguration)
	}
}

// New constructs the driver from registry and loads market metadata.
func New(ctx context.Context, name schema.ExchangeName, market schema.MarketType, cfg schema.AdapterConfig, registry *unified.Registry, markets *cache.MarketCache) (*Adapter, error) {
	segment, err := segmentOf(market)
	if err != nil {
		return nil, err
	}
	driver, err := registry.New(string(name), unified.Config{
		APIKey:   cfg.APIKey,
		Secret:   cfg.Secret,
		Password: cfg.Passphrase,
		Proxy:    cfg.Proxy,
		Timeout:  cfg.RequestTimeout(),
		Segment:  segment,
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: construct driver: %w", name, market, err)
	}
	return NewWithDriver(ctx, name, market, driver, cfg.RequestTimeout(), markets)
}

// NewWithDriver wraps an existing driver. markets may be nil.
func NewWithDriver(ctx context.Context, name schema.ExchangeName, market schema.MarketType, driver unified.Exchange, timeout time.Duration, markets *cache.MarketCache) (*Adapter, error) {
	if _, err := segmentOf(market); err != nil {
		return nil, err
	}
	var caps []interfaces.Capability
	for _, c := range capabilityTable[market] {
		features, gated := capabilityFeatures[c]
		if !gated {
			caps = append(caps, c)
			continue
		}
		for _, f := range features {
			if driver.Has(f) {
				caps = append(caps, c)
				break
			}
		}
	}
	if timeout <= 0 {
		timeout = schema.DefaultTimeout
	}

	a := &Adapter{
		Base:    base.New(name, market, interfaces.NewCapabilitySet(caps...)),
		driver:  driver,
		markets: markets,
		timeout: timeout,
	}
	if _, err := a.LoadMarkets(ctx, false); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) cacheKey() string {
	return a.markets.GetCacheKey(a.Name(), a.Market())
}

// LoadMarkets serves the disk cache unless reload is set or the entry expired.
func (a *Adapter) LoadMarkets(ctx context.Context, reload bool) (map[string]schema.Instrument, error) {
	if !reload && a.markets != nil {
		if data, ok := a.markets.Load(a.cacheKey()); ok {
			logger.Debug("%s %s 使用缓存的交易对信息 (%d 个)", a.Name(), a.Market(), len(data))
			a.setInstruments(data)
			return data, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	raw, err := a.driver.LoadMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s %s load markets: %w", a.Name(), a.Market(), err)
	}

	data := make(map[string]schema.Instrument, len(raw))
	for _, m := range raw {
		inst := toInstrument(m, a.Market())
		data[inst.Symbol] = inst
	}
	a.setInstruments(data)
	if a.markets != nil {
		if err := a.markets.Save(a.cacheKey(), data); err != nil {
			logger.Warn("%s %s 写入交易对缓存失败: %v", a.Name(), a.Market(), err)
		}
	}
	logger.Info("%s %s 加载交易对 %d 个", a.Name(), a.Market(), len(data))
	return data, nil
}

func (a *Adapter) setInstruments(data map[string]schema.Instrument) {
	a.mu.Lock()
	a.instruments = data
	a.mu.Unlock()

	markets := make(map[string]unified.Market, len(data))
	for sym, inst := range data {
		markets[sym] = fromInstrument(inst)
	}
	a.driver.SetMarkets(markets)
}

func (a *Adapter) instrument(symbol string) (schema.Instrument, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	inst, ok := a.instruments[symbol]
	return inst, ok
}

func (a *Adapter) normalize(symbol string) string {
	return base.NormalizeSymbol(symbol, a.Market(), "")
}

// FetchOrders walks the retrieval chain: all-orders, else open ∪ closed; with
// no symbol on a driver that needs one, candidates are inferred.
func (a *Adapter) FetchOrders(ctx context.Context, q schema.OrderQuery) ([]schema.Order, error) {
	if err := a.Require(interfaces.CapFetchOrders); err != nil {
		return nil, err
	}
	if q.Symbol != "" {
		return a.ordersFor(ctx, a.normalize(q.Symbol), q.Limit)
	}
	if !a.needsSymbol() {
		return a.ordersFor(ctx, "", q.Limit)
	}

	candidates, err := a.inferSymbols(ctx, q)
	if err != nil {
		return nil, err
	}
	logger.Debug("%s %s 推断交易对: %v", a.Name(), a.Market(), candidates)

	var out []schema.Order
	for _, sym := range candidates {
		orders, err := a.ordersFor(ctx, sym, q.Limit)
		if err != nil {
			logger.Warn("%s %s 查询 %s 订单失败, 跳过: %v", a.Name(), a.Market(), sym, err)
			continue
		}
		out = append(out, orders...)
	}
	return out, nil
}

func (a *Adapter) needsSymbol() bool {
	if a.driver.Has(unified.FeatureFetchOrders) {
		return a.driver.RequiresSymbol(unified.FeatureFetchOrders)
	}
	return a.driver.RequiresSymbol(unified.FeatureFetchOpenOrders) || a.driver.RequiresSymbol(unified.FeatureFetchClosedOrders)
}

// ordersFor tries all-orders first, then the open and closed union; the first step that succeeds wins.
func (a *Adapter) ordersFor(ctx context.Context, symbol string, limit int) ([]schema.Order, error) {
	var allErr error
	if a.driver.Has(unified.FeatureFetchOrders) {
		raw, err := a.driver.FetchOrders(ctx, symbol, limit)
		if err == nil {
			return a.toOrders(raw), nil
		}
		allErr = err
		logger.Warn("%s %s 全量订单查询 %s 失败, 改用挂单+历史订单: %v", a.Name(), a.Market(), symbol, err)
	}

	hasOpen := a.driver.Has(unified.FeatureFetchOpenOrders)
	hasClosed := a.driver.Has(unified.FeatureFetchClosedOrders)
	if !hasOpen && !hasClosed {
		if allErr != nil {
			return nil, allErr
		}
		return nil, nil
	}

	var (
		raw  []unified.Order
		errs []error
		ok   bool
	)
	if allErr != nil {
		errs = append(errs, allErr)
	}
	if hasOpen {
		open, err := a.driver.FetchOpenOrders(ctx, symbol)
		if err != nil {
			logger.Warn("%s %s 挂单查询 %s 失败: %v", a.Name(), a.Market(), symbol, err)
			errs = append(errs, err)
		} else {
			ok = true
			raw = append(raw, open...)
		}
	}
	if hasClosed {
		closed, err := a.driver.FetchClosedOrders(ctx, symbol, limit)
		if err != nil {
			logger.Warn("%s %s 历史订单查询 %s 失败: %v", a.Name(), a.Market(), symbol, err)
			errs = append(errs, err)
		} else {
			ok = true
			raw = append(raw, closed...)
		}
	}
	if !ok {
		return nil, errors.Join(errs...)
	}

	seen := make(map[string]struct{}, len(raw))
	deduped := raw[:0]
	for _, o := range raw {
		if _, dup := seen[o.ID]; dup {
			continue
		}
		seen[o.ID] = struct{}{}
		deduped = append(deduped, o)
	}
	return a.toOrders(deduped), nil
}

// inferSymbols picks candidates from caller symbols, then base currencies,
// then non-zero balances, paired with InferenceQuotes and filtered by loaded markets.
func (a *Adapter) inferSymbols(ctx context.Context, q schema.OrderQuery) ([]string, error) {
	if len(q.Symbols) > 0 {
		return q.Symbols, nil
	}

	bases := q.BaseCurrencies
	if len(bases) == 0 {
		if !a.driver.Has(unified.FeatureFetchBalance) {
			return nil, nil
		}
		balances, err := a.FetchBalance(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s %s infer symbols from balance: %w", a.Name(), a.Market(), err)
		}
		for _, b := range balances {
			bases = append(bases, b.Currency)
		}
	}

	set := make(map[string]struct{})
	for _, b := range bases {
		for _, quote := range InferenceQuotes {
			sym := a.normalize(b + "/" + quote)
			inst, ok := a.instrument(sym)
			if !ok || inst.Market != a.Market() {
				continue
			}
			set[sym] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (a *Adapter) FetchOpenOrders(ctx context.Context, symbol string) ([]schema.Order, error) {
	if err := a.Require(interfaces.CapFetchOpenOrders); err != nil {
		return nil, err
	}
	if symbol != "" {
		symbol = a.normalize(symbol)
	}
	raw, err := a.driver.FetchOpenOrders(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s %s open orders: %w", a.Name(), a.Market(), err)
	}
	return a.toOrders(raw), nil
}

// FetchBalance drops currencies whose total is zero.
func (a *Adapter) FetchBalance(ctx context.Context) ([]schema.Balance, error) {
	if err := a.Require(interfaces.CapFetchBalance); err != nil {
		return nil, err
	}
	raw, err := a.driver.FetchBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s %s balance: %w", a.Name(), a.Market(), err)
	}
	out := make([]schema.Balance, 0, len(raw))
	for _, b := range raw {
		total := base.SafeDecimal(b.Total, decimal.Zero)
		if total.IsZero() {
			continue
		}
		out = append(out, schema.Balance{
			Exchange: a.Name(),
			Market:   a.Market(),
			Currency: b.Currency,
			Free:     base.SafeDecimal(b.Free, decimal.Zero),
			Used:     base.SafeDecimal(b.Used, decimal.Zero),
			Total:    total,
		})
	}
	return out, nil
}

// FetchPositions retries once without the filter when the driver rejects it.
func (a *Adapter) FetchPositions(ctx context.Context, symbols []string) ([]schema.Position, error) {
	if err := a.Require(interfaces.CapFetchPositions); err != nil {
		return nil, err
	}
	want := make([]string, 0, len(symbols))
	for _, s := range symbols {
		want = append(want, a.normalize(s))
	}

	raw, err := a.driver.FetchPositions(ctx, want)
	if err != nil && len(want) > 0 && errors.Is(err, unified.ErrArgumentNotSupported) {
		logger.Debug("%s %s 不支持 symbols 过滤, 去掉过滤重试", a.Name(), a.Market())
		raw, err = a.driver.FetchPositions(ctx, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s positions: %w", a.Name(), a.Market(), err)
	}

	filter := make(map[string]struct{}, len(want))
	for _, s := range want {
		filter[s] = struct{}{}
	}
	out := make([]schema.Position, 0, len(raw))
	for _, p := range raw {
		size := base.SafeDecimal(p.Contracts, decimal.Zero).Abs()
		if size.IsZero() {
			continue
		}
		if len(filter) > 0 {
			if _, ok := filter[p.Symbol]; !ok {
				continue
			}
		}
		side := schema.PositionSideLong
		if p.Side == "short" {
			side = schema.PositionSideShort
		}
		out = append(out, schema.Position{
			Exchange:      a.Name(),
			Market:        a.Market(),
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    base.SafeDecimal(p.EntryPrice, decimal.Zero),
			MarkPrice:     base.SafeDecimal(p.MarkPrice, decimal.Zero),
			Leverage:      base.SafeDecimal(p.Leverage, decimal.Zero),
			UnrealizedPnl: base.SafeDecimal(p.UnrealizedPnl, decimal.Zero),
		})
	}
	return out, nil
}

func (a *Adapter) FetchKlines(ctx context.Context, symbol string, interval schema.Interval, limit int) ([]schema.Kline, error) {
	if err := a.Require(interfaces.CapFetchKlines); err != nil {
		return nil, err
	}
	if interval == "" {
		interval = schema.Interval1m
	}
	symbol = a.normalize(symbol)
	raw, err := a.driver.FetchOHLCV(ctx, symbol, string(interval), limit)
	if err != nil {
		return nil, fmt.Errorf("%s %s klines: %w", a.Name(), a.Market(), err)
	}
	out := make([]schema.Kline, 0, len(raw))
	for _, k := range raw {
		out = append(out, schema.Kline{
			Exchange:    a.Name(),
			Market:      a.Market(),
			Symbol:      symbol,
			Interval:    interval,
			OpenTime:    base.ParseTime(k.Timestamp),
			CloseTime:   base.ParseTime(k.CloseTime),
			Open:        base.SafeDecimal(k.Open, decimal.Zero),
			High:        base.SafeDecimal(k.High, decimal.Zero),
			Low:         base.SafeDecimal(k.Low, decimal.Zero),
			Close:       base.SafeDecimal(k.Close, decimal.Zero),
			Volume:      base.SafeDecimal(k.Volume, decimal.Zero),
			QuoteVolume: base.SafeDecimal(k.QuoteVolume, decimal.Zero),
			TradeNum:    k.Trades,
			IsFinal:     true,
		})
	}
	return out, nil
}

func (a *Adapter) FetchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	if err := a.Require(interfaces.CapFetchPrices); err != nil {
		return nil, err
	}
	want := make([]string, 0, len(symbols))
	for _, s := range symbols {
		want = append(want, a.normalize(s))
	}
	raw, err := a.driver.FetchTickers(ctx, want)
	if err != nil {
		return nil, fmt.Errorf("%s %s prices: %w", a.Name(), a.Market(), err)
	}
	out := make(map[string]decimal.Decimal, len(raw))
	for sym, t := range raw {
		out[sym] = base.SafeDecimal(t.Last, decimal.Zero)
	}
	return out, nil
}

func (a *Adapter) TestConnectivity(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.driver.Ping(ctx); err != nil {
		return fmt.Errorf("%s %s ping: %w", a.Name(), a.Market(), err)
	}
	return nil
}

// CreateOrder truncates amount and price to the instrument precision when known.
func (a *Adapter) CreateOrder(ctx context.Context, req schema.OrderRequest) (schema.Order, error) {
	if err := a.Require(interfaces.CapCreateOrder); err != nil {
		return schema.Order{}, err
	}
	if !req.Amount.IsPositive() {
		return schema.Order{}, fmt.Errorf("%s %s create order: amount must be positive: %w", a.Name(), a.Market(), interfaces.ErrInvalidConfiguration)
	}
	symbol := a.normalize(req.Symbol)
	inst, ok := a.instrument(symbol)
	if !ok {
		return schema.Order{}, fmt.Errorf("%s %s create order: %w: %s", a.Name(), a.Market(), unified.ErrMarketNotFound, symbol)
	}

	typ := req.Type
	if typ == "" {
		typ = schema.OrderTypeMarket
	}
	amount := req.Amount.Truncate(inst.AmountPrecision)
	if !amount.IsPositive() {
		return schema.Order{}, fmt.Errorf("%s %s create order: amount %s truncates to %s at precision %d: %w",
			a.Name(), a.Market(), req.Amount, amount, inst.AmountPrecision, interfaces.ErrInvalidConfiguration)
	}
	args := unified.OrderArgs{
		Symbol:        symbol,
		Side:          string(req.Side),
		Type:          string(typ),
		Amount:        amount.String(),
		TimeInForce:   req.TimeInForce,
		ClientOrderID: req.ClientOrderID,
		ReduceOnly:    req.ReduceOnly && a.IsFutures(),
	}
	if typ == schema.OrderTypeLimit {
		args.Price = req.Price.Truncate(inst.PricePrecision).String()
	}
	if args.ClientOrderID == "" {
		args.ClientOrderID = uuid.New().String()
	}

	raw, err := a.driver.CreateOrder(ctx, args)
	if err != nil {
		return schema.Order{}, fmt.Errorf("%s %s create order: %w", a.Name(), a.Market(), err)
	}
	return a.toOrder(raw), nil
}

func (a *Adapter) Close() error {
	return nil
}
