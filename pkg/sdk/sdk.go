package sdk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kingsmao/exchange-adapter/internal/cache"
	"github.com/kingsmao/exchange-adapter/internal/manager"
	"github.com/kingsmao/exchange-adapter/pkg/config"
	"github.com/kingsmao/exchange-adapter/pkg/interfaces"
	"github.com/kingsmao/exchange-adapter/pkg/logger"
	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

// ExchangeConfig 交易所配置
type ExchangeConfig struct {
	Name   schema.ExchangeName // 交易所名称
	Market schema.MarketType   // 市场类型
	Weight int                 // 权重, 0 表示删除
	Config schema.AdapterConfig
}

// ConnectivityResult is one line of the TestAll report.
type ConnectivityResult struct {
	Exchange schema.ExchangeName
	Market   schema.MarketType
	Latency  time.Duration
	Err      error
}

// SDK provides a high-level interface for exchange operations
type SDK struct {
	factory *Factory
	manager *manager.Manager

	mu sync.Mutex
	// 配置存储
	exchangeConfigs []ExchangeConfig
	symbols         []schema.Symbol
}

// NewSDK creates an SDK on top of factory; the manager shares the factory's stream cache.
func NewSDK(factory *Factory) *SDK {
	return &SDK{
		factory: factory,
		manager: manager.NewManager(factory.Stream()),
	}
}

// NewFromConfig configures logging and the market cache, then adds every configured exchange.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*SDK, error) {
	logger.Configure(cfg.Logging.Options())

	markets, err := cache.NewMarketCache(cfg.Cache.Dir, cfg.Cache.TTL)
	if err != nil {
		return nil, fmt.Errorf("market cache: %w", err)
	}
	s := NewSDK(NewFactory(markets, nil, nil))

	configs := make([]ExchangeConfig, 0, len(cfg.Exchanges))
	for _, ex := range cfg.Exchanges {
		configs = append(configs, ExchangeConfig{
			Name:   ex.ExchangeName(),
			Market: ex.MarketType(),
			Weight: ex.Weight,
			Config: ex.AdapterConfig(),
		})
	}
	if err := s.AddExchanges(ctx, configs); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (sdk *SDK) Factory() *Factory { return sdk.factory }

func (sdk *SDK) Manager() *manager.Manager { return sdk.manager }

// GetExchangeConfigs returns all exchange configurations
func (sdk *SDK) GetExchangeConfigs() []ExchangeConfig {
	sdk.mu.Lock()
	defer sdk.mu.Unlock()
	return append([]ExchangeConfig(nil), sdk.exchangeConfigs...)
}

// findExchangeConfig 查找现有的交易所配置, 调用方持有锁
func (sdk *SDK) findExchangeConfig(name schema.ExchangeName, market schema.MarketType) int {
	for i, c := range sdk.exchangeConfigs {
		if c.Name == name && c.Market == market {
			return i
		}
	}
	return -1
}

// IsExchangeActive checks if an exchange is currently active
func (sdk *SDK) IsExchangeActive(name schema.ExchangeName, market schema.MarketType) bool {
	_, ok := sdk.manager.GetAdapter(name, market)
	return ok
}

// AddExchange 添加或更新交易所配置
func (sdk *SDK) AddExchange(ctx context.Context, config ExchangeConfig) error {
	config.Name = normalizeID(config.Name)

	sdk.mu.Lock()
	defer sdk.mu.Unlock()

	index := sdk.findExchangeConfig(config.Name, config.Market)

	// 1. 权重为0, 删除现有交易所
	if config.Weight == 0 {
		if index == -1 {
			return nil
		}
		sdk.exchangeConfigs = append(sdk.exchangeConfigs[:index], sdk.exchangeConfigs[index+1:]...)
		if err := sdk.manager.RemoveAdapter(config.Name, config.Market); err != nil {
			logger.Warn("删除交易所 %s %s 失败: %v", config.Name, config.Market, err)
		}
		return nil
	}

	// 2. 已存在且凭证未变, 只更新权重
	if index != -1 && sdk.exchangeConfigs[index].Config == config.Config {
		if sdk.exchangeConfigs[index].Weight == config.Weight {
			return nil
		}
		sdk.exchangeConfigs[index].Weight = config.Weight
		if err := sdk.manager.UpdateAdapterWeight(config.Name, config.Market, config.Weight); err != nil {
			logger.Warn("更新交易所 %s %s 权重失败: %v", config.Name, config.Market, err)
		}
		return nil
	}

	// 3. 创建新的适配器, 同键的旧实例由 manager 关闭
	adapter, err := sdk.factory.GetAdapter(ctx, config.Name, config.Market, config.Config)
	if err != nil {
		return fmt.Errorf("failed to create adapter for %s %s: %w", config.Name, config.Market, err)
	}
	sdk.manager.AddAdapter(adapter, config.Weight)

	if index != -1 {
		sdk.exchangeConfigs[index] = config
	} else {
		sdk.exchangeConfigs = append(sdk.exchangeConfigs, config)
	}
	logger.Info("交易所 %s %s 已添加, 权重 %d, 能力 %v", config.Name, config.Market, config.Weight, adapter.Capabilities().List())
	return nil
}

// AddExchanges 批量添加交易所配置
func (sdk *SDK) AddExchanges(ctx context.Context, configs []ExchangeConfig) error {
	for _, config := range configs {
		if err := sdk.AddExchange(ctx, config); err != nil {
			return fmt.Errorf("failed to add exchange %s %s: %w", config.Name, config.Market, err)
		}
	}
	return nil
}

// RemoveExchange removes an exchange by setting its weight to 0
func (sdk *SDK) RemoveExchange(name schema.ExchangeName, market schema.MarketType) error {
	return sdk.AddExchange(context.Background(), ExchangeConfig{
		Name:   name,
		Market: market,
		Weight: 0,
	})
}

// Adapter returns the pooled adapter for name and market.
func (sdk *SDK) Adapter(name schema.ExchangeName, market schema.MarketType) (interfaces.Adapter, bool) {
	return sdk.manager.GetAdapter(normalizeID(name), market)
}

// TestAll probes every adapter concurrently; results follow weight order.
func (sdk *SDK) TestAll(ctx context.Context) []ConnectivityResult {
	adapters := sdk.manager.Adapters()
	results := make([]ConnectivityResult, len(adapters))

	var wg sync.WaitGroup
	for i, info := range adapters {
		wg.Add(1)
		go func(i int, a interfaces.Adapter) {
			defer wg.Done()
			start := time.Now()
			err := a.TestConnectivity(ctx)
			results[i] = ConnectivityResult{
				Exchange: a.Name(),
				Market:   a.Market(),
				Latency:  time.Since(start),
				Err:      err,
			}
			if err != nil {
				logger.Warn("交易所 %s %s 连通性检查失败: %v", a.Name(), a.Market(), err)
			} else {
				logger.Info("交易所 %s %s 连通性正常, 耗时 %s", a.Name(), a.Market(), results[i].Latency)
			}
		}(i, info.Adapter)
	}
	wg.Wait()
	return results
}

// AddSymbols 记录币对, 格式 BASE/QUOTE 或 BASE/QUOTE:SETTLE
func (sdk *SDK) AddSymbols(symbols []string) error {
	var errs []error
	parsed := make([]schema.Symbol, 0, len(symbols))
	for _, s := range symbols {
		sym, err := schema.ParseSymbol(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		parsed = append(parsed, sym)
	}

	sdk.mu.Lock()
	sdk.symbols = append(sdk.symbols, parsed...)
	sdk.mu.Unlock()
	return errors.Join(errs...)
}

// Symbols returns the recorded symbols grouped by market, each group sorted.
func (sdk *SDK) Symbols() map[schema.MarketType][]string {
	sdk.mu.Lock()
	defer sdk.mu.Unlock()

	out := make(map[schema.MarketType][]string)
	seen := make(map[string]struct{})
	for _, s := range sdk.symbols {
		if _, ok := seen[s.String()]; ok {
			continue
		}
		seen[s.String()] = struct{}{}
		out[s.Market] = append(out[s.Market], s.String())
	}
	for m := range out {
		sort.Strings(out[m])
	}
	return out
}

// AddSymbolsAndSubscribe 添加币对并自动订阅WebSocket（一步完成）
func (sdk *SDK) AddSymbolsAndSubscribe(ctx context.Context, symbols []string) error {
	if err := sdk.AddSymbols(symbols); err != nil {
		logger.Warn("部分币对解析失败: %v", err)
	}
	return sdk.autoSubscribe(ctx)
}

// autoSubscribe 启动所有WebSocket连接并按市场类型批量订阅
func (sdk *SDK) autoSubscribe(ctx context.Context) error {
	if err := sdk.manager.StartStreams(ctx); err != nil {
		return err
	}

	groups := sdk.Symbols()
	for _, info := range sdk.manager.Adapters() {
		a := info.Adapter
		if _, ok := a.(interfaces.Streamer); !ok {
			continue
		}
		symbols := groups[a.Market()]
		if len(symbols) == 0 {
			continue
		}

		logger.Info("批量订阅 %s %s: %v", a.Name(), a.Market(), symbols)
		if err := sdk.manager.SubscribeKline(ctx, a.Name(), a.Market(), symbols, schema.Interval1m); err != nil {
			logger.Warn("订阅K线数据失败 %s %s: %v", a.Name(), a.Market(), err)
		}
		if err := sdk.manager.SubscribeDepth(ctx, a.Name(), a.Market(), symbols); err != nil {
			logger.Warn("订阅深度数据失败 %s %s: %v", a.Name(), a.Market(), err)
		}
		if err := sdk.manager.SubscribeTicker(ctx, a.Name(), a.Market(), symbols); err != nil {
			logger.Warn("订阅行情数据失败 %s %s: %v", a.Name(), a.Market(), err)
		}
	}
	return nil
}

// StartStreams starts all exchange WebSocket connections
func (sdk *SDK) StartStreams(ctx context.Context) error {
	return sdk.manager.StartStreams(ctx)
}

func (sdk *SDK) SubscribeKline(ctx context.Context, name schema.ExchangeName, market schema.MarketType, symbols []string, interval schema.Interval) error {
	return sdk.manager.SubscribeKline(ctx, name, market, symbols, interval)
}

func (sdk *SDK) SubscribeDepth(ctx context.Context, name schema.ExchangeName, market schema.MarketType, symbols []string) error {
	return sdk.manager.SubscribeDepth(ctx, name, market, symbols)
}

func (sdk *SDK) SubscribeTicker(ctx context.Context, name schema.ExchangeName, market schema.MarketType, symbols []string) error {
	return sdk.manager.SubscribeTicker(ctx, name, market, symbols)
}

// FetchPrice 按权重依次询价, 市场类型由币对格式决定
func (sdk *SDK) FetchPrice(ctx context.Context, symbol string) (schema.ExchangeName, decimal.Decimal, error) {
	sym, err := schema.ParseSymbol(symbol)
	if err != nil {
		return "", decimal.Zero, err
	}
	return sdk.manager.FetchPrice(ctx, sym.Market, sym.String())
}

// WatchKline 根据币对符号读取K线数据（按权重顺序查找）
func (sdk *SDK) WatchKline(symbol string, interval schema.Interval) (schema.Kline, bool) {
	sym, err := schema.ParseSymbol(symbol)
	if err != nil {
		logger.Warn("解析币对符号失败 %s: %v", symbol, err)
		return schema.Kline{}, false
	}
	for _, name := range sdk.exchangeOrder(sym.Market) {
		if kl, ok := sdk.manager.WatchKline(name, sym.Market, sym.String(), interval); ok {
			return kl, true
		}
	}
	return schema.Kline{}, false
}

// WatchDepth 根据币对符号读取深度数据（按权重顺序查找）
func (sdk *SDK) WatchDepth(symbol string) (schema.Depth, bool) {
	sym, err := schema.ParseSymbol(symbol)
	if err != nil {
		logger.Warn("解析币对符号失败 %s: %v", symbol, err)
		return schema.Depth{}, false
	}
	for _, name := range sdk.exchangeOrder(sym.Market) {
		if d, ok := sdk.manager.WatchDepth(name, sym.Market, sym.String()); ok {
			return d, true
		}
	}
	return schema.Depth{}, false
}

func (sdk *SDK) WatchTicker(symbol string) (schema.Ticker, bool) {
	sym, err := schema.ParseSymbol(symbol)
	if err != nil {
		logger.Warn("解析币对符号失败 %s: %v", symbol, err)
		return schema.Ticker{}, false
	}
	for _, name := range sdk.exchangeOrder(sym.Market) {
		if t, ok := sdk.manager.WatchTicker(name, sym.Market, sym.String()); ok {
			return t, true
		}
	}
	return schema.Ticker{}, false
}

// exchangeOrder 返回该市场下按权重排序的交易所
func (sdk *SDK) exchangeOrder(market schema.MarketType) []schema.ExchangeName {
	var out []schema.ExchangeName
	for _, info := range sdk.manager.Adapters() {
		if info.Adapter.Market() == market {
			out = append(out, info.Adapter.Name())
		}
	}
	return out
}

// Close closes every adapter and its streaming connection.
func (sdk *SDK) Close() error {
	sdk.mu.Lock()
	sdk.exchangeConfigs = nil
	sdk.mu.Unlock()
	return sdk.manager.Close()
}
