package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/kingsmao/exchange-adapter/internal/cache"
	"github.com/kingsmao/exchange-adapter/pkg/interfaces"
	"github.com/kingsmao/exchange-adapter/pkg/logger"
	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

// ErrStreamNotFound is returned when no streaming adapter matches.
var ErrStreamNotFound = errors.New("ws exchange not found")

// AdapterInfo holds an adapter and its routing weight.
type AdapterInfo struct {
	Adapter interfaces.Adapter
	Weight  int
}

// Manager pools adapters keyed by exchange:market and exposes stream data
// backed by the shared memory cache.
type Manager struct {
	cache    *cache.MemoryCache
	adapters map[string]*AdapterInfo
	mu       sync.RWMutex
}

// NewManager uses c as the stream cache; nil creates a private one.
func NewManager(c *cache.MemoryCache) *Manager {
	if c == nil {
		c = cache.NewMemoryCache()
	}
	return &Manager{
		cache:    c,
		adapters: make(map[string]*AdapterInfo),
	}
}

func key(name schema.ExchangeName, market schema.MarketType) string {
	return string(name) + ":" + string(market)
}

// AddAdapter registers a; an existing adapter under the same key is replaced and closed.
func (m *Manager) AddAdapter(a interfaces.Adapter, weight int) {
	m.mu.Lock()
	old, exists := m.adapters[key(a.Name(), a.Market())]
	m.adapters[key(a.Name(), a.Market())] = &AdapterInfo{Adapter: a, Weight: weight}
	m.mu.Unlock()

	if exists && old.Adapter != a {
		if err := old.Adapter.Close(); err != nil {
			logger.Warn("交易所 %s %s 旧适配器关闭失败: %v", a.Name(), a.Market(), err)
		}
	}
}

// RemoveAdapter removes an adapter and closes its streaming connection
func (m *Manager) RemoveAdapter(name schema.ExchangeName, market schema.MarketType) error {
	m.mu.Lock()
	info, exists := m.adapters[key(name, market)]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("exchange %s %s not found", name, market)
	}
	delete(m.adapters, key(name, market))
	m.mu.Unlock()

	if err := info.Adapter.Close(); err != nil {
		logger.Warn("交易所 %s %s 关闭失败: %v", name, market, err)
	} else {
		logger.Info("交易所 %s %s 已关闭", name, market)
	}
	logger.Info("交易所 %s %s 已从manager中删除", name, market)
	return nil
}

// UpdateAdapterWeight updates the weight of an existing adapter
func (m *Manager) UpdateAdapterWeight(name schema.ExchangeName, market schema.MarketType, weight int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, exists := m.adapters[key(name, market)]
	if !exists {
		return fmt.Errorf("exchange %s %s not found", name, market)
	}
	info.Weight = weight
	logger.Info("交易所 %s %s 权重已更新为 %d", name, market, weight)
	return nil
}

func (m *Manager) GetAdapter(name schema.ExchangeName, market schema.MarketType) (interfaces.Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.adapters[key(name, market)]
	if !ok {
		return nil, false
	}
	return info.Adapter, true
}

// Adapters returns every adapter ordered by weight desc, then key.
func (m *Manager) Adapters() []AdapterInfo {
	m.mu.RLock()
	out := make([]AdapterInfo, 0, len(m.adapters))
	for _, info := range m.adapters {
		out = append(out, *info)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return key(out[i].Adapter.Name(), out[i].Adapter.Market()) < key(out[j].Adapter.Name(), out[j].Adapter.Market())
	})
	return out
}

func (m *Manager) Cache() *cache.MemoryCache { return m.cache }

func (m *Manager) stream(name schema.ExchangeName, market schema.MarketType) (interfaces.WSConnector, error) {
	a, ok := m.GetAdapter(name, market)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrStreamNotFound, name, market)
	}
	s, ok := a.(interfaces.Streamer)
	if !ok || s.WS() == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrStreamNotFound, name, market)
	}
	return s.WS(), nil
}

// StartStreams connects every streaming adapter and starts its reader and health check.
func (m *Manager) StartStreams(ctx context.Context) error {
	var streams []AdapterInfo
	for _, info := range m.Adapters() {
		if s, ok := info.Adapter.(interfaces.Streamer); ok && s.WS() != nil {
			streams = append(streams, info)
		}
	}
	if len(streams) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed []string
	var successCount int

	for _, info := range streams {
		wg.Add(1)
		go func(a interfaces.Adapter) {
			defer wg.Done()

			ws := a.(interfaces.Streamer).WS()
			name := fmt.Sprintf("%s-%s", a.Name(), a.Market())

			if err := ws.Connect(ctx); err != nil {
				mu.Lock()
				failed = append(failed, name)
				mu.Unlock()
				logger.Error("交易所 %s WebSocket 连接失败: %v", name, err)
				return
			}
			if err := ws.StartReading(ctx); err != nil {
				logger.Error("交易所 %s WebSocket 启动读取失败: %v", name, err)
			}
			if err := ws.StartHealthCheck(ctx); err != nil {
				logger.Warn("交易所 %s WebSocket 健康检查启动失败: %v", name, err)
			}

			mu.Lock()
			successCount++
			mu.Unlock()
			logger.Info("交易所 %s WebSocket 连接成功", name)
		}(info.Adapter)
	}
	wg.Wait()

	if len(failed) > 0 {
		logger.Info("WebSocket 启动完成: %d 个成功, %d 个失败", successCount, len(failed))
		logger.Warn("失败的交易所: %v", failed)
	} else {
		logger.Info("所有交易所 WebSocket 启动成功: %d 个", successCount)
	}

	if successCount > 0 {
		return nil
	}
	return fmt.Errorf("所有交易所 WebSocket 启动失败: %v", failed)
}

func (m *Manager) SubscribeKline(ctx context.Context, name schema.ExchangeName, market schema.MarketType, symbols []string, interval schema.Interval) error {
	ws, err := m.stream(name, market)
	if err != nil {
		return err
	}
	return ws.SubscribeKline(ctx, symbols, interval)
}

func (m *Manager) SubscribeDepth(ctx context.Context, name schema.ExchangeName, market schema.MarketType, symbols []string) error {
	ws, err := m.stream(name, market)
	if err != nil {
		return err
	}
	return ws.SubscribeDepth(ctx, symbols)
}

func (m *Manager) SubscribeTicker(ctx context.Context, name schema.ExchangeName, market schema.MarketType, symbols []string) error {
	ws, err := m.stream(name, market)
	if err != nil {
		return err
	}
	return ws.SubscribeTicker(ctx, symbols)
}

// FetchPrice asks adapters of market in weight order until one quotes symbol.
func (m *Manager) FetchPrice(ctx context.Context, market schema.MarketType, symbol string) (schema.ExchangeName, decimal.Decimal, error) {
	for _, info := range m.Adapters() {
		a := info.Adapter
		if a.Market() != market || !a.Supports(interfaces.CapFetchPrices) {
			continue
		}
		prices, err := a.FetchPrices(ctx, []string{symbol})
		if err != nil {
			logger.Warn("交易所 %s %s 获取价格失败: %v", a.Name(), a.Market(), err)
			continue
		}
		for _, p := range prices {
			if p.IsPositive() {
				return a.Name(), p, nil
			}
		}
	}
	return "", decimal.Zero, fmt.Errorf("no exchange available for price of %s %s", market, symbol)
}

// WatchKline returns the latest streamed candle for symbol and interval
func (m *Manager) WatchKline(exchange schema.ExchangeName, market schema.MarketType, symbol string, interval schema.Interval) (schema.Kline, bool) {
	return m.cache.GetKline(exchange, market, symbol, interval)
}

// WatchDepth returns the latest order book view from the stream
func (m *Manager) WatchDepth(exchange schema.ExchangeName, market schema.MarketType, symbol string) (schema.Depth, bool) {
	return m.cache.GetDepth(exchange, market, symbol)
}

func (m *Manager) WatchTicker(exchange schema.ExchangeName, market schema.MarketType, symbol string) (schema.Ticker, bool) {
	return m.cache.GetTicker(exchange, market, symbol)
}

// Close closes every adapter.
func (m *Manager) Close() error {
	m.mu.Lock()
	adapters := m.adapters
	m.adapters = make(map[string]*AdapterInfo)
	m.mu.Unlock()

	var errs []error
	for k, info := range adapters {
		if err := info.Adapter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}
