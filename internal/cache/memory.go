package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

// MemoryCache is a threadsafe in-memory store for streamed market data.
// 每个 key 持有一个原子指针, 读写无锁
type MemoryCache struct {
	depths  sync.Map // key -> *atomic.Pointer[schema.Depth]
	klines  sync.Map // key -> *atomic.Pointer[schema.Kline]
	tickers sync.Map // key -> *atomic.Pointer[schema.Ticker]
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

// cacheKey generates a cache key for exchange-specific data
func cacheKey(exchange schema.ExchangeName, market schema.MarketType, symbol string, subkeys ...string) string {
	key := fmt.Sprintf("%s:%s:%s", exchange, market, symbol)
	for _, s := range subkeys {
		key += "_" + s
	}
	return key
}

func store[T any](m *sync.Map, key string, v *T) {
	ptr, _ := m.LoadOrStore(key, new(atomic.Pointer[T]))
	ptr.(*atomic.Pointer[T]).Store(v)
}

func load[T any](m *sync.Map, key string) (T, bool) {
	var zero T
	ptr, ok := m.Load(key)
	if !ok {
		return zero, false
	}
	v := ptr.(*atomic.Pointer[T]).Load()
	if v == nil {
		return zero, false
	}
	return *v, true
}

func (m *MemoryCache) SetDepth(d schema.Depth) {
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now()
	}
	store(&m.depths, cacheKey(d.Exchange, d.Market, d.Symbol), &d)
}

func (m *MemoryCache) GetDepth(exchange schema.ExchangeName, market schema.MarketType, symbol string) (schema.Depth, bool) {
	return load[schema.Depth](&m.depths, cacheKey(exchange, market, symbol))
}

// SetKline 只保留每个周期最新的一根
func (m *MemoryCache) SetKline(kl schema.Kline) {
	store(&m.klines, cacheKey(kl.Exchange, kl.Market, kl.Symbol, string(kl.Interval)), &kl)
}

func (m *MemoryCache) GetKline(exchange schema.ExchangeName, market schema.MarketType, symbol string, interval schema.Interval) (schema.Kline, bool) {
	return load[schema.Kline](&m.klines, cacheKey(exchange, market, symbol, string(interval)))
}

func (m *MemoryCache) SetTicker(t schema.Ticker) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	store(&m.tickers, cacheKey(t.Exchange, t.Market, t.Symbol), &t)
}

func (m *MemoryCache) GetTicker(exchange schema.ExchangeName, market schema.MarketType, symbol string) (schema.Ticker, bool) {
	return load[schema.Ticker](&m.tickers, cacheKey(exchange, market, symbol))
}

// ClearSymbol drops every entry of one symbol, used after an unsubscribe.
func (m *MemoryCache) ClearSymbol(exchange schema.ExchangeName, market schema.MarketType, symbol string) {
	key := cacheKey(exchange, market, symbol)
	m.depths.Delete(key)
	m.tickers.Delete(key)
}
