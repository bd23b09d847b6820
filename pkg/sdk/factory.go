package sdk

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kingsmao/exchange-adapter/internal/cache"
	"github.com/kingsmao/exchange-adapter/internal/exchange/backpack"
	"github.com/kingsmao/exchange-adapter/internal/exchange/generic"
	"github.com/kingsmao/exchange-adapter/internal/unified"
	"github.com/kingsmao/exchange-adapter/internal/unified/drivers"
	"github.com/kingsmao/exchange-adapter/pkg/interfaces"
	"github.com/kingsmao/exchange-adapter/pkg/logger"
	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

// AdapterConstructor builds a custom adapter for one market.
type AdapterConstructor func(ctx context.Context, market schema.MarketType, cfg schema.AdapterConfig) (interfaces.Adapter, error)

// DefaultExchanges are served by the generic adapter without registration.
var DefaultExchanges = []schema.ExchangeName{schema.BINANCE, schema.BYBIT}

// Factory resolves an exchange id to an adapter.
type Factory struct {
	mu       sync.RWMutex
	custom   map[schema.ExchangeName]AdapterConstructor
	defaults []schema.ExchangeName
	registry *unified.Registry
	markets  *cache.MarketCache
	stream   *cache.MemoryCache
}

// NewFactory wires the shared caches. A nil registry uses the built-in drivers;
// a nil markets cache disables disk caching.
func NewFactory(markets *cache.MarketCache, stream *cache.MemoryCache, registry *unified.Registry) *Factory {
	if registry == nil {
		registry = drivers.Default()
	}
	if stream == nil {
		stream = cache.NewMemoryCache()
	}
	f := &Factory{
		custom:   make(map[schema.ExchangeName]AdapterConstructor),
		defaults: append([]schema.ExchangeName(nil), DefaultExchanges...),
		registry: registry,
		markets:  markets,
		stream:   stream,
	}
	f.Register(schema.BACKPACK, f.newBackpack)
	return f
}

func (f *Factory) newBackpack(ctx context.Context, market schema.MarketType, cfg schema.AdapterConfig) (interfaces.Adapter, error) {
	ex, err := backpack.New(market, cfg, f.markets, f.stream, backpack.Options{})
	if err != nil {
		return nil, err
	}
	if _, err := ex.LoadMarkets(ctx, false); err != nil {
		// 元数据加载失败不影响构造, 下单时按默认精度处理
		logger.Warn("backpack %s 加载市场信息失败: %v", market, err)
	}
	return ex, nil
}

// Register adds or replaces the custom constructor for id.
func (f *Factory) Register(id schema.ExchangeName, ctor AdapterConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.custom[normalizeID(id)] = ctor
}

func normalizeID(id schema.ExchangeName) schema.ExchangeName {
	return schema.ExchangeName(strings.ToLower(strings.TrimSpace(string(id))))
}

// Stream returns the cache streaming adapters publish into.
func (f *Factory) Stream() *cache.MemoryCache { return f.stream }

// GetAdapter resolves id: custom constructor, then the default list, then any
// id the unified registry recognizes.
func (f *Factory) GetAdapter(ctx context.Context, id schema.ExchangeName, market schema.MarketType, cfg schema.AdapterConfig) (interfaces.Adapter, error) {
	if !market.Valid() {
		return nil, fmt.Errorf("%s: unsupported market %q: %w", id, market, interfaces.ErrInvalidConfiguration)
	}
	id = normalizeID(id)

	f.mu.RLock()
	ctor, custom := f.custom[id]
	f.mu.RUnlock()
	if custom {
		return ctor(ctx, market, cfg)
	}

	if f.isDefault(id) {
		a, err := generic.New(ctx, id, market, cfg, f.registry, f.markets)
		if err != nil {
			return nil, err
		}
		return a, nil
	}

	if _, ok := f.registry.Lookup(string(id)); ok {
		logger.Info("交易所 %s 不在默认支持列表中, 尝试通用适配器", id)
		a, err := generic.New(ctx, id, market, cfg, f.registry, f.markets)
		if err != nil {
			return nil, fmt.Errorf("exchange %q is recognized but not in the default support list and failed to initialize; register a custom adapter for it: %w", id, err)
		}
		return a, nil
	}

	return nil, &interfaces.UnsupportedExchangeError{
		Exchange: id,
		Custom:   f.customIDs(),
		Default:  f.defaultIDs(),
	}
}

func (f *Factory) isDefault(id schema.ExchangeName) bool {
	for _, d := range f.defaults {
		if d == id {
			return true
		}
	}
	return false
}

func (f *Factory) customIDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.custom))
	for id := range f.custom {
		out = append(out, string(id))
	}
	sort.Strings(out)
	return out
}

func (f *Factory) defaultIDs() []string {
	out := make([]string, 0, len(f.defaults))
	for _, id := range f.defaults {
		out = append(out, string(id))
	}
	sort.Strings(out)
	return out
}

// SupportedExchanges returns custom, default and recognized ids, sorted and unique.
func (f *Factory) SupportedExchanges() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(ids []string) {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	add(f.customIDs())
	add(f.defaultIDs())
	add(f.registry.IDs())
	sort.Strings(out)
	return out
}
