package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kingsmao/exchange-adapter/pkg/logger"
	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

// DefaultMarketTTL 默认市场元数据有效期
const DefaultMarketTTL = 24 * time.Hour

// MarketMeta is the sidecar written next to every data file.
type MarketMeta struct {
	Timestamp float64 `json:"timestamp"` // 保存时间, unix 秒
	Exchange  string  `json:"exchange"`
	Count     int     `json:"count"`
	TTL       float64 `json:"ttl"` // 秒
}

// MarketCache 磁盘持久化的交易规则缓存, 每个 key 一对文件
type MarketCache struct {
	mu  sync.RWMutex
	dir string
	ttl time.Duration
	now func() time.Time
}

// NewMarketCache 创建缓存, dir 不存在时自动创建
func NewMarketCache(dir string, ttl time.Duration) (*MarketCache, error) {
	if ttl <= 0 {
		ttl = DefaultMarketTTL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create market cache dir %s: %w", dir, err)
	}
	return &MarketCache{dir: dir, ttl: ttl, now: time.Now}, nil
}

// TTL returns the configured validity window.
func (c *MarketCache) TTL() time.Duration { return c.ttl }

// GetCacheKey 生成缓存键
func (c *MarketCache) GetCacheKey(exchangeName schema.ExchangeName, marketType schema.MarketType) string {
	return fmt.Sprintf("%s_%s", exchangeName, marketType)
}

func (c *MarketCache) dataPath(key string) string {
	return filepath.Join(c.dir, sanitizeKey(key)+"_markets.json")
}

func (c *MarketCache) metaPath(key string) string {
	return filepath.Join(c.dir, sanitizeKey(key)+"_markets.meta.json")
}

func sanitizeKey(key string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_").Replace(key)
}

// IsValid reports whether now - savedAt < ttl. Missing or unreadable meta is invalid.
func (c *MarketCache) IsValid(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.readMeta(key)
	return ok
}

func (c *MarketCache) readMeta(key string) (MarketMeta, bool) {
	raw, err := os.ReadFile(c.metaPath(key))
	if err != nil {
		return MarketMeta{}, false
	}
	var meta MarketMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		logger.Warn("市场缓存元数据损坏 %s: %v", key, err)
		return MarketMeta{}, false
	}
	savedAt := time.Unix(0, int64(meta.Timestamp*float64(time.Second)))
	ttl := time.Duration(meta.TTL * float64(time.Second))
	if c.now().Sub(savedAt) >= ttl {
		return meta, false
	}
	return meta, true
}

// Load 读取缓存, 过期或损坏时返回 false
func (c *MarketCache) Load(key string) (map[string]schema.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.readMeta(key); !ok {
		return nil, false
	}
	raw, err := os.ReadFile(c.dataPath(key))
	if err != nil {
		logger.Warn("读取市场缓存失败 %s: %v", key, err)
		return nil, false
	}
	var data map[string]schema.Instrument
	if err := json.Unmarshal(raw, &data); err != nil {
		logger.Warn("市场缓存数据损坏 %s: %v", key, err)
		return nil, false
	}
	logger.Debug("命中市场缓存: %s, 交易对数量: %d", key, len(data))
	return data, true
}

// Save 无条件覆盖, 并重置保存时间
func (c *MarketCache) Save(key string, data map[string]schema.Instrument) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode markets %s: %w", key, err)
	}
	meta := MarketMeta{
		Timestamp: float64(c.now().UnixNano()) / float64(time.Second),
		Exchange:  key,
		Count:     len(data),
		TTL:       c.ttl.Seconds(),
	}
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode market meta %s: %w", key, err)
	}

	if err := writeFileAtomic(c.dataPath(key), payload); err != nil {
		logger.Error("写入市场缓存失败 %s: %v", key, err)
		return err
	}
	if err := writeFileAtomic(c.metaPath(key), metaRaw); err != nil {
		logger.Error("写入市场缓存元数据失败 %s: %v", key, err)
		return err
	}

	logger.Info("交易规则信息已缓存: %s, 交易对数量: %d", key, len(data))
	return nil
}

// Clear 删除指定 key 的缓存文件
func (c *MarketCache) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = os.Remove(c.dataPath(key))
	_ = os.Remove(c.metaPath(key))
	logger.Info("已清空交易规则信息缓存: %s", key)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
