// Package config loads the YAML configuration used by the SDK and quick_start.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingsmao/exchange-adapter/pkg/logger"
	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

const (
	DefaultCacheDir = ".cache/markets"
	DefaultCacheTTL = 24 * time.Hour
	DefaultWeight   = 1
)

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type CacheConfig struct {
	Dir string        `yaml:"dir"`
	TTL time.Duration `yaml:"ttl"`
}

// ExchangeConfig is one (exchange, market) entry.
type ExchangeConfig struct {
	Name       string        `yaml:"name"`
	Market     string        `yaml:"market"`
	Weight     int           `yaml:"weight"`
	Timeout    time.Duration `yaml:"timeout"`
	Proxy      string        `yaml:"proxy"`
	APIKey     string        `yaml:"api_key"`
	Secret     string        `yaml:"secret"`
	Passphrase string        `yaml:"passphrase"`
	Symbols    []string      `yaml:"symbols"`
}

type Config struct {
	Logging   LoggingConfig    `yaml:"logging"`
	Cache     CacheConfig      `yaml:"cache"`
	Exchanges []ExchangeConfig `yaml:"exchanges"`
}

// Load reads path, applies defaults and env overrides, then validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv(os.Getenv)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Cache.Dir == "" {
		c.Cache.Dir = DefaultCacheDir
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	for i := range c.Exchanges {
		ex := &c.Exchanges[i]
		ex.Name = strings.ToLower(strings.TrimSpace(ex.Name))
		ex.Market = strings.ToLower(strings.TrimSpace(ex.Market))
		if ex.Weight == 0 {
			ex.Weight = DefaultWeight
		}
	}
}

// EnvPrefix returns the environment prefix for an exchange, e.g. bybit-testnet -> BYBIT_TESTNET.
func EnvPrefix(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// applyEnv 环境变量优先于配置文件中的凭证
func (c *Config) applyEnv(getenv func(string) string) {
	for i := range c.Exchanges {
		ex := &c.Exchanges[i]
		prefix := EnvPrefix(ex.Name)
		if v := getenv(prefix + "_API_KEY"); v != "" {
			ex.APIKey = v
		}
		if v := getenv(prefix + "_SECRET"); v != "" {
			ex.Secret = v
		}
		if v := getenv(prefix + "_PASSPHRASE"); v != "" {
			ex.Passphrase = v
		}
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must not be negative: %s", c.Cache.TTL))
	}
	seen := make(map[string]bool)
	for i, ex := range c.Exchanges {
		if ex.Name == "" {
			errs = append(errs, fmt.Errorf("exchanges[%d]: name is required", i))
			continue
		}
		if !schema.MarketType(ex.Market).Valid() {
			errs = append(errs, fmt.Errorf("exchanges[%d] %s: unknown market %q", i, ex.Name, ex.Market))
			continue
		}
		if ex.Timeout < 0 {
			errs = append(errs, fmt.Errorf("exchanges[%d] %s: timeout must not be negative", i, ex.Name))
		}
		key := ex.Name + ":" + ex.Market
		if seen[key] {
			errs = append(errs, fmt.Errorf("exchanges[%d]: duplicate entry %s", i, key))
		}
		seen[key] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// AdapterConfig converts the entry into the adapter's construction options.
func (e ExchangeConfig) AdapterConfig() schema.AdapterConfig {
	return schema.AdapterConfig{
		APIKey:     e.APIKey,
		Secret:     e.Secret,
		Passphrase: e.Passphrase,
		Proxy:      e.Proxy,
		Timeout:    e.Timeout,
	}
}

func (e ExchangeConfig) ExchangeName() schema.ExchangeName { return schema.ExchangeName(e.Name) }

func (e ExchangeConfig) MarketType() schema.MarketType { return schema.MarketType(e.Market) }

func (l LoggingConfig) Options() logger.Options {
	return logger.Options{
		Level:  l.Level,
		Format: l.Format,
		Output: l.Output,
		MaxAge: l.MaxAge,
	}
}
