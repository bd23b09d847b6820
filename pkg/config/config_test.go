package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

const sample = `
logging:
  level: info
  format: json
  output: stdout
cache:
  dir: /tmp/markets
  ttl: 12h
exchanges:
  - name: Backpack
    market: spot
    timeout: 5s
    api_key: file-key
    secret: file-secret
    symbols: [SOL/USDC]
  - name: bybit-testnet
    market: futures
    weight: 3
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Logging.Options().Format)
	assert.Equal(t, "/tmp/markets", cfg.Cache.Dir)
	assert.Equal(t, 12*time.Hour, cfg.Cache.TTL)
	require.Len(t, cfg.Exchanges, 2)

	bp := cfg.Exchanges[0]
	assert.Equal(t, schema.BACKPACK, bp.ExchangeName())
	assert.Equal(t, schema.SPOT, bp.MarketType())
	assert.Equal(t, DefaultWeight, bp.Weight)
	assert.Equal(t, []string{"SOL/USDC"}, bp.Symbols)

	ac := bp.AdapterConfig()
	assert.Equal(t, 5*time.Second, ac.RequestTimeout())
	assert.Equal(t, "file-key", ac.APIKey)

	assert.Equal(t, 3, cfg.Exchanges[1].Weight)
	assert.Equal(t, schema.DefaultTimeout, cfg.Exchanges[1].AdapterConfig().RequestTimeout())
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte("exchanges: []\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultCacheDir, cfg.Cache.Dir)
	assert.Equal(t, DefaultCacheTTL, cfg.Cache.TTL)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("BACKPACK_API_KEY", "env-key")
	t.Setenv("BYBIT_TESTNET_SECRET", "env-secret")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Exchanges[0].APIKey)
	assert.Equal(t, "file-secret", cfg.Exchanges[0].Secret)
	assert.Equal(t, "env-secret", cfg.Exchanges[1].Secret)
}

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "BYBIT_TESTNET", EnvPrefix("bybit-testnet"))
	assert.Equal(t, "BINANCEUS", EnvPrefix("binanceus"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty name", "exchanges:\n  - market: spot\n", "name is required"},
		{"unknown market", "exchanges:\n  - name: binance\n    market: margin\n", `unknown market "margin"`},
		{"negative ttl", "cache:\n  ttl: -1h\n", "must not be negative"},
		{"duplicate", "exchanges:\n  - name: binance\n    market: spot\n  - name: BINANCE\n    market: spot\n", "duplicate entry binance:spot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Exchanges, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
