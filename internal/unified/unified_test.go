package unified

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	called := ""
	r.Register("Bybit", func(cfg Config) (Exchange, error) {
		called = string(cfg.Segment)
		return nil, errors.New("boom")
	})
	r.Register("binance", func(Config) (Exchange, error) { return nil, nil })

	assert.Equal(t, []string{"binance", "bybit"}, r.IDs())
	_, ok := r.Lookup("BYBIT")
	assert.True(t, ok)

	_, err := r.New("bybit", Config{Segment: SegmentSwap})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, "swap", called)

	_, err = r.New("kraken", Config{})
	assert.Error(t, err)
}

func TestMarketStore(t *testing.T) {
	var s MarketStore
	s.SetMarkets(map[string]Market{
		"BTC/USDT": {Symbol: "BTC/USDT", ID: "BTCUSDT"},
	})

	m, err := s.Market("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", m.ID)
	assert.Equal(t, "BTC/USDT", s.SymbolOf("BTCUSDT"))
	assert.Equal(t, "ETHUSDT", s.SymbolOf("ETHUSDT"))

	_, err = s.Market("ETH/USDT")
	assert.ErrorIs(t, err, ErrMarketNotFound)
}
