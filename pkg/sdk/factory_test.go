package sdk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingsmao/exchange-adapter/internal/cache"
	"github.com/kingsmao/exchange-adapter/internal/exchange/base"
	"github.com/kingsmao/exchange-adapter/internal/exchange/generic"
	"github.com/kingsmao/exchange-adapter/internal/unified"
	"github.com/kingsmao/exchange-adapter/pkg/interfaces"
	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

// stubDriver is a minimal unified driver: one market, one ticker.
type stubDriver struct {
	unified.MarketStore
	id      string
	segment unified.Segment
	pingErr error
}

func (d *stubDriver) ID() string { return d.id }

func (d *stubDriver) Segment() unified.Segment { return d.segment }

func (d *stubDriver) Has(f unified.Feature) bool { return f == unified.FeatureFetchTickers }

func (d *stubDriver) RequiresSymbol(unified.Feature) bool { return false }

func (d *stubDriver) LoadMarkets(context.Context) (map[string]unified.Market, error) {
	return map[string]unified.Market{
		"BTC/USDT": {Symbol: "BTC/USDT", ID: "BTCUSDT", Base: "BTC", Quote: "USDT", Spot: true, Active: true, PricePrecision: 2, AmountPrecision: 5},
	}, nil
}

func (d *stubDriver) FetchOrders(context.Context, string, int) ([]unified.Order, error) {
	return nil, unified.ErrArgumentNotSupported
}

func (d *stubDriver) FetchOpenOrders(context.Context, string) ([]unified.Order, error) {
	return nil, unified.ErrArgumentNotSupported
}

func (d *stubDriver) FetchClosedOrders(context.Context, string, int) ([]unified.Order, error) {
	return nil, unified.ErrArgumentNotSupported
}

func (d *stubDriver) FetchBalance(context.Context) ([]unified.BalanceEntry, error) { return nil, nil }

func (d *stubDriver) FetchPositions(context.Context, []string) ([]unified.Position, error) {
	return nil, nil
}

func (d *stubDriver) FetchOHLCV(context.Context, string, string, int) ([]unified.OHLCV, error) {
	return nil, nil
}

func (d *stubDriver) FetchTickers(context.Context, []string) (map[string]unified.Ticker, error) {
	return map[string]unified.Ticker{"BTC/USDT": {Symbol: "BTC/USDT", Last: "65000.5"}}, nil
}

func (d *stubDriver) CreateOrder(context.Context, unified.OrderArgs) (unified.Order, error) {
	return unified.Order{}, unified.ErrArgumentNotSupported
}

func (d *stubDriver) Ping(context.Context) error { return d.pingErr }

// stubAdapter stands in for a custom adapter.
type stubAdapter struct {
	base.Base
	closed bool
}

func newStubAdapter(name schema.ExchangeName, market schema.MarketType) *stubAdapter {
	return &stubAdapter{Base: base.New(name, market, interfaces.NewCapabilitySet(interfaces.CapTestConnectivity))}
}

func (s *stubAdapter) FetchOrders(context.Context, schema.OrderQuery) ([]schema.Order, error) {
	return nil, s.Require(interfaces.CapFetchOrders)
}

func (s *stubAdapter) FetchOpenOrders(context.Context, string) ([]schema.Order, error) {
	return nil, s.Require(interfaces.CapFetchOpenOrders)
}

func (s *stubAdapter) FetchPositions(context.Context, []string) ([]schema.Position, error) {
	return nil, s.Require(interfaces.CapFetchPositions)
}

func (s *stubAdapter) FetchBalance(context.Context) ([]schema.Balance, error) {
	return nil, s.Require(interfaces.CapFetchBalance)
}

func (s *stubAdapter) FetchKlines(context.Context, string, schema.Interval, int) ([]schema.Kline, error) {
	return nil, s.Require(interfaces.CapFetchKlines)
}

func (s *stubAdapter) FetchPrices(context.Context, []string) (map[string]decimal.Decimal, error) {
	return nil, s.Require(interfaces.CapFetchPrices)
}

func (s *stubAdapter) TestConnectivity(context.Context) error { return nil }

func (s *stubAdapter) LoadMarkets(context.Context, bool) (map[string]schema.Instrument, error) {
	return nil, s.Require(interfaces.CapLoadMarkets)
}

func (s *stubAdapter) CreateOrder(context.Context, schema.OrderRequest) (schema.Order, error) {
	return schema.Order{}, s.Require(interfaces.CapCreateOrder)
}

func (s *stubAdapter) Close() error {
	s.closed = true
	return nil
}

// stubRegistry recognizes binance, bybit and bybit-testnet; bybit-testnet fails to construct.
func stubRegistry() (*unified.Registry, *int) {
	built := 0
	r := unified.NewRegistry()
	ok := func(id string) unified.Constructor {
		return func(cfg unified.Config) (unified.Exchange, error) {
			built++
			return &stubDriver{id: id, segment: cfg.Segment}, nil
		}
	}
	r.Register("binance", ok("binance"))
	r.Register("bybit", ok("bybit"))
	r.Register("bybit-testnet", func(unified.Config) (unified.Exchange, error) {
		built++
		return nil, errors.New("testnet keys required")
	})
	return r, &built
}

func newTestFactory(t *testing.T) (*Factory, *int) {
	t.Helper()
	markets, err := cache.NewMarketCache(t.TempDir(), time.Hour)
	require.NoError(t, err)
	reg, built := stubRegistry()
	return NewFactory(markets, nil, reg), built
}

func TestFactoryDefaultListUsesGeneric(t *testing.T) {
	f, built := newTestFactory(t)

	a, err := f.GetAdapter(context.Background(), "Binance", schema.SPOT, schema.AdapterConfig{})
	require.NoError(t, err)
	assert.IsType(t, &generic.Adapter{}, a)
	assert.Equal(t, schema.BINANCE, a.Name())
	assert.Equal(t, 1, *built)

	prices, err := a.FetchPrices(context.Background(), []string{"BTC/USDT"})
	require.NoError(t, err)
	assert.Equal(t, "65000.5", prices["BTC/USDT"].String())
}

func TestFactoryCustomWins(t *testing.T) {
	f, built := newTestFactory(t)
	custom := newStubAdapter(schema.BINANCE, schema.SPOT)
	f.Register(schema.BINANCE, func(context.Context, schema.MarketType, schema.AdapterConfig) (interfaces.Adapter, error) {
		return custom, nil
	})

	a, err := f.GetAdapter(context.Background(), schema.BINANCE, schema.SPOT, schema.AdapterConfig{})
	require.NoError(t, err)
	assert.Same(t, custom, a)
	assert.Zero(t, *built)
}

func TestFactoryRecognizedOnly(t *testing.T) {
	f, built := newTestFactory(t)

	_, err := f.GetAdapter(context.Background(), schema.BYBITTESTNET, schema.FUTURES, schema.AdapterConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"bybit-testnet"`)
	assert.Contains(t, err.Error(), "register a custom adapter")
	assert.Contains(t, err.Error(), "testnet keys required")
	assert.Equal(t, 1, *built)
}

func TestFactoryUnsupported(t *testing.T) {
	f, _ := newTestFactory(t)

	_, err := f.GetAdapter(context.Background(), "kraken", schema.SPOT, schema.AdapterConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrUnsupportedExchange)

	var ue *interfaces.UnsupportedExchangeError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, []string{"backpack"}, ue.Custom)
	assert.Equal(t, []string{"binance", "bybit"}, ue.Default)
}

func TestFactoryInvalidMarketBeforeIO(t *testing.T) {
	f, built := newTestFactory(t)
	called := false
	f.Register("custom", func(context.Context, schema.MarketType, schema.AdapterConfig) (interfaces.Adapter, error) {
		called = true
		return nil, nil
	})

	for _, id := range []schema.ExchangeName{"binance", "custom", "backpack", "kraken"} {
		t.Run(string(id), func(t *testing.T) {
			_, err := f.GetAdapter(context.Background(), id, "margin", schema.AdapterConfig{})
			assert.ErrorIs(t, err, interfaces.ErrInvalidConfiguration)
		})
	}
	assert.False(t, called)
	assert.Zero(t, *built)
}

func TestFactorySupportedExchanges(t *testing.T) {
	f, _ := newTestFactory(t)
	f.Register("Custom", func(context.Context, schema.MarketType, schema.AdapterConfig) (interfaces.Adapter, error) {
		return nil, nil
	})
	assert.Equal(t, []string{"backpack", "binance", "bybit", "bybit-testnet", "custom"}, f.SupportedExchanges())
}

func TestFactoryDefaultRegistry(t *testing.T) {
	f := NewFactory(nil, nil, nil)
	assert.Equal(t, []string{"backpack", "binance", "binanceus", "bybit", "bybit-testnet"}, f.SupportedExchanges())
	assert.NotNil(t, f.Stream())
}
