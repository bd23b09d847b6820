package cache

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

func TestMemoryCacheDepth(t *testing.T) {
	m := NewMemoryCache()

	_, ok := m.GetDepth(schema.BACKPACK, schema.SPOT, "SOL/USDC")
	assert.False(t, ok)

	m.SetDepth(schema.Depth{
		Exchange:     schema.BACKPACK,
		Market:       schema.SPOT,
		Symbol:       "SOL/USDC",
		Bids:         []schema.PriceLevel{{Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(2)}},
		LastUpdateId: 7,
	})

	d, ok := m.GetDepth(schema.BACKPACK, schema.SPOT, "SOL/USDC")
	require.True(t, ok)
	assert.Equal(t, int64(7), d.LastUpdateId)
	assert.False(t, d.UpdatedAt.IsZero())

	_, ok = m.GetDepth(schema.BACKPACK, schema.FUTURES, "SOL/USDC")
	assert.False(t, ok, "segments do not share entries")

	m.ClearSymbol(schema.BACKPACK, schema.SPOT, "SOL/USDC")
	_, ok = m.GetDepth(schema.BACKPACK, schema.SPOT, "SOL/USDC")
	assert.False(t, ok)
}

func TestMemoryCacheKlineKeepsLatest(t *testing.T) {
	m := NewMemoryCache()
	for i := int64(1); i <= 3; i++ {
		m.SetKline(schema.Kline{
			Exchange: schema.BACKPACK, Market: schema.SPOT, Symbol: "SOL/USDC",
			Interval: schema.Interval1m, Close: decimal.NewFromInt(i),
		})
	}
	k, ok := m.GetKline(schema.BACKPACK, schema.SPOT, "SOL/USDC", schema.Interval1m)
	require.True(t, ok)
	assert.True(t, k.Close.Equal(decimal.NewFromInt(3)))

	_, ok = m.GetKline(schema.BACKPACK, schema.SPOT, "SOL/USDC", schema.Interval1h)
	assert.False(t, ok)
}

func TestMemoryCacheConcurrentTicker(t *testing.T) {
	m := NewMemoryCache()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			m.SetTicker(schema.Ticker{Exchange: schema.BACKPACK, Market: schema.SPOT, Symbol: "SOL/USDC", Price: decimal.NewFromInt(int64(i))})
		}(i)
		go func() {
			defer wg.Done()
			m.GetTicker(schema.BACKPACK, schema.SPOT, "SOL/USDC")
		}()
	}
	wg.Wait()

	_, ok := m.GetTicker(schema.BACKPACK, schema.SPOT, "SOL/USDC")
	assert.True(t, ok)
}
