//go:build integration

package backpack

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/kingsmao/exchange-adapter/internal/cache"
	"github.com/kingsmao/exchange-adapter/internal/manager"
	"github.com/kingsmao/exchange-adapter/pkg/logger"
	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

func TestBackpackREST_MarketsAndPrices(t *testing.T) {
	logger.Init()
	markets, err := cache.NewMarketCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	ex, err := New(schema.SPOT, schema.AdapterConfig{}, markets, cache.NewMemoryCache(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := ex.TestConnectivity(ctx); err != nil {
		t.Fatalf("ping error: %v", err)
	}
	data, err := ex.LoadMarkets(ctx, false)
	if err != nil {
		t.Fatalf("markets error: %v", err)
	}
	inst, ok := data["SOL/USDC"]
	if !ok {
		t.Fatalf("SOL/USDC missing from %d markets", len(data))
	}
	prices, err := ex.FetchPrices(ctx, []string{"SOL/USDC"})
	if err != nil {
		t.Fatalf("prices error: %v", err)
	}
	log.Printf("Backpack SOL/USDC: 价格精度=%d, 数量精度=%d, 最新价=%s",
		inst.PricePrecision, inst.AmountPrecision, prices["SOL/USDC"])
}

func TestBackpackWS_Depth(t *testing.T) {
	logger.Init()
	logger.SetLogLevel(logger.INFO)

	stream := cache.NewMemoryCache()
	m := manager.NewManager(stream)
	ex, err := New(schema.SPOT, schema.AdapterConfig{}, nil, stream, Options{})
	if err != nil {
		t.Fatal(err)
	}
	m.AddAdapter(ex, 1)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := m.StartStreams(ctx); err != nil {
		t.Fatalf("启动 WebSocket 失败: %v", err)
	}
	if err := m.SubscribeDepth(ctx, schema.BACKPACK, schema.SPOT, []string{"SOL/USDC"}); err != nil {
		t.Fatalf("订阅深度失败: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("超时未收到深度数据")
		case <-time.After(500 * time.Millisecond):
			d, ok := m.WatchDepth(schema.BACKPACK, schema.SPOT, "SOL/USDC")
			if ok && len(d.Bids) > 0 {
				log.Printf("Backpack 深度: 买单%d档, 卖单%d档, 买一=%s", len(d.Bids), len(d.Asks), d.Bids[0].Price)
				return
			}
		}
	}
}
