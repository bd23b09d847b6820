package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kingsmao/exchange-adapter/pkg/config"
	"github.com/kingsmao/exchange-adapter/pkg/interfaces"
	"github.com/kingsmao/exchange-adapter/pkg/logger"
	"github.com/kingsmao/exchange-adapter/pkg/sdk"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Parse()

	fmt.Println("=== Exchange Adapter 快速开始 ===")

	// 1. 加载 .env 中的凭证, 文件不存在时忽略
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("加载 .env 失败: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("加载配置失败: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 创建SDK, 按配置添加交易所
	client, err := sdk.NewFromConfig(ctx, cfg)
	if err != nil {
		logger.Error("创建SDK失败: %v", err)
		os.Exit(1)
	}
	defer client.Close()

	fmt.Println("支持的交易所:", client.Factory().SupportedExchanges())

	// 3. 连通性检查
	for _, r := range client.TestAll(ctx) {
		status := "OK"
		if r.Err != nil {
			status = r.Err.Error()
		}
		fmt.Printf("%-14s %-8s %8s  %s\n", r.Exchange, r.Market, r.Latency.Round(time.Millisecond), status)
	}

	// 4. 查询价格与余额
	var symbols []string
	for _, ex := range cfg.Exchanges {
		symbols = append(symbols, ex.Symbols...)
		a, ok := client.Adapter(ex.ExchangeName(), ex.MarketType())
		if !ok {
			continue
		}
		if a.Supports(interfaces.CapFetchPrices) && len(ex.Symbols) > 0 {
			prices, err := a.FetchPrices(ctx, ex.Symbols)
			if err != nil {
				logger.Warn("%s %s 获取价格失败: %v", a.Name(), a.Market(), err)
			}
			for sym, p := range prices {
				fmt.Printf("%s %s %s 最新价 %s\n", a.Name(), a.Market(), sym, p)
			}
		}
		if a.Supports(interfaces.CapFetchBalance) && ex.AdapterConfig().HasCredentials() {
			balances, err := a.FetchBalance(ctx)
			if err != nil {
				logger.Warn("%s %s 获取余额失败: %v", a.Name(), a.Market(), err)
			}
			for _, b := range balances {
				fmt.Printf("%s %s 余额 %s: 可用=%s, 冻结=%s\n", a.Name(), a.Market(), b.Currency, b.Free, b.Used)
			}
		}
	}

	// 5. 订阅深度与行情, 仅对支持流式数据的交易所生效
	if len(symbols) == 0 {
		return
	}
	if err := client.AddSymbolsAndSubscribe(ctx, symbols); err != nil {
		logger.Error("订阅失败: %v", err)
		return
	}

	fmt.Println("每3秒打印一次深度, 按 Ctrl+C 退出")
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Printf("\n=== %s ===\n", time.Now().Format("2006-01-02 15:04:05"))
			for _, sym := range symbols {
				depth, ok := client.WatchDepth(sym)
				if !ok || len(depth.Bids) == 0 || len(depth.Asks) == 0 {
					fmt.Printf("%s 深度: 暂无数据\n", sym)
					continue
				}
				fmt.Printf("%s %s 深度: 买单%d档, 卖单%d档, 买一=%s, 卖一=%s\n",
					depth.Exchange, sym, len(depth.Bids), len(depth.Asks), depth.Bids[0].Price, depth.Asks[0].Price)
			}
		case <-ctx.Done():
			fmt.Println("\n收到退出信号，正在关闭...")
			return
		}
	}
}
