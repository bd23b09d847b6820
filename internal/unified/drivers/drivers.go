// Package drivers wires every bundled unified driver into a registry.
package drivers

import (
	"github.com/kingsmao/exchange-adapter/internal/unified"
	"github.com/kingsmao/exchange-adapter/internal/unified/binance"
	"github.com/kingsmao/exchange-adapter/internal/unified/bybit"
)

// Default returns a fresh registry holding binance, binanceus, bybit and bybit-testnet.
func Default() *unified.Registry {
	r := unified.NewRegistry()
	binance.Register(r)
	bybit.Register(r)
	return r
}
