package backpack

import (
	"fmt"
	"strings"

	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

// perpSuffix marks perpetual instruments: BTC_USDC_PERP
const perpSuffix = "_PERP"

// ToExchangeSymbol translates BASE/QUOTE[:SETTLE] into BASE_QUOTE, adding the
// perpetual suffix on the futures segment.
func ToExchangeSymbol(symbol string, market schema.MarketType) (string, error) {
	s, err := schema.ParseSymbol(symbol)
	if err != nil {
		return "", err
	}
	out := s.Base + "_" + s.Quote
	if market == schema.FUTURES {
		out += perpSuffix
	}
	return out, nil
}

// FromExchangeSymbol is the inverse of ToExchangeSymbol. Perpetuals map to
// BASE/QUOTE:QUOTE.
func FromExchangeSymbol(symbol string) (string, schema.MarketType, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	market := schema.SPOT
	if strings.HasSuffix(symbol, perpSuffix) {
		market = schema.FUTURES
		symbol = strings.TrimSuffix(symbol, perpSuffix)
	}
	base, quote, found := strings.Cut(symbol, "_")
	if !found || base == "" || quote == "" || strings.Contains(quote, "_") {
		return "", "", fmt.Errorf("invalid backpack symbol: %s", symbol)
	}
	unified := base + "/" + quote
	if market == schema.FUTURES {
		unified += ":" + quote
	}
	return unified, market, nil
}

// streamSymbol is the exchange symbol used in stream names; bad input is passed through upper-cased.
func streamSymbol(symbol string, market schema.MarketType) string {
	if strings.Contains(symbol, "/") {
		if s, err := ToExchangeSymbol(symbol, market); err == nil {
			return s
		}
	}
	return strings.ToUpper(symbol)
}
