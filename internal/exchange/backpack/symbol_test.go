package backpack

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

func TestSymbolTranslation(t *testing.T) {
	tests := []struct {
		name     string
		unified  string
		market   schema.MarketType
		exchange string
	}{
		{"spot", "SOL/USDC", schema.SPOT, "SOL_USDC"},
		{"perp", "SOL/USDC:USDC", schema.FUTURES, "SOL_USDC_PERP"},
		{"btc perp", "BTC/USDC:USDC", schema.FUTURES, "BTC_USDC_PERP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToExchangeSymbol(tt.unified, tt.market)
			require.NoError(t, err)
			assert.Equal(t, tt.exchange, got)

			back, market, err := FromExchangeSymbol(got)
			require.NoError(t, err)
			assert.Equal(t, tt.unified, back)
			assert.Equal(t, tt.market, market)
		})
	}
}

func TestFromExchangeSymbolRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "SOLUSDC", "_USDC", "SOL_", "A_B_C"} {
		_, _, err := FromExchangeSymbol(s)
		assert.Error(t, err, s)
	}
}

func TestFormatQuantityTruncates(t *testing.T) {
	tests := []struct {
		in       string
		decimals int32
		want     string
	}{
		{"1.2345678", 6, "1.234567"},
		{"1.0", 6, "1"},
		{"0.99999999", 2, "0.99"},
		{"12", 0, "12"},
		{"1.2345678", -1, "1.234567"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatQuantity(decimal.RequireFromString(tt.in), tt.decimals))
		})
	}
}
