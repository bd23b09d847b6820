package base

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/kingsmao/exchange-adapter/pkg/interfaces"
	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

func TestSafeDecimal(t *testing.T) {
	def := decimal.NewFromInt(-1)
	s := "2.5"
	var nilStr *string

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "-1"},
		{"empty string", "", "-1"},
		{"null literal", "null", "-1"},
		{"garbage", "abc", "-1"},
		{"numeric string", " 1.25 ", "1.25"},
		{"string pointer", &s, "2.5"},
		{"nil string pointer", nilStr, "-1"},
		{"float", 0.1, "0.1"},
		{"nan", math.NaN(), "-1"},
		{"int", 42, "42"},
		{"json number", json.Number("3.14"), "3.14"},
		{"unsupported type", []int{1}, "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeDecimal(tt.in, def).String())
		})
	}
}

func TestSafeInt64(t *testing.T) {
	assert.Equal(t, int64(1700000000123), SafeInt64("1700000000123", 0))
	assert.Equal(t, int64(9), SafeInt64(nil, 9))
	assert.Equal(t, int64(3), SafeInt64(3.9, 0))
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "", FormatTimestamp(0))
	assert.Equal(t, "2023-11-14T22:13:20.123Z", FormatTimestamp(1700000000123))
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name string
		in   any
	}{
		{"seconds", want.Unix()},
		{"millis", want.UnixMilli()},
		{"micros", want.UnixMicro()},
		{"millis string", "1704164645000"},
		{"iso", "2024-01-02T03:04:05"},
		{"space layout", "2024-01-02 03:04:05"},
		{"rfc3339", "2024-01-02T03:04:05Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, want.Equal(ParseTime(tt.in)), "got %v", ParseTime(tt.in))
		})
	}
	assert.True(t, ParseTime("not a time").IsZero())
	assert.True(t, ParseTime(nil).IsZero())
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "BTC/USDT", NormalizeSymbol("btc/usdt", schema.SPOT, ""))
	assert.Equal(t, "BTC/USDT:USDT", NormalizeSymbol("BTC/USDT", schema.FUTURES, ""))
	assert.Equal(t, "BTC/USD:BTC", NormalizeSymbol("BTC/USD", schema.FUTURES, "btc"))
	assert.Equal(t, "BTC/USDT:USDT", NormalizeSymbol("BTC/USDT:USDT", schema.FUTURES, "USDC"))
}

func TestPrecisionFromStep(t *testing.T) {
	assert.Equal(t, int32(3), PrecisionFromStep("0.001"))
	assert.Equal(t, int32(2), PrecisionFromStep("0.0100"))
	assert.Equal(t, int32(0), PrecisionFromStep("1"))
	assert.Equal(t, int32(0), PrecisionFromStep(""))
}

func TestBaseRequire(t *testing.T) {
	b := New(schema.BACKPACK, schema.SPOT, interfaces.NewCapabilitySet(interfaces.CapFetchBalance))

	assert.NoError(t, b.Require(interfaces.CapFetchBalance))
	assert.True(t, b.Supports(interfaces.CapFetchBalance))
	assert.False(t, b.Supports(interfaces.CapFetchPositions))

	err := b.Require(interfaces.CapFetchPositions)
	assert.True(t, errors.Is(err, interfaces.ErrNotImplementedByAdapter))
	var nie *interfaces.NotImplementedError
	assert.True(t, errors.As(err, &nie))
	assert.Equal(t, schema.BACKPACK, nie.Exchange)
}
