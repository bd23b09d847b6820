// Package base holds the helpers every adapter shares. They are plain
// functions so no adapter can override them.
package base

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kingsmao/exchange-adapter/pkg/interfaces"
	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

// Base carries identity and the capability set fixed at construction.
type Base struct {
	name   schema.ExchangeName
	market schema.MarketType
	caps   interfaces.CapabilitySet
}

func New(name schema.ExchangeName, market schema.MarketType, caps interfaces.CapabilitySet) Base {
	return Base{name: name, market: market, caps: caps}
}

func (b Base) Name() schema.ExchangeName {
	return b.name
}

func (b Base) Market() schema.MarketType {
	return b.market
}

func (b Base) Capabilities() interfaces.CapabilitySet {
	return b.caps
}

func (b Base) Supports(c interfaces.Capability) bool {
	return b.caps.Has(c)
}

func (b Base) IsFutures() bool {
	return b.market == schema.FUTURES
}

// Require returns a *NotImplementedError when c is not declared.
func (b Base) Require(c interfaces.Capability) error {
	if b.caps.Has(c) {
		return nil
	}
	return &interfaces.NotImplementedError{Exchange: b.name, Market: b.market, Capability: c}
}

// SafeDecimal coerces v to a decimal. nil, empty, "null" and unparseable values yield def.
func SafeDecimal(v any, def decimal.Decimal) decimal.Decimal {
	switch x := v.(type) {
	case nil:
		return def
	case decimal.Decimal:
		return x
	case *decimal.Decimal:
		if x == nil {
			return def
		}
		return *x
	case string:
		return parseDecimalString(x, def)
	case *string:
		if x == nil {
			return def
		}
		return parseDecimalString(*x, def)
	case json.Number:
		return parseDecimalString(x.String(), def)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return def
		}
		return decimal.NewFromFloat(x)
	case float32:
		return SafeDecimal(float64(x), def)
	case int:
		return decimal.NewFromInt(int64(x))
	case int32:
		return decimal.NewFromInt32(x)
	case int64:
		return decimal.NewFromInt(x)
	case uint32:
		return decimal.NewFromInt(int64(x))
	default:
		return def
	}
}

func parseDecimalString(s string, def decimal.Decimal) decimal.Decimal {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "null", "none", "nan":
		return def
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return def
	}
	return d
}

// SafeInt64 is SafeDecimal truncated to an integer.
func SafeInt64(v any, def int64) int64 {
	d := SafeDecimal(v, decimal.NewFromInt(def))
	return d.IntPart()
}

// SafeString renders scalars as strings; nil yields "".
func SafeString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	default:
		return SafeDecimal(x, decimal.Zero).String()
	}
}

// FormatTimestamp renders epoch milliseconds as RFC3339 UTC with millisecond precision.
// Zero or negative input gives "".
func FormatTimestamp(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTime accepts epoch seconds, milliseconds or microseconds (numeric or string)
// and the ISO-like layouts exchanges emit. Unknown input gives the zero time.
func ParseTime(v any) time.Time {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			for _, layout := range timeLayouts {
				if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
					return t.UTC()
				}
			}
			return time.Time{}
		}
	}
	n := SafeInt64(v, 0)
	switch {
	case n <= 0:
		return time.Time{}
	case n > 1e15:
		return time.UnixMicro(n).UTC()
	case n > 1e12:
		return time.UnixMilli(n).UTC()
	default:
		return time.Unix(n, 0).UTC()
	}
}

// NormalizeSymbol upper-cases symbol and, on the futures segment, appends
// the settlement marker when missing. An empty defaultSettle means the quote.
func NormalizeSymbol(symbol string, market schema.MarketType, defaultSettle string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if market != schema.FUTURES {
		return symbol
	}
	return schema.ToFuturesSymbol(symbol, strings.ToUpper(defaultSettle))
}

// PrecisionFromStep converts a step such as "0.001" into a decimal count (3).
func PrecisionFromStep(step string) int32 {
	d, err := decimal.NewFromString(strings.TrimSpace(step))
	if err != nil || !d.IsPositive() {
		return 0
	}
	s := d.String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return int32(len(s) - i - 1)
	}
	return 0
}
