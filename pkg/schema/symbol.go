package schema

import (
	"fmt"
	"strings"
)

// Symbol 表示一个解析后的统一格式币对
type Symbol struct {
	Base   string     `json:"base"`             // 基础币种
	Quote  string     `json:"quote"`            // 计价币种
	Settle string     `json:"settle,omitempty"` // 结算币种（合约时存在）
	Market MarketType `json:"market"`           // 市场类型
}

// String 返回币对的统一格式
func (s Symbol) String() string {
	if s.Settle != "" {
		return fmt.Sprintf("%s/%s:%s", s.Base, s.Quote, s.Settle)
	}
	return fmt.Sprintf("%s/%s", s.Base, s.Quote)
}

// IsSpot 判断是否为现货市场
func (s Symbol) IsSpot() bool {
	return s.Market == SPOT
}

// IsFutures 判断是否为合约市场
func (s Symbol) IsFutures() bool {
	return s.Market == FUTURES
}

// ParseSymbol 解析 BASE/QUOTE 或 BASE/QUOTE:SETTLE
// 带结算币种的一律视为合约，否则为现货
func ParseSymbol(symbolStr string) (Symbol, error) {
	symbolStr = strings.ToUpper(strings.TrimSpace(symbolStr))

	pair, settle, hasSettle := strings.Cut(symbolStr, ":")
	if hasSettle && (settle == "" || strings.Contains(settle, ":")) {
		return Symbol{}, fmt.Errorf("invalid futures symbol format: must be BASE/QUOTE:SETTLE, got: %s", symbolStr)
	}

	base, quote, err := parseBaseQuote(pair)
	if err != nil {
		return Symbol{}, err
	}

	s := Symbol{Base: base, Quote: quote, Market: SPOT}
	if hasSettle {
		s.Settle = settle
		s.Market = FUTURES
	}
	return s, nil
}

// parseBaseQuote 解析 BASE/QUOTE 部分
func parseBaseQuote(pair string) (string, string, error) {
	parts := strings.Split(pair, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid symbol format: must be BASE/QUOTE, got: %s", pair)
	}
	base, quote := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if base == "" || quote == "" {
		return "", "", fmt.Errorf("invalid symbol format: empty base or quote in %s", pair)
	}
	return base, quote, nil
}

// ToSpotSymbol drops the settlement marker: BTC/USDT:USDT -> BTC/USDT.
func ToSpotSymbol(symbol string) string {
	pair, _, _ := strings.Cut(symbol, ":")
	return pair
}

// ToFuturesSymbol appends a settlement marker when missing. An empty settle defaults to the quote.
func ToFuturesSymbol(symbol, settle string) string {
	if strings.Contains(symbol, ":") {
		return symbol
	}
	if settle == "" {
		_, quote, found := strings.Cut(symbol, "/")
		if !found {
			return symbol
		}
		settle = quote
	}
	return symbol + ":" + settle
}

// ConcatSymbol renders the common BASEQUOTE id used by binance and bybit.
func ConcatSymbol(symbol string) string {
	s, err := ParseSymbol(symbol)
	if err != nil {
		return strings.ToUpper(strings.NewReplacer("/", "", ":", "", "_", "", "-", "").Replace(symbol))
	}
	return s.Base + s.Quote
}
