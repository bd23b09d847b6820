package backpack

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

// DefaultViewDepth 输出深度默认档位
const DefaultViewDepth = 20

// depthEvent is the incremental diff pushed on depth.<symbol>.
type depthEvent struct {
	E  string     `json:"e"` // Event type, "depth"
	Et int64      `json:"E"` // Event time, 微秒
	S  string     `json:"s"` // Symbol
	A  [][]string `json:"a"` // Asks to be updated
	B  [][]string `json:"b"` // Bids to be updated
	U  int64      `json:"U"` // First update ID in event
	Ue int64      `json:"u"` // Final update ID in event
	T  int64      `json:"T"` // Engine time, 微秒
}

// orderBook 本地订单簿, 价格用规范化后的字符串做 key
type orderBook struct {
	lastUpdateId int64
	bids         map[string]decimal.Decimal // price -> qty
	asks         map[string]decimal.Decimal // price -> qty
}

func newOrderBook() *orderBook {
	return &orderBook{
		bids: make(map[string]decimal.Decimal),
		asks: make(map[string]decimal.Decimal),
	}
}

// apply applies one diff in place and reports whether the update-id sequence
// was broken. A gap is only reported; the diff is applied regardless.
func (ob *orderBook) apply(ev depthEvent) (gap bool, prevLast int64) {
	prevLast = ob.lastUpdateId
	gap = prevLast != 0 && ev.U != prevLast+1

	applyLevels(ob.bids, ev.B)
	applyLevels(ob.asks, ev.A)
	ob.lastUpdateId = ev.Ue
	return gap, prevLast
}

func applyLevels(side map[string]decimal.Decimal, levels [][]string) {
	for _, lv := range levels {
		if len(lv) < 2 {
			continue
		}
		price, err := decimal.NewFromString(lv[0])
		if err != nil {
			continue
		}
		qty, err := decimal.NewFromString(lv[1])
		if err != nil {
			continue
		}
		// 统一价格精度, "100.10" 与 "100.1" 视为同一档
		key := price.String()
		if qty.IsZero() {
			delete(side, key)
		} else {
			side[key] = qty
		}
	}
}

// view 买盘降序, 卖盘升序, 各截取 depth 档
func (ob *orderBook) view(depth int) (bids, asks []schema.PriceLevel) {
	if depth <= 0 {
		depth = DefaultViewDepth
	}
	bids = sortedLevels(ob.bids, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) }, depth)
	asks = sortedLevels(ob.asks, func(a, b decimal.Decimal) bool { return a.LessThan(b) }, depth)
	return bids, asks
}

func sortedLevels(side map[string]decimal.Decimal, less func(a, b decimal.Decimal) bool, depth int) []schema.PriceLevel {
	levels := make([]schema.PriceLevel, 0, len(side))
	for priceStr, q := range side {
		price, _ := decimal.NewFromString(priceStr)
		levels = append(levels, schema.PriceLevel{Price: price, Quantity: q})
	}
	sort.Slice(levels, func(i, j int) bool { return less(levels[i].Price, levels[j].Price) })
	if len(levels) > depth {
		levels = levels[:depth]
	}
	return levels
}
