package backpack

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

func levelStrings(levels []schema.PriceLevel) [][2]string {
	out := make([][2]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, [2]string{l.Price.String(), l.Quantity.String()})
	}
	return out
}

func TestOrderBookApply(t *testing.T) {
	ob := newOrderBook()

	gap, _ := ob.apply(depthEvent{U: 1, Ue: 1, B: [][]string{{"100", "2"}}, A: [][]string{{"101", "3"}}})
	assert.False(t, gap)
	gap, _ = ob.apply(depthEvent{U: 2, Ue: 2, B: [][]string{{"100", "0"}, {"99", "1"}}})
	assert.False(t, gap)

	bids, asks := ob.view(0)
	assert.Equal(t, [][2]string{{"99", "1"}}, levelStrings(bids))
	assert.Equal(t, [][2]string{{"101", "3"}}, levelStrings(asks))
	assert.Equal(t, int64(2), ob.lastUpdateId)
}

func TestOrderBookReplayIsIdempotent(t *testing.T) {
	ev := depthEvent{U: 5, Ue: 6, B: [][]string{{"10.50", "1"}}, A: [][]string{{"11", "2"}}}
	ob := newOrderBook()
	ob.apply(ev)
	bids1, asks1 := ob.view(10)

	ob.apply(ev)
	bids2, asks2 := ob.view(10)
	assert.Equal(t, levelStrings(bids1), levelStrings(bids2))
	assert.Equal(t, levelStrings(asks1), levelStrings(asks2))
}

func TestOrderBookPriceKeysNormalized(t *testing.T) {
	ob := newOrderBook()
	ob.apply(depthEvent{U: 1, Ue: 1, B: [][]string{{"100.10", "1"}}})
	ob.apply(depthEvent{U: 2, Ue: 2, B: [][]string{{"100.1", "0"}}})
	bids, _ := ob.view(10)
	assert.Empty(t, bids)
}

func TestOrderBookGapIsReportedAndApplied(t *testing.T) {
	ob := newOrderBook()
	ob.apply(depthEvent{U: 1, Ue: 3, B: [][]string{{"100", "1"}}})
	gap, prev := ob.apply(depthEvent{U: 7, Ue: 8, B: [][]string{{"98", "1"}}})
	assert.True(t, gap)
	assert.Equal(t, int64(3), prev)
	assert.Equal(t, int64(8), ob.lastUpdateId)

	bids, _ := ob.view(10)
	assert.Len(t, bids, 2)
}

func TestOrderBookViewSortedAndCapped(t *testing.T) {
	ob := newOrderBook()
	var bids, asks [][]string
	for i := 1; i <= 30; i++ {
		bids = append(bids, []string{fmt.Sprint(100 - i), "1"})
		asks = append(asks, []string{fmt.Sprint(100 + i), "1"})
	}
	ob.apply(depthEvent{U: 1, Ue: 1, B: bids, A: asks})

	b, a := ob.view(5)
	require.Len(t, b, 5)
	require.Len(t, a, 5)
	assert.Equal(t, "99", b[0].Price.String())
	assert.Equal(t, "95", b[4].Price.String())
	assert.Equal(t, "101", a[0].Price.String())
	assert.Equal(t, "105", a[4].Price.String())

	b, _ = ob.view(0)
	assert.Len(t, b, DefaultViewDepth)
}

func TestBackoffNextGrowsAndCaps(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2}
	assert.Equal(t, 100*time.Millisecond, b.Next(1))
	assert.Equal(t, 200*time.Millisecond, b.Next(2))
	assert.Equal(t, 400*time.Millisecond, b.Next(3))
	assert.Equal(t, time.Second, b.Next(10))

	b.Jitter = 0.5
	for i := 0; i < 20; i++ {
		d := b.Next(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
