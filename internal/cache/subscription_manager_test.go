package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionLifecycle(t *testing.T) {
	sm := NewSubscriptionManager()

	id, isNew := sm.Subscribe("depth.SOL_USDC")
	require.True(t, isNew)
	assert.False(t, sm.IsConfirmed("depth.SOL_USDC"))

	again, isNew := sm.Subscribe("depth.SOL_USDC")
	assert.False(t, isNew)
	assert.Equal(t, id, again)

	stream, ok := sm.Resolve(id)
	require.True(t, ok)
	assert.Equal(t, "depth.SOL_USDC", stream)
	assert.True(t, sm.IsConfirmed("depth.SOL_USDC"))

	_, ok = sm.Resolve(id)
	assert.False(t, ok, "a reply is consumed once")

	unsubID, ok := sm.Unsubscribe("depth.SOL_USDC")
	require.True(t, ok)
	assert.NotEqual(t, id, unsubID)
	assert.Empty(t, sm.Streams())

	stream, ok = sm.Resolve(unsubID)
	assert.True(t, ok)
	assert.Equal(t, "depth.SOL_USDC", stream)
}

func TestSubscriptionFailRemovesOnlyThatStream(t *testing.T) {
	sm := NewSubscriptionManager()
	badID, _ := sm.Subscribe("depth.FOO_USDC")
	goodID, _ := sm.Subscribe("depth.SOL_USDC")
	sm.Resolve(goodID)

	stream, ok := sm.Fail(badID)
	require.True(t, ok)
	assert.Equal(t, "depth.FOO_USDC", stream)
	assert.Equal(t, []string{"depth.SOL_USDC"}, sm.Streams())

	_, ok = sm.Fail(999)
	assert.False(t, ok)
}

func TestSubscriptionFailAfterConfirm(t *testing.T) {
	sm := NewSubscriptionManager()
	id, _ := sm.Subscribe("ticker.SOL_USDC")
	sm.Resolve(id)

	stream, ok := sm.Fail(id)
	assert.True(t, ok)
	assert.Equal(t, "ticker.SOL_USDC", stream)
	assert.Empty(t, sm.Streams())
}

func TestSubscriptionClearAll(t *testing.T) {
	sm := NewSubscriptionManager()
	sm.Subscribe("kline.1m.SOL_USDC")
	sm.Subscribe("ticker.SOL_USDC")
	assert.Equal(t, []string{"kline.1m.SOL_USDC", "ticker.SOL_USDC"}, sm.Streams())

	sm.ClearAll()
	assert.Empty(t, sm.Streams())
	_, ok := sm.Unsubscribe("ticker.SOL_USDC")
	assert.False(t, ok)
}
