package backpack

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingsmao/exchange-adapter/internal/cache"
	"github.com/kingsmao/exchange-adapter/pkg/interfaces"
	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

// fakeConn feeds inbound frames from a channel and records writes.
type fakeConn struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written []subscriptionMessage
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) WriteJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg subscriptionMessage
	_ = json.Unmarshal(raw, &msg)
	f.mu.Lock()
	f.written = append(f.written, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) ReadJSON(v any) error {
	select {
	case raw, ok := <-f.inbound:
		if !ok {
			return errors.New("connection reset")
		}
		return json.Unmarshal(raw, v)
	case <-f.closed:
		return errors.New("use of closed connection")
	}
}

func (f *fakeConn) SetReadDeadline(time.Time) error       { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error      { return nil }
func (f *fakeConn) Ping([]byte) error                     { return nil }
func (f *fakeConn) Pong([]byte) error                     { return nil }
func (f *fakeConn) SetPingHandler(func(string) error)     {}
func (f *fakeConn) SetPongHandler(func(string) error)     {}
func (f *fakeConn) WriteMessage(int, []byte) error        { return nil }
func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) sent() []subscriptionMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]subscriptionMessage(nil), f.written...)
}

func (f *fakeConn) push(t *testing.T, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	f.inbound <- raw
}

func newTestStream(t *testing.T) (*StreamClient, *fakeConn, *cache.MemoryCache) {
	t.Helper()
	mem := cache.NewMemoryCache()
	s := NewStreamClient(schema.SPOT, mem, schema.AdapterConfig{}, "ws://fake")
	conn := newFakeConn()
	s.dial = func(context.Context, string) (interfaces.WSConn, error) { return conn, nil }
	return s, conn, mem
}

func depthFrame(u, ue int64, bids, asks [][]string) map[string]any {
	return map[string]any{
		"stream": "depth.SOL_USDC",
		"data": map[string]any{
			"e": "depth", "E": 1694687965941000, "s": "SOL_USDC",
			"U": u, "u": ue, "b": bids, "a": asks, "T": 1694687965940999,
		},
	}
}

func TestStreamDepthEndToEnd(t *testing.T) {
	s, conn, mem := newTestStream(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var views []schema.Depth
	var mu sync.Mutex
	s.SetHandlers(Handlers{OnDepth: func(d schema.Depth) {
		mu.Lock()
		views = append(views, d)
		mu.Unlock()
	}})

	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.SubscribeDepth(ctx, []string{"SOL/USDC"}))
	require.NoError(t, s.StartReading(ctx))

	sent := conn.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "SUBSCRIBE", sent[0].Method)
	assert.Equal(t, []string{"depth.SOL_USDC"}, sent[0].Params)

	conn.push(t, map[string]any{"id": sent[0].ID, "result": nil})
	conn.push(t, depthFrame(1, 1, [][]string{{"100", "2"}}, [][]string{{"101", "3"}}))
	conn.push(t, depthFrame(2, 2, [][]string{{"100", "0"}, {"99", "1"}}, nil))

	require.Eventually(t, func() bool {
		d, ok := mem.GetDepth(schema.BACKPACK, schema.SPOT, "SOL/USDC")
		return ok && d.LastUpdateId == 2
	}, 2*time.Second, 10*time.Millisecond)

	d, _ := s.Depth("SOL/USDC")
	assert.Equal(t, [][2]string{{"99", "1"}}, levelStrings(d.Bids))
	assert.Equal(t, [][2]string{{"101", "3"}}, levelStrings(d.Asks))
	assert.True(t, s.IsConfirmed("depth.SOL_USDC"))

	mu.Lock()
	assert.Len(t, views, 2)
	mu.Unlock()

	require.NoError(t, s.Close())
	assert.Equal(t, interfaces.StateDisconnected, s.State())
	assert.Empty(t, s.Subscriptions())
}

func TestStreamUnsupportedInstrumentKeepsConnection(t *testing.T) {
	s, conn, _ := newTestStream(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.SubscribeTicker(ctx, []string{"SOL/USDC", "FOO/USDC"}))
	require.NoError(t, s.StartReading(ctx))

	sent := conn.sent()
	require.Len(t, sent, 2)
	var fooID int64
	for _, m := range sent {
		if m.Params[0] == "ticker.FOO_USDC" {
			fooID = m.ID
		}
	}
	require.NotZero(t, fooID)

	conn.push(t, map[string]any{"id": fooID, "error": map[string]any{"code": 4005, "message": "Instrument not supported"}})

	require.Eventually(t, func() bool {
		return len(s.Subscriptions()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"ticker.SOL_USDC"}, s.Subscriptions())
	assert.Equal(t, interfaces.StateConnected, s.State())
}

func TestStreamSubscribeBeforeConnectIsReplayed(t *testing.T) {
	s, conn, _ := newTestStream(t)
	ctx := context.Background()

	require.NoError(t, s.SubscribeKline(ctx, []string{"SOL/USDC"}, schema.Interval1m))
	assert.Empty(t, conn.sent())

	require.NoError(t, s.Connect(ctx))
	sent := conn.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"kline.1m.SOL_USDC"}, sent[0].Params)
	require.NoError(t, s.Close())
}

func TestStreamReconnectReplaysLostStreams(t *testing.T) {
	s, first, _ := newTestStream(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.SetBackoff(Backoff{Min: time.Millisecond, Max: time.Millisecond, MaxAttempts: 3})

	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.SubscribeDepth(ctx, []string{"SOL/USDC"}))
	require.NoError(t, s.StartReading(ctx))

	// 服务端断开
	close(first.inbound)
	require.Eventually(t, func() bool {
		return s.State() == interfaces.StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, s.Subscriptions())

	second := newFakeConn()
	s.dial = func(context.Context, string) (interfaces.WSConn, error) { return second, nil }
	require.NoError(t, s.Reconnect(ctx))

	sent := second.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"depth.SOL_USDC"}, sent[0].Params)
	assert.Equal(t, interfaces.StateConnected, s.State())
	require.NoError(t, s.Close())
}

// readerCountingConn records the peak number of goroutines blocked in ReadJSON.
type readerCountingConn struct {
	*fakeConn
	active atomic.Int32
	peak   atomic.Int32
}

func (c *readerCountingConn) ReadJSON(v any) error {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return c.fakeConn.ReadJSON(v)
}

func TestStreamSingleReaderPerConnection(t *testing.T) {
	s, _, _ := newTestStream(t)
	conn := &readerCountingConn{fakeConn: newFakeConn()}
	s.dial = func(context.Context, string) (interfaces.WSConn, error) { return conn, nil }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.StartReading(ctx))
	require.NoError(t, s.StartReading(ctx))
	require.NoError(t, s.Reconnect(ctx))
	require.NoError(t, s.Connect(ctx))

	require.Eventually(t, func() bool { return conn.active.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), conn.peak.Load())
	assert.Equal(t, interfaces.StateConnected, s.State())

	require.NoError(t, s.Close())

	// 新连接可再次启动接收
	next := &readerCountingConn{fakeConn: newFakeConn()}
	s.dial = func(context.Context, string) (interfaces.WSConn, error) { return next, nil }
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.StartReading(ctx))
	require.Eventually(t, func() bool { return next.active.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close())
}

func TestStreamKlineAndTickerPublish(t *testing.T) {
	s, _, mem := newTestStream(t)

	s.handleMessage(json.RawMessage(`{"stream":"kline.5m.SOL_USDC","data":{"e":"kline","E":1694687692980000,"s":"SOL_USDC","t":"2024-09-11T12:00:00","T":"2024-09-11T12:05:00","o":"18.75","c":"19.25","h":"19.80","l":"18.50","v":"32123","n":93828,"X":false}}`))
	k, ok := mem.GetKline(schema.BACKPACK, schema.SPOT, "SOL/USDC", schema.Interval5m)
	require.True(t, ok)
	assert.Equal(t, "19.25", k.Close.String())
	assert.Equal(t, int64(93828), k.TradeNum)
	assert.False(t, k.IsFinal)

	s.handleMessage(json.RawMessage(`{"stream":"ticker.SOL_USDC","data":{"e":"ticker","E":1694687692980000,"s":"SOL_USDC","o":"18.75","c":"19.24","h":"19.80","l":"18.50","v":"32123","V":"928190","n":93828}}`))
	tk, ok := mem.GetTicker(schema.BACKPACK, schema.SPOT, "SOL/USDC")
	require.True(t, ok)
	assert.Equal(t, "19.24", tk.Price.String())
	assert.Equal(t, "928190", tk.QuoteVol.String())
}
