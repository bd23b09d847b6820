package interfaces

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

// Adapter is the uniform surface every exchange integration exposes.
// Callers probe Supports before invoking an optional operation; an
// unsupported call returns a *NotImplementedError.
type Adapter interface {
	Name() schema.ExchangeName
	Market() schema.MarketType
	Capabilities() CapabilitySet
	Supports(c Capability) bool

	FetchOrders(ctx context.Context, q schema.OrderQuery) ([]schema.Order, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]schema.Order, error)
	// FetchPositions returns open futures positions; symbols is an optional filter.
	FetchPositions(ctx context.Context, symbols []string) ([]schema.Position, error)
	FetchBalance(ctx context.Context) ([]schema.Balance, error)
	FetchKlines(ctx context.Context, symbol string, interval schema.Interval, limit int) ([]schema.Kline, error)
	// FetchPrices returns last prices keyed by unified symbol. An empty filter returns every symbol.
	FetchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
	TestConnectivity(ctx context.Context) error
	LoadMarkets(ctx context.Context, reload bool) (map[string]schema.Instrument, error)
	CreateOrder(ctx context.Context, req schema.OrderRequest) (schema.Order, error)

	Close() error
}

// Streamer is implemented by adapters that own a streaming connection.
type Streamer interface {
	WS() WSConnector
}

// SubscriptionManager tracks stream subscriptions and their correlation ids.
type SubscriptionManager interface {
	// Subscribe registers stream as pending and returns its correlation id; isNew is false if already tracked.
	Subscribe(stream string) (id int64, isNew bool)

	// Unsubscribe drops stream and returns the correlation id for the unsubscribe request.
	Unsubscribe(stream string) (id int64, ok bool)

	// Resolve marks the request behind id as acknowledged and returns its stream.
	Resolve(id int64) (stream string, ok bool)

	// Fail removes the subscription that id belongs to.
	Fail(id int64) (stream string, ok bool)

	IsConfirmed(stream string) bool

	// Streams returns every tracked stream, pending or confirmed, sorted.
	Streams() []string

	// ClearAll clears all subscriptions
	ClearAll()
}

// WSConn abstracts websocket Conn for testability.
type WSConn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
	// Ping sends a ping frame to server
	Ping(data []byte) error
	// Pong sends a pong frame to server
	Pong(data []byte) error
	// SetPingHandler sets the handler for received ping frames
	SetPingHandler(h func(appData string) error)
	// SetPongHandler sets the handler for received pong frames
	SetPongHandler(h func(appData string) error)
	// WriteMessage writes a message of the given type with the given payload
	WriteMessage(messageType int, data []byte) error
}

// ConnState is the lifecycle state of a streaming connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// WSConnector defines WebSocket subscription behaviors.
type WSConnector interface {
	Connect(ctx context.Context) error
	Close() error
	State() ConnState

	// SendMessage sends a message to WebSocket server
	SendMessage(ctx context.Context, message interface{}) error

	SubscribeKline(ctx context.Context, symbols []string, interval schema.Interval) error
	UnsubscribeKline(ctx context.Context, symbols []string, interval schema.Interval) error

	SubscribeDepth(ctx context.Context, symbols []string) error
	UnsubscribeDepth(ctx context.Context, symbols []string) error

	SubscribeTicker(ctx context.Context, symbols []string) error
	UnsubscribeTicker(ctx context.Context, symbols []string) error

	// StartReading starts the single receive loop. It returns immediately.
	StartReading(ctx context.Context) error

	// Reconnect redials with backoff and replays the tracked subscriptions.
	// Nothing calls it automatically.
	Reconnect(ctx context.Context) error

	// HandlePing handles incoming ping from server
	HandlePing(data []byte) error
	// SendPing sends ping to server
	SendPing(ctx context.Context) error
	// StartHealthCheck starts connection health monitoring
	StartHealthCheck(ctx context.Context) error
}

// WSShim adapts real *websocket.Conn to WSConn.
type WSShim struct{ *websocket.Conn }

func (w WSShim) WriteJSON(v any) error                       { return w.Conn.WriteJSON(v) }
func (w WSShim) ReadJSON(v any) error                        { return w.Conn.ReadJSON(v) }
func (w WSShim) SetReadDeadline(t time.Time) error           { return w.Conn.SetReadDeadline(t) }
func (w WSShim) SetWriteDeadline(t time.Time) error          { return w.Conn.SetWriteDeadline(t) }
func (w WSShim) Close() error                                { return w.Conn.Close() }
func (w WSShim) Ping(data []byte) error                      { return w.WriteMessage(websocket.PingMessage, data) }
func (w WSShim) Pong(data []byte) error                      { return w.WriteMessage(websocket.PongMessage, data) }
func (w WSShim) SetPingHandler(h func(appData string) error) { w.Conn.SetPingHandler(h) }
func (w WSShim) SetPongHandler(h func(appData string) error) { w.Conn.SetPongHandler(h) }
func (w WSShim) WriteMessage(messageType int, data []byte) error {
	return w.Conn.WriteMessage(messageType, data)
}
