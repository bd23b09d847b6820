package backpack

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kingsmao/exchange-adapter/internal/cache"
	"github.com/kingsmao/exchange-adapter/internal/exchange/base"
	"github.com/kingsmao/exchange-adapter/pkg/interfaces"
	"github.com/kingsmao/exchange-adapter/pkg/logger"
	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

const (
	// WebSocket channel names
	channelKline  = "kline"
	channelDepth  = "depth"
	channelTicker = "ticker"

	// 不支持的交易对
	errCodeUnsupportedInstrument = 4005
)

// subscriptionMessage represents a SUBSCRIBE / UNSUBSCRIBE request
type subscriptionMessage struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// wsFrame covers both data frames and control replies.
type wsFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *wsError        `json:"error"`
}

// Handlers receive every view/transform after it is written to the cache.
// They run on the receive goroutine, so a slow handler delays the stream.
type Handlers struct {
	OnDepth  func(schema.Depth)
	OnKline  func(schema.Kline)
	OnTicker func(schema.Ticker)
}

// dialFunc is swapped in tests.
type dialFunc func(ctx context.Context, rawURL string) (interfaces.WSConn, error)

// StreamClient implements WSConnector for Backpack.
type StreamClient struct {
	market schema.MarketType
	url    string
	dial   dialFunc

	mu      sync.RWMutex
	conn    interfaces.WSConn
	done    chan struct{}
	reading bool // 当前连接已有接收 goroutine
	writeMu sync.Mutex
	state   atomic.Int32

	cache    *cache.MemoryCache
	subs     interfaces.SubscriptionManager
	handlers Handlers
	depth    int
	backoff  Backoff

	// per-symbol local order books, keyed by exchange symbol
	booksMu    sync.Mutex
	orderBooks map[string]*orderBook

	// streams that were live when the connection dropped, replayed by Reconnect
	lastStreams []string

	healthMu    sync.RWMutex
	lastMessage time.Time
	lastPong    time.Time
}

// NewStreamClient builds a disconnected client. wsURL "" uses the public endpoint.
func NewStreamClient(market schema.MarketType, c *cache.MemoryCache, cfg schema.AdapterConfig, wsURL string) *StreamClient {
	if wsURL == "" {
		wsURL = wsBase
	}
	d := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.RequestTimeout(),
		TLSClientConfig:  &tls.Config{},
	}
	if cfg.Proxy != "" {
		if u, err := url.Parse(cfg.Proxy); err == nil {
			d.Proxy = http.ProxyURL(u)
		}
	}
	if c == nil {
		c = cache.NewMemoryCache()
	}
	s := &StreamClient{
		market:     market,
		url:        wsURL,
		cache:      c,
		subs:       cache.NewSubscriptionManager(),
		depth:      DefaultViewDepth,
		backoff:    DefaultBackoff(),
		orderBooks: make(map[string]*orderBook),
	}
	s.dial = func(ctx context.Context, rawURL string) (interfaces.WSConn, error) {
		conn, _, err := d.DialContext(ctx, rawURL, nil)
		if err != nil {
			return nil, err
		}
		return interfaces.WSShim{Conn: conn}, nil
	}
	return s
}

// SetHandlers installs callbacks; call before StartReading.
func (s *StreamClient) SetHandlers(h Handlers) {
	s.handlers = h
}

// SetDepth changes the number of levels per side in published views.
func (s *StreamClient) SetDepth(depth int) {
	if depth > 0 {
		s.depth = depth
	}
}

// SetBackoff changes the Reconnect policy.
func (s *StreamClient) SetBackoff(b Backoff) {
	s.backoff = b
}

func (s *StreamClient) State() interfaces.ConnState {
	return interfaces.ConnState(s.state.Load())
}

func (s *StreamClient) setState(st interfaces.ConnState) {
	s.state.Store(int32(st))
}

func (s *StreamClient) Connect(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(interfaces.StateDisconnected), int32(interfaces.StateConnecting)) {
		logger.Info("Backpack WS 已连接或正在连接, 跳过连接")
		return nil
	}

	logger.Info("Backpack WS 开始连接 %s ...", s.url)
	conn, err := s.dial(ctx, s.url)
	if err != nil {
		logger.Error("Backpack WS 连接失败: %v", err)
		s.setState(interfaces.StateDisconnected)
		return err
	}

	s.setupPingPongHandlers(conn)

	s.mu.Lock()
	s.conn = conn
	s.done = make(chan struct{})
	s.reading = false
	s.mu.Unlock()

	now := time.Now()
	s.healthMu.Lock()
	s.lastMessage = now
	s.lastPong = now
	s.healthMu.Unlock()

	s.setState(interfaces.StateConnected)
	logger.Info("Backpack WS 连接成功")

	// 连接前登记的订阅在此发送
	return s.applySubscriptions(ctx)
}

func (s *StreamClient) Close() error {
	if s.State() == interfaces.StateDisconnected {
		return nil
	}
	s.setState(interfaces.StateDisconnecting)

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.reading = false
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.subs.ClearAll()
	s.resetBooks()
	s.setState(interfaces.StateDisconnected)
	logger.Info("Backpack WS 已断开")
	return err
}

// SendMessage sends a message to WebSocket server
func (s *StreamClient) SendMessage(ctx context.Context, message interface{}) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		return errors.New("WebSocket not connected")
	}

	if logger.IsDebugEnabled() {
		if jsonData, err := json.Marshal(message); err == nil {
			logger.Debug("Backpack WS SendMessage: %s", string(jsonData))
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(message); err != nil {
		logger.Error("Backpack WS 发送消息失败: %v", err)
		return err
	}
	return nil
}

// KlineStream 生成 kline.<interval>.<symbol>
func KlineStream(interval schema.Interval, symbol string) string {
	return fmt.Sprintf("%s.%s.%s", channelKline, interval, symbol)
}

// TickerStream 生成 ticker.<symbol>
func TickerStream(symbol string) string {
	return fmt.Sprintf("%s.%s", channelTicker, symbol)
}

// DepthStream 生成 depth[.<aggMs>].<symbol>, aggMs<=0 时省略
func DepthStream(symbol string, aggMs int) string {
	if aggMs > 0 {
		return fmt.Sprintf("%s.%dms.%s", channelDepth, aggMs, symbol)
	}
	return fmt.Sprintf("%s.%s", channelDepth, symbol)
}

func (s *StreamClient) SubscribeKline(ctx context.Context, symbols []string, interval schema.Interval) error {
	if interval == "" {
		interval = schema.Interval1m
	}
	return s.subscribe(ctx, s.streams(symbols, func(sym string) string { return KlineStream(interval, sym) }))
}

func (s *StreamClient) UnsubscribeKline(ctx context.Context, symbols []string, interval schema.Interval) error {
	if interval == "" {
		interval = schema.Interval1m
	}
	return s.unsubscribe(ctx, s.streams(symbols, func(sym string) string { return KlineStream(interval, sym) }))
}

func (s *StreamClient) SubscribeDepth(ctx context.Context, symbols []string) error {
	return s.subscribe(ctx, s.streams(symbols, func(sym string) string { return DepthStream(sym, 0) }))
}

func (s *StreamClient) UnsubscribeDepth(ctx context.Context, symbols []string) error {
	streams := s.streams(symbols, func(sym string) string { return DepthStream(sym, 0) })
	if err := s.unsubscribe(ctx, streams); err != nil {
		return err
	}
	s.booksMu.Lock()
	for _, sym := range symbols {
		delete(s.orderBooks, streamSymbol(sym, s.market))
	}
	s.booksMu.Unlock()
	return nil
}

func (s *StreamClient) SubscribeTicker(ctx context.Context, symbols []string) error {
	return s.subscribe(ctx, s.streams(symbols, TickerStream))
}

func (s *StreamClient) UnsubscribeTicker(ctx context.Context, symbols []string) error {
	return s.unsubscribe(ctx, s.streams(symbols, TickerStream))
}

func (s *StreamClient) streams(symbols []string, build func(string) string) []string {
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, build(streamSymbol(sym, s.market)))
	}
	return out
}

// subscribe 每个 stream 单独发送, 以便 id 与 stream 一一对应
func (s *StreamClient) subscribe(ctx context.Context, streams []string) error {
	var newlyAdded []string
	for _, stream := range streams {
		if _, isNew := s.subs.Subscribe(stream); isNew {
			newlyAdded = append(newlyAdded, stream)
		}
	}
	if len(newlyAdded) == 0 {
		logger.Info("Backpack WS 所有 stream 都已订阅, 跳过订阅请求")
		return nil
	}
	logger.Info("Backpack WS 新增订阅: %v", newlyAdded)

	if s.State() != interfaces.StateConnected {
		logger.Warn("Backpack WS 未连接, 订阅状态已保存, 连接后将自动应用")
		return nil
	}
	for _, stream := range newlyAdded {
		id, _ := s.subs.Subscribe(stream)
		if err := s.SendMessage(ctx, &subscriptionMessage{Method: "SUBSCRIBE", Params: []string{stream}, ID: id}); err != nil {
			return err
		}
	}
	return nil
}

func (s *StreamClient) unsubscribe(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		id, ok := s.subs.Unsubscribe(stream)
		if !ok {
			continue
		}
		logger.Info("Backpack WS 退订: %s", stream)
		if s.State() != interfaces.StateConnected {
			continue
		}
		if err := s.SendMessage(ctx, &subscriptionMessage{Method: "UNSUBSCRIBE", Params: []string{stream}, ID: id}); err != nil {
			return err
		}
	}
	return nil
}

// applySubscriptions sends every tracked stream after (re)connecting
func (s *StreamClient) applySubscriptions(ctx context.Context) error {
	streams := s.subs.Streams()
	if len(streams) == 0 {
		return nil
	}
	logger.Info("Backpack WS 发送已登记订阅: %v", streams)
	for _, stream := range streams {
		id, _ := s.subs.Subscribe(stream)
		if err := s.SendMessage(ctx, &subscriptionMessage{Method: "SUBSCRIBE", Params: []string{stream}, ID: id}); err != nil {
			return err
		}
	}
	return nil
}

// Subscriptions returns the tracked streams, pending or confirmed.
func (s *StreamClient) Subscriptions() []string {
	return s.subs.Streams()
}

// IsConfirmed reports whether the server acknowledged stream.
func (s *StreamClient) IsConfirmed(stream string) bool {
	return s.subs.IsConfirmed(stream)
}

// StartReading starts the receive loop; a connection owns at most one.
func (s *StreamClient) StartReading(ctx context.Context) error {
	s.mu.Lock()
	conn, done := s.conn, s.done
	if conn == nil {
		s.mu.Unlock()
		return errors.New("WebSocket not connected")
	}
	if s.reading {
		s.mu.Unlock()
		logger.Info("Backpack WS 接收循环已在运行, 跳过")
		return nil
	}
	s.reading = true
	s.mu.Unlock()

	logger.Info("Backpack WS 开始读取消息...")
	go s.readLoop(ctx, conn, done)
	return nil
}

// readLoop 单 goroutine 接收, 读错误即结束本连接, 不自动重连
func (s *StreamClient) readLoop(ctx context.Context, conn interfaces.WSConn, done chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("Backpack WS 上下文取消")
			_ = s.Close()
			return
		case <-done:
			logger.Info("Backpack WS 停止信号")
			return
		default:
		}

		var msg json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-done:
				return
			default:
			}
			logger.Error("Backpack WS 读取消息失败: %v", err)
			s.handleDisconnect(conn)
			return
		}

		s.healthMu.Lock()
		s.lastMessage = time.Now()
		s.healthMu.Unlock()

		if logger.IsDebugEnabled() {
			logger.Debug("Backpack WS 收到消息: %s", string(msg))
		}
		s.handleMessage(msg)
	}
}

// handleDisconnect 连接异常断开: 清空订阅与订单簿, 记录断开前的订阅供 Reconnect 使用
func (s *StreamClient) handleDisconnect(conn interfaces.WSConn) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.reading = false
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	lost := s.subs.Streams()
	s.lastStreams = lost
	s.mu.Unlock()

	_ = conn.Close()
	s.subs.ClearAll()
	s.resetBooks()
	s.setState(interfaces.StateDisconnected)
	logger.Warn("Backpack WS 连接已断开, 丢失订阅: %v", lost)
}

func (s *StreamClient) resetBooks() {
	s.booksMu.Lock()
	s.orderBooks = make(map[string]*orderBook)
	s.booksMu.Unlock()
}

// Reconnect redials with backoff and replays the streams that were live.
func (s *StreamClient) Reconnect(ctx context.Context) error {
	if s.State() == interfaces.StateConnected {
		logger.Info("Backpack WS 连接正常, 无需重连")
		return nil
	}

	s.mu.Lock()
	replay := append([]string(nil), s.lastStreams...)
	s.lastStreams = nil
	s.mu.Unlock()
	replay = append(replay, s.subs.Streams()...)
	for _, stream := range replay {
		s.subs.Subscribe(stream)
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = s.Connect(ctx); err == nil {
			break
		}
		if s.backoff.MaxAttempts > 0 && attempt >= s.backoff.MaxAttempts {
			return fmt.Errorf("backpack ws reconnect failed after %d attempts: %w", attempt, err)
		}
		wait := s.backoff.Next(attempt)
		logger.Warn("Backpack WS 第%d次重连失败, %.2f 秒后重试: %v", attempt, wait.Seconds(), err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	logger.Info("Backpack WS 重连成功, 重新订阅 %d 个 stream", len(s.subs.Streams()))
	return s.StartReading(ctx)
}

func (s *StreamClient) handleMessage(data json.RawMessage) {
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		logger.Error("Backpack WS 无法解析消息: %s", string(data))
		return
	}

	switch {
	case frame.Stream != "":
		s.dispatch(frame.Stream, frame.Data)
	case frame.ID != nil && frame.Error != nil:
		s.handleSubscribeError(*frame.ID, frame.Error)
	case frame.ID != nil:
		if stream, ok := s.subs.Resolve(*frame.ID); ok {
			logger.Info("Backpack WS 订阅确认: %s (id=%d)", stream, *frame.ID)
		}
	case frame.Error != nil:
		logger.Warn("Backpack WS 收到错误: code=%d msg=%s", frame.Error.Code, frame.Error.Message)
	default:
		logger.Error("Backpack WS 未知消息: %s", string(data))
	}
}

// handleSubscribeError 只移除出错的订阅, 连接保持
func (s *StreamClient) handleSubscribeError(id int64, e *wsError) {
	stream, ok := s.subs.Fail(id)
	if !ok {
		logger.Warn("Backpack WS 未知请求的错误回复 id=%d: code=%d msg=%s", id, e.Code, e.Message)
		return
	}
	if e.Code == errCodeUnsupportedInstrument || strings.Contains(strings.ToLower(e.Message), "not supported") {
		logger.Warn("Backpack WS 交易对不支持, 已移除订阅 %s: %s", stream, e.Message)
		return
	}
	logger.Warn("Backpack WS 订阅失败, 已移除订阅 %s: code=%d msg=%s", stream, e.Code, e.Message)
}

func (s *StreamClient) dispatch(stream string, data json.RawMessage) {
	channel, _, _ := strings.Cut(stream, ".")
	switch channel {
	case channelDepth:
		s.handleDepth(data)
	case channelKline:
		s.handleKline(stream, data)
	case channelTicker:
		s.handleTicker(data)
	default:
		logger.Error("Backpack WS 未知 stream: %s", stream)
	}
}

func (s *StreamClient) unifiedSymbol(exchangeSymbol string) string {
	if unified, _, err := FromExchangeSymbol(exchangeSymbol); err == nil {
		return unified
	}
	return exchangeSymbol
}

func (s *StreamClient) handleDepth(data json.RawMessage) {
	var ev depthEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		logger.Error("Backpack WS 解析depth失败: %v", err)
		return
	}
	symbol := strings.ToUpper(ev.S)

	s.booksMu.Lock()
	ob, ok := s.orderBooks[symbol]
	if !ok {
		// 没有快照, 首个增量直接作用于空订单簿
		ob = newOrderBook()
		s.orderBooks[symbol] = ob
	}
	gap, prevLast := ob.apply(ev)
	bids, asks := ob.view(s.depth)
	lastUpdateId := ob.lastUpdateId
	s.booksMu.Unlock()

	if gap {
		logger.Warn("Backpack WS 深度序列不连续 symbol=%s last=%d U=%d", symbol, prevLast, ev.U)
	}

	updatedAt := base.ParseTime(ev.Et)
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	d := schema.Depth{
		Exchange:     schema.BACKPACK,
		Market:       s.market,
		Symbol:       s.unifiedSymbol(symbol),
		Bids:         bids,
		Asks:         asks,
		UpdatedAt:    updatedAt,
		LastUpdateId: lastUpdateId,
	}
	s.cache.SetDepth(d)
	if s.handlers.OnDepth != nil {
		s.handlers.OnDepth(d)
	}
}

// Depth returns the latest published view for a unified symbol.
func (s *StreamClient) Depth(symbol string) (schema.Depth, bool) {
	return s.cache.GetDepth(schema.BACKPACK, s.market, symbol)
}

func (s *StreamClient) handleKline(stream string, data json.RawMessage) {
	var ev struct {
		E  string      `json:"e"` // Event type
		Et int64       `json:"E"` // Event time, 微秒
		S  string      `json:"s"` // Symbol
		T  interface{} `json:"t"` // K线开始时间
		Tc interface{} `json:"T"` // K线结束时间
		O  string      `json:"o"`
		C  string      `json:"c"`
		H  string      `json:"h"`
		L  string      `json:"l"`
		V  string      `json:"v"`
		N  interface{} `json:"n"` // 成交笔数
		X  bool        `json:"X"` // 是否收盘
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		logger.Error("Backpack WS 解析kline失败: %v", err)
		return
	}

	// kline.<interval>.<symbol>
	interval := schema.Interval1m
	if parts := strings.Split(stream, "."); len(parts) == 3 {
		interval = schema.Interval(parts[1])
	}

	k := schema.Kline{
		Exchange:  schema.BACKPACK,
		Market:    s.market,
		Symbol:    s.unifiedSymbol(strings.ToUpper(ev.S)),
		Interval:  interval,
		OpenTime:  base.ParseTime(ev.T),
		CloseTime: base.ParseTime(ev.Tc),
		Open:      base.SafeDecimal(ev.O, zero),
		High:      base.SafeDecimal(ev.H, zero),
		Low:       base.SafeDecimal(ev.L, zero),
		Close:     base.SafeDecimal(ev.C, zero),
		Volume:    base.SafeDecimal(ev.V, zero),
		TradeNum:  base.SafeInt64(ev.N, 0),
		IsFinal:   ev.X,
		EventTime: base.ParseTime(ev.Et),
	}
	s.cache.SetKline(k)
	if s.handlers.OnKline != nil {
		s.handlers.OnKline(k)
	}
}

func (s *StreamClient) handleTicker(data json.RawMessage) {
	var ev struct {
		E  string `json:"e"`
		Et int64  `json:"E"`
		S  string `json:"s"`
		C  string `json:"c"` // 最新价
		V  string `json:"v"` // 基础币成交量
		Vq string `json:"V"` // 计价币成交量
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		logger.Error("Backpack WS 解析ticker失败: %v", err)
		return
	}
	t := schema.Ticker{
		Exchange:  schema.BACKPACK,
		Market:    s.market,
		Symbol:    s.unifiedSymbol(strings.ToUpper(ev.S)),
		Price:     base.SafeDecimal(ev.C, zero),
		Volume:    base.SafeDecimal(ev.V, zero),
		QuoteVol:  base.SafeDecimal(ev.Vq, zero),
		Timestamp: base.ParseTime(ev.Et),
	}
	s.cache.SetTicker(t)
	if s.handlers.OnTicker != nil {
		s.handlers.OnTicker(t)
	}
}

// setupPingPongHandlers 设置 ping-pong 处理器
func (s *StreamClient) setupPingPongHandlers(conn interfaces.WSConn) {
	conn.SetPingHandler(func(appData string) error {
		logger.Debug("Backpack WS 收到 ping, 发送 pong 响应")
		s.healthMu.Lock()
		s.lastMessage = time.Now()
		s.healthMu.Unlock()
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return conn.Pong([]byte(appData))
	})

	conn.SetPongHandler(func(appData string) error {
		s.healthMu.Lock()
		s.lastPong = time.Now()
		s.lastMessage = s.lastPong
		s.healthMu.Unlock()
		return nil
	})
}

// HandlePing 处理接收到的 ping
func (s *StreamClient) HandlePing(data []byte) error {
	s.healthMu.Lock()
	s.lastMessage = time.Now()
	s.healthMu.Unlock()

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return errors.New("WebSocket not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.Pong(data)
}

// SendPing 主动发送 ping
func (s *StreamClient) SendPing(ctx context.Context) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return errors.New("WebSocket not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.Ping([]byte(time.Now().Format(time.RFC3339)))
}

// StartHealthCheck 周期性 ping 并在长时间无消息时告警; 是否重连由调用方决定
func (s *StreamClient) StartHealthCheck(ctx context.Context) error {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()
	if done == nil {
		return errors.New("WebSocket not connected")
	}

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				logger.Info("Backpack WS 健康监控退出")
				return
			case <-ticker.C:
				if err := s.SendPing(ctx); err != nil {
					logger.Warn("Backpack WS 发送 ping 失败: %v", err)
				}
				s.healthMu.RLock()
				idle := time.Since(s.lastMessage)
				s.healthMu.RUnlock()
				if idle > 60*time.Second {
					logger.Warn("Backpack WS 长时间未收到消息: %.2f秒", idle.Seconds())
				}
			}
		}
	}()
	return nil
}
