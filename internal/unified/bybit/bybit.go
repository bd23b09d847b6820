// Package bybit is the unified driver for Bybit v5 (spot and USDT linear),
// backed by github.com/bybit-exchange/bybit.go.api.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"github.com/shopspring/decimal"

	"github.com/kingsmao/exchange-adapter/internal/exchange/base"
	"github.com/kingsmao/exchange-adapter/internal/unified"
)

const (
	ID        = "bybit"
	IDTestnet = "bybit-testnet"

	mainnetURL = "https://api.bybit.com"
	testnetURL = "https://api-testnet.bybit.com"

	defaultSettle = "USDT"
)

// Register adds bybit and bybit-testnet to r.
func Register(r *unified.Registry) {
	r.Register(ID, New)
	r.Register(IDTestnet, NewTestnet)
}

// Driver implements unified.Exchange for one category.
type Driver struct {
	unified.MarketStore

	id       string
	segment  unified.Segment
	category string // spot / linear
	client   *bybit.Client
}

func New(cfg unified.Config) (unified.Exchange, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = mainnetURL
	}
	return newDriver(ID, cfg)
}

func NewTestnet(cfg unified.Config) (unified.Exchange, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = testnetURL
	}
	return newDriver(IDTestnet, cfg)
}

func newDriver(id string, cfg unified.Config) (*Driver, error) {
	var category string
	switch cfg.Segment {
	case unified.SegmentSpot:
		category = "spot"
	case unified.SegmentSwap:
		category = "linear"
	default:
		return nil, fmt.Errorf("%s: unknown segment %q", id, cfg.Segment)
	}

	client := bybit.NewBybitHttpClient(cfg.APIKey, cfg.Secret, bybit.WithBaseURL(cfg.BaseURL))
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", cfg.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	client.HTTPClient = &http.Client{Timeout: cfg.Timeout, Transport: transport}

	return &Driver{id: id, segment: cfg.Segment, category: category, client: client}, nil
}

func (d *Driver) ID() string               { return d.id }
func (d *Driver) Segment() unified.Segment { return d.segment }

func (d *Driver) Has(f unified.Feature) bool {
	switch f {
	case unified.FeatureFetchOpenOrders, unified.FeatureFetchClosedOrders, unified.FeatureFetchBalance,
		unified.FeatureFetchOHLCV, unified.FeatureFetchTickers, unified.FeatureCreateOrder:
		return true
	case unified.FeatureFetchPositions:
		return d.segment == unified.SegmentSwap
	default:
		return false
	}
}

func (d *Driver) RequiresSymbol(unified.Feature) bool { return false }

// decode checks retCode and re-marshals Result into out.
func decode(resp *bybit.ServerResponse, err error, out any) error {
	if err != nil {
		return err
	}
	if resp == nil {
		return fmt.Errorf("bybit: empty response")
	}
	if resp.RetCode != 0 {
		return fmt.Errorf("bybit: retCode=%d retMsg=%s", resp.RetCode, resp.RetMsg)
	}
	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, out)
}

func (d *Driver) params(extra map[string]interface{}) map[string]interface{} {
	p := map[string]interface{}{"category": d.category}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

func (d *Driver) venueID(symbol string) (string, error) {
	m, err := d.Market(symbol)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

type instrumentList struct {
	List []struct {
		Symbol        string `json:"symbol"`
		ContractType  string `json:"contractType"`
		Status        string `json:"status"`
		BaseCoin      string `json:"baseCoin"`
		QuoteCoin     string `json:"quoteCoin"`
		SettleCoin    string `json:"settleCoin"`
		LotSizeFilter struct {
			BasePrecision    string `json:"basePrecision"`
			QtyStep          string `json:"qtyStep"`
			MinOrderQty      string `json:"minOrderQty"`
			MinOrderAmt      string `json:"minOrderAmt"`
			MinNotionalValue string `json:"minNotionalValue"`
		} `json:"lotSizeFilter"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
	} `json:"list"`
	NextPageCursor string `json:"nextPageCursor"`
}

// LoadMarkets pages through instruments-info; linear keeps perpetuals only.
func (d *Driver) LoadMarkets(ctx context.Context) (map[string]unified.Market, error) {
	out := make(map[string]unified.Market)
	cursor := ""
	for {
		extra := map[string]interface{}{}
		if d.category == "linear" {
			extra["limit"] = 1000
		}
		if cursor != "" {
			extra["cursor"] = cursor
		}
		var page instrumentList
		resp, err := d.client.NewUtaBybitServiceWithParams(d.params(extra)).GetInstrumentInfo(ctx)
		if err := decode(resp, err, &page); err != nil {
			return nil, err
		}
		for _, s := range page.List {
			m := unified.Market{
				ID:             s.Symbol,
				Base:           s.BaseCoin,
				Quote:          s.QuoteCoin,
				Active:         s.Status == "Trading",
				PricePrecision: base.PrecisionFromStep(s.PriceFilter.TickSize),
				MinQty:         s.LotSizeFilter.MinOrderQty,
			}
			if d.category == "spot" {
				m.Symbol = s.BaseCoin + "/" + s.QuoteCoin
				m.Spot = true
				m.AmountPrecision = base.PrecisionFromStep(s.LotSizeFilter.BasePrecision)
				m.MinNotional = s.LotSizeFilter.MinOrderAmt
			} else {
				if s.ContractType != "LinearPerpetual" {
					continue
				}
				m.Settle = s.SettleCoin
				m.Symbol = s.BaseCoin + "/" + s.QuoteCoin + ":" + s.SettleCoin
				m.Swap = true
				m.AmountPrecision = base.PrecisionFromStep(s.LotSizeFilter.QtyStep)
				m.MinNotional = s.LotSizeFilter.MinNotionalValue
			}
			out[m.Symbol] = m
		}
		if page.NextPageCursor == "" || page.NextPageCursor == cursor {
			break
		}
		cursor = page.NextPageCursor
	}
	return out, nil
}

func (d *Driver) FetchOrders(context.Context, string, int) ([]unified.Order, error) {
	return nil, fmt.Errorf("%s: fetchOrders: %w", d.id, unified.ErrArgumentNotSupported)
}

type orderList struct {
	List []rawOrder `json:"list"`
}

type rawOrder struct {
	OrderID      string `json:"orderId"`
	OrderLinkID  string `json:"orderLinkId"`
	Symbol       string `json:"symbol"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	Side         string `json:"side"`
	OrderStatus  string `json:"orderStatus"`
	OrderType    string `json:"orderType"`
	AvgPrice     string `json:"avgPrice"`
	LeavesQty    string `json:"leavesQty"`
	CumExecQty   string `json:"cumExecQty"`
	CumExecValue string `json:"cumExecValue"`
	CumExecFee   string `json:"cumExecFee"`
	CreatedTime  string `json:"createdTime"`
	UpdatedTime  string `json:"updatedTime"`
}

func (d *Driver) orderQuery(symbol string, limit int) (map[string]interface{}, error) {
	extra := map[string]interface{}{}
	if symbol != "" {
		id, err := d.venueID(symbol)
		if err != nil {
			return nil, err
		}
		extra["symbol"] = id
	} else if d.category == "linear" {
		extra["settleCoin"] = defaultSettle
	}
	if limit > 0 {
		extra["limit"] = limit
	}
	return d.params(extra), nil
}

func (d *Driver) FetchOpenOrders(ctx context.Context, symbol string) ([]unified.Order, error) {
	p, err := d.orderQuery(symbol, 0)
	if err != nil {
		return nil, err
	}
	var res orderList
	resp, err := d.client.NewUtaBybitServiceWithParams(p).GetOpenOrders(ctx)
	if err := decode(resp, err, &res); err != nil {
		return nil, err
	}
	return d.orders(res.List), nil
}

// FetchClosedOrders returns finished orders from order history.
func (d *Driver) FetchClosedOrders(ctx context.Context, symbol string, limit int) ([]unified.Order, error) {
	p, err := d.orderQuery(symbol, limit)
	if err != nil {
		return nil, err
	}
	var res orderList
	resp, err := d.client.NewUtaBybitServiceWithParams(p).GetOrderHistory(ctx)
	if err := decode(resp, err, &res); err != nil {
		return nil, err
	}
	out := d.orders(res.List)
	closed := out[:0]
	for _, o := range out {
		if o.Status != "open" {
			closed = append(closed, o)
		}
	}
	return closed, nil
}

func (d *Driver) orders(list []rawOrder) []unified.Order {
	out := make([]unified.Order, 0, len(list))
	for _, o := range list {
		created, _ := strconv.ParseInt(o.CreatedTime, 10, 64)
		updated, _ := strconv.ParseInt(o.UpdatedTime, 10, 64)
		out = append(out, unified.Order{
			ID:            o.OrderID,
			ClientOrderID: o.OrderLinkID,
			Symbol:        d.SymbolOf(o.Symbol),
			Side:          strings.ToLower(o.Side),
			Type:          strings.ToLower(o.OrderType),
			Status:        orderStatus(o.OrderStatus),
			Price:         o.Price,
			Average:       o.AvgPrice,
			Amount:        o.Qty,
			Filled:        o.CumExecQty,
			Remaining:     o.LeavesQty,
			Cost:          o.CumExecValue,
			Fee:           o.CumExecFee,
			Timestamp:     created,
			LastUpdate:    updated,
		})
	}
	return out
}

func orderStatus(s string) string {
	switch s {
	case "New", "PartiallyFilled", "Untriggered", "Created":
		return "open"
	case "Filled":
		return "closed"
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return "canceled"
	case "Rejected":
		return "rejected"
	default:
		return strings.ToLower(s)
	}
}

// FetchBalance reads the unified trading account wallet.
func (d *Driver) FetchBalance(ctx context.Context) ([]unified.BalanceEntry, error) {
	var res struct {
		List []struct {
			Coin []struct {
				Coin                string `json:"coin"`
				WalletBalance       string `json:"walletBalance"`
				Locked              string `json:"locked"`
				TotalOrderIM        string `json:"totalOrderIM"`
				TotalPositionIM     string `json:"totalPositionIM"`
				AvailableToWithdraw string `json:"availableToWithdraw"`
			} `json:"coin"`
		} `json:"list"`
	}
	resp, err := d.client.NewUtaBybitServiceWithParams(map[string]interface{}{"accountType": "UNIFIED"}).GetAccountWallet(ctx)
	if err := decode(resp, err, &res); err != nil {
		return nil, err
	}
	var out []unified.BalanceEntry
	for _, acct := range res.List {
		for _, c := range acct.Coin {
			out = append(out, walletEntry(c.Coin, c.WalletBalance, c.Locked, c.TotalOrderIM, c.TotalPositionIM))
		}
	}
	return out, nil
}

// FetchPositions accepts at most one symbol filter.
func (d *Driver) FetchPositions(ctx context.Context, symbols []string) ([]unified.Position, error) {
	if d.segment != unified.SegmentSwap || len(symbols) > 1 {
		return nil, unified.ErrArgumentNotSupported
	}
	extra := map[string]interface{}{}
	if len(symbols) == 1 {
		id, err := d.venueID(symbols[0])
		if err != nil {
			return nil, err
		}
		extra["symbol"] = id
	} else {
		extra["settleCoin"] = defaultSettle
	}
	var res struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			Leverage      string `json:"leverage"`
			UnrealisedPnl string `json:"unrealisedPnl"`
		} `json:"list"`
	}
	resp, err := d.client.NewUtaBybitServiceWithParams(d.params(extra)).GetPositionList(ctx)
	if err := decode(resp, err, &res); err != nil {
		return nil, err
	}
	out := make([]unified.Position, 0, len(res.List))
	for _, p := range res.List {
		side := "long"
		if p.Side == "Sell" {
			side = "short"
		}
		out = append(out, unified.Position{
			Symbol:        d.SymbolOf(p.Symbol),
			Side:          side,
			Contracts:     p.Size,
			EntryPrice:    p.AvgPrice,
			MarkPrice:     p.MarkPrice,
			Leverage:      p.Leverage,
			UnrealizedPnl: p.UnrealisedPnl,
		})
	}
	return out, nil
}

var timeframes = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "1d": "D", "1w": "W",
}

// FetchOHLCV returns candles oldest first; the venue sends them newest first.
func (d *Driver) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]unified.OHLCV, error) {
	id, err := d.venueID(symbol)
	if err != nil {
		return nil, err
	}
	interval, ok := timeframes[timeframe]
	if !ok {
		return nil, fmt.Errorf("%s: timeframe %q: %w", d.id, timeframe, unified.ErrArgumentNotSupported)
	}
	extra := map[string]interface{}{"symbol": id, "interval": interval}
	if limit > 0 {
		extra["limit"] = limit
	}
	var res struct {
		List [][]string `json:"list"`
	}
	resp, err := d.client.NewUtaBybitServiceWithParams(d.params(extra)).GetMarketKline(ctx)
	if err := decode(resp, err, &res); err != nil {
		return nil, err
	}
	out := make([]unified.OHLCV, 0, len(res.List))
	for _, row := range res.List {
		if len(row) < 7 {
			continue
		}
		start, _ := strconv.ParseInt(row[0], 10, 64)
		out = append(out, unified.OHLCV{
			Timestamp: start, Open: row[1], High: row[2], Low: row[3], Close: row[4],
			Volume: row[5], QuoteVolume: row[6],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (d *Driver) FetchTickers(ctx context.Context, symbols []string) (map[string]unified.Ticker, error) {
	want := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		want[s] = struct{}{}
	}
	var res struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	resp, err := d.client.NewUtaBybitServiceWithParams(d.params(nil)).GetMarketTickers(ctx)
	if err := decode(resp, err, &res); err != nil {
		return nil, err
	}
	out := make(map[string]unified.Ticker, len(res.List))
	for _, t := range res.List {
		sym := d.SymbolOf(t.Symbol)
		if sym == t.Symbol {
			continue
		}
		if len(want) > 0 {
			if _, ok := want[sym]; !ok {
				continue
			}
		}
		out[sym] = unified.Ticker{Symbol: sym, Last: t.LastPrice}
	}
	return out, nil
}

func (d *Driver) CreateOrder(ctx context.Context, args unified.OrderArgs) (unified.Order, error) {
	id, err := d.venueID(args.Symbol)
	if err != nil {
		return unified.Order{}, err
	}
	extra := map[string]interface{}{
		"symbol":    id,
		"side":      titleCase(args.Side),
		"orderType": titleCase(args.Type),
		"qty":       args.Amount,
	}
	if strings.EqualFold(args.Type, "limit") {
		extra["price"] = args.Price
		tif := args.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		extra["timeInForce"] = tif
	}
	if args.ClientOrderID != "" {
		extra["orderLinkId"] = args.ClientOrderID
	}
	if args.ReduceOnly && d.category == "linear" {
		extra["reduceOnly"] = true
	}
	var res struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	resp, err := d.client.NewUtaBybitServiceWithParams(d.params(extra)).PlaceOrder(ctx)
	if err := decode(resp, err, &res); err != nil {
		return unified.Order{}, err
	}
	return unified.Order{
		ID:            res.OrderID,
		ClientOrderID: res.OrderLinkID,
		Symbol:        args.Symbol,
		Side:          strings.ToLower(args.Side),
		Type:          strings.ToLower(args.Type),
		Status:        "open",
		Price:         args.Price,
		Amount:        args.Amount,
		Remaining:     args.Amount,
	}, nil
}

func (d *Driver) Ping(ctx context.Context) error {
	var res struct {
		TimeSecond string `json:"timeSecond"`
	}
	resp, err := d.client.NewUtaBybitServiceNoParams().GetServerTime(ctx)
	return decode(resp, err, &res)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}

// walletEntry 已用 = 冻结 + 委托保证金 + 持仓保证金, 可用 = 钱包余额 - 已用
func walletEntry(coin, wallet string, locked ...string) unified.BalanceEntry {
	used := decimal.Zero
	for _, v := range locked {
		used = used.Add(base.SafeDecimal(v, decimal.Zero))
	}
	return unified.BalanceEntry{
		Currency: coin,
		Free:     base.SafeDecimal(wallet, decimal.Zero).Sub(used).String(),
		Used:     used.String(),
		Total:    wallet,
	}
}
