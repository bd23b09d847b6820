// Package binance is the unified driver for Binance and Binance.US, backed by
// github.com/adshao/go-binance/v2.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/kingsmao/exchange-adapter/internal/exchange/base"
	"github.com/kingsmao/exchange-adapter/internal/unified"
)

const (
	ID   = "binance"
	IDUS = "binanceus"

	usSpotBaseURL = "https://api.binance.us"
)

// Register adds binance and binanceus to r.
func Register(r *unified.Registry) {
	r.Register(ID, New)
	r.Register(IDUS, NewUS)
}

// Driver implements unified.Exchange for one segment.
type Driver struct {
	unified.MarketStore

	id      string
	segment unified.Segment
	spot    *gobinance.Client
	futures *futures.Client
}

// New builds a binance.com driver; swap uses USDT-M futures.
func New(cfg unified.Config) (unified.Exchange, error) {
	return newDriver(ID, cfg)
}

// NewUS builds a Binance.US driver. The venue has no derivatives.
func NewUS(cfg unified.Config) (unified.Exchange, error) {
	if cfg.Segment == unified.SegmentSwap {
		return nil, fmt.Errorf("binanceus: segment %q not offered by venue", cfg.Segment)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = usSpotBaseURL
	}
	return newDriver(IDUS, cfg)
}

func newDriver(id string, cfg unified.Config) (*Driver, error) {
	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	d := &Driver{id: id, segment: cfg.Segment}
	switch cfg.Segment {
	case unified.SegmentSpot:
		d.spot = gobinance.NewClient(cfg.APIKey, cfg.Secret)
		d.spot.HTTPClient = httpClient
		if cfg.BaseURL != "" {
			d.spot.BaseURL = cfg.BaseURL
		}
	case unified.SegmentSwap:
		d.futures = futures.NewClient(cfg.APIKey, cfg.Secret)
		d.futures.HTTPClient = httpClient
		if cfg.BaseURL != "" {
			d.futures.BaseURL = cfg.BaseURL
		}
	default:
		return nil, fmt.Errorf("%s: unknown segment %q", id, cfg.Segment)
	}
	return d, nil
}

func newHTTPClient(cfg unified.Config) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", cfg.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Timeout: cfg.Timeout, Transport: transport}, nil
}

func (d *Driver) ID() string               { return d.id }
func (d *Driver) Segment() unified.Segment { return d.segment }

func (d *Driver) Has(f unified.Feature) bool {
	switch f {
	case unified.FeatureFetchOrders, unified.FeatureFetchOpenOrders, unified.FeatureFetchBalance,
		unified.FeatureFetchOHLCV, unified.FeatureFetchTickers, unified.FeatureCreateOrder:
		return true
	case unified.FeatureFetchPositions:
		return d.segment == unified.SegmentSwap
	default:
		return false
	}
}

// RequiresSymbol: allOrders 接口必须带 symbol
func (d *Driver) RequiresSymbol(f unified.Feature) bool {
	return f == unified.FeatureFetchOrders
}

func (d *Driver) LoadMarkets(ctx context.Context) (map[string]unified.Market, error) {
	if d.segment == unified.SegmentSwap {
		return d.loadFuturesMarkets(ctx)
	}
	return d.loadSpotMarkets(ctx)
}

func (d *Driver) venueID(symbol string) (string, error) {
	m, err := d.Market(symbol)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func (d *Driver) FetchClosedOrders(context.Context, string, int) ([]unified.Order, error) {
	return nil, fmt.Errorf("%s: fetchClosedOrders: %w", d.id, unified.ErrArgumentNotSupported)
}

func (d *Driver) FetchOrders(ctx context.Context, symbol string, limit int) ([]unified.Order, error) {
	id, err := d.venueID(symbol)
	if err != nil {
		return nil, err
	}
	if d.segment == unified.SegmentSwap {
		svc := d.futures.NewListOrdersService().Symbol(id)
		if limit > 0 {
			svc = svc.Limit(limit)
		}
		res, err := svc.Do(ctx)
		if err != nil {
			return nil, err
		}
		return d.futuresOrders(res), nil
	}
	svc := d.spot.NewListOrdersService().Symbol(id)
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	return d.spotOrders(res), nil
}

func (d *Driver) FetchOpenOrders(ctx context.Context, symbol string) ([]unified.Order, error) {
	id := ""
	if symbol != "" {
		var err error
		if id, err = d.venueID(symbol); err != nil {
			return nil, err
		}
	}
	if d.segment == unified.SegmentSwap {
		svc := d.futures.NewListOpenOrdersService()
		if id != "" {
			svc = svc.Symbol(id)
		}
		res, err := svc.Do(ctx)
		if err != nil {
			return nil, err
		}
		return d.futuresOrders(res), nil
	}
	svc := d.spot.NewListOpenOrdersService()
	if id != "" {
		svc = svc.Symbol(id)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	return d.spotOrders(res), nil
}

func (d *Driver) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]unified.OHLCV, error) {
	id, err := d.venueID(symbol)
	if err != nil {
		return nil, err
	}
	var out []unified.OHLCV
	if d.segment == unified.SegmentSwap {
		svc := d.futures.NewKlinesService().Symbol(id).Interval(timeframe)
		if limit > 0 {
			svc = svc.Limit(limit)
		}
		res, err := svc.Do(ctx)
		if err != nil {
			return nil, err
		}
		for _, k := range res {
			out = append(out, unified.OHLCV{
				Timestamp: k.OpenTime, CloseTime: k.CloseTime,
				Open: k.Open, High: k.High, Low: k.Low, Close: k.Close,
				Volume: k.Volume, QuoteVolume: k.QuoteAssetVolume, Trades: k.TradeNum,
			})
		}
		return out, nil
	}
	svc := d.spot.NewKlinesService().Symbol(id).Interval(timeframe)
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range res {
		out = append(out, unified.OHLCV{
			Timestamp: k.OpenTime, CloseTime: k.CloseTime,
			Open: k.Open, High: k.High, Low: k.Low, Close: k.Close,
			Volume: k.Volume, QuoteVolume: k.QuoteAssetVolume, Trades: k.TradeNum,
		})
	}
	return out, nil
}

// FetchTickers returns last prices keyed by unified symbol; venue ids without a loaded market are skipped.
func (d *Driver) FetchTickers(ctx context.Context, symbols []string) (map[string]unified.Ticker, error) {
	want := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		want[s] = struct{}{}
	}
	out := make(map[string]unified.Ticker)
	add := func(id, price string) {
		sym := d.SymbolOf(id)
		if sym == id {
			return
		}
		if len(want) > 0 {
			if _, ok := want[sym]; !ok {
				return
			}
		}
		out[sym] = unified.Ticker{Symbol: sym, Last: price}
	}

	if d.segment == unified.SegmentSwap {
		res, err := d.futures.NewListPricesService().Do(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range res {
			add(p.Symbol, p.Price)
		}
		return out, nil
	}
	res, err := d.spot.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range res {
		add(p.Symbol, p.Price)
	}
	return out, nil
}

func (d *Driver) Ping(ctx context.Context) error {
	if d.segment == unified.SegmentSwap {
		return d.futures.NewPingService().Do(ctx)
	}
	return d.spot.NewPingService().Do(ctx)
}

func (d *Driver) CreateOrder(ctx context.Context, args unified.OrderArgs) (unified.Order, error) {
	id, err := d.venueID(args.Symbol)
	if err != nil {
		return unified.Order{}, err
	}
	side := strings.ToUpper(args.Side)
	typ := strings.ToUpper(args.Type)
	tif := args.TimeInForce
	if tif == "" {
		tif = "GTC"
	}

	if d.segment == unified.SegmentSwap {
		svc := d.futures.NewCreateOrderService().
			Symbol(id).
			Side(futures.SideType(side)).
			Type(futures.OrderType(typ)).
			Quantity(args.Amount)
		if typ == "LIMIT" {
			svc = svc.TimeInForce(futures.TimeInForceType(tif)).Price(args.Price)
		}
		if args.ClientOrderID != "" {
			svc = svc.NewClientOrderID(args.ClientOrderID)
		}
		if args.ReduceOnly {
			svc = svc.ReduceOnly(true)
		}
		res, err := svc.Do(ctx)
		if err != nil {
			return unified.Order{}, err
		}
		return unified.Order{
			ID:            strconv.FormatInt(res.OrderID, 10),
			ClientOrderID: res.ClientOrderID,
			Symbol:        args.Symbol,
			Side:          strings.ToLower(string(res.Side)),
			Type:          strings.ToLower(string(res.Type)),
			Status:        orderStatus(string(res.Status)),
			Price:         res.Price,
			Average:       res.AvgPrice,
			Amount:        res.OrigQuantity,
			Filled:        res.ExecutedQuantity,
			Cost:          res.CumQuote,
			Timestamp:     res.UpdateTime,
			LastUpdate:    res.UpdateTime,
		}, nil
	}

	svc := d.spot.NewCreateOrderService().
		Symbol(id).
		Side(gobinance.SideType(side)).
		Type(gobinance.OrderType(typ)).
		Quantity(args.Amount)
	if typ == "LIMIT" {
		svc = svc.TimeInForce(gobinance.TimeInForceType(tif)).Price(args.Price)
	}
	if args.ClientOrderID != "" {
		svc = svc.NewClientOrderID(args.ClientOrderID)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return unified.Order{}, err
	}
	o := unified.Order{
		ID:            strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
		Symbol:        args.Symbol,
		Side:          strings.ToLower(string(res.Side)),
		Type:          strings.ToLower(string(res.Type)),
		Status:        orderStatus(string(res.Status)),
		Price:         res.Price,
		Amount:        res.OrigQuantity,
		Filled:        res.ExecutedQuantity,
		Cost:          res.CummulativeQuoteQuantity,
		Timestamp:     res.TransactTime,
		LastUpdate:    res.TransactTime,
	}
	// 成交回报里的手续费按第一笔的币种汇总
	for _, f := range res.Fills {
		if o.FeeCurrency == "" {
			o.FeeCurrency = f.CommissionAsset
		}
		if f.CommissionAsset == o.FeeCurrency {
			o.Fee = addStrings(o.Fee, f.Commission)
		}
	}
	return o, nil
}

// orderStatus maps venue statuses onto the unified vocabulary.
func orderStatus(s string) string {
	switch s {
	case "NEW", "PARTIALLY_FILLED", "PENDING_NEW":
		return "open"
	case "FILLED":
		return "closed"
	case "CANCELED", "PENDING_CANCEL":
		return "canceled"
	case "REJECTED":
		return "rejected"
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return "expired"
	default:
		return strings.ToLower(s)
	}
}

// addStrings sums two decimal strings; an unparsable b leaves a unchanged.
func addStrings(a, b string) string {
	y, err := decimal.NewFromString(b)
	if err != nil {
		return a
	}
	return base.SafeDecimal(a, decimal.Zero).Add(y).String()
}

// subStrings returns a-b, treating unparsable inputs as zero.
func subStrings(a, b string) string {
	return base.SafeDecimal(a, decimal.Zero).Sub(base.SafeDecimal(b, decimal.Zero)).String()
}

// filterValue reads key from the first filter of filterType.
func filterValue(filters []map[string]interface{}, filterType, key string) string {
	for _, f := range filters {
		if t, _ := f["filterType"].(string); t != filterType {
			continue
		}
		if v, ok := f[key]; ok {
			return fmt.Sprint(v)
		}
	}
	return ""
}
