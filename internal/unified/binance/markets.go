package binance

import (
	"context"
	"strconv"
	"strings"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/kingsmao/exchange-adapter/internal/exchange/base"
	"github.com/kingsmao/exchange-adapter/internal/unified"
)

func (d *Driver) loadSpotMarkets(ctx context.Context) (map[string]unified.Market, error) {
	info, err := d.spot.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]unified.Market, len(info.Symbols))
	for _, s := range info.Symbols {
		sym := s.BaseAsset + "/" + s.QuoteAsset
		minNotional := filterValue(s.Filters, "NOTIONAL", "minNotional")
		if minNotional == "" {
			minNotional = filterValue(s.Filters, "MIN_NOTIONAL", "minNotional")
		}
		out[sym] = unified.Market{
			Symbol:          sym,
			ID:              s.Symbol,
			Base:            s.BaseAsset,
			Quote:           s.QuoteAsset,
			Spot:            true,
			Active:          s.Status == "TRADING",
			PricePrecision:  base.PrecisionFromStep(filterValue(s.Filters, "PRICE_FILTER", "tickSize")),
			AmountPrecision: base.PrecisionFromStep(filterValue(s.Filters, "LOT_SIZE", "stepSize")),
			MinQty:          filterValue(s.Filters, "LOT_SIZE", "minQty"),
			MinNotional:     minNotional,
		}
	}
	return out, nil
}

// loadFuturesMarkets keeps perpetual contracts only.
func (d *Driver) loadFuturesMarkets(ctx context.Context) (map[string]unified.Market, error) {
	info, err := d.futures.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]unified.Market, len(info.Symbols))
	for _, s := range info.Symbols {
		if string(s.ContractType) != "PERPETUAL" {
			continue
		}
		settle := s.MarginAsset
		if settle == "" {
			settle = s.QuoteAsset
		}
		sym := s.BaseAsset + "/" + s.QuoteAsset + ":" + settle
		out[sym] = unified.Market{
			Symbol:          sym,
			ID:              s.Symbol,
			Base:            s.BaseAsset,
			Quote:           s.QuoteAsset,
			Settle:          settle,
			Swap:            true,
			Active:          s.Status == "TRADING",
			PricePrecision:  int32(s.PricePrecision),
			AmountPrecision: int32(s.QuantityPrecision),
			MinQty:          filterValue(s.Filters, "LOT_SIZE", "minQty"),
			MinNotional:     filterValue(s.Filters, "MIN_NOTIONAL", "notional"),
		}
	}
	return out, nil
}

func (d *Driver) spotOrders(res []*gobinance.Order) []unified.Order {
	out := make([]unified.Order, 0, len(res))
	for _, o := range res {
		out = append(out, unified.Order{
			ID:            strconv.FormatInt(o.OrderID, 10),
			ClientOrderID: o.ClientOrderID,
			Symbol:        d.SymbolOf(o.Symbol),
			Side:          strings.ToLower(string(o.Side)),
			Type:          strings.ToLower(string(o.Type)),
			Status:        orderStatus(string(o.Status)),
			Price:         o.Price,
			Amount:        o.OrigQuantity,
			Filled:        o.ExecutedQuantity,
			Cost:          o.CummulativeQuoteQuantity,
			Timestamp:     o.Time,
			LastUpdate:    o.UpdateTime,
		})
	}
	return out
}

func (d *Driver) futuresOrders(res []*futures.Order) []unified.Order {
	out := make([]unified.Order, 0, len(res))
	for _, o := range res {
		out = append(out, unified.Order{
			ID:            strconv.FormatInt(o.OrderID, 10),
			ClientOrderID: o.ClientOrderID,
			Symbol:        d.SymbolOf(o.Symbol),
			Side:          strings.ToLower(string(o.Side)),
			Type:          strings.ToLower(string(o.Type)),
			Status:        orderStatus(string(o.Status)),
			Price:         o.Price,
			Average:       o.AvgPrice,
			Amount:        o.OrigQuantity,
			Filled:        o.ExecutedQuantity,
			Cost:          o.CumQuote,
			Timestamp:     o.Time,
			LastUpdate:    o.UpdateTime,
		})
	}
	return out
}

// FetchBalance returns wallet balances; on swap Used is wallet minus available.
func (d *Driver) FetchBalance(ctx context.Context) ([]unified.BalanceEntry, error) {
	if d.segment == unified.SegmentSwap {
		res, err := d.futures.NewGetBalanceService().Do(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]unified.BalanceEntry, 0, len(res))
		for _, b := range res {
			out = append(out, unified.BalanceEntry{
				Currency: b.Asset,
				Free:     b.AvailableBalance,
				Used:     subStrings(b.Balance, b.AvailableBalance),
				Total:    b.Balance,
			})
		}
		return out, nil
	}

	acct, err := d.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]unified.BalanceEntry, 0, len(acct.Balances))
	for _, b := range acct.Balances {
		out = append(out, unified.BalanceEntry{
			Currency: b.Asset,
			Free:     b.Free,
			Used:     b.Locked,
			Total:    addStrings(b.Free, b.Locked),
		})
	}
	return out, nil
}

// FetchPositions accepts at most one symbol; the position-risk endpoint has no multi-symbol filter.
func (d *Driver) FetchPositions(ctx context.Context, symbols []string) ([]unified.Position, error) {
	if d.segment != unified.SegmentSwap {
		return nil, unified.ErrArgumentNotSupported
	}
	if len(symbols) > 1 {
		return nil, unified.ErrArgumentNotSupported
	}
	svc := d.futures.NewGetPositionRiskService()
	if len(symbols) == 1 {
		id, err := d.venueID(symbols[0])
		if err != nil {
			return nil, err
		}
		svc = svc.Symbol(id)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]unified.Position, 0, len(res))
	for _, p := range res {
		side := "long"
		if strings.HasPrefix(p.PositionAmt, "-") || p.PositionSide == "SHORT" {
			side = "short"
		}
		out = append(out, unified.Position{
			Symbol:        d.SymbolOf(p.Symbol),
			Side:          side,
			Contracts:     strings.TrimPrefix(p.PositionAmt, "-"),
			EntryPrice:    p.EntryPrice,
			MarkPrice:     p.MarkPrice,
			Leverage:      p.Leverage,
			UnrealizedPnl: p.UnRealizedProfit,
		})
	}
	return out, nil
}
