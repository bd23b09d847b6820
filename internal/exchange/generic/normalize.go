package generic

import (
	"github.com/shopspring/decimal"

	"github.com/kingsmao/exchange-adapter/internal/exchange/base"
	"github.com/kingsmao/exchange-adapter/internal/unified"
	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

func toInstrument(m unified.Market, market schema.MarketType) schema.Instrument {
	return schema.Instrument{
		Symbol:          m.Symbol,
		ExchangeSymbol:  m.ID,
		Base:            m.Base,
		Quote:           m.Quote,
		Settle:          m.Settle,
		Market:          market,
		Active:          m.Active,
		PricePrecision:  m.PricePrecision,
		AmountPrecision: m.AmountPrecision,
		MinQty:          base.SafeDecimal(m.MinQty, decimal.Zero),
		MinNotional:     base.SafeDecimal(m.MinNotional, decimal.Zero),
	}
}

func fromInstrument(inst schema.Instrument) unified.Market {
	return unified.Market{
		Symbol:          inst.Symbol,
		ID:              inst.ExchangeSymbol,
		Base:            inst.Base,
		Quote:           inst.Quote,
		Settle:          inst.Settle,
		Spot:            inst.Market == schema.SPOT,
		Swap:            inst.Market == schema.FUTURES,
		Active:          inst.Active,
		PricePrecision:  inst.PricePrecision,
		AmountPrecision: inst.AmountPrecision,
		MinQty:          inst.MinQty.String(),
		MinNotional:     inst.MinNotional.String(),
	}
}

func (a *Adapter) toOrders(raw []unified.Order) []schema.Order {
	out := make([]schema.Order, 0, len(raw))
	for _, o := range raw {
		out = append(out, a.toOrder(o))
	}
	return out
}

func (a *Adapter) toOrder(o unified.Order) schema.Order {
	amount := base.SafeDecimal(o.Amount, decimal.Zero)
	filled := base.SafeDecimal(o.Filled, decimal.Zero)
	remaining := base.SafeDecimal(o.Remaining, amount.Sub(filled))
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	price := base.SafeDecimal(o.Price, decimal.Zero)
	if price.IsZero() {
		// 市价单以成交均价为准
		price = base.SafeDecimal(o.Average, decimal.Zero)
	}
	updated := o.LastUpdate
	if updated == 0 {
		updated = o.Timestamp
	}
	return schema.Order{
		Exchange:      a.Name(),
		Market:        a.Market(),
		Symbol:        o.Symbol,
		OrderID:       o.ID,
		ClientOrderID: o.ClientOrderID,
		Side:          schema.OrderSide(o.Side),
		Type:          schema.OrderType(o.Type),
		Status:        orderStatus(o.Status, filled),
		Price:         price,
		Amount:        amount,
		Filled:        filled,
		Remaining:     remaining,
		Total:         base.SafeDecimal(o.Cost, decimal.Zero),
		Fee:           base.SafeDecimal(o.Fee, decimal.Zero),
		FeeCurrency:   o.FeeCurrency,
		OrderTime:     base.FormatTimestamp(o.Timestamp),
		UpdateTime:    base.FormatTimestamp(updated),
	}
}

func orderStatus(s string, filled decimal.Decimal) schema.OrderStatus {
	switch s {
	case "open":
		if filled.IsPositive() {
			return schema.OrderStatusPartially
		}
		return schema.OrderStatusOpen
	case "closed":
		return schema.OrderStatusFilled
	case "canceled", "cancelled":
		return schema.OrderStatusCanceled
	case "rejected":
		return schema.OrderStatusRejected
	case "expired":
		return schema.OrderStatusExpired
	default:
		return schema.OrderStatusUnknown
	}
}
