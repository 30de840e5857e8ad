package alpaca

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"tradehub/internal/gateway"
	"tradehub/internal/types"
)

func mapExchange(ex string) types.Exchange {
	switch strings.ToUpper(ex) {
	case "NASDAQ":
		return types.ExchangeNasdaq
	case "NYSE":
		return types.ExchangeNYSE
	case "ARCA", "NYSEARCA":
		return types.ExchangeArca
	case "AMEX":
		return types.ExchangeAmex
	case "OTC":
		return types.ExchangeOTC
	default:
		return types.Exchange(strings.ToUpper(ex))
	}
}

func mapStatus(status string) types.Status {
	switch status {
	case "partially_filled":
		return types.StatusPartTraded
	case "filled":
		return types.StatusAllTraded
	case "canceled", "expired", "done_for_day", "replaced":
		return types.StatusCancelled
	case "rejected", "suspended":
		return types.StatusRejected
	default:
		// new / accepted / pending_new / pending_cancel 等仍视为挂单
		return types.StatusNotTraded
	}
}

func mapSide(s alpaca.Side) types.Direction {
	if s == alpaca.Sell {
		return types.DirectionShort
	}
	return types.DirectionLong
}

func sideOf(d types.Direction) alpaca.Side {
	if d == types.DirectionShort {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func mapOrderType(t alpaca.OrderType) types.OrderType {
	switch t {
	case alpaca.Market:
		return types.OrderTypeMarket
	case alpaca.Stop:
		return types.OrderTypeStop
	default:
		return types.OrderTypeLimit
	}
}

func timeFrameOf(iv types.Interval) marketdata.TimeFrame {
	switch iv {
	case types.IntervalHour:
		return marketdata.OneHour
	case types.IntervalDaily:
		return marketdata.OneDay
	case types.IntervalWeekly:
		return marketdata.NewTimeFrame(1, marketdata.Week)
	default:
		return marketdata.OneMin
	}
}

func decPtr(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// convertOrder 使用 exchanges 查询合约所在交易所，未知时按 NASDAQ 处理。
func convertOrder(o alpaca.Order, exchanges map[string]types.Exchange) types.OrderData {
	price := decPtr(o.LimitPrice)
	if price.IsZero() {
		price = decPtr(o.StopPrice)
	}
	ex, ok := exchanges[o.Symbol]
	if !ok {
		ex = types.ExchangeNasdaq
	}
	return types.OrderData{
		Symbol:    o.Symbol,
		Exchange:  ex,
		OrderID:   o.ID,
		LocalID:   o.ClientOrderID,
		Type:      mapOrderType(o.Type),
		Direction: mapSide(o.Side),
		Offset:    types.OffsetNone,
		Price:     price,
		Volume:    decPtr(o.Qty),
		Traded:    o.FilledQty,
		Status:    mapStatus(o.Status),
		Datetime:  o.CreatedAt,
	}
}

// convertTradeUpdate 只有 fill / partial_fill 事件产生成交。
func convertTradeUpdate(u alpaca.TradeUpdate, ex types.Exchange) (types.TradeData, bool) {
	if u.Event != "fill" && u.Event != "partial_fill" {
		return types.TradeData{}, false
	}
	at := u.At
	if u.Timestamp != nil {
		at = *u.Timestamp
	}
	tradeID := u.ExecutionID
	if tradeID == "" {
		tradeID = u.EventID
	}
	return types.TradeData{
		Symbol:    u.Order.Symbol,
		Exchange:  ex,
		OrderID:   u.Order.ID,
		TradeID:   tradeID,
		Direction: mapSide(u.Order.Side),
		Offset:    types.OffsetNone,
		Price:     decPtr(u.Price),
		Volume:    decPtr(u.Qty),
		Datetime:  at,
	}, true
}

func convertQuote(symbol string, ex types.Exchange, q marketdata.Quote) types.TickData {
	bid := decimal.NewFromFloat(q.BidPrice)
	ask := decimal.NewFromFloat(q.AskPrice)
	ts := q.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return types.TickData{
		Symbol:     symbol,
		Exchange:   ex,
		Datetime:   ts,
		BidPrice1:  bid,
		BidVolume1: decimal.NewFromFloat(float64(q.BidSize)),
		AskPrice1:  ask,
		AskVolume1: decimal.NewFromFloat(float64(q.AskSize)),
		LastPrice:  bid.Add(ask).Div(decimal.NewFromInt(2)),
	}
}

func convertBar(symbol string, ex types.Exchange, iv types.Interval, b marketdata.Bar) types.BarData {
	return types.BarData{
		Symbol:   symbol,
		Exchange: ex,
		Interval: iv,
		Datetime: b.Timestamp,
		Open:     decimal.NewFromFloat(b.Open),
		High:     decimal.NewFromFloat(b.High),
		Low:      decimal.NewFromFloat(b.Low),
		Close:    decimal.NewFromFloat(b.Close),
		Volume:   decimal.NewFromFloat(float64(b.Volume)),
	}
}

// classifyStatus 按 HTTP 状态码分类 Alpaca 错误。
func classifyStatus(status int) gateway.Category {
	switch {
	case status == http.StatusTooManyRequests:
		return gateway.CategoryRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return gateway.CategoryAuth
	case status == http.StatusBadRequest || status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		return gateway.CategoryValidation
	case status >= 500:
		return gateway.CategoryNetwork
	default:
		return gateway.CategoryUnknown
	}
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return &gateway.VenueError{
			Category: classifyStatus(apiErr.StatusCode),
			Code:     apiErr.Code,
			Message:  apiErr.Message,
			Err:      err,
		}
	}
	return err
}
