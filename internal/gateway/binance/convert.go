package binance

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"tradehub/internal/gateway"
	"tradehub/internal/types"
)

func dec(v string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func msTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func mapStatus(s futures.OrderStatusType) types.Status {
	switch s {
	case futures.OrderStatusTypeNew:
		return types.StatusNotTraded
	case futures.OrderStatusTypePartiallyFilled:
		return types.StatusPartTraded
	case futures.OrderStatusTypeFilled:
		return types.StatusAllTraded
	case futures.OrderStatusTypeRejected:
		return types.StatusRejected
	default:
		// CANCELED / EXPIRED 等
		return types.StatusCancelled
	}
}

func mapSide(s futures.SideType) types.Direction {
	if s == futures.SideTypeSell {
		return types.DirectionShort
	}
	return types.DirectionLong
}

func sideOf(d types.Direction) futures.SideType {
	if d == types.DirectionShort {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func mapOrderType(t futures.OrderType) types.OrderType {
	switch t {
	case futures.OrderTypeMarket:
		return types.OrderTypeMarket
	case futures.OrderTypeStopMarket, futures.OrderTypeStop:
		return types.OrderTypeStop
	default:
		return types.OrderTypeLimit
	}
}

func mapInterval(iv types.Interval) string {
	switch iv {
	case types.IntervalHour:
		return "1h"
	case types.IntervalDaily:
		return "1d"
	case types.IntervalWeekly:
		return "1w"
	default:
		return "1m"
	}
}

func convertContract(s futures.Symbol) types.ContractData {
	product := types.ProductFutures
	if s.ContractType == futures.ContractTypePerpetual {
		product = types.ProductSwap
	}
	c := types.ContractData{
		Symbol:      s.Symbol,
		Exchange:    types.ExchangeBinance,
		Name:        s.Pair,
		Product:     product,
		Size:        decimal.NewFromInt(1),
		PriceTick:   decimal.New(1, -int32(s.PricePrecision)),
		MinVolume:   decimal.New(1, -int32(s.QuantityPrecision)),
		StopSupport: true,
		HistoryData: true,
	}
	if pf := s.PriceFilter(); pf != nil && dec(pf.TickSize).IsPositive() {
		c.PriceTick = dec(pf.TickSize)
	}
	if lf := s.LotSizeFilter(); lf != nil && dec(lf.StepSize).IsPositive() {
		c.MinVolume = dec(lf.StepSize)
	}
	return c
}

func convertOrder(o *futures.Order) types.OrderData {
	return types.OrderData{
		Symbol:    o.Symbol,
		Exchange:  types.ExchangeBinance,
		OrderID:   strconv.FormatInt(o.OrderID, 10),
		LocalID:   o.ClientOrderID,
		Type:      mapOrderType(o.Type),
		Direction: mapSide(o.Side),
		Offset:    types.OffsetNone,
		Price:     dec(o.Price),
		Volume:    dec(o.OrigQuantity),
		Traded:    dec(o.ExecutedQuantity),
		Status:    mapStatus(o.Status),
		Datetime:  msTime(o.Time),
	}
}

func convertPosition(p *futures.PositionRisk) types.PositionData {
	return types.PositionData{
		Symbol:    p.Symbol,
		Exchange:  types.ExchangeBinance,
		Direction: types.DirectionNet,
		Volume:    dec(p.PositionAmt),
		Price:     dec(p.EntryPrice),
		PnL:       dec(p.UnRealizedProfit),
	}
}

func convertOrderUpdate(u futures.WsOrderTradeUpdate) types.OrderData {
	return types.OrderData{
		Symbol:    u.Symbol,
		Exchange:  types.ExchangeBinance,
		OrderID:   strconv.FormatInt(u.ID, 10),
		LocalID:   u.ClientOrderID,
		Type:      mapOrderType(u.Type),
		Direction: mapSide(u.Side),
		Offset:    types.OffsetNone,
		Price:     dec(u.OriginalPrice),
		Volume:    dec(u.OriginalQty),
		Traded:    dec(u.AccumulatedFilledQty),
		Status:    mapStatus(u.Status),
		Datetime:  msTime(u.TradeTime),
	}
}

// convertTradeUpdate 只在 ExecutionType 为 TRADE 时返回成交。
func convertTradeUpdate(u futures.WsOrderTradeUpdate) (types.TradeData, bool) {
	if u.ExecutionType != futures.OrderExecutionTypeTrade {
		return types.TradeData{}, false
	}
	return types.TradeData{
		Symbol:    u.Symbol,
		Exchange:  types.ExchangeBinance,
		OrderID:   strconv.FormatInt(u.ID, 10),
		TradeID:   strconv.FormatInt(u.TradeID, 10),
		Direction: mapSide(u.Side),
		Offset:    types.OffsetNone,
		Price:     dec(u.LastFilledPrice),
		Volume:    dec(u.LastFilledQty),
		Datetime:  msTime(u.TradeTime),
	}, true
}

func convertBookTicker(ev *futures.WsBookTickerEvent) (types.TickData, bool) {
	if ev == nil || ev.Symbol == "" {
		return types.TickData{}, false
	}
	bid, ask := dec(ev.BestBidPrice), dec(ev.BestAskPrice)
	tick := types.TickData{
		Symbol:     strings.ToUpper(ev.Symbol),
		Exchange:   types.ExchangeBinance,
		Datetime:   msTime(ev.Time),
		BidPrice1:  bid,
		BidVolume1: dec(ev.BestBidQty),
		AskPrice1:  ask,
		AskVolume1: dec(ev.BestAskQty),
		LastPrice:  bid.Add(ask).Div(decimal.NewFromInt(2)),
	}
	if tick.Datetime.IsZero() {
		tick.Datetime = time.Now()
	}
	return tick, true
}

// classifyCode 按 Binance 错误码分类。
func classifyCode(code int64) gateway.Category {
	switch {
	case code == -1003 || code == -1015:
		return gateway.CategoryRateLimit
	case code == -1022 || code == -2014 || code == -2015 || code == -1002:
		return gateway.CategoryAuth
	case code == -1001 || code == -1007 || code == -1006:
		return gateway.CategoryNetwork
	case code <= -1100 && code >= -1199, code == -2010, code == -2011, code == -2013, code <= -4000 && code >= -4999:
		return gateway.CategoryValidation
	default:
		return gateway.CategoryUnknown
	}
}

// wrapErr 把 SDK 的 APIError 转成 VenueError；其它错误原样返回，由 Classify 处理。
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &gateway.VenueError{
			Category: classifyCode(apiErr.Code),
			Code:     int(apiErr.Code),
			Message:  apiErr.Message,
			Err:      err,
		}
	}
	return err
}
