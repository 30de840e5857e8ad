package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Payload 是所有可以挂在事件上的领域对象。
type Payload interface {
	Kind() Kind
}

// VTSymbol 拼出 "{symbol}.{exchange}"。
func VTSymbol(symbol string, exchange Exchange) string {
	return symbol + "." + string(exchange)
}

// ParseVTSymbol splits on the last dot, so symbols that contain dots survive.
func ParseVTSymbol(vtSymbol string) (string, Exchange, error) {
	idx := strings.LastIndex(vtSymbol, ".")
	if idx <= 0 || idx == len(vtSymbol)-1 {
		return "", "", fmt.Errorf("invalid vt_symbol %q", vtSymbol)
	}
	return vtSymbol[:idx], Exchange(vtSymbol[idx+1:]), nil
}

// VTID 拼出 "{gateway}.{id}"，订单/成交/账户共用。
func VTID(gateway, id string) string {
	return gateway + "." + id
}

func VTPositionID(gateway, vtSymbol string, direction Direction) string {
	return gateway + "." + vtSymbol + "." + string(direction)
}

type TickData struct {
	GatewayName string          `json:"gateway_name"`
	Symbol      string          `json:"symbol"`
	Exchange    Exchange        `json:"exchange"`
	Datetime    time.Time       `json:"datetime"`
	LastPrice   decimal.Decimal `json:"last_price"`
	LastVolume  decimal.Decimal `json:"last_volume"`
	Volume      decimal.Decimal `json:"volume"`
	BidPrice1   decimal.Decimal `json:"bid_price_1"`
	BidVolume1  decimal.Decimal `json:"bid_volume_1"`
	AskPrice1   decimal.Decimal `json:"ask_price_1"`
	AskVolume1  decimal.Decimal `json:"ask_volume_1"`
}

func (TickData) Kind() Kind { return KindTick }

func (t TickData) VTSymbol() string { return VTSymbol(t.Symbol, t.Exchange) }

type BarData struct {
	GatewayName string          `json:"gateway_name"`
	Symbol      string          `json:"symbol"`
	Exchange    Exchange        `json:"exchange"`
	Interval    Interval        `json:"interval"`
	Datetime    time.Time       `json:"datetime"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
}

func (BarData) Kind() Kind { return KindBar }

func (b BarData) VTSymbol() string { return VTSymbol(b.Symbol, b.Exchange) }

// OrderData 是订单快照。OrderID 是当前可用的最佳 id（先本地，后交易所），
// LocalID 保留适配器分配的本地 id，交易所确认后 OMS 据此撤掉本地别名。
type OrderData struct {
	GatewayName string          `json:"gateway_name"`
	Symbol      string          `json:"symbol"`
	Exchange    Exchange        `json:"exchange"`
	OrderID     string          `json:"orderid"`
	LocalID     string          `json:"local_id,omitempty"`
	Type        OrderType       `json:"type"`
	Direction   Direction       `json:"direction"`
	Offset      Offset          `json:"offset"`
	Price       decimal.Decimal `json:"price"`
	Volume      decimal.Decimal `json:"volume"`
	Traded      decimal.Decimal `json:"traded"`
	Status      Status          `json:"status"`
	Datetime    time.Time       `json:"datetime"`
	Reference   string          `json:"reference,omitempty"`
}

func (OrderData) Kind() Kind { return KindOrder }

func (o OrderData) VTSymbol() string  { return VTSymbol(o.Symbol, o.Exchange) }
func (o OrderData) VTOrderID() string { return VTID(o.GatewayName, o.OrderID) }

// VTLocalID returns "" when the order never had a distinct local id.
func (o OrderData) VTLocalID() string {
	if o.LocalID == "" || o.LocalID == o.OrderID {
		return ""
	}
	return VTID(o.GatewayName, o.LocalID)
}

func (o OrderData) IsActive() bool { return o.Status.Active() }

// CreateCancelRequest 由订单快照生成撤单请求。
func (o OrderData) CreateCancelRequest() CancelRequest {
	return CancelRequest{OrderID: o.OrderID, Symbol: o.Symbol, Exchange: o.Exchange}
}

type TradeData struct {
	GatewayName string          `json:"gateway_name"`
	Symbol      string          `json:"symbol"`
	Exchange    Exchange        `json:"exchange"`
	OrderID     string          `json:"orderid"`
	LocalID     string          `json:"localid,omitempty"`
	TradeID     string          `json:"tradeid"`
	Direction   Direction       `json:"direction"`
	Offset      Offset          `json:"offset"`
	Price       decimal.Decimal `json:"price"`
	Volume      decimal.Decimal `json:"volume"`
	Datetime    time.Time       `json:"datetime"`
}

func (TradeData) Kind() Kind { return KindTrade }

func (t TradeData) VTSymbol() string  { return VTSymbol(t.Symbol, t.Exchange) }
func (t TradeData) VTOrderID() string { return VTID(t.GatewayName, t.OrderID) }
func (t TradeData) VTTradeID() string { return VTID(t.GatewayName, t.TradeID) }

// VTLocalID 与 OrderData.VTLocalID 相同，未知或与 OrderID 相同时为空。
func (t TradeData) VTLocalID() string {
	if t.LocalID == "" || t.LocalID == t.OrderID {
		return ""
	}
	return VTID(t.GatewayName, t.LocalID)
}

type PositionData struct {
	GatewayName string          `json:"gateway_name"`
	Symbol      string          `json:"symbol"`
	Exchange    Exchange        `json:"exchange"`
	Direction   Direction       `json:"direction"`
	Volume      decimal.Decimal `json:"volume"`
	Frozen      decimal.Decimal `json:"frozen"`
	Price       decimal.Decimal `json:"price"`
	PnL         decimal.Decimal `json:"pnl"`
	YdVolume    decimal.Decimal `json:"yd_volume"`
}

func (PositionData) Kind() Kind { return KindPosition }

func (p PositionData) VTSymbol() string { return VTSymbol(p.Symbol, p.Exchange) }
func (p PositionData) VTPositionID() string {
	return VTPositionID(p.GatewayName, p.VTSymbol(), p.Direction)
}

type AccountData struct {
	GatewayName string          `json:"gateway_name"`
	AccountID   string          `json:"accountid"`
	Balance     decimal.Decimal `json:"balance"`
	Frozen      decimal.Decimal `json:"frozen"`
}

func (AccountData) Kind() Kind { return KindAccount }

func (a AccountData) Available() decimal.Decimal { return a.Balance.Sub(a.Frozen) }
func (a AccountData) VTAccountID() string        { return VTID(a.GatewayName, a.AccountID) }

type ContractData struct {
	GatewayName string          `json:"gateway_name"`
	Symbol      string          `json:"symbol"`
	Exchange    Exchange        `json:"exchange"`
	Name        string          `json:"name"`
	Product     Product         `json:"product"`
	Size        decimal.Decimal `json:"size"`
	PriceTick   decimal.Decimal `json:"pricetick"`
	MinVolume   decimal.Decimal `json:"min_volume"`
	StopSupport bool            `json:"stop_supported"`
	HistoryData bool            `json:"history_data"`
}

func (ContractData) Kind() Kind { return KindContract }

func (c ContractData) VTSymbol() string { return VTSymbol(c.Symbol, c.Exchange) }

type LogData struct {
	GatewayName string    `json:"gateway_name"`
	Msg         string    `json:"msg"`
	Level       string    `json:"level"`
	Time        time.Time `json:"time"`
}

func (LogData) Kind() Kind { return KindLog }

// NewLog 默认 INFO 级别，时间取当前。
func NewLog(gateway, msg string) LogData {
	return LogData{GatewayName: gateway, Msg: msg, Level: "INFO", Time: time.Now()}
}

// GatewayStatus 在每次连接状态变化时发布。
type GatewayStatus struct {
	GatewayName string    `json:"gateway_name"`
	State       ConnState `json:"state"`
	Reason      string    `json:"reason,omitempty"`
	Time        time.Time `json:"time"`
}

func (GatewayStatus) Kind() Kind { return KindGateway }

type TimerData struct {
	Time time.Time `json:"time"`
}

func (TimerData) Kind() Kind { return KindTimer }
