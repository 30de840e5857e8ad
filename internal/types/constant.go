package types

// Status 是订单生命周期状态。
type Status string

const (
	StatusSubmitting Status = "SUBMITTING"
	StatusNotTraded  Status = "NOTTRADED"
	StatusPartTraded Status = "PARTTRADED"
	StatusAllTraded  Status = "ALLTRADED"
	StatusCancelled  Status = "CANCELLED"
	StatusRejected   Status = "REJECTED"
)

// Active reports whether an order in this status can still change.
func (s Status) Active() bool {
	switch s {
	case StatusSubmitting, StatusNotTraded, StatusPartTraded:
		return true
	default:
		return false
	}
}

// Terminal is the complement of Active for known statuses.
func (s Status) Terminal() bool {
	switch s {
	case StatusAllTraded, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	return s.Active() || s.Terminal()
}

var transitions = map[Status][]Status{
	StatusSubmitting: {StatusNotTraded, StatusRejected},
	StatusNotTraded:  {StatusPartTraded, StatusAllTraded, StatusCancelled},
	StatusPartTraded: {StatusAllTraded, StatusCancelled},
}

// CanTransition checks the order lifecycle table. A same-status update of an
// active order is a refresh (e.g. more traded volume) and is allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return from.Active()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Direction 是订单/持仓方向。
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionNet   Direction = "NET"
)

// Offset 开平标志，多数数字货币/美股场所用 NONE。
type Offset string

const (
	OffsetNone  Offset = "NONE"
	OffsetOpen  Offset = "OPEN"
	OffsetClose Offset = "CLOSE"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeStop   OrderType = "STOP"
)

// Exchange 标识交易场所，拼接在 VT 代码里。
type Exchange string

const (
	ExchangeBinance Exchange = "BINANCE"
	ExchangeNasdaq  Exchange = "NASDAQ"
	ExchangeNYSE    Exchange = "NYSE"
	ExchangeArca    Exchange = "ARCA"
	ExchangeAmex    Exchange = "AMEX"
	ExchangeOTC     Exchange = "OTC"
	ExchangeLocal   Exchange = "LOCAL"
)

type Product string

const (
	ProductSpot    Product = "SPOT"
	ProductFutures Product = "FUTURES"
	ProductSwap    Product = "SWAP"
	ProductEquity  Product = "EQUITY"
	ProductETF     Product = "ETF"
)

type Interval string

const (
	IntervalMinute Interval = "1m"
	IntervalHour   Interval = "1h"
	IntervalDaily  Interval = "d"
	IntervalWeekly Interval = "w"
)

// ConnState 是适配器连接状态机的状态。
type ConnState int32

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
)

func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "DISCONNECTED"
	case ConnConnecting:
		return "CONNECTING"
	case ConnConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Kind tags a payload so handlers can type-switch without inspecting the
// event type string.
type Kind string

const (
	KindTick     Kind = "tick"
	KindOrder    Kind = "order"
	KindTrade    Kind = "trade"
	KindPosition Kind = "position"
	KindAccount  Kind = "account"
	KindContract Kind = "contract"
	KindLog      Kind = "log"
	KindTimer    Kind = "timer"
	KindGateway  Kind = "gateway"
	KindBar      Kind = "bar"
)
