package livehttp

import (
	"context"

	"tradehub/internal/event"
	"tradehub/internal/gateway"
	"tradehub/internal/store/journal"
	"tradehub/internal/types"
)

// Engine 是 HTTP 层依赖的主引擎能力。
type Engine interface {
	GetAllGatewayNames() []string
	GetGateway(name string) (gateway.Adapter, error)

	GetOrder(vtOrderID string) (types.OrderData, bool)
	GetAllOrders() []types.OrderData
	GetActiveOrders(vtSymbol string) []types.OrderData
	GetAllTrades() []types.TradeData
	GetAllPositions() []types.PositionData
	GetAllAccounts() []types.AccountData
	GetAllContracts() []types.ContractData
	GetTick(vtSymbol string) (types.TickData, bool)

	SendOrder(ctx context.Context, req types.OrderRequest, name string) (string, error)
	CancelOrder(ctx context.Context, req types.CancelRequest, name string) error
	Subscribe(ctx context.Context, req types.SubscribeRequest, name string) error
}

// EventSource 供 /ws 订阅全部事件。
type EventSource interface {
	SubscribeGeneral(fn event.HandlerFunc) event.Subscription
	UnsubscribeGeneral(sub event.Subscription) bool
}

// Journal 是可选的历史查询。
type Journal interface {
	Orders(ctx context.Context, limit int) ([]journal.OrderRecord, error)
	Trades(ctx context.Context, limit int) ([]journal.TradeRecord, error)
	Logs(ctx context.Context, limit int) ([]journal.LogRecord, error)
}

// GatewayView 是 /api/gateways 的单项。
type GatewayView struct {
	Name          string                   `json:"name"`
	State         string                   `json:"state"`
	Exchanges     []types.Exchange         `json:"exchanges"`
	Subscriptions []types.SubscribeRequest `json:"subscriptions,omitempty"`
	Breaker       string                   `json:"breaker,omitempty"`
}

type cancelBody struct {
	VTOrderID string `json:"vt_orderid" binding:"required"`
}

// wireEvent 是 /ws 推送的 JSON 帧。
type wireEvent struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Kind    types.Kind    `json:"kind,omitempty"`
	Time    int64         `json:"ts"`
	Payload types.Payload `json:"payload,omitempty"`
}
