// Package gateway 定义交易场所适配器的统一外观：连接、下单、订阅、查询和断线重连。
// 具体场所只需实现 Venue，所有状态更新都经由 Gateway 发布到事件总线。
package gateway

import (
	"context"

	"tradehub/internal/types"
)

// Settings 是连接参数，按场所的 JSON schema 校验。
type Settings map[string]any

// Venue 是场所的线协议实现。Fetch* 只返回数据，不发布事件。
type Venue interface {
	Exchanges() []types.Exchange
	SettingsSchema() string

	Dial(ctx context.Context, settings Settings) error
	Close() error

	FetchContracts(ctx context.Context) ([]types.ContractData, error)
	FetchAccounts(ctx context.Context) ([]types.AccountData, error)
	FetchPositions(ctx context.Context) ([]types.PositionData, error)
	FetchOpenOrders(ctx context.Context) ([]types.OrderData, error)
	FetchBars(ctx context.Context, req types.HistoryRequest) ([]types.BarData, error)

	// PlaceOrder 以 localID 作为客户端订单号下单，返回场所订单号。
	PlaceOrder(ctx context.Context, localID string, req types.OrderRequest) (string, error)
	CancelOrder(ctx context.Context, req types.CancelRequest) error
	SubscribeTicks(ctx context.Context, req types.SubscribeRequest) error
}

// VenueListener 接收场所推送。实现方可在任意 goroutine 调用。
// OnOrder 的 OrderID 应为场所订单号，LocalID 为下单时的客户端订单号。
type VenueListener interface {
	OnTick(types.TickData)
	OnOrder(types.OrderData)
	OnTrade(types.TradeData)
	OnPosition(types.PositionData)
	OnAccount(types.AccountData)
	OnDisconnect(err error)
}

// VenueFactory 为名为 gatewayName 的网关创建场所实例。
type VenueFactory func(gatewayName string, listener VenueListener) Venue

// Adapter 是 MainEngine 路由命令的目标。
type Adapter interface {
	Name() string
	Exchanges() []types.Exchange
	SettingsSchema() string
	State() types.ConnState

	Connect(ctx context.Context, settings Settings) error
	Close() error

	SendOrder(ctx context.Context, req types.OrderRequest) (string, error)
	CancelOrder(ctx context.Context, req types.CancelRequest) error
	Subscribe(ctx context.Context, req types.SubscribeRequest) error
	QueryAccount(ctx context.Context) error
	QueryPosition(ctx context.Context) error
	QueryHistory(ctx context.Context, req types.HistoryRequest) ([]types.BarData, error)
}
