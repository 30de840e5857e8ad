package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tradehub/internal/event"
	"tradehub/internal/logger"
	"tradehub/internal/metrics"
	"tradehub/internal/pkg/circuit"
	"tradehub/internal/types"
)

type Option func(*Gateway)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(g *Gateway) { g.policy = p }
}

// WithBreaker 配置下单/撤单熔断；threshold<=0 关闭熔断。
func WithBreaker(threshold int, cooldown time.Duration) Option {
	return func(g *Gateway) {
		g.breakerThreshold = threshold
		g.breakerCooldown = cooldown
	}
}

// Gateway 是 Adapter 的通用实现，把 Venue 包装成事件驱动的外观。
// 管理器只通过 On* 方法发布事件，相互之间不直接调用。
type Gateway struct {
	name   string
	bus    event.Publisher
	venue  Venue
	client *Client
	policy RetryPolicy

	breakerThreshold int
	breakerCooldown  time.Duration
	breaker          *circuit.Breaker

	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error

	state    atomic.Int32
	localSeq atomic.Uint64

	// connMu 串行化 Connect/Close/重连的状态切换。
	connMu sync.Mutex

	mu        sync.Mutex
	settings  Settings
	wanted    bool
	subs      map[string]types.SubscribeRequest
	reconnect *reconnectRun
}

// New 创建网关外观；factory 以该网关作为 VenueListener 构造场所。
func New(name string, bus event.Publisher, factory VenueFactory, opts ...Option) *Gateway {
	g := &Gateway{
		name:             name,
		bus:              bus,
		policy:           DefaultRetryPolicy(),
		breakerThreshold: 5,
		breakerCooldown:  30 * time.Second,
		subs:             make(map[string]types.SubscribeRequest),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.breaker = circuit.New(name, g.breakerThreshold, g.breakerCooldown,
		circuit.WithFailureFilter(func(err error) bool {
			return Classify(err) != CategoryValidation
		}))
	g.venue = factory(name, g)
	g.client = newClient(g)
	g.state.Store(int32(types.ConnDisconnected))
	metrics.GatewayState.WithLabelValues(name).Set(float64(types.ConnDisconnected))
	return g
}

func (g *Gateway) Name() string                { return g.name }
func (g *Gateway) Exchanges() []types.Exchange { return g.venue.Exchanges() }
func (g *Gateway) SettingsSchema() string      { return g.venue.SettingsSchema() }
func (g *Gateway) State() types.ConnState      { return types.ConnState(g.state.Load()) }
func (g *Gateway) Client() *Client             { return g.client }
func (g *Gateway) BreakerState() circuit.State { return g.breaker.State() }
func (g *Gateway) RetryPolicy() RetryPolicy    { return g.policy }

// Subscriptions 返回已记住的订阅，按 vt_symbol 排序。
func (g *Gateway) Subscriptions() []types.SubscribeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]types.SubscribeRequest, 0, len(g.subs))
	for _, req := range g.subs {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VTSymbol() < out[j].VTSymbol() })
	return out
}

// ValidateSettings 按场所 schema 校验，失败返回 Validation 分类错误。
func (g *Gateway) ValidateSettings(settings Settings) error {
	g.schemaOnce.Do(func() {
		g.schema, g.schemaErr = CompileSchema(g.venue.SettingsSchema())
	})
	if g.schemaErr != nil {
		return NewVenueError(CategoryValidation, "settings schema", g.schemaErr)
	}
	if err := ValidateAgainst(g.schema, settings); err != nil {
		return NewVenueError(CategoryValidation, err.Error(), err)
	}
	return nil
}

// Connect 校验参数、拨号并完成初始加载；任一步失败都不会发布部分状态。
func (g *Gateway) Connect(ctx context.Context, settings Settings) error {
	if err := g.ValidateSettings(settings); err != nil {
		g.OnLog(fmt.Sprintf("invalid connect settings: %v", err))
		return &ConnectionError{Gateway: g.name, Err: err}
	}
	g.stopReconnect()

	g.connMu.Lock()
	defer g.connMu.Unlock()
	switch g.State() {
	case types.ConnConnected:
		g.OnLog("already connected")
		return nil
	case types.ConnConnecting:
		return &ConnectionError{Gateway: g.name, Err: ErrConnectInProgress}
	}

	g.setState(types.ConnConnecting, "connect")
	snap, err := g.client.dialAndLoad(ctx, settings)
	if err != nil {
		g.setState(types.ConnDisconnected, err.Error())
		g.OnLog(fmt.Sprintf("connect failed (%s): %v", Classify(err), err))
		return &ConnectionError{Gateway: g.name, Err: err}
	}

	g.mu.Lock()
	g.settings = settings
	g.wanted = true
	g.mu.Unlock()

	g.client.publishSnapshot(snap)
	g.setState(types.ConnConnected, "")
	g.OnLog(fmt.Sprintf("connected: %d contracts, %d accounts, %d positions, %d open orders",
		len(snap.contracts), len(snap.accounts), len(snap.positions), len(snap.orders)))
	return nil
}

// Close 幂等：中止进行中的重连，关闭场所连接。先切换状态，
// 这样场所在关闭过程中回调 OnDisconnect 不会被当成意外断线。
func (g *Gateway) Close() error {
	g.mu.Lock()
	g.wanted = false
	g.mu.Unlock()
	g.stopReconnect()

	g.connMu.Lock()
	defer g.connMu.Unlock()
	// 断线后重连被放弃时状态已是 DISCONNECTED，但场所可能仍持有流，照样关闭
	wasUp := g.State() != types.ConnDisconnected
	g.setState(types.ConnDisconnected, "closed")
	err := g.venue.Close()
	if wasUp {
		g.OnLog("disconnected")
	}
	return err
}

func (g *Gateway) SendOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	return g.client.Orders().Send(ctx, req)
}

func (g *Gateway) CancelOrder(ctx context.Context, req types.CancelRequest) error {
	return g.client.Orders().Cancel(ctx, req)
}

func (g *Gateway) Subscribe(ctx context.Context, req types.SubscribeRequest) error {
	return g.client.MarketData().Subscribe(ctx, req)
}

func (g *Gateway) QueryAccount(ctx context.Context) error {
	return g.client.Accounts().QueryAccounts(ctx)
}

func (g *Gateway) QueryPosition(ctx context.Context) error {
	return g.client.Accounts().QueryPositions(ctx)
}

func (g *Gateway) QueryHistory(ctx context.Context, req types.HistoryRequest) ([]types.BarData, error) {
	return g.client.History().Query(ctx, req)
}

func (g *Gateway) nextLocalID() string {
	return strconv.FormatUint(g.localSeq.Add(1), 10)
}

func (g *Gateway) connected() bool {
	return g.State() == types.ConnConnected
}

func (g *Gateway) setState(state types.ConnState, reason string) {
	prev := types.ConnState(g.state.Swap(int32(state)))
	if prev == state {
		return
	}
	g.announce(prev, state, reason)
}

func (g *Gateway) publish(typ, instance string, payload types.Payload) {
	if err := event.PublishDual(g.bus, typ, instance, payload); err != nil {
		if errors.Is(err, event.ErrEngineStopped) {
			logger.Debugf("Gateway %s: drop %s after engine stop", g.name, typ)
			return
		}
		logger.Warnf("Gateway %s: publish %s failed: %v", g.name, typ, err)
	}
}

// OnTick 及以下方法是发布事件的唯一出口，统一补全网关名。
func (g *Gateway) OnTick(tick types.TickData) {
	tick.GatewayName = g.name
	g.publish(event.EventTick, tick.VTSymbol(), tick)
}

func (g *Gateway) OnOrder(order types.OrderData) {
	order.GatewayName = g.name
	if order.OrderID == "" {
		order.OrderID = order.LocalID
	}
	g.publish(event.EventOrder, order.VTOrderID(), order)
}

func (g *Gateway) OnTrade(trade types.TradeData) {
	trade.GatewayName = g.name
	g.publish(event.EventTrade, trade.VTSymbol(), trade)
}

func (g *Gateway) OnPosition(pos types.PositionData) {
	pos.GatewayName = g.name
	g.publish(event.EventPosition, pos.VTSymbol(), pos)
}

func (g *Gateway) OnAccount(acc types.AccountData) {
	acc.GatewayName = g.name
	g.publish(event.EventAccount, acc.VTAccountID(), acc)
}

func (g *Gateway) OnContract(c types.ContractData) {
	c.GatewayName = g.name
	g.publish(event.EventContract, c.VTSymbol(), c)
}

func (g *Gateway) OnLog(msg string) {
	if err := g.bus.Publish(event.New(event.EventLog, types.NewLog(g.name, msg))); err != nil {
		logger.Infof("Gateway %s: %s", g.name, msg)
	}
}
