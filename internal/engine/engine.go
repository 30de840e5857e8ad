// Package engine 组装事件总线、OMS 与各网关，对外提供按网关名路由的统一入口。
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"

	"tradehub/internal/event"
	"tradehub/internal/gateway"
	"tradehub/internal/logger"
	"tradehub/internal/oms"
	"tradehub/internal/types"
)

// GatewayConstructor 按名称创建网关，网关通过 bus 发布事件。
type GatewayConstructor func(name string, bus event.Publisher) gateway.Adapter

// MainEngine 内嵌 OMS，查询方法直接可用。
type MainEngine struct {
	*oms.Store

	bus *event.Engine
	log *LogEngine

	mu        sync.RWMutex
	gateways  map[string]gateway.Adapter
	exchanges map[types.Exchange]struct{}
	closed    bool
}

// NewMainEngine 创建并启动事件总线。
func NewMainEngine(opts ...event.Option) *MainEngine {
	bus := event.NewEngine(opts...)
	me := &MainEngine{
		bus:       bus,
		gateways:  make(map[string]gateway.Adapter),
		exchanges: make(map[types.Exchange]struct{}),
	}
	me.Store = oms.NewStore(bus)
	me.log = NewLogEngine(bus)
	bus.Start()
	return me
}

func (me *MainEngine) Bus() *event.Engine { return me.bus }

// AddGateway 注册网关，名称重复时返回 ErrDuplicateGateway。
func (me *MainEngine) AddGateway(name string, ctor GatewayConstructor) (gateway.Adapter, error) {
	if ctor == nil {
		return nil, errors.New("nil gateway constructor")
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	if _, ok := me.gateways[name]; ok {
		return nil, ErrDuplicateGateway
	}
	gw := ctor(name, me.bus)
	me.gateways[name] = gw
	for _, ex := range gw.Exchanges() {
		me.exchanges[ex] = struct{}{}
	}
	logger.Infof("gateway %s registered, exchanges=%v", name, gw.Exchanges())
	return gw, nil
}

func (me *MainEngine) GetGateway(name string) (gateway.Adapter, error) {
	me.mu.RLock()
	defer me.mu.RUnlock()
	gw, ok := me.gateways[name]
	if !ok {
		return nil, &UnknownGatewayError{Name: name}
	}
	return gw, nil
}

// GetAllGatewayNames 按名称排序。
func (me *MainEngine) GetAllGatewayNames() []string {
	me.mu.RLock()
	defer me.mu.RUnlock()
	names := make([]string, 0, len(me.gateways))
	for name := range me.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (me *MainEngine) GetAllExchanges() []types.Exchange {
	me.mu.RLock()
	defer me.mu.RUnlock()
	out := make([]types.Exchange, 0, len(me.exchanges))
	for ex := range me.exchanges {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (me *MainEngine) GetDefaultSetting(name string) (string, error) {
	gw, err := me.GetGateway(name)
	if err != nil {
		return "", err
	}
	return gw.SettingsSchema(), nil
}

func (me *MainEngine) Connect(ctx context.Context, settings gateway.Settings, name string) error {
	gw, err := me.GetGateway(name)
	if err != nil {
		return err
	}
	return gw.Connect(ctx, settings)
}

// SendOrder 返回 vt_orderid。
func (me *MainEngine) SendOrder(ctx context.Context, req types.OrderRequest, name string) (string, error) {
	gw, err := me.GetGateway(name)
	if err != nil {
		return "", err
	}
	return gw.SendOrder(ctx, req)
}

func (me *MainEngine) CancelOrder(ctx context.Context, req types.CancelRequest, name string) error {
	gw, err := me.GetGateway(name)
	if err != nil {
		return err
	}
	return gw.CancelOrder(ctx, req)
}

func (me *MainEngine) Subscribe(ctx context.Context, req types.SubscribeRequest, name string) error {
	gw, err := me.GetGateway(name)
	if err != nil {
		return err
	}
	return gw.Subscribe(ctx, req)
}

func (me *MainEngine) QueryAccount(ctx context.Context, name string) error {
	gw, err := me.GetGateway(name)
	if err != nil {
		return err
	}
	return gw.QueryAccount(ctx)
}

func (me *MainEngine) QueryPosition(ctx context.Context, name string) error {
	gw, err := me.GetGateway(name)
	if err != nil {
		return err
	}
	return gw.QueryPosition(ctx)
}

func (me *MainEngine) QueryHistory(ctx context.Context, req types.HistoryRequest, name string) ([]types.BarData, error) {
	gw, err := me.GetGateway(name)
	if err != nil {
		return nil, err
	}
	return gw.QueryHistory(ctx, req)
}

// WriteLog 以 source 作为网关名发布 EVENT_LOG。
func (me *MainEngine) WriteLog(msg, source string) {
	if err := me.bus.Publish(event.New(event.EventLog, types.NewLog(source, msg))); err != nil {
		logger.Debugf("write log dropped: %v", err)
	}
}

// Close 先关闭所有网关再停总线，重复调用无副作用。
func (me *MainEngine) Close() error {
	me.mu.Lock()
	if me.closed {
		me.mu.Unlock()
		return nil
	}
	me.closed = true
	gws := make([]gateway.Adapter, 0, len(me.gateways))
	for _, gw := range me.gateways {
		gws = append(gws, gw)
	}
	me.mu.Unlock()

	var errs []error
	for _, gw := range gws {
		if err := gw.Close(); err != nil {
			logger.Warnf("close gateway %s: %v", gw.Name(), err)
			errs = append(errs, err)
		}
	}
	me.log.Close()
	me.bus.Stop()
	return errors.Join(errs...)
}
