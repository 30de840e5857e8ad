// Package oms 维护订单、成交、持仓、账户、合约和行情的最新状态。
package oms

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"tradehub/internal/event"
	"tradehub/internal/logger"
	"tradehub/internal/metrics"
	"tradehub/internal/types"
)

// Subscriber 是 Store 需要的总线能力。
type Subscriber interface {
	Subscribe(typ string, fn event.HandlerFunc) event.Subscription
}

// Store 只通过总线事件更新；所有读取返回值拷贝。
type Store struct {
	mu sync.RWMutex

	ticks        map[string]types.TickData
	orders       map[string]types.OrderData
	trades       map[string]types.TradeData
	positions    map[string]types.PositionData
	accounts     map[string]types.AccountData
	contracts    map[string]types.ContractData
	activeOrders map[string]struct{}
	// local vt_orderid -> venue vt_orderid
	aliases map[string]string

	violations    atomic.Uint64
	droppedTrades atomic.Uint64
}

// NewStore 在 bus 上为每个通用事件类型各注册一次。
func NewStore(bus Subscriber) *Store {
	s := &Store{
		ticks:        make(map[string]types.TickData),
		orders:       make(map[string]types.OrderData),
		trades:       make(map[string]types.TradeData),
		positions:    make(map[string]types.PositionData),
		accounts:     make(map[string]types.AccountData),
		contracts:    make(map[string]types.ContractData),
		activeOrders: make(map[string]struct{}),
		aliases:      make(map[string]string),
	}
	bus.Subscribe(event.EventTick, s.processTick)
	bus.Subscribe(event.EventOrder, s.processOrder)
	bus.Subscribe(event.EventTrade, s.processTrade)
	bus.Subscribe(event.EventPosition, s.processPosition)
	bus.Subscribe(event.EventAccount, s.processAccount)
	bus.Subscribe(event.EventContract, s.processContract)
	return s
}

func unexpected(evt event.Event) error {
	return fmt.Errorf("oms: unexpected payload %T for %s", evt.Payload, evt.Type)
}

func (s *Store) processTick(evt event.Event) error {
	tick, ok := evt.Payload.(types.TickData)
	if !ok {
		return unexpected(evt)
	}
	s.mu.Lock()
	s.ticks[tick.VTSymbol()] = tick
	s.mu.Unlock()
	return nil
}

func (s *Store) processPosition(evt event.Event) error {
	pos, ok := evt.Payload.(types.PositionData)
	if !ok {
		return unexpected(evt)
	}
	s.mu.Lock()
	s.positions[pos.VTPositionID()] = pos
	s.mu.Unlock()
	return nil
}

func (s *Store) processAccount(evt event.Event) error {
	acc, ok := evt.Payload.(types.AccountData)
	if !ok {
		return unexpected(evt)
	}
	s.mu.Lock()
	s.accounts[acc.VTAccountID()] = acc
	s.mu.Unlock()
	return nil
}

func (s *Store) processContract(evt event.Event) error {
	c, ok := evt.Payload.(types.ContractData)
	if !ok {
		return unexpected(evt)
	}
	s.mu.Lock()
	s.contracts[c.VTSymbol()] = c
	s.mu.Unlock()
	return nil
}

func (s *Store) processOrder(evt event.Event) error {
	order, ok := evt.Payload.(types.OrderData)
	if !ok {
		return unexpected(evt)
	}
	if err := s.applyOrder(order); err != nil {
		s.violations.Add(1)
		metrics.StateViolations.Inc()
		logger.Warnf("OMS: %v (ignored)", err)
	}
	return nil
}

// applyOrder 按生命周期表合并订单更新。返回 *StateConsistencyError 时不修改任何状态。
func (s *Store) applyOrder(order types.OrderData) error {
	id := order.VTOrderID()
	local := order.VTLocalID()
	switch {
	case order.OrderID == "":
		return &StateConsistencyError{VTOrderID: id, To: order.Status, Reason: "empty order id"}
	case !order.Status.Valid():
		return &StateConsistencyError{VTOrderID: id, To: order.Status, Reason: fmt.Sprintf("unknown status %q", order.Status)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, known := s.orders[id]
	migrating := false
	if !known && local != "" {
		if p, ok := s.orders[local]; ok {
			prev, known, migrating = p, true, true
		}
	}

	if known {
		if prev.Status.Terminal() {
			if prev.Status == order.Status {
				return nil
			}
			return &StateConsistencyError{VTOrderID: id, From: prev.Status, To: order.Status}
		}
		if !types.CanTransition(prev.Status, order.Status) {
			return &StateConsistencyError{VTOrderID: id, From: prev.Status, To: order.Status}
		}
	}

	if migrating {
		delete(s.orders, local)
		delete(s.activeOrders, local)
	}
	if local != "" {
		s.aliases[local] = id
	}
	s.orders[id] = order
	if order.IsActive() {
		s.activeOrders[id] = struct{}{}
	} else {
		delete(s.activeOrders, id)
	}
	return nil
}

func (s *Store) processTrade(evt event.Event) error {
	trade, ok := evt.Payload.(types.TradeData)
	if !ok {
		return unexpected(evt)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found := s.resolveOrder(trade.VTOrderID())
	if !found && trade.VTLocalID() != "" {
		_, found = s.resolveOrder(trade.VTLocalID())
	}
	if !found {
		s.droppedTrades.Add(1)
		logger.Warnf("OMS: trade %s references unknown order %s, dropped", trade.VTTradeID(), trade.VTOrderID())
		return nil
	}
	s.trades[trade.VTTradeID()] = trade
	return nil
}

// resolveOrder 需持有锁。
func (s *Store) resolveOrder(vtOrderID string) (types.OrderData, bool) {
	if o, ok := s.orders[vtOrderID]; ok {
		return o, true
	}
	if target, ok := s.aliases[vtOrderID]; ok {
		o, ok := s.orders[target]
		return o, ok
	}
	return types.OrderData{}, false
}

// GetOrder 同时接受本地 id 和交易所 id。
func (s *Store) GetOrder(vtOrderID string) (types.OrderData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveOrder(vtOrderID)
}

func (s *Store) IsActive(vtOrderID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if target, ok := s.aliases[vtOrderID]; ok {
		vtOrderID = target
	}
	_, ok := s.activeOrders[vtOrderID]
	return ok
}

func (s *Store) GetAllOrders() []types.OrderData {
	s.mu.RLock()
	out := make([]types.OrderData, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	s.mu.RUnlock()
	sortOrders(out)
	return out
}

// GetActiveOrders 返回活动订单；vtSymbol 为空时不过滤。
func (s *Store) GetActiveOrders(vtSymbol string) []types.OrderData {
	s.mu.RLock()
	out := make([]types.OrderData, 0, len(s.activeOrders))
	for id := range s.activeOrders {
		o := s.orders[id]
		if vtSymbol != "" && o.VTSymbol() != vtSymbol {
			continue
		}
		out = append(out, o)
	}
	s.mu.RUnlock()
	sortOrders(out)
	return out
}

func sortOrders(orders []types.OrderData) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].Datetime.Equal(orders[j].Datetime) {
			return orders[i].Datetime.Before(orders[j].Datetime)
		}
		return orders[i].VTOrderID() < orders[j].VTOrderID()
	})
}

func (s *Store) GetTrade(vtTradeID string) (types.TradeData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[vtTradeID]
	return t, ok
}

func (s *Store) GetAllTrades() []types.TradeData {
	s.mu.RLock()
	out := make([]types.TradeData, 0, len(s.trades))
	for _, t := range s.trades {
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Datetime.Equal(out[j].Datetime) {
			return out[i].Datetime.Before(out[j].Datetime)
		}
		return out[i].VTTradeID() < out[j].VTTradeID()
	})
	return out
}

func (s *Store) GetPosition(vtPositionID string) (types.PositionData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[vtPositionID]
	return p, ok
}

func (s *Store) GetAllPositions() []types.PositionData {
	s.mu.RLock()
	out := make([]types.PositionData, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].VTPositionID() < out[j].VTPositionID() })
	return out
}

func (s *Store) GetAccount(vtAccountID string) (types.AccountData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[vtAccountID]
	return a, ok
}

func (s *Store) GetAllAccounts() []types.AccountData {
	s.mu.RLock()
	out := make([]types.AccountData, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].VTAccountID() < out[j].VTAccountID() })
	return out
}

func (s *Store) GetTick(vtSymbol string) (types.TickData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.ticks[vtSymbol]
	return t, ok
}

func (s *Store) GetAllTicks() []types.TickData {
	s.mu.RLock()
	out := make([]types.TickData, 0, len(s.ticks))
	for _, t := range s.ticks {
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].VTSymbol() < out[j].VTSymbol() })
	return out
}

func (s *Store) GetContract(vtSymbol string) (types.ContractData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[vtSymbol]
	return c, ok
}

func (s *Store) GetAllContracts() []types.ContractData {
	s.mu.RLock()
	out := make([]types.ContractData, 0, len(s.contracts))
	for _, c := range s.contracts {
		out = append(out, c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].VTSymbol() < out[j].VTSymbol() })
	return out
}

// Violations 返回被忽略的非法订单更新次数。
func (s *Store) Violations() uint64 { return s.violations.Load() }

// DroppedTrades 返回因订单未知而丢弃的成交数。
func (s *Store) DroppedTrades() uint64 { return s.droppedTrades.Load() }
