package gateway

import (
	"context"
	"fmt"

	"tradehub/internal/types"
)

// MarketDataManager 负责行情订阅，并记住订阅以便重连后恢复。
type MarketDataManager struct {
	gw *Gateway
}

func (m *MarketDataManager) Subscribe(ctx context.Context, req types.SubscribeRequest) error {
	if req.Symbol == "" || req.Exchange == "" {
		return fmt.Errorf("%w: symbol and exchange required", ErrInvalidRequest)
	}
	if !m.gw.connected() {
		return ErrNotConnected
	}
	if err := m.gw.venue.SubscribeTicks(ctx, req); err != nil {
		m.gw.OnLog(fmt.Sprintf("subscribe %s failed (%s): %v", req.VTSymbol(), Classify(err), err))
		return err
	}
	m.gw.mu.Lock()
	m.gw.subs[req.VTSymbol()] = req
	m.gw.mu.Unlock()
	return nil
}

// resubscribe 对每个已记住的订阅各调用一次场所，失败只记日志。
func (m *MarketDataManager) resubscribe(ctx context.Context) int {
	ok := 0
	for _, req := range m.gw.Subscriptions() {
		if err := m.gw.venue.SubscribeTicks(ctx, req); err != nil {
			m.gw.OnLog(fmt.Sprintf("resubscribe %s failed: %v", req.VTSymbol(), err))
			continue
		}
		ok++
	}
	return ok
}
