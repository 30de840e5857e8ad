package gateway

import (
	"context"
	"fmt"

	"tradehub/internal/metrics"
	"tradehub/internal/types"
)

// OrderManager 负责下单、撤单和挂单查询。
type OrderManager struct {
	gw *Gateway
}

func validateOrder(req types.OrderRequest) error {
	if req.Symbol == "" || req.Exchange == "" {
		return fmt.Errorf("%w: symbol and exchange required", ErrInvalidRequest)
	}
	if !req.Volume.IsPositive() {
		return fmt.Errorf("%w: volume must be positive", ErrInvalidRequest)
	}
	if req.Type == types.OrderTypeLimit && !req.Price.IsPositive() {
		return fmt.Errorf("%w: limit order needs a positive price", ErrInvalidRequest)
	}
	return nil
}

// Send 分配本地 id，先发布 SUBMITTING，再调用场所。
// 成功后发布带场所 id 的 NOTTRADED（保留 LocalID），失败发布 REJECTED 和日志。
// 两种情况都返回本地 vt_orderid，状态库通过别名解析到场所 id。
func (m *OrderManager) Send(ctx context.Context, req types.OrderRequest) (string, error) {
	gw := m.gw
	localID := gw.nextLocalID()
	order := req.CreateOrderData(localID, gw.name)
	gw.OnOrder(order)
	metrics.Orders.WithLabelValues(gw.name, "submitted").Inc()

	venueID, err := m.place(ctx, localID, req)
	if err != nil {
		order.Status = types.StatusRejected
		gw.OnOrder(order)
		gw.OnLog(fmt.Sprintf("order %s rejected (%s): %v", order.VTOrderID(), Classify(err), err))
		metrics.Orders.WithLabelValues(gw.name, "rejected").Inc()
		return order.VTOrderID(), err
	}

	ack := order
	if venueID != "" {
		ack.OrderID = venueID
	}
	ack.Status = types.StatusNotTraded
	gw.OnOrder(ack)
	metrics.Orders.WithLabelValues(gw.name, "accepted").Inc()
	return order.VTOrderID(), nil
}

func (m *OrderManager) place(ctx context.Context, localID string, req types.OrderRequest) (string, error) {
	if err := validateOrder(req); err != nil {
		return "", err
	}
	if !m.gw.connected() {
		return "", ErrNotConnected
	}
	var venueID string
	err := m.gw.breaker.Do(func() error {
		id, err := m.gw.venue.PlaceOrder(ctx, localID, req)
		venueID = id
		return err
	})
	return venueID, err
}

// Cancel 的结果以订单事件返回。
func (m *OrderManager) Cancel(ctx context.Context, req types.CancelRequest) error {
	if !m.gw.connected() {
		m.gw.OnLog(fmt.Sprintf("cancel %s refused: not connected", req.OrderID))
		return ErrNotConnected
	}
	err := m.gw.breaker.Do(func() error {
		return m.gw.venue.CancelOrder(ctx, req)
	})
	if err != nil {
		m.gw.OnLog(fmt.Sprintf("cancel %s failed (%s): %v", req.OrderID, Classify(err), err))
	}
	return err
}

func (m *OrderManager) fetchOpen(ctx context.Context) ([]types.OrderData, error) {
	return m.gw.venue.FetchOpenOrders(ctx)
}
