package gateway

import (
	"context"
	"fmt"
	"sort"

	"tradehub/internal/pkg/retry"
	"tradehub/internal/types"
)

type HistoryManager struct {
	gw *Gateway
}

// Query 直接返回 K 线，不经过事件总线。网络类错误按策略重试。
func (m *HistoryManager) Query(ctx context.Context, req types.HistoryRequest) ([]types.BarData, error) {
	if req.Symbol == "" || req.Exchange == "" {
		return nil, fmt.Errorf("%w: symbol and exchange required", ErrInvalidRequest)
	}
	if !req.End.IsZero() && req.End.Before(req.Start) {
		return nil, fmt.Errorf("%w: end before start", ErrInvalidRequest)
	}
	if !m.gw.connected() {
		return nil, ErrNotConnected
	}
	var bars []types.BarData
	err := retry.Do(ctx, m.gw.policy.config(nil), func(ctx context.Context) error {
		var err error
		bars, err = m.gw.venue.FetchBars(ctx, req)
		return err
	})
	if err != nil {
		m.gw.OnLog(fmt.Sprintf("query history %s failed (%s): %v", req.VTSymbol(), Classify(err), err))
		return nil, err
	}
	for i := range bars {
		bars[i].GatewayName = m.gw.name
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Datetime.Before(bars[j].Datetime) })
	return bars, nil
}
