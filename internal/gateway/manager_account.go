package gateway

import (
	"context"
	"fmt"

	"tradehub/internal/types"
)

// AccountManager 负责账户与持仓查询。
type AccountManager struct {
	gw *Gateway
}

func (m *AccountManager) fetchAccounts(ctx context.Context) ([]types.AccountData, error) {
	return m.gw.venue.FetchAccounts(ctx)
}

func (m *AccountManager) fetchPositions(ctx context.Context) ([]types.PositionData, error) {
	return m.gw.venue.FetchPositions(ctx)
}

// QueryAccounts 拉取账户并以事件发布，返回值只表示请求是否被接受。
func (m *AccountManager) QueryAccounts(ctx context.Context) error {
	if !m.gw.connected() {
		return ErrNotConnected
	}
	accounts, err := m.fetchAccounts(ctx)
	if err != nil {
		m.gw.OnLog(fmt.Sprintf("query account failed (%s): %v", Classify(err), err))
		return err
	}
	for _, acc := range accounts {
		m.gw.OnAccount(acc)
	}
	return nil
}

func (m *AccountManager) QueryPositions(ctx context.Context) error {
	if !m.gw.connected() {
		return ErrNotConnected
	}
	positions, err := m.fetchPositions(ctx)
	if err != nil {
		m.gw.OnLog(fmt.Sprintf("query position failed (%s): %v", Classify(err), err))
		return err
	}
	for _, pos := range positions {
		m.gw.OnPosition(pos)
	}
	return nil
}
