package gateway

import (
	"context"

	"tradehub/internal/types"
)

type ContractManager struct {
	gw *Gateway
}

func (m *ContractManager) fetch(ctx context.Context) ([]types.ContractData, error) {
	return m.gw.venue.FetchContracts(ctx)
}

// Reload 重新拉取合约并发布。
func (m *ContractManager) Reload(ctx context.Context) error {
	if !m.gw.connected() {
		return ErrNotConnected
	}
	contracts, err := m.fetch(ctx)
	if err != nil {
		return err
	}
	for _, c := range contracts {
		m.gw.OnContract(c)
	}
	return nil
}
