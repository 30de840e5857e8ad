package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradehub/internal/logger"
	"tradehub/internal/pkg/retry"
	"tradehub/internal/types"
)

// Client 协调各个管理器，按需懒加载；管理器之间不互相引用。
type Client struct {
	gw *Gateway

	mu        sync.Mutex
	accounts  *AccountManager
	orders    *OrderManager
	market    *MarketDataManager
	contracts *ContractManager
	history   *HistoryManager
}

func newClient(gw *Gateway) *Client {
	return &Client{gw: gw}
}

func (c *Client) Accounts() *AccountManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accounts == nil {
		c.accounts = &AccountManager{gw: c.gw}
	}
	return c.accounts
}

func (c *Client) Orders() *OrderManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.orders == nil {
		c.orders = &OrderManager{gw: c.gw}
	}
	return c.orders
}

func (c *Client) MarketData() *MarketDataManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.market == nil {
		c.market = &MarketDataManager{gw: c.gw}
	}
	return c.market
}

func (c *Client) Contracts() *ContractManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.contracts == nil {
		c.contracts = &ContractManager{gw: c.gw}
	}
	return c.contracts
}

func (c *Client) History() *HistoryManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.history == nil {
		c.history = &HistoryManager{gw: c.gw}
	}
	return c.history
}

// snapshot 是一次初始加载的结果，全部成功后才发布。
type snapshot struct {
	contracts []types.ContractData
	accounts  []types.AccountData
	positions []types.PositionData
	orders    []types.OrderData
}

// dialAndLoad 拨号并拉取合约、账户、持仓、挂单，整体按重试策略重试。
// 拉取失败时先关闭连接再重试，保证不会留下半连接。
func (c *Client) dialAndLoad(ctx context.Context, settings Settings) (snapshot, error) {
	var snap snapshot
	cfg := c.gw.policy.config(func(attempt int, err error, delay time.Duration) {
		c.gw.OnLog(fmt.Sprintf("connect attempt %d failed (%s): %v, retry in %v", attempt, Classify(err), err, delay))
	})
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		if err := c.gw.venue.Dial(ctx, settings); err != nil {
			return err
		}
		loaded, err := c.load(ctx)
		if err != nil {
			if cerr := c.gw.venue.Close(); cerr != nil {
				logger.Warnf("Gateway %s: close after failed load: %v", c.gw.name, cerr)
			}
			return err
		}
		snap = loaded
		return nil
	})
	return snap, err
}

func (c *Client) load(ctx context.Context) (snapshot, error) {
	var snap snapshot
	var err error
	if snap.contracts, err = c.Contracts().fetch(ctx); err != nil {
		return snap, fmt.Errorf("load contracts: %w", err)
	}
	if snap.accounts, err = c.Accounts().fetchAccounts(ctx); err != nil {
		return snap, fmt.Errorf("load accounts: %w", err)
	}
	if snap.positions, err = c.Accounts().fetchPositions(ctx); err != nil {
		return snap, fmt.Errorf("load positions: %w", err)
	}
	if snap.orders, err = c.Orders().fetchOpen(ctx); err != nil {
		return snap, fmt.Errorf("load open orders: %w", err)
	}
	return snap, nil
}

func (c *Client) publishSnapshot(snap snapshot) {
	for _, ct := range snap.contracts {
		c.gw.OnContract(ct)
	}
	for _, acc := range snap.accounts {
		c.gw.OnAccount(acc)
	}
	for _, pos := range snap.positions {
		c.gw.OnPosition(pos)
	}
	for _, o := range snap.orders {
		c.gw.OnOrder(o)
	}
}
