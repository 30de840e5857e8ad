package alpaca

import (
	"context"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tradehub/internal/gateway"
	"tradehub/internal/logger"
	"tradehub/internal/types"
)

// runTradeUpdates 流结束且未被主动取消时上报断线。
func (v *Venue) runTradeUpdates(ctx context.Context, client *alpaca.Client) {
	err := client.StreamTradeUpdates(ctx, v.handleTradeUpdate, alpaca.StreamTradeUpdatesRequest{})
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = gateway.NewVenueError(gateway.CategoryNetwork, "trade update stream closed", nil)
	}
	v.listener.OnDisconnect(wrapErr(err))
}

func (v *Venue) handleTradeUpdate(u alpaca.TradeUpdate) {
	ex := v.exchangeOf(u.Order.Symbol)
	order := convertOrder(u.Order, map[string]types.Exchange{u.Order.Symbol: ex})
	order.LocalID = v.localID(u.Order.ClientOrderID)
	if trade, ok := convertTradeUpdate(u, ex); ok {
		trade.LocalID = order.LocalID
		v.listener.OnTrade(trade)
	}
	v.listener.OnOrder(order)
}

// pollQuotes 按配置间隔批量拉取最新报价。失败只计数，不影响连接状态。
func (v *Venue) pollQuotes(ctx context.Context, data *marketdata.Client, cfg Config) {
	ticker := time.NewTicker(cfg.QuotePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		symbols, exchanges := v.quotedSymbols()
		if len(symbols) == 0 || data == nil {
			continue
		}
		quotes, err := data.GetLatestQuotes(symbols, marketdata.GetLatestQuoteRequest{Feed: cfg.Feed})
		if err != nil {
			v.mu.Lock()
			v.pollErrors++
			n := v.pollErrors
			v.mu.Unlock()
			if n == 1 || n%30 == 0 {
				logger.Warnf("[alpaca] %s latest quotes failed (%d): %v", v.name, n, err)
			}
			continue
		}
		for _, sym := range symbols {
			q, ok := quotes[sym]
			if !ok || ctx.Err() != nil {
				continue
			}
			v.listener.OnTick(convertQuote(sym, exchanges[sym], q))
		}
	}
}
