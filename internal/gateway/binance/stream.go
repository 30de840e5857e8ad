package binance

import (
	"context"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"tradehub/internal/gateway"
	"tradehub/internal/logger"
	"tradehub/internal/types"
)

// runUserStream 只服务一次：流结束且未被主动取消时上报断线，由网关负责重连。
func (v *Venue) runUserStream(ctx context.Context, client *futures.Client, listenKey string) {
	var errMu sync.Mutex
	var lastErr error
	handler := func(ev *futures.WsUserDataEvent) {
		if ev == nil {
			return
		}
		v.handleUserData(ev)
	}
	errHandler := func(err error) {
		if err == nil {
			return
		}
		errMu.Lock()
		lastErr = err
		errMu.Unlock()
	}
	doneC, stopC, err := futures.WsUserDataServe(listenKey, handler, errHandler)
	if err != nil {
		v.recordSubscribeError(err)
		if ctx.Err() == nil {
			v.listener.OnDisconnect(gateway.NewVenueError(gateway.CategoryNetwork, "user data stream", err))
		}
		return
	}
	select {
	case <-ctx.Done():
		close(stopC)
		<-doneC
		return
	case <-doneC:
	}
	close(stopC)
	errMu.Lock()
	cause := lastErr
	errMu.Unlock()
	v.recordReconnect(cause)
	if ctx.Err() != nil {
		return
	}
	if cause == nil {
		cause = gateway.NewVenueError(gateway.CategoryNetwork, "user data stream closed", nil)
	}
	v.listener.OnDisconnect(cause)
}

func (v *Venue) handleUserData(ev *futures.WsUserDataEvent) {
	switch ev.Event {
	case futures.UserDataEventTypeOrderTradeUpdate:
		u := ev.OrderTradeUpdate
		order := convertOrderUpdate(u)
		order.LocalID = v.localID(u.ClientOrderID)
		if trade, ok := convertTradeUpdate(u); ok {
			trade.LocalID = order.LocalID
			v.listener.OnTrade(trade)
		}
		v.listener.OnOrder(order)
	case futures.UserDataEventTypeAccountUpdate:
		for _, b := range ev.AccountUpdate.Balances {
			v.listener.OnAccount(types.AccountData{
				AccountID: b.Asset,
				Balance:   dec(b.Balance),
			})
		}
		for _, p := range ev.AccountUpdate.Positions {
			v.listener.OnPosition(types.PositionData{
				Symbol:    p.Symbol,
				Exchange:  types.ExchangeBinance,
				Direction: types.DirectionNet,
				Volume:    dec(p.Amount),
				Price:     dec(p.EntryPrice),
				PnL:       dec(p.UnrealizedPnL),
			})
		}
	}
}

// runBookTickerLoop 行情流自行重连（1s 起翻倍，封顶 30s），不影响网关连接状态。
func (v *Venue) runBookTickerLoop(ctx context.Context, symbol string) {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		var errMu sync.Mutex
		var lastErr error
		handler := func(ev *futures.WsBookTickerEvent) {
			tick, ok := convertBookTicker(ev)
			if !ok || ctx.Err() != nil {
				return
			}
			v.listener.OnTick(tick)
		}
		errHandler := func(err error) {
			if err == nil {
				return
			}
			errMu.Lock()
			lastErr = err
			errMu.Unlock()
		}
		doneC, stopC, err := futures.WsBookTickerServe(symbol, handler, errHandler)
		if err != nil {
			v.recordSubscribeError(err)
			logger.Warnf("[binance] bookTicker %s subscribe failed: %v", symbol, err)
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
		}
		close(stopC)
		errMu.Lock()
		errCopy := lastErr
		errMu.Unlock()
		v.recordReconnect(errCopy)
		logger.Warnf("[binance] bookTicker %s stream closed: %v", symbol, errCopy)
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return time.Second
	}
	next := current * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}

func (v *Venue) recordSubscribeError(err error) {
	if err == nil {
		return
	}
	v.statsMu.Lock()
	v.stats.SubscribeErrors++
	v.stats.LastError = err.Error()
	v.statsMu.Unlock()
}

func (v *Venue) recordReconnect(err error) {
	v.statsMu.Lock()
	v.stats.Reconnects++
	if err != nil && err.Error() != "" {
		v.stats.LastError = err.Error()
	}
	v.statsMu.Unlock()
}
