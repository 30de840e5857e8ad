package oms

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradehub/internal/event"
	"tradehub/internal/types"
)

const flushType = "test.flush"

func newBus(t *testing.T) *event.Engine {
	t.Helper()
	bus := event.NewEngine(event.WithTimerInterval(time.Hour))
	bus.Start()
	t.Cleanup(bus.Stop)
	return bus
}

// flush 等待之前发布的事件全部分发完毕（单队列 FIFO）。
func flush(t *testing.T, bus *event.Engine) {
	t.Helper()
	done := make(chan struct{})
	sub := bus.Subscribe(flushType, func(event.Event) error { close(done); return nil })
	defer bus.Unsubscribe(sub)
	require.NoError(t, bus.Publish(event.New(flushType, types.TimerData{})))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("flush timed out")
	}
}

func publishOrder(t *testing.T, bus *event.Engine, o types.OrderData) {
	t.Helper()
	require.NoError(t, event.PublishDual(bus, event.EventOrder, o.VTOrderID(), o))
}

func btcOrder(status types.Status) types.OrderData {
	return types.OrderData{
		GatewayName: "BINANCE",
		Symbol:      "BTCUSDT",
		Exchange:    types.ExchangeBinance,
		OrderID:     "98765",
		LocalID:     "1",
		Type:        types.OrderTypeLimit,
		Direction:   types.DirectionLong,
		Price:       decimal.NewFromInt(30000),
		Volume:      decimal.NewFromInt(1),
		Traded:      decimal.Zero,
		Status:      status,
	}
}

func activeIDs(orders []types.OrderData) []string {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.VTOrderID())
	}
	return ids
}

func TestStore_SubmitAckFill(t *testing.T) {
	bus := newBus(t)
	store := NewStore(bus)

	submitting := btcOrder(types.StatusSubmitting)
	submitting.OrderID = "1"
	publishOrder(t, bus, submitting)
	flush(t, bus)

	assert.True(t, store.IsActive("BINANCE.1"))
	assert.Equal(t, []string{"BINANCE.1"}, activeIDs(store.GetActiveOrders("")))

	publishOrder(t, bus, btcOrder(types.StatusNotTraded))
	flush(t, bus)

	assert.Equal(t, []string{"BINANCE.98765"}, activeIDs(store.GetActiveOrders("BTCUSDT.BINANCE")))
	byLocal, ok := store.GetOrder("BINANCE.1")
	require.True(t, ok)
	assert.Equal(t, "98765", byLocal.OrderID)
	assert.Len(t, store.GetAllOrders(), 1)

	trade := types.TradeData{
		GatewayName: "BINANCE",
		Symbol:      "BTCUSDT",
		Exchange:    types.ExchangeBinance,
		OrderID:     "98765",
		TradeID:     "t1",
		Direction:   types.DirectionLong,
		Price:       decimal.NewFromInt(30000),
		Volume:      decimal.NewFromInt(1),
	}
	filled := btcOrder(types.StatusAllTraded)
	filled.Traded = decimal.NewFromInt(1)
	publishOrder(t, bus, filled)
	require.NoError(t, event.PublishDual(bus, event.EventTrade, trade.VTSymbol(), trade))
	flush(t, bus)

	assert.Empty(t, store.GetActiveOrders(""))
	assert.False(t, store.IsActive("BINANCE.98765"))
	final, ok := store.GetOrder("BINANCE.98765")
	require.True(t, ok)
	assert.Equal(t, types.StatusAllTraded, final.Status)
	got, ok := store.GetTrade("BINANCE.t1")
	require.True(t, ok)
	assert.True(t, got.Volume.Equal(decimal.NewFromInt(1)))
	assert.Zero(t, store.Violations())
}

func TestStore_TerminalIsIdempotent(t *testing.T) {
	bus := newBus(t)
	store := NewStore(bus)

	publishOrder(t, bus, btcOrder(types.StatusNotTraded))
	publishOrder(t, bus, btcOrder(types.StatusCancelled))
	publishOrder(t, bus, btcOrder(types.StatusCancelled))
	publishOrder(t, bus, btcOrder(types.StatusPartTraded))
	flush(t, bus)

	o, ok := store.GetOrder("BINANCE.98765")
	require.True(t, ok)
	assert.Equal(t, types.StatusCancelled, o.Status)
	assert.Empty(t, store.GetActiveOrders(""))
	assert.EqualValues(t, 1, store.Violations())
}

func TestStore_IllegalTransitionIgnored(t *testing.T) {
	bus := newBus(t)
	store := NewStore(bus)

	submitting := btcOrder(types.StatusSubmitting)
	submitting.OrderID = "1"
	publishOrder(t, bus, submitting)
	publishOrder(t, bus, btcOrder(types.StatusAllTraded))
	flush(t, bus)

	o, ok := store.GetOrder("BINANCE.1")
	require.True(t, ok)
	assert.Equal(t, types.StatusSubmitting, o.Status)
	assert.True(t, store.IsActive("BINANCE.1"))
	_, ok = store.GetOrder("BINANCE.98765")
	assert.False(t, ok)
	assert.EqualValues(t, 1, store.Violations())
}

func TestStore_MalformedOrderSkipped(t *testing.T) {
	bus := newBus(t)
	store := NewStore(bus)

	publishOrder(t, bus, btcOrder("BOGUS"))
	noID := btcOrder(types.StatusNotTraded)
	noID.OrderID = ""
	noID.LocalID = ""
	publishOrder(t, bus, noID)
	flush(t, bus)

	assert.Empty(t, store.GetAllOrders())
	assert.EqualValues(t, 2, store.Violations())

	publishOrder(t, bus, btcOrder(types.StatusNotTraded))
	flush(t, bus)
	o, ok := store.GetOrder("BINANCE.98765")
	require.True(t, ok)
	assert.Equal(t, types.StatusNotTraded, o.Status)
	assert.True(t, store.IsActive("BINANCE.98765"))
	assert.EqualValues(t, 2, store.Violations())
}

func TestStore_TradeResolvesThroughLocalID(t *testing.T) {
	bus := newBus(t)
	store := NewStore(bus)

	submitting := btcOrder(types.StatusSubmitting)
	submitting.OrderID = "1"
	publishOrder(t, bus, submitting)
	// 成交推送早于下单确认，只能靠本地单号找到订单
	trade := types.TradeData{
		GatewayName: "BINANCE", Symbol: "BTCUSDT", Exchange: types.ExchangeBinance,
		OrderID: "98765", LocalID: "1", TradeID: "t1",
		Price: decimal.NewFromInt(30000), Volume: decimal.NewFromInt(1),
	}
	require.NoError(t, bus.Publish(event.New(event.EventTrade, trade)))
	flush(t, bus)

	_, ok := store.GetTrade("BINANCE.t1")
	assert.True(t, ok)
	assert.Zero(t, store.DroppedTrades())
}

func TestStore_PartialFillRefresh(t *testing.T) {
	bus := newBus(t)
	store := NewStore(bus)

	publishOrder(t, bus, btcOrder(types.StatusNotTraded))
	part := btcOrder(types.StatusPartTraded)
	part.Traded = decimal.RequireFromString("0.4")
	publishOrder(t, bus, part)
	part.Traded = decimal.RequireFromString("0.7")
	publishOrder(t, bus, part)
	flush(t, bus)

	o, _ := store.GetOrder("BINANCE.98765")
	assert.Equal(t, "0.7", o.Traded.String())
	assert.True(t, store.IsActive("BINANCE.98765"))
}

func TestStore_UnknownOrderTradeDropped(t *testing.T) {
	bus := newBus(t)
	store := NewStore(bus)

	trade := types.TradeData{GatewayName: "SIM", Symbol: "AAPL", Exchange: types.ExchangeNasdaq, OrderID: "nope", TradeID: "x"}
	require.NoError(t, bus.Publish(event.New(event.EventTrade, trade)))
	flush(t, bus)

	assert.Empty(t, store.GetAllTrades())
	assert.EqualValues(t, 1, store.DroppedTrades())
}

func TestStore_LastWriteWins(t *testing.T) {
	bus := newBus(t)
	store := NewStore(bus)

	for i := 1; i <= 3; i++ {
		tick := types.TickData{GatewayName: "BINANCE", Symbol: "BTCUSDT", Exchange: types.ExchangeBinance, LastPrice: decimal.NewFromInt(int64(i))}
		require.NoError(t, bus.Publish(event.New(event.EventTick, tick)))
	}
	pos := types.PositionData{GatewayName: "BINANCE", Symbol: "BTCUSDT", Exchange: types.ExchangeBinance, Direction: types.DirectionNet, Volume: decimal.NewFromInt(2)}
	acc := types.AccountData{GatewayName: "BINANCE", AccountID: "USDT", Balance: decimal.NewFromInt(1000)}
	con := types.ContractData{GatewayName: "BINANCE", Symbol: "BTCUSDT", Exchange: types.ExchangeBinance, Product: types.ProductSwap}
	require.NoError(t, bus.Publish(event.New(event.EventPosition, pos)))
	require.NoError(t, bus.Publish(event.New(event.EventAccount, acc)))
	require.NoError(t, bus.Publish(event.New(event.EventContract, con)))
	flush(t, bus)

	tick, ok := store.GetTick("BTCUSDT.BINANCE")
	require.True(t, ok)
	assert.Equal(t, "3", tick.LastPrice.String())
	assert.Len(t, store.GetAllTicks(), 1)

	_, ok = store.GetPosition("BINANCE.BTCUSDT.BINANCE.NET")
	assert.True(t, ok)
	_, ok = store.GetAccount("BINANCE.USDT")
	assert.True(t, ok)
	_, ok = store.GetContract("BTCUSDT.BINANCE")
	assert.True(t, ok)
	assert.Len(t, store.GetAllPositions(), 1)
	assert.Len(t, store.GetAllAccounts(), 1)
	assert.Len(t, store.GetAllContracts(), 1)
}

func TestStore_ActiveIndexMatchesOrders(t *testing.T) {
	bus := newBus(t)
	store := NewStore(bus)

	statuses := []types.Status{types.StatusNotTraded, types.StatusPartTraded, types.StatusCancelled, types.StatusAllTraded}
	for i, st := range statuses {
		o := btcOrder(types.StatusNotTraded)
		o.OrderID = string(rune('a' + i))
		o.LocalID = ""
		publishOrder(t, bus, o)
		if st != types.StatusNotTraded {
			o.Status = st
			publishOrder(t, bus, o)
		}
	}
	flush(t, bus)

	var want []string
	for _, o := range store.GetAllOrders() {
		if o.IsActive() {
			want = append(want, o.VTOrderID())
		}
	}
	assert.ElementsMatch(t, want, activeIDs(store.GetActiveOrders("")))
	assert.Len(t, want, 2)
}
