package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradehub/internal/event"
	"tradehub/internal/gateway"
	"tradehub/internal/gateway/sim"
	"tradehub/internal/types"
)

func simGateway(name string, bus event.Publisher) gateway.Adapter {
	return gateway.New(name, bus, sim.Factory, gateway.WithRetryPolicy(gateway.RetryPolicy{
		MaxAttempts:   2,
		NetworkBase:   time.Millisecond,
		RateLimitBase: time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
	}))
}

func newMainEngine(t *testing.T) *MainEngine {
	t.Helper()
	me := NewMainEngine(event.WithTimerInterval(time.Hour))
	t.Cleanup(func() { _ = me.Close() })
	return me
}

func TestAddGatewayRejectsDuplicate(t *testing.T) {
	me := newMainEngine(t)
	_, err := me.AddGateway("SIM", simGateway)
	require.NoError(t, err)
	_, err = me.AddGateway("SIM", simGateway)
	assert.ErrorIs(t, err, ErrDuplicateGateway)
	assert.Equal(t, []string{"SIM"}, me.GetAllGatewayNames())
	assert.Equal(t, []types.Exchange{types.ExchangeBinance, types.ExchangeNasdaq}, me.GetAllExchanges())
}

func TestRoutedOperationsUnknownGateway(t *testing.T) {
	me := newMainEngine(t)
	ctx := context.Background()
	var unknown *UnknownGatewayError

	errs := []error{
		me.Connect(ctx, gateway.Settings{}, "NOPE"),
		me.CancelOrder(ctx, types.CancelRequest{OrderID: "1"}, "NOPE"),
		me.Subscribe(ctx, types.SubscribeRequest{Symbol: "BTCUSDT", Exchange: types.ExchangeBinance}, "NOPE"),
		me.QueryAccount(ctx, "NOPE"),
		me.QueryPosition(ctx, "NOPE"),
	}
	_, err := me.SendOrder(ctx, types.OrderRequest{}, "NOPE")
	errs = append(errs, err)
	_, err = me.QueryHistory(ctx, types.HistoryRequest{}, "NOPE")
	errs = append(errs, err)
	_, err = me.GetDefaultSetting("NOPE")
	errs = append(errs, err)

	for i, err := range errs {
		require.True(t, errors.As(err, &unknown), "case %d: %v", i, err)
		assert.Equal(t, "NOPE", unknown.Name)
	}
}

func TestOrderLifecycleThroughMainEngine(t *testing.T) {
	me := newMainEngine(t)
	_, err := me.AddGateway("SIM", simGateway)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, me.Connect(ctx, gateway.Settings{"account_id": "acc", "auto_fill": true}, "SIM"))
	require.Eventually(t, func() bool {
		_, ok := me.GetContract("BTCUSDT.BINANCE")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	vtOrderID, err := me.SendOrder(ctx, types.OrderRequest{
		Symbol:    "BTCUSDT",
		Exchange:  types.ExchangeBinance,
		Direction: types.DirectionLong,
		Type:      types.OrderTypeLimit,
		Volume:    decimal.NewFromInt(2),
		Price:     decimal.NewFromInt(30000),
	}, "SIM")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		o, ok := me.GetOrder(vtOrderID)
		return ok && o.Status == types.StatusAllTraded
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, me.GetActiveOrders(""))
	require.Len(t, me.GetAllTrades(), 1)
	pos, ok := me.GetPosition("SIM.BTCUSDT.BINANCE.NET")
	require.True(t, ok)
	assert.True(t, pos.Volume.Equal(decimal.NewFromInt(2)))
}

func TestWriteLogPublishesLogEvent(t *testing.T) {
	me := newMainEngine(t)
	var mu sync.Mutex
	var got []types.LogData
	me.Bus().Subscribe(event.EventLog, func(evt event.Event) error {
		mu.Lock()
		got = append(got, evt.Payload.(types.LogData))
		mu.Unlock()
		return nil
	})

	me.WriteLog("hello", "MAIN")
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0].Msg == "hello" && got[0].GatewayName == "MAIN"
	}, time.Second, 5*time.Millisecond)
}

func TestCloseStopsGatewaysAndBus(t *testing.T) {
	me := NewMainEngine(event.WithTimerInterval(time.Hour))
	gw, err := me.AddGateway("SIM", simGateway)
	require.NoError(t, err)
	require.NoError(t, me.Connect(context.Background(), gateway.Settings{}, "SIM"))
	assert.Equal(t, types.ConnConnected, gw.State())

	require.NoError(t, me.Close())
	assert.Equal(t, types.ConnDisconnected, gw.State())
	assert.False(t, me.Bus().Running())
	require.NoError(t, me.Close())

	err = me.Bus().Publish(event.New(event.EventLog, types.NewLog("x", "y")))
	assert.ErrorIs(t, err, event.ErrEngineStopped)
}
