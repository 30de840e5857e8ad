package gateway_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradehub/internal/event"
	"tradehub/internal/gateway"
	"tradehub/internal/gateway/sim"
	"tradehub/internal/oms"
	"tradehub/internal/pkg/circuit"
	"tradehub/internal/types"
)

var fastPolicy = gateway.RetryPolicy{
	MaxAttempts:   3,
	NetworkBase:   time.Millisecond,
	RateLimitBase: 2 * time.Millisecond,
	MaxDelay:      10 * time.Millisecond,
}

type harness struct {
	bus   *event.Engine
	store *oms.Store
	gw    *gateway.Gateway
	venue *sim.Venue

	mu       sync.Mutex
	logs     []string
	statuses []types.ConnState
	orders   []types.OrderData
}

func newHarness(t *testing.T, opts ...gateway.Option) *harness {
	t.Helper()
	bus := event.NewEngine(event.WithTimerInterval(time.Hour))
	bus.Start()
	t.Cleanup(bus.Stop)

	h := &harness{bus: bus, store: oms.NewStore(bus)}
	opts = append([]gateway.Option{gateway.WithRetryPolicy(fastPolicy)}, opts...)
	h.gw = gateway.New("BINANCE", bus, func(name string, l gateway.VenueListener) gateway.Venue {
		h.venue = sim.New(name, l)
		return h.venue
	}, opts...)
	t.Cleanup(func() { _ = h.gw.Close() })

	bus.Subscribe(event.EventLog, func(evt event.Event) error {
		h.mu.Lock()
		h.logs = append(h.logs, evt.Payload.(types.LogData).Msg)
		h.mu.Unlock()
		return nil
	})
	bus.Subscribe(event.EventGateway, func(evt event.Event) error {
		h.mu.Lock()
		h.statuses = append(h.statuses, evt.Payload.(types.GatewayStatus).State)
		h.mu.Unlock()
		return nil
	})
	bus.Subscribe(event.EventOrder, func(evt event.Event) error {
		h.mu.Lock()
		h.orders = append(h.orders, evt.Payload.(types.OrderData))
		h.mu.Unlock()
		return nil
	})
	return h
}

func (h *harness) flush(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	sub := h.bus.Subscribe("test.flush", func(event.Event) error { close(done); return nil })
	defer h.bus.Unsubscribe(sub)
	require.NoError(t, h.bus.Publish(event.New("test.flush", types.TimerData{})))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("flush timed out")
	}
}

func (h *harness) logCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.logs)
}

func (h *harness) orderStatuses() []types.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.Status, 0, len(h.orders))
	for _, o := range h.orders {
		out = append(out, o.Status)
	}
	return out
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, h.gw.Connect(context.Background(), gateway.Settings{"account_id": "acc-1"}))
	h.flush(t)
}

func btcLimit(volume, price int64) types.OrderRequest {
	return types.OrderRequest{
		Symbol:    "BTCUSDT",
		Exchange:  types.ExchangeBinance,
		Direction: types.DirectionLong,
		Type:      types.OrderTypeLimit,
		Volume:    decimal.NewFromInt(volume),
		Price:     decimal.NewFromInt(price),
	}
}

func TestGateway_ConnectPublishesInitialLoad(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	assert.Equal(t, types.ConnConnected, h.gw.State())
	_, ok := h.store.GetContract("BTCUSDT.BINANCE")
	assert.True(t, ok)
	acc, ok := h.store.GetAccount("BINANCE.acc-1")
	require.True(t, ok)
	assert.Equal(t, "BINANCE", acc.GatewayName)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []types.ConnState{types.ConnConnecting, types.ConnConnected}, h.statuses)
}

func TestGateway_ConnectRejectsInvalidSettings(t *testing.T) {
	h := newHarness(t)
	err := h.gw.Connect(context.Background(), gateway.Settings{"balance": -5})
	h.flush(t)

	var connErr *gateway.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, gateway.CategoryValidation, gateway.Classify(err))
	assert.Equal(t, 0, h.venue.Calls(sim.OpDial))
	assert.Equal(t, types.ConnDisconnected, h.gw.State())
	assert.Empty(t, h.store.GetAllContracts())
	assert.Positive(t, h.logCount())
}

func TestGateway_ConnectRetriesNetworkFailures(t *testing.T) {
	h := newHarness(t)
	netErr := gateway.NewVenueError(gateway.CategoryNetwork, "dial tcp: i/o timeout", nil)
	h.venue.FailNext(sim.OpDial, netErr, netErr)

	h.connect(t)
	assert.Equal(t, 3, h.venue.Calls(sim.OpDial))
	assert.Equal(t, types.ConnConnected, h.gw.State())
}

func TestGateway_ConnectDoesNotRetryAuth(t *testing.T) {
	h := newHarness(t)
	h.venue.FailNext(sim.OpDial, gateway.NewVenueError(gateway.CategoryAuth, "invalid api key", nil))

	err := h.gw.Connect(context.Background(), gateway.Settings{})
	require.Error(t, err)
	assert.Equal(t, gateway.CategoryAuth, gateway.Classify(err))
	assert.Equal(t, 1, h.venue.Calls(sim.OpDial))
	assert.Equal(t, types.ConnDisconnected, h.gw.State())
}

func TestGateway_ConnectPublishesNothingOnPartialLoad(t *testing.T) {
	h := newHarness(t)
	h.venue.FailNext(sim.OpFetchOrders, gateway.NewVenueError(gateway.CategoryAuth, "permission denied", nil))

	err := h.gw.Connect(context.Background(), gateway.Settings{})
	h.flush(t)
	require.Error(t, err)
	assert.Equal(t, 1, h.venue.Calls(sim.OpFetchContracts))
	assert.Empty(t, h.store.GetAllContracts())
	assert.Empty(t, h.store.GetAllAccounts())
	assert.False(t, h.venue.Connected())
}

func TestGateway_SubmitAckFillScenario(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.venue.SetNextOrderID(98765)

	vtOrderID, err := h.gw.SendOrder(context.Background(), btcLimit(1, 30000))
	require.NoError(t, err)
	assert.Equal(t, "BINANCE.1", vtOrderID)
	h.flush(t)

	assert.Equal(t, []types.Status{types.StatusSubmitting, types.StatusNotTraded}, h.orderStatuses())
	h.mu.Lock()
	assert.Equal(t, "BINANCE.1", h.orders[0].VTOrderID())
	h.mu.Unlock()
	active := h.store.GetActiveOrders("")
	require.Len(t, active, 1)
	assert.Equal(t, "BINANCE.98765", active[0].VTOrderID())

	var seqMu sync.Mutex
	var seq []string
	sub := h.bus.SubscribeGeneral(func(evt event.Event) error {
		if evt.Type == event.EventOrder || evt.Type == event.EventTrade {
			seqMu.Lock()
			seq = append(seq, evt.Type)
			seqMu.Unlock()
		}
		return nil
	})
	defer h.bus.UnsubscribeGeneral(sub)

	require.NoError(t, h.venue.Fill("98765", decimal.NewFromInt(1), decimal.NewFromInt(30000)))
	h.flush(t)

	seqMu.Lock()
	assert.Equal(t, []string{event.EventTrade, event.EventOrder}, seq)
	seqMu.Unlock()
	assert.Empty(t, h.store.GetActiveOrders(""))
	final, ok := h.store.GetOrder(vtOrderID)
	require.True(t, ok)
	assert.Equal(t, types.StatusAllTraded, final.Status)
	assert.Len(t, h.store.GetAllTrades(), 1)
	pos, ok := h.store.GetPosition("BINANCE.BTCUSDT.BINANCE.NET")
	require.True(t, ok)
	assert.True(t, pos.Volume.Equal(decimal.NewFromInt(1)))
}

func TestGateway_RejectedOrderPublishesRejectedAndLog(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	before := h.logCount()
	h.venue.FailNext(sim.OpPlace, gateway.NewVenueError(gateway.CategoryValidation, "insufficient margin", nil))

	vtOrderID, err := h.gw.SendOrder(context.Background(), btcLimit(1, 30000))
	require.Error(t, err)
	h.flush(t)

	o, ok := h.store.GetOrder(vtOrderID)
	require.True(t, ok)
	assert.Equal(t, types.StatusRejected, o.Status)
	assert.Empty(t, h.store.GetActiveOrders(""))
	assert.Greater(t, h.logCount(), before)
}

func TestGateway_SendWhileDisconnectedIsRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.gw.SendOrder(context.Background(), btcLimit(1, 30000))
	assert.ErrorIs(t, err, gateway.ErrNotConnected)
	h.flush(t)
	assert.Equal(t, []types.Status{types.StatusSubmitting, types.StatusRejected}, h.orderStatuses())
	assert.Equal(t, 0, h.venue.Calls(sim.OpPlace))
}

func TestGateway_InvalidOrderNeverReachesVenue(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	_, err := h.gw.SendOrder(context.Background(), btcLimit(0, 30000))
	assert.ErrorIs(t, err, gateway.ErrInvalidRequest)
	assert.Equal(t, 0, h.venue.Calls(sim.OpPlace))
}

func TestGateway_BreakerOpensOnRepeatedFailures(t *testing.T) {
	h := newHarness(t, gateway.WithBreaker(2, time.Minute))
	h.connect(t)
	netErr := gateway.NewVenueError(gateway.CategoryNetwork, "timeout", nil)
	h.venue.FailNext(sim.OpPlace, netErr, netErr)

	for i := 0; i < 2; i++ {
		_, err := h.gw.SendOrder(context.Background(), btcLimit(1, 30000))
		require.Error(t, err)
	}
	assert.Equal(t, circuit.StateOpen, h.gw.BreakerState())

	_, err := h.gw.SendOrder(context.Background(), btcLimit(1, 30000))
	assert.ErrorIs(t, err, circuit.ErrOpen)
	assert.Equal(t, 2, h.venue.Calls(sim.OpPlace))
}

func TestGateway_CancelPublishesCancelled(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	vtOrderID, err := h.gw.SendOrder(context.Background(), btcLimit(1, 30000))
	require.NoError(t, err)
	h.flush(t)

	o, ok := h.store.GetOrder(vtOrderID)
	require.True(t, ok)
	require.NoError(t, h.gw.CancelOrder(context.Background(), o.CreateCancelRequest()))
	h.flush(t)

	o, _ = h.store.GetOrder(vtOrderID)
	assert.Equal(t, types.StatusCancelled, o.Status)
	assert.False(t, h.store.IsActive(vtOrderID))
}

func TestGateway_ReconnectionRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	ctx := context.Background()

	btc := types.SubscribeRequest{Symbol: "BTCUSDT", Exchange: types.ExchangeBinance}
	eth := types.SubscribeRequest{Symbol: "ETHUSDT", Exchange: types.ExchangeBinance}
	require.NoError(t, h.gw.Subscribe(ctx, btc))
	require.NoError(t, h.gw.Subscribe(ctx, eth))
	_, err := h.gw.SendOrder(ctx, btcLimit(1, 30000))
	require.NoError(t, err)
	assert.Equal(t, 1, h.venue.Calls(sim.OpFetchOrders))

	h.venue.FailNext(sim.OpDial, gateway.NewVenueError(gateway.CategoryNetwork, "refused", nil))
	h.venue.Drop(nil)

	require.Eventually(t, func() bool {
		return h.gw.State() == types.ConnConnected && !h.gw.Reconnecting()
	}, 2*time.Second, 5*time.Millisecond)
	h.flush(t)

	assert.Equal(t, 2, h.venue.SubscribeCalls(btc.VTSymbol()))
	assert.Equal(t, 2, h.venue.SubscribeCalls(eth.VTSymbol()))
	assert.Equal(t, 2, h.venue.Calls(sim.OpFetchOrders))
	assert.Len(t, h.gw.Subscriptions(), 2)
	assert.Len(t, h.store.GetActiveOrders(""), 1)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []types.ConnState{
		types.ConnConnecting, types.ConnConnected,
		types.ConnDisconnected,
		types.ConnConnecting, types.ConnDisconnected,
		types.ConnConnecting, types.ConnConnected,
	}, h.statuses)
}

func TestGateway_ReconnectStopsOnAuthFailure(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.venue.FailNext(sim.OpDial, gateway.NewVenueError(gateway.CategoryAuth, "key revoked", nil))
	h.venue.Drop(nil)

	require.Eventually(t, func() bool { return !h.gw.Reconnecting() && h.venue.Calls(sim.OpDial) == 2 },
		2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, h.venue.Calls(sim.OpDial))
	assert.Equal(t, types.ConnDisconnected, h.gw.State())
}

func TestGateway_ReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	netErr := gateway.NewVenueError(gateway.CategoryNetwork, "refused", nil)
	h.venue.FailNext(sim.OpDial, netErr, netErr, netErr, netErr)
	h.venue.Drop(nil)

	require.Eventually(t, func() bool { return !h.gw.Reconnecting() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1+fastPolicy.MaxAttempts, h.venue.Calls(sim.OpDial))
	assert.Equal(t, types.ConnDisconnected, h.gw.State())
}

func TestGateway_CloseAbortsReconnect(t *testing.T) {
	slow := fastPolicy
	slow.NetworkBase = 200 * time.Millisecond
	slow.MaxDelay = time.Second
	h := newHarness(t, gateway.WithRetryPolicy(slow))
	h.connect(t)

	h.venue.Drop(errors.New("socket closed"))
	require.Eventually(t, h.gw.Reconnecting, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, h.gw.Close())
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.False(t, h.gw.Reconnecting())
	assert.Equal(t, 1, h.venue.Calls(sim.OpDial))
	assert.Equal(t, types.ConnDisconnected, h.gw.State())
	assert.NoError(t, h.gw.Close())
}

func TestGateway_CloseNeverConnected(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.gw.Close())
	assert.NoError(t, h.gw.Close())
}

type closeCounter struct {
	gateway.Venue
	closes atomic.Int32
}

func (c *closeCounter) Close() error {
	c.closes.Add(1)
	return c.Venue.Close()
}

func TestGateway_AbortedReconnectReleasesVenue(t *testing.T) {
	bus := event.NewEngine(event.WithTimerInterval(time.Hour))
	bus.Start()
	t.Cleanup(bus.Stop)

	var venue *sim.Venue
	var counter *closeCounter
	gw := gateway.New("BINANCE", bus, func(name string, l gateway.VenueListener) gateway.Venue {
		venue = sim.New(name, l)
		counter = &closeCounter{Venue: venue}
		return counter
	}, gateway.WithRetryPolicy(fastPolicy))
	require.NoError(t, gw.Connect(context.Background(), gateway.Settings{"account_id": "acc-1"}))
	require.Equal(t, int32(0), counter.closes.Load())

	venue.Drop(gateway.NewVenueError(gateway.CategoryAuth, "key revoked", nil))
	require.Eventually(t, func() bool { return !gw.Reconnecting() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, types.ConnDisconnected, gw.State())
	assert.Equal(t, 1, venue.Calls(sim.OpDial))
	assert.Equal(t, int32(1), counter.closes.Load())

	require.NoError(t, gw.Close())
	assert.Equal(t, int32(2), counter.closes.Load())
	assert.Equal(t, types.ConnDisconnected, gw.State())
}

func TestGateway_CloseAfterGiveUpReleasesVenue(t *testing.T) {
	bus := event.NewEngine(event.WithTimerInterval(time.Hour))
	bus.Start()
	t.Cleanup(bus.Stop)

	var venue *sim.Venue
	var counter *closeCounter
	gw := gateway.New("BINANCE", bus, func(name string, l gateway.VenueListener) gateway.Venue {
		venue = sim.New(name, l)
		counter = &closeCounter{Venue: venue}
		return counter
	}, gateway.WithRetryPolicy(fastPolicy))
	require.NoError(t, gw.Connect(context.Background(), gateway.Settings{"account_id": "acc-1"}))

	netErr := gateway.NewVenueError(gateway.CategoryNetwork, "refused", nil)
	venue.FailNext(sim.OpDial, netErr, netErr, netErr)
	venue.Drop(nil)
	require.Eventually(t, func() bool { return !gw.Reconnecting() }, 2*time.Second, 5*time.Millisecond)
	released := counter.closes.Load()
	// 每次重连尝试前关闭旧连接，放弃后再释放一次
	assert.Equal(t, int32(fastPolicy.MaxAttempts+1), released)

	require.NoError(t, gw.Close())
	assert.Equal(t, released+1, counter.closes.Load())
}

func TestGateway_QueryHistory(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars, err := h.gw.QueryHistory(context.Background(), types.HistoryRequest{
		Symbol: "BTCUSDT", Exchange: types.ExchangeBinance, Interval: types.IntervalHour,
		Start: start, End: start.Add(5 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, bars, 5)
	assert.Equal(t, "BINANCE", bars[0].GatewayName)
	assert.True(t, bars[0].Datetime.Before(bars[4].Datetime))
}

func TestGateway_SubscribeUnknownSymbol(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	err := h.gw.Subscribe(context.Background(), types.SubscribeRequest{Symbol: "DOGE", Exchange: types.ExchangeBinance})
	assert.Equal(t, gateway.CategoryValidation, gateway.Classify(err))
	assert.Empty(t, h.gw.Subscriptions())
}

func TestGateway_TicksReachStore(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	req := types.SubscribeRequest{Symbol: "ETHUSDT", Exchange: types.ExchangeBinance}
	require.NoError(t, h.gw.Subscribe(context.Background(), req))

	var specific int
	var mu sync.Mutex
	h.bus.Subscribe(event.EventTick+req.VTSymbol(), func(event.Event) error {
		mu.Lock()
		specific++
		mu.Unlock()
		return nil
	})
	assert.True(t, h.venue.PushTick(types.TickData{Symbol: "ETHUSDT", Exchange: types.ExchangeBinance, LastPrice: decimal.NewFromInt(2000)}))
	h.flush(t)

	tick, ok := h.store.GetTick(req.VTSymbol())
	require.True(t, ok)
	assert.Equal(t, "BINANCE", tick.GatewayName)
	mu.Lock()
	assert.Equal(t, 1, specific)
	mu.Unlock()
}
