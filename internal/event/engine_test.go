package event

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradehub/internal/types"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithTimerInterval(time.Hour), WithPollInterval(10 * time.Millisecond)}, opts...)
	e := NewEngine(opts...)
	e.Start()
	t.Cleanup(e.Stop)
	return e
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(evt Event) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Type)
	}
	return out
}

func TestEngine_HandlerIsolation(t *testing.T) {
	var failures []*HandlerError
	var mu sync.Mutex
	e := newTestEngine(t, WithErrorHook(func(herr *HandlerError) {
		mu.Lock()
		failures = append(failures, herr)
		mu.Unlock()
	}))

	var before, after, general atomic.Int32
	e.Subscribe(EventTick, func(Event) error { before.Add(1); return nil })
	e.Subscribe(EventTick, func(Event) error { panic("boom") })
	e.Subscribe(EventTick, func(Event) error { return errors.New("bad tick") })
	e.Subscribe(EventTick, func(Event) error { after.Add(1); return nil })
	e.SubscribeGeneral(func(Event) error { general.Add(1); return nil })

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Publish(New(EventTick, types.TickData{Symbol: "BTCUSDT"})))
	}

	assert.Eventually(t, func() bool { return general.Load() == 3 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 3, before.Load())
	assert.EqualValues(t, 3, after.Load())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 6)
	var panics int
	for _, f := range failures {
		assert.Equal(t, EventTick, f.EventType)
		assert.NotEmpty(t, f.Handler)
		if f.Panic {
			panics++
		}
	}
	assert.Equal(t, 3, panics)
}

func TestEngine_DualDelivery(t *testing.T) {
	e := newTestEngine(t)
	var generic, specific, other recorder
	e.Subscribe(EventTick, generic.handle)
	e.Subscribe(EventTick+"BTCUSDT.BINANCE", specific.handle)
	e.Subscribe(EventTick+"ETHUSDT.BINANCE", other.handle)

	tick := types.TickData{Symbol: "BTCUSDT", Exchange: types.ExchangeBinance}
	require.NoError(t, PublishDual(e, EventTick, tick.VTSymbol(), tick))

	assert.Eventually(t, func() bool { return specific.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, generic.len())
	assert.Equal(t, 0, other.len())
}

func TestEngine_GeneralSeesBothDualEventsInOrder(t *testing.T) {
	e := newTestEngine(t)
	var all recorder
	e.SubscribeGeneral(all.handle)

	order := types.OrderData{GatewayName: "SIM", OrderID: "1", Status: types.StatusSubmitting}
	require.NoError(t, PublishDual(e, EventOrder, order.VTOrderID(), order))

	assert.Eventually(t, func() bool { return all.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{EventOrder, EventOrder + "SIM.1"}, all.types())
}

func TestEngine_FIFOUnderConcurrentProducers(t *testing.T) {
	const perProducer = 10000
	e := newTestEngine(t)

	var mu sync.Mutex
	seen := map[string][]int64{}
	var total atomic.Int32
	e.Subscribe(EventTick, func(evt Event) error {
		tick := evt.Payload.(types.TickData)
		mu.Lock()
		seen[tick.Symbol] = append(seen[tick.Symbol], tick.LastVolume.IntPart())
		mu.Unlock()
		total.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for _, sym := range []string{"A", "B"} {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				tick := types.TickData{Symbol: sym, LastVolume: decimal.NewFromInt(int64(i))}
				if err := e.Publish(New(EventTick, tick)); err != nil {
					t.Error(err)
					return
				}
			}
		}(sym)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return total.Load() == 2*perProducer }, 10*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	for _, sym := range []string{"A", "B"} {
		seq := seen[sym]
		require.Len(t, seq, perProducer)
		for i, v := range seq {
			if v != int64(i) {
				t.Fatalf("producer %s out of order at %d: got %d", sym, i, v)
			}
		}
	}
}

func TestEngine_UnsubscribeDuringDispatch(t *testing.T) {
	e := newTestEngine(t)
	var first, second atomic.Int32
	var sub Subscription
	sub = e.Subscribe(EventLog, func(Event) error {
		first.Add(1)
		e.Unsubscribe(sub)
		return nil
	})
	e.Subscribe(EventLog, func(Event) error { second.Add(1); return nil })

	require.NoError(t, e.Publish(New(EventLog, types.NewLog("SIM", "a"))))
	require.NoError(t, e.Publish(New(EventLog, types.NewLog("SIM", "b"))))

	assert.Eventually(t, func() bool { return second.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, first.Load())
	assert.False(t, e.Unsubscribe(sub))
}

func TestEngine_UnsubscribeGeneral(t *testing.T) {
	e := newTestEngine(t)
	var all recorder
	sub := e.SubscribeGeneral(all.handle)
	assert.Equal(t, 1, e.HandlerCount())
	assert.True(t, e.UnsubscribeGeneral(sub))
	assert.Equal(t, 0, e.HandlerCount())
}

func TestEngine_Timer(t *testing.T) {
	e := NewEngine(WithTimerInterval(10 * time.Millisecond))
	var ticks atomic.Int32
	e.Subscribe(EventTimer, func(evt Event) error {
		_, ok := evt.Payload.(types.TimerData)
		if ok {
			ticks.Add(1)
		}
		return nil
	})
	e.Start()
	defer e.Stop()
	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestEngine_StopIsIdempotentAndRejectsPublish(t *testing.T) {
	e := NewEngine(WithTimerInterval(time.Hour), WithStopTimeout(100*time.Millisecond))
	e.Start()
	e.Start()
	assert.True(t, e.Running())

	e.Stop()
	e.Stop()
	assert.False(t, e.Running())
	assert.ErrorIs(t, e.Publish(New(EventLog, types.NewLog("", "late"))), ErrEngineStopped)

	e.Start()
	assert.False(t, e.Running())
}

func TestEngine_StopNeverStarted(t *testing.T) {
	e := NewEngine()
	e.Stop()
	assert.ErrorIs(t, e.Publish(New(EventTimer, types.TimerData{})), ErrEngineStopped)
}

func TestEngine_StopTimesOutOnStuckHandler(t *testing.T) {
	release := make(chan struct{})
	e := NewEngine(WithTimerInterval(time.Hour), WithStopTimeout(50*time.Millisecond))
	entered := make(chan struct{})
	e.Subscribe(EventLog, func(Event) error {
		close(entered)
		<-release
		return nil
	})
	e.Start()
	require.NoError(t, e.Publish(New(EventLog, types.NewLog("", "stuck"))))
	<-entered

	start := time.Now()
	e.Stop()
	assert.Less(t, time.Since(start), time.Second)
	close(release)
}

func TestHandlerName(t *testing.T) {
	var r recorder
	sub := Subscription{ID: 7, Name: handlerName(r.handle)}
	assert.Contains(t, sub.Name, "recorder")
	assert.Contains(t, sub.String(), "#7")
}
