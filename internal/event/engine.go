package event

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"tradehub/internal/logger"
	"tradehub/internal/metrics"
	"tradehub/internal/types"
)

const (
	DefaultQueueSize     = 1 << 16
	DefaultTimerInterval = time.Second
	DefaultStopTimeout   = 5 * time.Second
	DefaultPollInterval  = time.Second

	slowHandlerThreshold = 100 * time.Millisecond
)

const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

type Option func(*Engine)

func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

func WithTimerInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timerInterval = d
		}
	}
}

func WithStopTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.stopTimeout = d
		}
	}
}

// WithPollInterval sets how often the idle dispatch loop refreshes the
// queue-depth gauge.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithErrorHook 在每次 handler 失败后回调，hook 自身运行在 dispatch goroutine。
func WithErrorHook(fn func(*HandlerError)) Option {
	return func(e *Engine) { e.onError = fn }
}

// Engine 是事件总线：单个有界队列 + 一个 dispatch goroutine + 一个 timer goroutine。
// 同一个队列保证了所有类型的 FIFO。
type Engine struct {
	queueSize     int
	timerInterval time.Duration
	stopTimeout   time.Duration
	pollInterval  time.Duration
	onError       func(*HandlerError)

	queue  chan Event
	stopCh chan struct{}

	dispatchDone chan struct{}
	timerDone    chan struct{}

	lifecycleMu sync.Mutex
	state       atomic.Int32

	regMu  sync.Mutex
	reg    atomic.Pointer[registry]
	nextID atomic.Uint64
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		queueSize:     DefaultQueueSize,
		timerInterval: DefaultTimerInterval,
		stopTimeout:   DefaultStopTimeout,
		pollInterval:  DefaultPollInterval,
		stopCh:        make(chan struct{}),
		dispatchDone:  make(chan struct{}),
		timerDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.queue = make(chan Event, e.queueSize)
	e.reg.Store(emptyRegistry())
	return e
}

// Start is idempotent. A stopped engine cannot be restarted.
func (e *Engine) Start() {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	switch e.state.Load() {
	case stateRunning:
		return
	case stateStopped:
		logger.Warnf("EventEngine: start ignored, engine already stopped")
		return
	}
	e.state.Store(stateRunning)
	go e.runDispatch()
	go e.runTimer()
	logger.Infof("EventEngine started (queue=%d timer=%v)", e.queueSize, e.timerInterval)
}

// Stop 幂等。等待两个 goroutine 各最多 stopTimeout，超时只记日志。
// 队列中尚未分发的事件被丢弃。
func (e *Engine) Stop() {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	prev := e.state.Swap(stateStopped)
	if prev == stateStopped {
		return
	}
	close(e.stopCh)
	if prev != stateRunning {
		return
	}
	e.await("dispatch", e.dispatchDone)
	e.await("timer", e.timerDone)
	if pending := len(e.queue); pending > 0 {
		logger.Warnf("EventEngine: stopped with %d undelivered events", pending)
	}
	logger.Infof("EventEngine stopped")
}

func (e *Engine) await(name string, done <-chan struct{}) {
	timer := time.NewTimer(e.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logger.Warnf("EventEngine: %s goroutine did not exit within %v", name, e.stopTimeout)
	}
}

func (e *Engine) Running() bool { return e.state.Load() == stateRunning }

// Publish 入队；队列满时阻塞，Stop 之后返回 ErrEngineStopped。
func (e *Engine) Publish(evt Event) error {
	if e.state.Load() == stateStopped {
		return ErrEngineStopped
	}
	select {
	case e.queue <- evt:
		metrics.EventsPublished.WithLabelValues(evt.kind()).Inc()
		return nil
	case <-e.stopCh:
		return ErrEngineStopped
	}
}

// Subscribe 注册某个具体类型的 handler。同一函数重复注册会被调用多次。
func (e *Engine) Subscribe(typ string, fn HandlerFunc) Subscription {
	if typ == "" {
		return e.SubscribeGeneral(fn)
	}
	return e.register(typ, fn)
}

func (e *Engine) Unsubscribe(sub Subscription) bool {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	next := e.reg.Load().remove(sub)
	if next == nil {
		return false
	}
	e.reg.Store(next)
	return true
}

// SubscribeGeneral 注册接收所有事件的 handler，在具体类型的 handler 之后调用。
func (e *Engine) SubscribeGeneral(fn HandlerFunc) Subscription {
	return e.register("", fn)
}

func (e *Engine) UnsubscribeGeneral(sub Subscription) bool {
	sub.Type = ""
	return e.Unsubscribe(sub)
}

// HandlerCount 返回当前注册的 handler 总数。
func (e *Engine) HandlerCount() int {
	return e.reg.Load().count()
}

func (e *Engine) register(typ string, fn HandlerFunc) Subscription {
	sub := Subscription{
		ID:   e.nextID.Add(1),
		Type: typ,
		Name: handlerName(fn),
		fn:   fn,
	}
	e.regMu.Lock()
	e.reg.Store(e.reg.Load().add(sub))
	e.regMu.Unlock()
	return sub
}

func (e *Engine) runDispatch() {
	defer close(e.dispatchDone)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}
		select {
		case evt := <-e.queue:
			e.dispatch(evt)
		case <-ticker.C:
			metrics.QueueDepth.Set(float64(len(e.queue)))
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) dispatch(evt Event) {
	metrics.EventsDispatched.WithLabelValues(evt.kind()).Inc()
	snap := e.reg.Load()
	for _, sub := range snap.byType[evt.Type] {
		e.invoke(sub, evt)
	}
	for _, sub := range snap.general {
		e.invoke(sub, evt)
	}
}

func (e *Engine) invoke(sub Subscription, evt Event) {
	start := time.Now()
	var herr *HandlerError
	defer func() {
		if r := recover(); r != nil {
			herr = &HandlerError{
				EventType: evt.Type,
				EventID:   evt.ID,
				Handler:   sub.String(),
				Panic:     true,
				Err:       fmt.Errorf("panic: %v", r),
			}
			logger.Debugf("EventEngine: handler %s stack:\n%s", sub, debug.Stack())
		}
		dur := time.Since(start)
		metrics.HandlerLatency.Observe(float64(dur.Microseconds()) / 1000)
		if dur > slowHandlerThreshold {
			logger.Warnf("EventEngine: slow handler %s on %s took %v", sub, evt.Type, dur)
		}
		if herr != nil {
			e.report(sub, herr)
		}
	}()
	if err := sub.fn(evt); err != nil {
		herr = &HandlerError{
			EventType: evt.Type,
			EventID:   evt.ID,
			Handler:   sub.String(),
			Err:       err,
		}
	}
}

func (e *Engine) report(sub Subscription, herr *HandlerError) {
	metrics.HandlerFailures.WithLabelValues(sub.Name).Inc()
	logger.With("event_type", herr.EventType, "handler", herr.Handler, "panic", herr.Panic).
		Error("event handler failed", "error", herr.Err)
	if e.onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("EventEngine: error hook panic: %v", r)
		}
	}()
	e.onError(herr)
}

func (e *Engine) runTimer() {
	defer close(e.timerDone)
	ticker := time.NewTicker(e.timerInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if err := e.Publish(New(EventTimer, types.TimerData{Time: now})); err != nil {
				return
			}
		case <-e.stopCh:
			return
		}
	}
}
