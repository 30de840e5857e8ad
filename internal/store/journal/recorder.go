package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tradehub/internal/event"
	"tradehub/internal/logger"
	"tradehub/internal/types"
)

const (
	defaultBatchSize     = 64
	defaultFlushInterval = 500 * time.Millisecond
)

// Subscriber 是 Recorder 需要的总线能力。
type Subscriber interface {
	Subscribe(typ string, fn event.HandlerFunc) event.Subscription
	Unsubscribe(sub event.Subscription) bool
}

// Recorder 订阅订单/成交/日志事件，攒批后由单独的 goroutine 写库。
// 事件处理函数从不阻塞分发：缓冲满时丢弃并计数。
type Recorder struct {
	store     *Store
	bus       Subscriber
	batchSize int
	interval  time.Duration

	// orderState 返回状态库中订单的当前值，用于跳过被拒绝的更新
	orderState func(vtOrderID string) (types.OrderData, bool)

	queue   chan types.Payload
	subs    []event.Subscription
	dropped atomic.Uint64
	skipped atomic.Uint64
	written atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

type RecorderOption func(*Recorder)

// WithOrderState 只记录状态库接受的订单更新。lookup 的订阅必须先于 Recorder 注册，
// 这样处理到某个事件时状态库已经应用过它。
func WithOrderState(lookup func(vtOrderID string) (types.OrderData, bool)) RecorderOption {
	return func(r *Recorder) { r.orderState = lookup }
}

func NewRecorder(store *Store, bus Subscriber, batchSize int, opts ...RecorderOption) *Recorder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	r := &Recorder{
		store:     store,
		bus:       bus,
		batchSize: batchSize,
		interval:  defaultFlushInterval,
		queue:     make(chan types.Payload, batchSize*64),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, typ := range []string{event.EventOrder, event.EventTrade, event.EventLog} {
		r.subs = append(r.subs, bus.Subscribe(typ, r.enqueue))
	}
	return r
}

func (r *Recorder) enqueue(evt event.Event) error {
	if order, ok := evt.Payload.(types.OrderData); ok && r.orderState != nil {
		cur, found := r.orderState(order.VTOrderID())
		if !found || cur.Status != order.Status {
			r.skipped.Add(1)
			logger.Debugf("journal skip order %s %s: state holds %s", order.VTOrderID(), order.Status, cur.Status)
			return nil
		}
	}
	select {
	case r.queue <- evt.Payload:
	default:
		if n := r.dropped.Add(1); n == 1 || n%1000 == 0 {
			logger.Warnf("journal queue full, dropped %d records", n)
		}
	}
	return nil
}

// Run 阻塞直到 ctx 结束，退出前把剩余记录写完。
func (r *Recorder) Run(ctx context.Context) error {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	var b batch
	for {
		select {
		case <-ctx.Done():
			r.unsubscribe()
			r.drain(&b)
			r.flush(context.Background(), &b)
			return nil
		case p := <-r.queue:
			b.add(p)
			if b.size() >= r.batchSize {
				r.flush(ctx, &b)
			}
		case <-ticker.C:
			r.flush(ctx, &b)
		}
	}
}

// Done 在 Run 返回后关闭。
func (r *Recorder) Done() <-chan struct{} { return r.done }

func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Skipped 统计因状态库拒绝而未记录的订单更新。
func (r *Recorder) Skipped() uint64 { return r.skipped.Load() }

func (r *Recorder) unsubscribe() {
	r.closeOnce.Do(func() {
		for _, sub := range r.subs {
			r.bus.Unsubscribe(sub)
		}
	})
}

func (r *Recorder) drain(b *batch) {
	for {
		select {
		case p := <-r.queue:
			b.add(p)
		default:
			return
		}
	}
}

func (r *Recorder) flush(ctx context.Context, b *batch) {
	n := b.size()
	if n == 0 {
		return
	}
	if err := r.store.Write(ctx, b.orders, b.trades, b.logs); err != nil {
		logger.Errorf("journal write %d records failed: %v", n, err)
	} else {
		r.written.Add(uint64(n))
	}
	b.reset()
}

type batch struct {
	orders []OrderRecord
	trades []TradeRecord
	logs   []LogRecord
}

func (b *batch) add(p types.Payload) {
	switch v := p.(type) {
	case types.OrderData:
		b.orders = append(b.orders, orderRecord(v))
	case types.TradeData:
		b.trades = append(b.trades, tradeRecord(v))
	case types.LogData:
		b.logs = append(b.logs, logRecord(v))
	}
}

func (b *batch) size() int { return len(b.orders) + len(b.trades) + len(b.logs) }

func (b *batch) reset() {
	b.orders = b.orders[:0]
	b.trades = b.trades[:0]
	b.logs = b.logs[:0]
}
