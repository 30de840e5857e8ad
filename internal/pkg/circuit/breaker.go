// Package circuit 为场所调用提供熔断：连续失败达到阈值后在冷却期内直接拒绝。
package circuit

import (
	"errors"
	"sync"
	"time"

	"tradehub/internal/logger"
)

var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

type Option func(*Breaker)

// WithFailureFilter 决定哪些错误计入失败次数，例如参数校验错误不应熔断。
func WithFailureFilter(fn func(error) bool) Option {
	return func(b *Breaker) { b.countable = fn }
}

func WithStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

func withClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

type Breaker struct {
	mu            sync.Mutex
	name          string
	state         State
	failures      int
	threshold     int
	cooldown      time.Duration
	openedAt      time.Time
	probing       bool
	countable     func(error) bool
	onStateChange func(name string, from, to State)
	now           func() time.Time
}

// New 的 threshold<=0 表示永不熔断。
func New(name string, threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do 在熔断打开时返回 ErrOpen 且不调用 fn。半开状态只放行一个探测请求。
func (b *Breaker) Do(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return true
	default:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	failed := err != nil && (b.countable == nil || b.countable(err))
	if b.state == StateHalfOpen {
		b.probing = false
		if failed {
			b.open()
		} else {
			b.failures = 0
			b.transition(StateClosed)
		}
		return
	}
	if !failed {
		b.failures = 0
		return
	}
	b.failures++
	if b.threshold > 0 && b.failures >= b.threshold && b.state == StateClosed {
		b.open()
	}
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.transition(StateOpen)
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onStateChange != nil {
		go b.onStateChange(b.name, from, to)
		return
	}
	logger.Warnf("CircuitBreaker %s state change: %s -> %s (failures=%d/%d, cooldown=%s)",
		b.name, from, to, b.failures, b.threshold, b.cooldown)
}
