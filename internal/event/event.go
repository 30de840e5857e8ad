// Package event 提供进程内的发布/订阅事件总线。
package event

import (
	"time"

	"github.com/google/uuid"

	"tradehub/internal/types"
)

// 事件类型前缀。带点的类型可以拼接实例 id，例如 "tick.BTCUSDT.BINANCE"。
const (
	EventTick     = "tick."
	EventTrade    = "trade."
	EventOrder    = "order."
	EventPosition = "position."
	EventAccount  = "account."
	EventContract = "contract."
	EventGateway  = "gateway."
	EventLog      = "log"
	EventTimer    = "timer"
)

// Event 发布后不可修改，总线在最后一个 handler 返回后不再持有它。
type Event struct {
	ID        string
	Type      string
	Payload   types.Payload
	CreatedAt time.Time
}

func New(typ string, payload types.Payload) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

func (e Event) kind() string {
	if e.Payload == nil {
		return "none"
	}
	return string(e.Payload.Kind())
}

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(evt Event) error
}

// PublishDual 先发布通用类型，再发布 "通用类型+实例 id"。
// instanceID 为空时只发布通用类型。
func PublishDual(bus Publisher, genericType, instanceID string, payload types.Payload) error {
	if err := bus.Publish(New(genericType, payload)); err != nil {
		return err
	}
	if instanceID == "" {
		return nil
	}
	return bus.Publish(New(genericType+instanceID, payload))
}
