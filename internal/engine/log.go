package engine

import (
	"strings"

	"tradehub/internal/event"
	"tradehub/internal/logger"
	"tradehub/internal/types"
)

// LogEngine 把 EVENT_LOG 转写到进程日志。
type LogEngine struct {
	bus *event.Engine
	sub event.Subscription
}

func NewLogEngine(bus *event.Engine) *LogEngine {
	le := &LogEngine{bus: bus}
	le.sub = bus.Subscribe(event.EventLog, le.process)
	return le
}

func (le *LogEngine) process(evt event.Event) error {
	data, ok := evt.Payload.(types.LogData)
	if !ok {
		return nil
	}
	l := logger.With("gateway", data.GatewayName)
	switch strings.ToUpper(data.Level) {
	case "DEBUG":
		l.Debug(data.Msg)
	case "WARN", "WARNING":
		l.Warn(data.Msg)
	case "ERROR", "CRITICAL":
		l.Error(data.Msg)
	default:
		l.Info(data.Msg)
	}
	return nil
}

func (le *LogEngine) Close() {
	le.bus.Unsubscribe(le.sub)
}
