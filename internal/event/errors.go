package event

import (
	"errors"
	"fmt"
)

var ErrEngineStopped = errors.New("event engine stopped")

// HandlerError 描述一次 handler 调用失败（返回错误或 panic）。
type HandlerError struct {
	EventType string
	EventID   string
	Handler   string
	Panic     bool
	Err       error
}

func (e *HandlerError) Error() string {
	kind := "failed"
	if e.Panic {
		kind = "panicked"
	}
	return fmt.Sprintf("handler %s %s on %s: %v", e.Handler, kind, e.EventType, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
