package oms

import (
	"fmt"

	"tradehub/internal/types"
)

// StateConsistencyError 表示一次被生命周期表拒绝的订单更新。
type StateConsistencyError struct {
	VTOrderID string
	From      types.Status
	To        types.Status
	// Reason 非空表示事件本身不合法（未知状态、缺少订单号）
	Reason string
}

func (e *StateConsistencyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("order %s: malformed update: %s", e.VTOrderID, e.Reason)
	}
	return fmt.Sprintf("order %s: illegal status transition %s -> %s", e.VTOrderID, e.From, e.To)
}
