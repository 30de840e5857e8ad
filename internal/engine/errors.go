package engine

import (
	"errors"
	"fmt"
)

// ErrDuplicateGateway 表示同名网关已注册。
var ErrDuplicateGateway = errors.New("gateway already registered")

// UnknownGatewayError 表示按名称路由时找不到网关。
type UnknownGatewayError struct {
	Name string
}

func (e *UnknownGatewayError) Error() string {
	return fmt.Sprintf("gateway %q not found", e.Name)
}
