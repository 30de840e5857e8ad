package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"tradehub/internal/pkg/circuit"
)

var (
	ErrNotConnected      = errors.New("gateway not connected")
	ErrConnectInProgress = errors.New("gateway connect in progress")
	ErrInvalidRequest    = errors.New("invalid request")
)

// Category 决定一次失败是否重试以及退避基数。
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNetwork
	CategoryAuth
	CategoryRateLimit
	CategoryValidation
)

func (c Category) String() string {
	switch c {
	case CategoryNetwork:
		return "network"
	case CategoryAuth:
		return "auth"
	case CategoryRateLimit:
		return "rate_limit"
	case CategoryValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Retryable: only network and rate-limit failures.
func (c Category) Retryable() bool {
	return c == CategoryNetwork || c == CategoryRateLimit
}

// VenueError 由场所实现返回，携带分类和原始错误码。
type VenueError struct {
	Category Category
	Code     int
	Message  string
	Err      error
}

func NewVenueError(cat Category, msg string, err error) *VenueError {
	return &VenueError{Category: cat, Message: msg, Err: err}
}

func (e *VenueError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code=%d): %s", e.Category, e.Code, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Category, msg)
}

func (e *VenueError) Unwrap() error { return e.Err }

// ConnectionError 表示 Connect 或重连最终失败。
type ConnectionError struct {
	Gateway string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("gateway %s: connect failed: %v", e.Gateway, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Classify 将任意错误映射到分类。
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve.Category
	}
	if errors.Is(err, ErrInvalidRequest) {
		return CategoryValidation
	}
	if errors.Is(err, circuit.ErrOpen) || errors.Is(err, ErrNotConnected) {
		return CategoryNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetwork
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return CategoryNetwork
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return CategoryNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork
	}
	return CategoryUnknown
}
