// Package retry 提供带上下文取消的指数退避重试。
package retry

import (
	"context"
	"errors"
	"time"
)

// DelayFunc 返回第 attempt 次失败（从 0 开始）后的等待时长；ok=false 表示不再重试。
type DelayFunc func(attempt int, err error) (delay time.Duration, ok bool)

type Config struct {
	// MaxAttempts 包含第一次调用；<=0 视为 1。
	MaxAttempts int
	Delay       DelayFunc
	OnRetry     func(attempt int, err error, delay time.Duration)
}

// Backoff = base * 2^attempt, capped at max (max<=0 means uncapped).
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		if max > 0 && d >= max {
			return max
		}
		d *= 2
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// Exponential 返回对所有错误都重试的 DelayFunc。
func Exponential(base, max time.Duration) DelayFunc {
	return func(attempt int, err error) (time.Duration, bool) {
		return Backoff(base, max, attempt), true
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent 包装的错误不会被重试，Do 返回原始错误。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do 执行 op，失败时按 cfg 退避重试，返回最后一次错误。
// ctx 取消时立即返回，若已有失败则返回该失败。
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		lastErr = err
		if attempt == attempts-1 {
			break
		}
		delay := time.Duration(0)
		if cfg.Delay != nil {
			d, ok := cfg.Delay(attempt, err)
			if !ok {
				return err
			}
			delay = d
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}
		if err := Sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// Sleep 等待 d 或 ctx 结束。
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
