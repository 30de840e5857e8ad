package gateway

import (
	"time"

	"tradehub/internal/pkg/retry"
)

// RetryPolicy: delay = base(category) * 2^attempt, capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts   int
	NetworkBase   time.Duration
	RateLimitBase time.Duration
	MaxDelay      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		NetworkBase:   time.Second,
		RateLimitBase: 5 * time.Second,
		MaxDelay:      60 * time.Second,
	}
}

// Delay 是分类与尝试次数的纯函数；ok=false 表示该分类不重试。
func (p RetryPolicy) Delay(cat Category, attempt int) (time.Duration, bool) {
	switch cat {
	case CategoryNetwork:
		return retry.Backoff(p.NetworkBase, p.MaxDelay, attempt), true
	case CategoryRateLimit:
		return retry.Backoff(p.RateLimitBase, p.MaxDelay, attempt), true
	default:
		return 0, false
	}
}

func (p RetryPolicy) config(onRetry func(attempt int, err error, delay time.Duration)) retry.Config {
	return retry.Config{
		MaxAttempts: p.MaxAttempts,
		Delay: func(attempt int, err error) (time.Duration, bool) {
			return p.Delay(Classify(err), attempt)
		},
		OnRetry: onRetry,
	}
}
