package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(time.Second, 30*time.Second, 0))
	assert.Equal(t, 2*time.Second, Backoff(time.Second, 30*time.Second, 1))
	assert.Equal(t, 8*time.Second, Backoff(time.Second, 30*time.Second, 3))
	assert.Equal(t, 30*time.Second, Backoff(time.Second, 30*time.Second, 10))
	assert.Equal(t, 30*time.Second, Backoff(time.Second, 30*time.Second, 1000))
	assert.Equal(t, time.Duration(0), Backoff(0, time.Second, 2))
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retried []int
	err := Do(context.Background(), Config{
		MaxAttempts: 3,
		Delay:       Exponential(time.Millisecond, 5*time.Millisecond),
		OnRetry:     func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) },
	}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ReturnsLastError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 2}, func(context.Context) error {
		calls++
		return errors.New("down")
	})
	assert.EqualError(t, err, "down")
	assert.Equal(t, 2, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("bad key")
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 5}, func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	assert.False(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestDo_DelayFuncCanRefuse(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{
		MaxAttempts: 5,
		Delay:       func(int, error) (time.Duration, bool) { return 0, false },
	}, func(context.Context) error {
		calls++
		return errors.New("nope")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Config{MaxAttempts: 10, Delay: Exponential(time.Hour, time.Hour)}, func(context.Context) error {
		calls++
		cancel()
		return errors.New("first")
	})
	assert.EqualError(t, err, "first")
	assert.Equal(t, 1, calls)
}
