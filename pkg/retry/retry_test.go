package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	var seen []int

	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	}, Options{
		MaxAttempts: 3,
		OnError:     func(attempt int, err error) { seen = append(seen, attempt) },
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2}, seen)
}

func TestValueReturnsResult(t *testing.T) {
	calls := 0
	v, err := Value(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	}, Options{MaxAttempts: 3, Delay: Fixed(time.Millisecond)})

	require.NoError(t, err)
	require.Equal(t, "ok", v)
}

func TestDoExhausted(t *testing.T) {
	boom := errors.New("boom")
	onError := 0

	err := Do(context.Background(), func(ctx context.Context) error {
		return boom
	}, Options{
		MaxAttempts: 3,
		Delay:       Immediate(),
		OnError:     func(int, error) { onError++ },
	})

	require.ErrorIs(t, err, boom)
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	require.Equal(t, 3, ex.Attempts)
	require.Equal(t, 3, onError)
}

func TestDoNonRetryable(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0

	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	}, Options{
		MaxAttempts: 5,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	})

	require.Equal(t, permanent, err)
	require.Equal(t, 1, calls)
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("flaky")
	}, Options{MaxAttempts: 5, Delay: Fixed(time.Hour)})

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestDoCancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Do(ctx, func(ctx context.Context) error {
		return errors.New("flaky")
	}, Options{MaxAttempts: 3, Delay: Fixed(time.Hour)})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}

func TestDelayPolicies(t *testing.T) {
	tests := []struct {
		name    string
		fn      DelayFunc
		attempt int
		want    time.Duration
	}{
		{"immediate", Immediate(), 3, 0},
		{"fixed", Fixed(time.Second), 3, time.Second},
		{"linear", Linear(time.Second), 3, 3 * time.Second},
		{"exponential 1", Exponential(time.Second, 0), 1, 2 * time.Second},
		{"exponential 2", Exponential(time.Second, 0), 2, 4 * time.Second},
		{"exponential capped", Exponential(time.Second, 5*time.Second), 4, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.fn(tt.attempt))
		})
	}
}

func TestWithJitterBounds(t *testing.T) {
	fn := WithJitter(Fixed(100 * time.Millisecond))
	for i := 0; i < 50; i++ {
		d := fn(1)
		require.GreaterOrEqual(t, d, 50*time.Millisecond)
		require.Less(t, d, 150*time.Millisecond)
	}
}
