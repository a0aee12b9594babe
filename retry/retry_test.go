package retry_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/shardgate/retry"
	"github.com/arloliu/shardgate/types"
)

func noJitter(maxRetries int) types.RetryConfig {
	return types.RetryConfig{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestBackoffSequence(t *testing.T) {
	cfg := types.RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
	}

	want := []float64{0.1, 0.2, 0.4, 0.8, 1.6, 2.0, 2.0}
	for attempt, w := range want {
		require.InDelta(t, w, retry.Backoff(cfg, attempt).Seconds(), 1e-9, "attempt %d", attempt)
	}
}

func TestBackoffHugeAttemptIsCapped(t *testing.T) {
	cfg := types.DefaultRetryConfig()
	require.Equal(t, cfg.MaxBackoff, retry.Backoff(cfg, 10_000))
	require.Equal(t, cfg.InitialBackoff, retry.Backoff(cfg, -1))
}

func TestJitteredStaysWithinBounds(t *testing.T) {
	cfg := types.DefaultRetryConfig()

	require.Equal(t, 50*time.Millisecond, retry.Jittered(cfg, 0, func() float64 { return 0 }))
	require.Equal(t, 100*time.Millisecond, retry.Jittered(cfg, 0, func() float64 { return 1 }))

	for attempt := range 8 {
		base := retry.Backoff(cfg, attempt)
		for range 100 {
			d := retry.Jittered(cfg, attempt, nil)
			require.GreaterOrEqual(t, d, base/2)
			require.LessOrEqual(t, d, base)
		}
	}

	cfg.Jitter = false
	require.Equal(t, retry.Backoff(cfg, 3), retry.Jittered(cfg, 3, func() float64 { return 0 }))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorClass
	}{
		{"nil", nil, types.ClassNonTransient},
		{"unknown", errors.New("boom"), types.ClassNonTransient},
		{"canceled", context.Canceled, types.ClassNonTransient},
		{"canceled inside transient", &types.TransientExecutionError{Node: "n", Cause: context.Canceled}, types.ClassNonTransient},
		{"deadline", context.DeadlineExceeded, types.ClassTransient},
		{"bad conn", driver.ErrBadConn, types.ClassTransient},
		{"eof", fmt.Errorf("read: %w", io.EOF), types.ClassTransient},
		{"unexpected eof", io.ErrUnexpectedEOF, types.ClassTransient},
		{"net error", &net.OpError{Op: "dial", Err: timeoutErr{}}, types.ClassTransient},
		{"connect error", &types.ConnectError{Node: "n", Cause: errors.New("refused")}, types.ClassTransient},
		{"pool exhausted", &types.PoolError{Node: "n", Cause: types.ErrPoolExhausted}, types.ClassTransient},
		{"configuration", &types.ConfigurationError{Field: "f", Reason: "r"}, types.ClassNonTransient},
		{"topology", &types.TopologyError{Cause: types.ErrNoPrimary}, types.ClassNonTransient},
		{"failover timeout", &types.FailoverTimeoutError{Primary: "p", Timeout: "1s"}, types.ClassNonTransient},
		{"pq admin shutdown", &pq.Error{Code: "57P01"}, types.ClassTransient},
		{"pq connection failure", &pq.Error{Code: "08006"}, types.ClassTransient},
		{"pq serialization", &pq.Error{Code: "40001"}, types.ClassTransient},
		{"pq too many connections", &pq.Error{Code: "53300"}, types.ClassTransient},
		{"pq read only", &pq.Error{Code: "25006"}, types.ClassTransient},
		{"pq unique violation", &pq.Error{Code: "23505"}, types.ClassNonTransient},
		{"pq syntax", &pq.Error{Code: "42601"}, types.ClassNonTransient},
		{"pq data exception", &pq.Error{Code: "22012"}, types.ClassNonTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, retry.Classify(tt.err))
		})
	}
}

func TestPrimaryLost(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		lost     bool
		connLost bool
	}{
		{"nil", nil, false, false},
		{"bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), true, true},
		{"eof", io.EOF, true, true},
		{"net error", timeoutErr{}, true, true},
		{"connection failure", &pq.Error{Code: "08006"}, true, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true, true},
		{"crash shutdown", &pq.Error{Code: "57P02"}, true, true},
		{"read only", &pq.Error{Code: "25006"}, true, false},
		{"connect", &types.ConnectError{Node: "a:5432", Cause: context.DeadlineExceeded}, true, false},
		{"serialization", &pq.Error{Code: "40001"}, false, false},
		{"deadlock", &pq.Error{Code: "40P01"}, false, false},
		{"too many connections", &pq.Error{Code: "53300"}, false, false},
		{"pool exhausted", &types.PoolError{Node: "a:5432", Cause: types.ErrPoolExhausted}, false, false},
		{"pool closed", &types.PoolError{Node: "a:5432", Cause: types.ErrPoolClosed}, false, false},
		{"statement timeout", &types.TransientExecutionError{Node: "a:5432", Cause: context.DeadlineExceeded}, false, false},
		{"cancelled", context.Canceled, false, false},
		{"wrapped read only", &types.TransientExecutionError{Node: "a:5432", Cause: &pq.Error{Code: "25006"}}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.lost, retry.PrimaryLost(tt.err))
			require.Equal(t, tt.connLost, retry.ConnectionLost(tt.err))
		})
	}
}

func TestWrapExecution(t *testing.T) {
	err := retry.WrapExecution("db1:5432", &pq.Error{Code: "08006"})
	var transient *types.TransientExecutionError
	require.ErrorAs(t, err, &transient)
	require.Equal(t, "db1:5432", transient.Node)

	err = retry.WrapExecution("db1:5432", &pq.Error{Code: "23505"})
	var permanent *types.NonTransientExecutionError
	require.ErrorAs(t, err, &permanent)

	classified := &types.PoolError{Node: "x", Cause: types.ErrPoolClosed}
	require.Same(t, classified, retry.WrapExecution("db1:5432", classified))

	require.ErrorIs(t, retry.WrapExecution("n", context.Canceled), context.Canceled)
	require.NoError(t, retry.WrapExecution("n", nil))
}

func TestRunSucceedsAfterTransientFailures(t *testing.T) {
	var retries []retry.Attempt
	exec := retry.New(noJitter(3), retry.WithOnRetry(func(a retry.Attempt) {
		retries = append(retries, a)
	}))

	var calls atomic.Int32
	err := exec.Run(t.Context(), "op", func(context.Context) error {
		if calls.Add(1) < 3 {
			return &types.ConnectError{Node: "n", Cause: errors.New("refused")}
		}
		return nil
	})

	require.NoError(t, err)
	require.EqualValues(t, 3, calls.Load())
	require.Len(t, retries, 2)
	require.Equal(t, 1, retries[0].Number)
	require.Equal(t, 2, retries[1].Number)
	require.Equal(t, time.Millisecond, retries[0].Delay)
	require.Equal(t, 2*time.Millisecond, retries[1].Delay)
}

func TestRunStopsOnNonTransient(t *testing.T) {
	var onRetry atomic.Int32
	exec := retry.New(noJitter(5), retry.WithOnRetry(func(retry.Attempt) { onRetry.Add(1) }))

	cause := &types.NonTransientExecutionError{Node: "n", Cause: &pq.Error{Code: "23505"}}
	var calls atomic.Int32
	err := exec.Run(t.Context(), "op", func(context.Context) error {
		calls.Add(1)
		return cause
	})

	require.Same(t, cause, err)
	require.EqualValues(t, 1, calls.Load())
	require.Zero(t, onRetry.Load())
}

func TestRunExhaustion(t *testing.T) {
	exec := retry.New(noJitter(3))

	cause := &types.TransientExecutionError{Node: "n", Cause: driver.ErrBadConn}
	var calls atomic.Int32
	err := exec.Run(t.Context(), "write users", func(context.Context) error {
		calls.Add(1)
		return cause
	})

	require.EqualValues(t, 3, calls.Load())
	require.ErrorIs(t, err, types.ErrRetriesExhausted)
	require.ErrorIs(t, err, driver.ErrBadConn)

	var exhausted *types.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, "write users", exhausted.Label)
	require.Equal(t, 3, exhausted.Attempts)
	require.Same(t, cause, exhausted.Cause)
	require.Equal(t, types.ClassNonTransient, retry.Classify(err))
}

func TestRunSingleAttemptWhenMaxRetriesIsZero(t *testing.T) {
	exec := retry.New(noJitter(0))
	require.Equal(t, 1, exec.Config().MaxRetries)

	var calls atomic.Int32
	err := exec.Run(t.Context(), "op", func(context.Context) error {
		calls.Add(1)
		return driver.ErrBadConn
	})

	require.ErrorIs(t, err, types.ErrRetriesExhausted)
	require.EqualValues(t, 1, calls.Load())
}

func TestRunContextCancelledDuringBackoff(t *testing.T) {
	cfg := noJitter(5)
	cfg.InitialBackoff = time.Second
	cfg.MaxBackoff = time.Second
	exec := retry.New(cfg)

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	err := exec.Run(ctx, "op", func(context.Context) error {
		return driver.ErrBadConn
	})

	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, driver.ErrBadConn)
	require.NotErrorIs(t, err, types.ErrRetriesExhausted)
}

func TestDoReturnsValue(t *testing.T) {
	exec := retry.New(noJitter(2))

	var calls int
	n, err := retry.Do(t.Context(), exec, "count", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, io.EOF
		}
		return 42, nil
	})

	require.NoError(t, err)
	require.Equal(t, 42, n)
}

func TestCustomClassifier(t *testing.T) {
	retryAll := func(error) types.ErrorClass { return types.ClassTransient }
	exec := retry.New(noJitter(2), retry.WithClassifier(retryAll))

	var calls int
	err := exec.Run(t.Context(), "op", func(context.Context) error {
		calls++
		return errors.New("unknown")
	})

	require.ErrorIs(t, err, types.ErrRetriesExhausted)
	require.Equal(t, 2, calls)
}
