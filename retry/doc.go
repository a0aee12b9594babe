// Package retry provides failure classification and the retry policy executor.
//
// # Classification
//
// [Classify] maps every error to exactly one [types.ErrorClass]:
//
//   - Errors implementing [types.Classified] report their own class.
//   - PostgreSQL errors are classified by SQLSTATE. Classes 08, 40, 53, 57
//     and 58 plus 25006 (read-only transaction) are transient.
//   - driver.ErrBadConn, io.EOF, net.Error and statement deadlines are transient.
//   - context.Canceled and anything unknown are non-transient.
//
// # Backoff
//
// The delay after the zero-based failed attempt n is
//
//	min(InitialBackoff * Multiplier^n, MaxBackoff)
//
// scaled by a uniform factor in [0.5, 1.0] when Jitter is enabled.
//
// # Executor
//
//	exec := retry.New(types.DefaultRetryConfig(),
//	    retry.WithOnRetry(func(a retry.Attempt) { stats.retries.Add(1) }),
//	)
//	n, err := retry.Do(ctx, exec, "insert", func(ctx context.Context) (int64, error) {
//	    return insertRow(ctx)
//	})
//
// MaxRetries is the total number of attempts. Non-transient failures return
// immediately; exhaustion returns *types.RetryExhaustedError.
package retry
