package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/arloliu/shardgate/internal/logging"
	"github.com/arloliu/shardgate/types"
)

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	Label string
	// Number is the one-based number of the attempt that failed.
	Number int
	Err    error
	// Delay is the backoff before the next attempt.
	Delay time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for retry events.
func WithLogger(l types.Logger) Option {
	return func(e *Executor) {
		e.logger = logging.OrNop(l)
	}
}

// WithOnRetry sets a hook called before every backoff sleep.
func WithOnRetry(fn func(Attempt)) Option {
	return func(e *Executor) {
		e.onRetry = fn
	}
}

// WithClassifier replaces Classify.
func WithClassifier(c Classifier) Option {
	return func(e *Executor) {
		if c != nil {
			e.classify = c
		}
	}
}

// WithRandom sets the jitter source. fn returns values in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(e *Executor) {
		e.rnd = fn
	}
}

// Executor runs operations with transient-failure retries and jittered
// exponential backoff.
//
// The backoff sleep happens on the calling goroutine and ends early when the
// context is done.
type Executor struct {
	cfg      types.RetryConfig
	logger   types.Logger
	onRetry  func(Attempt)
	classify Classifier
	rnd      func() float64
}

// New creates an executor. A MaxRetries below 1 is treated as 1.
func New(cfg types.RetryConfig, opts ...Option) *Executor {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	e := &Executor{
		cfg:      cfg,
		logger:   logging.NewNopLogger(),
		classify: Classify,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Config returns the retry configuration.
func (e *Executor) Config() types.RetryConfig {
	return e.cfg
}

// Run executes op until it succeeds, fails with a non-transient error, or
// MaxRetries attempts have failed.
//
// Returns:
//   - nil on success
//   - the non-transient error unchanged
//   - *types.RetryExhaustedError carrying the last cause
//   - the context error joined with the last cause when ctx ends first
func (e *Executor) Run(ctx context.Context, label string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, e, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})

	return err
}

// Do is the value-returning form of Executor.Run.
func Do[T any](ctx context.Context, e *Executor, label string, op func(ctx context.Context) (T, error)) (T, error) {
	var (
		attempts int
		lastErr  error
	)

	operation := func() (T, error) {
		attempts++
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if e.classify(err) != types.ClassTransient {
			return res, backoff.Permanent(err)
		}

		return res, err
	}

	notify := func(err error, delay time.Duration) {
		e.logger.Warn("retrying after transient failure",
			"label", label,
			"attempt", attempts,
			"max_attempts", e.cfg.MaxRetries,
			"delay", delay,
			"error", err,
		)
		if e.onRetry != nil {
			e.onRetry(Attempt{Label: label, Number: attempts, Err: err, Delay: delay})
		}
	}

	b := backoff.WithMaxRetries(
		backoff.WithContext(newPolicy(e.cfg, e.rnd), ctx),
		uint64(e.cfg.MaxRetries-1),
	)

	res, err := backoff.RetryNotifyWithData(operation, b, notify)
	if err == nil {
		return res, nil
	}

	if lastErr == nil || e.classify(lastErr) != types.ClassTransient {
		return res, err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("shardgate: %s interrupted after %d attempts: %w (last error: %w)",
			label, attempts, ctxErr, lastErr)
	}

	e.logger.Error("retries exhausted", "label", label, "attempts", attempts, "error", lastErr)

	return res, &types.RetryExhaustedError{Label: label, Attempts: attempts, Cause: lastErr}
}
