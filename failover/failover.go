// Package failover drives topology refreshes after a write against the
// believed primary failed.
//
// The coordinator only consumes snapshots produced by the topology monitor
// and hands the new snapshot back to its caller; it never touches pools.
package failover

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/arloliu/shardgate/internal/logging"
	"github.com/arloliu/shardgate/internal/metrics"
	"github.com/arloliu/shardgate/topology"
	"github.com/arloliu/shardgate/types"
)

// Monitor is the part of *topology.Monitor the coordinator needs.
type Monitor interface {
	Current() (topology.Snapshot, bool)
	Refresh(ctx context.Context) (topology.Snapshot, bool, error)
}

var _ Monitor = (*topology.Monitor)(nil)

// errPrimaryUnchanged keeps the poll loop going.
var errPrimaryUnchanged = errors.New("primary unchanged")

// Config holds coordinator configuration.
type Config struct {
	// Timeout bounds one failover sequence.
	// Default: 30 seconds
	Timeout time.Duration

	// PollInterval is the fixed delay between refreshes.
	// Default: 1 second
	PollInterval time.Duration

	Logger  types.Logger
	Metrics types.MetricsCollector
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		PollInterval: time.Second,
	}
}

// Option configures a Coordinator.
type Option func(*Config)

// WithTimeout sets the failover budget.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithPollInterval sets the delay between refreshes.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l types.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// Coordinator runs failover sequences. Concurrent requests for the same
// believed primary share one sequence.
type Coordinator struct {
	monitor Monitor
	config  Config
	logger  types.Logger
	metrics types.MetricsCollector
	group   singleflight.Group
}

// New creates a coordinator over monitor.
func New(monitor Monitor, opts ...Option) *Coordinator {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Coordinator{
		monitor: monitor,
		config:  cfg,
		logger:  logging.OrNop(cfg.Logger),
		metrics: metrics.OrNop(cfg.Metrics),
	}
}

// Config returns the coordinator configuration.
func (c *Coordinator) Config() Config {
	return c.config
}

// Failover waits for the control plane to report a primary other than
// believedPrimary.
//
// When the current snapshot already names a different primary, it is
// returned at once without a sequence. Otherwise the monitor is refreshed
// every PollInterval until the primary changes or Timeout elapses.
//
// Returns:
//   - topology.Snapshot: The snapshot naming the new primary
//   - error: *types.FailoverTimeoutError when no new primary appeared in time
func (c *Coordinator) Failover(ctx context.Context, believedPrimary types.NodeDescriptor) (topology.Snapshot, error) {
	if snap, ok := c.monitor.Current(); ok && !snap.Topology.Primary.Equal(believedPrimary) {
		return snap, nil
	}

	ch := c.group.DoChan(believedPrimary.Key(), func() (any, error) {
		return c.run(ctx, believedPrimary)
	})

	select {
	case <-ctx.Done():
		return topology.Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return topology.Snapshot{}, res.Err
		}

		return res.Val.(topology.Snapshot), nil
	}
}

// run is one failover sequence.
func (c *Coordinator) run(ctx context.Context, believed types.NodeDescriptor) (topology.Snapshot, error) {
	start := time.Now()
	c.metrics.IncFailover()
	c.logger.Warn("failover started", "primary", believed.Key(), "timeout", c.config.Timeout)

	seqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.Timeout)
	defer cancel()

	var lastErr error
	poll := func() (topology.Snapshot, error) {
		snap, _, err := c.monitor.Refresh(seqCtx)
		if err != nil {
			lastErr = err
			return snap, err
		}
		if snap.Topology.Primary.Equal(believed) {
			lastErr = nil
			return snap, errPrimaryUnchanged
		}

		return snap, nil
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(c.config.PollInterval), seqCtx)
	snap, err := backoff.RetryWithData(poll, b)

	c.metrics.ObserveFailoverDuration(time.Since(start).Seconds())

	if err != nil {
		c.logger.Error("failover timed out", "primary", believed.Key(), "elapsed", time.Since(start), "error", lastErr)

		return topology.Snapshot{}, &types.FailoverTimeoutError{
			Primary: believed.Key(),
			Timeout: c.config.Timeout.String(),
			Cause:   lastErr,
		}
	}

	c.logger.Info("failover completed",
		"old_primary", believed.Key(),
		"new_primary", snap.Topology.Primary.Key(),
		"version", snap.Version,
		"elapsed", time.Since(start),
	)

	return snap, nil
}
