package shardgate

import (
	"time"

	sqladapter "github.com/arloliu/shardgate/adapter/sql"
	"github.com/arloliu/shardgate/internal/logging"
	"github.com/arloliu/shardgate/internal/metrics"
	"github.com/arloliu/shardgate/pool"
	"github.com/arloliu/shardgate/types"
)

const (
	// DefaultFailoverTimeout bounds one failover sequence.
	DefaultFailoverTimeout = 30 * time.Second

	// DefaultFailoverPollInterval is the delay between refreshes during failover.
	DefaultFailoverPollInterval = time.Second

	// DefaultCleanupTimeout bounds ROLLBACK and ROLLBACK PREPARED issued on
	// the exit path, after the caller's context may already be done.
	DefaultCleanupTimeout = 5 * time.Second
)

// RouterConfig holds configuration for a Router.
type RouterConfig struct {
	// Dialer opens the connector of every node pool.
	// Default: sqladapter.NewDialer() (lib/pq)
	Dialer sqladapter.Dialer

	// Retry configures the executor used by Execute and its wrappers.
	Retry types.RetryConfig

	// AcquireTimeout bounds how long an acquire waits for a free session.
	// Default: 5 seconds
	AcquireTimeout time.Duration

	// CleanupTimeout bounds rollback statements on the exit path.
	// Default: 5 seconds
	CleanupTimeout time.Duration

	// Monitor enables topology refreshes and failover. Optional.
	Monitor TopologyMonitor

	// Failover overrides the coordinator built from Monitor. Optional.
	Failover FailoverCoordinator

	// FailoverTimeout and FailoverPollInterval configure the coordinator
	// built from Monitor when Failover is nil.
	FailoverTimeout      time.Duration
	FailoverPollInterval time.Duration

	Cache     Cache
	StatsSink StatsSink
	Logger    types.Logger
	Metrics   types.MetricsCollector
}

// DefaultConfig returns a RouterConfig with sensible defaults.
//
// Returns:
//   - *RouterConfig: Configuration with default settings
func DefaultConfig() *RouterConfig {
	return &RouterConfig{
		Dialer:               sqladapter.NewDialer(),
		Retry:                types.DefaultRetryConfig(),
		AcquireTimeout:       pool.DefaultAcquireTimeout,
		CleanupTimeout:       DefaultCleanupTimeout,
		FailoverTimeout:      DefaultFailoverTimeout,
		FailoverPollInterval: DefaultFailoverPollInterval,
		Logger:               logging.NewNopLogger(),
		Metrics:              metrics.NewNopMetrics(),
	}
}

// Option configures a RouterConfig.
type Option func(*RouterConfig)

// WithDialer sets the dialer used to open node connectors.
//
// Parameters:
//   - dialer: The dialer implementation (e.g., sqladapter.NewDialer(sqladapter.WithDriver("sqlite3")))
//
// Returns:
//   - Option: Configuration option
func WithDialer(dialer sqladapter.Dialer) Option {
	return func(c *RouterConfig) {
		c.Dialer = dialer
	}
}

// WithRetryConfig sets the retry policy.
func WithRetryConfig(cfg types.RetryConfig) Option {
	return func(c *RouterConfig) {
		c.Retry = cfg
	}
}

// WithAcquireTimeout sets how long an acquire waits for a free session.
func WithAcquireTimeout(d time.Duration) Option {
	return func(c *RouterConfig) {
		c.AcquireTimeout = d
	}
}

// WithCleanupTimeout sets the budget of rollback statements issued on the
// exit path.
func WithCleanupTimeout(d time.Duration) Option {
	return func(c *RouterConfig) {
		c.CleanupTimeout = d
	}
}

// WithMonitor enables topology refreshes and failover.
//
// When no FailoverCoordinator is given, one is built over the monitor with
// the configured failover timeout and poll interval.
//
// Parameters:
//   - monitor: The topology monitor (e.g., *topology.Monitor)
//
// Returns:
//   - Option: Configuration option
//
// Example:
//
//	monitor, _ := topology.NewMonitor(topology.HTTPSources(endpoints))
//	router, _ := shardgate.New(layout,
//	    shardgate.WithMonitor(monitor),
//	    shardgate.WithFailover(15*time.Second, 500*time.Millisecond),
//	)
func WithMonitor(monitor TopologyMonitor) Option {
	return func(c *RouterConfig) {
		c.Monitor = monitor
	}
}

// WithFailoverCoordinator sets a custom failover coordinator.
func WithFailoverCoordinator(coordinator FailoverCoordinator) Option {
	return func(c *RouterConfig) {
		c.Failover = coordinator
	}
}

// WithFailover sets the budget and poll interval of the failover coordinator
// built from the monitor.
//
// Parameters:
//   - timeout: Maximum duration of one failover sequence
//   - pollInterval: Delay between topology refreshes
//
// Returns:
//   - Option: Configuration option
func WithFailover(timeout, pollInterval time.Duration) Option {
	return func(c *RouterConfig) {
		c.FailoverTimeout = timeout
		c.FailoverPollInterval = pollInterval
	}
}

// WithCache sets the cache consulted by CachedQuery.
func WithCache(cache Cache) Option {
	return func(c *RouterConfig) {
		c.Cache = cache
	}
}

// WithStatsSink sets the sink receiving statistics snapshots.
func WithStatsSink(sink StatsSink) Option {
	return func(c *RouterConfig) {
		c.StatsSink = sink
	}
}

// WithMetrics sets the metrics collector.
//
// If not set, a no-op collector is used that discards all metrics.
// Use contrib/metrics/vm.New() for VictoriaMetrics integration.
//
// Parameters:
//   - collector: The metrics collector implementation
//
// Returns:
//   - Option: Configuration option
func WithMetrics(collector types.MetricsCollector) Option {
	return func(c *RouterConfig) {
		c.Metrics = collector
	}
}

// WithLogger sets the structured logger.
//
// If not set, a no-op logger is used that discards all messages.
// *slog.Logger satisfies the interface; contrib/logging/zap adapts zap.
//
// Parameters:
//   - logger: The logger implementation
//
// Returns:
//   - Option: Configuration option
func WithLogger(logger types.Logger) Option {
	return func(c *RouterConfig) {
		c.Logger = logger
	}
}
