package shardgate

import (
	"context"
	"time"

	"github.com/arloliu/shardgate/topology"
	"github.com/arloliu/shardgate/types"
)

// TopologyMonitor produces HA topology snapshots for the router.
//
// *topology.Monitor is the standard implementation. Implementations MUST be
// safe for concurrent use from multiple goroutines.
type TopologyMonitor interface {
	// Current returns the latest snapshot without blocking.
	//
	// Returns:
	//   - topology.Snapshot: The latest snapshot
	//   - bool: false when no snapshot exists yet
	Current() (topology.Snapshot, bool)

	// Refresh queries the control plane now.
	//
	// Parameters:
	//   - ctx: Context for cancellation/timeout
	//
	// Returns:
	//   - topology.Snapshot: The current snapshot, the previous one on error
	//   - bool: true when the topology changed
	//   - error: *types.TopologyError when no usable topology was reported
	Refresh(ctx context.Context) (topology.Snapshot, bool, error)

	// MaybeRefresh refreshes only when the health check interval elapsed.
	MaybeRefresh(ctx context.Context) (topology.Snapshot, bool, error)
}

// FailoverCoordinator waits for a new primary after a write against the
// believed primary failed.
//
// Implementations include failover.Coordinator. Concurrent calls for the same
// believed primary should share one failover sequence.
type FailoverCoordinator interface {
	// Failover returns a snapshot whose primary differs from believedPrimary.
	//
	// Parameters:
	//   - ctx: Context of the failed operation
	//   - believedPrimary: The primary the failed write was routed to
	//
	// Returns:
	//   - topology.Snapshot: The snapshot naming the new primary
	//   - error: *types.FailoverTimeoutError when no new primary appeared in time
	Failover(ctx context.Context, believedPrimary types.NodeDescriptor) (topology.Snapshot, error)
}

// Cache stores query results for CachedQuery.
//
// Implementations include contrib/cache/rediscache. Values are whatever the load
// function of CachedQuery returned; implementations decide how to encode
// them.
type Cache interface {
	// Get returns the cached value.
	//
	// Returns:
	//   - any: The cached value
	//   - error: types.ErrCacheMiss when the key is absent or expired
	Get(ctx context.Context, key string) (any, error)

	// Set stores value under key for ttl. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// StatsSink receives router statistics snapshots.
//
// The router publishes on PublishStats and once more on Close.
type StatsSink interface {
	PublishStats(ctx context.Context, stats types.QueryStatistics) error
}

// StatsSinkFunc adapts a function to StatsSink.
type StatsSinkFunc func(ctx context.Context, stats types.QueryStatistics) error

// PublishStats calls f.
func (f StatsSinkFunc) PublishStats(ctx context.Context, stats types.QueryStatistics) error {
	return f(ctx, stats)
}
