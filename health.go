package shardgate

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/shardgate/pool"
	"github.com/arloliu/shardgate/topology"
	"github.com/arloliu/shardgate/types"
)

// NodeHealth is the health of one node pool.
type NodeHealth struct {
	Node    string         `json:"node"`
	Role    types.NodeRole `json:"role"`
	ShardID *int           `json:"shard_id,omitempty"`
	Weight  int            `json:"weight,omitempty"`
	Healthy bool           `json:"healthy"`
	Error   string         `json:"error,omitempty"`
	Latency time.Duration  `json:"latency"`
	Pool    pool.Stats     `json:"pool"`
}

// HealthReport is a point-in-time view of the router.
type HealthReport struct {
	// Healthy is true when every node answered its ping.
	Healthy bool `json:"healthy"`

	// TopologyState is the monitor state, empty without a monitor.
	TopologyState   string `json:"topology_state,omitempty"`
	TopologyVersion uint64 `json:"topology_version"`

	Nodes     []NodeHealth          `json:"nodes"`
	Stats     types.QueryStatistics `json:"stats"`
	CheckedAt time.Time             `json:"checked_at"`
}

// Health pings every node pool concurrently.
//
// A failed ping marks the node unhealthy; Health itself never fails. The
// session used for a failed ping is discarded.
func (r *Router) Health(ctx context.Context) HealthReport {
	set := r.pools.Load()
	pools := set.all()

	report := HealthReport{
		Healthy:   true,
		Nodes:     make([]NodeHealth, len(pools)),
		CheckedAt: time.Now(),
	}

	var g errgroup.Group
	for i, p := range pools {
		g.Go(func() error {
			node := p.Node()
			start := time.Now()
			err := p.Ping(ctx)

			nh := NodeHealth{
				Node:    node.Key(),
				Role:    node.Role,
				ShardID: node.ShardID,
				Weight:  node.Weight,
				Healthy: err == nil,
				Latency: time.Since(start),
				Pool:    p.Stats(),
			}
			if err != nil {
				nh.Error = err.Error()
			}
			report.Nodes[i] = nh

			return nil
		})
	}
	_ = g.Wait()

	for _, nh := range report.Nodes {
		if !nh.Healthy {
			report.Healthy = false
		}
	}

	if r.monitor != nil {
		if snap, ok := r.monitor.Current(); ok {
			report.TopologyVersion = snap.Version
		}
		if s, ok := r.monitor.(interface{ State() topology.State }); ok {
			report.TopologyState = s.State().String()
		}
	}
	report.Stats = r.Stats()

	return report
}
