// Package topology discovers the HA primary and replicas of a cluster from
// its control plane.
//
// # Overview
//
// A [Monitor] queries a list of [Source] implementations in order; the first
// source that answers wins, so a minority of unreachable endpoints is
// tolerated. The member list must contain exactly one running leader.
// Anything else fails the refresh with *types.TopologyError and keeps the
// previous [Snapshot].
//
//	monitor, _ := topology.NewMonitor(
//	    topology.HTTPSources([]string{"pg1:8008", "pg2:8008", "pg3:8008"}),
//	    topology.WithHealthCheckInterval(10*time.Second),
//	    topology.WithNodeTemplate(topology.NodeTemplate{
//	        Database: "app", User: "router", MaxConns: 20,
//	    }),
//	)
//
//	snap, changed, err := monitor.Refresh(ctx)
//
// States move from StateUnknown through StateDiscovering to StateStable or
// StateDegraded.
//
// # Sources
//
//   - [HTTPSource]: GET /cluster on a control plane member
//   - [NATS]: member list stored under a NATS KV key, with push notifications
//   - [Local]: in-memory source for tests and demos
//
// # Member List Format
//
// Both an envelope and a bare array are accepted:
//
//	{"members": [
//	    {"name": "pg1", "host": "10.0.0.1", "port": 5432, "role": "leader", "state": "running", "timeline": 4},
//	    {"name": "pg2", "host": "10.0.0.2", "port": 5432, "role": "replica", "state": "streaming", "lag": 0}
//	]}
//
// Only host, port and role come from the control plane. Database, credentials,
// pool bounds and TLS settings come from the [NodeTemplate].
package topology
