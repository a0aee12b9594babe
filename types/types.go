// Package types provides shared types and errors for the shardgate library.
//
// This is a "leaf" package with no imports from other shardgate packages,
// allowing it to be imported by any package without causing import cycles.
package types

import (
	"net"
	"strconv"
	"time"
)

// NodeRole identifies the role a node plays in the cluster.
type NodeRole string

// String returns the string representation of the NodeRole.
func (r NodeRole) String() string {
	return string(r)
}

const (
	// RoleCoordinator is the non-sharded, write-accepting coordinator node.
	RoleCoordinator NodeRole = "coordinator"
	// RoleWorker is a node serving exactly one shard.
	RoleWorker NodeRole = "worker"
	// RoleReplica is a read-only copy of the coordinator.
	RoleReplica NodeRole = "replica"
	// RolePrimaryHA is the HA primary as reported by the control plane.
	RolePrimaryHA NodeRole = "primary_ha"
	// RoleReplicaHA is an HA replica as reported by the control plane.
	RoleReplicaHA NodeRole = "replica_ha"
)

// Valid reports whether r is one of the known roles.
func (r NodeRole) Valid() bool {
	switch r {
	case RoleCoordinator, RoleWorker, RoleReplica, RolePrimaryHA, RoleReplicaHA:
		return true
	}

	return false
}

// Writable reports whether nodes of this role accept writes.
func (r NodeRole) Writable() bool {
	return r == RoleCoordinator || r == RolePrimaryHA || r == RoleWorker
}

// TLSMode is the libpq sslmode used for a node.
type TLSMode string

const (
	TLSDisable    TLSMode = "disable"
	TLSPrefer     TLSMode = "prefer"
	TLSRequire    TLSMode = "require"
	TLSVerifyCA   TLSMode = "verify-ca"
	TLSVerifyFull TLSMode = "verify-full"
)

// TLSConfig holds per-node TLS settings.
type TLSConfig struct {
	Mode     TLSMode `mapstructure:"mode"`
	CertFile string  `mapstructure:"cert_file"`
	KeyFile  string  `mapstructure:"key_file"`
	RootCert string  `mapstructure:"root_cert"`
}

// NodeDescriptor describes one database endpoint.
//
// Descriptors are treated as immutable values. Two descriptors refer to the
// same node when their Host and Port are equal, regardless of other fields.
type NodeDescriptor struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Database string   `mapstructure:"database"`
	User     string   `mapstructure:"user"`
	Password string   `mapstructure:"password"`
	Role     NodeRole `mapstructure:"role"`

	// ShardID is the shard served by a worker. Nil for non-worker roles.
	ShardID *int `mapstructure:"shard_id"`

	// Weight is informational and reported in health snapshots.
	Weight int `mapstructure:"weight"`

	// MinConns sessions are opened when the node pool is created.
	MinConns int `mapstructure:"min_conns"`

	// MaxConns bounds the number of live sessions to this node.
	MaxConns int `mapstructure:"max_conns"`

	TLS TLSConfig `mapstructure:"tls"`

	// SessionParams are applied with SET on every new session.
	SessionParams map[string]string `mapstructure:"session_params"`
}

// Key returns the identity of the node ("host:port").
func (n NodeDescriptor) Key() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// String returns the node identity with its role.
func (n NodeDescriptor) String() string {
	if n.ShardID != nil {
		return string(n.Role) + "[" + strconv.Itoa(*n.ShardID) + "]@" + n.Key()
	}

	return string(n.Role) + "@" + n.Key()
}

// Equal reports whether n and o refer to the same node.
func (n NodeDescriptor) Equal(o NodeDescriptor) bool {
	return n.Host == o.Host && n.Port == o.Port
}

// WithRole returns a copy of n carrying role r.
func (n NodeDescriptor) WithRole(r NodeRole) NodeDescriptor {
	n.Role = r
	return n
}

// ShardIDOr returns the shard id or def when unset.
func (n NodeDescriptor) ShardIDOr(def int) int {
	if n.ShardID == nil {
		return def
	}

	return *n.ShardID
}

// IntPtr is a small helper for building descriptors with a ShardID.
func IntPtr(v int) *int {
	return &v
}

// Layout is the full set of nodes the router maintains pools for.
type Layout struct {
	Coordinator NodeDescriptor   `mapstructure:"coordinator"`
	Workers     []NodeDescriptor `mapstructure:"workers"`
	Replicas    []NodeDescriptor `mapstructure:"replicas"`
}

// Nodes returns every node of the layout, coordinator first.
func (l Layout) Nodes() []NodeDescriptor {
	nodes := make([]NodeDescriptor, 0, 1+len(l.Workers)+len(l.Replicas))
	nodes = append(nodes, l.Coordinator)
	nodes = append(nodes, l.Workers...)
	nodes = append(nodes, l.Replicas...)

	return nodes
}

// WithTopology returns a copy of l whose coordinator and replicas come from t.
// Workers are kept as they are.
func (l Layout) WithTopology(t ClusterTopology) Layout {
	out := Layout{
		Coordinator: t.Primary,
		Workers:     append([]NodeDescriptor(nil), l.Workers...),
		Replicas:    append([]NodeDescriptor(nil), t.Replicas...),
	}

	return out
}

// ClusterTopology is the HA role mapping reported by the control plane.
//
// A valid topology always has exactly one primary.
type ClusterTopology struct {
	Primary  NodeDescriptor
	Replicas []NodeDescriptor
}

// Equal reports whether both topologies have the same primary and the same
// replica set (order-insensitive).
func (t ClusterTopology) Equal(o ClusterTopology) bool {
	if !t.Primary.Equal(o.Primary) || len(t.Replicas) != len(o.Replicas) {
		return false
	}

	seen := make(map[string]int, len(t.Replicas))
	for _, r := range t.Replicas {
		seen[r.Key()]++
	}
	for _, r := range o.Replicas {
		seen[r.Key()]--
		if seen[r.Key()] < 0 {
			return false
		}
	}

	return true
}

// OperationType classifies an operation for routing.
type OperationType int

const (
	// OpRead is a read-only statement.
	OpRead OperationType = iota
	// OpWrite is a data-modifying statement.
	OpWrite
	// OpDDL is a schema change.
	OpDDL
)

// String returns the lowercase operation name.
func (o OperationType) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpDDL:
		return "ddl"
	default:
		return "unknown"
	}
}

// ReadConsistency expresses where a read may be served from.
type ReadConsistency int

const (
	// ConsistencyAny lets reads go to replicas when available.
	ConsistencyAny ReadConsistency = iota
	// ConsistencyPrimary forces reads to the coordinator/primary.
	ConsistencyPrimary
)

// Options is the per-operation routing configuration.
type Options struct {
	// Operation selects the routing rule.
	Operation OperationType

	// ShardKey routes to a worker when non-nil and workers exist.
	ShardKey any

	// Timeout bounds the whole handle scope. Zero means no extra bound.
	Timeout time.Duration

	// Consistency is only consulted for reads.
	Consistency ReadConsistency
}

// Read returns Options for a read.
func Read() Options { return Options{Operation: OpRead} }

// Write returns Options for a write.
func Write() Options { return Options{Operation: OpWrite} }

// DDL returns Options for a schema change.
func DDL() Options { return Options{Operation: OpDDL} }

// WithShardKey returns a copy of o routed by key.
func (o Options) WithShardKey(key any) Options {
	o.ShardKey = key
	return o
}

// WithTimeout returns a copy of o with a scope timeout.
func (o Options) WithTimeout(d time.Duration) Options {
	o.Timeout = d
	return o
}

// WithConsistency returns a copy of o with the given read consistency.
func (o Options) WithConsistency(c ReadConsistency) Options {
	o.Consistency = c
	return o
}

// RetryConfig configures the retry policy executor.
type RetryConfig struct {
	// MaxRetries is the total number of attempts, including the first one.
	MaxRetries int `mapstructure:"max_retries"`

	// InitialBackoff is the delay after the first failed attempt.
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`

	// MaxBackoff caps the computed delay.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`

	// Multiplier grows the delay per attempt.
	Multiplier float64 `mapstructure:"multiplier"`

	// Jitter scales each delay by a uniform factor in [0.5, 1.0].
	Jitter bool `mapstructure:"jitter"`
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

// QueryStatistics is a point-in-time copy of the router counters.
type QueryStatistics struct {
	Total             uint64 `json:"total"`
	Reads             uint64 `json:"reads"`
	Writes            uint64 `json:"writes"`
	Errors            uint64 `json:"errors"`
	Retries           uint64 `json:"retries"`
	Failovers         uint64 `json:"failovers"`
	TopologyRefreshes uint64 `json:"topology_refreshes"`
}
