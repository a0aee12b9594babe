package shardgate

import "github.com/arloliu/shardgate/types"

// Type aliases for convenience - re-export from types package.
type (
	NodeDescriptor   = types.NodeDescriptor
	NodeRole         = types.NodeRole
	Layout           = types.Layout
	Options          = types.Options
	OperationType    = types.OperationType
	ReadConsistency  = types.ReadConsistency
	RetryConfig      = types.RetryConfig
	QueryStatistics  = types.QueryStatistics
	Logger           = types.Logger
	MetricsCollector = types.MetricsCollector
)

// Re-export node role constants for convenience.
const (
	RoleCoordinator = types.RoleCoordinator
	RoleWorker      = types.RoleWorker
	RoleReplica     = types.RoleReplica
	RolePrimaryHA   = types.RolePrimaryHA
	RoleReplicaHA   = types.RoleReplicaHA
)

// Re-export operation type constants for convenience.
const (
	OpRead  = types.OpRead
	OpWrite = types.OpWrite
	OpDDL   = types.OpDDL
)

// Re-export read consistency constants for convenience.
const (
	ConsistencyAny     = types.ConsistencyAny
	ConsistencyPrimary = types.ConsistencyPrimary
)

// Read returns Options for a read.
func Read() Options { return types.Read() }

// Write returns Options for a write.
func Write() Options { return types.Write() }

// DDL returns Options for a schema change.
func DDL() Options { return types.DDL() }
