// Package types provides shared types and error definitions for the shardgate library.
//
// This is a leaf package with zero shardgate imports to prevent import cycles.
// All packages in shardgate can safely import this package.
//
// # Nodes
//
// NodeDescriptor describes one database endpoint. Node identity is (Host, Port):
//
//	coord := types.NodeDescriptor{Host: "10.0.0.1", Port: 5432, Role: types.RoleCoordinator}
//	w0 := types.NodeDescriptor{Host: "10.0.0.2", Port: 5432, Role: types.RoleWorker, ShardID: types.IntPtr(0)}
//
// # Errors
//
// Every error type reports an ErrorClass. The retry executor only retries
// ClassTransient errors:
//
//   - ConnectError, TransientExecutionError, PoolError: transient
//   - ConfigurationError, NonTransientExecutionError, TopologyError,
//     DistributedTransactionError, FailoverTimeoutError, RetryExhaustedError: non-transient
//
// Sentinel errors are provided for common failure scenarios:
//
//   - ErrRouterClosed: Operation attempted on a closed router
//   - ErrPoolExhausted: No session became available within the acquire timeout
//   - ErrNoPrimary: The control plane reported no leader
//   - ErrRetriesExhausted: Every attempt failed transiently
package types
