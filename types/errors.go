package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells the retry executor what to do with a failure.
type ErrorClass int

const (
	// ClassNonTransient failures are surfaced immediately and never retried.
	ClassNonTransient ErrorClass = iota
	// ClassTransient failures are likely to succeed on retry.
	ClassTransient
)

// String returns the class name.
func (c ErrorClass) String() string {
	if c == ClassTransient {
		return "transient"
	}
	return "non-transient"
}

// Classified is implemented by errors that know their own class.
type Classified interface {
	error
	ErrorClass() ErrorClass
}

// Sentinel errors for common failure scenarios.
var (
	// ErrRouterClosed indicates an operation was attempted on a closed router.
	ErrRouterClosed = errors.New("shardgate: router is closed")

	// ErrPoolExhausted indicates no session became available within the acquire timeout.
	ErrPoolExhausted = errors.New("shardgate: connection pool exhausted")

	// ErrPoolClosed indicates the pool was closed, usually by a topology change.
	ErrPoolClosed = errors.New("shardgate: connection pool is closed")

	// ErrNoMembers indicates the control plane reported an empty member list.
	ErrNoMembers = errors.New("shardgate: control plane reported no members")

	// ErrNoPrimary indicates the control plane reported no leader.
	ErrNoPrimary = errors.New("shardgate: control plane reported no primary")

	// ErrMultiplePrimaries indicates the control plane reported more than one leader.
	ErrMultiplePrimaries = errors.New("shardgate: control plane reported more than one primary")

	// ErrRetriesExhausted indicates every retry attempt failed with a transient error.
	ErrRetriesExhausted = errors.New("shardgate: retries exhausted")

	// ErrNilDialer indicates that a nil dialer was provided.
	ErrNilDialer = errors.New("shardgate: dialer cannot be nil")

	// ErrCacheMiss is returned by caches when a key is absent or expired.
	ErrCacheMiss = errors.New("shardgate: cache miss")

	// ErrNoCache indicates a cached query was requested without a configured cache.
	ErrNoCache = errors.New("shardgate: no cache configured")

	// ErrNoMonitor indicates a topology operation was requested without a monitor.
	ErrNoMonitor = errors.New("shardgate: no topology monitor configured")

	// ErrNoShardKeys indicates a distributed transaction was requested without shard keys.
	ErrNoShardKeys = errors.New("shardgate: distributed transaction needs at least one shard key")
)

// ConfigurationError reports an invalid configuration. It is raised before any
// pool is constructed.
type ConfigurationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return "shardgate: invalid configuration: " + e.Field + ": " + e.Reason
}

// ErrorClass implements Classified.
func (e *ConfigurationError) ErrorClass() ErrorClass { return ClassNonTransient }

// ConnectError wraps a failure to establish a session to a node.
type ConnectError struct {
	Node  string
	Cause error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	return "shardgate: connect to " + e.Node + " failed: " + e.Cause.Error()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ConnectError) Unwrap() error { return e.Cause }

// ErrorClass implements Classified.
func (e *ConnectError) ErrorClass() ErrorClass { return ClassTransient }

// TransientExecutionError wraps a statement failure that may succeed on retry.
type TransientExecutionError struct {
	Node  string
	Cause error
}

// Error implements the error interface.
func (e *TransientExecutionError) Error() string {
	return "shardgate: transient failure on " + e.Node + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *TransientExecutionError) Unwrap() error { return e.Cause }

// ErrorClass implements Classified.
func (e *TransientExecutionError) ErrorClass() ErrorClass { return ClassTransient }

// NonTransientExecutionError wraps a statement failure that will not succeed
// on retry, such as a constraint violation or a syntax error.
type NonTransientExecutionError struct {
	Node  string
	Cause error
}

// Error implements the error interface.
func (e *NonTransientExecutionError) Error() string {
	return "shardgate: statement failed on " + e.Node + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *NonTransientExecutionError) Unwrap() error { return e.Cause }

// ErrorClass implements Classified.
func (e *NonTransientExecutionError) ErrorClass() ErrorClass { return ClassNonTransient }

// PoolError wraps ErrPoolExhausted or ErrPoolClosed with the node it came from.
type PoolError struct {
	Node  string
	Cause error
}

// Error implements the error interface.
func (e *PoolError) Error() string {
	return "shardgate: pool " + e.Node + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PoolError) Unwrap() error { return e.Cause }

// ErrorClass implements Classified. Exhaustion and a pool closed under a
// topology change are both worth another attempt.
func (e *PoolError) ErrorClass() ErrorClass { return ClassTransient }

// TopologyError reports that no control-plane endpoint produced a usable topology.
type TopologyError struct {
	// Endpoints that were tried, in order.
	Endpoints []string

	Cause error
}

// Error implements the error interface.
func (e *TopologyError) Error() string {
	msg := "shardgate: topology refresh failed"
	if len(e.Endpoints) > 0 {
		msg += " (" + strings.Join(e.Endpoints, ", ") + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}

	return msg
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *TopologyError) Unwrap() error { return e.Cause }

// ErrorClass implements Classified.
func (e *TopologyError) ErrorClass() ErrorClass { return ClassNonTransient }

// TxPhase names the stage of a distributed transaction.
type TxPhase string

const (
	PhaseBegin    TxPhase = "begin"
	PhasePrepare  TxPhase = "prepare"
	PhaseCommit   TxPhase = "commit"
	PhaseRollback TxPhase = "rollback"
)

// DistributedTransactionError reports a failed two-phase commit.
//
// The final state across shards is unknown when Phase is PhaseCommit. Shards
// listed in Committed are durable; the prepared transactions named by
// PreparedNames may remain on their nodes and need manual reconciliation.
type DistributedTransactionError struct {
	TxID  string
	Phase TxPhase

	// Prepared lists shards that reached the prepared state.
	Prepared []int

	// Committed lists shards whose COMMIT PREPARED succeeded.
	Committed []int

	// PreparedNames maps shard id to the prepared transaction name.
	PreparedNames map[int]string

	Cause error
}

// Error implements the error interface.
func (e *DistributedTransactionError) Error() string {
	return fmt.Sprintf("shardgate: distributed transaction %s failed during %s (prepared=%v committed=%v): %v",
		e.TxID, e.Phase, e.Prepared, e.Committed, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *DistributedTransactionError) Unwrap() error { return e.Cause }

// ErrorClass implements Classified.
func (e *DistributedTransactionError) ErrorClass() ErrorClass { return ClassNonTransient }

// FailoverTimeoutError reports that no new primary appeared within the failover budget.
type FailoverTimeoutError struct {
	// Primary is the node believed to be primary when the failover started.
	Primary string
	Timeout string
	Cause   error
}

// Error implements the error interface.
func (e *FailoverTimeoutError) Error() string {
	msg := "shardgate: no new primary replaced " + e.Primary + " within " + e.Timeout
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}

	return msg
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *FailoverTimeoutError) Unwrap() error { return e.Cause }

// ErrorClass implements Classified.
func (e *FailoverTimeoutError) ErrorClass() ErrorClass { return ClassNonTransient }

// RetryExhaustedError is returned when every attempt failed transiently.
type RetryExhaustedError struct {
	Label    string
	Attempts int
	Cause    error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("shardgate: %s failed after %d attempts: %v", e.Label, e.Attempts, e.Cause)
}

// Unwrap returns the sentinel and the last cause.
func (e *RetryExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Cause}
}

// ErrorClass implements Classified. The executor already spent its budget.
func (e *RetryExhaustedError) ErrorClass() ErrorClass { return ClassNonTransient }
