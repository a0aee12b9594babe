package types

// MetricsCollector defines methods for collecting operational metrics.
//
// Node-scoped methods accept the node role and key ("host:port") for labeling.
// Implementations should be thread-safe as methods may be called concurrently.
//
// Example usage with VictoriaMetrics (via contrib/metrics/vm):
//
//	import vmmetrics "github.com/arloliu/shardgate/contrib/metrics/vm"
//
//	collector := vmmetrics.New(vmmetrics.WithPrefix("myapp"))
//	router, _ := shardgate.New(layout,
//	    shardgate.WithMetrics(collector),
//	)
//
//	// Expose metrics via HTTP
//	http.HandleFunc("/metrics", collector.Handler)
type MetricsCollector interface {
	// ----------------------
	// Operations
	// ----------------------

	// IncOperation increments the operation counter for the given type and role.
	IncOperation(op OperationType, role NodeRole)

	// IncOperationError increments the failed operation counter.
	IncOperationError(op OperationType, role NodeRole)

	// ObserveOperationDuration records an operation duration in seconds.
	ObserveOperationDuration(op OperationType, role NodeRole, seconds float64)

	// IncRetry increments the retry counter.
	IncRetry()

	// ----------------------
	// Pools
	// ----------------------

	// ObserveAcquireWait records how long an acquire waited for a session, in seconds.
	ObserveAcquireWait(node string, seconds float64)

	// IncPoolExhausted increments the counter when an acquire times out.
	IncPoolExhausted(node string)

	// ----------------------
	// Topology and failover
	// ----------------------

	// IncTopologyRefresh increments the successful refresh counter.
	IncTopologyRefresh()

	// IncTopologyRefreshError increments the failed refresh counter.
	IncTopologyRefreshError()

	// IncTopologyChange increments the counter when pools are rebuilt.
	IncTopologyChange()

	// IncFailover increments the failover sequence counter.
	IncFailover()

	// ObserveFailoverDuration records a failover sequence duration in seconds.
	ObserveFailoverDuration(seconds float64)

	// ----------------------
	// Distributed transactions
	// ----------------------

	// IncDistributedCommit increments the counter of committed distributed transactions.
	IncDistributedCommit()

	// IncDistributedAbort increments the counter of aborted distributed transactions.
	IncDistributedAbort(phase TxPhase)
}
