// Package shardgate routes database operations across a sharded, replicated
// PostgreSQL-compatible cluster and keeps routing correct across primary
// failovers.
//
// A Router owns one bounded connection pool per node: the coordinator (the
// write-accepting primary), the workers (one per shard) and the read
// replicas. Each operation is routed by its type and optional shard key,
// runs inside a transaction and is retried on transient failures.
//
// # Key Features
//
//   - Scoped handles: commit on success, rollback on error or panic, session always returned
//   - Shard routing: xxhash of the key's canonical string modulo the worker count
//   - Round-robin reads over replicas, with a per-operation primary override
//   - Retries: bounded jittered exponential backoff over an explicit error classification
//   - Two-phase commit across shards with PREPARE TRANSACTION / COMMIT PREPARED
//   - Failover: topology discovery from the HA control plane and atomic pool rebuilds
//
// # Basic Usage
//
//	router, err := shardgate.New(shardgate.Layout{
//	    Coordinator: shardgate.NodeDescriptor{Host: "pg-coord", Port: 5432, Database: "app", User: "router"},
//	    Workers: []shardgate.NodeDescriptor{
//	        {Host: "pg-w0", Port: 5432, Database: "app", User: "router"},
//	        {Host: "pg-w1", Port: 5432, Database: "app", User: "router"},
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer router.Close()
//
//	err = router.Execute(ctx, shardgate.Write().WithShardKey(userID), func(h *shardgate.Handle) error {
//	    _, err := h.ExecContext(ctx, "UPDATE accounts SET balance = balance - $1 WHERE user_id = $2", amount, userID)
//	    return err
//	})
//
// # Routing Rules
//
// Rules are applied in order:
//
//  1. A read with replicas configured goes to replica (reads-1) mod replicas,
//     unless it asks for ConsistencyPrimary.
//  2. An operation with a shard key goes to the worker serving
//     shard.For(key, workers), or to the coordinator when no worker serves
//     that shard.
//  3. Everything else goes to the coordinator.
//
// Changing the number of workers changes the mapping of every key; shardgate
// does not rebalance data.
//
// # Error Handling
//
// Every error type in the types package reports its class through
// ErrorClass(). Transient errors (*types.ConnectError,
// *types.TransientExecutionError, *types.PoolError) are retried by Execute
// and only surface as *types.RetryExhaustedError. Everything else surfaces
// at once with its cause attached:
//
//	err := router.Execute(ctx, opts, fn)
//	var exhausted *types.RetryExhaustedError
//	if errors.As(err, &exhausted) {
//	    log.Printf("%s gave up after %d attempts: %v", exhausted.Label, exhausted.Attempts, exhausted.Cause)
//	}
//
// # Failover
//
// With a topology monitor configured, a transient failure of a write routed
// to the coordinator starts a failover sequence: the control plane is polled
// until it reports a different leader or the failover timeout expires.
// Concurrent writers share one sequence. The pools are then rebuilt and the
// executor retries the write against the new primary. Reads keep using the
// last known replica pools.
//
// # Distributed Transactions
//
// DistributedTransaction is not crash-safe: a crash between prepare and
// commit leaves prepared transactions on the workers. Their names are
// reported in *types.DistributedTransactionError and must be reconciled by
// an operator.
package shardgate
