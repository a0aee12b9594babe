// Package vm provides a VictoriaMetrics-based implementation of the MetricsCollector interface.
//
// This package uses github.com/VictoriaMetrics/metrics for lightweight,
// Prometheus-compatible metrics collection.
//
// # Basic Usage
//
// Create a collector with default prefix "shardgate":
//
//	collector := vm.New()
//	router, _ := shardgate.New(layout,
//	    shardgate.WithMetrics(collector),
//	)
//
// # Exposing Metrics
//
// Use the Handler method to expose metrics via HTTP:
//
//	http.HandleFunc("/metrics", collector.Handler)
//	http.ListenAndServe(":8080", nil)
//
// Or use WritePrometheus to write metrics to a custom writer:
//
//	collector.WritePrometheus(w)
//
// # Metrics Provided
//
// Operations:
//   - {prefix}_operations_total{op,role} - Counter of routed operations
//   - {prefix}_operation_errors_total{op,role} - Counter of failed operations
//   - {prefix}_operation_duration_seconds{op,role} - Histogram of handle scope latencies
//   - {prefix}_retries_total - Counter of retried attempts
//
// Pools:
//   - {prefix}_pool_acquire_wait_seconds{node} - Histogram of acquire waits
//   - {prefix}_pool_exhausted_total{node} - Counter of acquire timeouts
//
// Topology and failover:
//   - {prefix}_topology_refresh_total - Counter of successful refreshes
//   - {prefix}_topology_refresh_errors_total - Counter of failed refreshes
//   - {prefix}_topology_changes_total - Counter of primary or replica set changes
//   - {prefix}_failover_total - Counter of failover sequences
//   - {prefix}_failover_duration_seconds - Histogram of failover sequence durations
//
// Distributed transactions:
//   - {prefix}_distributed_commits_total - Counter of committed transactions
//   - {prefix}_distributed_aborts_total{phase} - Counter of aborted transactions
//
// # Performance Notes
//
// Series with a fixed label set are pre-created at initialization using the
// NewXXX pattern. Per-node pool series use GetOrCreateXXX since nodes come
// and go with topology changes.
package vm
