package vm

import (
	"fmt"
	"io"
	"net/http"

	"github.com/VictoriaMetrics/metrics"

	"github.com/arloliu/shardgate/types"
)

// Option configures a Collector.
type Option func(*Collector)

// WithPrefix sets the metric name prefix.
//
// Default: "shardgate"
//
// Parameters:
//   - prefix: The prefix to use for all metric names
//
// Returns:
//   - Option: A configuration option
func WithPrefix(prefix string) Option {
	return func(c *Collector) {
		c.prefix = prefix
	}
}

// WithMetricsSet sets the metrics set to use.
//
// If provided, the collector will register metrics with this set instead of
// creating a new one. The caller is responsible for exposing this set
// (e.g., via metrics.WritePrometheus or a custom handler).
//
// Parameters:
//   - set: The metrics set to use
//
// Returns:
//   - Option: A configuration option
func WithMetricsSet(set *metrics.Set) Option {
	return func(c *Collector) {
		c.set = set
	}
}

var (
	operations = []types.OperationType{types.OpRead, types.OpWrite, types.OpDDL}
	roles      = []types.NodeRole{
		types.RoleCoordinator,
		types.RoleWorker,
		types.RoleReplica,
		types.RolePrimaryHA,
		types.RoleReplicaHA,
	}
	phases = []types.TxPhase{types.PhaseBegin, types.PhasePrepare, types.PhaseCommit, types.PhaseRollback}
)

type opKey struct {
	op   types.OperationType
	role types.NodeRole
}

// opMetrics holds the series of one operation type and node role.
type opMetrics struct {
	total    *metrics.Counter
	errors   *metrics.Counter
	duration *metrics.Histogram
}

// Collector implements types.MetricsCollector using VictoriaMetrics.
//
// Operation, topology and transaction series are pre-created at
// initialization. Per-node pool series are created on first use since the
// node set changes with the topology. Thread-safe for concurrent use.
type Collector struct {
	set    *metrics.Set
	prefix string

	ops map[opKey]opMetrics

	retries *metrics.Counter

	topologyRefreshes     *metrics.Counter
	topologyRefreshErrors *metrics.Counter
	topologyChanges       *metrics.Counter
	failovers             *metrics.Counter
	failoverDuration      *metrics.Histogram

	distributedCommits *metrics.Counter
	distributedAborts  map[types.TxPhase]*metrics.Counter
}

// Compile-time assertion that Collector implements types.MetricsCollector.
var _ types.MetricsCollector = (*Collector)(nil)

// New creates a new VictoriaMetrics-based metrics collector.
//
// The collector creates its own metrics.Set and registers it globally unless
// WithMetricsSet is given.
//
// Parameters:
//   - opts: Configuration options (e.g., WithPrefix)
//
// Returns:
//   - *Collector: A new metrics collector ready for use
//
// Example:
//
//	collector := vm.New(vm.WithPrefix("myapp"))
//	router, _ := shardgate.New(layout,
//	    shardgate.WithMetrics(collector),
//	)
func New(opts ...Option) *Collector {
	c := &Collector{
		prefix: "shardgate",
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.set == nil {
		c.set = metrics.NewSet()
		metrics.RegisterSet(c.set)
	}

	c.initMetrics()

	return c
}

// initMetrics pre-creates every fixed-label series with the configured prefix.
func (c *Collector) initMetrics() {
	p := c.prefix

	c.ops = make(map[opKey]opMetrics, len(operations)*len(roles))
	for _, op := range operations {
		for _, role := range roles {
			labels := fmt.Sprintf(`{op="%s",role="%s"}`, op, role)
			c.ops[opKey{op, role}] = opMetrics{
				total:    c.set.NewCounter(p + "_operations_total" + labels),
				errors:   c.set.NewCounter(p + "_operation_errors_total" + labels),
				duration: c.set.NewHistogram(p + "_operation_duration_seconds" + labels),
			}
		}
	}

	c.retries = c.set.NewCounter(p + "_retries_total")

	c.topologyRefreshes = c.set.NewCounter(p + "_topology_refresh_total")
	c.topologyRefreshErrors = c.set.NewCounter(p + "_topology_refresh_errors_total")
	c.topologyChanges = c.set.NewCounter(p + "_topology_changes_total")
	c.failovers = c.set.NewCounter(p + "_failover_total")
	c.failoverDuration = c.set.NewHistogram(p + "_failover_duration_seconds")

	c.distributedCommits = c.set.NewCounter(p + "_distributed_commits_total")
	c.distributedAborts = make(map[types.TxPhase]*metrics.Counter, len(phases))
	for _, phase := range phases {
		c.distributedAborts[phase] = c.set.NewCounter(fmt.Sprintf(`%s_distributed_aborts_total{phase="%s"}`, p, phase))
	}
}

// Set returns the metrics set the collector registers with.
func (c *Collector) Set() *metrics.Set {
	return c.set
}

// Handler returns an HTTP handler that exposes metrics in Prometheus format.
//
// Example:
//
//	http.HandleFunc("/metrics", collector.Handler)
func (c *Collector) Handler(w http.ResponseWriter, _ *http.Request) {
	c.set.WritePrometheus(w)
}

// WritePrometheus writes all metrics in Prometheus format to the given writer.
//
// Parameters:
//   - w: The writer to write metrics to
func (c *Collector) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}

// ----------------------
// Operations
// ----------------------

// op returns the series for op and role. Unknown combinations are created on
// first use.
func (c *Collector) op(op types.OperationType, role types.NodeRole) opMetrics {
	if m, ok := c.ops[opKey{op, role}]; ok {
		return m
	}

	labels := fmt.Sprintf(`{op="%s",role="%s"}`, op, role)

	return opMetrics{
		total:    c.set.GetOrCreateCounter(c.prefix + "_operations_total" + labels),
		errors:   c.set.GetOrCreateCounter(c.prefix + "_operation_errors_total" + labels),
		duration: c.set.GetOrCreateHistogram(c.prefix + "_operation_duration_seconds" + labels),
	}
}

// IncOperation increments the operation counter.
func (c *Collector) IncOperation(op types.OperationType, role types.NodeRole) {
	c.op(op, role).total.Inc()
}

// IncOperationError increments the failed operation counter.
func (c *Collector) IncOperationError(op types.OperationType, role types.NodeRole) {
	c.op(op, role).errors.Inc()
}

// ObserveOperationDuration records an operation duration in seconds.
func (c *Collector) ObserveOperationDuration(op types.OperationType, role types.NodeRole, seconds float64) {
	c.op(op, role).duration.Update(seconds)
}

// IncRetry increments the retry counter.
func (c *Collector) IncRetry() {
	c.retries.Inc()
}

// ----------------------
// Pools
// ----------------------

// ObserveAcquireWait records how long an acquire waited for a session.
func (c *Collector) ObserveAcquireWait(node string, seconds float64) {
	c.set.GetOrCreateHistogram(fmt.Sprintf(`%s_pool_acquire_wait_seconds{node="%s"}`, c.prefix, node)).Update(seconds)
}

// IncPoolExhausted increments the counter when an acquire times out.
func (c *Collector) IncPoolExhausted(node string) {
	c.set.GetOrCreateCounter(fmt.Sprintf(`%s_pool_exhausted_total{node="%s"}`, c.prefix, node)).Inc()
}

// ----------------------
// Topology and failover
// ----------------------

// IncTopologyRefresh increments the successful refresh counter.
func (c *Collector) IncTopologyRefresh() {
	c.topologyRefreshes.Inc()
}

// IncTopologyRefreshError increments the failed refresh counter.
func (c *Collector) IncTopologyRefreshError() {
	c.topologyRefreshErrors.Inc()
}

// IncTopologyChange increments the topology change counter.
func (c *Collector) IncTopologyChange() {
	c.topologyChanges.Inc()
}

// IncFailover increments the failover sequence counter.
func (c *Collector) IncFailover() {
	c.failovers.Inc()
}

// ObserveFailoverDuration records a failover sequence duration in seconds.
func (c *Collector) ObserveFailoverDuration(seconds float64) {
	c.failoverDuration.Update(seconds)
}

// ----------------------
// Distributed transactions
// ----------------------

// IncDistributedCommit increments the committed distributed transaction counter.
func (c *Collector) IncDistributedCommit() {
	c.distributedCommits.Inc()
}

// IncDistributedAbort increments the aborted distributed transaction counter.
func (c *Collector) IncDistributedAbort(phase types.TxPhase) {
	if ctr, ok := c.distributedAborts[phase]; ok {
		ctr.Inc()
		return
	}
	c.set.GetOrCreateCounter(fmt.Sprintf(`%s_distributed_aborts_total{phase="%s"}`, c.prefix, phase)).Inc()
}
