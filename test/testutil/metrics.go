package testutil

import (
	"sync"
	"sync/atomic"

	"github.com/arloliu/shardgate/types"
)

// TestMetricsCollector is a test implementation of types.MetricsCollector
// that tracks method calls for assertion in tests.
type TestMetricsCollector struct {
	mu sync.RWMutex

	// Operations, keyed by "op/role"
	Operations      map[string]int64
	OperationErrors map[string]int64

	// Pools, keyed by node
	AcquireWaits  map[string][]float64
	PoolExhausted map[string]int64

	// Distributed transaction aborts, keyed by phase
	DistributedAborts map[types.TxPhase]int64

	// Atomic counters for quick access
	retries              atomic.Int64
	topologyRefreshes    atomic.Int64
	topologyRefreshErrs  atomic.Int64
	topologyChanges      atomic.Int64
	failovers            atomic.Int64
	distributedCommits   atomic.Int64
	failoverObservations atomic.Int64
}

// Compile-time assertion that TestMetricsCollector implements types.MetricsCollector.
var _ types.MetricsCollector = (*TestMetricsCollector)(nil)

// NewTestMetricsCollector creates a new test metrics collector.
func NewTestMetricsCollector() *TestMetricsCollector {
	return &TestMetricsCollector{
		Operations:        make(map[string]int64),
		OperationErrors:   make(map[string]int64),
		AcquireWaits:      make(map[string][]float64),
		PoolExhausted:     make(map[string]int64),
		DistributedAborts: make(map[types.TxPhase]int64),
	}
}

func opKey(op types.OperationType, role types.NodeRole) string {
	return op.String() + "/" + string(role)
}

// ----------------------
// Operations
// ----------------------

func (m *TestMetricsCollector) IncOperation(op types.OperationType, role types.NodeRole) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Operations[opKey(op, role)]++
}

func (m *TestMetricsCollector) IncOperationError(op types.OperationType, role types.NodeRole) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OperationErrors[opKey(op, role)]++
}

func (m *TestMetricsCollector) ObserveOperationDuration(_ types.OperationType, _ types.NodeRole, _ float64) {
}

func (m *TestMetricsCollector) IncRetry() { m.retries.Add(1) }

// ----------------------
// Pools
// ----------------------

func (m *TestMetricsCollector) ObserveAcquireWait(node string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AcquireWaits[node] = append(m.AcquireWaits[node], seconds)
}

func (m *TestMetricsCollector) IncPoolExhausted(node string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PoolExhausted[node]++
}

// ----------------------
// Topology and failover
// ----------------------

func (m *TestMetricsCollector) IncTopologyRefresh()      { m.topologyRefreshes.Add(1) }
func (m *TestMetricsCollector) IncTopologyRefreshError() { m.topologyRefreshErrs.Add(1) }
func (m *TestMetricsCollector) IncTopologyChange()       { m.topologyChanges.Add(1) }
func (m *TestMetricsCollector) IncFailover()             { m.failovers.Add(1) }

func (m *TestMetricsCollector) ObserveFailoverDuration(_ float64) {
	m.failoverObservations.Add(1)
}

// ----------------------
// Distributed transactions
// ----------------------

func (m *TestMetricsCollector) IncDistributedCommit() { m.distributedCommits.Add(1) }

func (m *TestMetricsCollector) IncDistributedAbort(phase types.TxPhase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DistributedAborts[phase]++
}

// ----------------------
// Accessors
// ----------------------

// GetOperations returns the operation count for op and role.
func (m *TestMetricsCollector) GetOperations(op types.OperationType, role types.NodeRole) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Operations[opKey(op, role)]
}

// GetOperationErrors returns the failed operation count for op and role.
func (m *TestMetricsCollector) GetOperationErrors(op types.OperationType, role types.NodeRole) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.OperationErrors[opKey(op, role)]
}

// GetPoolExhausted returns the exhaustion count for a node.
func (m *TestMetricsCollector) GetPoolExhausted(node string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PoolExhausted[node]
}

// GetDistributedAborts returns the abort count for a phase.
func (m *TestMetricsCollector) GetDistributedAborts(phase types.TxPhase) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.DistributedAborts[phase]
}

// GetRetries returns the retry count.
func (m *TestMetricsCollector) GetRetries() int64 { return m.retries.Load() }

// GetTopologyRefreshes returns the successful refresh count.
func (m *TestMetricsCollector) GetTopologyRefreshes() int64 { return m.topologyRefreshes.Load() }

// GetTopologyRefreshErrors returns the failed refresh count.
func (m *TestMetricsCollector) GetTopologyRefreshErrors() int64 { return m.topologyRefreshErrs.Load() }

// GetTopologyChanges returns the number of observed topology changes.
func (m *TestMetricsCollector) GetTopologyChanges() int64 { return m.topologyChanges.Load() }

// GetFailovers returns the failover count.
func (m *TestMetricsCollector) GetFailovers() int64 { return m.failovers.Load() }

// GetDistributedCommits returns the committed distributed transaction count.
func (m *TestMetricsCollector) GetDistributedCommits() int64 { return m.distributedCommits.Load() }

// Reset clears all collected metrics.
func (m *TestMetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Operations = make(map[string]int64)
	m.OperationErrors = make(map[string]int64)
	m.AcquireWaits = make(map[string][]float64)
	m.PoolExhausted = make(map[string]int64)
	m.DistributedAborts = make(map[types.TxPhase]int64)

	m.retries.Store(0)
	m.topologyRefreshes.Store(0)
	m.topologyRefreshErrs.Store(0)
	m.topologyChanges.Store(0)
	m.failovers.Store(0)
	m.distributedCommits.Store(0)
	m.failoverObservations.Store(0)
}
