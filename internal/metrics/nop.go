// Package metrics provides internal metrics utilities for shardgate.
package metrics

import "github.com/arloliu/shardgate/types"

// NopMetrics is a no-op metrics collector that discards all metrics.
//
// This is used as the default metrics collector when no collector is configured,
// avoiding nil checks throughout the codebase.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements types.MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNopMetrics creates a new no-op metrics collector.
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

// OrNop returns m, or a NopMetrics when m is nil.
func OrNop(m types.MetricsCollector) types.MetricsCollector {
	if m == nil {
		return NewNopMetrics()
	}

	return m
}

// ----------------------
// Operations
// ----------------------

// IncOperation discards the metric.
func (m *NopMetrics) IncOperation(_ types.OperationType, _ types.NodeRole) {}

// IncOperationError discards the metric.
func (m *NopMetrics) IncOperationError(_ types.OperationType, _ types.NodeRole) {}

// ObserveOperationDuration discards the metric.
func (m *NopMetrics) ObserveOperationDuration(_ types.OperationType, _ types.NodeRole, _ float64) {}

// IncRetry discards the metric.
func (m *NopMetrics) IncRetry() {}

// ----------------------
// Pools
// ----------------------

// ObserveAcquireWait discards the metric.
func (m *NopMetrics) ObserveAcquireWait(_ string, _ float64) {}

// IncPoolExhausted discards the metric.
func (m *NopMetrics) IncPoolExhausted(_ string) {}

// ----------------------
// Topology and failover
// ----------------------

// IncTopologyRefresh discards the metric.
func (m *NopMetrics) IncTopologyRefresh() {}

// IncTopologyRefreshError discards the metric.
func (m *NopMetrics) IncTopologyRefreshError() {}

// IncTopologyChange discards the metric.
func (m *NopMetrics) IncTopologyChange() {}

// IncFailover discards the metric.
func (m *NopMetrics) IncFailover() {}

// ObserveFailoverDuration discards the metric.
func (m *NopMetrics) ObserveFailoverDuration(_ float64) {}

// ----------------------
// Distributed transactions
// ----------------------

// IncDistributedCommit discards the metric.
func (m *NopMetrics) IncDistributedCommit() {}

// IncDistributedAbort discards the metric.
func (m *NopMetrics) IncDistributedAbort(_ types.TxPhase) {}
