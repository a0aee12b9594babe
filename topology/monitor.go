package topology

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/shardgate/internal/logging"
	"github.com/arloliu/shardgate/internal/metrics"
	"github.com/arloliu/shardgate/types"
)

// State is the discovery state of a Monitor.
type State int32

const (
	// StateUnknown means no refresh has completed yet.
	StateUnknown State = iota
	// StateDiscovering means a refresh is in progress.
	StateDiscovering
	// StateStable means the last refresh produced a complete topology.
	StateStable
	// StateDegraded means the last refresh failed, or some members were
	// not running. The previous snapshot stays in use.
	StateDegraded
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateDiscovering:
		return "discovering"
	case StateStable:
		return "stable"
	case StateDegraded:
		return "degraded"
	default:
		return "invalid"
	}
}

// Snapshot is an immutable view of the cluster topology.
type Snapshot struct {
	Topology types.ClusterTopology

	// Version increments every time the primary or the replica set changes.
	Version uint64

	FetchedAt time.Time

	// Source names the source that produced the member list.
	Source string
}

// Build turns a member list into a topology: exactly one leader and every
// running replica. It also reports whether any member was skipped because it
// was not running.
func Build(members []Member, tmpl NodeTemplate) (types.ClusterTopology, bool, error) {
	if len(members) == 0 {
		return types.ClusterTopology{}, false, types.ErrNoMembers
	}

	var (
		topo     types.ClusterTopology
		leaders  int
		degraded bool
	)
	for _, m := range members {
		switch {
		case m.IsLeader():
			if !m.Running() {
				degraded = true
				continue
			}
			leaders++
			topo.Primary = tmpl.Node(m, types.RolePrimaryHA)
		case m.IsReplica():
			if !m.Running() {
				degraded = true
				continue
			}
			topo.Replicas = append(topo.Replicas, tmpl.Node(m, types.RoleReplicaHA))
		default:
			degraded = true
		}
	}

	switch {
	case leaders == 0:
		return types.ClusterTopology{}, degraded, types.ErrNoPrimary
	case leaders > 1:
		return types.ClusterTopology{}, degraded, types.ErrMultiplePrimaries
	}

	return topo, degraded, nil
}

// Monitor discovers the HA topology from a list of control plane sources.
//
// Readers call Current without locking. Refreshes are serialized; each one
// either installs a complete new snapshot or leaves the previous one in place.
type Monitor struct {
	sources []Source
	config  MonitorConfig
	logger  types.Logger
	metrics types.MetricsCollector

	current     atomic.Pointer[Snapshot]
	state       atomic.Int32
	lastAttempt atomic.Int64

	refreshMu sync.Mutex
	updates   chan Snapshot
}

// NewMonitor creates a monitor over sources, queried in order.
//
// Parameters:
//   - sources: Control plane sources, at least one
//   - opts: Optional configuration
//
// Returns:
//   - *Monitor: The monitor, in StateUnknown
//   - error: *types.ConfigurationError when no source is given
func NewMonitor(sources []Source, opts ...MonitorOption) (*Monitor, error) {
	if len(sources) == 0 {
		return nil, &types.ConfigurationError{Field: "topology.sources", Reason: "at least one control plane source is required"}
	}

	config := DefaultMonitorConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = DefaultMonitorConfig().HealthCheckInterval
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultMonitorConfig().RequestTimeout
	}

	return &Monitor{
		sources: append([]Source(nil), sources...),
		config:  config,
		logger:  logging.OrNop(config.Logger),
		metrics: metrics.OrNop(config.Metrics),
		updates: make(chan Snapshot, 8),
	}, nil
}

// Config returns the monitor configuration.
func (m *Monitor) Config() MonitorConfig {
	return m.config
}

// Current returns the latest snapshot. ok is false before the first
// successful refresh or Seed.
func (m *Monitor) Current() (Snapshot, bool) {
	s := m.current.Load()
	if s == nil {
		return Snapshot{}, false
	}

	return *s, true
}

// State returns the discovery state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Updates returns a channel receiving every snapshot that changed the
// topology. Sends never block; a slow reader misses intermediate snapshots.
func (m *Monitor) Updates() <-chan Snapshot {
	return m.updates
}

// Seed installs an initial topology, typically the statically configured
// coordinator and replicas. It does nothing once a snapshot exists.
func (m *Monitor) Seed(topo types.ClusterTopology) {
	snap := &Snapshot{Topology: topo, Source: "seed"}
	m.current.CompareAndSwap(nil, snap)
}

// Refresh queries the sources in order; the first one that answers wins.
//
// Returns:
//   - Snapshot: The current snapshot (the new one on success)
//   - bool: true when the primary or the replica set changed
//   - error: *types.TopologyError when no source answered or the answer had
//     zero members, zero leaders or several leaders. The previous snapshot
//     is kept.
func (m *Monitor) Refresh(ctx context.Context) (Snapshot, bool, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.lastAttempt.Store(time.Now().UnixNano())
	m.state.Store(int32(StateDiscovering))

	members, source, err := m.query(ctx)
	if err != nil {
		return m.fail(err)
	}

	topo, degraded, err := Build(members, m.config.Template)
	if err != nil {
		return m.fail(&types.TopologyError{Endpoints: []string{source}, Cause: err})
	}

	prev := m.current.Load()
	changed := prev == nil || !prev.Topology.Equal(topo)

	next := &Snapshot{
		Topology:  topo,
		FetchedAt: time.Now(),
		Source:    source,
	}
	switch {
	case prev == nil:
		next.Version = 1
	case changed:
		next.Version = prev.Version + 1
	default:
		next.Version = max(prev.Version, 1)
	}
	m.current.Store(next)

	if degraded {
		m.state.Store(int32(StateDegraded))
	} else {
		m.state.Store(int32(StateStable))
	}
	m.metrics.IncTopologyRefresh()

	if changed {
		m.metrics.IncTopologyChange()
		m.logger.Info("topology changed",
			"version", next.Version,
			"primary", topo.Primary.Key(),
			"replicas", len(topo.Replicas),
			"source", source,
		)

		select {
		case m.updates <- *next:
		default:
		}
	}

	return *next, changed, nil
}

// MaybeRefresh refreshes only when HealthCheckInterval has elapsed since the
// last attempt. Otherwise it returns the current snapshot unchanged.
func (m *Monitor) MaybeRefresh(ctx context.Context) (Snapshot, bool, error) {
	last := m.lastAttempt.Load()
	if last != 0 && time.Since(time.Unix(0, last)) < m.config.HealthCheckInterval {
		snap, _ := m.Current()
		return snap, false, nil
	}

	return m.Refresh(ctx)
}

// Run refreshes every HealthCheckInterval and whenever a Notifier source
// reports a change, until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	notify := make(chan struct{}, 1)
	for _, src := range m.sources {
		n, ok := src.(Notifier)
		if !ok {
			continue
		}
		ch := n.Watch(ctx)
		go func() {
			for range ch {
				select {
				case notify <- struct{}{}:
				default:
				}
			}
		}()
	}

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-notify:
		}

		if _, _, err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("periodic topology refresh failed", "error", err)
		}
	}
}

// query asks each source in order and returns the first answer.
func (m *Monitor) query(ctx context.Context) ([]Member, string, error) {
	endpoints := make([]string, 0, len(m.sources))
	var errs []error

	for _, src := range m.sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		qctx, cancel := context.WithTimeout(ctx, m.config.RequestTimeout)
		members, err := src.Members(qctx)
		cancel()
		if err == nil {
			return members, src.Name(), nil
		}

		endpoints = append(endpoints, src.Name())
		errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		m.logger.Debug("control plane source failed", "source", src.Name(), "error", err)
	}

	return nil, "", &types.TopologyError{Endpoints: endpoints, Cause: errors.Join(errs...)}
}

func (m *Monitor) fail(err error) (Snapshot, bool, error) {
	m.state.Store(int32(StateDegraded))
	m.metrics.IncTopologyRefreshError()
	m.logger.Warn("topology refresh failed, keeping previous topology", "error", err)

	snap, _ := m.Current()

	return snap, false, err
}
