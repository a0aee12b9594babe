package topology_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/shardgate/test/testutil"
	"github.com/arloliu/shardgate/topology"
	"github.com/arloliu/shardgate/types"
)

func leader(host string) topology.Member {
	return topology.Member{Host: host, Port: 5432, Role: topology.RoleLeader, State: topology.StateRunning}
}

func replica(host string) topology.Member {
	return topology.Member{Host: host, Port: 5432, Role: topology.RoleReplica, State: topology.StateStreaming}
}

func TestNewMonitorRequiresSource(t *testing.T) {
	_, err := topology.NewMonitor(nil)

	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestMonitorDefaults(t *testing.T) {
	m, err := topology.NewMonitor([]topology.Source{topology.NewLocal("local")})
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, m.Config().HealthCheckInterval)
	assert.Equal(t, 2*time.Second, m.Config().RequestTimeout)
	assert.Equal(t, topology.StateUnknown, m.State())

	_, ok := m.Current()
	assert.False(t, ok)
}

func TestMonitorRefreshInstallsSnapshot(t *testing.T) {
	src := topology.NewLocal("local", leader("a"), replica("b"), replica("c"))
	collector := testutil.NewTestMetricsCollector()
	m, err := topology.NewMonitor([]topology.Source{src}, topology.WithMetrics(collector))
	require.NoError(t, err)

	snap, changed, err := m.Refresh(t.Context())
	require.NoError(t, err)
	require.True(t, changed)
	require.EqualValues(t, 1, snap.Version)
	require.Equal(t, "local", snap.Source)
	require.Equal(t, "a:5432", snap.Topology.Primary.Key())
	require.Len(t, snap.Topology.Replicas, 2)
	require.Equal(t, topology.StateStable, m.State())

	// Same member list in a different order is not a change.
	src.SetMembers(replica("c"), leader("a"), replica("b"))
	snap, changed, err = m.Refresh(t.Context())
	require.NoError(t, err)
	require.False(t, changed)
	require.EqualValues(t, 1, snap.Version)

	src.SetMembers(leader("b"), replica("c"))
	snap, changed, err = m.Refresh(t.Context())
	require.NoError(t, err)
	require.True(t, changed)
	require.EqualValues(t, 2, snap.Version)
	require.Equal(t, "b:5432", snap.Topology.Primary.Key())

	require.EqualValues(t, 3, collector.GetTopologyRefreshes())
	require.EqualValues(t, 2, collector.GetTopologyChanges())

	select {
	case update := <-m.Updates():
		require.EqualValues(t, 1, update.Version)
	default:
		t.Fatal("expected a snapshot on the updates channel")
	}
}

func TestMonitorZeroLeaderKeepsPreviousTopology(t *testing.T) {
	src := topology.NewLocal("local", leader("a"), replica("b"))
	collector := testutil.NewTestMetricsCollector()
	m, err := topology.NewMonitor([]topology.Source{src}, topology.WithMetrics(collector))
	require.NoError(t, err)

	before, _, err := m.Refresh(t.Context())
	require.NoError(t, err)

	src.SetMembers(replica("a"), replica("b"))
	snap, changed, err := m.Refresh(t.Context())

	var topoErr *types.TopologyError
	require.ErrorAs(t, err, &topoErr)
	require.ErrorIs(t, err, types.ErrNoPrimary)
	require.Equal(t, []string{"local"}, topoErr.Endpoints)
	require.False(t, changed)
	require.Equal(t, before, snap)

	current, ok := m.Current()
	require.True(t, ok)
	require.Equal(t, before, current)
	require.Equal(t, topology.StateDegraded, m.State())
	require.EqualValues(t, 1, collector.GetTopologyRefreshErrors())
}

func TestMonitorZeroMembers(t *testing.T) {
	m, err := topology.NewMonitor([]topology.Source{topology.NewLocal("local")})
	require.NoError(t, err)

	_, _, err = m.Refresh(t.Context())
	require.ErrorIs(t, err, types.ErrNoMembers)
}

func TestMonitorFirstResponderWins(t *testing.T) {
	down := topology.NewLocal("down")
	down.SetError(errors.New("connection refused"))
	first := topology.NewLocal("first", leader("a"))
	second := topology.NewLocal("second", leader("z"))

	m, err := topology.NewMonitor([]topology.Source{down, first, second})
	require.NoError(t, err)

	snap, _, err := m.Refresh(t.Context())
	require.NoError(t, err)
	require.Equal(t, "first", snap.Source)
	require.Equal(t, "a:5432", snap.Topology.Primary.Key())
	require.EqualValues(t, 0, second.Calls())
}

func TestMonitorAllSourcesDown(t *testing.T) {
	a := topology.NewLocal("a")
	a.SetError(errors.New("refused"))
	b := topology.NewLocal("b")
	b.SetError(errors.New("timeout"))

	m, err := topology.NewMonitor([]topology.Source{a, b})
	require.NoError(t, err)

	_, _, err = m.Refresh(t.Context())

	var topoErr *types.TopologyError
	require.ErrorAs(t, err, &topoErr)
	require.Equal(t, []string{"a", "b"}, topoErr.Endpoints)
	require.Contains(t, err.Error(), "refused")
	require.Contains(t, err.Error(), "timeout")
}

func TestMonitorMaybeRefreshHonorsInterval(t *testing.T) {
	src := topology.NewLocal("local", leader("a"))
	m, err := topology.NewMonitor([]topology.Source{src}, topology.WithHealthCheckInterval(time.Hour))
	require.NoError(t, err)

	_, _, err = m.MaybeRefresh(t.Context())
	require.NoError(t, err)
	_, changed, err := m.MaybeRefresh(t.Context())
	require.NoError(t, err)
	require.False(t, changed)
	require.EqualValues(t, 1, src.Calls())

	fast, err := topology.NewMonitor([]topology.Source{src}, topology.WithHealthCheckInterval(time.Millisecond))
	require.NoError(t, err)
	_, _, err = fast.MaybeRefresh(t.Context())
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, _, err = fast.MaybeRefresh(t.Context())
	require.NoError(t, err)
	require.EqualValues(t, 3, src.Calls())
}

func TestMonitorSeed(t *testing.T) {
	src := topology.NewLocal("local", leader("a"))
	m, err := topology.NewMonitor([]topology.Source{src})
	require.NoError(t, err)

	seed := types.ClusterTopology{Primary: types.NodeDescriptor{Host: "a", Port: 5432, Role: types.RoleCoordinator}}
	m.Seed(seed)

	snap, ok := m.Current()
	require.True(t, ok)
	require.EqualValues(t, 0, snap.Version)

	// Seeding again is ignored.
	m.Seed(types.ClusterTopology{Primary: types.NodeDescriptor{Host: "other", Port: 1}})
	snap, _ = m.Current()
	require.Equal(t, "a:5432", snap.Topology.Primary.Key())

	snap, changed, err := m.Refresh(t.Context())
	require.NoError(t, err)
	require.False(t, changed)
	require.EqualValues(t, 1, snap.Version)
}

func TestMonitorRunReactsToNotifications(t *testing.T) {
	src := topology.NewLocal("local", leader("a"))
	m, err := topology.NewMonitor([]topology.Source{src}, topology.WithHealthCheckInterval(time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	src.SetMembers(leader("b"))

	require.Eventually(t, func() bool {
		snap, ok := m.Current()
		return ok && snap.Topology.Primary.Host == "b"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestMonitorWithHTTPControlPlane(t *testing.T) {
	cp := testutil.StartFakeControlPlane(t,
		testutil.ClusterMember{Name: "pg1", Host: "10.0.0.1", Port: 5432, Role: "leader", State: "running"},
		testutil.ClusterMember{Name: "pg2", Host: "10.0.0.2", Port: 5432, Role: "replica", State: "streaming"},
	)

	unreachable := topology.NewHTTPSource("127.0.0.1:1")
	m, err := topology.NewMonitor(
		[]topology.Source{unreachable, topology.NewHTTPSource(cp.Endpoint())},
		topology.WithRequestTimeout(time.Second),
		topology.WithNodeTemplate(topology.NodeTemplate{Database: "app"}),
	)
	require.NoError(t, err)

	snap, changed, err := m.Refresh(t.Context())
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, "10.0.0.1:5432", snap.Topology.Primary.Key())
	require.Equal(t, "app", snap.Topology.Primary.Database)
	require.Len(t, snap.Topology.Replicas, 1)

	cp.ServeBareList(true)
	cp.SetMembers(testutil.ClusterMember{Host: "10.0.0.2", Port: 5432, Role: "leader"})
	snap, changed, err = m.Refresh(t.Context())
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, "10.0.0.2:5432", snap.Topology.Primary.Key())
	require.Empty(t, snap.Topology.Replicas)

	cp.SetStatus(http.StatusServiceUnavailable)
	_, _, err = m.Refresh(t.Context())
	var topoErr *types.TopologyError
	require.ErrorAs(t, err, &topoErr)
	require.Len(t, topoErr.Endpoints, 2)
}

func TestHTTPSourceName(t *testing.T) {
	assert.Equal(t, "http://pg1:8008/cluster", topology.NewHTTPSource("pg1:8008").Name())
	assert.Equal(t, "https://pg1:8008/cluster", topology.NewHTTPSource("https://pg1:8008/").Name())
	assert.Len(t, topology.HTTPSources([]string{"a:1", "b:2"}), 2)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unknown", topology.StateUnknown.String())
	assert.Equal(t, "discovering", topology.StateDiscovering.String())
	assert.Equal(t, "stable", topology.StateStable.String())
	assert.Equal(t, "degraded", topology.StateDegraded.String())
}
